package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/result"
)

// sshClientError is the exit status the openssh client uses for its own
// failures, as opposed to the remote command's exit status.
const sshClientError = 255

// OpenSSHChannel runs commands by shelling out to the system ssh client.
// It relies on keys or an agent; password auth is not possible in batch mode.
type OpenSSHChannel struct {
	target Target
	opts   Options
	log    *zap.Logger
}

// NewOpenSSHChannel creates an exec-based SSH channel.
func NewOpenSSHChannel(target Target, opts Options, log *zap.Logger) (*OpenSSHChannel, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}
	if opts.SSHPath == "" {
		opts.SSHPath = "ssh"
	}
	if opts.Password != "" && opts.PrivateKeyPath == "" {
		log.Warn("transport.password is ignored by the openssh client; configure a key or ssh-agent")
	}
	return &OpenSSHChannel{target: target, opts: opts, log: log}, nil
}

func (c *OpenSSHChannel) args(command string) []string {
	connectTimeout := int(c.opts.ConnectTimeout / time.Second)
	if connectTimeout <= 0 {
		connectTimeout = 10
	}
	args := []string{
		"-o", "BatchMode=yes",
		"-o", "ConnectTimeout=" + strconv.Itoa(connectTimeout),
		"-p", strconv.Itoa(c.target.Port),
	}
	if c.opts.PrivateKeyPath != "" {
		args = append(args, "-i", c.opts.PrivateKeyPath)
	}
	if c.opts.KnownHostsPath != "" {
		args = append(args,
			"-o", "UserKnownHostsFile="+c.opts.KnownHostsPath,
			"-o", "StrictHostKeyChecking=yes",
		)
	} else {
		args = append(args, "-o", "StrictHostKeyChecking=accept-new")
	}
	return append(args, fmt.Sprintf("%s@%s", c.target.User, c.target.Host), command)
}

// Run executes command through the ssh binary.
func (c *OpenSSHChannel) Run(ctx context.Context, command string, timeout time.Duration) (result.CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(timeout, c.opts.CommandTimeout))
	defer cancel()

	c.log.Debug("Executing command via SSH",
		zap.String("host", c.target.Host),
		zap.String("user", c.target.User),
		zap.String("command", command),
	)

	cmd := exec.CommandContext(ctx, c.opts.SSHPath, c.args(command)...) //nolint:gosec // G204: host and user are validated by sanitize.go before reaching here

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return result.CommandResult{}, result.ContextFault("ssh "+c.target.Addr(), ctx.Err())
	}
	return interpretExit("ssh "+c.target.Addr(), command, err, stdout.String(), stderr.String())
}

// interpretExit turns the outcome of an ssh client process into a result.
func interpretExit(op, command string, err error, stdout, stderr string) (result.CommandResult, error) {
	output := stdout + stderr
	if err == nil {
		return result.Exited(command, 0, true, output), nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return result.CommandResult{}, result.NewFault(result.KindConfiguration, op, fmt.Errorf("ssh client not runnable: %w", err))
	}

	code := exitErr.ExitCode()
	if code != sshClientError {
		return result.Exited(command, code, false, output), nil
	}

	kind, dropped := classifyOpenSSH(stderr)
	if dropped {
		return result.Exited(command, DroppedExitCode, false, output), nil
	}
	return result.CommandResult{}, result.NewFault(kind, op, fmt.Errorf("SSH failed: %s", stderr))
}
