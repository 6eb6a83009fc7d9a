package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kidoz/vmsmoke/internal/result"
)

// DroppedExitCode is reported when the session closed without an exit
// status, e.g. because the command rebooted the host.
const DroppedExitCode = -1

// SSHChannel runs commands over golang.org/x/crypto/ssh. Every Run opens a
// fresh connection, so a channel survives the host rebooting between calls.
type SSHChannel struct {
	target Target
	opts   Options
	log    *zap.Logger
	config *ssh.ClientConfig
}

// NewSSHChannel creates a native SSH channel.
func NewSSHChannel(target Target, opts Options, log *zap.Logger) (*SSHChannel, error) {
	if err := target.validate(); err != nil {
		return nil, err
	}

	auth, err := authMethods(opts)
	if err != nil {
		return nil, err
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // G106: freshly deployed VMs have no known host key unless known_hosts_path is set
	if opts.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(opts.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	return &SSHChannel{
		target: target,
		opts:   opts,
		log:    log,
		config: &ssh.ClientConfig{
			User:            target.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         opts.ConnectTimeout,
		},
	}, nil
}

func authMethods(opts Options) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod
	if opts.PrivateKeyPath != "" {
		pem, err := os.ReadFile(opts.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(pem)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if opts.Password != "" {
		methods = append(methods, ssh.Password(opts.Password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("no SSH credentials configured (set transport.private_key_path or transport.password)")
	}
	return methods, nil
}

// Run executes command and waits for it to exit or for timeout to expire.
func (c *SSHChannel) Run(ctx context.Context, command string, timeout time.Duration) (result.CommandResult, error) {
	ctx, cancel := context.WithTimeout(ctx, effectiveTimeout(timeout, c.opts.CommandTimeout))
	defer cancel()

	op := "ssh " + c.target.Addr()
	c.log.Debug("Executing command via SSH",
		zap.String("host", c.target.Host),
		zap.String("user", c.target.User),
		zap.String("command", command),
	)

	client, err := c.dial(ctx)
	if err != nil {
		return result.CommandResult{}, classifyDialError(op, err)
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return result.CommandResult{}, classifyDialError(op, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case <-ctx.Done():
		_ = client.Close()
		return result.CommandResult{}, result.ContextFault(op, ctx.Err())
	case err := <-done:
		return c.exitResult(op, command, err, stdout.String()+stderr.String())
	}
}

func (c *SSHChannel) dial(ctx context.Context) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: c.opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.target.Addr())
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.opts.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && (c.opts.ConnectTimeout <= 0 || d.Before(deadline)) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.target.Addr(), c.config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (c *SSHChannel) exitResult(op, command string, err error, output string) (result.CommandResult, error) {
	var exitErr *ssh.ExitError
	var missing *ssh.ExitMissingError
	switch {
	case err == nil:
		return result.Exited(command, 0, true, output), nil
	case errors.As(err, &exitErr):
		return result.Exited(command, exitErr.ExitStatus(), false, output), nil
	case errors.As(err, &missing), errors.Is(err, io.EOF):
		c.log.Debug("SSH session closed without exit status", zap.String("command", command))
		return result.Exited(command, DroppedExitCode, false, output), nil
	default:
		return result.CommandResult{}, classifyDialError(op, err)
	}
}
