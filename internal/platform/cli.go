package platform

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/result"
)

// CLI drives the platform through its command-line client, e.g.
//
//	restart_command: [az, vm, restart, --ids, "{instance}"]
//	diagnostics_command: [az, vm, boot-diagnostics, get-boot-log, --ids, "{instance}"]
type CLI struct {
	restart     []string
	diagnostics []string
	timeout     time.Duration
	log         *zap.Logger
}

// NewCLI creates a CLI backend. At least one command template must be set.
func NewCLI(cfg config.PlatformConfig, log *zap.Logger) (*CLI, error) {
	if len(cfg.RestartCommand) == 0 && len(cfg.DiagnosticsCommand) == 0 {
		return nil, fmt.Errorf("platform kind cli requires restart_command or diagnostics_command")
	}
	return &CLI{
		restart:     cfg.RestartCommand,
		diagnostics: cfg.DiagnosticsCommand,
		timeout:     time.Duration(cfg.Timeout) * time.Second,
		log:         log,
	}, nil
}

// Restart runs the restart command template.
func (c *CLI) Restart(ctx context.Context, instanceID string) error {
	_, err := c.run(ctx, "platform restart "+instanceID, c.restart, instanceID)
	return err
}

// Fetch runs the diagnostics command template and returns its output.
func (c *CLI) Fetch(ctx context.Context, instanceID string) (string, error) {
	return c.run(ctx, "platform diagnostics "+instanceID, c.diagnostics, instanceID)
}

func (c *CLI) run(ctx context.Context, op string, template []string, instanceID string) (string, error) {
	if err := checkInstance(op, instanceID); err != nil {
		return "", err
	}
	if len(template) == 0 {
		return "", result.NewFault(result.KindPlatformUnavailable, op, fmt.Errorf("no command configured"))
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := expand(template, instanceID)
	c.log.Debug("Executing platform command", zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // G204: command template comes from config, instance ID is validated
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", result.ContextFault(op, ctx.Err())
		}
		return "", result.NewFault(result.KindPlatformUnavailable, op,
			fmt.Errorf("%s failed: %w: %s", args[0], err, strings.TrimSpace(stderr.String())))
	}
	return stdout.String(), nil
}

func expand(template []string, instanceID string) []string {
	out := make([]string, len(template))
	for i, arg := range template {
		out[i] = strings.ReplaceAll(arg, InstancePlaceholder, instanceID)
	}
	return out
}
