package escalator

import (
	"context"
	"time"

	"github.com/kidoz/vmsmoke/internal/result"
)

// CommandRunner executes a command on a remote host.
type CommandRunner interface {
	Run(ctx context.Context, command string, timeout time.Duration) (result.CommandResult, error)
}

// Restarter restarts an instance through the cloud platform.
type Restarter interface {
	Restart(ctx context.Context, instanceID string) error
}

// Shell returns a strategy that runs command through runner and judges the
// exit code with accept. A nil accept keeps the runner's own verdict.
func Shell(name string, runner CommandRunner, command string, timeout time.Duration, accept *Criterion) Strategy {
	return Strategy{
		Name:    name,
		Command: command,
		Run: func(ctx context.Context) (result.CommandResult, error) {
			res, err := runner.Run(ctx, command, timeout)
			if err != nil {
				return result.CommandResult{}, err
			}
			if res.ExitCode != nil && accept != nil {
				res.Succeeded = accept.Accept(*res.ExitCode, res.RawOutput)
			}
			return res, nil
		},
	}
}

// PlatformRestart returns a strategy that restarts instanceID through the
// platform API. Every restart fault becomes platform_unavailable except
// configuration errors and cancellation, which keep their kind.
func PlatformRestart(name string, r Restarter, instanceID string) Strategy {
	command := "platform restart " + instanceID
	return Strategy{
		Name:    name,
		Command: command,
		Run: func(ctx context.Context) (result.CommandResult, error) {
			if err := r.Restart(ctx, instanceID); err != nil {
				switch result.KindOf(err) {
				case result.KindConfiguration, result.KindAborted:
					return result.CommandResult{}, err
				default:
					return result.CommandResult{}, result.NewFault(result.KindPlatformUnavailable, command, err)
				}
			}
			return result.Exited(command, 0, true, ""), nil
		},
	}
}
