package smoke

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/escalator"
	"github.com/kidoz/vmsmoke/internal/history"
	"github.com/kidoz/vmsmoke/internal/marker"
	"github.com/kidoz/vmsmoke/internal/metrics"
	"github.com/kidoz/vmsmoke/internal/platform"
	"github.com/kidoz/vmsmoke/internal/probe"
	"github.com/kidoz/vmsmoke/internal/session"
	"github.com/kidoz/vmsmoke/internal/transport"
	"github.com/kidoz/vmsmoke/internal/zabbix"
)

// Strategy and policy names used in reports and metrics.
const (
	PolicyShellProbe       = "shell-probe"
	PolicyReboot           = "reboot"
	StrategyShellProbe     = "ssh-probe"
	StrategySSHReboot      = "ssh-reboot"
	StrategyPlatformReboot = "platform-restart"
)

// Options selects the VM to test.
type Options struct {
	Host       string
	InstanceID string // cloud instance for platform restart and diagnostics
	User       string // overrides transport.user
	Port       int    // overrides transport.port
	// Marker holds test marker parameters given on the command line. They
	// override the suite section of the config.
	Marker map[string]any
}

// portProber is a reachability probe whose TCP fallback can follow the SSH
// port of the target.
type portProber interface {
	WithFallbackPort(port int) probe.Prober
}

// Dialer builds the remote shell channel for a target.
type Dialer func(cfg *config.Config, target transport.Target, log *zap.Logger) (transport.Channel, error)

// Runner orchestrates a complete smoke test of one VM
type Runner struct {
	cfg      *config.Config
	log      *zap.Logger
	session  *session.Session
	prober   session.Prober
	platform platform.Platform
	store    *history.Store // nil when history is disabled
	sender   *zabbix.Sender
	dial     Dialer
}

// Run validates the options, runs one health-check session and publishes
// the report. Publishing failures are logged, not returned; the returned
// error covers only problems that prevented the session from running.
// A run cut short by cancellation is returned but not published.
func (r *Runner) Run(ctx context.Context, opts Options) (*session.Report, error) {
	plan, err := r.Plan(opts)
	if err != nil {
		return nil, err
	}

	report := r.session.Run(ctx, plan)
	if err := ctx.Err(); err != nil {
		r.log.Warn("Smoke test interrupted, report not published",
			zap.String("host", report.Host),
			zap.Error(err),
		)
		return report, nil
	}
	r.publish(ctx, report)
	return report, nil
}

// Plan builds the session plan for opts without running it.
func (r *Runner) Plan(opts Options) (session.Plan, error) {
	if opts.Host == "" {
		return session.Plan{}, fmt.Errorf("host is required")
	}

	suite, err := r.suite(opts.Marker)
	if err != nil {
		return session.Plan{}, err
	}

	if opts.InstanceID != "" {
		if err := platform.ValidateInstanceID(opts.InstanceID); err != nil {
			return session.Plan{}, err
		}
	}

	target := transport.Target{Host: opts.Host, Port: r.cfg.Transport.Port, User: r.cfg.Transport.User}
	if opts.User != "" {
		target.User = opts.User
	}
	reachability := r.prober
	if opts.Port != 0 {
		target.Port = opts.Port
		if pp, ok := r.prober.(portProber); ok {
			reachability = pp.WithFallbackPort(opts.Port)
		}
	}

	ch, err := r.dial(r.cfg, target, r.log)
	if err != nil {
		return session.Plan{}, fmt.Errorf("failed to create transport: %w", err)
	}

	accept, err := escalator.CompileCriterion(r.cfg.Reboot.SuccessWhen)
	if err != nil {
		return session.Plan{}, fmt.Errorf("invalid reboot.success_when: %w", err)
	}

	retryable := r.cfg.RetryableKinds()

	shell := escalator.NewPolicy(PolicyShellProbe, retryable,
		escalator.Shell(StrategyShellProbe, ch, r.cfg.Probe.ShellCommand, r.cfg.ProbeTimeout(), nil),
	)
	shell.Advisory = true

	steps := []escalator.Strategy{
		escalator.Shell(StrategySSHReboot, ch, r.cfg.Reboot.Command, r.cfg.CommandTimeout(), accept),
	}
	if opts.InstanceID != "" {
		steps = append(steps, escalator.PlatformRestart(StrategyPlatformReboot, r.platform, opts.InstanceID))
	} else {
		r.log.Warn("No instance ID given, reboot cannot fall back to the platform")
	}
	action := escalator.NewPolicy(PolicyReboot, retryable, steps...)
	action.Advisory = r.cfg.Reboot.Advisory

	return session.Plan{
		Host:         opts.Host,
		InstanceID:   opts.InstanceID,
		ProbeTimeout: r.cfg.ProbeTimeout(),
		Reachability: reachability,
		Shell:        shell,
		Action:       action,
		Diagnostics:  r.platform,
		Suite:        suite,
	}, nil
}

func (r *Runner) suite(cli map[string]any) (*marker.Marker, error) {
	params := marker.Merge(r.cfg.Suite, cli)
	if len(params) == 0 {
		return nil, nil
	}
	return marker.Validate(params)
}

func (r *Runner) publish(ctx context.Context, report *session.Report) {
	if r.store != nil {
		id, err := r.store.Save(ctx, report)
		if err != nil {
			r.log.Warn("Failed to save report to history", zap.Error(err))
		} else {
			r.log.Info("Report saved", zap.Int64("run_id", id))
		}
	}

	if r.sender != nil && r.sender.Enabled() {
		if err := r.sender.SendReport(ctx, report); err != nil {
			r.log.Warn("Failed to send report to Zabbix", zap.Error(err))
		}
	}

	if err := metrics.Push(ctx, r.cfg.Metrics.PushgatewayURL, r.cfg.Metrics.Job); err != nil {
		r.log.Warn("Failed to push metrics", zap.Error(err))
	}
}

// Close releases the history store.
func (r *Runner) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}
