package session

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/escalator"
	"github.com/kidoz/vmsmoke/internal/marker"
	"github.com/kidoz/vmsmoke/internal/metrics"
	"github.com/kidoz/vmsmoke/internal/result"
	"github.com/kidoz/vmsmoke/internal/telemetry"
)

// Prober answers whether a host is reachable. It never fails; an
// unreachable host is simply false.
type Prober interface {
	Check(ctx context.Context, host string, timeout time.Duration) bool
}

// DiagnosticsFetcher retrieves boot diagnostics for an instance.
type DiagnosticsFetcher interface {
	Fetch(ctx context.Context, instanceID string) (string, error)
}

// Plan is everything one session needs. Shell is the probe run before and
// after the action; Action is the disruptive operation, e.g. a reboot.
type Plan struct {
	Host         string
	InstanceID   string
	ProbeTimeout time.Duration
	Reachability Prober
	Shell        escalator.Policy
	Action       escalator.Policy
	Diagnostics  DiagnosticsFetcher
	Suite        *marker.Marker
}

// Session runs the precheck, action, postcheck and diagnostics stages.
// A Session holds no per-run state and may run plans concurrently.
type Session struct {
	log *zap.Logger
	esc *escalator.Escalator
	now func() time.Time
}

// New creates a new session runner
func New(esc *escalator.Escalator, log *zap.Logger) *Session {
	return &Session{log: log, esc: esc, now: time.Now}
}

// Run executes every stage exactly once, in order. Stage failures never
// stop later stages; they only shape the verdict.
func (s *Session) Run(ctx context.Context, plan Plan) *Report {
	ctx, span := telemetry.StartSpan(ctx, "session", "host", plan.Host, "instance_id", plan.InstanceID)
	defer span.End()

	report := &Report{
		Host:       plan.Host,
		InstanceID: plan.InstanceID,
		Suite:      plan.Suite,
		StartedAt:  s.now(),
		Steps:      make([]StepOutcome, 0, len(Stages)),
	}

	s.log.Info("Starting smoke session",
		zap.String("host", plan.Host),
		zap.String("instance_id", plan.InstanceID),
		zap.Stringer("suite", plan.Suite),
	)

	for _, stage := range Stages {
		step, warnings := s.runStage(ctx, stage, plan)
		report.Steps = append(report.Steps, step)
		report.Warnings = append(report.Warnings, warnings...)
		metrics.StepsTotal.WithLabelValues(stage, stepOutcome(step)).Inc()
	}

	report.finish(s.now())
	metrics.SessionsTotal.WithLabelValues(report.Verdict()).Inc()
	if !report.OverallPassed {
		span.SetStatus(codes.Error, VerdictFailed)
	}

	s.log.Info("Smoke session finished",
		zap.String("host", plan.Host),
		zap.String("verdict", report.Verdict()),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("duration", report.Duration()),
	)
	return report
}

func (s *Session) runStage(ctx context.Context, stage string, plan Plan) (StepOutcome, []Warning) {
	ctx, span := telemetry.StartSpan(ctx, "stage "+stage, "stage", stage)
	defer span.End()

	var step StepOutcome
	var warnings []Warning
	switch stage {
	case StagePrecheck, StagePostcheck:
		step, warnings = s.check(ctx, stage, plan)
	case StageAction:
		step, warnings = s.action(ctx, plan)
	case StageDiagnostics:
		step, warnings = s.diagnostics(ctx, plan)
	}

	if !step.Result.Succeeded {
		span.SetStatus(codes.Error, step.Result.Summary())
	}
	return step, warnings
}

// check pings the host and runs the shell probe. Only reachability counts
// towards the verdict.
func (s *Session) check(ctx context.Context, stage string, plan Plan) (StepOutcome, []Warning) {
	s.log.Info("Pinging host", zap.String("stage", stage), zap.String("host", plan.Host))
	reach := s.reachability(ctx, plan)
	if !reach.Succeeded {
		s.log.Error("Host unreachable", zap.String("stage", stage), zap.String("host", plan.Host))
	}

	s.log.Info("Probing host over SSH", zap.String("stage", stage), zap.String("host", plan.Host))
	shell, err := s.esc.Execute(ctx, plan.Shell)
	if err != nil {
		s.log.Debug("Shell probe policy unusable", zap.Error(err))
	}

	step := StepOutcome{
		Name:     stage,
		Result:   reach,
		Advisory: []result.CommandResult{shell},
	}
	if shell.Succeeded {
		return step, nil
	}

	msg := fmt.Sprintf("SSH %s failed: %s", stageTiming(stage), shell.Summary())
	s.log.Warn(msg, zap.String("host", plan.Host))
	return step, []Warning{{Step: stage, Message: msg, Result: shell}}
}

func (s *Session) reachability(ctx context.Context, plan Plan) result.CommandResult {
	command := "ping " + plan.Host
	if plan.Reachability == nil {
		return result.Failed(command, result.KindConfiguration, "no reachability probe configured")
	}
	if plan.Reachability.Check(ctx, plan.Host, plan.ProbeTimeout) {
		return result.Exited(command, 0, true, "")
	}
	return result.SoftFailure(command, fmt.Sprintf("%s did not respond within %s", plan.Host, plan.ProbeTimeout))
}

func (s *Session) action(ctx context.Context, plan Plan) (StepOutcome, []Warning) {
	s.log.Info("Running disruptive action", zap.String("policy", plan.Action.Name), zap.String("host", plan.Host))

	res, err := s.esc.Execute(ctx, plan.Action)
	if err != nil {
		s.log.Error("Action policy unusable", zap.String("policy", plan.Action.Name), zap.Error(err))
	}

	step := StepOutcome{
		Name:          StageAction,
		Result:        res,
		IsWarningOnly: plan.Action.Advisory,
	}
	if res.Succeeded {
		return step, nil
	}
	if !plan.Action.Advisory {
		s.log.Error("Action failed", zap.String("policy", plan.Action.Name), zap.String("result", res.Summary()))
		return step, nil
	}

	msg := fmt.Sprintf("%s failed: %s", plan.Action.Name, res.Summary())
	s.log.Warn(msg, zap.String("host", plan.Host))
	return step, []Warning{{Step: StageAction, Message: msg, Result: res}}
}

func (s *Session) diagnostics(ctx context.Context, plan Plan) (StepOutcome, []Warning) {
	s.log.Info("Retrieving boot diagnostics", zap.String("instance_id", plan.InstanceID))

	command := "diagnostics " + plan.InstanceID
	var res result.CommandResult
	switch {
	case plan.Diagnostics == nil:
		res = result.Failed(command, result.KindConfiguration, "no diagnostics fetcher configured")
	case plan.InstanceID == "":
		res = result.Failed(command, result.KindConfiguration, "no instance ID given")
	default:
		out, err := plan.Diagnostics.Fetch(ctx, plan.InstanceID)
		if err != nil {
			kind := result.KindOf(err)
			if kind == result.KindUnknown {
				kind = result.KindPlatformUnavailable
			}
			res = result.Failed(command, kind, err.Error())
		} else {
			res = result.Exited(command, 0, true, out)
		}
	}

	step := StepOutcome{Name: StageDiagnostics, Result: res, IsWarningOnly: true}
	if res.Succeeded {
		return step, nil
	}

	msg := "Boot diagnostics unavailable: " + res.Summary()
	s.log.Warn(msg, zap.String("instance_id", plan.InstanceID))
	return step, []Warning{{Step: StageDiagnostics, Message: msg, Result: res}}
}

func stageTiming(stage string) string {
	if stage == StagePrecheck {
		return "before action"
	}
	return "after action"
}

func stepOutcome(step StepOutcome) string {
	switch {
	case step.Result.Succeeded:
		return "ok"
	case step.IsWarningOnly:
		return "warning"
	default:
		return "failed"
	}
}
