package escalator

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/metrics"
	"github.com/kidoz/vmsmoke/internal/result"
	"github.com/kidoz/vmsmoke/internal/telemetry"
)

// ErrEmptyPolicy is returned when a policy has no strategies to try.
var ErrEmptyPolicy = errors.New("escalation policy has no strategies")

// Strategy is one way of performing an operation. Run either returns a
// CommandResult (the operation was attempted, successfully or not) or a
// fault describing why it could not be attempted.
type Strategy struct {
	Name    string
	Command string // description used when the strategy faults
	Run     func(ctx context.Context) (result.CommandResult, error)
}

func (s Strategy) describe() string {
	if s.Command != "" {
		return s.Command
	}
	return s.Name
}

// Policy is an ordered list of strategies plus the fault kinds that allow
// falling through from one to the next. Policies hold no mutable state and
// may be shared.
type Policy struct {
	Name      string
	Steps     []Strategy
	Retryable result.KindSet
	// Advisory marks the operation as warning-only for session verdicts.
	Advisory bool
}

// NewPolicy builds a policy with the given retryable kinds.
func NewPolicy(name string, retryable []result.ErrorKind, steps ...Strategy) Policy {
	return Policy{
		Name:      name,
		Steps:     steps,
		Retryable: result.NewKindSet(retryable...),
	}
}

// Escalator runs policies. It is stateless apart from its logger.
type Escalator struct {
	log *zap.Logger
}

// New creates a new escalator
func New(log *zap.Logger) *Escalator {
	return &Escalator{log: log}
}

// Execute runs the policy's strategies in order and returns the first
// CommandResult any of them produces. A retryable fault on a strategy that
// is not the last one is recorded and the next strategy is tried; any other
// fault ends the run with a failed result carrying the fault's kind.
//
// A returned result that is ambiguous about whether it ran is replaced by a
// configuration_error result. Cancellation of ctx stops the run before the
// next strategy starts.
//
// The returned error is non-nil only when the policy itself is unusable.
func (e *Escalator) Execute(ctx context.Context, p Policy) (result.CommandResult, error) {
	if len(p.Steps) == 0 {
		res := result.Failed(p.Name, result.KindConfiguration, ErrEmptyPolicy.Error())
		return res, result.NewFault(result.KindConfiguration, p.Name, ErrEmptyPolicy)
	}

	var escalations []result.Escalation
	for i, s := range p.Steps {
		if err := ctx.Err(); err != nil {
			e.log.Warn("Policy aborted",
				zap.String("policy", p.Name),
				zap.String("strategy", s.Name),
				zap.Error(err),
			)
			res := result.Failed(s.describe(), result.KindOf(err), err.Error())
			res.Strategy = s.Name
			res.Escalations = escalations
			return res, nil
		}

		res, err := e.invoke(ctx, p.Name, s)
		if err == nil {
			if verr := res.Validate(); verr != nil {
				e.log.Warn("Strategy returned an invalid result",
					zap.String("policy", p.Name),
					zap.String("strategy", s.Name),
					zap.Error(verr),
				)
				res = result.Failed(s.describe(), result.KindConfiguration, verr.Error())
			}
			res.Strategy = s.Name
			res.Escalations = escalations
			return res, nil
		}

		kind := result.KindOf(err)
		metrics.StrategyFaultsTotal.WithLabelValues(p.Name, s.Name, string(kind)).Inc()

		last := i == len(p.Steps)-1
		if !last && p.Retryable.Has(kind) {
			e.log.Warn("Strategy failed, escalating",
				zap.String("policy", p.Name),
				zap.String("strategy", s.Name),
				zap.String("next", p.Steps[i+1].Name),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
			metrics.EscalationsTotal.WithLabelValues(p.Name, string(kind)).Inc()
			escalations = append(escalations, result.Escalation{
				Strategy: s.Name,
				Kind:     kind,
				Message:  err.Error(),
			})
			continue
		}

		e.log.Warn("Strategy failed, giving up",
			zap.String("policy", p.Name),
			zap.String("strategy", s.Name),
			zap.String("kind", string(kind)),
			zap.Bool("retryable", p.Retryable.Has(kind)),
			zap.Any("retryable_kinds", p.Retryable.Sorted()),
			zap.Error(err),
		)
		res = result.Failed(s.describe(), kind, err.Error())
		res.Strategy = s.Name
		res.Escalations = escalations
		return res, nil
	}

	// Unreachable: the last strategy always returns above.
	return result.Failed(p.Name, result.KindConfiguration, ErrEmptyPolicy.Error()), nil
}

func (e *Escalator) invoke(ctx context.Context, policy string, s Strategy) (result.CommandResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "strategy "+s.Name, "policy", policy, "strategy", s.Name)
	defer span.End()

	e.log.Debug("Running strategy", zap.String("policy", policy), zap.String("strategy", s.Name))

	start := time.Now()
	res, err := s.Run(ctx)
	metrics.StrategyDuration.WithLabelValues(policy, s.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.KindOf(err)))
		return result.CommandResult{}, err
	}
	if !res.Succeeded {
		span.SetStatus(codes.Error, "command failed")
	}
	return res, nil
}
