package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// SessionsTotal counts completed health-check sessions by verdict.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmsmoke_sessions_total",
			Help: "Completed health-check sessions by verdict",
		},
		[]string{"verdict"},
	)

	// StepsTotal counts session steps by name and outcome (ok, warning, failed).
	StepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmsmoke_steps_total",
			Help: "Session steps by name and outcome",
		},
		[]string{"step", "outcome"},
	)

	// EscalationsTotal counts fall-throughs to the next strategy.
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmsmoke_escalations_total",
			Help: "Retryable faults that caused escalation to the next strategy",
		},
		[]string{"policy", "kind"},
	)

	// StrategyFaultsTotal counts faults raised by strategies, retryable or not.
	StrategyFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vmsmoke_strategy_faults_total",
			Help: "Faults raised by strategies",
		},
		[]string{"policy", "strategy", "kind"},
	)

	StrategyDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vmsmoke_strategy_duration_seconds",
			Help:    "Time spent in a single strategy invocation",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"policy", "strategy"},
	)
)

// Push sends every registered metric to a Prometheus Pushgateway.
// An empty address is a no-op.
func Push(ctx context.Context, addr, job string) error {
	if addr == "" {
		return nil
	}
	if job == "" {
		job = "vmsmoke"
	}
	if err := push.New(addr, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push to %s failed: %w", addr, err)
	}
	return nil
}
