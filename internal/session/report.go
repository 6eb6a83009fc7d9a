package session

import (
	"time"

	"github.com/kidoz/vmsmoke/internal/marker"
	"github.com/kidoz/vmsmoke/internal/result"
)

// Stage names, in execution order.
const (
	StagePrecheck    = "precheck"
	StageAction      = "action"
	StagePostcheck   = "postcheck"
	StageDiagnostics = "diagnostics"
)

// Stages lists every stage in the order a session runs them.
var Stages = []string{StagePrecheck, StageAction, StagePostcheck, StageDiagnostics}

// Verdicts.
const (
	VerdictPassed             = "passed"
	VerdictPassedWithWarnings = "passed_with_warnings"
	VerdictFailed             = "failed"
)

// StepOutcome is the result of one stage. Advisory holds results that were
// recorded alongside the stage's own result but never affect the verdict,
// such as the shell probe during a reachability check.
type StepOutcome struct {
	Name          string                 `json:"name" yaml:"name"`
	Result        result.CommandResult   `json:"result" yaml:"result"`
	IsWarningOnly bool                   `json:"is_warning_only" yaml:"is_warning_only"`
	Advisory      []result.CommandResult `json:"advisory,omitempty" yaml:"advisory,omitempty"`
}

// Fatal reports whether this step failed in a way that fails the session.
func (o StepOutcome) Fatal() bool {
	return !o.IsWarningOnly && !o.Result.Succeeded
}

// Warning is an advisory failure surfaced to the caller.
type Warning struct {
	Step    string               `json:"step" yaml:"step"`
	Message string               `json:"message" yaml:"message"`
	Result  result.CommandResult `json:"result" yaml:"result"`
}

// Report aggregates one session run. It is not modified after Run returns.
type Report struct {
	Host          string         `json:"host" yaml:"host"`
	InstanceID    string         `json:"instance_id,omitempty" yaml:"instance_id,omitempty"`
	Suite         *marker.Marker `json:"suite,omitempty" yaml:"suite,omitempty"`
	StartedAt     time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt    time.Time      `json:"finished_at" yaml:"finished_at"`
	Steps         []StepOutcome  `json:"steps" yaml:"steps"`
	Warnings      []Warning      `json:"warnings" yaml:"warnings"`
	OverallPassed bool           `json:"overall_passed" yaml:"overall_passed"`
}

// Verdict collapses the report into passed, passed_with_warnings or failed.
func (r *Report) Verdict() string {
	switch {
	case !r.OverallPassed:
		return VerdictFailed
	case r.HasWarnings():
		return VerdictPassedWithWarnings
	default:
		return VerdictPassed
	}
}

// HasWarnings reports whether any advisory check failed.
func (r *Report) HasWarnings() bool {
	return len(r.Warnings) > 0
}

// Step returns the outcome of the named stage.
func (r *Report) Step(name string) (StepOutcome, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepOutcome{}, false
}

// Duration is the wall time the session took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

func (r *Report) finish(now time.Time) {
	r.FinishedAt = now
	r.OverallPassed = true
	for _, s := range r.Steps {
		if s.Fatal() {
			r.OverallPassed = false
		}
	}
	if r.Warnings == nil {
		r.Warnings = []Warning{}
	}
}
