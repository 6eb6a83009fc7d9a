package result

import "fmt"

// CommandResult is the outcome of one attempted operation.
type CommandResult struct {
	Command     string       `json:"command" yaml:"command"`
	Succeeded   bool         `json:"succeeded" yaml:"succeeded"`
	ExitCode    *int         `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	ErrorKind   ErrorKind    `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`
	RawOutput   string       `json:"raw_output,omitempty" yaml:"raw_output,omitempty"`
	Strategy    string       `json:"strategy,omitempty" yaml:"strategy,omitempty"`
	Escalations []Escalation `json:"escalations,omitempty" yaml:"escalations,omitempty"`
}

// Escalation records a retryable fault that caused a fall-through to the
// next strategy.
type Escalation struct {
	Strategy string    `json:"strategy" yaml:"strategy"`
	Kind     ErrorKind `json:"kind" yaml:"kind"`
	Message  string    `json:"message" yaml:"message"`
}

// Exited builds the result of a command that ran to completion.
func Exited(command string, code int, succeeded bool, output string) CommandResult {
	return CommandResult{
		Command:   command,
		Succeeded: succeeded,
		ExitCode:  &code,
		RawOutput: output,
	}
}

// Failed builds the result of a command that never produced an exit code.
func Failed(command string, kind ErrorKind, message string) CommandResult {
	return CommandResult{
		Command:   command,
		ErrorKind: kind,
		RawOutput: message,
	}
}

// SoftFailure builds a failed result that carries neither an exit code nor
// an error kind, e.g. an unreachable host reported by a probe.
func SoftFailure(command, message string) CommandResult {
	return CommandResult{
		Command:   command,
		RawOutput: message,
	}
}

// Ran reports whether the command executed and produced an exit code.
func (r CommandResult) Ran() bool {
	return r.ExitCode != nil
}

// Escalated reports whether any strategy was skipped over to reach this result.
func (r CommandResult) Escalated() bool {
	return len(r.Escalations) > 0
}

// Validate checks that the result is unambiguous about whether it ran.
func (r CommandResult) Validate() error {
	if r.Ran() && r.ErrorKind != KindNone {
		return fmt.Errorf("result %q has both exit code %d and error kind %s", r.Command, *r.ExitCode, r.ErrorKind)
	}
	if r.Succeeded && !r.Ran() {
		return fmt.Errorf("result %q succeeded without an exit code", r.Command)
	}
	return nil
}

// Summary is a one-line human-readable description of the outcome.
func (r CommandResult) Summary() string {
	switch {
	case r.Succeeded:
		return fmt.Sprintf("%s: ok (exit %d)", r.Command, *r.ExitCode)
	case r.ErrorKind != KindNone:
		return fmt.Sprintf("%s: %s", r.Command, r.ErrorKind)
	case r.Ran():
		return fmt.Sprintf("%s: failed (exit %d)", r.Command, *r.ExitCode)
	default:
		return fmt.Sprintf("%s: failed", r.Command)
	}
}
