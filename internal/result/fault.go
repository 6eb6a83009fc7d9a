package result

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorKind classifies a failure that happened before a command produced
// an exit code.
type ErrorKind string

const (
	KindNone                ErrorKind = ""
	KindTimeout             ErrorKind = "timeout"
	KindConnectionRefused   ErrorKind = "connection_refused"
	KindAuthFailure         ErrorKind = "auth_failure"
	KindPlatformUnavailable ErrorKind = "platform_unavailable"
	KindConfiguration       ErrorKind = "configuration_error"
	KindUnknown             ErrorKind = "unknown"
	// KindAborted marks work cut short by cancellation (SIGINT/SIGTERM).
	// It cannot be configured as retryable.
	KindAborted ErrorKind = "aborted"
)

var knownKinds = map[ErrorKind]bool{
	KindTimeout:             true,
	KindConnectionRefused:   true,
	KindAuthFailure:         true,
	KindPlatformUnavailable: true,
	KindConfiguration:       true,
	KindUnknown:             true,
}

// ParseErrorKind converts a config string such as "connection_refused"
// into an ErrorKind. Matching ignores case and surrounding spaces.
func ParseErrorKind(s string) (ErrorKind, error) {
	k := ErrorKind(strings.ToLower(strings.TrimSpace(s)))
	if !knownKinds[k] {
		return KindNone, fmt.Errorf("unknown error kind %q", s)
	}
	return k, nil
}

// DefaultRetryable lists the transport-layer kinds that permit falling
// through to the next strategy.
func DefaultRetryable() []ErrorKind {
	return []ErrorKind{KindTimeout, KindConnectionRefused, KindAuthFailure}
}

// KindSet is a set of error kinds. The zero value is an empty set.
type KindSet map[ErrorKind]struct{}

// NewKindSet builds a set from the given kinds.
func NewKindSet(kinds ...ErrorKind) KindSet {
	s := make(KindSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether k is in the set.
func (s KindSet) Has(k ErrorKind) bool {
	_, ok := s[k]
	return ok
}

// Sorted returns the kinds in lexical order, for logging.
func (s KindSet) Sorted() []ErrorKind {
	out := make([]ErrorKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Fault is a transport or platform failure tagged with its kind.
type Fault struct {
	Kind ErrorKind
	Op   string // what was being attempted, e.g. "ssh 10.0.0.4:22"
	Err  error
}

// ContextFault classifies a context error: an expired deadline is a
// timeout, a cancellation is aborted.
func ContextFault(op string, err error) *Fault {
	if errors.Is(err, context.Canceled) {
		return NewFault(KindAborted, op, err)
	}
	return NewFault(KindTimeout, op, err)
}

// NewFault wraps err as a Fault of the given kind.
func NewFault(kind ErrorKind, op string, err error) *Fault {
	return &Fault{Kind: kind, Op: op, Err: err}
}

func (f *Fault) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("%s: %s", f.Op, f.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// KindOf classifies err. Faults carry their own kind, a bare deadline
// error is a timeout and a bare cancellation is aborted. Anything else is
// unknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindAborted
	}
	return KindUnknown
}
