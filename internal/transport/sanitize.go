package transport

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// ErrInvalidTarget is wrapped by every target validation error. Targets end
// up on the ssh command line, so anything that could be read as an option
// or a shell word is rejected.
var ErrInvalidTarget = errors.New("invalid target")

const (
	maxHostLen  = 253
	maxLabelLen = 63
	maxUserLen  = 32 // useradd's limit
)

var (
	hostLabelRe = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)
	sshUserRe   = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9._-]*$`)
)

// ValidateHostTarget accepts an IP address or a DNS hostname. A single
// trailing dot (absolute name) is allowed.
func ValidateHostTarget(host string) error {
	if host == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidTarget)
	}
	if net.ParseIP(host) != nil {
		return nil
	}

	name := strings.TrimSuffix(host, ".")
	if name == "" || len(name) > maxHostLen {
		return fmt.Errorf("%w: host %q is not a valid IP or hostname", ErrInvalidTarget, host)
	}
	for _, label := range strings.Split(name, ".") {
		if len(label) > maxLabelLen || !hostLabelRe.MatchString(label) {
			return fmt.Errorf("%w: host %q has invalid label %q", ErrInvalidTarget, host, label)
		}
	}
	return nil
}

// ValidateSSHUser accepts a POSIX-style login name.
func ValidateSSHUser(user string) error {
	switch {
	case user == "":
		return fmt.Errorf("%w: SSH user is empty", ErrInvalidTarget)
	case len(user) > maxUserLen:
		return fmt.Errorf("%w: SSH user is %d chars, max %d", ErrInvalidTarget, len(user), maxUserLen)
	case !sshUserRe.MatchString(user):
		return fmt.Errorf("%w: SSH user %q", ErrInvalidTarget, user)
	}
	return nil
}

// validate reports every problem with t at once.
func (t Target) validate() error {
	var errs []error
	if err := ValidateHostTarget(t.Host); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateSSHUser(t.User); err != nil {
		errs = append(errs, err)
	}
	if t.Port < 1 || t.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: port %d out of range", ErrInvalidTarget, t.Port))
	}
	return errors.Join(errs...)
}
