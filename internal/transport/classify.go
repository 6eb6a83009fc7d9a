package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"

	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/kidoz/vmsmoke/internal/result"
)

// classifyDialError maps a connect or handshake error to a fault.
// Unreachable hosts, resets and DNS failures count as connection_refused.
func classifyDialError(op string, err error) *result.Fault {
	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	switch {
	case errors.Is(err, context.Canceled):
		return result.NewFault(result.KindAborted, op, err)
	case errors.Is(err, context.DeadlineExceeded), isNetTimeout(err):
		return result.NewFault(result.KindTimeout, op, err)
	case errors.Is(err, syscall.ECONNREFUSED):
		return result.NewFault(result.KindConnectionRefused, op, err)
	case errors.As(err, &keyErr), errors.As(err, &revoked), isAuthMessage(err.Error()):
		return result.NewFault(result.KindAuthFailure, op, err)
	default:
		return result.NewFault(result.KindConnectionRefused, op, err)
	}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isAuthMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, s := range []string{
		"unable to authenticate",
		"no supported methods remain",
		"permission denied",
		"host key verification failed",
		"too many authentication failures",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// classifyOpenSSH interprets the stderr of an ssh client that exited with
// 255. dropped reports that the session was cut after the command started,
// which is how a successful reboot looks from the client side.
func classifyOpenSSH(stderr string) (kind result.ErrorKind, dropped bool) {
	msg := strings.ToLower(stderr)
	switch {
	case isAuthMessage(msg):
		return result.KindAuthFailure, false
	case strings.Contains(msg, "connection refused"):
		return result.KindConnectionRefused, false
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"):
		return result.KindTimeout, false
	case strings.Contains(msg, "closed by remote host"),
		strings.Contains(msg, "connection reset"),
		strings.Contains(msg, "broken pipe"):
		return result.KindNone, true
	default:
		return result.KindConnectionRefused, false
	}
}
