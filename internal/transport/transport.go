package transport

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/result"
)

// Channel executes commands on a remote host. A command that ran yields a
// CommandResult (non-zero exits included); transport problems yield a
// *result.Fault of kind timeout, connection_refused or auth_failure.
// Implementations must return within timeout.
type Channel interface {
	Run(ctx context.Context, command string, timeout time.Duration) (result.CommandResult, error)
}

// Target identifies the remote host and login.
type Target struct {
	Host string
	Port int
	User string
}

// Addr returns host:port.
func (t Target) Addr() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

// Options configures a channel.
type Options struct {
	CommandTimeout time.Duration // used when Run gets a zero timeout
	ConnectTimeout time.Duration
	PrivateKeyPath string
	Password       string
	KnownHostsPath string
	SSHPath        string // openssh client binary
}

// OptionsFromConfig extracts channel options from the transport config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		CommandTimeout: cfg.CommandTimeout(),
		ConnectTimeout: cfg.ConnectTimeout(),
		PrivateKeyPath: cfg.Transport.PrivateKeyPath,
		Password:       cfg.Transport.Password,
		KnownHostsPath: cfg.Transport.KnownHostsPath,
		SSHPath:        cfg.Transport.SSHPath,
	}
}

// New builds the channel selected by transport.client.
func New(cfg *config.Config, target Target, log *zap.Logger) (Channel, error) {
	opts := OptionsFromConfig(cfg)
	switch cfg.Transport.Client {
	case "openssh":
		return NewOpenSSHChannel(target, opts, log)
	case "native", "":
		return NewSSHChannel(target, opts, log)
	default:
		return nil, fmt.Errorf("unknown transport client %q", cfg.Transport.Client)
	}
}

// effectiveTimeout picks the per-call timeout, falling back to the default.
func effectiveTimeout(timeout, fallback time.Duration) time.Duration {
	if timeout > 0 {
		return timeout
	}
	if fallback > 0 {
		return fallback
	}
	return 20 * time.Minute
}
