package platform

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/result"
)

// InstancePlaceholder is replaced by the instance ID in CLI command templates.
const InstancePlaceholder = "{instance}"

// Restarter restarts an instance out of band, without a working shell on it.
type Restarter interface {
	Restart(ctx context.Context, instanceID string) error
}

// DiagnosticsFetcher retrieves boot diagnostics (serial log, screenshot
// URI, ...) for an instance.
type DiagnosticsFetcher interface {
	Fetch(ctx context.Context, instanceID string) (string, error)
}

// Platform is a cloud control plane.
type Platform interface {
	Restarter
	DiagnosticsFetcher
}

// instanceIDRe accepts plain VM names and resource IDs such as
// /subscriptions/<id>/resourceGroups/<rg>/providers/Microsoft.Compute/virtualMachines/<vm>.
var instanceIDRe = regexp.MustCompile(`^[a-zA-Z0-9/][a-zA-Z0-9._:/@-]{0,511}$`)

// ValidateInstanceID rejects IDs that could be mistaken for command-line
// options or contain shell metacharacters.
func ValidateInstanceID(id string) error {
	if id == "" {
		return fmt.Errorf("instance ID is empty")
	}
	if !instanceIDRe.MatchString(id) {
		return fmt.Errorf("invalid instance ID: %q", id)
	}
	return nil
}

// New builds the backend selected by platform.kind.
func New(cfg *config.Config, log *zap.Logger) (Platform, error) {
	switch cfg.Platform.Kind {
	case "none", "":
		return Unavailable{}, nil
	case "cli":
		return NewCLI(cfg.Platform, log)
	case "http":
		return NewHTTP(cfg.Platform, log)
	default:
		return nil, fmt.Errorf("unknown platform kind %q", cfg.Platform.Kind)
	}
}

// Unavailable is the backend used when no platform is configured. Every
// call fails with platform_unavailable.
type Unavailable struct{}

func (Unavailable) Restart(_ context.Context, instanceID string) error {
	return result.NewFault(result.KindPlatformUnavailable, "platform restart "+instanceID, fmt.Errorf("no platform configured"))
}

func (Unavailable) Fetch(_ context.Context, instanceID string) (string, error) {
	return "", result.NewFault(result.KindPlatformUnavailable, "platform diagnostics "+instanceID, fmt.Errorf("no platform configured"))
}

func checkInstance(op, instanceID string) error {
	if err := ValidateInstanceID(instanceID); err != nil {
		return result.NewFault(result.KindConfiguration, op, err)
	}
	return nil
}
