package smoke

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/escalator"
	"github.com/kidoz/vmsmoke/internal/history"
	"github.com/kidoz/vmsmoke/internal/platform"
	"github.com/kidoz/vmsmoke/internal/probe"
	"github.com/kidoz/vmsmoke/internal/session"
	"github.com/kidoz/vmsmoke/internal/transport"
	"github.com/kidoz/vmsmoke/internal/zabbix"
)

// Module provides all smoke runner dependencies for fx injection.
var Module = fx.Module("smoke",
	fx.Provide(
		ProvideRunner,
		escalator.New,
		session.New,
		platform.New,
		ProvideProber,
		ProvideHistory,
		ProvideDialer,
	),
	zabbix.Module,
)

// ProvideProber builds the reachability probe from the probe config.
func ProvideProber(cfg *config.Config, log *zap.Logger) session.Prober {
	return probe.NewPinger(cfg.Probe, log)
}

// ProvideHistory opens the history store, or returns nil when
// history.path is empty.
func ProvideHistory(cfg *config.Config) (*history.Store, error) {
	if cfg.History.Path == "" {
		return nil, nil
	}
	return history.Open(context.Background(), cfg.History.Path)
}

// ProvideDialer returns the transport factory.
func ProvideDialer() Dialer {
	return transport.New
}

// ProvideRunner assembles a Runner from its injected dependencies.
func ProvideRunner(
	cfg *config.Config,
	log *zap.Logger,
	sess *session.Session,
	prober session.Prober,
	plat platform.Platform,
	store *history.Store,
	sender *zabbix.Sender,
	dial Dialer,
) *Runner {
	return &Runner{
		cfg:      cfg,
		log:      log,
		session:  sess,
		prober:   prober,
		platform: plat,
		store:    store,
		sender:   sender,
		dial:     dial,
	}
}
