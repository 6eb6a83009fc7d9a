package cmd

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/kidoz/vmsmoke/internal/config"
	"github.com/kidoz/vmsmoke/internal/smoke"
)

func initRunner(cfg *config.Config, log *zap.Logger) (*smoke.Runner, error) {
	var r *smoke.Runner
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, log),
		smoke.Module,
		fx.Populate(&r),
	)
	if err := app.Err(); err != nil {
		return nil, err
	}
	return r, nil
}
