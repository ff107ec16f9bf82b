package dispatcher

import (
	"context"

	"github.com/smallbiznis/stockline/internal/config"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("dispatcher",
	fx.Provide(ProvideConfig),
	fx.Provide(func(c *diagnostics.Client) DeviceLookup { return c }),
	fx.Provide(New),
	fx.Invoke(RegisterLifecycle),
)

// RegisterLifecycle runs the worker pool for the process lifetime when the
// role includes workers.
func RegisterLifecycle(lc fx.Lifecycle, cfg config.Config, d *Dispatcher, log *zap.Logger) {
	if !cfg.RunsWorker() {
		log.Info("dispatcher disabled for role", zap.String("role", cfg.Role))
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return d.Start(context.Background())
		},
		OnStop: func(ctx context.Context) error {
			if err := d.Stop(ctx); err != nil && err != ErrNotRunning {
				return err
			}
			return nil
		},
	})
}
