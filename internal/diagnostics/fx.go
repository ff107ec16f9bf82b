package diagnostics

import (
	"github.com/smallbiznis/stockline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("diagnostics",
	fx.Provide(ProvideClient),
)

type clientParams struct {
	fx.In

	Cfg      config.Config
	Log      *zap.Logger
	Limiter  Limiter  `optional:"true"`
	Observer Observer `optional:"true"`
}

func ProvideClient(p clientParams) *Client {
	client := NewClient(p.Cfg.Diagnostics,
		WithLimiter(p.Limiter),
		WithObserver(p.Observer),
		WithLogger(p.Log),
	)
	if !client.Configured() {
		p.Log.Info("diagnostics provider not configured; enrichment and station sync disabled")
	}
	return client
}
