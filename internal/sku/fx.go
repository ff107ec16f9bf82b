package sku

import (
	"github.com/smallbiznis/stockline/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("sku",
	fx.Provide(func(holder *config.MatchingConfigHolder) *Engine {
		return NewEngine(holder)
	}),
)
