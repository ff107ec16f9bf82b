package ratelimit

import (
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"go.uber.org/fx"
)

var Module = fx.Module("rate.limit",
	fx.Provide(
		NewRedisClient,
		NewTokenBucket,
		NewLocker,
		NewDiagnosticsLimiter,
		func(l *DiagnosticsLimiter) diagnostics.Limiter { return l.AsClientLimiter() },
	),
)
