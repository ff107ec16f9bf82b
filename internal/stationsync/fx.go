package stationsync

import (
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"go.uber.org/fx"
)

var Module = fx.Module("stationsync",
	fx.Provide(
		func(c *diagnostics.Client) Source { return c },
		New,
	),
)
