package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockline/internal/archive"
	"github.com/smallbiznis/stockline/internal/audit"
	"github.com/smallbiznis/stockline/internal/authorization"
	"github.com/smallbiznis/stockline/internal/cache"
	"github.com/smallbiznis/stockline/internal/catalog"
	"github.com/smallbiznis/stockline/internal/clock"
	"github.com/smallbiznis/stockline/internal/config"
	"github.com/smallbiznis/stockline/internal/datalog"
	"github.com/smallbiznis/stockline/internal/device"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"github.com/smallbiznis/stockline/internal/dispatcher"
	"github.com/smallbiznis/stockline/internal/metricspush"
	"github.com/smallbiznis/stockline/internal/migration"
	"github.com/smallbiznis/stockline/internal/observability"
	"github.com/smallbiznis/stockline/internal/queue"
	"github.com/smallbiznis/stockline/internal/ratelimit"
	"github.com/smallbiznis/stockline/internal/server"
	"github.com/smallbiznis/stockline/internal/sku"
	"github.com/smallbiznis/stockline/internal/stationsync"
	"github.com/smallbiznis/stockline/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		ratelimit.Module,
		cache.Module,

		// Pipeline
		diagnostics.Module,
		sku.Module,
		catalog.Module,
		device.Module,
		audit.Module,
		archive.Module,
		queue.Module,
		datalog.Module,
		dispatcher.Module,
		stationsync.Module,

		// API
		authorization.Module,
		server.Module,
		metricspush.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
