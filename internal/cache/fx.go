package cache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/stockline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(NewDeviceCache),
)

type deviceCacheParams struct {
	fx.In

	Cfg    config.Config
	Log    *zap.Logger
	Client *redis.Client `optional:"true"`
}

// NewDeviceCache picks Redis when a client is configured, memory otherwise.
func NewDeviceCache(p deviceCacheParams) DeviceCache {
	if p.Client != nil {
		return NewRedisDeviceCache(p.Client, p.Cfg.DeviceCacheTTL, p.Log)
	}
	return NewMemoryDeviceCache(p.Cfg.DeviceCacheTTL)
}
