package dispatcher

import (
	"strings"
	"time"

	"github.com/smallbiznis/stockline/internal/config"
)

// Config controls worker count, polling and recovery.
type Config struct {
	Workers           int
	IdleInterval      time.Duration
	ItemTimeout       time.Duration
	RecoveryThreshold time.Duration
	RecoveryInterval  time.Duration
	RecoveryBatchSize int
	EnrichSources     []string
}

func DefaultConfig() Config {
	return Config{
		Workers:           4,
		IdleInterval:      2 * time.Second,
		ItemTimeout:       60 * time.Second,
		RecoveryThreshold: 10 * time.Minute,
		RecoveryInterval:  time.Minute,
		RecoveryBatchSize: 100,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.IdleInterval <= 0 {
		c.IdleInterval = defaults.IdleInterval
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = defaults.ItemTimeout
	}
	if c.RecoveryThreshold <= 0 {
		c.RecoveryThreshold = defaults.RecoveryThreshold
	}
	if c.RecoveryThreshold < c.ItemTimeout {
		c.RecoveryThreshold = c.ItemTimeout
	}
	if c.RecoveryInterval <= 0 {
		c.RecoveryInterval = defaults.RecoveryInterval
	}
	if c.RecoveryBatchSize <= 0 {
		c.RecoveryBatchSize = defaults.RecoveryBatchSize
	}
	return c
}

func (c Config) enriches(source string) bool {
	for _, s := range c.EnrichSources {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(source)) {
			return true
		}
	}
	return false
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Workers:           cfg.Dispatcher.Workers,
		IdleInterval:      cfg.Dispatcher.IdleInterval,
		ItemTimeout:       cfg.Dispatcher.ItemTimeout,
		RecoveryThreshold: cfg.Dispatcher.RecoveryThreshold,
		EnrichSources:     cfg.DeviceEnrichSource,
	}
}
