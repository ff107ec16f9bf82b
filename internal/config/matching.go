package config

import (
	"errors"
	"os"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// MatchingConfig holds the tables used by the SKU generator and matcher.
type MatchingConfig struct {
	Weights          MatchWeights      `mapstructure:"weights"`
	MatchedThreshold float64           `mapstructure:"matchedThreshold"`
	ReviewThreshold  float64           `mapstructure:"reviewThreshold"`
	ColorSynonyms    map[string]string `mapstructure:"colorSynonyms"`
	CarrierAliases   map[string]string `mapstructure:"carrierAliases"`
	OmitCarriers     []string          `mapstructure:"omitCarriers"`
	Colors           []string          `mapstructure:"colors"`
	Variants         []string          `mapstructure:"variants"`
	WatchKeywords    []string          `mapstructure:"watchKeywords"`
	TabletKeywords   []string          `mapstructure:"tabletKeywords"`
	ComputerKeywords []string          `mapstructure:"computerKeywords"`
}

type MatchWeights struct {
	Category float64 `mapstructure:"category"`
	Model    float64 `mapstructure:"model"`
	Capacity float64 `mapstructure:"capacity"`
	Color    float64 `mapstructure:"color"`
	Carrier  float64 `mapstructure:"carrier"`
}

func DefaultMatchingConfig() MatchingConfig {
	return MatchingConfig{
		Weights: MatchWeights{
			Category: 40,
			Model:    25,
			Capacity: 20,
			Color:    10,
			Carrier:  5,
		},
		MatchedThreshold: 0.8,
		ReviewThreshold:  0.6,
		ColorSynonyms: map[string]string{
			"SPACE BLACK":    "BLACK",
			"SPACE GRAY":     "GRAY",
			"SPACE GREY":     "GRAY",
			"GREY":           "GRAY",
			"JET BLACK":      "BLACK",
			"MIDNIGHT BLACK": "BLACK",
			"PHANTOM BLACK":  "BLACK",
			"MATTE BLACK":    "BLACK",
			"ROSE GOLD":      "ROSEGOLD",
			"PRODUCT RED":    "RED",
			"(PRODUCT)RED":   "RED",
			"PACIFIC BLUE":   "BLUE",
			"SIERRA BLUE":    "BLUE",
			"ALPINE GREEN":   "GREEN",
			"DEEP PURPLE":    "PURPLE",
			"PHANTOM WHITE":  "WHITE",
			"CERAMIC WHITE":  "WHITE",
		},
		CarrierAliases: map[string]string{
			"ATT":              "AT&T",
			"AT&T":             "AT&T",
			"AT AND T":         "AT&T",
			"CRICKET":          "CRICKET",
			"VERIZON":          "VERIZON",
			"VZW":              "VERIZON",
			"VERIZON WIRELESS": "VERIZON",
			"T-MOBILE":         "TMOBILE",
			"TMOBILE":          "TMOBILE",
			"TMO":              "TMOBILE",
			"SPRINT":           "SPRINT",
			"US CELLULAR":      "USCELLULAR",
			"METRO":            "METROPCS",
			"METROPCS":         "METROPCS",
			"UNLOCKED":         "UNLOCKED",
			"FACTORY UNLOCKED": "UNLOCKED",
		},
		OmitCarriers: []string{"UNLOCKED"},
		Colors: []string{
			"BLACK", "WHITE", "SILVER", "GOLD", "ROSEGOLD", "GRAY", "GRAPHITE",
			"BLUE", "RED", "GREEN", "PURPLE", "PINK", "YELLOW", "ORANGE",
			"MIDNIGHT", "STARLIGHT", "CORAL", "TITANIUM", "CREAM", "LAVENDER",
		},
		Variants: []string{"PRO", "MAX", "PLUS", "MINI", "ULTRA", "LITE", "FE", "AIR", "SE", "FOLD", "FLIP"},
		WatchKeywords: []string{
			"WATCH", "SMARTWATCH", "GEAR S", "FITBIT", "GARMIN",
		},
		TabletKeywords: []string{
			"IPAD", "TABLET", "GALAXY TAB", "SURFACE GO", "KINDLE", "FIRE HD",
		},
		ComputerKeywords: []string{
			"MACBOOK", "IMAC", "LAPTOP", "NOTEBOOK", "CHROMEBOOK", "THINKPAD", "SURFACE LAPTOP",
		},
	}
}

type MatchingConfigHolder struct {
	current atomic.Value // holds MatchingConfig
}

// NewStaticMatchingConfigHolder returns a holder that never reloads.
func NewStaticMatchingConfigHolder(cfg MatchingConfig) *MatchingConfigHolder {
	holder := &MatchingConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewMatchingConfigHolder(log *zap.Logger) (*MatchingConfigHolder, error) {
	log = log.Named("matching.config")
	v := viper.New()

	if path := strings.TrimSpace(os.Getenv("STOCKLINE_MATCHING_CONFIG")); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("matching")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/stockline")
		v.AddConfigPath(".")
	}

	cfg := DefaultMatchingConfig()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		log.Info("matching config file not found, using defaults")
		return NewStaticMatchingConfigHolder(cfg), nil
	}

	if err := v.UnmarshalKey("matching", &cfg); err != nil {
		return nil, err
	}
	if err := ValidateMatchingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &MatchingConfigHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated := DefaultMatchingConfig()
		if err := v.UnmarshalKey("matching", &updated); err != nil {
			log.Warn("matching config reload failed", zap.Error(err))
			return
		}
		if err := ValidateMatchingConfig(updated); err != nil {
			log.Warn("invalid matching config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("matching config reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *MatchingConfigHolder) Get() MatchingConfig {
	return h.current.Load().(MatchingConfig)
}

func ValidateMatchingConfig(cfg MatchingConfig) error {
	w := cfg.Weights
	if w.Category < 0 || w.Model < 0 || w.Capacity < 0 || w.Color < 0 || w.Carrier < 0 {
		return errors.New("matching.weights cannot be negative")
	}
	if w.Category+w.Model+w.Capacity+w.Color+w.Carrier <= 0 {
		return errors.New("matching.weights must sum to a positive value")
	}
	if cfg.ReviewThreshold < 0 || cfg.MatchedThreshold > 1 || cfg.ReviewThreshold > cfg.MatchedThreshold {
		return errors.New("matching thresholds must satisfy 0 <= review <= matched <= 1")
	}
	return nil
}
