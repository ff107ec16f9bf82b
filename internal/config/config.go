package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	Role        string
	HTTPAddr    string

	// SnowflakeNode must differ between instances sharing a database.
	SnowflakeNode int64

	OTLPEndpoint string
	OTELEnabled  bool

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBSlowQuery       time.Duration

	Redis       RedisConfig
	Queue       QueueConfig
	Dispatcher  DispatcherConfig
	Diagnostics DiagnosticsConfig
	MetricsPush MetricsPushConfig

	DeviceCacheTTL     time.Duration
	DeviceEnrichSource []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func (c RedisConfig) Enabled() bool {
	return strings.TrimSpace(c.Addr) != ""
}

type QueueConfig struct {
	MaxRetries      int
	DefaultPriority int
}

type DispatcherConfig struct {
	Workers           int
	IdleInterval      time.Duration
	ItemTimeout       time.Duration
	RecoveryThreshold time.Duration
}

type DiagnosticsConfig struct {
	BaseURL       string
	Username      string
	Password      string
	RetryAttempts int
	RetryDelay    time.Duration
	Timeout       time.Duration
	MaxConcurrent int
	RatePerSecond float64
}

// MetricsPushConfig sends the Prometheus registry to a remote collector.
type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
	Interval  time.Duration
}

func (c MetricsPushConfig) Enabled() bool {
	return strings.TrimSpace(c.Exporter) != "" && strings.TrimSpace(c.Endpoint) != ""
}

const (
	RoleAPI    = "api"
	RoleWorker = "worker"
	RoleAll    = "all"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:       getenv("APP_SERVICE", "stockline"),
		AppVersion:    getenv("APP_VERSION", "0.1.0"),
		Environment:   getenv("ENVIRONMENT", "development"),
		Role:          normalizeRole(getenv("STOCKLINE_ROLE", RoleAll)),
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		SnowflakeNode: int64(getenvInt("SNOWFLAKE_NODE", 1)),
		OTLPEndpoint:  getenv("OTLP_ENDPOINT", "localhost:4317"),
		OTELEnabled:   getenvBool("OTEL_ENABLED", false),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "stockline"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 60),
		DBSlowQuery:       getenvDuration("DATABASE_SLOW_QUERY", 200*time.Millisecond),

		Redis: RedisConfig{
			Addr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			Password: getenv("REDIS_PASSWORD", ""),
			DB:       getenvInt("REDIS_DB", 0),
		},
		Queue: QueueConfig{
			MaxRetries:      getenvInt("QUEUE_MAX_RETRIES", 3),
			DefaultPriority: getenvInt("QUEUE_DEFAULT_PRIORITY", 5),
		},
		Dispatcher: DispatcherConfig{
			Workers:           getenvInt("DISPATCHER_WORKERS", 4),
			IdleInterval:      getenvDuration("DISPATCHER_IDLE_INTERVAL", 2*time.Second),
			ItemTimeout:       getenvDuration("DISPATCHER_ITEM_TIMEOUT", 60*time.Second),
			RecoveryThreshold: getenvDuration("DISPATCHER_RECOVERY_THRESHOLD", 10*time.Minute),
		},
		Diagnostics: DiagnosticsConfig{
			BaseURL:       strings.TrimRight(strings.TrimSpace(getenv("DIAGNOSTICS_BASE_URL", "")), "/"),
			Username:      strings.TrimSpace(getenv("DIAGNOSTICS_USERNAME", "")),
			Password:      getenv("DIAGNOSTICS_PASSWORD", ""),
			RetryAttempts: getenvInt("DIAGNOSTICS_RETRY_ATTEMPTS", 3),
			RetryDelay:    getenvDuration("DIAGNOSTICS_RETRY_DELAY", time.Second),
			Timeout:       getenvDuration("DIAGNOSTICS_TIMEOUT", 15*time.Second),
			MaxConcurrent: getenvInt("DIAGNOSTICS_MAX_CONCURRENT", 4),
			RatePerSecond: getenvFloat("DIAGNOSTICS_RATE_PER_SECOND", 5),
		},
		MetricsPush: MetricsPushConfig{
			Exporter:  strings.ToLower(strings.TrimSpace(getenv("METRICS_PUSH_EXPORTER", ""))),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
			Interval:  getenvDuration("METRICS_PUSH_INTERVAL", time.Minute),
		},
		DeviceCacheTTL:     getenvDuration("DEVICE_CACHE_TTL", 10*time.Minute),
		DeviceEnrichSource: parseList(getenv("DEVICE_ENRICH_SOURCES", "diagnostics-sync")),
	}

	return cfg
}

// Provide loads the configuration and refuses settings that cannot run together.
func Provide() (Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	maxNode := int64(-1 ^ (-1 << snowflake.NodeBits))
	if c.SnowflakeNode < 0 || c.SnowflakeNode > maxNode {
		return fmt.Errorf("SNOWFLAKE_NODE must be between 0 and %d, got %d", maxNode, c.SnowflakeNode)
	}
	if c.Diagnostics.Timeout > 0 && c.Dispatcher.ItemTimeout > 0 && c.Diagnostics.Timeout >= c.Dispatcher.ItemTimeout {
		return fmt.Errorf("DIAGNOSTICS_TIMEOUT (%s) must be shorter than DISPATCHER_ITEM_TIMEOUT (%s)",
			c.Diagnostics.Timeout, c.Dispatcher.ItemTimeout)
	}
	return nil
}

func (c Config) RunsAPI() bool {
	return c.Role == RoleAPI || c.Role == RoleAll
}

func (c Config) RunsWorker() bool {
	return c.Role == RoleWorker || c.Role == RoleAll
}

func normalizeRole(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case RoleAPI:
		return RoleAPI
	case RoleWorker:
		return RoleWorker
	default:
		return RoleAll
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("1500ms") or a bare number of seconds.
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return def
}

func parseList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
