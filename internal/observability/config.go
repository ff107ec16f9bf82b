package observability

import (
	"os"
	"strconv"
	"strings"

	"github.com/smallbiznis/stockline/internal/config"
)

// Config holds observability configuration derived from environment variables.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Role        string

	LogLevel  string
	LogFormat string
	// LogLevels overrides the level per named logger, e.g. "dispatcher=debug,gorm=warn".
	LogLevels        map[string]string
	LogSampleInitial int
	LogSampleAfter   int

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

func LoadConfig(cfg config.Config) Config {
	serviceName := strings.TrimSpace(cfg.AppName)
	if serviceName == "" {
		serviceName = "stockline"
	}
	protocol := lower(envOr("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))
	if traces := lower(os.Getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	return Config{
		ServiceName:          serviceName,
		Environment:          envOr("DEPLOYMENT_ENV", cfg.Environment),
		Version:              envOr("SERVICE_VERSION", cfg.AppVersion),
		Role:                 cfg.Role,
		LogLevel:             lower(envOr("LOG_LEVEL", "info")),
		LogFormat:            lower(envOr("LOG_FORMAT", "json")),
		LogLevels:            parseLevels(os.Getenv("LOG_LEVELS")),
		LogSampleInitial:     envInt("LOG_SAMPLE_INITIAL", 100),
		LogSampleAfter:       envInt("LOG_SAMPLE_THEREAFTER", 100),
		OtelEnabled:          cfg.OTELEnabled,
		OtelExporterEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint),
		OtelExporterProtocol: protocol,
		OtelSamplingRatio:    envFloat("OTEL_SAMPLING_RATIO", 0.1),
	}
}

func (c Config) Debug() bool {
	if lower(c.LogLevel) == "debug" {
		return true
	}
	switch lower(c.Environment) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// parseLevels reads "name=level" pairs separated by commas; malformed pairs
// are skipped.
func parseLevels(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		name, level, ok := strings.Cut(pair, "=")
		name, level = strings.TrimSpace(name), lower(level)
		if !ok || name == "" || level == "" {
			continue
		}
		out[name] = level
	}
	return out
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func envOr(key, def string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(def)
}

func envInt(key string, def int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return parsed
}

func envFloat(key string, def float64) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(os.Getenv(key)), 64)
	if err != nil {
		return def
	}
	return parsed
}
