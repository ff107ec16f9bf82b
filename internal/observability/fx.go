package observability

import (
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"github.com/smallbiznis/stockline/internal/observability/logger"
	"github.com/smallbiznis/stockline/internal/observability/metrics"
	"github.com/smallbiznis/stockline/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
)

// Module provides the process logger, the tracer provider and the pipeline
// metrics shared by every stockline role.
var Module = fx.Module("observability",
	fx.Provide(
		LoadConfig,
		loggerConfig,
		logger.New,
		tracingConfig,
		tracing.NewProvider,
		metricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		pipelineMetrics,
		diagnosticsObserver,
	),
	fx.Invoke(func(*sdktrace.TracerProvider, *metrics.PipelineMetrics) {}),
)

func loggerConfig(cfg Config) logger.Config {
	debug := cfg.Debug()
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Role:                cfg.Role,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               debug,
		ComponentLevels:     cfg.LogLevels,
		SamplingInitial:     cfg.LogSampleInitial,
		SamplingThereafter:  cfg.LogSampleAfter,
		IncludeCaller:       true,
		IncludeStackOnError: debug,
	}
}

func tracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func metricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}

func pipelineMetrics(cfg metrics.Config) *metrics.PipelineMetrics {
	return metrics.PipelineWithConfig(cfg)
}

func diagnosticsObserver(m *metrics.Metrics) diagnostics.Observer {
	return m
}
