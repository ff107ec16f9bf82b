package logger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	"github.com/smallbiznis/stockline/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config configures the process logger.
type Config struct {
	ServiceName string
	Environment string
	Version     string
	Role        string
	Level       string
	Format      string
	Debug       bool

	// ComponentLevels overrides Level for named loggers and their children,
	// keyed by logger name ("dispatcher", "db", "diagnostics.client").
	ComponentLevels map[string]string

	SamplingInitial     int
	SamplingThereafter  int
	SamplingWindow      time.Duration
	IncludeCaller       bool
	IncludeStackOnError bool
}

// New builds the process logger, installs it as the zap global and flushes
// it when the app stops.
func New(lc fx.Lifecycle, cfg Config) (*zap.Logger, error) {
	base, err := parseLevel(cfg.Level, zapcore.InfoLevel)
	if err != nil {
		return nil, err
	}
	overrides := make(map[string]zapcore.Level, len(cfg.ComponentLevels))
	floor := base
	for name, raw := range cfg.ComponentLevels {
		lvl, err := parseLevel(raw, base)
		if err != nil {
			return nil, fmt.Errorf("logger %q: %w", name, err)
		}
		overrides[name] = lvl
		floor = min(floor, lvl)
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = normalizeFormat(cfg.Format)
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.OutputPaths = []string{"stdout"}
	zapCfg.ErrorOutputPaths = []string{"stderr"}
	zapCfg.Level = zap.NewAtomicLevelAt(floor)
	zapCfg.Sampling = nil
	if cfg.Debug {
		zapCfg.Development = true
	}

	options := []zap.Option{zap.WrapCore(sampled(cfg))}
	if len(overrides) > 0 {
		options = append(options, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return newComponentCore(core, base, overrides)
		}))
	}
	if cfg.IncludeCaller {
		options = append(options, zap.AddCaller())
	}
	if cfg.IncludeStackOnError {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	log, err := zapCfg.Build(options...)
	if err != nil {
		return nil, err
	}

	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "stockline"
	}
	fields := []zap.Field{
		zap.String("service", service),
		zap.String("env", strings.TrimSpace(cfg.Environment)),
		zap.String("version", strings.TrimSpace(cfg.Version)),
	}
	if role := strings.TrimSpace(cfg.Role); role != "" {
		fields = append(fields, zap.String("role", role))
	}
	log = log.With(fields...)
	zap.ReplaceGlobals(log)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				_ = log.Sync()
				return nil
			},
		})
	}
	return log, nil
}

func sampled(cfg Config) func(zapcore.Core) zapcore.Core {
	initial, thereafter, window := cfg.SamplingInitial, cfg.SamplingThereafter, cfg.SamplingWindow
	if initial <= 0 {
		initial = 100
	}
	if thereafter <= 0 {
		thereafter = 100
	}
	if window <= 0 {
		window = time.Second
	}
	return func(core zapcore.Core) zapcore.Core {
		return zapcore.NewSamplerWithOptions(core, window, initial, thereafter)
	}
}

func parseLevel(raw string, def zapcore.Level) (zapcore.Level, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(raw)); err != nil {
		return def, fmt.Errorf("invalid log level %q: %w", raw, err)
	}
	return lvl, nil
}

func normalizeFormat(format string) string {
	if strings.EqualFold(strings.TrimSpace(format), "console") {
		return "console"
	}
	return "json"
}

// componentCore filters entries by the level configured for the entry's
// logger name. The longest matching name prefix wins.
type componentCore struct {
	zapcore.Core
	base  zapcore.Level
	names []string
	level map[string]zapcore.Level
}

func newComponentCore(core zapcore.Core, base zapcore.Level, levels map[string]zapcore.Level) *componentCore {
	names := make([]string, 0, len(levels))
	for name := range levels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return &componentCore{Core: core, base: base, names: names, level: levels}
}

func (c *componentCore) levelFor(loggerName string) zapcore.Level {
	for _, name := range c.names {
		if loggerName == name || strings.HasPrefix(loggerName, name+".") {
			return c.level[name]
		}
	}
	return c.base
}

func (c *componentCore) With(fields []zapcore.Field) zapcore.Core {
	return &componentCore{Core: c.Core.With(fields), base: c.base, names: c.names, level: c.level}
}

func (c *componentCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.levelFor(ent.LoggerName).Enabled(ent.Level) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// FromContext returns the global logger enriched with request-scoped fields.
func FromContext(ctx context.Context) *zap.Logger {
	return WithContext(ctx, zap.L())
}

// WithContext adds the request, correlation, actor and trace identifiers
// found on ctx. Absent identifiers are left out.
func WithContext(ctx context.Context, base *zap.Logger) *zap.Logger {
	if ctx == nil || base == nil {
		return base
	}
	fields := make([]zap.Field, 0, 6)
	add := func(key, value string) {
		if value != "" {
			fields = append(fields, zap.String(key, value))
		}
	}
	add("request_id", obscontext.RequestIDFromContext(ctx))
	add("correlation_id", correlation.FromContext(ctx))
	actorType, actorID := obscontext.ActorFromContext(ctx)
	add("actor_type", actorType)
	add("actor_id", actorID)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		add("trace_id", sc.TraceID().String())
		add("span_id", sc.SpanID().String())
	}
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// WithItem adds queue item identifiers to the logger.
func WithItem(log *zap.Logger, itemID, imei, source string) *zap.Logger {
	if log == nil {
		return nil
	}
	return log.With(
		zap.String("queue_item_id", strings.TrimSpace(itemID)),
		zap.String("imei", strings.TrimSpace(imei)),
		zap.String("source", strings.TrimSpace(source)),
	)
}
