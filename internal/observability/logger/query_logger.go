package logger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

// QueryLogConfig controls which statements reach the log.
type QueryLogConfig struct {
	Level         gormlogger.LogLevel
	SlowThreshold time.Duration
	// LogNotFound reports gorm.ErrRecordNotFound as a failed query.
	LogNotFound bool
}

// QueryLogDefaults logs failures and statements slower than slow.
func QueryLogDefaults(slow time.Duration) QueryLogConfig {
	if slow <= 0 {
		slow = 200 * time.Millisecond
	}
	return QueryLogConfig{Level: gormlogger.Warn, SlowThreshold: slow}
}

// QueryLogger routes gorm output through the "db" zap logger so queue and
// archive statements carry the same request and trace fields as the handler
// that issued them.
type QueryLogger struct {
	log *zap.Logger
	cfg QueryLogConfig
}

func NewQueryLogger(base *zap.Logger, cfg QueryLogConfig) *QueryLogger {
	if base == nil {
		base = zap.L()
	}
	return &QueryLogger{log: base.Named("db"), cfg: cfg}
}

func (q *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *q
	next.cfg.Level = level
	return &next
}

func (q *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	q.message(ctx, gormlogger.Info, zapcore.InfoLevel, msg, data)
}

func (q *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	q.message(ctx, gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

func (q *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	q.message(ctx, gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (q *QueryLogger) message(ctx context.Context, min gormlogger.LogLevel, level zapcore.Level, msg string, data []interface{}) {
	if q.cfg.Level < min {
		return
	}
	ce := WithContext(ctx, q.log).Check(level, "db.message")
	if ce == nil {
		return
	}
	ce.Write(zap.String("detail", strings.TrimSpace(fmt.Sprintf(msg, data...))))
}

// Trace classifies a finished statement as failed, slow or routine.
func (q *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.cfg.Level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		level zapcore.Level
		event string
	)
	switch {
	case err != nil && q.cfg.Level >= gormlogger.Error && q.reportable(err):
		level, event = zapcore.ErrorLevel, "db.query.failed"
	case q.cfg.SlowThreshold > 0 && elapsed > q.cfg.SlowThreshold && q.cfg.Level >= gormlogger.Warn:
		level, event = zapcore.WarnLevel, "db.query.slow"
	case q.cfg.Level >= gormlogger.Info:
		level, event = zapcore.DebugLevel, "db.query"
	default:
		return
	}

	ce := WithContext(ctx, q.log).Check(level, event)
	if ce == nil {
		return
	}
	statement, rows := fc()
	verb, table := describeStatement(statement)
	fields := []zap.Field{
		zap.String("statement", strings.TrimSpace(statement)),
		zap.String("verb", verb),
		zap.Float64("elapsed_ms", float64(elapsed.Microseconds())/1000),
	}
	if table != "" {
		fields = append(fields, zap.String("table", table))
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// ParamsFilter drops bound values; raw payloads carry device owner notes.
func (q *QueryLogger) ParamsFilter(_ context.Context, sql string, _ ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (q *QueryLogger) reportable(err error) bool {
	return q.cfg.LogNotFound || !errors.Is(err, gormlogger.ErrRecordNotFound)
}

// describeStatement returns the leading verb of a statement and the first
// table it names, skipping any CTE prefix.
func describeStatement(sql string) (verb, table string) {
	tokens := strings.Fields(strings.TrimSpace(sql))
	verb = "OTHER"
	for i, token := range tokens {
		word := strings.ToUpper(strings.Trim(token, "();"))
		switch word {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			if verb == "OTHER" {
				verb = word
			}
		case "FROM", "INTO":
			if table == "" && i+1 < len(tokens) {
				table = strings.Trim(tokens[i+1], "`\"();")
			}
		}
		if word == "UPDATE" && table == "" && i+1 < len(tokens) {
			table = strings.Trim(tokens[i+1], "`\"();")
		}
	}
	return verb, table
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
