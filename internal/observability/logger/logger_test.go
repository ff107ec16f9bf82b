package logger

import (
	"context"
	"testing"
	"time"

	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

func TestComponentCoreAppliesLongestPrefix(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := newComponentCore(inner, zapcore.InfoLevel, map[string]zapcore.Level{
		"dispatcher":        zapcore.DebugLevel,
		"dispatcher.worker": zapcore.ErrorLevel,
	})
	root := zap.New(core)

	root.Debug("root.debug")
	root.Info("root.info")
	root.Named("dispatcher").Debug("dispatcher.debug")
	root.Named("dispatcher").Named("worker").Warn("worker.warn")
	root.Named("dispatcher").Named("worker").Error("worker.error")
	root.Named("dispatchers").Debug("other.debug")

	var got []string
	for _, entry := range logs.All() {
		got = append(got, entry.Message)
	}
	assert.Equal(t, []string{"root.info", "dispatcher.debug", "worker.error"}, got)
}

func TestComponentCoreKeepsFiltersAfterWith(t *testing.T) {
	inner, logs := observer.New(zapcore.DebugLevel)
	core := newComponentCore(inner, zapcore.WarnLevel, map[string]zapcore.Level{"db": zapcore.DebugLevel})
	log := zap.New(core).With(zap.String("k", "v"))

	log.Info("dropped")
	log.Named("db").Debug("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
	assert.Equal(t, "v", logs.All()[0].ContextMap()["k"])
}

func TestParseLevel(t *testing.T) {
	lvl, err := parseLevel("", zapcore.WarnLevel)
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	lvl, err = parseLevel(" debug ", zapcore.InfoLevel)
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	_, err = parseLevel("loud", zapcore.InfoLevel)
	assert.Error(t, err)
}

func TestNewRejectsBadComponentLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "info", ComponentLevels: map[string]string{"db": "chatty"}})
	assert.ErrorContains(t, err, `logger "db"`)
}

func TestWithContextOmitsMissingIdentifiers(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	WithContext(context.Background(), base).Info("bare")
	ctx := obscontext.WithRequestID(context.Background(), "req-7")
	ctx = obscontext.WithActor(ctx, "admin", "admin-1")
	WithContext(ctx, base).Info("scoped")

	require.Equal(t, 2, logs.Len())
	assert.Empty(t, logs.All()[0].ContextMap())
	fields := logs.All()[1].ContextMap()
	assert.Equal(t, "req-7", fields["request_id"])
	assert.Equal(t, "admin", fields["actor_type"])
	assert.Equal(t, "admin-1", fields["actor_id"])
	assert.NotContains(t, fields, "trace_id")
}

func TestDescribeStatement(t *testing.T) {
	cases := []struct {
		sql, verb, table string
	}{
		{`SELECT * FROM "queue_items" WHERE status = $1`, "SELECT", "queue_items"},
		{`INSERT INTO "archive_records" ("id") VALUES ($1)`, "INSERT", "archive_records"},
		{`UPDATE "queue_items" SET "status"=$1`, "UPDATE", "queue_items"},
		{`PRAGMA foreign_keys = ON`, "OTHER", ""},
	}
	for _, tc := range cases {
		verb, table := describeStatement(tc.sql)
		assert.Equal(t, tc.verb, verb, tc.sql)
		assert.Equal(t, tc.table, table, tc.sql)
	}
}

func TestQueryLoggerClassifiesStatements(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	q := NewQueryLogger(zap.New(core), QueryLogDefaults(50*time.Millisecond))
	stmt := func() (string, int64) { return `SELECT * FROM "devices"`, 1 }

	q.Trace(context.Background(), time.Now(), stmt, nil)
	q.Trace(context.Background(), time.Now(), stmt, gormlogger.ErrRecordNotFound)
	q.Trace(context.Background(), time.Now().Add(-time.Second), stmt, nil)
	q.Trace(context.Background(), time.Now(), stmt, assert.AnError)

	require.Equal(t, 2, logs.Len())
	slow := logs.All()[0]
	assert.Equal(t, "db.query.slow", slow.Message)
	assert.Equal(t, "db", slow.LoggerName)
	assert.Equal(t, "devices", slow.ContextMap()["table"])
	assert.Equal(t, "db.query.failed", logs.All()[1].Message)

	verbose := q.LogMode(gormlogger.Info)
	verbose.Trace(context.Background(), time.Now(), stmt, nil)
	assert.Equal(t, "db.query", logs.All()[2].Message)
}
