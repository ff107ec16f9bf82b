package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockline/internal/clock"
	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	"github.com/smallbiznis/stockline/internal/datalog/repository"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	queuerepo "github.com/smallbiznis/stockline/internal/queue/repository"
	"github.com/smallbiznis/stockline/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (datalogdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := dbtest.Open(t, &datalogdomain.Record{}, &queuedomain.QueueItem{}, &queuedomain.Batch{})
	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC))
	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Queue: queuerepo.Provide(),
		Clock: clk,
	}), db, clk
}

func entry(id int64, imei, source string, status queuedomain.Status, finished time.Time, ms int64) *datalogdomain.Record {
	return &datalogdomain.Record{
		QueueItemID:      snowflake.ID(id),
		IMEI:             imei,
		Source:           source,
		RawPayload:       datatypes.JSON(`{"imei":"` + imei + `"}`),
		Status:           status,
		ProcessingTimeMs: ms,
		StartedAt:        finished.Add(-time.Duration(ms) * time.Millisecond),
		FinishedAt:       finished,
	}
}

func TestRecordRejectsNonTerminalStatus(t *testing.T) {
	svc, db, _ := newTestService(t)
	ctx := context.Background()

	err := svc.Record(ctx, db, &datalogdomain.Record{QueueItemID: 1, Status: queuedomain.StatusPending})
	assert.ErrorIs(t, err, datalogdomain.ErrInvalidRecord)
	assert.ErrorIs(t, svc.Record(ctx, db, nil), datalogdomain.ErrInvalidRecord)
}

func TestRecordFillsDerivedFields(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()

	rec := &datalogdomain.Record{
		QueueItemID: 9, IMEI: "1", Source: "bulk-add", Status: queuedomain.StatusCompleted,
		StartedAt: clk.Now().Add(-1500 * time.Millisecond), FinishedAt: clk.Now(),
	}
	require.NoError(t, svc.Record(ctx, db, rec))
	assert.NotZero(t, rec.ID)
	assert.Equal(t, int64(1500), rec.ProcessingTimeMs)
	assert.Equal(t, "null", string(rec.RawPayload))
}

func TestStatsAndProcessingMetrics(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()
	now := clk.Now()

	records := []*datalogdomain.Record{
		entry(1, "a", "bulk-add", queuedomain.StatusCompleted, now.Add(-10*time.Minute), 100),
		entry(2, "b", "bulk-add", queuedomain.StatusCompleted, now.Add(-20*time.Minute), 300),
		entry(3, "c", "diagnostics-sync", queuedomain.StatusFailed, now.Add(-2*time.Hour), 800),
		entry(4, "d", "diagnostics-sync", queuedomain.StatusCompleted, now.Add(-48*time.Hour), 50),
	}
	for _, rec := range records {
		require.NoError(t, svc.Record(ctx, db, rec))
	}

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(3), stats.ByStatus["completed"])
	assert.Equal(t, int64(1), stats.ByStatus["failed"])
	assert.Equal(t, int64(2), stats.BySource["diagnostics-sync"])
	assert.InDelta(t, 312.5, stats.AvgProcessingMs, 0.001)

	metrics, err := svc.ProcessingMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), metrics.Last24h.Completed)
	assert.Equal(t, int64(1), metrics.Last24h.Failed)
	assert.InDelta(t, 66.666, metrics.SuccessRate, 0.01)
	assert.Equal(t, int64(800), metrics.MaxProcessingMs)
	assert.InDelta(t, 400.0, metrics.AvgProcessingMs, 0.001)
	assert.InDelta(t, 2.0/60, metrics.ThroughputPerMinute, 1e-9)
	assert.Equal(t, int64(0), metrics.Queue.Total)
}

func TestHistoryNewestFirst(t *testing.T) {
	svc, db, clk := newTestService(t)
	ctx := context.Background()
	now := clk.Now()

	require.NoError(t, svc.Record(ctx, db, entry(1, "x", "bulk-add", queuedomain.StatusFailed, now.Add(-time.Hour), 10)))
	require.NoError(t, svc.Record(ctx, db, entry(2, "x", "bulk-add", queuedomain.StatusCompleted, now, 10)))
	require.NoError(t, svc.Record(ctx, db, entry(3, "y", "bulk-add", queuedomain.StatusCompleted, now, 10)))

	history, err := svc.History(ctx, "x", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, snowflake.ID(2), history[0].QueueItemID)

	_, err = svc.History(ctx, " ", 10)
	assert.ErrorIs(t, err, datalogdomain.ErrInvalidRecord)
}
