package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/cache"
	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
	catalogrepo "github.com/smallbiznis/stockline/internal/catalog/repository"
	catalogservice "github.com/smallbiznis/stockline/internal/catalog/service"
	"github.com/smallbiznis/stockline/internal/clock"
	"github.com/smallbiznis/stockline/internal/config"
	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	datalogrepo "github.com/smallbiznis/stockline/internal/datalog/repository"
	datalogservice "github.com/smallbiznis/stockline/internal/datalog/service"
	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
	devicerepo "github.com/smallbiznis/stockline/internal/device/repository"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	queuerepo "github.com/smallbiznis/stockline/internal/queue/repository"
	"github.com/smallbiznis/stockline/internal/sku"
	"github.com/smallbiznis/stockline/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeLookup struct {
	mu     sync.Mutex
	calls  int
	device map[string]json.RawMessage
	err    error
}

func (f *fakeLookup) Configured() bool { return true }

func (f *fakeLookup) DeviceByIMEI(_ context.Context, imei string) (diagnostics.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return diagnostics.Device{}, f.err
	}
	payload, ok := f.device[imei]
	if !ok {
		return diagnostics.Device{}, diagnostics.ErrDeviceNotFound
	}
	return diagnostics.Device{IMEI: imei, Payload: payload}, nil
}

func (f *fakeLookup) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	db      *gorm.DB
	d       *Dispatcher
	queue   queuedomain.Repository
	devices devicedomain.Repository
	lookup  *fakeLookup
	clk     *clock.FakeClock
	node    *snowflake.Node
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	db := dbtest.Open(t,
		&queuedomain.QueueItem{},
		&queuedomain.Batch{},
		&devicedomain.DeviceRecord{},
		&devicedomain.SkuMatchResult{},
		&devicedomain.InspectionRecord{},
		&devicedomain.InventoryRollup{},
		&datalogdomain.Record{},
		&catalogdomain.MasterSku{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(5)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 8, 1, 9, 0, 0, 0, time.UTC))
	engine := sku.NewEngine(config.NewStaticMatchingConfigHolder(config.DefaultMatchingConfig()))

	catalog := catalogservice.New(catalogservice.Params{
		Repo: catalogrepo.Provide(db), Engine: engine, Clock: clk, Log: zap.NewNop(),
	})
	_, err = catalog.Import(context.Background(), []catalogdomain.ImportItem{
		{SkuCode: "IPHONE14-PRO-256GB-BLACK"},
		{SkuCode: "IPHONE13-128GB-BLUE"},
	})
	require.NoError(t, err)

	queue := queuerepo.Provide()
	devices := devicerepo.Provide()
	lookup := &fakeLookup{device: map[string]json.RawMessage{}}
	if cfg.EnrichSources == nil {
		cfg.EnrichSources = []string{"diagnostics-sync"}
	}

	d, err := New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Queue:   queue,
		Devices: devices,
		Catalog: catalog,
		Engine:  engine,
		DataLog: datalogservice.New(datalogservice.Params{
			DB: db, Log: zap.NewNop(), GenID: node, Repo: datalogrepo.Provide(), Queue: queue, Clock: clk,
		}),
		Clock:  clk,
		Config: cfg,
		Lookup: lookup,
		Cache:  cache.NewMemoryDeviceCache(time.Minute),
	})
	require.NoError(t, err)
	return fixture{db: db, d: d, queue: queue, devices: devices, lookup: lookup, clk: clk, node: node}
}

func (f fixture) enqueue(t *testing.T, source string, maxRetries int, payloads ...string) (snowflake.ID, []snowflake.ID) {
	t.Helper()
	ctx := context.Background()
	now := f.clk.Now()
	batchID := f.node.Generate()
	require.NoError(t, f.queue.InsertBatch(ctx, f.db, &queuedomain.Batch{
		ID: batchID, Name: "test", Source: source, TotalItems: len(payloads),
		Status: queuedomain.BatchActive, CreatedAt: now, UpdatedAt: now,
	}))
	items := make([]*queuedomain.QueueItem, 0, len(payloads))
	ids := make([]snowflake.ID, 0, len(payloads))
	for i, p := range payloads {
		id := f.node.Generate()
		var payload map[string]any
		_ = json.Unmarshal([]byte(p), &payload)
		imei, _ := payload["imei"].(string)
		items = append(items, &queuedomain.QueueItem{
			ID: id, IMEI: imei, RawPayload: datatypes.JSON(p), Status: queuedomain.StatusPending,
			MaxRetries: maxRetries, Source: source, BatchID: &batchID,
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond), UpdatedAt: now,
		})
		ids = append(ids, id)
	}
	require.NoError(t, f.queue.InsertItems(ctx, f.db, items))
	return batchID, ids
}

func (f fixture) item(t *testing.T, id snowflake.ID) *queuedomain.QueueItem {
	t.Helper()
	item, err := f.queue.FindByID(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func count(t *testing.T, db *gorm.DB, model any, where ...any) int64 {
	t.Helper()
	var n int64
	stmt := db.Model(model)
	if len(where) > 0 {
		stmt = stmt.Where(where[0], where[1:]...)
	}
	require.NoError(t, stmt.Count(&n).Error)
	return n
}

const scenarioPayload = `{"imei":"123456789012345","model":"iPhone 14 Pro","storage":"256GB","color":"Space Black","carrier":"Unlocked","working":"YES"}`

func TestRunOnceProcessesBulkAddItem(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	batchID, ids := f.enqueue(t, "bulk-add", 3, scenarioPayload)

	processed, err := f.d.RunOnce(ctx)
	require.NoError(t, err)
	assert.True(t, processed)

	item := f.item(t, ids[0])
	assert.Equal(t, queuedomain.StatusCompleted, item.Status)
	require.NotNil(t, item.ProcessedAt)

	device, err := f.devices.FindDevice(ctx, f.db, "123456789012345")
	require.NoError(t, err)
	require.NotNil(t, device)
	assert.Equal(t, devicedomain.WorkingYes, device.WorkingStatus)
	assert.Equal(t, sku.CategoryPhone, device.Category)
	assert.Equal(t, ids[0], device.LastQueueItemID)

	match, err := f.devices.FindMatch(ctx, f.db, "123456789012345")
	require.NoError(t, err)
	require.NotNil(t, match)
	require.NotNil(t, match.MatchedSku)
	assert.Equal(t, "IPHONE14-PRO-256GB-BLACK", *match.MatchedSku)
	assert.Equal(t, sku.StatusMatched, match.MatchStatus)
	assert.GreaterOrEqual(t, match.MatchScore, 0.0)
	assert.LessOrEqual(t, match.MatchScore, 1.0)

	rollup, err := f.devices.FindRollup(ctx, f.db, "IPHONE14-PRO-256GB-BLACK")
	require.NoError(t, err)
	require.NotNil(t, rollup)
	assert.Equal(t, int64(1), rollup.TotalUnits)
	assert.Equal(t, int64(1), rollup.WorkingUnits)

	assert.Equal(t, int64(1), count(t, f.db, &devicedomain.InspectionRecord{}))
	assert.Equal(t, int64(1), count(t, f.db, &datalogdomain.Record{}, "status = ?", queuedomain.StatusCompleted))

	batch, err := f.queue.FindBatch(ctx, f.db, batchID)
	require.NoError(t, err)
	assert.True(t, batch.Finished())

	processed, err = f.d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)
	assert.Zero(t, f.lookup.Calls(), "bulk-add items are not enriched")
}

func TestReprocessingSameIMEIUpserts(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.enqueue(t, "bulk-add", 3,
		`{"imei":"1111","model":"iPhone 13","storage":"128GB","color":"Red"}`,
		`{"imei":"1111","model":"iPhone 13","storage":"128GB","color":"Blue","working":"NO"}`,
	)

	for i := 0; i < 2; i++ {
		processed, err := f.d.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	assert.Equal(t, int64(1), count(t, f.db, &devicedomain.DeviceRecord{}))
	assert.Equal(t, int64(1), count(t, f.db, &devicedomain.SkuMatchResult{}))
	assert.Equal(t, int64(2), count(t, f.db, &devicedomain.InspectionRecord{}))

	device, err := f.devices.FindDevice(ctx, f.db, "1111")
	require.NoError(t, err)
	assert.Equal(t, "Blue", device.Color)
	assert.Equal(t, devicedomain.WorkingNo, device.WorkingStatus)

	match, err := f.devices.FindMatch(ctx, f.db, "1111")
	require.NoError(t, err)
	require.NotNil(t, match.MatchedSku)
	assert.Equal(t, "IPHONE13-128GB-BLUE", *match.MatchedSku)

	rollup, err := f.devices.FindRollup(ctx, f.db, "IPHONE13-128GB-BLUE")
	require.NoError(t, err)
	require.NotNil(t, rollup)
	assert.Equal(t, int64(1), rollup.TotalUnits)
	assert.Equal(t, int64(0), rollup.WorkingUnits)
}

func TestDiagnosticsTimeoutExhaustsRetries(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.lookup.err = fmt.Errorf("%w: context deadline exceeded", diagnostics.ErrTimeout)
	_, ids := f.enqueue(t, "diagnostics-sync", 3, `{"imei":"2222"}`)

	for attempt := 1; attempt <= 3; attempt++ {
		processed, err := f.d.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, processed, "attempt %d", attempt)

		item := f.item(t, ids[0])
		assert.Equal(t, attempt, item.RetryCount)
		if attempt < 3 {
			assert.Equal(t, queuedomain.StatusPending, item.Status)
		}
	}

	item := f.item(t, ids[0])
	assert.Equal(t, queuedomain.StatusFailed, item.Status)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "diagnostics_timeout")
	assert.Equal(t, 3, f.lookup.Calls())

	processed, err := f.d.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	assert.Equal(t, int64(1), count(t, f.db, &datalogdomain.Record{}, "status = ?", queuedomain.StatusFailed))
	assert.Equal(t, int64(0), count(t, f.db, &devicedomain.DeviceRecord{}))

	status := f.d.Status()
	assert.Equal(t, int64(2), status.Retried)
	assert.Equal(t, int64(1), status.Failed)
}

func TestEnrichmentOverlaysMissingFields(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	f.lookup.device["3333"] = json.RawMessage(`{"imei":"3333","model":"iPhone 14 Pro","storage":"256GB","color":"Space Black","workingStatus":"FAIL"}`)
	f.enqueue(t, "diagnostics-sync", 3,
		`{"imei":"3333","working":"YES"}`,
		`{"imei":"3333","color":"Space Black"}`,
	)

	for i := 0; i < 2; i++ {
		processed, err := f.d.RunOnce(ctx)
		require.NoError(t, err)
		require.True(t, processed)
	}

	device, err := f.devices.FindDevice(ctx, f.db, "3333")
	require.NoError(t, err)
	assert.Equal(t, "iPhone 14 Pro", device.Model)
	assert.Equal(t, "256GB", device.Storage)
	assert.Equal(t, devicedomain.WorkingNo, device.WorkingStatus, "the second payload has no flag so the provider status applies")
	assert.Equal(t, 1, f.lookup.Calls(), "the second lookup is served from cache")
}

func TestUnknownDeviceIsProcessedAsIs(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, ids := f.enqueue(t, "diagnostics-sync", 3, `{"imei":"4444","model":"iPhone 13"}`)

	_, err := f.d.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, queuedomain.StatusCompleted, f.item(t, ids[0]).Status)
}

func TestValidationFailureIsTerminal(t *testing.T) {
	f := newFixture(t, Config{})
	ctx := context.Background()
	_, ids := f.enqueue(t, "bulk-add", 3, `{"model":"no identifier"}`)

	processed, err := f.d.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	item := f.item(t, ids[0])
	assert.Equal(t, queuedomain.StatusFailed, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "normalize")
}

func TestRecoverStaleCountsAsAttempt(t *testing.T) {
	f := newFixture(t, Config{RecoveryThreshold: 10 * time.Minute})
	ctx := context.Background()
	_, ids := f.enqueue(t, "bulk-add", 3, `{"imei":"5555"}`)

	claimed, err := f.queue.ClaimNext(ctx, f.db, f.clk.Now())
	require.NoError(t, err)
	require.NotNil(t, claimed)

	n, err := f.d.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "fresh claims are left alone")

	f.clk.Advance(11 * time.Minute)
	n, err = f.d.RecoverStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item := f.item(t, ids[0])
	assert.Equal(t, queuedomain.StatusPending, item.Status)
	assert.Equal(t, 1, item.RetryCount)
	require.NotNil(t, item.ErrorMessage)
	assert.Contains(t, *item.ErrorMessage, "claim expired")
	assert.Equal(t, int64(1), f.d.Status().Recovered)
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, Config{Workers: 2, IdleInterval: 10 * time.Millisecond})
	ctx := context.Background()
	_, ids := f.enqueue(t, "bulk-add", 3, scenarioPayload, `{"imei":"6666","model":"iPhone 13"}`)

	require.NoError(t, f.d.Start(ctx))
	assert.ErrorIs(t, f.d.Start(ctx), ErrAlreadyRunning)
	assert.True(t, f.d.Status().Running)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			item, err := f.queue.FindByID(ctx, f.db, id)
			if err != nil || item == nil || item.Status != queuedomain.StatusCompleted {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, f.d.Stop(stopCtx))
	assert.ErrorIs(t, f.d.Stop(stopCtx), ErrNotRunning)

	status := f.d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, int64(2), status.Completed)
	require.NotNil(t, status.StoppedAt)
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{ItemTimeout: 20 * time.Minute}.withDefaults()
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 20*time.Minute, cfg.RecoveryThreshold, "recovery never fires before an item can time out")
	assert.True(t, Config{EnrichSources: []string{" Diagnostics-Sync "}}.enriches("diagnostics-sync"))
	assert.False(t, Config{}.enriches("bulk-add"))
}
