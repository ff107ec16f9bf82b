package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	archiverepo "github.com/smallbiznis/stockline/internal/archive/repository"
	archiveservice "github.com/smallbiznis/stockline/internal/archive/service"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	auditrepo "github.com/smallbiznis/stockline/internal/audit/repository"
	auditservice "github.com/smallbiznis/stockline/internal/audit/service"
	"github.com/smallbiznis/stockline/internal/authorization"
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
	"github.com/smallbiznis/stockline/internal/dispatcher"
	"github.com/smallbiznis/stockline/internal/observability"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	queuerepo "github.com/smallbiznis/stockline/internal/queue/repository"
	queueservice "github.com/smallbiznis/stockline/internal/queue/service"
	"github.com/smallbiznis/stockline/internal/sku"
	"github.com/smallbiznis/stockline/internal/stationsync"
	"github.com/smallbiznis/stockline/pkg/db/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type dispatcherMock struct {
	mock.Mock
}

func (m *dispatcherMock) StopProcessing(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *dispatcherMock) StartProcessing(ctx context.Context) error {
	return m.Called().Error(0)
}

func (m *dispatcherMock) Status() dispatcher.Status {
	return dispatcher.Status{Running: true, Workers: 4}
}

type syncerMock struct {
	mock.Mock
}

func (m *syncerMock) ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC), nil
	}
	parsed, err := time.Parse(stationsync.DateLayout, value)
	if err != nil {
		return time.Time{}, stationsync.ErrInvalidDate
	}
	return parsed, nil
}

func (m *syncerMock) SyncStation(ctx context.Context, station string, date time.Time) (stationsync.Result, error) {
	args := m.Called(station, date)
	res, _ := args.Get(0).(stationsync.Result)
	return res, args.Error(1)
}

type fixture struct {
	db         *gorm.DB
	engine     *gin.Engine
	devices    devicedomain.Repository
	dispatcher *dispatcherMock
	syncer     *syncerMock
	clk        *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.Open(t,
		&queuedomain.QueueItem{},
		&queuedomain.Batch{},
		&devicedomain.DeviceRecord{},
		&devicedomain.SkuMatchResult{},
		&devicedomain.InspectionRecord{},
		&devicedomain.InventoryRollup{},
		&archivedomain.ArchivedRecord{},
		&datalogdomain.Record{},
		&catalogdomain.MasterSku{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(9)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: clk})
	queueRepo := queuerepo.Provide()
	devices := devicerepo.Provide()
	archive := archiveservice.New(archiveservice.Params{
		DB: db, Log: log, GenID: node, Repo: archiverepo.Provide(), Devices: devices, Audit: audit, Clock: clk,
	})
	queue := queueservice.NewService(queueservice.Params{
		DB: db, Log: log, GenID: node, Repo: queueRepo, Archiver: archive, Audit: audit, Clock: clk,
		Cfg: config.Config{Queue: config.QueueConfig{MaxRetries: 3}},
	})
	engine := sku.NewEngine(config.NewStaticMatchingConfigHolder(config.DefaultMatchingConfig()))
	catalog := catalogservice.New(catalogservice.Params{Repo: catalogrepo.Provide(db), Engine: engine, Clock: clk, Log: log})
	datalog := datalogservice.New(datalogservice.Params{DB: db, Log: log, GenID: node, Repo: datalogrepo.Provide(), Queue: queueRepo, Clock: clk})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: log, Enforcer: enforcer})

	f := fixture{db: db, devices: devices, dispatcher: &dispatcherMock{}, syncer: &syncerMock{}, clk: clk}
	srv := NewServer(ServerParams{
		Gin:         NewEngine(observability.Config{}, nil),
		DB:          db,
		AuthzSvc:    authz,
		AuditSvc:    audit,
		QueueSvc:    queue,
		ArchiveSvc:  archive,
		DataLogSvc:  datalog,
		CatalogSvc:  catalog,
		Dispatcher:  f.dispatcher,
		StationSync: f.syncer,
	})
	f.engine = srv.Engine()
	return f
}

func (f fixture) do(t *testing.T, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderActorRole, role)
		req.Header.Set(HeaderActorID, role+"-1")
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	payload, ok := body["error"].(map[string]any)
	require.True(t, ok, rec.Body.String())
	return payload["type"].(string)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
}

func TestRequestsWithoutActorAreRejected(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/v1/queue/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/queue/stats", "guest", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnqueueStatsAndBatch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/queue/items", authorization.RoleOperator, map[string]any{
		"source": "bulk-add",
		"items": []any{
			map[string]any{"imei": "356789012345678", "model": "iPhone 14"},
			map[string]any{"model": "missing imei"},
		},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	data := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(1), data["accepted_count"])
	assert.Equal(t, float64(1), data["rejected_count"])
	batchID, ok := data["batch_id"].(string)
	require.True(t, ok)

	rec = f.do(t, http.MethodGet, "/v1/queue/stats", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(1), stats["pending"])

	rec = f.do(t, http.MethodGet, "/v1/queue/items?status=pending&limit=10", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)

	rec = f.do(t, http.MethodGet, "/v1/queue/batches/"+batchID, authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode(t, rec)["data"].(map[string]any)
	assert.Equal(t, float64(1), batch["total_items"])
	assert.Equal(t, false, batch["finished"])
}

func TestEnqueueWithNoValidItemsListsRejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/queue/items", authorization.RoleOperator, map[string]any{
		"source": "bulk-add",
		"items":  []any{map[string]any{"model": "a"}, "not an object"},
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decode(t, rec)["error"].(map[string]any)
	assert.Equal(t, "validation_error", payload["type"])
	errs := payload["errors"].([]any)
	require.Len(t, errs, 2)
	assert.Equal(t, float64(1), errs[1].(map[string]any)["index"])
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/queue/items", authorization.RoleOperator, map[string]any{"items": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/queue/items?status=archived", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorType(t, rec))

	rec = f.do(t, http.MethodGet, "/v1/queue/items?limit=abc", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDestructiveQueueOperationsNeedAdmin(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/queue/clear-completed", authorization.RoleOperator, map[string]any{"olderThanDays": 1})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/queue/clear-completed", authorization.RoleAdmin, map[string]any{"olderThanDays": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(0), decode(t, rec)["data"].(map[string]any)["cleared"])

	rec = f.do(t, http.MethodPost, "/v1/queue/clear-completed", authorization.RoleAdmin, map[string]any{"olderThanDays": -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/queue/retry-failed", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDeleteQueueItem(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/queue/items", authorization.RoleOperator, map[string]any{
		"source": "bulk-add",
		"items":  []any{map[string]any{"imei": "111"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var item queuedomain.QueueItem
	require.NoError(t, f.db.First(&item).Error)

	rec = f.do(t, http.MethodDelete, "/v1/queue/items/"+item.ID.String(), authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/queue/items/"+item.ID.String(), authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/queue/items/"+item.ID.String(), authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/archive/111", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["data"], 1)

	rec = f.do(t, http.MethodDelete, "/v1/queue/items/not-a-number", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestArchiveLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := f.clk.Now()
	require.NoError(t, f.devices.UpsertDevice(ctx, f.db, &devicedomain.DeviceRecord{
		IMEI: "222", Model: "iPhone 13", WorkingStatus: devicedomain.WorkingYes,
		LastQueueItemID: 1, CreatedAt: now, UpdatedAt: now,
	}))

	rec := f.do(t, http.MethodPost, "/v1/archive/222", authorization.RoleOperator, map[string]any{"reason": "sold"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/archive/222", authorization.RoleAdmin, map[string]any{"reason": "sold"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodPost, "/v1/archive/222", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/archive/stats", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/archive/222/restore", authorization.RoleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(1), decode(t, rec)["data"].(map[string]any)["restored"])

	rec = f.do(t, http.MethodPost, "/v1/archive/222/restore", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodDelete, "/v1/archive/222", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/archive/999", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReporting(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/v1/datalog/stats", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), decode(t, rec)["data"].(map[string]any)["total"])

	rec = f.do(t, http.MethodGet, "/v1/metrics/processing", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/devices/333/history", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/audit-logs", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDispatcherControl(t *testing.T) {
	f := newFixture(t)
	f.dispatcher.On("StopProcessing").Return(nil).Once()
	f.dispatcher.On("StopProcessing").Return(dispatcher.ErrNotRunning).Once()

	rec := f.do(t, http.MethodGet, "/v1/dispatcher", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["data"].(map[string]any)["running"])

	rec = f.do(t, http.MethodPost, "/v1/dispatcher/stop", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/dispatcher/stop", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/dispatcher/stop", authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	f.dispatcher.AssertExpectations(t)
}

func TestStationSync(t *testing.T) {
	f := newFixture(t)
	date := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	f.syncer.On("SyncStation", "ST-9", date).Return(stationsync.Result{Station: "ST-9", Date: "2025-04-30", Fetched: 2}, nil)
	f.syncer.On("SyncStation", "ST-0", mock.Anything).Return(stationsync.Result{}, diagnostics.ErrNotConfigured)

	rec := f.do(t, http.MethodPost, "/v1/stations/ST-9/sync", authorization.RoleOperator, map[string]any{"date": "2025-04-30"})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), decode(t, rec)["data"].(map[string]any)["fetched"])

	rec = f.do(t, http.MethodPost, "/v1/stations/ST-9/sync", authorization.RoleOperator, map[string]any{"date": "30/04/2025"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/stations/ST-0/sync", authorization.RoleOperator, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCatalogImportNeedsAdmin(t *testing.T) {
	f := newFixture(t)
	body := map[string]any{"items": []any{map[string]any{"sku_code": "IPHONE13-128GB-BLUE"}}}

	rec := f.do(t, http.MethodPost, "/v1/catalog/import", authorization.RoleOperator, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/catalog/import", authorization.RoleAdmin, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/v1/catalog/keys", authorization.RoleOperator, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"IPHONE13-128GB-BLUE"}, decode(t, rec)["data"])
}
