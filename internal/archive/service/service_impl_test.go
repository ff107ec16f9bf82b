package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	"github.com/smallbiznis/stockline/internal/archive/repository"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	auditrepo "github.com/smallbiznis/stockline/internal/audit/repository"
	auditservice "github.com/smallbiznis/stockline/internal/audit/service"
	"github.com/smallbiznis/stockline/internal/clock"
	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
	devicerepo "github.com/smallbiznis/stockline/internal/device/repository"
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

const testIMEI = "356789012345678"

type fixture struct {
	db      *gorm.DB
	svc     archivedomain.Service
	devices devicedomain.Repository
	queue   queuedomain.Repository
	clk     *clock.FakeClock
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t,
		&devicedomain.DeviceRecord{},
		&devicedomain.SkuMatchResult{},
		&devicedomain.InspectionRecord{},
		&devicedomain.InventoryRollup{},
		&queuedomain.QueueItem{},
		&queuedomain.Batch{},
		&archivedomain.ArchivedRecord{},
		&auditdomain.AuditLog{},
	)
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2025, 4, 2, 9, 0, 0, 0, time.UTC))
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Repo: auditrepo.Provide(), Clock: clk,
	})
	f := fixture{db: db, devices: devicerepo.Provide(), queue: queuerepo.Provide(), clk: clk}
	f.svc = New(Params{
		DB:      db,
		Log:     zap.NewNop(),
		GenID:   node,
		Repo:    repository.Provide(),
		Devices: f.devices,
		Audit:   audit,
		Clock:   clk,
	})
	return f
}

func (f fixture) seedDevice(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	now := f.clk.Now()
	battery := 91
	matched := "APL-IP14-128-BLK"
	require.NoError(t, f.devices.UpsertDevice(ctx, f.db, &devicedomain.DeviceRecord{
		IMEI: testIMEI, Brand: "Apple", Model: "iPhone 14", Storage: "128GB", Color: "Black",
		WorkingStatus: devicedomain.WorkingYes, BatteryHealth: &battery, Category: sku.CategoryPhone,
		Source: "bulk-add", LastQueueItemID: 44, CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, f.devices.UpsertMatch(ctx, f.db, &devicedomain.SkuMatchResult{
		IMEI: testIMEI, OriginalSku: "APPLE-IPHONE14-128GB-BLACK", MatchedSku: &matched,
		MatchScore: 0.93, MatchMethod: sku.MethodExactModel, MatchStatus: sku.StatusMatched,
		CreatedAt: now, UpdatedAt: now,
	}))
	for i, qid := range []int64{44, 45} {
		require.NoError(t, f.devices.UpsertInspection(ctx, f.db, &devicedomain.InspectionRecord{
			ID: snowflake.ID(100 + i), IMEI: testIMEI, QueueItemID: snowflake.ID(qid),
			WorkingStatus: devicedomain.WorkingYes, Source: "bulk-add",
			InspectedAt: now.Add(time.Duration(i) * time.Minute), CreatedAt: now,
		}))
	}
	require.NoError(t, f.devices.RefreshRollup(ctx, f.db, matched, now))
}

func TestArchiveRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDevice(t)

	before, err := f.devices.FindDevice(ctx, f.db, testIMEI)
	require.NoError(t, err)
	beforeMatch, err := f.devices.FindMatch(ctx, f.db, testIMEI)
	require.NoError(t, err)

	n, err := f.svc.Archive(ctx, testIMEI, "damaged")
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	live, err := f.devices.FindDevice(ctx, f.db, testIMEI)
	require.NoError(t, err)
	assert.Nil(t, live)
	rollup, err := f.devices.FindRollup(ctx, f.db, "APL-IP14-128-BLK")
	require.NoError(t, err)
	assert.Nil(t, rollup)

	records, err := f.svc.List(ctx, testIMEI)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, rec := range records {
		assert.Equal(t, "damaged", rec.ArchiveReason)
		assert.Equal(t, "system", rec.ArchivedBy)
	}

	restored, err := f.svc.Restore(ctx, testIMEI)
	require.NoError(t, err)
	assert.Equal(t, 4, restored)

	after, err := f.devices.FindDevice(ctx, f.db, testIMEI)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, before.Model, after.Model)
	assert.Equal(t, before.WorkingStatus, after.WorkingStatus)
	assert.Equal(t, *before.BatteryHealth, *after.BatteryHealth)
	assert.True(t, before.CreatedAt.Equal(after.CreatedAt))

	afterMatch, err := f.devices.FindMatch(ctx, f.db, testIMEI)
	require.NoError(t, err)
	require.NotNil(t, afterMatch)
	assert.Equal(t, beforeMatch.InventoryKey(), afterMatch.InventoryKey())
	assert.InDelta(t, beforeMatch.MatchScore, afterMatch.MatchScore, 1e-9)

	inspections, err := f.devices.ListInspections(ctx, f.db, testIMEI)
	require.NoError(t, err)
	assert.Len(t, inspections, 2)

	rollup, err = f.devices.FindRollup(ctx, f.db, "APL-IP14-128-BLK")
	require.NoError(t, err)
	require.NotNil(t, rollup)
	assert.Equal(t, int64(1), rollup.TotalUnits)

	left, err := f.svc.List(ctx, testIMEI)
	require.NoError(t, err)
	assert.Empty(t, left)

	var audits int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Count(&audits).Error)
	assert.Equal(t, int64(2), audits)
}

func TestArchiveErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Archive(ctx, "  ", "x")
	assert.ErrorIs(t, err, archivedomain.ErrInvalidIMEI)

	_, err = f.svc.Archive(ctx, testIMEI, "x")
	assert.ErrorIs(t, err, archivedomain.ErrNothingToArchive)

	f.seedDevice(t)
	_, err = f.svc.Archive(ctx, testIMEI, "x")
	require.NoError(t, err)

	f.seedDevice(t)
	_, err = f.svc.Archive(ctx, testIMEI, "again")
	assert.ErrorIs(t, err, archivedomain.ErrAlreadyArchived)

	_, err = f.svc.Restore(ctx, testIMEI)
	assert.ErrorIs(t, err, archivedomain.ErrRestoreConflict)
	records, err := f.svc.List(ctx, testIMEI)
	require.NoError(t, err)
	assert.Len(t, records, 4, "a failed restore keeps the snapshots")

	_, err = f.svc.Restore(ctx, "000000000000000")
	assert.ErrorIs(t, err, archivedomain.ErrArchiveNotFound)
}

func TestPermanentlyDeleteLeavesLiveRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDevice(t)

	_, err := f.svc.Archive(ctx, testIMEI, "dup")
	require.NoError(t, err)
	f.seedDevice(t)

	n, err := f.svc.PermanentlyDelete(ctx, testIMEI)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	live, err := f.devices.FindDevice(ctx, f.db, testIMEI)
	require.NoError(t, err)
	assert.NotNil(t, live)

	_, err = f.svc.PermanentlyDelete(ctx, testIMEI)
	assert.ErrorIs(t, err, archivedomain.ErrArchiveNotFound)
}

func (f fixture) archiveQueueItem(t *testing.T, status queuedomain.Status, reason string) queuedomain.QueueItem {
	t.Helper()
	now := f.clk.Now()
	item := queuedomain.QueueItem{
		ID: 901, IMEI: testIMEI, RawPayload: datatypes.JSON(`{"imei":"356789012345678"}`),
		Status: status, MaxRetries: 3, Source: "bulk-add", CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, f.db.Create(&item).Error)
	err := f.db.Transaction(func(tx *gorm.DB) error {
		n, err := f.svc.ArchiveQueueItems(context.Background(), tx, []queuedomain.QueueItem{item}, reason, "")
		if err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return tx.Delete(&queuedomain.QueueItem{}, "id = ?", item.ID).Error
	})
	require.NoError(t, err)
	return item
}

func TestRestoreLeavesCleanupSnapshotsArchived(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDevice(t)
	item := f.archiveQueueItem(t, queuedomain.StatusCompleted, "clear_completed")

	archived, err := f.svc.Archive(ctx, testIMEI, "damaged")
	require.NoError(t, err)
	assert.Equal(t, 4, archived)

	restored, err := f.svc.Restore(ctx, testIMEI)
	require.NoError(t, err)
	assert.Equal(t, 4, restored)

	live, err := f.queue.FindByID(ctx, f.db, item.ID)
	require.NoError(t, err)
	assert.Nil(t, live, "cleanup removed the item before the archive")

	device, err := f.devices.FindDevice(ctx, f.db, testIMEI)
	require.NoError(t, err)
	assert.NotNil(t, device)

	left, err := f.svc.List(ctx, testIMEI)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, archivedomain.TableQueueItems, left[0].OriginalTable)
	assert.Equal(t, "clear_completed", left[0].ArchiveReason)

	_, err = f.svc.Restore(ctx, testIMEI)
	assert.ErrorIs(t, err, archivedomain.ErrArchiveNotFound)
}

func TestPermanentlyDeleteKeepsQueueSnapshots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDevice(t)
	f.archiveQueueItem(t, queuedomain.StatusPending, "manual_delete")

	_, err := f.svc.Archive(ctx, testIMEI, "damaged")
	require.NoError(t, err)

	n, err := f.svc.PermanentlyDelete(ctx, testIMEI)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	left, err := f.svc.List(ctx, testIMEI)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, archivedomain.TableQueueItems, left[0].OriginalTable)

	_, err = f.svc.PermanentlyDelete(ctx, testIMEI)
	assert.ErrorIs(t, err, archivedomain.ErrArchiveNotFound)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedDevice(t)
	_, err := f.svc.Archive(ctx, testIMEI, "damaged")
	require.NoError(t, err)

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.Total)
	assert.Equal(t, int64(2), stats.ByTable[archivedomain.TableInspections])
	assert.Equal(t, int64(4), stats.ByReason["damaged"])
}
