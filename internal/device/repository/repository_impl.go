package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() devicedomain.Repository {
	return &repo{}
}

var deviceUpdateColumns = []string{
	"brand", "model", "model_number", "storage", "color", "carrier",
	"working_status", "battery_health", "condition_grade", "notes", "category",
	"source", "tested_at", "reported_at", "last_queue_item_id", "updated_at",
}

func (r *repo) UpsertDevice(ctx context.Context, db *gorm.DB, device *devicedomain.DeviceRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "imei"}},
		DoUpdates: clause.AssignmentColumns(deviceUpdateColumns),
	}).Create(device).Error
}

func (r *repo) FindDevice(ctx context.Context, db *gorm.DB, imei string) (*devicedomain.DeviceRecord, error) {
	var device devicedomain.DeviceRecord
	err := db.WithContext(ctx).Where("imei = ?", imei).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

func (r *repo) DeleteDevice(ctx context.Context, db *gorm.DB, imei string) (int64, error) {
	res := db.WithContext(ctx).Where("imei = ?", imei).Delete(&devicedomain.DeviceRecord{})
	return res.RowsAffected, res.Error
}

func (r *repo) UpsertMatch(ctx context.Context, db *gorm.DB, match *devicedomain.SkuMatchResult) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "imei"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"original_sku", "matched_sku", "match_score", "match_method", "match_status", "updated_at",
		}),
	}).Create(match).Error
}

func (r *repo) FindMatch(ctx context.Context, db *gorm.DB, imei string) (*devicedomain.SkuMatchResult, error) {
	var match devicedomain.SkuMatchResult
	err := db.WithContext(ctx).Where("imei = ?", imei).First(&match).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &match, nil
}

func (r *repo) DeleteMatch(ctx context.Context, db *gorm.DB, imei string) (int64, error) {
	res := db.WithContext(ctx).Where("imei = ?", imei).Delete(&devicedomain.SkuMatchResult{})
	return res.RowsAffected, res.Error
}

func (r *repo) UpsertInspection(ctx context.Context, db *gorm.DB, inspection *devicedomain.InspectionRecord) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "imei"}, {Name: "queue_item_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"working_status", "battery_health", "condition_grade", "notes", "source", "inspected_at",
		}),
	}).Create(inspection).Error
}

func (r *repo) ListInspections(ctx context.Context, db *gorm.DB, imei string) ([]devicedomain.InspectionRecord, error) {
	var rows []devicedomain.InspectionRecord
	err := db.WithContext(ctx).
		Where("imei = ?", imei).
		Order("inspected_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) DeleteInspections(ctx context.Context, db *gorm.DB, imei string) (int64, error) {
	res := db.WithContext(ctx).Where("imei = ?", imei).Delete(&devicedomain.InspectionRecord{})
	return res.RowsAffected, res.Error
}

// RefreshRollup recounts the units filed under skuKey. The row is removed
// when no unit references the key any more.
func (r *repo) RefreshRollup(ctx context.Context, db *gorm.DB, skuKey string, now time.Time) error {
	skuKey = strings.TrimSpace(skuKey)
	if skuKey == "" {
		return nil
	}

	var counts struct {
		TotalUnits   int64
		WorkingUnits int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1) AS total_units,
		        COALESCE(SUM(CASE WHEN d.working_status = ? THEN 1 ELSE 0 END), 0) AS working_units
		 FROM sku_match_results m
		 JOIN devices d ON d.imei = m.imei
		 WHERE COALESCE(NULLIF(m.matched_sku, ''), m.original_sku) = ?`,
		devicedomain.WorkingYes,
		skuKey,
	).Scan(&counts).Error
	if err != nil {
		return err
	}

	if counts.TotalUnits == 0 {
		return db.WithContext(ctx).Where("sku_key = ?", skuKey).Delete(&devicedomain.InventoryRollup{}).Error
	}

	rollup := devicedomain.InventoryRollup{
		SkuKey:       skuKey,
		TotalUnits:   counts.TotalUnits,
		WorkingUnits: counts.WorkingUnits,
		UpdatedAt:    now,
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sku_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_units", "working_units", "updated_at"}),
	}).Create(&rollup).Error
}

func (r *repo) FindRollup(ctx context.Context, db *gorm.DB, skuKey string) (*devicedomain.InventoryRollup, error) {
	var rollup devicedomain.InventoryRollup
	err := db.WithContext(ctx).Where("sku_key = ?", skuKey).First(&rollup).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rollup, nil
}
