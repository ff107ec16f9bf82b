package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// Repository persists device state. Every method runs on the handle it is
// given so callers can compose them inside one transaction.
type Repository interface {
	UpsertDevice(ctx context.Context, db *gorm.DB, device *DeviceRecord) error
	FindDevice(ctx context.Context, db *gorm.DB, imei string) (*DeviceRecord, error)
	DeleteDevice(ctx context.Context, db *gorm.DB, imei string) (int64, error)

	UpsertMatch(ctx context.Context, db *gorm.DB, match *SkuMatchResult) error
	FindMatch(ctx context.Context, db *gorm.DB, imei string) (*SkuMatchResult, error)
	DeleteMatch(ctx context.Context, db *gorm.DB, imei string) (int64, error)

	UpsertInspection(ctx context.Context, db *gorm.DB, inspection *InspectionRecord) error
	ListInspections(ctx context.Context, db *gorm.DB, imei string) ([]InspectionRecord, error)
	DeleteInspections(ctx context.Context, db *gorm.DB, imei string) (int64, error)

	RefreshRollup(ctx context.Context, db *gorm.DB, skuKey string, now time.Time) error
	FindRollup(ctx context.Context, db *gorm.DB, skuKey string) (*InventoryRollup, error)
}
