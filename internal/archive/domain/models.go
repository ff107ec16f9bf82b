package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TableDevices     = "devices"
	TableMatches     = "sku_match_results"
	TableInspections = "device_inspections"
	TableQueueItems  = "queue_items"
)

// DeviceTables are the live tables Archive snapshots for an IMEI, in the
// order rows are restored.
var DeviceTables = []string{TableDevices, TableMatches, TableInspections}

var (
	ErrInvalidIMEI      = errors.New("invalid_imei")
	ErrNothingToArchive = errors.New("nothing_to_archive")
	ErrAlreadyArchived  = errors.New("already_archived")
	ErrArchiveNotFound  = errors.New("archive_not_found")
	ErrRestoreConflict  = errors.New("restore_conflict")
	ErrUnknownTable     = errors.New("unknown_archived_table")
)

// ArchivedRecord is an immutable snapshot of one live row taken before it
// was deleted.
type ArchivedRecord struct {
	ID            snowflake.ID   `gorm:"primaryKey" json:"id"`
	OriginalTable string         `gorm:"type:varchar(64);not null;index" json:"original_table"`
	OriginalID    string         `gorm:"type:varchar(128);not null" json:"original_id"`
	IMEI          string         `gorm:"type:varchar(64);not null;index" json:"imei"`
	ArchivedData  datatypes.JSON `gorm:"not null" json:"archived_data"`
	ArchivedAt    time.Time      `gorm:"not null;index" json:"archived_at"`
	ArchivedBy    string         `gorm:"type:varchar(128);not null" json:"archived_by"`
	ArchiveReason string         `gorm:"type:text;not null" json:"archive_reason"`
}

func (ArchivedRecord) TableName() string { return "archived_records" }

type Stats struct {
	Total    int64            `json:"total"`
	ByTable  map[string]int64 `json:"by_table"`
	ByReason map[string]int64 `json:"by_reason"`
	Oldest   *time.Time       `json:"oldest,omitempty"`
	Newest   *time.Time       `json:"newest,omitempty"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, records []ArchivedRecord) error
	// ListByIMEI, CountByIMEI and DeleteByIMEI cover every table when tables is empty.
	ListByIMEI(ctx context.Context, db *gorm.DB, imei string, tables []string) ([]ArchivedRecord, error)
	CountByIMEI(ctx context.Context, db *gorm.DB, imei string, tables []string) (int64, error)
	DeleteByIMEI(ctx context.Context, db *gorm.DB, imei string, tables []string) (int64, error)
	Stats(ctx context.Context, db *gorm.DB) (Stats, error)
}

type Service interface {
	queuedomain.Archiver

	// Archive snapshots and removes every live row of imei in one transaction.
	Archive(ctx context.Context, imei, reason string) (int, error)
	// Restore re-inserts the device snapshots Archive took for imei and drops
	// them. Queue item snapshots from cleanup and deletes stay archived.
	Restore(ctx context.Context, imei string) (int, error)
	// PermanentlyDelete drops the device snapshots of imei; live rows and
	// queue item snapshots are never touched.
	PermanentlyDelete(ctx context.Context, imei string) (int64, error)
	List(ctx context.Context, imei string) ([]ArchivedRecord, error)
	Stats(ctx context.Context) (Stats, error)
}
