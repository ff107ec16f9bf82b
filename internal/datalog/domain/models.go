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

var ErrInvalidRecord = errors.New("invalid_datalog_record")

// Record is written once when a queue item reaches a terminal state and is
// never updated afterwards.
type Record struct {
	ID               snowflake.ID       `gorm:"primaryKey" json:"id"`
	QueueItemID      snowflake.ID       `gorm:"not null;index" json:"queue_item_id"`
	IMEI             string             `gorm:"type:varchar(64);not null;index" json:"imei"`
	Source           string             `gorm:"type:varchar(64);not null;index" json:"source"`
	RawPayload       datatypes.JSON     `gorm:"not null" json:"raw_payload"`
	ProcessedData    datatypes.JSON     `json:"processed_data,omitempty"`
	Status           queuedomain.Status `gorm:"type:varchar(16);not null;index" json:"status"`
	ErrorMessage     *string            `gorm:"type:text" json:"error_message,omitempty"`
	ProcessingTimeMs int64              `gorm:"not null" json:"processing_time_ms"`
	StartedAt        time.Time          `gorm:"not null" json:"started_at"`
	FinishedAt       time.Time          `gorm:"not null;index" json:"finished_at"`
	CreatedAt        time.Time          `gorm:"not null" json:"created_at"`
}

func (Record) TableName() string { return "data_logs" }

type Stats struct {
	Total           int64            `json:"total"`
	ByStatus        map[string]int64 `json:"by_status"`
	BySource        map[string]int64 `json:"by_source"`
	AvgProcessingMs float64          `json:"avg_processing_ms"`
}

// Window aggregates the records finished at or after a point in time.
type Window struct {
	Completed       int64   `json:"completed"`
	Failed          int64   `json:"failed"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
	MaxProcessingMs int64   `json:"max_processing_ms"`
}

type ProcessingMetrics struct {
	Queue               queuedomain.Stats `json:"queue"`
	Last24h             Window            `json:"last_24h"`
	SuccessRate         float64           `json:"success_rate"`
	AvgProcessingMs     float64           `json:"avg_processing_ms"`
	MaxProcessingMs     int64             `json:"max_processing_ms"`
	ThroughputPerMinute float64           `json:"throughput_per_minute"`
	GeneratedAt         time.Time         `json:"generated_at"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	Stats(ctx context.Context, db *gorm.DB) (Stats, error)
	WindowSince(ctx context.Context, db *gorm.DB, since time.Time) (Window, error)
	ListByIMEI(ctx context.Context, db *gorm.DB, imei string, limit int) ([]Record, error)
}

type Service interface {
	// Record appends an entry inside the caller's transaction.
	Record(ctx context.Context, tx *gorm.DB, record *Record) error
	Stats(ctx context.Context) (Stats, error)
	ProcessingMetrics(ctx context.Context) (ProcessingMetrics, error)
	History(ctx context.Context, imei string, limit int) ([]Record, error)
}
