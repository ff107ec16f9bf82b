package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type BatchStatus string

const (
	BatchActive BatchStatus = "active"
	BatchClosed BatchStatus = "closed"
)

// QueueItem is one unit of ingestion work. RetryCount never exceeds
// MaxRetries; the failure that reaches MaxRetries leaves the item failed.
type QueueItem struct {
	ID           snowflake.ID   `gorm:"primaryKey" json:"id"`
	IMEI         string         `gorm:"type:varchar(64);not null;index" json:"imei"`
	RawPayload   datatypes.JSON `gorm:"not null" json:"raw_payload"`
	Status       Status         `gorm:"type:varchar(16);not null;index:ix_queue_items_claim,priority:1" json:"status"`
	Priority     int            `gorm:"not null;index:ix_queue_items_claim,priority:2" json:"priority"`
	RetryCount   int            `gorm:"not null" json:"retry_count"`
	MaxRetries   int            `gorm:"not null" json:"max_retries"`
	Source       string         `gorm:"type:varchar(64);not null" json:"source"`
	BatchID      *snowflake.ID  `gorm:"index" json:"batch_id,omitempty"`
	ErrorMessage *string        `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"not null;index:ix_queue_items_claim,priority:3" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
	StartedAt    *time.Time     `json:"started_at,omitempty"`
	ProcessedAt  *time.Time     `json:"processed_at,omitempty"`
}

func (QueueItem) TableName() string { return "queue_items" }

// Batch groups the items of one bulk submission.
type Batch struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	Name           string       `gorm:"type:varchar(160);not null" json:"name"`
	Source         string       `gorm:"type:varchar(64);not null" json:"source"`
	TotalItems     int          `gorm:"not null" json:"total_items"`
	ProcessedItems int          `gorm:"not null" json:"processed_items"`
	FailedItems    int          `gorm:"not null" json:"failed_items"`
	Status         BatchStatus  `gorm:"type:varchar(16);not null;index" json:"status"`
	CreatedAt      time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updated_at"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
}

func (Batch) TableName() string { return "queue_batches" }

// Finished is derived from the counters rather than stored.
func (b Batch) Finished() bool {
	return b.ProcessedItems+b.FailedItems == b.TotalItems
}

// Stats counts queue items by status.
type Stats struct {
	Total      int64 `json:"total"`
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (s Stats) ByStatus() map[string]int64 {
	return map[string]int64{
		string(StatusPending):    s.Pending,
		string(StatusProcessing): s.Processing,
		string(StatusCompleted):  s.Completed,
		string(StatusFailed):     s.Failed,
	}
}

// FailOutcome reports what a failure did to an item.
type FailOutcome struct {
	Applied    bool
	Status     Status
	RetryCount int
	MaxRetries int
	Terminal   bool
	Item       *QueueItem
}

type ListFilter struct {
	Status  Status
	Source  string
	BatchID *snowflake.ID
	Limit   int
	Offset  int
}
