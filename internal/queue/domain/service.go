package domain

import (
	"context"
	"encoding/json"

	"github.com/bwmarrin/snowflake"
)

const (
	SourceBulkAdd         = "bulk-add"
	SourceDiagnosticsSync = "diagnostics-sync"

	MaxSubmissionItems = 10000
	DefaultListLimit   = 50
	MaxListLimit       = 500
)

type EnqueueRequest struct {
	Items      []json.RawMessage `json:"items"`
	Source     string            `json:"source"`
	Priority   *int              `json:"priority,omitempty"`
	MaxRetries *int              `json:"max_retries,omitempty"`
	BatchName  string            `json:"batch_name,omitempty"`
}

// Rejection explains why one submitted record was not enqueued.
type Rejection struct {
	Index  int    `json:"index"`
	Field  string `json:"field,omitempty"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

type EnqueueResult struct {
	BatchID       snowflake.ID `json:"batch_id"`
	BatchName     string       `json:"batch_name"`
	AcceptedCount int          `json:"accepted_count"`
	RejectedCount int          `json:"rejected_count"`
	Rejected      []Rejection  `json:"rejected,omitempty"`
}

type BatchProgress struct {
	Batch
	Finished        bool    `json:"finished"`
	PercentComplete float64 `json:"percent_complete"`
}

type Service interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (EnqueueResult, error)
	Stats(ctx context.Context) (Stats, error)
	ListItems(ctx context.Context, filter ListFilter) ([]QueueItem, error)
	GetItem(ctx context.Context, id snowflake.ID) (*QueueItem, error)
	RetryFailed(ctx context.Context) (int64, error)
	RetryItem(ctx context.Context, id snowflake.ID) error
	ClearCompleted(ctx context.Context, olderThanDays int) (int64, error)
	DeleteItem(ctx context.Context, id snowflake.ID) error
	GetBatch(ctx context.Context, id snowflake.ID) (BatchProgress, error)
}
