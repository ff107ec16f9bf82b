package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertBatch(ctx context.Context, db *gorm.DB, batch *Batch) error
	InsertItems(ctx context.Context, db *gorm.DB, items []*QueueItem) error

	// ClaimNext moves the next pending item (priority, then age) to
	// processing. It returns nil when nothing is claimable.
	ClaimNext(ctx context.Context, db *gorm.DB, now time.Time) (*QueueItem, error)
	// Claim moves one pending item to processing or returns ErrNotClaimable.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (*QueueItem, error)
	// Complete marks a processing item completed and counts it on its batch.
	// It reports false when the item was no longer processing.
	Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error)
	// Fail records a failed attempt. permanent skips the remaining retries.
	Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, permanent bool, now time.Time) (FailOutcome, error)
	ResetToPending(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
	ResetAllFailed(ctx context.Context, db *gorm.DB, now time.Time) (int64, error)

	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*QueueItem, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]QueueItem, error)
	Stats(ctx context.Context, db *gorm.DB) (Stats, error)
	ListCompletedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]QueueItem, error)
	ListStaleProcessing(ctx context.Context, db *gorm.DB, startedBefore time.Time, limit int) ([]QueueItem, error)
	DeleteByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (int64, error)
	// ReleasePending removes an unprocessed item from its batch total.
	ReleasePending(ctx context.Context, db *gorm.DB, batchID snowflake.ID, now time.Time) error

	FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Batch, error)
}

// Archiver snapshots queue rows before they are deleted.
type Archiver interface {
	ArchiveQueueItems(ctx context.Context, tx *gorm.DB, items []QueueItem, reason, archivedBy string) (int, error)
}
