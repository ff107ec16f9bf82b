package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	dbpkg "github.com/smallbiznis/stockline/pkg/db"
	"gorm.io/gorm"
)

const (
	maxClaimAttempts = 5
	maxErrorLength   = 2000
)

var errClaimLost = errors.New("claim lost")

type repo struct{}

func Provide() queuedomain.Repository {
	return &repo{}
}

func (r *repo) InsertBatch(ctx context.Context, db *gorm.DB, batch *queuedomain.Batch) error {
	return db.WithContext(ctx).Create(batch).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []*queuedomain.QueueItem) error {
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(items, 500).Error
}

func (r *repo) ClaimNext(ctx context.Context, conn *gorm.DB, now time.Time) (*queuedomain.QueueItem, error) {
	for attempt := 0; attempt < maxClaimAttempts; attempt++ {
		var claimed *queuedomain.QueueItem
		err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			id, err := r.nextPendingID(ctx, tx)
			if err != nil || id == 0 {
				return err
			}
			item, err := r.Claim(ctx, tx, id, now)
			if errors.Is(err, queuedomain.ErrNotClaimable) {
				return errClaimLost
			}
			if err != nil {
				return err
			}
			claimed = item
			return nil
		})
		if errors.Is(err, errClaimLost) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return claimed, nil
	}
	return nil, nil
}

func (r *repo) nextPendingID(ctx context.Context, tx *gorm.DB) (snowflake.ID, error) {
	query := `SELECT id FROM queue_items
		 WHERE status = ?
		 ORDER BY priority ASC, created_at ASC, id ASC
		 LIMIT 1`
	if dbpkg.SupportsSkipLocked(tx) {
		query += ` FOR UPDATE SKIP LOCKED`
	}

	var ids []snowflake.ID
	if err := tx.WithContext(ctx).Raw(query, queuedomain.StatusPending).Scan(&ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	return ids[0], nil
}

// Claim is a single conditional update; exactly one caller can move a given
// row out of pending.
func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (*queuedomain.QueueItem, error) {
	res := db.WithContext(ctx).
		Model(&queuedomain.QueueItem{}).
		Where("id = ? AND status = ?", id, queuedomain.StatusPending).
		Updates(map[string]any{
			"status":     queuedomain.StatusProcessing,
			"started_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, queuedomain.ErrNotClaimable
	}

	item, err := r.FindByID(ctx, db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, queuedomain.ErrNotClaimable
	}
	return item, nil
}

func (r *repo) Complete(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) (bool, error) {
	item, err := r.FindByID(ctx, db, id)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, queuedomain.ErrItemNotFound
	}

	res := db.WithContext(ctx).
		Model(&queuedomain.QueueItem{}).
		Where("id = ? AND status = ?", id, queuedomain.StatusProcessing).
		Updates(map[string]any{
			"status":        queuedomain.StatusCompleted,
			"error_message": nil,
			"processed_at":  now,
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if item.BatchID != nil {
		if err := r.bumpBatch(ctx, db, *item.BatchID, "processed_items", now); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *repo) Fail(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, permanent bool, now time.Time) (queuedomain.FailOutcome, error) {
	item, err := r.FindByID(ctx, db, id)
	if err != nil {
		return queuedomain.FailOutcome{}, err
	}
	if item == nil {
		return queuedomain.FailOutcome{}, queuedomain.ErrItemNotFound
	}
	if item.Status != queuedomain.StatusProcessing {
		return queuedomain.FailOutcome{
			Status:     item.Status,
			RetryCount: item.RetryCount,
			MaxRetries: item.MaxRetries,
			Item:       item,
		}, nil
	}

	retries := item.RetryCount + 1
	terminal := permanent || retries >= item.MaxRetries
	if retries > item.MaxRetries {
		retries = item.MaxRetries
	}
	status := queuedomain.StatusPending
	if terminal {
		status = queuedomain.StatusFailed
	}

	message := truncate(reason, maxErrorLength)
	updates := map[string]any{
		"status":        status,
		"retry_count":   retries,
		"error_message": message,
		"started_at":    nil,
		"updated_at":    now,
	}
	if terminal {
		updates["processed_at"] = now
	}

	res := db.WithContext(ctx).
		Model(&queuedomain.QueueItem{}).
		Where("id = ? AND status = ? AND retry_count = ?", id, queuedomain.StatusProcessing, item.RetryCount).
		Updates(updates)
	if res.Error != nil {
		return queuedomain.FailOutcome{}, res.Error
	}
	if res.RowsAffected == 0 {
		return queuedomain.FailOutcome{
			Status:     item.Status,
			RetryCount: item.RetryCount,
			MaxRetries: item.MaxRetries,
			Item:       item,
		}, nil
	}

	if terminal && item.BatchID != nil {
		if err := r.bumpBatch(ctx, db, *item.BatchID, "failed_items", now); err != nil {
			return queuedomain.FailOutcome{}, err
		}
	}

	item.Status = status
	item.RetryCount = retries
	item.ErrorMessage = &message
	item.UpdatedAt = now
	item.StartedAt = nil
	if terminal {
		item.ProcessedAt = &now
	}
	return queuedomain.FailOutcome{
		Applied:    true,
		Status:     status,
		RetryCount: retries,
		MaxRetries: item.MaxRetries,
		Terminal:   terminal,
		Item:       item,
	}, nil
}

func (r *repo) ResetToPending(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	item, err := r.FindByID(ctx, db, id)
	if err != nil {
		return err
	}
	if item == nil {
		return queuedomain.ErrItemNotFound
	}
	if item.Status != queuedomain.StatusFailed {
		return queuedomain.ErrInvalidStatus
	}

	n, err := r.resetFailed(ctx, db, []snowflake.ID{id}, now)
	if err != nil {
		return err
	}
	if n == 0 {
		return queuedomain.ErrInvalidStatus
	}
	if item.BatchID != nil {
		return r.reopenBatch(ctx, db, *item.BatchID, n, now)
	}
	return nil
}

func (r *repo) ResetAllFailed(ctx context.Context, conn *gorm.DB, now time.Time) (int64, error) {
	var total int64
	err := conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `SELECT id, batch_id FROM queue_items WHERE status = ?`
		if dbpkg.SupportsSkipLocked(tx) {
			query += ` FOR UPDATE`
		}
		var rows []struct {
			ID      snowflake.ID
			BatchID *snowflake.ID
		}
		if err := tx.WithContext(ctx).Raw(query, queuedomain.StatusFailed).Scan(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		ids := make([]snowflake.ID, 0, len(rows))
		perBatch := make(map[snowflake.ID]int64)
		for _, row := range rows {
			ids = append(ids, row.ID)
			if row.BatchID != nil {
				perBatch[*row.BatchID]++
			}
		}

		n, err := r.resetFailed(ctx, tx, ids, now)
		if err != nil {
			return err
		}
		for batchID, count := range perBatch {
			if err := r.reopenBatch(ctx, tx, batchID, count, now); err != nil {
				return err
			}
		}
		total = n
		return nil
	})
	return total, err
}

func (r *repo) resetFailed(ctx context.Context, db *gorm.DB, ids []snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&queuedomain.QueueItem{}).
		Where("id IN ? AND status = ?", ids, queuedomain.StatusFailed).
		Updates(map[string]any{
			"status":        queuedomain.StatusPending,
			"retry_count":   0,
			"error_message": nil,
			"started_at":    nil,
			"processed_at":  nil,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

func (r *repo) bumpBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID, column string, now time.Time) error {
	if err := db.WithContext(ctx).Exec(
		`UPDATE queue_batches SET `+column+` = `+column+` + 1, updated_at = ? WHERE id = ?`,
		now, batchID,
	).Error; err != nil {
		return err
	}
	return r.closeIfFinished(ctx, db, batchID, now)
}

func (r *repo) closeIfFinished(ctx context.Context, db *gorm.DB, batchID snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE queue_batches
		 SET status = ?, closed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ? AND processed_items + failed_items >= total_items`,
		queuedomain.BatchClosed, now, now, batchID, queuedomain.BatchActive,
	).Error
}

func (r *repo) reopenBatch(ctx context.Context, db *gorm.DB, batchID snowflake.ID, count int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE queue_batches
		 SET failed_items = CASE WHEN failed_items >= ? THEN failed_items - ? ELSE 0 END,
		     status = ?, closed_at = NULL, updated_at = ?
		 WHERE id = ?`,
		count, count, queuedomain.BatchActive, now, batchID,
	).Error
}

func (r *repo) ReleasePending(ctx context.Context, db *gorm.DB, batchID snowflake.ID, now time.Time) error {
	if err := db.WithContext(ctx).Exec(
		`UPDATE queue_batches
		 SET total_items = CASE WHEN total_items > 0 THEN total_items - 1 ELSE 0 END, updated_at = ?
		 WHERE id = ?`,
		now, batchID,
	).Error; err != nil {
		return err
	}
	return r.closeIfFinished(ctx, db, batchID, now)
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*queuedomain.QueueItem, error) {
	var item queuedomain.QueueItem
	err := db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter queuedomain.ListFilter) ([]queuedomain.QueueItem, error) {
	stmt := db.WithContext(ctx).Model(&queuedomain.QueueItem{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if source := strings.TrimSpace(filter.Source); source != "" {
		stmt = stmt.Where("source = ?", source)
	}
	if filter.BatchID != nil {
		stmt = stmt.Where("batch_id = ?", *filter.BatchID)
	}
	if filter.Status == queuedomain.StatusPending {
		stmt = stmt.Order("priority ASC, created_at ASC, id ASC")
	} else {
		stmt = stmt.Order("created_at DESC, id DESC")
	}
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		stmt = stmt.Offset(filter.Offset)
	}

	var items []queuedomain.QueueItem
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (queuedomain.Stats, error) {
	var rows []struct {
		Status queuedomain.Status
		Count  int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(1) AS count FROM queue_items GROUP BY status`,
	).Scan(&rows).Error
	if err != nil {
		return queuedomain.Stats{}, err
	}

	var stats queuedomain.Stats
	for _, row := range rows {
		stats.Total += row.Count
		switch row.Status {
		case queuedomain.StatusPending:
			stats.Pending = row.Count
		case queuedomain.StatusProcessing:
			stats.Processing = row.Count
		case queuedomain.StatusCompleted:
			stats.Completed = row.Count
		case queuedomain.StatusFailed:
			stats.Failed = row.Count
		}
	}
	return stats, nil
}

func (r *repo) ListCompletedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]queuedomain.QueueItem, error) {
	var items []queuedomain.QueueItem
	stmt := db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", queuedomain.StatusCompleted, cutoff).
		Order("processed_at ASC, id ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStaleProcessing(ctx context.Context, db *gorm.DB, startedBefore time.Time, limit int) ([]queuedomain.QueueItem, error) {
	var items []queuedomain.QueueItem
	stmt := db.WithContext(ctx).
		Where("status = ? AND started_at < ?", queuedomain.StatusProcessing, startedBefore).
		Order("started_at ASC, id ASC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) DeleteByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := db.WithContext(ctx).Where("id IN ?", ids).Delete(&queuedomain.QueueItem{})
	return res.RowsAffected, res.Error
}

func (r *repo) FindBatch(ctx context.Context, db *gorm.DB, id snowflake.ID) (*queuedomain.Batch, error) {
	var batch queuedomain.Batch
	err := db.WithContext(ctx).Where("id = ?", id).First(&batch).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &batch, nil
}

func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	return s[:max]
}
