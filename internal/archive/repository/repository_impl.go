package repository

import (
	"context"
	"time"

	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() archivedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, records []archivedomain.ArchivedRecord) error {
	if len(records) == 0 {
		return nil
	}
	return db.WithContext(ctx).CreateInBatches(records, 200).Error
}

func (r *repo) ListByIMEI(ctx context.Context, db *gorm.DB, imei string, tables []string) ([]archivedomain.ArchivedRecord, error) {
	var records []archivedomain.ArchivedRecord
	err := db.WithContext(ctx).
		Scopes(forIMEI(imei, tables)).
		Order("archived_at ASC, id ASC").
		Find(&records).Error
	return records, err
}

func (r *repo) CountByIMEI(ctx context.Context, db *gorm.DB, imei string, tables []string) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&archivedomain.ArchivedRecord{}).
		Scopes(forIMEI(imei, tables)).
		Count(&count).Error
	return count, err
}

func (r *repo) DeleteByIMEI(ctx context.Context, db *gorm.DB, imei string, tables []string) (int64, error) {
	res := db.WithContext(ctx).Scopes(forIMEI(imei, tables)).Delete(&archivedomain.ArchivedRecord{})
	return res.RowsAffected, res.Error
}

func forIMEI(imei string, tables []string) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		db = db.Where("imei = ?", imei)
		if len(tables) > 0 {
			db = db.Where("original_table IN ?", tables)
		}
		return db
	}
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (archivedomain.Stats, error) {
	stats := archivedomain.Stats{
		ByTable:  map[string]int64{},
		ByReason: map[string]int64{},
	}

	var byTable []struct {
		OriginalTable string
		Count         int64
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT original_table, COUNT(1) AS count FROM archived_records GROUP BY original_table`,
	).Scan(&byTable).Error; err != nil {
		return stats, err
	}
	for _, row := range byTable {
		stats.ByTable[row.OriginalTable] = row.Count
		stats.Total += row.Count
	}

	var byReason []struct {
		ArchiveReason string
		Count         int64
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT archive_reason, COUNT(1) AS count FROM archived_records GROUP BY archive_reason`,
	).Scan(&byReason).Error; err != nil {
		return stats, err
	}
	for _, row := range byReason {
		stats.ByReason[row.ArchiveReason] = row.Count
	}

	if stats.Total == 0 {
		return stats, nil
	}

	var oldest, newest archivedomain.ArchivedRecord
	if err := db.WithContext(ctx).Order("archived_at ASC, id ASC").Limit(1).Find(&oldest).Error; err != nil {
		return stats, err
	}
	if err := db.WithContext(ctx).Order("archived_at DESC, id DESC").Limit(1).Find(&newest).Error; err != nil {
		return stats, err
	}
	stats.Oldest = timePtr(oldest.ArchivedAt)
	stats.Newest = timePtr(newest.ArchivedAt)
	return stats, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
