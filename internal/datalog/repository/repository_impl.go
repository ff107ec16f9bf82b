package repository

import (
	"context"
	"time"

	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() datalogdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *datalogdomain.Record) error {
	return db.WithContext(ctx).Create(record).Error
}

func (r *repo) Stats(ctx context.Context, db *gorm.DB) (datalogdomain.Stats, error) {
	stats := datalogdomain.Stats{
		ByStatus: map[string]int64{},
		BySource: map[string]int64{},
	}

	var byStatus []struct {
		Status string
		Count  int64
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT status, COUNT(1) AS count FROM data_logs GROUP BY status`,
	).Scan(&byStatus).Error; err != nil {
		return datalogdomain.Stats{}, err
	}
	for _, row := range byStatus {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}

	var bySource []struct {
		Source string
		Count  int64
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT source, COUNT(1) AS count FROM data_logs GROUP BY source`,
	).Scan(&bySource).Error; err != nil {
		return datalogdomain.Stats{}, err
	}
	for _, row := range bySource {
		stats.BySource[row.Source] = row.Count
	}

	var avg struct {
		Avg *float64
	}
	if err := db.WithContext(ctx).Raw(
		`SELECT AVG(processing_time_ms) AS avg FROM data_logs`,
	).Scan(&avg).Error; err != nil {
		return datalogdomain.Stats{}, err
	}
	if avg.Avg != nil {
		stats.AvgProcessingMs = *avg.Avg
	}
	return stats, nil
}

func (r *repo) WindowSince(ctx context.Context, db *gorm.DB, since time.Time) (datalogdomain.Window, error) {
	var row struct {
		Completed int64
		Failed    int64
		Avg       *float64
		Max       *int64
	}
	err := db.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			AVG(processing_time_ms) AS avg,
			MAX(processing_time_ms) AS max
		 FROM data_logs
		 WHERE finished_at >= ?`,
		since,
	).Scan(&row).Error
	if err != nil {
		return datalogdomain.Window{}, err
	}

	window := datalogdomain.Window{Completed: row.Completed, Failed: row.Failed}
	if row.Avg != nil {
		window.AvgProcessingMs = *row.Avg
	}
	if row.Max != nil {
		window.MaxProcessingMs = *row.Max
	}
	return window, nil
}

func (r *repo) ListByIMEI(ctx context.Context, db *gorm.DB, imei string, limit int) ([]datalogdomain.Record, error) {
	stmt := db.WithContext(ctx).
		Where("imei = ?", imei).
		Order("finished_at DESC, id DESC")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	var records []datalogdomain.Record
	if err := stmt.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}
