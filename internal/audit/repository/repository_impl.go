package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/stockline/internal/audit/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert appends an entry. Audit rows are never updated, so the caller's
// transaction decides whether the entry survives.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]domain.AuditLog, error) {
	logs := make([]domain.AuditLog, 0, max(filter.Limit, 0)+1)
	stmt := db.WithContext(ctx).
		Scopes(matching(filter), after(filter.Cursor)).
		Order("created_at DESC").Order("id DESC")
	if filter.Limit > 0 {
		stmt = stmt.Limit(filter.Limit + 1)
	}
	if err := stmt.Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

func matching(filter domain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		for column, value := range map[string]string{
			"action":      filter.Action,
			"target_type": filter.TargetType,
			"target_id":   filter.TargetID,
			"actor_type":  filter.ActorType,
		} {
			if value = strings.TrimSpace(value); value != "" {
				db = db.Where(column+" = ?", value)
			}
		}
		if filter.StartAt != nil {
			db = db.Where("created_at >= ?", filter.StartAt.UTC())
		}
		if filter.EndAt != nil {
			db = db.Where("created_at <= ?", filter.EndAt.UTC())
		}
		return db
	}
}

// after continues a (created_at, id) descending walk past cursor.
func after(cursor *domain.AuditCursor) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if cursor == nil {
			return db
		}
		at := cursor.CreatedAt.UTC()
		return db.Where("created_at < ? OR (created_at = ? AND id < ?)", at, at, cursor.ID)
	}
}
