package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/stockline/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	ActionQueueRetryFailed    = "queue.retry_failed"
	ActionQueueRetryItem      = "queue.retry_item"
	ActionQueueClearCompleted = "queue.clear_completed"
	ActionQueueDeleteItem     = "queue.delete_item"
	ActionArchiveCreate       = "archive.create"
	ActionArchiveRestore      = "archive.restore"
	ActionArchivePurge        = "archive.permanent_delete"
	ActionStationSync         = "station.sync"
	ActionCatalogImport       = "catalog.import"
	ActionDispatcherStop      = "dispatcher.stop"
	ActionDispatcherStart     = "dispatcher.start"
	ActionAuthorizationDenied = "authorization.denied"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// AuditLog writes an entry on the service's own connection. The actor
	// falls back to the one stored on ctx.
	AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	// AuditLogTx writes an entry inside the caller's transaction.
	AuditLogTx(ctx context.Context, tx *gorm.DB, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
