package authorization

import (
	"context"
	"errors"
)

const (
	RoleOperator = "operator"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

const (
	ObjectQueue      = "queue"
	ObjectArchive    = "archive"
	ObjectDataLog    = "datalog"
	ObjectMetrics    = "metrics"
	ObjectDispatcher = "dispatcher"
	ObjectStation    = "station"
	ObjectCatalog    = "catalog"
	ObjectAuditLog   = "audit_log"
)

const (
	ActionQueueEnqueue = "queue.enqueue"
	ActionQueueView    = "queue.view"
	ActionQueueRetry   = "queue.retry"
	ActionQueueClear   = "queue.clear"
	ActionQueueDelete  = "queue.delete"

	ActionArchiveView    = "archive.view"
	ActionArchiveCreate  = "archive.create"
	ActionArchiveRestore = "archive.restore"
	ActionArchiveDelete  = "archive.delete"

	ActionDataLogView = "datalog.view"
	ActionMetricsView = "metrics.view"

	ActionDispatcherView    = "dispatcher.view"
	ActionDispatcherControl = "dispatcher.control"

	ActionStationSync = "station.sync"

	ActionCatalogView   = "catalog.view"
	ActionCatalogImport = "catalog.import"

	ActionAuditLogView = "audit_log.view"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidRole   = errors.New("invalid_role")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Service decides whether an actor holding role may perform action on object.
type Service interface {
	Authorize(ctx context.Context, role, actorID, object, action string) error
}
