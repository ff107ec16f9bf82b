package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, role, actorID, object, action string) error {
	role = strings.ToLower(strings.TrimSpace(role))
	actorID = strings.TrimSpace(actorID)
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName, err := roleFor(role)
	if err != nil {
		s.auditDenied(ctx, role, actorID, object, action)
		return err
	}

	subject := roleName
	if actorID != "" && role != RoleSystem {
		subject = fmt.Sprintf("actor:%s", actorID)
		if err := s.ensureGrouping(subject, roleName); err != nil {
			return err
		}
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, role, actorID, object, action)
		return ErrForbidden
	}
	return nil
}

func roleFor(role string) (string, error) {
	switch role {
	case RoleOperator, RoleAdmin, RoleSystem:
		return "role:" + role, nil
	case "":
		return "", ErrInvalidActor
	default:
		return "", ErrInvalidRole
	}
}

// ensureGrouping keeps exactly one role link per actor; the role header may
// change between requests.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, role, actorID, object, action string) {
	s.log.Info("authorization.denied",
		zap.String("role", role),
		zap.String("actor_id", actorID),
		zap.String("object", object),
		zap.String("action", action),
	)
	if s.auditSvc == nil {
		return
	}
	var id *string
	if actorID != "" {
		id = &actorID
	}
	targetID := object
	_ = s.auditSvc.AuditLog(ctx, role, id, auditdomain.ActionAuthorizationDenied, "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   role,
	})
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Operators run intake day to day.
		{"role:operator", ObjectQueue, ActionQueueEnqueue},
		{"role:operator", ObjectQueue, ActionQueueView},
		{"role:operator", ObjectQueue, ActionQueueRetry},
		{"role:operator", ObjectArchive, ActionArchiveView},
		{"role:operator", ObjectDataLog, ActionDataLogView},
		{"role:operator", ObjectMetrics, ActionMetricsView},
		{"role:operator", ObjectDispatcher, ActionDispatcherView},
		{"role:operator", ObjectStation, ActionStationSync},
		{"role:operator", ObjectCatalog, ActionCatalogView},

		// Admin-only destructive operations.
		{"role:admin", ObjectQueue, ActionQueueClear},
		{"role:admin", ObjectQueue, ActionQueueDelete},
		{"role:admin", ObjectArchive, ActionArchiveCreate},
		{"role:admin", ObjectArchive, ActionArchiveRestore},
		{"role:admin", ObjectArchive, ActionArchiveDelete},
		{"role:admin", ObjectDispatcher, ActionDispatcherControl},
		{"role:admin", ObjectCatalog, ActionCatalogImport},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
	}
	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inherits := [][]string{
		{"role:admin", "role:operator"},
		{"role:system", "role:admin"},
	}
	for _, rule := range inherits {
		if _, err := enforcer.AddGroupingPolicy(rule); err != nil {
			return err
		}
	}
	return nil
}
