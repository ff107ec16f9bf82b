package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/audit/masking"
	"github.com/smallbiznis/stockline/internal/clock"
	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	"github.com/smallbiznis/stockline/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

func (s *Service) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	entry, err := s.buildEntry(ctx, actorType, actorID, action, targetType, targetID, metadata)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", entry.Action), zap.Error(err))
		return err
	}
	return nil
}

func (s *Service) AuditLogTx(ctx context.Context, tx *gorm.DB, action string, targetType string, targetID *string, metadata map[string]any) error {
	entry, err := s.buildEntry(ctx, "", nil, action, targetType, targetID, metadata)
	if err != nil {
		return err
	}
	return s.repo.Insert(ctx, tx, &entry)
}

func (s *Service) buildEntry(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) (auditdomain.AuditLog, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.AuditLog{}, auditdomain.ErrInvalidAction
	}

	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}

	resolvedActorType, resolvedActorID := s.resolveActor(ctx, strings.TrimSpace(actorType), actorID)

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		ActorType:  resolvedActorType,
		ActorID:    resolvedActorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(targetID),
		CreatedAt:  s.clock.Now(),
	}
	if payload := masking.MaskSensitive(metadata); len(payload) > 0 {
		entry.Metadata = datatypes.JSONMap(payload)
	}
	if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
		entry.RequestID = &requestID
	}
	return entry, nil
}

func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}

	token, err := req.Pagination.Cursor()
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
	}
	var cursor *auditdomain.AuditCursor
	if token != nil {
		id, err := snowflake.ParseString(token.ID)
		if err != nil || id == 0 {
			return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidPageToken
		}
		cursor = &auditdomain.AuditCursor{ID: id, CreatedAt: token.At}
	}

	size := req.Pagination.Size()
	rows, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		ActorType:  req.ActorType,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      size,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	rows, page := pagination.Page(rows, size, func(row auditdomain.AuditLog) pagination.Cursor {
		return pagination.Cursor{ID: row.ID.String(), At: row.CreatedAt}
	})
	return auditdomain.ListAuditLogResponse{PageInfo: page, AuditLogs: rows}, nil
}

func (s *Service) resolveActor(ctx context.Context, actorType string, actorID *string) (string, *string) {
	if actorType == "" {
		if ctxType, ctxID := obscontext.ActorFromContext(ctx); ctxType != "" {
			actorType = ctxType
			if actorID == nil || strings.TrimSpace(*actorID) == "" {
				if ctxID != "" {
					actorID = &ctxID
				}
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}

	return actorType, normalizePointer(actorID)
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
