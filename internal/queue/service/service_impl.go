package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/clock"
	"github.com/smallbiznis/stockline/internal/config"
	"github.com/smallbiznis/stockline/internal/normalize"
	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	obsmetrics "github.com/smallbiznis/stockline/internal/observability/metrics"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"github.com/smallbiznis/stockline/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxSourceLength  = 64
	maxRetriesLimit  = 20
	maxPriority      = 100
	cleanupChunkSize = 500
	cleanupLockName  = "queue:clear-completed"
	cleanupLockTTL   = 5 * time.Minute

	ReasonClearCompleted = "clear_completed"
	ReasonManualDelete   = "manual_delete"
)

var ErrCleanupInProgress = errors.New("cleanup_in_progress")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Repo     queuedomain.Repository
	Archiver queuedomain.Archiver
	Audit    auditdomain.Service
	Clock    clock.Clock
	Cfg      config.Config
	Locker   *ratelimit.Locker           `optional:"true"`
	Metrics  *obsmetrics.Metrics         `optional:"true"`
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	repo     queuedomain.Repository
	archiver queuedomain.Archiver
	audit    auditdomain.Service
	clock    clock.Clock
	cfg      config.QueueConfig
	locker   *ratelimit.Locker
	metrics  *obsmetrics.Metrics
	pipeline *obsmetrics.PipelineMetrics
}

func NewService(p Params) queuedomain.Service {
	cfg := p.Cfg.Queue
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.DefaultPriority < 0 {
		cfg.DefaultPriority = 0
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("queue.service"),
		genID:    p.GenID,
		repo:     p.Repo,
		archiver: p.Archiver,
		audit:    p.Audit,
		clock:    p.Clock,
		cfg:      cfg,
		locker:   p.Locker,
		metrics:  p.Metrics,
		pipeline: p.Pipeline,
	}
}

func (s *Service) Enqueue(ctx context.Context, req queuedomain.EnqueueRequest) (queuedomain.EnqueueResult, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" || len(source) > maxSourceLength {
		return queuedomain.EnqueueResult{}, queuedomain.ErrInvalidSource
	}
	if len(req.Items) == 0 {
		return queuedomain.EnqueueResult{}, queuedomain.ErrEmptySubmission
	}
	if len(req.Items) > queuedomain.MaxSubmissionItems {
		return queuedomain.EnqueueResult{}, queuedomain.ErrSubmissionTooLarge
	}

	priority := s.cfg.DefaultPriority
	if req.Priority != nil {
		if *req.Priority < 0 || *req.Priority > maxPriority {
			return queuedomain.EnqueueResult{}, queuedomain.ErrInvalidPriority
		}
		priority = *req.Priority
	}
	maxRetries := s.cfg.MaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 1 || *req.MaxRetries > maxRetriesLimit {
			return queuedomain.EnqueueResult{}, queuedomain.ErrInvalidMaxRetries
		}
		maxRetries = *req.MaxRetries
	}

	now := s.clock.Now()
	batchID := s.genID.Generate()
	result := queuedomain.EnqueueResult{}
	items := make([]*queuedomain.QueueItem, 0, len(req.Items))

	for i, raw := range req.Items {
		imei, err := normalize.ExtractIMEI(raw)
		if err != nil {
			result.Rejected = append(result.Rejected, rejection(i, err))
			continue
		}
		items = append(items, &queuedomain.QueueItem{
			ID:         s.genID.Generate(),
			IMEI:       imei,
			RawPayload: datatypes.JSON(raw),
			Status:     queuedomain.StatusPending,
			Priority:   priority,
			MaxRetries: maxRetries,
			Source:     source,
			BatchID:    &batchID,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	result.RejectedCount = len(result.Rejected)

	if len(items) == 0 {
		s.log.Info("queue.enqueue.rejected",
			zap.String("source", source),
			zap.Int("rejected", result.RejectedCount),
		)
		return result, fmt.Errorf("%w: %w", queuedomain.ErrNoValidItems, normalize.ErrValidation)
	}

	batch := queuedomain.Batch{
		ID:         batchID,
		Name:       batchName(req.BatchName, source, now),
		Source:     source,
		TotalItems: len(items),
		Status:     queuedomain.BatchActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertBatch(ctx, tx, &batch); err != nil {
			return err
		}
		return s.repo.InsertItems(ctx, tx, items)
	})
	if err != nil {
		return queuedomain.EnqueueResult{}, err
	}

	result.BatchID = batch.ID
	result.BatchName = batch.Name
	result.AcceptedCount = len(items)
	s.metrics.RecordEnqueued(ctx, source, len(items))
	s.log.Info("queue.enqueued",
		zap.String("batch_id", batch.ID.String()),
		zap.String("batch_name", batch.Name),
		zap.String("source", source),
		zap.Int("accepted", result.AcceptedCount),
		zap.Int("rejected", result.RejectedCount),
		zap.Int("priority", priority),
	)
	return result, nil
}

func (s *Service) Stats(ctx context.Context) (queuedomain.Stats, error) {
	stats, err := s.repo.Stats(ctx, s.db)
	if err != nil {
		return queuedomain.Stats{}, err
	}
	if s.pipeline != nil {
		s.pipeline.SetQueueDepth(stats.ByStatus())
	}
	return stats, nil
}

func (s *Service) ListItems(ctx context.Context, filter queuedomain.ListFilter) ([]queuedomain.QueueItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, queuedomain.ErrInvalidStatus
	}
	if filter.Limit <= 0 {
		filter.Limit = queuedomain.DefaultListLimit
	}
	if filter.Limit > queuedomain.MaxListLimit {
		filter.Limit = queuedomain.MaxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.List(ctx, s.db, filter)
}

func (s *Service) GetItem(ctx context.Context, id snowflake.ID) (*queuedomain.QueueItem, error) {
	item, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, queuedomain.ErrItemNotFound
	}
	return item, nil
}

func (s *Service) RetryFailed(ctx context.Context) (int64, error) {
	count, err := s.repo.ResetAllFailed(ctx, s.db, s.clock.Now())
	if err != nil {
		return 0, err
	}
	s.log.Info("queue.retry_failed", zap.Int64("count", count))
	_ = s.audit.AuditLog(ctx, "", nil, auditdomain.ActionQueueRetryFailed, "queue", nil, map[string]any{
		"count": count,
	})
	return count, nil
}

func (s *Service) RetryItem(ctx context.Context, id snowflake.ID) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.ResetToPending(ctx, tx, id, s.clock.Now())
	})
	if err != nil {
		return err
	}
	targetID := id.String()
	_ = s.audit.AuditLog(ctx, "", nil, auditdomain.ActionQueueRetryItem, "queue_item", &targetID, nil)
	return nil
}

// ClearCompleted archives then deletes completed items processed more than
// olderThanDays ago, in chunks so a large backlog never holds one long
// transaction.
func (s *Service) ClearCompleted(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 0 {
		return 0, queuedomain.ErrInvalidRetention
	}

	lease, err := s.locker.Acquire(ctx, cleanupLockName, cleanupLockTTL)
	switch {
	case errors.Is(err, ratelimit.ErrLockHeld):
		return 0, ErrCleanupInProgress
	case err != nil && s.locker != nil:
		s.log.Warn("cleanup lock unavailable; continuing unlocked", zap.Error(err))
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("cleanup lock release failed", zap.Error(err))
		}
	}()

	now := s.clock.Now()
	cutoff := now.AddDate(0, 0, -olderThanDays)
	actor := actorName(ctx)

	var removed int64
	for {
		var chunk int
		var deleted int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			items, err := s.repo.ListCompletedBefore(ctx, tx, cutoff, cleanupChunkSize)
			if err != nil || len(items) == 0 {
				return err
			}
			if _, err := s.archiver.ArchiveQueueItems(ctx, tx, items, ReasonClearCompleted, actor); err != nil {
				return err
			}
			n, err := s.repo.DeleteByIDs(ctx, tx, itemIDs(items))
			if err != nil {
				return err
			}
			deleted = n
			chunk = len(items)
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed += deleted
		if chunk < cleanupChunkSize {
			break
		}
		if err := lease.Extend(ctx, cleanupLockTTL); err != nil {
			s.log.Warn("cleanup lock extend failed", zap.Error(err))
		}
	}

	s.log.Info("queue.clear_completed",
		zap.Int("older_than_days", olderThanDays),
		zap.Int64("removed", removed),
	)
	_ = s.audit.AuditLog(ctx, "", nil, auditdomain.ActionQueueClearCompleted, "queue", nil, map[string]any{
		"older_than_days": olderThanDays,
		"removed":         removed,
	})
	return removed, nil
}

func (s *Service) DeleteItem(ctx context.Context, id snowflake.ID) error {
	now := s.clock.Now()
	var deleted *queuedomain.QueueItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if item == nil {
			return queuedomain.ErrItemNotFound
		}
		if item.Status == queuedomain.StatusProcessing {
			return queuedomain.ErrItemInFlight
		}
		if _, err := s.archiver.ArchiveQueueItems(ctx, tx, []queuedomain.QueueItem{*item}, ReasonManualDelete, actorName(ctx)); err != nil {
			return err
		}
		if _, err := s.repo.DeleteByIDs(ctx, tx, []snowflake.ID{item.ID}); err != nil {
			return err
		}
		if item.Status == queuedomain.StatusPending && item.BatchID != nil {
			if err := s.repo.ReleasePending(ctx, tx, *item.BatchID, now); err != nil {
				return err
			}
		}
		deleted = item
		return nil
	})
	if err != nil {
		return err
	}

	targetID := id.String()
	s.log.Info("queue.item.deleted", zap.String("id", targetID), zap.String("status", string(deleted.Status)))
	_ = s.audit.AuditLog(ctx, "", nil, auditdomain.ActionQueueDeleteItem, "queue_item", &targetID, map[string]any{
		"imei":   deleted.IMEI,
		"status": string(deleted.Status),
	})
	return nil
}

func (s *Service) GetBatch(ctx context.Context, id snowflake.ID) (queuedomain.BatchProgress, error) {
	batch, err := s.repo.FindBatch(ctx, s.db, id)
	if err != nil {
		return queuedomain.BatchProgress{}, err
	}
	if batch == nil {
		return queuedomain.BatchProgress{}, queuedomain.ErrBatchNotFound
	}

	percent := 100.0
	if batch.TotalItems > 0 {
		percent = float64(batch.ProcessedItems+batch.FailedItems) / float64(batch.TotalItems) * 100
	}
	return queuedomain.BatchProgress{
		Batch:           *batch,
		Finished:        batch.Finished(),
		PercentComplete: percent,
	}, nil
}

func rejection(index int, err error) queuedomain.Rejection {
	var verr *normalize.ValidationError
	if errors.As(err, &verr) {
		return queuedomain.Rejection{
			Index:  index,
			Field:  verr.Field,
			Code:   verr.Code,
			Reason: verr.Message,
		}
	}
	return queuedomain.Rejection{Index: index, Code: "invalid", Reason: err.Error()}
}

func batchName(requested, source string, now time.Time) string {
	base := strings.TrimSpace(requested)
	if base == "" {
		base = source + " " + now.Format("2006-01-02 15:04:05")
	}
	name := slug.Make(base)
	if len(name) > 160 {
		name = name[:160]
	}
	return name
}

func actorName(ctx context.Context) string {
	actorType, actorID := obscontext.ActorFromContext(ctx)
	switch {
	case actorID != "":
		return actorID
	case actorType != "":
		return actorType
	default:
		return string(auditdomain.ActorTypeSystem)
	}
}

func itemIDs(items []queuedomain.QueueItem) []snowflake.ID {
	ids := make([]snowflake.ID, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
