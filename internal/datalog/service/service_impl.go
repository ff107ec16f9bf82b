package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/stockline/internal/clock"
	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  datalogdomain.Repository
	Queue queuedomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  datalogdomain.Repository
	queue queuedomain.Repository
	clock clock.Clock
}

func New(p Params) datalogdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("datalog.service"),
		genID: p.GenID,
		repo:  p.Repo,
		queue: p.Queue,
		clock: p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, tx *gorm.DB, record *datalogdomain.Record) error {
	if record == nil || record.QueueItemID == 0 {
		return datalogdomain.ErrInvalidRecord
	}
	switch record.Status {
	case queuedomain.StatusCompleted, queuedomain.StatusFailed:
	default:
		return datalogdomain.ErrInvalidRecord
	}
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = s.clock.Now()
	}
	if record.FinishedAt.IsZero() {
		record.FinishedAt = record.CreatedAt
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = record.FinishedAt
	}
	if record.ProcessingTimeMs <= 0 {
		record.ProcessingTimeMs = record.FinishedAt.Sub(record.StartedAt).Milliseconds()
		if record.ProcessingTimeMs < 0 {
			record.ProcessingTimeMs = 0
		}
	}
	if len(record.RawPayload) == 0 {
		record.RawPayload = []byte("null")
	}
	return s.repo.Insert(ctx, tx, record)
}

func (s *Service) Stats(ctx context.Context) (datalogdomain.Stats, error) {
	return s.repo.Stats(ctx, s.db)
}

func (s *Service) ProcessingMetrics(ctx context.Context) (datalogdomain.ProcessingMetrics, error) {
	now := s.clock.Now()

	queueStats, err := s.queue.Stats(ctx, s.db)
	if err != nil {
		return datalogdomain.ProcessingMetrics{}, err
	}
	day, err := s.repo.WindowSince(ctx, s.db, now.Add(-24*time.Hour))
	if err != nil {
		return datalogdomain.ProcessingMetrics{}, err
	}
	hour, err := s.repo.WindowSince(ctx, s.db, now.Add(-time.Hour))
	if err != nil {
		return datalogdomain.ProcessingMetrics{}, err
	}

	metrics := datalogdomain.ProcessingMetrics{
		Queue:               queueStats,
		Last24h:             day,
		AvgProcessingMs:     day.AvgProcessingMs,
		MaxProcessingMs:     day.MaxProcessingMs,
		ThroughputPerMinute: float64(hour.Completed+hour.Failed) / 60,
		GeneratedAt:         now,
	}
	if finished := day.Completed + day.Failed; finished > 0 {
		metrics.SuccessRate = float64(day.Completed) / float64(finished) * 100
	}
	return metrics, nil
}

func (s *Service) History(ctx context.Context, imei string, limit int) ([]datalogdomain.Record, error) {
	imei = strings.TrimSpace(imei)
	if imei == "" {
		return nil, datalogdomain.ErrInvalidRecord
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.repo.ListByIMEI(ctx, s.db, imei, limit)
}
