package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	archivedomain "github.com/smallbiznis/stockline/internal/archive/domain"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/clock"
	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	obsmetrics "github.com/smallbiznis/stockline/internal/observability/metrics"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	dbpkg "github.com/smallbiznis/stockline/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OperationArchive = "archive"
	OperationRestore = "restore"
	OperationPurge   = "purge"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    archivedomain.Repository
	Devices devicedomain.Repository
	Audit   auditdomain.Service
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    archivedomain.Repository
	devices devicedomain.Repository
	audit   auditdomain.Service
	clock   clock.Clock
	metrics *obsmetrics.Metrics
}

func New(p Params) archivedomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("archive.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		devices: p.Devices,
		audit:   p.Audit,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

func (s *Service) Archive(ctx context.Context, imei, reason string) (int, error) {
	imei = strings.TrimSpace(imei)
	if imei == "" {
		return 0, archivedomain.ErrInvalidIMEI
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unspecified"
	}
	actor := actorName(ctx)

	var archived int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.CountByIMEI(ctx, tx, imei, archivedomain.DeviceTables)
		if err != nil {
			return err
		}
		if existing > 0 {
			return archivedomain.ErrAlreadyArchived
		}

		device, err := s.devices.FindDevice(ctx, tx, imei)
		if err != nil {
			return err
		}
		match, err := s.devices.FindMatch(ctx, tx, imei)
		if err != nil {
			return err
		}
		inspections, err := s.devices.ListInspections(ctx, tx, imei)
		if err != nil {
			return err
		}
		if device == nil && match == nil && len(inspections) == 0 {
			return archivedomain.ErrNothingToArchive
		}

		var snap snapshotter
		snap.init(s, imei, reason, actor)
		if device != nil {
			snap.add(archivedomain.TableDevices, device.IMEI, device)
		}
		if match != nil {
			snap.add(archivedomain.TableMatches, match.IMEI, match)
		}
		for i := range inspections {
			snap.add(archivedomain.TableInspections, inspections[i].ID.String(), &inspections[i])
		}
		if snap.err != nil {
			return snap.err
		}
		if err := s.repo.Insert(ctx, tx, snap.records); err != nil {
			return err
		}

		if _, err := s.devices.DeleteInspections(ctx, tx, imei); err != nil {
			return err
		}
		if _, err := s.devices.DeleteMatch(ctx, tx, imei); err != nil {
			return err
		}
		if _, err := s.devices.DeleteDevice(ctx, tx, imei); err != nil {
			return err
		}
		if match != nil {
			if err := s.devices.RefreshRollup(ctx, tx, match.InventoryKey(), s.clock.Now()); err != nil {
				return err
			}
		}

		archived = len(snap.records)
		return s.audit.AuditLogTx(ctx, tx, auditdomain.ActionArchiveCreate, "device", &imei, map[string]any{
			"reason":  reason,
			"records": archived,
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.RecordArchiveRows(ctx, OperationArchive, archived)
	s.log.Info("archive.created",
		zap.String("imei", imei),
		zap.String("reason", reason),
		zap.String("archived_by", actor),
		zap.Int("records", archived),
	)
	return archived, nil
}

// ArchiveQueueItems snapshots queue rows inside the caller's transaction.
// The caller deletes the rows.
func (s *Service) ArchiveQueueItems(ctx context.Context, tx *gorm.DB, items []queuedomain.QueueItem, reason, archivedBy string) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	if strings.TrimSpace(archivedBy) == "" {
		archivedBy = actorName(ctx)
	}

	var snap snapshotter
	for i := range items {
		snap.init(s, items[i].IMEI, reason, archivedBy)
		snap.add(archivedomain.TableQueueItems, items[i].ID.String(), &items[i])
	}
	if snap.err != nil {
		return 0, snap.err
	}
	if err := s.repo.Insert(ctx, tx, snap.records); err != nil {
		return 0, err
	}
	s.metrics.RecordArchiveRows(ctx, OperationArchive, len(snap.records))
	return len(snap.records), nil
}

func (s *Service) Restore(ctx context.Context, imei string) (int, error) {
	imei = strings.TrimSpace(imei)
	if imei == "" {
		return 0, archivedomain.ErrInvalidIMEI
	}

	var restored int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		records, err := s.repo.ListByIMEI(ctx, tx, imei, archivedomain.DeviceTables)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return archivedomain.ErrArchiveNotFound
		}

		now := s.clock.Now()
		rollupKeys := map[string]struct{}{}
		for _, tbl := range archivedomain.DeviceTables {
			for _, rec := range records {
				if rec.OriginalTable != tbl {
					continue
				}
				key, err := s.restoreRecord(ctx, tx, rec)
				if err != nil {
					return fmt.Errorf("restore %s %s: %w", rec.OriginalTable, rec.OriginalID, err)
				}
				if key != "" {
					rollupKeys[key] = struct{}{}
				}
				restored++
			}
		}
		if restored != len(records) {
			return archivedomain.ErrUnknownTable
		}

		for key := range rollupKeys {
			if err := s.devices.RefreshRollup(ctx, tx, key, now); err != nil {
				return err
			}
		}
		if _, err := s.repo.DeleteByIMEI(ctx, tx, imei, archivedomain.DeviceTables); err != nil {
			return err
		}
		return s.audit.AuditLogTx(ctx, tx, auditdomain.ActionArchiveRestore, "device", &imei, map[string]any{
			"records": restored,
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.RecordArchiveRows(ctx, OperationRestore, restored)
	s.log.Info("archive.restored", zap.String("imei", imei), zap.Int("records", restored))
	return restored, nil
}

// restoreRecord re-inserts one snapshot. It returns the inventory key to
// recount when the row is a match result.
func (s *Service) restoreRecord(ctx context.Context, tx *gorm.DB, rec archivedomain.ArchivedRecord) (string, error) {
	switch rec.OriginalTable {
	case archivedomain.TableDevices:
		var row devicedomain.DeviceRecord
		if err := json.Unmarshal(rec.ArchivedData, &row); err != nil {
			return "", err
		}
		live, err := s.devices.FindDevice(ctx, tx, row.IMEI)
		if err != nil {
			return "", err
		}
		if live != nil {
			return "", archivedomain.ErrRestoreConflict
		}
		return "", insert(ctx, tx, &row)

	case archivedomain.TableMatches:
		var row devicedomain.SkuMatchResult
		if err := json.Unmarshal(rec.ArchivedData, &row); err != nil {
			return "", err
		}
		live, err := s.devices.FindMatch(ctx, tx, row.IMEI)
		if err != nil {
			return "", err
		}
		if live != nil {
			return "", archivedomain.ErrRestoreConflict
		}
		return row.InventoryKey(), insert(ctx, tx, &row)

	case archivedomain.TableInspections:
		var row devicedomain.InspectionRecord
		if err := json.Unmarshal(rec.ArchivedData, &row); err != nil {
			return "", err
		}
		return "", insert(ctx, tx, &row)
	}
	return "", archivedomain.ErrUnknownTable
}

func (s *Service) PermanentlyDelete(ctx context.Context, imei string) (int64, error) {
	imei = strings.TrimSpace(imei)
	if imei == "" {
		return 0, archivedomain.ErrInvalidIMEI
	}

	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.DeleteByIMEI(ctx, tx, imei, archivedomain.DeviceTables)
		if err != nil {
			return err
		}
		if n == 0 {
			return archivedomain.ErrArchiveNotFound
		}
		deleted = n
		return s.audit.AuditLogTx(ctx, tx, auditdomain.ActionArchivePurge, "device", &imei, map[string]any{
			"records": n,
		})
	})
	if err != nil {
		return 0, err
	}

	s.metrics.RecordArchiveRows(ctx, OperationPurge, int(deleted))
	s.log.Info("archive.purged", zap.String("imei", imei), zap.Int64("records", deleted))
	return deleted, nil
}

func (s *Service) List(ctx context.Context, imei string) ([]archivedomain.ArchivedRecord, error) {
	imei = strings.TrimSpace(imei)
	if imei == "" {
		return nil, archivedomain.ErrInvalidIMEI
	}
	return s.repo.ListByIMEI(ctx, s.db, imei, nil)
}

func (s *Service) Stats(ctx context.Context) (archivedomain.Stats, error) {
	return s.repo.Stats(ctx, s.db)
}

type snapshotter struct {
	svc     *Service
	imei    string
	reason  string
	by      string
	records []archivedomain.ArchivedRecord
	err     error
}

func (s *snapshotter) init(svc *Service, imei, reason, by string) {
	s.svc = svc
	s.imei = imei
	s.reason = reason
	s.by = by
}

func (s *snapshotter) add(table, originalID string, row any) {
	if s.err != nil {
		return
	}
	data, err := json.Marshal(row)
	if err != nil {
		s.err = err
		return
	}
	s.records = append(s.records, archivedomain.ArchivedRecord{
		ID:            s.svc.genID.Generate(),
		OriginalTable: table,
		OriginalID:    originalID,
		IMEI:          s.imei,
		ArchivedData:  datatypes.JSON(data),
		ArchivedAt:    s.svc.clock.Now(),
		ArchivedBy:    s.by,
		ArchiveReason: s.reason,
	})
}

func insert(ctx context.Context, tx *gorm.DB, row any) error {
	err := tx.WithContext(ctx).Create(row).Error
	if dbpkg.IsDuplicateKeyErr(err) {
		return archivedomain.ErrRestoreConflict
	}
	return err
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
