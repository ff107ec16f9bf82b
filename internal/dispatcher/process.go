package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"github.com/smallbiznis/stockline/internal/normalize"
	obscontext "github.com/smallbiznis/stockline/internal/observability/context"
	obslogger "github.com/smallbiznis/stockline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stockline/internal/observability/metrics"
	"github.com/smallbiznis/stockline/internal/observability/tracing"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"github.com/smallbiznis/stockline/pkg/telemetry/correlation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	errClaimLost    = errors.New("claim lost before completion")
	errClaimExpired = errors.New("claim expired")
)

// stageError tags a processing failure with the pipeline stage it came from.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}

func stageOf(err error) string {
	var se *stageError
	if errors.As(err, &se) {
		return se.stage
	}
	return obsmetrics.StagePersist
}

// RunOnce claims and processes at most one item. It reports whether an item
// was claimed.
func (d *Dispatcher) RunOnce(ctx context.Context) (bool, error) {
	claimStart := time.Now()
	item, err := d.queue.ClaimNext(ctx, d.db, d.clock.Now())
	if err != nil {
		d.pipeline.ObserveClaim(obsmetrics.ClaimResultError, time.Since(claimStart))
		return false, err
	}
	if item == nil {
		d.pipeline.ObserveClaim(obsmetrics.ClaimResultEmpty, time.Since(claimStart))
		return false, nil
	}
	d.pipeline.ObserveClaim(obsmetrics.ClaimResultClaimed, time.Since(claimStart))

	d.handle(ctx, item)
	return true, nil
}

// handle never returns an error: every outcome is recorded against the item.
// The item context is detached from ctx so a stop lets it finish.
func (d *Dispatcher) handle(parent context.Context, item *queuedomain.QueueItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), d.cfg.ItemTimeout)
	defer cancel()
	ctx, cid := correlation.Ensure(ctx, d.clock.Now())
	ctx = obscontext.WithActor(ctx, "system", "dispatcher")
	ctx, span := d.tracer.Start(ctx, "dispatcher.process", trace.WithAttributes(tracing.SafeAttributes(
		attribute.String("queue_item_id", item.ID.String()),
		attribute.String("imei", item.IMEI),
		attribute.String("source", item.Source),
		attribute.Int("retry_count", item.RetryCount),
	)...))
	defer span.End()

	log := obslogger.WithItem(obslogger.WithContext(ctx, d.log), item.ID.String(), item.IMEI, item.Source)
	log.Debug("dispatcher.item.claimed",
		zap.String("correlation_id", cid),
		zap.Int("retry_count", item.RetryCount),
		zap.Int("priority", item.Priority),
	)

	started := d.clock.Now()
	wall := time.Now()
	err := d.process(ctx, item, started)
	if err == nil {
		d.completed.Add(1)
		d.pipeline.ObserveItem(obsmetrics.OutcomeCompleted, time.Since(wall))
		d.metrics.RecordProcessed(ctx, item.Source, string(queuedomain.StatusCompleted))
		span.SetStatus(codes.Ok, "")
		log.Info("dispatcher.item.completed", zap.Int64("duration_ms", time.Since(wall).Milliseconds()))
		return
	}

	span.RecordError(tracing.SafeError(err))
	span.SetStatus(codes.Error, obsmetrics.ClassifyErrorType(err))
	d.fail(ctx, item, err, started, wall, log)
}

func (d *Dispatcher) process(ctx context.Context, item *queuedomain.QueueItem, started time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = atStage(obsmetrics.StagePersist, fmt.Errorf("panic: %v", r))
		}
	}()

	fields, err := normalize.Decode(json.RawMessage(item.RawPayload))
	if err != nil {
		return atStage(obsmetrics.StageNormalize, err)
	}

	if d.enriches(item.Source) {
		detail, err := d.enrich(ctx, item.IMEI)
		if err != nil {
			return atStage(obsmetrics.StageEnrich, err)
		}
		if len(detail) > 0 {
			if extra, err := normalize.Decode(detail); err == nil {
				fields = fields.Overlay(extra)
			}
		}
	}

	device, err := normalize.NormalizeFields(fields, normalize.Input{
		Source:      item.Source,
		QueueItemID: item.ID,
		Now:         started,
	})
	if err != nil {
		return atStage(obsmetrics.StageNormalize, err)
	}

	catalog, err := d.catalog.Entries(ctx)
	if err != nil {
		return atStage(obsmetrics.StageMatch, err)
	}
	components := d.engine.Generate(device.Attributes())
	device.Category = components.Category
	result := d.engine.MatchComponents(components, catalog)
	d.pipeline.IncSkuMatch(string(result.Status))

	match := devicedomain.SkuMatchResult{
		IMEI:        device.IMEI,
		OriginalSku: result.OriginalSku,
		MatchedSku:  result.MatchedSku,
		MatchScore:  result.Score,
		MatchMethod: result.Method,
		MatchStatus: result.Status,
		CreatedAt:   started,
		UpdatedAt:   started,
	}

	return atStage(obsmetrics.StagePersist, d.persist(ctx, item, device, match, started))
}

// persist writes every derived row and completes the item in one
// transaction, so a failure leaves no partial writes.
func (d *Dispatcher) persist(ctx context.Context, item *queuedomain.QueueItem, device devicedomain.DeviceRecord, match devicedomain.SkuMatchResult, started time.Time) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		previous, err := d.devices.FindMatch(ctx, tx, device.IMEI)
		if err != nil {
			return err
		}
		if err := d.devices.UpsertDevice(ctx, tx, &device); err != nil {
			return err
		}
		if err := d.devices.UpsertMatch(ctx, tx, &match); err != nil {
			return err
		}

		inspectedAt := started
		if device.TestedAt != nil {
			inspectedAt = *device.TestedAt
		}
		if err := d.devices.UpsertInspection(ctx, tx, &devicedomain.InspectionRecord{
			ID:             d.genID.Generate(),
			IMEI:           device.IMEI,
			QueueItemID:    item.ID,
			WorkingStatus:  device.WorkingStatus,
			BatteryHealth:  device.BatteryHealth,
			ConditionGrade: device.ConditionGrade,
			Notes:          device.Notes,
			Source:         item.Source,
			InspectedAt:    inspectedAt,
			CreatedAt:      started,
		}); err != nil {
			return err
		}

		key := match.InventoryKey()
		if err := d.devices.RefreshRollup(ctx, tx, key, started); err != nil {
			return err
		}
		if previous != nil && previous.InventoryKey() != key {
			if err := d.devices.RefreshRollup(ctx, tx, previous.InventoryKey(), started); err != nil {
				return err
			}
		}

		finished := d.clock.Now()
		ok, err := d.queue.Complete(ctx, tx, item.ID, finished)
		if err != nil {
			return err
		}
		if !ok {
			return errClaimLost
		}

		return d.datalog.Record(ctx, tx, &datalogdomain.Record{
			QueueItemID:   item.ID,
			IMEI:          device.IMEI,
			Source:        item.Source,
			RawPayload:    item.RawPayload,
			ProcessedData: datatypes.JSON(marshalProcessed(device, match)),
			Status:        queuedomain.StatusCompleted,
			StartedAt:     started,
			FinishedAt:    finished,
		})
	})
}

func (d *Dispatcher) enriches(source string) bool {
	return d.lookup != nil && d.lookup.Configured() && d.cfg.enriches(source)
}

// enrich returns the diagnostics detail for imei, or nil when the provider
// does not know the device.
func (d *Dispatcher) enrich(ctx context.Context, imei string) (json.RawMessage, error) {
	if d.cache != nil {
		if payload, ok := d.cache.Get(ctx, imei); ok {
			return payload, nil
		}
	}
	dev, err := d.lookup.DeviceByIMEI(ctx, imei)
	if errors.Is(err, diagnostics.ErrDeviceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.cache != nil && len(dev.Payload) > 0 {
		d.cache.Set(ctx, imei, dev.Payload)
	}
	return dev.Payload, nil
}

// fail records one failed attempt. Validation errors fail the item outright;
// anything else consumes one retry. It reports whether the failure was
// applied to the item.
func (d *Dispatcher) fail(ctx context.Context, item *queuedomain.QueueItem, cause error, started time.Time, wall time.Time, log *zap.Logger) bool {
	ctx = context.WithoutCancel(ctx)
	permanent := errors.Is(cause, normalize.ErrValidation)
	stage := stageOf(cause)
	message := cause.Error()

	var outcome queuedomain.FailOutcome
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := d.clock.Now()
		out, err := d.queue.Fail(ctx, tx, item.ID, message, permanent, now)
		if err != nil {
			return err
		}
		outcome = out
		if !out.Applied || !out.Terminal {
			return nil
		}
		return d.datalog.Record(ctx, tx, &datalogdomain.Record{
			QueueItemID:  item.ID,
			IMEI:         item.IMEI,
			Source:       item.Source,
			RawPayload:   item.RawPayload,
			Status:       queuedomain.StatusFailed,
			ErrorMessage: &message,
			StartedAt:    started,
			FinishedAt:   now,
		})
	})
	d.pipeline.IncItemError(stage, cause)
	if err != nil {
		log.Error("dispatcher.item.fail_record_failed",
			zap.String("stage", stage),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return false
	}
	if !outcome.Applied {
		log.Warn("dispatcher.item.fail_skipped",
			zap.String("stage", stage),
			zap.String("status", string(outcome.Status)),
			zap.Error(cause),
		)
		return false
	}

	result := obsmetrics.OutcomeRetried
	if outcome.Terminal {
		result = obsmetrics.OutcomeFailed
		d.failed.Add(1)
		d.metrics.RecordProcessed(ctx, item.Source, string(queuedomain.StatusFailed))
	} else {
		d.retried.Add(1)
	}
	d.pipeline.ObserveItem(result, time.Since(wall))

	log.Warn("dispatcher.item.failed",
		zap.String("stage", stage),
		zap.String("outcome", result),
		zap.Int("retry_count", outcome.RetryCount),
		zap.Int("max_retries", outcome.MaxRetries),
		zap.Bool("permanent", permanent),
		zap.String("error_type", obsmetrics.ClassifyErrorType(cause)),
		zap.String("reason", obsmetrics.ClassifyReason(cause)),
		zap.Error(cause),
	)
	return true
}
