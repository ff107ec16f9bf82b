package dispatcher

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/stockline/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/stockline/internal/observability/metrics"
	"go.uber.org/zap"
)

// RecoverStale treats items left in processing past the recovery threshold
// as one failed attempt each, so a crashed worker cannot strand an item or
// grant it an extra retry.
func (d *Dispatcher) RecoverStale(ctx context.Context) (int, error) {
	now := d.clock.Now()
	cutoff := now.Add(-d.cfg.RecoveryThreshold)

	items, err := d.queue.ListStaleProcessing(ctx, d.db, cutoff, d.cfg.RecoveryBatchSize)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range items {
		item := &items[i]
		started := now
		if item.StartedAt != nil {
			started = *item.StartedAt
		}
		log := obslogger.WithItem(d.log, item.ID.String(), item.IMEI, item.Source)
		if d.fail(ctx, item, atStage(obsmetrics.StageRecovery, errClaimExpired), started, time.Now(), log) {
			recovered++
		}
	}

	if recovered > 0 {
		d.recovered.Add(int64(recovered))
		d.pipeline.AddRecovered(recovered)
		d.log.Info("dispatcher.recovery.done",
			zap.Int("recovered", recovered),
			zap.Time("cutoff", cutoff),
		)
	}
	return recovered, nil
}
