package metricspush

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/stockline/internal/config"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewPusher),
	fx.Invoke(RegisterLifecycle),
)

// QueueStats refreshes the queue depth gauges before each push.
type QueueStats interface {
	Stats(ctx context.Context) (queuedomain.Stats, error)
}

type lifecycleParams struct {
	fx.In

	Lc     fx.Lifecycle
	Cfg    config.Config
	Log    *zap.Logger
	Pusher Pusher              `optional:"true"`
	Queue  queuedomain.Service `optional:"true"`
}

func RegisterLifecycle(p lifecycleParams) {
	if p.Pusher == nil {
		return
	}
	log := p.Log.Named("metrics.push")
	var queue QueueStats
	if p.Queue != nil {
		queue = p.Queue
	}
	worker := NewWorker(p.Pusher, prometheus.DefaultGatherer, queue, p.Cfg.MetricsPush.Interval, log)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	p.Lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("metrics.push.start",
				zap.String("exporter", p.Cfg.MetricsPush.Exporter),
				zap.Duration("interval", worker.interval),
			)
			go func() {
				defer close(done)
				worker.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
				return nil
			case <-stopCtx.Done():
				return stopCtx.Err()
			}
		},
	})
}

// Worker pushes on a fixed interval until its context ends.
type Worker struct {
	pusher   Pusher
	gatherer prometheus.Gatherer
	queue    QueueStats
	interval time.Duration
	log      *zap.Logger
}

func NewWorker(pusher Pusher, gatherer prometheus.Gatherer, queue QueueStats, interval time.Duration, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Worker{pusher: pusher, gatherer: gatherer, queue: queue, interval: interval, log: log}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.PushOnce(ctx)
	for {
		select {
		case <-ticker.C:
			w.PushOnce(ctx)
		case <-ctx.Done():
			// final push so the collector sees the last counters
			flushCtx, cancel := context.WithTimeout(context.Background(), defaultPushTimeout)
			w.PushOnce(flushCtx)
			cancel()
			w.log.Info("metrics.push.stop")
			return
		}
	}
}

func (w *Worker) PushOnce(ctx context.Context) {
	if w.queue != nil {
		if _, err := w.queue.Stats(ctx); err != nil {
			w.log.Warn("metrics.push.queue_stats_failed", zap.Error(err))
		}
	}
	if err := w.pusher.Push(ctx, w.gatherer); err != nil {
		w.log.Warn("metrics.push.failed", zap.Error(err))
	}
}
