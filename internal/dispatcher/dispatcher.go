package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/cache"
	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
	"github.com/smallbiznis/stockline/internal/clock"
	datalogdomain "github.com/smallbiznis/stockline/internal/datalog/domain"
	devicedomain "github.com/smallbiznis/stockline/internal/device/domain"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	obsmetrics "github.com/smallbiznis/stockline/internal/observability/metrics"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"github.com/smallbiznis/stockline/internal/sku"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrAlreadyRunning = errors.New("dispatcher_already_running")
	ErrNotRunning     = errors.New("dispatcher_not_running")
	ErrInvalidConfig  = errors.New("invalid_dispatcher_config")
)

// DeviceLookup fetches the diagnostics detail of one device.
type DeviceLookup interface {
	Configured() bool
	DeviceByIMEI(ctx context.Context, imei string) (diagnostics.Device, error)
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Queue    queuedomain.Repository
	Devices  devicedomain.Repository
	Catalog  catalogdomain.Service
	Engine   *sku.Engine
	DataLog  datalogdomain.Service
	Clock    clock.Clock
	Config   Config
	Audit    auditdomain.Service         `optional:"true"`
	Lookup   DeviceLookup                `optional:"true"`
	Cache    cache.DeviceCache           `optional:"true"`
	Pipeline *obsmetrics.PipelineMetrics `optional:"true"`
	Metrics  *obsmetrics.Metrics         `optional:"true"`
}

// Status is a point-in-time view of the worker pool.
type Status struct {
	Running   bool       `json:"running"`
	Workers   int        `json:"workers"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	StoppedAt *time.Time `json:"stopped_at,omitempty"`
	Completed int64      `json:"completed"`
	Retried   int64      `json:"retried"`
	Failed    int64      `json:"failed"`
	Recovered int64      `json:"recovered"`
}

// Dispatcher claims queue items and drives them through normalization,
// matching and persistence. Coordination between instances relies only on
// the queue's conditional claim.
type Dispatcher struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	queue    queuedomain.Repository
	devices  devicedomain.Repository
	catalog  catalogdomain.Service
	engine   *sku.Engine
	datalog  datalogdomain.Service
	audit    auditdomain.Service
	lookup   DeviceLookup
	cache    cache.DeviceCache
	clock    clock.Clock
	cfg      Config
	pipeline *obsmetrics.PipelineMetrics
	metrics  *obsmetrics.Metrics
	tracer   trace.Tracer

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt *time.Time
	stoppedAt *time.Time

	completed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
	recovered atomic.Int64
}

func New(p Params) (*Dispatcher, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Queue == nil || p.Devices == nil ||
		p.Catalog == nil || p.Engine == nil || p.DataLog == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Dispatcher{
		db:       p.DB,
		log:      p.Log.Named("dispatcher").With(zap.String("component", "dispatcher")),
		genID:    p.GenID,
		queue:    p.Queue,
		devices:  p.Devices,
		catalog:  p.Catalog,
		engine:   p.Engine,
		datalog:  p.DataLog,
		audit:    p.Audit,
		lookup:   p.Lookup,
		cache:    p.Cache,
		clock:    p.Clock,
		cfg:      p.Config.withDefaults(),
		pipeline: p.Pipeline,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("stockline/dispatcher"),
	}, nil
}

// Start launches the worker loops and the recovery sweep. The loops run
// until Stop; ctx only carries values.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	d.cancel = cancel
	now := d.clock.Now()
	d.startedAt = &now
	d.stoppedAt = nil

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(loopCtx, i)
	}
	d.wg.Add(1)
	go d.recoveryLoop(loopCtx)

	d.log.Info("dispatcher.start", zap.Int("workers", d.cfg.Workers))
	return nil
}

// Stop stops claiming new items and waits for in-flight items to finish or
// for ctx to end.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return ErrNotRunning
	}
	d.cancel()
	d.cancel = nil
	now := d.clock.Now()
	d.stoppedAt = &now
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info("dispatcher.stop")
		return nil
	case <-ctx.Done():
		d.log.Warn("dispatcher.stop.timeout", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

// StopProcessing is Stop on behalf of an operator; it is recorded in the
// audit log.
func (d *Dispatcher) StopProcessing(ctx context.Context) error {
	if err := d.Stop(ctx); err != nil {
		return err
	}
	d.auditControl(ctx, auditdomain.ActionDispatcherStop)
	return nil
}

// StartProcessing is Start on behalf of an operator.
func (d *Dispatcher) StartProcessing(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	d.auditControl(ctx, auditdomain.ActionDispatcherStart)
	return nil
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:   d.cancel != nil,
		Workers:   d.cfg.Workers,
		StartedAt: d.startedAt,
		StoppedAt: d.stoppedAt,
		Completed: d.completed.Load(),
		Retried:   d.retried.Load(),
		Failed:    d.failed.Load(),
		Recovered: d.recovered.Load(),
	}
}

func (d *Dispatcher) auditControl(ctx context.Context, action string) {
	if d.audit == nil {
		return
	}
	if err := d.audit.AuditLog(ctx, "", nil, action, "dispatcher", nil, map[string]any{
		"workers": d.cfg.Workers,
	}); err != nil {
		d.log.Warn("dispatcher.audit.failed", zap.String("action", action), zap.Error(err))
	}
}

func (d *Dispatcher) worker(ctx context.Context, n int) {
	defer d.wg.Done()
	d.pipeline.WorkerStarted()
	defer d.pipeline.WorkerStopped()

	log := d.log.With(zap.Int("worker", n))
	log.Debug("dispatcher.worker.start")
	defer log.Debug("dispatcher.worker.stop")

	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := d.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			log.Warn("dispatcher.claim.failed", zap.Error(err))
		}
		if processed && err == nil {
			continue
		}
		if !sleep(ctx, d.cfg.IdleInterval) {
			return
		}
	}
}

func (d *Dispatcher) recoveryLoop(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		if _, err := d.RecoverStale(ctx); err != nil && ctx.Err() == nil {
			d.log.Warn("dispatcher.recovery.failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// processedData is the snapshot written to the data log on success.
type processedData struct {
	Device devicedomain.DeviceRecord   `json:"device"`
	Match  devicedomain.SkuMatchResult `json:"match"`
}

func marshalProcessed(device devicedomain.DeviceRecord, match devicedomain.SkuMatchResult) json.RawMessage {
	data, err := json.Marshal(processedData{Device: device, Match: match})
	if err != nil {
		return nil
	}
	return data
}
