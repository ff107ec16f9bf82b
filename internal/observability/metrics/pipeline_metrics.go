package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeCompleted = "completed"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

const (
	ClaimResultClaimed = "claimed"
	ClaimResultEmpty   = "empty"
	ClaimResultError   = "error"
)

const (
	StageEnrich    = "enrich"
	StageNormalize = "normalize"
	StageMatch     = "match"
	StagePersist   = "persist"
	StageRecovery  = "recovery"
)

// PipelineMetrics captures dispatcher and queue health signals.
type PipelineMetrics struct {
	items          *prometheus.CounterVec
	itemDuration   *prometheus.HistogramVec
	itemErrors     *prometheus.CounterVec
	claims         *prometheus.CounterVec
	claimLatency   prometheus.Observer
	recovered      prometheus.Counter
	activeWorkers  prometheus.Gauge
	queueDepth     *prometheus.GaugeVec
	skuMatches     *prometheus.CounterVec
	outcomeCounter map[string]prometheus.Counter
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics registry using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = NewPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the pipeline metrics singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "stockline"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	items := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stockline_dispatcher_items_total",
		Help:        "Queue items processed by the dispatcher, by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	itemDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "stockline_dispatcher_item_duration_seconds",
		Help:        "Time from claim to completion or failure of a queue item.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		ConstLabels: constLabels,
	}, []string{"outcome"})
	itemErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stockline_dispatcher_item_errors_total",
		Help:        "Queue item errors by stage and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"stage", "error_type"})
	claims := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stockline_dispatcher_claims_total",
		Help:        "Claim attempts by result.",
		ConstLabels: constLabels,
	}, []string{"result"})
	claimLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "stockline_dispatcher_claim_seconds",
		Help:        "Latency of the conditional claim update.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		ConstLabels: constLabels,
	})
	recovered := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "stockline_dispatcher_recovered_total",
		Help:        "Stale processing claims returned through the failure path.",
		ConstLabels: constLabels,
	})
	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        "stockline_dispatcher_active_workers",
		Help:        "Dispatcher worker loops currently running.",
		ConstLabels: constLabels,
	})
	queueDepth := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "stockline_queue_items",
		Help:        "Queue items by status at the last stats refresh.",
		ConstLabels: constLabels,
	}, []string{"status"})
	skuMatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "stockline_sku_matches_total",
		Help:        "SKU match results by status.",
		ConstLabels: constLabels,
	}, []string{"status"})

	registerer.MustRegister(
		items,
		itemDuration,
		itemErrors,
		claims,
		claimLatency,
		recovered,
		activeWorkers,
		queueDepth,
		skuMatches,
	)

	outcomeCounter := map[string]prometheus.Counter{
		OutcomeCompleted: items.WithLabelValues(OutcomeCompleted),
		OutcomeRetried:   items.WithLabelValues(OutcomeRetried),
		OutcomeFailed:    items.WithLabelValues(OutcomeFailed),
	}

	return &PipelineMetrics{
		items:          items,
		itemDuration:   itemDuration,
		itemErrors:     itemErrors,
		claims:         claims,
		claimLatency:   claimLatency,
		recovered:      recovered,
		activeWorkers:  activeWorkers,
		queueDepth:     queueDepth,
		skuMatches:     skuMatches,
		outcomeCounter: outcomeCounter,
	}
}

// ObserveItem records the outcome and latency of one processed item.
func (m *PipelineMetrics) ObserveItem(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if counter, ok := m.outcomeCounter[outcome]; ok {
		counter.Inc()
	} else {
		m.items.WithLabelValues(outcome).Inc()
	}
	if duration < 0 {
		duration = 0
	}
	m.itemDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// IncItemError increments item errors with classification.
func (m *PipelineMetrics) IncItemError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.itemErrors.WithLabelValues(stage, ClassifyErrorType(err)).Inc()
}

// ObserveClaim records one claim attempt.
func (m *PipelineMetrics) ObserveClaim(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
	m.claimLatency.Observe(duration.Seconds())
}

func (m *PipelineMetrics) AddRecovered(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.recovered.Add(float64(count))
}

func (m *PipelineMetrics) WorkerStarted() {
	if m == nil {
		return
	}
	m.activeWorkers.Inc()
}

func (m *PipelineMetrics) WorkerStopped() {
	if m == nil {
		return
	}
	m.activeWorkers.Dec()
}

// SetQueueDepth publishes per-status queue counts.
func (m *PipelineMetrics) SetQueueDepth(byStatus map[string]int64) {
	if m == nil {
		return
	}
	for status, count := range byStatus {
		m.queueDepth.WithLabelValues(status).Set(float64(count))
	}
}

func (m *PipelineMetrics) IncSkuMatch(status string) {
	if m == nil {
		return
	}
	m.skuMatches.WithLabelValues(status).Inc()
}
