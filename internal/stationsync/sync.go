// Package stationsync pulls the devices a test station reported for a day
// and enqueues them as one batch.
package stationsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	"github.com/smallbiznis/stockline/internal/clock"
	"github.com/smallbiznis/stockline/internal/config"
	"github.com/smallbiznis/stockline/internal/diagnostics"
	"github.com/smallbiznis/stockline/internal/normalize"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DateLayout = "2006-01-02"

var (
	ErrInvalidStation = errors.New("invalid_station")
	ErrInvalidDate    = errors.New("invalid_date")
)

// Source lists a station's devices and fetches single device detail.
type Source interface {
	Configured() bool
	DevicesByStation(ctx context.Context, station string, date time.Time) ([]diagnostics.Device, error)
	DeviceByIMEI(ctx context.Context, imei string) (diagnostics.Device, error)
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Source Source
	Queue  queuedomain.Service
	Audit  auditdomain.Service
	Clock  clock.Clock
	Cfg    config.Config
}

type Result struct {
	Station  string                     `json:"station"`
	Date     string                     `json:"date"`
	Fetched  int                        `json:"fetched"`
	Enriched int                        `json:"enriched"`
	Enqueue  *queuedomain.EnqueueResult `json:"enqueue,omitempty"`
}

type Service struct {
	log         *zap.Logger
	source      Source
	queue       queuedomain.Service
	audit       auditdomain.Service
	clock       clock.Clock
	concurrency int
}

func New(p Params) *Service {
	concurrency := p.Cfg.Diagnostics.MaxConcurrent
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Service{
		log:         p.Log.Named("stationsync"),
		source:      p.Source,
		queue:       p.Queue,
		audit:       p.Audit,
		clock:       p.Clock,
		concurrency: concurrency,
	}
}

// ParseDate accepts YYYY-MM-DD. An empty value means today.
func (s *Service) ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		now := s.clock.Now()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q is not YYYY-MM-DD", ErrInvalidDate, value)
	}
	return date, nil
}

// SyncStation fetches the station's devices for date and enqueues them with
// source diagnostics-sync. Entries without a model are completed from the
// device detail endpoint first; a failed detail fetch keeps the list entry.
func (s *Service) SyncStation(ctx context.Context, station string, date time.Time) (Result, error) {
	station = strings.TrimSpace(station)
	if station == "" {
		return Result{}, ErrInvalidStation
	}
	if !s.source.Configured() {
		return Result{}, diagnostics.ErrNotConfigured
	}

	day := date.Format(DateLayout)
	log := s.log.With(zap.String("station", station), zap.String("date", day))
	result := Result{Station: station, Date: day}

	devices, err := s.source.DevicesByStation(ctx, station, date)
	if err != nil {
		log.Warn("stationsync.fetch.failed", zap.Error(err))
		return result, err
	}
	result.Fetched = len(devices)
	if len(devices) == 0 {
		log.Info("stationsync.empty")
		return result, nil
	}

	payloads, enriched := s.complete(ctx, devices, log)
	result.Enriched = enriched

	enqueued, err := s.queue.Enqueue(ctx, queuedomain.EnqueueRequest{
		Items:     payloads,
		Source:    queuedomain.SourceDiagnosticsSync,
		BatchName: fmt.Sprintf("station %s %s", station, day),
	})
	if err != nil {
		return result, err
	}
	result.Enqueue = &enqueued

	target := station
	_ = s.audit.AuditLog(ctx, "", nil, auditdomain.ActionStationSync, "station", &target, map[string]any{
		"date":     day,
		"fetched":  result.Fetched,
		"enriched": enriched,
		"accepted": enqueued.AcceptedCount,
		"rejected": enqueued.RejectedCount,
		"batch_id": enqueued.BatchID.String(),
	})

	log.Info("stationsync.done",
		zap.Int("fetched", result.Fetched),
		zap.Int("enriched", enriched),
		zap.Int("accepted", enqueued.AcceptedCount),
		zap.Int("rejected", enqueued.RejectedCount),
	)
	return result, nil
}

// complete returns one payload per device in list order.
func (s *Service) complete(ctx context.Context, devices []diagnostics.Device, log *zap.Logger) ([]json.RawMessage, int) {
	payloads := make([]json.RawMessage, len(devices))
	filled := make([]bool, len(devices))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, device := range devices {
		payloads[i] = device.Payload
		if !needsDetail(device) {
			continue
		}
		g.Go(func() error {
			detail, err := s.source.DeviceByIMEI(gctx, device.IMEI)
			if err != nil {
				if !errors.Is(err, diagnostics.ErrDeviceNotFound) {
					log.Debug("stationsync.detail.failed", zap.String("imei", device.IMEI), zap.Error(err))
				}
				return nil
			}
			merged, err := merge(device.Payload, detail.Payload)
			if err != nil {
				return nil
			}
			payloads[i] = merged
			filled[i] = true
			return nil
		})
	}
	_ = g.Wait()

	enriched := 0
	for _, ok := range filled {
		if ok {
			enriched++
		}
	}
	return payloads, enriched
}

func needsDetail(device diagnostics.Device) bool {
	if device.IMEI == "" {
		return false
	}
	fields, err := normalize.Decode(device.Payload)
	if err != nil {
		return false
	}
	return fields.Model() == ""
}

// merge copies keys from detail that base lacks or leaves empty.
func merge(base, detail json.RawMessage) (json.RawMessage, error) {
	into, err := decodeObject(base)
	if err != nil {
		return nil, err
	}
	from, err := decodeObject(detail)
	if err != nil {
		return nil, err
	}
	if into == nil {
		into = map[string]any{}
	}
	for k, v := range from {
		if cur, ok := into[k]; !ok || cur == nil || cur == "" {
			into[k] = v
		}
	}
	return json.Marshal(into)
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	return obj, nil
}
