package diagnostics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/stockline/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	authCalls   atomic.Int32
	deviceCalls atomic.Int32
	device      http.HandlerFunc
	station     http.HandlerFunc
}

func (p *fakeProvider) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/auth", func(w http.ResponseWriter, r *http.Request) {
		p.authCalls.Add(1)
		var creds map[string]string
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds["username"] != "station-user" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-1", "expires_in": 3600})
	})
	mux.HandleFunc("/devices/", func(w http.ResponseWriter, r *http.Request) {
		p.deviceCalls.Add(1)
		p.device(w, r)
	})
	mux.HandleFunc("/stations/", func(w http.ResponseWriter, r *http.Request) {
		p.station(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.DiagnosticsConfig {
	return config.DiagnosticsConfig{
		BaseURL:       baseURL,
		Username:      "station-user",
		Password:      "secret",
		RetryAttempts: 3,
		RetryDelay:    time.Millisecond,
		Timeout:       time.Second,
		MaxConcurrent: 2,
	}
}

type recordingObserver struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *recordingObserver) RecordDiagnosticsCall(_ context.Context, endpoint, outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, endpoint+":"+outcome)
}

func TestDeviceByIMEIAuthenticatesOnce(t *testing.T) {
	p := &fakeProvider{device: func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"device":{"imei":"123","model":"iPhone 13","batteryHealth":88}}`))
	}}
	srv := p.server(t)
	obs := &recordingObserver{}
	client := NewClient(testConfig(srv.URL), WithObserver(obs))

	for i := 0; i < 2; i++ {
		dev, err := client.DeviceByIMEI(context.Background(), "123")
		require.NoError(t, err)
		assert.Equal(t, "123", dev.IMEI)
		assert.JSONEq(t, `{"imei":"123","model":"iPhone 13","batteryHealth":88}`, string(dev.Payload))
	}

	assert.Equal(t, int32(1), p.authCalls.Load())
	assert.Equal(t, int32(2), p.deviceCalls.Load())
	assert.Equal(t, []string{"auth:success", "device_detail:success", "device_detail:success"}, obs.outcomes)
}

func TestDeviceByIMEINotFoundIsNotRetried(t *testing.T) {
	p := &fakeProvider{device: func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}}
	srv := p.server(t)
	client := NewClient(testConfig(srv.URL))

	_, err := client.DeviceByIMEI(context.Background(), "404")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, int32(1), p.deviceCalls.Load())
}

func TestDeviceByIMEIRetriesUnavailable(t *testing.T) {
	p := &fakeProvider{}
	p.device = func(w http.ResponseWriter, r *http.Request) {
		if p.deviceCalls.Load() < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"imei":"123"}`))
	}
	srv := p.server(t)
	client := NewClient(testConfig(srv.URL))

	dev, err := client.DeviceByIMEI(context.Background(), "123")
	require.NoError(t, err)
	assert.JSONEq(t, `{"imei":"123"}`, string(dev.Payload))
	assert.Equal(t, int32(3), p.deviceCalls.Load())
}

func TestDeviceByIMEITimesOutAfterRetries(t *testing.T) {
	p := &fakeProvider{device: func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}}
	srv := p.server(t)
	cfg := testConfig(srv.URL)
	cfg.Timeout = 20 * time.Millisecond
	client := NewClient(cfg)

	_, err := client.DeviceByIMEI(context.Background(), "123")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(3), p.deviceCalls.Load())
}

func TestDeviceByIMEIRefreshesRejectedToken(t *testing.T) {
	p := &fakeProvider{}
	p.device = func(w http.ResponseWriter, r *http.Request) {
		if p.deviceCalls.Load() == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"imei":"123"}`))
	}
	srv := p.server(t)
	client := NewClient(testConfig(srv.URL))

	_, err := client.DeviceByIMEI(context.Background(), "123")
	require.NoError(t, err)
	assert.Equal(t, int32(2), p.authCalls.Load())
}

func TestDevicesByStation(t *testing.T) {
	var gotDate string
	p := &fakeProvider{station: func(w http.ResponseWriter, r *http.Request) {
		gotDate = r.URL.Query().Get("date")
		assert.Equal(t, "/stations/ST-01/devices", r.URL.Path)
		_, _ = w.Write([]byte(`{"devices":[{"imei":"111","model":"iPhone 12"},{"IMEI":222},{"model":"no id"}]}`))
	}}
	srv := p.server(t)
	client := NewClient(testConfig(srv.URL))

	devices, err := client.DevicesByStation(context.Background(), "ST-01", time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "2025-03-02", gotDate)
	assert.Equal(t, "111", devices[0].IMEI)
	assert.Equal(t, "222", devices[1].IMEI)
	assert.Equal(t, "", devices[2].IMEI)
}

func TestClientNotConfigured(t *testing.T) {
	client := NewClient(config.DiagnosticsConfig{})
	assert.False(t, client.Configured())

	_, err := client.DeviceByIMEI(context.Background(), "123")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = client.DevicesByStation(context.Background(), "ST-01", time.Now())
	assert.ErrorIs(t, err, ErrNotConfigured)
}
