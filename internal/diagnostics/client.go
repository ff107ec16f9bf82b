// Package diagnostics is a client for the phone-diagnostics provider API.
package diagnostics

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/stockline/internal/config"
	"github.com/smallbiznis/stockline/internal/normalize"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	EndpointAuth    = "auth"
	EndpointStation = "station_devices"
	EndpointDevice  = "device_detail"

	OutcomeSuccess      = "success"
	OutcomeNotFound     = "not_found"
	OutcomeTimeout      = "timeout"
	OutcomeUnavailable  = "unavailable"
	OutcomeUnauthorized = "unauthorized"
	OutcomeRejected     = "rejected"
	OutcomeError        = "error"

	defaultTokenTTL = 30 * time.Minute
	maxBodyBytes    = 8 << 20
)

// Limiter throttles outbound calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Observer receives one event per HTTP call.
type Observer interface {
	RecordDiagnosticsCall(ctx context.Context, endpoint, outcome string)
}

// Device is one device as reported by the provider.
type Device struct {
	IMEI    string
	Payload json.RawMessage
}

type Client struct {
	cfg     config.DiagnosticsConfig
	http    *http.Client
	sem     *semaphore.Weighted
	limiter Limiter
	obs     Observer
	log     *zap.Logger

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLimiter(l Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithObserver(o Observer) Option {
	return func(c *Client) { c.obs = o }
}

func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func NewClient(cfg config.DiagnosticsConfig, opts ...Option) *Client {
	cfg = withDefaults(cfg)
	c := &Client{
		cfg:  cfg,
		http: &http.Client{},
		sem:  semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		log:  zap.NewNop(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("diagnostics")
	return c
}

func withDefaults(cfg config.DiagnosticsConfig) config.DiagnosticsConfig {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	return cfg
}

// Configured reports whether a base URL and credentials are set.
func (c *Client) Configured() bool {
	return c != nil && c.cfg.BaseURL != "" && c.cfg.Username != ""
}

// DeviceByIMEI fetches the detail record of one device.
func (c *Client) DeviceByIMEI(ctx context.Context, imei string) (Device, error) {
	imei = strings.TrimSpace(imei)
	if !c.Configured() {
		return Device{}, ErrNotConfigured
	}
	if imei == "" {
		return Device{}, fmt.Errorf("%w: imei is required", ErrRequestRejected)
	}

	body, err := c.get(ctx, EndpointDevice, "/devices/"+url.PathEscape(imei), nil)
	if err != nil {
		return Device{}, err
	}
	payload, err := unwrapObject(body, "device", "data")
	if err != nil {
		return Device{}, err
	}
	return Device{IMEI: imei, Payload: payload}, nil
}

// DevicesByStation lists the devices a station tested on the given date.
func (c *Client) DevicesByStation(ctx context.Context, station string, date time.Time) ([]Device, error) {
	station = strings.TrimSpace(station)
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if station == "" {
		return nil, fmt.Errorf("%w: station is required", ErrRequestRejected)
	}

	query := url.Values{}
	query.Set("date", date.Format("2006-01-02"))
	body, err := c.get(ctx, EndpointStation, "/stations/"+url.PathEscape(station)+"/devices", query)
	if err != nil {
		return nil, err
	}

	items, err := unwrapArray(body, "devices", "data")
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(items))
	for _, item := range items {
		devices = append(devices, Device{IMEI: imeiOf(item), Payload: item})
	}
	return devices, nil
}

func (c *Client) get(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryDelay
	b.MaxInterval = 8 * c.cfg.RetryDelay

	return backoff.Retry(ctx, func() ([]byte, error) {
		body, err := c.attempt(ctx, endpoint, path, query)
		if err == nil {
			return body, nil
		}
		if retryable(err) {
			c.log.Debug("diagnostics.call.retry", zap.String("endpoint", endpoint), zap.Error(err))
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.cfg.RetryAttempts)))
}

func (c *Client) attempt(ctx context.Context, endpoint, path string, query url.Values) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	token, err := c.ensureToken(callCtx)
	if err != nil {
		return nil, err
	}

	target := c.cfg.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(callCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	body, status, err := c.do(req)
	err = classify(callCtx, status, err)
	c.observe(ctx, endpoint, err)
	if errors.Is(err, ErrUnauthorized) {
		c.resetToken()
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) ensureToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	payload, err := json.Marshal(map[string]string{
		"username": c.cfg.Username,
		"password": c.cfg.Password,
	})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/auth", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	err = classify(ctx, status, err)
	c.observe(ctx, EndpointAuth, err)
	if err != nil {
		return "", err
	}

	var resp struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	token := strings.TrimSpace(resp.Token)
	if token == "" {
		token = strings.TrimSpace(resp.AccessToken)
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty token", ErrInvalidResponse)
	}

	ttl := defaultTokenTTL
	if resp.ExpiresIn > 0 {
		ttl = time.Duration(resp.ExpiresIn) * time.Second
	}
	// refresh slightly before the provider expires the token
	if ttl > time.Minute {
		ttl -= 30 * time.Second
	}
	c.token = token
	c.tokenExpiry = c.now().Add(ttl)
	return token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) observe(ctx context.Context, endpoint string, err error) {
	if c.obs == nil {
		return
	}
	c.obs.RecordDiagnosticsCall(ctx, endpoint, outcomeOf(err))
}

func classify(ctx context.Context, status int, err error) error {
	if err != nil {
		var netErr net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded),
			errors.As(err, &netErr) && netErr.Timeout(),
			errors.Is(ctx.Err(), context.DeadlineExceeded):
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		case errors.Is(err, context.Canceled):
			return err
		default:
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		return ErrDeviceNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrUnauthorized
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: status %d", ErrTimeout, status)
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, status)
	default:
		return fmt.Errorf("%w: status %s", ErrRequestRejected, strconv.Itoa(status))
	}
}

func retryable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrUnauthorized)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrDeviceNotFound):
		return OutcomeNotFound
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrUnavailable):
		return OutcomeUnavailable
	case errors.Is(err, ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, ErrRequestRejected):
		return OutcomeRejected
	default:
		return OutcomeError
	}
}

func unwrapObject(body []byte, keys ...string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: expected object", ErrInvalidResponse)
	}
	for _, key := range keys {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		trimmed := bytes.TrimSpace(inner)
		if len(trimmed) > 0 && trimmed[0] == '{' {
			return json.RawMessage(trimmed), nil
		}
	}
	return json.RawMessage(bytes.TrimSpace(body)), nil
}

func unwrapArray(body []byte, keys ...string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err == nil {
		return items, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("%w: expected array", ErrInvalidResponse)
	}
	for _, key := range keys {
		inner, ok := obj[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(inner, &items); err == nil {
			return items, nil
		}
	}
	return nil, fmt.Errorf("%w: expected array", ErrInvalidResponse)
}

func imeiOf(item json.RawMessage) string {
	imei, err := normalize.ExtractIMEI(item)
	if err != nil {
		return ""
	}
	return imei
}
