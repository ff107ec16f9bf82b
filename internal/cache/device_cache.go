package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/golang/snappy"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultDeviceTTL = 10 * time.Minute
	deviceKeyPrefix  = "stockline:device:"
)

// DeviceCache stores diagnostics device payloads by IMEI.
type DeviceCache interface {
	Get(ctx context.Context, imei string) (json.RawMessage, bool)
	Set(ctx context.Context, imei string, payload json.RawMessage)
}

type memoryDeviceCache struct {
	entries Cache[string, json.RawMessage]
	ttl     time.Duration
}

// NewMemoryDeviceCache keeps payloads in process memory.
func NewMemoryDeviceCache(ttl time.Duration) DeviceCache {
	if ttl <= 0 {
		ttl = defaultDeviceTTL
	}
	return &memoryDeviceCache{
		entries: NewTTLCache[string, json.RawMessage](),
		ttl:     ttl,
	}
}

func (c *memoryDeviceCache) Get(_ context.Context, imei string) (json.RawMessage, bool) {
	return c.entries.Get(cacheKey(imei))
}

func (c *memoryDeviceCache) Set(_ context.Context, imei string, payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	c.entries.Set(cacheKey(imei), payload, c.ttl)
}

type redisDeviceCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

// NewRedisDeviceCache shares payloads across instances. Values are stored
// snappy-compressed; Redis errors degrade to cache misses.
func NewRedisDeviceCache(client *redis.Client, ttl time.Duration, log *zap.Logger) DeviceCache {
	if ttl <= 0 {
		ttl = defaultDeviceTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &redisDeviceCache{client: client, ttl: ttl, log: log.Named("device_cache")}
}

func (c *redisDeviceCache) Get(ctx context.Context, imei string) (json.RawMessage, bool) {
	key := deviceKeyPrefix + cacheKey(imei)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("device cache get failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	payload, err := decodePayload(raw)
	if err != nil {
		c.log.Warn("device cache entry corrupt", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return payload, true
}

func (c *redisDeviceCache) Set(ctx context.Context, imei string, payload json.RawMessage) {
	if len(payload) == 0 {
		return
	}
	key := deviceKeyPrefix + cacheKey(imei)
	if err := c.client.Set(ctx, key, encodePayload(payload), c.ttl).Err(); err != nil {
		c.log.Warn("device cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func encodePayload(payload json.RawMessage) []byte {
	return snappy.Encode(nil, payload)
}

func decodePayload(raw []byte) (json.RawMessage, error) {
	decoded, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, err
	}
	if !json.Valid(decoded) {
		return nil, errors.New("cached payload is not json")
	}
	return json.RawMessage(decoded), nil
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
