package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpires(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c := newTTLCache[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, 0)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.Equal(t, 2, v)

	c.Delete("b")
	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestMemoryDeviceCacheNormalizesKeys(t *testing.T) {
	c := NewMemoryDeviceCache(time.Minute)
	ctx := context.Background()

	c.Set(ctx, " ABC123 ", json.RawMessage(`{"imei":"abc123"}`))
	got, ok := c.Get(ctx, "abc123")
	require.True(t, ok)
	assert.JSONEq(t, `{"imei":"abc123"}`, string(got))

	c.Set(ctx, "empty", nil)
	_, ok = c.Get(ctx, "empty")
	assert.False(t, ok)
}

func TestPayloadCompressionRoundTrip(t *testing.T) {
	payload := json.RawMessage(`{"imei":"123","notes":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}`)
	encoded := encodePayload(payload)
	assert.Less(t, len(encoded), len(payload))

	decoded, err := decodePayload(encoded)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(decoded))

	_, err = decodePayload([]byte("not snappy"))
	assert.Error(t, err)

	_, err = decodePayload(snappy.Encode(nil, []byte("not json")))
	assert.Error(t, err)
}
