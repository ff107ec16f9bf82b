package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const lockPrefix = "stockline:lock:"

// Both scripts act only while the key still holds the caller's token, so a
// lease that expired and was taken by another instance is left alone.
var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)
)

var (
	ErrLockHeld    = errors.New("lock_held")
	ErrLeaseLost   = errors.New("lease_lost")
	ErrLockInvalid = errors.New("lock_invalid")
)

// Locker hands out Redis leases that serialize maintenance jobs, such as
// clearing completed queue items, across every instance.
type Locker struct {
	client *redis.Client
}

// NewLocker returns nil without Redis; callers then run unlocked.
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// Lease is a held lock. The zero value is not usable.
type Lease struct {
	client *redis.Client
	key    string
	token  string
}

// Acquire takes the named lease for ttl or returns ErrLockHeld.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, errors.Join(ErrLockInvalid, errors.New("redis not configured"))
	}
	name = strings.TrimSpace(name)
	if name == "" || ttl <= 0 {
		return nil, ErrLockInvalid
	}

	lease := &Lease{client: l.client, key: lockPrefix + name, token: uuid.NewString()}
	ok, err := l.client.SetNX(ctx, lease.key, lease.token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return lease, nil
}

// Extend pushes the expiry out to ttl from now.
func (s *Lease) Extend(ctx context.Context, ttl time.Duration) error {
	if s == nil {
		return nil
	}
	n, err := extendScript.Run(ctx, s.client, []string{s.key}, s.token, ttl.Milliseconds()).Int64()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the lease if it is still ours.
func (s *Lease) Release(ctx context.Context) error {
	if s == nil {
		return nil
	}
	return releaseScript.Run(ctx, s.client, []string{s.key}, s.token).Err()
}
