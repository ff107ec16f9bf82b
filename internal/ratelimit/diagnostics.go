package ratelimit

import (
	"context"
	"time"

	"github.com/smallbiznis/stockline/internal/config"
	"github.com/smallbiznis/stockline/internal/diagnostics"
)

const (
	keyDiagnosticsCalls = "stockline:ratelimit:diagnostics"
	minWait             = 10 * time.Millisecond
)

// DiagnosticsLimiter paces calls to the diagnostics provider across all
// instances sharing one Redis.
type DiagnosticsLimiter struct {
	bucket *TokenBucket
	limit  Limit
}

// NewDiagnosticsLimiter returns nil when Redis or a rate is not configured;
// the client then relies on its concurrency bound only.
func NewDiagnosticsLimiter(bucket *TokenBucket, cfg config.Config) *DiagnosticsLimiter {
	rate := cfg.Diagnostics.RatePerSecond
	if bucket == nil || rate <= 0 {
		return nil
	}
	return &DiagnosticsLimiter{bucket: bucket, limit: Limit{Rate: rate, Burst: max(1, int(rate))}}
}

// Wait blocks until a token is available or ctx ends. Redis failures do not
// block calls.
func (l *DiagnosticsLimiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		res, err := l.bucket.Take(ctx, keyDiagnosticsCalls, l.limit)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}
		if res.Allowed {
			return nil
		}

		timer := time.NewTimer(max(res.RetryAfter, minWait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// AsClientLimiter adapts l for diagnostics.WithLimiter, keeping a nil
// limiter a nil interface.
func (l *DiagnosticsLimiter) AsClientLimiter() diagnostics.Limiter {
	if l == nil {
		return nil
	}
	return l
}
