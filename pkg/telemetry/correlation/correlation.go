// Package correlation carries the id that ties one HTTP request or one
// dispatch attempt together across logs, spans and audit entries.
package correlation

import (
	"context"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// Header is the inbound and echoed HTTP header.
const Header = "X-Correlation-Id"

type key struct{}

func FromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(key{}).(string); ok {
		return id
	}
	return ""
}

func WithID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, key{}, id)
}

// New returns a ULID stamped with at, so ids sort by when the work began.
func New(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// Ensure keeps an id already on ctx and mints one stamped with at otherwise.
func Ensure(ctx context.Context, at time.Time) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}
	id := New(at)
	return WithID(ctx, id), id
}

// Parse accepts only well-formed ULIDs and returns them in canonical form.
// Anything else is dropped so clients cannot write free text into logs.
func Parse(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// StartedAt recovers the timestamp encoded in id.
func StartedAt(id string) (time.Time, bool) {
	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		return time.Time{}, false
	}
	return ulid.Time(parsed.Time()).UTC(), true
}
