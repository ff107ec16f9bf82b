package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 250
)

var ErrInvalidToken = errors.New("invalid_page_token")

// Pagination is a keyset page request.
type Pagination struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}

// Size clamps PageSize into [1, MaxPageSize], defaulting to DefaultPageSize.
func (p Pagination) Size() int {
	switch {
	case p.PageSize <= 0:
		return DefaultPageSize
	case p.PageSize > MaxPageSize:
		return MaxPageSize
	default:
		return p.PageSize
	}
}

// Cursor points at the last row of a page ordered by (At desc, ID desc).
type Cursor struct {
	ID string    `json:"id"`
	At time.Time `json:"at"`
}

// Encode renders c as an opaque URL-safe token.
func (c Cursor) Encode() string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Cursor decodes PageToken. An empty token yields nil.
func (p Pagination) Cursor() (*Cursor, error) {
	token := strings.TrimSpace(p.PageToken)
	if token == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	var c Cursor
	if err := json.Unmarshal(raw, &c); err != nil || c.ID == "" || c.At.IsZero() {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

type PageInfo struct {
	NextPageToken string `json:"next_page_token,omitempty"`
	HasMore       bool   `json:"has_more"`
}

// Page trims rows queried with a limit of size+1 down to size and builds the
// token for the following page from the last row kept.
func Page[T any](rows []T, size int, cursorOf func(T) Cursor) ([]T, PageInfo) {
	if size <= 0 || len(rows) <= size {
		return rows, PageInfo{}
	}
	rows = rows[:size]
	return rows, PageInfo{
		HasMore:       true,
		NextPageToken: cursorOf(rows[len(rows)-1]).Encode(),
	}
}
