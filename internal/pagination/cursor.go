// Package pagination pages list endpoints with opaque cursors over
// (createdAt, id) ordering.
package pagination

import (
	"encoding/base64"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	DefaultLimit = 50
	MaxLimit     = 200
)

var (
	ErrInvalidCursor = errors.New("invalid cursor")
	ErrInvalidLimit  = errors.New("limit must be a positive integer")
)

// Cursor is the position after which the next page starts.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Before reports whether (createdAt, id) sorts at or before the cursor.
func (c *Cursor) Before(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id <= c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Encode returns an opaque cursor string from a timestamp and ID.
func Encode(createdAt time.Time, id string) string {
	raw := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses an opaque cursor string. Returns nil for empty input.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// Params are the ?limit= and ?cursor= query parameters. A zero Limit
// means the caller asked for no paging.
type Params struct {
	Limit  int
	Cursor *Cursor
}

// Paged reports whether the request asked for a page.
func (p Params) Paged() bool {
	return p.Limit > 0 || p.Cursor != nil
}

// FromQuery reads paging parameters. limit is capped at MaxLimit; a cursor
// without a limit uses DefaultLimit.
func FromQuery(c *gin.Context) (Params, error) {
	var p Params
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return p, ErrInvalidLimit
		}
		p.Limit = min(n, MaxLimit)
	}
	cursor, err := Decode(c.Query("cursor"))
	if err != nil {
		return p, err
	}
	p.Cursor = cursor
	if p.Cursor != nil && p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	return p, nil
}

// Apply returns the page of items after p.Cursor in (createdAt, id) order
// and the cursor of the following page, empty on the last page. Unpaged
// params return items unchanged.
func Apply[T any](items []T, p Params, key func(T) (time.Time, string)) ([]T, string) {
	if !p.Paged() {
		return items, ""
	}

	sorted := make([]T, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		ti, idi := key(sorted[i])
		tj, idj := key(sorted[j])
		if ti.Equal(tj) {
			return idi < idj
		}
		return ti.Before(tj)
	})

	start := 0
	if p.Cursor != nil {
		start = sort.Search(len(sorted), func(i int) bool {
			t, id := key(sorted[i])
			return !p.Cursor.Before(t, id)
		})
	}
	rest := sorted[start:]
	if len(rest) <= p.Limit {
		return rest, ""
	}
	page := rest[:p.Limit]
	t, id := key(page[len(page)-1])
	return page, Encode(t, id)
}
