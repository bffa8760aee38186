// Package pagination implements keyset paging over rows ordered newest
// first by (created_at, id). Cursors are opaque to clients.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// maxEncoded bounds the cursor text accepted from clients.
const maxEncoded = 256

var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the key of the last row a client has seen. The next page
// starts strictly after it.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// At returns the cursor positioned on a row.
func At(createdAt time.Time, id string) Cursor {
	return Cursor{CreatedAt: createdAt.UTC(), ID: id}
}

// String encodes the cursor for a next_cursor field.
func (c Cursor) String() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Follows reports whether a row keyed (createdAt, id) sorts after the cursor
// in newest-first order, i.e. belongs on a later page.
func (c Cursor) Follows(createdAt time.Time, id string) bool {
	if createdAt.Equal(c.CreatedAt) {
		return id < c.ID
	}
	return createdAt.Before(c.CreatedAt)
}

// Parse decodes a cursor from a query parameter. An empty string means the
// first page and yields nil.
func Parse(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) > maxEncoded {
		return nil, ErrInvalidCursor
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
	c := At(time.Unix(0, n), id)
	return &c, nil
}

// Trim cuts a result fetched with limit+1 rows down to limit. When the
// extra row was present it returns the cursor of the last row kept.
func Trim[T any](rows []T, limit int, key func(T) Cursor) ([]T, *Cursor) {
	if limit <= 0 || len(rows) <= limit {
		return rows, nil
	}
	rows = rows[:limit]
	next := key(rows[limit-1])
	return rows, &next
}
