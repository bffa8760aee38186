package pagination

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_StringParse(t *testing.T) {
	ts := time.Date(2026, 2, 15, 10, 30, 0, 123456789, time.UTC)
	c := At(ts, "TXN-1771151400-0a1f")

	got, err := Parse(c.String())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, ts.Equal(got.CreatedAt))
	assert.Equal(t, "TXN-1771151400-0a1f", got.ID)
	assert.NotContains(t, c.String(), "=", "cursors go into query strings unescaped")
}

func TestParse_EmptyIsFirstPage(t *testing.T) {
	c, err := Parse("")
	assert.NoError(t, err)
	assert.Nil(t, c)
}

func TestParse_Rejects(t *testing.T) {
	for name, in := range map[string]string{
		"not base64":   "not-base64!!!",
		"no separator": "bm9waXBl",
		"empty id":     At(time.Unix(1, 0), "").String(),
		"bad time":     "eHl6fFRYTg", // "xyz|TXN"
		"too long":     strings.Repeat("A", maxEncoded+1),
	} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidCursor, name)
	}
}

func TestParse_IDMayContainSeparator(t *testing.T) {
	c, err := Parse(At(time.Unix(5, 0), "odd|id").String())
	require.NoError(t, err)
	assert.Equal(t, "odd|id", c.ID)
}

func TestCursor_Follows(t *testing.T) {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := At(base, "TXN-2")

	assert.True(t, c.Follows(base.Add(-time.Second), "TXN-9"))
	assert.True(t, c.Follows(base, "TXN-1"))
	assert.False(t, c.Follows(base, "TXN-2"))
	assert.False(t, c.Follows(base, "TXN-3"))
	assert.False(t, c.Follows(base.Add(time.Second), "TXN-0"))
}

func TestTrim(t *testing.T) {
	key := func(s string) Cursor { return At(time.Unix(0, 0), s) }

	rows, next := Trim([]string{"a", "b", "c"}, 5, key)
	assert.Equal(t, []string{"a", "b", "c"}, rows)
	assert.Nil(t, next)

	rows, next = Trim([]string{"a", "b", "c"}, 3, key)
	assert.Len(t, rows, 3)
	assert.Nil(t, next, "exactly limit rows means no further page")

	rows, next = Trim([]string{"a", "b", "c", "d"}, 3, key)
	assert.Equal(t, []string{"a", "b", "c"}, rows)
	require.NotNil(t, next)
	assert.Equal(t, "c", next.ID)
}
