package events

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/fraudwatchdog/internal/pagination"
	"github.com/mbd888/fraudwatchdog/internal/testutil"
)

func newEvent(i int) *Event {
	return &Event{
		ID:          fmt.Sprintf("TXN-%d-%04x", 1700000000+i, i),
		Session:     "default",
		Status:      "Safe",
		Probability: 0.05,
		Amount:      float64(10 * i),
		Prediction:  "LEGIT",
		Confidence:  0.95,
		MLOpsStatus: "HIGH_CONFIDENCE",
		Features:    []float64{float64(i), -1.5, 2.25},
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC),
	}
}

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	for i := 1; i <= 25; i++ {
		require.NoError(t, s.Record(ctx, newEvent(i)))
	}

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25, n)

	feed, err := s.Recent(ctx, FeedSize)
	require.NoError(t, err)
	require.Len(t, feed, FeedSize)
	assert.Equal(t, newEvent(25).ID, feed[0].ID, "newest first")
	assert.Equal(t, newEvent(6).ID, feed[FeedSize-1].ID)

	got, err := s.Get(ctx, newEvent(3).ID)
	require.NoError(t, err)
	if diff := cmp.Diff(newEvent(3), got, cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	_, err = s.Get(ctx, "TXN-missing")
	assert.ErrorIs(t, err, ErrNotFound)

	labeled, err := s.SetLabel(ctx, newEvent(4).ID, LabelFraud)
	require.NoError(t, err)
	assert.Equal(t, LabelFraud, labeled.Label)
	require.NotNil(t, labeled.LabeledAt)

	_, err = s.SetLabel(ctx, newEvent(7).ID, LabelLegit)
	require.NoError(t, err)

	_, err = s.SetLabel(ctx, "TXN-missing", LabelFraud)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.SetLabel(ctx, newEvent(8).ID, Label("maybe"))
	assert.ErrorIs(t, err, ErrInvalidLabel)

	all, err := s.Labeled(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newEvent(7).ID, all[0].ID)
	assert.Equal(t, []float64{7, -1.5, 2.25}, all[0].Features)

	one, err := s.Labeled(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)

	assert.ErrorIs(t, s.Record(ctx, &Event{Status: "Safe"}), ErrInvalidEvent)

	exerciseHistory(t, s)
}

// exerciseHistory expects the 25 events and two labels recorded above.
func exerciseHistory(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ids := func(evs []*Event) []string {
		out := make([]string, len(evs))
		for i, e := range evs {
			out[i] = e.ID
		}
		return out
	}
	want := func(from, to int) []string {
		var out []string
		for i := from; i >= to; i-- {
			out = append(out, newEvent(i).ID)
		}
		return out
	}

	page, err := s.History(ctx, Query{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, want(25, 16), ids(page))

	last := page[len(page)-1]
	page, err = s.History(ctx, Query{Limit: 10, Before: ptr(pagination.At(last.CreatedAt, last.ID))})
	require.NoError(t, err)
	assert.Equal(t, want(15, 6), ids(page))

	page, err = s.History(ctx, Query{Label: string(LabelFraud)})
	require.NoError(t, err)
	assert.Equal(t, want(4, 4), ids(page))

	page, err = s.History(ctx, Query{Label: LabelUnlabeled, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page, 23)

	page, err = s.History(ctx, Query{Status: "FRAUD", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
}

func ptr[T any](v T) *T { return &v }

func TestQuery_Normalize(t *testing.T) {
	q := Query{}
	require.NoError(t, q.Normalize())
	assert.Equal(t, DefaultHistoryPage, q.Limit)

	q = Query{Limit: 10000, Label: "none"}
	require.NoError(t, q.Normalize())
	assert.Equal(t, MaxHistoryPage, q.Limit)

	q = Query{Label: "maybe"}
	assert.ErrorIs(t, q.Normalize(), ErrInvalidLabel)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(100))
}

func TestSQLiteStore(t *testing.T) {
	s := NewSQLiteStore(testutil.SQLiteTest(t))
	require.NoError(t, s.Migrate(context.Background()))
	exerciseStore(t, s)
}

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	exerciseStore(t, NewPostgresStore(db))
}

func TestMemoryStore_EvictionKeepsLabeled(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3)

	require.NoError(t, s.Record(ctx, newEvent(1)))
	_, err := s.SetLabel(ctx, newEvent(1).ID, LabelFraud)
	require.NoError(t, err)
	require.NoError(t, s.Record(ctx, newEvent(2)))

	for i := 3; i <= 6; i++ {
		require.NoError(t, s.Record(ctx, newEvent(i)))
	}

	recent, err := s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 3)

	_, err = s.Get(ctx, newEvent(2).ID)
	assert.ErrorIs(t, err, ErrNotFound, "unlabeled events are evicted")

	kept, err := s.Get(ctx, newEvent(1).ID)
	require.NoError(t, err)
	assert.Equal(t, LabelFraud, kept.Label)

	labeled, err := s.Labeled(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, labeled, 1)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)
	e := newEvent(1)
	require.NoError(t, s.Record(ctx, e))
	e.Features[0] = 999

	got, err := s.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Features[0])
	got.Status = "FRAUD"

	again, _ := s.Get(ctx, e.ID)
	assert.Equal(t, "Safe", again.Status)
}

func TestParseLabel(t *testing.T) {
	l, err := ParseLabel(" Fraud ")
	require.NoError(t, err)
	assert.Equal(t, LabelFraud, l)
	assert.Equal(t, 1, l.Class())

	l, err = ParseLabel("legit")
	require.NoError(t, err)
	assert.Equal(t, 0, l.Class())

	_, err = ParseLabel("")
	assert.ErrorIs(t, err, ErrInvalidLabel)
}
