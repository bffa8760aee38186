// Package events records inference results for the live feed and collects
// analyst labels that feed back into retraining.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mbd888/fraudwatchdog/internal/pagination"
)

var (
	ErrNotFound     = errors.New("event not found")
	ErrInvalidLabel = errors.New("label must be fraud or legit")
	ErrInvalidEvent = errors.New("invalid event")
)

// FeedSize is how many events the live feed returns.
const FeedSize = 20

// History page bounds.
const (
	DefaultHistoryPage = 50
	MaxHistoryPage     = 200
)

// LabelFilter values accepted by Query.Label besides LabelFraud and LabelLegit.
const (
	LabelAny       = ""
	LabelUnlabeled = "none"
)

// Label is the analyst's verdict on an event.
type Label string

const (
	LabelNone  Label = ""
	LabelFraud Label = "fraud"
	LabelLegit Label = "legit"
)

// ParseLabel accepts fraud/legit in any case.
func ParseLabel(s string) (Label, error) {
	switch Label(strings.ToLower(strings.TrimSpace(s))) {
	case LabelFraud:
		return LabelFraud, nil
	case LabelLegit:
		return LabelLegit, nil
	default:
		return LabelNone, fmt.Errorf("%w: %q", ErrInvalidLabel, s)
	}
}

// Class returns the training class for the label: 1 for fraud, 0 for legit.
func (l Label) Class() int {
	if l == LabelFraud {
		return 1
	}
	return 0
}

// Event is one served prediction.
type Event struct {
	ID          string     `json:"id"`
	Session     string     `json:"session,omitempty"`
	Status      string     `json:"status"`
	Probability float64    `json:"probability"`
	Amount      float64    `json:"amount"`
	Prediction  string     `json:"prediction"`
	Confidence  float64    `json:"confidence_score"`
	MLOpsStatus string     `json:"mlops_status"`
	Features    []float64  `json:"features,omitempty"`
	Label       Label      `json:"label,omitempty"`
	LabeledAt   *time.Time `json:"labeled_at,omitempty"`
	CreatedAt   time.Time  `json:"timestamp"`
}

// Validate checks the fields every store relies on.
func (e *Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Status == "" {
		return fmt.Errorf("%w: missing status", ErrInvalidEvent)
	}
	return nil
}

func (e *Event) clone() *Event {
	cp := *e
	if e.Features != nil {
		cp.Features = append([]float64(nil), e.Features...)
	}
	if e.LabeledAt != nil {
		t := *e.LabeledAt
		cp.LabeledAt = &t
	}
	return &cp
}

// Query selects a page of event history, newest first by (CreatedAt, ID).
type Query struct {
	Status string // exact verdict match; empty matches all
	Label  string // fraud, legit, none or empty
	Before *pagination.Cursor
	Limit  int
}

// Normalize validates the filters and clamps Limit.
func (q *Query) Normalize() error {
	switch q.Label {
	case LabelAny, LabelUnlabeled, string(LabelFraud), string(LabelLegit):
	default:
		return fmt.Errorf("%w: unknown label filter %q", ErrInvalidLabel, q.Label)
	}
	if q.Limit <= 0 {
		q.Limit = DefaultHistoryPage
	}
	if q.Limit > MaxHistoryPage {
		q.Limit = MaxHistoryPage
	}
	return nil
}

func (q Query) matches(e *Event) bool {
	if q.Status != "" && e.Status != q.Status {
		return false
	}
	switch q.Label {
	case LabelAny:
	case LabelUnlabeled:
		if e.Label != LabelNone {
			return false
		}
	default:
		if string(e.Label) != q.Label {
			return false
		}
	}
	if q.Before != nil && !q.Before.Follows(e.CreatedAt, e.ID) {
		return false
	}
	return true
}

// Store persists events. Recent and Labeled return newest first.
type Store interface {
	Record(ctx context.Context, e *Event) error
	Get(ctx context.Context, id string) (*Event, error)
	Recent(ctx context.Context, limit int) ([]*Event, error)
	SetLabel(ctx context.Context, id string, label Label) (*Event, error)
	Labeled(ctx context.Context, limit int) ([]*Event, error)
	Count(ctx context.Context) (int, error)
	// History returns up to q.Limit events matching q. Callers wanting a
	// has-more signal ask for one extra row.
	History(ctx context.Context, q Query) ([]*Event, error)
}
