package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds how many events the memory store retains.
const DefaultMemoryCapacity = 1000

// MemoryStore keeps a bounded window of recent events. Labeled events are
// kept separately so feedback survives eviction from the window.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []*Event // oldest first
	byID     map[string]*Event
	labeled  []*Event // oldest first
}

// NewMemoryStore creates a store retaining up to capacity events.
// A non-positive capacity uses DefaultMemoryCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		byID:     make(map[string]*Event),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Record(_ context.Context, e *Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := e.clone()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if _, exists := m.byID[cp.ID]; exists {
		m.replace(cp)
		return nil
	}
	m.order = append(m.order, cp)
	m.byID[cp.ID] = cp
	if cp.Label != LabelNone {
		m.labeled = append(m.labeled, cp)
	}
	for len(m.order) > m.capacity {
		evicted := m.order[0]
		m.order[0] = nil
		m.order = m.order[1:]
		if evicted.Label == LabelNone {
			delete(m.byID, evicted.ID)
		}
	}
	return nil
}

func (m *MemoryStore) replace(cp *Event) {
	for i, e := range m.order {
		if e.ID == cp.ID {
			m.order[i] = cp
		}
	}
	for i, e := range m.labeled {
		if e.ID == cp.ID {
			m.labeled = append(m.labeled[:i], m.labeled[i+1:]...)
			break
		}
	}
	if cp.Label != LabelNone {
		m.labeled = append(m.labeled, cp)
	}
	m.byID[cp.ID] = cp
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.clone(), nil
}

func (m *MemoryStore) Recent(_ context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.order, limit), nil
}

func (m *MemoryStore) SetLabel(_ context.Context, id string, label Label) (*Event, error) {
	if label != LabelFraud && label != LabelLegit {
		return nil, ErrInvalidLabel
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	if e.Label == LabelNone {
		m.labeled = append(m.labeled, e)
	}
	e.Label = label
	e.LabeledAt = &now
	return e.clone(), nil
}

func (m *MemoryStore) Labeled(_ context.Context, limit int) ([]*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return newestFirst(m.labeled, limit), nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID), nil
}

func (m *MemoryStore) History(_ context.Context, q Query) ([]*Event, error) {
	m.mu.RLock()
	var out []*Event
	for _, e := range m.byID {
		if q.matches(e) {
			out = append(out, e.clone())
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func newestFirst(src []*Event, limit int) []*Event {
	n := len(src)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*Event, 0, n)
	for i := len(src) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, src[i].clone())
	}
	return out
}
