package mlops

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultSessionCapacity bounds how many sessions the memory store keeps.
const DefaultSessionCapacity = 10000

// MemorySessionStore keeps session state in process memory. State is lost
// on restart. Once capacity sessions are held, the least recently updated
// one is forgotten and starts over from InitialProgress.
type MemorySessionStore struct {
	mu       sync.Mutex
	capacity int
	sessions map[string]*list.Element // values are *SessionState
	order    *list.List               // most recently updated first
}

// NewMemorySessionStore creates a store holding up to capacity sessions.
// A non-positive capacity uses DefaultSessionCapacity.
func NewMemorySessionStore(capacity int) *MemorySessionStore {
	if capacity <= 0 {
		capacity = DefaultSessionCapacity
	}
	return &MemorySessionStore{
		capacity: capacity,
		sessions: make(map[string]*list.Element),
		order:    list.New(),
	}
}

var _ SessionStore = (*MemorySessionStore)(nil)

func (m *MemorySessionStore) Get(_ context.Context, session string) (*SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if el, ok := m.sessions[session]; ok {
		return el.Value.(*SessionState).clone(), nil
	}
	return newSessionState(session), nil
}

func (m *MemorySessionStore) Update(_ context.Context, session string, fn func(*SessionState) error) (*SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.sessions[session]
	cur := newSessionState(session)
	if ok {
		cur = el.Value.(*SessionState)
	}
	next := cur.clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.Session = session
	next.UpdatedAt = time.Now().UTC()

	if ok {
		el.Value = next
		m.order.MoveToFront(el)
	} else {
		m.sessions[session] = m.order.PushFront(next)
		for m.order.Len() > m.capacity {
			oldest := m.order.Back()
			m.order.Remove(oldest)
			delete(m.sessions, oldest.Value.(*SessionState).Session)
		}
	}
	return next.clone(), nil
}

// Len reports how many sessions are held.
func (m *MemorySessionStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.order.Len()
}
