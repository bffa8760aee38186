// Package syncutil holds locking primitives that plain sync does not offer.
package syncutil

import "context"

// ContextMutex is a channel-based mutex whose Lock gives up when the
// caller's context ends.
type ContextMutex struct {
	ch chan struct{}
}

// NewContextMutex returns an unlocked mutex.
func NewContextMutex() *ContextMutex {
	m := &ContextMutex{ch: make(chan struct{}, 1)}
	m.ch <- struct{}{}
	return m
}

// Lock waits for the mutex or ctx, whichever comes first. On success the
// caller must call the returned unlock exactly once.
func (m *ContextMutex) Lock(ctx context.Context) (func(), error) {
	select {
	case <-m.ch:
		return m.unlock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryLock acquires the mutex only if it is free.
func (m *ContextMutex) TryLock() (func(), bool) {
	select {
	case <-m.ch:
		return m.unlock, true
	default:
		return nil, false
	}
}

// Locked reports whether the mutex is currently held.
func (m *ContextMutex) Locked() bool {
	return len(m.ch) == 0
}

func (m *ContextMutex) unlock() {
	m.ch <- struct{}{}
}
