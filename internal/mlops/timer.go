package mlops

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer requests a retrain of one session on a fixed interval.
type Timer struct {
	retrainer *Retrainer
	session   string
	interval  time.Duration
	logger    *slog.Logger
	stop      chan struct{}
	running   atomic.Bool
}

// NewTimer creates a periodic retrain timer. A non-positive interval makes
// Start return immediately.
func NewTimer(retrainer *Retrainer, session string, interval time.Duration, logger *slog.Logger) *Timer {
	if session == "" {
		session = DefaultSession
	}
	return &Timer{
		retrainer: retrainer,
		session:   session,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the retrain loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	if t.interval <= 0 {
		return
	}
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) tick() {
	queued, err := t.retrainer.Enqueue(t.session, TriggerTimer)
	if err != nil {
		t.logger.Warn("scheduled retrain rejected", "session", t.session, "error", err)
		return
	}
	if !queued {
		t.logger.Debug("scheduled retrain folded into pending request", "session", t.session)
	}
}
