package mlops

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultJobTimeout bounds one background retrain.
const DefaultJobTimeout = 10 * time.Minute

// MaxPendingSessions caps how many distinct sessions may wait for a
// background retrain.
const MaxPendingSessions = 64

var ErrQueueFull = errors.New("retrain queue full")

type job struct {
	session string
	trigger string
}

// RetrainerState is what GET /mlops/status shows about background work.
type RetrainerState struct {
	Running        bool       `json:"running"`
	Pending        bool       `json:"pending"`
	PendingCount   int        `json:"pending_sessions"`
	Completed      int64      `json:"completed"`
	Failed         int64      `json:"failed"`
	Coalesced      int64      `json:"coalesced"`
	LastSession    string     `json:"last_session,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
	LastOutcome    *Outcome   `json:"last_outcome,omitempty"`
}

// Retrainer runs retrains off the request path on a single worker. Each
// session has at most one request waiting; further requests from that
// session are folded into it. Sessions are served in arrival order.
type Retrainer struct {
	service    *Service
	logger     *slog.Logger
	timeout    time.Duration
	maxPending int

	wake    chan struct{}
	stop    chan struct{}
	running atomic.Bool

	mu      sync.Mutex
	pending []job
	waiting map[string]struct{}
	state   RetrainerState
}

// NewRetrainer creates a background retrainer for service.
func NewRetrainer(service *Service, logger *slog.Logger) *Retrainer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retrainer{
		service:    service,
		logger:     logger,
		timeout:    DefaultJobTimeout,
		maxPending: MaxPendingSessions,
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		waiting:    make(map[string]struct{}),
	}
}

// WithTimeout bounds each background job. Non-positive values are ignored.
func (r *Retrainer) WithTimeout(d time.Duration) *Retrainer {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Running reports whether the worker loop is active.
func (r *Retrainer) Running() bool {
	return r.running.Load()
}

// Enqueue asks for a retrain of session. It reports false when the request
// was folded into one already waiting for the same session, and returns
// ErrQueueFull when too many other sessions are waiting.
func (r *Retrainer) Enqueue(session, trigger string) (bool, error) {
	if !ValidSession(session) {
		return false, ErrInvalidSession
	}
	r.mu.Lock()
	if _, ok := r.waiting[session]; ok {
		r.state.Coalesced++
		r.mu.Unlock()
		return false, nil
	}
	if len(r.pending) >= r.maxPending {
		r.mu.Unlock()
		return false, ErrQueueFull
	}
	r.pending = append(r.pending, job{session: session, trigger: trigger})
	r.waiting[session] = struct{}{}
	r.mu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
	return true, nil
}

// next pops the oldest waiting job. Once popped, a new request for the same
// session queues again behind the running one.
func (r *Retrainer) next() (job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.pending) == 0 {
		return job{}, false
	}
	j := r.pending[0]
	r.pending[0] = job{}
	r.pending = r.pending[1:]
	delete(r.waiting, j.session)
	return j, true
}

// State returns a snapshot of the worker's bookkeeping.
func (r *Retrainer) State() RetrainerState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := r.state
	st.PendingCount = len(r.pending)
	st.Pending = st.PendingCount > 0
	return st
}

// Start runs the worker loop. Call in a goroutine.
func (r *Retrainer) Start(ctx context.Context) {
	r.running.Store(true)
	defer r.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-r.wake:
			for {
				select {
				case <-ctx.Done():
					return
				case <-r.stop:
					return
				default:
				}
				j, ok := r.next()
				if !ok {
					break
				}
				r.safeRun(ctx, j)
			}
		}
	}
}

// Stop signals the worker to stop after the current job.
func (r *Retrainer) Stop() {
	select {
	case r.stop <- struct{}{}:
	default:
	}
}

func (r *Retrainer) safeRun(ctx context.Context, j job) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("panic in retrainer", "panic", fmt.Sprint(p))
			r.finish(j, nil, fmt.Errorf("panic: %v", p))
		}
	}()

	r.mu.Lock()
	r.state.Running = true
	r.mu.Unlock()

	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.service.Trigger(jobCtx, j.session, j.trigger)
	r.finish(j, out, err)
}

func (r *Retrainer) finish(j job, out *Outcome, err error) {
	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state.Running = false
	r.state.LastSession = j.session
	r.state.LastFinishedAt = &now
	if out != nil {
		r.state.LastOutcome = out
	}
	if err != nil {
		r.state.Failed++
		r.state.LastError = err.Error()
		r.logger.Warn("background retrain failed", "session", j.session, "trigger", j.trigger, "error", err)
		return
	}
	r.state.Completed++
	r.state.LastError = ""
}
