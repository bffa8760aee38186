// Package health runs named subsystem checks for the readiness endpoint.
package health

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mbd888/fraudwatchdog/internal/model"
)

// DefaultTimeout bounds a single checker.
const DefaultTimeout = 2 * time.Second

// Status represents the health of a single subsystem.
type Status struct {
	Name    string `json:"name"`
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
	timeout  time.Duration
}

type namedChecker struct {
	name  string
	check Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{timeout: DefaultTimeout}
}

// Register adds a named health checker.
func (r *Registry) Register(name string, check Checker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, namedChecker{name: name, check: check})
	r.mu.Unlock()
}

// CheckAll runs all registered checkers concurrently, each under its own
// timeout, and returns the aggregate plus per-subsystem results in
// registration order.
func (r *Registry) CheckAll(ctx context.Context) (healthy bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	timeout := r.timeout
	r.mu.RUnlock()

	statuses = make([]Status, len(checkers))
	var g errgroup.Group
	for i, nc := range checkers {
		g.Go(func() error {
			cctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			statuses[i] = run(cctx, nc)
			return nil
		})
	}
	_ = g.Wait()

	healthy = true
	for _, st := range statuses {
		if !st.Healthy {
			healthy = false
		}
	}
	return healthy, statuses
}

func run(ctx context.Context, nc namedChecker) (st Status) {
	defer func() {
		if p := recover(); p != nil {
			st = Status{Name: nc.name, Healthy: false, Detail: fmt.Sprintf("panic: %v", p)}
		}
	}()
	st = nc.check(ctx)
	if st.Name == "" {
		st.Name = nc.name
	}
	return st
}

// DB reports whether db answers a ping.
func DB(name string, db *sql.DB) Checker {
	return func(ctx context.Context) Status {
		if err := db.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}

// Model reports whether an artifact can be loaded and which one it is.
func Model(loader *model.Loader) Checker {
	return func(ctx context.Context) Status {
		_, info, err := loader.Current(ctx)
		if err != nil {
			return Status{Name: "model", Healthy: false, Detail: err.Error()}
		}
		detail := fmt.Sprintf("version %d from %s", info.Version, info.Path)
		if info.Fallback {
			detail += " (fallback)"
		}
		return Status{Name: "model", Healthy: true, Detail: detail}
	}
}

// Worker reports whether a background loop is running.
func Worker(name string, running func() bool) Checker {
	return func(context.Context) Status {
		if !running() {
			return Status{Name: name, Healthy: false, Detail: "not running"}
		}
		return Status{Name: name, Healthy: true}
	}
}
