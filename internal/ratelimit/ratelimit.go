// Package ratelimit provides per-client token bucket rate limiting.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Config configures rate limiting
type Config struct {
	// RequestsPerMinute is the max requests per IP per minute
	RequestsPerMinute int
	// BurstSize allows brief bursts above the limit
	BurstSize int
	// CleanupInterval is how often to clean old entries
	CleanupInterval time.Duration
	// Costs charges more than one token for expensive routes, keyed by
	// the gin route pattern (e.g. "/trigger-mlops").
	Costs map[string]float64
}

// DefaultConfig returns sensible defaults. A retrain costs as much as ten
// predictions.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
		Costs: map[string]float64{
			"/trigger-mlops": 10,
			"/retrain":       10,
		},
	}
}

// Limiter tracks rate limits by key
type Limiter struct {
	cfg      Config
	mu       sync.Mutex
	clients  map[string]*clientState
	stop     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

type clientState struct {
	tokens    float64
	lastCheck time.Time
}

// New creates a new rate limiter
func New(cfg Config) *Limiter {
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = 1
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	l := &Limiter{
		cfg:     cfg,
		clients: make(map[string]*clientState),
		stop:    make(chan struct{}),
		now:     time.Now,
	}
	go l.cleanup()
	return l
}

// cleanup removes stale entries periodically
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.mu.Lock()
			cutoff := l.now().Add(-2 * time.Minute)
			for key, state := range l.clients {
				if state.lastCheck.Before(cutoff) {
					delete(l.clients, key)
				}
			}
			l.mu.Unlock()
		case <-l.stop:
			return
		}
	}
}

// Stop stops the cleanup goroutine. Safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Allow spends one token for key.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.Take(key, 1)
	return ok
}

// Take spends cost tokens for key. When it refuses, it also returns how
// long until enough tokens will have accrued.
func (l *Limiter) Take(key string, cost float64) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	burst := float64(l.cfg.BurstSize)
	if cost > burst {
		cost = burst
	}
	state, exists := l.clients[key]
	if !exists {
		state = &clientState{tokens: burst, lastCheck: now}
		l.clients[key] = state
	}

	rate := float64(l.cfg.RequestsPerMinute) / 60.0
	state.tokens = math.Min(burst, state.tokens+now.Sub(state.lastCheck).Seconds()*rate)
	state.lastCheck = now

	if state.tokens >= cost {
		state.tokens -= cost
		return true, 0
	}
	if rate <= 0 {
		return false, time.Minute
	}
	wait := time.Duration((cost - state.tokens) / rate * float64(time.Second))
	return false, wait
}

// Middleware returns a Gin middleware that rate limits by client IP.
func (l *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cost := 1.0
		if v, ok := l.cfg.Costs[c.FullPath()]; ok {
			cost = v
		}

		ok, wait := l.Take(c.ClientIP(), cost)
		if !ok {
			retry := int(math.Ceil(wait.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate_limit_exceeded",
				"message":     "Too many requests. Please slow down.",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}
