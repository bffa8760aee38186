package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, cfg Config) (*Limiter, *clock) {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	clk := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l.mu.Lock()
	l.now = clk.now
	l.mu.Unlock()
	return l, clk
}

func TestLimiter_BurstThenRefill(t *testing.T) {
	l, clk := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("ip"), "request %d within burst", i)
	}
	assert.False(t, l.Allow("ip"))

	clk.advance(time.Second)
	assert.True(t, l.Allow("ip"))
	assert.False(t, l.Allow("ip"))
}

func TestLimiter_ClientsAreIndependent(t *testing.T) {
	l, _ := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 2})

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
}

func TestLimiter_TakeReportsWait(t *testing.T) {
	l, _ := newLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 10})

	ok, _ := l.Take("ip", 10)
	require.True(t, ok)
	ok, wait := l.Take("ip", 10)
	assert.False(t, ok)
	assert.Equal(t, 10*time.Second, wait)
}

func TestLimiter_StopIsIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware_ChargesExpensiveRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := DefaultConfig()
	cfg.BurstSize = 12
	l, _ := newLimiter(t, cfg)

	r := gin.New()
	r.Use(l.Middleware())
	r.POST("/trigger-mlops", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/predict", func(c *gin.Context) { c.Status(http.StatusOK) })

	send := func(path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("/trigger-mlops").Code)
	assert.Equal(t, http.StatusOK, send("/predict").Code)
	assert.Equal(t, http.StatusOK, send("/predict").Code)

	w := send("/trigger-mlops")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "10", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}
