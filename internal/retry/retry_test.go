package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDo_SuccessOnRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_AllAttemptsExhausted(t *testing.T) {
	var calls int
	sentinel := errors.New("always fails")
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentErrorStopsRetry(t *testing.T) {
	var calls int
	sentinel := errors.New("rejected")
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("fail")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, calls.Load(), int32(3))
}

func TestDo_ZeroMaxAttempts(t *testing.T) {
	var calls int
	require.NoError(t, Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestPolicy_OnRetryAndMaxDelay(t *testing.T) {
	var waits []time.Duration
	var attempts []int
	p := Policy{
		MaxAttempts: 4,
		BaseDelay:   8 * time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
		OnRetry: func(attempt int, err error, wait time.Duration) {
			attempts = append(attempts, attempt)
			waits = append(waits, wait)
		},
	}
	err := p.Do(context.Background(), func(int) error { return errors.New("push rejected") })
	require.Error(t, err)

	assert.Equal(t, []int{1, 2, 3}, attempts)
	for _, w := range waits[1:] {
		assert.LessOrEqual(t, w, 10*time.Millisecond+10*time.Millisecond/4)
	}
}

func TestPermanent(t *testing.T) {
	inner := errors.New("inner")
	assert.ErrorIs(t, Permanent(inner), inner)
	assert.NoError(t, Permanent(nil))
}
