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

var errFlaky = errors.New("flaky upstream")

func fastPolicy(attempts int) Policy {
	return Policy{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	var attempts int32
	got, err := Do(context.Background(), fastPolicy(3), "test", func(context.Context) (string, error) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return "", errFlaky
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	var attempts int32
	_, err := Do(context.Background(), fastPolicy(2), "test", func(context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFlaky
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestDo_NonRetryableStopsImmediately(t *testing.T) {
	permanent := errors.New("bad request")
	p := fastPolicy(5)
	p.ShouldRetry = func(err error) bool { return !errors.Is(err, permanent) }

	var attempts int32
	_, err := Do(context.Background(), p, "test", func(context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestDo_NormalizesInvalidPolicy(t *testing.T) {
	var attempts int32
	_, err := Do(context.Background(), Policy{MaxAttempts: -1}, "test", func(context.Context) (int, error) {
		atomic.AddInt32(&attempts, 1)
		return 0, errFlaky
	})

	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestCallContext_DetachedFromParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	ctx, release := CallContext(parent, time.Minute)
	defer release()

	cancel()
	assert.NoError(t, ctx.Err())

	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}
