package queue

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := New[int](3)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Put(ctx, i))
	}
	assert.Equal(t, 3, q.Len())

	for i := 1; i <= 3; i++ {
		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
}

func TestQueue_PutBlocksWhenFull(t *testing.T) {
	q := New[int](1)
	require.NoError(t, q.Put(context.Background(), 1))
	assert.False(t, q.TryPut(2))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Put(ctx, 2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unblocked := make(chan error, 1)
	go func() { unblocked <- q.Put(context.Background(), 3) }()

	got, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	select {
	case err := <-unblocked:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("producer was not released after a slot freed up")
	}
}

func TestQueue_CloseDrainsThenReportsClosed(t *testing.T) {
	q := New[string](2)
	require.NoError(t, q.Put(context.Background(), "a"))
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Put(context.Background(), "b"), ErrClosed)
	assert.False(t, q.TryPut("b"))

	got, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", got)

	_, err = q.Get(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_CloseReleasesBlockedConsumer(t *testing.T) {
	q := New[int](1)
	done := make(chan error, 1)
	go func() {
		_, err := q.Get(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("consumer was not released by Close")
	}
}

func TestQueue_GetHonorsContext(t *testing.T) {
	q := New[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Get(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueue_DepthGauge(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_queue_depth"})
	q := New[int](5).WithDepthGauge(gauge)
	ctx := context.Background()

	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))
	assert.True(t, q.TryPut(3))
	assert.Equal(t, 3.0, testutil.ToFloat64(gauge), "producers update the gauge")

	_, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2.0, testutil.ToFloat64(gauge))
}
