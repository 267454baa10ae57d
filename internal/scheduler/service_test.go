package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingJob(name string, interval time.Duration, counter *int32) Job {
	return Job{
		Name:     name,
		Interval: interval,
		Run: func(context.Context) error {
			atomic.AddInt32(counter, 1)
			return nil
		},
	}
}

func TestService_RunOnStartAndInterval(t *testing.T) {
	var runs int32
	s := NewService(true, countingJob("discovery", time.Second, &runs))
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop(context.Background())

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 2 }, 3*time.Second, 50*time.Millisecond)
}

func TestService_Trigger(t *testing.T) {
	var runs int32
	s := NewService(false, countingJob("aggregation", time.Hour, &runs))

	assert.Error(t, s.Trigger("aggregation"), "not started")
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Trigger("aggregation"))
	assert.Error(t, s.Trigger("unknown"))
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) == 1 }, time.Second, 10*time.Millisecond)

	s.Stop(context.Background())
	assert.Error(t, s.Trigger("aggregation"), "stopped")
}

func TestService_StopWaitsForRunningJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	s := NewService(true, Job{
		Name:     "slow",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			time.Sleep(20 * time.Millisecond)
			finished.Store(true)
			return ctx.Err()
		},
	})
	require.NoError(t, s.Start(context.Background()))
	<-started

	s.Stop(context.Background())
	assert.True(t, finished.Load())
}

func TestService_InvalidJobs(t *testing.T) {
	s := NewService(false, Job{Name: "broken", Run: func(context.Context) error { return errors.New("never") }})
	assert.Error(t, s.Start(context.Background()))
}
