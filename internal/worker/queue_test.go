package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/traffic-bridge/internal/logger"
)

func TestQueue_RunsTasksInOrderAndDrainsOnClose(t *testing.T) {
	q := NewQueue("test", 8, time.Second, logger.NewNopLogger())

	var got []int
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Submit(func(context.Context) error {
			got = append(got, i)
			return nil
		}))
	}
	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	assert.ErrorIs(t, q.Submit(func(context.Context) error { return nil }), ErrClosed)
}

func TestQueue_SubmitNeverBlocksOnSlowTask(t *testing.T) {
	q := NewQueue("test", 1, time.Second, logger.NewNopLogger())
	release := make(chan struct{})
	started := make(chan struct{})

	require.NoError(t, q.Submit(func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	begin := time.Now()
	require.NoError(t, q.Submit(func(context.Context) error { return nil }))
	assert.ErrorIs(t, q.Submit(func(context.Context) error { return nil }), ErrQueueFull)
	assert.Less(t, time.Since(begin), 100*time.Millisecond)

	close(release)
	require.NoError(t, q.Close(context.Background()))
}

func TestQueue_TaskTimeoutAndFailuresDoNotStopQueue(t *testing.T) {
	q := NewQueue("test", 4, 20*time.Millisecond, logger.NewNopLogger())
	var ran atomic.Int32

	require.NoError(t, q.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, q.Submit(func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, q.Submit(func(context.Context) error {
		ran.Add(1)
		return nil
	}))

	require.NoError(t, q.Close(context.Background()))
	assert.Equal(t, int32(1), ran.Load())
}

func TestQueue_CloseDeadlineCancelsRunningTask(t *testing.T) {
	q := NewQueue("test", 4, time.Minute, logger.NewNopLogger())
	started := make(chan struct{})
	var skipped atomic.Bool

	require.NoError(t, q.Submit(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}))
	require.NoError(t, q.Submit(func(context.Context) error {
		skipped.Store(true)
		return nil
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Close(ctx), context.DeadlineExceeded)
	assert.False(t, skipped.Load())
}
