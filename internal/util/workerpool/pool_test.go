package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestWorkerPool_Run(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 3, QueueSize: 2, Logger: zap.NewNop()})
	defer pool.Stop(time.Second)

	var ran int32
	boom := errors.New("boom")

	tasks := make([]Task, 10)
	for i := range tasks {
		i := i
		tasks[i] = Task{
			ID: "task",
			Fn: func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				if i%3 == 0 {
					return boom
				}
				return nil
			},
		}
	}

	errs := pool.Run(context.Background(), tasks)
	require.Len(t, errs, 10)
	assert.Equal(t, int32(10), atomic.LoadInt32(&ran))

	for i, err := range errs {
		if i%3 == 0 {
			assert.ErrorIs(t, err, boom)
		} else {
			assert.NoError(t, err)
		}
	}

	stats := pool.Stats()
	assert.Equal(t, uint64(10), stats.TotalTasks)
	assert.Equal(t, uint64(4), stats.FailedTasks)
	assert.Equal(t, uint64(6), stats.CompletedTasks)
}

func TestWorkerPool_PanicRecovered(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "panic", MaxWorkers: 1})
	defer pool.Stop(time.Second)

	errs := pool.Run(context.Background(), []Task{{
		ID: "panics",
		Fn: func(ctx context.Context) error { panic("bad payout") },
	}})
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "task panicked")
}

func TestWorkerPool_StoppedRejects(t *testing.T) {
	pool := NewWorkerPool(&Config{Name: "stopped", MaxWorkers: 1})
	require.NoError(t, pool.Stop(time.Second))

	assert.False(t, pool.TrySubmit(Task{Fn: func(context.Context) error { return nil }}))

	errs := pool.Run(context.Background(), []Task{{Fn: func(context.Context) error { return nil }}})
	assert.Error(t, errs[0])
}

func TestStats_QueueUtilization(t *testing.T) {
	assert.Equal(t, 50.0, Stats{QueueSize: 4, QueuedTasks: 2}.QueueUtilization())
	assert.Equal(t, 0.0, Stats{}.QueueUtilization())
}

func TestWorkerPool_RunReturnsWhenStoppedMidway(t *testing.T) {
	for i := 0; i < 50; i++ {
		pool := NewWorkerPool(&Config{Name: "test", MaxWorkers: 1, QueueSize: 1, Logger: zap.NewNop()})

		tasks := make([]Task, 20)
		for j := range tasks {
			tasks[j] = Task{ID: "task", Fn: func(ctx context.Context) error { return nil }}
		}

		done := make(chan []error)
		go func() { done <- pool.Run(context.Background(), tasks) }()
		require.NoError(t, pool.Stop(time.Second))

		select {
		case errs := <-done:
			require.Len(t, errs, len(tasks))
		case <-time.After(2 * time.Second):
			t.Fatalf("Run did not return after Stop (iteration %d)", i)
		}
	}
}
