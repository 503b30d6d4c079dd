package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerManagerProcessesJobs(t *testing.T) {
	w := NewWorkerManager(10, 3)
	var handled atomic.Int64
	w.SetWorker(func(ctx context.Context, idx int, job interface{}) {
		handled.Add(int64(job.(int)))
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	for i := 1; i <= 5; i++ {
		require.NoError(t, w.Enqueue(ctx, i))
	}

	assert.Eventually(t, func() bool { return handled.Load() == 15 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrStopped)
	case <-time.After(time.Second):
		t.Fatal("workers did not stop")
	}
}

func TestWorkerManagerExitRejectsNewJobs(t *testing.T) {
	w := NewWorkerManager(1, 1)
	w.SetWorker(func(ctx context.Context, idx int, job interface{}) {})

	done := make(chan error, 1)
	go func() { done <- w.Start(context.Background()) }()

	w.Exit()
	<-done

	err := w.Enqueue(context.Background(), 1)
	assert.ErrorIs(t, err, ErrStopped)
}

func TestWorkerManagerRecoversPanics(t *testing.T) {
	w := NewWorkerManager(2, 1)
	var handled atomic.Int64
	w.SetWorker(func(ctx context.Context, idx int, job interface{}) {
		if job == "panic" {
			panic("boom")
		}
		handled.Add(1)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Start(ctx) }()

	require.NoError(t, w.Enqueue(ctx, "panic"))
	require.NoError(t, w.Enqueue(ctx, "ok"))

	assert.Eventually(t, func() bool { return handled.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStartWithoutHandler(t *testing.T) {
	w := NewWorkerManager(1, 1)
	assert.Error(t, w.Start(context.Background()))
}
