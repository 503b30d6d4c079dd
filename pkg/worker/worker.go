package worker

import (
	"context"
	"errors"
	"sync"

	"github.com/nimasrn/deposit-gateway/pkg/logger"
)

var ErrStopped = errors.New("worker manager stopped")

type WorkerHandler = func(ctx context.Context, workerIndex int, job interface{})

// WorkerManager distributes jobs from a buffered channel over a fixed number
// of goroutines. Jobs already queued when Exit is called are still handled.
type WorkerManager struct {
	numberOfWorker int
	jobChannel     chan interface{}
	do             WorkerHandler
	waiter         sync.WaitGroup
	quit           chan struct{}
	once           sync.Once
}

func NewWorkerManager(bufferSize, numberOfWorkers int) *WorkerManager {
	if numberOfWorkers <= 0 {
		numberOfWorkers = 1
	}
	return &WorkerManager{
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan interface{}, bufferSize),
		quit:           make(chan struct{}),
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue blocks until a slot is free, ctx is done or the manager exits.
func (w *WorkerManager) Enqueue(ctx context.Context, job interface{}) error {
	select {
	case <-w.quit:
		return ErrStopped
	default:
	}

	select {
	case w.jobChannel <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.quit:
		return ErrStopped
	}
}

// Start runs the workers and blocks until ctx is cancelled or Exit is
// called, then waits for the queued jobs to finish.
func (w *WorkerManager) Start(ctx context.Context) error {
	if w.do == nil {
		return errors.New("worker handler is not set")
	}

	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go w.run(ctx, i)
	}

	select {
	case <-ctx.Done():
		w.Exit()
	case <-w.quit:
	}
	w.waiter.Wait()
	return ErrStopped
}

func (w *WorkerManager) run(ctx context.Context, index int) {
	defer w.waiter.Done()
	for {
		select {
		case job := <-w.jobChannel:
			w.handle(ctx, index, job)
		case <-w.quit:
			// drain what is already buffered
			for {
				select {
				case job := <-w.jobChannel:
					w.handle(context.WithoutCancel(ctx), index, job)
				default:
					return
				}
			}
		}
	}
}

func (w *WorkerManager) handle(ctx context.Context, index int, job interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panic recovered", "worker", index, "error", r)
		}
	}()
	w.do(ctx, index, job)
}

func (w *WorkerManager) Exit() {
	w.once.Do(func() {
		logger.Info("worker manager is shutting down", "workers", w.numberOfWorker, "queued", len(w.jobChannel))
		close(w.quit)
	})
}
