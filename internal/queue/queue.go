// Package queue runs deferred units of work on a fixed pool of workers.
package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pdf-intake/backend/internal/logger"
)

var ErrClosed = errors.New("queue is shut down")

// Task is one deferred unit. Run receives a context bounded by the
// queue's process timeout.
type Task struct {
	ID  string
	Run func(ctx context.Context) error
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

type Queue struct {
	logger  *logger.Logger
	workers int
	timeout time.Duration

	ch   chan Task
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool

	processed atomic.Int64
	failed    atomic.Int64
}

type Option func(*Queue)

func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Task, n)
		}
	}
}

// WithProcessTimeout bounds each task. Zero or negative keeps the default.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// New starts the workers immediately.
func New(log *logger.Logger, opts ...Option) *Queue {
	if log == nil {
		log = logger.Nop()
	}
	q := &Queue{
		logger:  log.With("component", "queue"),
		workers: 4,
		timeout: 3 * time.Minute,
		ch:      make(chan Task, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(i + 1)
		}
	})
}

func (q *Queue) work(workerID int) {
	defer q.wg.Done()
	q.logger.Debug("worker started", "worker_id", workerID)

	for task := range q.ch {
		q.run(workerID, task)
	}

	q.logger.Debug("worker stopped", "worker_id", workerID)
}

func (q *Queue) run(workerID int, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.logger.Error("task panicked", "worker_id", workerID, "task_id", task.ID, "panic", r)
		}
	}()

	if err := task.Run(ctx); err != nil {
		q.failed.Add(1)
		q.logger.Warn("task failed", "worker_id", workerID, "task_id", task.ID, "error", err)
		return
	}
	q.processed.Add(1)
	q.logger.Debug("task done", "worker_id", workerID, "task_id", task.ID)
}

// Submit enqueues a task. When the buffer is full it blocks until a slot
// frees up or ctx is done.
func (q *Queue) Submit(ctx context.Context, task Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}

	select {
	case q.ch <- task:
		return nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "task_id", task.ID)
	select {
	case q.ch <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) Stats() Stats {
	return Stats{
		Workers:   q.workers,
		Queued:    len(q.ch),
		Processed: q.processed.Load(),
		Failed:    q.failed.Load(),
	}
}

// Shutdown stops accepting tasks and waits for queued ones to finish or
// for ctx to end, whichever comes first.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted before queue drained", "queued", len(q.ch))
		return ctx.Err()
	case <-done:
		q.logger.Info("queue drained")
		return nil
	}
}
