package worker

import (
	"context"
	"sync"
	"time"

	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/metrics"
)

// Task is one unit of background work. ctx carries the per-task timeout.
type Task func(ctx context.Context) error

// Queue runs best-effort side tasks (image mirroring, event publishing) on a
// single goroutine so callers never wait on a slow downstream.
type Queue struct {
	name    string
	timeout time.Duration
	logger  *logger.Logger

	tasks chan Task
	done  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewQueue starts a queue holding up to size pending tasks. Each task gets
// at most timeout to finish.
func NewQueue(name string, size int, timeout time.Duration, log *logger.Logger) *Queue {
	if size <= 0 {
		size = 32
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		name:    name,
		timeout: timeout,
		logger:  log.With("queue", name),
		tasks:   make(chan Task, size),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go q.run()
	return q
}

// Submit enqueues t without blocking.
func (q *Queue) Submit(t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.tasks <- t:
		return nil
	default:
		metrics.BackgroundTaskFailuresTotal.WithLabelValues(q.name, "queue_full").Inc()
		return ErrQueueFull
	}
}

// Close stops accepting tasks and waits for pending ones. When ctx expires
// first, the running task is cancelled, the rest are skipped and ctx.Err()
// is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.tasks)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for t := range q.tasks {
		if q.ctx.Err() != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
		err := t(ctx)
		cancel()
		if err != nil {
			metrics.BackgroundTaskFailuresTotal.WithLabelValues(q.name, "task").Inc()
			q.logger.Warn("Background task failed", "error", err)
		}
	}
}
