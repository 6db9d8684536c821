// Package worker saves traffic snapshots in the background so webhook
// requests never wait on the database.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yourorg/traffic-bridge/internal/logger"
	"github.com/yourorg/traffic-bridge/internal/metrics"
	"github.com/yourorg/traffic-bridge/internal/model"
)

var (
	ErrQueueFull = errors.New("persistence queue is full")
	ErrClosed    = errors.New("persistence pool is closed")
)

// Saver is the persistence sink.
type Saver interface {
	InsertSnapshot(ctx context.Context, s model.Snapshot) (int64, error)
}

type Options struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseDelay   time.Duration
	// SaveTimeout bounds a single attempt.
	SaveTimeout time.Duration
}

func (o *Options) defaults() {
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 200 * time.Millisecond
	}
	if o.SaveTimeout <= 0 {
		o.SaveTimeout = 5 * time.Second
	}
}

// Pool is a fixed set of goroutines draining a bounded queue.
type Pool struct {
	saver  Saver
	opts   Options
	logger *logger.Logger

	queue chan model.Snapshot
	wg    sync.WaitGroup

	// ctx is cancelled only when Close gives up waiting, which aborts any
	// pending retries.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewPool(saver Saver, opts Options, log *logger.Logger) *Pool {
	opts.defaults()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		saver:  saver,
		opts:   opts,
		logger: log,
		queue:  make(chan model.Snapshot, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < opts.Workers; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
	return p
}

// Submit enqueues s without blocking.
func (p *Pool) Submit(s model.Snapshot) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- s:
		metrics.PersistQueueDepth.Inc()
		return nil
	default:
		metrics.PersistFailuresTotal.WithLabelValues("queue_full").Inc()
		return ErrQueueFull
	}
}

// Close stops accepting work and waits for queued snapshots to be saved or
// for ctx to expire, whichever comes first.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

func (p *Pool) run(id int) {
	defer p.wg.Done()
	for s := range p.queue {
		metrics.PersistQueueDepth.Dec()
		p.save(id, s)
	}
}

func (p *Pool) save(workerID int, s model.Snapshot) {
	var rowID int64
	err := retry(p.ctx, p.opts.MaxAttempts, p.opts.BaseDelay, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, p.opts.SaveTimeout)
		defer cancel()
		id, err := p.saver.InsertSnapshot(ctx, s)
		if err != nil {
			return err
		}
		rowID = id
		return nil
	}, func(attempt int, err error) {
		p.logger.Warn("Snapshot save attempt failed", "worker", workerID, "attempt", attempt, "error", err)
	})
	if err != nil {
		metrics.PersistFailuresTotal.WithLabelValues("save").Inc()
		p.logger.Error("Snapshot dropped after retries", "worker", workerID, "attempts", p.opts.MaxAttempts, "error", err)
		return
	}
	p.logger.Info("Snapshot saved", "id", rowID, "total_vehicles", s.TotalVehicles)
}
