package async

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Pool runs submitted functions on a fixed set of workers. Callers block in Do
// until their function has run, so the pool caps how many run at once.
type Pool struct {
	logger  *slog.Logger
	workers int

	ch   chan *job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.RWMutex
	closed bool
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.ch = make(chan *job, n)
		}
	}
}

func NewPool(logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		logger:  logger,
		workers: 4,
		ch:      make(chan *job, 256),
	}
	for _, o := range opts {
		o(p)
	}
	p.start()
	return p
}

// Workers reports the configured concurrency.
func (p *Pool) Workers() int { return p.workers }

func (p *Pool) start() {
	p.once.Do(func() {
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Debug("worker started", "worker_id", workerID)

				for j := range p.ch {
					if !j.claim() {
						continue
					}
					if err := j.ctx.Err(); err != nil {
						j.done <- err
						continue
					}
					p.logger.Debug("async.job.start", "worker_id", workerID, "queued_ms", time.Since(j.submittedAt).Milliseconds())
					j.done <- p.run(j)
				}

				p.logger.Debug("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *Pool) run(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("async.job.panic", "panic", r)
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return j.run(j.ctx)
}

// Do queues fn and waits for it to finish. If ctx ends while fn is still
// queued, fn is skipped and ctx.Err() is returned. A running fn is waited for.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := newJob(ctx, fn)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrClosed
	}
	select {
	case p.ch <- j:
	default:
		p.logger.Warn("queue full, applying backpressure", "workers", p.workers)
		select {
		case p.ch <- j:
		case <-ctx.Done():
			p.mu.RUnlock()
			return ctx.Err()
		}
	}
	p.mu.RUnlock()

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if j.abandon() {
			return ctx.Err()
		}
		return <-j.done
	}
}

// Shutdown stops accepting work and waits for queued jobs to drain or ctx to end.
func (p *Pool) Shutdown(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("shutdown interrupted by context")
	case <-done:
		p.logger.Info("queue drained, shutdown complete")
	}
}
