package async

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Do after Shutdown has started.
var ErrClosed = errors.New("worker pool is shutting down")

// Job lifecycle states.
const (
	jobQueued int32 = iota
	jobRunning
	jobAbandoned
)

// job is one unit of work handed to a worker. The submitter waits on done.
type job struct {
	ctx         context.Context
	run         func(ctx context.Context) error
	done        chan error
	state       atomic.Int32
	submittedAt time.Time
}

func newJob(ctx context.Context, fn func(ctx context.Context) error) *job {
	return &job{ctx: ctx, run: fn, done: make(chan error, 1), submittedAt: time.Now()}
}

// claim moves a queued job to running. It fails when the submitter gave up first.
func (j *job) claim() bool { return j.state.CompareAndSwap(jobQueued, jobRunning) }

// abandon marks a still-queued job as not wanted. It fails once a worker claimed it.
func (j *job) abandon() bool { return j.state.CompareAndSwap(jobQueued, jobAbandoned) }

// Runner executes functions under bounded concurrency.
type Runner interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
	Shutdown(ctx context.Context)
}
