// Package runner runs a long filter or merge on a background goroutine and
// exposes its progress as a channel, for front ends that must stay responsive.
package runner

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

// progressBuffer is how many updates may queue before new ones are dropped.
const progressBuffer = 64

// Func is a job body. It must call report before every step and stop,
// returning nil, once report returns true.
type Func func(ctx context.Context, report core.ProgressFunc) error

// Job is a running Func.
type Job struct {
	g         *errgroup.Group
	cancelCtx context.CancelFunc
	progress  chan core.Progress
	cancelled atomic.Bool
	dropped   atomic.Int64
}

// Start runs fn on a new goroutine.
func Start(ctx context.Context, fn Func) *Job {
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	j := &Job{
		g:         g,
		cancelCtx: cancel,
		progress:  make(chan core.Progress, progressBuffer),
	}
	g.Go(func() error {
		defer close(j.progress)
		return fn(gctx, j.report)
	})
	return j
}

func (j *Job) report(p core.Progress) bool {
	if j.cancelled.Load() {
		return true
	}
	select {
	case j.progress <- p:
	default:
		j.dropped.Add(1)
	}
	return j.cancelled.Load()
}

// Progress delivers the job's progress updates and is closed when the job ends.
// Updates are dropped while the buffer is full.
func (j *Job) Progress() <-chan core.Progress { return j.progress }

// Cancel asks the job to stop at its next step boundary. The step in flight
// runs to completion, so the database is never left between steps.
func (j *Job) Cancel() { j.cancelled.Store(true) }

// Cancelled reports whether Cancel was called.
func (j *Job) Cancelled() bool { return j.cancelled.Load() }

// Dropped returns how many progress updates did not fit the buffer.
func (j *Job) Dropped() int64 { return j.dropped.Load() }

// Wait blocks until the job returns and returns its error.
func (j *Job) Wait() error {
	err := j.g.Wait()
	j.cancelCtx()
	return err
}
