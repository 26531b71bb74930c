package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChrisMcGann/idpdb/pkg/core"
)

func steps(n int, gate <-chan struct{}, done *int) Func {
	return func(ctx context.Context, report core.ProgressFunc) error {
		for i := 1; i <= n; i++ {
			if report(core.Progress{Stage: "step", Completed: i, Total: n}) {
				return nil
			}
			if gate != nil {
				<-gate
			}
			*done = i
		}
		return nil
	}
}

func TestJobReportsProgress(t *testing.T) {
	var done int
	job := Start(context.Background(), steps(5, nil, &done))

	var got []int
	for p := range job.Progress() {
		got = append(got, p.Completed)
	}
	require.NoError(t, job.Wait())
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
	assert.Equal(t, 5, done)
	assert.False(t, job.Cancelled())
	assert.Zero(t, job.Dropped())
}

func TestJobCancelAtStepBoundary(t *testing.T) {
	gate := make(chan struct{})
	var done int
	job := Start(context.Background(), steps(10, gate, &done))

	var got []int
	for p := range job.Progress() {
		got = append(got, p.Completed)
		if p.Completed == 3 {
			job.Cancel()
		}
		gate <- struct{}{}
	}
	require.NoError(t, job.Wait())
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.Equal(t, 3, done, "the step in flight completes")
	assert.True(t, job.Cancelled())
}

func TestJobError(t *testing.T) {
	boom := errors.New("boom")
	job := Start(context.Background(), func(ctx context.Context, report core.ProgressFunc) error {
		report(core.Progress{Stage: "failing", Completed: 0, Total: 1, Err: boom})
		return boom
	})
	p := <-job.Progress()
	assert.ErrorIs(t, p.Err, boom)
	assert.ErrorIs(t, job.Wait(), boom)
}

func TestJobContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := Start(ctx, func(ctx context.Context, report core.ProgressFunc) error {
		<-ctx.Done()
		return ctx.Err()
	})
	cancel()

	errc := make(chan error, 1)
	go func() { errc <- job.Wait() }()
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("job did not stop")
	}
}

func TestJobDropsWhenNobodyListens(t *testing.T) {
	var done int
	job := Start(context.Background(), steps(progressBuffer+10, nil, &done))
	require.NoError(t, job.Wait())
	assert.Equal(t, progressBuffer+10, done)
	assert.Equal(t, int64(10), job.Dropped())
}
