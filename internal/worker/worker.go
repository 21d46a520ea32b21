// Package worker runs a deduplication pass on a dedicated goroutine.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/yuya-takeyama/trusted-dedup/internal/logging"
	"github.com/yuya-takeyama/trusted-dedup/pkg/dedup"
	"github.com/yuya-takeyama/trusted-dedup/pkg/report"
	"github.com/yuya-takeyama/trusted-dedup/pkg/stats"
)

// ErrFatal is returned when the pass panicked. The counters gathered until
// then are still returned.
var ErrFatal = errors.New("fatal error in worker")

// Runner is the pass being run. *dedup.Engine implements it.
type Runner interface {
	Run(ctx context.Context, req dedup.Request) (stats.Snapshot, error)
	Stats() *stats.Stats
	Sink() report.Sink
}

// Job is one running pass
type Job struct {
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	snap stats.Snapshot
	err  error
}

// Start launches the pass. The caller keeps ctx; cancelling it or calling
// Job.Cancel stops the pass at the next file, folder or confirmation.
func Start(ctx context.Context, runner Runner, req dedup.Request) *Job {
	ctx, cancel := context.WithCancel(ctx)
	j := &Job{
		runner: runner,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go j.run(ctx, req)
	return j
}

func (j *Job) run(ctx context.Context, req dedup.Request) {
	defer close(j.done)
	defer j.cancel()

	logger := logging.L("worker")
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker panicked", "panic", r, "stack", string(debug.Stack()))
			snap := j.runner.Stats().Snapshot()
			sink := j.runner.Sink()
			sink.Line(fmt.Sprintf("Fatal error: %v", r))
			sink.Line("")
			for _, line := range snap.SummaryLines(true) {
				sink.Line(line)
			}
			j.finish(snap, fmt.Errorf("%w: %v", ErrFatal, r))
		}
	}()

	snap, err := j.runner.Run(ctx, req)
	j.finish(snap, err)
}

func (j *Job) finish(snap stats.Snapshot, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.snap = snap
	j.err = err
}

// Cancel asks the pass to stop. It does not wait.
func (j *Job) Cancel() {
	j.cancel()
}

// Done is closed when the pass has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the pass has finished and returns its final counters
func (j *Job) Wait() (stats.Snapshot, error) {
	<-j.done
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.snap, j.err
}

// Stats returns the live counters
func (j *Job) Stats() stats.Snapshot {
	return j.runner.Stats().Snapshot()
}
