// Package worker provides the gateway's background tasks and the runner
// that supervises them.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Worker is a long-running background task. Run blocks until ctx is
// cancelled or the task hits an unrecoverable error; a clean shutdown
// returns nil.
type Worker interface {
	Run(ctx context.Context) error
}

// Runner supervises a set of workers as one unit. The first worker error
// cancels the rest.
type Runner struct {
	workers []Worker
}

// NewRunner creates a Runner over the given workers.
func NewRunner(workers ...Worker) *Runner {
	return &Runner{workers: workers}
}

// Run starts every worker and blocks until all of them return. It reports
// the first non-nil worker error, after cancelling the remaining workers.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		slog.Info("worker started", "type", workerName(w))
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	return g.Wait()
}

func workerName(w Worker) string {
	if n, ok := w.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", w)
}
