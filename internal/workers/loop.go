package workers

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// ErrNoWork is returned by a WorkerFunc that found nothing to do. It is not
// logged as a failure.
var ErrNoWork = errors.New("workers: no work available")

// WorkerFunc defines the function signature for work performed by a worker loop.
// It returns the number of items processed and any critical error encountered.
type WorkerFunc func(ctx context.Context, batchSize int) (int, error)

// Loop runs Work every Interval until its context ends.
type Loop struct {
	Name      string
	Interval  time.Duration
	BatchSize int
	// Timeout bounds one run. Zero means one minute.
	Timeout time.Duration
	Work    WorkerFunc
}

// Run runs the loop. A run that processed a full batch is followed
// immediately by another one instead of waiting for the next tick.
func (l Loop) Run(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("worker", l.Name))
	logger.InfoContext(ctx, "Worker starting",
		slog.Duration("interval", l.Interval),
		slog.Int("batch_size", l.BatchSize),
	)
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "Worker stopping")
			return
		case <-ticker.C:
			for {
				n := l.runOnce(ctx, logger)
				if l.BatchSize <= 0 || n < l.BatchSize || ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// runOnce executes a single batch of work with a timeout.
func (l Loop) runOnce(ctx context.Context, logger *slog.Logger) int {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n, err := l.Work(runCtx, l.BatchSize)
	switch {
	case err != nil && !errors.Is(err, ErrNoWork) && ctx.Err() == nil:
		logger.ErrorContext(ctx, "Worker run failed", slog.Any("error", err))
	case n > 0:
		logger.DebugContext(ctx, "Worker processed items", slog.Int("count", n))
	}
	return n
}
