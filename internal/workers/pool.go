// Package workers runs a flat list of tasks across a fixed number of
// goroutines. Tasks are split into balanced shards, one per worker, while a
// progress monitor and an optional flush loop run alongside. Run joins
// everything and always waits for the flush loop's final drain.
package workers

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anstrom/mcscan/internal/errors"
	"github.com/anstrom/mcscan/internal/logging"
	"github.com/anstrom/mcscan/internal/metrics"
)

// Handler processes one task. ok reports whether result should be collected.
// A non-nil error is fatal: it cancels the run and is returned from Run.
type Handler[T, R any] func(ctx context.Context, task T) (result R, ok bool, err error)

// Flusher is a background loop that drains buffered results. Run is started
// before the workers; Stop and Wait are called after they have joined.
type Flusher interface {
	Run(ctx context.Context) error
	Stop()
	Wait() error
}

// Config holds configuration for a run.
type Config struct {
	// Workers is the number of worker goroutines.
	Workers int
	// ProgressInterval is how often the monitor reports progress.
	ProgressInterval time.Duration
	Logger           *logging.Logger
	Metrics          *metrics.PrometheusMetrics
}

// DefaultConfig returns a default run configuration.
func DefaultConfig() Config {
	return Config{
		Workers:          2048,
		ProgressInterval: 15 * time.Second,
	}
}

// Partition splits tasks into n shards whose sizes differ by at most one.
// The first len(tasks)%n shards get the extra task. When n exceeds the
// number of tasks only len(tasks) shards are returned.
func Partition[T any](tasks []T, n int) [][]T {
	if len(tasks) == 0 {
		return nil
	}
	n = max(1, min(n, len(tasks)))

	shards := make([][]T, n)
	size, extra := len(tasks)/n, len(tasks)%n
	start := 0
	for i := range shards {
		end := start + size
		if i < extra {
			end++
		}
		shards[i] = tasks[start:end:end]
		start = end
	}
	return shards
}

// Run processes tasks with handler on cfg.Workers goroutines and returns the
// collected results. When flusher is not nil its loop runs for the duration of
// the run and is stopped and drained after the workers join, including when a
// task fails or ctx is canceled.
func Run[T, R any](ctx context.Context, tasks []T, handler Handler[T, R], cfg Config, flusher Flusher) ([]R, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.GetGlobalMetrics()
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultConfig().ProgressInterval
	}

	shards := Partition(tasks, cfg.Workers)
	counters := make([]atomic.Int64, len(shards))
	results := make([][]R, len(shards))

	cfg.Logger.Info("Starting workers",
		"workers", len(shards),
		"tasks", len(tasks),
		"shard_size", len(shards[0]))

	if flusher != nil {
		// The flush loop outlives a failed run so its final drain still happens.
		go func() { _ = flusher.Run(ctx) }()
	}

	monitorCtx, stopMonitor := context.WithCancel(ctx)
	mon := newMonitor(counters, int64(len(tasks)), cfg.ProgressInterval, cfg.Logger, cfg.Metrics)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		mon.run(monitorCtx)
	}()

	cfg.Metrics.SetActiveWorkers(len(shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, shard := range shards {
		g.Go(func() error {
			for _, task := range shard {
				if err := gctx.Err(); err != nil {
					return err
				}
				result, ok, err := handler(gctx, task)
				counters[i].Add(1)
				if err != nil {
					return err
				}
				if ok {
					results[i] = append(results[i], result)
				}
			}
			return nil
		})
	}
	workErr := g.Wait()
	cfg.Metrics.SetActiveWorkers(0)

	stopMonitor()
	<-monitorDone

	var flushErr error
	if flusher != nil {
		flusher.Stop()
		flushErr = flusher.Wait()
	}

	var collected []R
	for _, r := range results {
		collected = append(collected, r...)
	}

	if workErr != nil {
		cfg.Logger.Error("Workers stopped early", "error", workErr, "completed", mon.completed(), "tasks", len(tasks))
	}
	return collected, errors.Join(workErr, flushErr)
}
