// Package workerpool runs independent per-item tasks with bounded concurrency.
// Failures are isolated: a failing or panicking task is reported and excluded
// from the results, and never stops its siblings. Run returns only after every
// submitted task has finished.
package workerpool

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for pool tasks.
var poolTasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "backup_pool_tasks_total",
	Help: "Total number of pool tasks by pool and outcome",
}, []string{"pool", "outcome"})

// Task processes one item.
type Task[I, R any] func(ctx context.Context, item I) (R, error)

// ProgressFunc is invoked after every completed task.
type ProgressFunc func(done, total int)

// Config holds pool configuration.
type Config struct {
	// Name identifies the pool in logs and metrics.
	Name string

	// Concurrency is the number of parallel workers. Clamped to [1, items].
	Concurrency int

	// ProgressInterval is the cadence of progress log lines while draining.
	// Zero disables periodic logging.
	ProgressInterval time.Duration

	// OnProgress is called from the collecting goroutine after each task.
	OnProgress ProgressFunc

	// Logger defaults to the global zerolog logger.
	Logger *zerolog.Logger
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		Concurrency:      1,
		ProgressInterval: 5 * time.Second,
	}
}

// Failure describes one task that did not produce a result.
type Failure[I any] struct {
	Item  I
	Label string
	Err   error
}

// Result holds the outcome of a run. Results are in completion order.
type Result[I, R any] struct {
	Results  []R
	Failures []Failure[I]
	Total    int
}

// Succeeded returns the number of successful tasks.
func (r Result[I, R]) Succeeded() int { return len(r.Results) }

// Pool runs tasks over items of type I producing results of type R.
type Pool[I, R any] struct {
	config Config
	label  func(I) string
	logger zerolog.Logger
}

// New creates a pool. label names an item in failure logs; nil uses %v.
func New[I, R any](config Config, label func(I) string) *Pool[I, R] {
	if config.Name == "" {
		config.Name = "pool"
	}
	if label == nil {
		label = func(item I) string { return fmt.Sprintf("%v", item) }
	}
	logger := log.Logger
	if config.Logger != nil {
		logger = *config.Logger
	}

	return &Pool[I, R]{
		config: config,
		label:  label,
		logger: logger.With().Str("pool", config.Name).Logger(),
	}
}

// RunAll runs task over items with the given concurrency using default settings.
func RunAll[I, R any](ctx context.Context, items []I, task Task[I, R], concurrency int) Result[I, R] {
	cfg := DefaultConfig("pool")
	cfg.Concurrency = concurrency
	return New[I, R](cfg, nil).Run(ctx, items, task)
}

type outcome[I, R any] struct {
	item   I
	result R
	err    error
}

// Run executes task for every item and blocks until all tasks have finished.
func (p *Pool[I, R]) Run(ctx context.Context, items []I, task Task[I, R]) Result[I, R] {
	total := len(items)
	res := Result[I, R]{Total: total}
	if total == 0 {
		return res
	}

	workers := p.config.Concurrency
	if workers < 1 {
		workers = 1
	}
	if workers > total {
		workers = total
	}

	start := time.Now()
	p.logger.Debug().Int("items", total).Int("workers", workers).Msg("Starting pool")

	outcomes := make(chan outcome[I, R], workers)

	// Dispatcher: g.Go blocks once the limit is reached
	go func() {
		var g errgroup.Group
		g.SetLimit(workers)
		for _, item := range items {
			g.Go(func() error {
				outcomes <- p.runOne(ctx, item, task)
				return nil
			})
		}
		_ = g.Wait()
		close(outcomes)
	}()

	var ticker <-chan time.Time
	if p.config.ProgressInterval > 0 {
		t := time.NewTicker(p.config.ProgressInterval)
		defer t.Stop()
		ticker = t.C
	}

	done := 0
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				p.logger.Debug().
					Int("succeeded", len(res.Results)).
					Int("failed", len(res.Failures)).
					Int("total", total).
					Dur("duration", time.Since(start)).
					Msg("Pool drained")
				return res
			}
			done++
			if o.err != nil {
				label := p.label(o.item)
				res.Failures = append(res.Failures, Failure[I]{Item: o.item, Label: label, Err: o.err})
				poolTasksTotal.WithLabelValues(p.config.Name, "failed").Inc()
				p.logger.Error().Err(o.err).Str("item", label).Msg("Task failed")
			} else {
				res.Results = append(res.Results, o.result)
				poolTasksTotal.WithLabelValues(p.config.Name, "succeeded").Inc()
			}
			if p.config.OnProgress != nil {
				p.config.OnProgress(done, total)
			}
		case <-ticker:
			p.logger.Info().
				Int("done", done).
				Int("total", total).
				Float64("progress_pct", float64(done)/float64(total)*100).
				Msg("Pool progress")
		}
	}
}

func (p *Pool[I, R]) runOne(ctx context.Context, item I, task Task[I, R]) (o outcome[I, R]) {
	o.item = item
	defer func() {
		if r := recover(); r != nil {
			o.err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		o.err = fmt.Errorf("not started: %w", err)
		return o
	}
	o.result, o.err = task(ctx, item)
	return o
}
