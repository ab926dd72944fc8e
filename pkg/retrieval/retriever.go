// Package retrieval assembles self-contained configuration records from the
// Opsgenie API.
//
// Every retriever follows the same template: list the lightweight meta
// records, size a worker pool from the rate-limit budget, fan out one
// enrichment task per record, and return the populated records in a
// deterministic order. A failure to complete the listing is fatal; a failure
// to enrich one record is logged and only excludes that record.
package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/opsgenie"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
)

// Prometheus metrics for retrieval batches.
var (
	entitiesRetrieved = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backup_entities_retrieved",
		Help: "Number of entities retrieved in the last batch by kind",
	}, []string{"kind"})

	entitiesFailed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backup_entities_failed",
		Help: "Number of entities excluded from the last batch by kind",
	}, []string{"kind"})
)

// EntityRetriever retrieves every entity of one kind.
type EntityRetriever[T any] interface {
	RetrieveEntities(ctx context.Context) ([]T, error)
}

// Limiter supplies the permitted worker count for a domain.
// *ratelimit.Budget implements it.
type Limiter interface {
	Limit(ctx context.Context, domain ratelimit.Domain, baseline int) int
}

// Config holds retriever configuration.
type Config struct {
	// Baseline is the concurrency requested from the budget.
	Baseline int `yaml:"baseline"`

	// PoolDomain sizes the enrichment pools.
	PoolDomain ratelimit.Domain `yaml:"pool_domain"`

	// PageSize of paginated listings.
	PageSize int `yaml:"page_size"`

	// ProgressInterval is the cadence of progress logs while a pool drains.
	ProgressInterval time.Duration `yaml:"progress_interval"`
}

// DefaultConfig returns the default retriever configuration.
func DefaultConfig() Config {
	return Config{
		Baseline:         1,
		PoolDomain:       ratelimit.DomainSearch,
		PageSize:         100,
		ProgressInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Baseline <= 0 {
		c.Baseline = d.Baseline
	}
	if c.PoolDomain == "" {
		c.PoolDomain = d.PoolDomain
	}
	if c.PageSize <= 0 {
		c.PageSize = d.PageSize
	}
	if c.ProgressInterval < 0 {
		c.ProgressInterval = 0
	}
	return c
}

// Outcome is the result of fetching an optional sub-resource.
type Outcome int

const (
	// Found means the sub-resource was fetched.
	Found Outcome = iota
	// NotApplicable means the sub-resource does not exist for this entity.
	NotApplicable
	// Failed means the fetch failed after retries.
	Failed
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotApplicable:
		return "not_applicable"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Enrichment is a tri-state fetch result.
type Enrichment[T any] struct {
	Value   T
	Outcome Outcome
	Err     error
}

// enrich runs op through the executor and maps its error onto an Outcome.
func enrich[T any](ctx context.Context, executor *retry.Executor, domain ratelimit.Domain, op func(context.Context) (T, error)) Enrichment[T] {
	v, err := retry.InvokeDomain(ctx, executor, domain, op)
	switch {
	case err == nil:
		return Enrichment[T]{Value: v, Outcome: Found}
	case opsgenie.IsNotApplicable(err):
		return Enrichment[T]{Outcome: NotApplicable, Err: err}
	default:
		return Enrichment[T]{Outcome: Failed, Err: err}
	}
}

// compareFold orders strings case-insensitively, falling back to a
// byte-wise comparison so that the order is total.
func compareFold(a, b string) int {
	if c := strings.Compare(strings.ToLower(a), strings.ToLower(b)); c != 0 {
		return c
	}
	return strings.Compare(a, b)
}

func logSummary(logger zerolog.Logger, kind string, retrieved, total int, elapsed time.Duration) {
	entitiesRetrieved.WithLabelValues(kind).Set(float64(retrieved))
	entitiesFailed.WithLabelValues(kind).Set(float64(total - retrieved))

	event := logger.Info()
	if retrieved < total {
		event = logger.Warn()
	}
	event.
		Str("kind", kind).
		Int("retrieved", retrieved).
		Int("total", total).
		Dur("duration", elapsed).
		Msgf("Retrieved %d/%d %s", retrieved, total, kind)
}
