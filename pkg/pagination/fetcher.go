package pagination

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
)

// Config holds fetcher configuration.
type Config struct {
	// PageSize is the number of records requested per call.
	PageSize int

	// Domain is the rate-limit domain used for every page call.
	Domain ratelimit.Domain

	// Name identifies the listing in logs.
	Name string
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() Config {
	return Config{
		PageSize: 100,
		Domain:   ratelimit.DomainSearch,
		Name:     "listing",
	}
}

// Page is one listing response.
type Page[T any] struct {
	Items      []T
	TotalCount int
}

// ListFunc fetches the page starting at offset.
type ListFunc[T any] func(ctx context.Context, offset, limit int) (Page[T], error)

// Fetcher drives ListFuncs through a retry executor.
type Fetcher struct {
	executor *retry.Executor
	config   Config
	logger   zerolog.Logger
}

// NewFetcher creates a fetcher.
func NewFetcher(executor *retry.Executor, config Config, logger zerolog.Logger) *Fetcher {
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.Domain == "" {
		config.Domain = ratelimit.DomainSearch
	}
	if config.Name == "" {
		config.Name = "listing"
	}
	return &Fetcher{
		executor: executor,
		config:   config,
		logger:   logger,
	}
}

// PageCount returns the number of calls needed to read total records.
func PageCount(total, pageSize int) int {
	if total <= 0 || pageSize <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// FetchAll returns every record of the listing in page order.
func FetchAll[T any](ctx context.Context, f *Fetcher, list ListFunc[T]) ([]T, error) {
	start := time.Now()
	pageSize := f.config.PageSize

	first, err := fetchPage(ctx, f, list, 0)
	if err != nil {
		return nil, err
	}

	total := first.TotalCount
	pages := PageCount(total, pageSize)

	items := make([]T, 0, max(total, len(first.Items)))
	items = append(items, first.Items...)

	f.logger.Info().
		Str("listing", f.config.Name).
		Int("retrieved", len(items)).
		Int("total", total).
		Int("pages", pages).
		Msg("Retrieved first page")

	for k := 1; k < pages; k++ {
		offset := k * pageSize
		page, err := fetchPage(ctx, f, list, offset)
		if err != nil {
			return nil, err
		}
		if len(page.Items) == 0 {
			// The listing shrank while paging; later offsets are empty too
			f.logger.Warn().
				Str("listing", f.config.Name).
				Int("offset", offset).
				Int("retrieved", len(items)).
				Int("total", total).
				Msg("Empty page before total was reached")
			break
		}
		items = append(items, page.Items...)

		f.logger.Info().
			Str("listing", f.config.Name).
			Int("retrieved", len(items)).
			Int("total", total).
			Msg("Retrieved page")
	}

	if len(items) != total {
		f.logger.Warn().
			Str("listing", f.config.Name).
			Int("retrieved", len(items)).
			Int("total", total).
			Msg("Retrieved count differs from declared total")
	}

	f.logger.Debug().
		Str("listing", f.config.Name).
		Int("retrieved", len(items)).
		Dur("duration", time.Since(start)).
		Msg("Listing complete")

	return items, nil
}

func fetchPage[T any](ctx context.Context, f *Fetcher, list ListFunc[T], offset int) (Page[T], error) {
	page, err := retry.InvokeDomain(ctx, f.executor, f.config.Domain, func(ctx context.Context) (Page[T], error) {
		return list(ctx, offset, f.config.PageSize)
	})
	if err != nil {
		return Page[T]{}, fmt.Errorf("fetch %s page at offset %d: %w", f.config.Name, offset, err)
	}
	return page, nil
}

// Unique drops records whose key was already seen, keeping the first
// occurrence. Offset paging over a listing that changes between calls can
// return the same record twice.
func Unique[T any](items []T, key func(T) string) ([]T, int) {
	seen := make(map[string]struct{}, len(items))
	out := make([]T, 0, len(items))
	dropped := 0
	for _, item := range items {
		k := key(item)
		if _, ok := seen[k]; ok {
			dropped++
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out, dropped
}
