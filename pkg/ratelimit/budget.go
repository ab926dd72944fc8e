package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Prometheus metrics for the concurrency budget.
var (
	budgetConcurrency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "backup_budget_concurrency",
		Help: "Concurrency most recently granted per rate-limit domain",
	}, []string{"domain"})

	budgetThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_throttles_total",
		Help: "Total number of throttling responses recorded per rate-limit domain",
	}, []string{"domain"})
)

// Policy is the static budget of one domain.
type Policy struct {
	// MaxConcurrency is the worker ceiling for the domain.
	MaxConcurrency int `yaml:"max_concurrency"`

	// RequestsPerSecond paces individual calls. Zero disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the token bucket size for pacing.
	Burst int `yaml:"burst"`

	// BackoffFactor scales retry backoff for the domain. Zero means 1.
	BackoffFactor float64 `yaml:"backoff_factor"`
}

// WithOverrides returns p with every non-zero field of o applied.
func (p Policy) WithOverrides(o Policy) Policy {
	if o.MaxConcurrency != 0 {
		p.MaxConcurrency = o.MaxConcurrency
	}
	if o.RequestsPerSecond != 0 {
		p.RequestsPerSecond = o.RequestsPerSecond
	}
	if o.Burst != 0 {
		p.Burst = o.Burst
	}
	if o.BackoffFactor != 0 {
		p.BackoffFactor = o.BackoffFactor
	}
	return p
}

// DefaultPolicies returns the built-in budget table.
func DefaultPolicies() map[Domain]Policy {
	return map[Domain]Policy{
		DomainSearch: {
			MaxConcurrency:    4,
			RequestsPerSecond: 5,
			Burst:             5,
			BackoffFactor:     2,
		},
		DomainConfiguration: {
			MaxConcurrency:    8,
			RequestsPerSecond: 10,
			Burst:             10,
			BackoffFactor:     1,
		},
		DomainDefault: {
			MaxConcurrency:    4,
			RequestsPerSecond: 5,
			Burst:             5,
			BackoffFactor:     1,
		},
	}
}

// Config holds budget configuration.
type Config struct {
	// Policies overrides the built-in table per domain. Missing domains keep
	// their defaults.
	Policies map[Domain]Policy

	// ThrottleWindow is how long recorded throttles count against a domain.
	ThrottleWindow time.Duration

	// Store holds throttle state. Defaults to a MemoryStore.
	Store StateStore
}

// DefaultConfig returns the default budget configuration.
func DefaultConfig() Config {
	return Config{
		Policies:       DefaultPolicies(),
		ThrottleWindow: 60 * time.Second,
	}
}

// Budget supplies permitted concurrency and request pacing per domain.
type Budget struct {
	policies map[Domain]Policy
	window   time.Duration
	store    StateStore
	logger   zerolog.Logger

	mu       sync.Mutex
	limiters map[Domain]*rate.Limiter
}

// NewBudget creates a budget from cfg.
func NewBudget(cfg Config, logger zerolog.Logger) *Budget {
	policies := DefaultPolicies()
	for domain, p := range cfg.Policies {
		policies[domain] = policies[domain].WithOverrides(p)
	}
	if cfg.ThrottleWindow <= 0 {
		cfg.ThrottleWindow = 60 * time.Second
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}

	return &Budget{
		policies: policies,
		window:   cfg.ThrottleWindow,
		store:    cfg.Store,
		logger:   logger,
		limiters: make(map[Domain]*rate.Limiter),
	}
}

// Limit returns the number of workers permitted for domain. For unknown
// domains the baseline is the ceiling. The result is never below 1.
func (b *Budget) Limit(ctx context.Context, domain Domain, baseline int) int {
	ceiling := baseline
	if p, ok := b.policies[domain]; ok && p.MaxConcurrency > 0 {
		ceiling = p.MaxConcurrency
	}
	if ceiling < 1 {
		ceiling = 1
	}

	limit := ceiling
	state, err := b.store.Get(ctx, domain)
	if err != nil {
		// Unknown state: keep the static ceiling rather than stall the export.
		b.logger.Warn().Err(err).Str("domain", string(domain)).Msg("Throttle state unavailable")
	} else {
		switch {
		case state.NeedsSerialization():
			limit = 1
		case state.NeedsReduction():
			limit = ceiling / 2
		}
		if limit < ceiling {
			b.logger.Warn().
				Str("domain", string(domain)).
				Int("throttles", state.Throttles).
				Int("ceiling", ceiling).
				Int("limit", max(limit, 1)).
				Dur("reset_in", state.TimeUntilReset()).
				Msg("Reducing concurrency after throttling")
		}
	}
	if limit < 1 {
		limit = 1
	}

	budgetConcurrency.WithLabelValues(string(domain)).Set(float64(limit))
	return limit
}

// RecordThrottle counts a throttling response against domain.
func (b *Budget) RecordThrottle(ctx context.Context, domain Domain) error {
	state, err := b.store.Increment(ctx, domain, b.window)
	if err != nil {
		return fmt.Errorf("record throttle: %w", err)
	}
	budgetThrottlesTotal.WithLabelValues(string(domain)).Inc()

	b.logger.Debug().
		Str("domain", string(domain)).
		Int("throttles", state.Throttles).
		Str("level", string(state.Level())).
		Msg("Throttle recorded")
	return nil
}

// Wait blocks until a request in domain may be sent.
func (b *Budget) Wait(ctx context.Context, domain Domain) error {
	return b.limiter(domain).Wait(ctx)
}

// BackoffFactor returns the retry backoff multiplier for domain.
func (b *Budget) BackoffFactor(domain Domain) float64 {
	p, ok := b.policies[domain]
	if !ok || p.BackoffFactor <= 0 {
		return 1
	}
	return p.BackoffFactor
}

func (b *Budget) limiter(domain Domain) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	if lim, ok := b.limiters[domain]; ok {
		return lim
	}

	p, ok := b.policies[domain]
	if !ok {
		p = b.policies[DomainDefault]
	}
	lim := rate.NewLimiter(rate.Inf, 0)
	if p.RequestsPerSecond > 0 {
		burst := p.Burst
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(p.RequestsPerSecond), burst)
	}
	b.limiters[domain] = lim
	return lim
}
