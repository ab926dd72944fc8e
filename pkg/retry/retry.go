// Package retry wraps single remote calls with bounded, classified retry.
// Client errors fail fast; server, throttling, network and unclassified
// errors are retried with jittered exponential backoff whose pace depends on
// the error class and the rate-limit domain of the call.
package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "backup_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "backup_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// jitter is the randomization factor applied to every backoff (±20%).
const jitter = 0.2

// Config holds the configuration for retry logic.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the initial call).
	MaxAttempts int `yaml:"max_attempts"`

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
}

// DefaultConfig returns the default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ConfigForErrorClass returns the built-in retry configuration for an error class.
func ConfigForErrorClass(errorClass ErrorClass) Config {
	switch errorClass {
	case ErrorClassServer:
		// 5xx server errors - shorter backoff
		return Config{
			MaxAttempts:       3,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassRateLimit:
		// 429 throttling - longer backoff
		return Config{
			MaxAttempts:       3,
			InitialBackoff:    5 * time.Second,
			MaxBackoff:        60 * time.Second,
			BackoffMultiplier: 2.0,
		}
	case ErrorClassNetwork:
		// Network errors - medium backoff
		return Config{
			MaxAttempts:       3,
			InitialBackoff:    2 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		}
	default:
		return DefaultConfig()
	}
}

// Pacer paces calls per rate-limit domain and learns from throttling.
// *ratelimit.Budget implements it.
type Pacer interface {
	Wait(ctx context.Context, domain ratelimit.Domain) error
	BackoffFactor(domain ratelimit.Domain) float64
	RecordThrottle(ctx context.Context, domain ratelimit.Domain) error
}

// Options configures an Executor.
type Options struct {
	// Configs overrides the built-in configuration per error class.
	Configs map[ErrorClass]Config

	// Pacer is optional. Without it calls are not paced and throttles are not recorded.
	Pacer Pacer

	Logger zerolog.Logger
}

// Executor runs remote calls with retry. It holds no per-call state and is
// safe for concurrent use.
type Executor struct {
	configs map[ErrorClass]Config
	pacer   Pacer
	logger  zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(opts Options) *Executor {
	configs := make(map[ErrorClass]Config, len(opts.Configs))
	for class, cfg := range opts.Configs {
		configs[class] = cfg
	}
	return &Executor{
		configs: configs,
		pacer:   opts.Pacer,
		logger:  opts.Logger,
	}
}

// Invoke runs op in the default domain.
func Invoke[T any](ctx context.Context, e *Executor, op func(context.Context) (T, error)) (T, error) {
	return InvokeDomain(ctx, e, ratelimit.DomainDefault, op)
}

// InvokeDomain runs op with retry, paced for domain. On exhaustion the
// returned error wraps both ErrRetryExhausted and the last cause.
func InvokeDomain[T any](ctx context.Context, e *Executor, domain ratelimit.Domain, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, domain, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Do executes fn with retry in domain.
func (e *Executor) Do(ctx context.Context, domain ratelimit.Domain, fn func(context.Context) error) error {
	var (
		lastErr    error
		errorClass ErrorClass
		config     Config
		bo         *backoff.ExponentialBackOff
		attempt    int
	)

	for attempt = 1; ; attempt++ {
		if e.pacer != nil {
			if err := e.pacer.Wait(ctx, domain); err != nil {
				return fmt.Errorf("%w: %v", ErrContextCancelled, err)
			}
		}

		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				e.logger.Info().
					Str("domain", string(domain)).
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Call succeeded after retry")
			}
			return nil
		}
		lastErr = err

		class := Classify(err)
		if class == ErrorClassRateLimit && e.pacer != nil {
			if rerr := e.pacer.RecordThrottle(ctx, domain); rerr != nil {
				e.logger.Warn().Err(rerr).Str("domain", string(domain)).Msg("Failed to record throttle")
			}
		}

		if !shouldRetry(class) {
			// Client errors are returned unchanged after a single attempt
			return lastErr
		}

		if bo == nil || class != errorClass {
			errorClass = class
			config = e.configFor(class)
			bo = e.newBackOff(config, domain)
		}

		if attempt >= config.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		retriesTotal.WithLabelValues(string(errorClass)).Inc()
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(wait.Seconds())

		e.logger.Debug().
			Err(err).
			Str("domain", string(domain)).
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying call after backoff")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Warn().
				Str("domain", string(domain)).
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}
	}

	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	e.logger.Warn().
		Err(lastErr).
		Str("domain", string(domain)).
		Str("error_class", string(errorClass)).
		Int("attempts", attempt).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
}

func (e *Executor) configFor(class ErrorClass) Config {
	cfg, ok := e.configs[class]
	if !ok {
		cfg = ConfigForErrorClass(class)
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	return cfg
}

func (e *Executor) newBackOff(cfg Config, domain ratelimit.Domain) *backoff.ExponentialBackOff {
	factor := 1.0
	if e.pacer != nil {
		factor = e.pacer.BackoffFactor(domain)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(float64(cfg.InitialBackoff) * factor)
	bo.MaxInterval = time.Duration(float64(cfg.MaxBackoff) * factor)
	bo.Multiplier = cfg.BackoffMultiplier
	bo.RandomizationFactor = jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}
