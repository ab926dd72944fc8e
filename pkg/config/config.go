// Package config loads the configuration of an export run from a YAML file
// and the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/logging"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/opsgenie"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retrieval"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/retry"
)

// Environment variables that override file values.
const (
	EnvAPIKey   = "OPSGENIE_API_KEY"
	EnvAPIURL   = "OPSGENIE_API_URL"
	EnvRedisURL = "REDIS_URL"
	EnvLogLevel = "LOG_LEVEL"
)

// MaxPageSize is the largest page the Opsgenie API returns.
const MaxPageSize = 100

// Config is the configuration of an export run.
type Config struct {
	Opsgenie  OpsgenieConfig   `yaml:"opsgenie"`
	Redis     RedisConfig      `yaml:"redis"`
	Log       LogConfig        `yaml:"log"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Output    OutputConfig     `yaml:"output"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Retrieval retrieval.Config `yaml:"retrieval"`

	// Retry overrides the retry policy per error class.
	Retry map[retry.ErrorClass]retry.Config `yaml:"retry,omitempty"`
}

// OpsgenieConfig configures API access.
type OpsgenieConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// RedisConfig configures the shared throttle state. Empty URL keeps the
// state in memory.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures the /metrics endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// OutputConfig configures where backup files are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// RateLimitConfig configures the rate-limit budget.
type RateLimitConfig struct {
	Policies       map[ratelimit.Domain]ratelimit.Policy `yaml:"policies,omitempty"`
	ThrottleWindow time.Duration                         `yaml:"throttle_window"`
}

// Default returns the default configuration. It has no API key and does not
// validate as is.
func Default() Config {
	return Config{
		Opsgenie: OpsgenieConfig{
			BaseURL: opsgenie.DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Log:    LogConfig{Level: string(logging.LevelInfo)},
		Output: OutputConfig{Dir: "backup"},
		RateLimit: RateLimitConfig{
			ThrottleWindow: ratelimit.DefaultConfig().ThrottleWindow,
		},
		Retrieval: retrieval.DefaultConfig(),
	}
}

// Load reads path (optional), applies environment overrides, then
// overrides (e.g. command-line flags) and validates the result.
func Load(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	for _, override := range overrides {
		override(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyEnv overrides values from the environment. lookup is usually
// os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvAPIKey); ok && v != "" {
		c.Opsgenie.APIKey = v
	}
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.Opsgenie.BaseURL = v
	}
	if v, ok := lookup(EnvRedisURL); ok {
		c.Redis.URL = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// Validate reports every invalid setting.
func (c *Config) Validate() error {
	var errs []error

	if c.Opsgenie.APIKey == "" {
		errs = append(errs, fmt.Errorf("opsgenie.api_key is required (or set %s)", EnvAPIKey))
	}
	if u, err := url.Parse(c.Opsgenie.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("opsgenie.base_url must be an http(s) URL (got %q)", c.Opsgenie.BaseURL))
	}
	if c.Opsgenie.Timeout < 0 {
		errs = append(errs, fmt.Errorf("opsgenie.timeout must not be negative"))
	}
	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			errs = append(errs, fmt.Errorf("redis.url: %w", err))
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Output.Dir == "" {
		errs = append(errs, fmt.Errorf("output.dir is required"))
	}
	if c.Retrieval.PageSize < 0 || c.Retrieval.PageSize > MaxPageSize {
		errs = append(errs, fmt.Errorf("retrieval.page_size must be at most %d (got %d)", MaxPageSize, c.Retrieval.PageSize))
	}
	if c.Retrieval.Baseline < 0 {
		errs = append(errs, fmt.Errorf("retrieval.baseline must not be negative"))
	}
	for domain, p := range c.RateLimit.Policies {
		if p.MaxConcurrency < 0 || p.RequestsPerSecond < 0 || p.Burst < 0 || p.BackoffFactor < 0 {
			errs = append(errs, fmt.Errorf("rate_limit.policies.%s: values must not be negative", domain))
		}
	}
	for class, r := range c.Retry {
		if r.MaxAttempts < 1 {
			errs = append(errs, fmt.Errorf("retry.%s.max_attempts must be >= 1 (got %d)", class, r.MaxAttempts))
		}
		if r.InitialBackoff <= 0 || r.MaxBackoff < r.InitialBackoff {
			errs = append(errs, fmt.Errorf("retry.%s: need 0 < initial_backoff <= max_backoff", class))
		}
	}

	return errors.Join(errs...)
}

// BudgetConfig returns the budget configuration. store may be nil.
func (c *Config) BudgetConfig(store ratelimit.StateStore) ratelimit.Config {
	cfg := ratelimit.DefaultConfig()
	for domain, p := range c.RateLimit.Policies {
		cfg.Policies[domain] = cfg.Policies[domain].WithOverrides(p)
	}
	if c.RateLimit.ThrottleWindow > 0 {
		cfg.ThrottleWindow = c.RateLimit.ThrottleWindow
	}
	cfg.Store = store
	return cfg
}

// ClientConfig returns the Opsgenie client configuration.
func (c *Config) ClientConfig() opsgenie.Config {
	cfg := opsgenie.DefaultConfig(c.Opsgenie.APIKey)
	if c.Opsgenie.BaseURL != "" {
		cfg.BaseURL = c.Opsgenie.BaseURL
	}
	if c.Opsgenie.Timeout > 0 {
		cfg.Timeout = c.Opsgenie.Timeout
	}
	return cfg
}
