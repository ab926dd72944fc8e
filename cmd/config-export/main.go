// Command config-export writes the configuration of an Opsgenie account
// (integrations with actions, users with contacts and notification rules)
// to JSON files.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/opsgenie-config-backup/pkg/config"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/logging"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/metrics"
	"github.com/Sternrassler/opsgenie-config-backup/pkg/ratelimit"
)

type options struct {
	configPath  string
	outputDir   string
	logLevel    string
	pretty      bool
	metricsAddr string
	redisURL    string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "config-export",
		Short: "Export Opsgenie integrations and users to JSON",
		Long: `config-export reads every integration (with its actions) and every user
(with contacts and notification rules) from the Opsgenie API and writes them
to integrations.json and users.json in the output directory.

The API key is read from the config file or the OPSGENIE_API_KEY environment
variable.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVarP(&opts.outputDir, "output", "o", "", "output directory (default \"backup\")")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.BoolVar(&opts.pretty, "pretty", false, "human-readable console logs")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	flags.StringVar(&opts.redisURL, "redis-url", "", "share throttle state through Redis (redis://host:port/db)")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	flags := cmd.Flags()
	cfg, err := config.Load(opts.configPath, func(c *config.Config) {
		if flags.Changed("output") {
			c.Output.Dir = opts.outputDir
		}
		if flags.Changed("log-level") {
			c.Log.Level = opts.logLevel
		}
		if flags.Changed("pretty") {
			c.Log.Pretty = opts.pretty
		}
		if flags.Changed("metrics-addr") {
			c.Metrics.Addr = opts.metricsAddr
		}
		if flags.Changed("redis-url") {
			c.Redis.URL = opts.redisURL
		}
	})
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "invalid configuration:\n%v\n", err)
		return err
	}

	runID := uuid.NewString()
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logger := logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.Log.Pretty,
		Output: cmd.ErrOrStderr(),
		Fields: map[string]string{"run_id": runID},
	})

	ctx := cmd.Context()

	if cfg.Metrics.Addr != "" {
		srv, err := metrics.Start(cfg.Metrics.Addr, logging.NewLogger("metrics"))
		if err != nil {
			logger.Error().Err(err).Msg("Failed to start metrics server")
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("Metrics server shutdown failed")
			}
		}()
	}

	store, closeStore, err := newStateStore(ctx, cfg.Redis.URL, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to connect to Redis")
		return err
	}
	defer closeStore()

	exp, err := newExporter(cfg, store, runID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to set up export")
		return err
	}

	manifest, err := exp.Run(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Export failed")
		return err
	}

	logger.Info().
		Str("output", cfg.Output.Dir).
		Int("integrations", manifest.Integrations).
		Int("users", manifest.Users).
		Dur("duration", manifest.FinishedAt.Sub(manifest.StartedAt)).
		Msg("Export finished")
	return nil
}

// newStateStore returns a Redis-backed throttle store when redisURL is set,
// otherwise an in-memory one.
func newStateStore(ctx context.Context, redisURL string, logger zerolog.Logger) (ratelimit.StateStore, func(), error) {
	if redisURL == "" {
		return ratelimit.NewMemoryStore(), func() {}, nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("Sharing throttle state through Redis")

	return ratelimit.NewRedisStore(client), func() { client.Close() }, nil
}
