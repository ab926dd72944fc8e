// Package logging configures zerolog for the configuration export.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Fields are attached to every log line, e.g. the run id of an export.
	Fields map[string]string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()

	// Sorted for stable field order
	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ctx = ctx.Str(k, cfg.Fields[k])
	}

	logger := ctx.Logger()
	log.Logger = logger

	return logger
}

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// ParseLevel normalizes a level name. Empty means info and "warning" is
// accepted for warn.
func ParseLevel(s string) (LogLevel, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch name {
	case "":
		return LevelInfo, nil
	case "warning":
		return LevelWarn, nil
	}
	if _, ok := zerologLevels[LogLevel(name)]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return LogLevel(name), nil
}

// zerologLevel maps level to zerolog, falling back to info for unknown names.
func zerologLevel(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	return zerologLevels[parsed]
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Individual API requests and error responses
//   - Retry attempts with backoff
//   - Integrations without actions
//
// Info: Normal operation events
//   - Phase start (listing, enrichment)
//   - Pool progress while draining
//   - Batch summary when every entity was retrieved
//
// Warn: Warning conditions that don't prevent the export
//   - Concurrency reduced after throttling
//   - Throttle state store unavailable
//   - Listing shifted between pages (short page, duplicates)
//   - Batch summary with excluded entities
//
// Error: Error conditions requiring attention
//   - Entity excluded after retries
//   - Notification rule skipped
//   - Fatal listing failures
//
// Context Fields:
//   - run_id: Identifier of one export run
//   - component: Emitting component
//   - kind: Entity kind (integrations, users)
//   - domain: Rate-limit domain
//   - error_class: Error classification (client, server, rate_limit, network, unknown)
//   - attempt: Retry attempt number
//   - item: Label of a failed pool item
