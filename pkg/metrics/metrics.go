// Package metrics exposes the Prometheus metrics of the configuration export.
// All metrics are defined in their respective packages (ratelimit, retry,
// workerpool, retrieval, opsgenie) and registered via promauto.
//
// This package provides the /metrics endpoint and a reference for all
// available metrics.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Registry is the default Prometheus registry used by the export.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server serves /metrics while an export runs.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger
	done     chan error
}

// Start listens on addr and serves /metrics in the background.
func Start(addr string, logger zerolog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	s := &Server{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		listener: ln,
		logger:   logger,
		done:     make(chan error, 1),
	}
	go func() {
		err := s.server.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	logger.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")
	return s, nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return <-s.done
}

// Metrics Documentation
//
// Rate Limit Budget Metrics (pkg/ratelimit):
//   - backup_budget_concurrency{domain} (Gauge): Worker count last permitted per domain
//   - backup_throttles_total{domain} (Counter): Throttling responses recorded per domain
//
// Retry Metrics (pkg/retry):
//   - backup_retries_total{error_class} (Counter): Retry attempts by error class
//   - backup_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - backup_retry_exhausted_total{error_class} (Counter): Calls that exhausted max retries
//
// Pool Metrics (pkg/workerpool):
//   - backup_pool_tasks_total{pool, outcome} (Counter): Finished tasks by pool and outcome
//
// Retrieval Metrics (pkg/retrieval):
//   - backup_entities_retrieved{kind} (Gauge): Entities retrieved in the last batch
//   - backup_entities_failed{kind} (Gauge): Entities excluded from the last batch
//
// Request Metrics (pkg/opsgenie):
//   - opsgenie_requests_total{route, status} (Counter): Total requests by route and HTTP status
//   - opsgenie_request_duration_seconds{route} (Histogram): Request duration by route
//
// Example Prometheus Queries:
//
//   # Share of users excluded from the last export
//   backup_entities_failed{kind="users"} /
//   (backup_entities_retrieved{kind="users"} + backup_entities_failed{kind="users"})
//
//   # Throttling rate on the search domain
//   rate(backup_throttles_total{domain="search"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(opsgenie_request_duration_seconds_bucket[5m]))
