package everyd

import (
	"context"
	"net/http"
	"time"

	cfg "github.com/loykin/everyd/internal/config"
	"github.com/loykin/everyd/internal/health"
	"github.com/loykin/everyd/internal/history"
	"github.com/loykin/everyd/internal/metrics"
	"github.com/loykin/everyd/internal/runner"
	isup "github.com/loykin/everyd/internal/supervisor"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ScheduleConfig = cfg.ScheduleConfig

type WorkerConfig = cfg.WorkerConfig

type HistoryConfig = cfg.HistoryConfig

type Record = runner.Record

type Outcome = runner.Outcome

type Snapshot = health.Snapshot

type HistorySink = history.Sink

const (
	OutcomeSuccess      = runner.OutcomeSuccess
	OutcomeNonZeroExit  = runner.OutcomeNonZeroExit
	OutcomeTimedOut     = runner.OutcomeTimedOut
	OutcomeLaunchFailed = runner.OutcomeLaunchFailed
)

// ErrShutdownTimeout is returned by Stop when the in-flight run did
// not terminate within the configured shutdown grace.
var ErrShutdownTimeout = isup.ErrShutdownTimeout

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *isup.Supervisor }

// New validates cfg and assembles a Supervisor. Nothing runs until Start.
func New(c *Config) (*Supervisor, error) {
	inner, err := isup.New(c)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: inner}, nil
}

func (s *Supervisor) Start() error { return s.inner.Start() }
func (s *Supervisor) Stop() error  { return s.inner.Stop() }

// RunOnce performs a single foreground invocation outside the
// scheduler and returns its record.
func (s *Supervisor) RunOnce(ctx context.Context) Record { return s.inner.RunOnce(ctx) }

// Health returns a copy of the current supervisor health state.
func (s *Supervisor) Health() Snapshot { return s.inner.Health() }

// Recent returns up to n recent run records, newest first.
func (s *Supervisor) Recent(n int) []Record { return s.inner.Recent(n) }

// Handler returns the HTTP API as a mountable handler so the health
// surface can be embedded in an existing gin/echo/net-http server.
func (s *Supervisor) Handler(basePath string) http.Handler { return s.inner.Handler(basePath) }

// LoadConfig reads the optional TOML file at path and overlays
// EVERYD_* environment variables.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// DefaultConfig returns a Config with all defaults applied and no
// worker command.
func DefaultConfig() *Config { return cfg.Default() }

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns the prometheus exposition handler for the
// default registry, for mounting on a custom mux.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
