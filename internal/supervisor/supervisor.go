package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/everyd/internal/config"
	"github.com/loykin/everyd/internal/health"
	"github.com/loykin/everyd/internal/history"
	"github.com/loykin/everyd/internal/history/factory"
	"github.com/loykin/everyd/internal/metrics"
	"github.com/loykin/everyd/internal/runner"
	"github.com/loykin/everyd/internal/scheduler"
	"github.com/loykin/everyd/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// serverDrainTimeout bounds the HTTP server drain during Stop. The
// scheduler's own grace dominates shutdown; the drain only has to let
// in-flight probe requests finish.
const serverDrainTimeout = 2 * time.Second

// ErrShutdownTimeout is returned by Stop when the in-flight run did not
// terminate within the configured shutdown grace.
var ErrShutdownTimeout = scheduler.ErrShutdownTimeout

// Supervisor ties the pieces together: one worker spec, one scheduler,
// one health tracker, optional history sinks and the HTTP surface.
// Build it with New, then Start; Stop winds everything down.
type Supervisor struct {
	cfg     *config.Config
	tracker *health.Tracker
	runner  *runner.Runner
	sched   *scheduler.Scheduler
	sinks   *history.Sinks
	srv     *http.Server
}

// New validates cfg and assembles a Supervisor. Nothing runs and no
// port is bound until Start. Sink DSNs are resolved here so a bad DSN
// fails startup rather than the first run.
func New(cfg *config.Config) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e, err := cfg.BuildEnv()
	if err != nil {
		return nil, fmt.Errorf("build worker environment: %w", err)
	}

	var sinkList []history.Sink
	for _, dsn := range cfg.History.Sinks {
		s, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("history sink %q: %w", dsn, err)
		}
		sinkList = append(sinkList, s)
	}

	sup := &Supervisor{
		cfg:     cfg,
		tracker: health.New(cfg.Health.FailureThreshold, cfg.Health.HistorySize),
		sinks:   history.NewSinks(sinkList, cfg.History.Timeout),
		runner: runner.New(runner.Spec{
			Name:      "worker",
			Command:   cfg.Worker.Command,
			Args:      cfg.Worker.Args,
			WorkDir:   cfg.Worker.WorkDir,
			Env:       cfg.Worker.Env,
			Timeout:   cfg.Worker.Timeout,
			KillGrace: cfg.Worker.KillGrace,
			Log:       cfg.Log.LoggerConfig(),
			SampleRSS: true,
		}, e),
	}

	sched, err := scheduler.New(scheduler.Options{
		Every:         cfg.Schedule.Every,
		CronExpr:      cfg.Schedule.Cron,
		RunOnStart:    cfg.Schedule.RunOnStart,
		ShutdownGrace: cfg.ShutdownGrace,
		Run:           func(ctx context.Context, seq int) { sup.execute(ctx, seq) },
		OnSkip:        sup.onSkip,
		OnNext:        sup.tracker.SetNextRun,
	})
	if err != nil {
		return nil, err
	}
	sup.sched = sched
	return sup, nil
}

// Start registers metrics, binds the HTTP listener and starts the
// scheduler loop. A failed bind is fatal and leaves nothing running.
// An empty listen address skips the built-in server; embedders mount
// Handler in their own server instead.
func (s *Supervisor) Start() error {
	if s.cfg.Metrics.Enabled {
		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	if s.cfg.Server.Listen != "" {
		srv, err := server.NewServer(s.cfg.Server.Listen, s.cfg.Server.BasePath, s.tracker, s.cfg.Metrics.Enabled)
		if err != nil {
			return err
		}
		s.srv = srv
	}
	if err := s.sched.Start(); err != nil {
		if s.srv != nil {
			_ = s.srv.Close()
			s.srv = nil
		}
		return err
	}
	slog.Info("supervisor started",
		"listen", s.cfg.Server.Listen,
		"every", s.cfg.Schedule.Every,
		"cron", s.cfg.Schedule.Cron,
		"sinks", s.sinks.Len())
	return nil
}

// Stop winds down in order: scheduler (cancels the tick wait, bounds
// the in-flight run by shutdownGrace), HTTP drain, sinks. It returns
// ErrShutdownTimeout when the run outlived the grace; the process
// should then exit non-zero.
func (s *Supervisor) Stop() error {
	err := s.sched.Stop()
	if s.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), serverDrainTimeout)
		_ = s.srv.Shutdown(ctx)
		cancel()
		s.srv = nil
	}
	if cerr := s.sinks.Close(); cerr != nil {
		slog.Warn("closing history sinks", "error", cerr)
	}
	if err != nil {
		slog.Error("shutdown exceeded grace period", "grace", s.cfg.ShutdownGrace)
		return err
	}
	slog.Info("supervisor stopped")
	return nil
}

// RunOnce performs a single foreground invocation outside the
// scheduler and returns its record. Health, metrics and sinks observe
// it like any scheduled run.
func (s *Supervisor) RunOnce(ctx context.Context) runner.Record {
	return s.execute(ctx, 1)
}

// Health returns a copy of the current supervisor health state.
func (s *Supervisor) Health() health.Snapshot { return s.tracker.Snapshot() }

// Recent returns up to n recent run records, newest first.
func (s *Supervisor) Recent(n int) []runner.Record { return s.tracker.Recent(n) }

// Handler returns the HTTP API as a mountable handler for embedding in
// an existing server. Metrics routing follows the config.
func (s *Supervisor) Handler(basePath string) http.Handler {
	return server.NewRouter(s.tracker, basePath, s.cfg.Metrics.Enabled).Handler()
}

// execute runs one invocation and propagates the terminal record to
// health, metrics and history sinks before releasing the busy slot.
func (s *Supervisor) execute(ctx context.Context, seq int) runner.Record {
	s.tracker.RunStarted()
	rec := s.runner.Run(ctx, seq)
	s.tracker.RunFinished(rec)

	attrs := []any{
		"seq", rec.Seq,
		"outcome", string(rec.Outcome),
		"duration", rec.Duration,
	}
	if rec.ExitCode != nil {
		attrs = append(attrs, "exit_code", *rec.ExitCode)
	}
	if rec.Error != "" {
		attrs = append(attrs, "error", rec.Error)
	}
	if rec.Outcome.Failed() {
		attrs = append(attrs, "consecutive_failures", s.tracker.ConsecutiveFailures())
		slog.Warn("run finished", attrs...)
	} else {
		slog.Info("run finished", attrs...)
	}

	metrics.IncRun(string(rec.Outcome))
	metrics.ObserveRunDuration(rec.Duration.Seconds())
	metrics.SetConsecutiveFailures(s.tracker.ConsecutiveFailures())
	metrics.SetLastRunTimestamp(rec.FinishedAt)
	if rec.PeakRSS > 0 {
		metrics.SetLastRunPeakRSS(rec.PeakRSS)
	}

	s.sinks.RecordRun(rec)
	return rec
}

func (s *Supervisor) onSkip() {
	s.tracker.TickSkipped()
	metrics.IncSkippedTick()
}
