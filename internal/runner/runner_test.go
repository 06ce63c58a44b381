package runner

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/everyd/internal/env"
	"github.com/loykin/everyd/internal/logger"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// waitUntil polls fn until it returns true or timeout expires.
func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func TestRunSuccess(t *testing.T) {
	requireUnix(t)
	r := New(Spec{Name: "ok", Command: "true", Timeout: 5 * time.Second, KillGrace: time.Second}, env.New())
	rec := r.Run(context.Background(), 7)
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s (err=%q)", rec.Outcome, rec.Error)
	}
	if rec.Seq != 7 {
		t.Fatalf("seq not recorded: %d", rec.Seq)
	}
	if rec.PID <= 0 {
		t.Fatalf("pid not recorded: %d", rec.PID)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", rec.ExitCode)
	}
	if rec.FinishedAt.Before(rec.StartedAt) {
		t.Fatalf("finished before started: %v < %v", rec.FinishedAt, rec.StartedAt)
	}
	if rec.Outcome.Failed() {
		t.Fatalf("success must not count as failed")
	}
}

func TestRunNonZeroExit(t *testing.T) {
	requireUnix(t)
	r := New(Spec{Name: "nz", Command: "sh -c 'exit 3'", Timeout: 5 * time.Second, KillGrace: time.Second}, env.New())
	rec := r.Run(context.Background(), 1)
	if rec.Outcome != OutcomeNonZeroExit {
		t.Fatalf("expected nonzero_exit, got %s", rec.Outcome)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %v", rec.ExitCode)
	}
	if rec.Error == "" {
		t.Fatalf("expected error message on nonzero exit")
	}
	if !rec.Outcome.Failed() {
		t.Fatalf("nonzero exit must count as failed")
	}
}

func TestRunLaunchFailed(t *testing.T) {
	r := New(Spec{
		Name:      "missing",
		Command:   "/definitely/not/a/binary",
		Args:      []string{"--flag"},
		Timeout:   5 * time.Second,
		KillGrace: time.Second,
	}, env.New())
	rec := r.Run(context.Background(), 1)
	if rec.Outcome != OutcomeLaunchFailed {
		t.Fatalf("expected launch_failed, got %s", rec.Outcome)
	}
	if rec.PID != 0 {
		t.Fatalf("launch failure must not record a pid, got %d", rec.PID)
	}
	if rec.ExitCode != nil {
		t.Fatalf("launch failure must not record an exit code, got %d", *rec.ExitCode)
	}
	if rec.Error == "" {
		t.Fatalf("expected error message on launch failure")
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	requireUnix(t)
	r := New(Spec{
		Name:      "slow",
		Command:   "sleep 10",
		Timeout:   150 * time.Millisecond,
		KillGrace: 200 * time.Millisecond,
	}, env.New())
	start := time.Now()
	rec := r.Run(context.Background(), 1)
	elapsed := time.Since(start)
	if rec.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", rec.Outcome)
	}
	if !strings.Contains(rec.Error, "timed out") {
		t.Fatalf("expected timeout message, got %q", rec.Error)
	}
	// Run must come back within roughly timeout + grace, never the full
	// worker duration.
	if elapsed >= 2*time.Second {
		t.Fatalf("Run took too long after timeout: %v", elapsed)
	}
	if !waitUntil(time.Second, 20*time.Millisecond, func() bool { return !processExists(rec.PID) }) {
		t.Fatalf("worker pid %d survived the timeout", rec.PID)
	}
}

func TestRunTimeoutEscalatesToKill(t *testing.T) {
	requireUnix(t)
	// The shell ignores TERM and keeps respawning short sleeps, so only
	// the forced kill can end it.
	r := New(Spec{
		Name:      "stubborn",
		Command:   "sh -c 'trap \"\" TERM; while true; do sleep 0.05; done'",
		Timeout:   150 * time.Millisecond,
		KillGrace: 200 * time.Millisecond,
	}, env.New())
	start := time.Now()
	rec := r.Run(context.Background(), 1)
	elapsed := time.Since(start)
	if rec.Outcome != OutcomeTimedOut {
		t.Fatalf("expected timed_out, got %s", rec.Outcome)
	}
	if elapsed < 300*time.Millisecond {
		t.Fatalf("escalation returned before the kill grace elapsed: %v", elapsed)
	}
	if !waitUntil(time.Second, 20*time.Millisecond, func() bool { return !processExists(rec.PID) }) {
		t.Fatalf("worker pid %d survived the forced kill", rec.PID)
	}
}

func TestRunContextCancelTerminates(t *testing.T) {
	requireUnix(t)
	r := New(Spec{
		Name:      "cancelled",
		Command:   "sleep 10",
		Timeout:   10 * time.Second,
		KillGrace: 200 * time.Millisecond,
	}, env.New())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	rec := r.Run(ctx, 1)
	if elapsed := time.Since(start); elapsed >= 2*time.Second {
		t.Fatalf("Run did not return promptly after cancel: %v", elapsed)
	}
	// sleep dies from the signal, so the run records a non-zero exit
	// rather than a timeout.
	if rec.Outcome != OutcomeNonZeroExit {
		t.Fatalf("expected nonzero_exit after cancel, got %s", rec.Outcome)
	}
	if !waitUntil(time.Second, 20*time.Millisecond, func() bool { return !processExists(rec.PID) }) {
		t.Fatalf("worker pid %d survived cancellation", rec.PID)
	}
}

func TestRunCancelGracefulExitZero(t *testing.T) {
	requireUnix(t)
	// A worker that handles the termination request and exits cleanly
	// records a success. The trap fires because the signal goes to the
	// whole process group, ending the foreground sleep too.
	r := New(Spec{
		Name:      "graceful",
		Command:   "sh -c 'trap \"exit 0\" TERM; sleep 10'",
		Timeout:   10 * time.Second,
		KillGrace: 2 * time.Second,
	}, env.New())
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	rec := r.Run(ctx, 1)
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("expected success for graceful exit, got %s (err=%q)", rec.Outcome, rec.Error)
	}
	if rec.ExitCode == nil || *rec.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %v", rec.ExitCode)
	}
}

func TestRunWritesLogFilesAndTail(t *testing.T) {
	requireUnix(t)
	logs := filepath.Join(t.TempDir(), "logs")
	r := New(Spec{
		Name:      "logme",
		Command:   "sh -c 'echo out-line; echo err-line 1>&2'",
		Timeout:   5 * time.Second,
		KillGrace: time.Second,
		Log:       logger.Config{File: logger.FileConfig{Dir: logs}},
	}, env.New())
	rec := r.Run(context.Background(), 1)
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("run failed: %s (%q)", rec.Outcome, rec.Error)
	}

	ob, err := os.ReadFile(filepath.Join(logs, "logme.stdout.log"))
	if err != nil {
		t.Fatalf("read stdout log: %v", err)
	}
	eb, err := os.ReadFile(filepath.Join(logs, "logme.stderr.log"))
	if err != nil {
		t.Fatalf("read stderr log: %v", err)
	}
	if !strings.Contains(string(ob), "out-line") {
		t.Fatalf("stdout log missing content: %q", string(ob))
	}
	if !strings.Contains(string(eb), "err-line") {
		t.Fatalf("stderr log missing content: %q", string(eb))
	}
	if !strings.Contains(rec.OutputTail, "out-line") || !strings.Contains(rec.OutputTail, "err-line") {
		t.Fatalf("tail missing content: %q", rec.OutputTail)
	}
}

func TestRunTailBounded(t *testing.T) {
	requireUnix(t)
	logs := t.TempDir()
	r := New(Spec{
		Name:      "chatty",
		Command:   "sh -c 'i=0; while [ $i -lt 2000 ]; do echo 0123456789; i=$((i+1)); done'",
		Timeout:   10 * time.Second,
		KillGrace: time.Second,
		TailSize:  1024,
		Log:       logger.Config{File: logger.FileConfig{Dir: logs}},
	}, env.New())
	rec := r.Run(context.Background(), 1)
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("run failed: %s (%q)", rec.Outcome, rec.Error)
	}
	if len(rec.OutputTail) > 1024 {
		t.Fatalf("tail exceeds bound: %d bytes", len(rec.OutputTail))
	}
	if !strings.Contains(rec.OutputTail, "0123456789") {
		t.Fatalf("tail missing worker output: %q", rec.OutputTail)
	}
}

func TestRunAppliesWorkDirAndEnv(t *testing.T) {
	requireUnix(t)
	work := t.TempDir()
	logs := t.TempDir()
	e := env.New()
	e.Set("GREETING", "hello-from-base")
	r := New(Spec{
		Name:      "envwd",
		Command:   "sh -c 'echo $GREETING; echo $EXTRA; pwd'",
		WorkDir:   work,
		Env:       []string{"EXTRA=per-run"},
		Timeout:   5 * time.Second,
		KillGrace: time.Second,
		Log:       logger.Config{File: logger.FileConfig{Dir: logs}},
	}, e)
	rec := r.Run(context.Background(), 1)
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("run failed: %s (%q)", rec.Outcome, rec.Error)
	}
	if !strings.Contains(rec.OutputTail, "hello-from-base") {
		t.Fatalf("base env not applied: %q", rec.OutputTail)
	}
	if !strings.Contains(rec.OutputTail, "per-run") {
		t.Fatalf("per-run env not applied: %q", rec.OutputTail)
	}
	if !strings.Contains(rec.OutputTail, filepath.Base(work)) {
		t.Fatalf("workdir not applied: %q", rec.OutputTail)
	}
}

func TestRunSamplesPeakRSS(t *testing.T) {
	requireUnix(t)
	if testing.Short() {
		t.Skip("skipping rss sampling test in short mode")
	}
	logs := t.TempDir()
	r := New(Spec{
		Name:      "rss",
		Command:   "sleep 0.5",
		Timeout:   5 * time.Second,
		KillGrace: time.Second,
		SampleRSS: true,
		Log:       logger.Config{File: logger.FileConfig{Dir: logs}},
	}, env.New())
	rec := r.Run(context.Background(), 1)
	if rec.Outcome != OutcomeSuccess {
		t.Fatalf("run failed: %s (%q)", rec.Outcome, rec.Error)
	}
	if rec.PeakRSS == 0 {
		t.Fatalf("expected a peak rss sample for a half-second worker")
	}
}
