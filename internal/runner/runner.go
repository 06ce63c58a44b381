package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/loykin/everyd/internal/env"
	"github.com/loykin/everyd/internal/logger"
)

// DefaultTailSize bounds the combined output tail kept on each record.
const DefaultTailSize = 8 * 1024

// reapWait bounds the best-effort wait for the child to be reaped after
// a forced kill.
const reapWait = 200 * time.Millisecond

// Outcome classifies a terminal worker invocation.
type Outcome string

const (
	OutcomeSuccess      Outcome = "success"
	OutcomeNonZeroExit  Outcome = "nonzero_exit"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeLaunchFailed Outcome = "launch_failed"
)

// Failed reports whether the outcome counts against consecutive failures.
func (o Outcome) Failed() bool { return o != OutcomeSuccess }

// Record is the terminal result of one worker invocation.
type Record struct {
	Seq        int           `json:"seq"`
	PID        int           `json:"pid,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Outcome    Outcome       `json:"outcome"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	PeakRSS    uint64        `json:"peak_rss_bytes,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
}

// Spec describes the worker command and the constraints of a single run.
// Every invocation is argument-identical; there are no per-run parameters.
type Spec struct {
	Name      string        // used for log file naming and log attributes
	Command   string        // worker command line (shell rules; see BuildCommand)
	Args      []string      // explicit argv; disables shell interpretation
	WorkDir   string        // optional working dir
	Env       []string      // per-run extra env, applied over the base env
	Timeout   time.Duration // run budget; expiry forces termination
	KillGrace time.Duration // window between termination request and forced kill
	Log       logger.Config // worker output destinations
	TailSize  int           // bytes of combined output kept on the record
	SampleRSS bool          // poll resident set size while the worker runs
}

// Runner executes invocations of a fixed worker spec, one at a time.
// Callers are responsible for serialization; Runner itself keeps no
// cross-run state.
type Runner struct {
	spec Spec
	env  *env.Env
}

func New(spec Spec, e *env.Env) *Runner {
	if spec.Name == "" {
		spec.Name = "worker"
	}
	if spec.TailSize <= 0 {
		spec.TailSize = DefaultTailSize
	}
	return &Runner{spec: spec, env: e}
}

// Run launches the worker and blocks until the invocation is terminal.
// seq tags the resulting record. Cancelling ctx requests termination of
// the child with the same escalation used on timeout. Run never returns
// before the child has been reaped or forcibly killed; all writers and
// the sampler are released on every path.
func (r *Runner) Run(ctx context.Context, seq int) Record {
	rec := Record{Seq: seq, StartedAt: time.Now()}

	cmd := r.spec.BuildCommand()
	if r.spec.WorkDir != "" {
		cmd.Dir = r.spec.WorkDir
	}
	if r.env != nil {
		cmd.Env = r.env.Merge(r.spec.Env)
	}
	setProcessGroup(cmd)

	tail := newTailBuffer(r.spec.TailSize)
	closers := r.attachOutput(cmd, tail)
	closeAll := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}

	slog.Debug("starting worker", "name", r.spec.Name, "seq", seq)
	if err := cmd.Start(); err != nil {
		now := time.Now()
		rec.FinishedAt = now
		rec.Duration = now.Sub(rec.StartedAt)
		rec.Outcome = OutcomeLaunchFailed
		rec.Error = err.Error()
		closeAll()
		return rec
	}
	rec.PID = cmd.Process.Pid

	var sampler *rssSampler
	if r.spec.SampleRSS {
		sampler = startRSSSampler(int32(rec.PID))
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	timer := time.NewTimer(r.spec.Timeout)
	defer timer.Stop()

	var werr error
	var timedOut bool
	select {
	case werr = <-waitCh:
	case <-timer.C:
		timedOut = true
		slog.Warn("worker exceeded run timeout, terminating",
			"name", r.spec.Name, "seq", seq, "timeout", r.spec.Timeout)
		werr = r.terminate(rec.PID, waitCh)
	case <-ctx.Done():
		slog.Warn("run cancelled, terminating worker", "name", r.spec.Name, "seq", seq)
		werr = r.terminate(rec.PID, waitCh)
	}

	rec.FinishedAt = time.Now()
	rec.Duration = rec.FinishedAt.Sub(rec.StartedAt)
	if sampler != nil {
		rec.PeakRSS = sampler.Stop()
	}
	closeAll()
	rec.OutputTail = tail.String()

	if code, ok := exitCode(werr); ok {
		rec.ExitCode = &code
	}
	switch {
	case timedOut:
		rec.Outcome = OutcomeTimedOut
		rec.Error = fmt.Sprintf("timed out after %s", r.spec.Timeout)
	case werr == nil:
		rec.Outcome = OutcomeSuccess
		zero := 0
		rec.ExitCode = &zero
	default:
		rec.Outcome = OutcomeNonZeroExit
		rec.Error = werr.Error()
	}
	return rec
}

// terminate requests a graceful stop of the child's process group and
// escalates to a forced kill after KillGrace. It returns the wait error
// once the child is reaped, or after a bounded best-effort window.
func (r *Runner) terminate(pid int, waitCh <-chan error) error {
	_ = killProcess(-pid, sigTerminate)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(r.spec.KillGrace):
	}
	slog.Warn("worker ignored termination request, killing", "name", r.spec.Name, "pid", pid)
	_ = killProcess(-pid, sigKill)
	select {
	case err := <-waitCh:
		return err
	case <-time.After(reapWait):
		return errors.New("worker not reaped after kill")
	}
}

// attachOutput wires the child's stdout/stderr into the configured log
// files (or the supervisor's own streams when none are configured) plus
// the bounded tail. It returns the closers owned by this run.
func (r *Runner) attachOutput(cmd *exec.Cmd, tail *tailBuffer) []io.Closer {
	var closers []io.Closer
	fc := r.spec.Log.File
	if fc.Dir != "" || fc.StdoutPath != "" || fc.StderrPath != "" {
		if fc.Dir != "" {
			_ = os.MkdirAll(fc.Dir, 0o750)
		}
		outW, errW, _ := r.spec.Log.Writers(r.spec.Name)
		if outW != nil {
			closers = append(closers, outW)
			cmd.Stdout = io.MultiWriter(outW, tail)
		} else {
			cmd.Stdout = tail
		}
		if errW != nil {
			closers = append(closers, errW)
			cmd.Stderr = io.MultiWriter(errW, tail)
		} else {
			cmd.Stderr = tail
		}
		return closers
	}
	// No files configured: pass through so container logs keep the
	// worker output, and capture the tail alongside.
	cmd.Stdout = io.MultiWriter(os.Stdout, tail)
	cmd.Stderr = io.MultiWriter(os.Stderr, tail)
	return closers
}

func exitCode(err error) (int, bool) {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		return ee.ExitCode(), true
	}
	return 0, false
}
