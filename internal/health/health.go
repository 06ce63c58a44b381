package health

import (
	"sync"
	"time"

	"github.com/loykin/everyd/internal/runner"
)

const (
	DefaultFailureThreshold = 3
	DefaultHistorySize      = 50
)

// Snapshot is a point-in-time copy of the supervisor's health state.
// Handlers serialize it directly.
type Snapshot struct {
	StartedAt           time.Time         `json:"started_at"`
	Running             bool              `json:"running"`
	Ready               bool              `json:"ready"`
	LastOutcome         runner.Outcome    `json:"last_outcome,omitempty"`
	LastFinishedAt      time.Time         `json:"last_finished_at"`
	NextRunAt           time.Time         `json:"next_run_at"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	FailureThreshold    int               `json:"failure_threshold"`
	TotalRuns           uint64            `json:"total_runs"`
	TotalSkips          uint64            `json:"total_skips"`
	OutcomeTotals       map[string]uint64 `json:"outcome_totals"`
	LastRecord          *runner.Record    `json:"last_record,omitempty"`
}

// Tracker holds the supervisor's health state. The scheduler goroutine
// is the only writer; HTTP handlers read through Snapshot, Recent and
// Ready, which copy under a read lock and never block on a run.
type Tracker struct {
	mu        sync.RWMutex
	startedAt time.Time
	threshold int

	running             bool
	lastRecord          *runner.Record
	consecutiveFailures int
	totalRuns           uint64
	totalSkips          uint64
	outcomes            map[runner.Outcome]uint64
	nextRunAt           time.Time

	ring  []runner.Record
	next  int
	count int
}

func New(failureThreshold, historySize int) *Tracker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Tracker{
		startedAt: time.Now(),
		threshold: failureThreshold,
		outcomes:  make(map[runner.Outcome]uint64),
		ring:      make([]runner.Record, historySize),
	}
}

// RunStarted marks an invocation in flight.
func (t *Tracker) RunStarted() {
	t.mu.Lock()
	t.running = true
	t.mu.Unlock()
}

// RunFinished records a terminal invocation. Success resets the
// consecutive failure count; every other outcome increments it.
func (t *Tracker) RunFinished(rec runner.Record) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = false
	cp := rec
	t.lastRecord = &cp
	t.totalRuns++
	t.outcomes[rec.Outcome]++
	if rec.Outcome.Failed() {
		t.consecutiveFailures++
	} else {
		t.consecutiveFailures = 0
	}
	t.ring[t.next] = rec
	t.next = (t.next + 1) % len(t.ring)
	if t.count < len(t.ring) {
		t.count++
	}
}

// TickSkipped records a tick that found the previous run still in
// flight. Skips never touch the failure count.
func (t *Tracker) TickSkipped() {
	t.mu.Lock()
	t.totalSkips++
	t.mu.Unlock()
}

// SetNextRun records when the scheduler expects to fire next.
func (t *Tracker) SetNextRun(at time.Time) {
	t.mu.Lock()
	t.nextRunAt = at
	t.mu.Unlock()
}

// Ready reports whether the consecutive failure count is still below
// the configured threshold.
func (t *Tracker) Ready() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.consecutiveFailures < t.threshold
}

// ConsecutiveFailures returns the current failure streak.
func (t *Tracker) ConsecutiveFailures() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.consecutiveFailures
}

// Snapshot returns a copy of the current health state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Snapshot{
		StartedAt:           t.startedAt,
		Running:             t.running,
		Ready:               t.consecutiveFailures < t.threshold,
		ConsecutiveFailures: t.consecutiveFailures,
		FailureThreshold:    t.threshold,
		TotalRuns:           t.totalRuns,
		TotalSkips:          t.totalSkips,
		NextRunAt:           t.nextRunAt,
		OutcomeTotals:       make(map[string]uint64, len(t.outcomes)),
	}
	for o, n := range t.outcomes {
		s.OutcomeTotals[string(o)] = n
	}
	if t.lastRecord != nil {
		cp := *t.lastRecord
		s.LastRecord = &cp
		s.LastOutcome = cp.Outcome
		s.LastFinishedAt = cp.FinishedAt
	}
	return s
}

// Recent returns up to n of the most recent records, newest first.
// n <= 0 returns everything retained.
func (t *Tracker) Recent(n int) []runner.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n <= 0 || n > t.count {
		n = t.count
	}
	out := make([]runner.Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.next - 1 - i + len(t.ring)) % len(t.ring)
		out = append(out, t.ring[idx])
	}
	return out
}
