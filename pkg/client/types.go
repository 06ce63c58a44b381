package client

import "time"

// Status mirrors the supervisor's /status payload.
type Status struct {
	StartedAt           time.Time         `json:"started_at"`
	Running             bool              `json:"running"`
	Ready               bool              `json:"ready"`
	LastOutcome         string            `json:"last_outcome,omitempty"`
	LastFinishedAt      time.Time         `json:"last_finished_at"`
	NextRunAt           time.Time         `json:"next_run_at"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	FailureThreshold    int               `json:"failure_threshold"`
	TotalRuns           uint64            `json:"total_runs"`
	TotalSkips          uint64            `json:"total_skips"`
	OutcomeTotals       map[string]uint64 `json:"outcome_totals"`
	LastRecord          *RunRecord        `json:"last_record,omitempty"`
}

// RunRecord mirrors one entry of the supervisor's /runs payload.
type RunRecord struct {
	Seq        int           `json:"seq"`
	PID        int           `json:"pid,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration"`
	Outcome    string        `json:"outcome"`
	ExitCode   *int          `json:"exit_code,omitempty"`
	Error      string        `json:"error,omitempty"`
	PeakRSS    uint64        `json:"peak_rss_bytes,omitempty"`
	OutputTail string        `json:"output_tail,omitempty"`
}

// healthResponse is the wire shape of /healthz and /readyz.
type healthResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
