package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/everyd/internal/health"
	"github.com/loykin/everyd/internal/metrics"
	"github.com/loykin/everyd/internal/runner"
	"github.com/prometheus/client_golang/prometheus"
)

func setupRouter(t *testing.T, base string, metricsEnabled bool) (http.Handler, *health.Tracker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tr := health.New(3, 10)
	r := NewRouter(tr, base, metricsEnabled)
	return r.Handler(), tr
}

func doReq(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func finished(seq int, outcome runner.Outcome) runner.Record {
	now := time.Now()
	rec := runner.Record{
		Seq:        seq,
		PID:        1000 + seq,
		StartedAt:  now.Add(-time.Second),
		FinishedAt: now,
		Duration:   time.Second,
		Outcome:    outcome,
	}
	if outcome != runner.OutcomeLaunchFailed {
		code := 0
		if outcome != runner.OutcomeSuccess {
			code = 1
		}
		rec.ExitCode = &code
	}
	return rec
}

func TestHealthzAlwaysOK(t *testing.T) {
	h, _ := setupRouter(t, "/abc", false)
	rec := doReq(t, h, "/abc/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if resp["status"] != "ok" {
		t.Fatalf("expected status ok, got %q", resp["status"])
	}
}

func TestReadyzDegradesAtThreshold(t *testing.T) {
	h, tr := setupRouter(t, "", false)

	rec := doReq(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("fresh tracker: expected 200, got %d", rec.Code)
	}

	// two failures stay below the threshold of three
	tr.RunFinished(finished(1, runner.OutcomeNonZeroExit))
	tr.RunFinished(finished(2, runner.OutcomeTimedOut))
	rec = doReq(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("below threshold: expected 200, got %d", rec.Code)
	}

	tr.RunFinished(finished(3, runner.OutcomeLaunchFailed))
	rec = doReq(t, h, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("at threshold: expected 503, got %d", rec.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if resp["status"] != "degraded" {
		t.Fatalf("expected status degraded, got %q", resp["status"])
	}
	if resp["reason"] != "3 consecutive failures" {
		t.Fatalf("unexpected reason %q", resp["reason"])
	}

	// one success clears the streak
	tr.RunFinished(finished(4, runner.OutcomeSuccess))
	rec = doReq(t, h, "/readyz")
	if rec.Code != http.StatusOK {
		t.Fatalf("after success: expected 200, got %d", rec.Code)
	}
}

func TestStatusSnapshot(t *testing.T) {
	h, tr := setupRouter(t, "", false)
	tr.RunFinished(finished(1, runner.OutcomeSuccess))
	tr.RunFinished(finished(2, runner.OutcomeNonZeroExit))
	tr.TickSkipped()

	rec := doReq(t, h, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var s health.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if s.TotalRuns != 2 || s.TotalSkips != 1 {
		t.Fatalf("unexpected totals: runs=%d skips=%d", s.TotalRuns, s.TotalSkips)
	}
	if s.LastOutcome != runner.OutcomeNonZeroExit {
		t.Fatalf("unexpected last outcome %q", s.LastOutcome)
	}
	if s.ConsecutiveFailures != 1 || !s.Ready {
		t.Fatalf("unexpected failure state: failures=%d ready=%v", s.ConsecutiveFailures, s.Ready)
	}
	if s.OutcomeTotals["success"] != 1 || s.OutcomeTotals["nonzero_exit"] != 1 {
		t.Fatalf("unexpected outcome totals: %v", s.OutcomeTotals)
	}
	if s.LastRecord == nil || s.LastRecord.Seq != 2 {
		t.Fatalf("expected last record seq 2, got %+v", s.LastRecord)
	}
}

func TestRunsNewestFirstWithLimit(t *testing.T) {
	h, tr := setupRouter(t, "", false)
	for seq := 1; seq <= 3; seq++ {
		tr.RunFinished(finished(seq, runner.OutcomeSuccess))
	}

	rec := doReq(t, h, "/runs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var runs []runner.Record
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if len(runs) != 3 || runs[0].Seq != 3 || runs[2].Seq != 1 {
		t.Fatalf("expected 3 records newest first, got %+v", runs)
	}

	rec = doReq(t, h, "/runs?limit=2")
	runs = nil
	if err := json.Unmarshal(rec.Body.Bytes(), &runs); err != nil {
		t.Fatalf("failed to parse json: %v", err)
	}
	if len(runs) != 2 || runs[0].Seq != 3 || runs[1].Seq != 2 {
		t.Fatalf("expected [3 2], got %+v", runs)
	}
}

func TestRunsRejectsBadLimit(t *testing.T) {
	h, _ := setupRouter(t, "", false)
	for _, path := range []string{"/runs?limit=abc", "/runs?limit=-1"} {
		rec := doReq(t, h, path)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, rec.Code)
		}
	}
}

func TestBasePathNormalization(t *testing.T) {
	// missing leading slash and trailing slash are both tolerated
	h, _ := setupRouter(t, "api/", false)
	rec := doReq(t, h, "/api/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestMetricsEndpointToggle(t *testing.T) {
	h, _ := setupRouter(t, "", false)
	rec := doReq(t, h, "/metrics")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("metrics disabled: expected 404, got %d", rec.Code)
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		t.Fatalf("register metrics: %v", err)
	}
	metrics.IncRun("success")

	h, _ = setupRouter(t, "", true)
	rec = doReq(t, h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics enabled: expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "everyd_worker_runs_total") {
		t.Fatalf("expected exposition to contain worker metrics, got: %.200s", rec.Body.String())
	}
}

func TestNewServerBindsSynchronously(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tr := health.New(0, 0)

	srv, err := NewServer("127.0.0.1:0", "", tr, false)
	if err != nil {
		t.Fatalf("expected bind on ephemeral port to succeed: %v", err)
	}
	_ = srv.Close()

	if _, err := NewServer("127.0.0.1:99999", "", tr, false); err == nil {
		t.Fatal("expected bind error for out-of-range port")
	}
}
