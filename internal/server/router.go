package server

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/everyd/internal/health"
	"github.com/loykin/everyd/internal/metrics"
)

// Router provides embeddable HTTP handlers exposing supervisor health.
// Endpoints:
//   GET {basePath}/healthz   liveness; 200 while the supervisor serves
//   GET {basePath}/readyz    readiness; 503 once the failure streak reaches the threshold
//   GET {basePath}/status    full health snapshot
//   GET {basePath}/runs      recent run records, newest first; ?limit=N
//   GET {basePath}/metrics   prometheus exposition (when enabled)
// Handlers only read snapshots and never block on the scheduler.
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	tracker  *health.Tracker
	basePath string
	metrics  bool
}

// NewRouter constructs a new Router with configurable basePath.
// Example basePath: "/abc" results in /abc/healthz, /abc/status, ...
func NewRouter(tracker *health.Tracker, basePath string, metricsEnabled bool) *Router {
	bp := sanitizeBase(basePath)
	return &Router{tracker: tracker, basePath: bp, metrics: metricsEnabled}
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/readyz", r.handleReadyz)
	group.GET("/status", r.handleStatus)
	group.GET("/runs", r.handleRuns)
	if r.metrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// The listener is bound synchronously so a bad address fails here
// rather than inside the serve goroutine.
func NewServer(addr, basePath string, tracker *health.Tracker, metricsEnabled bool) (*http.Server, error) {
	r := NewRouter(tracker, basePath, metricsEnabled)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type statusResp struct {
	Status string `json:"status"`
}

type degradedResp struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, statusResp{Status: "ok"})
}

func (r *Router) handleReadyz(c *gin.Context) {
	s := r.tracker.Snapshot()
	if s.Ready {
		writeJSON(c, http.StatusOK, statusResp{Status: "ok"})
		return
	}
	writeJSON(c, http.StatusServiceUnavailable, degradedResp{
		Status: "degraded",
		Reason: fmt.Sprintf("%d consecutive failures", s.ConsecutiveFailures),
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.tracker.Snapshot())
}

func (r *Router) handleRuns(c *gin.Context) {
	limit := 0 // everything retained
	if ls := c.Query("limit"); ls != "" {
		n, err := strconv.Atoi(ls)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit: must be a non-negative integer"})
			return
		}
		limit = n
	}
	writeJSON(c, http.StatusOK, r.tracker.Recent(limit))
}
