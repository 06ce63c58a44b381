package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/loykin/everyd/internal/runner"
)

// EventType defines the kind of history event.
type EventType string

// EventRun is emitted once per terminal worker invocation.
const EventRun EventType = "run"

// Event represents a run event to be exported to external systems.
type Event struct {
	Type       EventType     `json:"type"`
	OccurredAt time.Time     `json:"occurred_at"`
	Record     runner.Record `json:"record"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds each sink delivery.
const DefaultSendTimeout = 3 * time.Second

// Sinks fans one event per terminal run out to every configured sink,
// in the order runs finish. Delivery is best effort: failures are
// logged and dropped, and each send is bounded by the timeout so a
// slow sink cannot stall the scheduler.
type Sinks struct {
	sinks   []Sink
	timeout time.Duration
}

func NewSinks(sinks []Sink, timeout time.Duration) *Sinks {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	return &Sinks{sinks: sinks, timeout: timeout}
}

func (s *Sinks) Len() int {
	if s == nil {
		return 0
	}
	return len(s.sinks)
}

// RecordRun delivers the terminal record to each sink.
func (s *Sinks) RecordRun(rec runner.Record) {
	if s == nil || len(s.sinks) == 0 {
		return
	}
	e := Event{Type: EventRun, OccurredAt: time.Now().UTC(), Record: rec}
	for _, sink := range s.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		if err := sink.Send(ctx, e); err != nil {
			slog.Warn("history sink send failed", "seq", rec.Seq, "error", err)
		}
		cancel()
	}
}

// Close releases every sink that holds resources.
func (s *Sinks) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for _, sink := range s.sinks {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
