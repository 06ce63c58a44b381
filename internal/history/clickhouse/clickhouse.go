package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/everyd/internal/history"
)

// Sink sends run events to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

func New(dsn, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{dsn},
		Auth: clickhouse.Auth{
			Database: "default",
			Username: "default",
			Password: "",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	// Test the connection
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Sink{
		conn:  conn,
		table: table,
	}, nil
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, seq, started_at, finished_at, duration_ms, outcome, exit_code, pid, error, peak_rss) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	rec := e.Record
	var exitCode *int64
	if rec.ExitCode != nil {
		v := int64(*rec.ExitCode)
		exitCode = &v
	}

	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		int64(rec.Seq),
		rec.StartedAt,
		rec.FinishedAt,
		rec.Duration.Milliseconds(),
		string(rec.Outcome),
		exitCode,
		int64(rec.PID),
		rec.Error,
		rec.PeakRSS,
	)

	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}

	return nil
}
