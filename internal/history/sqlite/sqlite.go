package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/everyd/internal/history"
)

// Sink writes run history events to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}

	// Handle sqlite:// prefix
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only audit table, no primary key. exit_code stays NULL for
	// launch failures.
	stmt := `CREATE TABLE IF NOT EXISTS run_history(
		seq INTEGER NOT NULL,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		exit_code INTEGER,
		pid INTEGER NOT NULL,
		error TEXT,
		peak_rss INTEGER NOT NULL DEFAULT 0
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_history(seq, started_at, finished_at, duration_ms, outcome, exit_code, pid, error, peak_rss)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.Seq, rec.StartedAt.UTC(), rec.FinishedAt.UTC(), rec.Duration.Milliseconds(),
		string(rec.Outcome), rec.ExitCode, rec.PID, rec.Error, int64(rec.PeakRSS))
	return err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
