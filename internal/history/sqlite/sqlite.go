package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/kibitz-hq/kibitz/internal/history"
)

const table = "evaluation_history"

const insertEvent = `
	INSERT INTO ` + table + `(occurred_at, event, record_id, engine, fen, depth, outcome, best_move, score_cp, mate_in, duration_ms)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

// Sink appends evaluation events to SQLite, handy for single-host
// deployments that want an inspectable event log without extra services.
type Sink struct {
	db *sql.DB
}

// New opens the database at dsn and creates the event table when missing.
// Accepts "sqlite:///path/to/file.db", a bare path, or ":memory:".
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// retry briefly on a locked file instead of returning SQLITE_BUSY
	_, _ = db.Exec("PRAGMA busy_timeout=3000;")

	if err := ensureSchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history table: %w", err)
	}
	return &Sink{db: db}, nil
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + table + `(
			occurred_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			event TEXT NOT NULL,
			record_id TEXT NOT NULL,
			engine TEXT NOT NULL,
			fen TEXT NOT NULL,
			depth INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			best_move TEXT NOT NULL,
			score_cp INTEGER NOT NULL,
			mate_in INTEGER,
			duration_ms INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_` + table + `_occurred_at ON ` + table + `(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	_, err := s.db.ExecContext(ctx, insertEvent,
		e.OccurredAt.UTC(), string(e.Type), rec.ID, rec.Engine, rec.FEN,
		rec.Depth, rec.Outcome, rec.BestMove, rec.ScoreCP, rec.MateIn, rec.DurationMS)
	return err
}

func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
