package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kibitz-hq/kibitz/internal/store"
)

// evalColumns is the column order scanRecords expects.
const evalColumns = `id, engine, fen, depth, outcome, best_move, score_cp, mate_in, lines, duration_ms, created_at`

// DB keeps evaluation records in a single SQLite file through the CGO-free
// modernc.org/sqlite driver. Pass ":memory:" to keep records only for the
// lifetime of the process.
type DB struct {
	db *sql.DB
}

// New opens or creates the database file at path.
func New(path string) (*DB, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// retry briefly on a locked file instead of returning SQLITE_BUSY
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	return &DB{db: d}, nil
}

func (s *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evaluations(
			id TEXT PRIMARY KEY,
			engine TEXT NOT NULL,
			fen TEXT NOT NULL,
			depth INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			best_move TEXT NOT NULL,
			score_cp INTEGER NOT NULL,
			mate_in INTEGER NULL,
			lines TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_created_at ON evaluations(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_outcome ON evaluations(outcome);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *DB) Close() error { return s.db.Close() }

func (s *DB) Save(ctx context.Context, rec store.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO evaluations(`+evalColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Engine, rec.FEN, rec.Depth, rec.Outcome, rec.BestMove, rec.ScoreCP, rec.MateIn, rec.Lines, rec.DurationMS, rec.CreatedAt.UTC())
	return err
}

func (s *DB) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+evalColumns+`
		FROM evaluations
		ORDER BY created_at DESC
		LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *DB) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluations WHERE created_at >= ?;`, since.UTC()).Scan(&n)
	return n, err
}

func (s *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM evaluations WHERE created_at < ?;`, olderThan.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanRecords(rows *sql.Rows) ([]store.Record, error) {
	out := make([]store.Record, 0)
	for rows.Next() {
		var r store.Record
		if err := rows.Scan(&r.ID, &r.Engine, &r.FEN, &r.Depth, &r.Outcome, &r.BestMove, &r.ScoreCP, &r.MateIn, &r.Lines, &r.DurationMS, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
