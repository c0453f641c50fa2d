package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kibitz-hq/kibitz/internal/store"
)

// evalColumns is the column order scanRecords expects.
const evalColumns = `id, engine, fen, depth, outcome, best_move, score_cp, mate_in, lines, duration_ms, created_at`

// DB stores evaluation records in PostgreSQL through the pgx stdlib driver.
type DB struct {
	db *sql.DB
}

// New opens dsn. The connection is dialed lazily on first use.
func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &DB{db: d}, nil
}

func (p *DB) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS evaluations(
			id TEXT PRIMARY KEY,
			engine TEXT NOT NULL,
			fen TEXT NOT NULL,
			depth INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			best_move TEXT NOT NULL,
			score_cp INTEGER NOT NULL,
			mate_in BIGINT NULL,
			lines TEXT NOT NULL,
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_created_at ON evaluations(created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_outcome ON evaluations(outcome);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Save(ctx context.Context, rec store.Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO evaluations(`+evalColumns+`)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11);`,
		rec.ID, rec.Engine, rec.FEN, rec.Depth, rec.Outcome, rec.BestMove, rec.ScoreCP, rec.MateIn, rec.Lines, rec.DurationMS, rec.CreatedAt.UTC())
	return err
}

func (p *DB) Recent(ctx context.Context, limit int) ([]store.Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+evalColumns+`
		FROM evaluations
		ORDER BY created_at DESC
		LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func (p *DB) CountSince(ctx context.Context, since time.Time) (int64, error) {
	var n int64
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evaluations WHERE created_at >= $1;`, since.UTC()).Scan(&n)
	return n, err
}

func (p *DB) PurgeOlderThan(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `DELETE FROM evaluations WHERE created_at < $1;`, olderThan.UTC())
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
