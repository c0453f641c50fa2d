package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/kibitz-hq/kibitz/internal/history"
)

// DefaultTable is used when Options.Table is empty.
const DefaultTable = "evaluation_history"

// Options describe one ClickHouse destination. Empty auth fields fall
// back to the server defaults (database and user "default", no password).
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

// schemaTmpl mirrors store.Record column for column. MergeTree ordered by
// occurred_at keeps recent-first queries and time-bounded scans cheap.
const schemaTmpl = `CREATE TABLE IF NOT EXISTS %s (
	type        String,
	occurred_at DateTime64(3, 'UTC'),
	record_id   String,
	engine      String,
	fen         String,
	depth       Int32,
	outcome     String,
	best_move   String,
	score_cp    Int32,
	mate_in     Nullable(Int64),
	duration_ms Int64
) ENGINE = MergeTree ORDER BY occurred_at`

// Sink appends evaluation events to a ClickHouse table using the official
// ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// New connects, verifies the connection with a ping and creates the target
// table when it does not exist yet.
func New(opts Options) (*Sink, error) {
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if opts.Table == "" {
		opts.Table = DefaultTable
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx := context.Background()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	if err := conn.Exec(ctx, fmt.Sprintf(schemaTmpl, opts.Table)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create ClickHouse table: %w", err)
	}

	return &Sink{conn: conn, table: opts.Table}, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	// mate_in stays SQL NULL when the score is centipawns only.
	var mateIn any
	if e.Record.MateIn.Valid {
		mateIn = e.Record.MateIn.Int64
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (type, occurred_at, record_id, engine, fen, depth, outcome, best_move, score_cp, mate_in, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		s.table,
	)
	if err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		e.Record.ID,
		e.Record.Engine,
		e.Record.FEN,
		e.Record.Depth,
		e.Record.Outcome,
		e.Record.BestMove,
		e.Record.ScoreCP,
		mateIn,
		e.Record.DurationMS,
	); err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}

func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
