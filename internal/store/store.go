package store

import (
	"context"
	"database/sql"
	"time"
)

// Outcome values recorded per evaluation.
const (
	OutcomeOK      = "ok"
	OutcomeTimeout = "timeout"
	OutcomeCrashed = "crashed"
	OutcomeFailed  = "failed"
)

// Record is the unit of state we persist per evaluation request.
// ID is assigned when the request is admitted and is unique.
// Lines holds the ranked analysis lines encoded as JSON.
// MateIn is null unless the top line is a forced mate.
// CreatedAt should be in UTC.

type Record struct {
	ID         string
	Engine     string
	FEN        string
	Depth      int
	Outcome    string
	BestMove   string
	ScoreCP    int
	MateIn     sql.NullInt64
	Lines      string
	DurationMS int64
	CreatedAt  time.Time
}

// Store is a minimal persistence interface for evaluation records.
// Save failures must never affect the evaluation result itself.

type Store interface {
	EnsureSchema(ctx context.Context) error
	Save(ctx context.Context, rec Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	CountSince(ctx context.Context, since time.Time) (int64, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}
