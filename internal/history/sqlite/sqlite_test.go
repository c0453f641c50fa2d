package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/kibitz-hq/kibitz/internal/history"
	"github.com/kibitz-hq/kibitz/internal/store"
)

func testEvent(id string, typ history.EventType) history.Event {
	return history.Event{
		Type:       typ,
		OccurredAt: time.Now().UTC(),
		Record: store.Record{
			ID:         id,
			Engine:     "sf-1",
			FEN:        "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
			Depth:      12,
			Outcome:    store.OutcomeOK,
			BestMove:   "e2e4",
			ScoreCP:    34,
			Lines:      "[]",
			DurationMS: 180,
		},
	}
}

func TestSQLiteSink(t *testing.T) {
	sink, err := New(":memory:")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })
	ctx := context.Background()

	if err := sink.Send(ctx, testEvent("a", history.EventEvaluated)); err != nil {
		t.Fatalf("send evaluated: %v", err)
	}

	crashed := testEvent("b", history.EventEngineCrashed)
	crashed.Record.Outcome = store.OutcomeCrashed
	crashed.Record.MateIn = sql.NullInt64{Int64: 5, Valid: true}
	if err := sink.Send(ctx, crashed); err != nil {
		t.Fatalf("send crashed: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM evaluation_history;`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 rows, got %d", count)
	}

	var event, outcome string
	var mateIn sql.NullInt64
	err = sink.db.QueryRowContext(ctx, `
		SELECT event, outcome, mate_in FROM evaluation_history WHERE record_id = ?;`, "b").
		Scan(&event, &outcome, &mateIn)
	if err != nil {
		t.Fatalf("query row: %v", err)
	}
	if event != string(history.EventEngineCrashed) {
		t.Errorf("expected engine_crashed event, got %q", event)
	}
	if outcome != store.OutcomeCrashed {
		t.Errorf("expected crashed outcome, got %q", outcome)
	}
	if !mateIn.Valid || mateIn.Int64 != 5 {
		t.Errorf("mate_in not round-tripped: %+v", mateIn)
	}
}

func TestSQLiteSinkDSNForms(t *testing.T) {
	for _, dsn := range []string{":memory:", "sqlite://:memory:"} {
		sink, err := New(dsn)
		if err != nil {
			t.Fatalf("dsn %q: %v", dsn, err)
		}
		_ = sink.Close()
	}
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
