package sqlite

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/kibitz-hq/kibitz/internal/store"
)

func TestSQLiteSaveAndQuery(t *testing.T) {
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("sqlite open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	// second EnsureSchema must be a no-op
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema twice: %v", err)
	}

	now := time.Now().UTC()
	old := store.Record{
		ID: "a", Engine: "sf-1", FEN: "fen-a", Depth: 12, Outcome: store.OutcomeOK,
		BestMove: "e2e4", ScoreCP: 34, Lines: "[]", DurationMS: 210,
		CreatedAt: now.Add(-48 * time.Hour),
	}
	fresh := store.Record{
		ID: "b", Engine: "sf-2", FEN: "fen-b", Depth: 18, Outcome: store.OutcomeTimeout,
		MateIn: sql.NullInt64{Int64: -3, Valid: true}, Lines: "[]", DurationMS: 30000,
		CreatedAt: now,
	}
	if err := db.Save(ctx, old); err != nil {
		t.Fatalf("save old: %v", err)
	}
	if err := db.Save(ctx, fresh); err != nil {
		t.Fatalf("save fresh: %v", err)
	}

	recs, err := db.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ID != "b" {
		t.Fatalf("expected newest first, got %q", recs[0].ID)
	}
	if !recs[0].MateIn.Valid || recs[0].MateIn.Int64 != -3 {
		t.Fatalf("mate_in not round-tripped: %+v", recs[0].MateIn)
	}
	if recs[1].MateIn.Valid {
		t.Fatalf("expected null mate_in, got %+v", recs[1].MateIn)
	}

	n, err := db.CountSince(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("count since: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 recent record, got %d", n)
	}

	purged, err := db.PurgeOlderThan(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
	recs, err = db.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent after purge: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "b" {
		t.Fatalf("unexpected records after purge: %+v", recs)
	}
}

func TestSQLiteEmptyPath(t *testing.T) {
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
