package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/kibitz-hq/kibitz/internal/store"
)

// postgresDSN boots a throwaway PostgreSQL container and returns a DSN for
// the pgx stdlib driver. Cleanup is registered on t; the test is skipped
// when Docker is not available.
func postgresDSN(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("kibitz"),
		postgres.WithUsername("kibitz"),
		postgres.WithPassword("kibitz"),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	if err != nil {
		t.Skipf("container host: %v", err)
	}
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Skipf("container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://kibitz:kibitz@%s:%s/kibitz?sslmode=disable", host, port.Port())
	waitReady(t, dsn)
	return dsn
}

// waitReady pings until the server accepts connections. The container can
// report started while postgres is still finishing its first boot.
func waitReady(t *testing.T, dsn string) {
	t.Helper()

	deadline := time.Now().Add(45 * time.Second)
	var lastErr error
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		db, err := sql.Open("pgx", dsn)
		if err == nil {
			lastErr = db.PingContext(ctx)
			_ = db.Close()
		} else {
			lastErr = err
		}
		cancel()
		if lastErr == nil {
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("postgres not ready in time: %v", lastErr)
}

func TestPostgresSaveAndQuery(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	dsn := postgresDSN(t)

	db, err := New(dsn)
	if err != nil {
		t.Fatalf("pg open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()
	if err := db.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}

	now := time.Now().UTC()
	old := store.Record{
		ID: "a", Engine: "sf-1", FEN: "fen-a", Depth: 12, Outcome: store.OutcomeOK,
		BestMove: "e2e4", ScoreCP: 34, Lines: "[]", DurationMS: 210,
		CreatedAt: now.Add(-48 * time.Hour),
	}
	fresh := store.Record{
		ID: "b", Engine: "sf-2", FEN: "fen-b", Depth: 18, Outcome: store.OutcomeCrashed,
		MateIn: sql.NullInt64{Int64: 4, Valid: true}, Lines: "[]", DurationMS: 95,
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
	if len(recs) != 2 || recs[0].ID != "b" {
		t.Fatalf("unexpected records: %+v", recs)
	}
	if !recs[0].MateIn.Valid || recs[0].MateIn.Int64 != 4 {
		t.Fatalf("mate_in not round-tripped: %+v", recs[0].MateIn)
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
}
