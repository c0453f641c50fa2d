package retention

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kibitz-hq/kibitz/internal/store"
)

type purgeStore struct {
	mu      sync.Mutex
	cutoffs []time.Time
	deleted int64
}

func (s *purgeStore) EnsureSchema(context.Context) error           { return nil }
func (s *purgeStore) Save(context.Context, store.Record) error     { return nil }
func (s *purgeStore) Recent(context.Context, int) ([]store.Record, error) {
	return nil, nil
}
func (s *purgeStore) CountSince(context.Context, time.Time) (int64, error) { return 0, nil }
func (s *purgeStore) Close() error                                         { return nil }

func (s *purgeStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.deleted, nil
}

func (s *purgeStore) calls() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.cutoffs...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartDisabledWithoutSchedule(t *testing.T) {
	p := New(Config{MaxAge: time.Hour}, &purgeStore{}, testLogger())

	require.NoError(t, p.Start(context.Background()))
	assert.False(t, p.IsRunning())
	assert.Nil(t, p.NextRun())
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	p := New(Config{Schedule: "not a cron line", MaxAge: time.Hour}, &purgeStore{}, testLogger())

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid retention schedule")
	assert.False(t, p.IsRunning())
}

func TestStartRejectsNonPositiveMaxAge(t *testing.T) {
	p := New(Config{Schedule: "0 3 * * *"}, &purgeStore{}, testLogger())

	err := p.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max age")
}

func TestRunOncePurgesWithCutoff(t *testing.T) {
	st := &purgeStore{deleted: 3}
	p := New(Config{MaxAge: 24 * time.Hour}, st, testLogger())

	before := time.Now().UTC().Add(-24 * time.Hour)
	deleted, err := p.RunOnce(context.Background())
	after := time.Now().UTC().Add(-24 * time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	calls := st.calls()
	require.Len(t, calls, 1)
	assert.False(t, calls[0].Before(before))
	assert.False(t, calls[0].After(after))
}

func TestStartAndStop(t *testing.T) {
	st := &purgeStore{}
	p := New(Config{Schedule: "* * * * *", MaxAge: time.Hour}, st, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, p.Start(ctx))
	assert.True(t, p.IsRunning())

	next := p.NextRun()
	require.NotNil(t, next)
	assert.True(t, next.After(time.Now().Add(-time.Second)))

	p.Stop()
	assert.False(t, p.IsRunning())

	// Stop is idempotent.
	p.Stop()
	assert.False(t, p.IsRunning())
}

func TestContextCancelStopsPurger(t *testing.T) {
	p := New(Config{Schedule: "* * * * *", MaxAge: time.Hour}, &purgeStore{}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	require.True(t, p.IsRunning())

	cancel()

	require.Eventually(t, func() bool { return !p.IsRunning() },
		2*time.Second, 10*time.Millisecond)
}
