// Package retention deletes old evaluation records on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kibitz-hq/kibitz/internal/store"
)

// Config controls periodic purging of the evaluation store.
type Config struct {
	// Schedule is a standard 5-field cron expression, e.g. "0 3 * * *"
	// for daily at 3 AM. Empty disables the purger.
	Schedule string
	// MaxAge is how long records are kept.
	MaxAge time.Duration
}

// Purger runs store.PurgeOlderThan on a schedule.
type Purger struct {
	cfg     Config
	st      store.Store
	cron    *cron.Cron
	mu      sync.Mutex
	logger  *slog.Logger
	running bool
}

func New(cfg Config, st store.Store, logger *slog.Logger) *Purger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Purger{
		cfg:    cfg,
		st:     st,
		cron:   cron.New(),
		logger: logger,
	}
}

// Start begins scheduled purging. With an empty schedule or no store it
// does nothing. The purger stops itself when ctx is cancelled.
func (p *Purger) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Schedule == "" || p.st == nil {
		p.logger.Info("retention schedule not configured, purger disabled")
		return nil
	}
	if p.cfg.MaxAge <= 0 {
		return fmt.Errorf("retention max age must be positive, got %s", p.cfg.MaxAge)
	}

	if _, err := cron.ParseStandard(p.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", p.cfg.Schedule, err)
	}

	if _, err := p.cron.AddFunc(p.cfg.Schedule, func() {
		p.purge(ctx)
	}); err != nil {
		return fmt.Errorf("failed to schedule retention purge: %w", err)
	}

	p.cron.Start()
	p.running = true
	p.logger.Info("retention purger started",
		"schedule", p.cfg.Schedule, "max_age", p.cfg.MaxAge.String())

	go func() {
		<-ctx.Done()
		p.Stop()
	}()

	return nil
}

func (p *Purger) purge(ctx context.Context) {
	deleted, err := p.RunOnce(ctx)
	if err != nil {
		p.logger.Error("retention purge failed", "error", err)
		return
	}
	if deleted > 0 {
		p.logger.Info("retention purge completed", "deleted", deleted)
	} else {
		p.logger.Debug("retention purge completed, nothing to delete")
	}
}

// RunOnce purges immediately, regardless of the schedule.
func (p *Purger) RunOnce(ctx context.Context) (int64, error) {
	if p.st == nil {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-p.cfg.MaxAge)
	return p.st.PurgeOlderThan(ctx, cutoff)
}

// Stop halts the schedule and waits for a running purge to finish.
func (p *Purger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil && p.running {
		ctx := p.cron.Stop()
		<-ctx.Done()
		p.running = false
		p.logger.Info("retention purger stopped")
	}
}

// IsRunning reports whether the schedule is active.
func (p *Purger) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// NextRun returns the next scheduled purge time, if any.
func (p *Purger) NextRun() *time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	entries := p.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
