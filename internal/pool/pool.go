// Package pool multiplexes evaluation requests over a fixed set of
// engine drivers. Requests are admitted FIFO: an idle driver is used
// immediately, otherwise the request waits in a bounded queue. Drivers
// whose process dies are evicted and never respawned, so capacity only
// shrinks between restarts.
package pool

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kibitz-hq/kibitz/internal/engine"
	"github.com/kibitz-hq/kibitz/internal/history"
	"github.com/kibitz-hq/kibitz/internal/metrics"
	"github.com/kibitz-hq/kibitz/internal/store"
)

const (
	DefaultSize     = 2
	DefaultMaxQueue = 64
)

// Config configures a pool of identical engine drivers.
type Config struct {
	// Size is the number of engine processes to spawn.
	Size int
	// MaxQueue bounds the admission queue.
	MaxQueue int
	// Engine is the template for every driver. Its Name is used as a
	// base; drivers are named base-1 through base-N.
	Engine engine.Config
	Logger *slog.Logger
}

// waiter is one admitted request together with the future its caller
// holds. The id doubles as the persisted record id.
type waiter struct {
	id    string
	fen   string
	depth int
	p     *engine.Pending
	since time.Time
}

// Status is a point-in-time snapshot of the pool.
type Status struct {
	Engines int             `json:"engines"`
	Busy    int             `json:"busy"`
	Queued  int             `json:"queued"`
	Drivers []engine.Status `json:"drivers"`
}

type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	engines []*engine.Engine // live drivers; crashed ones are evicted
	idle    []*engine.Engine // FIFO of drivers without an active request
	queue   []*waiter        // FIFO admission queue
	closed  bool

	st        store.Store
	histSinks []history.Sink

	wg sync.WaitGroup // completion handlers in flight
}

func New(cfg Config) *Pool {
	if cfg.Size <= 0 {
		cfg.Size = DefaultSize
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultMaxQueue
	}
	if cfg.Engine.Name == "" {
		cfg.Engine.Name = "engine"
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Pool{cfg: cfg, logger: lg}
}

// SetStore configures a persistence store used to record evaluations.
// It ensures the schema and stores the instance for subsequent writes.
func (p *Pool) SetStore(s store.Store) error {
	p.mu.Lock()
	p.st = s
	p.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.EnsureSchema(context.Background())
}

// SetHistorySinks configures external history sinks (OpenSearch, ClickHouse, etc.).
// Passing nil or no sinks clears the list.
func (p *Pool) SetHistorySinks(sinks ...history.Sink) {
	p.mu.Lock()
	p.histSinks = append([]history.Sink(nil), sinks...)
	p.mu.Unlock()
}

// Init spawns and initializes all drivers concurrently. If any driver
// fails, the ones that did start are shut down again and the joined
// errors are returned.
func (p *Pool) Init(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrShuttingDown
	}
	if len(p.engines) > 0 {
		p.mu.Unlock()
		return errors.New("pool already initialized")
	}
	p.mu.Unlock()

	engines := make([]*engine.Engine, p.cfg.Size)
	for i := range engines {
		ecfg := p.cfg.Engine
		ecfg.Name = fmt.Sprintf("%s-%d", p.cfg.Engine.Name, i+1)
		if ecfg.Logger == nil {
			ecfg.Logger = p.logger
		}
		engines[i] = engine.New(ecfg)
	}

	errs := make([]error, len(engines))
	var wg sync.WaitGroup
	for i, e := range engines {
		wg.Add(1)
		go func(i int, e *engine.Engine) {
			defer wg.Done()
			errs[i] = e.Init(ctx)
		}(i, e)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		for _, e := range engines {
			e.Quit()
		}
		return fmt.Errorf("pool init: %w", err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		for _, e := range engines {
			e.Quit()
		}
		return ErrShuttingDown
	}
	p.engines = engines
	p.idle = append([]*engine.Engine(nil), engines...)
	p.mu.Unlock()

	metrics.SetEnginesTotal(len(engines))
	metrics.SetEnginesBusy(0)
	p.logger.Info("pool started", "engines", len(engines), "command", p.cfg.Engine.Command)
	return nil
}

// Submit admits one evaluation request. The returned future settles when
// a driver finishes the work, the serving driver dies, or the pool shuts
// down. Only admission errors are returned synchronously.
func (p *Pool) Submit(fen string, depth int) (*engine.Pending, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrShuttingDown
	}
	if len(p.engines) == 0 {
		return nil, ErrNoEngines
	}
	w := &waiter{id: uuid.NewString(), fen: fen, depth: depth, p: engine.NewPending(), since: time.Now()}
	if len(p.idle) > 0 {
		e := p.idle[0]
		p.idle = p.idle[1:]
		p.dispatchLocked(e, w)
		return w.p, nil
	}
	if len(p.queue) >= p.cfg.MaxQueue {
		return nil, ErrOverloaded
	}
	p.queue = append(p.queue, w)
	metrics.SetQueueLength(len(p.queue))
	return w.p, nil
}

// Evaluate submits and waits.
func (p *Pool) Evaluate(ctx context.Context, fen string, depth int) (*engine.Result, error) {
	pend, err := p.Submit(fen, depth)
	if err != nil {
		return nil, err
	}
	return pend.Wait(ctx)
}

// dispatchLocked hands a request to a driver that was just taken out of
// the idle list. A synchronous refusal means the process died while
// idle; the request is rejected and the driver goes through the same
// eviction path as an asynchronous crash. Caller holds p.mu.
func (p *Pool) dispatchLocked(e *engine.Engine, w *waiter) {
	ep, err := e.Submit(w.fen, w.depth)
	if err != nil {
		w.p.Settle(nil, err)
		p.wg.Add(1)
		go p.finish(e, w, nil, err, time.Since(w.since))
		return
	}
	metrics.SetEnginesBusy(len(p.engines) - len(p.idle))
	metrics.ObserveEvalDepth(e.Name(), w.depth)
	p.wg.Add(1)
	go func() {
		res, werr := ep.Wait(context.Background())
		w.p.Settle(res, werr)
		p.finish(e, w, res, werr, time.Since(w.since))
	}()
}

// finish runs once per dispatched request, after its future settled. It
// records the outcome, then either hands the freed driver straight to
// the oldest queued request or returns it to the idle list. A driver
// whose process died is evicted instead.
func (p *Pool) finish(e *engine.Engine, w *waiter, res *engine.Result, err error, took time.Duration) {
	defer p.wg.Done()

	if !errors.Is(err, engine.ErrShuttingDown) && !errors.Is(err, ErrShuttingDown) {
		metrics.IncEvaluation(e.Name(), outcomeOf(err))
		metrics.ObserveEvalDuration(e.Name(), took.Seconds())
		p.record(e.Name(), w, res, err, took)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !e.Alive() {
		p.evictLocked(e)
		return
	}
	if len(p.queue) > 0 {
		next := p.queue[0]
		p.queue = p.queue[1:]
		metrics.SetQueueLength(len(p.queue))
		p.dispatchLocked(e, next)
		return
	}
	p.idle = append(p.idle, e)
	metrics.SetEnginesBusy(len(p.engines) - len(p.idle))
}

// evictLocked permanently removes a dead driver from the pool. Capacity
// shrinks; if a request is queued, exactly one is rejected because the
// slot it was waiting for no longer exists. Caller holds p.mu.
func (p *Pool) evictLocked(e *engine.Engine) {
	for i, x := range p.engines {
		if x == e {
			p.engines = append(p.engines[:i], p.engines[i+1:]...)
			break
		}
	}
	for i, x := range p.idle {
		if x == e {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
	metrics.IncEngineCrash(e.Name())
	metrics.SetEnginesTotal(len(p.engines))
	metrics.SetEnginesBusy(len(p.engines) - len(p.idle))
	p.logger.Warn("engine evicted, capacity reduced",
		"engine", e.Name(), "engines", len(p.engines))

	if len(p.queue) > 0 {
		w := p.queue[0]
		p.queue = p.queue[1:]
		metrics.SetQueueLength(len(p.queue))
		rejErr := fmt.Errorf("%w: %s", ErrEngineCrashed, e.Name())
		w.p.Settle(nil, rejErr)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			metrics.IncEvaluation(e.Name(), store.OutcomeCrashed)
			p.record(e.Name(), w, nil, rejErr, time.Since(w.since))
		}()
	}
	if len(p.engines) == 0 {
		p.logger.Error("all engines are gone, submissions will be rejected")
	}
}

// Status reports pool counters and a per-driver snapshot.
func (p *Pool) Status() Status {
	p.mu.Lock()
	engines := append([]*engine.Engine(nil), p.engines...)
	idle := len(p.idle)
	queued := len(p.queue)
	closed := p.closed
	p.mu.Unlock()

	st := Status{Engines: len(engines), Queued: queued}
	if !closed {
		st.Busy = len(engines) - idle
	}
	for _, e := range engines {
		st.Drivers = append(st.Drivers, e.Status())
	}
	return st
}

// Quit rejects every queued request, shuts all drivers down
// concurrently and waits for the stragglers. It is idempotent.
func (p *Pool) Quit() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.wg.Wait()
		return
	}
	p.closed = true
	waiters := p.queue
	p.queue = nil
	p.idle = nil
	engines := append([]*engine.Engine(nil), p.engines...)
	p.mu.Unlock()

	for _, w := range waiters {
		w.p.Settle(nil, ErrShuttingDown)
	}
	metrics.SetQueueLength(0)

	var wg sync.WaitGroup
	for _, e := range engines {
		wg.Add(1)
		go func(e *engine.Engine) {
			defer wg.Done()
			e.Quit()
		}(e)
	}
	wg.Wait()
	p.wg.Wait()
	metrics.SetEnginesBusy(0)
	p.logger.Info("pool stopped", "engines", len(engines), "cancelled", len(waiters))
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return store.OutcomeOK
	case errors.Is(err, engine.ErrEvalTimeout):
		return store.OutcomeTimeout
	case errors.Is(err, engine.ErrProcessExited), errors.Is(err, ErrEngineCrashed):
		return store.OutcomeCrashed
	default:
		return store.OutcomeFailed
	}
}

// record persists one finished evaluation and fans it out to the
// history sinks, best effort.
func (p *Pool) record(engineName string, w *waiter, res *engine.Result, evalErr error, took time.Duration) {
	p.mu.Lock()
	st := p.st
	sinks := append([]history.Sink(nil), p.histSinks...)
	p.mu.Unlock()
	if st == nil && len(sinks) == 0 {
		return
	}

	outcome := outcomeOf(evalErr)
	rec := store.Record{
		ID:         w.id,
		Engine:     engineName,
		FEN:        w.fen,
		Depth:      w.depth,
		Outcome:    outcome,
		DurationMS: took.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if res != nil {
		rec.Depth = res.Depth
		rec.BestMove = res.BestMove
		rec.ScoreCP = res.ScoreCP
		if res.MateIn != nil {
			rec.MateIn = sql.NullInt64{Int64: int64(*res.MateIn), Valid: true}
		}
		if b, err := json.Marshal(res.Lines); err == nil {
			rec.Lines = string(b)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if st != nil {
		_ = st.Save(ctx, rec)
	}
	if len(sinks) > 0 {
		evt := history.For(rec)
		for _, s := range sinks {
			_ = s.Send(ctx, evt)
		}
	}
}
