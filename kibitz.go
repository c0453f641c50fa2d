// Package kibitz embeds the chess engine evaluation service: a pool of
// UCI engine processes with optional persistence, history export and an
// HTTP API.
package kibitz

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	icfg "github.com/kibitz-hq/kibitz/internal/config"
	"github.com/kibitz-hq/kibitz/internal/engine"
	"github.com/kibitz-hq/kibitz/internal/history"
	historyfactory "github.com/kibitz-hq/kibitz/internal/history/factory"
	"github.com/kibitz-hq/kibitz/internal/metrics"
	"github.com/kibitz-hq/kibitz/internal/pool"
	"github.com/kibitz-hq/kibitz/internal/retention"
	iapi "github.com/kibitz-hq/kibitz/internal/server"
	"github.com/kibitz-hq/kibitz/internal/store"
	storefactory "github.com/kibitz-hq/kibitz/internal/store/factory"
	itls "github.com/kibitz-hq/kibitz/internal/tls"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Result = engine.Result

type AnalysisLine = engine.AnalysisLine

type Pending = engine.Pending

type Engine = engine.Engine

type EngineConfig = engine.Config

type EngineStatus = engine.Status

type PoolConfig = pool.Config

type PoolStatus = pool.Status

type Record = store.Record

type HistoryEvent = history.Event

type HistorySink = history.Sink

type Config = icfg.Config

// MateScoreCP is the centipawn sentinel used for forced-mate scores.
const MateScoreCP = engine.MateScoreCP

// NewEngine creates a single engine driver outside any pool. Useful for
// one-shot evaluations; call Init before use and Quit when done.
func NewEngine(cfg EngineConfig) *Engine { return engine.New(cfg) }

// NewPool creates a bare engine pool without persistence wiring.
func NewPool(cfg PoolConfig) *pool.Pool { return pool.New(cfg) }

// Service is a thin facade bundling the pool with its optional store,
// history sinks, retention purger and engine resource sampler, all built
// from one Config.
type Service struct {
	cfg     *Config
	pool    *pool.Pool
	st      store.Store
	sinks   []history.Sink
	ret     *retention.Purger
	sampler *metrics.EngineSampler
}

// New wires a Service from a loaded Config. The engine pool is not
// started yet; call Start.
func New(cfg *Config) (*Service, error) {
	pcfg, err := cfg.PoolConfig()
	if err != nil {
		return nil, err
	}
	p := pool.New(pcfg)
	s := &Service{cfg: cfg, pool: p}

	if cfg.Store.DSN != "" {
		st, err := storefactory.NewFromDSN(cfg.Store.DSN)
		if err != nil {
			return nil, fmt.Errorf("store: %w", err)
		}
		s.st = st
		if err := p.SetStore(st); err != nil {
			s.closeBackends()
			return nil, fmt.Errorf("store schema: %w", err)
		}
	}
	for _, dsn := range cfg.History.Sinks {
		sink, err := historyfactory.NewSinkFromDSN(dsn)
		if err != nil {
			s.closeBackends()
			return nil, fmt.Errorf("history sink: %w", err)
		}
		s.sinks = append(s.sinks, sink)
	}
	if len(s.sinks) > 0 {
		p.SetHistorySinks(s.sinks...)
	}

	s.ret = retention.New(cfg.RetentionConfig(), s.st, nil)
	s.sampler = metrics.NewEngineSampler(0, s.enginePIDs)
	return s, nil
}

// enginePIDs feeds the resource sampler with the live driver processes.
func (s *Service) enginePIDs() map[string]int32 {
	st := s.pool.Status()
	pids := make(map[string]int32, len(st.Drivers))
	for _, d := range st.Drivers {
		if d.Ready && d.PID > 0 {
			pids[d.Name] = int32(d.PID)
		}
	}
	return pids
}

// Start spawns the engine processes, begins scheduled retention and, with
// metrics enabled, starts sampling engine resource usage.
func (s *Service) Start(ctx context.Context) error {
	if err := s.pool.Init(ctx); err != nil {
		return err
	}
	if err := s.ret.Start(ctx); err != nil {
		s.pool.Quit()
		return err
	}
	if s.cfg.MetricsEnabled() {
		if err := s.sampler.Register(prometheus.DefaultRegisterer); err != nil {
			slog.Warn("failed to register engine sampler", "error", err)
		}
		s.sampler.Start(ctx)
	}
	return nil
}

// Evaluate submits one position and waits for the result.
func (s *Service) Evaluate(ctx context.Context, fen string, depth int) (*Result, error) {
	return s.pool.Evaluate(ctx, fen, depth)
}

// Submit admits one position and returns the future.
func (s *Service) Submit(fen string, depth int) (*Pending, error) {
	return s.pool.Submit(fen, depth)
}

// Status reports pool counters and per-driver state.
func (s *Service) Status() PoolStatus { return s.pool.Status() }

// Pool exposes the underlying pool for advanced embedding.
func (s *Service) Pool() *pool.Pool { return s.pool }

// Recent returns the newest persisted evaluations.
func (s *Service) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s.st == nil {
		return nil, fmt.Errorf("no store configured")
	}
	return s.st.Recent(ctx, limit)
}

// Close shuts everything down: sampling and retention first, then the
// pool, then the persistence backends.
func (s *Service) Close() {
	s.sampler.Stop()
	s.ret.Stop()
	s.pool.Quit()
	s.closeBackends()
}

func (s *Service) closeBackends() {
	if s.st != nil {
		_ = s.st.Close()
		s.st = nil
	}
	for _, snk := range s.sinks {
		if c, ok := snk.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	s.sinks = nil
}

// Handler returns the service's HTTP API for mounting in any server/mux.
func (s *Service) Handler() http.Handler {
	return iapi.NewRouter(s, s.routerOptions()).Handler()
}

func (s *Service) routerOptions() iapi.Options {
	return iapi.Options{
		BasePath:     s.cfg.Server.BasePath,
		MaxDepth:     s.cfg.Engine.MaxDepth,
		Metrics:      s.cfg.MetricsEnabled(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) {
	return icfg.Load(path)
}

// NewHTTPServer starts an HTTP server exposing the evaluation API per the
// service's [server] config section. With [server.tls] enabled the server
// speaks HTTPS.
func NewHTTPServer(s *Service) (*http.Server, error) {
	opts := s.routerOptions()
	tc, err := itls.Setup(s.cfg.Server.TLS)
	if err != nil {
		return nil, fmt.Errorf("server tls: %w", err)
	}
	opts.TLS = tc
	return iapi.NewServer(s.cfg.Server.Listen, s, opts), nil
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// MetricsHandler returns the /metrics handler for the default registry.
func MetricsHandler() http.Handler { return metrics.Handler() }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the default registry.
// It returns any immediate listen error; otherwise it runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
