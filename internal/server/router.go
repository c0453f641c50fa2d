package server

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/notnil/chess"

	"github.com/kibitz-hq/kibitz/internal/engine"
	"github.com/kibitz-hq/kibitz/internal/metrics"
	"github.com/kibitz-hq/kibitz/internal/pool"
)

// Evaluator is the slice of the pool the HTTP layer needs. *pool.Pool
// implements it; tests substitute a stub.
type Evaluator interface {
	Evaluate(ctx context.Context, fen string, depth int) (*engine.Result, error)
	Status() pool.Status
}

// Router provides embeddable HTTP handlers for the evaluation service.
// Endpoints:
//   POST {basePath}/evaluate     body: {"fen": ..., "depth": ...}
//   GET  {basePath}/status       pool counters and per-driver snapshots
//   GET  {basePath}/healthz      200 while at least one driver is alive
//   GET  /metrics                Prometheus export (when enabled)
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	ev       Evaluator
	basePath string
	opts     Options
}

// Options tunes the router and the standalone server around it.
type Options struct {
	BasePath string
	// MaxDepth caps the depth accepted in requests. Zero means the
	// driver default.
	MaxDepth int
	// Metrics exposes GET /metrics outside the base path.
	Metrics bool
	// TLS switches the standalone server to HTTPS when non-nil.
	TLS *tls.Config

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// NewRouter constructs a Router with a configurable base path.
// Example BasePath "/api/v1" results in /api/v1/evaluate and so on.
func NewRouter(ev Evaluator, opts Options) *Router {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = engine.DefaultMaxDepth
	}
	return &Router{ev: ev, basePath: sanitizeBase(opts.BasePath), opts: opts}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/evaluate", r.handleEvaluate)
	group.GET("/status", r.handleStatus)
	group.GET("/healthz", r.handleHealthz)
	if r.opts.Metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
// Shut it down via http.Server's Shutdown or Close.
func NewServer(addr string, ev Evaluator, opts Options) *http.Server {
	r := NewRouter(ev, opts)
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 15 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 2 * time.Minute
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 60 * time.Second
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		TLSConfig:         opts.TLS,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       opts.ReadTimeout,
		WriteTimeout:      opts.WriteTimeout,
		IdleTimeout:       opts.IdleTimeout,
	}
	if server.TLSConfig != nil {
		// Certificates come from TLSConfig.GetCertificate.
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type evaluateReq struct {
	FEN   string `json:"fen"`
	Depth int    `json:"depth"`
}

type evaluateResp struct {
	ID         string                `json:"id"`
	FEN        string                `json:"fen"`
	Depth      int                   `json:"depth"`
	BestMove   string                `json:"best_move"`
	Evaluation int                   `json:"evaluation"`
	MateIn     *int                  `json:"mate_in,omitempty"`
	Lines      []engine.AnalysisLine `json:"lines"`
	DurationMS int64                 `json:"duration_ms"`
}

func (r *Router) handleEvaluate(c *gin.Context) {
	var req evaluateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.FEN == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "fen required"})
		return
	}
	if _, err := chess.FEN(req.FEN); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: "invalid fen: " + err.Error()})
		return
	}
	if req.Depth <= 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "depth must be at least 1"})
		return
	}
	if req.Depth > r.opts.MaxDepth {
		c.JSON(http.StatusBadRequest, errorResp{Error: "depth exceeds maximum"})
		return
	}

	start := time.Now()
	res, err := r.ev.Evaluate(c.Request.Context(), req.FEN, req.Depth)
	if err != nil {
		c.JSON(statusFor(err), errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, evaluateResp{
		ID:         uuid.NewString(),
		FEN:        req.FEN,
		Depth:      res.Depth,
		BestMove:   res.BestMove,
		Evaluation: res.ScoreCP,
		MateIn:     res.MateIn,
		Lines:      res.Lines,
		DurationMS: time.Since(start).Milliseconds(),
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.ev.Status())
}

func (r *Router) handleHealthz(c *gin.Context) {
	st := r.ev.Status()
	for _, d := range st.Drivers {
		if d.Ready {
			c.JSON(http.StatusOK, okResp{OK: true})
			return
		}
	}
	c.JSON(http.StatusServiceUnavailable, errorResp{Error: "no engines available"})
}
