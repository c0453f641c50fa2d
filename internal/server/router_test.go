package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/kibitz-hq/kibitz/internal/engine"
	"github.com/kibitz-hq/kibitz/internal/pool"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

type stubEvaluator struct {
	res    *engine.Result
	err    error
	status pool.Status

	calls    int
	gotFEN   string
	gotDepth int
}

func (s *stubEvaluator) Evaluate(_ context.Context, fen string, depth int) (*engine.Result, error) {
	s.calls++
	s.gotFEN, s.gotDepth = fen, depth
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func (s *stubEvaluator) Status() pool.Status { return s.status }

func setupRouter(t *testing.T, ev Evaluator, opts Options) http.Handler {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(ev, opts).Handler()
}

func doReq(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEvaluateOK(t *testing.T) {
	ev := &stubEvaluator{res: &engine.Result{
		BestMove: "e2e4",
		ScoreCP:  34,
		Depth:    12,
		Lines: []engine.AnalysisLine{
			{Rank: 1, Move: "e2e4", ScoreCP: 34, PV: []string{"e2e4", "e7e5"}},
			{Rank: 2, Move: "d2d4", ScoreCP: 21, PV: []string{"d2d4"}},
		},
	}}
	h := setupRouter(t, ev, Options{BasePath: "/api/v1"})

	rec := doReq(t, h, http.MethodPost, "/api/v1/evaluate", evaluateReq{FEN: startFEN, Depth: 12})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp evaluateResp
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID == "" {
		t.Fatalf("expected a request id")
	}
	if resp.BestMove != "e2e4" || resp.Evaluation != 34 || resp.Depth != 12 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.MateIn != nil {
		t.Fatalf("mate_in should be absent: %+v", resp.MateIn)
	}
	if len(resp.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(resp.Lines))
	}
	if ev.gotFEN != startFEN || ev.gotDepth != 12 {
		t.Fatalf("evaluator got fen=%q depth=%d", ev.gotFEN, ev.gotDepth)
	}
}

func TestEvaluateInvalidJSON(t *testing.T) {
	ev := &stubEvaluator{}
	h := setupRouter(t, ev, Options{})
	req := httptest.NewRequest(http.MethodPost, "/evaluate", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if ev.calls != 0 {
		t.Fatalf("evaluator should not be called")
	}
}

func TestEvaluateRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		req  evaluateReq
	}{
		{"missing fen", evaluateReq{Depth: 10}},
		{"malformed fen", evaluateReq{FEN: "not a chess position", Depth: 10}},
		{"zero depth", evaluateReq{FEN: startFEN, Depth: 0}},
		{"negative depth", evaluateReq{FEN: startFEN, Depth: -3}},
		{"depth beyond max", evaluateReq{FEN: startFEN, Depth: 25}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := &stubEvaluator{}
			h := setupRouter(t, ev, Options{MaxDepth: 20})
			rec := doReq(t, h, http.MethodPost, "/evaluate", tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
			if ev.calls != 0 {
				t.Fatalf("evaluator should not be called for invalid input")
			}
		})
	}
}

func TestEvaluateErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{pool.ErrOverloaded, http.StatusTooManyRequests},
		{pool.ErrNoEngines, http.StatusServiceUnavailable},
		{pool.ErrShuttingDown, http.StatusServiceUnavailable},
		{pool.ErrEngineCrashed, http.StatusServiceUnavailable},
		{engine.ErrShuttingDown, http.StatusServiceUnavailable},
		{engine.ErrProcessExited, http.StatusServiceUnavailable},
		{engine.ErrEvalTimeout, http.StatusGatewayTimeout},
		{errors.New("engine said something odd"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := setupRouter(t, &stubEvaluator{err: tc.err}, Options{})
			rec := doReq(t, h, http.MethodPost, "/evaluate", evaluateReq{FEN: startFEN, Depth: 10})
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
			var resp errorResp
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Error == "" {
				t.Fatalf("expected error message in body")
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	ev := &stubEvaluator{status: pool.Status{
		Engines: 2,
		Busy:    1,
		Queued:  3,
		Drivers: []engine.Status{
			{Name: "stockfish-1", State: "busy", Ready: true, Busy: true},
			{Name: "stockfish-2", State: "ready", Ready: true},
		},
	}}
	h := setupRouter(t, ev, Options{BasePath: "/api/v1"})

	rec := doReq(t, h, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var st pool.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Engines != 2 || st.Busy != 1 || st.Queued != 3 || len(st.Drivers) != 2 {
		t.Fatalf("unexpected status: %+v", st)
	}
}

func TestHealthz(t *testing.T) {
	alive := &stubEvaluator{status: pool.Status{
		Engines: 1,
		Drivers: []engine.Status{{Name: "stockfish-1", State: "ready", Ready: true}},
	}}
	h := setupRouter(t, alive, Options{})
	if rec := doReq(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	dead := &stubEvaluator{status: pool.Status{
		Drivers: []engine.Status{{Name: "stockfish-1", State: "dead"}},
	}}
	h = setupRouter(t, dead, Options{})
	if rec := doReq(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}

	empty := &stubEvaluator{}
	h = setupRouter(t, empty, Options{})
	if rec := doReq(t, h, http.MethodGet, "/healthz", nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 with no drivers, got %d", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	h := setupRouter(t, &stubEvaluator{}, Options{BasePath: "/api/v1", Metrics: true})
	rec := doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h = setupRouter(t, &stubEvaluator{}, Options{BasePath: "/api/v1"})
	rec = doReq(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 when metrics disabled, got %d", rec.Code)
	}
}
