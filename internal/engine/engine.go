// Package engine drives one external UCI chess engine process. A driver
// owns its process for the process's whole lifetime: it spawns it, walks it
// through the startup handshake, serializes evaluations onto it (one
// running, at most one queued), parses the streamed analysis output into
// structured results and tears the process down on shutdown.
package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/kibitz-hq/kibitz/internal/logger"
)

const (
	DefaultMultiPV     = 3
	DefaultThreads     = 1
	DefaultMaxDepth    = 20
	DefaultInitTimeout = 10 * time.Second
	DefaultEvalTimeout = 30 * time.Second
	DefaultQuitGrace   = 3 * time.Second

	// maxLineBytes bounds a single engine output line; deep multi-PV
	// searches can emit very long pv strings.
	maxLineBytes = 1 << 20
)

// State is the driver lifecycle state. Dead and Stopped are terminal.
type State int

const (
	StateUninitialized State = iota
	StateReady
	StateBusy
	StateDead
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateDead:
		return "dead"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config describes one engine process instance.
type Config struct {
	Name     string            // instance name, used in logs and metrics
	Command  string            // engine executable
	Args     []string          // extra arguments
	Env      []string          // KEY=VALUE pairs appended to the OS environment
	WorkDir  string            // working directory for the process
	MultiPV  int               // number of analysis lines to request
	Threads  int               // engine worker threads
	MaxDepth int               // submitted depths are clamped to this
	Options  map[string]string // extra UCI options applied during init

	InitTimeout time.Duration // bound on each handshake step
	EvalTimeout time.Duration // bound on one evaluation
	QuitGrace   time.Duration // wait after "quit" before killing

	Log    logger.Config // optional protocol transcript destination
	Logger *slog.Logger
}

// Status is a read-only snapshot of one driver.
type Status struct {
	Name   string `json:"name"`
	State  string `json:"state"`
	PID    int    `json:"pid,omitempty"`
	Ready  bool   `json:"ready"`
	Busy   bool   `json:"busy"`
	Queued bool   `json:"queued"`
}

// call is one accepted evaluation waiting to run or running.
type call struct {
	fen   string
	depth int
	p     *Pending
}

// run is the in-flight evaluation: the call plus its accumulator state.
type run struct {
	call
	sign    int                  // +1 white to move, -1 black
	lines   map[int]AnalysisLine // keyed by rank, later lines overwrite
	timer   *time.Timer
	started time.Time
}

// Engine is the driver for a single engine process. All methods are safe
// for concurrent use.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	stdin    io.WriteCloser
	pid      int
	cur      *run
	queued   *call
	expect   string        // handshake token currently awaited
	expectCh chan struct{} // closed when expect is seen
	stopAck  bool          // swallow one bestmove after a timeout stop
	exited   chan struct{} // closed by waitExit
	exitErr  error

	tmu        sync.Mutex
	transcript io.WriteCloser // protocol transcript (both directions)
	stderrW    io.WriteCloser
}

// New creates a driver for one engine process. Call Init before submitting
// evaluations.
func New(cfg Config) *Engine {
	if cfg.Name == "" {
		cfg.Name = "engine"
	}
	if cfg.MultiPV <= 0 {
		cfg.MultiPV = DefaultMultiPV
	}
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultThreads
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = DefaultInitTimeout
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = DefaultEvalTimeout
	}
	if cfg.QuitGrace <= 0 {
		cfg.QuitGrace = DefaultQuitGrace
	}
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	return &Engine{cfg: cfg, logger: lg}
}

// Name returns the configured instance name.
func (e *Engine) Name() string { return e.cfg.Name }

// Init spawns the engine process and performs the two-step UCI handshake:
// "uci" until "uciok", then option setup, then "isready" until "readyok".
// On success the driver is Ready. A spawn failure returns ErrProcessSpawn;
// a stalled handshake returns ErrInitTimeout and the process is killed.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateUninitialized || e.cmd != nil {
		e.mu.Unlock()
		return fmt.Errorf("engine %s already initialized", e.cfg.Name)
	}

	outW, errW, err := e.cfg.Log.Writers(e.cfg.Name)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	e.tmu.Lock()
	e.transcript, e.stderrW = outW, errW
	e.tmu.Unlock()

	// #nosec G204 -- the engine command comes from operator configuration
	cmd := exec.Command(e.cfg.Command, e.cfg.Args...)
	cmd.Dir = e.cfg.WorkDir
	if len(e.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), e.cfg.Env...)
	}
	setProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		e.mu.Unlock()
		e.closeTranscripts()
		return fmt.Errorf("%w: stdin pipe: %v", ErrProcessSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		e.mu.Unlock()
		e.closeTranscripts()
		return fmt.Errorf("%w: stdout pipe: %v", ErrProcessSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		e.mu.Unlock()
		e.closeTranscripts()
		return fmt.Errorf("%w: stderr pipe: %v", ErrProcessSpawn, err)
	}
	if err := cmd.Start(); err != nil {
		e.mu.Unlock()
		e.closeTranscripts()
		return fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}
	e.cmd = cmd
	e.stdin = stdin
	e.pid = cmd.Process.Pid
	e.exited = make(chan struct{})
	e.mu.Unlock()

	go e.readLoop(stdout)
	go e.readStderr(stderr)
	go e.waitExit()

	if err := e.handshake(ctx, cmdUCI, tokenUCIOK); err != nil {
		e.abortInit()
		return err
	}
	for _, opt := range setupOptions(e.cfg) {
		if err := e.send(setOptionCmd(opt.name, opt.value)); err != nil {
			e.abortInit()
			return fmt.Errorf("%w: %v", ErrProcessSpawn, err)
		}
	}
	if err := e.handshake(ctx, cmdIsReady, tokenReadyOK); err != nil {
		e.abortInit()
		return err
	}

	e.mu.Lock()
	ready := e.state == StateUninitialized
	if ready {
		e.state = StateReady
	}
	pid := e.pid
	e.mu.Unlock()
	if !ready {
		// Quit raced the handshake
		return ErrShuttingDown
	}
	e.logger.Info("engine ready", "engine", e.cfg.Name, "pid", pid,
		"multipv", e.cfg.MultiPV, "threads", e.cfg.Threads)
	return nil
}

// handshake sends command and waits for the engine to answer with token.
func (e *Engine) handshake(ctx context.Context, command, token string) error {
	ch := make(chan struct{})
	e.mu.Lock()
	e.expect, e.expectCh = token, ch
	e.mu.Unlock()

	if err := e.send(command); err != nil {
		return fmt.Errorf("%w: %v", ErrProcessSpawn, err)
	}
	timer := time.NewTimer(e.cfg.InitTimeout)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-e.exited:
		return fmt.Errorf("%w: engine %s exited before %s", ErrProcessSpawn, e.cfg.Name, token)
	case <-timer.C:
		return fmt.Errorf("%w: no %s from %s within %s", ErrInitTimeout, token, e.cfg.Name, e.cfg.InitTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// abortInit tears down a process whose handshake failed.
func (e *Engine) abortInit() {
	e.mu.Lock()
	e.state = StateStopped
	cmd := e.cmd
	e.mu.Unlock()
	if cmd != nil && cmd.Process != nil {
		killProcessGroup(cmd)
	}
}

// Submit accepts an evaluation and returns a future for its result. An
// idle driver starts it immediately; a busy driver holds at most one more
// call in its queue slot and rejects a third with ErrBusy. The requested
// depth is clamped to the configured maximum.
func (e *Engine) Submit(fen string, depth int) (*Pending, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > e.cfg.MaxDepth {
		depth = e.cfg.MaxDepth
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case StateUninitialized:
		return nil, ErrNotInitialized
	case StateDead:
		if e.exitErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrProcessExited, e.exitErr)
		}
		return nil, ErrProcessExited
	case StateStopped:
		return nil, ErrShuttingDown
	}
	c := &call{fen: fen, depth: depth, p: NewPending()}
	if e.state == StateReady {
		e.beginRunLocked(c)
		return c.p, nil
	}
	if e.queued != nil {
		return nil, ErrBusy
	}
	e.queued = c
	return c.p, nil
}

// Evaluate is Submit followed by waiting for the result.
func (e *Engine) Evaluate(ctx context.Context, fen string, depth int) (*Result, error) {
	p, err := e.Submit(fen, depth)
	if err != nil {
		return nil, err
	}
	return p.Wait(ctx)
}

// beginRunLocked starts c on the idle engine. Caller holds e.mu and has
// checked state == StateReady.
func (e *Engine) beginRunLocked(c *call) {
	r := &run{
		call:    *c,
		sign:    sideToMoveSign(c.fen),
		lines:   make(map[int]AnalysisLine),
		started: time.Now(),
	}
	e.state = StateBusy
	e.cur = r
	r.timer = time.AfterFunc(e.cfg.EvalTimeout, func() { e.evalTimeout(r) })
	go e.issueRun(r)
}

// issueRun writes the command sequence that starts a search: reset engine
// state for reproducibility, set the position, search to depth. It runs
// outside the driver mutex so a blocked pipe cannot stall line handling.
func (e *Engine) issueRun(r *run) {
	for _, c := range []string{cmdNewGame, positionCmd(r.fen), goDepthCmd(r.depth)} {
		if err := e.send(c); err != nil {
			e.failRun(r, fmt.Errorf("%w: %v", ErrProcessExited, err))
			return
		}
	}
}

// failRun settles r after a write failure. A queued call, if any, is left
// for the exit handler, which fires promptly once the process is gone.
func (e *Engine) failRun(r *run, err error) {
	e.mu.Lock()
	if e.cur == r {
		r.timer.Stop()
		e.cur = nil
	}
	e.mu.Unlock()
	r.p.Settle(nil, err)
}

// startNextLocked promotes the queued call or returns the driver to Ready.
// Caller holds e.mu.
func (e *Engine) startNextLocked() {
	if q := e.queued; q != nil {
		e.queued = nil
		e.state = StateReady
		e.beginRunLocked(q)
		return
	}
	e.state = StateReady
}

// evalTimeout fires when a search exceeds its bound. Completion may win
// the race: if the run is no longer current this is a no-op. Otherwise the
// driver stops the search, arranges for the engine's acknowledging
// bestmove to be swallowed, fails the caller and moves on to the queued
// call.
func (e *Engine) evalTimeout(r *run) {
	e.mu.Lock()
	if e.cur != r {
		e.mu.Unlock()
		return
	}
	e.cur = nil
	e.stopAck = true
	e.mu.Unlock()

	_ = e.send(cmdStop)
	e.logger.Warn("evaluation timed out", "engine", e.cfg.Name,
		"depth", r.depth, "after", e.cfg.EvalTimeout)
	r.p.Settle(nil, fmt.Errorf("%w after %s", ErrEvalTimeout, e.cfg.EvalTimeout))

	e.mu.Lock()
	if e.state == StateBusy {
		e.startNextLocked()
	}
	e.mu.Unlock()
}

// readLoop consumes engine stdout line by line. Complete lines are
// dispatched; the scanner keeps any trailing unterminated fragment.
func (e *Engine) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for sc.Scan() {
		e.handleLine(strings.TrimSpace(sc.Text()))
	}
}

func (e *Engine) readStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLineBytes)
	for sc.Scan() {
		e.transcribeErr(sc.Text())
	}
}

// handleLine classifies one engine output line. Handshake tokens settle
// the pending expectation; info lines update the current run's
// accumulator; bestmove completes the run. Anything else is engine
// chatter and is ignored.
func (e *Engine) handleLine(line string) {
	if line == "" {
		return
	}
	e.transcribe("< " + line)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.expectCh != nil && line == e.expect {
		close(e.expectCh)
		e.expect, e.expectCh = "", nil
		return
	}

	switch firstField(line) {
	case tokenInfo:
		if e.stopAck || e.cur == nil {
			return
		}
		if il, ok := parseInfo(strings.Fields(line)[1:]); ok {
			e.cur.store(il)
		}
	case tokenBestmove:
		if e.stopAck {
			// ack for the stop sent on timeout; the next run's output
			// must not be terminated by it
			e.stopAck = false
			return
		}
		if e.cur == nil {
			return
		}
		e.completeLocked(strings.Fields(line))
	}
}

// completeLocked finishes the current run with the terminal bestmove
// fields, then immediately starts the queued call if one exists. Caller
// holds e.mu.
func (e *Engine) completeLocked(fields []string) {
	r := e.cur
	r.timer.Stop()
	e.cur = nil
	res := r.result(fields)
	r.p.Settle(res, nil)
	e.startNextLocked()
}

// store normalizes one parsed info line to white's perspective and keeps
// it keyed by rank, overwriting any earlier estimate at that rank.
func (r *run) store(il infoLine) {
	al := AnalysisLine{Rank: il.rank, PV: il.pv}
	if len(il.pv) > 0 {
		al.Move = il.pv[0]
	}
	if il.isMate {
		m := il.mate * r.sign
		al.MateIn = &m
		if m > 0 {
			al.ScoreCP = MateScoreCP
		} else {
			al.ScoreCP = -MateScoreCP
		}
	} else {
		al.ScoreCP = il.cp * r.sign
	}
	r.lines[il.rank] = al
}

// result builds the final Result. Lines are sorted best-first; the top
// line provides the reported move and score. The engine's bestmove token
// is the fallback when no analysis lines were collected.
func (r *run) result(fields []string) *Result {
	lines := make([]AnalysisLine, 0, len(r.lines))
	for _, al := range r.lines {
		lines = append(lines, al)
	}
	sortLines(lines)
	res := &Result{BestMove: parseBestmove(fields), Depth: r.depth, Lines: lines}
	if len(lines) > 0 {
		res.BestMove = lines[0].Move
		res.ScoreCP = lines[0].ScoreCP
		res.MateIn = lines[0].MateIn
	}
	return res
}

// waitExit reaps the process and settles whatever the exit stranded.
func (e *Engine) waitExit() {
	err := e.cmd.Wait()

	e.mu.Lock()
	e.exitErr = err
	quitting := e.state == StateStopped
	cur, queued := e.cur, e.queued
	e.cur, e.queued = nil, nil
	if cur != nil {
		cur.timer.Stop()
	}
	if !quitting {
		e.state = StateDead
	}
	pid := e.pid
	close(e.exited)
	e.mu.Unlock()

	detail := "exit status 0"
	if err != nil {
		detail = err.Error()
	}
	if queued != nil {
		queued.p.Settle(nil, fmt.Errorf("%w: %s", ErrProcessExited, detail))
	}
	if cur != nil {
		cur.p.Settle(nil, fmt.Errorf("%w: %s", ErrProcessExited, detail))
	}
	if !quitting {
		e.logger.Error("engine exited unexpectedly", "engine", e.cfg.Name, "pid", pid, "err", err)
	}
	e.closeTranscripts()
}

// Quit shuts the driver down: queued and in-flight calls are rejected with
// ErrShuttingDown, "quit" is sent, and after the grace period the process
// group is killed. Idempotent; a driver that never spawned is a no-op.
func (e *Engine) Quit() {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return
	}
	prev := e.state
	e.state = StateStopped
	cur, queued := e.cur, e.queued
	e.cur, e.queued = nil, nil
	if cur != nil {
		cur.timer.Stop()
	}
	cmd, exited := e.cmd, e.exited
	e.mu.Unlock()

	if queued != nil {
		queued.p.Settle(nil, ErrShuttingDown)
	}
	if cur != nil {
		cur.p.Settle(nil, ErrShuttingDown)
	}
	if cmd == nil || prev == StateDead {
		return
	}

	_ = e.send(cmdQuit)
	timer := time.NewTimer(e.cfg.QuitGrace)
	defer timer.Stop()
	select {
	case <-exited:
	case <-timer.C:
		e.logger.Warn("engine did not exit after quit, killing", "engine", e.cfg.Name, "pid", e.pid)
		killProcessGroup(cmd)
		<-exited
	}
	e.logger.Info("engine stopped", "engine", e.cfg.Name)
}

// Alive reports whether the driver can still take or run work.
func (e *Engine) Alive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateReady || e.state == StateBusy
}

// Status returns a snapshot of the driver; read-only, no side effects.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Name:   e.cfg.Name,
		State:  e.state.String(),
		PID:    e.pid,
		Ready:  e.state == StateReady || e.state == StateBusy,
		Busy:   e.state == StateBusy,
		Queued: e.queued != nil,
	}
}

// send writes one protocol line to the engine's stdin.
func (e *Engine) send(line string) error {
	e.mu.Lock()
	w := e.stdin
	e.mu.Unlock()
	if w == nil {
		return ErrProcessExited
	}
	e.transcribe("> " + line)
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("write %q: %w", line, err)
	}
	return nil
}

func (e *Engine) transcribe(line string) {
	e.tmu.Lock()
	if e.transcript != nil {
		_, _ = fmt.Fprintln(e.transcript, line)
	}
	e.tmu.Unlock()
}

func (e *Engine) transcribeErr(line string) {
	e.tmu.Lock()
	if e.stderrW != nil {
		_, _ = fmt.Fprintln(e.stderrW, line)
	}
	e.tmu.Unlock()
}

func (e *Engine) closeTranscripts() {
	e.tmu.Lock()
	if e.transcript != nil {
		_ = e.transcript.Close()
		e.transcript = nil
	}
	if e.stderrW != nil {
		_ = e.stderrW.Close()
		e.stderrW = nil
	}
	e.tmu.Unlock()
}
