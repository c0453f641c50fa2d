package pool

import "errors"

var (
	// ErrOverloaded rejects a submission when the admission queue is full.
	// Callers should back off and retry; this is distinct from a driver's
	// internal busy signal, which the pool absorbs.
	ErrOverloaded = errors.New("pool overloaded")

	// ErrNoEngines rejects a submission when prior crashes have exhausted
	// the driver set. Crashed engines are not replaced.
	ErrNoEngines = errors.New("no engines available")

	// ErrEngineCrashed settles a queued request whose would-be engine died
	// before it could run.
	ErrEngineCrashed = errors.New("engine crashed with no replacement")

	// ErrShuttingDown settles queued requests cancelled by Quit and
	// rejects submissions made afterwards.
	ErrShuttingDown = errors.New("pool shutting down")
)
