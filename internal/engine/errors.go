package engine

import "errors"

// Sentinel errors reported by a driver. Callers match them with errors.Is;
// wrapped forms carry engine name and cause where that helps debugging.
var (
	// ErrProcessSpawn means the engine executable could not be started,
	// or the process died before completing the startup handshake.
	ErrProcessSpawn = errors.New("engine process could not be started")

	// ErrInitTimeout means a handshake step did not complete within the
	// configured initialization timeout.
	ErrInitTimeout = errors.New("engine initialization timed out")

	// ErrNotInitialized is returned when an evaluation is submitted to a
	// driver that has not completed Init.
	ErrNotInitialized = errors.New("engine not initialized")

	// ErrBusy is the single-slot backpressure signal: the driver already
	// has one evaluation running and one queued. It is consumed by the
	// pool, not surfaced to end callers.
	ErrBusy = errors.New("engine busy")

	// ErrEvalTimeout means the search exceeded the evaluation timeout.
	// The driver stops the search and stays usable for the next call.
	ErrEvalTimeout = errors.New("evaluation timed out")

	// ErrProcessExited means the engine process died while work was
	// in flight or queued. The driver is permanently dead afterwards.
	ErrProcessExited = errors.New("engine process exited")

	// ErrShuttingDown rejects in-flight and queued work during Quit.
	ErrShuttingDown = errors.New("engine shutting down")
)
