// Package history fans completed evaluations out to external analytics
// systems. Sends are best effort; a failing sink must never affect the
// evaluation result delivered to the caller.
package history

import (
	"context"
	"time"

	"github.com/kibitz-hq/kibitz/internal/store"
)

// Sink is a destination for evaluation events. Implementations must be
// safe for concurrent use; concrete sinks also expose Close.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// EventType classifies what happened to an evaluation.
type EventType string

const (
	// EventEvaluated marks a request the engine answered normally.
	EventEvaluated EventType = "evaluated"
	// EventFailed marks a request that settled with an error, timeouts
	// included.
	EventFailed EventType = "failed"
	// EventEngineCrashed marks a request lost to an engine process death.
	EventEngineCrashed EventType = "engine_crashed"
)

// Event is one evaluation outcome as reported to sinks.
type Event struct {
	Type       EventType    `json:"type"`
	OccurredAt time.Time    `json:"occurred_at"`
	Record     store.Record `json:"record"`
}

// TypeFor maps a persisted outcome onto its event type.
func TypeFor(outcome string) EventType {
	switch outcome {
	case store.OutcomeOK:
		return EventEvaluated
	case store.OutcomeCrashed:
		return EventEngineCrashed
	default:
		return EventFailed
	}
}

// For wraps a record in the event sent to sinks, deriving the type from
// the record's outcome and stamping the current time.
func For(rec store.Record) Event {
	return Event{Type: TypeFor(rec.Outcome), OccurredAt: time.Now().UTC(), Record: rec}
}
