package engine

import (
	"context"
	"sync"
)

// Pending is the future returned for an accepted evaluation. It settles
// exactly once with either a Result or an error; the first Settle wins and
// later calls are no-ops.
type Pending struct {
	done chan struct{}
	once sync.Once
	res  *Result
	err  error
}

// NewPending creates an unsettled Pending. The driver settles the futures
// it creates itself; the pool uses this to hand queued callers a future
// before any driver has been chosen.
func NewPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// Settle resolves the pending evaluation. Safe to call more than once;
// only the first call takes effect.
func (p *Pending) Settle(res *Result, err error) {
	p.once.Do(func() {
		p.res = res
		p.err = err
		close(p.done)
	})
}

// Done returns a channel closed when the evaluation has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the evaluation settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-p.done:
		return p.res, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
