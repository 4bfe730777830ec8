package gate

import (
	"context"
	"sync"

	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/metrics"
)

// OutputGate coalesces concurrent flush requests: writers that arrive
// while a flush is already in flight join it instead of triggering a
// second round trip to storage, the simulator's stand-in for a Durable
// Object batching every write made from the same synchronous turn into
// one output-gate flush.
type OutputGate struct {
	kind string

	mu       sync.Mutex
	inFlight *flushState
}

type flushState struct {
	done chan struct{}
	err  error
}

// NewOutput creates an open output gate.
func NewOutput(kind string) *OutputGate {
	return &OutputGate{kind: kind}
}

// AwaitOpen blocks until no flush is currently in flight, without
// itself triggering or joining one. A caller uses this to wait for any
// write already in progress to drain before starting storage I/O that
// must not observe a partial flush.
func (g *OutputGate) AwaitOpen(ctx context.Context) error {
	g.mu.Lock()
	fs := g.inFlight
	g.mu.Unlock()
	if fs == nil {
		return nil
	}
	timer := metrics.NewTimer()
	select {
	case <-fs.done:
		timer.ObserveDurationVec(metrics.GateWaitDuration, g.kind)
		return nil
	case <-ctx.Done():
		timer.ObserveDurationVec(metrics.GateWaitDuration, g.kind)
		return errs.ErrCancelled
	}
}

// RunCoalesced flushes pending writes via fn. A caller that arrives
// while a flush is already in flight waits for that flush's result
// instead of running fn again.
func (g *OutputGate) RunCoalesced(ctx context.Context, fn func(ctx context.Context) error) error {
	g.mu.Lock()
	if fs := g.inFlight; fs != nil {
		g.mu.Unlock()
		timer := metrics.NewTimer()
		select {
		case <-fs.done:
			timer.ObserveDurationVec(metrics.GateWaitDuration, g.kind)
			return fs.err
		case <-ctx.Done():
			timer.ObserveDurationVec(metrics.GateWaitDuration, g.kind)
			return errs.ErrCancelled
		}
	}
	fs := &flushState{done: make(chan struct{})}
	g.inFlight = fs
	g.mu.Unlock()

	err := fn(ctx)

	g.mu.Lock()
	g.inFlight = nil
	g.mu.Unlock()

	fs.err = err
	close(fs.done)
	return err
}
