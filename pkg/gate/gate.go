package gate

import (
	"context"
	"sync"

	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/metrics"
)

// Gate is a FIFO mutual-exclusion lock with cancellable waiters. The
// input gate of an Object is one of these: while it is held closed by
// one operation, every other operation targeting the same instance
// queues behind it in arrival order.
type Gate struct {
	kind    string
	mu      sync.Mutex
	closed  bool
	waiters []chan struct{}
}

// New creates an open gate. kind labels its wait-duration metric
// ("input" or "output").
func New(kind string) *Gate {
	return &Gate{kind: kind}
}

// acquire closes the gate for the caller, queueing FIFO behind any
// current holder. Cancelling ctx while queued removes the waiter and
// returns ErrCancelled without ever holding the gate.
func (g *Gate) acquire(ctx context.Context) error {
	g.mu.Lock()
	if !g.closed {
		g.closed = true
		g.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	g.waiters = append(g.waiters, ch)
	g.mu.Unlock()

	timer := metrics.NewTimer()
	select {
	case <-ch:
		timer.ObserveDurationVec(metrics.GateWaitDuration, g.kind)
		return nil
	case <-ctx.Done():
		timer.ObserveDurationVec(metrics.GateWaitDuration, g.kind)
		g.cancelWaiter(ch)
		return errs.ErrCancelled
	}
}

// release hands the closed gate directly to the next FIFO waiter, or
// reopens it if the queue is empty.
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.waiters) == 0 {
		g.closed = false
		return
	}
	next := g.waiters[0]
	g.waiters = g.waiters[1:]
	close(next)
}

// cancelWaiter removes ch from the queue. If ch was concurrently handed
// the gate (a race between cancellation and release), it drains the
// handoff and immediately releases again so the gate isn't stuck closed
// with no holder.
func (g *Gate) cancelWaiter(ch chan struct{}) {
	g.mu.Lock()
	for i, w := range g.waiters {
		if w == ch {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.mu.Unlock()
			return
		}
	}
	g.mu.Unlock()

	select {
	case <-ch:
		g.release()
	default:
	}
}

// RunExclusive runs fn with the gate held closed, queueing FIFO behind
// any operation already in flight.
func (g *Gate) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()
	return fn(ctx)
}

// AwaitOpen blocks until every operation ahead of the caller in FIFO
// order has released the gate, without itself holding the gate closed
// afterward.
func (g *Gate) AwaitOpen(ctx context.Context) error {
	if err := g.acquire(ctx); err != nil {
		return err
	}
	g.release()
	return nil
}
