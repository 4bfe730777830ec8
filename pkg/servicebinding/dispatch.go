package servicebinding

import (
	"context"
	"sync"

	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/reqctx"
)

// Request and Response are the minimal shape a bound Worker's fetch
// handler operates on; transport-level detail (headers, bodies) lives
// at the HTTP-facing edge, not here.
type Request struct {
	Method string
	URL    string
	Body   []byte
}

type Response struct {
	Status int
	Body   []byte
}

// Handler is a Worker's fetch entrypoint.
type Handler func(ctx context.Context, req Request) (Response, error)

// Dispatcher routes fetch calls to registered Workers, either the
// top-level dispatch used by the simulator's HTTP front door or a
// service-binding hop from inside another Worker's handler.
type Dispatcher struct {
	limits config.Limits

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates a Dispatcher enforcing limits' pipeline/request depth
// bounds (spec.md §4.6).
func New(limits config.Limits) *Dispatcher {
	return &Dispatcher{limits: limits, handlers: make(map[string]Handler)}
}

// Bind registers the Worker named name's fetch handler so other Workers
// can reach it through a service binding.
func (d *Dispatcher) Bind(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[name] = h
}

// DispatchFetch is the entrypoint for any fetch — the simulator's own
// HTTP front door calling into a Worker, or a Worker calling fetch()
// again internally. Every nested call increments requestDepth (spec.md
// §4.6 "Request depth"); exceeding the configured maximum fails the
// call without running the handler.
func (d *Dispatcher) DispatchFetch(ctx context.Context, name string, req Request) (Response, error) {
	rc, err := reqctx.Require(ctx, d.limits)
	if err != nil {
		return Response{}, err
	}

	if rc != nil {
		restore, err := rc.EnterDispatch()
		if err != nil {
			return Response{}, err
		}
		defer restore()
	}

	d.mu.RLock()
	h, ok := d.handlers[name]
	d.mu.RUnlock()
	if !ok {
		return Response{}, errs.State(errs.CodeNoHandler, "no handler bound for %q", name)
	}

	return h(ctx, req)
}

// FetchBinding performs a service-binding call from inside a Worker's
// handler to another bound Worker. Every hop increments pipelineDepth
// (spec.md §4.6 "Pipeline depth") for the duration of the call, and
// counts as one internal subrequest — the call never leaves the
// process, so it is never external — before flowing back into
// DispatchFetch to also account for request depth.
func (d *Dispatcher) FetchBinding(ctx context.Context, name string, req Request) (Response, error) {
	rc, err := reqctx.Require(ctx, d.limits)
	if err != nil {
		return Response{}, err
	}

	if rc != nil {
		restore, err := rc.EnterPipeline()
		if err != nil {
			return Response{}, err
		}
		defer restore()

		if err := rc.CountSubrequest(reqctx.KindInternal); err != nil {
			return Response{}, err
		}
	}

	return d.DispatchFetch(ctx, name, req)
}
