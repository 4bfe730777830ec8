package reqctx

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/metrics"
)

// SubrequestKind distinguishes internal (Cache/KV/storage) bindings
// from external (outbound fetch) ones, since only the latter count
// against externalLimit.
type SubrequestKind string

const (
	KindInternal SubrequestKind = "internal"
	KindExternal SubrequestKind = "external"
)

// UsageModel selects which externalSubrequests cap applies.
type UsageModel int

const (
	UsageBundled UsageModel = iota
	UsageUnbound
)

type ctxKey struct{}

// RequestContext is the ambient state one top-level fetch establishes
// for itself and every task it spawns (spec.md §4.6). Its counters are
// mutex-protected rather than copy-on-write, because the same
// RequestContext value is shared by every goroutine descending from the
// handler that opened it — ambient propagation, not snapshot-per-call.
type RequestContext struct {
	ID string

	mu                  sync.Mutex
	requestDepth        int
	pipelineDepth       int
	internalSubrequests int
	externalSubrequests int

	externalLimit int
	limits        config.Limits
	clk           *clock.Simulated
	cancel        context.CancelFunc
}

// New establishes a fresh RequestContext as a child of parent and
// returns the derived context carrying it, along with a cancel func the
// caller must invoke when the top-level fetch completes.
func New(parent context.Context, limits config.Limits, usage UsageModel, start time.Time) (context.Context, *RequestContext, context.CancelFunc) {
	limit := limits.ExternalSubrequestLimitBundled
	if usage == UsageUnbound {
		limit = limits.ExternalSubrequestLimitUnbound
	}
	derived, cancel := context.WithCancel(parent)
	rc := &RequestContext{
		ID:            uuid.NewString(),
		externalLimit: limit,
		limits:        limits,
		clk:           clock.NewSimulated(start),
		cancel:        cancel,
	}
	return context.WithValue(derived, ctxKey{}, rc), rc, cancel
}

// FromContext returns the RequestContext ambient in ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(ctxKey{}).(*RequestContext)
	return rc, ok
}

// Require returns the ambient RequestContext or, when blockGlobalAsyncIO
// is enabled, ErrOutsideRequestContext if none is present — the guard
// against binding calls made during top-level module evaluation
// (spec.md §4.6).
func Require(ctx context.Context, limits config.Limits) (*RequestContext, error) {
	rc, ok := FromContext(ctx)
	if !ok {
		if limits.BlockGlobalAsyncIO {
			return nil, errs.ErrOutsideRequestContext
		}
		return nil, nil
	}
	return rc, nil
}

// Now returns the RequestContext's simulated clock reading.
func (rc *RequestContext) Now() time.Time {
	return rc.clk.Now()
}

// advanceTime moves currentTime forward by the configured deterministic
// step, simulating I/O latency so Date.now() between binding calls
// observes monotonic progress (spec.md §4.6 "Time advancement").
func (rc *RequestContext) advanceTime() {
	step := time.Duration(rc.limits.SimulatedTimeStepMillis) * time.Millisecond
	if step <= 0 {
		step = time.Millisecond
	}
	rc.clk.Advance(step)
}

// CountSubrequest records one binding call of kind, advances simulated
// time, and fails with SubrequestLimitExceeded if an external call would
// push externalSubrequests past externalLimit (spec.md §4.6 "Subrequest
// counting").
func (rc *RequestContext) CountSubrequest(kind SubrequestKind) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if kind == KindExternal {
		if rc.externalSubrequests+1 > rc.externalLimit {
			metrics.SubrequestLimitExceededTotal.Inc()
			return errs.Capacity(errs.CodeSubrequestLimit, "external subrequest limit (%d) exceeded", rc.externalLimit)
		}
		rc.externalSubrequests++
	} else {
		rc.internalSubrequests++
	}
	metrics.SubrequestsTotal.WithLabelValues(string(kind)).Inc()
	rc.advanceTime()
	return nil
}

// EnterPipeline records one service-binding hop, failing once
// pipelineDepth would exceed the configured maximum (spec.md §4.6
// "Pipeline depth"). Call its returned restore func when the hop
// returns so depth reflects the current call stack, not a running
// total.
func (rc *RequestContext) EnterPipeline() (restore func(), err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.pipelineDepth+1 > rc.limits.MaxPipelineDepth {
		return func() {}, errs.Capacity(errs.CodeSubrequestLimit, "pipeline depth exceeds %d", rc.limits.MaxPipelineDepth)
	}
	rc.pipelineDepth++
	return func() {
		rc.mu.Lock()
		rc.pipelineDepth--
		rc.mu.Unlock()
	}, nil
}

// EnterDispatch records one nested dispatchFetch call, failing once
// requestDepth would exceed the configured maximum (spec.md §4.6
// "Request depth").
func (rc *RequestContext) EnterDispatch() (restore func(), err error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.requestDepth+1 > rc.limits.MaxRequestDepth {
		return func() {}, errs.Capacity(errs.CodeSubrequestLimit, "request depth exceeds %d", rc.limits.MaxRequestDepth)
	}
	rc.requestDepth++
	return func() {
		rc.mu.Lock()
		rc.requestDepth--
		rc.mu.Unlock()
	}, nil
}

// Cancel cancels the context derived for this RequestContext, resolving
// every ambient await (gate waiters, transactions) with Cancelled.
func (rc *RequestContext) Cancel() {
	rc.cancel()
}

// Snapshot is a point-in-time, race-free read of the counters, useful
// for tests and diagnostics.
type Snapshot struct {
	RequestDepth        int
	PipelineDepth       int
	InternalSubrequests int
	ExternalSubrequests int
	ExternalLimit       int
}

func (rc *RequestContext) Snapshot() Snapshot {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return Snapshot{
		RequestDepth:        rc.requestDepth,
		PipelineDepth:       rc.pipelineDepth,
		InternalSubrequests: rc.internalSubrequests,
		ExternalSubrequests: rc.externalSubrequests,
		ExternalLimit:       rc.externalLimit,
	}
}
