package gate

import "context"

// Object is the input/output gate pair belonging to one Durable Object
// instance (spec.md §4.3).
type Object struct {
	ID string

	input  *Gate
	output *OutputGate
}

// NewObject creates a gate pair for the instance named id.
func NewObject(id string) *Object {
	return &Object{
		ID:     id,
		input:  New("input"),
		output: NewOutput("output"),
	}
}

// RunWithClosedInput runs fn with the input gate held closed, queueing
// any concurrent event for this instance behind it.
func (o *Object) RunWithClosedInput(ctx context.Context, fn func(ctx context.Context) error) error {
	return o.input.RunExclusive(ctx, fn)
}

// AwaitOpenInput blocks until the input gate has no operation ahead of
// the caller in its FIFO queue.
func (o *Object) AwaitOpenInput(ctx context.Context) error {
	return o.input.AwaitOpen(ctx)
}

// AwaitOpenOutput blocks until no write flush is currently in flight.
func (o *Object) AwaitOpenOutput(ctx context.Context) error {
	return o.output.AwaitOpen(ctx)
}

// RunWithClosedOutput flushes a pending write via fn, coalescing with
// any flush already in flight.
func (o *Object) RunWithClosedOutput(ctx context.Context, fn func(ctx context.Context) error) error {
	return o.output.RunCoalesced(ctx, fn)
}

// BlockConcurrencyWhile runs fn with both gates held closed: no other
// event for this instance may start, and no write may flush, until fn
// returns. This is the strongest isolation an instance can request and
// is grounded directly on blockConcurrencyWhile's real semantics: the
// instance is single-threaded for the closure's whole lifetime.
func BlockConcurrencyWhile[T any](ctx context.Context, o *Object, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := o.input.RunExclusive(ctx, func(ctx context.Context) error {
		return o.output.RunCoalesced(ctx, func(ctx context.Context) error {
			var ferr error
			result, ferr = fn(ctx)
			return ferr
		})
	})
	return result, err
}
