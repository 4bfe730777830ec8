package object

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/edgesim/miniflare/pkg/events"
	"github.com/edgesim/miniflare/pkg/gate"
	"github.com/edgesim/miniflare/pkg/log"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/txn"
	"github.com/edgesim/miniflare/pkg/types"
)

// Instance is one running Durable Object: its storage, the transaction
// manager over that storage, and its input/output gate pair. All
// request handling for a given object ID funnels through the same
// Instance so the gates actually serialize concurrent events.
type Instance struct {
	ID string

	Storage storage.Operator
	Txn     *txn.Manager
	Gate    *gate.Object

	broker *events.Broker
}

func newInstance(id string, store storage.Operator, txMgr *txn.Manager, broker *events.Broker) *Instance {
	return &Instance{
		ID:      id,
		Storage: store,
		Txn:     txMgr,
		Gate:    gate.NewObject(id),
		broker:  broker,
	}
}

// RunTransaction runs closure against a fresh ShadowTx, retrying on OCC
// conflict (spec.md §4.2). It does not touch the gates: a caller that
// also needs gate isolation should run this inside RunExclusive or
// BlockConcurrencyWhile.
func (i *Instance) RunTransaction(ctx context.Context, closure func(ctx context.Context, tx *txn.ShadowTx) error) error {
	_, err := txn.Run(ctx, i.Txn, func(ctx context.Context, tx *txn.ShadowTx) (struct{}, error) {
		return struct{}{}, closure(ctx, tx)
	})
	return err
}

// awaitGatesAround runs a single (non-transactional) storage binding
// call, participating in gate ordering the way spec.md §2's Data Flow
// describes for every binding call: before touching storage it awaits
// any pending output gate, so it never observes storage mid-flush; after
// the I/O completes it waits for the input gate to open (queueing FIFO
// behind any current holder), so the result is not handed back while
// another operation holds this instance's input gate.
func (i *Instance) awaitGatesAround(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := i.Gate.AwaitOpenOutput(ctx); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return i.Gate.AwaitOpenInput(ctx)
}

// Get, Put, Delete, and List are the default (non-transactional) storage
// binding calls, gate-ordered via awaitGatesAround. Callers needing the
// stronger atomicity of a multi-key transaction use RunTransaction
// instead.
func (i *Instance) Get(ctx context.Context, key string) (types.StoredValue, bool, error) {
	var v types.StoredValue
	var found bool
	err := i.awaitGatesAround(ctx, func(ctx context.Context) error {
		var err error
		v, found, err = i.Storage.Get(ctx, key)
		return err
	})
	return v, found, err
}

func (i *Instance) Put(ctx context.Context, key string, value types.StoredValue) error {
	return i.awaitGatesAround(ctx, func(ctx context.Context) error {
		return i.Storage.Put(ctx, key, value)
	})
}

func (i *Instance) Delete(ctx context.Context, key string) (bool, error) {
	var deleted bool
	err := i.awaitGatesAround(ctx, func(ctx context.Context) error {
		var err error
		deleted, err = i.Storage.Delete(ctx, key)
		return err
	})
	return deleted, err
}

func (i *Instance) List(ctx context.Context, opts types.ListOptions) (types.ListResult, error) {
	var result types.ListResult
	err := i.awaitGatesAround(ctx, func(ctx context.Context) error {
		var err error
		result, err = i.Storage.List(ctx, opts)
		return err
	})
	return result, err
}

// RunExclusive runs fn with the instance's input gate held closed,
// queueing any concurrent event behind it (spec.md §4.3).
func (i *Instance) RunExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	i.logger().Debug().Msg("input gate closed")
	i.publish(events.KindInputGateClosed, "")
	err := i.Gate.RunWithClosedInput(ctx, fn)
	i.publish(events.KindInputGateOpened, "")
	i.logger().Debug().Msg("input gate opened")
	return err
}

// BlockConcurrencyWhile runs fn with both gates closed: no other event
// starts and no write flushes until fn returns (spec.md §4.3
// "blockConcurrencyWhile").
func (i *Instance) BlockConcurrencyWhile(ctx context.Context, fn func(ctx context.Context) error) error {
	i.publish(events.KindInputGateClosed, "blockConcurrencyWhile")
	_, err := gate.BlockConcurrencyWhile(ctx, i.Gate, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	i.publish(events.KindInputGateOpened, "blockConcurrencyWhile")
	return err
}

func (i *Instance) publish(kind events.Kind, detail string) {
	if i.broker == nil {
		return
	}
	i.broker.Publish(&events.Event{Kind: kind, ObjectID: i.ID, Detail: detail})
}

func (i *Instance) logger() zerolog.Logger {
	return log.WithObjectID(i.ID)
}
