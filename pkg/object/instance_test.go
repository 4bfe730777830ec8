package object

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/events"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/txn"
	"github.com/edgesim/miniflare/pkg/types"
)

func newTestRegistry() *Registry {
	return NewRegistry(config.Default(), nil, func(id string) storage.Operator {
		return storage.NewMemoryStore(clock.NewSimulated(time.Unix(1000, 0)))
	})
}

func TestRegistryGetIsIdempotentPerID(t *testing.T) {
	reg := newTestRegistry()
	a := reg.Get("room-1")
	b := reg.Get("room-1")
	c := reg.Get("room-2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, reg.Count())
}

func TestRunTransactionAppliesWritesOnSuccess(t *testing.T) {
	reg := newTestRegistry()
	inst := reg.Get("room-1")
	ctx := context.Background()

	err := inst.RunTransaction(ctx, func(ctx context.Context, tx *txn.ShadowTx) error {
		return tx.Put("k", types.StoredValue{Value: []byte("v")})
	})
	require.NoError(t, err)

	v, found, err := inst.Storage.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v"), v.Value)
}

func TestRunExclusiveSerializesConcurrentCallers(t *testing.T) {
	reg := newTestRegistry()
	inst := reg.Get("room-1")
	ctx := context.Background()

	var inFlight int32
	var maxObserved int32
	done := make(chan struct{}, 4)

	for n := 0; n < 4; n++ {
		go func() {
			_ = inst.RunExclusive(ctx, func(ctx context.Context) error {
				cur := atomic.AddInt32(&inFlight, 1)
				if cur > atomic.LoadInt32(&maxObserved) {
					atomic.StoreInt32(&maxObserved, cur)
				}
				time.Sleep(2 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for n := 0; n < 4; n++ {
		<-done
	}
	assert.EqualValues(t, 1, maxObserved)
}

func TestBlockConcurrencyWhilePublishesGateEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	reg := NewRegistry(config.Default(), broker, func(id string) storage.Operator {
		return storage.NewMemoryStore(clock.NewSimulated(time.Unix(1000, 0)))
	})
	inst := reg.Get("room-1")

	err := inst.BlockConcurrencyWhile(context.Background(), func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)

	var kinds []events.Kind
	for len(kinds) < 2 {
		select {
		case ev := <-sub:
			kinds = append(kinds, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for gate events")
		}
	}
	assert.Equal(t, []events.Kind{events.KindInputGateClosed, events.KindInputGateOpened}, kinds)
}
