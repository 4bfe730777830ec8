package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Publish(&Event{Kind: KindTransactionCommit, ObjectID: "do-1"})

	select {
	case ev := <-sub:
		assert.Equal(t, KindTransactionCommit, ev.Kind)
		assert.Equal(t, "do-1", ev.ObjectID)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("subscriber never received the event")
	}

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerDropsWhenSubscriberBufferFull(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	for i := 0; i < 1000; i++ {
		b.Publish(&Event{Kind: KindKeyExpired})
	}
	// Must not deadlock or block the test; draining is best-effort.
	time.Sleep(10 * time.Millisecond)
	assert.LessOrEqual(t, len(sub), cap(sub))
}
