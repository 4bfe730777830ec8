package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesim/miniflare/pkg/errs"
)

func TestGateRunExclusiveSerializes(t *testing.T) {
	g := New("input")
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.RunExclusive(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&active, 1)
				for {
					m := atomic.LoadInt32(&maxActive)
					if n <= m || atomic.CompareAndSwapInt32(&maxActive, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&active, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxActive, "closed-input operations must never overlap")
}

func TestGateRunExclusivePropagatesError(t *testing.T) {
	g := New("input")
	boom := assert.AnError
	err := g.RunExclusive(context.Background(), func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// The gate must reopen after an error from the held closure.
	opened := false
	err = g.RunExclusive(context.Background(), func(ctx context.Context) error {
		opened = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, opened)
}

func TestGateCancelledWaiterDoesNotWedgeGate(t *testing.T) {
	g := New("input")

	holdRelease := make(chan struct{})
	holderStarted := make(chan struct{})
	go func() {
		_ = g.RunExclusive(context.Background(), func(ctx context.Context) error {
			close(holderStarted)
			<-holdRelease
			return nil
		})
	}()
	<-holderStarted

	ctx, cancel := context.WithCancel(context.Background())
	waiterDone := make(chan error, 1)
	go func() {
		waiterDone <- g.RunExclusive(ctx, func(ctx context.Context) error { return nil })
	}()

	cancel()
	select {
	case err := <-waiterDone:
		assert.ErrorIs(t, err, errs.ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("cancelled waiter never returned")
	}

	close(holdRelease)

	// The gate must still be usable after a cancelled waiter.
	err := g.RunExclusive(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestAwaitOpenInputWaitsForHolder(t *testing.T) {
	g := New("input")
	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = g.RunExclusive(context.Background(), func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	awaitDone := make(chan struct{})
	go func() {
		_ = g.AwaitOpen(context.Background())
		close(awaitDone)
	}()

	select {
	case <-awaitDone:
		t.Fatal("AwaitOpen returned before the holder released the gate")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-awaitDone:
	case <-time.After(time.Second):
		t.Fatal("AwaitOpen never returned after the holder released")
	}
}

func TestOutputGateCoalescesConcurrentFlushes(t *testing.T) {
	g := NewOutput("output")
	var calls int32
	release := make(chan struct{})

	var wg sync.WaitGroup
	results := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = g.RunCoalesced(context.Background(), func(ctx context.Context) error {
				atomic.AddInt32(&calls, 1)
				<-release
				return nil
			})
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let every goroutine reach RunCoalesced
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "concurrent flushes must coalesce into one call")
	for _, err := range results {
		assert.NoError(t, err)
	}
}

func TestBlockConcurrencyWhileClosesBothGates(t *testing.T) {
	obj := NewObject("do-1")

	inputHeld := int32(0)
	result, err := BlockConcurrencyWhile(context.Background(), obj, func(ctx context.Context) (int, error) {
		atomic.AddInt32(&inputHeld, 1)
		// While fn runs, neither gate may be entered or observed open.
		probe, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, obj.RunWithClosedInput(probe, func(ctx context.Context) error { return nil }), errs.ErrCancelled)
		assert.ErrorIs(t, obj.AwaitOpenOutput(probe), errs.ErrCancelled)
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)

	// After BlockConcurrencyWhile returns, both gates must be open again.
	err = obj.RunWithClosedInput(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
	err = obj.RunWithClosedOutput(context.Background(), func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
