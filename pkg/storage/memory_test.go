package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/types"
)

func ptr(n int64) *int64 { return &n }

func TestMemoryStorePutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	require.NoError(t, s.Put(ctx, "k1", types.StoredValue{Value: []byte("hello")}))

	v, ok, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", string(v.Value))
}

func TestMemoryStoreGetMissingKey(t *testing.T) {
	s := NewMemoryStore(nil)
	_, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreRejectsInvalidKeyNames(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	for _, name := range []string{"", ".", ".."} {
		err := s.Put(ctx, name, types.StoredValue{Value: []byte("x")})
		require.Error(t, err)
		var kerr *errs.Error
		require.ErrorAs(t, err, &kerr)
		assert.Equal(t, errs.KindValidation, kerr.Kind)
	}
}

func TestMemoryStoreExpiredEntryIsInvisible(t *testing.T) {
	clk := clock.NewSimulated(time.Unix(1000, 0))
	s := NewMemoryStore(clk)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", types.StoredValue{Value: []byte("x"), Expiration: ptr(1001)}))

	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.Advance(2 * time.Second) // now seconds since epoch passes 1001
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "entry past its expiration must not be returned")

	has, err := s.Has(ctx, "k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestMemoryStorePutRejectsExpirationNotInFuture(t *testing.T) {
	clk := clock.NewSimulated(time.Unix(1000, 0))
	s := NewMemoryStore(clk)
	err := s.Put(context.Background(), "k", types.StoredValue{Value: []byte("x"), Expiration: ptr(1000)})
	require.Error(t, err)
}

func TestMemoryStoreDeleteReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	existed, err := s.Delete(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, existed)

	require.NoError(t, s.Put(ctx, "k", types.StoredValue{Value: []byte("x")}))
	existed, err = s.Delete(ctx, "k")
	require.NoError(t, err)
	assert.True(t, existed)

	_, ok, _ := s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStoreGetRangeSatisfiable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Put(ctx, "k", types.StoredValue{Value: []byte("0123456789")}))

	rv, ok, err := s.GetRange(ctx, "k", types.Range{Offset: ptr(2), Length: ptr(3)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "234", string(rv.Value))
	assert.Equal(t, int64(10), rv.TotalBytes)

	rv, ok, err = s.GetRange(ctx, "k", types.Range{Suffix: ptr(3)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "789", string(rv.Value))
}

func TestMemoryStoreGetRangeUnsatisfiable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Put(ctx, "k", types.StoredValue{Value: []byte("short")}))

	_, _, err := s.GetRange(ctx, "k", types.Range{Offset: ptr(100), Length: ptr(5)})
	assert.ErrorIs(t, err, errs.ErrRangeNotSatisfiable)
}

func TestMemoryStorePutManyAtomicOnValidationFailure(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	err := s.PutMany(ctx, map[string]types.StoredValue{
		"good": {Value: []byte("x")},
		"":     {Value: []byte("x")}, // invalid key name
	})
	require.Error(t, err)

	_, ok, _ := s.Get(ctx, "good")
	assert.False(t, ok, "a batch with any invalid entry must apply none of them")
}

func TestMemoryStorePutManyTooManyKeys(t *testing.T) {
	entries := make(map[string]types.StoredValue, maxBatchKeys+1)
	for i := 0; i <= maxBatchKeys; i++ {
		entries[fmt.Sprintf("key-%d", i)] = types.StoredValue{Value: []byte("x")}
	}
	s := NewMemoryStore(nil)
	err := s.PutMany(context.Background(), entries)
	assert.ErrorIs(t, err, errs.ErrTooManyKeys)
}

func TestMemoryStoreDeleteManyCountsOnlyExisting(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	require.NoError(t, s.Put(ctx, "a", types.StoredValue{Value: []byte("1")}))
	require.NoError(t, s.Put(ctx, "b", types.StoredValue{Value: []byte("2")}))

	n, err := s.DeleteMany(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemoryStoreListOrderingAndCursor(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)
	for _, k := range []string{"c", "a", "b"} {
		require.NoError(t, s.Put(ctx, k, types.StoredValue{Value: []byte(k)}))
	}

	page1, err := s.List(ctx, types.ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Keys, 2)
	assert.Equal(t, "a", page1.Keys[0].Name)
	assert.Equal(t, "b", page1.Keys[1].Name)
	require.NotEmpty(t, page1.Cursor)

	page2, err := s.List(ctx, types.ListOptions{Limit: 2, Cursor: page1.Cursor})
	require.NoError(t, err)
	require.Len(t, page2.Keys, 1)
	assert.Equal(t, "c", page2.Keys[0].Name)
	assert.Empty(t, page2.Cursor)
}

func TestMemoryStoreSweepExpiredEvictsPastEntries(t *testing.T) {
	clk := clock.NewSimulated(time.Unix(1000, 0))
	s := NewMemoryStore(clk)
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, "live", types.StoredValue{Value: []byte("x")}))
	require.NoError(t, s.Put(ctx, "dead", types.StoredValue{Value: []byte("x"), Expiration: ptr(1001)}))

	clk.Advance(5 * time.Second)
	n, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, err := s.List(ctx, types.ListOptions{})
	require.NoError(t, err)
	require.Len(t, list.Keys, 1)
	assert.Equal(t, "live", list.Keys[0].Name)
}
