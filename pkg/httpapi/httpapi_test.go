package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesim/miniflare/pkg/cache"
	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/events"
	"github.com/edgesim/miniflare/pkg/kv"
	"github.com/edgesim/miniflare/pkg/object"
	"github.com/edgesim/miniflare/pkg/servicebinding"
	"github.com/edgesim/miniflare/pkg/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	limits := config.Default()
	clk := clock.NewSimulated(time.Unix(1_700_000_000, 0))

	kvReg := kv.NewRegistry(limits, func(string) storage.Operator { return storage.NewMemoryStore(clk) })
	cacheStore := cache.New(storage.NewMemoryStore(clk))
	broker := events.NewBroker()
	objReg := object.NewRegistry(limits, broker, func(string) storage.Operator { return storage.NewMemoryStore(clk) })
	dispatcher := servicebinding.New(limits)

	return NewServer(limits, kvReg, cacheStore, objReg, dispatcher)
}

func TestKVPutAndGetRoundTrip(t *testing.T) {
	s := newTestServer(t)

	putBody, _ := json.Marshal(kvPutRequest{Value: "hello"})
	req := httptest.NewRequest(http.MethodPut, "/kv/widgets/greeting", bytes.NewReader(putBody))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/kv/widgets/greeting", nil)
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())
}

func TestKVGetMissingKeyReturns404(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/kv/widgets/nope", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCachePutAndMatchRoundTrip(t *testing.T) {
	s := newTestServer(t)

	putBody, _ := json.Marshal(cachePutRequest{
		URL:     "https://example.com/asset.js",
		Status:  200,
		Headers: map[string]string{"Cache-Control": "max-age=120"},
		Body:    "console.log(1)",
	})
	req := httptest.NewRequest(http.MethodPut, "/cache/default/put", bytes.NewReader(putBody))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/cache/default/match?url=https://example.com/asset.js", nil)
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())
}

func TestObjectStoragePutGetDelete(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPut, "/objects/counter-1/storage/count", bytes.NewReader([]byte("1")))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/objects/counter-1/storage/count", nil)
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", rec.Body.String())

	req = httptest.NewRequest(http.MethodDelete, "/objects/counter-1/storage/count", nil)
	rec = httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestObjectTransactionAppliesPutsAtomically(t *testing.T) {
	s := newTestServer(t)

	body, _ := json.Marshal(transactionRequest{Puts: map[string]string{"a": "1", "b": "2"}})
	req := httptest.NewRequest(http.MethodPost, "/objects/txn-1/transaction", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	inst := s.objects.Get("txn-1")
	v, found, err := inst.Storage.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "1", string(v.Value))
}

func TestFetchDispatchesToBoundHandler(t *testing.T) {
	s := newTestServer(t)
	s.dispatcher.Bind("origin", func(ctx context.Context, req servicebinding.Request) (servicebinding.Response, error) {
		return servicebinding.Response{Status: 200, Body: []byte("ok")}, nil
	})

	req := httptest.NewRequest(http.MethodPost, "/fetch/origin", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestFetchUnboundNameReturnsError(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/fetch/missing", nil)
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	assert.NotEqual(t, http.StatusOK, rec.Code)
}
