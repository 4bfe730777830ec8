package cache

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/storage"
)

func newTestNamespace(t *testing.T) (*Namespace, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore(clock.NewSimulated(time.Unix(1000, 0)))
	return newNamespace("test", store), store
}

func TestPutRejectsUncacheableResponses(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  Request
		resp Response
	}{
		{"partial content", Request{Method: "GET"}, Response{Status: 206, Headers: http.Header{}}},
		{"vary star", Request{Method: "GET"}, Response{Status: 200, Headers: http.Header{"Vary": {"*"}}}},
		{"non-get", Request{Method: "POST"}, Response{Status: 200, Headers: http.Header{}}},
		{"no-store", Request{Method: "GET"}, Response{Status: 200, Headers: http.Header{"Cache-Control": {"no-store"}}}},
		{"set-cookie", Request{Method: "GET"}, Response{Status: 200, Headers: http.Header{"Set-Cookie": {"a=b"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ns.Put(ctx, tc.req, tc.resp, PutOptions{}, 1000)
			assert.Error(t, err)
		})
	}
}

func TestPutAllowsPrivateSetCookie(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()
	resp := Response{
		Status: 200,
		Headers: http.Header{
			"Cache-Control": {"max-age=60, private=set-cookie"},
			"Set-Cookie":    {"a=b"},
		},
	}
	req := Request{Method: "GET", URL: "https://example.com/a"}
	err := ns.Put(ctx, req, resp, PutOptions{}, 1000)
	require.NoError(t, err)

	got, found, err := ns.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "HIT", got.Headers.Get("CF-Cache-Status"))
}

func TestTTLDerivationPriority(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()

	req := Request{Method: "GET", URL: "https://example.com/x"}
	resp := Response{Status: 200, Headers: http.Header{"Cache-Control": {"max-age=5"}}}

	// cacheTtlByStatus wins over cacheTtl and response headers.
	override := 100
	err := ns.Put(ctx, req, resp, PutOptions{
		CacheTtlByStatus: map[string]int{"200-299": 30},
		CacheTtl:         &override,
	}, 1000)
	require.NoError(t, err)

	got, found, err := ns.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 200, got.Status)
}

func TestTTLZeroMeansDoNotCache(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://example.com/nope"}
	resp := Response{Status: 404, Headers: http.Header{}}
	err := ns.Put(ctx, req, resp, PutOptions{CacheTtlByStatus: map[string]int{"404": 0}}, 1000)
	assert.Error(t, err)
}

func TestMatchIfNoneMatch(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://example.com/etag"}
	resp := Response{Status: 200, Headers: http.Header{"ETag": {`"abc"`}, "Cache-Control": {"max-age=60"}}}
	require.NoError(t, ns.Put(ctx, req, resp, PutOptions{}, 1000))

	req.Headers = http.Header{"If-None-Match": {`"abc"`}}
	got, found, err := ns.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 304, got.Status)
}

func TestMatchRange(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://example.com/bytes"}
	resp := Response{Status: 200, Headers: http.Header{"Cache-Control": {"max-age=60"}}, Body: []byte("0123456789")}
	require.NoError(t, ns.Put(ctx, req, resp, PutOptions{}, 1000))

	req.Headers = http.Header{"Range": {"bytes=2-4"}}
	got, found, err := ns.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 206, got.Status)
	assert.Equal(t, []byte("234"), got.Body)
	assert.Equal(t, "bytes 2-4/10", got.Headers.Get("Content-Range"))
}

func TestMatchNonGetMissesUnlessIgnoreMethod(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://example.com/y"}
	resp := Response{Status: 200, Headers: http.Header{"Cache-Control": {"max-age=60"}}}
	require.NoError(t, ns.Put(ctx, req, resp, PutOptions{}, 1000))

	postReq := Request{Method: "POST", URL: req.URL}
	_, found, err := ns.Match(ctx, postReq, MatchOptions{})
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = ns.Match(ctx, postReq, MatchOptions{IgnoreMethod: true})
	require.NoError(t, err)
	assert.True(t, found)
}

func TestDeleteReportsExistence(t *testing.T) {
	ns, _ := newTestNamespace(t)
	ctx := context.Background()
	req := Request{Method: "GET", URL: "https://example.com/z"}
	resp := Response{Status: 200, Headers: http.Header{"Cache-Control": {"max-age=60"}}}
	require.NoError(t, ns.Put(ctx, req, resp, PutOptions{}, 1000))

	existed, err := ns.Delete(ctx, req)
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = ns.Delete(ctx, req)
	require.NoError(t, err)
	assert.False(t, existed)
}

func TestTTLDerivationFromExpiresHeaderUsesSimulatedClock(t *testing.T) {
	clk := clock.NewSimulated(time.Unix(1000, 0))
	store := storage.NewMemoryStore(clk)
	ns := newNamespace("test", store)
	ctx := context.Background()

	req := Request{Method: "GET", URL: "https://example.com/expires"}
	expires := time.Unix(1030, 0).UTC().Format(http.TimeFormat)
	resp := Response{Status: 200, Headers: http.Header{"Expires": {expires}}}
	require.NoError(t, ns.Put(ctx, req, resp, PutOptions{}, clk.Now().Unix()))

	_, found, err := ns.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	assert.True(t, found, "entry with a 30s Expires TTL must still be live immediately after Put")

	clk.Advance(31 * time.Second)
	_, found, err = ns.Match(ctx, req, MatchOptions{})
	require.NoError(t, err)
	assert.False(t, found, "entry must expire once the simulated clock passes Expires")
}

func TestCacheStorageDefaultNameReserved(t *testing.T) {
	store := storage.NewMemoryStore(nil)
	cs := New(store)
	_, err := cs.Open("default")
	assert.Error(t, err)

	def := cs.Default()
	require.NotNil(t, def)
}
