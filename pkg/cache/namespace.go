package cache

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/metrics"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/types"
)

// record is the on-disk shape of one cache entry, JSON-encoded into a
// types.StoredValue's Value (spec.md §4.4 "DeserializationError" covers
// a decode failure against this schema).
type record struct {
	Status  int         `json:"status"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body"`
}

// Namespace is one named cache, backed by storage.Operator and
// identified on disk by an xxhash fingerprint of namespace+request key
// (spec.md §9 "cache fingerprint is an index key, not a security
// boundary").
type Namespace struct {
	name  string
	store storage.Operator

	group singleflight.Group
}

func newNamespace(name string, store storage.Operator) *Namespace {
	return &Namespace{name: name, store: store}
}

func requestKey(req Request) string {
	if req.CacheKey != "" {
		return req.CacheKey
	}
	return req.URL
}

func (ns *Namespace) fingerprint(key string) string {
	h := xxhash.New()
	_, _ = h.WriteString(ns.name)
	_, _ = h.Write([]byte{0}) // separator, so "ab"+"" can't collide with "a"+"b"
	_, _ = h.WriteString(key)
	return strconv.FormatUint(h.Sum64(), 16)
}

// Put stores resp under the key derived from req, honoring the
// cacheability filter and TTL derivation chain of spec.md §4.4. A
// rejected-as-uncacheable response is reported via the returned error;
// nothing is ever silently dropped.
func (ns *Namespace) Put(ctx context.Context, req Request, resp Response, opts PutOptions, now int64) error {
	if err := cacheable(req, resp); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "put", "rejected").Inc()
		return err
	}
	ttl, ok := deriveTTL(resp.Status, resp.Headers, opts, now)
	if !ok {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "put", "not_cacheable").Inc()
		return errs.Validation(errs.CodeKeyValidation, "response is not cacheable under the active TTL rules")
	}

	rec := record{Status: resp.Status, Headers: resp.Headers.Clone(), Body: append([]byte(nil), resp.Body...)}
	data, err := json.Marshal(rec)
	if err != nil {
		return errs.Deserialization("encode cache entry: %v", err)
	}
	exp := now + int64(ttl)
	key := ns.fingerprint(requestKey(req))
	if putErr := ns.store.Put(ctx, key, types.StoredValue{Value: data, Expiration: &exp}); putErr != nil {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "put", "error").Inc()
		return putErr
	}
	metrics.CacheRequestsTotal.WithLabelValues(ns.name, "put", "stored").Inc()
	metrics.CacheEntriesTotal.WithLabelValues(ns.name).Inc()
	return nil
}

// Match looks up req's cached entry, applying conditional-request and
// Range handling (spec.md §4.4 "Match (get)"). found=false with a nil
// error is a plain miss.
func (ns *Namespace) Match(ctx context.Context, req Request, opts MatchOptions) (Response, bool, error) {
	if req.Method != "" && req.Method != http.MethodGet && !opts.IgnoreMethod {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "miss").Inc()
		return Response{}, false, nil
	}

	key := ns.fingerprint(requestKey(req))
	v, err, _ := ns.group.Do(key, func() (any, error) {
		data, found, err := ns.store.Get(ctx, key)
		if err != nil || !found {
			return nil, err
		}
		return data, nil
	})
	if err != nil {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "error").Inc()
		return Response{}, false, err
	}
	if v == nil {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "miss").Inc()
		return Response{}, false, nil
	}
	stored := v.(types.StoredValue)

	var rec record
	if err := json.Unmarshal(stored.Value, &rec); err != nil {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "error").Inc()
		return Response{}, false, errs.Deserialization("decode cache entry: %v", err)
	}

	headers := rec.Headers.Clone()
	if headers == nil {
		headers = make(http.Header)
	}
	headers.Set("CF-Cache-Status", "HIT")

	if req.Headers != nil {
		if inm := req.Headers.Get("If-None-Match"); inm != "" && matchesIfNoneMatch(inm, headers.Get("ETag")) {
			metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "not_modified").Inc()
			return Response{Status: 304, Headers: headers.Clone()}, true, nil
		}
		if ims := req.Headers.Get("If-Modified-Since"); ims != "" && matchesIfModifiedSince(ims, headers.Get("Last-Modified")) {
			metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "not_modified").Inc()
			return Response{Status: 304, Headers: headers.Clone()}, true, nil
		}
		if rng := req.Headers.Get("Range"); rng != "" {
			total := int64(len(rec.Body))
			if br, ok := parseRange(rng, total); ok {
				sliced := append([]byte(nil), rec.Body[br.start:br.end+1]...)
				rh := headers.Clone()
				rh.Set("Content-Range", "bytes "+strconv.FormatInt(br.start, 10)+"-"+strconv.FormatInt(br.end, 10)+"/"+strconv.FormatInt(total, 10))
				rh.Set("Content-Length", strconv.Itoa(len(sliced)))
				metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "partial").Inc()
				return Response{Status: 206, Headers: rh, Body: sliced}, true, nil
			}
		}
	}

	metrics.CacheRequestsTotal.WithLabelValues(ns.name, "match", "hit").Inc()
	return Response{Status: rec.Status, Headers: headers, Body: append([]byte(nil), rec.Body...)}, true, nil
}

// Delete removes req's cached entry, reporting whether one existed.
func (ns *Namespace) Delete(ctx context.Context, req Request) (bool, error) {
	existed, err := ns.store.Delete(ctx, ns.fingerprint(requestKey(req)))
	if err != nil {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "delete", "error").Inc()
		return false, err
	}
	if existed {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "delete", "deleted").Inc()
		metrics.CacheEntriesTotal.WithLabelValues(ns.name).Dec()
	} else {
		metrics.CacheRequestsTotal.WithLabelValues(ns.name, "delete", "miss").Inc()
	}
	return existed, nil
}
