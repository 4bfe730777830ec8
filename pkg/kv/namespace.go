package kv

import (
	"context"
	"encoding/json"
	"io"
	"unicode/utf8"

	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/metrics"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/types"
)

// Namespace is one KV namespace, backed by storage.Operator.
type Namespace struct {
	name   string
	store  storage.Operator
	limits config.Limits
}

// New creates a KV namespace named name over store, enforcing limits'
// KV-specific bounds.
func New(name string, store storage.Operator, limits config.Limits) *Namespace {
	return &Namespace{name: name, store: store, limits: limits}
}

func (ns *Namespace) validateKey(op, key string) error {
	if key == "" || !utf8.ValidString(key) {
		return newErr(op, 400, "key must be non-empty valid UTF-8")
	}
	if key == "." || key == ".." {
		return newErr(op, 400, `key cannot be "." or ".."`)
	}
	if len(key) > ns.limits.KVMaxKeyBytes {
		return newErr(op, 414, "key exceeds maximum length")
	}
	return nil
}

// Put validates and stores value under key (spec.md §4.5 "Put
// validation"). value must be []byte, string, or io.Reader.
func (ns *Namespace) Put(ctx context.Context, key string, value any, opts PutOptions, now int64) error {
	if err := ns.validateKey("PUT", key); err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "put", "validation_error").Inc()
		return err
	}

	data, err := coerceValue(value, ns.limits.KVMaxValueBytes)
	if err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "put", "type_error").Inc()
		return err
	}
	if len(data) > ns.limits.KVMaxValueBytes {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "put", "too_large").Inc()
		return newErr("PUT", 413, "value exceeds maximum size")
	}

	if opts.Metadata != nil {
		encoded, err := json.Marshal(opts.Metadata)
		if err != nil {
			return newErr("PUT", 400, "metadata is not JSON-encodable")
		}
		if len(encoded) > ns.limits.KVMaxMetadataBytes {
			metrics.KVRequestsTotal.WithLabelValues(ns.name, "put", "too_large").Inc()
			return newErr("PUT", 413, "metadata exceeds maximum size")
		}
	}

	exp, err := ns.resolveExpiration(opts, now)
	if err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "put", "validation_error").Inc()
		return err
	}

	if err := ns.store.Put(ctx, key, types.StoredValue{Value: data, Expiration: exp, Metadata: opts.Metadata}); err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "put", "error").Inc()
		return err
	}
	metrics.KVRequestsTotal.WithLabelValues(ns.name, "put", "stored").Inc()
	return nil
}

// resolveExpiration applies spec.md §4.5's precedence: an explicit
// expiration wins over expirationTtl when both are set.
func (ns *Namespace) resolveExpiration(opts PutOptions, now int64) (*int64, error) {
	minTTL := int64(ns.limits.KVMinExpirationTTL)

	if expRaw, present, err := coerceInt(opts.Expiration); present {
		if err != nil || !withinInt32(expRaw) || expRaw <= now+minTTL {
			return nil, newErr("PUT", 400, "expiration must be an integer greater than now + minimum TTL")
		}
		return &expRaw, nil
	}

	if ttlRaw, present, err := coerceInt(opts.ExpirationTTL); present {
		if err != nil || !withinInt32(ttlRaw) || ttlRaw < minTTL {
			return nil, newErr("PUT", 400, "expirationTtl must be at least the minimum TTL")
		}
		abs := now + ttlRaw
		return &abs, nil
	}

	return nil, nil
}

func coerceValue(value any, maxBytes int) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case io.Reader:
		// Read one byte beyond the limit so an oversize stream is
		// reported as too-large rather than silently truncated.
		data, err := io.ReadAll(io.LimitReader(v, int64(maxBytes)+1))
		if err != nil {
			return nil, newErr("PUT", 400, "failed to read value stream")
		}
		return data, nil
	default:
		return nil, newErr("PUT", 400, "value must be a byte array, string, or byte stream")
	}
}

// Get fetches key, decoded according to opts.Type (default "text").
// found=false (with a nil error) is the sentinel "not found" spec.md
// §4.5 calls out as distinct from an empty value.
func (ns *Namespace) Get(ctx context.Context, key string, opts GetOptions, now int64) (GetResult, bool, error) {
	if err := ns.validateKey("GET", key); err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "get", "validation_error").Inc()
		return GetResult{}, false, err
	}
	if ttl, present, err := coerceInt(opts.CacheTTL); present {
		if err != nil || !withinInt32(ttl) || ttl < int64(ns.limits.KVMinExpirationTTL) {
			// Validated but otherwise ignored per spec.md; a malformed
			// value is still rejected up front.
			return GetResult{}, false, newErr("GET", 400, "cacheTtl must be at least the minimum TTL")
		}
	}

	v, found, err := ns.store.Get(ctx, key)
	if err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "get", "error").Inc()
		return GetResult{}, false, err
	}
	if !found {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "get", "miss").Inc()
		return GetResult{}, false, nil
	}

	result, err := decodeValue(v.Value, opts.Type)
	if err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "get", "error").Inc()
		return GetResult{}, false, err
	}
	metrics.KVRequestsTotal.WithLabelValues(ns.name, "get", "hit").Inc()
	return result, true, nil
}

func decodeValue(raw []byte, typ ValueType) (GetResult, error) {
	switch typ {
	case "", TypeText:
		return GetResult{Text: string(raw)}, nil
	case TypeArrayBuffer, TypeStream:
		return GetResult{ArrayBuffer: append([]byte(nil), raw...)}, nil
	case TypeJSON:
		var parsed any
		if err := json.Unmarshal(raw, &parsed); err != nil {
			return GetResult{}, newErr("GET", 400, "stored value is not valid JSON")
		}
		return GetResult{JSON: parsed}, nil
	default:
		return GetResult{}, newErr("GET", 400, "unknown type option")
	}
}

// GetWithMetadata is Get plus the stored metadata; both the value and
// metadata are the sentinel ("not found", nil) when key is absent.
func (ns *Namespace) GetWithMetadata(ctx context.Context, key string, opts GetOptions, now int64) (GetResult, types.Metadata, bool, error) {
	if err := ns.validateKey("GET", key); err != nil {
		return GetResult{}, nil, false, err
	}
	if ttl, present, err := coerceInt(opts.CacheTTL); present {
		if err != nil || !withinInt32(ttl) || ttl < int64(ns.limits.KVMinExpirationTTL) {
			return GetResult{}, nil, false, newErr("GET", 400, "cacheTtl must be at least the minimum TTL")
		}
	}
	v, found, err := ns.store.Get(ctx, key)
	if err != nil {
		return GetResult{}, nil, false, err
	}
	if !found {
		return GetResult{}, nil, false, nil
	}
	result, err := decodeValue(v.Value, opts.Type)
	if err != nil {
		return GetResult{}, nil, false, err
	}
	return result, v.Metadata, true, nil
}

// Delete removes key.
func (ns *Namespace) Delete(ctx context.Context, key string) error {
	if err := ns.validateKey("DELETE", key); err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "delete", "validation_error").Inc()
		return err
	}
	if _, err := ns.store.Delete(ctx, key); err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "delete", "error").Inc()
		return err
	}
	metrics.KVRequestsTotal.WithLabelValues(ns.name, "delete", "deleted").Inc()
	return nil
}

// List returns a page of keys under opts.Prefix (spec.md §4.5 "List").
// The scan is never snapshot-isolated: a key inserted after the first
// page but sorting after the cursor must appear in a later page, which
// falls out naturally from delegating straight to the storage
// substrate's own List on every call.
func (ns *Namespace) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = ns.limits.KVDefaultListLimit
	}
	if limit > ns.limits.KVMaxListLimit {
		limit = ns.limits.KVMaxListLimit
	}

	res, err := ns.store.List(ctx, types.ListOptions{
		Prefix: opts.Prefix,
		Cursor: opts.Cursor,
		Limit:  limit,
	})
	if err != nil {
		metrics.KVRequestsTotal.WithLabelValues(ns.name, "list", "error").Inc()
		return ListResult{}, err
	}
	metrics.KVRequestsTotal.WithLabelValues(ns.name, "list", "ok").Inc()
	return ListResult{
		Keys:         res.Keys,
		ListComplete: res.Cursor == "",
		Cursor:       res.Cursor,
	}, nil
}
