package storage

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/types"
)

// keyItem is the btree.Item ordering MemoryStore's index by key name
// (ordinary Go string comparison over valid UTF-8 is codepoint order).
type keyItem struct {
	name string
}

func (k keyItem) Less(than btree.Item) bool {
	return k.name < than.(keyItem).name
}

const btreeDegree = 32

// MemoryStore is an in-memory Operator. A map gives O(1) point
// operations; a google/btree index gives ordered range scans for List,
// so list's "snapshot, filter, sort, cursor" algorithm is a tree walk
// rather than a full sort on every call.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]types.StoredValue
	index *btree.BTree
	clock clock.Clock
}

// NewMemoryStore creates an empty in-memory operator using clk for
// expiration checks. A nil clk defaults to the real wall clock.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		data:  make(map[string]types.StoredValue),
		index: btree.New(btreeDegree),
		clock: clk,
	}
}

func (m *MemoryStore) Now() int64 {
	return types.Now(m.clock.Now())
}

// expired reports whether v is expired as of now. It inspects a copy of
// the entry, so it needs no lock; deleting an expired entry is done
// separately under the write lock (TOCTTOU-safe: we never delete under a
// read lock).
func expired(v types.StoredValue, now int64) bool {
	return v.Expired(now)
}

// deleteLocked removes name from both the map and the index. Caller must
// hold the write lock.
func (m *MemoryStore) deleteLocked(name string) {
	delete(m.data, name)
	m.index.Delete(keyItem{name: name})
}

// expireIfNeeded opportunistically deletes name if it is still expired.
// It runs synchronously on the reading goroutine and takes the write lock
// itself, so the read returns only after the deletion is done; the
// deletion has no failure mode here.
func (m *MemoryStore) expireIfNeeded(name string, now int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[name]
	if ok && expired(v, now) {
		m.deleteLocked(name)
	}
}

func (m *MemoryStore) Has(_ context.Context, key string) (bool, error) {
	if err := ValidateKeyName(key); err != nil {
		return false, err
	}
	now := m.Now()
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if expired(v, now) {
		m.expireIfNeeded(key, now)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (types.StoredValue, bool, error) {
	if err := ValidateKeyName(key); err != nil {
		return types.StoredValue{}, false, err
	}
	now := m.Now()
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return types.StoredValue{}, false, nil
	}
	if expired(v, now) {
		m.expireIfNeeded(key, now)
		return types.StoredValue{}, false, nil
	}
	return v.Clone(), true, nil
}

func (m *MemoryStore) GetRange(_ context.Context, key string, r types.Range) (types.RangeStoredValue, bool, error) {
	if err := ValidateKeyName(key); err != nil {
		return types.RangeStoredValue{}, false, err
	}
	now := m.Now()
	m.mu.RLock()
	v, ok := m.data[key]
	m.mu.RUnlock()
	if !ok {
		return types.RangeStoredValue{}, false, nil
	}
	if expired(v, now) {
		m.expireIfNeeded(key, now)
		return types.RangeStoredValue{}, false, nil
	}

	total := int64(len(v.Value))
	offset, length, err := resolveRange(r, total)
	if err != nil {
		return types.RangeStoredValue{}, false, err
	}

	sliced := append([]byte(nil), v.Value[offset:offset+length]...)
	var exp *int64
	if v.Expiration != nil {
		e := *v.Expiration
		exp = &e
	}
	return types.RangeStoredValue{
		Value:      sliced,
		Offset:     offset,
		TotalBytes: total,
		Expiration: exp,
		Metadata:   types.CloneMetadata(v.Metadata),
	}, true, nil
}

// resolveRange turns a Range request into a concrete [offset, offset+length)
// window against a value of the given total length, failing with
// ErrRangeNotSatisfiable when the window cannot be satisfied.
func resolveRange(r types.Range, total int64) (offset, length int64, err error) {
	switch {
	case r.Suffix != nil:
		suf := *r.Suffix
		if suf < 0 || suf > total {
			return 0, 0, errs.ErrRangeNotSatisfiable
		}
		return total - suf, suf, nil
	case r.Offset != nil && r.Length != nil:
		off, l := *r.Offset, *r.Length
		if off < 0 || l < 0 || off > total || off+l > total {
			return 0, 0, errs.ErrRangeNotSatisfiable
		}
		return off, l, nil
	case r.Offset != nil:
		off := *r.Offset
		if off < 0 || off > total {
			return 0, 0, errs.ErrRangeNotSatisfiable
		}
		return off, total - off, nil
	case r.Length != nil:
		l := *r.Length
		if l < 0 || l > total {
			return 0, 0, errs.ErrRangeNotSatisfiable
		}
		return 0, l, nil
	default:
		return 0, total, nil
	}
}

func (m *MemoryStore) Put(_ context.Context, key string, value types.StoredValue) error {
	if err := ValidateKeyName(key); err != nil {
		return err
	}
	now := m.Now()
	if value.Expiration != nil && *value.Expiration <= now {
		return errs.Validation(errs.CodeKeyValidation, "expiration must be strictly greater than the stored-at time")
	}
	cloned := value.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; !exists {
		m.index.ReplaceOrInsert(keyItem{name: key})
	}
	m.data[key] = cloned
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) (bool, error) {
	if err := ValidateKeyName(key); err != nil {
		return false, err
	}
	now := m.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return false, nil
	}
	existed := !expired(v, now)
	m.deleteLocked(key)
	return existed, nil
}

func (m *MemoryStore) HasMany(ctx context.Context, keys []string) (map[string]bool, error) {
	if len(keys) > maxBatchKeys {
		return nil, errs.ErrTooManyKeys
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		ok, err := m.Has(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = ok
	}
	return out, nil
}

func (m *MemoryStore) GetMany(ctx context.Context, keys []string) (map[string]types.StoredValue, error) {
	if len(keys) > maxBatchKeys {
		return nil, errs.ErrTooManyKeys
	}
	out := make(map[string]types.StoredValue, len(keys))
	for _, k := range keys {
		v, ok, err := m.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (m *MemoryStore) PutMany(ctx context.Context, entries map[string]types.StoredValue) error {
	if len(entries) > maxBatchKeys {
		return errs.ErrTooManyKeys
	}
	now := m.Now()
	if err := validateBatch(ctx, entries, now); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range entries {
		if _, exists := m.data[k]; !exists {
			m.index.ReplaceOrInsert(keyItem{name: k})
		}
		m.data[k] = v.Clone()
	}
	return nil
}

func (m *MemoryStore) DeleteMany(_ context.Context, keys []string) (int, error) {
	if len(keys) > maxBatchKeys {
		return 0, errs.ErrTooManyKeys
	}
	now := m.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, k := range keys {
		if err := ValidateKeyName(k); err != nil {
			return 0, err
		}
		v, ok := m.data[k]
		if !ok {
			continue
		}
		if !expired(v, now) {
			n++
		}
		m.deleteLocked(k)
	}
	return n, nil
}

const maxBatchKeys = 128

func (m *MemoryStore) List(_ context.Context, opts types.ListOptions) (types.ListResult, error) {
	now := m.Now()

	m.mu.Lock()
	// Step 1: snapshot all non-expired keys, opportunistically dropping
	// expired ones as we walk the index (never blocking the caller
	// beyond this one call).
	var names []string
	var expiredNames []string
	m.index.Ascend(func(i btree.Item) bool {
		name := i.(keyItem).name
		v := m.data[name]
		if expired(v, now) {
			expiredNames = append(expiredNames, name)
			return true
		}
		names = append(names, name)
		return true
	})
	for _, n := range expiredNames {
		m.deleteLocked(n)
	}
	m.mu.Unlock()

	// Steps 2-6: shared pagination algorithm (filter, reverse, cursor,
	// delimiter, limit). names is already ascending (btree.Ascend).
	lookup := func(name string) types.StoredKey {
		m.mu.RLock()
		v := m.data[name]
		m.mu.RUnlock()
		return types.StoredKey{
			Name:       name,
			Expiration: v.Expiration,
			Metadata:   types.CloneMetadata(v.Metadata),
		}
	}
	return Paginate(names, lookup, opts), nil
}

// SweepExpired walks the whole index evicting every currently-expired
// entry, independent of any Get/List call touching it. This is the
// proactive counterpart to the opportunistic deletion every read already
// performs (package sweep runs it on an interval).
func (m *MemoryStore) SweepExpired(_ context.Context) (int, error) {
	now := m.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var expiredNames []string
	m.index.Ascend(func(i btree.Item) bool {
		name := i.(keyItem).name
		if expired(m.data[name], now) {
			expiredNames = append(expiredNames, name)
		}
		return true
	})
	for _, n := range expiredNames {
		m.deleteLocked(n)
	}
	return len(expiredNames), nil
}
