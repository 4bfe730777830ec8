package txn

import (
	"context"
	"sort"

	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/types"
)

// ShadowTx is the view a transaction closure operates against: reads
// consult the shadow map first, falling back to the base operator and
// recording the key in the read-set; writes only ever touch the shadow
// map (spec.md §3 "Transaction state").
type ShadowTx struct {
	mgr          *Manager
	startVersion uint64
	readSet      map[string]struct{}
	shadow       map[string]*types.StoredValue // nil value = tentative delete
	rolledBack   bool
}

func (tx *ShadowTx) recordRead(key string) {
	tx.readSet[key] = struct{}{}
}

// Has reports whether key currently exists under this transaction's
// view: its own tentative writes/deletes if present, else the base
// operator.
func (tx *ShadowTx) Has(ctx context.Context, key string) (bool, error) {
	if err := storage.ValidateKeyName(key); err != nil {
		return false, err
	}
	tx.recordRead(key)
	if v, ok := tx.shadow[key]; ok {
		return v != nil, nil
	}
	return tx.mgr.base.Has(ctx, key)
}

// Get returns this transaction's view of key.
func (tx *ShadowTx) Get(ctx context.Context, key string) (types.StoredValue, bool, error) {
	if err := storage.ValidateKeyName(key); err != nil {
		return types.StoredValue{}, false, err
	}
	tx.recordRead(key)
	if v, ok := tx.shadow[key]; ok {
		if v == nil {
			return types.StoredValue{}, false, nil
		}
		return v.Clone(), true, nil
	}
	return tx.mgr.base.Get(ctx, key)
}

// GetRange returns a byte range of this transaction's view of key. A
// tentative write is sliced directly; a tentative delete reports a miss;
// otherwise the read is delegated to the base operator.
func (tx *ShadowTx) GetRange(ctx context.Context, key string, r types.Range) (types.RangeStoredValue, bool, error) {
	if err := storage.ValidateKeyName(key); err != nil {
		return types.RangeStoredValue{}, false, err
	}
	tx.recordRead(key)
	if v, ok := tx.shadow[key]; ok {
		if v == nil {
			return types.RangeStoredValue{}, false, nil
		}
		return sliceShadowValue(*v, r)
	}
	return tx.mgr.base.GetRange(ctx, key, r)
}

func sliceShadowValue(v types.StoredValue, r types.Range) (types.RangeStoredValue, bool, error) {
	total := int64(len(v.Value))
	offset, length, err := resolveRangeLocal(r, total)
	if err != nil {
		return types.RangeStoredValue{}, false, err
	}
	return types.RangeStoredValue{
		Value:      append([]byte(nil), v.Value[offset:offset+length]...),
		Offset:     offset,
		TotalBytes: total,
		Expiration: v.Expiration,
		Metadata:   types.CloneMetadata(v.Metadata),
	}, true, nil
}

func resolveRangeLocal(r types.Range, total int64) (offset, length int64, err error) {
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

// Put buffers a tentative write into the shadow map. No base storage
// mutation happens until commit. On top of the storage substrate's
// key-name validation (which caps names at 512 bytes), the transaction
// boundary enforces the configured key/value size limits (spec.md §4.2).
func (tx *ShadowTx) Put(key string, value types.StoredValue) error {
	if err := storage.ValidateKeyName(key); err != nil {
		return err
	}
	if value.Value == nil {
		return errs.Validation(errs.CodeKeyValidation, "put requires a defined value")
	}
	if l := tx.mgr.limits.MaxKeyBytes; l > 0 && len(key) > l {
		return errs.Validation(errs.CodeKeyValidation, "key exceeds %d bytes", l)
	}
	if l := tx.mgr.limits.MaxValueBytes; l > 0 && len(value.Value) > l {
		return errs.Capacity(errs.CodeKeyValidation, "value exceeds %d bytes", l)
	}
	cloned := value.Clone()
	tx.shadow[key] = &cloned
	return nil
}

// Delete buffers a tentative delete into the shadow map and reports
// whether the key existed under this transaction's view just before the
// delete.
func (tx *ShadowTx) Delete(ctx context.Context, key string) (bool, error) {
	existed, err := tx.Has(ctx, key)
	if err != nil {
		return false, err
	}
	if err := storage.ValidateKeyName(key); err != nil {
		return false, err
	}
	tx.shadow[key] = nil
	return existed, nil
}

// HasMany, GetMany, PutMany, DeleteMany mirror the storage.Operator
// batch contract against this transaction's shadowed view.
func (tx *ShadowTx) HasMany(ctx context.Context, keys []string) (map[string]bool, error) {
	if err := tx.checkBatchSize(keys); err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		ok, err := tx.Has(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = ok
	}
	return out, nil
}

func (tx *ShadowTx) GetMany(ctx context.Context, keys []string) (map[string]types.StoredValue, error) {
	if err := tx.checkBatchSize(keys); err != nil {
		return nil, err
	}
	out := make(map[string]types.StoredValue, len(keys))
	for _, k := range keys {
		v, ok, err := tx.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

func (tx *ShadowTx) PutMany(entries map[string]types.StoredValue) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	if err := tx.checkBatchSize(keys); err != nil {
		return err
	}
	for k, v := range entries {
		if err := tx.Put(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (tx *ShadowTx) DeleteMany(ctx context.Context, keys []string) (int, error) {
	if err := tx.checkBatchSize(keys); err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		existed, err := tx.Delete(ctx, k)
		if err != nil {
			return 0, err
		}
		if existed {
			n++
		}
	}
	return n, nil
}

func (tx *ShadowTx) checkBatchSize(keys []string) error {
	limit := tx.mgr.limits.MaxBatchKeys
	if limit <= 0 {
		limit = 128
	}
	if len(keys) > limit {
		return errs.ErrTooManyKeys
	}
	return nil
}

// List merges this transaction's tentative writes/deletes over the base
// operator's view before applying the shared pagination algorithm, so a
// closure observes its own uncommitted writes.
func (tx *ShadowTx) List(ctx context.Context, opts types.ListOptions) (types.ListResult, error) {
	// A transaction-local list is read against a best-effort merged
	// snapshot: take an unbounded base scan, then overlay the shadow
	// map. Every key the base scan returns, and every shadowed key, is
	// recorded in the read-set, so a concurrent writer touching one of
	// those keys forces a retry; a key another writer newly inserts into
	// the scanned range is not in the read-set and does not.
	baseScan, err := tx.mgr.base.List(ctx, types.ListOptions{
		Prefix:        opts.Prefix,
		ExcludePrefix: opts.ExcludePrefix,
		Start:         opts.Start,
		End:           opts.End,
	})
	if err != nil {
		return types.ListResult{}, err
	}

	merged := make(map[string]types.StoredKey, len(baseScan.Keys)+len(tx.shadow))
	for _, k := range baseScan.Keys {
		tx.recordRead(k.Name)
		merged[k.Name] = k
	}
	var names []string
	for k := range merged {
		names = append(names, k)
	}
	for k, v := range tx.shadow {
		tx.recordRead(k)
		if v == nil {
			delete(merged, k)
			continue
		}
		if _, existed := merged[k]; !existed {
			names = append(names, k)
		}
		merged[k] = types.StoredKey{Name: k, Expiration: v.Expiration, Metadata: types.CloneMetadata(v.Metadata)}
	}

	// Re-derive names from merged (post-delete) and sort.
	names = names[:0]
	for k := range merged {
		names = append(names, k)
	}
	sort.Strings(names)

	lookup := func(name string) types.StoredKey { return merged[name] }
	return storage.Paginate(names, lookup, opts), nil
}

// DeleteAll is prohibited inside a transaction (spec.md §4.2 "Prohibited
// operations inside a transaction").
func (tx *ShadowTx) DeleteAll(context.Context) error {
	return errs.ErrInvalidTransactionState
}
