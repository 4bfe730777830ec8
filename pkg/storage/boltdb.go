package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/sync/errgroup"

	"github.com/edgesim/miniflare/pkg/clock"
	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/types"
)

var bucketEntries = []byte("entries")

// boltRecord is the on-disk shape of one StoredValue. A schema mismatch
// decoding this (e.g. a legacy layout) surfaces as a deserialization
// error the handler may catch and remediate by deleting the key
// (spec.md §4.4 "DeserializationError", §7).
type boltRecord struct {
	Value      []byte         `json:"value"`
	Expiration *int64         `json:"expiration,omitempty"`
	Metadata   types.Metadata `json:"metadata,omitempty"`
}

// BoltAdapter is an Operator backed by an on-disk go.etcd.io/bbolt
// database, fulfilling the "filesystem persistence adapter" spec.md §1
// names. It satisfies the same Operator interface as MemoryStore with no
// shared implementation, the concrete shape of spec.md §9's "dynamic
// dispatch on storage operator" design note.
type BoltAdapter struct {
	db    *bolt.DB
	clock clock.Clock
}

// NewBoltAdapter opens (creating if necessary) a bbolt database under
// dataDir.
func NewBoltAdapter(dataDir string, clk clock.Clock) (*BoltAdapter, error) {
	if clk == nil {
		clk = clock.Real{}
	}
	dbPath := filepath.Join(dataDir, "miniflare.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", dbPath, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketEntries)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create bucket: %w", err)
	}
	return &BoltAdapter{db: db, clock: clk}, nil
}

// Close releases the underlying bbolt database handle.
func (b *BoltAdapter) Close() error {
	return b.db.Close()
}

func (b *BoltAdapter) Now() int64 {
	return types.Now(b.clock.Now())
}

func decodeRecord(data []byte) (types.StoredValue, error) {
	var rec boltRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return types.StoredValue{}, errs.Deserialization("corrupt storage record: %v", err)
	}
	return types.StoredValue{Value: rec.Value, Expiration: rec.Expiration, Metadata: rec.Metadata}, nil
}

func encodeRecord(v types.StoredValue) ([]byte, error) {
	rec := boltRecord{Value: v.Value, Expiration: v.Expiration, Metadata: v.Metadata}
	return json.Marshal(rec)
}

func (b *BoltAdapter) Has(ctx context.Context, key string) (bool, error) {
	_, ok, err := b.Get(ctx, key)
	return ok, err
}

func (b *BoltAdapter) Get(_ context.Context, key string) (types.StoredValue, bool, error) {
	if err := ValidateKeyName(key); err != nil {
		return types.StoredValue{}, false, err
	}
	now := b.Now()
	var out types.StoredValue
	var found bool
	var expiredKey bool
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketEntries).Get([]byte(key))
		if data == nil {
			return nil
		}
		v, err := decodeRecord(data)
		if err != nil {
			return err
		}
		if v.Expired(now) {
			expiredKey = true
			return nil
		}
		out = v.Clone()
		found = true
		return nil
	})
	if err != nil {
		return types.StoredValue{}, false, err
	}
	if expiredKey {
		_ = b.db.Update(func(tx *bolt.Tx) error {
			return tx.Bucket(bucketEntries).Delete([]byte(key))
		})
		return types.StoredValue{}, false, nil
	}
	return out, found, nil
}

func (b *BoltAdapter) GetRange(ctx context.Context, key string, r types.Range) (types.RangeStoredValue, bool, error) {
	v, ok, err := b.Get(ctx, key)
	if err != nil || !ok {
		return types.RangeStoredValue{}, ok, err
	}
	total := int64(len(v.Value))
	offset, length, err := resolveRange(r, total)
	if err != nil {
		return types.RangeStoredValue{}, false, err
	}
	return types.RangeStoredValue{
		Value:      append([]byte(nil), v.Value[offset:offset+length]...),
		Offset:     offset,
		TotalBytes: total,
		Expiration: v.Expiration,
		Metadata:   v.Metadata,
	}, true, nil
}

func (b *BoltAdapter) Put(_ context.Context, key string, value types.StoredValue) error {
	if err := ValidateKeyName(key); err != nil {
		return err
	}
	now := b.Now()
	if value.Expiration != nil && *value.Expiration <= now {
		return errs.Validation(errs.CodeKeyValidation, "expiration must be strictly greater than the stored-at time")
	}
	data, err := encodeRecord(value.Clone())
	if err != nil {
		return err
	}
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).Put([]byte(key), data)
	})
}

func (b *BoltAdapter) Delete(_ context.Context, key string) (bool, error) {
	if err := ValidateKeyName(key); err != nil {
		return false, err
	}
	now := b.Now()
	existed := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		data := bkt.Get([]byte(key))
		if data == nil {
			return nil
		}
		v, err := decodeRecord(data)
		if err != nil {
			return err
		}
		existed = !v.Expired(now)
		return bkt.Delete([]byte(key))
	})
	return existed, err
}

func (b *BoltAdapter) HasMany(ctx context.Context, keys []string) (map[string]bool, error) {
	if len(keys) > maxBatchKeys {
		return nil, errs.ErrTooManyKeys
	}
	out := make(map[string]bool, len(keys))
	for _, k := range keys {
		ok, err := b.Has(ctx, k)
		if err != nil {
			return nil, err
		}
		out[k] = ok
	}
	return out, nil
}

func (b *BoltAdapter) GetMany(ctx context.Context, keys []string) (map[string]types.StoredValue, error) {
	if len(keys) > maxBatchKeys {
		return nil, errs.ErrTooManyKeys
	}
	out := make(map[string]types.StoredValue, len(keys))
	for _, k := range keys {
		v, ok, err := b.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = v
		}
	}
	return out, nil
}

type encodedEntry struct {
	key  string
	data []byte
}

func (b *BoltAdapter) PutMany(ctx context.Context, entries map[string]types.StoredValue) error {
	if len(entries) > maxBatchKeys {
		return errs.ErrTooManyKeys
	}
	now := b.Now()
	if err := validateBatch(ctx, entries, now); err != nil {
		return err
	}

	// Validation passed; encode each entry concurrently (JSON marshal per
	// key is independent work) before taking bbolt's single read-write
	// transaction to apply the batch atomically.
	g, _ := errgroup.WithContext(ctx)
	encoded := make([]encodedEntry, len(entries))
	i := 0
	for k, v := range entries {
		k, v, idx := k, v, i
		i++
		g.Go(func() error {
			data, err := encodeRecord(v.Clone())
			if err != nil {
				return err
			}
			encoded[idx] = encodedEntry{key: k, data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Applied atomically: bbolt's Update runs in a single exclusive
	// read-write transaction, so either every key in the batch is
	// visible or none is.
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		for _, e := range encoded {
			if err := bkt.Put([]byte(e.key), e.data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BoltAdapter) DeleteMany(_ context.Context, keys []string) (int, error) {
	if len(keys) > maxBatchKeys {
		return 0, errs.ErrTooManyKeys
	}
	now := b.Now()
	n := 0
	err := b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		for _, k := range keys {
			if err := ValidateKeyName(k); err != nil {
				return err
			}
			data := bkt.Get([]byte(k))
			if data != nil {
				v, err := decodeRecord(data)
				if err != nil {
					return err
				}
				if !v.Expired(now) {
					n++
				}
			}
			if err := bkt.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

func (b *BoltAdapter) List(_ context.Context, opts types.ListOptions) (types.ListResult, error) {
	now := b.Now()
	var names []string
	var expiredNames []string
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, data []byte) error {
			v, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if v.Expired(now) {
				expiredNames = append(expiredNames, string(k))
				return nil
			}
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return types.ListResult{}, err
	}
	if len(expiredNames) > 0 {
		_ = b.db.Update(func(tx *bolt.Tx) error {
			bkt := tx.Bucket(bucketEntries)
			for _, n := range expiredNames {
				_ = bkt.Delete([]byte(n))
			}
			return nil
		})
	}

	// bbolt's ForEach already walks keys in ascending byte order, which
	// for valid UTF-8 is codepoint order.
	lookup := func(name string) types.StoredKey {
		var rec types.StoredValue
		_ = b.db.View(func(tx *bolt.Tx) error {
			data := tx.Bucket(bucketEntries).Get([]byte(name))
			if data == nil {
				return nil
			}
			v, err := decodeRecord(data)
			if err != nil {
				return err
			}
			rec = v
			return nil
		})
		return types.StoredKey{Name: name, Expiration: rec.Expiration, Metadata: rec.Metadata}
	}
	return Paginate(names, lookup, opts), nil
}

// SweepExpired walks every entry in the bucket evicting the ones
// currently expired, independent of any Get/List call touching them.
func (b *BoltAdapter) SweepExpired(_ context.Context) (int, error) {
	now := b.Now()
	var expiredNames [][]byte
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketEntries).ForEach(func(k, data []byte) error {
			v, err := decodeRecord(data)
			if err != nil {
				return err
			}
			if v.Expired(now) {
				expiredNames = append(expiredNames, append([]byte(nil), k...))
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}
	if len(expiredNames) == 0 {
		return 0, nil
	}
	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketEntries)
		for _, k := range expiredNames {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(expiredNames), nil
}
