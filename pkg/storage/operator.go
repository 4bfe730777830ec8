package storage

import (
	"context"

	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/types"
)

var (
	errEmptyKey   = errs.Validation(errs.CodeKeyValidation, "key name cannot be empty")
	errDotKey     = errs.Validation(errs.CodeKeyValidation, "key name cannot be \".\" or \"..\"")
	errKeyTooLong = errs.Validation(errs.CodeKeyValidation, "key name cannot exceed 512 bytes")
)

// Operator is the storage contract consumed by the transaction manager,
// the cache engine, and the KV engine (spec.md §6). Apart from key-name
// and expiration validation (and, for BoltAdapter, disk I/O and
// record-decoding errors), the only failures are GetRange's unsatisfiable
// range and the batch variants' too-many-keys.
type Operator interface {
	Has(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) (types.StoredValue, bool, error)
	GetRange(ctx context.Context, key string, r types.Range) (types.RangeStoredValue, bool, error)
	Put(ctx context.Context, key string, value types.StoredValue) error
	Delete(ctx context.Context, key string) (bool, error)

	HasMany(ctx context.Context, keys []string) (map[string]bool, error)
	GetMany(ctx context.Context, keys []string) (map[string]types.StoredValue, error)
	PutMany(ctx context.Context, entries map[string]types.StoredValue) error
	DeleteMany(ctx context.Context, keys []string) (int, error)

	List(ctx context.Context, opts types.ListOptions) (types.ListResult, error)

	// Now returns the operator's clock reading in whole seconds since
	// epoch (see types.Now).
	Now() int64
}

// Sweeper is implemented by Operators that can proactively evict expired
// entries outside of a Get/List call touching them. Both MemoryStore and
// BoltAdapter implement it; package sweep type-asserts for it rather
// than adding it to Operator itself, since an Operator that can only
// expire opportunistically (on read) is still a fully conforming
// storage backend.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ValidateKeyName reports an invalid key name (spec.md §3 "Key invariants":
// case-sensitive, "." and ".." forbidden, empty forbidden, 1-512 bytes).
func ValidateKeyName(name string) error {
	switch {
	case name == "":
		return errEmptyKey
	case name == "." || name == "..":
		return errDotKey
	case len(name) > 512:
		return errKeyTooLong
	}
	return nil
}
