// Package storage implements the storage substrate: a uniform key/value
// operator with metadata, expiration, byte-range reads, and atomic
// multi-key batch operations (spec.md §4.1).
//
// # Operator
//
// Operator is the contract every storage backend implements (spec.md
// §6). Two concrete implementations are provided:
//
//   - MemoryStore: an in-memory operator backed by a github.com/google/btree
//     ordered index, so List walks the keys in order instead of sorting
//     on every call (the walk covers the whole tree; filtering happens
//     afterwards).
//   - BoltAdapter: an on-disk operator backed by go.etcd.io/bbolt,
//     fulfilling the "filesystem persistence adapter" spec.md §1 names.
//
// Both satisfy Operator with no shared base type — dynamic dispatch on
// the interface, not on a class hierarchy (spec.md §9 design note).
//
// # Expiration
//
// Expiration is opportunistic: a read observing expiration <= now
// returns "not found" and deletes the entry, ignoring deletion failure
// (spec.md §3 "Key invariants"). Both implementations perform that
// deletion synchronously, so the read returns only after it is done.
//
// # Listing
//
// List implements the six-step algorithm of spec.md §4.1: snapshot
// non-expired keys, filter by prefix/excludePrefix/half-open
// [start,end), sort by Unicode codepoint order (ordinary Go string
// comparison over valid UTF-8 already is codepoint order, since UTF-8
// byte sequences preserve codepoint ordering), resolve the cursor,
// synthesize delimited prefixes, and stop at limit.
package storage
