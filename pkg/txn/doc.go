// Package txn implements the optimistic transaction manager of
// spec.md §4.2: Kung-Robinson OCC over a storage.Operator base, with a
// shadow map buffering each attempt's tentative writes until commit.
//
// # Phases
//
// Each attempt runs two phases:
//
//  1. Read: snapshot startVersion, run the closure against a ShadowTx.
//     Every read records its key in the read-set (delegating to the base
//     operator on a shadow miss); every write buffers into the shadow map.
//  2. Validate & Write: under the manager's exclusive lock, check every
//     write-set recorded since startVersion against this attempt's
//     read-set. Any intersection — or a startVersion that has fallen
//     outside the retained history window — restarts the whole attempt.
//     Otherwise the shadow map is applied to the base operator
//     atomically and the version counter advances.
//
// A closure that returns an error never has its writes applied; the
// transaction is considered rolled back and the error propagates as-is.
// Conflicts are never surfaced to the closure or its caller — they are
// purely an internal retry signal (spec.md §7 "transient conflict").
//
// Nesting a transaction inside another transaction's closure, and
// calling deleteAll from inside a transaction, are both rejected with
// ErrInvalidTransactionState.
package txn
