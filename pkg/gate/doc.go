// Package gate implements the input/output gate pair guarding each
// Durable Object instance (spec.md §4.3). An instance's operations are
// never truly concurrent: they are interleaved cooperatively, and the
// gates are what keep that interleaving from corrupting state visible
// to storage reads or to the outside world.
//
// The input gate closes around any operation that must run to
// completion before another event for the same instance is allowed to
// start — most often a storage transaction. Events that arrive while
// the input gate is closed queue in FIFO order and are admitted one at
// a time as the gate reopens.
//
// The output gate closes around any operation whose write must be
// durable before a response leaves the instance. Multiple writes queued
// behind a single closed period are coalesced into one flush rather
// than serialized into N round trips, the way a real Durable Object
// batches writes made from the same synchronous span of execution.
//
// blockConcurrencyWhile closes both gates for the duration of a single
// closure, the strongest isolation primitive an instance can ask for.
package gate
