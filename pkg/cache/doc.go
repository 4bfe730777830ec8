// Package cache implements the HTTP cache engine of spec.md §4.4: a
// cacheability filter on put, a priority-ordered TTL derivation chain,
// conditional-request handling (If-None-Match, If-Modified-Since) and
// Range support on match, and namespaced storage over the same
// storage.Operator substrate the KV engine uses.
//
// Concurrent identical-key matches are coalesced through a
// golang.org/x/sync/singleflight group per namespace, the way the
// retrieval pack's GitHub API cache proxy coalesces concurrent requests
// for the same upstream resource so only one of them actually touches
// the backing store.
package cache
