// Package kv implements the KV namespace engine of spec.md §4.5: key and
// value validation, put/get/getWithMetadata/delete, value-type
// coercion, TTL/expiration validation, and cursor pagination built on
// the same storage.Paginate algorithm the storage substrate uses for
// list.
package kv
