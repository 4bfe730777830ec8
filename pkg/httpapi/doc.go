// Package httpapi is the simulator's local control surface: plain
// net/http handlers over the KV namespace engine, the cache engine, the
// Durable Object storage/gate/transaction stack, and service-binding
// dispatch. Grounded on the teacher's pkg/api — the same
// http.ServeMux-plus-typed-handlers shape as health.go's HealthServer —
// with the gRPC/mTLS transport dropped entirely: there is no cluster of
// remote nodes to authenticate here, just one process exposing its
// internals over HTTP the way Miniflare exposes bindings to a Worker
// script.
package httpapi
