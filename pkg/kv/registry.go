package kv

import (
	"sync"

	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/storage"
)

// Registry holds one Namespace per KV binding name, each backed by its
// own storage.Operator. Mirrors pkg/cache.CacheStorage's per-name
// namespace registry.
type Registry struct {
	limits config.Limits
	newOp  func(name string) storage.Operator

	mu         sync.Mutex
	namespaces map[string]*Namespace
}

// NewRegistry builds a Registry that lazily creates a storage.Operator
// per namespace name via newOp (e.g. a fresh MemoryStore, or a BoltAdapter
// bucket keyed by name).
func NewRegistry(limits config.Limits, newOp func(name string) storage.Operator) *Registry {
	return &Registry{limits: limits, newOp: newOp, namespaces: make(map[string]*Namespace)}
}

// Open returns the Namespace bound to name, creating it on first use.
func (r *Registry) Open(name string) *Namespace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ns, ok := r.namespaces[name]; ok {
		return ns
	}
	ns := New(name, r.newOp(name), r.limits)
	r.namespaces[name] = ns
	return ns
}

// Operators returns the storage.Operator backing every currently open
// namespace, for a background sweeper to walk.
func (r *Registry) Operators() []storage.Operator {
	r.mu.Lock()
	defer r.mu.Unlock()
	ops := make([]storage.Operator, 0, len(r.namespaces))
	for _, ns := range r.namespaces {
		ops = append(ops, ns.store)
	}
	return ops
}
