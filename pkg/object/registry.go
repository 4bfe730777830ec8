package object

import (
	"sync"

	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/events"
	"github.com/edgesim/miniflare/pkg/storage"
	"github.com/edgesim/miniflare/pkg/txn"
)

// Registry is the process-wide set of live Durable Object instances,
// keyed by object ID. Lookup and lazy creation are guarded by a single
// RWMutex, the same shape as the teacher's worker.Worker containers map
// (pkg/worker/worker.go).
type Registry struct {
	limits config.Limits
	newOp  func(id string) storage.Operator
	broker *events.Broker

	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewRegistry builds a Registry that lazily creates a storage.Operator
// per object ID via newOp (e.g. a MemoryStore, or a BoltAdapter rooted
// at a per-ID subdirectory).
func NewRegistry(limits config.Limits, broker *events.Broker, newOp func(id string) storage.Operator) *Registry {
	return &Registry{
		limits:    limits,
		newOp:     newOp,
		broker:    broker,
		instances: make(map[string]*Instance),
	}
}

// Get returns the instance for id, creating it (and its storage and
// transaction manager) on first use.
func (r *Registry) Get(id string) *Instance {
	r.mu.RLock()
	inst, ok := r.instances[id]
	r.mu.RUnlock()
	if ok {
		return inst
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if inst, ok := r.instances[id]; ok {
		return inst
	}

	store := r.newOp(id)
	inst = newInstance(id, store, txn.New(store, r.limits), r.broker)
	r.instances[id] = inst
	return inst
}

// Evict drops id from the registry. The caller is responsible for
// ensuring no in-flight request still holds a reference; a fresh Get
// after Evict creates an entirely new Instance (and storage.Operator,
// for backends where newOp allocates persistent state keyed by id).
func (r *Registry) Evict(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// Count reports the number of live instances.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.instances)
}

// Operators returns the storage.Operator backing every currently live
// instance, for a background sweeper to walk.
func (r *Registry) Operators() []storage.Operator {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]storage.Operator, 0, len(r.instances))
	for _, inst := range r.instances {
		ops = append(ops, inst.Storage)
	}
	return ops
}
