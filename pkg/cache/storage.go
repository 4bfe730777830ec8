package cache

import (
	"sync"

	"github.com/edgesim/miniflare/pkg/storage"
)

const defaultNamespaceName = "default"

// CacheStorage is the caches binding: a registry of named Namespaces
// sharing one storage.Operator substrate (spec.md §4.4 "Namespace
// semantics").
type CacheStorage struct {
	store storage.Operator

	mu         sync.Mutex
	namespaces map[string]*Namespace
	defaultNS  *Namespace
}

// New creates a CacheStorage over store.
func New(store storage.Operator) *CacheStorage {
	return &CacheStorage{
		store:      store,
		namespaces: make(map[string]*Namespace),
	}
}

// Open returns the named cache, creating it on first use. The literal
// name "default" is reserved; use Default instead.
func (cs *CacheStorage) Open(name string) (*Namespace, error) {
	if name == defaultNamespaceName {
		return nil, errReservedNamespace
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if ns, ok := cs.namespaces[name]; ok {
		return ns, nil
	}
	ns := newNamespace(name, cs.store)
	cs.namespaces[name] = ns
	return ns, nil
}

// Default returns the implicit default cache, the one named cache not
// reachable through Open.
func (cs *CacheStorage) Default() *Namespace {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.defaultNS == nil {
		cs.defaultNS = newNamespace(defaultNamespaceName, cs.store)
	}
	return cs.defaultNS
}
