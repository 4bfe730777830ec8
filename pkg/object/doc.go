// Package object wires one Durable Object instance together: a
// storage.Operator, the transaction manager over it, and the instance's
// input/output gate pair (spec.md §4.1, §4.2, §4.3). Instance lookup and
// creation is single-flighted through a Registry, grounded on the
// teacher's worker.Worker containers map (a name-keyed map guarded by a
// single RWMutex, see pkg/worker/worker.go) and the manager's
// create/get/list accessor style (pkg/manager/manager.go).
package object
