package kv

import "fmt"

// Error is a KV binding failure, shaped the way spec.md §4.5 describes
// Workers KV errors: an HTTP-like status plus a reason, distinct from
// the Durable Object ERR_* taxonomy in pkg/errs.
type Error struct {
	Op     string // "GET", "PUT", "DELETE", "LIST"
	Status int
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("KV %s failed: %d %s", e.Op, e.Status, e.Reason)
}

func newErr(op string, status int, reason string) *Error {
	return &Error{Op: op, Status: status, Reason: reason}
}
