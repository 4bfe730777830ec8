package kv

import "github.com/edgesim/miniflare/pkg/types"

// ValueType selects how Get decodes a stored value back for the caller
// (spec.md §4.5 "Get").
type ValueType string

const (
	TypeText        ValueType = "text"
	TypeJSON        ValueType = "json"
	TypeArrayBuffer ValueType = "arrayBuffer"
	TypeStream      ValueType = "stream"
)

// PutOptions carries the optional fields of a KV put. ExpirationTTL and
// Expiration accept int, int64, or a string of digits — spec.md §4.5's
// "strings of digits coerce" numeric coercion rule — via the generic
// coerceInt helper.
type PutOptions struct {
	ExpirationTTL any
	Expiration    any
	Metadata      types.Metadata
}

// GetOptions carries the optional fields of a KV get.
type GetOptions struct {
	Type ValueType
	// CacheTTL is validated (integer >= 60) but otherwise ignored: this
	// simulator has no local KV caching layer (spec.md §4.5 "Get").
	CacheTTL any
}

// GetResult is the type-coerced result of a Get, with exactly one field
// populated according to the requested ValueType.
type GetResult struct {
	Text        string
	JSON        any
	ArrayBuffer []byte
}

// ListOptions configures List (spec.md §4.5 "List").
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
}

// ListResult is the outcome of a List call.
type ListResult struct {
	Keys         []types.StoredKey
	ListComplete bool
	Cursor       string
}
