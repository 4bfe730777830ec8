package storage

import (
	"strings"

	"github.com/edgesim/miniflare/pkg/types"
)

// Paginate implements steps 2-6 of the list algorithm in spec.md §4.1:
// filter by prefix/excludePrefix/half-open [start,end), reverse, resolve
// the cursor, synthesize delimited prefixes, and stop at limit. names
// must already be a step-1 snapshot of non-expired key names in
// ascending lexicographic (codepoint) order; lookup resolves a name to
// its StoredKey metadata on demand, only for names actually emitted.
//
// Shared by MemoryStore, BoltAdapter, and the transaction shadow view so
// the pagination semantics — in particular cursor resolution and
// delimited-prefix synthesis — have exactly one implementation.
func Paginate(names []string, lookup func(name string) types.StoredKey, opts types.ListOptions) types.ListResult {
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if opts.Prefix != "" && !strings.HasPrefix(name, opts.Prefix) {
			continue
		}
		if opts.ExcludePrefix != "" && strings.HasPrefix(name, opts.ExcludePrefix) {
			continue
		}
		if opts.Start != "" && name < opts.Start {
			continue
		}
		if opts.End != "" && name >= opts.End {
			continue
		}
		filtered = append(filtered, name)
	}

	if opts.Reverse {
		for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
			filtered[i], filtered[j] = filtered[j], filtered[i]
		}
	}

	start := 0
	if opts.Cursor != "" {
		last, ok := types.DecodeCursor(opts.Cursor)
		if !ok {
			return types.ListResult{}
		}
		idx := indexOf(filtered, last)
		if idx < 0 {
			return types.ListResult{}
		}
		start = idx + 1
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = len(filtered) - start
		if limit < 0 {
			limit = 0
		}
	}

	var keys []types.StoredKey
	var lastEmitted string
	i := start
	for i < len(filtered) && len(keys) < limit {
		name := filtered[i]
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(name, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				delimited := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				keys = append(keys, types.StoredKey{Name: delimited, DelimitedPrefix: true})
				lastEmitted = delimited
				j := i + 1
				for j < len(filtered) && strings.HasPrefix(filtered[j], delimited) {
					j++
				}
				i = j
				continue
			}
		}

		keys = append(keys, lookup(name))
		lastEmitted = name
		i++
	}

	cursor := ""
	if i < len(filtered) {
		cursor = types.EncodeCursor(lastEmitted)
	}
	return types.ListResult{Keys: keys, Cursor: cursor}
}

func indexOf(sorted []string, name string) int {
	for i, s := range sorted {
		if s == name {
			return i
		}
	}
	return -1
}
