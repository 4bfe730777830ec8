package kv

import (
	"math"
	"strconv"
)

// coerceInt implements spec.md §4.5's numeric coercion rule: an integer
// passes through, a string of digits is parsed, anything else (absent,
// non-numeric, float, bool, ...) is rejected. present=false means the
// field was not supplied at all.
func coerceInt(v any) (n int64, present bool, err error) {
	switch t := v.(type) {
	case nil:
		return 0, false, nil
	case int:
		return int64(t), true, nil
	case int32:
		return int64(t), true, nil
	case int64:
		return t, true, nil
	case string:
		parsed, parseErr := strconv.ParseInt(t, 10, 64)
		if parseErr != nil {
			return 0, true, errInvalidNumeric
		}
		return parsed, true, nil
	default:
		return 0, true, errInvalidNumeric
	}
}

var errInvalidNumeric = newErr("", 400, "value is not a valid integer")

func withinInt32(n int64) bool {
	return n >= math.MinInt32 && n <= math.MaxInt32
}
