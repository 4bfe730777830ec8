package cache

import (
	"net/http"
	"strconv"
	"strings"
)

// matchesIfNoneMatch implements spec.md §4.4's If-None-Match handling:
// comma-separated entity tags, an optional weak "W/" prefix, "*"
// matching any entity.
func matchesIfNoneMatch(header, storedETag string) bool {
	if header == "" {
		return false
	}
	for _, tag := range strings.Split(header, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "*" {
			return true
		}
		if stripWeak(tag) == stripWeak(storedETag) && storedETag != "" {
			return true
		}
	}
	return false
}

func stripWeak(tag string) string {
	return strings.TrimPrefix(tag, "W/")
}

// matchesIfModifiedSince implements spec.md §4.4's If-Modified-Since
// handling at second resolution; an unparsable header is treated as
// absent.
func matchesIfModifiedSince(header, storedLastModified string) bool {
	if header == "" || storedLastModified == "" {
		return false
	}
	reqDate, err := http.ParseTime(header)
	if err != nil {
		return false
	}
	storedDate, err := http.ParseTime(storedLastModified)
	if err != nil {
		return false
	}
	return !reqDate.Before(storedDate.Truncate(0)) && reqDate.Unix() >= storedDate.Unix()
}

// byteRange is a single resolved [start, end] inclusive window.
type byteRange struct {
	start, end int64
}

// parseRange parses a Range header of the form "bytes=START-END". Only a
// single range is honored; a header naming more than one range, or an
// unparsable header, reports ok=false so the caller falls back to a full
// 200 response (spec.md §4.4 "multi-range requests return the full body
// with status 200").
func parseRange(header string, total int64) (r byteRange, ok bool) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, false
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, false
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, false
	}
	startStr, endStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	switch {
	case startStr == "" && endStr != "":
		// Suffix range: last N bytes.
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n < 0 {
			return byteRange{}, false
		}
		if n > total {
			n = total
		}
		return byteRange{start: total - n, end: total - 1}, true
	case startStr != "":
		start, err := strconv.ParseInt(startStr, 10, 64)
		if err != nil || start < 0 || start >= total {
			return byteRange{}, false
		}
		end := total - 1
		if endStr != "" {
			e, err := strconv.ParseInt(endStr, 10, 64)
			if err != nil || e < start {
				return byteRange{}, false
			}
			if e < end {
				end = e
			}
		}
		return byteRange{start: start, end: end}, true
	default:
		return byteRange{}, false
	}
}
