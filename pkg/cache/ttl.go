package cache

import (
	"net/http"
	"strconv"
	"strings"
)

// cacheable runs the cacheability filter of spec.md §4.4 "Cacheability
// filter (put)". A non-nil error is the typed reason to surface to the
// caller; ok=false with a nil error means "not an error, simply don't
// store" is never produced by this function — every rejection carries a
// reason.
func cacheable(req Request, resp Response) error {
	if resp.Status == 206 {
		return errNotCacheablePartial
	}
	if containsVaryStar(resp.Headers) {
		return errNotCacheableVaryStar
	}
	if resp.Status == 101 {
		return errNotCacheableWebSocket
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return errNotCacheableMethod
	}

	cc := parseCacheControl(resp.Headers.Get("Cache-Control"))
	hasSetCookie := resp.Headers.Get("Set-Cookie") != ""

	if cc.has("private") && !cc.allowsPrivateWithSetCookie() {
		return errNotCacheablePrivate
	}
	if cc.has("no-store") {
		return errNotCacheableNoStore
	}
	if cc.has("no-cache") {
		return errNotCacheableNoCache
	}
	if hasSetCookie && !cc.allowsPrivateWithSetCookie() {
		return errNotCacheableSetCookie
	}
	return nil
}

func containsVaryStar(h http.Header) bool {
	for _, v := range h.Values("Vary") {
		for _, tok := range strings.Split(v, ",") {
			if strings.TrimSpace(tok) == "*" {
				return true
			}
		}
	}
	return false
}

// deriveTTL implements the priority-ordered TTL derivation chain of
// spec.md §4.4 "TTL derivation". ok=false means "not cacheable" (chain
// fell through every rule, or a status-TTL of 0 was matched). now is the
// simulated put time (spec.md §4.6), never the real wall clock, so the
// Expires-header branch stays deterministic under clock.Simulated.
func deriveTTL(status int, headers http.Header, opts PutOptions, now int64) (ttl int, ok bool) {
	if opts.CacheTtlByStatus != nil {
		if t, matched := matchStatusTTL(status, opts.CacheTtlByStatus); matched {
			if t == 0 {
				return 0, false
			}
			return t, true
		}
	}
	if opts.CacheTtl != nil {
		return *opts.CacheTtl, true
	}
	cc := parseCacheControl(headers.Get("Cache-Control"))
	if t, present := cc.intValue("s-maxage"); present {
		return t, true
	}
	if t, present := cc.intValue("max-age"); present {
		return t, true
	}
	if exp := headers.Get("Expires"); exp != "" {
		if t, err := http.ParseTime(exp); err == nil {
			ttl := int(t.Unix() - now)
			if ttl < 0 {
				ttl = 0
			}
			return ttl, true
		}
	}
	return 0, false
}

// matchStatusTTL finds a cacheTtlByStatus entry matching status: an
// exact match wins over a range; when several ranges match, which one is
// used is not defined. Malformed keys are ignored per spec.md.
func matchStatusTTL(status int, table map[string]int) (ttl int, ok bool) {
	exactKey := strconv.Itoa(status)
	if t, present := table[exactKey]; present {
		return t, true
	}
	for key, t := range table {
		lo, hi, valid := parseStatusRange(key)
		if !valid {
			continue
		}
		if status >= lo && status <= hi {
			return t, true
		}
	}
	return 0, false
}

func parseStatusRange(key string) (lo, hi int, ok bool) {
	parts := strings.SplitN(key, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, errLo := strconv.Atoi(strings.TrimSpace(parts[0]))
	hi, errHi := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errLo != nil || errHi != nil || lo > hi {
		return 0, 0, false
	}
	return lo, hi, true
}
