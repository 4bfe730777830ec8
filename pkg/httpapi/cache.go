package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/edgesim/miniflare/pkg/cache"
)

func (s *Server) resolveCache(w http.ResponseWriter, name string) (*cache.Namespace, bool) {
	if name == "" || name == "default" {
		return s.cache.Default(), true
	}
	ns, err := s.cache.Open(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error()})
		return nil, false
	}
	return ns, true
}

type cachePutRequest struct {
	URL              string            `json:"url"`
	Status           int               `json:"status"`
	Headers          map[string]string `json:"headers,omitempty"`
	Body             string            `json:"body,omitempty"`
	CacheTtl         *int              `json:"cacheTtl,omitempty"`
	CacheTtlByStatus map[string]int    `json:"cacheTtlByStatus,omitempty"`
}

func toHTTPHeader(m map[string]string) http.Header {
	h := make(http.Header, len(m))
	for k, v := range m {
		h.Set(k, v)
	}
	return h
}

func (s *Server) handleCachePut(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.resolveCache(w, r.PathValue("ns"))
	if !ok {
		return
	}

	var req cachePutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid JSON body"})
		return
	}

	resp := cache.Response{Status: req.Status, Headers: toHTTPHeader(req.Headers), Body: []byte(req.Body)}
	opts := cache.PutOptions{CacheTtl: req.CacheTtl, CacheTtlByStatus: req.CacheTtlByStatus}

	err := s.withRequestContext(r, func(ctx context.Context) error {
		return ns.Put(ctx, cache.Request{Method: http.MethodGet, URL: req.URL}, resp, opts, nowUnix())
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleCacheMatch(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.resolveCache(w, r.PathValue("ns"))
	if !ok {
		return
	}

	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "url query parameter is required"})
		return
	}

	matchReq := cache.Request{Method: http.MethodGet, URL: url, Headers: r.Header}
	var resp cache.Response
	var found bool
	err := s.withRequestContext(r, func(ctx context.Context) error {
		var err error
		resp, found, err = ns.Match(ctx, matchReq, cache.MatchOptions{})
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errBody{Error: "not cached"})
		return
	}

	for k, v := range resp.Headers {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

func (s *Server) handleCacheDelete(w http.ResponseWriter, r *http.Request) {
	ns, ok := s.resolveCache(w, r.PathValue("ns"))
	if !ok {
		return
	}

	url := r.URL.Query().Get("url")
	if url == "" {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "url query parameter is required"})
		return
	}

	var deleted bool
	err := s.withRequestContext(r, func(ctx context.Context) error {
		var err error
		deleted, err = ns.Delete(ctx, cache.Request{Method: http.MethodGet, URL: url})
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
