package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/edgesim/miniflare/pkg/kv"
)

// kvPutRequest is the JSON envelope PUT /kv/{ns}/{key} accepts, mirroring
// the options a Worker's KV binding put() call takes.
type kvPutRequest struct {
	Value         string `json:"value"`
	ExpirationTTL any    `json:"expirationTtl,omitempty"`
	Expiration    any    `json:"expiration,omitempty"`
	Metadata      any    `json:"metadata,omitempty"`
}

func (s *Server) handleKVPut(w http.ResponseWriter, r *http.Request) {
	ns := s.kv.Open(r.PathValue("ns"))
	key := r.PathValue("key")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "cannot read body"})
		return
	}

	var req kvPutRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid JSON body"})
			return
		}
	}

	opts := kv.PutOptions{
		ExpirationTTL: req.ExpirationTTL,
		Expiration:    req.Expiration,
		Metadata:      req.Metadata,
	}
	err = s.withRequestContext(r, func(ctx context.Context) error {
		return ns.Put(ctx, key, req.Value, opts, time.Now().Unix())
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleKVGet(w http.ResponseWriter, r *http.Request) {
	ns := s.kv.Open(r.PathValue("ns"))
	key := r.PathValue("key")

	typ := kv.ValueType(r.URL.Query().Get("type"))
	if typ == "" {
		typ = kv.TypeText
	}

	var result kv.GetResult
	var found bool
	err := s.withRequestContext(r, func(ctx context.Context) error {
		var err error
		result, found, err = ns.Get(ctx, key, kv.GetOptions{Type: typ}, time.Now().Unix())
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errBody{Error: "key not found"})
		return
	}

	switch typ {
	case kv.TypeJSON:
		writeJSON(w, http.StatusOK, result.JSON)
	case kv.TypeArrayBuffer, kv.TypeStream:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.ArrayBuffer)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, result.Text)
	}
}

func (s *Server) handleKVDelete(w http.ResponseWriter, r *http.Request) {
	ns := s.kv.Open(r.PathValue("ns"))
	key := r.PathValue("key")
	err := s.withRequestContext(r, func(ctx context.Context) error {
		return ns.Delete(ctx, key)
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleKVList(w http.ResponseWriter, r *http.Request) {
	ns := s.kv.Open(r.PathValue("ns"))

	opts := kv.ListOptions{
		Prefix: r.URL.Query().Get("prefix"),
		Cursor: r.URL.Query().Get("cursor"),
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errBody{Error: "limit must be an integer"})
			return
		}
		opts.Limit = n
	}

	var result kv.ListResult
	err := s.withRequestContext(r, func(ctx context.Context) error {
		var err error
		result, err = ns.List(ctx, opts)
		return err
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
