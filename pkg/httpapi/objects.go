package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/edgesim/miniflare/pkg/txn"
	"github.com/edgesim/miniflare/pkg/types"
)

func (s *Server) handleObjectStorageGet(w http.ResponseWriter, r *http.Request) {
	inst := s.objects.Get(r.PathValue("id"))
	v, found, err := inst.Get(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, errBody{Error: "key not found"})
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(v.Value)
}

func (s *Server) handleObjectStoragePut(w http.ResponseWriter, r *http.Request) {
	inst := s.objects.Get(r.PathValue("id"))

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "cannot read body"})
		return
	}

	value := types.StoredValue{Value: body}
	if ttl := r.URL.Query().Get("expirationTtl"); ttl != "" {
		n, err := strconv.ParseInt(ttl, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errBody{Error: "expirationTtl must be an integer"})
			return
		}
		exp := time.Now().Unix() + n
		value.Expiration = &exp
	}

	if err := inst.Put(r.Context(), r.PathValue("key"), value); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) handleObjectStorageDelete(w http.ResponseWriter, r *http.Request) {
	inst := s.objects.Get(r.PathValue("id"))
	deleted, err := inst.Delete(r.Context(), r.PathValue("key"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleObjectStorageList(w http.ResponseWriter, r *http.Request) {
	inst := s.objects.Get(r.PathValue("id"))

	opts := types.ListOptions{
		Prefix: r.URL.Query().Get("prefix"),
		Start:  r.URL.Query().Get("start"),
		End:    r.URL.Query().Get("end"),
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

	result, err := inst.List(r.Context(), opts)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// transactionRequest is a single atomic batch of puts/deletes, run inside
// one RunTransaction closure — the HTTP-reachable exercise of the OCC
// transaction manager's retry-on-conflict behavior.
type transactionRequest struct {
	Puts    map[string]string `json:"puts,omitempty"`
	Deletes []string          `json:"deletes,omitempty"`
}

func (s *Server) handleObjectTransaction(w http.ResponseWriter, r *http.Request) {
	inst := s.objects.Get(r.PathValue("id"))

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid JSON body"})
		return
	}

	err := inst.RunTransaction(r.Context(), func(ctx context.Context, tx *txn.ShadowTx) error {
		for key, value := range req.Puts {
			if err := tx.Put(key, types.StoredValue{Value: []byte(value)}); err != nil {
				return err
			}
		}
		for _, key := range req.Deletes {
			if _, err := tx.Delete(ctx, key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

// handleObjectBlockConcurrency holds the object's input gate closed for
// the requested delay, demonstrating that concurrent requests against
// the same object ID serialize behind it (spec.md §4.3 "Input gates").
func (s *Server) handleObjectBlockConcurrency(w http.ResponseWriter, r *http.Request) {
	inst := s.objects.Get(r.PathValue("id"))

	delay := 0
	if v := r.URL.Query().Get("delayMs"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errBody{Error: "delayMs must be an integer"})
			return
		}
		delay = n
	}

	err := inst.BlockConcurrencyWhile(r.Context(), func(ctx context.Context) error {
		select {
		case <-time.After(time.Duration(delay) * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
