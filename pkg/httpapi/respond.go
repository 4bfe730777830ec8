package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/edgesim/miniflare/pkg/errs"
	"github.com/edgesim/miniflare/pkg/kv"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type errBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// writeErr maps a binding error onto an HTTP status the way a Workers
// runtime would report it back across the wire: validation/capacity
// errors are client mistakes, state errors are conflicts,
// deserialization errors are unprocessable entities, everything else is
// an internal failure.
func writeErr(w http.ResponseWriter, err error) {
	var kvErr *kv.Error
	if errors.As(err, &kvErr) {
		writeJSON(w, kvErr.Status, errBody{Error: kvErr.Reason})
		return
	}

	var e *errs.Error
	if errors.As(err, &e) {
		writeJSON(w, statusForKind(e.Kind), errBody{Error: e.Message, Code: string(e.Code)})
		return
	}

	writeJSON(w, http.StatusInternalServerError, errBody{Error: err.Error()})
}

func statusForKind(k errs.Kind) int {
	switch k {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindCapacity:
		return http.StatusRequestEntityTooLarge
	case errs.KindState:
		return http.StatusConflict
	case errs.KindDeserialization:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
