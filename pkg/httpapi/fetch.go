package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/edgesim/miniflare/pkg/reqctx"
	"github.com/edgesim/miniflare/pkg/servicebinding"
)

// handleFetch is the simulator's HTTP front door: every request enters
// through here as the outermost dispatchFetch call, establishing the
// RequestContext that requestDepth, pipelineDepth, and subrequest
// accounting all hang off of (spec.md §4.6).
func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "cannot read body"})
		return
	}

	ctx, _, cancel := reqctx.New(r.Context(), s.limits, reqctx.UsageBundled, time.Now())
	defer cancel()

	resp, err := s.dispatcher.DispatchFetch(ctx, name, servicebinding.Request{
		Method: r.Method,
		URL:    r.URL.String(),
		Body:   body,
	})
	if err != nil {
		writeErr(w, err)
		return
	}

	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
