package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/edgesim/miniflare/pkg/cache"
	"github.com/edgesim/miniflare/pkg/config"
	"github.com/edgesim/miniflare/pkg/kv"
	"github.com/edgesim/miniflare/pkg/metrics"
	"github.com/edgesim/miniflare/pkg/object"
	"github.com/edgesim/miniflare/pkg/reqctx"
	"github.com/edgesim/miniflare/pkg/servicebinding"
)

// Server exposes the simulator's engines over plain HTTP: the same
// single-mux, typed-handler shape as the teacher's HealthServer, with
// routes added per engine instead of per cluster resource.
type Server struct {
	limits     config.Limits
	kv         *kv.Registry
	cache      *cache.CacheStorage
	objects    *object.Registry
	dispatcher *servicebinding.Dispatcher

	mux        *http.ServeMux
	httpServer *http.Server
}

// NewServer builds a Server wiring every engine's routes onto one mux.
func NewServer(limits config.Limits, kvReg *kv.Registry, cacheStore *cache.CacheStorage, objects *object.Registry, dispatcher *servicebinding.Dispatcher) *Server {
	s := &Server{
		limits:     limits,
		kv:         kvReg,
		cache:      cacheStore,
		objects:    objects,
		dispatcher: dispatcher,
		mux:        http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", metrics.Handler())

	s.mux.HandleFunc("GET /kv/{ns}/{key}", s.handleKVGet)
	s.mux.HandleFunc("PUT /kv/{ns}/{key}", s.handleKVPut)
	s.mux.HandleFunc("DELETE /kv/{ns}/{key}", s.handleKVDelete)
	s.mux.HandleFunc("GET /kv/{ns}", s.handleKVList)

	s.mux.HandleFunc("GET /cache/{ns}/match", s.handleCacheMatch)
	s.mux.HandleFunc("PUT /cache/{ns}/put", s.handleCachePut)
	s.mux.HandleFunc("DELETE /cache/{ns}/delete", s.handleCacheDelete)

	s.mux.HandleFunc("GET /objects/{id}/storage/{key}", s.handleObjectStorageGet)
	s.mux.HandleFunc("PUT /objects/{id}/storage/{key}", s.handleObjectStoragePut)
	s.mux.HandleFunc("DELETE /objects/{id}/storage/{key}", s.handleObjectStorageDelete)
	s.mux.HandleFunc("GET /objects/{id}/storage", s.handleObjectStorageList)
	s.mux.HandleFunc("POST /objects/{id}/transaction", s.handleObjectTransaction)
	s.mux.HandleFunc("POST /objects/{id}/block-concurrency", s.handleObjectBlockConcurrency)

	s.mux.HandleFunc("POST /fetch/{name}", s.handleFetch)
}

// Start runs the HTTP server on addr until it errors or Stop is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully shuts the server down, waiting up to ctx's deadline for
// in-flight requests to finish.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Timestamp: time.Now()})
}

type readyResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Objects   int       `json:"objects"`
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, readyResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Objects:   s.objects.Count(),
	})
}

func nowUnix() int64 { return time.Now().Unix() }

// withRequestContext runs fn inside a fresh RequestContext established by
// reqctx.Middleware, the way the teacher wraps an RPC handler body with a
// unary interceptor (pkg/api/interceptor.go). Every Cache/KV binding call
// is one internal subrequest against the ambient limits (spec.md §4.6), so
// it counts before fn runs.
func (s *Server) withRequestContext(r *http.Request, fn func(ctx context.Context) error) error {
	handler := reqctx.Middleware(s.limits, reqctx.UsageBundled, nil, func(ctx context.Context) error {
		rc, err := reqctx.Require(ctx, s.limits)
		if err != nil {
			return err
		}
		if rc != nil {
			if err := rc.CountSubrequest(reqctx.KindInternal); err != nil {
				return err
			}
		}
		return fn(ctx)
	})
	return handler(r.Context())
}
