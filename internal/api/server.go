// Package api exposes the gate evaluation engine over HTTP JSON.
// Decisions and severities travel as plain strings; all internal logic
// works on the closed types in internal/model.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gatekit/gatekit/internal/engine"
	"github.com/gatekit/gatekit/internal/registry"
	"github.com/gatekit/gatekit/internal/store"
)

// Options carries the transport-level knobs the server needs.
type Options struct {
	InitialState string
	CORSOrigin   string
	MaxBodyBytes int64
}

// Server holds the HTTP handlers and dependencies.
type Server struct {
	store    store.Repository
	registry *registry.Registry
	orch     *engine.Orchestrator
	opts     Options
	mux      *http.ServeMux
}

// New creates a new API server.
func New(s store.Repository, reg *registry.Registry, orch *engine.Orchestrator, opts Options) *Server {
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	srv := &Server{store: s, registry: reg, orch: orch, opts: opts, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

// Handler returns the root http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.limitBody(jsonContent(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/projects", s.withOwner(s.handleCreateProject))
	s.mux.HandleFunc("GET /api/projects", s.withOwner(s.handleListProjects))
	s.mux.HandleFunc("GET /api/projects/{id}", s.withOwner(s.handleGetProject))
	s.mux.HandleFunc("POST /api/projects/{id}/evaluate", s.withOwner(s.handleEvaluate))
	s.mux.HandleFunc("GET /api/projects/{id}/submissions", s.withOwner(s.handleListSubmissions))
	s.mux.HandleFunc("GET /api/projects/{id}/ui-schema", s.withOwner(s.handleUISchema))
	s.mux.HandleFunc("GET /api/submissions/{id}", s.withOwner(s.handleGetSubmission))
}

// ---------------------------------------------------------------------------
// Middleware
// ---------------------------------------------------------------------------

type ownerKey struct{}

// withOwner enforces the X-Owner-Id auth stub and stashes the owner in the
// request context. A production deployment swaps this for token
// verification; the handlers only ever see the owner id.
func (s *Server) withOwner(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := r.Header.Get("X-Owner-Id")
		if owner == "" {
			writeError(w, http.StatusUnauthorized, "missing X-Owner-Id header")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ownerKey{}, owner)))
	}
}

func ownerFrom(r *http.Request) string {
	owner, _ := r.Context().Value(ownerKey{}).(string)
	return owner
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.opts.CORSOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Owner-Id")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func jsonContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
