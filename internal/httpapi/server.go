/*
Copyright (C) 2026  hsearch Contributors

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package httpapi is the thin external HTTP binding spec §6 describes: a
// typed-JSON surface over namespace management, writes, and queries, with
// every herrors.Kind mapped to an HTTP status at this boundary and nowhere
// else. Grounded on the teacher's domain having no HTTP layer of its own:
// route registration follows ashita-ai-akashi's http.ServeMux + per-route
// middleware-function shape (akashi.go's RouteRegistrar), and request
// metrics follow cuemby-warren's client_golang usage.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/shardwave/hsearch/internal/manifest"
	"github.com/shardwave/hsearch/internal/model"
	"github.com/shardwave/hsearch/internal/namespace"
	"github.com/shardwave/hsearch/internal/routing"
)

// Opener resolves a namespace by name, creating/opening its engine on first
// access. cmd/hsearchd supplies this backed by its namespace registry; it
// is an interface here purely so tests can fake it without a real object
// store and WAL.
type Opener interface {
	Open(name string) (*namespace.Namespace, error)
}

// OpenerFunc adapts a plain function to Opener.
type OpenerFunc func(name string) (*namespace.Namespace, error)

func (f OpenerFunc) Open(name string) (*namespace.Namespace, error) { return f(name) }

// Lister enumerates the namespace engines currently registered on this node,
// backing the health endpoint's namespace count and per-namespace manifest
// version (SPEC_FULL.md §C "health endpoint internals").
type Lister interface {
	List() []*namespace.Namespace
}

// Server is the HTTP binding's dependency set.
type Server struct {
	Open    Opener
	List    Lister // optional: nil means health reports no namespace detail
	Routing *routing.Table // nil in single-node mode: every namespace is local
	Logger  zerolog.Logger

	registry *prometheus.Registry
	metrics  *metrics
	mux      *http.ServeMux
}

// NewServer builds a Server and registers every route.
func NewServer(open Opener, list Lister, table *routing.Table, logger zerolog.Logger) *Server {
	reg := prometheus.NewRegistry()
	s := &Server{
		Open:     open,
		List:     list,
		Routing:  table,
		Logger:   logger.With().Str("component", "httpapi").Logger(),
		registry: reg,
		metrics:  newMetrics(reg),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler so a Server can be passed straight to
// http.Server / httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.metrics.instrument("healthz", s.handleHealth))
	s.mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, r *http.Request) {
		metricsHandler(s.registry).ServeHTTP(w, r)
	})

	s.mux.HandleFunc("PUT /v1/namespaces/{namespace}", s.metrics.instrument("create_namespace", s.handleCreate))
	s.mux.HandleFunc("DELETE /v1/namespaces/{namespace}", s.metrics.instrument("drop_namespace", s.handleDrop))
	s.mux.HandleFunc("GET /v1/namespaces/{namespace}", s.metrics.instrument("metadata", s.handleMetadata))
	s.mux.HandleFunc("POST /v1/namespaces/{namespace}/upsert", s.metrics.instrument("upsert", s.handleUpsert))
	s.mux.HandleFunc("POST /v1/namespaces/{namespace}/delete", s.metrics.instrument("delete", s.handleDelete))
	s.mux.HandleFunc("POST /v1/namespaces/{namespace}/query", s.metrics.instrument("query", s.handleQuery))
	s.mux.HandleFunc("POST /v1/namespaces/{namespace}/export", s.metrics.instrument("export", s.handleExport))
}

// resolve opens the named namespace, first checking the routing table (when
// distributed mode is on) and returning a redirect error if this node
// doesn't own it (spec §4.11). Read-only handlers skip the ownership check:
// "reads may be served by any query node."
func (s *Server) resolve(name string, requireOwner bool) (*namespace.Namespace, error) {
	if requireOwner && s.Routing != nil {
		if err := s.Routing.CheckOwner(name); err != nil {
			return nil, err
		}
	}
	return s.Open.Open(name)
}

// handleHealth reports liveness plus, when a Lister is wired, the open
// namespace count and each namespace's current manifest version sourced
// straight from its own read cache (SPEC_FULL.md §C "health endpoint
// internals": "not re-derived ad hoc").
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok"}
	if s.List == nil {
		writeJSON(w, http.StatusOK, body)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()

	namespaces := s.List.List()
	versions := make(map[string]int, len(namespaces))
	for _, ns := range namespaces {
		m, err := ns.ReadCache.Resolve(ctx, ns.Name, manifest.Eventual)
		if err != nil {
			continue
		}
		versions[ns.Name] = m.Version
	}
	body["namespace_count"] = len(namespaces)
	body["namespaces"] = versions
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	var schema model.Schema
	if !decodeJSON(w, r, &schema) {
		return
	}
	strict := r.URL.Query().Get("strict") != "false"

	ns, err := s.resolve(name, true)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	if err := ns.Create(ctx, schema, strict); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"namespace": name, "created": true})
}

func (s *Server) handleDrop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	ns, err := s.resolve(name, true)
	if err != nil {
		writeError(w, err)
		return
	}
	go func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), time.Minute)
		defer dropCancel()
		if err := ns.Drop(dropCtx); err != nil {
			s.Logger.Warn().Err(err).Str("namespace", name).Msg("async namespace drop failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]any{"namespace": name, "deleting": true})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	ns, err := s.resolve(name, false)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	schema, stats, err := ns.Metadata(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"namespace": name,
		"schema":    schema,
		"stats":     stats,
	})
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	var body upsertRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	ns, err := s.resolve(name, true)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	n, err := ns.Upsert(ctx, body.Documents)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"upserted": n})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	var body deleteRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	ns, err := s.resolve(name, true)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	n, err := ns.Delete(ctx, body.IDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	var body queryRequestBody
	if !decodeJSON(w, r, &body) {
		return
	}
	ns, err := s.resolve(name, false)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	result, err := ns.Query(ctx, body.toRequest())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultBodyFrom(result))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("namespace")
	ns, err := s.resolve(name, false)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := requestContext(r)
	defer cancel()
	docs, err := ns.Export(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// requestContext bounds a handler to the request's own deadline plus a
// generous ceiling, so a client that never sets one can't hold a namespace
// write lock forever (spec §5 "each request carries a deadline").
func requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	if _, ok := r.Context().Deadline(); ok {
		return context.WithCancel(r.Context())
	}
	return context.WithTimeout(r.Context(), 30*time.Second)
}
