// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api provides the HTTP API for the daemon.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/nodehook/internal/daemon/auth"
	"github.com/tombee/nodehook/internal/daemon/httputil"
	"github.com/tombee/nodehook/internal/log"
	"github.com/tombee/nodehook/internal/tracing"
)

// RouterConfig holds configuration for the API router.
type RouterConfig struct {
	Version   string
	Commit    string
	BuildDate string

	// Logger receives one line per request. Default: discard
	Logger *slog.Logger

	// Auth, if set, requires bearer tokens on the node routes.
	Auth *auth.Authenticator
}

// NodeCounter reports how many nodes are tracked, for health checks.
type NodeCounter interface {
	Count() int
}

// Router wraps an http.ServeMux with the daemon middleware chain.
type Router struct {
	mux     *http.ServeMux
	config  RouterConfig
	started time.Time
	nodes   NodeCounter
	logger  *slog.Logger
	handler http.Handler
}

// NewRouter creates a new HTTP router with the health and version endpoints.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Logger == nil {
		cfg.Logger = log.Discard()
	}
	r := &Router{
		mux:     http.NewServeMux(),
		config:  cfg,
		started: time.Now(),
		logger:  log.WithComponent(cfg.Logger, "api"),
	}

	r.mux.HandleFunc("GET /v1/health", r.handleHealth)
	r.mux.HandleFunc("GET /v1/version", r.handleVersion)

	var inner http.Handler = r.mux
	if cfg.Auth != nil {
		inner = cfg.Auth.Middleware(inner)
	}
	// Outermost first: request log, then server span, then auth.
	r.handler = log.HTTPMiddleware(r.logger, tracing.HTTPMiddleware(inner))
	return r
}

// SetMetricsHandler registers the Prometheus metrics handler.
func (r *Router) SetMetricsHandler(handler http.Handler) {
	if handler != nil {
		r.mux.Handle("GET /metrics", handler)
	}
}

// SetNodesHandler registers the node lifecycle routes.
func (r *Router) SetNodesHandler(h *NodesHandler) {
	if h == nil {
		return
	}
	h.RegisterRoutes(r.mux)
	r.nodes = h
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Mux returns the underlying ServeMux for registering additional routes.
func (r *Router) Mux() *http.ServeMux {
	return r.mux
}

func (r *Router) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:  "ok",
		Version: r.config.Version,
		Uptime:  time.Since(r.started),
	}
	if r.nodes != nil {
		resp.Nodes = r.nodes.Count()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (r *Router) handleVersion(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, VersionResponse{
		Version:   r.config.Version,
		Commit:    r.config.Commit,
		BuildDate: r.config.BuildDate,
	})
}
