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

package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/tombee/nodehook/internal/bridge"
	"github.com/tombee/nodehook/internal/daemon/httputil"
	"github.com/tombee/nodehook/internal/hook"
	"github.com/tombee/nodehook/internal/log"
)

// NodeBridge is the part of *bridge.Bridge the handlers use.
type NodeBridge interface {
	OnPreOnline(ctx context.Context, node string, facts bridge.FactsSource, sink io.Writer) (bool, error)
	OnOffline(ctx context.Context, node string) error
	Nodes() []hook.Status
}

// FactsBuilder turns an online request into hook facts. A nil result
// means no hook runs for the node.
type FactsBuilder interface {
	Build(ctx context.Context, node string, req OnlineRequest) (*hook.Facts, error)
}

// SinkOpener opens the output sink for a node's hook. A nil opener, or
// a nil writer, discards hook output.
type SinkOpener func(node string) (io.Writer, error)

// NodesHandler serves the node lifecycle endpoints.
type NodesHandler struct {
	bridge NodeBridge
	facts  FactsBuilder
	sinks  SinkOpener
	logger *slog.Logger
}

// NewNodesHandler creates a NodesHandler.
func NewNodesHandler(b NodeBridge, facts FactsBuilder, sinks SinkOpener, logger *slog.Logger) *NodesHandler {
	if logger == nil {
		logger = log.Discard()
	}
	return &NodesHandler{
		bridge: b,
		facts:  facts,
		sinks:  sinks,
		logger: log.WithComponent(logger, "nodes"),
	}
}

// RegisterRoutes adds the node routes to mux.
func (h *NodesHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/nodes/{name}/online", h.handleOnline)
	mux.HandleFunc("POST /v1/nodes/{name}/offline", h.handleOffline)
	mux.HandleFunc("GET /v1/nodes", h.handleList)
}

// Count implements NodeCounter.
func (h *NodesHandler) Count() int {
	return len(h.bridge.Nodes())
}

func (h *NodesHandler) handleOnline(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := ValidateNodeName(name); err != nil {
		httputil.WriteErr(w, err)
		return
	}

	var req OnlineRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	if err := req.Validate(); err != nil {
		httputil.WriteErr(w, err)
		return
	}

	sink := h.openSink(name)
	facts := bridge.FactsFunc(func(ctx context.Context, node string) (*hook.Facts, error) {
		if req.Unmanaged {
			return nil, nil
		}
		return h.facts.Build(ctx, node, req)
	})

	launched, err := h.bridge.OnPreOnline(r.Context(), name, facts, sink)
	if err != nil {
		httputil.WriteErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, OnlineResponse{Node: name, Activated: launched})
}

// openSink never fails the request: a hook whose log cannot be opened
// still runs, with its output discarded.
func (h *NodesHandler) openSink(node string) io.Writer {
	if h.sinks == nil {
		return nil
	}
	sink, err := h.sinks(node)
	if err != nil {
		log.WithNode(h.logger, node).Warn("failed to open hook log, output will be discarded", log.Error(err))
		return nil
	}
	return sink
}

func (h *NodesHandler) handleOffline(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := ValidateNodeName(name); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	if err := h.bridge.OnOffline(r.Context(), name); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, OfflineResponse{Node: name})
}

func (h *NodesHandler) handleList(w http.ResponseWriter, _ *http.Request) {
	nodes := h.bridge.Nodes()
	if nodes == nil {
		nodes = []hook.Status{}
	}
	httputil.WriteJSON(w, http.StatusOK, NodesResponse{Nodes: nodes})
}
