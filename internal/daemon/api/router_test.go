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
	"encoding/json"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodehook/internal/hook"
)

func TestHealth(t *testing.T) {
	fb := &fakeBridge{nodes: []hook.Status{{Node: "a"}, {Node: "b"}}}
	r := newTestRouter(fb, &staticFacts{}, nil)

	w := do(t, r, http.MethodGet, "/v1/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, 2, resp.Nodes)
}

func TestVersion(t *testing.T) {
	r := NewRouter(RouterConfig{Version: "1.2.3", Commit: "abc", BuildDate: "2025-01-01"})

	w := do(t, r, http.MethodGet, "/v1/version", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"version":"1.2.3","commit":"abc","build_date":"2025-01-01"}`, w.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "nodehook_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	r := NewRouter(RouterConfig{})
	w := do(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	r.SetMetricsHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	w = do(t, r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "nodehook_test_total 1")
}

func TestMethodNotAllowed(t *testing.T) {
	r := newTestRouter(&fakeBridge{}, &staticFacts{}, nil)
	w := do(t, r, http.MethodGet, "/v1/nodes/agent-1/online", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
