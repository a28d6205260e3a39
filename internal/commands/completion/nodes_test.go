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

package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/daemon/api"
	"github.com/tombee/nodehook/internal/hook"
)

func resetCache(t *testing.T) {
	t.Helper()
	nodeCacheMu.Lock()
	nodeCache = nil
	nodeCacheMu.Unlock()
}

func setAddr(t *testing.T, addr string) {
	t.Helper()
	shared.SetAddrForTest(addr)
	t.Cleanup(func() { shared.SetAddrForTest("") })
}

func TestCompleteNodes(t *testing.T) {
	resetCache(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/nodes" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(api.NodesResponse{Nodes: []hook.Status{
			{Node: "agent-1", Active: true, Running: true, PID: 10},
			{Node: "agent-2", Active: true},
			{Node: "builder-1"},
		}})
	}))
	defer server.Close()
	setAddr(t, server.URL)

	completions, directive := CompleteNodes(nil, nil, "agent")

	assert.Equal(t, []string{"agent-1\thook running", "agent-2\thook exited"}, completions)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)
}

func TestCompleteNodesCaches(t *testing.T) {
	resetCache(t)
	setAddr(t, "http://127.0.0.1:1")

	calls := 0
	list := func(context.Context, string) ([]hook.Status, error) {
		calls++
		return []hook.Status{{Node: "agent-1"}}, nil
	}

	completeNodes(list, nil, "")
	completions, _ := completeNodes(list, nil, "")

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"agent-1\tidle"}, completions)
}

func TestCompleteNodesFailsSilently(t *testing.T) {
	resetCache(t)
	setAddr(t, "http://127.0.0.1:1")

	completions, directive := completeNodes(func(context.Context, string) ([]hook.Status, error) {
		return nil, errors.New("connection refused")
	}, nil, "")
	assert.Empty(t, completions)
	assert.NotNil(t, completions)
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	completions, _ = completeNodes(func(context.Context, string) ([]hook.Status, error) {
		panic("boom")
	}, nil, "")
	assert.NotNil(t, completions)

	completions, _ = completeNodes(nil, []string{"agent-1"}, "")
	assert.Empty(t, completions)
}

func TestCompletionCommand(t *testing.T) {
	root := &cobra.Command{Use: "nodehook"}
	root.AddCommand(NewCommand())

	for _, shell := range []string{"bash", "zsh", "fish", "powershell"} {
		var buf bytes.Buffer
		root.SetOut(&buf)
		root.SetArgs([]string{"completion", shell})
		require.NoError(t, root.Execute(), shell)
		assert.True(t, strings.Contains(buf.String(), "nodehook"), shell)
	}

	root.SetArgs([]string{"completion", "tcsh"})
	assert.Error(t, root.Execute())
}
