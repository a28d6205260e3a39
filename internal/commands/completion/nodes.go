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
	"context"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/hook"
	"github.com/tombee/nodehook/internal/secrets"
)

const (
	nodeCacheTTL  = 2 * time.Second
	daemonTimeout = 500 * time.Millisecond
)

type nodeCacheEntry struct {
	addr      string
	nodes     []hook.Status
	expiresAt time.Time
}

var (
	nodeCache   *nodeCacheEntry
	nodeCacheMu sync.Mutex
)

// NodeLister fetches the tracked nodes from a daemon.
type NodeLister func(ctx context.Context, addr string) ([]hook.Status, error)

func listFromDaemon(ctx context.Context, addr string) ([]hook.Status, error) {
	token, err := shared.ResolveToken(ctx, secrets.NewDefaultRegistry())
	if err != nil {
		return nil, err
	}
	resp, err := shared.NewClient(addr).WithToken(token).Nodes(ctx)
	if err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// CompleteNodes completes the names of nodes the daemon tracks, with
// the hook state as description. Results are cached briefly since
// shells call this on every keystroke.
func CompleteNodes(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return completeNodes(listFromDaemon, args, toComplete)
}

func completeNodes(list NodeLister, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		nodes, err := cachedNodes(list, shared.ResolveAddr())
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		completions := make([]string, 0, len(nodes))
		for _, n := range nodes {
			if !strings.HasPrefix(n.Node, toComplete) {
				continue
			}
			completions = append(completions, n.Node+"\t"+describe(n))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

func describe(n hook.Status) string {
	switch {
	case n.Running:
		return "hook running"
	case n.Active:
		return "hook exited"
	default:
		return "idle"
	}
}

func cachedNodes(list NodeLister, addr string) ([]hook.Status, error) {
	nodeCacheMu.Lock()
	defer nodeCacheMu.Unlock()

	if nodeCache != nil && nodeCache.addr == addr && time.Now().Before(nodeCache.expiresAt) {
		return nodeCache.nodes, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), daemonTimeout)
	defer cancel()
	nodes, err := list(ctx, addr)
	if err != nil {
		return nil, err
	}
	nodeCache = &nodeCacheEntry{addr: addr, nodes: nodes, expiresAt: time.Now().Add(nodeCacheTTL)}
	return nodes, nil
}

// SafeCompletionWrapper recovers from panics in completion functions
// and never hands the shell a nil slice.
func SafeCompletionWrapper(fn func() ([]string, cobra.ShellCompDirective)) (results []string, directive cobra.ShellCompDirective) {
	results = []string{}
	directive = cobra.ShellCompDirectiveNoFileComp

	defer func() {
		if r := recover(); r != nil {
			results = []string{}
			directive = cobra.ShellCompDirectiveNoFileComp
		}
	}()

	results, directive = fn()
	if results == nil {
		return []string{}, cobra.ShellCompDirectiveNoFileComp
	}
	return results, directive
}
