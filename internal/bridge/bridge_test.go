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

package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodehook/internal/hook"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

type closableSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (s *closableSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *closableSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *closableSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func skipWithoutSpawn(t *testing.T) {
	t.Helper()
	if os.Getenv("SKIP_SPAWN_TESTS") != "" {
		t.Skip("Skipping spawn tests (SKIP_SPAWN_TESTS is set)")
	}
}

func staticFacts(node string) FactsSource {
	return FactsFunc(func(_ context.Context, name string) (*hook.Facts, error) {
		return &hook.Facts{
			Name:       name,
			SSHPort:    22,
			SSHUser:    "ubuntu",
			PublicIP:   "10.0.0.9",
			PrivateKey: "key",
			BaseEnv:    []string{"PATH=" + os.Getenv("PATH")},
		}, nil
	})
}

func newTestBridge(t *testing.T, script string) (*Bridge, string) {
	t.Helper()
	dir := t.TempDir()
	b := New(Options{
		Script: StaticScript(script),
		Hook:   hook.Options{Shell: "sh", TempDir: dir},
	})
	t.Cleanup(func() { _ = b.Shutdown(context.Background()) })
	return b, dir
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestOnlineOffline(t *testing.T) {
	skipWithoutSpawn(t)
	b, dir := newTestBridge(t, "exec sleep 30")
	sink := &closableSink{}

	launched, err := b.OnPreOnline(context.Background(), "agent-1", staticFacts("agent-1"), sink)
	require.NoError(t, err)
	assert.True(t, launched)

	nodes := b.Nodes()
	require.Len(t, nodes, 1)
	assert.Equal(t, "agent-1", nodes[0].Node)
	assert.True(t, nodes[0].Active)
	assert.Equal(t, 2, nodes[0].Artifacts)
	assert.Equal(t, 2, dirEntries(t, dir))

	require.NoError(t, b.OnOffline(context.Background(), "agent-1"))
	assert.Empty(t, b.Nodes())
	assert.Zero(t, dirEntries(t, dir))
	assert.True(t, sink.isClosed())
}

func TestOnline_RepeatedIsNoop(t *testing.T) {
	skipWithoutSpawn(t)
	b, dir := newTestBridge(t, "exec sleep 30")

	first := &closableSink{}
	launched, err := b.OnPreOnline(context.Background(), "agent-1", staticFacts("agent-1"), first)
	require.NoError(t, err)
	require.True(t, launched)
	id := b.Nodes()[0].ActivationID

	second := &closableSink{}
	launched, err = b.OnPreOnline(context.Background(), "agent-1", staticFacts("agent-1"), second)
	require.NoError(t, err)
	assert.False(t, launched)

	assert.True(t, second.isClosed(), "unused sink is released")
	assert.False(t, first.isClosed())
	require.Len(t, b.Nodes(), 1)
	assert.Equal(t, id, b.Nodes()[0].ActivationID)
	assert.Equal(t, 2, dirEntries(t, dir))
}

func TestOnline_UnmanagedNode(t *testing.T) {
	b, dir := newTestBridge(t, "echo hi")
	sink := &closableSink{}
	none := FactsFunc(func(context.Context, string) (*hook.Facts, error) { return nil, nil })

	launched, err := b.OnPreOnline(context.Background(), "static-agent", none, sink)
	require.NoError(t, err)
	assert.False(t, launched)
	assert.Empty(t, b.Nodes())
	assert.Zero(t, dirEntries(t, dir))
	assert.True(t, sink.isClosed())
}

func TestOnline_FactsError(t *testing.T) {
	b, _ := newTestBridge(t, "echo hi")
	boom := errors.New("metadata unavailable")
	failing := FactsFunc(func(context.Context, string) (*hook.Facts, error) { return nil, boom })

	_, err := b.OnPreOnline(context.Background(), "agent-1", failing, nil)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, b.Nodes())
}

func TestOnline_BlankScriptIsNotTracked(t *testing.T) {
	b, dir := newTestBridge(t, "   \n")

	launched, err := b.OnPreOnline(context.Background(), "agent-1", staticFacts("agent-1"), nil)
	require.NoError(t, err)
	assert.False(t, launched)
	assert.Empty(t, b.Nodes())
	assert.Zero(t, dirEntries(t, dir))
}

func TestOnline_ActivationFailureForgetsNode(t *testing.T) {
	dir := t.TempDir()
	b := New(Options{
		Script: StaticScript("echo hi"),
		Hook:   hook.Options{Shell: "/nonexistent/shell", TempDir: dir},
	})
	sink := &closableSink{}

	launched, err := b.OnPreOnline(context.Background(), "agent-1", staticFacts("agent-1"), sink)
	require.Error(t, err)
	assert.False(t, launched)
	assert.Contains(t, err.Error(), "agent-1")
	assert.Empty(t, b.Nodes())
	assert.Zero(t, dirEntries(t, dir))
	assert.True(t, sink.isClosed())

	// A later online starts from a fresh state rather than a closed one.
	_, err = b.OnPreOnline(context.Background(), "agent-1", staticFacts("agent-1"), nil)
	assert.NotErrorIs(t, err, hook.ErrClosed)
}

func TestOffline_UnknownNode(t *testing.T) {
	b, _ := newTestBridge(t, "echo hi")
	assert.NoError(t, b.OnOffline(context.Background(), "never-seen"))
}

func TestOffline_ReportsCleanupFailures(t *testing.T) {
	skipWithoutSpawn(t)
	b, dir := newTestBridge(t, "exec sleep 30")

	_, err := b.OnPreOnline(context.Background(), "agent-1", staticFacts("agent-1"), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".pem") {
			require.NoError(t, os.Remove(dir+"/"+e.Name()))
		}
	}

	err = b.OnOffline(context.Background(), "agent-1")
	var cleanup *nherrors.CleanupError
	require.ErrorAs(t, err, &cleanup)
	assert.Len(t, cleanup.Errors, 1)
	assert.Empty(t, b.Nodes(), "node is removed even when teardown fails")
	assert.Zero(t, dirEntries(t, dir))
}

func TestConcurrentNodes(t *testing.T) {
	skipWithoutSpawn(t)
	b, dir := newTestBridge(t, "exec sleep 30")

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			node := fmt.Sprintf("agent-%d", i)
			if _, err := b.OnPreOnline(context.Background(), node, staticFacts(node), nil); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Len(t, b.Nodes(), n)
	assert.Equal(t, 2*n, dirEntries(t, dir))

	require.NoError(t, b.Shutdown(context.Background()))
	assert.Empty(t, b.Nodes())
	assert.Zero(t, dirEntries(t, dir))
}
