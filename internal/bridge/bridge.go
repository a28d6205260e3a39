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

// Package bridge maps node identities to their hook lifecycle state and
// dispatches online/offline notifications to it.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/nodehook/internal/hook"
	nhlog "github.com/tombee/nodehook/internal/log"
)

const instrumentationName = "github.com/tombee/nodehook/internal/bridge"

// FactsSource resolves the facts of a node that is about to come online.
// A nil result with a nil error means the node is not managed and no
// hook runs for it.
type FactsSource interface {
	Facts(ctx context.Context, node string) (*hook.Facts, error)
}

// FactsFunc adapts a function to FactsSource.
type FactsFunc func(ctx context.Context, node string) (*hook.Facts, error)

// Facts implements FactsSource.
func (f FactsFunc) Facts(ctx context.Context, node string) (*hook.Facts, error) {
	return f(ctx, node)
}

// ScriptSource returns the current hook script.
type ScriptSource interface {
	Snapshot() string
}

// StaticScript is a ScriptSource that never changes.
type StaticScript string

// Snapshot implements ScriptSource.
func (s StaticScript) Snapshot() string { return string(s) }

// Options configures a Bridge.
type Options struct {
	// Script supplies the hook body at each online transition.
	Script ScriptSource

	// Hook is applied to every State the bridge creates.
	Hook hook.Options

	// Logger receives bridge events. Default: discard
	Logger *slog.Logger
}

// NodeStatus describes one tracked node.
type NodeStatus = hook.Status

type entry struct {
	state *hook.State
	sink  io.Writer
}

// Bridge owns the node identity to state mapping. It is safe for
// concurrent use; the map lock is never held while a hook is activated
// or torn down.
type Bridge struct {
	script  ScriptSource
	hookOpt hook.Options
	logger  *slog.Logger
	tracer  trace.Tracer
	tracked metric.Int64UpDownCounter

	mu    sync.Mutex
	nodes map[string]*entry
}

// New creates a Bridge.
func New(opts Options) *Bridge {
	if opts.Script == nil {
		opts.Script = StaticScript("")
	}
	if opts.Logger == nil {
		opts.Logger = nhlog.Discard()
	}
	if opts.Hook.Logger == nil {
		opts.Hook.Logger = opts.Logger
	}

	tracked, err := otel.Meter(instrumentationName).Int64UpDownCounter(
		"nodehook.bridge.tracked_nodes",
		metric.WithDescription("Nodes with a running or finished hook awaiting offline"),
	)
	if err != nil {
		opts.Logger.Warn("failed to create tracked nodes instrument", nhlog.Error(err))
	}

	return &Bridge{
		script:  opts.Script,
		hookOpt: opts.Hook,
		logger:  nhlog.WithComponent(opts.Logger, "bridge"),
		tracer:  otel.Tracer(instrumentationName),
		tracked: tracked,
		nodes:   make(map[string]*entry),
	}
}

// OnPreOnline handles a node about to come online. It resolves the
// node's facts, snapshots the script and launches the hook. The sink
// receives the hook output; if it is an io.Closer the bridge closes it
// when the node goes offline, or right away when no hook is launched.
//
// It reports whether a hook was launched. A node that already has a
// running hook is left alone. On failure the node is forgotten so a
// later online transition starts fresh.
func (b *Bridge) OnPreOnline(ctx context.Context, node string, facts FactsSource, sink io.Writer) (launched bool, err error) {
	ctx, span := b.tracer.Start(ctx, "bridge.online", trace.WithAttributes(attribute.String("node.name", node)))
	defer func() {
		span.SetAttributes(attribute.Bool("hook.launched", launched))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	logger := nhlog.WithNode(b.logger, node)

	f, err := facts.Facts(ctx, node)
	if err != nil {
		closeSink(sink, logger)
		return false, fmt.Errorf("resolve facts for %s: %w", node, err)
	}
	if f == nil {
		logger.Debug("node not managed, skipping hook")
		closeSink(sink, logger)
		return false, nil
	}

	e, created := b.getOrCreate(node, sink)
	if !created {
		logger.Info("hook already active for node, ignoring repeated online")
		closeSink(sink, logger)
		return false, nil
	}

	script := b.script.Snapshot()
	err = e.state.Activate(ctx, hook.ActivateRequest{Facts: f, Script: script, Sink: sink})
	switch {
	case err != nil:
		b.forget(node, e)
		closeSink(sink, logger)
		return false, fmt.Errorf("activate hook for %s: %w", node, err)
	case !e.state.Status().Active:
		// Blank script: nothing to track.
		b.forget(node, e)
		closeSink(sink, logger)
		return false, nil
	}
	return true, nil
}

// OnOffline handles a node that went offline. The node's state is
// removed and torn down; the returned error carries every teardown
// failure. Unknown nodes are ignored.
func (b *Bridge) OnOffline(ctx context.Context, node string) (err error) {
	ctx, span := b.tracer.Start(ctx, "bridge.offline", trace.WithAttributes(attribute.String("node.name", node)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	b.mu.Lock()
	e, ok := b.nodes[node]
	if ok {
		delete(b.nodes, node)
	}
	b.mu.Unlock()

	if !ok {
		return nil
	}
	b.addTracked(ctx, -1)

	logger := nhlog.WithNode(b.logger, node)
	err = e.state.Close(ctx)
	closeSink(e.sink, logger)
	return err
}

// Nodes returns the status of every tracked node, sorted by name.
func (b *Bridge) Nodes() []NodeStatus {
	b.mu.Lock()
	entries := make([]*entry, 0, len(b.nodes))
	for _, e := range b.nodes {
		entries = append(entries, e)
	}
	b.mu.Unlock()

	out := make([]NodeStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.state.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Node < out[j].Node })
	return out
}

// Shutdown tears down every tracked node. It is used when the daemon
// stops; all teardown failures are returned together.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	names := make([]string, 0, len(b.nodes))
	for name := range b.nodes {
		names = append(names, name)
	}
	b.mu.Unlock()
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		if err := b.OnOffline(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bridge) getOrCreate(node string, sink io.Writer) (*entry, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e, ok := b.nodes[node]; ok {
		return e, false
	}
	e := &entry{state: hook.NewState(node, b.hookOpt), sink: sink}
	b.nodes[node] = e
	b.addTracked(context.Background(), 1)
	return e, true
}

// forget drops node only if it still maps to e.
func (b *Bridge) forget(node string, e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.nodes[node]; ok && cur == e {
		delete(b.nodes, node)
		b.addTracked(context.Background(), -1)
	}
}

func (b *Bridge) addTracked(ctx context.Context, n int64) {
	if b.tracked != nil {
		b.tracked.Add(ctx, n)
	}
}

func closeSink(sink io.Writer, logger *slog.Logger) {
	c, ok := sink.(io.Closer)
	if !ok {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("failed to close hook log sink", nhlog.Error(err))
	}
}
