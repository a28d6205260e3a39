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

package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/nodehook/internal/clock"
	nhlog "github.com/tombee/nodehook/internal/log"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

const (
	// DefaultShell interprets the hook script.
	DefaultShell = "bash"

	// DefaultCloseTimeout bounds the wait for each hook process on Close.
	DefaultCloseTimeout = 10 * time.Second
)

var (
	// ErrClosed is returned by Activate once Close has run.
	ErrClosed = errors.New("node state is closed")

	// ErrAlreadyActive is returned by Activate when a hook was already
	// launched for this state.
	ErrAlreadyActive = errors.New("hook already active for node")
)

// Options configures a State. The zero value is usable.
type Options struct {
	// Shell interprets the script. Default: bash
	Shell string

	// TempDir holds the key and script files. Default: os.TempDir()
	TempDir string

	// CloseTimeout bounds the wait for each process on Close.
	// Default: 10s
	CloseTimeout time.Duration

	// Clock drives the Close timeout. Default: the real clock
	Clock clock.Clock

	// Logger receives lifecycle events. Default: discard
	Logger *slog.Logger

	// Journal, if set, mirrors temporary file paths to durable storage.
	Journal ArtifactJournal
}

// ActivateRequest carries everything Activate needs for one node.
type ActivateRequest struct {
	// Facts about the node. Nil disables the hook.
	Facts *Facts

	// Script is the hook body. Blank disables the hook.
	Script string

	// Sink receives the hook's merged output line by line. If it
	// implements Flusher it is flushed after each line. Nil discards.
	Sink io.Writer
}

// Status is a point-in-time view of a State.
type Status struct {
	Node         string    `json:"node"`
	ActivationID string    `json:"activation_id,omitempty"`
	Active       bool      `json:"active"`
	Running      bool      `json:"running"`
	PID          int       `json:"pid,omitempty"`
	Artifacts    int       `json:"artifacts"`
	StartedAt    time.Time `json:"started_at,omitzero"`
}

// State is the lifecycle of one node's hook. Activate and Close are
// serialized by an internal mutex, so State is safe for concurrent use.
type State struct {
	node   string
	opts   Options
	logger *slog.Logger

	mu           sync.Mutex
	activationID string
	startedAt    time.Time
	active       bool
	closed       bool
	artifacts    []string
	processes    []trackedProcess
}

// NewState creates the lifecycle state for a node.
func NewState(node string, opts Options) *State {
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = DefaultCloseTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = nhlog.Discard()
	}
	return &State{
		node:   node,
		opts:   opts,
		logger: nhlog.WithNode(opts.Logger, node),
	}
}

// Node returns the node identity this state belongs to.
func (s *State) Node() string {
	return s.node
}

// Activate launches the hook for the node. It returns once the hook is
// running; it never waits for the hook to finish.
//
// A nil Facts or a blank Script is a no-op. On any failure everything
// created so far is torn down before returning, and the returned error
// joins the original failure with any teardown failure.
func (s *State) Activate(ctx context.Context, req ActivateRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.active {
		return ErrAlreadyActive
	}
	if req.Facts == nil || IsBlank(req.Script) {
		activationsTotal.WithLabelValues("skipped").Inc()
		s.logger.Debug("hook disabled, nothing to launch")
		return nil
	}

	s.activationID = uuid.NewString()
	logger := s.logger.With(slog.String(nhlog.ActivationIDKey, s.activationID))

	if err := s.launch(ctx, req, logger); err != nil {
		activationsTotal.WithLabelValues("failed").Inc()
		logger.Error("hook activation failed, tearing down", nhlog.Error(err))
		if cerr := s.closeLocked(ctx); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}

	s.active = true
	s.startedAt = time.Now()
	activationsTotal.WithLabelValues("started").Inc()
	return nil
}

func (s *State) launch(ctx context.Context, req ActivateRequest, logger *slog.Logger) error {
	keyPath, err := s.writeArtifact(ctx, "nodehook_*.pem", []byte(req.Facts.PrivateKey))
	if err != nil {
		return fmt.Errorf("write identity file: %w", err)
	}
	scriptPath, err := s.writeArtifact(ctx, "nodehook_*.sh", []byte(NormalizeScript(req.Script)))
	if err != nil {
		return fmt.Errorf("write script file: %w", err)
	}

	proc, err := startHook(s.opts.Shell, scriptPath, Environment(req.Facts, keyPath), logger)
	if err != nil {
		return fmt.Errorf("launch hook: %w", err)
	}
	s.processes = append(s.processes, proc)
	proc.run(req.Sink)

	logger.Info("hook launched",
		slog.Int(nhlog.PIDKey, proc.pid()),
		slog.String("shell", s.opts.Shell),
		slog.String("script", scriptPath),
	)
	return nil
}

// Close terminates every hook process, waits for each to exit, and
// deletes every temporary file. Every step is attempted regardless of
// earlier failures; all failures are returned together as a
// *errors.CleanupError. If ctx is cancelled, the remaining waits are
// skipped but files are still deleted.
//
// Close is idempotent. After it returns the state holds no processes or
// files and Activate returns ErrClosed.
func (s *State) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeLocked(ctx)
}

func (s *State) closeLocked(ctx context.Context) error {
	s.closed = true
	s.active = false

	if len(s.processes) == 0 && len(s.artifacts) == 0 {
		return nil
	}

	var errs nherrors.Collector
	fail := func(step string, err error) {
		if err == nil {
			return
		}
		teardownFailures.WithLabelValues(step).Inc()
		errs.Add(err)
	}

	for _, p := range s.processes {
		fail("signal", p.terminate())
	}

	for i, p := range s.processes {
		cancelled, err := p.wait(ctx, s.opts.Clock, s.opts.CloseTimeout)
		if cancelled {
			s.logger.Warn("teardown cancelled, not waiting for remaining hooks",
				slog.Int("remaining", len(s.processes)-i))
			break
		}
		fail("wait", err)
	}

	journalCtx := context.WithoutCancel(ctx)
	for _, path := range s.artifacts {
		artifactsOpen.Dec()
		if err := removeArtifact(path); err != nil {
			fail("delete", err)
			continue
		}
		s.journalForget(journalCtx, path)
	}

	s.processes = nil
	s.artifacts = nil

	err := errs.Err(s.node)
	if err != nil {
		teardownsTotal.WithLabelValues("failed").Inc()
		s.logger.Error("teardown finished with failures", slog.Int("failures", errs.Len()))
		return err
	}
	teardownsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("teardown complete")
	return nil
}

// Status returns a snapshot of the state.
func (s *State) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Node:         s.node,
		ActivationID: s.activationID,
		Active:       s.active,
		Artifacts:    len(s.artifacts),
		StartedAt:    s.startedAt,
	}
	for _, p := range s.processes {
		hp, ok := p.(*hookProcess)
		if !ok {
			continue
		}
		st.PID = hp.pid()
		st.Running = !hp.exited()
	}
	return st
}

// Artifacts returns the paths of the temporary files currently held.
func (s *State) Artifacts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.artifacts))
	copy(out, s.artifacts)
	return out
}

// Done returns a channel closed when every launched hook has exited. It
// is nil when no hook was launched.
func (s *State) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.processes {
		if hp, ok := p.(*hookProcess); ok {
			return hp.done
		}
	}
	return nil
}
