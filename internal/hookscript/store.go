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

// Package hookscript holds the hook script that is handed to each node
// as it comes online, reloading it when its file changes.
package hookscript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	nhlog "github.com/tombee/nodehook/internal/log"
)

var reloadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "nodehook_script_reloads_total",
		Help: "Hook script reloads by result (ok, missing, error)",
	},
	[]string{"result"},
)

// Store holds the current script. Snapshot is safe to call from any
// goroutine; a snapshot taken by an activation is never affected by a
// later reload.
type Store struct {
	path    string
	current atomic.Pointer[string]
	logger  *slog.Logger
}

// NewStatic returns a store whose script never changes.
func NewStatic(script string) *Store {
	s := &Store{logger: nhlog.Discard()}
	s.current.Store(&script)
	return s
}

// Open loads the script from path. A missing file yields an empty
// script, which disables the hook until the file appears.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = nhlog.Discard()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}
	s := &Store{
		path:   abs,
		logger: nhlog.WithComponent(logger, "hookscript").With(slog.String("path", abs)),
	}
	empty := ""
	s.current.Store(&empty)
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the watched file, or "" for a static store.
func (s *Store) Path() string {
	return s.path
}

// Snapshot returns the current script text.
func (s *Store) Snapshot() string {
	return *s.current.Load()
}

// Reload re-reads the script file. It is a no-op for a static store.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	data, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		empty := ""
		s.current.Store(&empty)
		reloadsTotal.WithLabelValues("missing").Inc()
		s.logger.Warn("hook script file missing, hook disabled")
		return nil
	case err != nil:
		reloadsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("read hook script: %w", err)
	}
	script := string(data)
	s.current.Store(&script)
	reloadsTotal.WithLabelValues("ok").Inc()
	s.logger.Info("hook script loaded", slog.Int("bytes", len(data)))
	return nil
}

// Watch reloads the script whenever its file is written, replaced or
// removed, until ctx is done. The watch is registered before Watch
// returns; events are handled on a background goroutine. Watching the
// parent directory keeps reloads working across editors that replace
// the file by rename.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(s.path)); err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch path: %w", err)
	}

	go s.eventLoop(ctx, fsw)
	s.logger.Info("hook script watcher started")
	return nil
}

func (s *Store) eventLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("hook script watcher stopped")
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != s.path {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) &&
				!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Error("hook script reload failed, keeping previous script", nhlog.Error(err))
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			s.logger.Error("hook script watcher error", nhlog.Error(err))
		}
	}
}
