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

package daemon

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/tombee/nodehook/internal/daemon/api"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// LogSink appends hook output to a per-node file. It is flushed after
// every line by the hook copier and closed by the bridge on offline,
// possibly while a write is in flight, so every method takes the lock.
type LogSink struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	closed bool
}

// OpenLogSink opens <dir>/<node>.log for appending.
func OpenLogSink(dir, node string) (*LogSink, error) {
	if err := api.ValidateNodeName(node); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nherrors.Wrap(err, "create log directory")
	}
	f, err := os.OpenFile(filepath.Join(dir, node+".log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, nherrors.Wrap(err, "open hook log")
	}
	return &LogSink{f: f, w: bufio.NewWriter(f)}, nil
}

// Path returns the file backing the sink.
func (s *LogSink) Path() string {
	return s.f.Name()
}

// Write implements io.Writer.
func (s *LogSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, os.ErrClosed
	}
	return s.w.Write(p)
}

// Flush writes buffered output to the file.
func (s *LogSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return os.ErrClosed
	}
	return s.w.Flush()
}

// Close flushes and closes the file. It is idempotent.
func (s *LogSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return errors.Join(s.w.Flush(), s.f.Close())
}
