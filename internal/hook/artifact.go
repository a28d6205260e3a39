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
	"fmt"
	"os"
)

// ownerReadOnly is the final mode of every temporary file. os.CreateTemp
// already creates files as 0600, so the content is never group or world
// readable at any point.
const ownerReadOnly os.FileMode = 0o400

// createTemp is swapped out by tests to simulate creation failures.
var createTemp = os.CreateTemp

// ArtifactJournal persists the paths of temporary files so a crashed
// daemon can remove them on its next start. Journal failures are logged
// and never fail a hook.
type ArtifactJournal interface {
	Record(ctx context.Context, node, path string) error
	Forget(ctx context.Context, path string) error
}

// writeArtifact creates a temporary file, registers its path with the
// state before anything else can fail, then writes content and locks the
// file down to owner-read-only.
func (s *State) writeArtifact(ctx context.Context, pattern string, content []byte) (string, error) {
	f, err := createTemp(s.opts.TempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	path := f.Name()
	s.artifacts = append(s.artifacts, path)
	artifactsOpen.Inc()
	s.journalRecord(ctx, path)

	if err := fillReadOnly(f, content); err != nil {
		return path, fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func fillReadOnly(f *os.File, content []byte) (err error) {
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = f.Write(content); err != nil {
		return err
	}
	if err = f.Sync(); err != nil {
		return err
	}
	return f.Chmod(ownerReadOnly)
}

func (s *State) journalRecord(ctx context.Context, path string) {
	if s.opts.Journal == nil {
		return
	}
	if err := s.opts.Journal.Record(ctx, s.node, path); err != nil {
		s.logger.Warn("failed to journal temp file", "path", path, "error", err)
	}
}

func (s *State) journalForget(ctx context.Context, path string) {
	if s.opts.Journal == nil {
		return
	}
	if err := s.opts.Journal.Forget(ctx, path); err != nil {
		s.logger.Warn("failed to drop temp file from journal", "path", path, "error", err)
	}
}

// removeArtifact deletes a temporary file. A file that is already gone
// counts as a failure: something else removed a file this state owned.
func removeArtifact(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete temp file: %w", err)
	}
	return nil
}
