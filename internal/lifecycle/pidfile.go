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

package lifecycle

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

var (
	// ErrPIDFileLocked is returned when another process holds the PID file lock.
	ErrPIDFileLocked = errors.New("PID file is locked by another process")

	// ErrInvalidPID is returned when the PID file contains invalid data.
	ErrInvalidPID = errors.New("invalid PID in file")

	// ErrUnsafeDirectory is returned when the PID file parent is world-writable.
	ErrUnsafeDirectory = errors.New("PID file directory is world-writable")
)

// PIDFile is a held PID file lock.
type PIDFile struct {
	path string
	f    *os.File
}

// AcquirePIDFile locks path and writes the current PID into it. The
// lock lives as long as the returned PIDFile is not released. A file
// left unlocked by a dead process is reused.
func AcquirePIDFile(path string) (*PIDFile, error) {
	parentDir := filepath.Dir(path)
	if err := verifyDirectorySafety(parentDir); err != nil {
		return nil, fmt.Errorf("unsafe PID file location: %w", err)
	}
	if err := os.MkdirAll(parentDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create PID file directory: %w", err)
	}

	// O_NOFOLLOW: a planted symlink must not redirect the write.
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|unix.O_NOFOLLOW, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open PID file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if pid, readErr := ReadPID(path); readErr == nil {
				return nil, fmt.Errorf("%w (pid %d)", ErrPIDFileLocked, pid)
			}
			return nil, ErrPIDFileLocked
		}
		return nil, fmt.Errorf("failed to lock PID file: %w", err)
	}

	if err := writePID(f, os.Getpid()); err != nil {
		f.Close()
		return nil, err
	}
	return &PIDFile{path: path, f: f}, nil
}

func writePID(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("failed to truncate PID file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("failed to write PID: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync PID file: %w", err)
	}
	return nil
}

// Path returns the PID file path.
func (p *PIDFile) Path() string {
	return p.path
}

// Release removes the file and drops the lock. It is idempotent.
func (p *PIDFile) Release() error {
	if p == nil || p.f == nil {
		return nil
	}
	// Remove while still locked so a concurrent acquirer never sees its
	// fresh file deleted under it.
	rmErr := os.Remove(p.path)
	if errors.Is(rmErr, os.ErrNotExist) {
		rmErr = nil
	}
	closeErr := p.f.Close()
	p.f = nil
	if rmErr != nil {
		return fmt.Errorf("failed to remove PID file: %w", rmErr)
	}
	return closeErr
}

// ReadPID reads the PID stored at path.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPID, pidStr)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("%w: PID must be positive, got %d", ErrInvalidPID, pid)
	}
	return pid, nil
}

// IsLocked reports whether a live process holds the lock on path, and
// its PID when readable. A missing file is not locked.
func IsLocked(path string) (pid int, locked bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to open PID file: %w", err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH|unix.LOCK_NB); err != nil {
		if errors.Is(err, unix.EWOULDBLOCK) {
			pid, _ := ReadPID(path)
			return pid, true, nil
		}
		return 0, false, fmt.Errorf("failed to probe PID file lock: %w", err)
	}
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return 0, false, nil
}

// verifyDirectorySafety rejects a world-writable parent, where anyone
// could swap the file out from under us.
func verifyDirectorySafety(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if mode := info.Mode(); mode&0o002 != 0 {
		return fmt.Errorf("%w: %s has mode %04o", ErrUnsafeDirectory, dir, mode&os.ModePerm)
	}
	return nil
}
