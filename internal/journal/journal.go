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

// Package journal keeps a durable record of the temporary key and
// script files held for running hooks, so files leaked by a crashed
// daemon can be found and removed on the next start.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	nhlog "github.com/tombee/nodehook/internal/log"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// Config configures the journal database.
type Config struct {
	// Path is the SQLite database file, or ":memory:".
	Path string

	Logger *slog.Logger
}

// Entry is one temporary file on record.
type Entry struct {
	Path       string    `json:"path"`
	Node       string    `json:"node"`
	OwnerPID   int       `json:"owner_pid"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SweepResult summarizes a sweep.
type SweepResult struct {
	// Removed lists files deleted from disk.
	Removed []string `json:"removed"`

	// Missing lists entries whose file was already gone.
	Missing []string `json:"missing"`
}

// Journal persists temporary file paths in SQLite. It is safe for
// concurrent use.
type Journal struct {
	db     *sql.DB
	pid    int
	logger *slog.Logger
}

// Open opens or creates the journal database.
func Open(cfg Config) (*Journal, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal path is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = nhlog.Discard()
	}

	connStr := cfg.Path
	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
		connStr += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and avoids
	// writer contention.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	j := &Journal{
		db:     db,
		pid:    os.Getpid(),
		logger: nhlog.WithComponent(cfg.Logger, "journal"),
	}
	if err := j.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return j, nil
}

func (j *Journal) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		path TEXT PRIMARY KEY,
		node TEXT NOT NULL,
		owner_pid INTEGER NOT NULL,
		recorded_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_node ON artifacts(node);
	`
	if _, err := j.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record notes that path was created for node.
func (j *Journal) Record(ctx context.Context, node, path string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO artifacts (path, node, owner_pid, recorded_at) VALUES (?, ?, ?, ?)`,
		path, node, j.pid, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record %s: %w", path, err)
	}
	return nil
}

// Forget removes path from the journal once the file is deleted.
func (j *Journal) Forget(ctx context.Context, path string) error {
	if _, err := j.db.ExecContext(ctx, `DELETE FROM artifacts WHERE path = ?`, path); err != nil {
		return fmt.Errorf("forget %s: %w", path, err)
	}
	return nil
}

// List returns every entry, oldest first.
func (j *Journal) List(ctx context.Context) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT path, node, owner_pid, recorded_at FROM artifacts ORDER BY recorded_at, path`)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Path, &e.Node, &e.OwnerPID, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Sweep deletes every file on record and drops its entry. Entries whose
// file is already gone are dropped too. Files that cannot be deleted
// stay on record and are reported in the returned *errors.CleanupError.
func (j *Journal) Sweep(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	entries, err := j.List(ctx)
	if err != nil {
		return result, err
	}

	var errs nherrors.Collector
	for _, e := range entries {
		err := os.Remove(e.Path)
		switch {
		case err == nil:
			result.Removed = append(result.Removed, e.Path)
			j.logger.Warn("removed leftover hook file", slog.String(nhlog.NodeKey, e.Node), slog.String("path", e.Path))
		case errors.Is(err, os.ErrNotExist):
			result.Missing = append(result.Missing, e.Path)
		default:
			errs.Add(fmt.Errorf("delete leftover file: %w", err))
			continue
		}
		errs.Add(j.Forget(ctx, e.Path))
	}
	return result, errs.Err("journal sweep")
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}
