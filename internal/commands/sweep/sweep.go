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

// Package sweep implements 'nodehook sweep', which removes key and
// script files a crashed daemon left behind.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/journal"
	"github.com/tombee/nodehook/internal/lifecycle"
)

// ErrDaemonRunning is returned when a live daemon still owns the files.
var ErrDaemonRunning = errors.New("a nodehook daemon is running; its hooks still use these files (use --force to sweep anyway)")

// Result is the JSON output of sweep.
type Result struct {
	DryRun  bool            `json:"dry_run"`
	Entries []journal.Entry `json:"entries,omitempty"`
	Removed []string        `json:"removed,omitempty"`
	Missing []string        `json:"missing,omitempty"`
}

// HealthChecker reports whether a daemon answers.
type HealthChecker func(ctx context.Context) error

// NewCommand creates the sweep command.
func NewCommand() *cobra.Command {
	var force, dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove key and script files left by a crashed daemon",
		Long: `Remove temporary key and script files recorded in the journal.

The daemon records every file it creates and forgets it once deleted.
Entries that remain after a crash point at credentials still on disk;
sweep deletes them. 'nodehook serve' sweeps on start as well.

Sweep refuses to run while a daemon holds the PID file lock or answers
on the configured address, because its running hooks still use the files.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(shared.GetConfigPath()))
			if err != nil {
				return shared.NewInvalidConfigError("failed to load configuration", err)
			}
			client := shared.NewClient(shared.ResolveAddr())
			health := func(ctx context.Context) error {
				_, err := client.Health(ctx)
				return err
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, health, force, dryRun)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Sweep even if a daemon is running")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List recorded files without deleting them")

	return cmd
}

func run(ctx context.Context, out io.Writer, cfg *config.Config, health HealthChecker, force, dryRun bool) error {
	if !cfg.Journal.Enabled {
		return shared.NewInvalidConfigError("journal is disabled; nothing to sweep", nil)
	}

	if !force && !dryRun && cfg.Server.PIDFile != "" {
		pid, locked, err := lifecycle.IsLocked(cfg.Server.PIDFile)
		if err != nil {
			return err
		}
		if locked {
			return fmt.Errorf("%w (pid %d)", ErrDaemonRunning, pid)
		}
	}

	if !force && !dryRun && health != nil {
		probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := health(probeCtx)
		cancel()
		if err == nil {
			return ErrDaemonRunning
		}
	}

	j, err := journal.Open(journal.Config{Path: cfg.Journal.Path})
	if err != nil {
		return err
	}
	defer j.Close()

	result := Result{DryRun: dryRun}
	if dryRun {
		result.Entries, err = j.List(ctx)
		if err != nil {
			return err
		}
		return output(out, result)
	}

	res, sweepErr := j.Sweep(ctx)
	result.Removed, result.Missing = res.Removed, res.Missing
	if err := output(out, result); err != nil {
		return err
	}
	return sweepErr
}

func output(out io.Writer, r Result) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, r)
	}

	if r.DryRun {
		if len(r.Entries) == 0 {
			fmt.Fprintln(out, shared.RenderOK("no leftover files on record"))
		}
		for _, e := range r.Entries {
			fmt.Fprintf(out, "%s  %s %s\n", e.Path, shared.Muted.Render("node="+e.Node), shared.Muted.Render(fmt.Sprintf("pid=%d", e.OwnerPID)))
		}
		return nil
	}

	for _, p := range r.Removed {
		fmt.Fprintln(out, shared.RenderOK("removed "+p))
	}
	for _, p := range r.Missing {
		fmt.Fprintln(out, shared.RenderWarn("already gone "+p))
	}
	if len(r.Removed) == 0 && len(r.Missing) == 0 {
		fmt.Fprintln(out, shared.RenderOK("no leftover files on record"))
	}
	return nil
}
