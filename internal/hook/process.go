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
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/tombee/nodehook/internal/clock"
	nhlog "github.com/tombee/nodehook/internal/log"
)

// trackedProcess is a launched hook as seen by Close.
type trackedProcess interface {
	// terminate asks the process to stop. A process that already exited
	// is not an error.
	terminate() error

	// wait blocks until the process exits, the timeout elapses or ctx is
	// cancelled. cancelled reports the last case. A process still running
	// at the timeout is abandoned, not an error.
	wait(ctx context.Context, clk clock.Clock, timeout time.Duration) (cancelled bool, err error)

	pid() int
}

// hookProcess is a running hook script. Its merged stdout/stderr is read
// from output by one goroutine while another reaps the process.
type hookProcess struct {
	cmd     *exec.Cmd
	output  *os.File
	started time.Time
	done    chan struct{}
	logger  *slog.Logger
}

// startHook launches shell with scriptPath as its only argument. Both
// stdout and stderr go to the write end of one pipe; the parent's copy of
// that end is closed once the child holds it, so the reader sees EOF when
// the hook and any children it left behind close theirs.
func startHook(shell, scriptPath string, env []string, logger *slog.Logger) (*hookProcess, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(shell, scriptPath)
	cmd.Env = env
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, fmt.Errorf("start %s: %w", shell, err)
	}
	pw.Close()

	return &hookProcess{
		cmd:     cmd,
		output:  pr,
		started: time.Now(),
		done:    make(chan struct{}),
		logger:  logger.With(slog.Int(nhlog.PIDKey, cmd.Process.Pid)),
	}, nil
}

// run starts the output copier and the reaper. Neither blocks the caller.
func (p *hookProcess) run(sink io.Writer) {
	hooksRunning.Inc()
	go func() {
		defer p.output.Close()
		copyLines(sink, p.output, p.logger)
	}()
	go p.reap()
}

func (p *hookProcess) reap() {
	err := p.cmd.Wait()
	elapsed := time.Since(p.started)
	close(p.done)

	hooksRunning.Dec()
	hookDuration.Observe(elapsed.Seconds())

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		p.logger.Info("hook exited", slog.Int("exit_code", 0), slog.Int64(nhlog.DurationKey, elapsed.Milliseconds()))
	case errors.As(err, &exitErr):
		p.logger.Warn("hook exited",
			slog.Int("exit_code", exitErr.ExitCode()),
			slog.String("state", exitErr.String()),
			slog.Int64(nhlog.DurationKey, elapsed.Milliseconds()),
		)
	default:
		p.logger.Error("hook wait failed", nhlog.Error(err))
	}
}

func (p *hookProcess) pid() int {
	return p.cmd.Process.Pid
}

func (p *hookProcess) terminate() error {
	err := p.cmd.Process.Signal(unix.SIGTERM)
	if err == nil || errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return fmt.Errorf("signal hook process %d: %w", p.pid(), err)
}

func (p *hookProcess) wait(ctx context.Context, clk clock.Clock, timeout time.Duration) (bool, error) {
	select {
	case <-p.done:
		return false, nil
	default:
	}

	select {
	case <-p.done:
		return false, nil
	case <-ctx.Done():
		return true, nil
	case <-clk.After(timeout):
		p.logger.Warn("hook did not exit after SIGTERM, abandoning wait",
			slog.Duration("timeout", timeout))
		return false, nil
	}
}

// exited reports whether the process has been reaped.
func (p *hookProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
