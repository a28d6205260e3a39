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

// Package serve implements 'nodehook serve'.
package serve

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/daemon"
	"github.com/tombee/nodehook/internal/log"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the nodehook daemon",
		Long: `Run the nodehook daemon in the foreground.

The daemon accepts node online and offline notifications over HTTP,
runs the configured hook script for each node that comes online and
tears it down when the node goes offline. SIGINT or SIGTERM stop the
daemon after every tracked node has been torn down.`,
		Example: `  # Start with the default configuration
  nodehook serve

  # Listen on a different address
  nodehook serve --listen 0.0.0.0:9191`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), listen)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Address to listen on (overrides server.listen)")

	return cmd
}

func loadConfig(listen string) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(shared.GetConfigPath()))
	if err != nil {
		return nil, shared.NewInvalidConfigError("failed to load configuration", err)
	}
	if listen != "" {
		cfg.Server.Listen = listen
	}
	return cfg, nil
}

// newLogger builds the daemon logger from the log section, with
// NODEHOOK_DEBUG and NODEHOOK_LOG_LEVEL taking precedence over it.
func newLogger(cfg *config.Config) *slog.Logger {
	lc := log.FromEnv(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
	if shared.GetVerbose() {
		lc.Level = "debug"
		lc.AddSource = true
	}
	return log.New(lc)
}

func runServe(ctx context.Context, listen string) error {
	cfg, err := loadConfig(listen)
	if err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	v, c, b := shared.GetVersion()
	d, err := daemon.New(ctx, cfg, daemon.Options{
		Version:   v,
		Commit:    c,
		BuildDate: b,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	startErr := d.Start(ctx)
	if startErr == nil {
		logger.Info("shutting down")
	}

	shutdownErr := d.Shutdown(context.WithoutCancel(ctx))
	if err := errors.Join(startErr, shutdownErr); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
