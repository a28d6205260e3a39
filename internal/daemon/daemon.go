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

// Package daemon wires the node bridge to its HTTP API and runs it.
package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tombee/nodehook/internal/bridge"
	"github.com/tombee/nodehook/internal/cloud"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/daemon/api"
	"github.com/tombee/nodehook/internal/daemon/auth"
	"github.com/tombee/nodehook/internal/hook"
	"github.com/tombee/nodehook/internal/hookscript"
	"github.com/tombee/nodehook/internal/journal"
	"github.com/tombee/nodehook/internal/lifecycle"
	internallog "github.com/tombee/nodehook/internal/log"
	"github.com/tombee/nodehook/internal/secrets"
	"github.com/tombee/nodehook/internal/tracing"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// Options contains daemon options.
type Options struct {
	Version   string
	Commit    string
	BuildDate string

	Logger *slog.Logger

	// Registerer and Gatherer back the metrics endpoint.
	// Default: the global Prometheus registry
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer

	// Keys resolves the private key and auth secret references.
	// Default: env, file and keyring providers
	Keys KeyResolver

	// Instances overrides the EC2 resolver built from the config.
	Instances InstanceDescriber
}

// Daemon is the nodehook service.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	bridge  *bridge.Bridge
	script  *hookscript.Store
	journal *journal.Journal
	pidFile *lifecycle.PIDFile
	otel    *tracing.Provider
	router  *api.Router

	mu      sync.Mutex
	server  *http.Server
	started bool
	stopped bool
}

// New creates a daemon from cfg. Nothing is listening until Start or
// Serve is called.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	if opts.Logger == nil {
		opts.Logger = internallog.Discard()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Keys == nil {
		opts.Keys = secrets.NewDefaultRegistry()
	}

	d := &Daemon{
		cfg:    cfg,
		opts:   opts,
		logger: internallog.WithComponent(opts.Logger, "daemon"),
	}

	otelProvider, err := tracing.New(ctx, tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: opts.Version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Registerer:     opts.Registerer,
	})
	if err != nil {
		return nil, nherrors.Wrap(err, "failed to initialize tracing")
	}
	d.otel = otelProvider

	if err := d.init(ctx); err != nil {
		_ = d.release(ctx)
		return nil, err
	}
	return d, nil
}

func (d *Daemon) init(ctx context.Context) error {
	cfg := d.cfg

	if cfg.Hook.ScriptFile != "" {
		store, err := hookscript.Open(cfg.Hook.ScriptFile, d.opts.Logger)
		if err != nil {
			return nherrors.Wrap(err, "failed to load hook script")
		}
		d.script = store
	} else {
		d.script = hookscript.NewStatic(cfg.Hook.Script)
	}

	hookOpts := hook.Options{
		Shell:        cfg.Hook.Shell,
		TempDir:      cfg.Hook.TempDir,
		CloseTimeout: cfg.Hook.CloseTimeout,
		Logger:       d.opts.Logger,
	}
	if cfg.Journal.Enabled {
		j, err := journal.Open(journal.Config{Path: cfg.Journal.Path, Logger: d.opts.Logger})
		if err != nil {
			return nherrors.Wrap(err, "failed to open journal")
		}
		d.journal = j
		hookOpts.Journal = j
	}

	instances := d.opts.Instances
	if instances == nil && (cfg.Cloud.ResolveEC2 || cfg.Cloud.ValidateCredentials) {
		resolver, err := cloud.New(ctx, cfg.Cloud.Region)
		if err != nil {
			return err
		}
		if cfg.Cloud.ValidateCredentials {
			arn, err := resolver.Validate(ctx)
			if err != nil {
				return err
			}
			d.logger.Info("AWS credentials validated", slog.String("arn", arn))
		}
		if cfg.Cloud.ResolveEC2 {
			instances = resolver
		}
	}

	d.bridge = bridge.New(bridge.Options{
		Script: d.script,
		Hook:   hookOpts,
		Logger: d.opts.Logger,
	})

	authn, err := d.newAuthenticator(ctx)
	if err != nil {
		return err
	}

	d.router = api.NewRouter(api.RouterConfig{
		Version:   d.opts.Version,
		Commit:    d.opts.Commit,
		BuildDate: d.opts.BuildDate,
		Logger:    d.opts.Logger,
		Auth:      authn,
	})
	facts := newFactsResolver(d.opts.Keys, cfg.Cloud.PrivateKey, instances, d.opts.Logger)
	d.router.SetNodesHandler(api.NewNodesHandler(d.bridge, facts, d.openSink, d.opts.Logger))
	if cfg.Metrics.Enabled {
		d.router.SetMetricsHandler(promhttp.HandlerFor(d.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	return nil
}

// newAuthenticator resolves server.auth_secret. No secret means no auth.
func (d *Daemon) newAuthenticator(ctx context.Context) (*auth.Authenticator, error) {
	ref := d.cfg.Server.AuthSecret
	if ref == "" {
		d.logger.Warn("API auth disabled; anyone who can reach the listener can launch hooks",
			slog.String("listen_addr", d.cfg.Server.Listen))
		return nil, nil
	}
	secret, err := d.opts.Keys.Resolve(ctx, ref)
	if err != nil {
		return nil, nherrors.Wrap(err, "resolve auth secret")
	}
	authn, err := auth.NewAuthenticator(auth.Config{Secret: []byte(secret)}, d.opts.Logger)
	if err != nil {
		return nil, nherrors.Wrap(err, "server.auth_secret")
	}
	return authn, nil
}

func (d *Daemon) openSink(node string) (io.Writer, error) {
	sink, err := OpenLogSink(d.cfg.Hook.LogDir, node)
	if err != nil {
		return nil, err
	}
	return sink, nil
}

// Handler returns the API handler.
func (d *Daemon) Handler() http.Handler {
	return d.router
}

// Bridge returns the node bridge, for in-process callers.
func (d *Daemon) Bridge() *bridge.Bridge {
	return d.bridge
}

// Start listens on the configured address and serves until ctx is
// cancelled. Call Shutdown afterwards.
func (d *Daemon) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Server.Listen)
	if err != nil {
		return nherrors.Wrap(err, "failed to create listener")
	}
	return d.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or the server fails.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		_ = ln.Close()
		return nherrors.New("daemon already started")
	}
	if path := d.cfg.Server.PIDFile; path != "" {
		pf, err := lifecycle.AcquirePIDFile(path)
		if err != nil {
			d.mu.Unlock()
			_ = ln.Close()
			return nherrors.Wrap(err, "another daemon may be running")
		}
		d.pidFile = pf
	}
	d.started = true

	d.checkTempDir()
	d.sweepJournal(ctx)

	if d.script.Path() != "" {
		if err := d.script.Watch(ctx); err != nil {
			d.logger.Warn("hook script will not be reloaded", internallog.Error(err))
		}
	}

	d.server = &http.Server{
		Handler:     d.router,
		ReadTimeout: 30 * time.Second,
		// Offline waits for every hook process to exit.
		WriteTimeout: 30*time.Second + 2*d.cfg.Hook.CloseTimeout,
		IdleTimeout:  60 * time.Second,
	}
	server := d.server
	d.mu.Unlock()

	d.logger.Info("nodehook starting",
		slog.String("version", d.opts.Version),
		slog.String("listen_addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// sweepJournal removes files left behind by a previous run. No hook has
// been started yet, so everything on record is stale.
func (d *Daemon) sweepJournal(ctx context.Context) {
	if d.journal == nil {
		return
	}
	res, err := d.journal.Sweep(ctx)
	if err != nil {
		d.logger.Error("failed to remove leftover hook files", internallog.Error(err))
	}
	if len(res.Removed) > 0 || len(res.Missing) > 0 {
		d.logger.Warn("swept leftover hook files",
			slog.Int("removed", len(res.Removed)),
			slog.Int("missing", len(res.Missing)))
	}
}

// checkTempDir warns when private keys would land in a directory other
// users can list.
func (d *Daemon) checkTempDir() {
	dir := d.cfg.Hook.TempDir
	if dir == "" {
		dir = os.TempDir()
	}
	info, err := os.Stat(dir)
	if err != nil {
		d.logger.Warn("hook temp directory is not accessible", slog.String("path", dir), internallog.Error(err))
		return
	}
	if info.Mode().Perm()&0o007 != 0 && info.Mode()&os.ModeSticky == 0 {
		d.logger.Warn("hook temp directory is world accessible without the sticky bit",
			slog.String("path", dir),
			slog.String("mode", info.Mode().String()))
	}
}

// Shutdown stops the API, tears down every tracked node and releases
// the journal and telemetry. Teardown failures are returned.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return nil
	}
	d.stopped = true

	d.logger.Info("graceful shutdown initiated", slog.Int("nodes", len(d.bridge.Nodes())))

	shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Server.ShutdownTimeout)
	defer cancel()

	if d.server != nil {
		if err := d.server.Shutdown(shutdownCtx); err != nil {
			d.logger.Error("HTTP server shutdown error", internallog.Error(err))
		}
	}

	err := d.bridge.Shutdown(shutdownCtx)
	if err != nil {
		d.logger.Error("failed to tear down every node", internallog.Error(err))
	}

	if relErr := d.release(ctx); relErr != nil {
		d.logger.Error("failed to release resources", internallog.Error(relErr))
	}

	d.logger.Info("daemon stopped")
	return err
}

func (d *Daemon) release(ctx context.Context) error {
	var errs []error
	if d.journal != nil {
		errs = append(errs, d.journal.Close())
	}
	if d.otel != nil {
		otelCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errs = append(errs, d.otel.Shutdown(otelCtx))
	}
	if d.pidFile != nil {
		errs = append(errs, d.pidFile.Release())
	}
	return errors.Join(errs...)
}
