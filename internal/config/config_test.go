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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	nherrors "github.com/tombee/nodehook/pkg/errors"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NODEHOOK_LISTEN", "NODEHOOK_SHUTDOWN_TIMEOUT", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE",
		"NODEHOOK_SCRIPT_FILE", "NODEHOOK_SHELL", "NODEHOOK_TEMP_DIR", "NODEHOOK_CLOSE_TIMEOUT",
		"NODEHOOK_LOG_DIR", "NODEHOOK_PRIVATE_KEY", "AWS_REGION", "NODEHOOK_RESOLVE_EC2",
		"NODEHOOK_JOURNAL_ENABLED", "NODEHOOK_JOURNAL_PATH", "NODEHOOK_TRACING_EXPORTER",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "NODEHOOK_METRICS_ENABLED", "NODEHOOK_PID_FILE", "NODEHOOK_AUTH_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestDefault(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/var/lib/test")
	cfg := Default()

	if cfg.Server.Listen != "127.0.0.1:9191" {
		t.Errorf("expected listen 127.0.0.1:9191, got %q", cfg.Server.Listen)
	}
	if cfg.Hook.Shell != "bash" {
		t.Errorf("expected shell bash, got %q", cfg.Hook.Shell)
	}
	if cfg.Hook.CloseTimeout != 10*time.Second {
		t.Errorf("expected close timeout 10s, got %v", cfg.Hook.CloseTimeout)
	}
	if cfg.Server.PIDFile != "/var/lib/test/nodehook/nodehook.pid" {
		t.Errorf("unexpected pid file %q", cfg.Server.PIDFile)
	}
	if cfg.Hook.LogDir != "/var/lib/test/nodehook/logs" {
		t.Errorf("unexpected log dir %q", cfg.Hook.LogDir)
	}
	if cfg.Journal.Path != "/var/lib/test/nodehook/journal.db" {
		t.Errorf("unexpected journal path %q", cfg.Journal.Path)
	}
	if cfg.Tracing.Exporter != ExporterNone {
		t.Errorf("expected tracing disabled, got %q", cfg.Tracing.Exporter)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		errText string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{
			name:    "missing listen",
			modify:  func(c *Config) { c.Server.Listen = "" },
			errText: "server.listen",
		},
		{
			name:    "bad log level",
			modify:  func(c *Config) { c.Log.Level = "verbose" },
			errText: "log.level",
		},
		{
			name: "script and script file",
			modify: func(c *Config) {
				c.Hook.Script = "echo"
				c.Hook.ScriptFile = "/etc/hook.sh"
			},
			errText: "mutually exclusive",
		},
		{
			name:    "zero close timeout",
			modify:  func(c *Config) { c.Hook.CloseTimeout = 0 },
			errText: "hook.close_timeout",
		},
		{
			name:    "blank shell",
			modify:  func(c *Config) { c.Hook.Shell = " " },
			errText: "hook.shell",
		},
		{
			name: "journal without path",
			modify: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Path = ""
			},
			errText: "journal.path",
		},
		{
			name:    "unknown exporter",
			modify:  func(c *Config) { c.Tracing.Exporter = "zipkin" },
			errText: "tracing.exporter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.errText == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var cfgErr *nherrors.ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Contains(t, cfgErr.Reason, tt.errText)
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Server.Listen = ""
	cfg.Log.Format = "xml"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.listen")
	assert.Contains(t, err.Error(), "log.format")
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  listen: 0.0.0.0:8080
hook:
  script_file: /etc/nodehook/hook.sh
  shell: sh
  close_timeout: 3s
cloud:
  private_key: keyring:ec2-fleet
  region: eu-west-1
  resolve_ec2: true
tracing:
  exporter: otlp-grpc
  endpoint: collector:4317
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Listen)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout, "unset fields keep defaults")
	assert.Equal(t, "/etc/nodehook/hook.sh", cfg.Hook.ScriptFile)
	assert.Equal(t, "sh", cfg.Hook.Shell)
	assert.Equal(t, 3*time.Second, cfg.Hook.CloseTimeout)
	assert.Equal(t, "keyring:ec2-fleet", cfg.Cloud.PrivateKey)
	assert.Equal(t, "eu-west-1", cfg.Cloud.Region)
	assert.True(t, cfg.Cloud.ResolveEC2)
	assert.Equal(t, ExporterOTLPGRPC, cfg.Tracing.Exporter)
	assert.Equal(t, "collector:4317", cfg.Tracing.Endpoint)
}

func TestLoadFromEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hook:\n  script: echo inline\n  shell: sh\n"), 0o600))

	t.Setenv("NODEHOOK_SCRIPT_FILE", "/srv/hook.sh")
	t.Setenv("NODEHOOK_CLOSE_TIMEOUT", "250ms")
	t.Setenv("NODEHOOK_PRIVATE_KEY", "env:EC2_KEY")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("NODEHOOK_JOURNAL_ENABLED", "false")
	t.Setenv("NODEHOOK_PID_FILE", "/run/nodehook.pid")
	t.Setenv("NODEHOOK_AUTH_SECRET", "keyring:api")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/hook.sh", cfg.Hook.ScriptFile)
	assert.Empty(t, cfg.Hook.Script, "script file from the environment replaces the inline script")
	assert.Equal(t, 250*time.Millisecond, cfg.Hook.CloseTimeout)
	assert.Equal(t, "env:EC2_KEY", cfg.Cloud.PrivateKey)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "/run/nodehook.pid", cfg.Server.PIDFile)
	assert.Equal(t, "keyring:api", cfg.Server.AuthSecret)
}

func TestLoadInvalidFile(t *testing.T) {
	clearEnv(t)
	_, err := Load("/nonexistent/config.yaml")
	var cfgErr *nherrors.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "config_file", cfgErr.Key)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hook: [unterminated"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	if !strings.Contains(err.Error(), "config_file") {
		t.Errorf("expected config_file error, got %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	assert.Equal(t, "/explicit.yaml", ResolvePath("/explicit.yaml"))
	assert.Empty(t, ResolvePath(""), "missing default file means no file")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nodehook"), 0o700))
	def := filepath.Join(dir, "nodehook", "config.yaml")
	require.NoError(t, os.WriteFile(def, []byte("{}"), 0o600))
	assert.Equal(t, def, ResolvePath(""))
}
