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

// Package config loads the nodehook configuration from YAML and the
// environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// Tracing exporters.
const (
	ExporterNone     = "none"
	ExporterStdout   = "stdout"
	ExporterOTLPHTTP = "otlp-http"
	ExporterOTLPGRPC = "otlp-grpc"
)

// Config represents the complete nodehook configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Hook    HookConfig    `yaml:"hook"`
	Cloud   CloudConfig   `yaml:"cloud"`
	Journal JournalConfig `yaml:"journal"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the HTTP API of the daemon.
type ServerConfig struct {
	// Listen is the TCP address the API binds to.
	// Environment: NODEHOOK_LISTEN
	// Default: 127.0.0.1:9191
	Listen string `yaml:"listen"`

	// ShutdownTimeout bounds graceful shutdown, including teardown of
	// every tracked node.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// PIDFile is locked while the daemon runs so a second daemon, or a
	// sweep, cannot touch files a live one owns. Empty disables it.
	// Environment: NODEHOOK_PID_FILE
	PIDFile string `yaml:"pid_file"`

	// AuthSecret is a secret reference (env:, file: or keyring:) to the
	// HS256 key that signs API tokens. Empty leaves the node routes open.
	// Environment: NODEHOOK_AUTH_SECRET
	AuthSecret string `yaml:"auth_secret,omitempty"`
}

// LogConfig configures daemon logging.
type LogConfig struct {
	Level     string `yaml:"level"`
	Format    string `yaml:"format"`
	AddSource bool   `yaml:"add_source"`
}

// HookConfig configures the hook run for each node.
type HookConfig struct {
	// Script is the inline hook body. Mutually exclusive with ScriptFile.
	Script string `yaml:"script,omitempty"`

	// ScriptFile is read at start and reloaded when it changes.
	// Environment: NODEHOOK_SCRIPT_FILE
	ScriptFile string `yaml:"script_file,omitempty"`

	// Shell interprets the script.
	// Default: bash
	Shell string `yaml:"shell"`

	// TempDir holds key and script files. Empty means os.TempDir().
	// Environment: NODEHOOK_TEMP_DIR
	TempDir string `yaml:"temp_dir,omitempty"`

	// CloseTimeout bounds the wait for a hook to exit on offline.
	// Default: 10s
	CloseTimeout time.Duration `yaml:"close_timeout"`

	// LogDir receives one <node>.log file per node.
	// Environment: NODEHOOK_LOG_DIR
	LogDir string `yaml:"log_dir"`
}

// CloudConfig configures access to the cloud provider.
type CloudConfig struct {
	// PrivateKey is a secret reference (env:, file: or keyring:) to the
	// PEM key handed to hooks.
	// Environment: NODEHOOK_PRIVATE_KEY
	PrivateKey string `yaml:"private_key"`

	// Region for EC2 lookups. Empty uses the SDK's default chain.
	// Environment: AWS_REGION
	Region string `yaml:"region,omitempty"`

	// ResolveEC2 fills missing DNS, IP and image from DescribeInstances
	// when an online request carries an instance id.
	ResolveEC2 bool `yaml:"resolve_ec2"`

	// ValidateCredentials calls STS GetCallerIdentity at startup.
	ValidateCredentials bool `yaml:"validate_credentials"`
}

// JournalConfig configures the on-disk journal of temporary files.
type JournalConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path of the SQLite database.
	// Environment: NODEHOOK_JOURNAL_PATH
	Path string `yaml:"path"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Exporter is one of none, stdout, otlp-http, otlp-grpc.
	// Environment: NODEHOOK_TRACING_EXPORTER
	Exporter string `yaml:"exporter"`

	// Endpoint for OTLP exporters (host:port).
	// Environment: OTEL_EXPORTER_OTLP_ENDPOINT
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS for OTLP exporters.
	Insecure bool `yaml:"insecure,omitempty"`

	ServiceName string `yaml:"service_name"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	dataDir := defaultDataDir()

	return &Config{
		Server: ServerConfig{
			Listen:          "127.0.0.1:9191",
			ShutdownTimeout: 30 * time.Second,
			PIDFile:         filepath.Join(dataDir, "nodehook.pid"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Hook: HookConfig{
			Shell:        "bash",
			CloseTimeout: 10 * time.Second,
			LogDir:       filepath.Join(dataDir, "logs"),
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "journal.db"),
		},
		Tracing: TracingConfig{
			Exporter:    ExporterNone,
			ServiceName: "nodehook",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Load loads configuration from an optional YAML file and then from the
// environment. Environment variables take precedence over the file.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &nherrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero values left by a minimal config file.
func (c *Config) applyDefaults() {
	def := Default()
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = def.Log.Format
	}
	if c.Hook.Shell == "" {
		c.Hook.Shell = def.Hook.Shell
	}
	if c.Hook.CloseTimeout == 0 {
		c.Hook.CloseTimeout = def.Hook.CloseTimeout
	}
	if c.Hook.LogDir == "" {
		c.Hook.LogDir = def.Hook.LogDir
	}
	if c.Journal.Path == "" {
		c.Journal.Path = def.Journal.Path
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = def.Tracing.Exporter
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = def.Tracing.ServiceName
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	path, err := expandHome(path)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("NODEHOOK_LISTEN"); val != "" {
		c.Server.Listen = val
	}
	if val := os.Getenv("NODEHOOK_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Server.ShutdownTimeout = d
		}
	}

	if val := os.Getenv("LOG_LEVEL"); val != "" {
		c.Log.Level = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_FORMAT"); val != "" {
		c.Log.Format = strings.ToLower(val)
	}
	if val := os.Getenv("LOG_SOURCE"); val != "" {
		c.Log.AddSource = parseBool(val)
	}

	if val := os.Getenv("NODEHOOK_SCRIPT_FILE"); val != "" {
		c.Hook.ScriptFile = val
		c.Hook.Script = ""
	}
	if val := os.Getenv("NODEHOOK_AUTH_SECRET"); val != "" {
		c.Server.AuthSecret = val
	}
	if val := os.Getenv("NODEHOOK_PID_FILE"); val != "" {
		c.Server.PIDFile = val
	}
	if val := os.Getenv("NODEHOOK_SHELL"); val != "" {
		c.Hook.Shell = val
	}
	if val := os.Getenv("NODEHOOK_TEMP_DIR"); val != "" {
		c.Hook.TempDir = val
	}
	if val := os.Getenv("NODEHOOK_CLOSE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Hook.CloseTimeout = d
		}
	}
	if val := os.Getenv("NODEHOOK_LOG_DIR"); val != "" {
		c.Hook.LogDir = val
	}

	if val := os.Getenv("NODEHOOK_PRIVATE_KEY"); val != "" {
		c.Cloud.PrivateKey = val
	}
	if val := os.Getenv("AWS_REGION"); val != "" && c.Cloud.Region == "" {
		c.Cloud.Region = val
	}
	if val := os.Getenv("NODEHOOK_RESOLVE_EC2"); val != "" {
		c.Cloud.ResolveEC2 = parseBool(val)
	}

	if val := os.Getenv("NODEHOOK_JOURNAL_ENABLED"); val != "" {
		c.Journal.Enabled = parseBool(val)
	}
	if val := os.Getenv("NODEHOOK_JOURNAL_PATH"); val != "" {
		c.Journal.Path = val
	}

	if val := os.Getenv("NODEHOOK_TRACING_EXPORTER"); val != "" {
		c.Tracing.Exporter = strings.ToLower(val)
	}
	if val := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); val != "" {
		c.Tracing.Endpoint = val
	}

	if val := os.Getenv("NODEHOOK_METRICS_ENABLED"); val != "" {
		c.Metrics.Enabled = parseBool(val)
	}
}

// Validate checks that the configuration is valid. All problems are
// reported together in one *errors.ConfigError.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Listen == "" {
		errs = append(errs, "server.listen is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("server.shutdown_timeout must be positive, got %v", c.Server.ShutdownTimeout))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("log.level must be one of [debug, info, warn, warning, error], got %q", c.Log.Level))
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	if c.Hook.Script != "" && c.Hook.ScriptFile != "" {
		errs = append(errs, "hook.script and hook.script_file are mutually exclusive")
	}
	if strings.TrimSpace(c.Hook.Shell) == "" {
		errs = append(errs, "hook.shell is required")
	}
	if c.Hook.CloseTimeout <= 0 {
		errs = append(errs, fmt.Sprintf("hook.close_timeout must be positive, got %v", c.Hook.CloseTimeout))
	}
	if c.Hook.LogDir == "" {
		errs = append(errs, "hook.log_dir is required")
	}

	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout, ExporterOTLPHTTP, ExporterOTLPGRPC:
	default:
		errs = append(errs, fmt.Sprintf("tracing.exporter must be one of [none, stdout, otlp-http, otlp-grpc], got %q", c.Tracing.Exporter))
	}

	if len(errs) > 0 {
		return &nherrors.ConfigError{
			Key:    "validation",
			Reason: strings.Join(errs, "; "),
		}
	}
	return nil
}

func parseBool(val string) bool {
	b, err := strconv.ParseBool(val)
	return err == nil && b
}

func expandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, path[2:]), nil
}
