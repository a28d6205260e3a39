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

// Package config implements the 'nodehook config' commands.
package config

import (
	"fmt"
	"io"
	"regexp"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/log"
)

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and validate configuration",
		Long: `View and validate nodehook configuration.

Subcommands:
  show     - Display the effective configuration
  path     - Show config file location
  validate - Check the configuration and, optionally, the private key`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(NewValidateCommand())

	// If no subcommand provided, default to 'show'
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return runConfigShow(cmd, args)
	}

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults, the config file and
environment overrides are applied. A private key given inline rather
than as a reference is masked.`,
		Args: cobra.NoArgs,
		RunE: runConfigShow,
	}
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show config file location",
		Args:  cobra.NoArgs,
		RunE:  runConfigPath,
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(config.ResolvePath(shared.GetConfigPath()))
	if err != nil {
		return shared.NewInvalidConfigError("failed to load config", err)
	}
	masked := maskSensitiveConfig(cfg)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, masked)
	}
	return outputConfigYAML(out, masked)
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	cfgPath := shared.GetConfigPath()
	if cfgPath == "" {
		var err error
		cfgPath, err = config.ConfigPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}
	fmt.Fprintln(cmd.OutOrStdout(), cfgPath)
	return nil
}

var referencePattern = regexp.MustCompile(`^(\$\{[A-Za-z_][A-Za-z0-9_]*\}|[a-z]+:[^\n]+)$`)

// maskSensitiveConfig masks a private key or auth secret given inline.
// References (env:, file:, keyring:, ${VAR}) are shown as is.
func maskSensitiveConfig(cfg *config.Config) *config.Config {
	masked := *cfg
	masked.Cloud.PrivateKey = maskInline(masked.Cloud.PrivateKey)
	masked.Server.AuthSecret = maskInline(masked.Server.AuthSecret)
	return &masked
}

func maskInline(value string) string {
	if value == "" || referencePattern.MatchString(value) {
		return value
	}
	return log.SanitizeSecret(value)
}

func outputConfigYAML(out io.Writer, cfg *config.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	_, err = out.Write(data)
	return err
}
