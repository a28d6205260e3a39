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
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/hook"
	"github.com/tombee/nodehook/internal/secrets"
)

// ValidationResult represents the result of config validation.
type ValidationResult struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors,omitempty"`
	Warnings    []string `json:"warnings,omitempty"`
	Fingerprint string   `json:"fingerprint,omitempty"`
}

// KeyResolver resolves the private key reference.
type KeyResolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// NewValidateCommand creates the 'config validate' subcommand.
func NewValidateCommand() *cobra.Command {
	var strict, resolveKey bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration file",
		Long: `Validate the configuration file.

Checks performed:
  - YAML syntax and field values
  - A hook script is configured (warning when hooks are disabled)
  - The hook script file exists, if one is configured
  - The private key reference is set (warning when empty)

With --resolve-key the private key is resolved and fingerprinted.
With --strict, warnings are treated as errors.`,
		Example: `  # Validate configuration
  nodehook config validate

  # Also check that the private key can be read
  nodehook config validate --resolve-key`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var keys KeyResolver
			if resolveKey {
				keys = secrets.NewDefaultRegistry()
			}
			result := validate(cmd.Context(), shared.GetConfigPath(), keys)
			return outputValidationResult(cmd.OutOrStdout(), result, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Treat warnings as errors")
	cmd.Flags().BoolVar(&resolveKey, "resolve-key", false, "Resolve and fingerprint the private key")

	return cmd
}

func validate(ctx context.Context, explicitPath string, keys KeyResolver) ValidationResult {
	cfg, err := config.Load(config.ResolvePath(explicitPath))
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}

	var result ValidationResult

	switch {
	case cfg.Hook.ScriptFile != "":
		if _, err := os.Stat(cfg.Hook.ScriptFile); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("hook.script_file %s is not readable; hooks stay disabled until it appears", cfg.Hook.ScriptFile))
		}
	case hook.IsBlank(cfg.Hook.Script):
		result.Warnings = append(result.Warnings, "no hook script configured; nodes will come online without a hook")
	}

	if strings.TrimSpace(cfg.Cloud.PrivateKey) == "" {
		result.Warnings = append(result.Warnings, "cloud.private_key is empty; hooks will receive an empty key file")
	} else if keys != nil {
		key, err := keys.Resolve(ctx, cfg.Cloud.PrivateKey)
		switch {
		case err != nil:
			result.Errors = append(result.Errors, fmt.Sprintf("cloud.private_key: %v", err))
		case key == "":
			result.Warnings = append(result.Warnings, "cloud.private_key resolves to an empty value")
		default:
			fp, err := secrets.Fingerprint(key)
			if err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("cloud.private_key is not a parseable SSH key: %v", err))
			}
			result.Fingerprint = fp
		}
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func outputValidationResult(out io.Writer, result ValidationResult, strict bool) error {
	if strict && len(result.Warnings) > 0 {
		result.Valid = false
	}

	if shared.GetJSON() {
		if err := shared.EmitJSON(out, result); err != nil {
			return err
		}
	} else {
		for _, e := range result.Errors {
			fmt.Fprintln(out, shared.RenderError(e))
		}
		for _, w := range result.Warnings {
			fmt.Fprintln(out, shared.RenderWarn(w))
		}
		if result.Fingerprint != "" {
			fmt.Fprintln(out, shared.RenderOK("private key "+result.Fingerprint))
		}
		if result.Valid {
			fmt.Fprintln(out, shared.RenderOK("configuration is valid"))
		}
	}

	if !result.Valid {
		return shared.NewInvalidConfigError("configuration is invalid", nil)
	}
	return nil
}
