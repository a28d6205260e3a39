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

// Package token implements 'nodehook token', which mints API tokens for
// the orchestrator that reports node transitions.
package token

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/daemon/auth"
	"github.com/tombee/nodehook/internal/secrets"
)

// Result is the JSON output of token.
type Result struct {
	Token     string    `json:"token"`
	Subject   string    `json:"subject"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

type options struct {
	subject string
	scopes  []string
	ttl     time.Duration
}

// NewCommand creates the token command.
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API token signed with server.auth_secret",
		Long: `Mint a bearer token for the daemon API. The token is signed with the
secret that server.auth_secret points at, so it is only accepted by
daemons sharing that secret.

Tokens carry scopes: nodes:read lists nodes, nodes:write reports
online and offline transitions.`,
		Example: `  # Token for an orchestrator, valid for a day
  nodehook token --subject ci-controller --ttl 24h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.ResolvePath(shared.GetConfigPath()))
			if err != nil {
				return shared.NewInvalidConfigError("failed to load configuration", err)
			}
			return run(cmd.Context(), cmd.OutOrStdout(), cfg, secrets.NewDefaultRegistry(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.subject, "subject", "orchestrator", "Subject recorded in the token and in daemon logs")
	cmd.Flags().StringSliceVar(&opts.scopes, "scope", []string{auth.ScopeNodesWrite}, "Scopes to grant (repeatable)")
	cmd.Flags().DurationVar(&opts.ttl, "ttl", time.Hour, "Token lifetime")

	return cmd
}

func run(ctx context.Context, out io.Writer, cfg *config.Config, keys shared.KeyResolver, opts options) error {
	if cfg.Server.AuthSecret == "" {
		return shared.NewInvalidConfigError("server.auth_secret is not set; the API accepts requests without tokens", nil)
	}
	secret, err := keys.Resolve(ctx, cfg.Server.AuthSecret)
	if err != nil {
		return fmt.Errorf("resolve auth secret: %w", err)
	}

	signed, err := auth.Generate(auth.Config{Secret: []byte(secret)}, opts.subject, opts.scopes, opts.ttl)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, Result{
			Token:     signed,
			Subject:   opts.subject,
			Scopes:    opts.scopes,
			ExpiresAt: time.Now().Add(opts.ttl).UTC().Truncate(time.Second),
		})
	}
	fmt.Fprintln(out, signed)
	return nil
}
