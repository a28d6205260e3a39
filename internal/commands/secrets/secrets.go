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

// Package secrets implements 'nodehook secrets', which seeds and checks
// the private key handed to hooks.
package secrets

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/secrets"
)

// maxKeySize bounds key input read from stdin.
const maxKeySize = 64 * 1024

// KeyStore saves a secret under a name.
type KeyStore interface {
	Store(name, value string) error
}

// NewCommand creates the secrets command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Store and check the cloud private key",
		Long: `Store and check the cloud private key handed to hooks.

The key is referenced from cloud.private_key as one of:
  env:NAME       environment variable
  file:/path     file readable only by its owner
  keyring:NAME   entry in the OS keyring, under service "nodehook"`,
	}

	cmd.AddCommand(newSetKeyCommand(secrets.NewKeyringProvider(secrets.DefaultKeyringService)))
	cmd.AddCommand(newFingerprintCommand())

	return cmd
}

func newSetKeyCommand(store KeyStore) *cobra.Command {
	var allowUnparseable bool

	cmd := &cobra.Command{
		Use:   "set-key <name>",
		Short: "Store a private key in the OS keyring",
		Long: `Store a PEM private key in the OS keyring, read from standard input.
Reference it afterwards as keyring:<name> in cloud.private_key.`,
		Example: `  nodehook secrets set-key ci-fleet < ~/.ssh/ci-fleet.pem`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetKey(cmd, store, args[0], allowUnparseable)
		},
	}

	cmd.Flags().BoolVar(&allowUnparseable, "allow-unparseable", false, "Store keys that cannot be parsed (e.g. passphrase protected)")

	return cmd
}

func runSetKey(cmd *cobra.Command, store KeyStore, name string, allowUnparseable bool) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return fmt.Errorf("invalid key name %q", name)
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Paste the PEM private key, then press Ctrl-D:")
	}

	data, err := io.ReadAll(io.LimitReader(in, maxKeySize+1))
	if err != nil {
		return fmt.Errorf("failed to read key: %w", err)
	}
	if len(data) > maxKeySize {
		return fmt.Errorf("key exceeds %d bytes", maxKeySize)
	}
	key := string(data)
	if strings.TrimSpace(key) == "" {
		return errors.New("key cannot be empty")
	}

	fp, fpErr := secrets.Fingerprint(key)
	if fpErr != nil && !allowUnparseable {
		return fmt.Errorf("refusing to store key: %w", fpErr)
	}

	if err := store.Store(name, key); err != nil {
		return fmt.Errorf("failed to store key in keyring: %w", err)
	}

	out := cmd.OutOrStdout()
	msg := fmt.Sprintf("stored key %s; reference it as keyring:%s", name, name)
	if fp != "" {
		msg += " (" + fp + ")"
	}
	fmt.Fprintln(out, shared.RenderOK(msg))
	return nil
}

func newFingerprintCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fingerprint [reference]",
		Short: "Resolve a key reference and print its fingerprint",
		Long: `Resolve a key reference and print its SHA256 fingerprint. Without an
argument the configured cloud.private_key is used. The key itself is
never printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref := ""
			if len(args) == 1 {
				ref = args[0]
			} else {
				cfg, err := config.Load(config.ResolvePath(shared.GetConfigPath()))
				if err != nil {
					return shared.NewInvalidConfigError("failed to load configuration", err)
				}
				ref = cfg.Cloud.PrivateKey
			}
			if strings.TrimSpace(ref) == "" {
				return errors.New("no key reference given and cloud.private_key is empty")
			}

			key, err := secrets.NewDefaultRegistry().Resolve(cmd.Context(), ref)
			if err != nil {
				return err
			}
			fp, err := secrets.Fingerprint(key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), fp)
			return nil
		},
	}
}
