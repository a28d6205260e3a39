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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/nodehook/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for nodehook
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodehook",
		Short: "nodehook - run a script for every cloud node that comes online",
		Long: `nodehook runs an operator-supplied shell script each time a cloud build
node is about to come online, hands it the node's SSH facts and a
read-only copy of the cloud private key, and tears everything down when
the node goes offline.

Run 'nodehook serve' to start the daemon.
Run 'nodehook node online <name>' to report a node to a running daemon.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	verbose, json, config, addr := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Output in JSON format")
	cmd.PersistentFlags().StringVar(config, "config", "", "Path to config file (default: ~/.config/nodehook/config.yaml)")
	cmd.PersistentFlags().StringVar(addr, "addr", "", "Daemon address (default: $NODEHOOK_ADDR or server.listen)")

	return cmd
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
