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

package main

import (
	"github.com/tombee/nodehook/internal/cli"
	"github.com/tombee/nodehook/internal/commands/completion"
	configcmd "github.com/tombee/nodehook/internal/commands/config"
	"github.com/tombee/nodehook/internal/commands/node"
	"github.com/tombee/nodehook/internal/commands/secrets"
	"github.com/tombee/nodehook/internal/commands/serve"
	"github.com/tombee/nodehook/internal/commands/sweep"
	"github.com/tombee/nodehook/internal/commands/token"
	versioncmd "github.com/tombee/nodehook/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Daemon
	rootCmd.AddCommand(serve.NewServeCommand())

	// Daemon clients
	rootCmd.AddCommand(node.NewCommand())

	// Configuration and credentials
	rootCmd.AddCommand(configcmd.NewConfigCommand())
	rootCmd.AddCommand(secrets.NewCommand())
	rootCmd.AddCommand(token.NewCommand())
	rootCmd.AddCommand(sweep.NewCommand())

	rootCmd.AddCommand(versioncmd.NewVersionCommand())
	rootCmd.AddCommand(completion.NewCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
