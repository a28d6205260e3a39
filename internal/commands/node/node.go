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

// Package node implements the 'nodehook node' commands, which report
// node transitions to a running daemon.
package node

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/nodehook/internal/commands/completion"
	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/daemon/api"
	"github.com/tombee/nodehook/internal/hook"
)

// NewCommand creates the node command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Report node transitions to the daemon",
		Long: `Report node transitions to a running nodehook daemon.

Orchestrators call 'node online' just before a node accepts work and
'node offline' once it is gone.`,
	}

	cmd.AddCommand(newOnlineCommand())
	cmd.AddCommand(newOfflineCommand())
	cmd.AddCommand(newListCommand())

	return cmd
}

func newOnlineCommand() *cobra.Command {
	var req api.OnlineRequest

	cmd := &cobra.Command{
		Use:   "online <name>",
		Short: "Report a node that is about to come online",
		Example: `  # Node reachable by IP with a non-default user
  nodehook node online agent-7 --public-ip 203.0.113.7 --ssh-user ec2-user

  # Let the daemon look the addresses up in EC2
  nodehook node online agent-8 --instance-id i-0abc123 --labels "linux docker"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOnline(cmd.Context(), cmd.OutOrStdout(), args[0], req)
		},
	}

	bindOnlineFlags(cmd.Flags(), &req)

	return cmd
}

// bindOnlineFlags maps one flag onto each OnlineRequest field.
func bindOnlineFlags(f *pflag.FlagSet, req *api.OnlineRequest) {
	f.StringVar(&req.Labels, "labels", "", "Node labels, passed to the hook as node_labels")
	f.IntVar(&req.SSHPort, "ssh-port", api.DefaultSSHPort, "SSH port of the node")
	f.StringVar(&req.SSHUser, "ssh-user", "", "SSH user of the node")
	f.StringVar(&req.PublicDNS, "public-dns", "", "Public DNS name of the node")
	f.StringVar(&req.PublicIP, "public-ip", "", "Public IP of the node")
	f.StringVar(&req.ImageID, "image-id", "", "Image the node was booted from")
	f.StringVar(&req.InstanceID, "instance-id", "", "EC2 instance id, used to fill missing addresses")
	f.StringToStringVar(&req.Env, "env", nil, "Extra hook environment (KEY=VALUE, repeatable)")
	f.BoolVar(&req.Unmanaged, "unmanaged", false, "Node is not a cloud node; record the transition without running a hook")
}

func runOnline(ctx context.Context, out io.Writer, name string, req api.OnlineRequest) error {
	if err := api.ValidateNodeName(name); err != nil {
		return err
	}
	c, err := shared.NewDaemonClient(ctx)
	if err != nil {
		return err
	}
	resp, err := c.Online(ctx, name, req)
	if err != nil {
		return err
	}

	if shared.GetJSON() {
		return shared.EmitJSON(out, resp)
	}
	if resp.Activated {
		fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("hook started for %s", name)))
	} else {
		fmt.Fprintln(out, shared.RenderWarn(fmt.Sprintf("no hook started for %s", name)))
	}
	return nil
}

func newOfflineCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "offline <name>",
		Short: "Report a node that went offline",
		Long: `Report a node that went offline. The daemon stops its hook, waits for
it to exit and deletes the key and script files. Every failure is
listed and the command exits non-zero.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteNodes,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOffline(cmd.Context(), cmd.OutOrStdout(), args[0])
		},
	}
}

func runOffline(ctx context.Context, out io.Writer, name string) error {
	if err := api.ValidateNodeName(name); err != nil {
		return err
	}
	c, err := shared.NewDaemonClient(ctx)
	if err != nil {
		return err
	}
	if err := c.Offline(ctx, name); err != nil {
		return err
	}
	if shared.GetJSON() {
		return shared.EmitJSON(out, api.OfflineResponse{Node: name})
	}
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s torn down", name)))
	return nil
}

func newListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List nodes tracked by the daemon",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func runList(ctx context.Context, out io.Writer) error {
	c, err := shared.NewDaemonClient(ctx)
	if err != nil {
		return err
	}
	resp, err := c.Nodes(ctx)
	if err != nil {
		return err
	}
	if shared.GetJSON() {
		return shared.EmitJSON(out, resp)
	}
	if len(resp.Nodes) == 0 {
		fmt.Fprintln(out, shared.Muted.Render("no nodes tracked"))
		return nil
	}
	renderNodes(out, resp.Nodes, time.Now())
	return nil
}

func renderNodes(out io.Writer, nodes []hook.Status, now time.Time) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	headers := []string{"NODE", "STATE", "PID", "FILES", "AGE"}
	for i, h := range headers {
		headers[i] = shared.Header.Render(h)
	}
	fmt.Fprintln(tw, strings.Join(headers, "\t"))

	for _, n := range nodes {
		pid, age := "-", "-"
		if n.PID != 0 {
			pid = strconv.Itoa(n.PID)
		}
		if !n.StartedAt.IsZero() {
			age = now.Sub(n.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", n.Node, stateLabel(n), pid, n.Artifacts, age)
	}
	_ = tw.Flush()
}

func stateLabel(n hook.Status) string {
	switch {
	case n.Running:
		return shared.StatusOK.Render("running")
	case n.Active:
		return shared.StatusWarn.Render("exited")
	default:
		return shared.Muted.Render("idle")
	}
}
