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

package api

import (
	"regexp"
	"time"

	"github.com/tombee/nodehook/internal/hook"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// DefaultSSHPort is used when an online request leaves ssh_port unset.
const DefaultSSHPort = 22

var nodeNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._@-]{0,252}$`)

// ValidateNodeName rejects names that cannot safely become a log file
// name or a map key.
func ValidateNodeName(name string) error {
	if !nodeNamePattern.MatchString(name) {
		return &nherrors.ValidationError{Field: "name", Message: "node name must be alphanumeric with . _ @ - and at most 253 characters"}
	}
	return nil
}

// OnlineRequest is the body of POST /v1/nodes/{name}/online.
type OnlineRequest struct {
	Labels    string `json:"labels,omitempty"`
	SSHPort   int    `json:"ssh_port,omitempty"`
	SSHUser   string `json:"ssh_user,omitempty"`
	PublicDNS string `json:"public_dns,omitempty"`
	PublicIP  string `json:"public_ip,omitempty"`
	ImageID   string `json:"image_id,omitempty"`

	// InstanceID lets the daemon complete missing addresses and the
	// image from EC2.
	InstanceID string `json:"instance_id,omitempty"`

	// Env is overlaid on the daemon's environment for this hook.
	Env map[string]string `json:"env,omitempty"`

	// Unmanaged marks a node that is not a cloud node. No hook runs.
	Unmanaged bool `json:"unmanaged,omitempty"`
}

// Validate checks the request and fills defaults.
func (r *OnlineRequest) Validate() error {
	if r.SSHPort == 0 {
		r.SSHPort = DefaultSSHPort
	}
	if r.SSHPort < 1 || r.SSHPort > 65535 {
		return &nherrors.ValidationError{Field: "ssh_port", Message: "must be between 1 and 65535"}
	}
	for k := range r.Env {
		if k == "" {
			return &nherrors.ValidationError{Field: "env", Message: "empty variable name"}
		}
	}
	return nil
}

// OnlineResponse reports whether a hook was started.
type OnlineResponse struct {
	Node      string `json:"node"`
	Activated bool   `json:"activated"`
}

// OfflineResponse acknowledges a completed teardown.
type OfflineResponse struct {
	Node string `json:"node"`
}

// NodesResponse lists every tracked node.
type NodesResponse struct {
	Nodes []hook.Status `json:"nodes"`
}

// HealthResponse is returned by GET /v1/health.
type HealthResponse struct {
	Status  string        `json:"status"`
	Version string        `json:"version"`
	Uptime  time.Duration `json:"uptime_ns"`
	Nodes   int           `json:"nodes"`
}

// VersionResponse is returned by GET /v1/version.
type VersionResponse struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}
