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

package hook

import (
	"strconv"
	"strings"
)

// Environment variable names exposed to the hook.
const (
	EnvSSHIdentity = "ssh_identity"
	EnvSSHPort     = "ssh_port"
	EnvSSHUser     = "ssh_user"
	EnvSSHIP       = "ssh_ip"
	EnvNodeName    = "node_name"
	EnvNodeLabels  = "node_labels"
	EnvEC2Image    = "ec2_image"
)

// Facts describes the node a hook runs against. It is read-only input
// to Activate.
type Facts struct {
	// Name is the unique node identity.
	Name string

	// Labels is the node's label string, passed through verbatim.
	Labels string

	SSHPort int
	SSHUser string

	// PublicDNS is preferred over PublicIP when reaching the node.
	PublicDNS string
	PublicIP  string

	// ImageID is the cloud image the node was booted from.
	ImageID string

	// PrivateKey is the PEM encoded cloud credential. It is only ever
	// written to an owner-read-only temporary file.
	PrivateKey string

	// BaseEnv is the inherited environment in KEY=VALUE form.
	BaseEnv []string
}

// SSHAddress returns the DNS name, falling back to the public IP. It is
// empty when neither is known.
func (f *Facts) SSHAddress() string {
	if strings.TrimSpace(f.PublicDNS) != "" {
		return f.PublicDNS
	}
	return f.PublicIP
}

// NormalizeScript converts CRLF line endings to LF.
func NormalizeScript(script string) string {
	return strings.ReplaceAll(script, "\r\n", "\n")
}

// IsBlank reports whether a script is empty or whitespace only, which
// disables the hook.
func IsBlank(script string) bool {
	return strings.TrimSpace(script) == ""
}

// Environment builds the hook's environment: the base environment with
// every overlay variable replaced by the node's value.
func Environment(facts *Facts, identityPath string) []string {
	overlay := []struct{ key, value string }{
		{EnvSSHIdentity, identityPath},
		{EnvSSHPort, strconv.Itoa(facts.SSHPort)},
		{EnvSSHUser, facts.SSHUser},
		{EnvSSHIP, facts.SSHAddress()},
		{EnvNodeName, facts.Name},
		{EnvNodeLabels, facts.Labels},
		{EnvEC2Image, facts.ImageID},
	}

	overlaid := make(map[string]bool, len(overlay))
	for _, kv := range overlay {
		overlaid[kv.key] = true
	}

	env := make([]string, 0, len(facts.BaseEnv)+len(overlay))
	for _, entry := range facts.BaseEnv {
		key, _, _ := strings.Cut(entry, "=")
		if overlaid[key] {
			continue
		}
		env = append(env, entry)
	}
	for _, kv := range overlay {
		env = append(env, kv.key+"="+kv.value)
	}
	return env
}
