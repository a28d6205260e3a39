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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSSHAddress(t *testing.T) {
	tests := []struct {
		name string
		dns  string
		ip   string
		want string
	}{
		{name: "dns preferred", dns: "node.example.com", ip: "10.0.0.1", want: "node.example.com"},
		{name: "ip when dns empty", dns: "", ip: "10.0.0.1", want: "10.0.0.1"},
		{name: "ip when dns blank", dns: "   ", ip: "10.0.0.1", want: "10.0.0.1"},
		{name: "neither", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Facts{PublicDNS: tt.dns, PublicIP: tt.ip}
			assert.Equal(t, tt.want, f.SSHAddress())
		})
	}
}

func TestEnvironment_OverlayReplacesInherited(t *testing.T) {
	facts := &Facts{
		Name:    "agent-1",
		Labels:  "gpu",
		SSHPort: 22,
		SSHUser: "ubuntu",
		ImageID: "ami-1",
		BaseEnv: []string{
			"PATH=/usr/bin",
			"ssh_user=stale",
			"node_name=stale",
			"EMPTY=",
			"NOEQUALS",
		},
	}

	env := Environment(facts, "/tmp/k.pem")

	assert.Equal(t, []string{
		"PATH=/usr/bin",
		"EMPTY=",
		"NOEQUALS",
		"ssh_identity=/tmp/k.pem",
		"ssh_port=22",
		"ssh_user=ubuntu",
		"ssh_ip=",
		"node_name=agent-1",
		"node_labels=gpu",
		"ec2_image=ami-1",
	}, env)
}

func TestNormalizeScript(t *testing.T) {
	assert.Equal(t, "a\nb\n", NormalizeScript("a\r\nb\r\n"))
	assert.Equal(t, "a\rb\n", NormalizeScript("a\rb\n"), "lone CR is left alone")
}

func TestIsBlank(t *testing.T) {
	assert.True(t, IsBlank(""))
	assert.True(t, IsBlank(" \r\n\t"))
	assert.False(t, IsBlank(" echo "))
}
