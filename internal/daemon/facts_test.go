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

package daemon

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/tombee/nodehook/internal/cloud"
	"github.com/tombee/nodehook/internal/daemon/api"
	"github.com/tombee/nodehook/internal/log"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

type mapKeys map[string]string

func (m mapKeys) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := m[ref]
	if !ok {
		return "", errors.New("no such secret")
	}
	return v, nil
}

type fakeInstances struct {
	inst  *cloud.Instance
	err   error
	calls int
}

func (f *fakeInstances) Describe(_ context.Context, id string) (*cloud.Instance, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.inst, nil
}

func newTestResolver(keys KeyResolver, ec2 InstanceDescriber) *factsResolver {
	f := newFactsResolver(keys, "env:KEY", ec2, log.Discard())
	f.environ = func() []string { return []string{"PATH=/usr/bin", "HOME=/root", "REGION=eu-west-1"} }
	return f
}

func generateKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block))
}

func TestFactsFromRequest(t *testing.T) {
	key := generateKey(t)
	f := newTestResolver(mapKeys{"env:KEY": key}, nil)

	facts, err := f.Build(context.Background(), "agent-1", api.OnlineRequest{
		Labels:   "linux gpu",
		SSHPort:  2222,
		SSHUser:  "admin",
		PublicIP: "203.0.113.9",
		ImageID:  "ami-123",
		Env:      map[string]string{"REGION": "us-east-1", "EXTRA": "1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "agent-1", facts.Name)
	assert.Equal(t, "linux gpu", facts.Labels)
	assert.Equal(t, 2222, facts.SSHPort)
	assert.Equal(t, "admin", facts.SSHUser)
	assert.Equal(t, "203.0.113.9", facts.SSHAddress())
	assert.Equal(t, "ami-123", facts.ImageID)
	assert.Equal(t, key, facts.PrivateKey)
	assert.Equal(t, []string{"PATH=/usr/bin", "HOME=/root", "EXTRA=1", "REGION=us-east-1"}, facts.BaseEnv)
}

func TestFactsFromInstance(t *testing.T) {
	t.Run("fills blanks only", func(t *testing.T) {
		ec2 := &fakeInstances{inst: &cloud.Instance{
			ID:        "i-1",
			PublicDNS: "ec2-1.compute.amazonaws.com",
			PublicIP:  "198.51.100.1",
			ImageID:   "ami-from-ec2",
		}}
		f := newTestResolver(mapKeys{"env:KEY": "k"}, ec2)

		facts, err := f.Build(context.Background(), "agent-1", api.OnlineRequest{
			InstanceID: "i-1",
			ImageID:    "ami-explicit",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, ec2.calls)
		assert.Equal(t, "ec2-1.compute.amazonaws.com", facts.PublicDNS)
		assert.Equal(t, "198.51.100.1", facts.PublicIP)
		assert.Equal(t, "ami-explicit", facts.ImageID)
	})

	t.Run("no lookup without instance id", func(t *testing.T) {
		ec2 := &fakeInstances{}
		f := newTestResolver(mapKeys{"env:KEY": "k"}, ec2)

		_, err := f.Build(context.Background(), "agent-1", api.OnlineRequest{})
		require.NoError(t, err)
		assert.Zero(t, ec2.calls)
	})

	t.Run("lookup failure fails the build", func(t *testing.T) {
		ec2 := &fakeInstances{err: &nherrors.NotFoundError{Resource: "instance", ID: "i-1"}}
		f := newTestResolver(mapKeys{"env:KEY": "k"}, ec2)

		_, err := f.Build(context.Background(), "agent-1", api.OnlineRequest{InstanceID: "i-1"})
		var nf *nherrors.NotFoundError
		assert.True(t, nherrors.As(err, &nf))
	})
}

func TestFactsPrivateKey(t *testing.T) {
	t.Run("unresolvable reference fails", func(t *testing.T) {
		f := newTestResolver(mapKeys{}, nil)
		_, err := f.Build(context.Background(), "agent-1", api.OnlineRequest{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolve private key")
	})

	t.Run("trailing newline is added", func(t *testing.T) {
		f := newTestResolver(mapKeys{"env:KEY": "-----BEGIN KEY-----\nabc\n-----END KEY-----"}, nil)
		facts, err := f.Build(context.Background(), "agent-1", api.OnlineRequest{})
		require.NoError(t, err)
		assert.Equal(t, "-----BEGIN KEY-----\nabc\n-----END KEY-----\n", facts.PrivateKey)
	})

	t.Run("empty key stays empty", func(t *testing.T) {
		f := newTestResolver(mapKeys{"env:KEY": ""}, nil)
		facts, err := f.Build(context.Background(), "agent-1", api.OnlineRequest{})
		require.NoError(t, err)
		assert.Empty(t, facts.PrivateKey)
	})
}

func TestOverlayEnv(t *testing.T) {
	got := overlayEnv([]string{"A=1", "B=2", "MALFORMED"}, map[string]string{"B": "3", "C": ""})
	assert.Equal(t, []string{"A=1", "MALFORMED", "B=3", "C="}, got)

	assert.Equal(t, []string{"A=1"}, overlayEnv([]string{"A=1"}, nil))
}
