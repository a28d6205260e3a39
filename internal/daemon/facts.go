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
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/tombee/nodehook/internal/cloud"
	"github.com/tombee/nodehook/internal/daemon/api"
	"github.com/tombee/nodehook/internal/hook"
	"github.com/tombee/nodehook/internal/log"
	"github.com/tombee/nodehook/internal/secrets"
	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// InstanceDescriber looks up a cloud instance by id.
type InstanceDescriber interface {
	Describe(ctx context.Context, instanceID string) (*cloud.Instance, error)
}

// KeyResolver resolves a secret reference to its value.
type KeyResolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// factsResolver builds hook facts from an online request.
type factsResolver struct {
	keys    KeyResolver
	keyRef  string
	ec2     InstanceDescriber
	environ func() []string
	logger  *slog.Logger
}

func newFactsResolver(keys KeyResolver, keyRef string, ec2 InstanceDescriber, logger *slog.Logger) *factsResolver {
	return &factsResolver{
		keys:    keys,
		keyRef:  keyRef,
		ec2:     ec2,
		environ: os.Environ,
		logger:  log.WithComponent(logger, "facts"),
	}
}

// Build implements api.FactsBuilder.
func (f *factsResolver) Build(ctx context.Context, node string, req api.OnlineRequest) (*hook.Facts, error) {
	facts := &hook.Facts{
		Name:      node,
		Labels:    req.Labels,
		SSHPort:   req.SSHPort,
		SSHUser:   req.SSHUser,
		PublicDNS: req.PublicDNS,
		PublicIP:  req.PublicIP,
		ImageID:   req.ImageID,
	}
	logger := log.WithNode(f.logger, node)

	if req.InstanceID != "" && f.ec2 != nil {
		inst, err := f.ec2.Describe(ctx, req.InstanceID)
		if err != nil {
			return nil, err
		}
		fillFromInstance(facts, inst)
		logger.Debug("resolved instance",
			slog.String("instance_id", inst.ID),
			slog.String("state", inst.State),
		)
	}

	key, err := f.keys.Resolve(ctx, f.keyRef)
	if err != nil {
		return nil, nherrors.Wrap(err, "resolve private key")
	}
	facts.PrivateKey = withTrailingNewline(key)
	if facts.PrivateKey != "" {
		if fp, err := secrets.Fingerprint(facts.PrivateKey); err == nil {
			logger.Debug("private key resolved", slog.String("fingerprint", fp))
		} else {
			logger.Warn("private key is not a parseable SSH key", log.Error(err))
		}
	}

	facts.BaseEnv = overlayEnv(f.environ(), req.Env)
	return facts, nil
}

// fillFromInstance only fills fields the request left blank.
func fillFromInstance(facts *hook.Facts, inst *cloud.Instance) {
	if facts.PublicDNS == "" {
		facts.PublicDNS = inst.PublicDNS
	}
	if facts.PublicIP == "" {
		facts.PublicIP = inst.PublicIP
	}
	if facts.ImageID == "" {
		facts.ImageID = inst.ImageID
	}
}

// OpenSSH refuses key files whose last line is unterminated.
func withTrailingNewline(key string) string {
	if key == "" || strings.HasSuffix(key, "\n") {
		return key
	}
	return key + "\n"
}

// overlayEnv replaces inherited variables named in overlay and appends
// the overlay in key order.
func overlayEnv(base []string, overlay map[string]string) []string {
	out := make([]string, 0, len(base)+len(overlay))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, ok := overlay[name]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(overlay))
	for k := range overlay {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		out = append(out, k+"="+overlay[k])
	}
	return out
}
