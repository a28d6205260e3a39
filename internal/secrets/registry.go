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

package secrets

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// Provider resolves keys for one reference scheme.
type Provider interface {
	Scheme() string
	Resolve(ctx context.Context, key string) (string, error)
}

// Registry routes secret references to providers by scheme.
type Registry struct {
	providers map[string]Provider
}

var (
	// shellVarRegex matches ${VAR_NAME} syntax
	shellVarRegex = regexp.MustCompile(`^\$\{([A-Za-z_][A-Za-z0-9_]*)\}$`)

	// schemeRegex matches scheme:reference format
	schemeRegex = regexp.MustCompile(`^([a-z][a-z0-9]*):(.+)$`)
)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// NewDefaultRegistry registers the env, file and keyring providers.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(NewEnvProvider())
	_ = r.Register(NewFileProvider(FileProviderConfig{}))
	_ = r.Register(NewKeyringProvider(DefaultKeyringService))
	return r
}

// Register adds a provider. A scheme may only be registered once.
func (r *Registry) Register(p Provider) error {
	scheme := p.Scheme()
	if _, exists := r.providers[scheme]; exists {
		return fmt.Errorf("provider for scheme %q already registered", scheme)
	}
	r.providers[scheme] = p
	return nil
}

// Resolve returns the value a reference points to. An empty reference
// resolves to "", meaning no key is configured.
func (r *Registry) Resolve(ctx context.Context, reference string) (string, error) {
	if strings.TrimSpace(reference) == "" {
		return "", nil
	}

	scheme, key, ok := parseReference(reference)
	if !ok {
		return reference, nil
	}

	p, exists := r.providers[scheme]
	if !exists {
		// Scheme-looking text that no provider owns is a literal value.
		return reference, nil
	}
	if strings.TrimSpace(key) == "" {
		return "", newResolutionError(ErrorCategoryInvalidSyntax, scheme, key, "empty key", nil)
	}
	return p.Resolve(ctx, key)
}

// parseReference splits a reference into scheme and key. ok is false
// for literal values.
func parseReference(reference string) (scheme, key string, ok bool) {
	if m := shellVarRegex.FindStringSubmatch(reference); m != nil {
		return "env", m[1], true
	}
	if strings.Contains(reference, "\n") {
		return "", "", false
	}
	if m := schemeRegex.FindStringSubmatch(reference); m != nil {
		return m[1], m[2], true
	}
	return "", "", false
}
