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
	"errors"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the keyring service nodehook entries live under.
const DefaultKeyringService = "nodehook"

// KeyringProvider resolves keyring:NAME references from the OS keyring
// (macOS Keychain, Secret Service on Linux, Windows Credential Manager).
type KeyringProvider struct {
	service string
}

// NewKeyringProvider creates a keyring provider for service.
func NewKeyringProvider(service string) *KeyringProvider {
	return &KeyringProvider{service: service}
}

// Scheme implements Provider.
func (k *KeyringProvider) Scheme() string {
	return "keyring"
}

// Resolve looks up name under the provider's service.
func (k *KeyringProvider) Resolve(_ context.Context, name string) (string, error) {
	value, err := keyring.Get(k.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", newResolutionError(ErrorCategoryNotFound, "keyring", name, "keyring entry not found", nil)
		}
		return "", newResolutionError(ErrorCategoryAccessDenied, "keyring", name, "keyring is locked or inaccessible", err)
	}
	return value, nil
}

// Store saves a secret under name. Used by operators to seed the keyring.
func (k *KeyringProvider) Store(name, value string) error {
	return keyring.Set(k.service, name, value)
}
