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

/*
Package secrets resolves the cloud private key handed to hooks.

A secret is named by a reference whose scheme picks the provider:

	env:EC2_PRIVATE_KEY        - environment variable
	file:/etc/nodehook/id.pem  - file on disk
	keyring:ec2-fleet          - OS keyring (service "nodehook")
	${EC2_PRIVATE_KEY}         - environment variable (shell syntax)

A reference without a scheme is returned as-is, so a PEM block may be
inlined in the config file.

Resolution errors never include secret values:

	registry := secrets.NewDefaultRegistry()
	key, err := registry.Resolve(ctx, cfg.Cloud.PrivateKey)

Fingerprint returns the SSH SHA256 fingerprint of a key so it can be
logged in place of the key itself.
*/
package secrets
