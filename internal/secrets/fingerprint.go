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
	"fmt"

	"golang.org/x/crypto/ssh"
)

// Fingerprint returns the SHA256 fingerprint of a PEM private key in the
// form ssh-keygen prints it. Encrypted keys cannot be fingerprinted.
func Fingerprint(pemKey string) (string, error) {
	signer, err := ssh.ParsePrivateKey([]byte(pemKey))
	if err != nil {
		return "", fmt.Errorf("parse private key: %w", err)
	}
	return ssh.FingerprintSHA256(signer.PublicKey()), nil
}
