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

// Package auth guards the node routes of the daemon API with HS256
// bearer tokens signed by a shared secret.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Issuer is the iss claim of every token.
	Issuer = "nodehook"

	// Audience is the aud claim of every token.
	Audience = "nodehook-api"

	// ScopeNodesRead allows listing tracked nodes.
	ScopeNodesRead = "nodes:read"

	// ScopeNodesWrite allows reporting online and offline transitions.
	ScopeNodesWrite = "nodes:write"

	// DefaultTokenTTL is the lifetime of tokens the CLI mints for itself.
	DefaultTokenTTL = 5 * time.Minute

	// MinSecretLength is the shortest accepted signing secret, in bytes.
	MinSecretLength = 32
)

// ErrSecretTooShort is returned for signing secrets under MinSecretLength.
var ErrSecretTooShort = fmt.Errorf("auth secret must be at least %d bytes", MinSecretLength)

// Config holds the signing material.
type Config struct {
	// Secret signs and verifies tokens.
	Secret []byte

	// ClockSkew tolerated on exp and nbf. Default: 30s
	ClockSkew time.Duration
}

// Claims are the token claims.
type Claims struct {
	jwt.RegisteredClaims
	// Scopes lists what the token can do. A trailing * matches any
	// suffix, so "nodes:*" grants both node scopes.
	Scopes []string `json:"scopes,omitempty"`
}

// HasScope reports whether the claims grant scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.ContainsFunc(c.Scopes, func(pattern string) bool {
		if pattern == scope {
			return true
		}
		prefix, ok := strings.CutSuffix(pattern, "*")
		return ok && strings.HasPrefix(scope, prefix)
	})
}

func (c Config) validate() error {
	if len(c.Secret) < MinSecretLength {
		return ErrSecretTooShort
	}
	return nil
}

// Generate signs a token for subject carrying scopes, valid for ttl.
func Generate(cfg Config, subject string, scopes []string, ttl time.Duration) (string, error) {
	if err := cfg.validate(); err != nil {
		return "", err
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %v", ttl)
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: scopes,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses token and checks signature, issuer, audience and
// expiry. Tokens without an expiry are rejected.
func Validate(cfg Config, token string) (*Claims, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.New("token is empty")
	}

	skew := cfg.ClockSkew
	if skew == 0 {
		skew = 30 * time.Second
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(Issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(skew),
	)

	var claims Claims
	if _, err := parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return cfg.Secret, nil
	}); err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	return &claims, nil
}
