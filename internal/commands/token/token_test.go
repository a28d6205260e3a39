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

package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/daemon/auth"
)

const secret = "token-secret-that-is-long-enough!!"

type mapKeys map[string]string

func (m mapKeys) Resolve(_ context.Context, ref string) (string, error) {
	v, ok := m[ref]
	if !ok {
		return "", errors.New("no such secret")
	}
	return v, nil
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.AuthSecret = "env:API"
	return cfg
}

func TestTokenMint(t *testing.T) {
	var buf bytes.Buffer
	opts := options{subject: "ci", scopes: []string{auth.ScopeNodesRead, auth.ScopeNodesWrite}, ttl: time.Hour}
	require.NoError(t, run(context.Background(), &buf, testConfig(), mapKeys{"env:API": secret}, opts))

	claims, err := auth.Validate(auth.Config{Secret: []byte(secret)}, strings.TrimSpace(buf.String()))
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.True(t, claims.HasScope(auth.ScopeNodesRead))
}

func TestTokenJSON(t *testing.T) {
	shared.SetJSONForTest(true)
	t.Cleanup(func() { shared.SetJSONForTest(false) })

	var buf bytes.Buffer
	opts := options{subject: "ci", scopes: []string{auth.ScopeNodesWrite}, ttl: time.Minute}
	require.NoError(t, run(context.Background(), &buf, testConfig(), mapKeys{"env:API": secret}, opts))

	var res Result
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.Equal(t, "ci", res.Subject)
	assert.NotEmpty(t, res.Token)
	assert.WithinDuration(t, time.Now().Add(time.Minute), res.ExpiresAt, 5*time.Second)
}

func TestTokenErrors(t *testing.T) {
	opts := options{subject: "ci", ttl: time.Hour}

	err := run(context.Background(), &bytes.Buffer{}, config.Default(), mapKeys{}, opts)
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCode(err))

	err = run(context.Background(), &bytes.Buffer{}, testConfig(), mapKeys{}, opts)
	assert.Error(t, err)

	err = run(context.Background(), &bytes.Buffer{}, testConfig(), mapKeys{"env:API": "short"}, opts)
	assert.ErrorIs(t, err, auth.ErrSecretTooShort)
}
