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

package serve

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/nodehook/internal/commands/shared"
	"github.com/tombee/nodehook/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewServeCommand()
	assert.Equal(t, "serve", cmd.Use)
	require.NotNil(t, cmd.Flags().Lookup("listen"))
}

func TestLoadConfigListenOverride(t *testing.T) {
	t.Setenv("NODEHOOK_LISTEN", "")
	shared.SetConfigPathForTest(writeConfig(t, "server:\n  listen: 127.0.0.1:7000\n"))
	defer shared.SetConfigPathForTest("")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Server.Listen)

	cfg, err = loadConfig("127.0.0.1:7001")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7001", cfg.Server.Listen)
}

func TestServeInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("NODEHOOK_LOG_LEVEL", "")
	shared.SetConfigPathForTest(writeConfig(t, "log:\n  level: chatty\n"))
	defer shared.SetConfigPathForTest("")

	cmd := NewServeCommand()
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Equal(t, shared.ExitInvalidConfig, shared.ExitCode(err))
}

func TestNewLoggerEnvOverridesConfig(t *testing.T) {
	for _, k := range []string{"NODEHOOK_DEBUG", "LOG_LEVEL", "LOG_FORMAT", "LOG_SOURCE"} {
		t.Setenv(k, "")
	}
	cfg := config.Default()
	cfg.Log.Level = "error"

	t.Setenv("NODEHOOK_LOG_LEVEL", "")
	logger := newLogger(cfg)
	assert.False(t, logger.Enabled(context.Background(), slog.LevelWarn))

	t.Setenv("NODEHOOK_LOG_LEVEL", "debug")
	logger = newLogger(cfg)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))
}
