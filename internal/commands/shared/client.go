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

package shared

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tombee/nodehook/internal/config"
	"github.com/tombee/nodehook/internal/daemon/api"
	"github.com/tombee/nodehook/internal/daemon/auth"
	"github.com/tombee/nodehook/internal/daemon/httputil"
	"github.com/tombee/nodehook/internal/secrets"
	"github.com/tombee/nodehook/internal/tracing"
)

const (
	// EnvAddr overrides the daemon address for CLI commands.
	EnvAddr = "NODEHOOK_ADDR"

	// EnvToken supplies a ready-made API token.
	EnvToken = "NODEHOOK_TOKEN"
)

// ResolveAddr picks the daemon address: --addr, then NODEHOOK_ADDR,
// then server.listen from the config file.
func ResolveAddr() string {
	if addr := GetAddr(); addr != "" {
		return addr
	}
	if addr := os.Getenv(EnvAddr); addr != "" {
		return addr
	}
	if cfg, err := config.Load(config.ResolvePath(GetConfigPath())); err == nil {
		return cfg.Server.Listen
	}
	return config.Default().Server.Listen
}

// ResolveToken picks the API token: NODEHOOK_TOKEN, else a short-lived
// token signed with server.auth_secret. Without either it returns "".
func ResolveToken(ctx context.Context, keys KeyResolver) (string, error) {
	if token := os.Getenv(EnvToken); token != "" {
		return token, nil
	}
	cfg, err := config.Load(config.ResolvePath(GetConfigPath()))
	if err != nil || cfg.Server.AuthSecret == "" {
		return "", nil
	}
	secret, err := keys.Resolve(ctx, cfg.Server.AuthSecret)
	if err != nil {
		return "", fmt.Errorf("resolve auth secret: %w", err)
	}
	return auth.Generate(auth.Config{Secret: []byte(secret)}, "nodehook-cli",
		[]string{auth.ScopeNodesRead, auth.ScopeNodesWrite}, auth.DefaultTokenTTL)
}

// KeyResolver resolves secret references.
type KeyResolver interface {
	Resolve(ctx context.Context, reference string) (string, error)
}

// NewDaemonClient creates a client for the resolved daemon address,
// authorized with the resolved token.
func NewDaemonClient(ctx context.Context) (*Client, error) {
	token, err := ResolveToken(ctx, secrets.NewDefaultRegistry())
	if err != nil {
		return nil, err
	}
	return NewClient(ResolveAddr()).WithToken(token), nil
}

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status   int
	Message  string
	Failures []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Status, e.Message)
}

// Client talks to a running daemon.
type Client struct {
	addr  string
	base  string
	token string
	http  *http.Client
}

// NewClient creates a client for addr, either host:port or a URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		addr: addr,
		base: strings.TrimRight(base, "/"),
		// Offline waits for hooks to exit, so allow more than a plain call.
		http: &http.Client{Timeout: 2 * time.Minute},
	}
}

// WithToken sets the bearer token sent with every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

// Addr returns the address the client was created with.
func (c *Client) Addr() string {
	return c.addr
}

// Online reports a node as about to come online.
func (c *Client) Online(ctx context.Context, node string, req api.OnlineRequest) (*api.OnlineResponse, error) {
	var resp api.OnlineResponse
	if err := c.do(ctx, http.MethodPost, "/v1/nodes/"+node+"/online", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Offline reports a node as gone.
func (c *Client) Offline(ctx context.Context, node string) error {
	return c.do(ctx, http.MethodPost, "/v1/nodes/"+node+"/offline", nil, nil)
}

// Nodes lists tracked nodes.
func (c *Client) Nodes(ctx context.Context) (*api.NodesResponse, error) {
	var resp api.NodesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/nodes", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health checks that the daemon is up.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/v1/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	v, _, _ := GetVersion()
	req.Header.Set("User-Agent", "nodehook-cli/"+v)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	tracing.InjectHTTPHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return NewDaemonUnreachableError(c.addr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, httputil.MaxBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var er httputil.ErrorResponse
		if json.Unmarshal(data, &er) == nil && er.Error != "" {
			apiErr.Message = er.Error
			apiErr.Failures = er.Failures
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
