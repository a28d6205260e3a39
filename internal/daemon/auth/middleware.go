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

package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tombee/nodehook/internal/daemon/httputil"
	nhlog "github.com/tombee/nodehook/internal/log"
)

// ProtectedPrefix is the path prefix that requires a token. Health,
// version and metrics stay open for probes.
const ProtectedPrefix = "/v1/nodes"

// Authenticator checks bearer tokens on protected routes.
type Authenticator struct {
	cfg    Config
	logger *slog.Logger
}

// NewAuthenticator creates an Authenticator. It fails on a weak secret.
func NewAuthenticator(cfg Config, logger *slog.Logger) (*Authenticator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = nhlog.Discard()
	}
	return &Authenticator{cfg: cfg, logger: nhlog.WithComponent(logger, "auth")}, nil
}

// ExtractBearerToken returns the token of an "Authorization: Bearer"
// header. The scheme is matched case-insensitively.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid Authorization header format, expected 'Bearer <token>'")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("empty Bearer token")
	}
	return token, nil
}

// requiredScope maps a request onto the scope it needs.
func requiredScope(r *http.Request) string {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		return ScopeNodesRead
	}
	return ScopeNodesWrite
}

// Middleware rejects requests under ProtectedPrefix without a valid
// token (401) or without the needed scope (403).
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, ProtectedPrefix) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := ExtractBearerToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="nodehook"`)
			httputil.WriteError(w, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := Validate(a.cfg, token)
		if err != nil {
			a.logger.Warn("rejected token", slog.String("path", r.URL.Path), nhlog.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="nodehook", error="invalid_token"`)
			httputil.WriteError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		scope := requiredScope(r)
		if !claims.HasScope(scope) {
			a.logger.Warn("token lacks scope",
				slog.String("subject", claims.Subject),
				slog.String("scope", scope))
			httputil.WriteError(w, http.StatusForbidden, "token lacks scope "+scope)
			return
		}

		a.logger.Debug("request authorized", slog.String("subject", claims.Subject))
		next.ServeHTTP(w, r)
	})
}
