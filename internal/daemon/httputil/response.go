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

// Package httputil holds the JSON helpers shared by the daemon handlers.
package httputil

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	nherrors "github.com/tombee/nodehook/pkg/errors"
)

// MaxBodyBytes bounds request bodies accepted by DecodeJSON.
const MaxBodyBytes = 1 << 20

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`

	// Failures lists each individual teardown failure, when there were
	// several.
	Failures []string `json:"failures,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", slog.Any("error", err))
	}
}

// WriteError writes a JSON error response with the given status code and message.
func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message})
}

// WriteErr maps err onto a status code and writes it. Validation errors
// become 400, missing resources 404, everything else 500. Cleanup errors
// carry their individual failures.
func WriteErr(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var validation *nherrors.ValidationError
	var notFound *nherrors.NotFoundError
	var cleanup *nherrors.CleanupError
	switch {
	case nherrors.As(err, &validation):
		status = http.StatusBadRequest
	case nherrors.As(err, &notFound):
		status = http.StatusNotFound
	case nherrors.As(err, &cleanup):
		resp.Failures = cleanup.Messages()
	}

	WriteJSON(w, status, resp)
}

// DecodeJSON decodes the request body into v. An empty body leaves v
// untouched. Unknown fields are rejected.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if nherrors.Is(err, io.EOF) {
			return nil
		}
		return &nherrors.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	return nil
}
