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

package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	nherrors "github.com/tombee/nodehook/pkg/errors"
)

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		data       any
		wantStatus int
		wantJSON   string
	}{
		{
			name:       "success with map",
			status:     http.StatusOK,
			data:       map[string]string{"node": "agent-1"},
			wantStatus: http.StatusOK,
			wantJSON:   `{"node":"agent-1"}`,
		},
		{
			name:       "success with struct",
			status:     http.StatusCreated,
			data:       struct{ PID int }{PID: 42},
			wantStatus: http.StatusCreated,
			wantJSON:   `{"PID":42}`,
		},
		{
			name:       "error status code",
			status:     http.StatusInternalServerError,
			data:       ErrorResponse{Error: "something went wrong"},
			wantStatus: http.StatusInternalServerError,
			wantJSON:   `{"error":"something went wrong"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.status, tt.data)

			if w.Code != tt.wantStatus {
				t.Errorf("WriteJSON() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("WriteJSON() Content-Type = %v, want application/json", ct)
			}

			var got, want map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.wantJSON), &want); err != nil {
				t.Fatalf("Failed to unmarshal expected JSON: %v", err)
			}
			if len(got) != len(want) {
				t.Errorf("WriteJSON() response length = %d, want %d", len(got), len(want))
			}
			for k, v := range want {
				if got[k] != v {
					t.Errorf("WriteJSON() response[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestWriteErr(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		wantStatus   int
		wantFailures int
	}{
		{
			name:       "validation error is a bad request",
			err:        &nherrors.ValidationError{Field: "name", Message: "required"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "not found",
			err:        &nherrors.NotFoundError{Resource: "node", ID: "agent-1"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "wrapped validation error",
			err:        nherrors.Wrap(&nherrors.ValidationError{Message: "bad"}, "decoding"),
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "cleanup error lists failures",
			err: &nherrors.CleanupError{Scope: "agent-1", Errors: []error{
				errors.New("signal pid 7: permission denied"),
				errors.New("delete temp file: no such file"),
			}},
			wantStatus:   http.StatusInternalServerError,
			wantFailures: 2,
		},
		{
			name:       "plain error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteErr(w, tt.err)

			if w.Code != tt.wantStatus {
				t.Errorf("WriteErr() status = %v, want %v", w.Code, tt.wantStatus)
			}

			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to unmarshal response: %v", err)
			}
			if resp.Error != tt.err.Error() {
				t.Errorf("WriteErr() error = %q, want %q", resp.Error, tt.err.Error())
			}
			if len(resp.Failures) != tt.wantFailures {
				t.Errorf("WriteErr() failures = %v, want %d entries", resp.Failures, tt.wantFailures)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Labels string `json:"labels"`
	}

	t.Run("decodes body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"labels":"gpu"}`))
		var p payload
		if err := DecodeJSON(r, &p); err != nil {
			t.Fatalf("DecodeJSON() error = %v", err)
		}
		if p.Labels != "gpu" {
			t.Errorf("Labels = %q, want gpu", p.Labels)
		}
	})

	t.Run("empty body is allowed", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var p payload
		if err := DecodeJSON(r, &p); err != nil {
			t.Fatalf("DecodeJSON() error = %v", err)
		}
	})

	t.Run("unknown field is a validation error", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"lables":"gpu"}`))
		var p payload
		err := DecodeJSON(r, &p)
		var verr *nherrors.ValidationError
		if !nherrors.As(err, &verr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
	})
}
