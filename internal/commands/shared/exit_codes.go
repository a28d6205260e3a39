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
	"errors"
	"fmt"
	"os"
)

// Exit codes
const (
	ExitSuccess           = 0
	ExitFailed            = 1
	ExitInvalidConfig     = 2
	ExitDaemonUnreachable = 3
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewInvalidConfigError creates an error for configuration problems
func NewInvalidConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidConfig, Message: msg, Cause: cause}
}

// NewDaemonUnreachableError creates an error for a daemon that did not answer
func NewDaemonUnreachableError(addr string, cause error) *ExitError {
	return &ExitError{
		Code:    ExitDaemonUnreachable,
		Message: fmt.Sprintf("cannot reach nodehook daemon at %s (is 'nodehook serve' running?)", addr),
		Cause:   cause,
	}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailed
}

// HandleExitError prints err with any teardown failures it carries and
// exits with the matching code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, RenderError(err.Error()))

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		for _, f := range apiErr.Failures {
			fmt.Fprintln(os.Stderr, "  "+Muted.Render(SymbolInfo)+" "+f)
		}
	}
	os.Exit(ExitCode(err))
}
