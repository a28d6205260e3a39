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
	"errors"
	"fmt"
)

// ErrorCategory classifies resolution failures.
type ErrorCategory string

const (
	// ErrorCategoryNotFound means the secret does not exist.
	ErrorCategoryNotFound ErrorCategory = "NOT_FOUND"

	// ErrorCategoryAccessDenied means the provider refused access.
	ErrorCategoryAccessDenied ErrorCategory = "ACCESS_DENIED"

	// ErrorCategoryInvalidSyntax means the reference is malformed.
	ErrorCategoryInvalidSyntax ErrorCategory = "INVALID_SYNTAX"
)

// ErrSecretNotFound is matched by every NOT_FOUND ResolutionError.
var ErrSecretNotFound = errors.New("secret not found")

// ResolutionError describes a failed secret lookup. It carries the
// reference, never the value.
type ResolutionError struct {
	Category  ErrorCategory
	Reference string
	Provider  string
	Message   string
	Cause     error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("secret resolution failed (%s): %s (provider: %s, ref: %s)",
		e.Category, e.Message, e.Provider, e.Reference)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrSecretNotFound) hold for NOT_FOUND errors.
func (e *ResolutionError) Is(target error) bool {
	return target == ErrSecretNotFound && e.Category == ErrorCategoryNotFound
}

func newResolutionError(category ErrorCategory, scheme, key, message string, cause error) *ResolutionError {
	return &ResolutionError{
		Category:  category,
		Reference: scheme + ":" + key,
		Provider:  scheme,
		Message:   message,
		Cause:     cause,
	}
}
