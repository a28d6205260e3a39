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

// Package errors provides the typed errors shared across nodehook.
package errors

import (
	"errors"
	"fmt"
)

// Wrap adds context to an error. Returns nil if err is nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. Returns nil if err is nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error with the given text.
func New(message string) error {
	return errors.New(message)
}

// Collector accumulates failures from a sequence of best-effort steps.
// The zero value is ready to use.
type Collector struct {
	errs []error
}

// Add records err if it is non-nil.
func (c *Collector) Add(err error) {
	if err != nil {
		c.errs = append(c.errs, err)
	}
}

// Len returns the number of recorded failures.
func (c *Collector) Len() int {
	return len(c.errs)
}

// Err returns nil when nothing was recorded, otherwise a *CleanupError
// carrying every recorded failure.
func (c *Collector) Err(scope string) error {
	if len(c.errs) == 0 {
		return nil
	}
	errs := make([]error, len(c.errs))
	copy(errs, c.errs)
	return &CleanupError{Scope: scope, Errors: errs}
}
