// Copyright (c) Bas van Beek 2022.
// Copyright (c) Tetrate, Inc 2021.
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

// Package pkg holds small helpers shared by all packages of this binary.
package pkg

import (
	"errors"
)

// FlagErr is the format used to report an invalid flag value.
const FlagErr = "invalid value for flag --%s: %w"

// ErrRequired is returned when a mandatory flag value is missing.
const ErrRequired Error = "value is required"

// Error allows for creating constant errors instead of sentinel ones.
type Error string

// Error implements error.
func (e Error) Error() string {
	return string(e)
}

// HasError checks if err is target or holds target somewhere in its chain.
// It understands %w wrapping, github.com/pkg/errors causes and multi errors
// exposing their members through WrappedErrors.
func HasError(err, target error) bool {
	if err == nil || target == nil {
		return err == target
	}
	if errors.Is(err, target) {
		return true
	}
	for err != nil {
		if m, ok := err.(interface{ WrappedErrors() []error }); ok {
			for _, e := range m.WrappedErrors() {
				if HasError(e, target) {
					return true
				}
			}
			return false
		}
		if c, ok := err.(interface{ Cause() error }); ok {
			if next := c.Cause(); next != err {
				err = next
				if errors.Is(err, target) {
					return true
				}
				continue
			}
		}
		err = errors.Unwrap(err)
		if err != nil && errors.Is(err, target) {
			return true
		}
	}
	return false
}
