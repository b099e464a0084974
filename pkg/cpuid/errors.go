// Copyright 2026 The vmmkit Authors.
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

package cpuid

import (
	"errors"
	"fmt"
)

// Profile construction errors. They are wrapped in a *ProfileError and can
// be matched with errors.Is.
var (
	ErrDuplicateKey    = errors.New("duplicate leaf key")
	ErrBadRegisters    = errors.New("leaf value must have exactly four registers")
	ErrUnknownVendor   = errors.New("unrecognized vendor")
	ErrMissingBoundary = errors.New("missing boundary leaf")
)

// ProfileError is returned when a profile cannot be turned into a Table.
type ProfileError struct {
	// Key is the offending entry, if HasKey is set.
	Key    Key
	HasKey bool

	Err error
}

// Error implements error.
func (e *ProfileError) Error() string {
	if e.HasKey {
		return fmt.Sprintf("cpuid profile: leaf %s: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("cpuid profile: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ProfileError) Unwrap() error {
	return e.Err
}

func keyError(k Key, err error) *ProfileError {
	return &ProfileError{Key: k, HasKey: true, Err: err}
}

// RuleConflictError is returned by NewRegistry when two rules claim the same
// bits of the same leaf for an overlapping set of vendors.
type RuleConflictError struct {
	First, Second string
	Function      uint32
	Register      Register
	Bits          uint32
}

// Error implements error.
func (e *RuleConflictError) Error() string {
	return fmt.Sprintf("cpuid rules %q and %q both write %s bits %#08x of leaf %#x", e.First, e.Second, e.Register, e.Bits, e.Function)
}
