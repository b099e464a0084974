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

// Package flag wraps flag primitives.
package flag

import (
	"flag"
	"fmt"
	"strings"

	"vmmkit.dev/vmmkit/pkg/cpuid"
)

// FlagSet is an alias for flag.FlagSet.
type FlagSet = flag.FlagSet

// Flag is an alias for flag.Flag.
type Flag = flag.Flag

// Value is an alias for flag.Value.
type Value = flag.Value

// Aliases for flag functions.
var (
	Bool        = flag.Bool
	CommandLine = flag.CommandLine
	Duration    = flag.Duration
	Int         = flag.Int
	Lookup      = flag.Lookup
	NewFlagSet  = flag.NewFlagSet
	Parse       = flag.Parse
	String      = flag.String
	StringVar   = flag.StringVar
	Uint        = flag.Uint
	Uint64      = flag.Uint64
	Var         = flag.Var
)

// ContinueOnError is an alias for flag.ContinueOnError.
const ContinueOnError = flag.ContinueOnError

// Get returns the flag's underlying object.
func Get(v Value) any {
	return v.(flag.Getter).Get()
}

// Keys is a flag.Value that collects CPUID leaf keys, given either as a
// comma-separated list or by repeating the flag.
type Keys []cpuid.Key

// String implements flag.Value.
func (k *Keys) String() string {
	parts := make([]string, 0, len(*k))
	for _, key := range *k {
		parts = append(parts, key.String())
	}
	return strings.Join(parts, ",")
}

// Get implements flag.Getter.
func (k *Keys) Get() any {
	return *k
}

// Set implements flag.Value.
func (k *Keys) Set(s string) error {
	for _, part := range strings.Split(s, ",") {
		key, err := cpuid.ParseKey(strings.TrimSpace(part))
		if err != nil {
			return fmt.Errorf("invalid leaf %q: %w", part, err)
		}
		*k = append(*k, key)
	}
	return nil
}

// VendorValue is a flag.Value holding a cpuid.Vendor.
type VendorValue cpuid.Vendor

// String implements flag.Value.
func (v *VendorValue) String() string {
	return cpuid.Vendor(*v).String()
}

// Get implements flag.Getter.
func (v *VendorValue) Get() any {
	return cpuid.Vendor(*v)
}

// Set implements flag.Value.
func (v *VendorValue) Set(s string) error {
	vendor, err := cpuid.ParseVendor(s)
	if err != nil {
		return err
	}
	*v = VendorValue(vendor)
	return nil
}
