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
	"fmt"
	"strconv"
	"strings"
)

// Index is the sub-leaf part of a Key. It is either a concrete index or
// AnyIndex, which matches every sub-leaf not enumerated explicitly.
type Index struct {
	value uint32
	exact bool
}

// AnyIndex is the wildcard index.
var AnyIndex = Index{}

// ExactIndex returns an Index matching only sub-leaf i.
func ExactIndex(i uint32) Index {
	return Index{value: i, exact: true}
}

// Get returns the index and whether it is exact.
func (i Index) Get() (uint32, bool) {
	return i.value, i.exact
}

// IsAny returns true for the wildcard index.
func (i Index) IsAny() bool {
	return !i.exact
}

// Matches returns true if sub-leaf idx is selected by i.
func (i Index) Matches(idx uint32) bool {
	return !i.exact || i.value == idx
}

// String implements fmt.Stringer.
func (i Index) String() string {
	if !i.exact {
		return "*"
	}
	return strconv.FormatUint(uint64(i.value), 16)
}

// Key identifies a profile entry.
type Key struct {
	Function uint32
	Index    Index
}

// String returns the key in profile notation: "<function>" for wildcard keys
// and "<function>-<index>" otherwise, both in lowercase hex.
func (k Key) String() string {
	if k.Index.IsAny() {
		return strconv.FormatUint(uint64(k.Function), 16)
	}
	return fmt.Sprintf("%x-%x", k.Function, k.Index.value)
}

// In returns the query input selected by an exact key, or sub-leaf 0 for a
// wildcard key.
func (k Key) In() In {
	return In{Eax: k.Function, Ecx: k.Index.value}
}

// keyLess orders keys by function, with the wildcard before any indexed key
// of the same function, then by index.
func keyLess(a, b Key) bool {
	if a.Function != b.Function {
		return a.Function < b.Function
	}
	if a.Index.exact != b.Index.exact {
		return !a.Index.exact
	}
	return a.Index.value < b.Index.value
}

// ParseKey parses a key in profile notation. Both parts are hexadecimal, with
// an optional 0x prefix.
func ParseKey(s string) (Key, error) {
	fn, idx, hasIdx := strings.Cut(strings.TrimSpace(s), "-")
	f, err := parseHex32(fn)
	if err != nil {
		return Key{}, fmt.Errorf("invalid leaf function in %q: %w", s, err)
	}
	if !hasIdx {
		return Key{Function: f, Index: AnyIndex}, nil
	}
	i, err := parseHex32(idx)
	if err != nil {
		return Key{}, fmt.Errorf("invalid leaf index in %q: %w", s, err)
	}
	return Key{Function: f, Index: ExactIndex(i)}, nil
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
