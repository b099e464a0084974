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
	"math"

	"github.com/google/btree"
)

// Source describes where the answer to a query came from.
type Source uint8

// Sources, in lookup priority order.
const (
	// SourceExact is a hit on a (function, index) entry.
	SourceExact Source = iota
	// SourceWildcard is a hit on a function-only entry.
	SourceWildcard
	// SourceClamped is a miss beyond the supported range, answered with
	// the highest defined leaf below the boundary.
	SourceClamped
	// SourceZero is a miss answered with all zeros.
	SourceZero
	// SourceDefault is an answer from an unconfigured snapshot.
	SourceDefault
)

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case SourceExact:
		return "exact"
	case SourceWildcard:
		return "wildcard"
	case SourceClamped:
		return "clamped"
	case SourceZero:
		return "zero"
	case SourceDefault:
		return "default"
	default:
		return fmt.Sprintf("Source(%d)", uint8(s))
	}
}

// Sources lists all sources, in order.
var Sources = []Source{SourceExact, SourceWildcard, SourceClamped, SourceZero, SourceDefault}

// Table is the frozen, vendor-tagged form of a Profile. It is never modified
// after NewTable returns, so concurrent lookups need no synchronization.
type Table struct {
	vendor Vendor

	exact    map[In]Out
	wildcard map[uint32]Out

	// entries is a private copy of the profile entries.
	entries *btree.BTreeG[Entry]

	// maxBasic and maxExtended are the largest functions advertised by the
	// boundary leaves 0x0 and 0x80000000.
	maxBasic    uint32
	maxExtended uint32

	// highestBasic and highestExtended are the largest functions actually
	// defined at or below maxBasic and maxExtended.
	highestBasic    uint32
	highestExtended uint32
}

// NewTable freezes p into a Table.
//
// Both boundary leaves must be present, either as an exact index 0 entry or
// as a wildcard. Later changes to p are not seen by the table.
func NewTable(p *Profile) (*Table, error) {
	if p == nil {
		return nil, &ProfileError{Err: fmt.Errorf("%w: no profile", ErrMissingBoundary)}
	}
	if p.Vendor > VendorAMD {
		return nil, &ProfileError{Err: fmt.Errorf("%w: vendor %d", ErrUnknownVendor, p.Vendor)}
	}
	t := &Table{
		vendor:   p.Vendor,
		exact:    make(map[In]Out),
		wildcard: make(map[uint32]Out),
		entries:  p.entries.Clone(),
	}
	t.entries.Ascend(func(e Entry) bool {
		if idx, ok := e.Key.Index.Get(); ok {
			t.exact[In{Eax: e.Key.Function, Ecx: idx}] = e.Value
		} else {
			t.wildcard[e.Key.Function] = e.Value
		}
		return true
	})

	basic, _, ok := t.Lookup(vendorID, 0)
	if !ok {
		return nil, keyError(Key{Function: vendorID}, ErrMissingBoundary)
	}
	ext, _, ok := t.Lookup(extendedStart, 0)
	if !ok {
		return nil, keyError(Key{Function: extendedStart}, ErrMissingBoundary)
	}

	t.maxBasic = basic.Eax
	if t.maxBasic >= extendedStart {
		t.maxBasic = extendedStart - 1
	}
	t.maxExtended = ext.Eax
	if t.maxExtended < extendedStart {
		t.maxExtended = extendedStart
	}
	// Both searches terminate at the boundary leaves, which are present.
	t.highestBasic = t.highestAtOrBelow(t.maxBasic)
	t.highestExtended = t.highestAtOrBelow(t.maxExtended)
	return t, nil
}

// highestAtOrBelow returns the largest defined function <= fn.
func (t *Table) highestAtOrBelow(fn uint32) uint32 {
	var found uint32
	pivot := Entry{Key: Key{Function: fn, Index: ExactIndex(math.MaxUint32)}}
	t.entries.DescendLessOrEqual(pivot, func(e Entry) bool {
		found = e.Key.Function
		return false
	})
	return found
}

// Lookup returns the entry matching (fn, idx): the exact entry if there is
// one, otherwise the wildcard for fn.
func (t *Table) Lookup(fn, idx uint32) (Out, Source, bool) {
	if out, ok := t.exact[In{Eax: fn, Ecx: idx}]; ok {
		return out, SourceExact, true
	}
	if out, ok := t.wildcard[fn]; ok {
		return out, SourceWildcard, true
	}
	return Out{}, SourceZero, false
}

// Vendor returns the vendor the table was built for.
func (t *Table) Vendor() Vendor {
	return t.vendor
}

// MaxBasic returns the largest basic function advertised by leaf 0x0.
func (t *Table) MaxBasic() uint32 {
	return t.maxBasic
}

// MaxExtended returns the largest extended function advertised by leaf
// 0x80000000.
func (t *Table) MaxExtended() uint32 {
	return t.maxExtended
}

// HighestBasic returns the largest basic function defined at or below
// MaxBasic.
func (t *Table) HighestBasic() uint32 {
	return t.highestBasic
}

// HighestExtended returns the largest extended function defined at or below
// MaxExtended.
func (t *Table) HighestExtended() uint32 {
	return t.highestExtended
}

// InRange returns true if fn is within the advertised basic or extended
// range.
func (t *Table) InRange(fn uint32) bool {
	if IsExtended(fn) {
		return fn <= t.maxExtended
	}
	return fn <= t.maxBasic
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return t.entries.Len()
}

// Entries returns all entries in key order.
func (t *Table) Entries() []Entry {
	es := make([]Entry, 0, t.entries.Len())
	t.entries.Ascend(func(e Entry) bool {
		es = append(es, e)
		return true
	})
	return es
}
