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
	"testing"
)

func TestLookupPriority(t *testing.T) {
	tbl, err := NewTable(testProfile(t, VendorAMD))
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	for _, tc := range []struct {
		fn, idx uint32
		want    uint32 // Eax
		src     Source
		ok      bool
	}{
		{fn: amdCacheTopology, idx: 2, want: 0x4143, src: SourceExact, ok: true},
		{fn: amdCacheTopology, idx: 5, want: 0x4121, src: SourceWildcard, ok: true},
		{fn: amdCacheTopology, idx: 0, want: 0x4121, src: SourceWildcard, ok: true},
		{fn: featureInfo, idx: 9, want: testSignature, src: SourceWildcard, ok: true},
		{fn: intelDeterministicCacheParams, idx: 3, want: 0x1c03c163, src: SourceExact, ok: true},
		{fn: intelDeterministicCacheParams, idx: 4, want: 0, src: SourceWildcard, ok: true},
		{fn: 0x7, idx: 0, src: SourceZero},
	} {
		out, src, ok := tbl.Lookup(tc.fn, tc.idx)
		if ok != tc.ok || src != tc.src || out.Eax != tc.want {
			t.Errorf("Lookup(%#x, %d) = %#x, %v, %t, want %#x, %v, %t", tc.fn, tc.idx, out.Eax, src, ok, tc.want, tc.src, tc.ok)
		}
	}
}

func TestTableBoundaries(t *testing.T) {
	p := testProfile(t, VendorIntel)
	tbl, err := NewTable(p)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if tbl.MaxBasic() != testMaxBasic || tbl.HighestBasic() != testMaxBasic {
		t.Errorf("basic boundary = %#x/%#x, want %#x", tbl.MaxBasic(), tbl.HighestBasic(), testMaxBasic)
	}
	if tbl.MaxExtended() != testMaxExtended || tbl.HighestExtended() != testMaxExtended {
		t.Errorf("extended boundary = %#x/%#x, want %#x", tbl.MaxExtended(), tbl.HighestExtended(), testMaxExtended)
	}
	if tbl.Len() != len(testLeaves) {
		t.Errorf("Len() = %d, want %d", tbl.Len(), len(testLeaves))
	}

	// Advertise more leaves than are defined; the highest defined leaf
	// below the boundary is used.
	p.Set(Key{Function: vendorID, Index: AnyIndex}, Out{Eax: 0x20})
	p.Set(Key{Function: extendedStart, Index: AnyIndex}, Out{Eax: 0x80000100})
	tbl, err = NewTable(p)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	if tbl.MaxBasic() != 0x20 || tbl.HighestBasic() != testMaxBasic {
		t.Errorf("basic boundary = %#x/%#x, want 0x20/%#x", tbl.MaxBasic(), tbl.HighestBasic(), testMaxBasic)
	}
	if tbl.HighestExtended() != amdProcessorTopology {
		t.Errorf("HighestExtended() = %#x, want %#x", tbl.HighestExtended(), amdProcessorTopology)
	}
}

func TestTableIsFrozen(t *testing.T) {
	p := testProfile(t, VendorIntel)
	tbl, err := NewTable(p)
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}
	p.Set(Key{Function: 0x15, Index: AnyIndex}, Out{Eax: 0xdead})
	if out, _, _ := tbl.Lookup(0x15, 0); out.Eax == 0xdead {
		t.Errorf("table sees a change made to the profile after NewTable")
	}
}

func TestMissingBoundary(t *testing.T) {
	for _, fn := range []uint32{vendorID, extendedStart} {
		p := NewProfile(VendorIntel)
		for _, e := range testLeaves {
			if e.Key.Function == fn {
				continue
			}
			if err := p.Insert(e.Key, e.Value); err != nil {
				t.Fatalf("Insert(%v) failed: %v", e.Key, err)
			}
		}
		_, err := NewTable(p)
		if !errors.Is(err, ErrMissingBoundary) {
			t.Errorf("NewTable without leaf %#x = %v, want %v", fn, err, ErrMissingBoundary)
		}
		var perr *ProfileError
		if !errors.As(err, &perr) || perr.Key.Function != fn {
			t.Errorf("NewTable without leaf %#x = %v, want ProfileError for that leaf", fn, err)
		}
	}

	// An exact sub-leaf 0 satisfies the boundary.
	p := NewProfile(VendorAMD)
	if err := p.Insert(Key{Function: vendorID, Index: ExactIndex(0)}, Out{Eax: 1}); err != nil {
		t.Fatal(err)
	}
	if err := p.Insert(Key{Function: extendedStart, Index: ExactIndex(0)}, Out{Eax: extendedStart}); err != nil {
		t.Fatal(err)
	}
	if _, err := NewTable(p); err != nil {
		t.Errorf("NewTable with exact boundaries failed: %v", err)
	}
}

func TestTableRejectsBadVendor(t *testing.T) {
	p := testProfile(t, VendorIntel)
	p.Vendor = Vendor(42)
	if _, err := NewTable(p); !errors.Is(err, ErrUnknownVendor) {
		t.Errorf("NewTable = %v, want %v", err, ErrUnknownVendor)
	}
	if _, err := NewTable(nil); err == nil {
		t.Errorf("NewTable(nil) succeeded")
	}
}
