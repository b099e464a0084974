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

// Values shared by the test profiles. The APIC ID and count fields of leaf
// 0x1 hold stale host values that specialization must replace.
const (
	testMaxBasic    = 0x16
	testMaxExtended = 0x8000001e

	testSignature = 0x000906ea
	testLeaf1Ebx  = 0xaa080800
	testLeaf1Edx  = 0x178bfbff
)

// testLeaves is raw leaf data modeled on a small x86 part.
var testLeaves = []Entry{
	{Key{vendorID, AnyIndex}, Out{Eax: testMaxBasic}},
	{Key{featureInfo, AnyIndex}, Out{Eax: testSignature, Ebx: testLeaf1Ebx, Ecx: 0x7ffafbff, Edx: testLeaf1Edx}},
	{Key{intelDeterministicCacheParams, ExactIndex(0)}, Out{Eax: 0x1c004121, Ebx: 0x01c0003f, Ecx: 0x3f}},
	{Key{intelDeterministicCacheParams, ExactIndex(1)}, Out{Eax: 0x1c004122, Ebx: 0x01c0003f, Ecx: 0x3f}},
	{Key{intelDeterministicCacheParams, ExactIndex(2)}, Out{Eax: 0x1c004143, Ebx: 0x00c0003f, Ecx: 0x3ff}},
	{Key{intelDeterministicCacheParams, ExactIndex(3)}, Out{Eax: 0x1c03c163, Ebx: 0x02c0003f, Ecx: 0x2fff, Edx: 0x6}},
	{Key{intelDeterministicCacheParams, AnyIndex}, Out{}},
	{Key{intelX2APICInfo, AnyIndex}, Out{Eax: 0x1, Ebx: 0x2, Ecx: 0x100, Edx: 0xaa}},
	{Key{0x15, AnyIndex}, Out{Eax: 0x2, Ebx: 0x11c, Ecx: 0x249f000}},
	{Key{testMaxBasic, AnyIndex}, Out{Eax: 0xbb8, Ebx: 0x1194, Ecx: 0x64}},
	{Key{extendedStart, AnyIndex}, Out{Eax: testMaxExtended}},
	{Key{0x80000001, AnyIndex}, Out{Ecx: 0x121, Edx: 0x2c100800}},
	{Key{extendedAddressSizes, AnyIndex}, Out{Eax: 0x3027, Ecx: 0x3007}},
	{Key{amdCacheTopology, AnyIndex}, Out{Eax: 0x00004121, Ebx: 0x01c0003f, Ecx: 0x3f}},
	{Key{amdCacheTopology, ExactIndex(2)}, Out{Eax: 0x00004143, Ebx: 0x01c0003f, Ecx: 0x3ff}},
	{Key{amdCacheTopology, ExactIndex(3)}, Out{Eax: 0x0003c163, Ebx: 0x03c0003f, Ecx: 0x3fff, Edx: 0x1}},
	{Key{amdProcessorTopology, AnyIndex}, Out{Eax: 0xaa, Ebx: 0x1ff, Ecx: 0x7ff}},
}

// testProfile returns a profile with testLeaves tagged with vendor v. The
// vendor string in leaf 0 is taken from v.
func testProfile(t testing.TB, v Vendor) *Profile {
	t.Helper()
	p := NewProfile(v)
	for _, e := range testLeaves {
		if e.Key.Function == vendorID {
			e.Value.Ebx, e.Value.Ecx, e.Value.Edx = regsFromVendorID(v.ID())
		}
		if err := p.Insert(e.Key, e.Value); err != nil {
			t.Fatalf("Insert(%v) failed: %v", e.Key, err)
		}
	}
	return p
}

func testSnapshot(t testing.TB, v Vendor, topo *Topology, opts ...SnapshotOption) *Snapshot {
	t.Helper()
	s, err := NewSnapshot(testProfile(t, v), topo, opts...)
	if err != nil {
		t.Fatalf("NewSnapshot failed: %v", err)
	}
	return s
}

func TestOutFromRegs(t *testing.T) {
	out, err := OutFromRegs([]uint32{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("OutFromRegs failed: %v", err)
	}
	if want := (Out{Eax: 1, Ebx: 2, Ecx: 3, Edx: 4}); out != want {
		t.Errorf("OutFromRegs = %+v, want %+v", out, want)
	}
	if out.Regs() != [4]uint32{1, 2, 3, 4} {
		t.Errorf("Regs() = %v, want [1 2 3 4]", out.Regs())
	}
	for _, regs := range [][]uint32{nil, {1, 2, 3}, {1, 2, 3, 4, 5}} {
		if _, err := OutFromRegs(regs); !errors.Is(err, ErrBadRegisters) {
			t.Errorf("OutFromRegs(%v) = %v, want %v", regs, err, ErrBadRegisters)
		}
	}
}

func TestSignature(t *testing.T) {
	for _, tc := range []struct {
		eax      uint32
		family   uint32
		model    uint32
		stepping uint8
	}{
		{eax: 0x000906ea, family: 6, model: 0x9e, stepping: 0xa},
		{eax: 0x00a20f12, family: 0x19, model: 0x21, stepping: 0x2},
		{eax: 0x00000f41, family: 0xf, model: 0x4, stepping: 0x1},
		{eax: 0x00000543, family: 5, model: 4, stepping: 3},
	} {
		family, model, stepping := Signature(tc.eax)
		if family != tc.family || model != tc.model || stepping != tc.stepping {
			t.Errorf("Signature(%#x) = (%#x, %#x, %#x), want (%#x, %#x, %#x)", tc.eax, family, model, stepping, tc.family, tc.model, tc.stepping)
		}
	}
}

func TestVendor(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Vendor
	}{
		{"intel", VendorIntel},
		{"Intel", VendorIntel},
		{"GenuineIntel", VendorIntel},
		{"amd", VendorAMD},
		{" AuthenticAMD ", VendorAMD},
	} {
		got, err := ParseVendor(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseVendor(%q) = %v, %v, want %v, nil", tc.in, got, err, tc.want)
		}
	}
	for _, bad := range []string{"", "via", "hygon"} {
		if _, err := ParseVendor(bad); !errors.Is(err, ErrUnknownVendor) {
			t.Errorf("ParseVendor(%q) = %v, want %v", bad, err, ErrUnknownVendor)
		}
	}
	for _, v := range []Vendor{VendorIntel, VendorAMD, VendorUnknown} {
		bx, cx, dx := regsFromVendorID(v.ID())
		if got := VendorFromLeaf(Out{Ebx: bx, Ecx: cx, Edx: dx}); got != v {
			t.Errorf("VendorFromLeaf(regs of %v) = %v", v, got)
		}
	}
	// "Genu" "ineI" "ntel" in ebx, edx, ecx.
	bx, cx, dx := regsFromVendorID(VendorIntel.ID())
	if bx != 0x756e6547 || dx != 0x49656e69 || cx != 0x6c65746e {
		t.Errorf("regsFromVendorID(GenuineIntel) = %#x, %#x, %#x", bx, cx, dx)
	}
}

func TestVendorSet(t *testing.T) {
	if IntelOnly.Has(VendorAMD) || !IntelOnly.Has(VendorIntel) {
		t.Errorf("IntelOnly = %v", IntelOnly)
	}
	if AMDOnly.Has(VendorIntel) || !AMDOnly.Has(VendorAMD) {
		t.Errorf("AMDOnly = %v", AMDOnly)
	}
	for _, v := range []Vendor{VendorUnknown, VendorIntel, VendorAMD} {
		if !AllVendors.Has(v) {
			t.Errorf("AllVendors does not have %v", v)
		}
	}
}
