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
	"strings"
)

// Vendor identifies the CPU vendor a profile models.
type Vendor uint8

// Vendors.
const (
	VendorUnknown Vendor = iota
	VendorIntel
	VendorAMD
)

var (
	authenticAMD = [12]byte{'A', 'u', 't', 'h', 'e', 'n', 't', 'i', 'c', 'A', 'M', 'D'}
	genuineIntel = [12]byte{'G', 'e', 'n', 'u', 'i', 'n', 'e', 'I', 'n', 't', 'e', 'l'}
)

// String implements fmt.Stringer.
func (v Vendor) String() string {
	switch v {
	case VendorIntel:
		return "GenuineIntel"
	case VendorAMD:
		return "AuthenticAMD"
	default:
		return "Unknown"
	}
}

// ID returns the 12-byte vendor string. It is all zeros for VendorUnknown.
func (v Vendor) ID() [12]byte {
	switch v {
	case VendorIntel:
		return genuineIntel
	case VendorAMD:
		return authenticAMD
	default:
		return [12]byte{}
	}
}

// ParseVendor parses a vendor tag. Both the short configuration names
// ("intel", "amd") and the vendor strings are accepted.
func ParseVendor(s string) (Vendor, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "intel", "genuineintel":
		return VendorIntel, nil
	case "amd", "authenticamd":
		return VendorAMD, nil
	}
	return VendorUnknown, fmt.Errorf("%w: %q", ErrUnknownVendor, s)
}

// VendorFromID maps a 12-byte vendor string to a Vendor.
func VendorFromID(id [12]byte) Vendor {
	switch id {
	case genuineIntel:
		return VendorIntel
	case authenticAMD:
		return VendorAMD
	default:
		return VendorUnknown
	}
}

// vendorIDFromRegs converts ebx, ecx, edx of leaf 0 into the 12-byte vendor
// ID. The string is laid out in ebx:edx:ecx order.
func vendorIDFromRegs(bx, cx, dx uint32) (r [12]byte) {
	for i := uint(0); i < 4; i++ {
		r[i] = byte(bx >> (i * 8))
		r[4+i] = byte(dx >> (i * 8))
		r[8+i] = byte(cx >> (i * 8))
	}
	return r
}

// regsFromVendorID is the inverse of vendorIDFromRegs.
func regsFromVendorID(r [12]byte) (bx, cx, dx uint32) {
	for i := uint(0); i < 4; i++ {
		bx |= uint32(r[i]) << (i * 8)
		dx |= uint32(r[4+i]) << (i * 8)
		cx |= uint32(r[8+i]) << (i * 8)
	}
	return
}

// VendorFromLeaf returns the vendor encoded in the registers of leaf 0.
func VendorFromLeaf(out Out) Vendor {
	return VendorFromID(vendorIDFromRegs(out.Ebx, out.Ecx, out.Edx))
}

// VendorSet is a set of vendors a rule applies to.
type VendorSet uint8

// Common vendor sets.
const (
	IntelOnly  = VendorSet(1 << VendorIntel)
	AMDOnly    = VendorSet(1 << VendorAMD)
	AllVendors = VendorSet(1<<VendorUnknown | 1<<VendorIntel | 1<<VendorAMD)
)

// Has returns true if v is in the set.
func (s VendorSet) Has(v Vendor) bool {
	return s&(1<<v) != 0
}

// String implements fmt.Stringer.
func (s VendorSet) String() string {
	var names []string
	for _, v := range []Vendor{VendorUnknown, VendorIntel, VendorAMD} {
		if s.Has(v) {
			names = append(names, v.String())
		}
	}
	return "{" + strings.Join(names, ",") + "}"
}
