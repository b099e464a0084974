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

// VendorPolicy decides what a query that matched no table entry returns.
//
// Implementations must be pure: the result may depend only on the arguments.
type VendorPolicy interface {
	// ResolveMiss returns the value for in. If the value was taken from
	// another leaf, the returned In names that leaf and the Source is
	// SourceClamped; otherwise the Source is SourceZero.
	ResolveMiss(t *Table, in In, topo *Topology) (Out, In, Source)

	// Name identifies the policy in logs.
	Name() string
}

// clampTo answers in with the entry for function fn, keeping the caller's
// index. If fn has no entry for that index, sub-leaf 0 of fn answers.
func clampTo(t *Table, in In, fn uint32) (Out, In, Source) {
	for _, idx := range []uint32{in.Ecx, 0} {
		if out, _, ok := t.Lookup(fn, idx); ok {
			return out, In{Eax: fn, Ecx: idx}, SourceClamped
		}
	}
	return Out{}, in, SourceZero
}

// IntelPolicy follows Intel hardware: a function above the maximum basic or
// the maximum extended function returns the data of the highest basic leaf.
// Gaps inside either range read as zero.
type IntelPolicy struct{}

// ResolveMiss implements VendorPolicy.ResolveMiss.
func (IntelPolicy) ResolveMiss(t *Table, in In, _ *Topology) (Out, In, Source) {
	if t.InRange(in.Eax) {
		return Out{}, in, SourceZero
	}
	return clampTo(t, in, t.HighestBasic())
}

// Name implements VendorPolicy.Name.
func (IntelPolicy) Name() string { return "intel" }

// AMDPolicy clamps each range to its own highest defined leaf: basic
// overflow returns the highest basic leaf and extended overflow the highest
// extended leaf. Gaps inside either range read as zero.
type AMDPolicy struct{}

// ResolveMiss implements VendorPolicy.ResolveMiss.
func (AMDPolicy) ResolveMiss(t *Table, in In, _ *Topology) (Out, In, Source) {
	if t.InRange(in.Eax) {
		return Out{}, in, SourceZero
	}
	if IsExtended(in.Eax) {
		return clampTo(t, in, t.HighestExtended())
	}
	return clampTo(t, in, t.HighestBasic())
}

// Name implements VendorPolicy.Name.
func (AMDPolicy) Name() string { return "amd" }

// ZeroPolicy answers every miss with zeros. It is used for profiles of an
// unknown vendor.
type ZeroPolicy struct{}

// ResolveMiss implements VendorPolicy.ResolveMiss.
func (ZeroPolicy) ResolveMiss(_ *Table, in In, _ *Topology) (Out, In, Source) {
	return Out{}, in, SourceZero
}

// Name implements VendorPolicy.Name.
func (ZeroPolicy) Name() string { return "zero" }

// PolicyFor returns the default policy for v.
func PolicyFor(v Vendor) VendorPolicy {
	switch v {
	case VendorIntel:
		return IntelPolicy{}
	case VendorAMD:
		return AMDPolicy{}
	default:
		return ZeroPolicy{}
	}
}

// DefaultMasking is the answer of an instance with no profile. Only the
// boundary leaves are populated: leaf 0x0 reports no further basic leaves
// and carries the vendor string of v, and leaf 0x80000000 reports no further
// extended leaves. All other leaves read as zero.
func DefaultMasking(v Vendor, fn uint32) Out {
	switch fn {
	case vendorID:
		bx, cx, dx := regsFromVendorID(v.ID())
		return Out{Eax: 0, Ebx: bx, Ecx: cx, Edx: dx}
	case extendedStart:
		return Out{Eax: extendedStart}
	default:
		return Out{}
	}
}
