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

// Package cpuid answers the CPUID instructions executed by guest vCPUs.
//
// A Profile holds the static leaves of a CPU model. It is frozen into a
// Table, combined with the instance Topology, a VendorPolicy and a rule
// Registry into a Snapshot, and published to an Engine. Each vCPU then calls
// Engine.Query on every CPUID exit:
//
//	snap, err := cpuid.NewSnapshot(profile, topo)
//	if err != nil {
//		return err
//	}
//	engine := cpuid.NewEngine(snap)
//	...
//	out := engine.Query(vcpu, in.Eax, in.Ecx)
//
// Queries are pure reads of an immutable Snapshot and never block. A new
// Snapshot replaces the old one with a single atomic store.
//
// Common references:
//
// Intel:
//   - Intel SDM Volume 2, Chapter 3.2 "CPUID"
//
// AMD:
//   - AMD64 APM Volume 3, Appendix E "Obtaining Processor Information Via the
//     CPUID Instruction"
package cpuid

import "fmt"

// In is input to the Query function: the function (leaf) in eax and the
// index (sub-leaf) in ecx.
type In struct {
	Eax uint32
	Ecx uint32
}

// String implements fmt.Stringer.
func (i In) String() string {
	return fmt.Sprintf("%#x-%#x", i.Eax, i.Ecx)
}

// Out is output from the Query function.
type Out struct {
	Eax uint32
	Ebx uint32
	Ecx uint32
	Edx uint32
}

// Regs returns the registers in eax, ebx, ecx, edx order.
func (o Out) Regs() [4]uint32 {
	return [4]uint32{o.Eax, o.Ebx, o.Ecx, o.Edx}
}

// OutFromRegs builds an Out from a slice holding exactly four registers.
func OutFromRegs(regs []uint32) (Out, error) {
	if len(regs) != 4 {
		return Out{}, fmt.Errorf("%w: got %d", ErrBadRegisters, len(regs))
	}
	return Out{Eax: regs[0], Ebx: regs[1], Ecx: regs[2], Edx: regs[3]}, nil
}

// Function executes a CPUID function.
//
// This is implemented by Static and by the per-vCPU view of a Snapshot.
type Function interface {
	Query(In) Out
}

// The functions below are the ones the default rules know how to rewrite,
// plus the two boundary leaves.
const (
	vendorID                      uint32 = 0x0        // Returns vendor ID and largest standard function.
	featureInfo                   uint32 = 0x1        // Returns basic feature bits and processor signature.
	intelDeterministicCacheParams uint32 = 0x4        // Returns deterministic cache information. Intel only.
	intelX2APICInfo               uint32 = 0xb        // Returns core/logical processor topology. Intel only.
	intelV2ExtendedTopology       uint32 = 0x1f       // Returns V2 extended topology. Intel only.
	extendedStart                 uint32 = 0x80000000 // Returns highest available extended function in eax.
	extendedAddressSizes          uint32 = 0x80000008 // Address sizes and core count (AMD).
	amdCacheTopology              uint32 = 0x8000001d // Cache topology. AMD only.
	amdProcessorTopology          uint32 = 0x8000001e // Extended APIC ID, compute unit and node. AMD only.
)

// IsExtended returns true if fn is in the extended (0x8000_0000+) range.
func IsExtended(fn uint32) bool {
	return fn >= extendedStart
}

// Helper to deconstruct signature dword.
func signatureSplit(v uint32) (ef, em, pt, f, m, sid uint8) {
	sid = uint8(v & 0xf)
	m = uint8(v>>4) & 0xf
	f = uint8(v>>8) & 0xf
	pt = uint8(v>>12) & 0x3
	em = uint8(v>>16) & 0xf
	ef = uint8(v >> 20)
	return
}

// Signature decodes the display family, model and stepping from the eax
// value of leaf 0x1.
func Signature(eax uint32) (family, model uint32, stepping uint8) {
	ef, em, _, f, m, sid := signatureSplit(eax)
	family = uint32(f)
	if f == 0xf {
		family += uint32(ef)
	}
	model = uint32(m)
	if f == 0x6 || f == 0xf {
		model |= uint32(em) << 4
	}
	return family, model, sid
}
