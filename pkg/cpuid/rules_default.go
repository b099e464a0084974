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

// clip saturates v to a field of width bits.
func clip(v uint32, width uint) uint32 {
	limit := uint32((uint64(1) << width) - 1)
	if v > limit {
		return limit
	}
	return v
}

// cacheType returns the type field of leaf 0x4 or 0x8000001D. Zero means no
// more caches.
func cacheType(eax uint32) uint32 {
	return eax & 0x1f
}

// cacheLevel returns the level field of leaf 0x4 or 0x8000001D.
func cacheLevel(eax uint32) uint32 {
	return (eax >> 5) & 0x7
}

// extendedTopology answers one sub-leaf of 0xB or 0x1F. Past the last level
// only the echoed sub-leaf number is set, which ends the guest's walk.
func extendedTopology(_ Out, in In, _ uint32, topo *Topology) Out {
	typ, count, shift, ok := topo.Level(in.Ecx)
	if !ok {
		return Out{Ecx: in.Ecx & 0xff}
	}
	return Out{
		Eax: shift & 0x1f,
		Ebx: clip(count, 16),
		Ecx: uint32(typ)<<8 | in.Ecx&0xff,
	}
}

func x2APICID(_ Out, _ In, vcpu uint32, topo *Topology) Out {
	return Out{Edx: topo.APICID(vcpu)}
}

// Full-register fields.
var (
	fullEAX = Bits(EAX, 0, 31)
	fullEBX = Bits(EBX, 0, 31)
	fullECX = Bits(ECX, 0, 31)
	fullEDX = Bits(EDX, 0, 31)
)

// defaultRules are the rules every snapshot uses unless WithRules is given.
var defaultRules = []Rule{
	{
		Name:     "initial-apic-id",
		Function: featureInfo,
		Index:    AnyIndex,
		Vendors:  AllVendors,
		Fields:   []Field{Bits(EBX, 24, 31)},
		Rewrite: func(_ Out, _ In, vcpu uint32, topo *Topology) Out {
			return Out{Ebx: (topo.APICID(vcpu) & 0xff) << 24}
		},
	},
	{
		Name:     "logical-processor-count",
		Function: featureInfo,
		Index:    AnyIndex,
		Vendors:  AllVendors,
		Fields:   []Field{Bits(EBX, 16, 23)},
		Rewrite: func(_ Out, _ In, _ uint32, topo *Topology) Out {
			return Out{Ebx: clip(topo.VCPUs(), 8) << 16}
		},
	},
	{
		Name:     "htt",
		Function: featureInfo,
		Index:    AnyIndex,
		Vendors:  AllVendors,
		Fields:   []Field{Bit(EDX, 28)},
		Rewrite: func(_ Out, _ In, _ uint32, topo *Topology) Out {
			if topo.VCPUs() > 1 {
				return Out{Edx: 1 << 28}
			}
			return Out{}
		},
	},
	{
		Name:     "intel-cache-sharing",
		Function: intelDeterministicCacheParams,
		Index:    AnyIndex,
		Vendors:  IntelOnly,
		Fields:   []Field{Bits(EAX, 14, 25), Bits(EAX, 26, 31)},
		Rewrite: func(base Out, _ In, _ uint32, topo *Topology) Out {
			if cacheType(base.Eax) == 0 {
				return base
			}
			sharing := uint32(1)<<topo.CacheSharingShift(cacheLevel(base.Eax)) - 1
			cores := uint32(1)<<bitsFor(topo.CoresPerPackage()) - 1
			return Out{Eax: clip(sharing, 12)<<14 | clip(cores, 6)<<26}
		},
	},
	{
		Name:     "extended-topology",
		Function: intelX2APICInfo,
		Index:    AnyIndex,
		Vendors:  AllVendors,
		Fields:   []Field{fullEAX, fullEBX, fullECX},
		Rewrite:  extendedTopology,
	},
	{
		Name:     "extended-topology-x2apic-id",
		Function: intelX2APICInfo,
		Index:    AnyIndex,
		Vendors:  AllVendors,
		Fields:   []Field{fullEDX},
		Rewrite:  x2APICID,
	},
	{
		Name:     "intel-v2-extended-topology",
		Function: intelV2ExtendedTopology,
		Index:    AnyIndex,
		Vendors:  IntelOnly,
		Fields:   []Field{fullEAX, fullEBX, fullECX},
		Rewrite:  extendedTopology,
	},
	{
		Name:     "intel-v2-extended-topology-x2apic-id",
		Function: intelV2ExtendedTopology,
		Index:    AnyIndex,
		Vendors:  IntelOnly,
		Fields:   []Field{fullEDX},
		Rewrite:  x2APICID,
	},
	{
		Name:     "amd-core-count",
		Function: extendedAddressSizes,
		Index:    AnyIndex,
		Vendors:  AMDOnly,
		Fields:   []Field{Bits(ECX, 0, 7), Bits(ECX, 12, 15)},
		Rewrite: func(_ Out, _ In, _ uint32, topo *Topology) Out {
			nc := clip(topo.LogicalPerPackage()-1, 8)
			size := clip(topo.PackageShift(), 4)
			return Out{Ecx: nc | size<<12}
		},
	},
	{
		Name:     "amd-cache-sharing",
		Function: amdCacheTopology,
		Index:    AnyIndex,
		Vendors:  AMDOnly,
		Fields:   []Field{Bits(EAX, 14, 25)},
		Rewrite: func(base Out, _ In, _ uint32, topo *Topology) Out {
			if cacheType(base.Eax) == 0 {
				return base
			}
			sharing := topo.CacheSharing(cacheLevel(base.Eax)) - 1
			return Out{Eax: clip(sharing, 12) << 14}
		},
	},
	{
		Name:     "amd-extended-apic-id",
		Function: amdProcessorTopology,
		Index:    AnyIndex,
		Vendors:  AMDOnly,
		Fields:   []Field{fullEAX},
		Rewrite: func(_ Out, _ In, vcpu uint32, topo *Topology) Out {
			return Out{Eax: topo.APICID(vcpu)}
		},
	},
	{
		Name:     "amd-compute-unit",
		Function: amdProcessorTopology,
		Index:    AnyIndex,
		Vendors:  AMDOnly,
		Fields:   []Field{Bits(EBX, 0, 7), Bits(EBX, 8, 15)},
		Rewrite: func(_ Out, _ In, vcpu uint32, topo *Topology) Out {
			_, core, _ := topo.Location(vcpu)
			return Out{Ebx: clip(core, 8) | clip(topo.ThreadsPerCore()-1, 8)<<8}
		},
	},
	{
		Name:     "amd-node-id",
		Function: amdProcessorTopology,
		Index:    AnyIndex,
		Vendors:  AMDOnly,
		// NodesPerProcessor in ECX[10:8] is always zero: one node per
		// package.
		Fields: []Field{Bits(ECX, 0, 10)},
		Rewrite: func(_ Out, _ In, vcpu uint32, topo *Topology) Out {
			pkg, _, _ := topo.Location(vcpu)
			return Out{Ecx: clip(pkg, 8)}
		},
	},
}

var defaultRegistry = MustNewRegistry(defaultRules...)

// DefaultRules returns the built-in registry. It rewrites the APIC ID,
// processor count and topology fields of leaves 0x1, 0x4, 0xB, 0x1F,
// 0x80000008, 0x8000001D and 0x8000001E.
func DefaultRules() *Registry {
	return defaultRegistry
}

// DefaultRuleSet returns a copy of the built-in rules, for building an
// extended registry.
func DefaultRuleSet() []Rule {
	return append([]Rule(nil), defaultRules...)
}
