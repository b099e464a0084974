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
	"math/bits"
)

// LevelType is the level type reported by the extended topology leaves.
type LevelType uint8

// Level types, as encoded in ECX[15:8] of leaves 0xB and 0x1F.
const (
	LevelInvalid LevelType = 0
	LevelSMT     LevelType = 1
	LevelCore    LevelType = 2
)

// String implements fmt.Stringer.
func (l LevelType) String() string {
	switch l {
	case LevelSMT:
		return "SMT"
	case LevelCore:
		return "Core"
	default:
		return "Invalid"
	}
}

// Topology is the logical processor layout of an instance. vCPUs are packed
// threads first, then cores, then packages: vCPU n is thread
// n % ThreadsPerCore of core (n / ThreadsPerCore) % CoresPerPackage.
//
// APIC IDs follow the usual x2APIC convention:
//
//	apic = package<<PackageShift | core<<ThreadShift | thread
//
// Topology is immutable. The zero value describes a single vCPU.
type Topology struct {
	vcpus           uint32
	threadsPerCore  uint32
	coresPerPackage uint32
}

// NewTopology returns the topology of an instance with vcpus vCPUs.
//
// threadsPerCore of 0 means 1. coresPerPackage of 0 places all vCPUs in a
// single package.
func NewTopology(vcpus, threadsPerCore, coresPerPackage uint32) (*Topology, error) {
	if vcpus == 0 {
		return nil, fmt.Errorf("topology needs at least one vCPU")
	}
	if threadsPerCore == 0 {
		threadsPerCore = 1
	}
	if vcpus%threadsPerCore != 0 {
		return nil, fmt.Errorf("%d vCPUs cannot be split into cores of %d threads", vcpus, threadsPerCore)
	}
	if coresPerPackage == 0 {
		coresPerPackage = vcpus / threadsPerCore
	}
	if uint64(threadsPerCore)*uint64(coresPerPackage) > 1<<16 {
		return nil, fmt.Errorf("%d threads per core and %d cores per package exceeds the package limit", threadsPerCore, coresPerPackage)
	}
	return &Topology{
		vcpus:           vcpus,
		threadsPerCore:  threadsPerCore,
		coresPerPackage: coresPerPackage,
	}, nil
}

// MustNewTopology is like NewTopology, but panics on error.
func MustNewTopology(vcpus, threadsPerCore, coresPerPackage uint32) *Topology {
	t, err := NewTopology(vcpus, threadsPerCore, coresPerPackage)
	if err != nil {
		panic(err)
	}
	return t
}

// bitsFor returns the number of bits needed to hold n distinct IDs,
// ceil(log2(n)).
func bitsFor(n uint32) uint32 {
	if n <= 1 {
		return 0
	}
	return uint32(bits.Len32(n - 1))
}

func atLeastOne(n uint32) uint32 {
	if n == 0 {
		return 1
	}
	return n
}

// VCPUs returns the number of vCPUs.
func (t *Topology) VCPUs() uint32 {
	return atLeastOne(t.vcpus)
}

// ThreadsPerCore returns the number of threads in each core.
func (t *Topology) ThreadsPerCore() uint32 {
	return atLeastOne(t.threadsPerCore)
}

// CoresPerPackage returns the number of cores in each package.
func (t *Topology) CoresPerPackage() uint32 {
	return atLeastOne(t.coresPerPackage)
}

// LogicalPerPackage returns the number of logical processors in a package.
func (t *Topology) LogicalPerPackage() uint32 {
	return t.ThreadsPerCore() * t.CoresPerPackage()
}

// Packages returns the number of packages, counting a partly filled last
// package.
func (t *Topology) Packages() uint32 {
	lpp := t.LogicalPerPackage()
	return (t.VCPUs() + lpp - 1) / lpp
}

// ThreadShift is the number of APIC ID bits used by the thread ID. Shifting
// an APIC ID right by it yields the core-unique ID.
func (t *Topology) ThreadShift() uint32 {
	return bitsFor(t.ThreadsPerCore())
}

// PackageShift is the number of APIC ID bits used by the thread and core
// IDs. Shifting an APIC ID right by it yields the package ID.
func (t *Topology) PackageShift() uint32 {
	return t.ThreadShift() + bitsFor(t.CoresPerPackage())
}

// Location returns the package, core and thread of vcpu.
func (t *Topology) Location(vcpu uint32) (pkg, core, thread uint32) {
	tpc := t.ThreadsPerCore()
	thread = vcpu % tpc
	core = (vcpu / tpc) % t.CoresPerPackage()
	pkg = vcpu / t.LogicalPerPackage()
	return pkg, core, thread
}

// APICID returns the APIC ID assigned to vcpu.
func (t *Topology) APICID(vcpu uint32) uint32 {
	pkg, core, thread := t.Location(vcpu)
	return pkg<<t.PackageShift() | core<<t.ThreadShift() | thread
}

// Levels returns the number of valid extended topology levels. Sub-leaves
// at or above it report LevelInvalid.
func (t *Topology) Levels() uint32 {
	return 2
}

// Level describes extended topology sub-leaf idx: its type, the number of
// logical processors at this level and below in one package, and the APIC ID
// shift to the next level. ok is false past the last level.
func (t *Topology) Level(idx uint32) (typ LevelType, count, shift uint32, ok bool) {
	switch idx {
	case 0:
		return LevelSMT, t.ThreadsPerCore(), t.ThreadShift(), true
	case 1:
		return LevelCore, t.LogicalPerPackage(), t.PackageShift(), true
	default:
		return LevelInvalid, 0, 0, false
	}
}

// CacheSharing returns the number of logical processors sharing a cache of
// the given level. L1 and L2 are private to a core and L3 is shared by the
// package.
func (t *Topology) CacheSharing(level uint32) uint32 {
	if level >= 3 {
		return t.LogicalPerPackage()
	}
	return t.ThreadsPerCore()
}

// CacheSharingShift is like CacheSharing, but returns the number of APIC ID
// bits spanned by the sharing domain.
func (t *Topology) CacheSharingShift(level uint32) uint32 {
	if level >= 3 {
		return t.PackageShift()
	}
	return t.ThreadShift()
}

// String implements fmt.Stringer.
func (t *Topology) String() string {
	return fmt.Sprintf("%d vCPUs (%d packages x %d cores x %d threads)", t.VCPUs(), t.Packages(), t.CoresPerPackage(), t.ThreadsPerCore())
}
