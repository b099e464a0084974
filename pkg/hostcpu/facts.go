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

package hostcpu

import (
	"fmt"

	kcpuid "github.com/klauspost/cpuid/v2"
	"vmmkit.dev/vmmkit/pkg/cpuid"
)

// Facts describes the host processor.
type Facts struct {
	Vendor cpuid.Vendor
	Brand  string
	Family int
	Model  int

	ThreadsPerCore int
	LogicalCores   int
	PhysicalCores  int

	// Cache sizes in bytes. -1 if unknown.
	CacheLine int
	L1D       int
	L2        int
	L3        int
}

// fromInfo converts the detected processor info.
func fromInfo(c *kcpuid.CPUInfo) Facts {
	v, err := cpuid.ParseVendor(c.VendorString)
	if err != nil {
		v = cpuid.VendorUnknown
	}
	return Facts{
		Vendor:         v,
		Brand:          c.BrandName,
		Family:         c.Family,
		Model:          c.Model,
		ThreadsPerCore: c.ThreadsPerCore,
		LogicalCores:   c.LogicalCores,
		PhysicalCores:  c.PhysicalCores,
		CacheLine:      c.CacheLine,
		L1D:            c.Cache.L1D,
		L2:             c.Cache.L2,
		L3:             c.Cache.L3,
	}
}

// Detect returns the facts of the host processor, as reported by the CPUID
// instruction of the CPU this runs on.
func Detect() Facts {
	return fromInfo(&kcpuid.CPU)
}

// SMT returns the number of hardware threads per core, at least 1.
func (f Facts) SMT() uint32 {
	if f.ThreadsPerCore < 1 {
		return 1
	}
	return uint32(f.ThreadsPerCore)
}

// String implements fmt.Stringer.
func (f Facts) String() string {
	return fmt.Sprintf("%s %q family %#x model %#x, %d logical / %d physical cores, %d threads per core",
		f.Vendor, f.Brand, f.Family, f.Model, f.LogicalCores, f.PhysicalCores, f.ThreadsPerCore)
}
