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
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBitsFor(t *testing.T) {
	for n, want := range map[uint32]uint32{0: 0, 1: 0, 2: 1, 3: 2, 4: 2, 5: 3, 8: 3, 9: 4, 64: 6} {
		if got := bitsFor(n); got != want {
			t.Errorf("bitsFor(%d) = %d, want %d", n, got, want)
		}
	}
}

func TestAPICIDs(t *testing.T) {
	for _, tc := range []struct {
		name                      string
		vcpus, threads, cores     uint32
		threadShift, packageShift uint32
		want                      []uint32
	}{
		{
			name:  "flat",
			vcpus: 4, threads: 1,
			threadShift: 0, packageShift: 2,
			want: []uint32{0, 1, 2, 3},
		},
		{
			name:  "smt",
			vcpus: 8, threads: 2, cores: 2,
			threadShift: 1, packageShift: 2,
			want: []uint32{0, 1, 2, 3, 4, 5, 6, 7},
		},
		{
			// Three cores take two bits, leaving a hole before the next
			// package.
			name:  "sparse",
			vcpus: 12, threads: 2, cores: 3,
			threadShift: 1, packageShift: 3,
			want: []uint32{0, 1, 2, 3, 4, 5, 8, 9, 10, 11, 12, 13},
		},
		{
			name:  "partial package",
			vcpus: 6, threads: 1, cores: 4,
			threadShift: 0, packageShift: 2,
			want: []uint32{0, 1, 2, 3, 4, 5},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			topo, err := NewTopology(tc.vcpus, tc.threads, tc.cores)
			if err != nil {
				t.Fatalf("NewTopology failed: %v", err)
			}
			if topo.ThreadShift() != tc.threadShift || topo.PackageShift() != tc.packageShift {
				t.Errorf("shifts = %d, %d, want %d, %d", topo.ThreadShift(), topo.PackageShift(), tc.threadShift, tc.packageShift)
			}
			var got []uint32
			for v := uint32(0); v < topo.VCPUs(); v++ {
				got = append(got, topo.APICID(v))
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("APIC IDs mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTopologyLocation(t *testing.T) {
	topo := MustNewTopology(12, 2, 3)
	if topo.Packages() != 2 || topo.LogicalPerPackage() != 6 {
		t.Errorf("packages = %d, logical per package = %d, want 2, 6", topo.Packages(), topo.LogicalPerPackage())
	}
	pkg, core, thread := topo.Location(9)
	if pkg != 1 || core != 1 || thread != 1 {
		t.Errorf("Location(9) = %d, %d, %d, want 1, 1, 1", pkg, core, thread)
	}
	if topo.CacheSharing(1) != 2 || topo.CacheSharing(2) != 2 || topo.CacheSharing(3) != 6 {
		t.Errorf("CacheSharing = %d, %d, %d", topo.CacheSharing(1), topo.CacheSharing(2), topo.CacheSharing(3))
	}
}

func TestTopologyLevels(t *testing.T) {
	topo := MustNewTopology(8, 2, 0)
	type level struct {
		Type         LevelType
		Count, Shift uint32
		OK           bool
	}
	var got []level
	for idx := uint32(0); idx <= topo.Levels(); idx++ {
		typ, count, shift, ok := topo.Level(idx)
		got = append(got, level{typ, count, shift, ok})
	}
	want := []level{
		{LevelSMT, 2, 1, true},
		{LevelCore, 8, 3, true},
		{LevelInvalid, 0, 0, false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("levels mismatch (-want +got):\n%s", diff)
	}
}

func TestTopologyErrors(t *testing.T) {
	for _, tc := range []struct {
		vcpus, threads, cores uint32
	}{
		{vcpus: 0},
		{vcpus: 3, threads: 2},
		{vcpus: 4, threads: 1024, cores: 1024},
	} {
		if _, err := NewTopology(tc.vcpus, tc.threads, tc.cores); err == nil {
			t.Errorf("NewTopology(%d, %d, %d) succeeded", tc.vcpus, tc.threads, tc.cores)
		}
	}
}

func TestZeroTopology(t *testing.T) {
	var topo Topology
	if topo.VCPUs() != 1 || topo.APICID(0) != 0 || topo.PackageShift() != 0 {
		t.Errorf("zero topology = %v", &topo)
	}
}
