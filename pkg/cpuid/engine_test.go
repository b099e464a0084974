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
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
)

func TestEngineZeroValue(t *testing.T) {
	var e Engine
	if e.Snapshot() == nil {
		t.Fatalf("Snapshot() = nil")
	}
	out, src := e.Resolve(0, vendorID, 0)
	if src != SourceDefault || out != (Out{}) {
		t.Errorf("Resolve(0) = %+v, %v, want default zero leaf", out, src)
	}
	if got := e.Query(0, extendedStart, 0); got.Eax != extendedStart {
		t.Errorf("Query(0x80000000) = %+v", got)
	}
}

func TestEnginePublish(t *testing.T) {
	topo := MustNewTopology(2, 1, 0)
	a := testSnapshot(t, VendorIntel, topo)
	b := testSnapshot(t, VendorAMD, topo)

	e := NewEngine(a)
	if e.Snapshot() != a {
		t.Fatalf("Snapshot() is not the initial snapshot")
	}
	if prev := e.Publish(b); prev != a {
		t.Errorf("Publish returned %p, want %p", prev, a)
	}
	if got := VendorFromLeaf(e.Query(1, vendorID, 0)); got != VendorAMD {
		t.Errorf("vendor after Publish = %v, want %v", got, VendorAMD)
	}
	if prev := e.Publish(nil); prev != b {
		t.Errorf("Publish(nil) returned %p, want %p", prev, b)
	}
	if e.Snapshot().Configured() {
		t.Errorf("engine still configured after Publish(nil)")
	}
	// The old snapshot stays usable after it is replaced.
	if got := a.Query(1, featureInfo, 0).Ebx >> 24; got != 1 {
		t.Errorf("old snapshot APIC ID = %d, want 1", got)
	}
}

// uniformSnapshot returns a snapshot in which leaves 0x2 and 0x3 both hold
// v in every register.
func uniformSnapshot(t *testing.T, v uint32) *Snapshot {
	t.Helper()
	p := NewProfile(VendorIntel)
	for _, e := range []Entry{
		{Key{vendorID, AnyIndex}, Out{Eax: 3}},
		{Key{0x2, AnyIndex}, Out{v, v, v, v}},
		{Key{0x3, AnyIndex}, Out{v, v, v, v}},
		{Key{extendedStart, AnyIndex}, Out{Eax: extendedStart}},
	} {
		if err := p.Insert(e.Key, e.Value); err != nil {
			t.Fatal(err)
		}
	}
	s, err := NewSnapshot(p, MustNewTopology(4, 1, 0))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestSnapshotAtomicity(t *testing.T) {
	old := uniformSnapshot(t, 1)
	next := uniformSnapshot(t, 2)
	e := NewEngine(old)

	var (
		stop    atomic.Bool
		readers sync.WaitGroup
		queries atomic.Int64
	)
	for vcpu := uint32(0); vcpu < 4; vcpu++ {
		readers.Add(1)
		go func(vcpu uint32) {
			defer readers.Done()
			for !stop.Load() {
				s := e.Snapshot()
				a := s.Query(vcpu, 0x2, 0)
				runtime.Gosched()
				b := s.Query(vcpu, 0x3, 0)
				if a != b {
					t.Errorf("vCPU %d saw a mixed snapshot: %+v then %+v", vcpu, a, b)
					return
				}
				if a.Eax != 1 && a.Eax != 2 {
					t.Errorf("vCPU %d saw %+v", vcpu, a)
					return
				}
				if out := e.Query(vcpu, 0x2, 0); out.Eax != out.Edx {
					t.Errorf("vCPU %d saw a torn leaf %+v", vcpu, out)
					return
				}
				queries.Add(1)
			}
		}(vcpu)
	}

	// Single writer.
	for i := 0; i < 1000; i++ {
		if i%2 == 0 {
			e.Publish(next)
		} else {
			e.Publish(old)
		}
		runtime.Gosched()
	}
	for queries.Load() < 1000 && !t.Failed() {
		runtime.Gosched()
	}
	stop.Store(true)
	readers.Wait()
}
