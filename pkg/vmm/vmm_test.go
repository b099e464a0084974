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

package vmm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/pkg/log"
)

func testProfile(t *testing.T, v cpuid.Vendor, leaf2 uint32) *cpuid.Profile {
	t.Helper()
	p := cpuid.NewProfile(v)
	for k, out := range map[string]cpuid.Out{
		"0":        {Eax: 0xb},
		"1":        {Eax: 0x906ea, Ebx: 0xff000800},
		"2":        {Eax: leaf2, Ebx: leaf2, Ecx: leaf2, Edx: leaf2},
		"b":        {Edx: 0xff},
		"80000000": {Eax: 0x80000008},
		"80000008": {Eax: 0x3027},
	} {
		key, err := cpuid.ParseKey(k)
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Insert(key, out); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func TestNew(t *testing.T) {
	i, err := New(Spec{Name: "test", VCPUs: 4, Profile: testProfile(t, cpuid.VendorIntel, 2)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if i.Name() != "test" || i.Topology().VCPUs() != 4 {
		t.Errorf("instance = %q with %v", i.Name(), i.Topology())
	}
	if !i.Engine().Snapshot().Configured() {
		t.Errorf("engine has no profile")
	}
}

func TestNewErrors(t *testing.T) {
	if _, err := New(Spec{Name: "none"}); err == nil {
		t.Errorf("New with no vCPUs succeeded")
	}
	p := cpuid.NewProfile(cpuid.VendorIntel)
	if err := p.Insert(cpuid.Key{Function: 1, Index: cpuid.AnyIndex}, cpuid.Out{}); err != nil {
		t.Fatal(err)
	}
	_, err := New(Spec{Name: "bad", VCPUs: 1, Profile: p})
	if !errors.Is(err, cpuid.ErrMissingBoundary) {
		t.Errorf("New with no boundary leaves = %v, want %v", err, cpuid.ErrMissingBoundary)
	}
}

func TestReplayAPICIDs(t *testing.T) {
	i, err := New(Spec{Name: "replay", VCPUs: 8, ThreadsPerCore: 2, Profile: testProfile(t, cpuid.VendorIntel, 2)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	program := []cpuid.In{{Eax: 1}, {Eax: 0xb, Ecx: 1}}
	results, err := i.Replay(context.Background(), program, 10)
	if err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("got results for %d vCPUs, want 8", len(results))
	}
	for vcpu, outs := range results {
		apic := i.Topology().APICID(uint32(vcpu))
		if got := outs[0].Ebx >> 24; got != apic {
			t.Errorf("vCPU %d leaf 1 APIC ID = %d, want %d", vcpu, got, apic)
		}
		if got := outs[1].Edx; got != apic {
			t.Errorf("vCPU %d leaf 0xb x2APIC ID = %d, want %d", vcpu, got, apic)
		}
	}
}

func TestUnconfigured(t *testing.T) {
	i, err := New(Spec{Name: "bare", VCPUs: 2, DefaultVendor: cpuid.VendorAMD})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c := &VCPU{ID: 1, inst: i}
	if got := cpuid.VendorFromLeaf(c.CPUID(cpuid.In{})); got != cpuid.VendorAMD {
		t.Errorf("vendor = %v, want %v", got, cpuid.VendorAMD)
	}
	if got := c.Query(cpuid.In{Eax: 1}); got != (cpuid.Out{}) {
		t.Errorf("leaf 1 = %+v, want zero", got)
	}
}

func TestReconfigureWhileRunning(t *testing.T) {
	i, err := New(Spec{Name: "reconf", VCPUs: 4, Profile: testProfile(t, cpuid.VendorIntel, 1)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	next := testProfile(t, cpuid.VendorIntel, 2)

	var seen atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		for seen.Load() < 100 {
		}
		if err := i.Reconfigure(next); err != nil {
			t.Errorf("Reconfigure failed: %v", err)
		}
	}()

	err = i.Run(context.Background(), func(ctx context.Context, c *VCPU) error {
		for {
			out := c.CPUID(cpuid.In{Eax: 2})
			if out.Eax != out.Edx || (out.Eax != 1 && out.Eax != 2) {
				return errors.New("inconsistent leaf 2")
			}
			if out.Eax == 2 {
				return nil
			}
			seen.Add(1)
		}
	})
	<-done
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// A failed reconfiguration keeps the running snapshot.
	if err := i.Reconfigure(cpuid.NewProfile(cpuid.VendorAMD)); err == nil {
		t.Errorf("Reconfigure with an empty profile succeeded")
	}
	if got := i.Engine().Query(0, 2, 0).Eax; got != 2 {
		t.Errorf("leaf 2 after failed Reconfigure = %d, want 2", got)
	}
}

func TestTraceSampling(t *testing.T) {
	quiet, err := New(Spec{Name: "quiet", VCPUs: 2})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !log.IsLogging(log.Debug) && quiet.trace != nil {
		t.Errorf("trace logger created without debug logging")
	}

	old := log.Log().Level
	log.SetLevel(log.Debug)
	defer log.SetLevel(old)
	i, err := New(Spec{Name: "traced", VCPUs: 2, Profile: testProfile(t, cpuid.VendorIntel, 2)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if i.trace == nil {
		t.Fatalf("no trace logger with debug logging enabled")
	}
	var traced [2]int
	for n := 0; n < 3*traceSample; n++ {
		for vcpu := uint32(0); vcpu < 2; vcpu++ {
			if i.sampled(vcpu) {
				traced[vcpu]++
			}
		}
	}
	if traced != [2]int{3, 3} {
		t.Errorf("sampled exits per vCPU = %v, want [3 3]", traced)
	}
	if i.sampled(2) {
		t.Errorf("sampled(2) = true for a 2 vCPU instance")
	}
	// HandleCPUID still answers while tracing.
	if got := i.HandleCPUID(1, cpuid.In{Eax: 2}).Eax; got != 2 {
		t.Errorf("leaf 2 = %d, want 2", got)
	}
}

func TestRunCancels(t *testing.T) {
	i, err := New(Spec{Name: "cancel", VCPUs: 4})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	boom := errors.New("triple fault")
	err = i.Run(context.Background(), func(ctx context.Context, c *VCPU) error {
		if c.ID == 2 {
			return boom
		}
		<-ctx.Done()
		return nil
	})
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "vCPU 2") {
		t.Errorf("Run = %v, want vCPU 2 error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := i.Replay(ctx, []cpuid.In{{Eax: 0}}, 5); !errors.Is(err, context.Canceled) {
		t.Errorf("Replay with cancelled context = %v, want %v", err, context.Canceled)
	}
}

func TestMetrics(t *testing.T) {
	i, err := New(Spec{Name: "metrics", VCPUs: 2, Profile: testProfile(t, cpuid.VendorIntel, 2)})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Per vCPU: one exact (leaf 0), one zero (leaf 5 gap), one clamped
	// (leaf 0x20).
	program := []cpuid.In{{Eax: 0}, {Eax: 5}, {Eax: 0x20}}
	if _, err := i.Replay(context.Background(), program, 3); err != nil {
		t.Fatalf("Replay failed: %v", err)
	}
	// The profile keys are wildcards.
	want := map[cpuid.Source]float64{
		cpuid.SourceWildcard: 6,
		cpuid.SourceZero:     6,
		cpuid.SourceClamped:  6,
		cpuid.SourceExact:    0,
		cpuid.SourceDefault:  0,
	}
	got := make(map[cpuid.Source]float64)
	for src := range want {
		got[src] = testutil.ToFloat64(i.metrics.exits[src])
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("exit counts mismatch (-want +got):\n%s", diff)
	}
	if got := testutil.ToFloat64(i.metrics.publications); got != 1 {
		t.Errorf("publications = %v, want 1", got)
	}

	var buf bytes.Buffer
	if err := i.WriteMetrics(&buf); err != nil {
		t.Fatalf("WriteMetrics failed: %v", err)
	}
	for _, line := range []string{
		`vmm_cpuid_exits_total{instance="metrics",source="clamped"} 6`,
		`vmm_cpuid_publications_total{instance="metrics"} 1`,
		`vmm_vcpus{instance="metrics"} 2`,
	} {
		if !strings.Contains(buf.String(), line) {
			t.Errorf("metrics output is missing %q:\n%s", line, buf.String())
		}
	}
}
