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
)

// Snapshot is the read-only CPUID state of an instance: a Table (or none),
// the Topology, a VendorPolicy and a rule Registry. It is never modified
// after NewSnapshot returns and may be shared by any number of vCPUs.
type Snapshot struct {
	// table is nil for an unconfigured instance.
	table  *Table
	topo   *Topology
	policy VendorPolicy
	rules  *Registry
	vendor Vendor
}

// SnapshotOption configures NewSnapshot.
type SnapshotOption func(*Snapshot)

// WithPolicy overrides the vendor policy chosen by PolicyFor.
func WithPolicy(p VendorPolicy) SnapshotOption {
	return func(s *Snapshot) {
		s.policy = p
	}
}

// WithRules overrides the rule registry. A nil registry disables
// specialization.
func WithRules(r *Registry) SnapshotOption {
	return func(s *Snapshot) {
		s.rules = r
	}
}

// WithDefaultVendor sets the vendor string reported by an unconfigured
// snapshot. It has no effect when a profile is given.
func WithDefaultVendor(v Vendor) SnapshotOption {
	return func(s *Snapshot) {
		s.vendor = v
	}
}

// NewSnapshot builds a snapshot. p may be nil, in which case every query is
// answered by DefaultMasking. A nil topo means a single vCPU.
func NewSnapshot(p *Profile, topo *Topology, opts ...SnapshotOption) (*Snapshot, error) {
	if topo == nil {
		topo = &Topology{}
	}
	s := &Snapshot{
		topo:  topo,
		rules: DefaultRules(),
	}
	if p != nil {
		t, err := NewTable(p)
		if err != nil {
			return nil, err
		}
		s.table = t
		s.policy = PolicyFor(p.Vendor)
	}
	for _, opt := range opts {
		opt(s)
	}
	if p != nil {
		s.vendor = p.Vendor
	}
	if s.policy == nil {
		s.policy = ZeroPolicy{}
	}
	return s, nil
}

// unconfigured is the snapshot of an engine that has never been published to.
var unconfigured = func() *Snapshot {
	s, err := NewSnapshot(nil, nil)
	if err != nil {
		panic(fmt.Sprintf("default snapshot: %v", err))
	}
	return s
}()

// Configured returns true if the snapshot was built from a profile.
func (s *Snapshot) Configured() bool {
	return s.table != nil
}

// Vendor returns the vendor of the profile, or the default vendor of an
// unconfigured snapshot.
func (s *Snapshot) Vendor() Vendor {
	return s.vendor
}

// Topology returns the instance topology.
func (s *Snapshot) Topology() *Topology {
	return s.topo
}

// Table returns the table, or nil if unconfigured.
func (s *Snapshot) Table() *Table {
	return s.table
}

// Policy returns the vendor policy.
func (s *Snapshot) Policy() VendorPolicy {
	return s.policy
}

// Rules returns the rule registry. It may be nil.
func (s *Snapshot) Rules() *Registry {
	return s.rules
}

// Resolve answers a CPUID query from vcpu and reports where the answer came
// from.
//
// Table hits and clamped misses are specialized with the rules of the
// answering leaf. Zero-filled misses and default answers are returned as is.
//
// Resolve is total: every input yields a value.
func (s *Snapshot) Resolve(vcpu, fn, idx uint32) (Out, Source) {
	if s.table == nil {
		return DefaultMasking(s.vendor, fn), SourceDefault
	}
	in := In{Eax: fn, Ecx: idx}
	out, src, ok := s.table.Lookup(fn, idx)
	if !ok {
		var eff In
		out, eff, src = s.policy.ResolveMiss(s.table, in, s.topo)
		if src != SourceClamped {
			return out, src
		}
		in = eff
	}
	return s.rules.Apply(s.vendor, out, in, vcpu, s.topo), src
}

// Query answers a CPUID query from vcpu.
func (s *Snapshot) Query(vcpu, fn, idx uint32) Out {
	out, _ := s.Resolve(vcpu, fn, idx)
	return out
}

// ForVCPU returns a Function answering queries for one vCPU.
func (s *Snapshot) ForVCPU(vcpu uint32) Function {
	return vcpuView{s: s, vcpu: vcpu}
}

type vcpuView struct {
	s    *Snapshot
	vcpu uint32
}

// Query implements Function.Query.
func (v vcpuView) Query(in In) Out {
	return v.s.Query(v.vcpu, in.Eax, in.Ecx)
}

// Entries returns every profile entry as seen by vcpu, in key order. Wildcard
// entries are specialized as sub-leaf 0. An unconfigured snapshot has only
// the two boundary leaves.
func (s *Snapshot) Entries(vcpu uint32) []Entry {
	if s.table == nil {
		return []Entry{
			{Key: Key{Function: vendorID}, Value: DefaultMasking(s.vendor, vendorID)},
			{Key: Key{Function: extendedStart}, Value: DefaultMasking(s.vendor, extendedStart)},
		}
	}
	es := s.table.Entries()
	for i := range es {
		in := es[i].Key.In()
		es[i].Value = s.rules.Apply(s.vendor, es[i].Value, in, vcpu, s.topo)
	}
	return es
}
