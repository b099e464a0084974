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

// Static is a static CPUID function. Inputs not present read as zero.
type Static map[In]Out

// Query implements Function.Query.
func (s Static) Query(in In) Out {
	return s[in]
}

// Add adds a leaf.
func (s Static) Add(in In, out Out) {
	s[in] = out
}

// ToStatic returns the fully specialized leaves of vcpu as a Static
// function. Wildcard entries appear as sub-leaf 0.
//
// The result can be used where a Function with no miss policy is enough,
// for example to program a hypervisor that takes an explicit leaf list.
func (s *Snapshot) ToStatic(vcpu uint32) Static {
	st := make(Static)
	for _, e := range s.Entries(vcpu) {
		in := e.Key.In()
		// An exact sub-leaf 0 entry outranks the wildcard; Entries
		// returns it second.
		st[in] = e.Value
	}
	return st
}
