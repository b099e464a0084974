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

// Engine serves CPUID queries for all vCPUs of an instance from the most
// recently published Snapshot.
//
// Query and Snapshot may be called from any number of goroutines. Publish is
// the only write path; callers must not call it concurrently with itself.
//
// The zero value is ready to use and answers with DefaultMasking.
type Engine struct {
	current AtomicPtrSnapshot
}

// NewEngine returns an engine serving s. s may be nil.
func NewEngine(s *Snapshot) *Engine {
	e := &Engine{}
	e.current.Store(s)
	return e
}

// Publish makes s the snapshot for all subsequent queries and returns the
// previous one. Queries already running finish against the snapshot they
// loaded. A nil s returns the engine to the unconfigured state.
func (e *Engine) Publish(s *Snapshot) *Snapshot {
	prev := e.current.Swap(s)
	if prev == nil {
		return unconfigured
	}
	return prev
}

// Snapshot returns the current snapshot. It is never nil.
func (e *Engine) Snapshot() *Snapshot {
	if s := e.current.Load(); s != nil {
		return s
	}
	return unconfigured
}

// Query answers a CPUID exit of vcpu.
func (e *Engine) Query(vcpu, fn, idx uint32) Out {
	return e.Snapshot().Query(vcpu, fn, idx)
}

// Resolve is like Query, but also reports where the answer came from.
func (e *Engine) Resolve(vcpu, fn, idx uint32) (Out, Source) {
	return e.Snapshot().Resolve(vcpu, fn, idx)
}
