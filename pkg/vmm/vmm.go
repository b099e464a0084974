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

// Package vmm holds the vCPU-visible state of a virtual machine instance and
// drives its vCPUs.
//
// An Instance owns the CPUID engine of the machine. Each vCPU runs on its own
// goroutine and handles its CPUID exits synchronously through HandleCPUID;
// reconfiguration publishes a new snapshot without stopping the vCPUs.
package vmm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/pkg/log"
)

// Spec describes an instance.
type Spec struct {
	// Name is the instance name, used in logs.
	Name string

	// VCPUs is the number of vCPUs. It must be at least 1.
	VCPUs uint32

	// ThreadsPerCore and CoresPerPackage shape the topology. See
	// cpuid.NewTopology for defaults.
	ThreadsPerCore  uint32
	CoresPerPackage uint32

	// Profile is the CPUID profile. If nil, the instance answers CPUID with
	// the default masking.
	Profile *cpuid.Profile

	// DefaultVendor is the vendor reported when Profile is nil.
	DefaultVendor cpuid.Vendor

	// Rules overrides the specialization rules. If nil, the default rules
	// are used.
	Rules *cpuid.Registry
}

// Instance is a running virtual machine.
type Instance struct {
	name   string
	topo   *cpuid.Topology
	engine *cpuid.Engine

	// mu serializes publication of new snapshots.
	mu            sync.Mutex
	rules         *cpuid.Registry
	defaultVendor cpuid.Vendor

	metrics *metrics

	// trace logs sampled exits. It is nil unless debug logging was enabled
	// when the instance was created.
	trace log.Logger

	// exitCount counts the exits of each vCPU for trace sampling.
	exitCount []atomic.Uint64
}

const (
	// traceEvery bounds how often exits are traced.
	traceEvery = 100 * time.Millisecond

	// traceSample is the number of exits of a vCPU per traced exit.
	traceSample = 1024
)

// New creates an instance and publishes its initial CPUID snapshot.
func New(spec Spec) (*Instance, error) {
	topo, err := cpuid.NewTopology(spec.VCPUs, spec.ThreadsPerCore, spec.CoresPerPackage)
	if err != nil {
		return nil, fmt.Errorf("instance %q: %w", spec.Name, err)
	}
	rules := spec.Rules
	if rules == nil {
		rules = cpuid.DefaultRules()
	}
	i := &Instance{
		name:          spec.Name,
		topo:          topo,
		engine:        cpuid.NewEngine(nil),
		rules:         rules,
		defaultVendor: spec.DefaultVendor,
		metrics:       newMetrics(spec.Name, topo.VCPUs()),
		exitCount:     make([]atomic.Uint64, topo.VCPUs()),
	}
	if log.IsLogging(log.Debug) {
		i.trace = log.BasicRateLimitedLogger(traceEvery)
	}
	if err := i.Reconfigure(spec.Profile); err != nil {
		return nil, fmt.Errorf("instance %q: %w", spec.Name, err)
	}
	log.Infof("Instance %q created: %v", i.name, topo)
	return i, nil
}

// Name returns the instance name.
func (i *Instance) Name() string {
	return i.name
}

// Topology returns the vCPU topology.
func (i *Instance) Topology() *cpuid.Topology {
	return i.topo
}

// Engine returns the CPUID engine.
func (i *Instance) Engine() *cpuid.Engine {
	return i.engine
}

// Reconfigure replaces the CPUID profile. The new snapshot is built before
// anything is published; on error the running snapshot is kept. vCPUs in the
// middle of an exit finish it against the old snapshot.
func (i *Instance) Reconfigure(p *cpuid.Profile) error {
	snap, err := cpuid.NewSnapshot(p, i.topo,
		cpuid.WithRules(i.rules),
		cpuid.WithDefaultVendor(i.defaultVendor))
	if err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.engine.Publish(snap)
	i.metrics.publications.Inc()
	if snap.Configured() {
		t := snap.Table()
		log.Infof("Instance %q: published %v CPUID profile with %d leaves (max basic %#x, max extended %#x, policy %s)",
			i.name, snap.Vendor(), t.Len(), t.MaxBasic(), t.MaxExtended(), snap.Policy().Name())
	} else {
		log.Infof("Instance %q: no CPUID profile, using default masking", i.name)
	}
	return nil
}

// HandleCPUID answers a CPUID exit of vcpu. It never blocks.
func (i *Instance) HandleCPUID(vcpu uint32, in cpuid.In) cpuid.Out {
	out, src := i.engine.Resolve(vcpu, in.Eax, in.Ecx)
	i.metrics.exits[src].Inc()
	if i.trace != nil && i.sampled(vcpu) {
		i.trace.Debugf("vCPU %d: cpuid %v -> %#08x %#08x %#08x %#08x (%v)", vcpu, in, out.Eax, out.Ebx, out.Ecx, out.Edx, src)
	}
	return out
}

// sampled returns true for the first exit of vcpu and every traceSample-th
// exit after it.
func (i *Instance) sampled(vcpu uint32) bool {
	if int(vcpu) >= len(i.exitCount) {
		return false
	}
	return i.exitCount[vcpu].Add(1)%traceSample == 1
}

// VCPU is one virtual CPU of an instance.
type VCPU struct {
	ID   uint32
	inst *Instance
}

// CPUID executes the CPUID instruction on the vCPU.
func (c *VCPU) CPUID(in cpuid.In) cpuid.Out {
	return c.inst.HandleCPUID(c.ID, in)
}

// Query implements cpuid.Function.Query.
func (c *VCPU) Query(in cpuid.In) cpuid.Out {
	return c.CPUID(in)
}

// Run runs fn once per vCPU, each on its own goroutine. The context passed to
// fn is cancelled as soon as one vCPU fails; Run returns the first error.
func (i *Instance) Run(ctx context.Context, fn func(ctx context.Context, c *VCPU) error) error {
	g, ctx := errgroup.WithContext(ctx)
	for id := uint32(0); id < i.topo.VCPUs(); id++ {
		c := &VCPU{ID: id, inst: i}
		g.Go(func() error {
			if err := fn(ctx, c); err != nil {
				return fmt.Errorf("vCPU %d: %w", c.ID, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Replay executes program on every vCPU iterations times, concurrently, and
// returns what each vCPU saw on its last pass.
func (i *Instance) Replay(ctx context.Context, program []cpuid.In, iterations int) ([][]cpuid.Out, error) {
	if iterations < 1 {
		iterations = 1
	}
	results := make([][]cpuid.Out, i.topo.VCPUs())
	err := i.Run(ctx, func(ctx context.Context, c *VCPU) error {
		outs := make([]cpuid.Out, len(program))
		for n := 0; n < iterations; n++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for j, in := range program {
				outs[j] = c.CPUID(in)
			}
		}
		results[c.ID] = outs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
