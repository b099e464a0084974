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

// Package cmd holds implementations of the vmmctl commands.
package cmd

import (
	"fmt"

	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/pkg/hostcpu"
	"vmmkit.dev/vmmkit/pkg/log"
	"vmmkit.dev/vmmkit/pkg/vmm"
	"vmmkit.dev/vmmkit/vmmctl/config"
	"vmmkit.dev/vmmkit/vmmctl/flag"
)

// instanceFlags are the flags shared by the commands that build an instance.
type instanceFlags struct {
	// path is the instance file.
	path string

	// vcpus overrides main.cpus if not zero.
	vcpus uint

	// profile overrides main.cpuid_profile if set.
	profile string
}

func (f *instanceFlags) setFlags(fs *flag.FlagSet) {
	fs.StringVar(&f.path, "config", "", "path to the instance file.")
	fs.UintVar(&f.vcpus, "vcpus", 0, "number of vCPUs, overriding main.cpus.")
	fs.StringVar(&f.profile, "profile", "", "name of the [cpuid.<name>] profile to use, overriding main.cpuid_profile.")
}

// load reads the instance file and resolves the selected profile.
func (f *instanceFlags) load() (*config.File, *cpuid.Profile, error) {
	if f.path == "" {
		return nil, nil, fmt.Errorf("--config is required")
	}
	file, err := config.Load(f.path)
	if err != nil {
		return nil, nil, err
	}
	if f.profile != "" {
		file.Main.CPUIDProfile = f.profile
	}
	p, err := file.CPUIDProfile()
	if err != nil {
		return nil, nil, err
	}
	return file, p, nil
}

// newInstance builds the instance described by the flags and conf.
func (f *instanceFlags) newInstance(conf *config.Config) (*vmm.Instance, *config.File, error) {
	file, p, err := f.load()
	if err != nil {
		return nil, nil, err
	}
	spec, err := instanceSpec(conf, file, f.vcpus)
	if err != nil {
		return nil, nil, err
	}
	spec.Profile = p
	inst, err := vmm.New(spec)
	if err != nil {
		return nil, nil, err
	}
	return inst, file, nil
}

// instanceSpec derives the instance shape from the file and the runtime
// configuration.
func instanceSpec(conf *config.Config, file *config.File, vcpus uint) (vmm.Spec, error) {
	spec := vmm.Spec{
		Name:            file.Main.Name,
		VCPUs:           uint32(file.Main.CPUs),
		ThreadsPerCore:  uint32(conf.ThreadsPerCore),
		CoresPerPackage: uint32(conf.CoresPerPackage),
		DefaultVendor:   conf.DefaultVendor,
	}
	if vcpus != 0 {
		if vcpus > 1<<16 {
			return vmm.Spec{}, fmt.Errorf("--vcpus=%d is too large", vcpus)
		}
		spec.VCPUs = uint32(vcpus)
	}
	if conf.HostTopology {
		host, err := hostcpu.ReadLayout()
		if err != nil {
			return vmm.Spec{}, fmt.Errorf("reading host topology: %w", err)
		}
		spec.ThreadsPerCore, spec.CoresPerPackage = hostcpu.GuestLayout(spec.VCPUs, host)
		log.Infof("Host layout %+v, guest uses %d threads per core and %d cores per package", host, spec.ThreadsPerCore, spec.CoresPerPackage)
	}
	return spec, nil
}

// parseLeaves parses leaf arguments in profile notation. A wildcard key
// queries sub-leaf 0.
func parseLeaves(args []string) ([]cpuid.In, error) {
	var leaves flag.Keys
	for _, arg := range args {
		if err := leaves.Set(arg); err != nil {
			return nil, err
		}
	}
	ins := make([]cpuid.In, 0, len(leaves))
	for _, k := range leaves {
		ins = append(ins, k.In())
	}
	return ins, nil
}

// vcpuRange returns the vCPUs selected by a --vcpu flag: all of them for a
// negative value.
func vcpuRange(topo *cpuid.Topology, vcpu int) ([]uint32, error) {
	if vcpu >= 0 {
		if uint64(vcpu) >= uint64(topo.VCPUs()) {
			return nil, fmt.Errorf("vCPU %d out of range, instance has %d", vcpu, topo.VCPUs())
		}
		return []uint32{uint32(vcpu)}, nil
	}
	ids := make([]uint32, topo.VCPUs())
	for i := range ids {
		ids[i] = uint32(i)
	}
	return ids, nil
}
