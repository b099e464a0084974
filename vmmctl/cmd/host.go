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

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"vmmkit.dev/vmmkit/pkg/hostcpu"
	"vmmkit.dev/vmmkit/pkg/log"
	"vmmkit.dev/vmmkit/vmmctl/cmd/util"
	"vmmkit.dev/vmmkit/vmmctl/flag"
)

// Host implements subcommands.Command for the "host" command.
type Host struct {
	// vcpus, if set, also prints the guest layout --host-topology would pick.
	vcpus uint
}

// Name implements subcommands.Command.Name.
func (*Host) Name() string {
	return "host"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Host) Synopsis() string {
	return "print the host CPU facts used to shape guest topologies"
}

// Usage implements subcommands.Command.Usage.
func (*Host) Usage() string {
	return "host [flags]\n"
}

// SetFlags implements subcommands.Command.SetFlags.
func (h *Host) SetFlags(f *flag.FlagSet) {
	f.UintVar(&h.vcpus, "vcpus", 0, "also print the guest layout picked for this many vCPUs.")
}

// Execute implements subcommands.Command.Execute.
func (h *Host) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if h.vcpus > 1<<16 {
		return util.Errorf("--vcpus=%d is too large", h.vcpus)
	}
	writeHost(os.Stdout, hostcpu.Detect(), uint32(h.vcpus))
	return subcommands.ExitSuccess
}

func writeHost(w io.Writer, facts hostcpu.Facts, vcpus uint32) {
	fmt.Fprintf(w, "cpu:       %v\n", facts)
	fmt.Fprintf(w, "caches:    line %d, L1D %d, L2 %d, L3 %d\n", facts.CacheLine, facts.L1D, facts.L2, facts.L3)

	// The files below are Linux specific; report what is there.
	if n, err := hostcpu.UsableCPUs(); err == nil {
		fmt.Fprintf(w, "usable:    %d CPUs\n", n)
	} else {
		log.Warningf("Reading CPU affinity: %v", err)
	}
	if last, err := hostcpu.MaxPossibleCPU(); err == nil {
		fmt.Fprintf(w, "possible:  0-%d\n", last)
	} else {
		log.Warningf("Reading possible CPUs: %v", err)
	}
	layout, err := hostcpu.ReadLayout()
	if err != nil {
		log.Warningf("Reading /proc/cpuinfo: %v", err)
		return
	}
	fmt.Fprintf(w, "layout:    %d sockets x %d cores x %d threads\n", layout.Sockets, layout.CoresPerSocket, layout.ThreadsPerCore)
	if vcpus > 0 {
		tpc, cpp := hostcpu.GuestLayout(vcpus, layout)
		fmt.Fprintf(w, "guest:     %d vCPUs as %d threads per core, %d cores per package\n", vcpus, tpc, cpp)
	}
}
