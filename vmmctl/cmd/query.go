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
	"text/tabwriter"

	"github.com/google/subcommands"
	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/vmmctl/cmd/util"
	"vmmkit.dev/vmmkit/vmmctl/config"
	"vmmkit.dev/vmmkit/vmmctl/flag"
)

// Query implements subcommands.Command for the "query" command.
type Query struct {
	instanceFlags

	// vcpu is the vCPU to query. Negative means every vCPU.
	vcpu int
}

// Name implements subcommands.Command.Name.
func (*Query) Name() string {
	return "query"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Query) Synopsis() string {
	return "answer CPUID queries as the instance's vCPUs would see them"
}

// Usage implements subcommands.Command.Usage.
func (*Query) Usage() string {
	return `query --config <file> [flags] <leaf>[-<subleaf>]...

Leaves are hexadecimal. A leaf without a sub-leaf queries sub-leaf 0. Example:

  query --config vm.toml --vcpu 3 1 b-0 b-1 80000008
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (q *Query) SetFlags(f *flag.FlagSet) {
	q.setFlags(f)
	f.IntVar(&q.vcpu, "vcpu", -1, "vCPU to query; all vCPUs if negative.")
}

// Execute implements subcommands.Command.Execute.
func (q *Query) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	ins, err := parseLeaves(f.Args())
	if err != nil {
		return util.Errorf("query failed: %v", err)
	}
	inst, _, err := q.newInstance(conf)
	if err != nil {
		return util.Errorf("query failed: %v", err)
	}
	vcpus, err := vcpuRange(inst.Topology(), q.vcpu)
	if err != nil {
		return util.Errorf("query failed: %v", err)
	}
	if err := writeQueries(os.Stdout, inst.Engine().Snapshot(), vcpus, ins); err != nil {
		return util.Errorf("query failed: %v", err)
	}
	return subcommands.ExitSuccess
}

func writeQueries(w io.Writer, snap *cpuid.Snapshot, vcpus []uint32, ins []cpuid.In) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintln(tw, "VCPU\tLEAF\tEAX\tEBX\tECX\tEDX\tSOURCE")
	for _, vcpu := range vcpus {
		for _, in := range ins {
			out, src := snap.Resolve(vcpu, in.Eax, in.Ecx)
			fmt.Fprintf(tw, "%d\t%x-%x\t%08x\t%08x\t%08x\t%08x\t%v\n", vcpu, in.Eax, in.Ecx, out.Eax, out.Ebx, out.Ecx, out.Edx, src)
		}
	}
	return tw.Flush()
}
