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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"
	"gopkg.in/yaml.v3"
	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/vmmctl/cmd/util"
	"vmmkit.dev/vmmkit/vmmctl/config"
	"vmmkit.dev/vmmkit/vmmctl/flag"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	instanceFlags

	vcpu   int
	format string
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "print the specialized CPUID table of each vCPU"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump --config <file> [flags]

Prints every leaf of the selected profile as seen by each vCPU, in profile
notation. Wildcard leaves are shown as sub-leaf 0.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	d.setFlags(f)
	f.IntVar(&d.vcpu, "vcpu", -1, "vCPU to dump; all vCPUs if negative.")
	f.StringVar(&d.format, "format", "text", "output format: text, json or yaml.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	inst, _, err := d.newInstance(conf)
	if err != nil {
		return util.Errorf("dump failed: %v", err)
	}
	vcpus, err := vcpuRange(inst.Topology(), d.vcpu)
	if err != nil {
		return util.Errorf("dump failed: %v", err)
	}
	tables := dumpTables(inst.Engine().Snapshot(), vcpus)
	if err := writeDump(os.Stdout, d.format, tables); err != nil {
		return util.Errorf("dump failed: %v", err)
	}
	return subcommands.ExitSuccess
}

// VCPUTable is the CPUID table seen by one vCPU.
type VCPUTable struct {
	VCPU   uint32      `json:"vcpu" yaml:"vcpu"`
	APICID uint32      `json:"apic_id" yaml:"apic_id"`
	Vendor string      `json:"vendor" yaml:"vendor"`
	Leaves []LeafValue `json:"leaves" yaml:"leaves"`
}

// LeafValue is one leaf in profile notation. Registers are hexadecimal
// strings so that both JSON and YAML output stay readable.
type LeafValue struct {
	Leaf string `json:"leaf" yaml:"leaf"`
	EAX  string `json:"eax" yaml:"eax"`
	EBX  string `json:"ebx" yaml:"ebx"`
	ECX  string `json:"ecx" yaml:"ecx"`
	EDX  string `json:"edx" yaml:"edx"`
}

func dumpTables(snap *cpuid.Snapshot, vcpus []uint32) []VCPUTable {
	tables := make([]VCPUTable, 0, len(vcpus))
	for _, vcpu := range vcpus {
		entries := snap.Entries(vcpu)
		t := VCPUTable{
			VCPU:   vcpu,
			APICID: snap.Topology().APICID(vcpu),
			Vendor: snap.Vendor().String(),
			Leaves: make([]LeafValue, 0, len(entries)),
		}
		for _, e := range entries {
			t.Leaves = append(t.Leaves, LeafValue{
				Leaf: e.Key.String(),
				EAX:  fmt.Sprintf("0x%08x", e.Value.Eax),
				EBX:  fmt.Sprintf("0x%08x", e.Value.Ebx),
				ECX:  fmt.Sprintf("0x%08x", e.Value.Ecx),
				EDX:  fmt.Sprintf("0x%08x", e.Value.Edx),
			})
		}
		tables = append(tables, t)
	}
	return tables
}

func writeDump(w io.Writer, format string, tables []VCPUTable) error {
	switch format {
	case "text":
		for _, t := range tables {
			fmt.Fprintf(w, "vCPU %d (APIC ID %d, %s):\n", t.VCPU, t.APICID, t.Vendor)
			for _, l := range t.Leaves {
				fmt.Fprintf(w, "  %-12s %s %s %s %s\n", l.Leaf, l.EAX, l.EBX, l.ECX, l.EDX)
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tables)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(tables); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format %q, must be 'text', 'json' or 'yaml'", format)
	}
}
