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
	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/vmmctl/cmd/util"
	"vmmkit.dev/vmmkit/vmmctl/config"
	"vmmkit.dev/vmmkit/vmmctl/flag"
)

// Check implements subcommands.Command for the "check" command.
type Check struct {
	instanceFlags
}

// Name implements subcommands.Command.Name.
func (*Check) Name() string {
	return "check"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Check) Synopsis() string {
	return "validate an instance file and every CPUID profile in it"
}

// Usage implements subcommands.Command.Usage.
func (*Check) Usage() string {
	return `check --config <file> [flags]

Loads the instance file, builds the instance with the selected CPUID profile,
and checks that every [cpuid.<name>] profile in the file is valid.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *Check) SetFlags(f *flag.FlagSet) {
	c.setFlags(f)
}

// Execute implements subcommands.Command.Execute.
func (c *Check) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	inst, file, err := c.newInstance(conf)
	if err != nil {
		return util.Errorf("check failed: %v", err)
	}
	failed := describe(os.Stdout, file)
	snap := inst.Engine().Snapshot()
	fmt.Fprintf(os.Stdout, "instance %q: %v\n", inst.Name(), inst.Topology())
	if t := snap.Table(); t != nil {
		fmt.Fprintf(os.Stdout, "  profile: %v, %d leaves, max basic %#x, max extended %#x, policy %s\n",
			snap.Vendor(), t.Len(), t.MaxBasic(), t.MaxExtended(), snap.Policy().Name())
	} else {
		fmt.Fprintf(os.Stdout, "  profile: none, default masking as %v\n", snap.Vendor())
	}
	fmt.Fprintf(os.Stdout, "  rules: %d over leaves %s\n", snap.Rules().Len(), hexList(snap.Rules().Functions()))
	if failed > 0 {
		return util.Errorf("%d invalid CPUID profile(s)", failed)
	}
	return subcommands.ExitSuccess
}

// describe validates every profile in file and reports the results to w. It
// returns the number of invalid profiles.
func describe(w io.Writer, file *config.File) int {
	failed := 0
	for _, name := range file.ProfileNames() {
		p, err := file.Profile(name)
		if err == nil {
			_, err = cpuid.NewTable(p)
		}
		if err != nil {
			fmt.Fprintf(w, "cpuid.%s: %v\n", name, err)
			failed++
			continue
		}
		fmt.Fprintf(w, "cpuid.%s: ok, %v, %d leaves\n", name, p.Vendor, p.Len())
	}
	return failed
}

func hexList(fns []uint32) string {
	s := "["
	for i, fn := range fns {
		if i > 0 {
			s += " "
		}
		s += fmt.Sprintf("%#x", fn)
	}
	return s + "]"
}
