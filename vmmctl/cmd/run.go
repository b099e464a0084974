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
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/pkg/log"
	"vmmkit.dev/vmmkit/pkg/vmm"
	"vmmkit.dev/vmmkit/vmmctl/cmd/util"
	"vmmkit.dev/vmmkit/vmmctl/config"
	"vmmkit.dev/vmmkit/vmmctl/flag"
	"vmmkit.dev/vmmkit/vmmctl/metricserver"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	instanceFlags

	iterations int
	metrics    bool

	// metricsAddr, if set, serves the instance metrics over HTTP for the
	// duration of the run plus linger.
	metricsAddr string
	linger      time.Duration

	// republish names a profile published while the vCPUs run.
	republish string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "run the instance's vCPUs through a CPUID exit loop"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run --config <file> [flags]

Starts one goroutine per vCPU. Each executes every leaf of the profile, plus
one leaf past each boundary, --iterations times. With --republish, the named
profile is published while the vCPUs are running.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	r.setFlags(f)
	f.IntVar(&r.iterations, "iterations", 1000, "number of passes over the program per vCPU.")
	f.BoolVar(&r.metrics, "metrics", false, "print the instance metrics when done.")
	f.StringVar(&r.republish, "republish", "", "profile to publish while the vCPUs run.")
	f.StringVar(&r.metricsAddr, "metrics-addr", "", "address to serve metrics on, e.g. localhost:9090.")
	f.DurationVar(&r.linger, "linger", 0, "keep serving metrics this long after the vCPUs finish.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	inst, file, err := r.newInstance(conf)
	if err != nil {
		return util.Errorf("run failed: %v", err)
	}
	var next *cpuid.Profile
	if r.republish != "" {
		if next, err = file.Profile(r.republish); err != nil {
			return util.Errorf("run failed: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	if r.metricsAddr != "" {
		srv := metricserver.New(inst.Name(), inst.Registry())
		if err := srv.Start(r.metricsAddr); err != nil {
			return util.Errorf("run failed: %v", err)
		}
		defer func() {
			select {
			case <-ctx.Done():
			case <-time.After(r.linger):
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warningf("Stopping metric server: %v", err)
			}
		}()
	}

	program := programFor(inst.Engine().Snapshot())
	log.Infof("Running %d vCPUs, %d exits per pass, %d passes", inst.Topology().VCPUs(), len(program), r.iterations)
	start := time.Now()
	results, err := runWithRepublish(ctx, inst, program, r.iterations, next)
	if err != nil {
		return util.Errorf("run failed: %v", err)
	}
	elapsed := time.Since(start)

	writeRun(os.Stdout, inst, program, results)
	exits := uint64(len(program)) * uint64(r.iterations) * uint64(inst.Topology().VCPUs())
	fmt.Fprintf(os.Stdout, "%d exits in %v\n", exits, elapsed)
	if r.metrics {
		if err := inst.WriteMetrics(os.Stdout); err != nil {
			return util.Errorf("run failed: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

// programFor returns the exits a vCPU executes on each pass: every profile
// leaf, and the first leaf past each boundary. A boundary at the end of its
// range has no leaf past it.
func programFor(snap *cpuid.Snapshot) []cpuid.In {
	var program []cpuid.In
	for _, e := range snap.Entries(0) {
		program = append(program, e.Key.In())
	}
	if t := snap.Table(); t != nil {
		if next := t.MaxBasic() + 1; !cpuid.IsExtended(next) {
			program = append(program, cpuid.In{Eax: next})
		}
		if t.MaxExtended() != math.MaxUint32 {
			program = append(program, cpuid.In{Eax: t.MaxExtended() + 1})
		}
	}
	return program
}

// runWithRepublish replays program on every vCPU. If next is not nil, it is
// published concurrently.
func runWithRepublish(ctx context.Context, inst *vmm.Instance, program []cpuid.In, iterations int, next *cpuid.Profile) ([][]cpuid.Out, error) {
	var (
		g       errgroup.Group
		results [][]cpuid.Out
	)
	g.Go(func() error {
		var err error
		results, err = inst.Replay(ctx, program, iterations)
		return err
	})
	if next != nil {
		g.Go(func() error {
			return inst.Reconfigure(next)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func writeRun(w io.Writer, inst *vmm.Instance, program []cpuid.In, results [][]cpuid.Out) {
	for vcpu, outs := range results {
		fmt.Fprintf(w, "vCPU %d: APIC ID %d", vcpu, inst.Topology().APICID(uint32(vcpu)))
		for i, in := range program {
			if in.Eax == 1 {
				fmt.Fprintf(w, ", leaf 1 reports APIC ID %d", outs[i].Ebx>>24)
				break
			}
		}
		fmt.Fprintln(w)
	}
}
