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

package hostcpu

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	// Constants for parsing /proc/cpuinfo.
	processorKey  = "processor"
	vendorIDKey   = "vendor_id"
	physicalIDKey = "physical id"
	coreIDKey     = "core id"
	siblingsKey   = "siblings"
	cpuCoresKey   = "cpu cores"
)

// Processor is one entry of /proc/cpuinfo.
type Processor struct {
	Number     int64
	VendorID   string
	PhysicalID int64
	CoreID     int64
	Siblings   int64
	CPUCores   int64
}

// ParseCPUInfo parses the contents of /proc/cpuinfo.
func ParseCPUInfo(data string) ([]Processor, error) {
	// Each processor entry should start with the processor key. Find the
	// beginnings of each.
	indices := buildRegex(processorKey).FindAllStringIndex(data, -1)
	if len(indices) < 1 {
		return nil, fmt.Errorf("no cpus found for: %q", data)
	}
	// Add the ending index for last entry.
	indices = append(indices, []int{len(data), -1})

	procs := make([]Processor, 0, len(indices)-1)
	for i := 1; i < len(indices); i++ {
		p, err := newProcessor(data[indices[i-1][0]:indices[i][0]])
		if err != nil {
			return nil, err
		}
		procs = append(procs, p)
	}
	return procs, nil
}

func newProcessor(data string) (Processor, error) {
	var (
		p   Processor
		err error
	)
	if p.Number, err = parseIntegerResult(data, processorKey); err != nil {
		return p, err
	}
	if p.VendorID, err = parseRegex(data, vendorIDKey, `[\w\d]+`); err != nil {
		return p, err
	}
	// The topology fields are missing on some hypervisors; they default
	// to one processor per package.
	p.PhysicalID, _ = parseIntegerResult(data, physicalIDKey)
	p.CoreID, _ = parseIntegerResult(data, coreIDKey)
	if p.Siblings, err = parseIntegerResult(data, siblingsKey); err != nil {
		p.Siblings = 1
	}
	if p.CPUCores, err = parseIntegerResult(data, cpuCoresKey); err != nil {
		p.CPUCores = 1
	}
	return p, nil
}

// parseIntegerResult parses fields expecting an integer.
func parseIntegerResult(data, key string) (int64, error) {
	result, err := parseRegex(data, key, `\d+`)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(result), 0, 64)
}

// buildRegex builds a regex for parsing each CPU field.
func buildRegex(key string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?m)^%s\s*:\s*(.*)$`, key))
}

// parseRegex parses data with key inserted into a standard regex template.
func parseRegex(data, key, match string) (string, error) {
	matches := buildRegex(key).FindStringSubmatch(data)
	if len(matches) < 2 {
		return "", fmt.Errorf("failed to match key %q: %q", key, data)
	}
	if !regexp.MustCompile(`^` + match + `$`).MatchString(strings.TrimSpace(matches[1])) {
		return "", fmt.Errorf("unexpected value for key %q: %q", key, matches[1])
	}
	return matches[1], nil
}

// Layout is the logical processor layout of the host.
type Layout struct {
	ThreadsPerCore uint32
	CoresPerSocket uint32
	Sockets        uint32
}

// LayoutOf derives the host layout from parsed /proc/cpuinfo entries.
func LayoutOf(procs []Processor) (Layout, error) {
	if len(procs) == 0 {
		return Layout{}, fmt.Errorf("no processors")
	}
	first := procs[0]
	if first.CPUCores < 1 {
		return Layout{}, fmt.Errorf("processor %d reports %d cores", first.Number, first.CPUCores)
	}
	tpc := first.Siblings / first.CPUCores
	if tpc < 1 {
		tpc = 1
	}
	sockets := make(map[int64]struct{})
	for _, p := range procs {
		sockets[p.PhysicalID] = struct{}{}
	}
	return Layout{
		ThreadsPerCore: uint32(tpc),
		CoresPerSocket: uint32(first.CPUCores),
		Sockets:        uint32(len(sockets)),
	}, nil
}

// ReadLayout reads the host layout from /proc/cpuinfo.
func ReadLayout() (Layout, error) {
	data, err := os.ReadFile("/proc/cpuinfo")
	if err != nil {
		return Layout{}, err
	}
	procs, err := ParseCPUInfo(string(data))
	if err != nil {
		return Layout{}, err
	}
	return LayoutOf(procs)
}

// GuestLayout picks threads per core and cores per package for a guest with
// vcpus vCPUs. The host SMT width is used when vcpus divides evenly by it,
// and cores are spread over packages the size of a host socket when they
// divide evenly. Otherwise everything goes in one package.
func GuestLayout(vcpus uint32, host Layout) (threadsPerCore, coresPerPackage uint32) {
	threadsPerCore = 1
	if host.ThreadsPerCore > 1 && vcpus%host.ThreadsPerCore == 0 {
		threadsPerCore = host.ThreadsPerCore
	}
	cores := vcpus / threadsPerCore
	coresPerPackage = cores
	if host.CoresPerSocket > 0 && cores > host.CoresPerSocket && cores%host.CoresPerSocket == 0 {
		coresPerPackage = host.CoresPerSocket
	}
	return threadsPerCore, coresPerPackage
}
