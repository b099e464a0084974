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

package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/BurntSushi/toml"
	"vmmkit.dev/vmmkit/pkg/cpuid"
	"vmmkit.dev/vmmkit/pkg/log"
)

// File is an instance file.
//
// Only [main] and [cpuid.*] are interpreted. Device, block device and
// cloud-init tables are kept as opaque values so that complete instance
// files load.
type File struct {
	Main Main `toml:"main"`

	Devices      map[string]Table `toml:"dev"`
	BlockDevices map[string]Table `toml:"block_dev"`
	CloudInit    Table            `toml:"cloudinit"`

	// CPUIDProfiles are decoded lazily: each profile mixes the vendor tag
	// with leaf keys.
	CPUIDProfiles map[string]toml.Primitive `toml:"cpuid"`

	md toml.MetaData
}

// Table is an uninterpreted TOML table.
type Table map[string]any

// Main is the [main] table.
type Main struct {
	Name           string   `toml:"name"`
	CPUs           uint8    `toml:"cpus"`
	Bootrom        string   `toml:"bootrom"`
	BootromVersion string   `toml:"bootrom_version"`
	Memory         uint64   `toml:"memory"`
	UseReservoir   bool     `toml:"use_reservoir"`
	CPUIDProfile   string   `toml:"cpuid_profile"`
	ExitOnHalt     uint8    `toml:"exit_on_halt"`
	ExitOnReboot   *uint8   `toml:"exit_on_reboot"`
	BootOrder      []string `toml:"boot_order"`
}

// ErrNoProfile is returned by CPUIDProfile when cpuid_profile names a
// profile that is not defined.
var ErrNoProfile = errors.New("undefined cpuid profile")

// Decode parses an instance file.
func Decode(r io.Reader) (*File, error) {
	f := &File{}
	md, err := toml.NewDecoder(r).Decode(f)
	if err != nil {
		return nil, fmt.Errorf("parsing instance file: %w", err)
	}
	f.md = md
	if f.Main.Name == "" {
		return nil, fmt.Errorf("instance file: main.name is required")
	}
	if f.Main.CPUs == 0 {
		return nil, fmt.Errorf("instance %q: main.cpus must be at least 1", f.Main.Name)
	}
	for _, k := range md.Undecoded() {
		if len(k) > 0 && k[0] == "cpuid" {
			continue
		}
		log.Warningf("Instance %q: unknown key %q ignored", f.Main.Name, k.String())
	}
	return f, nil
}

// Load reads and parses the instance file at path.
func Load(path string) (*File, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening instance file: %w", err)
	}
	defer r.Close()
	f, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// ProfileNames returns the names of the defined CPUID profiles, sorted.
func (f *File) ProfileNames() []string {
	names := make([]string, 0, len(f.CPUIDProfiles))
	for name := range f.CPUIDProfiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CPUIDProfile returns the profile selected by main.cpuid_profile, or nil if
// none is selected.
func (f *File) CPUIDProfile() (*cpuid.Profile, error) {
	if f.Main.CPUIDProfile == "" {
		return nil, nil
	}
	return f.Profile(f.Main.CPUIDProfile)
}

// Profile parses the named [cpuid.<name>] table.
func (f *File) Profile(name string) (*cpuid.Profile, error) {
	prim, ok := f.CPUIDProfiles[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrNoProfile, name)
	}
	raw := make(map[string]toml.Primitive)
	if err := f.md.PrimitiveDecode(prim, &raw); err != nil {
		return nil, fmt.Errorf("cpuid profile %q: %w", name, err)
	}
	p, err := ParseCPUID(f.md, raw)
	if err != nil {
		return nil, fmt.Errorf("cpuid profile %q: %w", name, err)
	}
	return p, nil
}

// ParseCPUID builds a profile from the keys of a [cpuid.<name>] table. The
// vendor key is required; every other key is a leaf.
func ParseCPUID(md toml.MetaData, raw map[string]toml.Primitive) (*cpuid.Profile, error) {
	vprim, ok := raw["vendor"]
	if !ok {
		return nil, fmt.Errorf("vendor is required")
	}
	var vendorTag string
	if err := md.PrimitiveDecode(vprim, &vendorTag); err != nil {
		return nil, fmt.Errorf("vendor: %w", err)
	}
	vendor, err := cpuid.ParseVendor(vendorTag)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		if k != "vendor" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	p := cpuid.NewProfile(vendor)
	for _, k := range keys {
		key, err := cpuid.ParseKey(k)
		if err != nil {
			return nil, err
		}
		var regs []uint32
		if err := md.PrimitiveDecode(raw[k], &regs); err != nil {
			return nil, fmt.Errorf("leaf %q: %w", k, err)
		}
		if err := p.InsertRegs(key, regs); err != nil {
			if errors.Is(err, cpuid.ErrDuplicateKey) {
				return nil, fmt.Errorf("conflicting entry at func:%#x idx:%s: %w", key.Function, key.Index, err)
			}
			return nil, err
		}
	}
	return p, nil
}
