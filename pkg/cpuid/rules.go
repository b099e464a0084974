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

import (
	"fmt"
	"sort"
)

// Register names one of the four output registers.
type Register uint8

// Registers.
const (
	EAX Register = iota
	EBX
	ECX
	EDX
)

// String implements fmt.Stringer.
func (r Register) String() string {
	switch r {
	case EAX:
		return "eax"
	case EBX:
		return "ebx"
	case ECX:
		return "ecx"
	case EDX:
		return "edx"
	default:
		return fmt.Sprintf("Register(%d)", uint8(r))
	}
}

func (r Register) get(o *Out) *uint32 {
	switch r {
	case EAX:
		return &o.Eax
	case EBX:
		return &o.Ebx
	case ECX:
		return &o.Ecx
	default:
		return &o.Edx
	}
}

// Field is a set of bits in one register.
type Field struct {
	Reg  Register
	Mask uint32
}

// Bits returns the field covering bits lo through hi (inclusive) of reg.
func Bits(reg Register, lo, hi uint) Field {
	if lo > hi || hi > 31 {
		panic(fmt.Sprintf("invalid bit range %d:%d", hi, lo))
	}
	width := hi - lo + 1
	mask := uint32((uint64(1)<<width)-1) << lo
	return Field{Reg: reg, Mask: mask}
}

// Bit returns the single-bit field n of reg.
func Bit(reg Register, n uint) Field {
	return Bits(reg, n, n)
}

// String implements fmt.Stringer.
func (f Field) String() string {
	return fmt.Sprintf("%s&%#08x", f.Reg, f.Mask)
}

// Rule rewrites part of one leaf from live topology facts.
type Rule struct {
	// Name identifies the rule in errors and logs.
	Name string

	// Function is the leaf the rule applies to.
	Function uint32

	// Index restricts the rule to one sub-leaf. AnyIndex applies it to
	// all sub-leaves.
	Index Index

	// Vendors is the set of profile vendors the rule runs for.
	Vendors VendorSet

	// Fields are the bits the rule owns. Only these bits of the value
	// returned by Rewrite are used.
	Fields []Field

	// Rewrite computes the new value. It is given the unspecialized base
	// value and must not depend on any other rule.
	Rewrite func(base Out, in In, vcpu uint32, topo *Topology) Out
}

// overlaps reports the first register and bits both rules write for some
// common vendor and sub-leaf.
func (r *Rule) overlaps(o *Rule) (Register, uint32, bool) {
	if r.Function != o.Function || r.Vendors&o.Vendors == 0 {
		return 0, 0, false
	}
	if ri, ok := r.Index.Get(); ok {
		if oi, ok := o.Index.Get(); ok && ri != oi {
			return 0, 0, false
		}
	}
	for _, f := range r.Fields {
		for _, g := range o.Fields {
			if f.Reg == g.Reg && f.Mask&g.Mask != 0 {
				return f.Reg, f.Mask & g.Mask, true
			}
		}
	}
	return 0, 0, false
}

// Registry is an immutable set of rules with pairwise disjoint fields.
type Registry struct {
	byFunction map[uint32][]*Rule
	rules      []*Rule
}

// NewRegistry validates rules and returns a registry holding them. Two rules
// that may write the same bit for the same vendor and sub-leaf are rejected
// with a *RuleConflictError.
func NewRegistry(rules ...Rule) (*Registry, error) {
	reg := &Registry{byFunction: make(map[uint32][]*Rule)}
	rules = append([]Rule(nil), rules...)
	for i := range rules {
		r := &rules[i]
		if r.Rewrite == nil {
			return nil, fmt.Errorf("cpuid rule %q has no rewrite function", r.Name)
		}
		for j, f := range r.Fields {
			for _, g := range r.Fields[j+1:] {
				if f.Reg == g.Reg && f.Mask&g.Mask != 0 {
					return nil, &RuleConflictError{First: r.Name, Second: r.Name, Function: r.Function, Register: f.Reg, Bits: f.Mask & g.Mask}
				}
			}
		}
		for _, o := range reg.byFunction[r.Function] {
			if regName, bits, ok := r.overlaps(o); ok {
				return nil, &RuleConflictError{First: o.Name, Second: r.Name, Function: r.Function, Register: regName, Bits: bits}
			}
		}
		reg.byFunction[r.Function] = append(reg.byFunction[r.Function], r)
		reg.rules = append(reg.rules, r)
	}
	return reg, nil
}

// MustNewRegistry is like NewRegistry, but panics on error. A conflict is a
// programming error.
func MustNewRegistry(rules ...Rule) *Registry {
	reg, err := NewRegistry(rules...)
	if err != nil {
		panic(err)
	}
	return reg
}

// Len returns the number of rules.
func (reg *Registry) Len() int {
	if reg == nil {
		return 0
	}
	return len(reg.rules)
}

// Functions returns the leaves that have at least one rule, sorted.
func (reg *Registry) Functions() []uint32 {
	if reg == nil {
		return nil
	}
	fns := make([]uint32, 0, len(reg.byFunction))
	for fn := range reg.byFunction {
		fns = append(fns, fn)
	}
	sort.Slice(fns, func(i, j int) bool { return fns[i] < fns[j] })
	return fns
}

// Eligible returns the names of the rules that apply to in for vendor v.
func (reg *Registry) Eligible(v Vendor, in In) []string {
	if reg == nil {
		return nil
	}
	var names []string
	for _, r := range reg.byFunction[in.Eax] {
		if r.Vendors.Has(v) && r.Index.Matches(in.Ecx) {
			names = append(names, r.Name)
		}
	}
	return names
}

// Apply runs every rule eligible for vendor v and leaf in against base. Each
// rule sees the same base value, and only the bits a rule owns are taken
// from its result.
func (reg *Registry) Apply(v Vendor, base Out, in In, vcpu uint32, topo *Topology) Out {
	if reg == nil {
		return base
	}
	out := base
	for _, r := range reg.byFunction[in.Eax] {
		if !r.Vendors.Has(v) || !r.Index.Matches(in.Ecx) {
			continue
		}
		rewritten := r.Rewrite(base, in, vcpu, topo)
		for _, f := range r.Fields {
			dst := f.Reg.get(&out)
			*dst = *dst&^f.Mask | *f.Reg.get(&rewritten)&f.Mask
		}
	}
	return out
}
