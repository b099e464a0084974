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
	"github.com/google/btree"
)

// Entry is a single profile leaf.
type Entry struct {
	Key   Key
	Value Out
}

func entryLess(a, b Entry) bool {
	return keyLess(a.Key, b.Key)
}

// btreeDegree is the degree of the ordered entry trees.
const btreeDegree = 8

// Profile is an ordered set of static CPUID leaves for one CPU model, tagged
// with the vendor it models.
//
// The zero value is not usable; use NewProfile.
type Profile struct {
	// Vendor selects the miss policy and the rules that apply.
	Vendor Vendor

	entries *btree.BTreeG[Entry]
}

// NewProfile returns an empty profile for the given vendor.
func NewProfile(v Vendor) *Profile {
	return &Profile{
		Vendor:  v,
		entries: btree.NewG(btreeDegree, entryLess),
	}
}

// Insert adds a leaf. A key may appear at most once: inserting a key already
// present returns an error wrapping ErrDuplicateKey and leaves the profile
// unchanged.
//
// A wildcard key and an exact key of the same function are distinct and may
// coexist.
func (p *Profile) Insert(k Key, v Out) error {
	if _, ok := p.entries.Get(Entry{Key: k}); ok {
		return keyError(k, ErrDuplicateKey)
	}
	p.entries.ReplaceOrInsert(Entry{Key: k, Value: v})
	return nil
}

// InsertRegs is like Insert, but takes the registers as a slice, which must
// hold exactly four values.
func (p *Profile) InsertRegs(k Key, regs []uint32) error {
	out, err := OutFromRegs(regs)
	if err != nil {
		return keyError(k, err)
	}
	return p.Insert(k, out)
}

// Set adds or replaces a leaf.
func (p *Profile) Set(k Key, v Out) {
	p.entries.ReplaceOrInsert(Entry{Key: k, Value: v})
}

// Get returns the value stored under exactly k.
func (p *Profile) Get(k Key) (Out, bool) {
	e, ok := p.entries.Get(Entry{Key: k})
	return e.Value, ok
}

// Len returns the number of leaves.
func (p *Profile) Len() int {
	return p.entries.Len()
}

// Ascend calls fn for each entry in key order until fn returns false.
func (p *Profile) Ascend(fn func(Entry) bool) {
	p.entries.Ascend(btree.ItemIteratorG[Entry](fn))
}

// Entries returns all entries in key order.
func (p *Profile) Entries() []Entry {
	es := make([]Entry, 0, p.entries.Len())
	p.Ascend(func(e Entry) bool {
		es = append(es, e)
		return true
	})
	return es
}

// Clone returns a copy of p. The copy is lazily copy-on-write, so cloning is
// cheap and later changes to either profile are not seen by the other.
func (p *Profile) Clone() *Profile {
	return &Profile{
		Vendor:  p.Vendor,
		entries: p.entries.Clone(),
	}
}
