package cpuid

import (
	"sync/atomic"
	"unsafe"
)

// An AtomicPtr is a pointer to a value of type Value that can be atomically
// loaded and stored. The zero value of an AtomicPtr represents nil.
//
// Note that copying AtomicPtr by value performs a non-atomic read of the
// stored pointer, which is unsafe if Store() can be called concurrently; in
// this case, do `dst.Store(src.Load())` instead.
type AtomicPtrSnapshot struct {
	ptr unsafe.Pointer
}

// Load returns the value set by the most recent Store. It returns nil if there
// has been no previous call to Store.
//
//go:nosplit
func (p *AtomicPtrSnapshot) Load() *Snapshot {
	return (*Snapshot)(atomic.LoadPointer(&p.ptr))
}

// Store sets the value returned by Load to x.
func (p *AtomicPtrSnapshot) Store(x *Snapshot) {
	atomic.StorePointer(&p.ptr, (unsafe.Pointer)(x))
}

// Swap atomically stores x and returns the previous value.
func (p *AtomicPtrSnapshot) Swap(x *Snapshot) *Snapshot {
	return (*Snapshot)(atomic.SwapPointer(&p.ptr, (unsafe.Pointer)(x)))
}
