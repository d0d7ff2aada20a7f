//go:build go1.19

// Package refcount implements the 32-bit tri-state atomic reference counter
// that anchors a loader allocator's lifetime.
package refcount

import "sync/atomic"

// Uninitialized is the counter value a freshly constructed Counter holds:
// the native object exists but its managed scout has not yet been
// published.
const Uninitialized uint32 = 1<<32 - 1

// Counter is a 32-bit atomic reference counter with tri-state semantics:
// [Uninitialized] before publication, 0 once dead, and a live count in
// between. The zero value is not usable; construct with [New].
type Counter struct {
	v atomic.Uint32
}

// New returns a Counter in the uninitialized state.
func New() *Counter {
	c := &Counter{}
	c.v.Store(Uninitialized)
	return c
}

// Load returns the current raw value.
func (c *Counter) Load() uint32 {
	return c.v.Load()
}

// Alive reports whether the counter currently holds a live (non-zero,
// non-uninitialized) count.
func (c *Counter) Alive() bool {
	v := c.v.Load()
	return v != 0 && v != Uninitialized
}

// Activate transitions the counter from [Uninitialized] to 1. It must be
// called exactly once per allocator, after publication to managed code.
// Panics if the counter was not uninitialized, i.e. on double publication.
func (c *Counter) Activate() {
	if !c.v.CompareAndSwap(Uninitialized, 1) {
		panic("refcount: Activate called on an already-published counter")
	}
}

// AddReference increments the counter. The caller must already hold a live
// reference; it is a precondition violation to call this on a dead or
// uninitialized counter.
func (c *Counter) AddReference() {
	for {
		old := c.v.Load()
		if old == 0 || old == Uninitialized {
			panic("refcount: AddReference called on a dead or uninitialized counter")
		}
		if c.v.CompareAndSwap(old, old+1) {
			return
		}
	}
}

// Release decrements the counter and reports whether the new value is
// zero. The caller must already hold a live reference. Reaching zero does
// not itself initiate teardown; the caller decides whether to run sweep.
func (c *Counter) Release() (reachedZero bool) {
	for {
		old := c.v.Load()
		if old == 0 || old == Uninitialized {
			panic("refcount: Release called on a dead or uninitialized counter")
		}
		new := old - 1
		if c.v.CompareAndSwap(old, new) {
			return new == 0
		}
	}
}

// AddReferenceIfAlive increments the counter iff it is currently non-zero
// and non-uninitialized, reporting whether it succeeded. This is the
// wait-free CAS loop that callers without an existing reference must use.
func (c *Counter) AddReferenceIfAlive() bool {
	for {
		old := c.v.Load()
		if old == 0 || old == Uninitialized {
			return false
		}
		if c.v.CompareAndSwap(old, old+1) {
			return true
		}
	}
}
