// Package managed stands in for the managed runtime's object model, which
// this library does not itself implement (spec §1 "Out of scope"). It
// provides just enough of a managed reference, a long-weak GC handle, and a
// finalizer-driven scout for the loader-handle table and the
// SetupManagedTracking/ActivateManagedTracking/Destroy lifecycle (spec §6)
// to be exercised end-to-end in pure Go.
package managed

import "runtime"

// Ref is a managed reference: anything a loader-handle slot can hold.
// *Object satisfies it for tests and the demo binary; real embedders would
// supply their own managed object representation.
type Ref interface {
	// ManagedID returns an identifier stable for the lifetime of the
	// object, used only for diagnostics and test assertions.
	ManagedID() uint64
}

// Object is the library's own minimal managed object: a heap value with a
// stable id, nothing else. It is a stand-in, not a general-purpose managed
// value type.
type Object struct {
	id uint64
}

// NewObject constructs an Object with the given id.
func NewObject(id uint64) *Object { return &Object{id: id} }

// ManagedID implements [Ref].
func (o *Object) ManagedID() uint64 { return o.id }

// Handle emulates a long-weak GC handle: a native-side pointer to a
// managed reference that does not, by itself, keep the referent alive any
// longer than the finalizer machinery below does.
type Handle struct {
	ref Ref
}

// NewHandle wraps ref in a Handle.
func NewHandle(ref Ref) *Handle { return &Handle{ref: ref} }

// Get returns the wrapped reference.
func (h *Handle) Get() Ref { return h.ref }

// Destroyer is anything whose Destroy method the scout's finalizer should
// invoke when the managed scout becomes unreachable. *allocator.Allocator
// satisfies this; the interface exists so pkg/managed does not need to
// import pkg/allocator.
type Destroyer interface {
	Destroy(scout *Scout) bool
}

// Scout is the managed object whose finalizer publishes the death of the
// native allocator (spec GLOSSARY "Scout"). Its finalizer calls back into
// the owning allocator's Destroy method exactly once.
type Scout struct {
	owner Destroyer
}

// NewScout constructs a Scout for owner and registers its finalizer. This
// corresponds to spec §6's SetupManagedTracking: "creates the managed
// scout object... installs GC-pressure accounting... registers the handle
// for cleanup." GC-pressure accounting and handle registration are the
// allocator's responsibility (see pkg/allocator); this constructor only
// does the part intrinsic to the scout itself, the finalizer wiring.
func NewScout(owner Destroyer) *Scout {
	s := &Scout{owner: owner}
	runtime.SetFinalizer(s, finalize)
	return s
}

func finalize(s *Scout) {
	s.owner.Destroy(s)
}

// Release drops the finalizer and invokes Destroy synchronously, as if the
// scout had just been collected. Tests use this to make the
// finalizer-driven teardown deterministic instead of waiting on the real
// garbage collector.
func (s *Scout) Release() bool {
	runtime.SetFinalizer(s, nil)
	return s.owner.Destroy(s)
}
