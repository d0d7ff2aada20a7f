//go:build go1.22

// Package handletable implements the loader handle table (spec §3 "Loader
// handle", §4.B/§4.C): the segmented free-index stack and the doubling
// array of managed references it indexes into, addressed through a single
// opaque Handle token.
package handletable

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/loaderalloc/loaderalloc/pkg/allocerr"
	"github.com/loaderalloc/loaderalloc/pkg/managed"
	"github.com/loaderalloc/loaderalloc/pkg/modecheck"
	"github.com/loaderalloc/loaderalloc/pkg/xunsafe"
)

// Handle is the opaque machine-word token handed back by Allocate. Its low
// bit selects one of two encodings (spec §3):
//
//   - 1: the remaining bits, with the tag cleared, are the address of a
//     pinned single-slot allocation from the non-collectible path.
//   - 0: the remaining bits, shifted right one and decremented by one, are
//     a zero-based index into the growable table.
type Handle uintptr

// Null is the distinguished handle meaning "no slot was allocated."
const Null Handle = 0

func (h Handle) indexed() bool { return h&1 == 0 }

func indexToken(index int32) Handle {
	return Handle((uint64(index) + 1) << 1)
}

func (h Handle) index() int32 {
	return int32((uint64(h) >> 1) - 1)
}

// handleCeiling bounds table growth (spec §7): past this many live slots,
// Allocate fails with an out-of-memory error instead of growing further.
const handleCeiling = 1 << 30

const initialTableSize = 8

// slotValue is the concrete type stored in every atomic.Value slot. Boxing
// the reference this way lets Free write a distinguishable "null but
// initialized" state, since atomic.Value rejects storing untyped nil.
type slotValue struct {
	ref managed.Ref
}

func readSlot(slot *atomic.Value) managed.Ref {
	v := slot.Load()
	if v == nil {
		return nil
	}
	return v.(*slotValue).ref
}

// tableData is the growable backing array, swapped wholesale on growth so
// that Read never observes a half-grown table (spec §5 "lock-free paths").
type tableData struct {
	slots []atomic.Value
}

// Table is the handle table for one allocator: the growable indexed array
// (component C) plus its companion free-index stack (component B) for the
// collectible path, and a set of individually pinned slots for the
// non-collectible path (spec §4.B: "allocate one reference-sized slot from
// the domain's object-reference pool").
//
// Table's Read path is lock-free. Allocate, CompareAndSet on an indexed
// handle, and Free of an indexed handle take the table's own mutex
// internally; callers do not hold any lock of their own for them.
type Table struct {
	collectible bool

	mu        sync.Mutex
	data      atomic.Pointer[tableData]
	slotsUsed atomic.Int32
	free      *freeStack

	pinned []*atomic.Value // keeps non-collectible slots visible to the GC
}

// New constructs an empty handle table. collectible selects which
// allocation path Allocate takes.
func New(collectible bool) *Table {
	t := &Table{collectible: collectible, free: newFreeStack()}
	t.data.Store(&tableData{})
	return t
}

// Allocate installs value in a fresh slot and returns its handle.
//
// Callers must already have verified the owning allocator is still alive;
// Table itself has no notion of allocator lifecycle (spec §4.B's "if the
// managed allocator was already collected before the call acquired its
// reference, return the null token" is therefore the caller's
// responsibility — see pkg/allocator.Allocator.Allocate).
func (t *Table) Allocate(value managed.Ref) (Handle, error) {
	modecheck.AssertCooperative("handletable.Allocate")

	if !t.collectible {
		return t.allocatePinned(value), nil
	}

	t.mu.Lock()
	if idx, ok := t.free.Pop(); ok {
		data := t.data.Load()
		data.slots[idx].Store(&slotValue{ref: value})
		t.mu.Unlock()
		return indexToken(idx), nil
	}

	data := t.data.Load()
	used := t.slotsUsed.Load()
	if int(used) < len(data.slots) {
		data.slots[used].Store(&slotValue{ref: value})
		t.slotsUsed.Store(used + 1)
		t.mu.Unlock()
		return indexToken(used), nil
	}
	t.mu.Unlock()

	if len(data.slots) >= handleCeiling {
		return Null, allocerr.New(allocerr.OutOfMemory, "handletable.Allocate: handle ceiling reached")
	}

	return t.grow(data, value)
}

// grow doubles the table (or creates the first one) and retries the
// allocation. Growth happens outside the lock except for the brief publish
// step, per spec §4.C's "drop the lock, allocate, reacquire, publish or
// adopt the winner" choreography.
func (t *Table) grow(observed *tableData, value managed.Ref) (Handle, error) {
	newLen := len(observed.slots) * 2
	if newLen == 0 {
		newLen = initialTableSize
	}
	grown := &tableData{slots: make([]atomic.Value, newLen)}

	t.mu.Lock()
	if t.data.Load() == observed {
		for i := range observed.slots {
			if v := observed.slots[i].Load(); v != nil {
				grown.slots[i].Store(v)
			}
		}
		t.data.Store(grown)
	}
	t.mu.Unlock()

	return t.Allocate(value)
}

// allocatePinned services the non-collectible path: a single slot, never
// reused, kept alive by the pinned slice so the handle's raw address
// remains valid for as long as the table itself is alive (current Go does
// not move or compact heap objects, so the address is stable once taken).
func (t *Table) allocatePinned(value managed.Ref) Handle {
	// Force slot to the heap explicitly: its address is about to be taken
	// and encoded as a plain uintptr, which by itself does not keep the
	// GC from treating it as an ordinary, escaping pointer. xunsafe.Escape
	// documents that requirement at the point it actually matters instead
	// of leaving it implicit in `new`'s usual escape-analysis outcome.
	slot := xunsafe.Escape(new(atomic.Value))
	slot.Store(&slotValue{ref: value})

	t.mu.Lock()
	t.pinned = append(t.pinned, slot)
	t.mu.Unlock()

	addr := uintptr(unsafe.Pointer(slot))
	return Handle(addr | 1)
}

// Read dereferences h without taking any lock (spec §5 "lock-free paths").
func (t *Table) Read(h Handle) managed.Ref {
	if h == Null {
		return nil
	}
	if !h.indexed() {
		return readSlot(pinnedSlot(h))
	}

	data := t.data.Load()
	idx := h.index()
	if int(idx) >= len(data.slots) {
		return nil
	}
	return readSlot(&data.slots[idx])
}

// CompareAndSet stores newValue in h's slot iff it currently holds
// compare, returning the value observed. The indexed path takes the
// per-allocator lock; the tagged (pinned) path is a direct lock-free CAS
// on the slot itself (spec §4.C).
func (t *Table) CompareAndSet(h Handle, compare, newValue managed.Ref) managed.Ref {
	if !h.indexed() {
		slot := pinnedSlot(h)
		for {
			cur := slot.Load()
			old := unboxRef(cur)
			if old != compare {
				return old
			}
			if slot.CompareAndSwap(cur, &slotValue{ref: newValue}) {
				return old
			}
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data := t.data.Load()
	slot := &data.slots[h.index()]
	old := readSlot(slot)
	if old == compare {
		slot.Store(&slotValue{ref: newValue})
	}
	return old
}

// Free writes null to h's slot and, for an indexed handle, returns its
// index to the free-index stack for reuse (spec §4.C). Freeing a pinned
// (non-collectible) handle only nulls the slot; that path has no
// free-index stack to return to, matching the source's "non-collectible
// allocations are not reused."
func (t *Table) Free(h Handle) {
	if h == Null {
		return
	}
	if !h.indexed() {
		pinnedSlot(h).Store(&slotValue{})
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	data := t.data.Load()
	data.slots[h.index()].Store(&slotValue{})
	t.free.Push(h.index())
}

func pinnedSlot(h Handle) *atomic.Value {
	return (*atomic.Value)(unsafe.Pointer(uintptr(h) &^ 1))
}

func unboxRef(v any) managed.Ref {
	if v == nil {
		return nil
	}
	return v.(*slotValue).ref
}
