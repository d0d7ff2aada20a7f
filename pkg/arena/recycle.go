//go:build go1.22

package arena

import (
	"math/bits"
	"unsafe"
)

// Recycled is an arena allocator that reuses released blocks.
//
// It embeds [Arena] to satisfy new allocations and maintains per-size-class
// free lists so that released memory is returned quickly without growing
// the underlying arena. Size classes are indexed by log2 of the size,
// rounded up to [Align].
//
// Implementation notes:
//   - Released blocks are threaded into a singly-linked list, using the
//     first machine word of the block itself as the "next" pointer. This
//     keeps free-list metadata overhead at zero extra bytes.
//   - On allocation, a matching size class is tried first; a recycled block
//     is zeroed before being handed back, so callers never observe a
//     previous tenant's data.
//   - Releasing a block smaller than [Align] is ignored — tracking
//     fragments that small isn't worth a free-list entry.
//   - A zero-sized allocation is delegated straight to the embedded Arena.
type Recycled struct {
	Arena

	free []unsafe.Pointer // per-size-class free-list heads, indexed by log2(size)
}

// Release returns a previously allocated block to the recycler's free list
// for its size class. size is rounded up to [Align] before selecting a
// class; blocks smaller than Align are dropped on the floor.
func (a *Recycled) Release(p *byte, size int) {
	if size < Align || p == nil {
		return
	}

	class := sizeClassIndex(alignUp(size))
	a.ensureFreeList()

	*(*unsafe.Pointer)(unsafe.Pointer(p)) = a.free[class]
	a.free[class] = unsafe.Pointer(p)
}

// Alloc returns size bytes, preferring a recycled block from the matching
// size class; falls back to the embedded Arena when no block is free.
func (a *Recycled) Alloc(size int) *byte {
	if size == 0 {
		return a.Arena.Alloc(size)
	}

	if a.free != nil {
		// Release files a block under the largest class it fully covers
		// (log2 rounded down); look up the smallest class whose blocks are
		// all at least size bytes (log2 rounded up).
		class := bits.Len(uint(alignUp(size)) - 1)

		if class >= len(a.free) {
			return a.Arena.Alloc(size)
		}
		if head := a.free[class]; head != nil {
			a.free[class] = *(*unsafe.Pointer)(head)

			p := (*byte)(head)
			clearBytes(p, 1<<class)

			return p
		}
	}

	return a.Arena.Alloc(size)
}

// Reset clears every recycled free list and resets the embedded Arena.
// Blocks released before Reset are no longer tracked; any pointer obtained
// before Reset must not be used after it.
func (a *Recycled) Reset() {
	for i := range a.free {
		a.free[i] = nil
	}
	a.Arena.Reset()
}

const maxSizeClasses = 32 // log2(size) up to 4 GiB blocks

func (a *Recycled) ensureFreeList() {
	if a.free == nil {
		a.free = make([]unsafe.Pointer, maxSizeClasses)
	}
}

// sizeClassIndex computes the size-class index (log2) for an aligned,
// strictly positive size.
func sizeClassIndex(size int) int {
	log := bits.Len(uint(size) - 1)
	if 1<<log > size {
		log--
	}
	return log
}

func clearBytes(p *byte, n int) {
	b := unsafe.Slice(p, n)
	clear(b)
}
