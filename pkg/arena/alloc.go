//go:build go1.22

package arena

import (
	"unsafe"

	"github.com/loaderalloc/loaderalloc/pkg/xunsafe/layout"
)

// New allocates a value of type T on the given allocator and copies value
// into it.
func New[T any](a Allocator, value T) *T {
	p := (*T)(unsafeAlloc(a, layout.Size[T]()))
	*p = value
	return p
}

// Free releases a value of type T previously allocated from a back to its
// free list, if the allocator supports recycling. The size of T is derived
// automatically.
func Free[T any](a Allocator, p *T) {
	a.Release((*byte)(unsafe.Pointer(p)), layout.Size[T]())
}

func unsafeAlloc(a Allocator, size int) unsafe.Pointer {
	if size == 0 {
		size = 1
	}
	return unsafe.Pointer(a.Alloc(size))
}

// SuggestSize rounds bytes up to the next power of two, snapping small
// requests to a minimum class. Useful for callers that want to pre-size a
// [Recycled] size class.
func SuggestSize(bytes int) int {
	n := 16
	for n < bytes {
		n *= 2
	}
	return n
}
