//go:build go1.19

// Package registry implements a registry of live loader allocators together
// with its monotonic creation-number generator. The package holds no global
// instance: each call to [New] builds an independent registry with its own
// counter, and the caller decides how many exist and how long they live.
package registry

import (
	"sync"
	"sync/atomic"

	"github.com/dolthub/maphash"
)

// Entry is anything that can be registered: the registry only needs a
// stable creation number to key by, so it is defined against an interface
// rather than a concrete *allocator.Allocator to avoid an import cycle
// between pkg/registry and pkg/allocator.
type Entry interface {
	CreationNumber() uint64
}

const shardCount = 16

type shard[T Entry] struct {
	mu sync.RWMutex
	m  map[uint64]T
}

// Registry holds back-references to every registered allocator, sharded by
// creation number to keep registration/lookup contention low. Entries are
// ordinary references that keep the allocator reachable until Unregister
// removes them; callers remove entries explicitly at teardown.
type Registry[T Entry] struct {
	hash   maphash.Hasher[uint64]
	shards [shardCount]shard[T]

	nextCreationNumber atomic.Uint64
}

// New constructs an empty Registry.
func New[T Entry]() *Registry[T] {
	r := &Registry[T]{hash: maphash.NewHasher[uint64]()}
	for i := range r.shards {
		r.shards[i].m = make(map[uint64]T)
	}
	return r
}

// NextCreationNumber returns the next value from the monotonic creation
// counter, starting at 1 so that 0 can mean "unregistered".
func (r *Registry[T]) NextCreationNumber() uint64 {
	return r.nextCreationNumber.Add(1)
}

func (r *Registry[T]) shardFor(creationNumber uint64) *shard[T] {
	idx := r.hash.Hash(creationNumber) % shardCount
	return &r.shards[idx]
}

// Register adds entry to the registry, keyed by its creation number.
func (r *Registry[T]) Register(entry T) {
	s := r.shardFor(entry.CreationNumber())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[entry.CreationNumber()] = entry
}

// Unregister removes the entry with the given creation number, if present.
func (r *Registry[T]) Unregister(creationNumber uint64) {
	s := r.shardFor(creationNumber)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, creationNumber)
}

// Lookup returns the entry registered under creationNumber, if any.
func (r *Registry[T]) Lookup(creationNumber uint64) (entry T, ok bool) {
	s := r.shardFor(creationNumber)
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok = s.m[creationNumber]
	return
}

// All calls fn for every currently registered entry. fn must not register
// or unregister entries in the same shard it is currently iterating.
func (r *Registry[T]) All(fn func(T)) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, e := range s.m {
			fn(e)
		}
		s.mu.RUnlock()
	}
}

// Len returns the number of currently registered entries.
func (r *Registry[T]) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		n += len(s.m)
		s.mu.RUnlock()
	}
	return n
}
