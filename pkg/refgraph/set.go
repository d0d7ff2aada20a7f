//go:build go1.19

// Package refgraph implements the per-allocator reference set (component E)
// and the mark/select phases of the mark/sweep collector (component F).
package refgraph

import (
	"sync"

	"github.com/dolthub/maphash"
)

// Node is the minimal shape refgraph needs from an allocator: enough to
// walk the reference graph and run the mark/select phases without
// importing pkg/allocator (which itself depends on refgraph).
type Node interface {
	// CreationNumber is the monotonic id assigned at construction; used as
	// the Set's hash key.
	CreationNumber() uint64
	// Collectible reports whether this node participates in the
	// reference graph at all (non-collectible allocators are never
	// added to, or roots of, a Set).
	Collectible() bool
	// AddReference and Alive mirror refcount.Counter's
	// AddReference and the "is this node currently alive" query, kept
	// narrow so refgraph only depends on the two counter operations it
	// actually needs.
	AddReference()
	Alive() bool
	// References returns this node's own outgoing reference set.
	References() *Set
	// Marked/SetMarked implement the mark bit used during Phase M.
	Marked() bool
	SetMarked(bool)
}

// entry is one slot of a Set's open-addressed table.
type entry struct {
	key  uint64
	node Node
	used bool
	tomb bool
}

const setMinCapacity = 8

// Set is the unordered set of other allocators a node depends on (spec
// §3 "Reference set", §4.E). It is a small, fixed-growth open-addressing
// table keyed by creation number — adapted from the teacher's swiss-map
// hashing strategy at a scale appropriate to reference sets, which the
// design notes describe as small in practice (< 100 members).
//
// Every Set method takes the set's own mutex, so single operations are
// safe for concurrent use. Callers that mutate a Set also hold the domain's
// loader-allocator-references lock, which orders the mutation with the
// sweep that reads it.
type Set struct {
	mu       sync.Mutex
	hash     maphash.Hasher[uint64]
	entries  []entry
	resident int
	dead     int
}

// NewSet constructs an empty reference Set.
func NewSet() *Set {
	return &Set{
		hash:    maphash.NewHasher[uint64](),
		entries: make([]entry, setMinCapacity),
	}
}

func (s *Set) indexOf(key uint64) int {
	mask := uint64(len(s.entries) - 1)
	i := s.hash.Hash(key) & mask
	for {
		e := &s.entries[i]
		if !e.used && !e.tomb {
			return -1
		}
		if e.used && e.key == key {
			return int(i)
		}
		i = (i + 1) & mask
	}
}

// contains reports whether key is present. Caller must hold s.mu.
func (s *Set) contains(key uint64) bool {
	return s.indexOf(key) >= 0
}

// insert adds node unconditionally. Caller must hold s.mu and must have
// already verified node's key is absent.
func (s *Set) insert(node Node) {
	if s.resident+s.dead >= len(s.entries)*3/4 {
		s.grow()
	}

	key := node.CreationNumber()
	mask := uint64(len(s.entries) - 1)
	i := s.hash.Hash(key) & mask
	for s.entries[i].used {
		i = (i + 1) & mask
	}
	s.entries[i] = entry{key: key, node: node, used: true}
	s.resident++
}

func (s *Set) grow() {
	old := s.entries
	s.entries = make([]entry, len(old)*2)
	s.resident, s.dead = 0, 0
	for _, e := range old {
		if e.used {
			s.insert(e.node)
		}
	}
}

// Contains reports whether other is already a member.
func (s *Set) Contains(other Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contains(other.CreationNumber())
}

// Len returns the number of members currently in the set.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resident
}

// All returns a snapshot slice of every member.
func (s *Set) All() []Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Node, 0, s.resident)
	for _, e := range s.entries {
		if e.used {
			out = append(out, e.node)
		}
	}
	return out
}

// EnsureReference adds other to self's reference set if absent, bumping
// other's reference counter exactly once (spec §4.E). No-op if self and
// other are the same node or if either is non-collectible. Returns true
// iff a new reference was added.
//
// This only covers the set-and-counter half of §4.E; pinning other's
// managed exposed object behind a loader handle so the managed scout
// cannot be collected while the reference stands is the caller's
// responsibility (pkg/allocator.Allocator.EnsureReference composes both).
func EnsureReference(self, other Node) bool {
	if other == nil || sameNode(self, other) || !self.Collectible() || !other.Collectible() {
		return false
	}

	s := self.References()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.contains(other.CreationNumber()) {
		return false
	}

	s.insert(other)
	other.AddReference()
	return true
}

func sameNode(a, b Node) bool {
	return a.CreationNumber() == b.CreationNumber()
}
