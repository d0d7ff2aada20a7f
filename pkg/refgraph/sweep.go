//go:build go1.19

package refgraph

// Assembly pairs a loaded code unit with its owning node. Sweep iterates
// assemblies rather than allocators directly, mirroring the source: several
// assemblies may share one allocator, and Phase S must guard against
// linking that allocator onto the to-destroy chain more than once.
type Assembly interface {
	Owner() Node
}

// Sweep runs Phase M (mark) and Phase S (select) of the mark/sweep
// collector (spec §4.F) over every assembly currently known to the domain.
// It returns the allocators that have no live reference from any live
// root and must be torn down together; Phases D, N, and R (detach,
// notify, reclaim) are the caller's responsibility, since they touch the
// domain's assembly list and the JIT's caches, which refgraph does not
// know about.
//
// Callers must hold the domain's loader-allocator-references lock and its
// assembly-list lock, in that order, for the duration of the call (spec
// §5).
func Sweep(assemblies []Assembly) []Node {
	seen := make(map[uint64]bool, len(assemblies))

	// Phase M — mark every allocator reachable from a live root.
	for _, asm := range assemblies {
		n := asm.Owner()
		if !n.Collectible() {
			continue
		}
		if n.Alive() {
			mark(n, seen)
		}
	}

	// Phase S — select the dead, unmarked allocators for teardown.
	var toDestroy []Node
	linked := make(map[uint64]bool)
	for _, asm := range assemblies {
		n := asm.Owner()
		if !n.Collectible() {
			continue
		}

		if n.Marked() {
			n.SetMarked(false)
			continue
		}

		if n.Alive() {
			continue
		}

		if linked[n.CreationNumber()] {
			continue // duplicate link: another assembly already shares this allocator
		}
		linked[n.CreationNumber()] = true
		toDestroy = append(toDestroy, n)
	}

	return toDestroy
}

// mark sets root's mark bit and walks its reference set transitively,
// using an explicit worklist and visited set instead of call-depth
// recursion, per spec §9's "explicit visited bitset, not recursion deep
// enough to stack overflow" — reference sets are individually small, but
// the graph they form may be deep.
func mark(root Node, seen map[uint64]bool) {
	work := []Node{root}
	for len(work) > 0 {
		n := work[len(work)-1]
		work = work[:len(work)-1]

		if seen[n.CreationNumber()] {
			continue
		}
		seen[n.CreationNumber()] = true
		n.SetMarked(true)

		work = append(work, n.References().All()...)
	}
}
