package allocator

import (
	"github.com/loaderalloc/loaderalloc/internal/debug"
	"github.com/loaderalloc/loaderalloc/pkg/domain"
	"github.com/loaderalloc/loaderalloc/pkg/managed"
	"github.com/loaderalloc/loaderalloc/pkg/refgraph"
)

// assemblyRecord is the concrete type bound into a domain's assembly list
// by [Allocator.BindAssembly]. It implements both [domain.Assembly]
// (AssemblyID) and [refgraph.Assembly] (Owner) so that the domain package
// need not know about allocators or the reference graph, and refgraph need
// not know about domains — avoiding an import cycle between the three
// while still letting Destroy build a []refgraph.Assembly straight from
// dom.Assemblies().
type assemblyRecord struct {
	id    uint64
	owner *Allocator
}

func (r assemblyRecord) AssemblyID() uint64    { return r.id }
func (r assemblyRecord) Owner() refgraph.Node { return r.owner }

// Destroy is invoked from the managed scout's finalizer (spec §6).
// It atomically publishes the assembly-deletion signal, releases one unit
// from every allocator this one outgoing-references (the units this
// allocator's reference-set edges contributed via EnsureReference), then
// releases its own unit; if that drop reaches zero it runs the sweep
// entry point. Returns true iff this allocator was among those fully torn
// down by this call.
func (a *Allocator) Destroy(scout *managed.Scout) bool {
	// The finalizer calling this means the managed scout is already gone;
	// clear it so Phase() reports phase 3, not phase 1/2, from here on.
	a.mu.Lock()
	a.scout = nil
	a.mu.Unlock()

	a.assemblyDeletionPending.Store(true)

	for _, target := range a.refs.All() {
		if other, ok := target.(*Allocator); ok {
			other.counter.Release()
		}
	}

	if !a.counter.Release() {
		return false
	}

	destroyed := runSweep(a.domain, a)
	for _, d := range destroyed {
		if d == a {
			return true
		}
	}
	return false
}

// runSweep implements spec §4.F's Phase M/S (via [refgraph.Sweep], under
// the domain's two locks in the mandated order) followed by Phases D, N,
// and R for every allocator selected, plus the "exit handling" rule that
// the caller which triggered the sweep is appended unconditionally even
// if it owns no assemblies and so was never visited by Phase M/S.
func runSweep(dom *domain.AppDomain, caller *Allocator) []*Allocator {
	refLock := dom.ReferencesLock()
	refLock.Lock()
	defer refLock.Unlock()

	listLock := dom.AssemblyListLock()
	listLock.Lock()
	defer listLock.Unlock()

	domAssemblies := dom.Assemblies()
	graph := make([]refgraph.Assembly, 0, len(domAssemblies))
	for _, asm := range domAssemblies {
		if rec, ok := asm.(assemblyRecord); ok {
			graph = append(graph, rec)
		}
	}

	nodes := refgraph.Sweep(graph)

	toDestroy := make([]*Allocator, 0, len(nodes)+1)
	seen := make(map[uint64]bool, len(nodes)+1)
	for _, n := range nodes {
		if al, ok := n.(*Allocator); ok {
			toDestroy = append(toDestroy, al)
			seen[al.creationNumber] = true
		}
	}
	if !seen[caller.creationNumber] {
		toDestroy = append(toDestroy, caller)
	}

	for _, al := range toDestroy {
		al.teardown(dom)
	}

	dom.DrainPendingDeletes()
	return toDestroy
}

// teardown runs Phases D, N, and R for a single allocator selected by
// sweep. Callers must already hold the domain's references and
// assembly-list locks.
func (a *Allocator) teardown(dom *domain.AppDomain) {
	unlock := a.lock()
	defer unlock()

	// Phase D — detach.
	for _, rec := range a.assemblies {
		dom.RemoveAssembly(rec)
	}

	// Phase N — notify.
	a.unloaded = true
	debug.Log(nil, "sweep", "allocator %d unloaded", a.creationNumber)

	// Phase R — reclaim (spec §4.F, 7 steps; 1 is Phase D above, 7 is the
	// EnqueuePendingDelete call below).
	//
	// Step 2: release the managed assembly-load-context, so the binder
	// itself becomes collectible.
	if a.binderRelease != nil {
		a.binderRelease()
		a.binderRelease = nil
	}

	// Steps 3-6 run under the execution engine suspended — "the only
	// intentional stop-the-world in the core" (spec §5 "Suspension
	// points") — so that cache-purge observes a quiescent heap.
	dom.SuspendEE()

	// Step 4: unload this allocator's JIT code manager and virtual-call-
	// stub manager.
	dom.UnloadExecutionManager(a.creationNumber)
	dom.UninitVirtualCallStubManager(a.creationNumber)

	// Step 5: drain the handle-cleanup and failed-type-init lists. This
	// module keeps no other per-allocator caches to clear.
	for _, cleanup := range a.handleCleanup {
		cleanup()
	}
	a.handleCleanup = nil
	for _, cleanup := range a.failedTypeInit {
		cleanup()
	}
	a.failedTypeInit = nil

	dom.RestartEE()

	a.terminated = true
	reg := a.reg
	creationNumber := a.creationNumber
	dom.EnqueuePendingDelete(func() {
		reg.Unregister(creationNumber)
	})
}
