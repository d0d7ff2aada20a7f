// Package allocator ties the arena group, handle table, reference counter,
// and reference set into the Allocator type (spec §3, §4.G, §4.H) and the
// external-interface methods the managed runtime and domain call (spec §6).
package allocator

import (
	"sync"
	"sync/atomic"

	"github.com/loaderalloc/loaderalloc/internal/debug"
	"github.com/loaderalloc/loaderalloc/pkg/allocerr"
	"github.com/loaderalloc/loaderalloc/pkg/arena"
	"github.com/loaderalloc/loaderalloc/pkg/domain"
	"github.com/loaderalloc/loaderalloc/pkg/handletable"
	"github.com/loaderalloc/loaderalloc/pkg/lockorder"
	"github.com/loaderalloc/loaderalloc/pkg/managed"
	"github.com/loaderalloc/loaderalloc/pkg/refcount"
	"github.com/loaderalloc/loaderalloc/pkg/refgraph"
	"github.com/loaderalloc/loaderalloc/pkg/registry"
)

// gcPressureBytes is the GC-pressure accounting figure SetupManagedTracking
// installs, per spec §6 ("+30 KB").
const gcPressureBytes = 30 * 1024

// Registry is a registry of live allocators, keyed by creation number. It
// is not a process-wide singleton: each [NewRegistry] call returns an
// independent registry, and [New] registers into whichever one it is given.
type Registry = registry.Registry[*Allocator]

// NewRegistry constructs an empty allocator Registry.
func NewRegistry() *Registry { return registry.New[*Allocator]() }

// Allocator is the principal entity spec §3 describes: a kind tag, its
// owning domain, the arena group (A), the handle table and free-index
// stack (B, C), the atomic reference counter (D), the reference set (E),
// and the cleanup queues (H).
type Allocator struct {
	kind           Kind
	domain         *domain.AppDomain
	reg            *Registry
	creationNumber uint64

	heaps   *HeapSet
	handles *handletable.Table
	counter *refcount.Counter
	refs    *refgraph.Set

	// exposed stands in for the managed exposed object: the thing a
	// reference-set edge pins a loader handle to, so the edge keeps the
	// target's managed scout reachable (spec §4.E).
	exposed managed.Ref

	mu    sync.Mutex
	guard lockorder.Guard

	marked     bool
	terminated bool
	unloaded   bool

	// assemblyDeletionPending models m_pFirstDomainAssemblyFromSameALCToDelete:
	// its non-null value (here, true) signals the managed scout has gone
	// (spec §3 "Assembly-deletion list").
	assemblyDeletionPending atomic.Bool

	scout *managed.Scout

	handleCleanup  []func()
	failedTypeInit []func()
	binderRelease  func() // Phase R step 2; only the assembly kind ever sets this

	assemblies []assemblyRecord // this allocator's own same-loader-context chain
}

// New constructs an Allocator of the given kind, owned by dom, registered
// in reg. Collectible (assembly-kind) allocators get the growable indexed
// handle table and the aliased low/high-frequency heap; the other two
// kinds get the simpler non-collectible table and independent heaps.
func New(kind Kind, dom *domain.AppDomain, reg *Registry) *Allocator {
	collectible := kind.CanUnload()

	a := &Allocator{
		kind:           kind,
		domain:         dom,
		reg:            reg,
		creationNumber: reg.NextCreationNumber(),
		heaps:          NewHeapSet(collectible),
		handles:        handletable.New(collectible),
		counter:        refcount.New(),
		refs:           refgraph.NewSet(),
		guard:          lockorder.NewGuard(lockorder.PerAllocator),
	}
	a.exposed = managed.NewObject(a.creationNumber)

	reg.Register(a)
	return a
}

// CreationNumber implements [registry.Entry] and [refgraph.Node].
func (a *Allocator) CreationNumber() uint64 { return a.creationNumber }

// Kind returns this allocator's variant.
func (a *Allocator) Kind() Kind { return a.kind }

// Collectible implements [refgraph.Node]: only assembly allocators
// participate in the reference graph (spec §4.G).
func (a *Allocator) Collectible() bool { return a.kind.CanUnload() }

// AddReference implements [refgraph.Node] by forwarding to the counter.
func (a *Allocator) AddReference() { a.counter.AddReference() }

// Alive implements [refgraph.Node]: counter in (0, UINT32_MAX).
func (a *Allocator) Alive() bool { return a.counter.Alive() }

// References implements [refgraph.Node].
func (a *Allocator) References() *refgraph.Set { return a.refs }

// Marked implements [refgraph.Node].
func (a *Allocator) Marked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.marked
}

// SetMarked implements [refgraph.Node].
func (a *Allocator) SetMarked(m bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.marked = m
}

// Unloaded reports whether sweep Phase N has run for this allocator.
func (a *Allocator) Unloaded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unloaded
}

// Terminated reports whether sweep Phase R has fully torn this allocator
// down (lifecycle phase 4).
func (a *Allocator) Terminated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.terminated
}

// Phase reports which of the four lifecycle phases (spec §3) this
// allocator currently occupies.
func (a *Allocator) Phase() int {
	a.mu.Lock()
	hasScout := a.scout != nil
	a.mu.Unlock()

	dying := a.assemblyDeletionPending.Load()
	switch {
	case hasScout && !dying:
		return 1
	case hasScout && dying:
		return 2
	case !hasScout && a.counter.Alive() && dying:
		return 3
	default:
		return 4
	}
}

// EstimateSize sums every sub-arena's committed bytes (spec §6).
func (a *Allocator) EstimateSize() int { return a.heaps.EstimateSize() }

// Heap accessors, matching spec §6's "heap accessors (GetLowFrequencyHeap
// etc.)" exposed to the domain.
func (a *Allocator) CodeHeap() *arena.Arena          { return a.heaps.Code }
func (a *Allocator) VSDHeap() *arena.Arena           { return a.heaps.VSD }
func (a *Allocator) LowFrequencyHeap() *arena.Arena  { return a.heaps.LowFrequency }
func (a *Allocator) ExecutableHeap() *arena.Arena    { return a.heaps.Executable }
func (a *Allocator) HighFrequencyHeap() *arena.Arena { return a.heaps.HighFrequency }
func (a *Allocator) StubHeap() *arena.Arena          { return a.heaps.Stub }
func (a *Allocator) PrecodeHeap() *arena.Arena       { return a.heaps.Precode }

func (a *Allocator) lock() func() {
	a.guard.BeforeAcquire()
	a.mu.Lock()
	return func() {
		a.mu.Unlock()
		a.guard.AfterRelease()
	}
}

// Allocate installs value in a fresh loader handle (spec §4.C). Returns
// the null handle without error if the allocator is already dead, per
// spec §4.C.4's "if the managed allocator was already collected before the
// call acquired its reference, return the null token."
func (a *Allocator) Allocate(value managed.Ref) (handletable.Handle, error) {
	if !a.counter.Alive() {
		return handletable.Null, nil
	}
	return a.handles.Allocate(value)
}

// Read dereferences h (lock-free fast path, spec §4.C).
func (a *Allocator) Read(h handletable.Handle) managed.Ref { return a.handles.Read(h) }

// CompareAndSet implements the handle table's compare-and-set (spec §4.C).
func (a *Allocator) CompareAndSet(h handletable.Handle, compare, newValue managed.Ref) managed.Ref {
	return a.handles.CompareAndSet(h, compare, newValue)
}

// Free releases h back to the handle table (spec §4.C).
func (a *Allocator) Free(h handletable.Handle) { a.handles.Free(h) }

// RegisterHandleCleanup appends fn to the handle-cleanup list (component
// H), run at teardown. Only meaningful for assembly allocators; other
// kinds never tear down.
func (a *Allocator) RegisterHandleCleanup(fn func()) {
	unlock := a.lock()
	defer unlock()
	a.handleCleanup = append(a.handleCleanup, fn)
}

// RegisterFailedTypeInit appends fn to the failed-type-init list
// (component H), run at teardown.
func (a *Allocator) RegisterFailedTypeInit(fn func()) {
	unlock := a.lock()
	defer unlock()
	a.failedTypeInit = append(a.failedTypeInit, fn)
}

// RegisterBinder installs release as this allocator's managed-binder
// release hook, run at teardown (Phase R step 2, spec §4.F: "release its
// managed assembly-load-context, so it can itself be collected"). Spec §4.G
// names this as one of the two things "only the assembly kind maintains";
// calling it on a non-assembly allocator is a precondition violation, since
// those kinds never tear down and the hook would never run.
func (a *Allocator) RegisterBinder(release func()) {
	if !a.kind.CanUnload() {
		panic(allocerr.Errorf(allocerr.Precondition, "RegisterBinder: allocator %d is kind %s, not assembly", a.creationNumber, a.kind))
	}

	unlock := a.lock()
	defer unlock()
	a.binderRelease = release
}

// BindAssembly records asm as bound to this allocator and adds it to the
// domain's assembly list, under the domain's assembly-list lock.
func (a *Allocator) BindAssembly(id uint64) {
	rec := assemblyRecord{id: id, owner: a}

	listLock := a.domain.AssemblyListLock()
	listLock.Lock()
	defer listLock.Unlock()

	a.domain.AddAssembly(rec)

	unlock := a.lock()
	defer unlock()
	a.assemblies = append(a.assemblies, rec)
}

// SetupManagedTracking creates the managed scout and installs GC-pressure
// accounting (spec §6). Must run before any managed reference is exposed;
// calling it twice is a precondition violation.
func (a *Allocator) SetupManagedTracking() (*managed.Scout, error) {
	unlock := a.lock()
	defer unlock()

	if a.scout != nil {
		return nil, allocerr.Errorf(allocerr.Precondition, "SetupManagedTracking: allocator %d already tracked", a.creationNumber)
	}

	a.scout = managed.NewScout(a)
	a.handleCleanup = append(a.handleCleanup, func() {
		debug.Log(nil, "gc-pressure", "allocator %d released %d bytes", a.creationNumber, gcPressureBytes)
	})
	return a.scout, nil
}

// ActivateManagedTracking transitions the counter from Uninitialized to 1
// (spec §6). Must be called exactly once, after publication to managed
// code; a second call is a precondition violation (refcount.Counter.Activate
// panics).
func (a *Allocator) ActivateManagedTracking() {
	a.counter.Activate()
}
