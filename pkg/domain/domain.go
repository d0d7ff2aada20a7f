// Package domain provides the domain-side collaborator described in spec
// §6 "To the domain": the assembly list, the two domain-wide locks
// (references-lock and assembly-list-lock), and assembly/allocator
// discovery.
package domain

import (
	"sync"

	"github.com/loaderalloc/loaderalloc/pkg/lockorder"
)

// Assembly is a loaded collectible code unit. AppDomain tracks these and
// their owning allocators; the allocator and handle-table machinery proper
// lives in pkg/allocator.
type Assembly interface {
	// AssemblyID is a diagnostic identifier, unique within a domain.
	AssemblyID() uint64
}

// RefLock and ListLock are the two domain-wide locks spec §5 names:
// the loader-allocator-references lock and the assembly-list lock. They
// are distinguished as types (rather than both being *sync.Mutex) so that
// callers cannot accidentally acquire one while intending the other, and
// so each embeds the matching [lockorder.Guard].
type RefLock struct {
	mu    sync.Mutex
	guard lockorder.Guard
}

func newRefLock() *RefLock {
	return &RefLock{guard: lockorder.NewGuard(lockorder.References)}
}

// Lock acquires the references-lock, asserting lock order in debug builds.
func (l *RefLock) Lock() {
	l.guard.BeforeAcquire()
	l.mu.Lock()
}

// Unlock releases the references-lock.
func (l *RefLock) Unlock() {
	l.mu.Unlock()
	l.guard.AfterRelease()
}

// ListLock guards assembly-list iteration during sweep.
type ListLock struct {
	mu    sync.Mutex
	guard lockorder.Guard
}

func newListLock() *ListLock {
	return &ListLock{guard: lockorder.NewGuard(lockorder.AssemblyList)}
}

// Lock acquires the assembly-list-lock, asserting lock order in debug
// builds.
func (l *ListLock) Lock() {
	l.guard.BeforeAcquire()
	l.mu.Lock()
}

// Unlock releases the assembly-list-lock.
func (l *ListLock) Unlock() {
	l.mu.Unlock()
	l.guard.AfterRelease()
}

// AppDomain is the external collaborator an allocator is born into: it
// owns the assembly list and the two domain-wide locks. It has no
// EstimateSize of its own; that sum lives on each allocator.
//
// It also carries the JIT/execution-manager and execution-engine callbacks
// sweep Phase R invokes (spec §4.F steps 3-6, §6 "To the JIT / execution
// manager"). This module has no real JIT or execution engine, so these are
// stubbed function fields rather than a live collaborator; New installs
// no-op defaults so a caller that never overrides them still gets a
// complete, well-ordered teardown sequence.
type AppDomain struct {
	refLock  *RefLock
	listLock *ListLock

	mu         sync.Mutex // guards assemblies and pendingDelete below
	assemblies []Assembly

	pendingDelete []func() // drained after sweep Phase R, per spec §4.F "Exit handling"

	// SuspendEE and RestartEE bracket the cache-purge and JIT-unload steps
	// of Phase R: "the only intentional stop-the-world in the core" (spec
	// §5 "Suspension points").
	SuspendEE func()
	RestartEE func()

	// UnloadExecutionManager and UninitVirtualCallStubManager are
	// ExecutionManager::Unload(allocator) and UninitVirtualCallStubManager()
	// (spec §6): opaque side-effecting callbacks invoked during Phase R,
	// given the torn-down allocator's creation number.
	UnloadExecutionManager       func(creationNumber uint64)
	UninitVirtualCallStubManager func(creationNumber uint64)
}

// New constructs an empty AppDomain, with no-op EE/JIT callback stubs.
func New() *AppDomain {
	return &AppDomain{
		refLock:  newRefLock(),
		listLock: newListLock(),

		SuspendEE:                    func() {},
		RestartEE:                    func() {},
		UnloadExecutionManager:       func(uint64) {},
		UninitVirtualCallStubManager: func(uint64) {},
	}
}

// ReferencesLock returns the domain's loader-allocator-references lock.
func (d *AppDomain) ReferencesLock() *RefLock { return d.refLock }

// AssemblyListLock returns the domain's assembly-list lock.
func (d *AppDomain) AssemblyListLock() *ListLock { return d.listLock }

// AddAssembly appends asm to the domain's assembly list. Callers must hold
// the assembly-list lock.
func (d *AppDomain) AddAssembly(asm Assembly) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assemblies = append(d.assemblies, asm)
}

// RemoveAssembly removes asm from the domain's assembly list, if present.
// Callers must hold the assembly-list lock.
func (d *AppDomain) RemoveAssembly(asm Assembly) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, a := range d.assemblies {
		if a == asm {
			d.assemblies = append(d.assemblies[:i], d.assemblies[i+1:]...)
			return
		}
	}
}

// Assemblies returns a snapshot of the currently loaded assemblies.
// Callers must hold the assembly-list lock for the duration of any
// iteration that must observe a consistent list.
func (d *AppDomain) Assemblies() []Assembly {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Assembly, len(d.assemblies))
	copy(out, d.assemblies)
	return out
}

// EnqueuePendingDelete appends fn to the domain's pending-delete list,
// invoked by [AppDomain.DrainPendingDeletes] after sweep Phase R (spec
// §4.F step 7).
func (d *AppDomain) EnqueuePendingDelete(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pendingDelete = append(d.pendingDelete, fn)
}

// DrainPendingDeletes invokes and clears every pending final-destructor
// callback queued by [AppDomain.EnqueuePendingDelete].
func (d *AppDomain) DrainPendingDeletes() {
	d.mu.Lock()
	pending := d.pendingDelete
	d.pendingDelete = nil
	d.mu.Unlock()

	for _, fn := range pending {
		fn()
	}
}
