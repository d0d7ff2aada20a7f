package allocator

import (
	"github.com/loaderalloc/loaderalloc/pkg/modecheck"
	"github.com/loaderalloc/loaderalloc/pkg/refgraph"
)

// EnsureReference records that a depends on other (spec §4.E), under the
// domain's loader-allocator-references lock. If a new edge was added, it
// also allocates a loader handle in a's own table pinning other's managed
// exposed object, so other's managed scout cannot be collected while the
// edge stands — composing [refgraph.EnsureReference]'s set-and-counter
// half with the handle-pinning half that package leaves to its caller.
func (a *Allocator) EnsureReference(other *Allocator) (bool, error) {
	refLock := a.domain.ReferencesLock()
	refLock.Lock()
	defer refLock.Unlock()

	added := refgraph.EnsureReference(a, other)
	if !added {
		return false, nil
	}

	// Allocate exposes other's managed reference into a handle slot, so
	// the caller must hold the cooperative-mode anchor for the duration.
	leave := modecheck.EnterCooperative()
	_, err := a.handles.Allocate(other.exposed)
	leave()
	if err != nil {
		return true, err
	}
	return true, nil
}

// EnsureInstantiation applies EnsureReference to every distinct
// collectible allocator in modules, including the defining module a
// belongs to is expected to already be represented in that slice (spec
// §4.E). Returns true iff any new reference was added.
func (a *Allocator) EnsureInstantiation(modules []*Allocator) (bool, error) {
	any := false
	for _, m := range modules {
		added, err := a.EnsureReference(m)
		if err != nil {
			return any, err
		}
		any = any || added
	}
	return any, nil
}
