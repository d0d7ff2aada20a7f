package allocator

import "github.com/loaderalloc/loaderalloc/pkg/arena"

// stringLiteralMapEstimate is a notional per-allocator footprint for the
// string-literal interning table, which spec §1 names as an external
// collaborator this module does not implement; EstimateSize still rolls
// it up per spec §6, so a fixed estimate stands in for the real table.
const stringLiteralMapEstimate = 512

// HeapSet is the arena group (component A): the six sub-arenas plus the
// precode arena spec.md §4.A describes, each a bump-pointer [arena.Arena].
// Collectible allocators alias LowFrequency onto HighFrequency (a single
// arena serves both roles, saving pages); non-collectible allocators get
// independent arenas for each.
type HeapSet struct {
	Code          *arena.Arena
	VSD           *arena.Arena
	LowFrequency  *arena.Arena
	Executable    *arena.Arena
	HighFrequency *arena.Arena
	Stub          *arena.Arena
	Precode       *arena.Arena

	aliased bool // LowFrequency == HighFrequency
}

// NewHeapSet constructs a HeapSet. When collectible is true, LowFrequency
// is aliased onto HighFrequency per spec §4.A.
func NewHeapSet(collectible bool) *HeapSet {
	hs := &HeapSet{
		Code:          &arena.Arena{},
		VSD:           &arena.Arena{},
		Executable:    &arena.Arena{},
		HighFrequency: &arena.Arena{},
		Stub:          &arena.Arena{},
		Precode:       &arena.Arena{},
	}
	if collectible {
		hs.LowFrequency = hs.HighFrequency
		hs.aliased = true
	} else {
		hs.LowFrequency = &arena.Arena{}
	}
	return hs
}

// EstimateSize sums committed bytes across every sub-arena plus the
// notional string-literal-map estimate, matching spec §6's
// "EstimateSize() summing all sub-arena sizes plus the string-literal map
// size." The aliased low-frequency heap is not double-counted.
func (hs *HeapSet) EstimateSize() int {
	total := hs.Code.Cap() + hs.VSD.Cap() + hs.Executable.Cap() + hs.HighFrequency.Cap() + hs.Stub.Cap() + hs.Precode.Cap()
	if !hs.aliased {
		total += hs.LowFrequency.Cap()
	}
	return total + stringLiteralMapEstimate
}
