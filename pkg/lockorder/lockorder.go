// Package lockorder encodes the fixed lock-acquisition order required by
// the concurrency model (spec §5): references-lock before
// assembly-list-lock before per-allocator-lock. Each of the three lock
// types embeds a [Guard] and calls [Guard.BeforeAcquire] / [Guard.AfterRelease]
// around their underlying mutex, so that acquiring them out of order panics
// in debug builds.
package lockorder

import (
	"github.com/timandy/routine"

	"github.com/loaderalloc/loaderalloc/internal/debug"
)

// Level names a position in the fixed lock hierarchy. Lower levels must be
// acquired before higher ones.
type Level int

const (
	// References is the domain's loader-allocator-references lock.
	References Level = iota
	// AssemblyList is the domain's assembly-list lock.
	AssemblyList
	// PerAllocator is a single allocator's own lock.
	PerAllocator
)

func (l Level) String() string {
	switch l {
	case References:
		return "references-lock"
	case AssemblyList:
		return "assembly-list-lock"
	case PerAllocator:
		return "per-allocator-lock"
	default:
		return "unknown-lock-level"
	}
}

// held is the per-goroutine stack of levels currently acquired along the
// calling goroutine's lock-ordered call chain.
var held = routine.NewThreadLocal[[]Level]()

// Guard is embedded by each of the three lock types to enforce ordering.
// It does not itself provide mutual exclusion — embed it alongside a
// sync.Mutex or sync.RWMutex.
type Guard struct {
	level Level
}

// NewGuard constructs a Guard for the given level.
func NewGuard(level Level) Guard {
	return Guard{level: level}
}

// BeforeAcquire asserts that no lock of level greater-or-equal to this
// Guard's is already held on the calling goroutine's chain, then pushes
// this level. Call this immediately before taking the underlying mutex.
// No-op outside debug builds.
func (g *Guard) BeforeAcquire() {
	if !debug.Enabled {
		return
	}
	stack := held.Get()
	for _, lvl := range stack {
		debug.Assert(lvl < g.level,
			"lock order violation: acquiring %v while holding %v", g.level, lvl)
	}
	held.Set(append(stack, g.level))
}

// AfterRelease pops this level off the calling goroutine's held-lock
// stack. Call this immediately after releasing the underlying mutex.
// No-op outside debug builds.
func (g *Guard) AfterRelease() {
	if !debug.Enabled {
		return
	}
	stack := held.Get()
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == g.level {
			held.Set(append(stack[:i], stack[i+1:]...))
			return
		}
	}
}
