// Package modecheck gives the handle table's "caller holds the
// cooperative-mode anchor" precondition (spec §4.C, §5) a checkable
// assertion in debug builds, instead of it being merely a comment.
//
// The surrounding runtime is expected to mark mode transitions explicitly
// via [EnterCooperative] and the leave func it returns, at the boundaries described in
// the external-interface contract; this package only records and asserts,
// it does not itself schedule anything.
package modecheck

import (
	"github.com/timandy/routine"

	"github.com/loaderalloc/loaderalloc/internal/debug"
)

// Mode is the scheduling mode a goroutine has declared itself to be in.
type Mode int

const (
	// Preemptive is the default mode: safe to block, unsafe to hold
	// managed references.
	Preemptive Mode = iota
	// Cooperative means safe to hold managed references.
	Cooperative
)

var tls = routine.NewThreadLocal[Mode]()

// EnterCooperative marks the calling goroutine as cooperative until the
// returned func is called, which restores the previous mode.
func EnterCooperative() (leave func()) {
	prev := tls.Get()
	tls.Set(Cooperative)
	return func() {
		tls.Set(prev)
	}
}

// Current returns the calling goroutine's current mode. Goroutines that
// never called [EnterCooperative] are Preemptive by default, since that is
// Mode's zero value.
func Current() Mode {
	return tls.Get()
}

// AssertCooperative panics in debug builds if the calling goroutine has not
// declared itself cooperative. It is a no-op in release builds, mirroring
// [debug.Assert]'s build-tag gating.
func AssertCooperative(op string) {
	debug.Assert(Current() == Cooperative, "%s requires the cooperative-mode anchor", op)
}
