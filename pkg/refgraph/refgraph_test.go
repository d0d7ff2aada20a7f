//go:build go1.19

package refgraph_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"

	"github.com/loaderalloc/loaderalloc/pkg/refcount"
	"github.com/loaderalloc/loaderalloc/pkg/refgraph"
)

// fakeNode is a minimal refgraph.Node for testing the Set and Sweep in
// isolation from pkg/allocator.
type fakeNode struct {
	id          uint64
	collectible bool
	counter     *refcount.Counter
	refs        *refgraph.Set
	marked      bool
}

func newFakeNode(id uint64) *fakeNode {
	c := refcount.New()
	c.Activate()
	return &fakeNode{id: id, collectible: true, counter: c, refs: refgraph.NewSet()}
}

func (n *fakeNode) CreationNumber() uint64   { return n.id }
func (n *fakeNode) Collectible() bool        { return n.collectible }
func (n *fakeNode) AddReference()            { n.counter.AddReference() }
func (n *fakeNode) Alive() bool              { return n.counter.Alive() }
func (n *fakeNode) References() *refgraph.Set { return n.refs }
func (n *fakeNode) Marked() bool             { return n.marked }
func (n *fakeNode) SetMarked(m bool)         { n.marked = m }

type fakeAssembly struct{ owner refgraph.Node }

func (a fakeAssembly) Owner() refgraph.Node { return a.owner }

func TestSetInvariants(t *testing.T) {
	Convey("Given two collectible nodes", t, func() {
		a := newFakeNode(1)
		b := newFakeNode(2)

		Convey("EnsureReference(a, b) adds b and bumps b's counter", func() {
			added := refgraph.EnsureReference(a, b)
			So(added, ShouldBeTrue)
			So(a.References().Contains(b), ShouldBeTrue)
			So(b.counter.Load(), ShouldEqual, uint32(2))
		})

		Convey("EnsureReference called twice only bumps the counter once", func() {
			refgraph.EnsureReference(a, b)
			added := refgraph.EnsureReference(a, b)
			So(added, ShouldBeFalse)
			So(b.counter.Load(), ShouldEqual, uint32(2))
		})

		Convey("EnsureReference(a, a) is a no-op", func() {
			added := refgraph.EnsureReference(a, a)
			So(added, ShouldBeFalse)
			So(a.References().Len(), ShouldEqual, 0)
		})

		Convey("EnsureReference against a non-collectible target is a no-op", func() {
			b.collectible = false
			added := refgraph.EnsureReference(a, b)
			So(added, ShouldBeFalse)
		})
	})
}

func TestSetGrowsPastInitialCapacity(t *testing.T) {
	a := newFakeNode(0)
	const n = 200
	nodes := make([]*fakeNode, n)
	for i := range nodes {
		nodes[i] = newFakeNode(uint64(i + 1))
		refgraph.EnsureReference(a, nodes[i])
	}

	require.Equal(t, n, a.References().Len())
	for _, node := range nodes {
		require.True(t, a.References().Contains(node))
	}
}

func TestSweepSoloCollectible(t *testing.T) {
	Convey("Given a lone collectible allocator with a dead counter", t, func() {
		a := newFakeNode(1)
		a.counter.Release() // drop to zero

		toDestroy := refgraph.Sweep([]refgraph.Assembly{fakeAssembly{a}})

		Convey("Then it is selected for teardown", func() {
			So(len(toDestroy), ShouldEqual, 1)
			So(toDestroy[0].CreationNumber(), ShouldEqual, a.CreationNumber())
		})
	})
}

func TestSweepChain(t *testing.T) {
	Convey("Given A -> B with A dead and B alive via A's reference", t, func() {
		a := newFakeNode(1)
		b := newFakeNode(2)
		refgraph.EnsureReference(a, b)
		a.counter.Release() // A's own count drops to zero; B still has A's contribution

		toDestroy := refgraph.Sweep([]refgraph.Assembly{fakeAssembly{a}, fakeAssembly{b}})

		Convey("Then only A is selected; B remains alive", func() {
			So(len(toDestroy), ShouldEqual, 1)
			So(toDestroy[0].CreationNumber(), ShouldEqual, a.CreationNumber())
		})
	})
}

func TestSweepCycle(t *testing.T) {
	Convey("Given a cycle A <-> B with no outside contribution left", t, func() {
		a := newFakeNode(1)
		b := newFakeNode(2)
		refgraph.EnsureReference(a, b) // b.counter: own(1) + a's unit = 2
		refgraph.EnsureReference(b, a) // a.counter: own(1) + b's unit = 2

		// Release both the own unit and the cycle-mutual unit for each
		// side, as their respective Destroy calls would: neither counter
		// has any contribution left once both scouts are gone.
		a.counter.Release()
		a.counter.Release()
		b.counter.Release()
		b.counter.Release()

		toDestroy := refgraph.Sweep([]refgraph.Assembly{fakeAssembly{a}, fakeAssembly{b}})

		Convey("Then both are selected for teardown", func() {
			So(len(toDestroy), ShouldEqual, 2)
		})
	})
}

func TestSweepMarkFollowsStaleEdgeFromLiveRoot(t *testing.T) {
	Convey("Given A alive referencing B, with B's counter independently at zero", t, func() {
		a := newFakeNode(1)
		b := newFakeNode(2)
		refgraph.EnsureReference(a, b)

		// B's counter reaches zero on its own account, but the stale
		// edge a -> b in a's reference set is never shrunk (spec §4.E).
		b.counter.Release()
		b.counter.Release()
		So(b.counter.Alive(), ShouldBeFalse)

		toDestroy := refgraph.Sweep([]refgraph.Assembly{fakeAssembly{a}, fakeAssembly{b}})

		Convey("Then B is saved by the stale edge and not selected", func() {
			So(len(toDestroy), ShouldEqual, 0)
		})
	})
}

func TestSweepPinnedByExternalReference(t *testing.T) {
	Convey("Given A held alive by an external AddRef", t, func() {
		a := newFakeNode(1)
		a.counter.AddReference() // simulates an external stub's reference
		a.counter.Release()      // drop the constructor's own implicit count

		toDestroy := refgraph.Sweep([]refgraph.Assembly{fakeAssembly{a}})

		Convey("Then sweep leaves it intact", func() {
			So(len(toDestroy), ShouldEqual, 0)
			So(a.counter.Alive(), ShouldBeTrue)
		})
	})
}

func TestSweepRingOfNCollected(t *testing.T) {
	const ringSize = 8
	nodes := make([]*fakeNode, ringSize)
	for i := range nodes {
		nodes[i] = newFakeNode(uint64(i + 1))
	}
	for i, n := range nodes {
		next := nodes[(i+1)%ringSize]
		refgraph.EnsureReference(n, next)
	}
	for _, n := range nodes {
		// Each node's counter is own(1) + one unit from its ring
		// predecessor; dropping all external references means both
		// units are gone once every member's scout has gone.
		n.counter.Release()
		n.counter.Release()
	}

	assemblies := make([]refgraph.Assembly, ringSize)
	for i, n := range nodes {
		assemblies[i] = fakeAssembly{n}
	}

	toDestroy := refgraph.Sweep(assemblies)
	require.Len(t, toDestroy, ringSize)
}

func TestSweepDuplicateAssembliesShareOneAllocatorOnce(t *testing.T) {
	a := newFakeNode(1)
	a.counter.Release()

	toDestroy := refgraph.Sweep([]refgraph.Assembly{
		fakeAssembly{a}, fakeAssembly{a}, fakeAssembly{a},
	})
	require.Len(t, toDestroy, 1)
}
