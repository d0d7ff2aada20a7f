package allocator_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loaderalloc/loaderalloc/pkg/allocator"
	"github.com/loaderalloc/loaderalloc/pkg/domain"
	"github.com/loaderalloc/loaderalloc/pkg/handletable"
	"github.com/loaderalloc/loaderalloc/pkg/managed"
	"github.com/loaderalloc/loaderalloc/pkg/modecheck"
)

func cooperative(t *testing.T, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		leave := modecheck.EnterCooperative()
		defer leave()
		fn()
	}()
	<-done
}

func newTestDomain() (*domain.AppDomain, *allocator.Registry) {
	return domain.New(), allocator.NewRegistry()
}

func TestKindCanUnload(t *testing.T) {
	require.False(t, allocator.Global.CanUnload())
	require.False(t, allocator.DomainKind.CanUnload())
	require.True(t, allocator.AssemblyKind.CanUnload())
}

func TestNewAssignsDistinctCreationNumbers(t *testing.T) {
	dom, reg := newTestDomain()
	a := allocator.New(allocator.AssemblyKind, dom, reg)
	b := allocator.New(allocator.AssemblyKind, dom, reg)
	require.NotEqual(t, a.CreationNumber(), b.CreationNumber())

	entry, ok := reg.Lookup(a.CreationNumber())
	require.True(t, ok)
	require.Same(t, a, entry)
}

func TestEstimateSizeGrowsWithAllocations(t *testing.T) {
	dom, reg := newTestDomain()
	a := allocator.New(allocator.AssemblyKind, dom, reg)
	before := a.EstimateSize()

	a.CodeHeap().Alloc(4096)

	require.Greater(t, a.EstimateSize(), before)
}

func TestNonCollectibleAllocatorsGetIndependentLowFrequencyHeap(t *testing.T) {
	dom, reg := newTestDomain()
	g := allocator.New(allocator.Global, dom, reg)
	require.NotSame(t, g.HighFrequencyHeap(), g.LowFrequencyHeap())

	a := allocator.New(allocator.AssemblyKind, dom, reg)
	require.Same(t, a.HighFrequencyHeap(), a.LowFrequencyHeap())
}

func TestHandleRoundTrip(t *testing.T) {
	dom, reg := newTestDomain()
	a := allocator.New(allocator.AssemblyKind, dom, reg)
	a.ActivateManagedTracking()

	cooperative(t, func() {
		obj := managed.NewObject(1)
		h, err := a.Allocate(obj)
		require.NoError(t, err)
		require.Same(t, obj, a.Read(h))

		a.Free(h)
		require.Nil(t, a.Read(h))
	})
}

func TestAllocateReturnsNullWhenDead(t *testing.T) {
	dom, reg := newTestDomain()
	a := allocator.New(allocator.AssemblyKind, dom, reg)
	scout, err := a.SetupManagedTracking()
	require.NoError(t, err)
	a.ActivateManagedTracking()
	scout.Release()
	require.Equal(t, 4, a.Phase())

	cooperative(t, func() {
		h, err := a.Allocate(managed.NewObject(1))
		require.NoError(t, err)
		require.Equal(t, handletable.Null, h)
	})
}

func TestPhaseTransitions(t *testing.T) {
	dom, reg := newTestDomain()
	a := allocator.New(allocator.AssemblyKind, dom, reg)

	scout, err := a.SetupManagedTracking()
	require.NoError(t, err)
	require.Equal(t, 1, a.Phase())

	a.ActivateManagedTracking()
	require.Equal(t, 1, a.Phase())

	scout.Release()
	require.Equal(t, 4, a.Phase(), "solo collectible with no external references tears all the way down")
}

func TestSetupManagedTrackingTwiceIsPreconditionViolation(t *testing.T) {
	dom, reg := newTestDomain()
	a := allocator.New(allocator.AssemblyKind, dom, reg)

	_, err := a.SetupManagedTracking()
	require.NoError(t, err)

	_, err = a.SetupManagedTracking()
	require.Error(t, err)
}
