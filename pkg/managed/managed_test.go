package managed_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loaderalloc/loaderalloc/pkg/managed"
)

type fakeOwner struct {
	destroyed    bool
	lastScout    *managed.Scout
	destroyCalls int
}

func (f *fakeOwner) Destroy(scout *managed.Scout) bool {
	f.destroyCalls++
	f.lastScout = scout
	wasNotDestroyed := !f.destroyed
	f.destroyed = true
	return wasNotDestroyed
}

func TestObjectManagedID(t *testing.T) {
	o := managed.NewObject(42)
	require.Equal(t, uint64(42), o.ManagedID())
}

func TestHandleWrapsRef(t *testing.T) {
	o := managed.NewObject(7)
	h := managed.NewHandle(o)
	require.Same(t, managed.Ref(o), h.Get())
}

func TestScoutReleaseCallsDestroyOnce(t *testing.T) {
	owner := &fakeOwner{}
	scout := managed.NewScout(owner)

	first := scout.Release()
	require.True(t, first)
	require.Equal(t, 1, owner.destroyCalls)
	require.Same(t, scout, owner.lastScout)
}
