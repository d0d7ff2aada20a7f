package lockorder_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loaderalloc/loaderalloc/pkg/lockorder"
)

func TestGuardsAreNoOpOutsideDebugBuilds(t *testing.T) {
	refs := lockorder.NewGuard(lockorder.References)
	perAlloc := lockorder.NewGuard(lockorder.PerAllocator)

	require.NotPanics(t, func() {
		perAlloc.BeforeAcquire()
		refs.BeforeAcquire()
		refs.AfterRelease()
		perAlloc.AfterRelease()
	})
}

func TestLevelString(t *testing.T) {
	require.Equal(t, "references-lock", lockorder.References.String())
	require.Equal(t, "assembly-list-lock", lockorder.AssemblyList.String())
	require.Equal(t, "per-allocator-lock", lockorder.PerAllocator.String())
}
