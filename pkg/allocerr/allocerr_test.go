package allocerr_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loaderalloc/loaderalloc/pkg/allocerr"
)

func TestNewAndKind(t *testing.T) {
	err := allocerr.New(allocerr.OutOfMemory, "handle table growth")
	require.Equal(t, allocerr.OutOfMemory, err.Kind)
	require.Contains(t, err.Error(), "out of memory")
	require.Contains(t, err.Error(), "handle table growth")
}

func TestIsKind(t *testing.T) {
	err := allocerr.New(allocerr.Precondition, "double publication")
	require.True(t, allocerr.IsKind(err, allocerr.Precondition))
	require.False(t, allocerr.IsKind(err, allocerr.OutOfMemory))
}

func TestAsErrorThroughWrap(t *testing.T) {
	inner := allocerr.New(allocerr.OutOfMemory, "arena reserve")
	wrapped := fmt.Errorf("allocate: %w", inner)

	got, ok := allocerr.AsError(wrapped)
	require.True(t, ok)
	require.Same(t, inner, got)
}

func TestErrorIsMatchesKind(t *testing.T) {
	a := allocerr.New(allocerr.OutOfMemory, "op a")
	b := allocerr.New(allocerr.OutOfMemory, "op b")
	c := allocerr.New(allocerr.Precondition, "op c")

	require.True(t, errors.Is(a, b))
	require.False(t, errors.Is(a, c))
}
