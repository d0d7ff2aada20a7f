// Package allocerr defines the typed error kinds raised by the loader
// allocator: out-of-memory conditions and precondition violations, per the
// error handling design.
package allocerr

import (
	"fmt"
	"runtime"

	"github.com/loaderalloc/loaderalloc/pkg/xerrors"
)

// Kind distinguishes the error categories the allocator can surface.
type Kind int

const (
	// OutOfMemory means arena allocation, handle-table growth, or the
	// handle ceiling was exceeded.
	OutOfMemory Kind = iota
	// Precondition means a caller-visible programming error: a null
	// handle, a reference count already at UINT32_MAX, a double
	// publication, and similar.
	Precondition
)

func (k Kind) String() string {
	switch k {
	case OutOfMemory:
		return "out of memory"
	case Precondition:
		return "precondition violation"
	default:
		return "unknown error kind"
	}
}

// Error is the concrete error type returned for both kinds. It captures the
// caller's frame the way [internal/debug.Unsupported] captures its own,
// so a failing allocation or assertion names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	pc   uintptr
}

// New constructs an Error of the given kind for op, capturing the caller's
// program counter for diagnostics.
func New(kind Kind, op string) *Error {
	pc, _, _, _ := runtime.Caller(1)
	return &Error{Kind: kind, Op: op, pc: pc}
}

func (e *Error) Error() string {
	name := ""
	if fn := runtime.FuncForPC(e.pc); fn != nil {
		name = fn.Name()
	}
	if name == "" {
		return fmt.Sprintf("loaderalloc: %s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("loaderalloc: %s: %s (in %s)", e.Kind, e.Op, name)
}

// Is reports whether target is an *Error of the same Kind, so errors.Is
// matches any two *Error values that share a Kind. To test an error against
// a Kind value directly, use [IsKind].
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// IsKind reports whether err is an *Error (possibly wrapped) of the given
// kind.
func IsKind(err error, kind Kind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// AsError unwraps err to an *Error, using [xerrors.AsA] for the underlying
// [errors.As] walk.
func AsError(err error) (*Error, bool) {
	return xerrors.AsA[*Error](err)
}

// Errorf constructs an error of the given kind, with the formatted message
// as the op.
func Errorf(kind Kind, format string, args ...any) *Error {
	pc, _, _, _ := runtime.Caller(1)
	return &Error{Kind: kind, Op: fmt.Sprintf(format, args...), pc: pc}
}
