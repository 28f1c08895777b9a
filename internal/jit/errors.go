package jit

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"

	hosterrors "sentrajit/internal/errors"
)

// CantCompile is returned by a per-opcode codegen (or the driver) when it
// declines to compile a region — an opcode it has no codegen for, a chain
// depth that capped out, a Context it can't represent. Never a bug: the
// driver ends the block with a side exit at the refusing instruction, so the
// interpreter resumes there (spec §4.3 step 5).
type CantCompile struct {
	Op  string
	At  int // bytecode index
	Why string
}

func (e *CantCompile) Error() string {
	return fmt.Sprintf("jit: can't compile %s at %d: %s", e.Op, e.At, e.Why)
}

// NewCantCompile wraps the failure with a stack trace (pkg/errors) recording
// where in the compiler the bailout originated, not just which bytecode
// index it happened at. No -jit-dump level prints that trace.
func NewCantCompile(op string, at int, why string) error {
	return pkgerrors.WithStack(&CantCompile{Op: op, At: at, Why: why})
}

// Invariant panics with a JITInvariant SentraError. The JIT never returns
// invariant violations as ordinary errors — by construction they indicate a
// bug in the JIT itself (a stub hit with a Context that disagrees with the
// block it targets, a write to a frozen code region), not a condition a
// caller can recover from.
func Invariant(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	panic(hosterrors.NewJITError(hosterrors.JITInvariant, msg, "<generated>", 0))
}

// AsCantCompile unwraps err (which may be pkg/errors-wrapped) back to its
// *CantCompile, for callers that want the structured reason rather than the
// formatted string.
func AsCantCompile(err error) (*CantCompile, bool) {
	var cc *CantCompile
	if errors.As(err, &cc) {
		return cc, true
	}
	return nil, false
}
