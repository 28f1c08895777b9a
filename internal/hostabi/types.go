// Package hostabi defines the boundary types between the JIT and the host
// VM it compiles for (spec.md §6, "External Interfaces"). Everything here is
// a description of what the host promises to provide — iseq layout, frame
// layout, call-site shape, method-entry shape — not an implementation of the
// host's interpreter, object model, or GC, all of which are out of scope
// (spec.md §1).
package hostabi

import "sentrajit/internal/bytecode"

// ParamFlags describes an iseq's parameter shape (spec §4.5's arity regimes).
type ParamFlags struct {
	HasOpt   bool
	HasBlock bool
	HasRest  bool
	HasPost  bool
	HasKw    bool
	HasKwRest bool
	Lead     int // required leading params
	Opt      int // optional param count
	// OptTable[i] is the starting PC to jump to when i optional args were
	// supplied (OptTable[0] is the entry when no optional args were supplied).
	OptTable []int
}

// Iseq is the compile-time description of one method body: its bytecode plus
// the metadata the spec's §4.5 dispatch pipeline and §4.3 driver need that a
// bare bytecode.Chunk does not carry (arity regimes, stack_max, local count).
// It intentionally never holds interpreter or GC state.
type Iseq struct {
	Name            string
	Chunk           *bytecode.Chunk
	LocalTableSize  int
	StackMax        int
	Param           ParamFlags
	BuiltinInlineP  bool // true iff body is exactly an inlinable builtin delegate + leave
	BuiltinFn       uintptr
	BuiltinArity    int
}

// CallInfo flag bits (spec §6).
const (
	CIFlagKwSplat = 1 << iota
	CIFlagKwarg
	CIFlagArgsSplat
	CIFlagArgsBlockarg
	CIFlagFCall
	CIFlagTailcall
)

// CallInfo describes a call site (spec §6's callinfo).
type CallInfo struct {
	Argc  int
	MID   string // method id (symbol name) being called
	Flags uint32
}

func (ci CallInfo) Simple() bool {
	const disallowed = CIFlagKwSplat | CIFlagKwarg | CIFlagArgsSplat | CIFlagArgsBlockarg
	return ci.Flags&disallowed == 0
}

func (ci CallInfo) FCall() bool { return ci.Flags&CIFlagFCall != 0 }

// MethodEntryKind is the closed set of method-entry kinds the dispatch
// pipeline (spec §4.5) distinguishes.
type MethodEntryKind int

const (
	MethodISeq MethodEntryKind = iota
	MethodCFunc
	MethodIvarGetter
	MethodAlias
	MethodOther // attrset, bmethod, zsuper, optimized, missing, refined, not-implemented — always refused
)

// Visibility mirrors Ruby's method visibility lattice.
type Visibility int

const (
	VisPublic Visibility = iota
	VisPrivate
	VisProtected
)

// MethodEntry is the spec §6 method_entry: everything the dispatch pipeline
// needs to decide how (or whether) to specialize a call site.
type MethodEntry struct {
	Kind          MethodEntryKind
	Serial        uint64 // def.method_serial — changes on every redefinition
	Owner         ClassID
	DefinedClass  ClassID
	CalledID      string
	Visibility    Visibility
	ISeq          *Iseq   // valid when Kind == MethodISeq
	CFunc         CFunc   // valid when Kind == MethodCFunc
	IvarName      string  // valid when Kind == MethodIvarGetter
	AliasOf       *MethodEntry // valid when Kind == MethodAlias
}

// CFunc describes a C (host-native) method body.
type CFunc struct {
	Arity int // >=0 exact, or -1 for (argc, argv)
	Addr  uintptr
	// SpecializedCodegen, when non-nil, names a registered per-C-method
	// codegen (spec §4.5 "BasicObject#!", "NilClass#nil?", ...) the dispatch
	// pipeline should invoke instead of emitting a generic C call.
	SpecializedCodegen string
}

// ClassID identifies a host class. The JIT never inspects class internals
// (object model is out of scope) — it only ever compares ClassIDs for
// identity and passes them to HostHooks.
type ClassID uintptr

// ControlFrame mirrors spec §6's control_frame fields. The JIT's generated
// code does not read this struct's Go layout; it uses its own cfpOffset*
// constants in internal/jit.
type ControlFrame struct {
	PC        int
	SP        int // index into the VM value stack
	ISeq      *Iseq
	Self      uint64 // hostabi does not know about jit.HostValue; callers cast
	EP        int    // environment pointer (index into the VM value stack)
	BlockCode uintptr
	Flags     FrameFlags
	JITReturn uintptr // address compiled code jumps to on return
}

type FrameFlags uint32

const (
	FrameMethod FrameFlags = 1 << iota
	FrameLocal
	FrameCFunc
	FrameCFrame
	FrameBlock
)

// ExecutionContext mirrors spec §6's execution_context.
type ExecutionContext struct {
	CFP            int // index of the current control frame
	InterruptMask  uint32
	InterruptFlag  uint32
	TracingEnabled bool // c_call / c_return TracePoint active globally
	SingleRactor   bool
}
