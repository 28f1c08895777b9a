package jit

import (
	"sentrajit/internal/bytecode"
	"sentrajit/internal/hostabi"
)

// CodegenStatus is what a per-opcode codegen returns to the Driver (spec
// §4.3 step 4: "returns one of KeepCompiling, EndBlock, CantCompile").
type CodegenStatus uint8

const (
	KeepCompiling CodegenStatus = iota
	EndBlock
	// CodegenCantCompile is returned alongside a non-nil *CantCompile from
	// the same call; Driver checks the error, not this value, but it's
	// kept as a named zero-cost tag for callers that only care about
	// control flow, mirroring the three-way spec names exactly.
	CodegenCantCompile
)

// JITState is the per-compile scratch state a codegen needs beyond the
// Context: the Assembler to emit into, the live ExecutionContext (non-nil
// only for a deferred-compile resume — spec §4.3 "the latter only for
// deferred compiles"), the Iseq/index being compiled, and the shared
// collaborators (hooks, profiler, assumption registry) every specialization
// decision ultimately bottoms out in.
type JITState struct {
	AS       *Assembler
	Iseq     uintptr
	Index    int
	NextIndex int // Index + this instruction's length, computed by the Driver before invoking the codegen
	Hooks    hostabi.HostHooks
	Prof     *Profiler
	Assume   *AssumptionRegistry
	Versions *VersionIndex
	// Inv is the shared Invalidator, for codegens that need to register a
	// tracing boundary patch point (spec §4.9 step 3) alongside the side
	// exit they already emit at a call boundary.
	Inv *Invalidator
	// Block is the in-progress Block this compile is building, the subject
	// every Assume() call during this compile registers against.
	Block *Block

	// Live, non-nil only on a deferred-compile resume (spec §4.3 input
	// "execution_context... lets guards inspect the live value").
	LiveStack []HostValue
	LiveSelf  HostValue
}

// Codegen is the signature every per-opcode routine implements (spec §4.4):
// consume ctx, emit into js.AS, return the next Context (for KeepCompiling)
// and a status.
type Codegen func(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile)

// codegenTable is the opcode→codegen dispatch table Driver consults (spec
// §4.3 step 3: "Look up the opcode's codegen; if unknown, emit an exit and
// terminate the block"). Populated by registerCodegens in opcode_*.go files
// via init(), one file per opcode family, mirroring how the teacher keeps
// VM opcode handling split across files by concern rather than one giant
// switch.
var codegenTable = make(map[bytecode.OpCode]Codegen)

func registerCodegen(op bytecode.OpCode, fn Codegen) {
	codegenTable[op] = fn
}

func lookupCodegen(op bytecode.OpCode) (Codegen, bool) {
	fn, ok := codegenTable[op]
	return fn, ok
}
