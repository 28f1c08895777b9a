package jit

// StubKind is one of the three stub shapes spec §3 "Stub" names.
type StubKind uint8

const (
	StubSideExit StubKind = iota
	StubBranch
	StubDeferredCompile
)

// Stub is a lazy placeholder a Branch's Target points at before its real
// successor exists. Its machine code lives in the outlined arena O, sized
// just large enough to call back into the JIT runtime with enough state to
// re-enter compilation or restore the interpreter.
type Stub struct {
	Kind StubKind

	// Pos is the stub's entry address in O.
	Pos int

	// Iseq/Index/Ctx identify what to compile on hit (StubBranch,
	// StubDeferredCompile), or what PC to resume interpretation at
	// (StubSideExit).
	Iseq  uintptr
	Index int
	Ctx   Context

	// Branch/Target back-reference, nil for a bare side exit that isn't
	// part of any branch's target list (e.g. a CantCompile bailout).
	Branch *Target

	// ProfileCounter is a slot for a per-stub hit counter (locked add —
	// spec §5). Nothing in this package sets it or emits code that bumps
	// it, and -jit-stats does not report it.
	ProfileCounter *uint64
}

// EmitSideExit writes a side-exit stub into O (spec §3 stub kind 1): write
// PC = index into the CFP, materialize SP, and jump to the interpreter's
// re-entry label. It restores no other CFP field and loads no sentinel
// return value. The restore sequence itself is just a handful of
// Store/MovImm/Lea/Jmp emits — the interesting part is bookkeeping the
// resume point so the interpreter picks up exactly where the guard failed.
func EmitSideExit(as *Assembler, iseq uintptr, index int, ctx Context) *Stub {
	as.SwitchToOutlined()
	pos := as.Pos()
	// Write PC = index, restore materialized SP by applying ctx.SPOffset,
	// then tail-jump to the interpreter's generic re-entry trampoline.
	as.MovImm(RegRAX, int64(index))
	as.Store(Mem{Base: RegCFP, Disp: cfpOffsetPC}, RegRAX)
	if ctx.SPOffset != 0 {
		as.Lea(RegSP, Mem{Base: RegSP, Disp: int32(8 * int(ctx.SPOffset))})
	}
	as.Jmp(Label("__interp_reenter"))
	as.SwitchToInline()

	return &Stub{Kind: StubSideExit, Pos: pos, Iseq: iseq, Index: index, Ctx: ctx}
}

// EmitBranchStub writes a branch stub (spec §3 kind 2, §4.7 "Stub hit
// handler"): on hit it must compile the branch's target and re-link,
// something only the Driver (which owns VersionIndex/Arena/Assembler
// together) can actually perform — so the stub machine code here only needs
// to call into a fixed native trampoline with (iseq, index, ctx, branch)
// bound, which runtime.go's Runtime.HandleStub implements.
func EmitBranchStub(as *Assembler, iseq uintptr, index int, ctx Context, target *Target) *Stub {
	as.SwitchToOutlined()
	pos := as.Pos()
	as.Call(stubTrampolineAddr)
	as.SwitchToInline()

	return &Stub{Kind: StubBranch, Pos: pos, Iseq: iseq, Index: index, Ctx: ctx, Branch: target}
}

// EmitDeferredCompileStub writes a deferred-compilation stub (spec §3 kind
// 3): compiles the same (iseq, index) again, but only once the first
// execution actually reaches it, so the hit handler can inspect the live
// stack/self to pick a specialized entry Context (spec §4.3 "execution
// context... lets guards inspect the live value").
func EmitDeferredCompileStub(as *Assembler, iseq uintptr, index int, ctx Context) *Stub {
	as.SwitchToOutlined()
	pos := as.Pos()
	as.Call(stubTrampolineAddr)
	as.SwitchToInline()

	return &Stub{Kind: StubDeferredCompile, Pos: pos, Iseq: iseq, Index: index, Ctx: ctx}
}

// cfpOffsetPC is the byte offset of the PC field within a ControlFrame, a
// fixed layout constant the generated restore sequence needs. Concrete
// layout belongs to the host (hostabi), but the JIT must bake the offset
// into emitted code, so it's mirrored here as the one value both sides
// agree on.
const cfpOffsetPC = 0

// stubTrampolineAddr is the fixed native entry point every branch/deferred
// stub calls into; the real address would be supplied by the host embedder
// at Runtime construction (see Runtime.trampolineAddr) and patched into
// already-emitted stub code the same way any other call target is. This
// implementation never jumps into the generated bytes at all — the
// interpreter drives the same compile/link machinery directly through
// Runtime.ResolveIfPending/HandleStub instead of through a native call —
// so this stays bound to trampolineAddr's placeholder for the process's
// entire lifetime. Kept as a package-level variable (rather than threaded
// through every Emit* call) because it's a process-wide constant for the
// arena's entire lifetime, like the arena itself (spec §5 "process-wide
// singletons").
var stubTrampolineAddr uintptr
