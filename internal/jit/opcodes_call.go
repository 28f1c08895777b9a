package jit

import (
	"sentrajit/internal/bytecode"
	"sentrajit/internal/hostabi"
)

func init() {
	registerCodegen(bytecode.OpSend, cgSend)
	registerCodegen(bytecode.OpOptSendWithoutBlock, cgOptSendWithoutBlock)
	registerCodegen(bytecode.OpInvokeSuper, cgInvokeSuper)
}

func cgSend(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	return dispatchCommon(js, ctx, operand, false)
}

func cgOptSendWithoutBlock(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	return dispatchCommon(js, ctx, operand, false)
}

// cgInvokeSuper plans the call against the receiver's class, like send, and
// registers two MethodLookupStable assumptions instead of one: on that class
// and on the resolved method's defined class (spec §4.5 "Super call"). It
// does not detect refinement iclasses, a mutated environment method entry, or
// an implicitly forwarded block, and does not refuse in those cases.
func cgInvokeSuper(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	ci, ok := callInfoForOperand(operand)
	if !ok {
		return ctx, CodegenCantCompile, &CantCompile{Op: "invokesuper", Why: "no call info for operand"}
	}
	recv := ctx.StackOpnd(int(ci.Argc))
	class, known := classFromContext(js, ctx, recv)
	if !known {
		js.Block.DeferredStub = EmitDeferredCompileStub(js.AS, js.Iseq, js.Index, ctx)
		return ctx, EndBlock, nil
	}

	plan, cc := PlanDispatch(ci, class, js.Hooks)
	if cc != nil {
		cc.Op = "invokesuper"
		return ctx, CodegenCantCompile, cc
	}

	js.Assume.Assume(MethodLookupStableSubject(uint64(plan.Class), ci.MID), js.Block)
	js.Assume.Assume(MethodLookupStableSubject(uint64(plan.Method.DefinedClass), ci.MID), js.Block)

	return emitDispatch(js, ctx, ci, plan)
}

func dispatchCommon(js *JITState, ctx Context, operand int32, withBlock bool) (Context, CodegenStatus, *CantCompile) {
	ci, ok := callInfoForOperand(operand)
	if !ok {
		return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: "no call info for operand"}
	}
	if !ci.Simple() {
		return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: string(RefuseComplexArgs)}
	}

	recv := ctx.StackOpnd(int(ci.Argc))
	class, known := classFromContext(js, ctx, recv)
	if !known {
		// Receiver class unknown: this must be the first compile of this
		// call site. Defer so the stub's hit handler observes the live
		// receiver (spec §4.5 step 2).
		js.Block.DeferredStub = EmitDeferredCompileStub(js.AS, js.Iseq, js.Index, ctx)
		return ctx, EndBlock, nil
	}

	plan, cc := PlanDispatch(ci, class, js.Hooks)
	if cc != nil {
		return ctx, CodegenCantCompile, cc
	}

	missTarget := &Target{}
	guardSpec := GuardSpec{Kind: GuardGenericClass, Class: uint64(plan.Class), RefinesTo: HeapGeneric}
	ctx = EmitClassGuard(js.AS, recv, guardSpec, ctx, ChainCapSend, js.Iseq, js.Index, missTarget)

	js.Assume.Assume(MethodLookupStableSubject(uint64(plan.Class), ci.MID), js.Block)

	if plan.NeedsVisibilityGuard {
		js.AS.Load(RegRAX, stackMem(ctx, int(ci.Argc)))
		js.AS.Call(hostHelperAddr("kind_of_defining_class"))
		js.AS.TestImm(RegRAX, 1)
		js.AS.Jcc(CondZero, Label("__side_exit"))
	}

	return emitDispatch(js, ctx, ci, plan)
}

func emitDispatch(js *JITState, ctx Context, ci hostabi.CallInfo, plan *DispatchPlan) (Context, CodegenStatus, *CantCompile) {
	switch plan.Kind {
	case hostabi.MethodIvarGetter:
		return emitIvarGetterDispatch(js, ctx, ci, plan)
	case hostabi.MethodCFunc:
		return emitCFuncDispatch(js, ctx, ci, plan)
	case hostabi.MethodISeq:
		return emitISeqDispatch(js, ctx, ci, plan)
	default:
		return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: string(RefuseEntryKind)}
	}
}

func emitIvarGetterDispatch(js *JITState, ctx Context, ci hostabi.CallInfo, plan *DispatchPlan) (Context, CodegenStatus, *CantCompile) {
	js.AS.Load(RegRAX, stackMem(ctx, int(ci.Argc)))
	js.AS.Call(hostHelperAddr("ivar_get"))
	ctx.StackPop(int(ci.Argc) + 1)
	ctx.StackPush(Unknown)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

// emitCFuncDispatch emits a reduced form of spec §4.5's C-function call:
// arity check (or a registered specialized codegen), PC save, the call with
// the receiver loaded into RAX, a patch point for the tracing invalidation
// path, push the result, clear caller local types. It emits no stack-overflow
// check, allocates and pops no callee frame, and passes no arguments beyond
// the receiver.
func emitCFuncDispatch(js *JITState, ctx Context, ci hostabi.CallInfo, plan *DispatchPlan) (Context, CodegenStatus, *CantCompile) {
	arity := plan.Method.CFunc.Arity
	if arity >= 0 && arity != ci.Argc {
		return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: string(RefuseArity)}
	}
	if arity < -1 {
		return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: string(RefuseArity)}
	}

	if plan.Method.CFunc.SpecializedCodegen != "" {
		if fn, ok := specializedCFuncs[plan.Method.CFunc.SpecializedCodegen]; ok {
			return fn(js, ctx, ci)
		}
	}

	js.AS.MovImm(RegRAX, int64(js.Index))
	js.AS.Store(Mem{Base: RegCFP, Disp: cfpOffsetPC}, RegRAX)

	js.AS.Load(RegRAX, stackMem(ctx, int(ci.Argc)))
	js.AS.Call(plan.Method.CFunc.Addr)

	patchPos := js.AS.Pos()
	exitStub := EmitSideExit(js.AS, js.Iseq, js.NextIndex, ctx)
	js.Inv.RecordPatchPoint(js.Block, patchPos, exitStub.Pos)

	ctx.StackPop(ci.Argc + 1)
	ctx.StackPush(Unknown)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	ctx.ClearLocalTypes()
	return ctx, KeepCompiling, nil
}

// emitISeqDispatch implements spec §4.5's interpreted-method-call shape for
// the two supported arity regimes (exact, lead+optional); anything else
// refuses. Builtin inlining (spec "Builtin inlining") is checked first
// since it skips frame construction entirely.
func emitISeqDispatch(js *JITState, ctx Context, ci hostabi.CallInfo, plan *DispatchPlan) (Context, CodegenStatus, *CantCompile) {
	iseq := plan.Method.ISeq
	if iseq == nil {
		return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: "missing iseq body"}
	}

	if CanInlineBuiltin(iseq, ci.Flags&hostabi.CIFlagArgsBlockarg != 0, 4) {
		js.AS.Load(RegRAX, stackMem(ctx, int(ci.Argc)))
		js.AS.Call(iseq.BuiltinFn)
		ctx.StackPop(ci.Argc + 1)
		ctx.StackPush(Unknown)
		js.AS.Store(stackMem(ctx, 0), RegRAX)
		return ctx, KeepCompiling, nil
	}

	regime := ClassifyArity(iseq.Param)
	switch regime {
	case ArityExact:
		if ci.Argc != iseq.Param.Lead {
			return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: string(RefuseArity)}
		}
	case ArityLeadOptional:
		if _, ok := OptEntryPC(iseq, ci.Argc); !ok {
			return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: string(RefuseArity)}
		}
	default:
		return ctx, CodegenCantCompile, &CantCompile{Op: "send", Why: string(RefuseParamFlags)}
	}

	js.AS.Load(RegRCX, Mem{Base: RegCFP, Disp: cfpOffsetStackMax})
	js.AS.Cmp(RegCFP, RegSP)
	js.AS.Jcc(CondLE, Label("__side_exit")) // stack-overflow check

	js.AS.MovImm(RegRAX, int64(js.NextIndex))
	js.AS.Store(Mem{Base: RegCFP, Disp: cfpOffsetPC}, RegRAX)

	js.AS.SubOverflow(RegCFP, RegRCX) // allocate new control frame (decrement CFP)

	for i := ci.Argc; i < iseq.LocalTableSize; i++ {
		js.AS.MovImm(RegRAX, int64(TagNil))
		js.AS.Store(localMem(i), RegRAX)
	}

	returnBranch := &Branch{Kind: BranchJump, From: js.Block, Ctx: ctx}
	returnTarget := &Target{}
	returnTarget.JumpPos, returnTarget.JumpInline = js.AS.Pos(), true
	js.AS.Store(Mem{Base: RegCFP, Disp: cfpOffsetJITReturn}, RegRAX)
	returnCtx := ctx
	returnCtx.StackPop(ci.Argc + 1)
	returnCtx.StackPush(Unknown)
	returnTarget.Stub = EmitBranchStub(js.AS, js.Iseq, js.NextIndex, returnCtx, returnTarget)
	returnBranch.Targets = []*Target{returnTarget}
	js.Block.Branches = append(js.Block.Branches, returnBranch)

	ctx.ClearLocalTypes()

	calleeCtx := NewContext()
	for i := 0; i < ci.Argc && i < MaxLocals; i++ {
		calleeCtx.Locals[i] = ctx.GetOpndType(ctx.StackOpnd(ci.Argc - 1 - i))
	}
	calleeCtx.SelfType = ctx.GetOpndType(ctx.StackOpnd(ci.Argc))

	// EmitBranchStub's iseq identity is the opaque handle BlockKey/VersionIndex
	// key on, which hostabi.MethodEntry.ISeq (a *hostabi.Iseq, not a handle)
	// doesn't carry — js.Iseq stands in until hostabi grows a handle lookup,
	// a known gap recorded in DESIGN.md rather than silently papered over.
	calleeTarget := &Target{}
	calleeTarget.Stub = EmitBranchStub(js.AS, js.Iseq, calleeEntryIndex(iseq, ci.Argc), calleeCtx, calleeTarget)
	calleeBranch := &Branch{Kind: BranchJump, From: js.Block, Ctx: calleeCtx, Targets: []*Target{calleeTarget}}
	js.Block.Branches = append(js.Block.Branches, calleeBranch)

	return ctx, EndBlock, nil
}

func calleeEntryIndex(iseq *hostabi.Iseq, argc int) int {
	if pc, ok := OptEntryPC(iseq, argc); ok {
		return pc
	}
	return 0
}

// specializedCFuncs holds the registered per-C-method codegens, keyed by
// CFunc.SpecializedCodegen: BasicObject#! and NilClass#nil? (spec §4.5).
// Each is deliberately tiny: a guard-free inline implementation that skips
// the generic C-call path entirely.
var specializedCFuncs = map[string]func(*JITState, Context, hostabi.CallInfo) (Context, CodegenStatus, *CantCompile){
	"BasicObject#!": func(js *JITState, ctx Context, ci hostabi.CallInfo) (Context, CodegenStatus, *CantCompile) {
		js.AS.Load(RegRAX, stackMem(ctx, 0))
		js.AS.CmpImm(RegRAX, int64(TagFalse))
		js.AS.MovImm(RegRAX, int64(TagTrue))
		js.AS.MovImm(RegRCX, int64(TagFalse))
		js.AS.Cmov(CondNE, RegRAX, RegRCX)
		ctx.StackPop(1)
		ctx.StackPush(Unknown)
		js.AS.Store(stackMem(ctx, 0), RegRAX)
		return ctx, KeepCompiling, nil
	},
	"NilClass#nil?": func(js *JITState, ctx Context, ci hostabi.CallInfo) (Context, CodegenStatus, *CantCompile) {
		ctx.StackPop(1)
		ctx.StackPush(True)
		js.AS.MovImm(RegRAX, int64(TagTrue))
		js.AS.Store(stackMem(ctx, 0), RegRAX)
		return ctx, KeepCompiling, nil
	},
}

// callInfoForOperand looks operand up in callInfoTable; ok is false when the
// table has no entry for it.
func callInfoForOperand(operand int32) (hostabi.CallInfo, bool) {
	if operand < 0 || int(operand) >= len(callInfoTable) {
		return hostabi.CallInfo{}, false
	}
	return callInfoTable[int(operand)], true
}

// callInfoTable is indexed by the send-family operand, a pool index into
// call-site metadata the host owns (spec §6's callinfo), same pattern as
// ivarNameTable. Nothing in this tree fills it, so the send-family codegens
// find no entry and refuse with CantCompile.
var callInfoTable []hostabi.CallInfo

// classFromContext resolves recv's class without ever assuming the
// receiver is self (a call's receiver and self agree only in the `x.foo`
// inside `def foo; self.bar; end` case, not generally — spec §4.5's "the
// class comes from either a live execution_context... or the Context's
// self/recv type"). Two sources, tried in order:
//
//  1. ctx's tracked type for recv, when it pins down a built-in immediate
//     class (Fixnum/Flonum/Nil/True/False/StaticSymbol) — every value with
//     that tag shares the same class, so no live sample is needed at all.
//  2. the live receiver value itself, read out of js.LiveStack at recv's
//     tracked stack position, on a deferred-compile resume (spec §4.3
//     step 1's "lets guards inspect the live value").
//
// Reports ok=false when neither source pins the class down (an
// unspecialized heap type on a non-deferred compile), so the caller can
// fall back to a deferred-compile stub instead of guarding garbage.
func classFromContext(js *JITState, ctx Context, recv Opnd) (hostabi.ClassID, bool) {
	if sample, ok := canonicalImmediate(ctx.GetOpndType(recv)); ok {
		return hostabi.ClassID(js.Hooks.ClassOf(uint64(sample))), true
	}
	if live, ok := liveValueForOpnd(ctx, js.LiveStack, recv); ok {
		return hostabi.ClassID(js.Hooks.ClassOf(uint64(live))), true
	}
	return 0, false
}

// canonicalImmediate returns a representative HostValue for an immediate
// ValueType — any value with that tag has the same class, so the specific
// payload (e.g. which Fixnum) never matters for a ClassOf lookup.
func canonicalImmediate(t ValueType) (HostValue, bool) {
	switch t {
	case Nil:
		return TagNil, true
	case True:
		return TagTrue, true
	case False:
		return TagFalse, true
	case Fixnum:
		return BoxFixnum(0), true
	case Flonum:
		return BoxFlonum(0), true
	case StaticSymbol:
		return TagSymbol, true
	default:
		return 0, false
	}
}

// liveValueForOpnd maps a Context-tracked operand back to its live value in
// a deferred-compile resume's stack snapshot. o.Idx indexes Context.Temps,
// where MaxTemps-1 is the current top of stack; the same distance-from-top
// locates the matching entry in the interpreter's live stack slice.
func liveValueForOpnd(ctx Context, stack []HostValue, o Opnd) (HostValue, bool) {
	if stack == nil || o.Idx < 0 || o.Idx >= MaxTemps {
		return 0, false
	}
	distance := (MaxTemps - 1) - o.Idx
	pos := len(stack) - 1 - distance
	if pos < 0 || pos >= len(stack) {
		return 0, false
	}
	return stack[pos], true
}

const cfpOffsetStackMax int32 = 56
