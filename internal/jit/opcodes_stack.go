package jit

import "sentrajit/internal/bytecode"

func init() {
	registerCodegen(bytecode.OpDup, cgDup)
	registerCodegen(bytecode.OpSwap, cgSwap)
	registerCodegen(bytecode.OpPop, cgPop)
	registerCodegen(bytecode.OpAdjustStack, cgAdjustStack)
	registerCodegen(bytecode.OpTopN, cgTopN)
	registerCodegen(bytecode.OpSetN, cgSetN)

	registerCodegen(bytecode.OpPutNil, cgPutNil)
	registerCodegen(bytecode.OpPutSelf, cgPutSelf)
	registerCodegen(bytecode.OpPutObjectInt2Fix0, cgPutFix0)
	registerCodegen(bytecode.OpPutObjectInt2Fix1, cgPutFix1)
	registerCodegen(bytecode.OpPutObject, cgPutObject)
	registerCodegen(bytecode.OpPutString, cgPutString)

	registerCodegen(bytecode.OpGetLocalWC0, cgGetLocalWC0)
	registerCodegen(bytecode.OpGetLocalWC1, cgGetLocalWC1)
	registerCodegen(bytecode.OpSetLocalWC0, cgSetLocalWC0)
}

// --- stack manipulation (spec §4.4 "pure Context bookkeeping plus a few
// moves; preserve mappings") ---

func cgDup(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	top := ctx.StackOpnd(0)
	ty := ctx.GetOpndType(top)
	m := ctx.GetOpndMapping(top)
	ctx.stackPushMapped(ty, m)
	js.AS.Load(RegRAX, stackMem(ctx, 1))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgSwap(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	a, b := ctx.tempIndex(0), ctx.tempIndex(1)
	if a >= 0 && b >= 0 {
		ctx.Temps[a], ctx.Temps[b] = ctx.Temps[b], ctx.Temps[a]
	}
	js.AS.Load(RegRAX, stackMem(ctx, 0))
	js.AS.Load(RegRCX, stackMem(ctx, 1))
	js.AS.Store(stackMem(ctx, 0), RegRCX)
	js.AS.Store(stackMem(ctx, 1), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgPop(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	ctx.StackPop(1)
	return ctx, KeepCompiling, nil
}

func cgAdjustStack(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	ctx.StackPop(int(operand))
	return ctx, KeepCompiling, nil
}

func cgTopN(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	o := ctx.StackOpnd(int(operand))
	ty := ctx.GetOpndType(o)
	m := ctx.GetOpndMapping(o)
	ctx.stackPushMapped(ty, m)
	js.AS.Load(RegRAX, stackMem(ctx, 1+int(operand)))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgSetN(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	top := ctx.StackOpnd(0)
	ty := ctx.GetOpndType(top)
	m := ctx.GetOpndMapping(top)
	idx := ctx.tempIndex(int(operand))
	if idx >= 0 {
		ctx.Temps[idx] = temp{Type: ty, Mapping: m}
	}
	js.AS.Load(RegRAX, stackMem(ctx, 0))
	js.AS.Store(stackMem(ctx, int(operand)), RegRAX)
	return ctx, KeepCompiling, nil
}

// --- literal push (spec §4.4 "push with the precise lattice type") ---

func cgPutNil(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	ctx.StackPush(Nil)
	js.AS.MovImm(RegRAX, int64(TagNil))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgPutSelf(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	ctx.StackPushSelf()
	js.AS.Load(RegRAX, Mem{Base: RegCFP, Disp: cfpOffsetSelf})
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgPutFix0(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	return pushFixnumLiteral(js, ctx, 0)
}

func cgPutFix1(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	return pushFixnumLiteral(js, ctx, 1)
}

func pushFixnumLiteral(js *JITState, ctx Context, v int64) (Context, CodegenStatus, *CantCompile) {
	ctx.StackPush(Fixnum)
	js.AS.MovImm(RegRAX, int64(BoxFixnum(v)))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

// cgPutObject/cgPutString push a constant-pool value. The lattice type is
// conservatively Unknown here since operand is just a pool index — a real
// implementation classifies the pool entry up front at iseq-load time and
// threads that classification in; recording that as a known simplification
// rather than silently mis-typing the slot.
func cgPutObject(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	ctx.StackPush(Unknown)
	js.AS.Load(RegRAX, constPoolMem(operand))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgPutString(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	ctx.StackPush(String)
	js.AS.Load(RegRAX, constPoolMem(operand))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

// --- local access (spec §4.4 "walk up level environment pointers...") ---

func cgGetLocalWC0(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	i := int(operand)
	ctx.StackPushLocal(i)
	js.AS.Load(RegRAX, localMem(i))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

// cgGetLocalWC1 follows exactly one environment-parent link before reading
// the local — level 1 instead of level 0. The parent pointer's tag bits
// must be masked off before dereferencing (spec: "following the
// environment-parent slot with its tag bits masked off").
func cgGetLocalWC1(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	i := int(operand)
	// Level >0 locals don't alias anything the Context tracks (they live in
	// an outer frame this block doesn't model), so the pushed slot is a
	// plain Stack/Unknown rather than a Local(i) alias of *this* frame.
	ctx.StackPush(Unknown)
	js.AS.Load(RegRCX, Mem{Base: RegCFP, Disp: cfpOffsetEP})
	js.AS.AndImm(RegRCX, ^int64(0x7)) // mask env-pointer tag bits
	js.AS.Load(RegRAX, Mem{Base: RegRCX, Disp: int32(-(i + 1) * 8)})
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

// cgSetLocalWC0 must side-exit if the environment's write-barrier-required
// flag is set (spec §4.4) — emitted as a guard against the generic slow
// path rather than specialized further, since the barrier itself is the
// host GC's concern (out of scope, spec §1).
func cgSetLocalWC0(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	i := int(operand)
	top := ctx.StackOpnd(0)
	ty := ctx.GetOpndType(top)

	js.AS.Load(RegRCX, Mem{Base: RegCFP, Disp: cfpOffsetEnvFlags})
	js.AS.TestImm(RegRCX, envFlagWriteBarrier)
	js.AS.Jcc(CondNotZero, Label("__side_exit"))

	js.AS.Load(RegRAX, stackMem(ctx, 0))
	js.AS.Store(localMem(i), RegRAX)

	ctx.StackPop(1)
	ctx.SetLocalType(i, ty)
	return ctx, KeepCompiling, nil
}

// --- fixed layout offsets shared by the opcode codegens ---

const (
	cfpOffsetSelf     int32 = 8
	cfpOffsetEP       int32 = 16
	cfpOffsetEnvFlags int32 = 24

	envFlagWriteBarrier int64 = 1
)

func stackMem(ctx Context, fromTop int) Mem {
	return Mem{Base: RegSP, Disp: int32(-8 * (fromTop + 1 - ctx.SPOffset))}
}

func localMem(i int) Mem {
	return Mem{Base: RegCFPCache, Disp: int32(-8 * (i + 1))}
}

func constPoolMem(poolIndex int32) Mem {
	return Mem{Base: RegCFPCache, Disp: poolIndex}
}
