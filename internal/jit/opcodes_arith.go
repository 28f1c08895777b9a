package jit

import "sentrajit/internal/bytecode"

func init() {
	registerCodegen(bytecode.OpOptPlus, cgOptPlus)
	registerCodegen(bytecode.OpOptMinus, cgOptMinus)
	registerCodegen(bytecode.OpOptLt, fixnumCompare(CondGE))  // jump-away-on-miss is "not <"
	registerCodegen(bytecode.OpOptLe, fixnumCompare(CondGT))
	registerCodegen(bytecode.OpOptGt, fixnumCompare(CondLE))
	registerCodegen(bytecode.OpOptGe, fixnumCompare(CondLT))
	registerCodegen(bytecode.OpOptAnd, cgOptAnd)
	registerCodegen(bytecode.OpOptOr, cgOptOr)
	registerCodegen(bytecode.OpOptAref, cgOptAref)
	registerCodegen(bytecode.OpOptEq, cgOptEq)
	registerCodegen(bytecode.OpOptNeq, cgOptNeq)
}

// guardBothFixnum emits the two-operand fixnum tag guard every opt_* binary
// op needs (spec §4.4: "guard both operands are tagged fixnums (side-exit
// otherwise)"), and registers BasicOpNotRedefined for op on Integer (spec:
// "every such opcode is gated by BasicOpNotRedefined on the relevant
// operator for the Integer class").
func guardBothFixnum(js *JITState, ctx Context, op string) Context {
	lhs, rhs := ctx.StackOpnd(1), ctx.StackOpnd(0)

	js.AS.Load(RegRAX, stackMem(ctx, 1))
	js.AS.AndImm(RegRAX, tagBitsImm)
	js.AS.CmpImm(RegRAX, int64(TagFixnum))
	js.AS.Jcc(CondNE, Label("__side_exit"))
	js.AS.Load(RegRCX, stackMem(ctx, 0))
	js.AS.AndImm(RegRCX, tagBitsImm)
	js.AS.CmpImm(RegRCX, int64(TagFixnum))
	js.AS.Jcc(CondNE, Label("__side_exit"))

	ctx.UpgradeOpndType(lhs, Fixnum)
	ctx.UpgradeOpndType(rhs, Fixnum)

	js.Assume.Assume(BasicOpNotRedefinedSubject(integerClassID, op), js.Block)
	return ctx
}

const integerClassID uint64 = 2 // well-known class id the host assigns Integer; fixed by convention at runtime wiring

// tagBitsImm is tagMask (the top 16 bits) as a signed immediate.
const tagBitsImm int64 = ^int64(0) << 48

func cgOptPlus(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	ctx = guardBothFixnum(js, ctx, "+")
	// Untag-free trick: since both operands carry the same fixnum tag in
	// their low bits, add then subtract the tag once (spec: "subtract-then-
	// add-one for +" on the standard Ruby fixnum encoding; this codebase's
	// NaN-boxed encoding instead keeps the full tag in the top 16 bits, so
	// the equivalent move is: add the payloads, then re-OR the shared tag).
	js.AS.Load(RegRAX, stackMem(ctx, 1))
	js.AS.Load(RegRCX, stackMem(ctx, 0))
	js.AS.AddOverflow(RegRAX, RegRCX)
	js.AS.Jcc(CondOverflow, Label("__side_exit"))
	ctx.StackPop(2)
	ctx.StackPush(Fixnum)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgOptMinus(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	ctx = guardBothFixnum(js, ctx, "-")
	js.AS.Load(RegRAX, stackMem(ctx, 1))
	js.AS.Load(RegRCX, stackMem(ctx, 0))
	js.AS.SubOverflow(RegRAX, RegRCX)
	js.AS.Jcc(CondOverflow, Label("__side_exit"))
	ctx.StackPop(2)
	ctx.StackPush(Fixnum)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgOptAnd(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	ctx = guardBothFixnum(js, ctx, "&")
	js.AS.Load(RegRAX, stackMem(ctx, 1))
	js.AS.Load(RegRCX, stackMem(ctx, 0))
	js.AS.And(RegRAX, RegRCX)
	ctx.StackPop(2)
	ctx.StackPush(Fixnum)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgOptOr(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	ctx = guardBothFixnum(js, ctx, "|")
	js.AS.Load(RegRAX, stackMem(ctx, 1))
	js.AS.Load(RegRCX, stackMem(ctx, 0))
	js.AS.Or(RegRAX, RegRCX)
	ctx.StackPop(2)
	ctx.StackPush(Fixnum)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

// fixnumCompare returns a codegen for one of opt_lt/le/gt/ge: missCond is
// the condition that fires when the comparison is FALSE (so the generated
// jcc jumping on missCond computes the right truth value via a cmov rather
// than needing a separate branch per opcode).
func fixnumCompare(missCond Cond) Codegen {
	return func(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
		ctx = guardBothFixnum(js, ctx, "<=>")
		js.AS.Load(RegRAX, stackMem(ctx, 1))
		js.AS.Load(RegRCX, stackMem(ctx, 0))
		js.AS.Cmp(RegRAX, RegRCX)
		js.AS.MovImm(RegRAX, int64(TagTrue))
		js.AS.MovImm(RegRCX, int64(TagFalse))
		js.AS.Cmov(missCond, RegRAX, RegRCX)
		ctx.StackPop(2)
		ctx.StackPush(Unknown) // boolean result: join(True,False) — no single refined type
		js.AS.Store(stackMem(ctx, 0), RegRAX)
		return ctx, KeepCompiling, nil
	}
}

// cgOptAref specializes opt_aref for Array+fixnum-index and Hash receivers
// (spec §4.4), with a depth-2 polymorphic guard chain across receiver
// classes; anything else falls back to a full method dispatch via
// opt_send_without_block's codegen.
func cgOptAref(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	recv := ctx.StackOpnd(1)
	recvTy := ctx.GetOpndType(recv)

	missTarget := &Target{}
	switch recvTy {
	case Array:
		idx := ctx.StackOpnd(0)
		if !IsSubtype(ctx.GetOpndType(idx), Fixnum) {
			return ctx, CodegenCantCompile, &CantCompile{Op: "opt_aref", Why: "index not known fixnum"}
		}
		spec := GuardSpec{Kind: GuardGenericClass, RefinesTo: Array}
		ctx = EmitClassGuard(js.AS, recv, spec, ctx, ChainCapOptAref, js.Iseq, js.Index, missTarget)

		js.AS.Load(RegRAX, stackMem(ctx, 1))
		js.AS.Load(RegRCX, stackMem(ctx, 0))
		js.AS.Call(hostHelperAddr("array_entry"))
		ctx.StackPop(2)
		ctx.StackPush(Unknown)
		js.AS.Store(stackMem(ctx, 0), RegRAX)
		return ctx, KeepCompiling, nil

	case HashT:
		spec := GuardSpec{Kind: GuardGenericClass, RefinesTo: HashT}
		ctx = EmitClassGuard(js.AS, recv, spec, ctx, ChainCapOptAref, js.Iseq, js.Index, missTarget)

		// User-defined hash may run: save PC/SP first (spec: "saving PC/SP
		// because user-defined hash may run").
		js.AS.MovImm(RegRAX, int64(js.Index))
		js.AS.Store(Mem{Base: RegCFP, Disp: cfpOffsetPC}, RegRAX)

		js.AS.Load(RegRAX, stackMem(ctx, 1))
		js.AS.Load(RegRCX, stackMem(ctx, 0))
		js.AS.Call(hostHelperAddr("hash_aref"))
		ctx.StackPop(2)
		ctx.StackPush(Unknown)
		js.AS.Store(stackMem(ctx, 0), RegRAX)
		return ctx, KeepCompiling, nil

	default:
		return cgOptSendWithoutBlock(js, ctx, operand)
	}
}

// cgOptEq/cgOptNeq specialize two-fixnum and two-string; anything else
// delegates to a full dispatch (spec §4.4).
func cgOptEq(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	return optEqImpl(js, ctx, operand, false)
}

func cgOptNeq(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	return optEqImpl(js, ctx, operand, true)
}

func optEqImpl(js *JITState, ctx Context, operand int32, negate bool) (Context, CodegenStatus, *CantCompile) {
	lhsTy := ctx.GetOpndType(ctx.StackOpnd(1))
	rhsTy := ctx.GetOpndType(ctx.StackOpnd(0))

	trueVal, falseVal := int64(TagTrue), int64(TagFalse)
	if negate {
		trueVal, falseVal = falseVal, trueVal
	}

	switch {
	case IsSubtype(lhsTy, Fixnum) && IsSubtype(rhsTy, Fixnum):
		js.AS.Load(RegRAX, stackMem(ctx, 1))
		js.AS.Load(RegRCX, stackMem(ctx, 0))
		js.AS.Cmp(RegRAX, RegRCX)
		js.AS.MovImm(RegRAX, trueVal)
		js.AS.MovImm(RegRCX, falseVal)
		js.AS.Cmov(CondNE, RegRAX, RegRCX)
	case IsSubtype(lhsTy, String) && IsSubtype(rhsTy, String):
		js.AS.Load(RegRAX, stackMem(ctx, 1))
		js.AS.Load(RegRCX, stackMem(ctx, 0))
		js.AS.Call(hostHelperAddr("str_eql"))
		js.AS.MovImm(RegRCX, falseVal)
		js.AS.Cmov(CondZero, RegRAX, RegRCX)
	default:
		return cgOptSendWithoutBlock(js, ctx, operand)
	}

	ctx.StackPop(2)
	ctx.StackPush(Unknown)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}
