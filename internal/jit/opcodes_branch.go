package jit

import "sentrajit/internal/bytecode"

func init() {
	registerCodegen(bytecode.OpBranchIf, branchCodegen(branchTrue))
	registerCodegen(bytecode.OpBranchUnless, branchCodegen(branchFalseOrNil))
	registerCodegen(bytecode.OpBranchNil, branchCodegen(branchNilOnly))
	registerCodegen(bytecode.OpJump, cgJump)
	registerCodegen(bytecode.OpLeave, cgLeave)
}

type branchPredicate uint8

const (
	branchTrue branchPredicate = iota
	branchFalseOrNil
	branchNilOnly
)

// branchCodegen implements spec §4.4's branchif/branchunless/branchnil
// family: pop one slot, compare against the truthy/nil bitmask, emit a
// two-target branch via the branch machinery. Backward branches (negative
// operand) additionally get an interrupt check (spec: "For backward
// branches... emit an interrupt check that side-exits if any interrupt
// flag is set"). A conditional branch always ends the current block
// version — both successors are reached through the stub machinery, never
// inline fallthrough, so the Driver can stop walking bytecode here.
func branchCodegen(pred branchPredicate) Codegen {
	return func(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
		ctx.StackPop(1)
		js.AS.Load(RegRAX, stackMem(ctx, -1))

		if operand < 0 {
			js.AS.Load(RegRCX, Mem{Base: RegEC, Disp: ecOffsetInterruptFlag})
			js.AS.Test(RegRCX, RegRCX)
			js.AS.Jcc(CondNotZero, Label("__side_exit"))
		}

		switch pred {
		case branchTrue, branchFalseOrNil:
			js.AS.AndImm(RegRAX, falsyMask)
			js.AS.CmpImm(RegRAX, int64(TagNil))
		case branchNilOnly:
			js.AS.CmpImm(RegRAX, int64(TagNil))
		}

		branch := &Branch{Kind: BranchCond, From: js.Block, Ctx: ctx}

		takenIndex := js.Index + int(operand)
		fallIndex := js.NextIndex

		takenTarget := &Target{}
		fallTarget := &Target{}
		branch.Targets = []*Target{takenTarget, fallTarget}

		takenJumpPos := js.AS.Pos()
		js.AS.Jcc(branchCond(pred), Label("__branch_taken"))
		takenTarget.JumpPos, takenTarget.JumpInline = takenJumpPos, true
		takenTarget.Stub = EmitBranchStub(js.AS, js.Iseq, takenIndex, ctx, takenTarget)

		fallJumpPos := js.AS.Pos()
		js.AS.Jmp(Label("__branch_fallthrough"))
		fallTarget.JumpPos, fallTarget.JumpInline = fallJumpPos, true
		fallTarget.Stub = EmitBranchStub(js.AS, js.Iseq, fallIndex, ctx, fallTarget)

		js.Block.Branches = append(js.Block.Branches, branch)
		return ctx, EndBlock, nil
	}
}

func branchCond(pred branchPredicate) Cond {
	switch pred {
	case branchTrue:
		return CondNE // taken means "truthy", i.e. the masked value is not TagNil
	case branchFalseOrNil:
		return CondZero // taken means "falsy": the masked value equals TagNil
	default:
		return CondEQ // branchnil: taken means "is nil"
	}
}

func cgJump(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	if operand < 0 {
		js.AS.Load(RegRCX, Mem{Base: RegEC, Disp: ecOffsetInterruptFlag})
		js.AS.Test(RegRCX, RegRCX)
		js.AS.Jcc(CondNotZero, Label("__side_exit"))
	}

	branch := &Branch{Kind: BranchJump, From: js.Block, Ctx: ctx}
	target := &Target{}
	target.JumpPos, target.JumpInline = js.AS.Pos(), true
	js.AS.Jmp(Label("__jump_target"))
	target.Stub = EmitBranchStub(js.AS, js.Iseq, js.Index+int(operand), ctx, target)
	branch.Targets = []*Target{target}
	js.Block.Branches = append(js.Block.Branches, branch)

	return ctx, EndBlock, nil
}

// cgLeave implements spec §4.4's method return: assert stack_size == 1,
// check interrupts, pop the return value, decrement the CFP, write the
// return value at the caller's SP top, jump to the caller's jit_return
// address.
func cgLeave(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	if ctx.StackSize != 1 {
		Invariant("leave with stack_size=%d, expected 1", ctx.StackSize)
	}

	js.AS.Load(RegRCX, Mem{Base: RegEC, Disp: ecOffsetInterruptFlag})
	js.AS.Test(RegRCX, RegRCX)
	js.AS.Jcc(CondNotZero, Label("__side_exit"))

	js.AS.Load(RegRAX, stackMem(ctx, 0))
	ctx.StackPop(1)

	js.AS.Load(RegRCX, Mem{Base: RegCFP, Disp: cfpOffsetJITReturn})
	js.AS.AddOverflow(RegCFP, RegRCX) // advance CFP by one frame (pointer bump)

	js.AS.JmpReg(RegRCX) // tail-jump to the caller's jit_return address, now held in RCX
	return ctx, EndBlock, nil
}

const (
	ecOffsetInterruptFlag int32 = 8
	cfpOffsetJITReturn    int32 = 48

	falsyMask int64 = ^int64(1) // nil and false differ only in bit 0; masking it maps both to TagNil
)
