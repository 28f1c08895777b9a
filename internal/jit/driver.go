package jit

import (
	"sentrajit/internal/bytecode"
)

// Driver runs spec §4.3's Block Compilation Driver: the loop that walks a
// bytecode region instruction by instruction, invoking each opcode's
// codegen and threading the Context through, producing a finished Block.
type Driver struct {
	arena    *Arena
	versions *VersionIndex
	assume   *AssumptionRegistry
	prof     *Profiler
	hooks    JITHooks
	inv      *Invalidator
}

// JITHooks narrows hostabi.HostHooks plus bytecode lookup down to what the
// Driver itself touches directly (codegens take the full hostabi.HostHooks
// via JITState; the Driver only needs to resolve an iseq's Chunk).
type JITHooks interface {
	ChunkFor(iseq uintptr) *bytecode.Chunk
}

func NewDriver(arena *Arena, versions *VersionIndex, assume *AssumptionRegistry, prof *Profiler, hooks JITHooks, inv *Invalidator) *Driver {
	return &Driver{arena: arena, versions: versions, assume: assume, prof: prof, hooks: hooks, inv: inv}
}

// CompileResult is what Compile returns: either a finished Block, or a
// CantCompile explaining why nothing was compiled (no bytecode for the
// iseq, or too little executable memory left). A codegen that refuses does
// not produce an Err: the Block compiled so far ends in a side exit at the
// refusing instruction (spec §4.3 step 5) and is indexed like any other.
type CompileResult struct {
	Block *Block
	Err   *CantCompile
}

// Compile runs the driver loop over js's (Iseq, Index) starting from
// entryCtx (spec §4.3 inputs: "bytecode, start_index, entry_context,
// execution_context"). js.LiveStack/js.LiveSelf being non-nil signals a
// deferred-compile resume, letting a guard inspect the live receiver
// (step 1's debug assertion; the real specialization decision — which
// class to guard against — is made by the opcode codegen itself, not here).
func (d *Driver) Compile(js *JITState, entryCtx Context) CompileResult {
	chunk := d.hooks.ChunkFor(js.Iseq)
	if chunk == nil {
		return CompileResult{Err: &CantCompile{Op: "<entry>", At: js.Index, Why: "no bytecode for iseq"}}
	}

	const safetyMargin = 1024
	if d.arena.I.Remaining() < safetyMargin {
		return CompileResult{Err: &CantCompile{Op: "<entry>", At: js.Index, Why: "out of executable memory"}}
	}

	js.AS.SwitchToInline()
	startPos := js.AS.Pos()

	block := &Block{
		ID:       NewBlockID(),
		Key:      BlockKey{Iseq: js.Iseq, Index: js.Index, Ctx: entryCtx},
		StartPos: startPos,
	}
	js.Block = block

	ctx := entryCtx
	pc := js.Index

	for {
		if pc >= chunk.Len() {
			break
		}
		op := bytecode.ReadOp(chunk.Code, pc)
		if !op.Valid() {
			d.emitBailout(js, pc, ctx)
			d.finishBlock(block, js, ctx)
			return CompileResult{Block: block}
		}

		codegen, ok := lookupCodegen(op)
		if !ok {
			d.emitBailout(js, pc, ctx)
			d.finishBlock(block, js, ctx)
			return CompileResult{Block: block}
		}

		operand := decodeOperand(chunk.Code, pc, op)

		js.Index = pc
		js.NextIndex = pc + bytecode.InstrLen(chunk.Code, pc)
		next, status, cc := codegen(js, ctx, operand)
		if cc != nil {
			cc.At = pc
			// spec §4.3 step 5: exit for *this* PC, not the next one —
			// the instruction that failed to compile must still be the
			// one the interpreter resumes at.
			d.emitBailout(js, pc, ctx)
			d.finishBlock(block, js, ctx)
			return CompileResult{Block: block}
		}

		ctx = next
		switch status {
		case EndBlock:
			d.finishBlock(block, js, ctx)
			return CompileResult{Block: block}
		case KeepCompiling:
			ctx.ChainDepth = 0
			pc += bytecode.InstrLen(chunk.Code, pc)
		}
	}

	d.finishBlock(block, js, ctx)
	return CompileResult{Block: block}
}

func decodeOperand(code []byte, pc int, op bytecode.OpCode) int32 {
	length := bytecode.InstrLen(code, pc)
	switch length {
	case 2:
		return int32(bytecode.ReadByteOperand(code, pc+1))
	case 3:
		return int32(bytecode.ReadShortOperand(code, pc+1))
	case 4:
		return int32(bytecode.ReadByteOperand(code, pc+1))
	default:
		return 0
	}
}

// emitBailout writes a side-exit stub that resumes the interpreter exactly
// at pc and jumps to it — the shared tail of both the CantCompile path and
// the unknown-opcode path (spec §4.3 steps 3 and 5 converge here).
func (d *Driver) emitBailout(js *JITState, pc int, ctx Context) {
	EmitSideExit(js.AS, js.Iseq, pc, ctx)
}

func (d *Driver) finishBlock(block *Block, js *JITState, exitCtx Context) {
	block.ExitCtx = exitCtx
	block.EndPos = js.AS.Pos()
	d.versions.Insert(block)
}
