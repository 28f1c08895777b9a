package jit

// Invalidator owns the process-wide machinery spec §4.8's Invalidate and
// §4.9's tracing protocol both bottom out in: removing a block from the
// version index, rewriting every inbound branch to an exit stub, and
// (for tracing) raising the frozen watermark so the patched region can
// never be written again.
type Invalidator struct {
	arena   *Arena
	as      *Assembler
	index   *VersionIndex
	assume  *AssumptionRegistry
	patches []patchPoint
}

// patchPoint is a boundary patch point recorded while compiling a block
// (spec §4.9 step 3): an inline-arena position that might need to become an
// unconditional jump to an outlined exit stub if tracing is ever enabled.
// Only C-function calls record one (emitCFuncDispatch); iseq calls and other
// PC-saving points record none.
type patchPoint struct {
	block      *Block
	inlinePos  int
	exitStub   int // position in O
}

func NewInvalidator(arena *Arena, as *Assembler, index *VersionIndex, assume *AssumptionRegistry) *Invalidator {
	return &Invalidator{arena: arena, as: as, index: index, assume: assume}
}

// RecordPatchPoint registers a boundary patch point for block at the
// current inline position, pairing it with an exit stub already written
// into O (the per-opcode codegen is responsible for emitting that stub
// alongside the call it guards, same as any other side exit).
func (inv *Invalidator) RecordPatchPoint(block *Block, inlinePos, exitStub int) {
	inv.patches = append(inv.patches, patchPoint{block: block, inlinePos: inlinePos, exitStub: exitStub})
}

// InvalidateBlock performs spec §4.8's three invalidation steps for one
// block: remove it from the version index so no new edge can target it,
// rewrite every incoming branch to jump to an exit stub instead, and leak
// its arena bytes (never reused — other threads may still be executing
// inside it; spec explicitly calls for leaking "until quiescent", and this
// implementation never reclaims the bytes at all, the simplest safe
// instance of that rule).
func (inv *Invalidator) InvalidateBlock(block *Block) {
	inv.index.Remove(block)

	for _, branch := range block.Incoming {
		stub := EmitSideExit(inv.as, block.Key.Iseq, block.Key.Index, branch.Ctx)
		for _, t := range branch.Targets {
			if t.Block == block {
				inv.as.PatchJumpTarget(t.JumpPos, stub.Pos, t.JumpInline)
				t.Block = nil
				t.Stub = stub
			}
		}
	}
	block.Incoming = nil
}

// EnableTracing runs spec §4.9's full protocol: every live block version is
// unlinked, every recorded boundary patch point becomes an unconditional
// jump to its paired exit stub, and the inline arena's frozen watermark is
// raised past every patched byte. Callers must hold the VM lock (spec §5)
// before calling this — Invalidator does not take it itself, since the lock
// is the host's, not the JIT's.
func (inv *Invalidator) EnableTracing(allBlocks []*Block) {
	for _, b := range allBlocks {
		inv.InvalidateBlock(b)
	}
	for _, p := range inv.patches {
		inv.as.PatchJumpTarget(p.inlinePos, p.exitStub, true)
	}
	inv.arena.I.Freeze()
	inv.patches = nil
}
