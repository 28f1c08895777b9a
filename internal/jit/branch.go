package jit

// BranchKind distinguishes the three shapes spec §3 lists for how a block
// can end.
type BranchKind uint8

const (
	BranchJump     BranchKind = iota // unconditional continuation
	BranchCond                       // two-way (taken/not-taken), e.g. branchif
	BranchSideExit                   // no continuation inside the JIT; returns to the interpreter
)

// Target is one outgoing edge of a Branch: either a concrete Block this
// branch has been linked to, or (until then) a Stub the JIT jumps to and
// which compiles the real target lazily on first hit (spec §3 "Branch...
// branches with lazy stub targets and post-link patching").
type Target struct {
	Block *Block // nil until linked
	Stub  *Stub  // the lazy placeholder; non-nil until Block is set

	// JumpPos/JumpInline locate the machine-code jump instruction this
	// target's address lives in, so re-linking can patch it in place
	// (spec: "post-link patching").
	JumpPos    int
	JumpInline bool
}

// Branch is the outgoing-edge set of a Block: one Target for BranchJump and
// BranchSideExit, two (taken + not-taken) for BranchCond.
type Branch struct {
	Kind BranchKind
	From *Block

	// Ctx is the Context live at this branch point — what any Stub hit
	// through this branch will compile its target against (spec §3
	// "Stub... hit handlers recompile and re-link").
	Ctx Context

	Targets []*Target
}

// IsLinked reports whether every target of b already points at a compiled
// Block (no Stub left to resolve).
func (b *Branch) IsLinked() bool {
	for _, t := range b.Targets {
		if t.Block == nil {
			return false
		}
	}
	return true
}

// Link points target at block, clearing its Stub and patching the jump
// instruction in the arena to the block's entry (spec: "patches the branch
// to target the new block directly"). asm is needed to perform the patch;
// it may be nil in tests that only check bookkeeping.
func (b *Branch) Link(t *Target, block *Block, as *Assembler) {
	t.Block = block
	t.Stub = nil
	block.Incoming = append(block.Incoming, b)
	if as != nil {
		as.PatchJumpTarget(t.JumpPos, block.StartPos, t.JumpInline)
	}
}

// Unlink removes block from every target of b that currently points at it,
// restoring a fresh Stub in its place — called by the Invalidation Engine
// when block is torn down (spec §4.9 "unlinks blocks").
func (b *Branch) Unlink(block *Block, newStub func() *Stub) {
	for _, t := range b.Targets {
		if t.Block == block {
			t.Block = nil
			t.Stub = newStub()
			for i, inc := range block.Incoming {
				if inc == b {
					block.Incoming = append(block.Incoming[:i], block.Incoming[i+1:]...)
					break
				}
			}
		}
	}
}
