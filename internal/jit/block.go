package jit

import "github.com/google/uuid"

// BlockKey identifies a block version: the bytecode it starts at, the index
// within that bytecode, and the entry Context it was specialized for (spec
// §3 "Block / Branch graph": "Block versions keyed by (bytecode, index,
// context)"). Two compiles of the same (Iseq, Index) with equivalent
// Contexts must hit the same version — that's the dedup invariant Context's
// struct equality exists to make cheap.
type BlockKey struct {
	Iseq  uintptr
	Index int
	Ctx   Context
}

// Block is one compiled version of a bytecode region: a contiguous run of
// native code in the inline arena, entered with a specific Context and
// exited through one or more Branches.
type Block struct {
	ID uuid.UUID

	Key BlockKey

	// StartPos/EndPos bound this version's inline-arena bytes.
	StartPos int
	EndPos   int

	// ExitCtx is the Context live at the block's end, handed to whatever
	// Branch continues execution from here.
	ExitCtx Context

	// Branches this block ends in (spec: "branches with lazy stub targets
	// and post-link patching"). A block with zero branches ended in a
	// `leave` (method return) and needs no continuation.
	Branches []*Branch

	// Incoming lists every Branch that currently targets this block,
	// needed so the Invalidation Engine can find and patch every inbound
	// jump when this version is unlinked (spec §4.9 "unlinks blocks").
	Incoming []*Branch

	// DeferredStub is set when this block ends at its very first
	// instruction in a deferred-compile stub rather than a Branch (spec
	// §4.3 step 1: the receiver's class wasn't known at compile time, so
	// codegen couldn't even start). Nil for every other block. The
	// interpreter resolves this the moment it genuinely reaches Index with
	// a live receiver in hand (spec §4.7's stub hit handler) — see
	// Runtime.ResolveIfPending.
	DeferredStub *Stub
}

// NewBlockID allocates a fresh version identity. Using a real UUID (rather
// than a package counter) means block identity survives being logged,
// hashed into a dump, or compared across a -jit-dump=2 session without the
// JIT needing to hand out and track monotonic integers itself.
func NewBlockID() uuid.UUID {
	return uuid.New()
}

// VersionIndex maps BlockKeys to their compiled Block, the "index" spec §3
// implies by "keyed by (bytecode, index, context)". One VersionIndex is a
// process-wide singleton (spec §5).
type VersionIndex struct {
	byKey map[BlockKey]*Block
	// byEntry additionally indexes every version that exists for a given
	// (Iseq, Index), regardless of Context — the Stub Engine walks this
	// list when a branch stub fires, to check "does a version with an
	// equivalent (or compatible) Context already exist" before compiling
	// a new one (spec §4.3 step 2: "look up an existing version... or
	// compile a new one").
	byEntry map[entryKey][]*Block
}

type entryKey struct {
	Iseq  uintptr
	Index int
}

func NewVersionIndex() *VersionIndex {
	return &VersionIndex{
		byKey:   make(map[BlockKey]*Block),
		byEntry: make(map[entryKey][]*Block),
	}
}

// Lookup returns the existing version for key, if any.
func (vi *VersionIndex) Lookup(key BlockKey) (*Block, bool) {
	b, ok := vi.byKey[key]
	return b, ok
}

// Versions returns every compiled version at (iseq, index), for linear scan
// against a live Context when no exact-equivalence hit exists.
func (vi *VersionIndex) Versions(iseq uintptr, index int) []*Block {
	return vi.byEntry[entryKey{iseq, index}]
}

// Insert registers a newly compiled block.
func (vi *VersionIndex) Insert(b *Block) {
	vi.byKey[b.Key] = b
	ek := entryKey{b.Key.Iseq, b.Key.Index}
	vi.byEntry[ek] = append(vi.byEntry[ek], b)
}

// Remove unregisters b — used by the Invalidation Engine once a version has
// been fully unlinked (spec §4.9).
func (vi *VersionIndex) Remove(b *Block) {
	delete(vi.byKey, b.Key)
	ek := entryKey{b.Key.Iseq, b.Key.Index}
	versions := vi.byEntry[ek]
	for i, v := range versions {
		if v == b {
			vi.byEntry[ek] = append(versions[:i], versions[i+1:]...)
			break
		}
	}
}
