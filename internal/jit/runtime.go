package jit

import (
	"sync"

	"sentrajit/internal/bytecode"
	"sentrajit/internal/hostabi"
)

// Runtime is the single root handle spec §5 asks for: "treat the two
// arenas, the version index, the assumption registry, and the invalidation
// patch list as a single process-wide resource... expose their APIs as
// methods on one root handle to make the ownership explicit at compile
// time." Every mutating call below must happen under the host's VM lock
// (spec §5 "Scheduling model") — Runtime does not take that lock itself,
// it only documents where callers must already hold it.
type Runtime struct {
	mu sync.Mutex

	arena  *Arena
	asm    *Assembler
	index  *VersionIndex
	assume *AssumptionRegistry
	prof   *Profiler
	inv    *Invalidator
	driver *Driver

	hooks  hostabi.HostHooks
	config Config

	blocks   []*Block // every live block, for EnableTracing's full sweep
	counters statCounters

	// pendingStubs indexes every compiled block's outstanding
	// DeferredStub by the (iseq, index) it will fire at, so the
	// interpreter can ask "is there a stub still waiting here" in O(1) as
	// it walks bytecode (spec §4.7's hit handler, driven by real
	// execution instead of a native jump — see ResolveIfPending).
	pendingStubs map[entryKey]*Stub
}

// jitHooksAdapter narrows a hostabi.HostHooks-plus-iseq-resolver down to the
// single method Driver needs, so Runtime can hand the Driver something that
// doesn't leak the rest of the host surface into driver.go's dependency.
type jitHooksAdapter struct {
	resolve func(iseq uintptr) *bytecode.Chunk
}

func (h jitHooksAdapter) ChunkFor(iseq uintptr) *bytecode.Chunk { return h.resolve(iseq) }

// NewRuntime allocates the arenas and wires every collaborator together.
// chunkFor resolves an iseq handle to its bytecode chunk — owned by the
// host embedder (spec §6), not by the JIT.
func NewRuntime(cfg Config, hooks hostabi.HostHooks, chunkFor func(iseq uintptr) *bytecode.Chunk) (*Runtime, error) {
	arena, err := NewArena(cfg.ExecMemMB)
	if err != nil {
		return nil, err
	}

	asm := NewAssembler(arena)
	index := NewVersionIndex()
	assume := NewAssumptionRegistry()
	prof := NewProfiler()
	inv := NewInvalidator(arena, asm, index, assume)

	r := &Runtime{
		arena:        arena,
		asm:          asm,
		index:        index,
		assume:       assume,
		prof:         prof,
		inv:          inv,
		hooks:        hooks,
		config:       cfg,
		pendingStubs: make(map[entryKey]*Stub),
	}
	r.driver = NewDriver(arena, index, assume, prof, jitHooksAdapter{resolve: chunkFor}, inv)

	stubTrampolineAddr = r.trampolineAddr()

	return r, nil
}

// trampolineAddr resolves the fixed native entry point every branch/
// deferred stub calls into (stub.go's stubTrampolineAddr). A real host
// embedding supplies the actual codegen-trampoline symbol address at
// startup, the same way the teacher's CGo glue binds a native callback
// pointer; the stub's Call emits this value as a literal operand, and the
// host's call-dispatch shim (outside this package, spec §6) is responsible
// for actually invoking back into Go when the stub fires and the compiled
// code it's embedded in ever really runs.
//
// This interpreter never executes generated machine code at all (the VM
// type's doc comment explains why), so there is no native call-dispatch shim to
// bind here — 0 is a deliberate placeholder, not a lookup failure. What
// this package DOES implement for real is HandleStub itself, the Go-level
// half of spec §4.7's hit handler; Runtime.ResolveIfPending is how the
// interpreter drives it without ever needing a live trampoline address.
func (r *Runtime) trampolineAddr() uintptr {
	return 0
}

// CompileEntry runs the Driver for a fresh (non-deferred) compile request
// (spec §4.3's top-level entry: "the interpreter requests compilation for a
// (bytecode, index) pair"). Caller must hold the host VM lock.
func (r *Runtime) CompileEntry(iseq uintptr, index int, entryCtx Context) CompileResult {
	js := &JITState{
		AS:       r.asm,
		Iseq:     iseq,
		Index:    index,
		Hooks:    r.hooks,
		Prof:     r.prof,
		Assume:   r.assume,
		Versions: r.index,
		Inv:      r.inv,
	}
	res := r.driver.Compile(js, entryCtx)
	r.recordCompile(res)
	return res
}

// CompileDeferred resumes a deferred-compile stub hit, with the live stack
// and self available to the first codegen invoked (spec §4.3 "execution
// context... lets guards inspect the live value").
func (r *Runtime) CompileDeferred(iseq uintptr, index int, entryCtx Context, liveStack []HostValue, liveSelf HostValue) CompileResult {
	js := &JITState{
		AS:        r.asm,
		Iseq:      iseq,
		Index:     index,
		Hooks:     r.hooks,
		Prof:      r.prof,
		Assume:    r.assume,
		Versions:  r.index,
		Inv:       r.inv,
		LiveStack: liveStack,
		LiveSelf:  liveSelf,
	}
	res := r.driver.Compile(js, entryCtx)
	r.recordCompile(res)
	return res
}

// recordCompile registers a freshly finished compile's block for
// EnableTracing's sweep and, if it ended in a deferred-compile stub instead
// of a real branch, indexes that stub so ResolveIfPending can find it the
// moment real execution reaches it.
func (r *Runtime) recordCompile(res CompileResult) {
	if res.Block == nil {
		return
	}
	r.mu.Lock()
	r.blocks = append(r.blocks, res.Block)
	if res.Block.DeferredStub != nil {
		r.pendingStubs[entryKey{res.Block.Key.Iseq, res.Block.Key.Index}] = res.Block.DeferredStub
	}
	r.mu.Unlock()
}

// HandleStub implements spec §4.7's stub hit handler: look up or compile
// the target, rewrite the branch's jump, return the entry address the
// calling stub tail-jumps to.
//
// A StubDeferredCompile never takes the version-index shortcut: its Ctx is
// by construction the same entry Context the under-specialized block that
// owns it was keyed on (it's the block's only instruction), so a Lookup
// there would just hand back that same, still-unspecialized block. The
// point of hitting this stub is to recompile with liveStack/liveSelf now
// populated, producing a properly specialized version at that key instead
// (spec §4.3 step 1's "lets guards inspect the live value").
func (r *Runtime) HandleStub(stub *Stub, liveStack []HostValue, liveSelf HostValue) (entryAddr int, err *CantCompile) {
	if stub.Kind != StubDeferredCompile {
		key := BlockKey{Iseq: stub.Iseq, Index: stub.Index, Ctx: stub.Ctx}
		if existing, ok := r.index.Lookup(key); ok {
			if stub.Branch != nil {
				r.link(stub.Branch, existing)
			}
			return existing.StartPos, nil
		}
	}

	var res CompileResult
	switch stub.Kind {
	case StubDeferredCompile:
		res = r.CompileDeferred(stub.Iseq, stub.Index, stub.Ctx, liveStack, liveSelf)
	default:
		res = r.CompileEntry(stub.Iseq, stub.Index, stub.Ctx)
	}
	if res.Err != nil {
		return 0, res.Err
	}
	if stub.Branch != nil {
		r.link(stub.Branch, res.Block)
	}
	return res.Block.StartPos, nil
}

// ResolveIfPending is spec §4.7's stub hit handler as the interpreter
// actually drives it: called with the current (iseq, index) on every
// instruction boundary, it is a no-op unless a deferred-compile stub is
// still outstanding there, in which case reaching this point for real IS
// the stub firing — the same event a compiled caller's native jump would
// have produced, just observed from the interpreter loop instead of a CPU
// fault. liveStack/liveSelf are the genuine values in hand at this point in
// execution, exactly what CompileDeferred's specialization decision needs.
func (r *Runtime) ResolveIfPending(iseq uintptr, index int, liveStack []HostValue, liveSelf HostValue) {
	r.mu.Lock()
	key := entryKey{iseq, index}
	stub, ok := r.pendingStubs[key]
	if ok {
		delete(r.pendingStubs, key)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	r.HandleStub(stub, liveStack, liveSelf)
}

func (r *Runtime) link(target *Target, block *Block) {
	target.Block = block
	block.Incoming = append(block.Incoming, &Branch{Targets: []*Target{target}})
	r.asm.PatchJumpTarget(target.JumpPos, block.StartPos, target.JumpInline)
}

// InvalidateMethod implements the host's method-redefinition callback
// (spec §4.8): invalidate every block depending on (class, method_id).
func (r *Runtime) InvalidateMethod(class uint64, methodID string) {
	r.assume.Invalidate(MethodLookupStableSubject(class, methodID), r.forget(r.inv.InvalidateBlock))
}

// InvalidateClassWide handles a wholesale monkey-patch (module reopened,
// include/prepend changed) that might touch any method on class.
func (r *Runtime) InvalidateClassWide(class uint64) {
	r.assume.InvalidateClass(class, r.forget(r.inv.InvalidateBlock))
}

// InvalidateOp implements BasicOpNotRedefined's callback: some core
// operator method (Integer#+, etc.) was redefined.
func (r *Runtime) InvalidateOp(class uint64, op string) {
	r.assume.Invalidate(BasicOpNotRedefinedSubject(class, op), r.forget(r.inv.InvalidateBlock))
}

// InvalidateConstant implements StableConstantState's callback: a constant
// this JIT inlined the value of was reassigned.
func (r *Runtime) InvalidateConstant(constantID string) {
	r.assume.Invalidate(StableConstantStateSubject(constantID), r.forget(r.inv.InvalidateBlock))
}

// SecondRactorCreated implements SingleRactorMode's one-shot invalidation.
func (r *Runtime) SecondRactorCreated() {
	r.assume.SecondRactorCreated(r.forget(r.inv.InvalidateBlock))
}

// EnableTracing implements spec §4.9's global tracing-invalidation
// protocol over every block this Runtime has ever compiled.
func (r *Runtime) EnableTracing() {
	r.mu.Lock()
	all := r.blocks
	r.blocks = nil
	r.mu.Unlock()
	r.inv.EnableTracing(all)
	r.counters.bumpTracing()
}

// forget wraps an InvalidateBlock-shaped callback so it also drops the
// block from Runtime.blocks, keeping the EnableTracing sweep set accurate
// after a block is individually invalidated.
func (r *Runtime) forget(invalidate func(*Block)) func(*Block) {
	return func(b *Block) {
		invalidate(b)
		r.counters.bumpInvalidate()
		r.mu.Lock()
		for i, live := range r.blocks {
			if live == b {
				r.blocks = append(r.blocks[:i], r.blocks[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
	}
}

// RecordEntry forwards one interpreted execution of (iseq, index) to the
// profiler, returning true exactly once — the call that crosses
// CallThreshold — telling the interpreter it should now call CompileEntry
// for this site (spec §4.3's "the interpreter requests compilation").
func (r *Runtime) RecordEntry(iseq uintptr, index int) bool {
	return r.prof.RecordEntry(iseq, index)
}

// RecordType forwards one observed operand type to the profiler's feedback
// histogram. CompileEntry does not consult that histogram; it compiles with
// the entry Context its caller passes.
func (r *Runtime) RecordType(iseq uintptr, index int, t ValueType) {
	r.prof.RecordType(iseq, index, t)
}

// CompiledVersions reports how many block versions exist for (iseq, index).
// Neither the CLI nor the tests call it.
func (r *Runtime) CompiledVersions(iseq uintptr, index int) int {
	return len(r.index.Versions(iseq, index))
}

// BumpSideExit is called by the host's native call-dispatch shim whenever a
// compiled side exit actually transfers control back to the interpreter —
// an event only visible at the machine-code level (spec §6), so the JIT
// package cannot observe it itself and instead exposes this counter for
// the host to drive.
func (r *Runtime) BumpSideExit() {
	r.counters.bumpSideExit()
}

// Close releases the arenas' mmap'd memory. Only meaningful at process
// shutdown or in tests (spec §5 treats the arenas as process-wide
// singletons that otherwise live for the process's lifetime).
func (r *Runtime) Close() error {
	return r.arena.Close()
}
