package jit

import (
	"testing"

	"sentrajit/internal/bytecode"
	"sentrajit/internal/hostabi"
)

// fakeHooks is the minimal hostabi.HostHooks a Runtime test needs: every
// method returns a zero or not-found value, which is enough for codegens that only guard
// against a known class (none of these tests reach that far) or that fall
// straight through to EndBlock/leave.
type fakeHooks struct{}

func (fakeHooks) ClassOf(v uint64) hostabi.ClassID                { return 0 }
func (fakeHooks) KindOf(v uint64, cls hostabi.ClassID) bool       { return false }
func (fakeHooks) IvarGet(recv uint64, name string) uint64         { return 0 }
func (fakeHooks) IvarSet(recv uint64, name string, val uint64)    {}
func (fakeHooks) IvarIndexLookup(cls hostabi.ClassID, name string) (int, bool) {
	return -1, false
}
func (fakeHooks) ArrayEntry(arr uint64, index int64) uint64       { return 0 }
func (fakeHooks) HashAref(h uint64, key uint64) uint64            { return 0 }
func (fakeHooks) StrEql(a, b uint64) bool                         { return false }
func (fakeHooks) GvarGet(name string) uint64                      { return 0 }
func (fakeHooks) GvarSet(name string, val uint64)                 {}
func (fakeHooks) LookupMethod(cls hostabi.ClassID, mid string) (*hostabi.MethodEntry, bool) {
	return nil, false
}
func (fakeHooks) ResolveAlias(me *hostabi.MethodEntry) (*hostabi.MethodEntry, bool) {
	return nil, false
}
func (fakeHooks) VMDefined(v uint64, what string) bool { return false }

func newTestRuntime(t *testing.T, chunks map[uintptr]*bytecode.Chunk) *Runtime {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ExecMemMB = 1
	rt, err := NewRuntime(cfg, fakeHooks{}, func(iseq uintptr) *bytecode.Chunk { return chunks[iseq] })
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	t.Cleanup(func() { rt.Close() })
	return rt
}

// nilLeaveChunk is the simplest chunk the Driver can compile to completion:
// `putnil; leave` (leave needs exactly one stack slot), so cgLeave's
// EndBlock path runs with no guard needing a live receiver.
func nilLeaveChunk() *bytecode.Chunk {
	c := bytecode.NewChunk()
	c.WriteOp(bytecode.OpPutNil)
	c.WriteOp(bytecode.OpLeave)
	return c
}

func TestCompileEntryRegistersBlockForEnableTracing(t *testing.T) {
	const iseq uintptr = 1
	rt := newTestRuntime(t, map[uintptr]*bytecode.Chunk{iseq: nilLeaveChunk()})

	res := rt.CompileEntry(iseq, 0, NewContext())
	if res.Err != nil {
		t.Fatalf("CompileEntry: %v", res.Err)
	}

	before := rt.Stats()
	if before.BlockCount != 1 {
		t.Fatalf("BlockCount after one compile = %d, want 1", before.BlockCount)
	}

	rt.EnableTracing()
	after := rt.Stats()
	if after.TracingEnables != 1 {
		t.Fatalf("TracingEnables after EnableTracing = %d, want 1", after.TracingEnables)
	}
	// EnableTracing sweeps r.blocks empty (spec §4.9's full-sweep protocol),
	// so a second call has nothing left to re-sweep but still counts.
	rt.EnableTracing()
	if got := rt.Stats().TracingEnables; got != 2 {
		t.Fatalf("TracingEnables after second EnableTracing = %d, want 2", got)
	}
}

// TestResolveIfPendingDrivesDeferredCompile exercises spec §4.7's stub hit
// handler the way the interpreter actually triggers it: a deferred-compile
// stub is registered for (iseq, index), and reaching that point with a live
// stack/self resolves it through HandleStub instead of silently never firing
// (the bug this test guards: HandleStub's version-index shortcut must not
// short-circuit a StubDeferredCompile stub back to its own under-specialized
// block).
func TestResolveIfPendingDrivesDeferredCompile(t *testing.T) {
	const iseq uintptr = 7
	rt := newTestRuntime(t, map[uintptr]*bytecode.Chunk{iseq: nilLeaveChunk()})

	ctx := NewContext()
	block := &Block{ID: NewBlockID(), Key: BlockKey{Iseq: iseq, Index: 0, Ctx: ctx}}
	stub := EmitDeferredCompileStub(rt.asm, iseq, 0, ctx)
	block.DeferredStub = stub
	rt.recordCompile(CompileResult{Block: block})

	if _, ok := rt.pendingStubs[entryKey{iseq, 0}]; !ok {
		t.Fatal("recordCompile did not index the block's DeferredStub")
	}

	rt.ResolveIfPending(iseq, 0, nil, 0)

	if _, ok := rt.pendingStubs[entryKey{iseq, 0}]; ok {
		t.Fatal("ResolveIfPending left the stub indexed after resolving it")
	}
	if _, ok := rt.index.Lookup(BlockKey{Iseq: iseq, Index: 0, Ctx: ctx}); !ok {
		t.Fatal("ResolveIfPending's HandleStub call should have compiled and indexed a real block")
	}

	// A second arrival at the same point is a no-op: nothing pending anymore.
	rt.ResolveIfPending(iseq, 0, nil, 0)
}

func TestInvalidateWithNoDependentsLeavesCounterAtZero(t *testing.T) {
	rt := newTestRuntime(t, nil)
	rt.InvalidateMethod(1, "value")
	rt.InvalidateOp(1, "+")
	rt.InvalidateConstant("ic#ANSWER")
	rt.SecondRactorCreated()
	// None of these had any compiled block depending on their subject, so
	// InvalidateBlock never runs and the counter stays at zero — these calls
	// only need to not panic when nothing is registered.
	if got := rt.Stats().InvalidationCount; got != 0 {
		t.Fatalf("InvalidationCount = %d, want 0 (no dependent blocks registered)", got)
	}
}

func TestInvalidateClassWideSweepsDependentBlock(t *testing.T) {
	const iseq uintptr = 3
	rt := newTestRuntime(t, map[uintptr]*bytecode.Chunk{iseq: nilLeaveChunk()})

	res := rt.CompileEntry(iseq, 0, NewContext())
	if res.Err != nil {
		t.Fatalf("CompileEntry: %v", res.Err)
	}
	rt.assume.Assume(MethodLookupStableSubject(42, "value"), res.Block)

	rt.InvalidateClassWide(42)

	if got := rt.Stats().InvalidationCount; got != 1 {
		t.Fatalf("InvalidationCount after InvalidateClassWide = %d, want 1", got)
	}
}
