package vm

import (
	"testing"

	"sentrajit/internal/bytecode"
	"sentrajit/internal/hostabi"
	"sentrajit/internal/jit"
)

// newTestVM keeps the arena small so tests don't mmap 64MB apiece.
func newTestVM(t *testing.T) *VM {
	t.Helper()
	cfg := jit.DefaultConfig()
	cfg.ExecMemMB = 1
	machine, err := NewVM(cfg)
	if err != nil {
		t.Fatalf("NewVM: %v", err)
	}
	return machine
}

func runChunk(t *testing.T, code []byte, constants []interface{}) jit.HostValue {
	t.Helper()
	machine := newTestVM(t)
	defer machine.Runtime.Close()

	c := &bytecode.Chunk{Code: code, Constants: constants, Debug: make([]bytecode.DebugInfo, len(code))}
	is := &hostabi.Iseq{Name: "test", Chunk: c}
	handle := machine.RegisterISeq(is)

	result, err := machine.Call(handle, jit.TagNil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	return result
}

func TestFixnumArithmetic(t *testing.T) {
	tests := []struct {
		name      string
		code      []byte
		constants []interface{}
		want      int64
	}{
		{
			name: "10 + 20",
			code: []byte{
				byte(bytecode.OpPutObject), 0,
				byte(bytecode.OpPutObject), 1,
				byte(bytecode.OpOptPlus),
				byte(bytecode.OpLeave),
			},
			constants: []interface{}{10, 20},
			want:      30,
		},
		{
			name: "(5 - 2) + 1",
			code: []byte{
				byte(bytecode.OpPutObject), 0,
				byte(bytecode.OpPutObject), 1,
				byte(bytecode.OpOptMinus),
				byte(bytecode.OpPutObject), 2,
				byte(bytecode.OpOptPlus),
				byte(bytecode.OpLeave),
			},
			constants: []interface{}{5, 2, 1},
			want:      4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := runChunk(t, tt.code, tt.constants)
			if !jit.IsFixnum(got) {
				t.Fatalf("result is not a fixnum: %#x", uint64(got))
			}
			if jit.UnboxFixnum(got) != tt.want {
				t.Errorf("got %d, want %d", jit.UnboxFixnum(got), tt.want)
			}
		})
	}
}

func TestFixnumComparison(t *testing.T) {
	code := []byte{
		byte(bytecode.OpPutObject), 0,
		byte(bytecode.OpPutObject), 1,
		byte(bytecode.OpOptLt),
		byte(bytecode.OpLeave),
	}
	got := runChunk(t, code, []interface{}{3, 5})
	if !jit.Truthy(got) {
		t.Errorf("3 < 5 should be truthy, got %#x", uint64(got))
	}
}

func TestBranchUnlessSkipsThenBranch(t *testing.T) {
	// putobject false; branchunless L; putobject 1; jump END; L: putobject 2; END: leave
	code := []byte{
		byte(bytecode.OpPutObject), 0, // false
		byte(bytecode.OpBranchUnless), 0, 8, // offset 8 from this opcode -> index 10, the second putobject
		byte(bytecode.OpPutObject), 1, // skipped
		byte(bytecode.OpJump), 0, 5,
		byte(bytecode.OpPutObject), 2, // landed here
		byte(bytecode.OpLeave),
	}
	got := runChunk(t, code, []interface{}{false, 1, 2})
	if jit.UnboxFixnum(got) != 2 {
		t.Errorf("expected the branch target's value 2, got %d", jit.UnboxFixnum(got))
	}
}

func TestIvarGetSet(t *testing.T) {
	machine := newTestVM(t)
	defer machine.Runtime.Close()

	obj := machine.Host.NewInstance(machine.Host.ObjectClass)
	machine.Host.IvarSet(uint64(obj), "count", uint64(jit.BoxFixnum(7)))

	got := machine.Host.IvarGet(uint64(obj), "count")
	if jit.UnboxFixnum(jit.HostValue(got)) != 7 {
		t.Errorf("expected ivar count=7, got %v", got)
	}

	if v := machine.Host.IvarGet(uint64(obj), "missing"); jit.HostValue(v) != jit.TagNil {
		t.Errorf("missing ivar should read nil, got %#x", v)
	}
}

func TestSendDispatchesUserDefinedMethod(t *testing.T) {
	machine := newTestVM(t)
	defer machine.Runtime.Close()
	host := machine.Host

	class := host.DefineClass("Doubler", host.ObjectClass)

	doubleChunk := &bytecode.Chunk{}
	doubleChunk.WriteOp(bytecode.OpGetLocalWC0)
	doubleChunk.WriteByte(0)
	doubleChunk.WriteOp(bytecode.OpGetLocalWC0)
	doubleChunk.WriteByte(0)
	doubleChunk.WriteOp(bytecode.OpOptPlus)
	doubleChunk.WriteOp(bytecode.OpLeave)

	doubleIseq := &hostabi.Iseq{
		Name: "Doubler#double", Chunk: doubleChunk, LocalTableSize: 1,
		Param: hostabi.ParamFlags{Lead: 1},
	}
	machine.RegisterISeq(doubleIseq)
	host.DefineMethod(class, "double", &hostabi.MethodEntry{Kind: hostabi.MethodISeq, ISeq: doubleIseq})

	main := &bytecode.Chunk{}
	main.WriteOp(bytecode.OpPutSelf)
	ci := hostabi.CallInfo{Argc: 1, MID: "double"}
	main.WriteOp(bytecode.OpPutObject)
	main.WriteByte(byte(main.AddConstant(9)))
	idx := main.AddConstant(ci)
	main.WriteOp(bytecode.OpOptSendWithoutBlock)
	main.WriteByte(byte(idx))
	main.WriteByte(byte(ci.Argc))
	main.WriteByte(byte(ci.Flags))
	main.WriteOp(bytecode.OpLeave)

	mainIseq := &hostabi.Iseq{Name: "main", Chunk: main}
	handle := machine.RegisterISeq(mainIseq)

	self := host.NewInstance(class)
	result, err := machine.Call(handle, self, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if jit.UnboxFixnum(result) != 18 {
		t.Errorf("Doubler#double(9) = %d, want 18", jit.UnboxFixnum(result))
	}
}

func TestCFuncDispatch(t *testing.T) {
	machine := newTestVM(t)
	defer machine.Runtime.Close()
	host := machine.Host

	class := host.DefineClass("Shouter", host.ObjectClass)
	cf := RegisterCFunc(0, "", func(m *VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue {
		return m.Host.NewString("HI")
	})
	host.DefineMethod(class, "shout", &hostabi.MethodEntry{Kind: hostabi.MethodCFunc, CFunc: cf})

	main := &bytecode.Chunk{}
	main.WriteOp(bytecode.OpPutSelf)
	ci := hostabi.CallInfo{Argc: 0, MID: "shout"}
	idx := main.AddConstant(ci)
	main.WriteOp(bytecode.OpOptSendWithoutBlock)
	main.WriteByte(byte(idx))
	main.WriteByte(byte(ci.Argc))
	main.WriteByte(byte(ci.Flags))
	main.WriteOp(bytecode.OpLeave)

	mainIseq := &hostabi.Iseq{Name: "main", Chunk: main}
	handle := machine.RegisterISeq(mainIseq)

	self := host.NewInstance(class)
	result, err := machine.Call(handle, self, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := host.Inspect(result); got != "HI" {
		t.Errorf("shout() = %q, want %q", got, "HI")
	}
}

func TestMethodRedefinitionTakesEffect(t *testing.T) {
	machine := newTestVM(t)
	defer machine.Runtime.Close()
	host := machine.Host

	class := host.DefineClass("Patchable", host.ObjectClass)
	first := RegisterCFunc(0, "", func(m *VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue {
		return jit.BoxFixnum(1)
	})
	host.DefineMethod(class, "value", &hostabi.MethodEntry{Kind: hostabi.MethodCFunc, CFunc: first})

	second := RegisterCFunc(0, "", func(m *VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue {
		return jit.BoxFixnum(2)
	})
	host.DefineMethod(class, "value", &hostabi.MethodEntry{Kind: hostabi.MethodCFunc, CFunc: second})

	me, ok := host.LookupMethod(class.ID, "value")
	if !ok {
		t.Fatal("expected redefined method to still be found")
	}
	got, err := machine.invokeMethodEntry(me, host.NewInstance(class), nil)
	if err != nil {
		t.Fatalf("invokeMethodEntry: %v", err)
	}
	if jit.UnboxFixnum(got) != 2 {
		t.Errorf("expected redefinition to take effect, got %d", jit.UnboxFixnum(got))
	}
}

// TestHostInvalidationTriggersReachRuntime pins down comment-2's wiring:
// SpawnRactor, EnableTracing, ReopenClass, and constant reassignment all
// reach jit.Runtime through ordinary Host/VM operations rather than a direct
// test call into the jit package, and none of them panic when there's
// nothing registered to invalidate yet.
func TestHostInvalidationTriggersReachRuntime(t *testing.T) {
	machine := newTestVM(t)
	defer machine.Runtime.Close()
	host := machine.Host

	class := host.DefineClass("Reopenable", host.ObjectClass)

	host.DefineConstant("ANSWER", jit.BoxFixnum(41))
	host.SetConstant("ANSWER", jit.BoxFixnum(42))
	if v, ok := host.constant("ANSWER"); !ok || jit.UnboxFixnum(v) != 42 {
		t.Fatalf("constant ANSWER after SetConstant = %v, ok=%v, want 42", v, ok)
	}

	machine.ReopenClass(class)
	machine.SpawnRactor()
	machine.EnableTracing()
}

// TestOptGetInlineCacheReadsRealConstant confirms the interpreter's
// opt_getinlinecache handling fetches through Host's constant table instead
// of always pushing nil.
func TestOptGetInlineCacheReadsRealConstant(t *testing.T) {
	machine := newTestVM(t)
	defer machine.Runtime.Close()
	machine.Host.DefineConstant("FOO", jit.BoxFixnum(9))

	c := &bytecode.Chunk{}
	idx := c.AddConstant("FOO")
	c.WriteOp(bytecode.OpOptGetInlineCache)
	c.WriteShort(int16(idx))
	c.WriteOp(bytecode.OpLeave)
	is := &hostabi.Iseq{Name: "const_read", Chunk: c}
	handle := machine.RegisterISeq(is)

	result, err := machine.Call(handle, jit.TagNil, nil)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if jit.UnboxFixnum(result) != 9 {
		t.Errorf("opt_getinlinecache(FOO) = %d, want 9", jit.UnboxFixnum(result))
	}
}
