package main

import (
	"sentrajit/internal/bytecode"
	"sentrajit/internal/hostabi"
	"sentrajit/internal/jit"
	"sentrajit/internal/vm"
)

// demoBuilder constructs a fresh VM, runs one demo program to completion,
// and returns its result. Each demo exercises a different slice of the
// dispatch pipeline (spec §4.5) so -jit-stats has something to report for.
type demoBuilder func(cfg jit.Config) (*vm.VM, jit.HostValue, error)

var demos = map[string]demoBuilder{
	"arith":      demoArith,
	"dispatch":   demoDispatch,
	"invalidate": demoInvalidate,
}

func newChunk() *bytecode.Chunk { return bytecode.NewChunk() }

func emitByteOp(c *bytecode.Chunk, op bytecode.OpCode, operand byte) {
	c.WriteOp(op)
	c.WriteByte(operand)
}

func emitSend(c *bytecode.Chunk, op bytecode.OpCode, ci hostabi.CallInfo) {
	idx := c.AddConstant(ci)
	c.WriteOp(op)
	c.WriteByte(byte(idx))
	c.WriteByte(byte(ci.Argc))
	c.WriteByte(byte(ci.Flags))
}

// demoArith runs (10 + 20) - 2 through the fixnum fast-path opcodes
// (spec §4.6), with no method dispatch involved at all.
func demoArith(cfg jit.Config) (*vm.VM, jit.HostValue, error) {
	machine, err := vm.NewVM(cfg)
	if err != nil {
		return nil, 0, err
	}
	if cfg.TraceEnabled {
		machine.EnableTracing()
	}

	c := newChunk()
	emitByteOp(c, bytecode.OpPutObject, byte(c.AddConstant(10)))
	emitByteOp(c, bytecode.OpPutObject, byte(c.AddConstant(20)))
	c.WriteOp(bytecode.OpOptPlus)
	emitByteOp(c, bytecode.OpPutObject, byte(c.AddConstant(2)))
	c.WriteOp(bytecode.OpOptMinus)
	c.WriteOp(bytecode.OpLeave)

	is := &hostabi.Iseq{Name: "demo_arith", Chunk: c, LocalTableSize: 0, StackMax: 2}
	handle := machine.RegisterISeq(is)

	result, err := machine.Call(handle, jit.TagNil, nil)
	return machine, result, err
}

// demoDispatch defines a small class hierarchy — a C-implemented method, an
// ivar getter, and an interpreted method with one lead parameter (spec
// §4.5's three specializable method-entry kinds) — and calls the C method
// and the interpreted method through `opt_send_without_block`. The ivar
// getter is defined but not called.
func demoDispatch(cfg jit.Config) (*vm.VM, jit.HostValue, error) {
	machine, err := vm.NewVM(cfg)
	if err != nil {
		return nil, 0, err
	}
	if cfg.TraceEnabled {
		machine.EnableTracing()
	}
	host := machine.Host

	greeter := host.DefineClass("Greeter", host.ObjectClass)
	host.DefineIvarSlot(greeter, "greeting", 0)

	shoutCFunc := vm.RegisterCFunc(0, "", func(m *vm.VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue {
		return m.Host.NewString("HELLO FROM A C FUNC")
	})
	host.DefineMethod(greeter, "shout", &hostabi.MethodEntry{Kind: hostabi.MethodCFunc, CFunc: shoutCFunc})
	host.DefineMethod(greeter, "greeting", &hostabi.MethodEntry{Kind: hostabi.MethodIvarGetter, IvarName: "greeting"})

	doubleChunk := newChunk()
	emitByteOp(doubleChunk, bytecode.OpGetLocalWC0, 0)
	emitByteOp(doubleChunk, bytecode.OpGetLocalWC0, 0)
	doubleChunk.WriteOp(bytecode.OpOptPlus)
	doubleChunk.WriteOp(bytecode.OpLeave)
	doubleIseq := &hostabi.Iseq{
		Name: "Greeter#double", Chunk: doubleChunk, LocalTableSize: 1, StackMax: 2,
		Param: hostabi.ParamFlags{Lead: 1},
	}
	machine.RegisterISeq(doubleIseq)
	host.DefineMethod(greeter, "double", &hostabi.MethodEntry{Kind: hostabi.MethodISeq, ISeq: doubleIseq})

	self := host.NewInstance(greeter)
	host.IvarSet(uint64(self), "greeting", uint64(host.NewString("hi")))

	main := newChunk()
	main.WriteOp(bytecode.OpPutSelf)
	emitSend(main, bytecode.OpOptSendWithoutBlock, hostabi.CallInfo{Argc: 0, MID: "shout"})
	main.WriteOp(bytecode.OpPop)

	main.WriteOp(bytecode.OpPutSelf)
	emitByteOp(main, bytecode.OpPutObject, byte(main.AddConstant(21)))
	emitSend(main, bytecode.OpOptSendWithoutBlock, hostabi.CallInfo{Argc: 1, MID: "double"})
	main.WriteOp(bytecode.OpLeave)

	mainIseq := &hostabi.Iseq{Name: "demo_dispatch", Chunk: main, LocalTableSize: 0, StackMax: 2}
	handle := machine.RegisterISeq(mainIseq)

	result, err := machine.Call(handle, self, nil)
	return machine, result, err
}

// demoInvalidate exercises spec §4.8/§4.9/§8's invalidation triggers end to
// end through ordinary host operations rather than a direct test call into
// jit.Runtime: a method redefinition (plain, then a core operator),
// reassigning an inlined constant, reopening a class wholesale, a second
// ractor appearing, and flipping tracing on mid-run.
func demoInvalidate(cfg jit.Config) (*vm.VM, jit.HostValue, error) {
	machine, err := vm.NewVM(cfg)
	if err != nil {
		return nil, 0, err
	}
	host := machine.Host

	widget := host.DefineClass("Widget", host.ObjectClass)
	host.DefineMethod(widget, "value", &hostabi.MethodEntry{Kind: hostabi.MethodCFunc, CFunc: vm.RegisterCFunc(0, "", func(m *vm.VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue {
		return jit.BoxFixnum(1)
	})})
	self := host.NewInstance(widget)

	main := newChunk()
	main.WriteOp(bytecode.OpPutSelf)
	emitSend(main, bytecode.OpOptSendWithoutBlock, hostabi.CallInfo{Argc: 0, MID: "value"})
	main.WriteOp(bytecode.OpLeave)
	mainIseq := &hostabi.Iseq{Name: "demo_invalidate", Chunk: main, LocalTableSize: 0, StackMax: 1}
	handle := machine.RegisterISeq(mainIseq)

	if _, err := machine.Call(handle, self, nil); err != nil {
		return machine, 0, err
	}

	// Plain redefinition: triggers InvalidateMethod.
	host.DefineMethod(widget, "value", &hostabi.MethodEntry{Kind: hostabi.MethodCFunc, CFunc: vm.RegisterCFunc(0, "", func(m *vm.VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue {
		return jit.BoxFixnum(2)
	})})

	// Core-operator redefinition: the first definition gives Integer a "+"
	// entry; the second redefines it and triggers InvalidateMethod and
	// InvalidateOp.
	for i := 0; i < 2; i++ {
		host.DefineMethod(host.IntegerClass, "+", &hostabi.MethodEntry{Kind: hostabi.MethodCFunc, CFunc: vm.RegisterCFunc(1, "", func(m *vm.VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue {
			return recv
		})})
	}

	// Inlined-constant reassignment: triggers InvalidateConstant.
	host.DefineConstant("ANSWER", jit.BoxFixnum(41))
	host.SetConstant("ANSWER", jit.BoxFixnum(42))

	// Wholesale reopen: triggers InvalidateClassWide.
	machine.ReopenClass(widget)

	// A second ractor: triggers SingleRactorMode's one-shot invalidation.
	machine.SpawnRactor()

	// Flip tracing on mid-run: sweeps every block compiled so far.
	machine.EnableTracing()

	result, err := machine.Call(handle, self, nil)
	return machine, result, err
}
