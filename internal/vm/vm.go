package vm

import (
	"fmt"

	"sentrajit/internal/bytecode"
	"sentrajit/internal/hostabi"
	"sentrajit/internal/jit"
)

// CallFrame is the interpreter's activation record, mirroring the fields of
// hostabi.ControlFrame that matter to a pure-Go interpreter (PC, locals
// base, self, the iseq it's running). A real control_frame also carries a
// JITReturn address for compiled code to jump back into — meaningless here
// since this interpreter never hands control to generated machine code; see
// the doc comment on VM.
type CallFrame struct {
	ISeq     *hostabi.Iseq
	handle   uintptr // the iseq handle this frame's ISeq was registered under
	ip       int
	slotBase int // index into VM.stack where this frame's locals start
	self     jit.HostValue
}

// VM is the host bytecode interpreter: the thing that actually executes a
// program, consults the Profiler to decide when a (bytecode, index) pair
// has gotten hot, and asks the jit.Runtime to compile it. It implements no
// JIT logic itself — internal/jit never imports this package.
//
// Executing the native code jit.Runtime.CompileEntry produces is out of
// scope: doing so for real means mapping the inline/outlined arenas as
// actually-callable machine code with a real calling convention bridge back
// into this Go process, which spec §6 places entirely on the host embedder
// and which this exercise's Assembler only stubs out (internal/jit/asm.go's
// emit3). So VM.Call is the single source of truth for program results; it
// drives Runtime exactly the way the spec describes (RecordEntry,
// CompileEntry, the Invalidate* family, EnableTracing) so every compile-time
// decision, guard, invalidation, and stat the spec describes actually
// happens and is observable through Stats — it just never jumps into the
// bytes those calls produce. A stub hit is the one case where this
// interpreter genuinely reproduces what a native jump would have done: every
// instruction boundary is checked against Runtime.ResolveIfPending, and
// reaching a deferred-compile stub's (iseq, index) for real drives
// Runtime.HandleStub with this frame's actual live stack and self.
type VM struct {
	Host    *Host
	Runtime *jit.Runtime
	Config  jit.Config

	stack  []jit.HostValue
	frames []*CallFrame

	iseqs      map[uintptr]*hostabi.Iseq
	nextHandle uintptr

	dumpLevel int
}

// NewVM wires a fresh Host and jit.Runtime together the way spec §5
// describes a VM boot doing it: one Runtime per process, built from the
// host-tunable Config.
func NewVM(cfg jit.Config) (*VM, error) {
	vm := &VM{
		Host:      NewHost(),
		Config:    cfg,
		iseqs:     make(map[uintptr]*hostabi.Iseq),
		dumpLevel: cfg.DumpLevel,
	}
	rt, err := jit.NewRuntime(cfg, vm.Host, vm.chunkFor)
	if err != nil {
		return nil, fmt.Errorf("vm: initializing jit runtime: %w", err)
	}
	vm.Runtime = rt
	vm.Host.SetInvalidationHooks(rt.InvalidateMethod, rt.InvalidateOp, rt.InvalidateConstant)
	return vm, nil
}

// SpawnRactor marks the process as having created a second ractor (spec
// §4.8's SingleRactorMode assumption), the host-visible trigger for whatever
// embedding eventually exposes Ractor.new to a running program.
func (vm *VM) SpawnRactor() {
	vm.Runtime.SecondRactorCreated()
}

// EnableTracing turns on spec §4.9's tracing mode, forcing every block
// compiled from here on to take the boundary side exit tracing needs and
// patching already-compiled boundaries in place.
func (vm *VM) EnableTracing() {
	vm.Runtime.EnableTracing()
}

// ReopenClass notifies the Runtime that c's method table may have changed in
// ways DefineMethod's per-method redefinition check can't see on its own —
// e.g. a wholesale `class Foo; ...; end` reopen the host applies as a batch.
// Compiled code specialized on c's identity (spec §4.8's MethodLookupStable)
// can no longer be trusted.
func (vm *VM) ReopenClass(c *Class) {
	vm.Runtime.InvalidateClassWide(uint64(c.ID))
}

// RegisterISeq hands the interpreter a method body to run, returning the
// opaque handle used as hostabi.Iseq's identity everywhere else (ClassOf's
// method entries, BlockKey.Iseq, CallFrame.handle).
func (vm *VM) RegisterISeq(is *hostabi.Iseq) uintptr {
	vm.nextHandle++
	h := vm.nextHandle
	vm.iseqs[h] = is
	return h
}

func (vm *VM) chunkFor(iseq uintptr) *bytecode.Chunk {
	is, ok := vm.iseqs[iseq]
	if !ok {
		return nil
	}
	return is.Chunk
}

func (vm *VM) push(v jit.HostValue) { vm.stack = append(vm.stack, v) }

func (vm *VM) pop() jit.HostValue {
	if len(vm.stack) == 0 {
		panic("sentrajit: stack underflow")
	}
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}

func (vm *VM) peek() jit.HostValue { return vm.stack[len(vm.stack)-1] }

func (vm *VM) frame() *CallFrame { return vm.frames[len(vm.frames)-1] }

// Call runs iseqHandle's body with args bound to its leading locals and
// returns its leave value — the interpreter's equivalent of spec §4.5's
// "Interpreted method call" path, minus any possibility of handing off to
// compiled code (see VM's doc comment).
func (vm *VM) Call(iseqHandle uintptr, self jit.HostValue, args []jit.HostValue) (jit.HostValue, error) {
	is, ok := vm.iseqs[iseqHandle]
	if !ok {
		return 0, fmt.Errorf("sentrajit: unknown iseq handle %d", iseqHandle)
	}

	regime := jit.ClassifyArity(is.Param)
	if regime == jit.ArityUnsupported {
		return 0, fmt.Errorf("sentrajit: %s: unsupported parameter shape", is.Name)
	}
	if len(args) < is.Param.Lead || len(args) > is.Param.Lead+is.Param.Opt {
		return 0, fmt.Errorf("sentrajit: %s: wrong number of arguments (%d for %d..%d)",
			is.Name, len(args), is.Param.Lead, is.Param.Lead+is.Param.Opt)
	}

	base := len(vm.stack)
	for i := 0; i < is.LocalTableSize; i++ {
		if i < len(args) {
			vm.push(args[i])
		} else {
			vm.push(jit.TagNil)
		}
	}

	pc := 0
	if regime == jit.ArityLeadOptional {
		entryPC, ok := jit.OptEntryPC(is, len(args))
		if !ok {
			return 0, fmt.Errorf("sentrajit: %s: argc %d outside opt-table range", is.Name, len(args))
		}
		pc = entryPC
	}

	fr := &CallFrame{ISeq: is, handle: iseqHandle, ip: pc, slotBase: base, self: self}
	vm.frames = append(vm.frames, fr)
	defer func() {
		vm.frames = vm.frames[:len(vm.frames)-1]
		vm.stack = vm.stack[:base]
	}()

	return vm.run()
}

// run executes frames until the top frame leaves, returning its value. A
// nested Call (from a `send`-family opcode) pushes its own frame and
// recurses into run via Call above, so this loop only ever drives the
// current top frame — it never needs to distinguish "my frame returned" from
// "a callee's frame returned" the way a flat trampoline loop would.
func (vm *VM) run() (jit.HostValue, error) {
	fr := vm.frame()
	chunk := fr.ISeq.Chunk

	// A frame starting execution is itself a block-entry point in spec
	// §4.3's sense (a method entry, or an opt-table entry for a
	// lead+optional call) — profile and, once hot, request compilation
	// for it exactly as a `send`-family opcode does mid-block.
	if vm.Runtime.RecordEntry(fr.handle, fr.ip) {
		vm.Runtime.CompileEntry(fr.handle, fr.ip, jit.NewContext())
	}

	for {
		if fr.ip >= chunk.Len() {
			return jit.TagNil, fmt.Errorf("sentrajit: %s: fell off the end of the bytecode", fr.ISeq.Name)
		}
		pc := fr.ip
		vm.Runtime.ResolveIfPending(fr.handle, pc, vm.stack[fr.slotBase+fr.ISeq.LocalTableSize:], fr.self)
		op := bytecode.ReadOp(chunk.Code, pc)
		if !op.Valid() {
			return 0, fmt.Errorf("sentrajit: %s: invalid opcode byte at %d", fr.ISeq.Name, pc)
		}
		fr.ip += bytecode.InstrLen(chunk.Code, pc)

		switch op {
		case bytecode.OpDup:
			vm.push(vm.peek())

		case bytecode.OpDupN:
			n := int(chunk.Code[pc+1])
			top := len(vm.stack)
			for i := 0; i < n; i++ {
				vm.push(vm.stack[top-n+i])
			}

		case bytecode.OpSwap:
			n := len(vm.stack)
			vm.stack[n-1], vm.stack[n-2] = vm.stack[n-2], vm.stack[n-1]

		case bytecode.OpSetN:
			n := int(chunk.Code[pc+1])
			vm.stack[len(vm.stack)-1-n] = vm.peek()

		case bytecode.OpTopN:
			n := int(chunk.Code[pc+1])
			vm.push(vm.stack[len(vm.stack)-1-n])

		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpAdjustStack:
			n := int(chunk.Code[pc+1])
			vm.stack = vm.stack[:len(vm.stack)-n]

		case bytecode.OpPutNil:
			vm.push(jit.TagNil)

		case bytecode.OpPutObject:
			idx := int(chunk.Code[pc+1])
			vm.push(vm.boxConstant(chunk.Constants[idx]))

		case bytecode.OpPutString:
			idx := int(chunk.Code[pc+1])
			s, _ := chunk.Constants[idx].(string)
			vm.push(vm.Host.NewString(s))

		case bytecode.OpPutSelf:
			vm.push(fr.self)

		case bytecode.OpPutObjectInt2Fix0:
			vm.push(jit.BoxFixnum(0))

		case bytecode.OpPutObjectInt2Fix1:
			vm.push(jit.BoxFixnum(1))

		case bytecode.OpGetLocal:
			level := int(chunk.Code[pc+1])
			idx := int(chunk.Code[pc+2])
			vm.push(vm.localAt(level, idx))

		case bytecode.OpGetLocalWC0:
			idx := int(chunk.Code[pc+1])
			vm.push(vm.stack[fr.slotBase+idx])

		case bytecode.OpGetLocalWC1:
			idx := int(chunk.Code[pc+1])
			vm.push(vm.localAt(1, idx))

		case bytecode.OpSetLocalWC0:
			idx := int(chunk.Code[pc+1])
			vm.stack[fr.slotBase+idx] = vm.peek()

		case bytecode.OpGetInstanceVariable:
			idx := int(chunk.Code[pc+1])
			name, _ := chunk.Constants[idx].(string)
			vm.push(jit.HostValue(vm.Host.IvarGet(uint64(fr.self), name)))

		case bytecode.OpSetInstanceVariable:
			idx := int(chunk.Code[pc+1])
			name, _ := chunk.Constants[idx].(string)
			vm.Host.IvarSet(uint64(fr.self), name, uint64(vm.peek()))

		case bytecode.OpOptLt, bytecode.OpOptLe, bytecode.OpOptGe, bytecode.OpOptGt,
			bytecode.OpOptPlus, bytecode.OpOptMinus, bytecode.OpOptAnd, bytecode.OpOptOr:
			if err := vm.optArith(op); err != nil {
				return 0, err
			}

		case bytecode.OpOptAref:
			b := vm.pop()
			a := vm.pop()
			vm.push(vm.optAref(a, b))

		case bytecode.OpOptEq:
			b := vm.pop()
			a := vm.pop()
			vm.push(jit.BoxBool(vm.valuesEqual(a, b)))

		case bytecode.OpOptNeq:
			b := vm.pop()
			a := vm.pop()
			vm.push(jit.BoxBool(!vm.valuesEqual(a, b)))

		case bytecode.OpBranchIf:
			off := int(bytecode.ReadShortOperand(chunk.Code, pc+1))
			if jit.Truthy(vm.pop()) {
				fr.ip = pc + off
			}

		case bytecode.OpBranchUnless:
			off := int(bytecode.ReadShortOperand(chunk.Code, pc+1))
			if !jit.Truthy(vm.pop()) {
				fr.ip = pc + off
			}

		case bytecode.OpBranchNil:
			off := int(bytecode.ReadShortOperand(chunk.Code, pc+1))
			if jit.IsNil(vm.pop()) {
				fr.ip = pc + off
			}

		case bytecode.OpJump:
			off := int(bytecode.ReadShortOperand(chunk.Code, pc+1))
			fr.ip = pc + off

		case bytecode.OpSend, bytecode.OpOptSendWithoutBlock, bytecode.OpInvokeSuper:
			v, err := vm.dispatch(op, chunk, pc, fr)
			if err != nil {
				return 0, err
			}
			vm.push(v)

		case bytecode.OpLeave:
			return vm.pop(), nil

		case bytecode.OpOptGetInlineCache:
			idx := int(bytecode.ReadShortOperand(chunk.Code, pc+1))
			name, _ := chunk.Constants[idx].(string)
			if v, ok := vm.Host.constant(name); ok {
				vm.push(v)
			} else {
				vm.push(jit.TagNil)
			}

		case bytecode.OpGetBlockParamProxy:
			vm.push(jit.TagNil)

		default:
			return 0, fmt.Errorf("sentrajit: %s: unhandled opcode %s at %d", fr.ISeq.Name, op.Name(), pc)
		}
	}
}

// localAt resolves a getlocal with an explicit scope level by walking up
// `level` enclosing frames — a simplification of the teacher's environment
// pointer chase (spec's iseqs here never nest blocks, so level is always 0
// in practice, but the opcode is decoded faithfully regardless).
func (vm *VM) localAt(level, idx int) jit.HostValue {
	fi := len(vm.frames) - 1 - level
	if fi < 0 {
		fi = 0
	}
	f := vm.frames[fi]
	return vm.stack[f.slotBase+idx]
}

func (vm *VM) boxConstant(c interface{}) jit.HostValue {
	switch v := c.(type) {
	case int:
		return jit.BoxFixnum(int64(v))
	case int64:
		return jit.BoxFixnum(v)
	case float64:
		return jit.BoxFlonum(v)
	case string:
		return vm.Host.NewString(v)
	case bool:
		return jit.BoxBool(v)
	case nil:
		return jit.TagNil
	default:
		return jit.TagNil
	}
}

// optArith implements the fixnum fast-path opcodes' interpreted semantics —
// the same operations opt_plus/opt_lt/&c. specialize in compiled code (spec
// §4.6), here computed directly since the interpreter never guards, it just
// evaluates.
func (vm *VM) optArith(op bytecode.OpCode) error {
	b := vm.pop()
	a := vm.pop()

	if jit.IsFixnum(a) && jit.IsFixnum(b) {
		ai, bi := jit.UnboxFixnum(a), jit.UnboxFixnum(b)
		switch op {
		case bytecode.OpOptLt:
			vm.push(jit.BoxBool(ai < bi))
		case bytecode.OpOptLe:
			vm.push(jit.BoxBool(ai <= bi))
		case bytecode.OpOptGe:
			vm.push(jit.BoxBool(ai >= bi))
		case bytecode.OpOptGt:
			vm.push(jit.BoxBool(ai > bi))
		case bytecode.OpOptPlus:
			vm.push(jit.BoxFixnum(ai + bi))
		case bytecode.OpOptMinus:
			vm.push(jit.BoxFixnum(ai - bi))
		case bytecode.OpOptAnd:
			vm.push(jit.BoxFixnum(ai & bi))
		case bytecode.OpOptOr:
			vm.push(jit.BoxFixnum(ai | bi))
		}
		return nil
	}

	// Generic fallback: dispatch through the method table like any other
	// send, matching spec §4.6's "guard fails -> fall back to a full,
	// unspecialized method dispatch".
	mid := optOpMethodName(op)
	cls := vm.Host.ClassOf(uint64(a))
	me, ok := vm.Host.LookupMethod(cls, mid)
	if !ok {
		return fmt.Errorf("sentrajit: undefined method %q for %s", mid, vm.Host.Inspect(a))
	}
	result, err := vm.invokeMethodEntry(me, a, []jit.HostValue{b})
	if err != nil {
		return err
	}
	vm.push(result)
	return nil
}

func optOpMethodName(op bytecode.OpCode) string {
	switch op {
	case bytecode.OpOptLt:
		return "<"
	case bytecode.OpOptLe:
		return "<="
	case bytecode.OpOptGe:
		return ">="
	case bytecode.OpOptGt:
		return ">"
	case bytecode.OpOptPlus:
		return "+"
	case bytecode.OpOptMinus:
		return "-"
	case bytecode.OpOptAnd:
		return "&"
	default:
		return "|"
	}
}

func (vm *VM) optAref(recv, key jit.HostValue) jit.HostValue {
	if jit.IsHeapPtr(recv) {
		obj := vm.Host.object(recv)
		if obj != nil && obj.Class == vm.Host.ArrayClass && jit.IsFixnum(key) {
			return jit.HostValue(vm.Host.ArrayEntry(uint64(recv), jit.UnboxFixnum(key)))
		}
		if obj != nil && obj.Class == vm.Host.HashClass {
			return jit.HostValue(vm.Host.HashAref(uint64(recv), uint64(key)))
		}
	}
	return jit.TagNil
}

func (vm *VM) valuesEqual(a, b jit.HostValue) bool {
	if jit.IsFixnum(a) && jit.IsFixnum(b) {
		return jit.UnboxFixnum(a) == jit.UnboxFixnum(b)
	}
	if jit.IsHeapPtr(a) && jit.IsHeapPtr(b) {
		oa, ob := vm.Host.object(a), vm.Host.object(b)
		if oa != nil && ob != nil && oa.Class == vm.Host.StringClass && ob.Class == vm.Host.StringClass {
			return vm.Host.StrEql(uint64(a), uint64(b))
		}
	}
	return a == b
}

// dispatch implements send/opt_send_without_block/invokesuper's interpreted
// semantics: decode the CallInfo constant, pop argc+1 operands (receiver
// last), resolve the method, record profiling, and — once a site has gone
// hot — ask Runtime to compile its entry block exactly as spec §4.3
// describes, purely for the bookkeeping/stats/invalidation side effects
// (see VM's doc comment on why the result is never executed).
func (vm *VM) dispatch(op bytecode.OpCode, chunk *bytecode.Chunk, pc int, fr *CallFrame) (jit.HostValue, error) {
	ciIdx := int(chunk.Code[pc+1])
	ci, _ := chunk.Constants[ciIdx].(hostabi.CallInfo)

	argv := make([]jit.HostValue, ci.Argc)
	for i := ci.Argc - 1; i >= 0; i-- {
		argv[i] = vm.pop()
	}
	recv := vm.pop()

	if vm.Runtime.RecordEntry(fr.handle, pc) {
		entryCtx := jit.NewContext()
		vm.Runtime.CompileEntry(fr.handle, pc, entryCtx)
	}

	cls := vm.Host.ClassOf(uint64(recv))
	me, ok := vm.Host.LookupMethod(cls, ci.MID)
	if !ok {
		return 0, fmt.Errorf("sentrajit: undefined method %q for %s", ci.MID, vm.Host.Inspect(recv))
	}
	if op == bytecode.OpInvokeSuper {
		if sup, ok := vm.Host.classes[me.Owner]; ok && sup.Super != nil {
			if superMe, ok := vm.Host.LookupMethod(sup.Super.ID, ci.MID); ok {
				me = superMe
			}
		}
	}
	return vm.invokeMethodEntry(me, recv, argv)
}

// invokeMethodEntry runs a resolved method entry to completion, the
// interpreted equivalent of spec §4.5's three specializable entry kinds.
func (vm *VM) invokeMethodEntry(me *hostabi.MethodEntry, recv jit.HostValue, args []jit.HostValue) (jit.HostValue, error) {
	for me.Kind == hostabi.MethodAlias {
		resolved, ok := vm.Host.ResolveAlias(me)
		if !ok {
			return 0, fmt.Errorf("sentrajit: broken alias for %q", me.CalledID)
		}
		me = resolved
	}

	switch me.Kind {
	case hostabi.MethodIvarGetter:
		return jit.HostValue(vm.Host.IvarGet(uint64(recv), me.IvarName)), nil
	case hostabi.MethodCFunc:
		fn, ok := cFuncTable[me.CFunc.Addr]
		if !ok {
			return 0, fmt.Errorf("sentrajit: no native implementation registered for %q", me.CalledID)
		}
		return fn(vm, recv, args), nil
	case hostabi.MethodISeq:
		handle, ok := vm.handleFor(me.ISeq)
		if !ok {
			handle = vm.RegisterISeq(me.ISeq)
		}
		return vm.Call(handle, recv, args)
	default:
		return 0, fmt.Errorf("sentrajit: method entry kind %v not callable", me.Kind)
	}
}

func (vm *VM) handleFor(is *hostabi.Iseq) (uintptr, bool) {
	for h, reg := range vm.iseqs {
		if reg == is {
			return h, true
		}
	}
	return 0, false
}

// CFunc is a native (Go-implemented) method body, the interpreter's stand-in
// for spec §6's cfunc.addr — real C function pointers have no meaning in
// this process, so CFunc.Addr is instead used purely as a lookup key into
// cFuncTable.
type CFunc func(vm *VM, recv jit.HostValue, args []jit.HostValue) jit.HostValue

var cFuncTable = make(map[uintptr]CFunc)

// nextCFuncAddr hands out stable fake "addresses" for RegisterCFunc, so two
// calls with the same name produce the same CFunc.Addr and therefore the
// same MethodLookupStable identity across redefinitions.
var nextCFuncAddr uintptr = 1

// RegisterCFunc installs a native method body and returns the CFunc
// descriptor to embed in a hostabi.MethodEntry.
func RegisterCFunc(arity int, specializedCodegen string, fn CFunc) hostabi.CFunc {
	addr := nextCFuncAddr
	nextCFuncAddr++
	cFuncTable[addr] = fn
	return hostabi.CFunc{Arity: arity, Addr: addr, SpecializedCodegen: specializedCodegen}
}
