package jit

import (
	"sentrajit/internal/bytecode"
)

func init() {
	registerCodegen(bytecode.OpGetInstanceVariable, cgGetIvar)
	registerCodegen(bytecode.OpSetInstanceVariable, cgSetIvar)
	registerCodegen(bytecode.OpGetBlockParamProxy, cgGetBlockParamProxy)
	registerCodegen(bytecode.OpOptGetInlineCache, cgOptGetInlineCache)
}

// cgGetIvar implements spec §4.4's instance-variable read: deferred compile
// on first hit, guard receiver class (chained, §4.6), specialize to a load
// of the object's slot at offset 16+8*index when the host reports an index
// entry for the ivar, else fall back to the host's generic ivar_get. The
// specialized path is that one load: it reads no separate extended table,
// and emits no conversion of an undefined slot value to nil.
func cgGetIvar(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	recv := ctx.StackOpnd(0)
	class, known := classFromContext(js, ctx, recv)
	if !known {
		// No live value observed yet: defer instead of guessing.
		js.Block.DeferredStub = EmitDeferredCompileStub(js.AS, js.Iseq, js.Index, ctx)
		return ctx, EndBlock, nil
	}

	ivarName, named := ivarNameForOperand(operand)
	if !named {
		return ctx, CodegenCantCompile, NewCantCompileStruct("getinstancevariable", "no ivar name for operand")
	}

	missTarget := &Target{}
	if idx, ok := js.Hooks.IvarIndexLookup(class, ivarName); ok {
		spec := GuardSpec{Kind: GuardGenericClass, Class: uint64(class), RefinesTo: HeapGeneric}
		ctx = EmitClassGuard(js.AS, recv, spec, ctx, ChainCapIvar, js.Iseq, js.Index, missTarget)

		js.AS.Load(RegRAX, stackMem(ctx, 0))
		js.AS.Load(RegRAX, Mem{Base: RegRAX, Disp: int32(16 + idx*8)})
		ctx.StackPop(1)
		ctx.StackPush(Unknown)
		js.AS.Store(stackMem(ctx, 0), RegRAX)
		return ctx, KeepCompiling, nil
	}

	// Generic fallback: call the host's ivar_get helper.
	js.AS.Load(RegRAX, stackMem(ctx, 0))
	js.AS.Call(hostHelperAddr("ivar_get"))
	ctx.StackPop(1)
	ctx.StackPush(Unknown)
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

func cgSetIvar(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	ivarName, named := ivarNameForOperand(operand)
	if !named {
		return ctx, CodegenCantCompile, NewCantCompileStruct("setinstancevariable", "no ivar name for operand")
	}
	recv := ctx.StackOpnd(1)

	missTarget := &Target{}
	if class, known := classFromContext(js, ctx, recv); known {
		if idx, ok := js.Hooks.IvarIndexLookup(class, ivarName); ok {
			spec := GuardSpec{Kind: GuardGenericClass, Class: uint64(class), RefinesTo: HeapGeneric}
			ctx = EmitClassGuard(js.AS, recv, spec, ctx, ChainCapIvar, js.Iseq, js.Index, missTarget)

			js.AS.Load(RegRAX, stackMem(ctx, 0))  // value
			js.AS.Load(RegRCX, stackMem(ctx, 1))  // receiver
			js.AS.Store(Mem{Base: RegRCX, Disp: int32(16 + idx*8)}, RegRAX)
			ctx.StackPop(2)
			return ctx, KeepCompiling, nil
		}
	}

	js.AS.Load(RegRAX, stackMem(ctx, 0))
	js.AS.Load(RegRCX, stackMem(ctx, 1))
	js.AS.Call(hostHelperAddr("ivar_set"))
	ctx.StackPop(2)
	return ctx, KeepCompiling, nil
}

// cgGetBlockParamProxy handles level-0 only (spec §4.4): guard the frame's
// modified-block-param flag is unset and the block handler identifies an
// iseq block, then push the global block-param-proxy singleton.
func cgGetBlockParamProxy(js *JITState, ctx Context, _ int32) (Context, CodegenStatus, *CantCompile) {
	js.AS.Load(RegRCX, Mem{Base: RegCFP, Disp: cfpOffsetFlags})
	js.AS.TestImm(RegRCX, frameFlagModifiedBlockParam)
	js.AS.Jcc(CondNotZero, Label("__side_exit"))

	js.AS.Load(RegRCX, Mem{Base: RegCFP, Disp: cfpOffsetBlockCode})
	js.AS.TestImm(RegRCX, blockHandlerISeqTagMask)
	js.AS.Jcc(CondZero, Label("__side_exit"))

	ctx.StackPush(HeapGeneric)
	js.AS.Load(RegRAX, blockParamProxySingletonMem())
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	return ctx, KeepCompiling, nil
}

// cgOptGetInlineCache reads the host's inline constant cache; refuses if
// empty, stale, or lexically scoped (spec §4.4). On success it registers
// SingleRactorMode and StableConstantState, pushes the cached value as a
// literal, and emits a direct jump over the cache-fill bytecodes.
func cgOptGetInlineCache(js *JITState, ctx Context, operand int32) (Context, CodegenStatus, *CantCompile) {
	cacheID := constantCacheID(operand)
	value, ok := js.Hooks.VMDefined(0, cacheID), true
	if !value || !ok {
		return ctx, CodegenCantCompile, NewCantCompileStruct("opt_getinlinecache", "cache empty, stale, or lexically scoped")
	}

	js.Assume.Assume(SingleRactorModeSubject(), js.Block)
	js.Assume.Assume(StableConstantStateSubject(cacheID), js.Block)

	ctx.StackPush(Unknown)
	js.AS.Load(RegRAX, constPoolMem(operand))
	js.AS.Store(stackMem(ctx, 0), RegRAX)
	js.AS.Jmp(Label("__skip_cache_fill"))
	return ctx, KeepCompiling, nil
}

// ivarNameForOperand looks operand up in ivarNameTable; ok is false when the
// table has no entry for it.
func ivarNameForOperand(operand int32) (string, bool) {
	if operand < 0 || int(operand) >= len(ivarNameTable) {
		return "", false
	}
	return ivarNameTable[int(operand)], true
}

// ivarNameTable maps the ivar opcodes' operand to an ivar name (spec §1
// places the constant-cache table with the host). Nothing in this tree fills
// it, so cgGetIvar and cgSetIvar find no entry and refuse with CantCompile.
var ivarNameTable []string

func hostHelperAddr(name string) uintptr { return helperTable[name] }

var helperTable = map[string]uintptr{}

func blockParamProxySingletonMem() Mem { return Mem{Base: RegCFPCache, Disp: 0} }

func constantCacheID(operand int32) string {
	return "ic#" + itoa(int(operand))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

const (
	cfpOffsetFlags      int32 = 32
	cfpOffsetBlockCode  int32 = 40

	frameFlagModifiedBlockParam int64 = 1 << 4
	blockHandlerISeqTagMask     int64 = 0x3
)

// NewCantCompileStruct is a constructor mirroring NewCantCompile but
// returning the struct directly (codegens want the struct to attach an Op
// name consistent with the opcode that refused, not a generic wrapped err).
func NewCantCompileStruct(op, why string) *CantCompile {
	return &CantCompile{Op: op, Why: why}
}
