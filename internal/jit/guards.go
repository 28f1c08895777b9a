package jit

// ChainCap bounds chain_depth per call-site shape (spec §4.6: "a per-site
// cap (e.g. 5 for send, 2 for opt_aref, 10 for ivar accesses)").
const (
	ChainCapSend    = 5
	ChainCapOptAref = 2
	ChainCapIvar    = 10
)

// GuardKind selects which class-guard predicate to emit (spec §4.6's
// "Class-guard variants").
type GuardKind uint8

const (
	GuardNilClass GuardKind = iota
	GuardTrueClass
	GuardFalseClass
	GuardFixnum
	GuardStaticSymbol
	GuardFlonum
	GuardSingletonIdentity
	GuardGenericClass
)

// GuardSpec is everything EmitClassGuard needs to pick a predicate and know
// what to refine the slot to on success.
type GuardSpec struct {
	Kind       GuardKind
	Class      uint64   // GuardGenericClass: the known class to compare against
	Identity   HostValue // GuardSingletonIdentity: the exact sampled object
	RefinesTo  ValueType
}

// GuardForSample picks the cheapest guard that distinguishes sample's
// run-time shape, following spec §4.6's ordering: the singleton immediates
// get a value compare, Fixnum/Symbol/Flonum get a tag test, anything else
// falls back to a generic class-slot compare, UNLESS the observed class is
// a singleton class attached to sample itself (picked by the caller when it
// knows the method lookup bottomed out in a singleton method).
func GuardForSample(sample HostValue, singletonAttached bool) GuardSpec {
	switch {
	case IsNil(sample):
		return GuardSpec{Kind: GuardNilClass, RefinesTo: Nil}
	case IsTrue(sample):
		return GuardSpec{Kind: GuardTrueClass, RefinesTo: True}
	case IsFalse(sample):
		return GuardSpec{Kind: GuardFalseClass, RefinesTo: False}
	case IsFixnum(sample):
		return GuardSpec{Kind: GuardFixnum, RefinesTo: Fixnum}
	case IsSymbol(sample):
		return GuardSpec{Kind: GuardStaticSymbol, RefinesTo: StaticSymbol}
	case IsFlonum(sample):
		return GuardSpec{Kind: GuardFlonum, RefinesTo: Flonum}
	case singletonAttached:
		return GuardSpec{Kind: GuardSingletonIdentity, Identity: sample, RefinesTo: HeapGeneric}
	default:
		return GuardSpec{Kind: GuardGenericClass, RefinesTo: HeapGeneric}
	}
}

// EmitClassGuard emits the conditional jump for spec's chosen predicate,
// targeting a branch stub (so a chain-depth-incremented recompile happens
// on the first miss) unless depth already reached cap, in which case the
// jump targets a plain side exit instead (spec §4.6: "the jump falls
// through directly to the side-exit instead of creating another version").
//
// recv is the operand holding the receiver; ctx is the Context *before* the
// guard (its ChainDepth is what's compared against cap). Returns the
// refined Context guards downstream of this one should use.
func EmitClassGuard(as *Assembler, recv Opnd, spec GuardSpec, ctx Context, cap uint8, iseq uintptr, index int, missTarget *Target) Context {
	cond := guardFailCond(spec.Kind)

	if ctx.ChainDepth >= cap {
		as.Jcc(cond, Label("__side_exit"))
	} else {
		deeper := ctx.WithDeeperChain()
		stub := EmitBranchStub(as, iseq, index, deeper, missTarget)
		missTarget.Stub = stub
		as.Jcc(cond, Label("__branch_stub"))
	}

	refined := ctx
	refined.UpgradeOpndType(recv, spec.RefinesTo)
	return refined
}

// guardFailCond maps a GuardKind to the jcc condition that fires on a guard
// *miss* (the comparison that should jump away, not fall through) — the
// actual compare instructions (TestImm for tag bits, Cmp for identity,
// Load+Cmp for the generic class slot) are emitted by the per-opcode
// codegen immediately before this, since they need the operand's real
// register/memory location, which only the codegen (not guards.go) knows
// how to materialize from an Opnd.
func guardFailCond(k GuardKind) Cond {
	switch k {
	case GuardNilClass, GuardTrueClass, GuardFalseClass, GuardSingletonIdentity:
		return CondNE
	case GuardFixnum, GuardStaticSymbol, GuardFlonum:
		return CondZero // tag-bit test: zero means tag absent, i.e. miss
	default:
		return CondNE
	}
}
