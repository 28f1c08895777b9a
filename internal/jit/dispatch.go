package jit

import (
	"sentrajit/internal/hostabi"
)

// CallSiteRefusal explains why DispatchCall bailed without compiling
// anything, for CantCompile's Why field.
type CallSiteRefusal string

const (
	RefuseComplexArgs   CallSiteRefusal = "call site has kwsplat/kwarg/argsplat/blockarg"
	RefuseVisibility    CallSiteRefusal = "method not callable at this visibility"
	RefuseUndefined     CallSiteRefusal = "method entry undefined"
	RefuseEntryKind     CallSiteRefusal = "method entry kind not specializable"
	RefuseArity         CallSiteRefusal = "argc outside supported arity regime"
	RefuseParamFlags    CallSiteRefusal = "param flags include rest/post/kw/kwrest/tailcall"
	RefuseTracingCFunc  CallSiteRefusal = "c-call/c-return tracing globally enabled"
)

// DispatchPlan is what step 1-6 of spec §4.5 produces once a call site is
// known to be specializable: everything the per-opcode call codegen needs
// to actually emit the call.
type DispatchPlan struct {
	Class       hostabi.ClassID
	Method      *hostabi.MethodEntry
	NeedsVisibilityGuard bool // protected: emit a kind_of? guard
	Kind        hostabi.MethodEntryKind
}

// PlanDispatch runs spec §4.5 steps 1-6 up to (but not including) emitting
// any machine code — it is pure decision logic over the hostabi
// collaborator, so it can be unit tested without an Assembler at all. The
// caller (the `send`/`opt_send_without_block`/`invokesuper` codegens) is
// responsible for steps 2's deferred-compile and 3's guard emission; this
// function assumes a receiver class is already known (ci.FCall aside, the
// class comes from either a live execution_context on a deferred-compile
// re-entry, or the Context's self/recv type on a regular compile of a
// guard-chain successor).
func PlanDispatch(ci hostabi.CallInfo, recvClass hostabi.ClassID, hooks hostabi.HostHooks) (*DispatchPlan, *CantCompile) {
	if !ci.Simple() {
		return nil, &CantCompile{Op: "send", Why: string(RefuseComplexArgs)}
	}

	me, ok := hooks.LookupMethod(recvClass, ci.MID)
	if !ok {
		return nil, &CantCompile{Op: "send", Why: string(RefuseUndefined)}
	}

	for me.Kind == hostabi.MethodAlias {
		resolved, ok := hooks.ResolveAlias(me)
		if !ok {
			return nil, &CantCompile{Op: "send", Why: string(RefuseUndefined)}
		}
		me = resolved
	}

	switch me.Visibility {
	case hostabi.VisPublic:
		// always callable
	case hostabi.VisPrivate:
		if !ci.FCall() {
			return nil, &CantCompile{Op: "send", Why: string(RefuseVisibility)}
		}
	case hostabi.VisProtected:
		// callable, but needs a run-time kind_of? guard against the
		// method's defining class (emitted by the caller).
	default:
		return nil, &CantCompile{Op: "send", Why: string(RefuseVisibility)}
	}

	switch me.Kind {
	case hostabi.MethodISeq, hostabi.MethodCFunc, hostabi.MethodIvarGetter:
		// specializable
	default:
		// MethodOther covers attrset, bmethod, zsuper, optimized, missing,
		// refined, and not-implemented entries — spec §4.5 step 6 refuses
		// all of them uniformly.
		return nil, &CantCompile{Op: "send", Why: string(RefuseEntryKind)}
	}

	return &DispatchPlan{
		Class:                recvClass,
		Method:               me,
		NeedsVisibilityGuard: me.Visibility == hostabi.VisProtected,
		Kind:                 me.Kind,
	}, nil
}

// ArityRegime classifies an iseq's parameter shape against spec §4.5's
// "Interpreted method call" supported regimes: lead-only exact arity, or
// lead+optional.
type ArityRegime uint8

const (
	ArityUnsupported ArityRegime = iota
	ArityExact
	ArityLeadOptional
)

// ClassifyArity rejects rest/post/kw/kwrest params outright (spec: "Any
// other param flags... → refuse"), matching lead-only and lead+optional
// shapes. A tailcall-flagged call site is rejected by the caller via
// CallInfo.Flags (CIFlagTailcall), not here — that's a call-site property,
// not an iseq parameter shape.
func ClassifyArity(p hostabi.ParamFlags) ArityRegime {
	if p.HasRest || p.HasPost || p.HasKw || p.HasKwRest {
		return ArityUnsupported
	}
	if p.Opt > 0 {
		return ArityLeadOptional
	}
	return ArityExact
}

// OptEntryPC returns the iseq's opt-table PC for the given argc under a
// lead+optional regime, or (0, false) if argc falls outside
// [required, required+opt].
func OptEntryPC(iseq *hostabi.Iseq, argc int) (pc int, ok bool) {
	required := iseq.Param.Lead
	opt := iseq.Param.Opt
	if argc < required || argc > required+opt {
		return 0, false
	}
	idx := argc - required
	if idx < 0 || idx >= len(iseq.Param.OptTable) {
		return 0, false
	}
	return iseq.Param.OptTable[idx], true
}

// CanInlineBuiltin reports whether callee is a leaf
// opt_invokebuiltin_delegate_leave+leave body with no block arg and an
// arity that fits in available argument registers — spec §4.5 "Builtin
// inlining". argRegs is how many native argument registers remain free
// after EC/CFP/self occupy their fixed slots.
func CanInlineBuiltin(callee *hostabi.Iseq, hasBlockArg bool, argRegs int) bool {
	if hasBlockArg {
		return false
	}
	if !callee.BuiltinInlineP {
		return false
	}
	return callee.Param.Lead+1 <= argRegs
}
