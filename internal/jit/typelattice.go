package jit

// ValueType is a node in the compile-time type lattice (spec §3 "Value
// Type"): what the compiler statically knows about a stack slot or local,
// never a runtime value itself (see value.go's HostValue for that).
//
//	              Unknown (⊤)
//	             /        \
//	      Immediate        Heap
//	     /  |  |  \  \      |  \  \
//	  Nil True False Fixnum Flonum StaticSymbol   Array Hash String HeapGeneric
type ValueType uint8

const (
	Unknown ValueType = iota
	Immediate
	Heap
	Nil
	True
	False
	Fixnum
	Flonum
	StaticSymbol
	Array
	HashT
	String
	HeapGeneric
)

var parent = [...]ValueType{
	Unknown:      Unknown, // ⊤ is its own parent
	Immediate:    Unknown,
	Heap:         Unknown,
	Nil:          Immediate,
	True:         Immediate,
	False:        Immediate,
	Fixnum:       Immediate,
	Flonum:       Immediate,
	StaticSymbol: Immediate,
	Array:        Heap,
	HashT:        Heap,
	String:       Heap,
	HeapGeneric:  Heap,
}

func (t ValueType) String() string {
	names := [...]string{
		Unknown: "Unknown", Immediate: "Immediate", Heap: "Heap", Nil: "Nil",
		True: "True", False: "False", Fixnum: "Fixnum", Flonum: "Flonum",
		StaticSymbol: "StaticSymbol", Array: "Array", HashT: "Hash",
		String: "String", HeapGeneric: "HeapGeneric",
	}
	if int(t) < len(names) {
		return names[t]
	}
	return "?"
}

// ancestors returns t and every type it refines, root (Unknown) last.
func ancestors(t ValueType) []ValueType {
	chain := []ValueType{t}
	for t != Unknown {
		t = parent[t]
		chain = append(chain, t)
	}
	return chain
}

// IsSubtype reports whether a is t or a refinement of t (a ⊑ t).
func IsSubtype(a, t ValueType) bool {
	for _, anc := range ancestors(a) {
		if anc == t {
			return true
		}
	}
	return false
}

// Join widens a and b to their nearest common supertype, per spec §3's
// join(a,b). Join is commutative and associative; Join(t, t) == t.
func Join(a, b ValueType) ValueType {
	if a == b {
		return a
	}
	ancA := ancestors(a)
	inA := make(map[ValueType]bool, len(ancA))
	for _, t := range ancA {
		inA[t] = true
	}
	for _, t := range ancestors(b) {
		if inA[t] {
			return t
		}
	}
	return Unknown
}

// Refine narrows slot to t, returning the refined type and ok=true, or the
// original type and ok=false if t is incompatible with the slot's current
// type (the caller must emit a run-time guard in that case — spec §3's
// refine(slot, t): "fails if incompatible").
//
// t is compatible with current iff one is a subtype of the other: narrowing
// Unknown to Fixnum is fine (that's what a guard does); narrowing Fixnum to
// String is not (those types are disjoint) and Refine reports ok=false.
func Refine(current, t ValueType) (ValueType, bool) {
	if IsSubtype(t, current) {
		return t, true
	}
	if IsSubtype(current, t) {
		return current, true // already at least as refined
	}
	return current, false
}

func IsHeapType(t ValueType) bool {
	return IsSubtype(t, Heap)
}

func IsImmediateType(t ValueType) bool {
	return IsSubtype(t, Immediate)
}

// TypeOf classifies a concrete HostValue into the lattice, used when a
// deferred compile observes a live value (spec §4.3 step 1, §4.5 step 2).
func TypeOf(v HostValue) ValueType {
	switch {
	case IsNil(v):
		return Nil
	case IsTrue(v):
		return True
	case IsFalse(v):
		return False
	case IsFixnum(v):
		return Fixnum
	case IsSymbol(v):
		return StaticSymbol
	case IsFlonum(v):
		return Flonum
	case IsHeapPtr(v):
		return HeapGeneric // refined to Array/Hash/String by the caller via ObjectType
	default:
		return Unknown
	}
}
