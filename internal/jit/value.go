package jit

import "math"

// HostValue is the run-time, NaN-boxed 64-bit encoding the JIT's generated
// code and guards manipulate directly. It mirrors the tagging scheme the
// teacher's register VM used for its values (vmregister/value.go), trimmed to
// exactly the tags the spec's Value Type lattice (§3) distinguishes: no
// classes, no fibers, no modules — those belong to the host's object model,
// which is out of scope (spec §1). HostValue is the *runtime* encoding;
// ValueType (typelattice.go) is *compile-time knowledge about* a HostValue.
//
// Encoding:
//   Numbers (raw float64 bits): any bit pattern not matching a tag below
//   Nil:      0x7FF8_0000_0000_0000
//   False:    0x7FF8_0000_0000_0001
//   True:     0x7FF8_0000_0000_0002
//   Fixnum:   0x7FFE_0000_0000_0000 | (int48 & 0xFFFF_FFFF_FFFF)
//   Symbol:   0x7FFD_0000_0000_0000 | (symbol-id & 0xFFFF_FFFF_FFFF)
//   Heap ptr: 0x7FFC_0000_0000_0000 | (ptr48 & 0xFFFF_FFFF_FFFF)
//
// Flonum (Float) does not get its own tag: unlike small integers, a float64
// cannot be packed losslessly into 48 bits, so a Flonum HostValue is just the
// float64's bits reinterpreted as a HostValue whenever those bits are not
// already one of the tags above (this is why NaN-producing float ops must be
// canonicalized before boxing — see BoxFlonum).
type HostValue uint64

const (
	tagMask  HostValue = 0xFFFF_0000_0000_0000
	payload48 HostValue = 0x0000_FFFF_FFFF_FFFF

	TagNil     HostValue = 0x7FF8_0000_0000_0000
	TagFalse   HostValue = 0x7FF8_0000_0000_0001
	TagTrue    HostValue = 0x7FF8_0000_0000_0002
	TagFixnum  HostValue = 0x7FFE_0000_0000_0000
	TagSymbol  HostValue = 0x7FFD_0000_0000_0000
	TagHeapPtr HostValue = 0x7FFC_0000_0000_0000

	fixnumSignBit HostValue = 0x0000_8000_0000_0000
)

// ObjectType discriminates the heap-allocated kinds the lattice tracks.
type ObjectType uint8

const (
	ObjString ObjectType = iota
	ObjArray
	ObjHash
	ObjHeapGeneric
)

// HeapObject is the minimal header every heap pointer a HostValue can carry
// must embed — enough for the JIT's guards (class/shape identity) and for
// the host's GC-pointer bookkeeping (spec §9 "Embedded GC pointers"). The
// JIT never reads the rest of the object; that's the host's object model.
type HeapObject struct {
	Type  ObjectType
	Class hostClassID
}

type hostClassID = uint64

func isTagged(v HostValue) bool {
	return v&tagMask == TagNil&tagMask ||
		v&tagMask == TagFixnum&tagMask ||
		v&tagMask == TagSymbol&tagMask ||
		v&tagMask == TagHeapPtr&tagMask
}

// IsNil, IsTrue, IsFalse, IsFixnum, IsSymbol, IsHeapPtr classify a HostValue
// by its tag bits. IsFlonum is whatever remains once every other tag is
// ruled out: any float64 bit pattern that doesn't collide with the tags
// above is, by construction, a flonum.
func IsNil(v HostValue) bool   { return v == TagNil }
func IsFalse(v HostValue) bool { return v == TagFalse }
func IsTrue(v HostValue) bool  { return v == TagTrue }

func IsFixnum(v HostValue) bool {
	return v&tagMask == TagFixnum&tagMask
}

func IsSymbol(v HostValue) bool {
	return v&tagMask == TagSymbol&tagMask
}

func IsHeapPtr(v HostValue) bool {
	return v&tagMask == TagHeapPtr&tagMask
}

func IsFlonum(v HostValue) bool {
	return !isTagged(v)
}

func IsImmediate(v HostValue) bool {
	return IsNil(v) || IsTrue(v) || IsFalse(v) || IsFixnum(v) || IsSymbol(v) || IsFlonum(v)
}

func IsHeap(v HostValue) bool { return IsHeapPtr(v) }

// BoxFixnum/UnboxFixnum convert between a sign-extended 48-bit integer and
// its tagged HostValue.
func BoxFixnum(i int64) HostValue {
	return TagFixnum | (HostValue(i) & payload48)
}

func UnboxFixnum(v HostValue) int64 {
	p := v & payload48
	if p&fixnumSignBit != 0 {
		p |= ^payload48 // sign-extend
	}
	return int64(p)
}

// BoxFlonum canonicalizes a float64 into a HostValue, forcing it off any of
// the tag patterns above (mirrors how NaN-boxing VMs quiet/retag a NaN
// payload that would otherwise collide with a sentinel).
func BoxFlonum(f float64) HostValue {
	v := HostValue(math.Float64bits(f))
	if isTagged(v) {
		// Collides with a sentinel tag; canonicalize to a quiet NaN whose
		// top 16 bits (0x7FF9) are outside our tag space. Loses the NaN's
		// payload bits. (math.NaN()'s own bits equal TagFalse, so it cannot
		// be used here.)
		return HostValue(0x7FF9_0000_0000_0000)
	}
	return v
}

func UnboxFlonum(v HostValue) float64 {
	return math.Float64frombits(uint64(v))
}

func BoxBool(b bool) HostValue {
	if b {
		return TagTrue
	}
	return TagFalse
}

func BoxHeapPtr(ptr uintptr) HostValue {
	return TagHeapPtr | (HostValue(ptr) & payload48)
}

func UnboxHeapPtr(v HostValue) uintptr {
	return uintptr(v & payload48)
}

// Truthy implements the host's truthiness rule: everything but nil and false
// is truthy, matching the `branchif`/`branchunless` bitmask check of spec
// §4.4 ("compare against the truthy/nil bitmask").
func Truthy(v HostValue) bool {
	return v != TagNil && v != TagFalse
}
