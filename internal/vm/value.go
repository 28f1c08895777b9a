// Package vm is the host half of the spec's split: a bytecode interpreter
// and object model implementing hostabi.HostHooks, driving an
// internal/jit.Runtime the way spec §6 describes the embedder doing it.
// Nothing in internal/jit imports this package — the dependency runs one
// way, interpreter -> JIT, exactly like the teacher's own vm/compiler split.
package vm

import (
	"fmt"

	"sentrajit/internal/hostabi"
	"sentrajit/internal/jit"
)

// Object is the heap representation every HostValue heap-pointer tag
// resolves to. A single struct covers every heap kind the lattice
// distinguishes (string/array/hash/generic) rather than one Go type per
// kind, because the interpreter boxes and unboxes them all through the
// same untyped jit.HostValue handle the JIT's guards compare against.
type Object struct {
	Class *Class
	Str   string
	Arr   []jit.HostValue
	Hash  map[jit.HostValue]jit.HostValue
	Ivars map[string]jit.HostValue
}

// Class is the host's minimal class record: just enough for method lookup,
// ivar shape lookup, and ancestry checks. The JIT never looks inside this —
// it only ever holds a hostabi.ClassID and asks Host about it.
type Class struct {
	ID        hostabi.ClassID
	Name      string
	Super     *Class
	Methods   map[string]*hostabi.MethodEntry
	IvarShape map[string]int
}

func (c *Class) lookupOwn(mid string) (*hostabi.MethodEntry, bool) {
	me, ok := c.Methods[mid]
	return me, ok
}

// Host is the object model + globals + constant table backing a VM. It
// implements hostabi.HostHooks, the boundary spec §6 draws between the JIT
// and "the rest of the interpreter".
type Host struct {
	nextClassID hostabi.ClassID
	classes     map[hostabi.ClassID]*Class
	classNames  map[string]*Class

	objects []*Object // heap registry; index+1 is the handle packed into a HostValue

	gvars  map[string]jit.HostValue // $global variables
	consts map[string]jit.HostValue // top-level constants, spec §4.4's opt_getinlinecache target

	ObjectClass  *Class
	IntegerClass *Class
	FloatClass   *Class
	StringClass  *Class
	ArrayClass   *Class
	HashClass    *Class
	NilClass     *Class
	TrueClass    *Class
	FalseClass   *Class
	SymbolClass  *Class

	// invalidateMethod/invalidateOp are the JIT's callbacks into its own
	// assumption machinery (spec §4.8/§8 "Monkey patch invalidation"), wired
	// by NewVM once the Runtime exists so a redefinition reaching DefineMethod
	// ordinarily invalidates compiled code without any caller having to know
	// jit.Runtime exists.
	invalidateMethod   func(class uint64, methodID string)
	invalidateOp       func(class uint64, op string)
	invalidateConstant func(constantID string)
}

// SetInvalidationHooks wires this Host's redefinition paths back into a
// jit.Runtime's assumption invalidation, the way spec §6 has the host
// embedder notify the JIT of anything that could falsify an already-compiled
// guard. Called once, from NewVM, right after the Runtime is built.
func (h *Host) SetInvalidationHooks(invalidateMethod func(class uint64, methodID string), invalidateOp func(class uint64, op string), invalidateConstant func(constantID string)) {
	h.invalidateMethod = invalidateMethod
	h.invalidateOp = invalidateOp
	h.invalidateConstant = invalidateConstant
}

// DefineConstant sets name's value the first time it's assigned; it never
// invalidates anything because nothing could have compiled against it yet.
func (h *Host) DefineConstant(name string, val jit.HostValue) {
	h.consts[name] = val
}

// SetConstant reassigns an existing top-level constant (spec §4.8's
// StableConstantState callback: "a constant this JIT inlined the value of
// was reassigned"). Any block that inlined the old value via
// opt_getinlinecache needs to hear about it before it runs again.
func (h *Host) SetConstant(name string, val jit.HostValue) {
	_, existed := h.consts[name]
	h.consts[name] = val
	if existed && h.invalidateConstant != nil {
		h.invalidateConstant(constCacheID(name))
	}
}

func (h *Host) constant(name string) (jit.HostValue, bool) {
	v, ok := h.consts[name]
	return v, ok
}

// constCacheID is this host's cache-key scheme for a named constant, the
// counterpart of the JIT side's per-operand constantCacheID (opcodes_ivar.go)
// — a real embedding would key both off the same inline-cache slot; this one
// keys off the name since that's all the interpreter's OpOptGetInlineCache
// handling resolves through Host.constant.
func constCacheID(name string) string { return "ic#" + name }

// coreOps is the set of operator method names opt_plus/opt_lt/&c. specialize
// (spec §4.6); redefining one of these also needs BasicOpNotRedefined
// invalidated, not just the ordinary MethodLookupStable every redefinition
// triggers.
var coreOps = map[string]bool{
	"+": true, "-": true, "<": true, "<=": true, ">": true, ">=": true,
	"==": true, "!=": true, "&": true, "|": true, "[]": true,
}

// NewHost builds the small core-class hierarchy every compiled program
// needs something to dispatch against: Object at the root, then the
// handful of built-in classes the spec's fast-path opcodes assume exist
// (Integer for opt_plus/opt_lt/&c., Array/Hash for opt_aref, String for
// opt_eq's string specialization).
func NewHost() *Host {
	h := &Host{
		classes:    make(map[hostabi.ClassID]*Class),
		classNames: make(map[string]*Class),
		gvars:      make(map[string]jit.HostValue),
		consts:     make(map[string]jit.HostValue),
	}

	h.ObjectClass = h.DefineClass("Object", nil)
	h.IntegerClass = h.DefineClass("Integer", h.ObjectClass)
	h.FloatClass = h.DefineClass("Float", h.ObjectClass)
	h.StringClass = h.DefineClass("String", h.ObjectClass)
	h.ArrayClass = h.DefineClass("Array", h.ObjectClass)
	h.HashClass = h.DefineClass("Hash", h.ObjectClass)
	h.NilClass = h.DefineClass("NilClass", h.ObjectClass)
	h.TrueClass = h.DefineClass("TrueClass", h.ObjectClass)
	h.FalseClass = h.DefineClass("FalseClass", h.ObjectClass)
	h.SymbolClass = h.DefineClass("Symbol", h.ObjectClass)

	return h
}

// DefineClass registers a new class with a fresh ClassID. super may be nil
// only for Object itself.
func (h *Host) DefineClass(name string, super *Class) *Class {
	h.nextClassID++
	c := &Class{
		ID:        h.nextClassID,
		Name:      name,
		Super:     super,
		Methods:   make(map[string]*hostabi.MethodEntry),
		IvarShape: make(map[string]int),
	}
	h.classes[c.ID] = c
	h.classNames[name] = c
	return c
}

func (h *Host) ClassByName(name string) (*Class, bool) {
	c, ok := h.classNames[name]
	return c, ok
}

// DefineMethod installs me under mid on class c. Owner/DefinedClass default
// to c so embedders only need to fill them in for aliases pointing
// elsewhere. Overwriting an existing entry is a monkey patch (spec §4.8,
// §8 "Monkey patch invalidation"): anything already compiled against the old
// lookup result needs to hear about it before this method runs again.
func (h *Host) DefineMethod(c *Class, mid string, me *hostabi.MethodEntry) {
	_, redefined := c.Methods[mid]

	if me.Owner == 0 {
		me.Owner = c.ID
	}
	if me.DefinedClass == 0 {
		me.DefinedClass = c.ID
	}
	me.CalledID = mid
	me.Serial++
	c.Methods[mid] = me

	if redefined && h.invalidateMethod != nil {
		h.invalidateMethod(uint64(c.ID), mid)
		if coreOps[mid] && h.invalidateOp != nil {
			h.invalidateOp(uint64(c.ID), mid)
		}
	}
}

// DefineIvarSlot reserves index i for name on c's default-allocator shape
// (spec §6's ivar_index_table), used by IvarIndexLookup.
func (h *Host) DefineIvarSlot(c *Class, name string, index int) {
	c.IvarShape[name] = index
}

// --- heap object allocation / handle packing ---

func (h *Host) alloc(o *Object) jit.HostValue {
	h.objects = append(h.objects, o)
	handle := uintptr(len(h.objects)) // 1-based; 0 would collide with a nil box
	return jit.BoxHeapPtr(handle)
}

func (h *Host) object(v jit.HostValue) *Object {
	handle := jit.UnboxHeapPtr(v)
	if handle == 0 || int(handle) > len(h.objects) {
		return nil
	}
	return h.objects[handle-1]
}

func (h *Host) NewString(s string) jit.HostValue {
	return h.alloc(&Object{Class: h.StringClass, Str: s})
}

func (h *Host) NewArray(elems []jit.HostValue) jit.HostValue {
	return h.alloc(&Object{Class: h.ArrayClass, Arr: elems})
}

func (h *Host) NewHash() jit.HostValue {
	return h.alloc(&Object{Class: h.HashClass, Hash: make(map[jit.HostValue]jit.HostValue)})
}

// NewInstance allocates a bare instance of c with no ivars set — the
// generic (non-specialized) object shape every non-builtin class uses.
func (h *Host) NewInstance(c *Class) jit.HostValue {
	return h.alloc(&Object{Class: c, Ivars: make(map[string]jit.HostValue)})
}

// Inspect renders v the way the CLI's -jit-dump and REPL-less runner print
// results: not a full pretty-printer, just enough to see what happened.
func (h *Host) Inspect(v jit.HostValue) string {
	switch {
	case jit.IsNil(v):
		return "nil"
	case jit.IsTrue(v):
		return "true"
	case jit.IsFalse(v):
		return "false"
	case jit.IsFixnum(v):
		return fmt.Sprintf("%d", jit.UnboxFixnum(v))
	case jit.IsSymbol(v):
		return fmt.Sprintf(":sym%d", jit.UnboxHeapPtr(v))
	case jit.IsFlonum(v):
		return fmt.Sprintf("%g", jit.UnboxFlonum(v))
	case jit.IsHeapPtr(v):
		obj := h.object(v)
		if obj == nil {
			return "<invalid>"
		}
		switch obj.Class {
		case h.StringClass:
			return obj.Str
		case h.ArrayClass:
			s := "["
			for i, e := range obj.Arr {
				if i > 0 {
					s += ", "
				}
				s += h.Inspect(e)
			}
			return s + "]"
		default:
			return fmt.Sprintf("#<%s>", obj.Class.Name)
		}
	default:
		return "<unknown>"
	}
}

// --- hostabi.HostHooks ---

func (h *Host) ClassOf(v uint64) hostabi.ClassID {
	hv := jit.HostValue(v)
	switch {
	case jit.IsNil(hv):
		return h.NilClass.ID
	case jit.IsTrue(hv):
		return h.TrueClass.ID
	case jit.IsFalse(hv):
		return h.FalseClass.ID
	case jit.IsFixnum(hv):
		return h.IntegerClass.ID
	case jit.IsSymbol(hv):
		return h.SymbolClass.ID
	case jit.IsFlonum(hv):
		return h.FloatClass.ID
	case jit.IsHeapPtr(hv):
		if obj := h.object(hv); obj != nil {
			return obj.Class.ID
		}
		return h.ObjectClass.ID
	default:
		return h.ObjectClass.ID
	}
}

func (h *Host) KindOf(v uint64, cls hostabi.ClassID) bool {
	c := h.classes[h.ClassOf(v)]
	for c != nil {
		if c.ID == cls {
			return true
		}
		c = c.Super
	}
	return false
}

func (h *Host) IvarGet(recv uint64, name string) uint64 {
	obj := h.object(jit.HostValue(recv))
	if obj == nil || obj.Ivars == nil {
		return uint64(jit.TagNil)
	}
	if v, ok := obj.Ivars[name]; ok {
		return uint64(v)
	}
	return uint64(jit.TagNil)
}

func (h *Host) IvarSet(recv uint64, name string, val uint64) {
	obj := h.object(jit.HostValue(recv))
	if obj == nil {
		return
	}
	if obj.Ivars == nil {
		obj.Ivars = make(map[string]jit.HostValue)
	}
	obj.Ivars[name] = jit.HostValue(val)
}

func (h *Host) IvarIndexLookup(cls hostabi.ClassID, name string) (int, bool) {
	c, ok := h.classes[cls]
	if !ok {
		return -1, false
	}
	idx, ok := c.IvarShape[name]
	return idx, ok
}

func (h *Host) ArrayEntry(arr uint64, index int64) uint64 {
	obj := h.object(jit.HostValue(arr))
	if obj == nil {
		return uint64(jit.TagNil)
	}
	i := index
	if i < 0 {
		i += int64(len(obj.Arr))
	}
	if i < 0 || i >= int64(len(obj.Arr)) {
		return uint64(jit.TagNil)
	}
	return uint64(obj.Arr[i])
}

func (h *Host) HashAref(hv uint64, key uint64) uint64 {
	obj := h.object(jit.HostValue(hv))
	if obj == nil || obj.Hash == nil {
		return uint64(jit.TagNil)
	}
	if v, ok := obj.Hash[jit.HostValue(key)]; ok {
		return uint64(v)
	}
	return uint64(jit.TagNil)
}

func (h *Host) StrEql(a, b uint64) bool {
	oa, ob := h.object(jit.HostValue(a)), h.object(jit.HostValue(b))
	if oa == nil || ob == nil {
		return false
	}
	return oa.Str == ob.Str
}

func (h *Host) GvarGet(name string) uint64 {
	if v, ok := h.gvars[name]; ok {
		return uint64(v)
	}
	return uint64(jit.TagNil)
}

func (h *Host) GvarSet(name string, val uint64) {
	h.gvars[name] = jit.HostValue(val)
}

func (h *Host) LookupMethod(cls hostabi.ClassID, mid string) (*hostabi.MethodEntry, bool) {
	c, ok := h.classes[cls]
	if !ok {
		return nil, false
	}
	for c != nil {
		if me, ok := c.lookupOwn(mid); ok {
			return me, true
		}
		c = c.Super
	}
	return nil, false
}

func (h *Host) ResolveAlias(me *hostabi.MethodEntry) (*hostabi.MethodEntry, bool) {
	if me.AliasOf == nil {
		return nil, false
	}
	return me.AliasOf, true
}

func (h *Host) VMDefined(v uint64, what string) bool {
	switch what {
	case "nil":
		return jit.IsNil(jit.HostValue(v))
	case "instance_variable":
		return h.object(jit.HostValue(v)) != nil
	default:
		return false
	}
}
