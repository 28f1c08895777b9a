package hostabi

// HostHooks is the set of host-VM services the JIT calls into at compile
// time (to make specialization decisions) and whose addresses it embeds as
// call targets in generated code (spec §6's "Host helpers"). The JIT never
// implements any of these itself — the object model, GC, and method tables
// they touch are out of scope (spec §1).
type HostHooks interface {
	// ClassOf returns the class of a boxed value.
	ClassOf(v uint64) ClassID
	// KindOf reports whether v is an instance of (or descends from) cls.
	KindOf(v uint64, cls ClassID) bool

	// IvarGet/IvarSet implement the generic (non-specialized) ivar path.
	IvarGet(recv uint64, name string) uint64
	IvarSet(recv uint64, name string, val uint64)
	// IvarIndexLookup returns the embedded/extended-table index for name on
	// cls's default-allocator shape, or (-1, false) if no such shape exists.
	IvarIndexLookup(cls ClassID, name string) (index int, ok bool)

	// ArrayEntry/HashAref back opt_aref's specialized paths.
	ArrayEntry(arr uint64, index int64) uint64
	HashAref(h uint64, key uint64) uint64

	// StrEql backs opt_eq/opt_neq's two-string specialization.
	StrEql(a, b uint64) bool

	// GvarGet/GvarSet are used by the generic fallback paths codegens emit
	// when a specialization's guard chain caps out (spec §4.6).
	GvarGet(name string) uint64
	GvarSet(name string, val uint64)

	// LookupMethod resolves (cls, mid) to a callable method entry, the way
	// spec §4.5 step 4 requires before registering MethodLookupStable.
	LookupMethod(cls ClassID, mid string) (*MethodEntry, bool)
	// ResolveAlias follows an alias method entry to what it ultimately names.
	ResolveAlias(me *MethodEntry) (*MethodEntry, bool)

	// VMDefined implements the `defined?` predicate used by some guards'
	// generic fallback.
	VMDefined(v uint64, what string) bool
}
