package jit

// MaxTemps and MaxLocals bound how many stack slots / locals the Context
// tracks precisely (spec §3: "for up to MAX_TEMPS topmost stack entries").
// Keeping the Context small and fixed-size is what makes Context equality
// (and therefore block-version deduplication) cheap: it's a value compare,
// not a tree walk. Slots beyond these bounds are treated as Unknown/Stack —
// conservative, never unsound.
const (
	MaxTemps  = 8
	MaxLocals = 8
)

// Opnd is an abstract operand: a reference to a tracked location the codegen
// can query the type/mapping of and later materialize into a real memory
// address via Assembler.
type Opnd struct {
	// Idx is the index into Temps for a MapStack-rooted operand, or -1 if
	// this operand names something outside the tracked window (still a
	// valid operand — just one whose type is always Unknown).
	Idx int
}

// temp is one tracked stack slot.
type temp struct {
	Type    ValueType
	Mapping Mapping
}

// Context is the compile-time abstract interpreter state at one point in a
// block version (spec §3 "Context"). Two Contexts are *equivalent* iff every
// field compares equal (Go struct equality, since every field is a
// fixed-size array or scalar) — that equivalence is the dedup key for block
// versions (spec §3 invariant).
type Context struct {
	StackSize  int
	Temps      [MaxTemps]temp
	Locals     [MaxLocals]ValueType
	SelfType   ValueType
	SPOffset   int
	ChainDepth uint8
}

// NewContext returns the empty entry Context for a fresh block (all types
// Unknown, sp_offset 0, chain_depth 0).
func NewContext() Context {
	var c Context
	c.SelfType = Unknown
	for i := range c.Locals {
		c.Locals[i] = Unknown
	}
	for i := range c.Temps {
		c.Temps[i] = temp{Type: Unknown, Mapping: StackMapping()}
	}
	return c
}

// tempIndex returns the Temps index for the slot n entries below the current
// top (0 = top of stack), or -1 if that slot falls outside the tracked
// window.
func (c *Context) tempIndex(n int) int {
	pos := c.StackSize - 1 - n
	if pos < 0 {
		return -1
	}
	depth := c.StackSize - 1 - pos // distance from top, i.e. n again, kept
	// explicit for clarity when StackSize grows past MaxTemps: only the
	// top MaxTemps slots are addressable by index into Temps.
	_ = depth
	if n >= MaxTemps {
		return -1
	}
	return MaxTemps - 1 - n
}

// StackPush writes a new top slot of type ty with a plain Stack mapping and
// returns an operand addressing it. Every push increments SPOffset (the push
// is not reflected in the real stack pointer); StackPop is the only thing that
// lowers it again, and never below zero.
func (c *Context) StackPush(ty ValueType) Opnd {
	return c.stackPushMapped(ty, StackMapping())
}

func (c *Context) StackPushSelf() Opnd {
	return c.stackPushMapped(c.SelfType, SelfMapping())
}

func (c *Context) StackPushLocal(i int) Opnd {
	ty := Unknown
	if i >= 0 && i < MaxLocals {
		ty = c.Locals[i]
	}
	return c.stackPushMapped(ty, LocalMapping(i))
}

func (c *Context) stackPushMapped(ty ValueType, m Mapping) Opnd {
	// Shift the tracked window down by one before inserting the new top,
	// dropping the now-out-of-window bottom slot (conservative: that slot
	// becomes unaddressable, never incorrect, since we never forget it was
	// *some* value — StackSize still counts it).
	for i := 0; i < MaxTemps-1; i++ {
		c.Temps[i] = c.Temps[i+1]
	}
	c.Temps[MaxTemps-1] = temp{Type: ty, Mapping: m}
	c.StackSize++
	c.SPOffset++
	return Opnd{Idx: MaxTemps - 1}
}

// StackPop decreases stack height by n, forgetting mappings for the popped
// slots (spec §4.2).
func (c *Context) StackPop(n int) {
	for i := 0; i < n; i++ {
		for j := MaxTemps - 1; j > 0; j-- {
			c.Temps[j] = c.Temps[j-1]
		}
		c.Temps[0] = temp{Type: Unknown, Mapping: StackMapping()}
		if c.StackSize > 0 {
			c.StackSize--
		}
		if c.SPOffset > 0 {
			c.SPOffset--
		}
	}
}

// StackOpnd returns an operand addressing the nth topmost stack entry
// (0 = top).
func (c *Context) StackOpnd(n int) Opnd {
	return Opnd{Idx: c.tempIndex(n)}
}

// SPOpnd returns an operand for an SP-relative byte address, for codegens
// that need to address below the tracked window (spec §4.2 sp_opnd).
func (c *Context) SPOpnd(byteDelta int) Opnd {
	return Opnd{Idx: -1}
}

func (c *Context) GetOpndType(o Opnd) ValueType {
	if o.Idx < 0 || o.Idx >= MaxTemps {
		return Unknown
	}
	return c.Temps[o.Idx].Type
}

func (c *Context) GetOpndMapping(o Opnd) Mapping {
	if o.Idx < 0 || o.Idx >= MaxTemps {
		return StackMapping()
	}
	return c.Temps[o.Idx].Mapping
}

func (c *Context) SetOpndMapping(o Opnd, m Mapping) {
	if o.Idx < 0 || o.Idx >= MaxTemps {
		return
	}
	c.Temps[o.Idx].Mapping = m
}

// UpgradeOpndType narrows the type of the slot o refers to, and — because
// that slot might be a Local/Self alias — propagates the same narrowing to
// its aliased location (spec §4.2: "propagates through Local/Self aliases").
// Returns false if the narrowing is incompatible (caller must guard instead).
func (c *Context) UpgradeOpndType(o Opnd, t ValueType) bool {
	if o.Idx < 0 || o.Idx >= MaxTemps {
		return true // can't refine what we don't track; not unsound, just a no-op
	}
	cur := c.Temps[o.Idx].Type
	refined, ok := Refine(cur, t)
	if !ok {
		return false
	}
	c.Temps[o.Idx].Type = refined

	switch m := c.Temps[o.Idx].Mapping; m.Kind {
	case MapSelf:
		if r, ok2 := Refine(c.SelfType, t); ok2 {
			c.SelfType = r
		}
	case MapLocal:
		if m.Local >= 0 && m.Local < MaxLocals {
			if r, ok2 := Refine(c.Locals[m.Local], t); ok2 {
				c.Locals[m.Local] = r
			}
		}
	}
	return true
}

// SetLocalType sets local i's type and invalidates every stack slot mapped
// to that local whose current type is incompatible with the new type (spec
// §4.2). This is what setlocal_wc0 uses after a store: the local's new type
// is authoritative; any stale alias that disagrees gets downgraded rather
// than left to lie.
func (c *Context) SetLocalType(i int, t ValueType) {
	if i < 0 || i >= MaxLocals {
		return
	}
	c.Locals[i] = t
	for idx := range c.Temps {
		m := c.Temps[idx].Mapping
		if m.Kind == MapLocal && m.Local == i {
			if _, ok := Refine(c.Temps[idx].Type, t); !ok {
				c.Temps[idx] = temp{Type: Unknown, Mapping: StackMapping()}
			} else {
				c.Temps[idx].Type = t
			}
		}
	}
}

// ClearLocalTypes forgets all local types and downgrades every Local(i)
// mapping in the stack to plain Stack/Unknown (spec §4.2 invariant). Must be
// called after any operation that may have executed host code reaching the
// local frame (a call, a C function, anything that can observe or rebind
// locals via a binding).
func (c *Context) ClearLocalTypes() {
	for i := range c.Locals {
		c.Locals[i] = Unknown
	}
	for i := range c.Temps {
		if c.Temps[i].Mapping.Kind == MapLocal {
			c.Temps[i] = temp{Type: Unknown, Mapping: StackMapping()}
		}
	}
}

// Equivalent reports whether c and other are the same Context under spec
// §3's invariant (all fields equal). Go struct `==` already does this
// since every field is a comparable fixed-size value — Equivalent exists so
// callers don't need to know that.
func (c Context) Equivalent(other Context) bool {
	return c == other
}

// WithDeeperChain returns a copy of c with ChainDepth incremented, used when
// creating the Context a guard-chain stub passes to its hit handler (spec
// §4.6).
func (c Context) WithDeeperChain() Context {
	c.ChainDepth++
	return c
}
