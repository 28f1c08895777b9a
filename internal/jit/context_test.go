package jit

import "testing"

// TestContextEquivalenceIsStructEquality pins down spec §3's block-version
// dedup invariant: two Contexts reached by different code paths must compare
// equal whenever every tracked field agrees, with no hidden non-comparable
// state sneaking in that would make Equivalent an approximation rather than
// exact identity.
func TestContextEquivalenceIsStructEquality(t *testing.T) {
	a := NewContext()
	b := NewContext()
	if !a.Equivalent(b) {
		t.Fatal("two freshly constructed contexts should be equivalent")
	}

	a.StackPush(Fixnum)
	b.StackPush(Fixnum)
	if !a.Equivalent(b) {
		t.Fatal("pushing the same type onto two equal contexts should keep them equivalent")
	}

	a.StackPush(String)
	if a.Equivalent(b) {
		t.Fatal("contexts with different stack types must not be equivalent")
	}
}

func TestStackPushPopRoundTrips(t *testing.T) {
	c := NewContext()
	op := c.StackPush(Fixnum)
	if got := c.GetOpndType(op); got != Fixnum {
		t.Fatalf("pushed Fixnum, read back %v", got)
	}
	if c.StackSize != 1 {
		t.Fatalf("StackSize = %d, want 1", c.StackSize)
	}
	c.StackPop(1)
	if c.StackSize != 0 {
		t.Fatalf("StackSize after pop = %d, want 0", c.StackSize)
	}
}

func TestUpgradeOpndTypePropagatesToLocal(t *testing.T) {
	c := NewContext()
	c.SetLocalType(0, Unknown)
	op := c.StackPushLocal(0)

	if ok := c.UpgradeOpndType(op, Fixnum); !ok {
		t.Fatal("upgrading an Unknown local-aliased slot to Fixnum should succeed")
	}
	if c.Locals[0] != Fixnum {
		t.Fatalf("Locals[0] = %v, want Fixnum (upgrade should propagate through the Local mapping)", c.Locals[0])
	}
}

func TestSetLocalTypeDowngradesIncompatibleStackAlias(t *testing.T) {
	c := NewContext()
	c.SetLocalType(0, Fixnum)
	op := c.StackPushLocal(0)
	if got := c.GetOpndType(op); got != Fixnum {
		t.Fatalf("stack alias should read the local's type Fixnum, got %v", got)
	}

	// The local is reassigned to an incompatible type; the stale stack alias
	// must be downgraded rather than left to claim the old type (spec §4.2).
	c.SetLocalType(0, Array)
	if got := c.GetOpndType(op); got != Unknown && got != Array {
		t.Fatalf("stale alias after incompatible SetLocalType = %v, want Unknown or the refined type", got)
	}
}

func TestClearLocalTypesForgetsAliases(t *testing.T) {
	c := NewContext()
	c.SetLocalType(0, Fixnum)
	op := c.StackPushLocal(0)

	c.ClearLocalTypes()

	if c.Locals[0] != Unknown {
		t.Fatalf("Locals[0] after ClearLocalTypes = %v, want Unknown", c.Locals[0])
	}
	if m := c.GetOpndMapping(op); m.Kind == MapLocal {
		t.Fatal("stack slot should no longer be Local-mapped after ClearLocalTypes")
	}
}
