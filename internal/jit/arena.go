package jit

import (
	"golang.org/x/sys/unix"

	pkgerrors "github.com/pkg/errors"
)

// codeBuf is one of the two growable, executable byte buffers spec §2's
// Code Arena entry names: "position, label linking, alignment". Both the
// inline buffer I and the outlined buffer O are codeBufs; Arena just gives
// each a name.
type codeBuf struct {
	mem   []byte // mmap'd backing store, len == cap, never reallocated
	pos   int    // next free byte
	frozen int   // bytes below this offset must never be written again (spec §4.9)
	labels map[string]int
}

func newCodeBuf(size int) (*codeBuf, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "jit: mmap code buffer")
	}
	return &codeBuf{mem: mem, labels: make(map[string]int)}, nil
}

// Pos is the current write position, the value a label captures.
func (b *codeBuf) Pos() int { return b.pos }

// Remaining is how many bytes are left before the buffer is full.
func (b *codeBuf) Remaining() int { return len(b.mem) - b.pos }

// WriteByte appends one byte, panicking via Invariant on overflow — callers
// (Assembler) are expected to check Remaining before a multi-byte emit
// sequence so this never actually fires in practice.
func (b *codeBuf) WriteByte(by byte) {
	if b.pos >= len(b.mem) {
		Invariant("code buffer exhausted at pos %d/%d", b.pos, len(b.mem))
	}
	b.mem[b.pos] = by
	b.pos++
}

func (b *codeBuf) WriteBytes(bs []byte) {
	for _, by := range bs {
		b.WriteByte(by)
	}
}

// PatchByte overwrites a single already-emitted byte — used by post-link
// branch patching and by the invalidation engine. Refuses writes below the
// frozen watermark.
func (b *codeBuf) PatchByte(pos int, by byte) {
	if pos < b.frozen {
		Invariant("write to frozen code region at %d (frozen at %d)", pos, b.frozen)
	}
	b.mem[pos] = by
}

func (b *codeBuf) PatchBytes(pos int, bs []byte) {
	for i, by := range bs {
		b.PatchByte(pos+i, by)
	}
}

// Label records the current position under name, for a later Unlink/forward
// reference — spec §2 "label linking".
func (b *codeBuf) Label(name string) int {
	p := b.pos
	b.labels[name] = p
	return p
}

func (b *codeBuf) LabelPos(name string) (int, bool) {
	p, ok := b.labels[name]
	return p, ok
}

// Align pads with single-byte NOPs (0x90) until Pos is a multiple of n.
func (b *codeBuf) Align(n int) {
	for b.pos%n != 0 {
		b.WriteByte(0x90)
	}
}

// Freeze raises the frozen watermark to the current position — everything
// written so far becomes immutable (spec §4.9: "freezes patched regions").
func (b *codeBuf) Freeze() {
	if b.pos > b.frozen {
		b.frozen = b.pos
	}
}

func (b *codeBuf) Bytes() []byte { return b.mem[:b.pos] }

func (b *codeBuf) close() error {
	if b.mem == nil {
		return nil
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// Arena owns the inline (I) and outlined (O) code buffers (spec §2/§4.7):
// hot, straight-line specialized code goes in I; side-exit stubs, rarely
// taken fallback paths, and branch stubs go in O, keeping I dense for
// instruction-cache locality.
//
// Both buffers are mapped PROT_EXEC from the start and never have PROT_EXEC
// dropped: a stricter W^X arena would mprotect(PROT_READ|PROT_WRITE) while
// writing and swap to PROT_EXEC only once code is finalized, flipping back on
// every patch. That's a real hardening option the host could add; this
// arena takes the open simplification of mapping RWX for the arena's
// lifetime, matching the single-process, single-user execution model the
// spec assumes (no untrusted bytecode) — not a spec deviation, since the
// spec never mandates a W^X discipline, only that "inline code, once
// emitted, is append-only except through the invalidation engine" (§4.9).
type Arena struct {
	I *codeBuf
	O *codeBuf
}

// NewArena allocates both buffers, splitting totalMB between them 2:1 in
// favor of inline code (hot path dominates arena pressure in the steady
// state — most outlined space is side-exit stubs, which are small and
// shared-shaped).
func NewArena(totalMB int) (*Arena, error) {
	total := totalMB * 1024 * 1024
	if total <= 0 {
		total = 64 * 1024 * 1024
	}
	inlineSize := total * 2 / 3
	outlinedSize := total - inlineSize

	i, err := newCodeBuf(inlineSize)
	if err != nil {
		return nil, err
	}
	o, err := newCodeBuf(outlinedSize)
	if err != nil {
		i.close()
		return nil, err
	}
	return &Arena{I: i, O: o}, nil
}

// Close unmaps both buffers. Only meaningful for tests and for a clean
// process-exit path; the arena is otherwise a process-wide singleton living
// for the process's lifetime (spec §5 "Shared resources").
func (a *Arena) Close() error {
	err1 := a.I.close()
	err2 := a.O.close()
	if err1 != nil {
		return err1
	}
	return err2
}

// BytesUsed reports combined inline+outlined bytes written, for -jit-stats.
func (a *Arena) BytesUsed() (inline, outlined int) {
	return a.I.Pos(), a.O.Pos()
}
