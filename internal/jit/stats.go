package jit

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats is the snapshot -jit-stats prints: arena pressure, version-index
// size, and how often invalidation/side-exit paths actually fired. Nothing
// here feeds back into compilation decisions — it exists purely for the
// human on the other end of the CLI flag (spec §5's CLI/config table).
type Stats struct {
	InlineBytesUsed    int
	OutlinedBytesUsed  int
	InlineBytesTotal   int
	OutlinedBytesTotal int

	BlockCount    int
	VersionGroups int // distinct (iseq,index) entry points with at least one version

	SideExitHits      uint64
	InvalidationCount uint64
	TracingEnables    uint64
}

// statCounters holds the process-wide locked counters spec §5 calls for
// ("profiling counter array is mutated with a locked add instruction,
// making it ractor-safe without other synchronization") generalized from
// per-site call counts to the handful of JIT-wide events Stats reports.
type statCounters struct {
	sideExitHits      uint64
	invalidationCount uint64
	tracingEnables    uint64
}

func (c *statCounters) bumpSideExit()   { atomic.AddUint64(&c.sideExitHits, 1) }
func (c *statCounters) bumpInvalidate() { atomic.AddUint64(&c.invalidationCount, 1) }
func (c *statCounters) bumpTracing()    { atomic.AddUint64(&c.tracingEnables, 1) }

// Stats computes a fresh snapshot. Safe to call concurrently with
// compilation; the byte/block counts are a racy read of in-progress arena
// state (acceptable for a reporting-only path, spec never requires stats to
// be linearizable with compilation).
func (r *Runtime) Stats() Stats {
	inlineUsed, outlinedUsed := r.arena.BytesUsed()

	r.mu.Lock()
	blockCount := len(r.blocks)
	r.mu.Unlock()

	groups := make(map[entryKey]bool)
	for k := range r.index.byKey {
		groups[entryKey{k.Iseq, k.Index}] = true
	}

	return Stats{
		InlineBytesUsed:    inlineUsed,
		OutlinedBytesUsed:  outlinedUsed,
		InlineBytesTotal:   len(r.arena.I.mem),
		OutlinedBytesTotal: len(r.arena.O.mem),
		BlockCount:         blockCount,
		VersionGroups:      len(groups),
		SideExitHits:       atomic.LoadUint64(&r.counters.sideExitHits),
		InvalidationCount:  atomic.LoadUint64(&r.counters.invalidationCount),
		TracingEnables:     atomic.LoadUint64(&r.counters.tracingEnables),
	}
}

// String renders a Stats snapshot the way the teacher's CLI renders its own
// summary tables: one metric per line, byte counts humanized.
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "jit stats:\n")
	fmt.Fprintf(&b, "  inline arena:   %s / %s\n", humanize.IBytes(uint64(s.InlineBytesUsed)), humanize.IBytes(uint64(s.InlineBytesTotal)))
	fmt.Fprintf(&b, "  outlined arena: %s / %s\n", humanize.IBytes(uint64(s.OutlinedBytesUsed)), humanize.IBytes(uint64(s.OutlinedBytesTotal)))
	fmt.Fprintf(&b, "  block versions: %d across %d call sites\n", s.BlockCount, s.VersionGroups)
	fmt.Fprintf(&b, "  side exits:     %d\n", s.SideExitHits)
	fmt.Fprintf(&b, "  invalidations:  %d\n", s.InvalidationCount)
	fmt.Fprintf(&b, "  tracing enables: %d\n", s.TracingEnables)
	return b.String()
}
