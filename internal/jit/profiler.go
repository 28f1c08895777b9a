package jit

import "sync"

// CompilationTier distinguishes "not yet worth compiling" from "compile it"
// — generalized from the teacher's two-tier (quick/optimized) loop JIT down
// to the single trigger a BBV compiler needs: spec §4.3 compiles a block's
// first version at first execution, so there's no second tier to promote
// into. Nothing in this tree reads or records a tier: Stats reports no
// per-tier counts, and compile results carry no tier.
type CompilationTier int

const (
	TierInterpreted CompilationTier = iota
	TierBaseline                    // first version of a block, compiled on first hit
	TierOptimized                   // a specialized version compiled after a stub observed live types
)

// CallThreshold is how many times a (bytecode, index) pair must execute in
// the interpreter before the JIT requests compilation of its entry block
// (spec §2 "the interpreter requests compilation for a (bytecode, index)
// pair" — the threshold itself is a host-tunable policy knob, not part of
// the core's soundness).
const CallThreshold = 1

// TypeFeedback records the distinct ValueTypes observed at one bytecode
// index across interpreted executions. No compile path reads it: the entry
// Context for a block comes from the caller of CompileEntry.
type TypeFeedback struct {
	SeenTypes    [4]ValueType
	Counts       [4]uint32
	TotalSamples uint32
}

// Dominant returns the most-sampled type, or Unknown if no single type
// dominates clearly enough to bet a guard on.
func (tf *TypeFeedback) Dominant() ValueType {
	if tf == nil || tf.TotalSamples == 0 {
		return Unknown
	}
	best, bestCount := Unknown, uint32(0)
	for i := 0; i < 4; i++ {
		if tf.Counts[i] > bestCount {
			best, bestCount = tf.SeenTypes[i], tf.Counts[i]
		}
	}
	return best
}

// Profiler is the interpreter-side counter array (spec §5 "Shared
// resources": "The profiling counter array is mutated with a locked add
// instruction, making it ractor-safe"). A sync.RWMutex stands in for that
// lock-add: every counter bump is a short critical section, matching the
// teacher's Profiler locking discipline (internal/jit's original
// call-count/loop-count maps).
type Profiler struct {
	mu           sync.RWMutex
	callCounts   map[siteKey]uint32
	typeFeedback map[siteKey]*TypeFeedback
	compiled     map[siteKey]bool
}

// siteKey identifies a (bytecode, index) pair the spec keys block versions
// by. The bytecode identity is whatever the host gives it (an *Iseq
// pointer, normally) — Profiler only needs it to be comparable.
type siteKey struct {
	Iseq  uintptr
	Index int
}

func NewProfiler() *Profiler {
	return &Profiler{
		callCounts:   make(map[siteKey]uint32),
		typeFeedback: make(map[siteKey]*TypeFeedback),
		compiled:     make(map[siteKey]bool),
	}
}

// RecordEntry records one interpreted execution of the bytecode index iseq
// starts at, returning true the first time the call count reaches
// CallThreshold (the driver should request compilation exactly then — spec
// §4.3's "the interpreter requests compilation").
func (p *Profiler) RecordEntry(iseq uintptr, index int) (shouldCompile bool) {
	k := siteKey{iseq, index}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.compiled[k] {
		return false
	}
	p.callCounts[k]++
	if p.callCounts[k] >= CallThreshold {
		p.compiled[k] = true
		return true
	}
	return false
}

// RecordType folds one observed ValueType into the feedback histogram for a
// site. Its only caller is Runtime.RecordType, which nothing in this tree
// calls.
func (p *Profiler) RecordType(iseq uintptr, index int, t ValueType) {
	k := siteKey{iseq, index}

	p.mu.Lock()
	defer p.mu.Unlock()

	tf := p.typeFeedback[k]
	if tf == nil {
		tf = &TypeFeedback{}
		p.typeFeedback[k] = tf
	}
	tf.TotalSamples++
	for i := 0; i < 4; i++ {
		if tf.SeenTypes[i] == t || tf.Counts[i] == 0 {
			tf.SeenTypes[i] = t
			tf.Counts[i]++
			return
		}
	}
	// Histogram full and t wasn't in it: evict the least-sampled slot
	// rather than drop the new sample, so a late-arriving dominant type
	// still wins out over stale minority samples.
	minIdx := 0
	for i := 1; i < 4; i++ {
		if tf.Counts[i] < tf.Counts[minIdx] {
			minIdx = i
		}
	}
	tf.SeenTypes[minIdx] = t
	tf.Counts[minIdx] = 1
}

// GetTypeFeedback returns the feedback histogram for a site, or nil if none
// has been recorded.
func (p *Profiler) GetTypeFeedback(iseq uintptr, index int) *TypeFeedback {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.typeFeedback[siteKey{iseq, index}]
}

// CallCount returns the interpreted call count for a site. Stats does not
// report it.
func (p *Profiler) CallCount(iseq uintptr, index int) uint32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.callCounts[siteKey{iseq, index}]
}

// Reset clears all profiling state. Nothing in this tree calls it.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.callCounts = make(map[siteKey]uint32)
	p.typeFeedback = make(map[siteKey]*TypeFeedback)
	p.compiled = make(map[siteKey]bool)
}
