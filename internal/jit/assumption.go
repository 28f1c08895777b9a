package jit

import "sync"

// AssumptionKind tags the five speculative facts spec §3/§4.8 name.
type AssumptionKind uint8

const (
	AssumeMethodLookupStable AssumptionKind = iota
	AssumeBasicOpNotRedefined
	AssumeSingleRactorMode
	AssumeStableConstantState
	AssumeNoTracing
)

// Subject identifies what an assumption is about. Only the fields relevant
// to Kind are populated; the rest are zero. Using one struct (rather than
// an interface per kind) keeps it a plain comparable map key, same
// reasoning as Context.
type Subject struct {
	Kind AssumptionKind

	Class      uint64 // MethodLookupStable, BasicOpNotRedefined
	MethodID   string // MethodLookupStable
	Op         string // BasicOpNotRedefined ("+", "<", ...)
	ConstantID string // StableConstantState
}

// AssumptionRegistry is the process-wide reverse index from (kind, subject)
// to the set of blocks that registered a dependency on it (spec §4.8). A
// single sync.Mutex guards it: every mutating operation (assume/invalidate)
// already happens under the host VM lock per spec §5, but the registry
// guards itself too so it stays correct if a future caller forgets that
// discipline — cheap insurance, and it mirrors the locking the teacher's
// Profiler/Compiler apply to their own maps.
type AssumptionRegistry struct {
	mu      sync.Mutex
	blocks  map[Subject]map[*Block]bool
	ractors int // number of live ractors, for AssumeSingleRactorMode bookkeeping
}

func NewAssumptionRegistry() *AssumptionRegistry {
	return &AssumptionRegistry{
		blocks:  make(map[Subject]map[*Block]bool),
		ractors: 1,
	}
}

// Assume records block as depending on subject.
func (r *AssumptionRegistry) Assume(subject Subject, block *Block) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.blocks[subject]
	if set == nil {
		set = make(map[*Block]bool)
		r.blocks[subject] = set
	}
	set[block] = true
}

// Invalidate enumerates every block depending on subject and hands each to
// onInvalidate (which performs the version-index removal, branch rewrite,
// and memory-leak-until-quiescent steps spec §4.8 describes — that's
// invalidate.go's job, not this registry's). Subject's entry is then
// cleared; a re-`Assume`d block after this point starts a fresh dependency.
func (r *AssumptionRegistry) Invalidate(subject Subject, onInvalidate func(*Block)) {
	r.mu.Lock()
	set := r.blocks[subject]
	delete(r.blocks, subject)
	r.mu.Unlock()

	for block := range set {
		onInvalidate(block)
	}
}

// InvalidateClass invalidates every MethodLookupStable and
// BasicOpNotRedefined assumption naming class — used for a wholesale
// monkey-patch (module reopened, include/prepend changed) that might touch
// any method on the class, rather than one named method.
func (r *AssumptionRegistry) InvalidateClass(class uint64, onInvalidate func(*Block)) {
	r.mu.Lock()
	var subjects []Subject
	for s := range r.blocks {
		if (s.Kind == AssumeMethodLookupStable || s.Kind == AssumeBasicOpNotRedefined) && s.Class == class {
			subjects = append(subjects, s)
		}
	}
	r.mu.Unlock()

	for _, s := range subjects {
		r.Invalidate(s, onInvalidate)
	}
}

// SecondRactorCreated invalidates every AssumeSingleRactorMode-dependent
// block, the one time the ractor count can ever rise above one (spec:
// "invalidated when a second ractor is created").
func (r *AssumptionRegistry) SecondRactorCreated(onInvalidate func(*Block)) {
	r.mu.Lock()
	r.ractors++
	alreadyMulti := r.ractors > 2
	r.mu.Unlock()
	if alreadyMulti {
		return
	}
	r.Invalidate(Subject{Kind: AssumeSingleRactorMode}, onInvalidate)
}

func MethodLookupStableSubject(class uint64, methodID string) Subject {
	return Subject{Kind: AssumeMethodLookupStable, Class: class, MethodID: methodID}
}

func BasicOpNotRedefinedSubject(class uint64, op string) Subject {
	return Subject{Kind: AssumeBasicOpNotRedefined, Class: class, Op: op}
}

func SingleRactorModeSubject() Subject {
	return Subject{Kind: AssumeSingleRactorMode}
}

func StableConstantStateSubject(constantID string) Subject {
	return Subject{Kind: AssumeStableConstantState, ConstantID: constantID}
}

func NoTracingSubject() Subject {
	return Subject{Kind: AssumeNoTracing}
}
