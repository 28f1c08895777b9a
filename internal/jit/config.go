package jit

// Config carries the host-tunable policy knobs spec §5 lists under
// "CLI/config (from the host)". None of these affect soundness — only how
// eagerly the JIT compiles and how much it logs.
type Config struct {
	// ExecMemMB bounds the combined size of the inline and outlined code
	// arenas, in megabytes.
	ExecMemMB int
	// StatsEnabled makes the CLI print Runtime.Stats after the run (the
	// counters themselves are always live; this only gates reporting).
	StatsEnabled bool
	// SelfCheckEnabled records the -self-check flag. No JIT code reads it,
	// so setting it adds no assertions.
	SelfCheckEnabled bool
	// DumpLevel is the debug-dump verbosity (0, 1 or 2). The only effect of
	// a level of 1 or more is the CLI's one-line "ran demo" note; no block
	// compile/invalidate events or opcode traces are printed at any level.
	DumpLevel int
	// TraceEnabled turns on spec §4.9's tracing mode from process start,
	// rather than waiting for a running program to flip it mid-execution.
	TraceEnabled bool
}

// DefaultConfig matches the teacher's CLI defaults (cmd/sentrajit/main.go):
// a modest arena, stats and self-check off, dump silent.
func DefaultConfig() Config {
	return Config{
		ExecMemMB:        64,
		StatsEnabled:     false,
		SelfCheckEnabled: false,
		DumpLevel:        0,
		TraceEnabled:     false,
	}
}
