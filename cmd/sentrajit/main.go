// cmd/sentrajit/main.go
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"sentrajit/internal/jit"
)

const version = "0.1.0"

// main implements the §6 CLI/config surface (SPEC_FULL.md's EXPANSION CLI
// section): -exec-mem-mb, -jit-stats, -jit-dump=0|1|2, parsed by hand the
// way the teacher's own cmd/sentra/main.go parses os.Args — no flag
// library. There is no lexer/parser/compiler front-end in this tree (the
// JIT operates purely on bytecode regardless of source language, and
// nothing upstream of bytecode survived the rework — see DESIGN.md), so the
// only program cmd/sentrajit can run today is one of the builtin demo
// scripts selected by -demo=<name>; a real build would instead load a
// .snb-style bytecode dump from the positional argument.
func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	cfg := jit.DefaultConfig()
	demo := "arith"

	for _, a := range args {
		switch {
		case a == "-h" || a == "-help" || a == "--help":
			showUsage()
			return
		case a == "-version" || a == "--version":
			fmt.Printf("sentrajit %s\n", version)
			return
		case strings.HasPrefix(a, "-exec-mem-mb="):
			n, err := strconv.Atoi(strings.TrimPrefix(a, "-exec-mem-mb="))
			if err != nil || n <= 0 {
				fatalf("invalid -exec-mem-mb value: %q", a)
			}
			cfg.ExecMemMB = n
		case a == "-jit-stats":
			cfg.StatsEnabled = true
		case strings.HasPrefix(a, "-jit-dump="):
			n, err := strconv.Atoi(strings.TrimPrefix(a, "-jit-dump="))
			if err != nil || n < 0 || n > 2 {
				fatalf("invalid -jit-dump value: %q (want 0, 1, or 2)", a)
			}
			cfg.DumpLevel = n
		case a == "-self-check":
			cfg.SelfCheckEnabled = true
		case a == "-jit-trace":
			cfg.TraceEnabled = true
		case strings.HasPrefix(a, "-demo="):
			demo = strings.TrimPrefix(a, "-demo=")
		case strings.HasPrefix(a, "-"):
			fatalf("unrecognized flag: %s", a)
		default:
			fatalf("cmd/sentrajit does not yet load bytecode dump files (%q) — use -demo=<name>; see -help", a)
		}
	}

	if err := run(cfg, demo); err != nil {
		fmt.Fprintln(os.Stderr, "sentrajit:", err)
		os.Exit(1)
	}
}

func run(cfg jit.Config, demo string) error {
	build, ok := demos[demo]
	if !ok {
		return fmt.Errorf("unknown -demo=%s (available: %s)", demo, demoNames())
	}

	machine, result, err := build(cfg)
	if err != nil {
		return err
	}

	if cfg.DumpLevel >= 1 {
		fmt.Printf("sentrajit: ran demo %q\n", demo)
	}
	fmt.Println("result:", machine.Host.Inspect(result))

	if cfg.StatsEnabled {
		fmt.Println()
		fmt.Print(machine.Runtime.Stats())
	}

	return machine.Runtime.Close()
}

func demoNames() string {
	names := make([]string, 0, len(demos))
	for name := range demos {
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "sentrajit: "+format+"\n", args...)
	os.Exit(1)
}

func showUsage() {
	fmt.Println(`sentrajit - bytecode interpreter with an attached method-JIT

Usage:
  sentrajit [flags]

Flags:
  -demo=<name>        run a builtin demo script (default "arith")
  -exec-mem-mb=<n>    executable-memory budget for the JIT's code arenas
  -jit-stats          print arena/block/invalidation counters after running
  -jit-dump=0|1|2     debug-dump verbosity (1 or 2 prints which demo ran)
  -self-check         set Config.SelfCheckEnabled (no JIT code reads it)
  -jit-trace          enable tracing mode from process start (spec §4.9)
  -version            print the version and exit
  -h, -help            show this help`)
}
