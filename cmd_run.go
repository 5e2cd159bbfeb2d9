package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/subcommands"

	"jstar/vm"
)

type runCmd struct{}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "Execute a J* source file" }
func (*runCmd) Usage() string {
	return `run <file> [args...]:
  Execute J* code from a source file.
`
}
func (*runCmd) SetFlags(f *flag.FlagSet) {}

func (r *runCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "run: no file provided")
		return subcommands.ExitUsageError
	}
	return runFile(args[0], args[1:])
}

// Exit codes distinguish the failure classes of spec §6.4: 0 success,
// 1 syntax error, 2 compile error, 3 runtime error.
func runFile(path string, scriptArgs []string) subcommands.ExitStatus {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", path, err)
		return subcommands.ExitFailure
	}

	machine := vm.New(
		vm.WithArgs(append([]string{path}, scriptArgs...)),
		vm.WithImportPath(filepath.Dir(path)),
	)
	switch machine.Evaluate(path, string(data)) {
	case vm.Success:
		return subcommands.ExitSuccess
	case vm.SyntaxError:
		return subcommands.ExitStatus(1)
	case vm.CompileError:
		return subcommands.ExitStatus(2)
	default:
		machine.PrintStackTrace(machine.Pop())
		return subcommands.ExitStatus(3)
	}
}
