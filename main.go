// Command jstar is the J* driver (spec §6.4): `jstar [file] [args...]`
// runs a script, no arguments starts the REPL, and the subcommands
// (run, repl, disasm, emit) expose the individual pipeline stages.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&replCmd{}, "")
	subcommands.Register(&disasmCmd{}, "")
	subcommands.Register(&emitCmd{}, "")

	// Bare `jstar` starts a REPL and `jstar file.jsr args...` runs the
	// file, without requiring the subcommand spelling.
	if len(os.Args) < 2 {
		os.Exit(int((&replCmd{}).Execute(context.Background(), flag.NewFlagSet("repl", flag.ContinueOnError))))
	}
	if !isSubcommand(os.Args[1]) {
		os.Exit(int(runFile(os.Args[1], os.Args[2:])))
	}

	flag.Parse()
	os.Exit(int(subcommands.Execute(context.Background())))
}

func isSubcommand(name string) bool {
	switch name {
	case "run", "repl", "disasm", "emit", "help", "flags", "commands":
		return true
	}
	return false
}
