package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/subcommands"

	"jstar/compiler"
)

type emitCmd struct {
	out string
}

func (*emitCmd) Name() string     { return "emit" }
func (*emitCmd) Synopsis() string { return "Compile a source file and dump encoded bytecode" }
func (*emitCmd) Usage() string {
	return `emit [-o file] <file>:
  Serialize compiled bytecode to disk.
`
}

func (c *emitCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "output path (defaults to the source path with a .jsc extension)")
}

func (c *emitCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	proto, status := compileFile(f)
	if proto == nil {
		return status
	}

	data, err := compiler.Encode(proto)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emit: %v\n", err)
		return subcommands.ExitFailure
	}

	out := c.out
	if out == "" {
		src := f.Args()[0]
		out = strings.TrimSuffix(src, ".jsr") + ".jsc"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "emit: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("wrote %d bytes to %s\n", len(data), out)
	return subcommands.ExitSuccess
}
