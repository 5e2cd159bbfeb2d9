package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"jstar/compiler"
	"jstar/parser"
)

type disasmCmd struct {
	out string
}

func (*disasmCmd) Name() string     { return "disasm" }
func (*disasmCmd) Synopsis() string { return "Compile a source file and print its bytecode" }
func (*disasmCmd) Usage() string {
	return `disasm [-o file] <file>:
  Disassemble compiled bytecode to stdout or a file.
`
}

func (c *disasmCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.out, "o", "", "write the disassembly to this file instead of stdout")
}

func (c *disasmCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	proto, status := compileFile(f)
	if proto == nil {
		return status
	}

	text := disassembleAll(proto)
	if c.out == "" {
		fmt.Print(text)
		return subcommands.ExitSuccess
	}
	if err := os.WriteFile(c.out, []byte(text), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "disasm: %v\n", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

// disassembleAll renders proto and every nested function it references.
func disassembleAll(p *compiler.Proto) string {
	name := p.Name
	if name == "" {
		name = "<anonymous>"
	}
	out := fmt.Sprintf("== %s ==\n%s", name, compiler.Disassemble(p.Code, p.Constants))
	for _, c := range p.Constants {
		if nested, ok := c.(*compiler.Proto); ok {
			out += "\n" + disassembleAll(nested)
		}
	}
	return out
}

// compileFile parses and compiles the file named in the flag set's first
// argument, reporting diagnostics to stderr.
func compileFile(f *flag.FlagSet) (*compiler.Proto, subcommands.ExitStatus) {
	args := f.Args()
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "no file provided")
		return nil, subcommands.ExitUsageError
	}
	path := args[0]
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read %s: %v\n", path, err)
		return nil, subcommands.ExitFailure
	}
	top, perrs := parser.New(path, string(data)).WithErrorFunc(func(path string, line int, message string) {
		fmt.Fprintf(os.Stderr, "%s:%d: %s\n", path, line, message)
	}).Parse()
	if len(perrs) > 0 {
		return nil, subcommands.ExitStatus(1)
	}
	proto, cerrs := compiler.Compile(path, top)
	if len(cerrs) > 0 {
		for _, e := range cerrs {
			fmt.Fprintln(os.Stderr, e)
		}
		return nil, subcommands.ExitStatus(2)
	}
	return proto, subcommands.ExitSuccess
}
