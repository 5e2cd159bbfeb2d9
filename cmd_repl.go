package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"
	"github.com/google/subcommands"

	"jstar/lexer"
	"jstar/token"
	"jstar/vm"
)

type replCmd struct{}

func (*replCmd) Name() string     { return "repl" }
func (*replCmd) Synopsis() string { return "Start an interactive J* session" }
func (*replCmd) Usage() string {
	return `repl:
  Read-eval-print loop with line editing and history.
`
}
func (*replCmd) SetFlags(f *flag.FlagSet) {}

func (r *replCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "repl: %v\n", err)
		return subcommands.ExitFailure
	}
	defer rl.Close()

	fmt.Println("J* interactive shell (type exit or ^D to quit)")
	machine := vm.New(vm.WithArgs([]string{"repl"}))

	var buffer strings.Builder
	for {
		if buffer.Len() == 0 {
			rl.SetPrompt(">>> ")
		} else {
			rl.SetPrompt("... ")
		}
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			buffer.Reset()
			continue
		}
		if err == io.EOF {
			return subcommands.ExitSuccess
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "repl: %v\n", err)
			return subcommands.ExitFailure
		}
		if strings.TrimSpace(line) == "exit" && buffer.Len() == 0 {
			return subcommands.ExitSuccess
		}

		if buffer.Len() > 0 {
			buffer.WriteString("\n")
		}
		buffer.WriteString(line)
		src := buffer.String()

		if !isInputReady(src) {
			continue
		}
		buffer.Reset()

		if res := machine.Evaluate("<stdin>", src); res == vm.RuntimeError {
			machine.PrintStackTrace(machine.Pop())
		}
	}
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home + "/.jstar_history"
}

// isInputReady reports whether src looks like a complete chunk: every
// bracket closed, every block keyword matched by its end, and no trailing
// binary operator awaiting a right operand.
func isInputReady(src string) bool {
	toks := lexer.Scan(src)
	depth := 0
	blocks := 0
	last := token.Token{Type: token.EOF}
	for _, t := range toks {
		switch t.Type {
		case token.LPAREN, token.LSQUARE, token.LBRACE:
			depth++
		case token.RPAREN, token.RSQUARE, token.RBRACE:
			depth--
		case token.THEN, token.DO, token.BEGIN, token.CLASS, token.FUN, token.TRY, token.WITH:
			blocks++
		case token.END:
			blocks--
		case token.ELIF:
			// the elif's own `then` reopens the same if-block
			blocks--
		}
		if t.Type != token.NEWLINE && t.Type != token.EOF {
			last = t
		}
	}
	if depth > 0 || blocks > 0 {
		return false
	}
	switch last.Type {
	case token.PLUS, token.MINUS, token.STAR, token.SLASH, token.PERCENT, token.CARET,
		token.EQUAL_EQUAL, token.BANG_EQUAL, token.LESS, token.LESS_EQUAL,
		token.GREATER, token.GREATER_EQUAL, token.IS,
		token.AND, token.OR, token.EQUAL, token.COMMA, token.DOT:
		return false
	}
	return true
}
