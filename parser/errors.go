package parser

import "fmt"

// SyntaxError is a single reported parse error (spec §7 layer 2).
type SyntaxError struct {
	Path    string
	Line    int
	Column  int
	Message string
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: SyntaxError: %s", e.Path, e.Line, e.Message)
}

// ErrorFunc is the injected callback a caller may supply to receive
// (path, line, message) for every reported error, per spec §4.2. The
// default implementation prints a one-line message; callers embedding the
// parser (e.g. a richer CLI) can override it to show a source snippet with
// a caret.
type ErrorFunc func(path string, line int, message string)
