package lexer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/token"
)

func TestScanOperators(t *testing.T) {
	toks := Scan("+ += - -= * *= / /= % %= ^ ! != = == < <= > >= => ... ## # . ,")
	var got []token.Type
	for _, tk := range toks {
		got = append(got, tk.Type)
	}
	want := []token.Type{
		token.PLUS, token.PLUS_EQ, token.MINUS, token.MINUS_EQ,
		token.STAR, token.STAR_EQ, token.SLASH, token.SLASH_EQ,
		token.PERCENT, token.PERCENT_EQ, token.CARET, token.BANG,
		token.BANG_EQUAL, token.EQUAL, token.EQUAL_EQUAL, token.LESS,
		token.LESS_EQUAL, token.GREATER, token.GREATER_EQUAL, token.ARROW,
		token.ELLIPSIS, token.DBL_HASH, token.HASH, token.DOT, token.COMMA,
		token.EOF,
	}
	require.Equal(t, want, got)
}

func TestScanKeywords(t *testing.T) {
	toks := Scan("class else fun native try except ensure raise with super")
	require.Equal(t, token.CLASS, toks[0].Type)
	require.Equal(t, token.SUPER, toks[len(toks)-2].Type)
}

func TestScanIdentifierNotKeyword(t *testing.T) {
	toks := Scan("classic")
	require.Equal(t, token.IDENTIFIER, toks[0].Type)
	require.Equal(t, "classic", toks[0].Lexeme)
}

func TestScanNumbers(t *testing.T) {
	toks := Scan("10 3.14 1e3 1.5e-2 0xFF")
	want := []float64{10, 3.14, 1000, 0.015, 255}
	require.Len(t, toks, len(want)+1)
	for i, w := range want {
		require.Equal(t, token.NUMBER, toks[i].Type)
		require.InDelta(t, w, toks[i].Literal.(float64), 1e-9)
	}
}

func TestScanStrings(t *testing.T) {
	toks := Scan(`"hi\n" 'world'`)
	require.Equal(t, "hi\n", toks[0].Literal)
	require.Equal(t, "world", toks[1].Literal)
}

func TestScanUnterminatedString(t *testing.T) {
	toks := Scan(`"oops`)
	require.Equal(t, token.UNTERMINATED_STRING, toks[0].Type)
}

func TestScanNewlinesAreExplicit(t *testing.T) {
	toks := Scan("var x\nvar y")
	var newlines int
	for _, tk := range toks {
		if tk.Type == token.NEWLINE {
			newlines++
		}
	}
	require.Equal(t, 1, newlines)
}

func TestScanLineContinuation(t *testing.T) {
	toks := Scan("var x = 1 + \\\n2")
	for _, tk := range toks {
		require.NotEqual(t, token.NEWLINE, tk.Type)
	}
}

func TestScanShebang(t *testing.T) {
	toks := Scan("#!/usr/bin/env jstar\nvar x = 1")
	require.Equal(t, token.NEWLINE, toks[0].Type)
	require.Equal(t, token.VAR, toks[1].Type)
}

func TestScanLineComment(t *testing.T) {
	toks := Scan("var x = 1 // comment\nvar y = 2")
	require.Equal(t, token.VAR, toks[0].Type)
}
