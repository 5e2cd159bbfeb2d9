package parser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/ast"
)

func parse(t *testing.T, src string) []ast.Stmt {
	t.Helper()
	top, errs := New("test", src).Parse()
	require.Empty(t, errs)
	require.NotNil(t, top)
	return top.Body
}

func TestParseVarDecl(t *testing.T) {
	stmts := parse(t, "var x = 1")
	require.Len(t, stmts, 1)
	v := stmts[0].(*ast.VarStmt)
	require.Equal(t, "x", v.Names[0].Lexeme)
	require.Equal(t, 1.0, v.Initializers[0].(*ast.Literal).Value)
}

func TestParseTupleDeclAndSwap(t *testing.T) {
	stmts := parse(t, "var a, b = 1, 2\na, b = b, a")
	require.Len(t, stmts, 2)
	decl := stmts[0].(*ast.VarStmt)
	require.Len(t, decl.Names, 2)
	require.Len(t, decl.Initializers, 2)

	swap := stmts[1].(*ast.ExprStmt).Expression.(*ast.Assign)
	target := swap.Target.(*ast.TupleLit)
	require.Len(t, target.Elements, 2)
	value := swap.Value.(*ast.TupleLit)
	require.Len(t, value.Elements, 2)
}

func TestParseIfElif(t *testing.T) {
	stmts := parse(t, "if a then 1 elif b then 2 else 3 end")
	ifs := stmts[0].(*ast.If)
	require.NotNil(t, ifs.Then)
	elif := ifs.Else.(*ast.If)
	require.NotNil(t, elif.Then)
	require.NotNil(t, elif.Else)
}

func TestParseForEach(t *testing.T) {
	stmts := parse(t, "for var x in [1,2,3] do print(x) end")
	fe := stmts[0].(*ast.ForEach)
	require.Equal(t, "x", fe.Var.Lexeme)
	lit := fe.Iterable.(*ast.ListLit)
	require.Len(t, lit.Elements, 3)
}

func TestParseClassicFor(t *testing.T) {
	stmts := parse(t, "for var i = 0; i < 10; i = i + 1 do end")
	f := stmts[0].(*ast.For)
	require.NotNil(t, f.Init)
	require.NotNil(t, f.Cond)
	require.NotNil(t, f.Post)
}

func TestParseTryExceptEnsure(t *testing.T) {
	stmts := parse(t, `
try
  raise Exception("boom")
except Exception e
  print(e)
ensure
  print("done")
end`)
	tr := stmts[0].(*ast.Try)
	require.Len(t, tr.Excepts, 1)
	require.Equal(t, "Exception", tr.Excepts[0].Class.Lexeme)
	require.Equal(t, "e", tr.Excepts[0].Name.Lexeme)
	require.NotNil(t, tr.Ensure)
}

func TestParseTryRequiresExceptOrEnsure(t *testing.T) {
	_, errs := New("test", "try\n  1\nend").Parse()
	require.NotEmpty(t, errs)
}

func TestParseClassWithSuper(t *testing.T) {
	stmts := parse(t, `
class B is A
  fun g()
    return super.g() + "B"
  end
end`)
	c := stmts[0].(*ast.ClassDecl)
	require.Equal(t, "A", c.Super.Lexeme)
	require.Len(t, c.Methods, 1)
}

func TestParseFunctionWithDefaultsAndVararg(t *testing.T) {
	stmts := parse(t, "fun f(a, b = 2, ...) return a end")
	fd := stmts[0].(*ast.FunDecl)
	require.Len(t, fd.Fun.Params, 3)
	require.NotNil(t, fd.Fun.Params[1].Default)
	require.True(t, fd.Fun.Vararg)
	require.Equal(t, "args", fd.Fun.Params[2].Name.Lexeme)
}

func TestParseNamedVarargCollector(t *testing.T) {
	stmts := parse(t, "fun f(a, ...rest) return rest end")
	fd := stmts[0].(*ast.FunDecl)
	require.Len(t, fd.Fun.Params, 2)
	require.True(t, fd.Fun.Vararg)
	require.Equal(t, "rest", fd.Fun.Params[1].Name.Lexeme)
}

func TestParseWithStatement(t *testing.T) {
	stmts := parse(t, "with openFile(\"x\") f\n  f.read()\nend")
	w := stmts[0].(*ast.With)
	require.Equal(t, "f", w.Name.Lexeme)
}

func TestParseTernaryAndLogical(t *testing.T) {
	stmts := parse(t, "var x = 1 if a and b else 2 or c")
	v := stmts[0].(*ast.VarStmt)
	tern := v.Initializers[0].(*ast.Ternary)
	require.IsType(t, &ast.Logical{}, tern.Cond)
	require.IsType(t, &ast.Logical{}, tern.Else)
}

func TestParsePowerRightAssociative(t *testing.T) {
	stmts := parse(t, "var x = 2 ^ 3 ^ 2")
	v := stmts[0].(*ast.VarStmt)
	bin := v.Initializers[0].(*ast.Binary)
	require.Equal(t, 2.0, bin.Left.(*ast.Literal).Value)
	require.IsType(t, &ast.Binary{}, bin.Right)
}

func TestParseImport(t *testing.T) {
	stmts := parse(t, "import a.b.c as abc")
	imp := stmts[0].(*ast.Import)
	require.Len(t, imp.Path, 3)
	require.Equal(t, "abc", imp.As.Lexeme)
}

func TestParseMethodCallFused(t *testing.T) {
	stmts := parse(t, "x.m(1, 2)")
	call := stmts[0].(*ast.ExprStmt).Expression.(*ast.Call)
	get := call.Callee.(*ast.Get)
	require.Equal(t, "m", get.Name.Lexeme)
	require.Len(t, call.Args, 2)
}
