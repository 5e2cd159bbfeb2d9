package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/compiler"
	"jstar/parser"
)

func compile(t *testing.T, src string) *compiler.Proto {
	t.Helper()
	top, errs := parser.New("test", src).Parse()
	require.Empty(t, errs)
	proto, cerrs := compiler.Compile("test", top)
	require.Empty(t, cerrs)
	require.NotNil(t, proto)
	return proto
}

// countOp walks p's own code, skipping MAKE_CLOSURE's trailing upvalue
// descriptor bytes so the walk stays aligned.
func countOp(t *testing.T, p *compiler.Proto, op compiler.Opcode) int {
	t.Helper()
	n := 0
	offset := 0
	for offset < len(p.Code) {
		o := compiler.Opcode(p.Code[offset])
		if o == op {
			n++
		}
		offset += compiler.Size(o)
		if o == compiler.OP_MAKE_CLOSURE {
			k := compiler.ReadUint16(p.Code, offset-2)
			nested := p.Constants[k].(*compiler.Proto)
			offset += 2 * len(nested.Upvalues)
		}
	}
	return n
}

// countOpDeep also counts inside every nested function.
func countOpDeep(t *testing.T, p *compiler.Proto, op compiler.Opcode) int {
	t.Helper()
	n := countOp(t, p, op)
	for _, c := range p.Constants {
		if nested, ok := c.(*compiler.Proto); ok {
			n += countOpDeep(t, nested, op)
		}
	}
	return n
}

func TestCompileArithmeticConstantPool(t *testing.T) {
	proto := compile(t, "var x = 1 + 2 * 3")
	require.Contains(t, proto.Constants, 1.0)
	require.Contains(t, proto.Constants, 2.0)
	require.Contains(t, proto.Constants, 3.0)
	require.Equal(t, 1, countOp(t, proto, compiler.OP_ADD))
	require.Equal(t, 1, countOp(t, proto, compiler.OP_MUL))
}

func TestCompileTupleSwapNoExtraAllocation(t *testing.T) {
	proto := compile(t, `
fun swap()
  var a, b = 1, 2
  a, b = b, a
end`)
	inner, ok := findProto(proto)
	require.True(t, ok)
	require.Equal(t, 0, countOp(t, inner, compiler.OP_NEW_TUPLE))
	require.Equal(t, 2, countOp(t, inner, compiler.OP_STORE_LOCAL))
}

func TestCompileClosureCapturesUpvalue(t *testing.T) {
	proto := compile(t, `
fun counter()
  var n = 0
  fun inc()
    n = n + 1
    return n
  end
  return inc
end`)
	require.Equal(t, 1, countOp(t, proto, compiler.OP_MAKE_CLOSURE))
	inner, ok := proto.Constants[0].(*compiler.Proto)
	require.True(t, ok)
	nested, ok := findProto(inner)
	require.True(t, ok)
	require.Len(t, nested.Upvalues, 1)
	require.True(t, nested.Upvalues[0].IsLocal)
}

func findProto(p *compiler.Proto) (*compiler.Proto, bool) {
	for _, c := range p.Constants {
		if nested, ok := c.(*compiler.Proto); ok {
			return nested, true
		}
	}
	return nil, false
}

func TestCompileClassWithSuperEmitsInherit(t *testing.T) {
	proto := compile(t, `
class A
  fun greet() return "a" end
end
class B is A
  fun greet() return super.greet() end
end`)
	require.Equal(t, 1, countOp(t, proto, compiler.OP_INHERIT))
	require.Equal(t, 1, countOpDeep(t, proto, compiler.OP_SUPER_INVOKE))
}

func TestCompileMethodCallUsesInvoke(t *testing.T) {
	proto := compile(t, `
class C
  fun m(x) return x end
end
var c = C()
c.m(1)`)
	require.GreaterOrEqual(t, countOp(t, proto, compiler.OP_INVOKE), 1)
}

func TestCompileWhileBreakContinue(t *testing.T) {
	proto := compile(t, `
var i = 0
while i < 10 do
  i = i + 1
  if i == 5 then continue end
  if i == 8 then break end
end`)
	require.GreaterOrEqual(t, countOp(t, proto, compiler.OP_JMP), 3)
}

func TestCompileForEachUsesIterationProtocol(t *testing.T) {
	proto := compile(t, "for var x in [1, 2, 3] do end")
	require.Equal(t, 1, countOp(t, proto, compiler.OP_FOREACH_NEXT))
}

func TestCompileTryExceptEnsure(t *testing.T) {
	proto := compile(t, `
try
  raise Exception("boom")
except Exception e
  var x = e
ensure
  var y = 1
end`)
	require.Equal(t, 1, countOp(t, proto, compiler.OP_SETUP_HANDLER))
	require.Equal(t, 1, countOp(t, proto, compiler.OP_BEGIN_ENSURE))
	require.Equal(t, 1, countOp(t, proto, compiler.OP_END_ENSURE))
}

func TestCompileBreakOutsideLoopIsError(t *testing.T) {
	top, errs := parser.New("test", "break").Parse()
	require.Empty(t, errs)
	_, cerrs := compiler.Compile("test", top)
	require.NotEmpty(t, cerrs)
}

func TestDisassembleDoesNotPanic(t *testing.T) {
	proto := compile(t, "var x = 1 + 2")
	out := compiler.Disassemble(proto.Code, proto.Constants)
	require.Contains(t, out, "ADD")
}
