package vm_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"jstar/vm"
)

// runSource evaluates src on a fresh VM and returns everything it printed
// to stdout, failing the test on any non-Success result.
func runSource(t *testing.T, src string, opts ...vm.Option) string {
	t.Helper()
	var out bytes.Buffer
	opts = append(opts, vm.WithStdout(&out), vm.WithStderr(&out))
	machine := vm.New(opts...)
	res := machine.Evaluate("test.jsr", src)
	require.Equal(t, vm.Success, res, "output so far:\n%s", out.String())
	return out.String()
}

// ---- spec scenarios ----

func TestClosureCounter(t *testing.T) {
	out := runSource(t, `
fun mkCounter() var n = 0; return fun() n += 1; return n end end
var c = mkCounter()
print(c(), c(), c())`)
	require.Equal(t, "1 2 3\n", out)
}

func TestTupleUnpackAssignment(t *testing.T) {
	out := runSource(t, `
var a, b = 1, 2
a, b = b, a
print(a, b)`)
	require.Equal(t, "2 1\n", out)
}

func TestExceptionEnsureOrdering(t *testing.T) {
	out := runSource(t, `
fun f()
  try raise Exception("boom")
  ensure print("inner")
  end
end
try f() except Exception e print("caught", e.err()) end
print("after")`)
	require.Equal(t, "inner\ncaught boom\nafter\n", out)
}

func TestIterationOverList(t *testing.T) {
	out := runSource(t, "for var x in [10, 20, 30] do print(x) end")
	require.Equal(t, "10\n20\n30\n", out)
}

func TestSuperDispatch(t *testing.T) {
	out := runSource(t, `
class A fun g() return "A" end end
class B is A fun g() return super.g() + "B" end end
print(B().g())`)
	require.Equal(t, "AB\n", out)
}

func TestTableRoundTrip(t *testing.T) {
	out := runSource(t, `
var t = {}
t["k"] = 1; t["k"] = 2
print(t["k"], #t, t.contains("k"))`)
	require.Equal(t, "2 1 true\n", out)
}

// ---- control flow & exceptions ----

func TestEnsureRunsInnermostOutward(t *testing.T) {
	out := runSource(t, `
try
  try
    raise Exception("x")
  ensure
    print("inner")
  end
except Exception e
  print("caught")
ensure
  print("outer")
end`)
	require.Equal(t, "inner\ncaught\nouter\n", out)
}

func TestEnsureRunsOnBreak(t *testing.T) {
	out := runSource(t, `
var log = []
for var i in [1, 2, 3] do
  try
    if i == 2 then break end
    log.add(i)
  ensure
    log.add("e")
  end
end
print(log.join(","))`)
	require.Equal(t, "1,e,e\n", out)
}

func TestEnsureRunsOnReturn(t *testing.T) {
	out := runSource(t, `
fun f()
  try
    return "r"
  ensure
    print("cleanup")
  end
end
print(f())`)
	require.Equal(t, "cleanup\nr\n", out)
}

func TestEnsureRunsOnContinue(t *testing.T) {
	out := runSource(t, `
var n = 0
for var i in [1, 2] do
  try
    continue
  ensure
    n += 1
  end
end
print(n)`)
	require.Equal(t, "2\n", out)
}

func TestRaiseInsideExceptStillRunsEnsure(t *testing.T) {
	out := runSource(t, `
try
  try
    raise Exception("a")
  except Exception e
    raise Exception("b")
  ensure
    print("ensure")
  end
except Exception e
  print("caught", e.err())
end`)
	require.Equal(t, "ensure\ncaught b\n", out)
}

func TestExceptMatchesSubclassesAndChains(t *testing.T) {
	out := runSource(t, `
try
  raise TypeException("t")
except IndexOutOfBoundException e
  print("wrong")
except Exception e
  print("base", e.err())
end`)
	require.Equal(t, "base t\n", out)
}

func TestWithClosesOnEveryExit(t *testing.T) {
	out := runSource(t, `
class Res
  fun init(name) this.name = name end
  fun close() print("closed", this.name) end
end
with Res("a") r
  print("using", r.name)
end
try
  with Res("b") r
    raise Exception("boom")
  end
except Exception e
  print("caught")
end`)
	require.Equal(t, "using a\nclosed a\nclosed b\ncaught\n", out)
}

func TestWhileBreakContinue(t *testing.T) {
	out := runSource(t, `
var i = 0
var sum = 0
while i < 10 do
  i += 1
  if i % 2 == 0 then continue end
  if i > 7 then break end
  sum += i
end
print(i, sum)`)
	// odd values 1+3+5+7 accumulate; the loop leaves at i == 9
	require.Equal(t, "9 16\n", out)
}

func TestClassicForLoop(t *testing.T) {
	out := runSource(t, `
var total = 0
for var i = 0; i < 5; i = i + 1 do
  total += i
end
print(total)`)
	require.Equal(t, "10\n", out)
}

// ---- calling convention ----

func TestArityEnforcement(t *testing.T) {
	out := runSource(t, `
fun f(a, b) return a + b end
try f(1) except TypeException e print("too few") end
try f(1, 2, 3) except TypeException e print("too many") end
print(f(1, 2))`)
	require.Equal(t, "too few\ntoo many\n3\n", out)
}

func TestDefaultArguments(t *testing.T) {
	out := runSource(t, `
fun greet(name, greeting = "hello") return greeting + " " + name end
print(greet("x"))
print(greet("x", "hi"))`)
	require.Equal(t, "hello x\nhi x\n", out)
}

func TestVarargsPackIntoTuple(t *testing.T) {
	out := runSource(t, `
fun f(first, ...rest) return ##first + " " + ##(#rest) end
print(f(1))
print(f(1, 2, 3))`)
	require.Equal(t, "1 0\n1 2\n", out)
}

func TestMethodsBindOnRead(t *testing.T) {
	out := runSource(t, `
class Greeter
  fun init(name) this.name = name end
  fun hello() return "hi " + this.name end
end
var m = Greeter("bob").hello
print(m())`)
	require.Equal(t, "hi bob\n", out)
}

// ---- assignment properties ----

func TestCompoundAssignmentEquivalence(t *testing.T) {
	out := runSource(t, `
var x = 10
x += 5; x -= 3; x *= 2; x /= 4; x %= 4
print(x)
class Box fun init() this.v = 1 end end
var b = Box()
b.v += 2
print(b.v)
var l = [3]
l[0] *= 5
print(l[0])`)
	require.Equal(t, "2\n3\n15\n", out)
}

func TestSelfAssignmentIsNoOp(t *testing.T) {
	out := runSource(t, `
var x = 41
x = x
print(x)`)
	require.Equal(t, "41\n", out)
}

func TestGeneralTupleUnpack(t *testing.T) {
	out := runSource(t, `
fun pair() return 7, 9 end
var a, b = pair()
print(a, b)`)
	require.Equal(t, "7 9\n", out)
}

// ---- iteration protocol ----

func TestCustomIterationProtocol(t *testing.T) {
	out := runSource(t, `
class Range
  fun init(n) this.n = n end
  fun __iter__(st)
    if st == null then return 0 end
    if st + 1 >= this.n then return false end
    return st + 1
  end
  fun __next__(st) return st end
end
for var x in Range(3) do print(x) end`)
	require.Equal(t, "0\n1\n2\n", out)
}

func TestIterateTupleStringTable(t *testing.T) {
	out := runSource(t, `
for var x in (1, 2) do print(x) end
for var c in "ab" do print(c) end
var t = {"only": 1}
for var k in t do print(k) end`)
	require.Equal(t, "1\n2\na\nb\nonly\n", out)
}

// ---- operators ----

func TestOperators(t *testing.T) {
	out := runSource(t, `
print(2 ^ 10)
print("ab" * 3)
print(7 % 3)
print("a" + "b" == "ab")
print(1 < 2, "a" < "b", !false)
print(#"hello", ##42)`)
	require.Equal(t, "1024\nababab\n1\ntrue\ntrue true true\n5 42\n", out)
}

func TestIsOperator(t *testing.T) {
	out := runSource(t, `
class A end
class B is A end
var b = B()
print(b is B, b is A, b is Exception)
print(1 is Number, "s" is String, [1] is List)`)
	require.Equal(t, "true true false\ntrue true true\n", out)
}

func TestTernaryAndLogical(t *testing.T) {
	out := runSource(t, `
print("yes" if 1 < 2 else "no")
print(false or "fallback")
print(null and "never")`)
	require.Equal(t, "yes\nfallback\nnull\n", out)
}

// ---- error layers (spec §7) ----

func TestResultClassification(t *testing.T) {
	var out bytes.Buffer
	machine := vm.New(vm.WithStdout(&out), vm.WithStderr(&out))
	require.Equal(t, vm.SyntaxError, machine.Evaluate("t", "var"))

	machine = vm.New(vm.WithStdout(&out), vm.WithStderr(&out))
	require.Equal(t, vm.CompileError, machine.Evaluate("t", "break"))

	machine = vm.New(vm.WithStdout(&out), vm.WithStderr(&out))
	require.Equal(t, vm.RuntimeError, machine.Evaluate("t", `raise Exception("boom")`))
}

func TestUncaughtExceptionLeftOnStackWithTrace(t *testing.T) {
	var out, errOut bytes.Buffer
	machine := vm.New(vm.WithStdout(&out), vm.WithStderr(&errOut))
	res := machine.Evaluate("trace.jsr", `
fun inner() raise TypeException("bad value") end
fun outer() inner() end
outer()`)
	require.Equal(t, vm.RuntimeError, res)
	machine.PrintStackTrace(machine.Pop())
	require.Contains(t, errOut.String(), "Traceback")
	require.Contains(t, errOut.String(), "TypeException: bad value")
	require.Contains(t, errOut.String(), "inner")
}

func TestRuntimeErrors(t *testing.T) {
	out := runSource(t, `
try 1 + "a" except TypeException e print("add") end
try undefinedName except NameException e print("name") end
try [1][5] except IndexOutOfBoundException e print("index") end
try var o = 3; o.missing except FieldException e print("field") end
try "s".nope() except MethodException e print("method") end`)
	require.Equal(t, "add\nname\nindex\nfield\nmethod\n", out)
}

func TestStackOverflowRaises(t *testing.T) {
	out := runSource(t, `
fun loop() return loop() end
try loop() except StackOverflowException e print("overflow") end`, vm.WithMaxFrames(64))
	require.Equal(t, "overflow\n", out)
}

// ---- modules & imports ----

func TestImportFromSearchPath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "util.jsr"), []byte(`
fun helper() return 42 end
var greeting = "salut"`), 0o644))

	out := runSource(t, `
import util
print(util.helper(), util.greeting)
print(__name__)`, vm.WithImportPath(dir))
	require.Equal(t, "42 salut\n<main>\n", out)
}

func TestImportRunsModuleOnce(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "once.jsr"), []byte(`print("loaded")`), 0o644))

	out := runSource(t, `
import once
import once as again
print(again.__name__)`, vm.WithImportPath(dir))
	require.Equal(t, "loaded\nonce\n", out)
}

func TestDottedImportBindsIntoParent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "package.jsr"), []byte(`var kind = "package"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pkg", "leaf.jsr"), []byte(`var kind = "leaf"`), 0o644))

	out := runSource(t, `
import pkg.leaf
print(pkg.kind, pkg.leaf.kind)`, vm.WithImportPath(dir))
	require.Equal(t, "package leaf\n", out)
}

func TestMissingImportRaisesImportException(t *testing.T) {
	out := runSource(t, `
try
  import definitelyNotThere
except ImportException e
  print("missing")
end`)
	require.Equal(t, "missing\n", out)
}

func TestBuiltinModules(t *testing.T) {
	out := runSource(t, `
import math
import re
import sys
print(math.sqrt(16), math.floor(2.9))
print(re.match("^a+$", "aaa"))
print(re.replace("l+", "hello", "L"))
print(#sys.args >= 0)`)
	require.Equal(t, "4 2\ntrue\nheLo\ntrue\n", out)
}

// ---- GC behavior ----

const gcWorkload = `
fun build(n)
  var acc = []
  for var i = 0; i < n; i = i + 1 do
    acc.add("item" + ##i)
  end
  return acc
end
var keep = build(50)
var counters = []
fun mk() var n = 0; return fun() n += 1; return n end end
for var i = 0; i < 20; i = i + 1 do
  build(20)
  counters.add(mk())
end
var total = 0
for var c in counters do
  c(); c()
  total += c()
end
print(#keep, total, keep[49])`

// Spec §8 invariant 6: output with stress-GC equals output without.
func TestStressGCDeterminism(t *testing.T) {
	plain := runSource(t, gcWorkload)
	stressed := runSource(t, gcWorkload, vm.WithStressGC())
	require.Equal(t, plain, stressed)
	require.Equal(t, "50 60 item49\n", plain)
}

func TestUpvaluesSurviveStressGC(t *testing.T) {
	out := runSource(t, `
fun adder(n)
  return fun(x) return x + n end
end
var add5 = adder(5)
var junk = []
for var i = 0; i < 100; i = i + 1 do
  junk.add([i, "pad"])
end
print(add5(37))`, vm.WithStressGC())
	require.Equal(t, "42\n", out)
}

// ---- upvalue semantics ----

func TestSharedUpvalueBetweenClosures(t *testing.T) {
	out := runSource(t, `
fun mk()
  var shared = 0
  var inc = fun() shared += 1 end
  var get = fun() return shared end
  return inc, get
end
var inc, get = mk()
inc(); inc()
print(get())`)
	require.Equal(t, "2\n", out)
}

func TestLoopVariableCapture(t *testing.T) {
	out := runSource(t, `
var fns = []
for var i in [1, 2, 3] do
  fns.add(fun() return i end)
end
for var f in fns do print(f()) end`)
	require.Equal(t, "1\n2\n3\n", out)
}

// ---- strings & interning ----

func TestStringLiteralInterning(t *testing.T) {
	out := runSource(t, `
var a = "hello"
var b = "hello"
print(a == b, a == "hel" + "lo")`)
	require.Equal(t, "true true\n", out)
}

func TestStringMethods(t *testing.T) {
	out := runSource(t, `
print("Hello".upper(), "Hello".lower())
print("hello".contains("ell"), "hello".startsWith("he"), "hello".endsWith("lo"))
print("a,b,c".split(",").join("|"))
print("hello"[1])`)
	require.Equal(t, "HELLO hello\ntrue true true\na|b|c\ne\n", out)
}

// ---- host embedding API ----

func TestHostGlobalsAndCalls(t *testing.T) {
	var out bytes.Buffer
	machine := vm.New(vm.WithStdout(&out))
	require.Equal(t, vm.Success, machine.Evaluate("t", `fun double(x) return x * 2 end`))

	fn, ok := machine.GetGlobal("", "double")
	require.True(t, ok)

	machine.Push(fn)
	machine.PushNumber(21)
	require.Equal(t, vm.Success, machine.CallFunction(1))
	n, err := machine.GetNumber(0, "result")
	require.NoError(t, err)
	require.Equal(t, 42.0, n)
	machine.Pop()

	machine.PushString("via host")
	machine.SetGlobal("", "injected", machine.Pop())
	require.Equal(t, vm.Success, machine.Evaluate("t", `print(injected)`))
	require.Contains(t, out.String(), "via host")
}

func TestHostBuffer(t *testing.T) {
	machine := vm.New()
	buf := machine.NewBuffer()
	buf.AppendString("abc")
	buf.AppendByte('!')
	require.Equal(t, 4, buf.Len())
	buf.Push()
	s, err := machine.GetString(0, "buffer")
	require.NoError(t, err)
	require.Equal(t, "abc!", s)
	require.Equal(t, 0, buf.Len())
}

func TestHostTypedGetterRaises(t *testing.T) {
	machine := vm.New()
	machine.PushString("not a number")
	_, err := machine.GetNumber(0, "count")
	require.Error(t, err)
	require.Contains(t, err.Error(), "count")
}

// ---- misc semantics ----

func TestGlobalsPersistAcrossEvaluations(t *testing.T) {
	var out bytes.Buffer
	machine := vm.New(vm.WithStdout(&out))
	require.Equal(t, vm.Success, machine.Evaluate("t", `var counter = 1`))
	require.Equal(t, vm.Success, machine.Evaluate("t", `counter += 1; print(counter)`))
	require.Equal(t, "2\n", out.String())
}

func TestShebangAndComments(t *testing.T) {
	out := runSource(t, "#!/usr/bin/env jstar\n// a comment\nprint(\"ok\") // trailing\n")
	require.Equal(t, "ok\n", out)
}

func TestRecursionAndMutualCalls(t *testing.T) {
	out := runSource(t, `
fun fib(n)
  if n < 2 then return n end
  return fib(n - 1) + fib(n - 2)
end
print(fib(15))`)
	require.Equal(t, "610\n", out)
}

func TestInstanceEqDispatch(t *testing.T) {
	out := runSource(t, `
class Point
  fun init(x) this.x = x end
  fun __eq__(other) return other is Point and this.x == other.x end
end
print(Point(1) == Point(1), Point(1) == Point(2))`)
	require.Equal(t, "true false\n", out)
}
