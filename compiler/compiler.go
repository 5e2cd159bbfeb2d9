package compiler

import (
	"fmt"

	"jstar/ast"
)

// FuncType distinguishes the kind of function a Compiler instance is
// assembling, since that changes what `return` and an implicit trailing
// return mean (spec §4.3: constructors implicitly return the instance).
type FuncType int

const (
	TypeTopLevel FuncType = iota
	TypeFunction
	TypeMethod
	TypeCtor
)

type local struct {
	name       string
	depth      int
	isCaptured bool
}

// loopCtx tracks the jumps a `break`/`continue` inside the innermost loop
// must patch once the loop's bounds are known.
type loopCtx struct {
	enclosing     *loopCtx
	start         int // loop head: the condition (or FOREACH_NEXT) re-check point
	scopeDepth    int
	breakJumps    []int // offsets of JMP operands to patch to the loop's end
	continueJumps []int // offsets of JMP operands to patch to the continue target
}

// classCtx tracks whether the class currently being compiled has a
// superclass, so `super.m()` can be resolved or rejected (spec §4.3).
type classCtx struct {
	enclosing *classCtx
	hasSuper  bool
}

// tryCtx tracks a try (or with) statement whose handler record is live at
// the current emission point. break/continue/return crossing it must pop
// the runtime handler and run the ensure clause inline, since the VM only
// unwinds handler records on exceptions.
type tryCtx struct {
	enclosing  *tryCtx
	loop       *loopCtx // innermost loop when the try was entered
	emitEnsure func(*Compiler) // nil when the try has no ensure clause
}

// Compiler walks one function's AST and assembles its Proto. Nested
// functions get their own Compiler chained via enclosing, the same
// single-pass structure spec §4.3 describes.
type Compiler struct {
	enclosing *Compiler
	path      string
	funcType  FuncType

	proto  *Proto
	locals []local
	depth  int
	loop   *loopCtx
	class  *classCtx
	try    *tryCtx
	line   int // source line attributed to instructions currently being emitted

	constIndex map[any]int
	errors     []error
}

// SemanticError is a compile-time error that is not a syntax error: an
// invalid assignment target, a `break` outside a loop, `super` outside a
// class, too many constants, and similar (spec §7 layer 2).
type SemanticError struct {
	Path    string
	Line    int
	Message string
}

func (e SemanticError) Error() string {
	return fmt.Sprintf("%s:%d: SemanticError: %s", e.Path, e.Line, e.Message)
}

// Compile compiles a top-level module function (the FunLit produced by
// parser.Parse) into its Proto, alongside any semantic errors encountered.
func Compile(path string, top *ast.FunLit) (*Proto, []error) {
	c := newCompiler(nil, path, TypeTopLevel, top.Name)
	for _, s := range top.Body {
		s.Accept(c)
	}
	c.emit(OP_NULL)
	c.emit(OP_RETURN)
	if len(c.errors) > 0 {
		return nil, c.errors
	}
	return c.proto, nil
}

func newCompiler(enclosing *Compiler, path string, ft FuncType, name string) *Compiler {
	c := &Compiler{
		enclosing:  enclosing,
		path:       path,
		funcType:   ft,
		proto:      &Proto{Name: name, ModuleName: path},
		constIndex: make(map[any]int),
	}
	if enclosing != nil {
		c.class = enclosing.class
	}
	// slot 0 is reserved for the receiver in methods/constructors, and for
	// the closure's own ObjClosure in plain functions (spec's calling
	// convention reserves the first frame slot).
	recv := ""
	if ft == TypeMethod || ft == TypeCtor {
		recv = "this"
	}
	c.locals = append(c.locals, local{name: recv, depth: 0})
	return c
}

// ---- emission helpers ----

func (c *Compiler) emit(op Opcode, operands ...int) int {
	offset := len(c.proto.Code)
	ins := Make(op, operands...)
	c.proto.Code = append(c.proto.Code, ins...)
	for range ins {
		c.proto.Lines = append(c.proto.Lines, c.line)
	}
	if len(c.locals) > c.proto.MaxLocals {
		c.proto.MaxLocals = len(c.locals)
	}
	return offset
}

func (c *Compiler) emitRaw(b ...byte) {
	c.proto.Code = append(c.proto.Code, b...)
	for range b {
		c.proto.Lines = append(c.proto.Lines, c.line)
	}
}

// emitJump emits a jump opcode with a placeholder operand and returns the
// offset of that operand, to be fixed up later by patchJump.
func (c *Compiler) emitJump(op Opcode) int {
	c.emit(op, 0xFFFF)
	return len(c.proto.Code) - 2
}

func (c *Compiler) patchJump(operandOffset int) {
	c.patchJumpTo(operandOffset, len(c.proto.Code))
}

func (c *Compiler) patchJumpTo(operandOffset, target int) {
	PatchUint16(c.proto.Code, operandOffset, target)
}

func (c *Compiler) emitLoop(start int) {
	c.emit(OP_JMP, start)
}

func (c *Compiler) addConstant(v any) int {
	if idx, ok := c.constIndex[v]; ok {
		return idx
	}
	idx := len(c.proto.Constants)
	if idx > 0xFFFF {
		c.error(0, "too many constants in one function")
		return 0
	}
	c.proto.Constants = append(c.proto.Constants, v)
	c.constIndex[v] = idx
	return idx
}

func (c *Compiler) error(line int, msg string) {
	c.errors = append(c.errors, SemanticError{Path: c.path, Line: line, Message: msg})
}

// ---- scope/local/upvalue resolution ----

func (c *Compiler) beginScope() { c.depth++ }

func (c *Compiler) endScope() {
	c.depth--
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.depth {
		last := c.locals[len(c.locals)-1]
		if last.isCaptured {
			c.emit(OP_CLOSE_UPVALUE, len(c.locals)-1)
		} else {
			c.emit(OP_POP)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}

func (c *Compiler) isGlobalScope() bool {
	return c.enclosing == nil && c.depth == 0
}

func (c *Compiler) addLocal(name string) int {
	if len(c.locals) >= 256 {
		c.error(c.line, "too many local variables in one function")
		return 0
	}
	c.locals = append(c.locals, local{name: name, depth: c.depth})
	if len(c.locals) > c.proto.MaxLocals {
		c.proto.MaxLocals = len(c.locals)
	}
	return len(c.locals) - 1
}

func resolveLocal(c *Compiler, name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			return i
		}
	}
	return -1
}

func resolveUpvalue(c *Compiler, name string) int {
	if c.enclosing == nil {
		return -1
	}
	if idx := resolveLocal(c.enclosing, name); idx != -1 {
		c.enclosing.locals[idx].isCaptured = true
		return addUpvalue(c, idx, true)
	}
	if idx := resolveUpvalue(c.enclosing, name); idx != -1 {
		return addUpvalue(c, idx, false)
	}
	return -1
}

func addUpvalue(c *Compiler, index int, isLocal bool) int {
	for i, uv := range c.proto.Upvalues {
		if uv.Index == index && uv.IsLocal == isLocal {
			return i
		}
	}
	if len(c.proto.Upvalues) >= 256 {
		c.error(c.line, "too many captured variables in one function")
		return 0
	}
	c.proto.Upvalues = append(c.proto.Upvalues, UpvalueDesc{IsLocal: isLocal, Index: index})
	return len(c.proto.Upvalues) - 1
}

// namedVariable emits the load for a bare identifier reference, consulting
// locals, then enclosing upvalues, then falling back to a global.
func (c *Compiler) namedVariable(name string) {
	if idx := resolveLocal(c, name); idx != -1 {
		c.emit(OP_LOAD_LOCAL, idx)
		return
	}
	if idx := resolveUpvalue(c, name); idx != -1 {
		c.emit(OP_LOAD_UPVALUE, idx)
		return
	}
	c.emit(OP_LOAD_GLOBAL, c.addConstant(name))
}

func (c *Compiler) storeVariable(name string) {
	if idx := resolveLocal(c, name); idx != -1 {
		c.emit(OP_STORE_LOCAL, idx)
		return
	}
	if idx := resolveUpvalue(c, name); idx != -1 {
		c.emit(OP_STORE_UPVALUE, idx)
		return
	}
	c.emit(OP_STORE_GLOBAL, c.addConstant(name))
}
