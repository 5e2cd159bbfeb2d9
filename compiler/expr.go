package compiler

import (
	"jstar/ast"
	"jstar/token"
)

// compileExpr visits e, tracking its source line for disassembly/trace.
func (c *Compiler) compileExpr(e ast.Expr) {
	switch n := e.(type) {
	case *ast.Variable:
		c.line = n.Name.Line
	case *ast.Binary:
		c.line = n.Op.Line
	case *ast.Unary:
		c.line = n.Op.Line
	case *ast.Logical:
		c.line = n.Op.Line
	case *ast.Assign:
		c.line = n.Op.Line
	case *ast.Get:
		c.line = n.Name.Line
	case *ast.Super:
		c.line = n.Method.Line
	}
	e.Accept(c)
}

func (c *Compiler) VisitLiteral(e *ast.Literal) any {
	switch v := e.Value.(type) {
	case nil:
		c.emit(OP_NULL)
	case bool:
		if v {
			c.emit(OP_TRUE)
		} else {
			c.emit(OP_FALSE)
		}
	default:
		c.emit(OP_CONST, c.addConstant(v))
	}
	return nil
}

var binaryOps = map[token.Type]Opcode{
	token.PLUS:          OP_ADD,
	token.MINUS:         OP_SUB,
	token.STAR:          OP_MUL,
	token.SLASH:         OP_DIV,
	token.PERCENT:       OP_MOD,
	token.CARET:         OP_POW,
	token.EQUAL_EQUAL:   OP_EQ,
	token.BANG_EQUAL:    OP_NEQ,
	token.LESS:          OP_LT,
	token.LESS_EQUAL:    OP_LE,
	token.GREATER:       OP_GT,
	token.GREATER_EQUAL: OP_GE,
	token.IS:            OP_IS,
}

func (c *Compiler) VisitBinary(e *ast.Binary) any {
	c.compileExpr(e.Left)
	c.compileExpr(e.Right)
	op, ok := binaryOps[e.Op.Type]
	if !ok {
		c.error(e.Op.Line, "unknown binary operator "+e.Op.Lexeme)
		return nil
	}
	c.emit(op)
	return nil
}

func (c *Compiler) VisitUnary(e *ast.Unary) any {
	c.compileExpr(e.Right)
	switch e.Op.Type {
	case token.MINUS:
		c.emit(OP_NEG)
	case token.BANG:
		c.emit(OP_NOT)
	case token.HASH:
		c.emit(OP_LEN)
	case token.DBL_HASH:
		c.emit(OP_STRINGIFY)
	}
	return nil
}

// VisitLogical short-circuits by peeking the left value: `and` jumps past
// the right operand (keeping the falsy left value as the result) when left
// is falsy; `or` mirrors this, jumping past the right operand when left is
// already truthy.
func (c *Compiler) VisitLogical(e *ast.Logical) any {
	c.compileExpr(e.Left)
	skip := OP_JMP_FALSE
	if e.Op.Type == token.OR {
		skip = OP_JMP_TRUE
	}
	end := c.emitJump(skip)
	c.emit(OP_POP)
	c.compileExpr(e.Right)
	c.patchJump(end)
	return nil
}

func (c *Compiler) VisitTernary(e *ast.Ternary) any {
	c.compileExpr(e.Cond)
	elseJump := c.emitJump(OP_JMP_FALSE)
	c.emit(OP_POP)
	c.compileExpr(e.Then)
	end := c.emitJump(OP_JMP)
	c.patchJump(elseJump)
	c.emit(OP_POP)
	c.compileExpr(e.Else)
	c.patchJump(end)
	return nil
}

func (c *Compiler) VisitGrouping(e *ast.Grouping) any {
	c.compileExpr(e.Expression)
	return nil
}

func (c *Compiler) VisitVariable(e *ast.Variable) any {
	c.namedVariable(e.Name.Lexeme)
	return nil
}

// VisitAssign compiles every assignment shape. Every STORE_*/SET_* opcode
// leaves the assigned value on the stack (assignment is an expression, per
// spec §4.2's tuple-swap example composing inside larger expressions);
// statement context pops it via VisitExprStmt.
func (c *Compiler) VisitAssign(e *ast.Assign) any {
	if tuple, ok := e.Target.(*ast.TupleLit); ok {
		c.compileTupleAssign(tuple, e.Value)
		return nil
	}

	compound := e.Op.Type != token.EQUAL
	var op Opcode
	if compound {
		var ok bool
		op, ok = binaryOps[compoundBase(e.Op.Type)]
		if !ok {
			c.error(e.Op.Line, "unknown compound assignment operator "+e.Op.Lexeme)
			return nil
		}
	}

	switch t := e.Target.(type) {
	case *ast.Variable:
		if compound {
			c.namedVariable(t.Name.Lexeme)
			c.compileExpr(e.Value)
			c.emit(op)
		} else {
			c.compileExpr(e.Value)
		}
		c.storeVariable(t.Name.Lexeme)

	case *ast.Get:
		c.compileExpr(t.Object)
		nameIdx := c.addConstant(t.Name.Lexeme)
		if compound {
			c.emit(OP_DUP)
			c.emit(OP_GET_FIELD, nameIdx)
			c.compileExpr(e.Value)
			c.emit(op)
		} else {
			c.compileExpr(e.Value)
		}
		c.emit(OP_SET_FIELD, nameIdx)

	case *ast.Index:
		c.compileExpr(t.Object)
		c.compileExpr(t.Key)
		if compound {
			c.emit(OP_DUP2)
			c.emit(OP_GET_INDEX)
			c.compileExpr(e.Value)
			c.emit(op)
		} else {
			c.compileExpr(e.Value)
		}
		c.emit(OP_SET_INDEX)

	default:
		c.error(e.Op.Line, "invalid assignment target")
	}
	return nil
}

func compoundBase(t token.Type) token.Type {
	switch t {
	case token.PLUS_EQ:
		return token.PLUS
	case token.MINUS_EQ:
		return token.MINUS
	case token.STAR_EQ:
		return token.STAR
	case token.SLASH_EQ:
		return token.SLASH
	case token.PERCENT_EQ:
		return token.PERCENT
	}
	return token.ILLEGAL
}

// tupleElementName requires every tuple-assignment target to be a bare
// name: `a, b = b, a` (spec §8 scenario S2) and `var a, b = pair` cover the
// language's tuple-unpacking use cases, and restricting to names avoids the
// stack-juggling a field/index sub-target would need to both read and
// write its receiver around the shared tuple value.
func (c *Compiler) tupleElementName(el ast.Expr) (string, bool) {
	v, ok := el.(*ast.Variable)
	if !ok {
		return "", false
	}
	return v.Name.Lexeme, true
}

// compileTupleAssign handles both the plain-swap fast path (value is itself
// a tuple literal of matching arity, e.g. `a, b = b, a`) and the general
// case of unpacking an arbitrary tuple-valued expression.
func (c *Compiler) compileTupleAssign(target *ast.TupleLit, value ast.Expr) {
	for _, el := range target.Elements {
		if _, ok := c.tupleElementName(el); !ok {
			c.error(0, "tuple assignment targets must be simple names")
			return
		}
	}

	if vt, ok := value.(*ast.TupleLit); ok && len(vt.Elements) == len(target.Elements) {
		for _, v := range vt.Elements {
			c.compileExpr(v)
		}
		for i := len(target.Elements) - 1; i >= 0; i-- {
			name, _ := c.tupleElementName(target.Elements[i])
			c.storeVariable(name)
			if i > 0 {
				c.emit(OP_POP)
			}
		}
		return
	}

	c.compileExpr(value)
	for i, el := range target.Elements {
		name, _ := c.tupleElementName(el)
		c.emit(OP_DUP)
		c.emit(OP_CONST, c.addConstant(float64(i)))
		c.emit(OP_GET_INDEX)
		c.storeVariable(name)
		c.emit(OP_POP)
	}
}

func (c *Compiler) VisitTupleLit(e *ast.TupleLit) any {
	for _, el := range e.Elements {
		c.compileExpr(el)
	}
	c.emit(OP_NEW_TUPLE, len(e.Elements))
	return nil
}

func (c *Compiler) VisitListLit(e *ast.ListLit) any {
	c.emit(OP_NEW_LIST)
	for _, el := range e.Elements {
		c.compileExpr(el)
		c.emit(OP_LIST_APPEND)
	}
	return nil
}

func (c *Compiler) VisitTableLit(e *ast.TableLit) any {
	c.emit(OP_NEW_TABLE)
	for i := range e.Keys {
		c.compileExpr(e.Keys[i])
		c.compileExpr(e.Values[i])
		c.emit(OP_TABLE_PUT)
	}
	return nil
}

// VisitCall fuses `receiver.method(args)` into OP_INVOKE, the dispatch
// shortcut spec §4.3 calls out, instead of a separate GET_FIELD+CALL.
func (c *Compiler) VisitCall(e *ast.Call) any {
	if get, ok := e.Callee.(*ast.Get); ok {
		c.compileExpr(get.Object)
		for _, a := range e.Args {
			c.compileExpr(a)
		}
		c.emit(OP_INVOKE, c.addConstant(get.Name.Lexeme), len(e.Args))
		return nil
	}
	c.compileExpr(e.Callee)
	for _, a := range e.Args {
		c.compileExpr(a)
	}
	c.emit(OP_CALL, len(e.Args))
	return nil
}

func (c *Compiler) VisitGet(e *ast.Get) any {
	c.compileExpr(e.Object)
	c.emit(OP_GET_FIELD, c.addConstant(e.Name.Lexeme))
	return nil
}

func (c *Compiler) VisitIndex(e *ast.Index) any {
	c.compileExpr(e.Object)
	c.compileExpr(e.Key)
	c.emit(OP_GET_INDEX)
	return nil
}

func (c *Compiler) VisitSuper(e *ast.Super) any {
	if c.class == nil || !c.class.hasSuper {
		c.error(e.Method.Line, "'super' used outside a subclass method")
		return nil
	}
	// stack on SUPER_INVOKE: [this, args..., superclass]; the VM binds the
	// call's receiver to `this` and looks the method up starting from
	// `superclass` rather than `this`'s own (dynamic) class.
	c.namedVariable("this")
	for _, a := range e.Args {
		c.compileExpr(a)
	}
	c.namedVariable("super")
	c.emit(OP_SUPER_INVOKE, c.addConstant(e.Method.Lexeme), len(e.Args))
	return nil
}

func (c *Compiler) VisitFunLit(e *ast.FunLit) any {
	c.compileFunction(e, TypeFunction)
	return nil
}

// compileFunction compiles e as a nested Proto, emits it as a constant, and
// leaves a closure for it on the stack via OP_MAKE_CLOSURE followed by one
// (isLocal, index) descriptor pair per upvalue (spec §4.3).
func (c *Compiler) compileFunction(e *ast.FunLit, ft FuncType) {
	fc := newCompiler(c, c.path, ft, e.Name)
	fc.class = c.class
	fc.beginScope()
	for _, p := range e.Params {
		fc.addLocal(p.Name.Lexeme)
		fc.proto.Arity++
		if p.Default != nil {
			fc.proto.Defaults = append(fc.proto.Defaults, p.Default.Value)
		}
	}
	fc.proto.HasVararg = e.Vararg
	for _, s := range e.Body {
		s.Accept(fc)
	}
	if ft == TypeCtor {
		fc.namedVariable("this")
	} else {
		fc.emit(OP_NULL)
	}
	fc.emit(OP_RETURN)
	if len(fc.errors) > 0 {
		c.errors = append(c.errors, fc.errors...)
	}

	idx := c.addConstant(fc.proto)
	c.emit(OP_MAKE_CLOSURE, idx)
	for _, uv := range fc.proto.Upvalues {
		isLocal := byte(0)
		if uv.IsLocal {
			isLocal = 1
		}
		c.emitRaw(isLocal, byte(uv.Index))
	}
}
