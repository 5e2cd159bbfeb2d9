package compiler

import (
	"strings"

	"jstar/ast"
)

func (c *Compiler) VisitExprStmt(s *ast.ExprStmt) any {
	c.compileExpr(s.Expression)
	c.emit(OP_POP)
	return nil
}

// VisitVarStmt declares one or more names; locals are literally whatever
// value ends up sitting in their stack slot (spec §4.3's frame-relative
// locals), so no store instruction is needed beyond leaving the
// initializer's value in place.
func (c *Compiler) VisitVarStmt(s *ast.VarStmt) any {
	// A single initializer for several names is a tuple unpack:
	// `var a, b = pair()`.
	if len(s.Names) > 1 && len(s.Initializers) == 1 {
		c.compileExpr(s.Initializers[0])
		if c.isGlobalScope() {
			for i, name := range s.Names {
				c.emit(OP_DUP)
				c.emit(OP_CONST, c.addConstant(float64(i)))
				c.emit(OP_GET_INDEX)
				c.emit(OP_DEFINE_GLOBAL, c.addConstant(name.Lexeme))
			}
			c.emit(OP_POP)
		} else {
			// The tuple stays behind in a hidden slot below the named
			// locals and is discarded with the scope.
			tupleSlot := c.addLocal("@unpack")
			for i, name := range s.Names {
				c.emit(OP_LOAD_LOCAL, tupleSlot)
				c.emit(OP_CONST, c.addConstant(float64(i)))
				c.emit(OP_GET_INDEX)
				c.addLocal(name.Lexeme)
			}
		}
		return nil
	}

	for i, name := range s.Names {
		if i < len(s.Initializers) {
			c.compileExpr(s.Initializers[i])
		} else {
			c.emit(OP_NULL)
		}
		if c.isGlobalScope() {
			c.emit(OP_DEFINE_GLOBAL, c.addConstant(name.Lexeme))
		} else {
			c.addLocal(name.Lexeme)
		}
	}
	return nil
}

// VisitFunDecl lets a function call itself recursively: a local function's
// slot is reserved before its body is compiled, and a global function's
// self-reference is a late-bound global lookup, defined after the body.
func (c *Compiler) VisitFunDecl(s *ast.FunDecl) any {
	name := s.Name.Lexeme
	if c.isGlobalScope() {
		c.compileFunction(s.Fun, TypeFunction)
		c.emit(OP_DEFINE_GLOBAL, c.addConstant(name))
	} else {
		c.addLocal(name)
		c.compileFunction(s.Fun, TypeFunction)
	}
	return nil
}

func (c *Compiler) VisitClassDecl(s *ast.ClassDecl) any {
	name := s.Name.Lexeme
	c.emit(OP_NEW_CLASS, c.addConstant(name))

	// Bind the class name first, then reload it for INHERIT/DEFINE_METHOD,
	// so the class always sits directly under each method closure on the
	// stack regardless of the hidden "super" local below it.
	if c.isGlobalScope() {
		c.emit(OP_DEFINE_GLOBAL, c.addConstant(name))
	} else {
		c.addLocal(name)
	}

	hasSuper := s.Super != nil
	c.class = &classCtx{enclosing: c.class, hasSuper: hasSuper}
	// A subclass's methods close over a hidden "super" local holding the
	// superclass, the same trick spec §4.3's chained upvalue descriptors
	// are built to support: `super.m()` resolves as an upvalue, not a
	// runtime class-pointer lookup.
	if hasSuper {
		c.beginScope()
		c.namedVariable(s.Super.Lexeme)
		c.addLocal("super")
	}
	c.namedVariable(name)
	if hasSuper {
		c.namedVariable("super")
		c.emit(OP_INHERIT)
	}
	for _, m := range s.Methods {
		ft := TypeMethod
		if m.Name.Lexeme == "init" {
			ft = TypeCtor
		}
		c.compileFunction(m.Fun, ft)
		c.emit(OP_DEFINE_METHOD, c.addConstant(m.Name.Lexeme))
	}
	c.emit(OP_POP)
	if hasSuper {
		c.endScope()
	}
	c.class = c.class.enclosing
	return nil
}

func (c *Compiler) VisitBlock(s *ast.Block) any {
	c.beginScope()
	for _, st := range s.Statements {
		st.Accept(c)
	}
	c.endScope()
	return nil
}

func (c *Compiler) VisitIf(s *ast.If) any {
	c.compileExpr(s.Condition)
	thenJump := c.emitJump(OP_JMP_FALSE)
	c.emit(OP_POP)
	s.Then.Accept(c)
	elseJump := c.emitJump(OP_JMP)
	c.patchJump(thenJump)
	c.emit(OP_POP)
	if s.Else != nil {
		s.Else.Accept(c)
	}
	c.patchJump(elseJump)
	return nil
}

func (c *Compiler) VisitWhile(s *ast.While) any {
	loopStart := len(c.proto.Code)
	c.loop = &loopCtx{enclosing: c.loop, start: loopStart, scopeDepth: c.depth}

	c.compileExpr(s.Condition)
	exitJump := c.emitJump(OP_JMP_FALSE)
	c.emit(OP_POP)
	s.Body.Accept(c)

	for _, off := range c.loop.continueJumps {
		c.patchJumpTo(off, loopStart)
	}
	c.emitLoop(loopStart)
	c.patchJump(exitJump)
	c.emit(OP_POP)
	for _, off := range c.loop.breakJumps {
		c.patchJump(off)
	}
	c.loop = c.loop.enclosing
	return nil
}

// VisitFor compiles the classic three-clause loop. `continue` targets the
// post-expression (patched once its offset is known, after the body), not
// the condition check, so `for i=0; i<n; i=i+1 do ... continue ... end`
// still increments before looping.
func (c *Compiler) VisitFor(s *ast.For) any {
	c.beginScope()
	if s.Init != nil {
		s.Init.Accept(c)
	}
	condLabel := len(c.proto.Code)
	hasCond := s.Cond != nil
	var exitJump int
	if hasCond {
		c.compileExpr(s.Cond)
		exitJump = c.emitJump(OP_JMP_FALSE)
		c.emit(OP_POP)
	}

	c.loop = &loopCtx{enclosing: c.loop, start: condLabel, scopeDepth: c.depth}
	s.Body.Accept(c)
	postLabel := len(c.proto.Code)
	for _, off := range c.loop.continueJumps {
		c.patchJumpTo(off, postLabel)
	}
	if s.Post != nil {
		s.Post.Accept(c)
	}
	c.emitLoop(condLabel)
	if hasCond {
		c.patchJump(exitJump)
		c.emit(OP_POP)
	}
	for _, off := range c.loop.breakJumps {
		c.patchJump(off)
	}
	c.loop = c.loop.enclosing
	c.endScope()
	return nil
}

func (c *Compiler) emitForeachNext() int {
	c.emit(OP_FOREACH_NEXT, 0xFFFF)
	return len(c.proto.Code) - 2
}

// VisitForEach desugars `for var x in e do ... end` onto the iteration
// protocol (spec §4.3): FOREACH_NEXT drives `__iter__`/`__next__` on the
// iterable sitting beneath the iterator state, pushing the next element or
// jumping past the loop once exhausted.
func (c *Compiler) VisitForEach(s *ast.ForEach) any {
	c.beginScope()
	c.compileExpr(s.Iterable)
	c.addLocal("@iterable")
	c.emit(OP_FOREACH_INIT)
	c.addLocal("@state")

	loopStart := len(c.proto.Code)
	c.loop = &loopCtx{enclosing: c.loop, start: loopStart, scopeDepth: c.depth}
	exitOperand := c.emitForeachNext()

	c.beginScope()
	c.addLocal(s.Var.Lexeme)
	s.Body.Accept(c)
	c.endScope()

	for _, off := range c.loop.continueJumps {
		c.patchJumpTo(off, loopStart)
	}
	c.emitLoop(loopStart)
	c.patchJump(exitOperand)
	for _, off := range c.loop.breakJumps {
		c.patchJump(off)
	}
	c.loop = c.loop.enclosing
	c.endScope()
	return nil
}

func (c *Compiler) popLocalsAbove(depth int) {
	for i := len(c.locals) - 1; i >= 0 && c.locals[i].depth > depth; i-- {
		if c.locals[i].isCaptured {
			c.emit(OP_CLOSE_UPVALUE, i)
		} else {
			c.emit(OP_POP)
		}
	}
}

// unwindTriesTo pops the handler record and inlines the ensure clause of
// every try the jump is about to abandon: those entered inside the current
// loop (break/continue), or every one in the function (stop == nil, for
// return). Exceptional exits get the same ensure semantics from the VM's
// unwinder instead.
func (c *Compiler) unwindTriesTo(stop *loopCtx) {
	for t := c.try; t != nil && (stop == nil || t.loop == stop); t = t.enclosing {
		c.emit(OP_POP_HANDLER)
		if t.emitEnsure != nil {
			t.emitEnsure(c)
		}
	}
}

func (c *Compiler) VisitBreak(s *ast.Break) any {
	if c.loop == nil {
		c.error(0, "'break' used outside a loop")
		return nil
	}
	c.unwindTriesTo(c.loop)
	c.popLocalsAbove(c.loop.scopeDepth)
	c.loop.breakJumps = append(c.loop.breakJumps, c.emitJump(OP_JMP))
	return nil
}

func (c *Compiler) VisitContinue(s *ast.Continue) any {
	if c.loop == nil {
		c.error(0, "'continue' used outside a loop")
		return nil
	}
	c.unwindTriesTo(c.loop)
	c.popLocalsAbove(c.loop.scopeDepth)
	c.loop.continueJumps = append(c.loop.continueJumps, c.emitJump(OP_JMP))
	return nil
}

func (c *Compiler) VisitReturn(s *ast.Return) any {
	if c.funcType == TypeTopLevel {
		c.error(0, "'return' used outside a function")
	}
	switch {
	case s.Value != nil && c.funcType == TypeCtor:
		c.error(0, "cannot return a value from a constructor")
		c.compileExpr(s.Value)
	case s.Value != nil:
		c.compileExpr(s.Value)
	case c.funcType == TypeCtor:
		c.namedVariable("this")
	default:
		c.emit(OP_NULL)
	}
	if c.try != nil {
		// Stash the return value in a scratch slot so the inlined ensure
		// bodies see the same local layout they were written against.
		retSlot := c.addLocal("@ret")
		c.unwindTriesTo(nil)
		c.emit(OP_LOAD_LOCAL, retSlot)
		c.locals = c.locals[:len(c.locals)-1]
	}
	c.emit(OP_RETURN)
	return nil
}

// VisitImport compiles `import a.b.c (as name)?`. The VM's module cache
// resolves the dotted path and, absent an alias, binds the first path
// segment in the current scope (spec §4.6's dotted-name parent binding).
func (c *Compiler) VisitImport(s *ast.Import) any {
	parts := make([]string, len(s.Path))
	for i, t := range s.Path {
		parts[i] = t.Lexeme
	}
	dotted := strings.Join(parts, ".")
	pathIdx := c.addConstant(dotted)

	bindName := parts[0]
	if s.As != nil {
		bindName = s.As.Lexeme
		c.emit(OP_IMPORT_AS, pathIdx, c.addConstant(bindName))
	} else {
		c.emit(OP_IMPORT, pathIdx)
	}

	if c.isGlobalScope() {
		c.emit(OP_DEFINE_GLOBAL, c.addConstant(bindName))
	} else {
		c.addLocal(bindName)
	}
	return nil
}

// VisitTry compiles try/except/ensure (spec §4.3). SETUP_HANDLER records
// two jump targets: where the VM resumes on a matching raise (the except
// chain, sentinel 0xFFFF if there are none), and where it resumes to run
// cleanup while an exception keeps propagating (the ensure block, same
// sentinel if absent). Each except clause tests the raised value with the
// same `is` check `e is Class` would compile to, falling through to the
// next clause (or re-raising) when it doesn't match.
func (c *Compiler) VisitTry(s *ast.Try) any {
	handlerOff := len(c.proto.Code)
	c.emit(OP_SETUP_HANDLER, 0xFFFF, 0xFFFF)
	catchOperand := handlerOff + 1
	ensureOperand := handlerOff + 3

	var inlineEnsure func(*Compiler)
	if s.Ensure != nil {
		inlineEnsure = func(cc *Compiler) { s.Ensure.Accept(cc) }
	}

	saved := c.try
	c.try = &tryCtx{enclosing: saved, loop: c.loop, emitEnsure: inlineEnsure}
	s.Body.Accept(c)
	c.try = saved
	c.emit(OP_POP_HANDLER)
	endJump := c.emitJump(OP_JMP)

	if len(s.Excepts) > 0 {
		c.patchJump(catchOperand)
		// Entering the catch chain consumed the handler record; the VM
		// re-arms an ensure-only record so a raise inside an except body
		// still runs the ensure clause. Jumps out of an except body must
		// unwind that record too.
		if s.Ensure != nil {
			c.try = &tryCtx{enclosing: saved, loop: c.loop, emitEnsure: inlineEnsure}
		}
	}

	var clauseEnds []int
	for _, ex := range s.Excepts {
		c.emit(OP_DUP)
		c.namedVariable(ex.Class.Lexeme)
		c.emit(OP_IS)
		nextClause := c.emitJump(OP_JMP_FALSE)
		c.emit(OP_POP)

		c.beginScope()
		if ex.Name != nil {
			c.addLocal(ex.Name.Lexeme)
		} else {
			c.emit(OP_POP)
		}
		ex.Body.Accept(c)
		c.endScope()
		clauseEnds = append(clauseEnds, c.emitJump(OP_JMP))

		c.patchJump(nextClause)
		c.emit(OP_POP)
	}
	if len(s.Excepts) > 0 {
		c.emit(OP_RAISE)
		c.try = saved
	}
	for _, off := range clauseEnds {
		c.patchJump(off)
	}
	c.patchJump(endJump)

	if s.Ensure != nil {
		c.patchJump(ensureOperand)
		c.emit(OP_BEGIN_ENSURE)
		s.Ensure.Accept(c)
		c.emit(OP_END_ENSURE)
	}
	return nil
}

func (c *Compiler) VisitRaise(s *ast.Raise) any {
	c.compileExpr(s.Value)
	c.emit(OP_RAISE)
	return nil
}

// VisitWith lowers `with expr name ... end` into a bound local plus a
// try/ensure that calls `name.close()` (spec §4.3).
func (c *Compiler) VisitWith(s *ast.With) any {
	// The handler is armed only after the resource expression has been
	// evaluated and bound: a raise during acquisition has nothing to close.
	c.beginScope()
	c.compileExpr(s.Expr)
	c.addLocal(s.Name.Lexeme)

	handlerOff := len(c.proto.Code)
	c.emit(OP_SETUP_HANDLER, 0xFFFF, 0xFFFF)
	ensureOperand := handlerOff + 3

	closeEnsure := func(cc *Compiler) {
		cc.namedVariable(s.Name.Lexeme)
		cc.emit(OP_INVOKE, cc.addConstant("close"), 0)
		cc.emit(OP_POP)
	}

	saved := c.try
	c.try = &tryCtx{enclosing: saved, loop: c.loop, emitEnsure: closeEnsure}
	s.Body.Accept(c)
	c.try = saved
	c.emit(OP_POP_HANDLER)

	// Normal completion falls straight into the ensure block; exceptional
	// unwinds jump to the same spot with the exception pending.
	c.patchJump(ensureOperand)
	c.emit(OP_BEGIN_ENSURE)
	closeEnsure(c)
	c.emit(OP_END_ENSURE)

	c.endScope()
	return nil
}
