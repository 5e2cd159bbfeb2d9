// Package parser implements the predictive recursive-descent parser of
// spec §4.2, turning a token stream into the ast package's tree.
package parser

import (
	"fmt"

	"jstar/ast"
	"jstar/lexer"
	"jstar/token"
)

// Parser consumes a flat token slice (the whole file is lexed up front,
// mirroring the teacher's `lexer.Scan` + `parser.Make(tokens)` split) and
// produces an AST plus a list of SyntaxErrors.
type Parser struct {
	path    string
	tokens  []token.Token
	pos     int
	errors  []error
	onError ErrorFunc
	panic   bool // panic-mode flag: suppresses cascading errors until synced
}

// New creates a Parser over src, lexing it internally.
func New(path, src string) *Parser {
	return Make(lexer.Scan(src)).WithPath(path)
}

// Make creates a Parser over an already-lexed token slice.
func Make(tokens []token.Token) *Parser {
	return &Parser{tokens: tokens, onError: defaultErrorFunc}
}

// WithPath sets the path used in error messages and returned SyntaxErrors.
func (p *Parser) WithPath(path string) *Parser {
	p.path = path
	return p
}

// WithErrorFunc installs the callback invoked for every reported error
// (spec §4.2's "injected callback").
func (p *Parser) WithErrorFunc(f ErrorFunc) *Parser {
	p.onError = f
	return p
}

func defaultErrorFunc(path string, line int, message string) {
	fmt.Printf("%s:%d: %s\n", path, line, message)
}

// Parse parses the whole token stream and returns the module's top-level
// function (its Body holds the module's statements, per spec §4.2: "The
// whole program is wrapped by the parser into an anonymous top-level
// function"). If any error occurred, the first return value is nil, per
// spec §7 layer 2.
func (p *Parser) Parse() (*ast.FunLit, []error) {
	var stmts []ast.Stmt
	for !p.check(token.EOF) {
		p.skipSeparators()
		if p.check(token.EOF) {
			break
		}
		stmts = append(stmts, p.declaration())
		p.skipSeparators()
	}
	if len(p.errors) > 0 {
		return nil, p.errors
	}
	return &ast.FunLit{Name: "<main>", Body: stmts}, nil
}

// ---- token cursor helpers ----

func (p *Parser) peek() token.Token { return p.tokens[p.pos] }
func (p *Parser) previous() token.Token {
	if p.pos == 0 {
		return p.tokens[0]
	}
	return p.tokens[p.pos-1]
}
func (p *Parser) check(t token.Type) bool { return p.peek().Type == t }
func (p *Parser) advance() token.Token {
	if !p.check(token.EOF) {
		p.pos++
	}
	return p.previous()
}
func (p *Parser) match(types ...token.Type) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

func (p *Parser) expect(t token.Type, msg string) token.Token {
	if p.check(t) {
		return p.advance()
	}
	p.errorAt(p.peek(), msg)
	return p.peek()
}

// skipSeparators consumes any run of NEWLINE/SEMICOLON tokens, the
// whitespace-equivalent between statements (spec §4.2 explicit
// terminators).
func (p *Parser) skipSeparators() {
	for p.check(token.NEWLINE) || p.check(token.SEMICOLON) {
		p.advance()
	}
}

// errorAt records a syntax error, entering panic mode so a single malformed
// construct does not cascade into dozens of follow-on errors (spec §4.2).
func (p *Parser) errorAt(t token.Token, msg string) {
	if p.panic {
		return
	}
	p.panic = true
	err := SyntaxError{Path: p.path, Line: t.Line, Column: t.Column, Message: msg}
	p.errors = append(p.errors, err)
	p.onError(p.path, t.Line, msg)
}

// syncTop resynchronizes at the top level after a panic, per spec §4.2.
func (p *Parser) syncTop() {
	p.panic = false
	for !p.check(token.EOF) {
		switch p.peek().Type {
		case token.FUN, token.VAR, token.FOR, token.IF, token.WHILE,
			token.RETURN, token.THEN, token.DO, token.BEGIN, token.CLASS:
			return
		}
		p.advance()
	}
}

// syncClassBody resynchronizes inside a class body after a panic.
func (p *Parser) syncClassBody() {
	p.panic = false
	for !p.check(token.EOF) {
		switch p.peek().Type {
		case token.FUN, token.END:
			return
		}
		p.advance()
	}
}

// ---- statements ----

func (p *Parser) declaration() ast.Stmt {
	var s ast.Stmt
	switch {
	case p.match(token.VAR):
		s = p.varDecl()
	case p.check(token.FUN) && p.tokens[p.pos+1].Type == token.IDENTIFIER:
		p.advance()
		s = p.funDecl()
	case p.match(token.CLASS):
		s = p.classDecl()
	default:
		s = p.statement()
	}
	if p.panic {
		p.syncTop()
	}
	return s
}

func (p *Parser) varDecl() ast.Stmt {
	names := []token.Token{p.expect(token.IDENTIFIER, "expected variable name")}
	for p.match(token.COMMA) {
		names = append(names, p.expect(token.IDENTIFIER, "expected variable name"))
	}
	var inits []ast.Expr
	if p.match(token.EQUAL) {
		inits = append(inits, p.ternary())
		for p.match(token.COMMA) {
			inits = append(inits, p.ternary())
		}
	}
	if len(inits) > len(names) {
		p.errorAt(p.previous(), "more initializers than declared names")
	}
	return &ast.VarStmt{Names: names, Initializers: inits}
}

func (p *Parser) funDecl() ast.Stmt {
	name := p.expect(token.IDENTIFIER, "expected function name")
	fn := p.funBody(name.Lexeme)
	return &ast.FunDecl{Name: name, Fun: fn}
}

// funBody parses "(" params ")" stmts* "end", shared by top-level fun
// declarations, methods, and anonymous fun literals.
func (p *Parser) funBody(name string) *ast.FunLit {
	line := p.previous().Line
	p.expect(token.LPAREN, "expected '(' after function name")
	params, vararg := p.paramList()
	p.expect(token.RPAREN, "expected ')' after parameters")
	body := p.blockUntil(token.END)
	p.expect(token.END, "expected 'end' to close function body")
	return &ast.FunLit{Name: name, Params: params, Vararg: vararg, Body: body, Line: line}
}

// paramList parses required identifiers, then `name = constant` defaults,
// then an optional trailing `...` (spec §4.2).
func (p *Parser) paramList() ([]ast.Param, bool) {
	var params []ast.Param
	seenDefault := false
	vararg := false
	for !p.check(token.RPAREN) {
		if p.match(token.ELLIPSIS) {
			vararg = true
			// The surplus arguments arrive packed in a tuple bound to the
			// trailing parameter: an explicit name, or "args" for a bare
			// `...` marker.
			collector := token.Token{Type: token.IDENTIFIER, Lexeme: "args", Line: p.previous().Line}
			if p.check(token.IDENTIFIER) {
				collector = p.advance()
			}
			params = append(params, ast.Param{Name: collector})
			break
		}
		name := p.expect(token.IDENTIFIER, "expected parameter name")
		var def *ast.Literal
		if p.match(token.EQUAL) {
			seenDefault = true
			def = p.constantLiteral()
		} else if seenDefault {
			p.errorAt(name, "non-default parameter after default parameter")
		}
		params = append(params, ast.Param{Name: name, Default: def})
		if !p.match(token.COMMA) {
			break
		}
	}
	return params, vararg
}

// constantLiteral parses a default-argument expression, which must be one
// of number, string, bool, or null (spec §4.2).
func (p *Parser) constantLiteral() *ast.Literal {
	switch {
	case p.check(token.NUMBER), p.check(token.STRING):
		t := p.advance()
		return &ast.Literal{Value: t.Literal}
	case p.match(token.TRUE):
		return &ast.Literal{Value: true}
	case p.match(token.FALSE):
		return &ast.Literal{Value: false}
	case p.match(token.NULL):
		return &ast.Literal{Value: nil}
	case p.match(token.MINUS):
		lit := p.constantLiteral()
		if n, ok := lit.Value.(float64); ok {
			lit.Value = -n
		}
		return lit
	default:
		p.errorAt(p.peek(), "default parameter values must be a constant")
		p.advance()
		return &ast.Literal{Value: nil}
	}
}

func (p *Parser) classDecl() ast.Stmt {
	name := p.expect(token.IDENTIFIER, "expected class name")
	var super *token.Token
	if p.match(token.IS) {
		t := p.expect(token.IDENTIFIER, "expected superclass name")
		super = &t
	}
	p.skipSeparators()
	var methods []*ast.FunDecl
	for !p.check(token.END) && !p.check(token.EOF) {
		if p.match(token.FUN) {
			m := p.funDecl().(*ast.FunDecl)
			methods = append(methods, m)
		} else {
			p.errorAt(p.peek(), "expected method declaration in class body")
			p.advance()
		}
		if p.panic {
			p.syncClassBody()
		}
		p.skipSeparators()
	}
	p.expect(token.END, "expected 'end' to close class body")
	return &ast.ClassDecl{Name: name, Super: super, Methods: methods}
}

func (p *Parser) statement() ast.Stmt {
	switch {
	case p.match(token.IF):
		return p.ifStmt()
	case p.match(token.WHILE):
		return p.whileStmt()
	case p.match(token.FOR):
		return p.forOrForEach()
	case p.match(token.RETURN):
		return p.returnStmt()
	case p.match(token.BREAK):
		return &ast.Break{}
	case p.match(token.CONTINUE):
		return &ast.Continue{}
	case p.match(token.IMPORT):
		return p.importStmt()
	case p.match(token.TRY):
		return p.tryStmt()
	case p.match(token.RAISE):
		return p.raiseStmt()
	case p.match(token.WITH):
		return p.withStmt()
	case p.match(token.BEGIN):
		stmts := p.blockUntil(token.END)
		p.expect(token.END, "expected 'end' to close block")
		return &ast.Block{Statements: stmts}
	default:
		e := p.expression()
		return &ast.ExprStmt{Expression: e}
	}
}

// blockUntil parses statements until the current token is one of stop or
// EOF, skipping separators between them.
func (p *Parser) blockUntil(stop ...token.Type) []ast.Stmt {
	var stmts []ast.Stmt
	for {
		p.skipSeparators()
		if p.check(token.EOF) {
			break
		}
		matched := false
		for _, s := range stop {
			if p.check(s) {
				matched = true
				break
			}
		}
		if matched {
			break
		}
		stmts = append(stmts, p.declaration())
	}
	return stmts
}

func (p *Parser) ifStmt() ast.Stmt {
	cond := p.expression()
	p.expect(token.THEN, "expected 'then' after if condition")
	then := &ast.Block{Statements: p.blockUntil(token.ELIF, token.ELSE, token.END)}

	root := &ast.If{Condition: cond, Then: then}
	cur := root
	for p.match(token.ELIF) {
		c := p.expression()
		p.expect(token.THEN, "expected 'then' after elif condition")
		b := &ast.Block{Statements: p.blockUntil(token.ELIF, token.ELSE, token.END)}
		next := &ast.If{Condition: c, Then: b}
		cur.Else = next
		cur = next
	}
	if p.match(token.ELSE) {
		cur.Else = &ast.Block{Statements: p.blockUntil(token.END)}
	}
	p.expect(token.END, "expected 'end' to close if statement")
	return root
}

func (p *Parser) whileStmt() ast.Stmt {
	cond := p.expression()
	p.expect(token.DO, "expected 'do' after while condition")
	body := &ast.Block{Statements: p.blockUntil(token.END)}
	p.expect(token.END, "expected 'end' to close while loop")
	return &ast.While{Condition: cond, Body: body}
}

// forOrForEach disambiguates `for var x in e do ... end` from the classic
// `for init; cond; act do ... end` (spec §4.2).
func (p *Parser) forOrForEach() ast.Stmt {
	if p.check(token.VAR) && p.tokens[p.pos+1].Type == token.IDENTIFIER && p.tokens[p.pos+2].Type == token.IN {
		p.advance() // var
		name := p.advance()
		p.advance() // in
		iterable := p.expression()
		p.expect(token.DO, "expected 'do' after for-each iterable")
		body := &ast.Block{Statements: p.blockUntil(token.END)}
		p.expect(token.END, "expected 'end' to close for loop")
		return &ast.ForEach{Var: name, Iterable: iterable, Body: body}
	}

	var init ast.Stmt
	if p.match(token.VAR) {
		init = p.varDecl()
	} else if !p.check(token.SEMICOLON) {
		init = &ast.ExprStmt{Expression: p.expression()}
	}
	p.expect(token.SEMICOLON, "expected ';' after for-loop initializer")

	var cond ast.Expr
	if !p.check(token.SEMICOLON) {
		cond = p.expression()
	}
	p.expect(token.SEMICOLON, "expected ';' after for-loop condition")

	var post ast.Stmt
	if !p.check(token.DO) {
		post = &ast.ExprStmt{Expression: p.expression()}
	}
	p.expect(token.DO, "expected 'do' after for-loop clauses")
	body := &ast.Block{Statements: p.blockUntil(token.END)}
	p.expect(token.END, "expected 'end' to close for loop")
	return &ast.For{Init: init, Cond: cond, Post: post, Body: body}
}

func (p *Parser) returnStmt() ast.Stmt {
	if p.check(token.NEWLINE) || p.check(token.SEMICOLON) || p.peek().IsImplicitEnd() {
		return &ast.Return{}
	}
	return &ast.Return{Value: p.expression()}
}

func (p *Parser) importStmt() ast.Stmt {
	path := []token.Token{p.expect(token.IDENTIFIER, "expected module name")}
	for p.match(token.DOT) {
		path = append(path, p.expect(token.IDENTIFIER, "expected module name segment"))
	}
	var as *token.Token
	if p.match(token.AS) {
		t := p.expect(token.IDENTIFIER, "expected alias name")
		as = &t
	}
	return &ast.Import{Path: path, As: as}
}

func (p *Parser) tryStmt() ast.Stmt {
	body := &ast.Block{Statements: p.blockUntil(token.EXCEPT, token.ENSURE, token.END)}
	var excepts []ast.ExceptClause
	for p.match(token.EXCEPT) {
		class := p.expect(token.IDENTIFIER, "expected exception class name")
		var name *token.Token
		if p.check(token.IDENTIFIER) {
			t := p.advance()
			name = &t
		}
		b := &ast.Block{Statements: p.blockUntil(token.EXCEPT, token.ENSURE, token.END)}
		excepts = append(excepts, ast.ExceptClause{Class: class, Name: name, Body: b})
	}
	var ensure ast.Stmt
	if p.match(token.ENSURE) {
		ensure = &ast.Block{Statements: p.blockUntil(token.END)}
	}
	if len(excepts) == 0 && ensure == nil {
		p.errorAt(p.peek(), "try requires at least one 'except' or 'ensure' clause")
	}
	p.expect(token.END, "expected 'end' to close try statement")
	return &ast.Try{Body: body, Excepts: excepts, Ensure: ensure}
}

func (p *Parser) raiseStmt() ast.Stmt {
	return &ast.Raise{Value: p.expression()}
}

func (p *Parser) withStmt() ast.Stmt {
	e := p.expression()
	name := p.expect(token.IDENTIFIER, "expected bound name after with expression")
	body := &ast.Block{Statements: p.blockUntil(token.END)}
	p.expect(token.END, "expected 'end' to close with statement")
	return &ast.With{Expr: e, Name: name, Body: body}
}

// ---- expressions ----

func (p *Parser) expression() ast.Expr {
	first := p.ternary()
	if p.check(token.COMMA) {
		elems := []ast.Expr{first}
		for p.match(token.COMMA) {
			elems = append(elems, p.ternary())
		}
		if isAssignOp(p.peek().Type) {
			return p.finishAssign(&ast.TupleLit{Elements: elems})
		}
		return &ast.TupleLit{Elements: elems}
	}
	if isAssignOp(p.peek().Type) {
		return p.finishAssign(first)
	}
	return first
}

func isAssignOp(t token.Type) bool {
	switch t {
	case token.EQUAL, token.PLUS_EQ, token.MINUS_EQ, token.STAR_EQ, token.SLASH_EQ, token.PERCENT_EQ:
		return true
	}
	return false
}

func (p *Parser) finishAssign(target ast.Expr) ast.Expr {
	op := p.advance()
	if !isValidLvalue(target) {
		p.errorAt(op, "invalid assignment target")
	}
	if _, isTuple := target.(*ast.TupleLit); isTuple && op.Type != token.EQUAL {
		p.errorAt(op, "compound assignment is not allowed on a tuple target")
	}
	value := p.expression()
	return &ast.Assign{Target: target, Op: op, Value: value}
}

func isValidLvalue(e ast.Expr) bool {
	switch t := e.(type) {
	case *ast.Variable, *ast.Get, *ast.Index:
		return true
	case *ast.TupleLit:
		for _, el := range t.Elements {
			if !isValidLvalue(el) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

func (p *Parser) ternary() ast.Expr {
	then := p.or()
	if p.match(token.IF) {
		cond := p.or()
		p.expect(token.ELSE, "expected 'else' in ternary expression")
		els := p.ternary()
		return &ast.Ternary{Then: then, Cond: cond, Else: els}
	}
	return then
}

func (p *Parser) or() ast.Expr {
	left := p.and()
	for p.check(token.OR) {
		op := p.advance()
		right := p.and()
		left = &ast.Logical{Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) and() ast.Expr {
	left := p.equality()
	for p.check(token.AND) {
		op := p.advance()
		right := p.equality()
		left = &ast.Logical{Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) equality() ast.Expr {
	left := p.comparison()
	for p.check(token.EQUAL_EQUAL) || p.check(token.BANG_EQUAL) || p.check(token.IS) {
		op := p.advance()
		right := p.comparison()
		left = &ast.Binary{Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) comparison() ast.Expr {
	left := p.term()
	for p.check(token.LESS) || p.check(token.LESS_EQUAL) || p.check(token.GREATER) || p.check(token.GREATER_EQUAL) {
		op := p.advance()
		right := p.term()
		left = &ast.Binary{Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) term() ast.Expr {
	left := p.factor()
	for p.check(token.PLUS) || p.check(token.MINUS) {
		op := p.advance()
		right := p.factor()
		left = &ast.Binary{Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) factor() ast.Expr {
	left := p.unary()
	for p.check(token.STAR) || p.check(token.SLASH) || p.check(token.PERCENT) {
		op := p.advance()
		right := p.unary()
		left = &ast.Binary{Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) unary() ast.Expr {
	if p.check(token.MINUS) || p.check(token.BANG) || p.check(token.HASH) || p.check(token.DBL_HASH) {
		op := p.advance()
		right := p.unary()
		return &ast.Unary{Op: op, Right: right}
	}
	return p.power()
}

func (p *Parser) power() ast.Expr {
	left := p.callExpr()
	if p.check(token.CARET) {
		op := p.advance()
		right := p.unary() // right-associative
		return &ast.Binary{Left: left, Op: op, Right: right}
	}
	return left
}

func (p *Parser) callExpr() ast.Expr {
	e := p.primary()
	for {
		switch {
		case p.match(token.LPAREN):
			args := p.argList()
			p.expect(token.RPAREN, "expected ')' after call arguments")
			e = &ast.Call{Callee: e, Args: args}
		case p.match(token.DOT):
			name := p.expect(token.IDENTIFIER, "expected property name after '.'")
			e = &ast.Get{Object: e, Name: name}
		case p.match(token.LSQUARE):
			idx := p.expression()
			p.expect(token.RSQUARE, "expected ']' after index expression")
			e = &ast.Index{Object: e, Key: idx}
		default:
			return e
		}
	}
}

func (p *Parser) argList() []ast.Expr {
	var args []ast.Expr
	if p.check(token.RPAREN) {
		return args
	}
	args = append(args, p.ternary())
	for p.match(token.COMMA) {
		args = append(args, p.ternary())
	}
	return args
}

func (p *Parser) primary() ast.Expr {
	switch {
	case p.match(token.NUMBER), p.match(token.STRING):
		return &ast.Literal{Value: p.previous().Literal}
	case p.match(token.TRUE):
		return &ast.Literal{Value: true}
	case p.match(token.FALSE):
		return &ast.Literal{Value: false}
	case p.match(token.NULL):
		return &ast.Literal{Value: nil}
	case p.match(token.IDENTIFIER):
		return &ast.Variable{Name: p.previous()}
	case p.match(token.SUPER):
		p.expect(token.DOT, "expected '.' after 'super'")
		method := p.expect(token.IDENTIFIER, "expected method name after 'super.'")
		p.expect(token.LPAREN, "expected '(' after super method name")
		args := p.argList()
		p.expect(token.RPAREN, "expected ')' after super call arguments")
		return &ast.Super{Method: method, Args: args}
	case p.match(token.FUN):
		return p.funBody("")
	case p.match(token.LPAREN):
		if p.check(token.RPAREN) {
			p.advance()
			return &ast.TupleLit{}
		}
		e := p.expression()
		p.expect(token.RPAREN, "expected ')' after expression")
		if g, ok := e.(*ast.TupleLit); ok {
			return g
		}
		return &ast.Grouping{Expression: e}
	case p.match(token.LSQUARE):
		var elems []ast.Expr
		for !p.check(token.RSQUARE) {
			elems = append(elems, p.ternary())
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RSQUARE, "expected ']' to close list literal")
		return &ast.ListLit{Elements: elems}
	case p.match(token.LBRACE):
		var keys, values []ast.Expr
		for !p.check(token.RBRACE) {
			k := p.ternary()
			p.expect(token.COLON, "expected ':' after table key")
			v := p.ternary()
			keys = append(keys, k)
			values = append(values, v)
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RBRACE, "expected '}' to close table literal")
		return &ast.TableLit{Keys: keys, Values: values}
	default:
		p.errorAt(p.peek(), fmt.Sprintf("unexpected token %q", p.peek().Lexeme))
		p.advance()
		return &ast.Literal{Value: nil}
	}
}
