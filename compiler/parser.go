package compiler

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Parser: recursive descent parser for Sparkling syntax
// ---------------------------------------------------------------------------

// Parser parses Sparkling source code into an AST. It stops at the first
// error.
type Parser struct {
	lexer     *Lexer
	curToken  Token
	peekToken Token
	err       *Error
	parsing   bool
}

// NewParser creates a new parser for the given input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	// Read two tokens to fill curToken and peekToken
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a whole source file.
func Parse(input string) (*Program, error) {
	return NewParser(input).ParseProgram()
}

// nextToken advances to the next token. A lexical error becomes a syntax
// error as soon as it reaches the current position.
func (p *Parser) nextToken() {
	p.curToken = p.peekToken
	if p.curToken.Type != TokenError {
		p.peekToken = p.lexer.NextToken()
	}
	if p.curToken.Type == TokenError && p.parsing {
		p.errorAt(p.curToken.Pos, "%s", p.curToken.Literal)
	}
}

// begin arms error reporting; called by every entry point.
func (p *Parser) begin() {
	p.parsing = true
	if p.curTokenIs(TokenError) {
		p.errorf("%s", p.curToken.Literal)
	}
}

func (p *Parser) curTokenIs(t TokenType) bool  { return p.curToken.Type == t }
func (p *Parser) peekTokenIs(t TokenType) bool { return p.peekToken.Type == t }

// expect consumes the current token if it has type t and fails otherwise.
func (p *Parser) expect(t TokenType) Token {
	tok := p.curToken
	if tok.Type != t {
		p.errorf("expected '%s', got %s", t, tok)
	}
	p.nextToken()
	return tok
}

// errorf fails at the current token.
func (p *Parser) errorf(format string, args ...any) {
	p.errorAt(p.curToken.Pos, format, args...)
}

func (p *Parser) errorAt(pos Position, format string, args ...any) {
	p.err = &Error{Kind: SyntaxError, Pos: pos, Msg: fmt.Sprintf(format, args...)}
	panic(bailout{})
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// ParseProgram parses statements until end of input.
func (p *Parser) ParseProgram() (prog *Program, err error) {
	defer catch(&p.err, &err)
	p.begin()
	prog = &Program{PosVal: p.curToken.Pos}
	for !p.curTokenIs(TokenEOF) {
		prog.Stmts = append(prog.Stmts, p.parseStatement())
	}
	return prog, nil
}

func (p *Parser) parseStatement() Stmt {
	pos := p.curToken.Pos
	switch p.curToken.Type {
	case TokenLet:
		return p.parseLet()
	case TokenGlobal:
		p.nextToken()
		name := p.expect(TokenIdentifier).Literal
		p.expect(TokenAssign)
		value := p.parseExpression()
		p.expect(TokenSemicolon)
		return &GlobalStmt{PosVal: pos, Name: name, Value: value}
	case TokenFn:
		if p.peekTokenIs(TokenIdentifier) {
			p.nextToken()
			name := p.curToken.Literal
			p.nextToken()
			fn := p.parseFuncRest(pos, name)
			return &FuncStmt{PosVal: pos, Func: fn}
		}
	case TokenIf:
		return p.parseIf()
	case TokenWhile:
		p.nextToken()
		cond := p.parseExpression()
		body := p.parseBlock()
		return &WhileStmt{PosVal: pos, Cond: cond, Body: body}
	case TokenDo:
		p.nextToken()
		body := p.parseBlock()
		p.expect(TokenWhile)
		cond := p.parseExpression()
		p.expect(TokenSemicolon)
		return &DoWhileStmt{PosVal: pos, Body: body, Cond: cond}
	case TokenFor:
		return p.parseFor()
	case TokenBreak:
		p.nextToken()
		p.expect(TokenSemicolon)
		return &BreakStmt{PosVal: pos}
	case TokenContinue:
		p.nextToken()
		p.expect(TokenSemicolon)
		return &ContinueStmt{PosVal: pos}
	case TokenReturn:
		p.nextToken()
		ret := &ReturnStmt{PosVal: pos}
		if !p.curTokenIs(TokenSemicolon) {
			ret.Value = p.parseExpression()
		}
		p.expect(TokenSemicolon)
		return ret
	case TokenLBrace:
		return p.parseBlock()
	case TokenSemicolon:
		p.nextToken()
		return &EmptyStmt{PosVal: pos}
	}
	x := p.parseExpression()
	p.expect(TokenSemicolon)
	return &ExprStmt{PosVal: pos, X: x}
}

func (p *Parser) parseLet() *LetStmt {
	let := &LetStmt{PosVal: p.curToken.Pos}
	p.nextToken()
	for {
		tok := p.expect(TokenIdentifier)
		decl := &VarDecl{PosVal: tok.Pos, Name: tok.Literal}
		if p.curTokenIs(TokenAssign) {
			p.nextToken()
			decl.Init = p.parseExpression()
		}
		let.Decls = append(let.Decls, decl)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenSemicolon)
	return let
}

func (p *Parser) parseIf() *IfStmt {
	stmt := &IfStmt{PosVal: p.curToken.Pos}
	p.nextToken()
	stmt.Cond = p.parseExpression()
	stmt.Then = p.parseBlock()
	if p.curTokenIs(TokenElse) {
		p.nextToken()
		if p.curTokenIs(TokenIf) {
			stmt.Else = p.parseIf()
		} else {
			stmt.Else = p.parseBlock()
		}
	}
	return stmt
}

func (p *Parser) parseFor() *ForStmt {
	stmt := &ForStmt{PosVal: p.curToken.Pos}
	p.nextToken()
	switch {
	case p.curTokenIs(TokenSemicolon):
		p.nextToken()
	case p.curTokenIs(TokenLet):
		stmt.Init = p.parseLet()
	default:
		pos := p.curToken.Pos
		stmt.Init = &ExprStmt{PosVal: pos, X: p.parseExpression()}
		p.expect(TokenSemicolon)
	}
	if !p.curTokenIs(TokenSemicolon) {
		stmt.Cond = p.parseExpression()
	}
	p.expect(TokenSemicolon)
	if !p.curTokenIs(TokenLBrace) {
		stmt.Step = p.parseExpression()
	}
	stmt.Body = p.parseBlock()
	return stmt
}

func (p *Parser) parseBlock() *Block {
	block := &Block{PosVal: p.curToken.Pos}
	p.expect(TokenLBrace)
	for !p.curTokenIs(TokenRBrace) {
		if p.curTokenIs(TokenEOF) {
			p.errorf("unexpected end of input, expected '}'")
		}
		block.Stmts = append(block.Stmts, p.parseStatement())
	}
	p.nextToken()
	return block
}

// parseFuncRest parses the parameter list and body after `fn` or `fn name`.
func (p *Parser) parseFuncRest(pos Position, name string) *FuncLiteral {
	fn := &FuncLiteral{PosVal: pos, Name: name}
	p.expect(TokenLParen)
	for !p.curTokenIs(TokenRParen) {
		fn.Params = append(fn.Params, p.expect(TokenIdentifier).Literal)
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenRParen)
	fn.Body = p.parseBlock()
	return fn
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// binaryPrec gives the binding power of infix operators; higher binds
// tighter. Missing entries are not infix operators.
var binaryPrec = map[TokenType]int{
	TokenOrOr:   1,
	TokenAndAnd: 2,
	TokenPipe:   3,
	TokenCaret:  4,
	TokenAmp:    5,
	TokenEq:     6, TokenNe: 6,
	TokenLt: 7, TokenLe: 7, TokenGt: 7, TokenGe: 7,
	TokenShl: 8, TokenShr: 8,
	TokenDotDot: 9,
	TokenPlus:   10, TokenMinus: 10,
	TokenStar: 11, TokenSlash: 11, TokenPercent: 11,
}

// ParseExpression parses a single expression.
func (p *Parser) ParseExpression() (x Expr, err error) {
	defer catch(&p.err, &err)
	p.begin()
	x = p.parseExpression()
	if !p.curTokenIs(TokenEOF) {
		p.errorf("unexpected %s after expression", p.curToken)
	}
	return x, nil
}

func (p *Parser) parseExpression() Expr {
	pos := p.curToken.Pos
	lhs := p.parseTernary()
	op := p.curToken.Type
	if op == TokenAssign || compoundOps[op] != 0 {
		p.nextToken()
		rhs := p.parseExpression()
		return &AssignExpr{PosVal: pos, Op: op, Target: lhs, Value: rhs}
	}
	return lhs
}

func (p *Parser) parseTernary() Expr {
	pos := p.curToken.Pos
	cond := p.parseBinary(1)
	if !p.curTokenIs(TokenQuestion) {
		return cond
	}
	p.nextToken()
	then := p.parseExpression()
	p.expect(TokenColon)
	els := p.parseTernary()
	return &CondExpr{PosVal: pos, Cond: cond, Then: then, Else: els}
}

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parseUnary()
	for {
		prec := binaryPrec[p.curToken.Type]
		if prec == 0 || prec < minPrec {
			return left
		}
		op := p.curToken
		p.nextToken()
		right := p.parseBinary(prec + 1)
		left = &BinaryExpr{PosVal: op.Pos, Op: op.Type, Left: left, Right: right}
	}
}

func (p *Parser) parseUnary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenMinus:
		p.nextToken()
		if p.curTokenIs(TokenInteger) {
			lit := p.parseInteger("-")
			lit.PosVal = tok.Pos
			return p.parsePostfix(lit)
		}
		return &UnaryExpr{PosVal: tok.Pos, Op: tok.Type, Operand: p.parseUnary()}
	case TokenPlus, TokenBang, TokenTilde, TokenHash, TokenTypeof:
		p.nextToken()
		return &UnaryExpr{PosVal: tok.Pos, Op: tok.Type, Operand: p.parseUnary()}
	case TokenIncr, TokenDecr:
		p.nextToken()
		return &IncDecExpr{PosVal: tok.Pos, Op: tok.Type, Target: p.parseUnary()}
	}
	return p.parsePostfix(p.parsePrimary())
}

func (p *Parser) parsePostfix(x Expr) Expr {
	for {
		tok := p.curToken
		switch tok.Type {
		case TokenLParen:
			p.nextToken()
			call := &CallExpr{PosVal: tok.Pos, Func: x}
			for !p.curTokenIs(TokenRParen) {
				call.Args = append(call.Args, p.parseExpression())
				if !p.curTokenIs(TokenComma) {
					break
				}
				p.nextToken()
			}
			p.expect(TokenRParen)
			x = call
		case TokenLBracket:
			p.nextToken()
			idx := p.parseExpression()
			p.expect(TokenRBracket)
			x = &IndexExpr{PosVal: tok.Pos, Object: x, Index: idx}
		case TokenDot:
			p.nextToken()
			name := p.expect(TokenIdentifier).Literal
			x = &MemberExpr{PosVal: tok.Pos, Object: x, Name: name}
		case TokenIncr, TokenDecr:
			p.nextToken()
			x = &IncDecExpr{PosVal: tok.Pos, Op: tok.Type, Postfix: true, Target: x}
		default:
			return x
		}
	}
}

func (p *Parser) parsePrimary() Expr {
	tok := p.curToken
	switch tok.Type {
	case TokenNil:
		p.nextToken()
		return &NilLiteral{PosVal: tok.Pos}
	case TokenTrue, TokenFalse:
		p.nextToken()
		return &BoolLiteral{PosVal: tok.Pos, Value: tok.Type == TokenTrue}
	case TokenInteger:
		return p.parseInteger("")
	case TokenFloat:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			p.errorf("invalid float literal %s", tok.Literal)
		}
		p.nextToken()
		return &FloatLiteral{PosVal: tok.Pos, Value: f}
	case TokenString:
		p.nextToken()
		return &StringLiteral{PosVal: tok.Pos, Value: tok.Literal}
	case TokenIdentifier:
		p.nextToken()
		return &Identifier{PosVal: tok.Pos, Name: tok.Literal}
	case TokenArgc:
		p.nextToken()
		return &ArgcExpr{PosVal: tok.Pos}
	case TokenDollar:
		p.nextToken()
		p.expect(TokenLBracket)
		idx := p.parseExpression()
		p.expect(TokenRBracket)
		return &NthArgExpr{PosVal: tok.Pos, Index: idx}
	case TokenLParen:
		p.nextToken()
		x := p.parseExpression()
		p.expect(TokenRParen)
		return x
	case TokenLBracket:
		return p.parseArray()
	case TokenLBrace:
		return p.parseHash()
	case TokenFn:
		p.nextToken()
		return p.parseFuncRest(tok.Pos, "")
	}
	p.errorf("unexpected %s", tok)
	return nil
}

// parseInteger parses the current integer token, prefixed with sign.
// Prefixed literals may use all 64 bits.
func (p *Parser) parseInteger(sign string) *IntLiteral {
	tok := p.curToken
	lit := strings.ToLower(tok.Literal)
	var n int64
	var err error
	if len(lit) > 1 && lit[0] == '0' && (lit[1] == 'x' || lit[1] == 'o' || lit[1] == 'b') {
		var u uint64
		u, err = strconv.ParseUint(lit, 0, 64)
		n = int64(u)
		if sign != "" {
			n = -n
		}
	} else {
		n, err = strconv.ParseInt(sign+lit, 10, 64)
	}
	if err != nil {
		p.errorf("integer literal %s%s out of range", sign, tok.Literal)
	}
	p.nextToken()
	return &IntLiteral{PosVal: tok.Pos, Value: n}
}

func (p *Parser) parseArray() *ArrayLiteral {
	arr := &ArrayLiteral{PosVal: p.curToken.Pos}
	p.nextToken()
	for !p.curTokenIs(TokenRBracket) {
		arr.Elements = append(arr.Elements, p.parseExpression())
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenRBracket)
	return arr
}

func (p *Parser) parseHash() *HashLiteral {
	h := &HashLiteral{PosVal: p.curToken.Pos}
	p.nextToken()
	for !p.curTokenIs(TokenRBrace) {
		h.Keys = append(h.Keys, p.parseExpression())
		p.expect(TokenColon)
		h.Values = append(h.Values, p.parseExpression())
		if !p.curTokenIs(TokenComma) {
			break
		}
		p.nextToken()
	}
	p.expect(TokenRBrace)
	return h
}
