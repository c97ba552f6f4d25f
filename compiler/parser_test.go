package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

func parseExpr(t *testing.T, input string) Expr {
	t.Helper()
	x, err := NewParser(input).ParseExpression()
	if err != nil {
		t.Fatalf("parse %q: %v", input, err)
	}
	return x
}

func parseProgram(t *testing.T, input string) *Program {
	t.Helper()
	prog, err := Parse(input)
	if err != nil {
		t.Fatalf("parse %q: %v", input, err)
	}
	return prog
}

func TestParserLiterals(t *testing.T) {
	tests := []struct {
		input string
		check func(Expr) bool
		desc  string
	}{
		{"42", func(e Expr) bool { return e.(*IntLiteral).Value == 42 }, "integer"},
		{"-5", func(e Expr) bool { return e.(*IntLiteral).Value == -5 }, "negative integer"},
		{"0xff", func(e Expr) bool { return e.(*IntLiteral).Value == 255 }, "hex"},
		{"0b101", func(e Expr) bool { return e.(*IntLiteral).Value == 5 }, "binary"},
		{"0o17", func(e Expr) bool { return e.(*IntLiteral).Value == 15 }, "octal"},
		{"-9223372036854775808", func(e Expr) bool { return e.(*IntLiteral).Value == -9223372036854775808 }, "min int"},
		{"3.14", func(e Expr) bool { return e.(*FloatLiteral).Value == 3.14 }, "float"},
		{`"hello"`, func(e Expr) bool { return e.(*StringLiteral).Value == "hello" }, "string"},
		{"nil", func(e Expr) bool { _, ok := e.(*NilLiteral); return ok }, "nil"},
		{"true", func(e Expr) bool { return e.(*BoolLiteral).Value }, "true"},
		{"false", func(e Expr) bool { return !e.(*BoolLiteral).Value }, "false"},
		{"argc", func(e Expr) bool { _, ok := e.(*ArgcExpr); return ok }, "argc"},
		{"$[1]", func(e Expr) bool { return e.(*NthArgExpr).Index.(*IntLiteral).Value == 1 }, "nth arg"},
	}

	for _, tc := range tests {
		expr, err := NewParser(tc.input).ParseExpression()
		if err != nil {
			t.Errorf("%s: parse error: %v", tc.desc, err)
			continue
		}
		if !tc.check(expr) {
			t.Errorf("%s: check failed for %q", tc.desc, tc.input)
		}
	}
}

func TestParserIntegerOverflow(t *testing.T) {
	_, err := NewParser("9223372036854775808").ParseExpression()
	if err == nil {
		t.Fatal("expected out of range error")
	}
	if !strings.Contains(err.Error(), "out of range") {
		t.Errorf("error = %v", err)
	}
}

func TestParserPrecedence(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"1 + 2 * 3", "(1 + (2 * 3))"},
		{"1 * 2 + 3", "((1 * 2) + 3)"},
		{"1 - 2 - 3", "((1 - 2) - 3)"},
		{"a || b && c", "(a || (b && c))"},
		{"a == b < c", "(a == (b < c))"},
		{"a | b ^ c & d", "(a | (b ^ (c & d)))"},
		{"a << 1 + 2", "(a << (1 + 2))"},
		{`a .. b + c`, "(a .. (b + c))"},
		{"a = b = c", "(a = (b = c))"},
		{"a += 1", "(a += 1)"},
		{"c ? x : y", "(c ? x : y)"},
		{"-a * b", "((-a) * b)"},
		{"!a && b", "((!a) && b)"},
		{"#a + 1", "((#a) + 1)"},
		{"f(1, 2)[0]", "f(1, 2)[0]"},
		{"a.b.c", "a.b.c"},
		{"x++ + ++y", "((x++) + (++y))"},
	}

	for _, tc := range tests {
		got := exprString(parseExpr(t, tc.input))
		if got != tc.want {
			t.Errorf("%q: got %s, want %s", tc.input, got, tc.want)
		}
	}
}

// exprString renders an expression fully parenthesized.
func exprString(e Expr) string {
	switch e := e.(type) {
	case *IntLiteral:
		return strconv.FormatInt(e.Value, 10)
	case *Identifier:
		return e.Name
	case *BinaryExpr:
		return "(" + exprString(e.Left) + " " + e.Op.String() + " " + exprString(e.Right) + ")"
	case *AssignExpr:
		return "(" + exprString(e.Target) + " " + e.Op.String() + " " + exprString(e.Value) + ")"
	case *UnaryExpr:
		return "(" + e.Op.String() + exprString(e.Operand) + ")"
	case *IncDecExpr:
		if e.Postfix {
			return "(" + exprString(e.Target) + e.Op.String() + ")"
		}
		return "(" + e.Op.String() + exprString(e.Target) + ")"
	case *CondExpr:
		return "(" + exprString(e.Cond) + " ? " + exprString(e.Then) + " : " + exprString(e.Else) + ")"
	case *CallExpr:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = exprString(a)
		}
		return exprString(e.Func) + "(" + strings.Join(args, ", ") + ")"
	case *IndexExpr:
		return exprString(e.Object) + "[" + exprString(e.Index) + "]"
	case *MemberExpr:
		return exprString(e.Object) + "." + e.Name
	}
	return "?"
}

func TestParserStatements(t *testing.T) {
	src := `
let a = 1, b;
global g = 2;
fn f(x, y) { return x + y; }
if a { b = 1; } else if b { b = 2; } else { b = 3; }
while a < 10 { a++; }
do { a--; } while a > 0;
for let i = 0; i < 3; i++ { continue; }
for ;; { break; }
;
`
	prog := parseProgram(t, src)
	want := []string{"*compiler.LetStmt", "*compiler.GlobalStmt", "*compiler.FuncStmt",
		"*compiler.IfStmt", "*compiler.WhileStmt", "*compiler.DoWhileStmt",
		"*compiler.ForStmt", "*compiler.ForStmt", "*compiler.EmptyStmt"}
	if len(prog.Stmts) != len(want) {
		t.Fatalf("got %d statements, want %d", len(prog.Stmts), len(want))
	}
	for i, s := range prog.Stmts {
		if got := fmt.Sprintf("%T", s); got != want[i] {
			t.Errorf("stmt[%d] = %s, want %s", i, got, want[i])
		}
	}

	let := prog.Stmts[0].(*LetStmt)
	if len(let.Decls) != 2 || let.Decls[0].Name != "a" || let.Decls[1].Init != nil {
		t.Errorf("let decls = %+v", let.Decls)
	}
	fn := prog.Stmts[2].(*FuncStmt).Func
	if fn.Name != "f" || len(fn.Params) != 2 || fn.Params[1] != "y" {
		t.Errorf("fn = %+v", fn)
	}
	ifs := prog.Stmts[3].(*IfStmt)
	if _, ok := ifs.Else.(*IfStmt); !ok {
		t.Errorf("else branch = %T, want *IfStmt", ifs.Else)
	}
	loop := prog.Stmts[7].(*ForStmt)
	if loop.Init != nil || loop.Cond != nil || loop.Step != nil {
		t.Errorf("empty for clauses = %+v", loop)
	}
}

func TestParserLiteralsCompound(t *testing.T) {
	arr := parseExpr(t, `[1, "two", [3]]`).(*ArrayLiteral)
	if len(arr.Elements) != 3 {
		t.Errorf("array has %d elements", len(arr.Elements))
	}
	h := parseExpr(t, `{ "a": 1, 2: fn (x) { return x; } }`).(*HashLiteral)
	if len(h.Keys) != 2 || len(h.Values) != 2 {
		t.Fatalf("hash has %d keys", len(h.Keys))
	}
	if _, ok := h.Values[1].(*FuncLiteral); !ok {
		t.Errorf("value[1] = %T, want *FuncLiteral", h.Values[1])
	}
	empty := parseExpr(t, `[]`).(*ArrayLiteral)
	if len(empty.Elements) != 0 {
		t.Errorf("empty array has elements")
	}
}

func TestParserErrors(t *testing.T) {
	tests := []struct {
		input string
		line  int
		msg   string
	}{
		{"let x = ;", 1, "unexpected"},
		{"let = 3;", 1, "expected"},
		{"x = 1", 1, "expected"},
		{"fn f( {", 1, "expected"},
		{"\n\nwhile x { y;", 3, "expected '}'"},
		{"let s = \"open;", 1, "unterminated string"},
		{"if x y;", 1, "expected"},
	}

	for _, tc := range tests {
		_, err := Parse(tc.input)
		if err == nil {
			t.Errorf("%q: expected error", tc.input)
			continue
		}
		var cerr *Error
		if !errors.As(err, &cerr) {
			t.Errorf("%q: error %T is not *Error", tc.input, err)
			continue
		}
		if cerr.Kind != SyntaxError {
			t.Errorf("%q: kind = %v, want syntax error", tc.input, cerr.Kind)
		}
		if cerr.Pos.Line != tc.line {
			t.Errorf("%q: line = %d, want %d", tc.input, cerr.Pos.Line, tc.line)
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("%q: error %q does not mention %q", tc.input, err, tc.msg)
		}
		if !strings.HasPrefix(err.Error(), "syntax error near line") {
			t.Errorf("%q: error %q lacks location prefix", tc.input, err)
		}
	}
}

func TestInspectVisitsNestedFunctions(t *testing.T) {
	prog := parseProgram(t, `
global limit = 10;
fn outer(n) {
	let f = fn (x) { let inner = x; return inner; };
	return f(n);
}
`)
	var decls []string
	var calls int
	Inspect(prog, func(n Node) bool {
		switch n := n.(type) {
		case *VarDecl:
			decls = append(decls, n.Name)
		case *GlobalStmt:
			decls = append(decls, n.Name)
		case *CallExpr:
			calls++
		}
		return true
	})
	if got, want := strings.Join(decls, ","), "limit,f,inner"; got != want {
		t.Errorf("declarations = %s, want %s", got, want)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}

	var visited int
	Inspect(prog, func(n Node) bool {
		visited++
		_, isFunc := n.(*FuncStmt)
		return !isFunc
	})
	if visited != 4 {
		t.Errorf("visited %d nodes with functions pruned, want 4", visited)
	}
}

func TestKeywordsSorted(t *testing.T) {
	kw := Keywords()
	if len(kw) != 16 {
		t.Fatalf("got %d keywords, want 16", len(kw))
	}
	for i := 1; i < len(kw); i++ {
		if kw[i-1] >= kw[i] {
			t.Errorf("keywords not sorted at %d: %q >= %q", i, kw[i-1], kw[i])
		}
	}
}
