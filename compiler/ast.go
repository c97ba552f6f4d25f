package compiler

// ---------------------------------------------------------------------------
// AST: abstract syntax tree for Sparkling
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Offset int // byte offset
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Pos() Position
	node() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// NilLiteral is `nil`.
type NilLiteral struct {
	PosVal Position
}

// BoolLiteral is `true` or `false`.
type BoolLiteral struct {
	PosVal Position
	Value  bool
}

// IntLiteral is an integer literal.
type IntLiteral struct {
	PosVal Position
	Value  int64
}

// FloatLiteral is a floating-point literal.
type FloatLiteral struct {
	PosVal Position
	Value  float64
}

// StringLiteral is a string literal with escapes already decoded.
type StringLiteral struct {
	PosVal Position
	Value  string
}

// Identifier is a variable reference.
type Identifier struct {
	PosVal Position
	Name   string
}

// ArrayLiteral is `[a, b, c]`.
type ArrayLiteral struct {
	PosVal   Position
	Elements []Expr
}

// HashLiteral is `{k: v, ...}`.
type HashLiteral struct {
	PosVal Position
	Keys   []Expr
	Values []Expr
}

// FuncLiteral is a function body with its parameter list. Name is empty for
// anonymous functions.
type FuncLiteral struct {
	PosVal Position
	Name   string
	Params []string
	Body   *Block
}

// UnaryExpr is a prefix operator: - + ! ~ # typeof.
type UnaryExpr struct {
	PosVal  Position
	Op      TokenType
	Operand Expr
}

// IncDecExpr is ++ or -- in prefix or postfix position.
type IncDecExpr struct {
	PosVal  Position
	Op      TokenType // TokenIncr or TokenDecr
	Postfix bool
	Target  Expr
}

// BinaryExpr is an infix operator, including the short-circuit && and ||.
type BinaryExpr struct {
	PosVal Position
	Op     TokenType
	Left   Expr
	Right  Expr
}

// CondExpr is `cond ? then : else`.
type CondExpr struct {
	PosVal Position
	Cond   Expr
	Then   Expr
	Else   Expr
}

// AssignExpr is plain or compound assignment. Op is TokenAssign or one of
// the compound assignment tokens.
type AssignExpr struct {
	PosVal Position
	Op     TokenType
	Target Expr
	Value  Expr
}

// CallExpr is `fn(args...)`.
type CallExpr struct {
	PosVal Position
	Func   Expr
	Args   []Expr
}

// IndexExpr is `x[index]`.
type IndexExpr struct {
	PosVal Position
	Object Expr
	Index  Expr
}

// MemberExpr is `x.name`, shorthand for `x["name"]`.
type MemberExpr struct {
	PosVal Position
	Object Expr
	Name   string
}

// ArgcExpr is the `argc` keyword.
type ArgcExpr struct {
	PosVal Position
}

// NthArgExpr is `$[n]`, access to arguments beyond the declared ones.
type NthArgExpr struct {
	PosVal Position
	Index  Expr
}

func (n *NilLiteral) Pos() Position    { return n.PosVal }
func (n *BoolLiteral) Pos() Position   { return n.PosVal }
func (n *IntLiteral) Pos() Position    { return n.PosVal }
func (n *FloatLiteral) Pos() Position  { return n.PosVal }
func (n *StringLiteral) Pos() Position { return n.PosVal }
func (n *Identifier) Pos() Position    { return n.PosVal }
func (n *ArrayLiteral) Pos() Position  { return n.PosVal }
func (n *HashLiteral) Pos() Position   { return n.PosVal }
func (n *FuncLiteral) Pos() Position   { return n.PosVal }
func (n *UnaryExpr) Pos() Position     { return n.PosVal }
func (n *IncDecExpr) Pos() Position    { return n.PosVal }
func (n *BinaryExpr) Pos() Position    { return n.PosVal }
func (n *CondExpr) Pos() Position      { return n.PosVal }
func (n *AssignExpr) Pos() Position    { return n.PosVal }
func (n *CallExpr) Pos() Position      { return n.PosVal }
func (n *IndexExpr) Pos() Position     { return n.PosVal }
func (n *MemberExpr) Pos() Position    { return n.PosVal }
func (n *ArgcExpr) Pos() Position      { return n.PosVal }
func (n *NthArgExpr) Pos() Position    { return n.PosVal }

func (n *NilLiteral) node()    {}
func (n *BoolLiteral) node()   {}
func (n *IntLiteral) node()    {}
func (n *FloatLiteral) node()  {}
func (n *StringLiteral) node() {}
func (n *Identifier) node()    {}
func (n *ArrayLiteral) node()  {}
func (n *HashLiteral) node()   {}
func (n *FuncLiteral) node()   {}
func (n *UnaryExpr) node()     {}
func (n *IncDecExpr) node()    {}
func (n *BinaryExpr) node()    {}
func (n *CondExpr) node()      {}
func (n *AssignExpr) node()    {}
func (n *CallExpr) node()      {}
func (n *IndexExpr) node()     {}
func (n *MemberExpr) node()    {}
func (n *ArgcExpr) node()      {}
func (n *NthArgExpr) node()    {}

func (n *NilLiteral) expr()    {}
func (n *BoolLiteral) expr()   {}
func (n *IntLiteral) expr()    {}
func (n *FloatLiteral) expr()  {}
func (n *StringLiteral) expr() {}
func (n *Identifier) expr()    {}
func (n *ArrayLiteral) expr()  {}
func (n *HashLiteral) expr()   {}
func (n *FuncLiteral) expr()   {}
func (n *UnaryExpr) expr()     {}
func (n *IncDecExpr) expr()    {}
func (n *BinaryExpr) expr()    {}
func (n *CondExpr) expr()      {}
func (n *AssignExpr) expr()    {}
func (n *CallExpr) expr()      {}
func (n *IndexExpr) expr()     {}
func (n *MemberExpr) expr()    {}
func (n *ArgcExpr) expr()      {}
func (n *NthArgExpr) expr()    {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// Program is a whole compilation unit.
type Program struct {
	PosVal Position
	Stmts  []Stmt
}

// Block is a braced statement list introducing a scope.
type Block struct {
	PosVal Position
	Stmts  []Stmt
}

// VarDecl is one `name = init` clause of a let statement.
type VarDecl struct {
	PosVal Position
	Name   string
	Init   Expr // nil when absent
}

// LetStmt declares local variables.
type LetStmt struct {
	PosVal Position
	Decls  []*VarDecl
}

// GlobalStmt is `global name = value;`.
type GlobalStmt struct {
	PosVal Position
	Name   string
	Value  Expr
}

// FuncStmt is a named function declaration.
type FuncStmt struct {
	PosVal Position
	Func   *FuncLiteral
}

// IfStmt is `if cond {..} else ..`. Else is nil, a *Block or an *IfStmt.
type IfStmt struct {
	PosVal Position
	Cond   Expr
	Then   *Block
	Else   Stmt
}

// WhileStmt is `while cond {..}`.
type WhileStmt struct {
	PosVal Position
	Cond   Expr
	Body   *Block
}

// DoWhileStmt is `do {..} while cond;`.
type DoWhileStmt struct {
	PosVal Position
	Body   *Block
	Cond   Expr
}

// ForStmt is `for init; cond; step {..}`. Every clause is optional.
type ForStmt struct {
	PosVal Position
	Init   Stmt
	Cond   Expr
	Step   Expr
	Body   *Block
}

// BreakStmt is `break;`.
type BreakStmt struct {
	PosVal Position
}

// ContinueStmt is `continue;`.
type ContinueStmt struct {
	PosVal Position
}

// ReturnStmt is `return value;`; Value is nil for a bare return.
type ReturnStmt struct {
	PosVal Position
	Value  Expr
}

// ExprStmt is an expression evaluated for its effect.
type ExprStmt struct {
	PosVal Position
	X      Expr
}

// EmptyStmt is a lone `;`.
type EmptyStmt struct {
	PosVal Position
}

func (n *Program) Pos() Position      { return n.PosVal }
func (n *Block) Pos() Position        { return n.PosVal }
func (n *VarDecl) Pos() Position      { return n.PosVal }
func (n *LetStmt) Pos() Position      { return n.PosVal }
func (n *GlobalStmt) Pos() Position   { return n.PosVal }
func (n *FuncStmt) Pos() Position     { return n.PosVal }
func (n *IfStmt) Pos() Position       { return n.PosVal }
func (n *WhileStmt) Pos() Position    { return n.PosVal }
func (n *DoWhileStmt) Pos() Position  { return n.PosVal }
func (n *ForStmt) Pos() Position      { return n.PosVal }
func (n *BreakStmt) Pos() Position    { return n.PosVal }
func (n *ContinueStmt) Pos() Position { return n.PosVal }
func (n *ReturnStmt) Pos() Position   { return n.PosVal }
func (n *ExprStmt) Pos() Position     { return n.PosVal }
func (n *EmptyStmt) Pos() Position    { return n.PosVal }

func (n *Program) node()      {}
func (n *Block) node()        {}
func (n *VarDecl) node()      {}
func (n *LetStmt) node()      {}
func (n *GlobalStmt) node()   {}
func (n *FuncStmt) node()     {}
func (n *IfStmt) node()       {}
func (n *WhileStmt) node()    {}
func (n *DoWhileStmt) node()  {}
func (n *ForStmt) node()      {}
func (n *BreakStmt) node()    {}
func (n *ContinueStmt) node() {}
func (n *ReturnStmt) node()   {}
func (n *ExprStmt) node()     {}
func (n *EmptyStmt) node()    {}

func (n *Block) stmt()        {}
func (n *LetStmt) stmt()      {}
func (n *GlobalStmt) stmt()   {}
func (n *FuncStmt) stmt()     {}
func (n *IfStmt) stmt()       {}
func (n *WhileStmt) stmt()    {}
func (n *DoWhileStmt) stmt()  {}
func (n *ForStmt) stmt()      {}
func (n *BreakStmt) stmt()    {}
func (n *ContinueStmt) stmt() {}
func (n *ReturnStmt) stmt()   {}
func (n *ExprStmt) stmt()     {}
func (n *EmptyStmt) stmt()    {}
