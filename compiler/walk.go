package compiler

// Inspect traverses the tree rooted at node in depth-first order, calling f
// for each node. If f returns false the children of that node are skipped.
func Inspect(node Node, f func(Node) bool) {
	if node == nil || !f(node) {
		return
	}
	switch n := node.(type) {
	case *Program:
		for _, s := range n.Stmts {
			inspectStmt(s, f)
		}
	case *Block:
		for _, s := range n.Stmts {
			inspectStmt(s, f)
		}
	case *LetStmt:
		for _, d := range n.Decls {
			Inspect(d, f)
		}
	case *VarDecl:
		inspectExpr(n.Init, f)
	case *GlobalStmt:
		inspectExpr(n.Value, f)
	case *FuncStmt:
		Inspect(n.Func, f)
	case *IfStmt:
		inspectExpr(n.Cond, f)
		inspectBlock(n.Then, f)
		inspectStmt(n.Else, f)
	case *WhileStmt:
		inspectExpr(n.Cond, f)
		inspectBlock(n.Body, f)
	case *DoWhileStmt:
		inspectBlock(n.Body, f)
		inspectExpr(n.Cond, f)
	case *ForStmt:
		inspectStmt(n.Init, f)
		inspectExpr(n.Cond, f)
		inspectExpr(n.Step, f)
		inspectBlock(n.Body, f)
	case *ReturnStmt:
		inspectExpr(n.Value, f)
	case *ExprStmt:
		inspectExpr(n.X, f)

	case *ArrayLiteral:
		for _, e := range n.Elements {
			inspectExpr(e, f)
		}
	case *HashLiteral:
		for i := range n.Keys {
			inspectExpr(n.Keys[i], f)
			inspectExpr(n.Values[i], f)
		}
	case *FuncLiteral:
		inspectBlock(n.Body, f)
	case *UnaryExpr:
		inspectExpr(n.Operand, f)
	case *IncDecExpr:
		inspectExpr(n.Target, f)
	case *BinaryExpr:
		inspectExpr(n.Left, f)
		inspectExpr(n.Right, f)
	case *CondExpr:
		inspectExpr(n.Cond, f)
		inspectExpr(n.Then, f)
		inspectExpr(n.Else, f)
	case *AssignExpr:
		inspectExpr(n.Target, f)
		inspectExpr(n.Value, f)
	case *CallExpr:
		inspectExpr(n.Func, f)
		for _, a := range n.Args {
			inspectExpr(a, f)
		}
	case *IndexExpr:
		inspectExpr(n.Object, f)
		inspectExpr(n.Index, f)
	case *MemberExpr:
		inspectExpr(n.Object, f)
	case *NthArgExpr:
		inspectExpr(n.Index, f)
	}
}

func inspectStmt(s Stmt, f func(Node) bool) {
	if s != nil {
		Inspect(s, f)
	}
}

func inspectExpr(e Expr, f func(Node) bool) {
	if e != nil {
		Inspect(e, f)
	}
}

func inspectBlock(b *Block, f func(Node) bool) {
	if b != nil {
		Inspect(b, f)
	}
}
