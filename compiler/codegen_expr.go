package compiler

import "github.com/h2co3/sparkling/vm"

// binaryOps maps infix tokens to the instruction computing them.
var binaryOps = map[TokenType]vm.Opcode{
	TokenPlus:    vm.OpAdd,
	TokenMinus:   vm.OpSub,
	TokenStar:    vm.OpMul,
	TokenSlash:   vm.OpDiv,
	TokenPercent: vm.OpMod,
	TokenAmp:     vm.OpAnd,
	TokenPipe:    vm.OpOr,
	TokenCaret:   vm.OpXor,
	TokenShl:     vm.OpShl,
	TokenShr:     vm.OpShr,
	TokenEq:      vm.OpEq,
	TokenNe:      vm.OpNe,
	TokenLt:      vm.OpLt,
	TokenLe:      vm.OpLe,
	TokenGt:      vm.OpGt,
	TokenGe:      vm.OpGe,
	TokenDotDot:  vm.OpConcat,
}

var unaryOps = map[TokenType]vm.Opcode{
	TokenMinus:  vm.OpNeg,
	TokenBang:   vm.OpLogNot,
	TokenTilde:  vm.OpBitNot,
	TokenHash:   vm.OpSizeof,
	TokenTypeof: vm.OpTypeof,
}

// expr compiles n and returns the register holding its value. With
// dst >= 0 the value lands in dst; otherwise the result may be a variable's
// own register or a fresh temporary.
func (c *Compiler) expr(n Expr, dst int) int {
	b := c.builder
	s := c.scope
	switch n := n.(type) {
	case *NilLiteral:
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeAB(vm.OpLdConst, d, int(vm.ConstNil)))
		return d
	case *BoolLiteral:
		d := c.target(dst, n.PosVal)
		kind := vm.ConstFalse
		if n.Value {
			kind = vm.ConstTrue
		}
		b.Emit(vm.MakeAB(vm.OpLdConst, d, int(kind)))
		return d
	case *IntLiteral:
		d := c.target(dst, n.PosVal)
		b.EmitInt(d, n.Value)
		return d
	case *FloatLiteral:
		d := c.target(dst, n.PosVal)
		b.EmitFloat(d, n.Value)
		return d
	case *StringLiteral:
		idx := c.symbol(symbolKey{kind: vm.SymString, name: n.Value}, n.PosVal)
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeMid(vm.OpLdSym, d, idx))
		return d
	case *Identifier:
		return c.loadName(n, dst)
	case *ArrayLiteral:
		t := c.pushTmp(n.PosVal)
		b.Emit(vm.MakeA(vm.OpNewArr, t))
		for i, e := range n.Elements {
			k := c.pushTmp(e.Pos())
			b.EmitInt(k, int64(i))
			v := c.expr(e, -1)
			b.Emit(vm.MakeABC(vm.OpIdxSet, t, k, v))
			s.tmp = t + 1
		}
		return c.finishTmp(dst, t)
	case *HashLiteral:
		t := c.pushTmp(n.PosVal)
		b.Emit(vm.MakeA(vm.OpNewHash, t))
		for i := range n.Keys {
			k := c.expr(n.Keys[i], -1)
			v := c.expr(n.Values[i], -1)
			b.Emit(vm.MakeABC(vm.OpIdxSet, t, k, v))
			s.tmp = t + 1
		}
		return c.finishTmp(dst, t)
	case *FuncLiteral:
		return c.funcLiteral(n, dst)
	case *UnaryExpr:
		if n.Op == TokenPlus {
			return c.expr(n.Operand, dst)
		}
		mark := s.tmp
		r := c.expr(n.Operand, -1)
		s.tmp = mark
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeAB(unaryOps[n.Op], d, r))
		return d
	case *IncDecExpr:
		return c.incDec(n, dst)
	case *BinaryExpr:
		if n.Op == TokenAndAnd || n.Op == TokenOrOr {
			return c.logical(n, dst)
		}
		mark := s.tmp
		l := c.expr(n.Left, -1)
		r := c.expr(n.Right, -1)
		s.tmp = mark
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeABC(binaryOps[n.Op], d, l, r))
		return d
	case *CondExpr:
		t := c.pushTmp(n.PosVal)
		elseL, end := b.NewLabel(), b.NewLabel()
		c.cond(n.Cond, false, elseL)
		c.expr(n.Then, t)
		s.tmp = t + 1
		b.EmitJump(vm.OpJmp, 0, end)
		b.Mark(elseL)
		c.expr(n.Else, t)
		s.tmp = t + 1
		b.Mark(end)
		return c.finishTmp(dst, t)
	case *AssignExpr:
		return c.assign(n, dst)
	case *CallExpr:
		if len(n.Args) > vm.MaxCallArgs {
			c.errorf(n.PosVal, "too many arguments in call (limit is %d)", vm.MaxCallArgs)
		}
		mark := s.tmp
		fn := c.expr(n.Func, -1)
		args := make([]int, len(n.Args))
		for i, a := range n.Args {
			args[i] = c.expr(a, -1)
		}
		s.tmp = mark
		d := c.target(dst, n.PosVal)
		b.EmitCall(d, fn, args)
		return d
	case *IndexExpr:
		mark := s.tmp
		o := c.expr(n.Object, -1)
		k := c.expr(n.Index, -1)
		s.tmp = mark
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeABC(vm.OpIdxGet, d, o, k))
		return d
	case *MemberExpr:
		mark := s.tmp
		o := c.expr(n.Object, -1)
		k := c.memberKey(n)
		s.tmp = mark
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeABC(vm.OpIdxGet, d, o, k))
		return d
	case *ArgcExpr:
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeA(vm.OpArgc, d))
		return d
	case *NthArgExpr:
		mark := s.tmp
		i := c.expr(n.Index, -1)
		s.tmp = mark
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeAB(vm.OpNthArg, d, i))
		return d
	}
	c.errorf(n.Pos(), "unsupported expression %T", n)
	return -1
}

// finishTmp delivers a value built in the fresh temporary t.
func (c *Compiler) finishTmp(dst, t int) int {
	if dst < 0 || dst == t {
		return t
	}
	c.builder.Emit(vm.MakeAB(vm.OpMov, dst, t))
	c.scope.tmp = t
	return dst
}

func (c *Compiler) memberKey(n *MemberExpr) int {
	k := c.pushTmp(n.PosVal)
	idx := c.symbol(symbolKey{kind: vm.SymString, name: n.Name}, n.PosVal)
	c.builder.Emit(vm.MakeMid(vm.OpLdSym, k, idx))
	return k
}

// upval resolves name as a captured variable.
func (c *Compiler) upval(name string, pos Position) (int, bool) {
	i, ok := c.scope.resolveUpvalue(name)
	if ok && i >= vm.MaxRegisters {
		c.errorf(pos, "too many captured variables in function (limit is %d)", vm.MaxRegisters)
	}
	return i, ok
}

// loadName reads a local, then an upvalue, then falls back to a global
// resolved by name at run time.
func (c *Compiler) loadName(n *Identifier, dst int) int {
	b := c.builder
	if r, ok := c.scope.lookupLocal(n.Name); ok {
		return c.moveTo(dst, r)
	}
	if i, ok := c.upval(n.Name, n.PosVal); ok {
		d := c.target(dst, n.PosVal)
		b.Emit(vm.MakeAB(vm.OpLdUpval, d, i))
		return d
	}
	idx := c.symbol(symbolKey{kind: vm.SymStub, name: n.Name}, n.PosVal)
	d := c.target(dst, n.PosVal)
	b.Emit(vm.MakeMid(vm.OpLdSym, d, idx))
	return d
}

// funcLiteral emits an inline function body, loads it and, if it captures
// anything, wraps it in a closure.
func (c *Compiler) funcLiteral(fn *FuncLiteral, dst int) int {
	b := c.builder
	b.Emit(vm.MakeVoid(vm.OpFunction))
	hdr, ups := c.function(fn, c.scope)
	idx := c.symbol(symbolKey{kind: vm.SymLambda, name: fn.Name, offset: hdr}, fn.PosVal)
	d := c.target(dst, fn.PosVal)
	b.Emit(vm.MakeMid(vm.OpLdSym, d, idx))
	if len(ups) > 0 {
		b.Emit(vm.MakeMid(vm.OpClosure, d, len(ups)))
		for _, u := range ups {
			b.Emit(vm.MakeUpvalDesc(u.kind, u.index))
		}
	}
	return d
}

// logical compiles && and || with short-circuit jumps.
func (c *Compiler) logical(n *BinaryExpr, dst int) int {
	b := c.builder
	s := c.scope
	t := c.pushTmp(n.PosVal)
	end := b.NewLabel()
	c.expr(n.Left, t)
	s.tmp = t + 1
	op := vm.OpJze
	if n.Op == TokenOrOr {
		op = vm.OpJnz
	}
	b.EmitJump(op, t, end)
	c.expr(n.Right, t)
	s.tmp = t + 1
	b.Mark(end)
	return c.finishTmp(dst, t)
}

// assign compiles plain and compound assignment to variables, upvalues,
// indices and members.
func (c *Compiler) assign(n *AssignExpr, dst int) int {
	b := c.builder
	s := c.scope
	compound := n.Op != TokenAssign
	bin := binaryOps[compoundOps[n.Op]]

	switch t := n.Target.(type) {
	case *Identifier:
		if r, ok := s.lookupLocal(t.Name); ok {
			if !compound {
				c.expr(n.Value, r)
				return c.moveTo(dst, r)
			}
			mark := s.tmp
			v := c.expr(n.Value, -1)
			s.tmp = mark
			b.Emit(vm.MakeABC(bin, r, r, v))
			return c.moveTo(dst, r)
		}
		if i, ok := c.upval(t.Name, t.PosVal); ok {
			if !compound {
				v := c.expr(n.Value, -1)
				b.Emit(vm.MakeAB(vm.OpStUpval, i, v))
				return c.moveTo(dst, v)
			}
			tmp := c.pushTmp(n.PosVal)
			b.Emit(vm.MakeAB(vm.OpLdUpval, tmp, i))
			v := c.expr(n.Value, -1)
			b.Emit(vm.MakeABC(bin, tmp, tmp, v))
			b.Emit(vm.MakeAB(vm.OpStUpval, i, tmp))
			s.tmp = tmp + 1
			return c.finishTmp(dst, tmp)
		}
		c.errorf(t.PosVal, "assignment to undeclared variable '%s'", t.Name)
	case *IndexExpr, *MemberExpr:
		o, k := c.container(t)
		if !compound {
			v := c.expr(n.Value, -1)
			b.Emit(vm.MakeABC(vm.OpIdxSet, o, k, v))
			return c.moveTo(dst, v)
		}
		tmp := c.pushTmp(n.PosVal)
		b.Emit(vm.MakeABC(vm.OpIdxGet, tmp, o, k))
		v := c.expr(n.Value, -1)
		b.Emit(vm.MakeABC(bin, tmp, tmp, v))
		b.Emit(vm.MakeABC(vm.OpIdxSet, o, k, tmp))
		s.tmp = tmp + 1
		return c.finishTmp(dst, tmp)
	}
	c.errorf(n.PosVal, "left-hand side of assignment is not assignable")
	return -1
}

// container evaluates the object and key of an index or member target,
// leaving both registers allocated.
func (c *Compiler) container(x Expr) (int, int) {
	switch t := x.(type) {
	case *IndexExpr:
		o := c.expr(t.Object, -1)
		k := c.expr(t.Index, -1)
		return o, k
	case *MemberExpr:
		o := c.expr(t.Object, -1)
		return o, c.memberKey(t)
	}
	c.errorf(x.Pos(), "expression is not assignable")
	return -1, -1
}

// incDec compiles ++ and --. Postfix forms yield the old value.
func (c *Compiler) incDec(n *IncDecExpr, dst int) int {
	b := c.builder
	s := c.scope
	op := vm.OpInc
	if n.Op == TokenDecr {
		op = vm.OpDec
	}

	switch t := n.Target.(type) {
	case *Identifier:
		if r, ok := s.lookupLocal(t.Name); ok {
			if !n.Postfix {
				b.Emit(vm.MakeA(op, r))
				return c.moveTo(dst, r)
			}
			old := c.pushTmp(n.PosVal)
			b.Emit(vm.MakeAB(vm.OpMov, old, r))
			b.Emit(vm.MakeA(op, r))
			return c.finishTmp(dst, old)
		}
		if i, ok := c.upval(t.Name, t.PosVal); ok {
			val := c.pushTmp(n.PosVal)
			b.Emit(vm.MakeAB(vm.OpLdUpval, val, i))
			if !n.Postfix {
				b.Emit(vm.MakeA(op, val))
				b.Emit(vm.MakeAB(vm.OpStUpval, i, val))
				return c.finishTmp(dst, val)
			}
			upd := c.pushTmp(n.PosVal)
			b.Emit(vm.MakeAB(vm.OpMov, upd, val))
			b.Emit(vm.MakeA(op, upd))
			b.Emit(vm.MakeAB(vm.OpStUpval, i, upd))
			s.tmp = val + 1
			return c.finishTmp(dst, val)
		}
		c.errorf(t.PosVal, "assignment to undeclared variable '%s'", t.Name)
	case *IndexExpr, *MemberExpr:
		o, k := c.container(t)
		val := c.pushTmp(n.PosVal)
		b.Emit(vm.MakeABC(vm.OpIdxGet, val, o, k))
		if !n.Postfix {
			b.Emit(vm.MakeA(op, val))
			b.Emit(vm.MakeABC(vm.OpIdxSet, o, k, val))
			return c.finishTmp(dst, val)
		}
		upd := c.pushTmp(n.PosVal)
		b.Emit(vm.MakeAB(vm.OpMov, upd, val))
		b.Emit(vm.MakeA(op, upd))
		b.Emit(vm.MakeABC(vm.OpIdxSet, o, k, upd))
		s.tmp = val + 1
		return c.finishTmp(dst, val)
	}
	c.errorf(n.PosVal, "operand of %s is not assignable", n.Op)
	return -1
}
