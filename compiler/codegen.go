package compiler

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/h2co3/sparkling/vm"
)

var log = commonlog.GetLogger("sparkling.compiler")

// ---------------------------------------------------------------------------
// Codegen: compile AST to register bytecode
// ---------------------------------------------------------------------------

// Unit is a compiled program.
type Unit struct {
	Words     []uint32    // header, instructions and symbol table
	Symbols   []vm.Symbol // local symbol table, in slot order
	Registers int         // registers used by the top-level code
}

// symbolKey identifies an interned symbol table entry.
type symbolKey struct {
	kind   vm.SymbolKind
	name   string
	offset int
}

// Compiler compiles one AST into one program.
type Compiler struct {
	builder *vm.Builder
	symbols *roundTrip[symbolKey]
	globals map[string]bool
	scope   *funcScope
	depth   int // block nesting inside the current function
	err     *Error
}

// NewCompiler creates a compiler.
func NewCompiler() *Compiler {
	return &Compiler{
		builder: vm.NewBuilder(),
		symbols: newRoundTrip[symbolKey](),
		globals: make(map[string]bool),
	}
}

// Compile parses and compiles source text.
func Compile(src string) (*Unit, error) {
	prog, err := Parse(src)
	if err != nil {
		return nil, err
	}
	return CompileAST(prog)
}

// CompileAST compiles a parsed program.
func CompileAST(prog *Program) (*Unit, error) {
	return NewCompiler().CompileProgram(prog)
}

// errorf fails compilation at pos.
func (c *Compiler) errorf(pos Position, format string, args ...any) {
	c.err = &Error{Kind: SemanticError, Pos: pos, Msg: fmt.Sprintf(format, args...)}
	panic(bailout{})
}

// CompileProgram compiles the top-level statements of prog.
func (c *Compiler) CompileProgram(prog *Program) (unit *Unit, err error) {
	defer catch(&c.err, &err)

	c.builder.Reserve(vm.ProgramHeaderSize)
	c.scope = newFuncScope(nil, "")
	for _, s := range prog.Stmts {
		c.stmt(s)
	}
	c.emitReturnNil()

	syms := make([]vm.Symbol, c.symbols.Len())
	for i := range syms {
		k := c.symbols.At(i)
		syms[i] = vm.Symbol{Kind: k.kind, Name: k.name, Offset: k.offset}
	}
	words := vm.FinishProgram(c.builder.Words(), c.scope.maxReg, syms)
	log.Debugf("compiled program: %d words, %d registers, %d symbols", len(words), c.scope.maxReg, len(syms))
	return &Unit{Words: words, Symbols: syms, Registers: c.scope.maxReg}, nil
}

// ---------------------------------------------------------------------------
// Register allocation
// ---------------------------------------------------------------------------

// pushTmp allocates the next free register.
func (c *Compiler) pushTmp(pos Position) int {
	s := c.scope
	r := s.tmp
	s.tmp++
	if s.tmp > s.maxReg {
		s.maxReg = s.tmp
	}
	if s.maxReg > vm.MaxRegisters {
		c.errorf(pos, "too many registers needed in function (limit is %d)", vm.MaxRegisters)
	}
	return r
}

// target returns dst, or a fresh temporary when the caller has no
// preference (dst < 0).
func (c *Compiler) target(dst int, pos Position) int {
	if dst >= 0 {
		return dst
	}
	return c.pushTmp(pos)
}

// moveTo copies r into dst if the caller asked for a specific register.
func (c *Compiler) moveTo(dst, r int) int {
	if dst < 0 || dst == r {
		return r
	}
	c.builder.Emit(vm.MakeAB(vm.OpMov, dst, r))
	return dst
}

// declare binds name to the next register.
func (c *Compiler) declare(name string, pos Position) int {
	s := c.scope
	if _, exists := s.vars.Lookup(name); exists {
		c.errorf(pos, "variable '%s' already declared in this function", name)
	}
	reg := s.vars.Len()
	if s.tmp != reg {
		panic(fmt.Sprintf("compiler: temporaries live across declaration of %s", name))
	}
	s.vars.Add(name)
	c.pushTmp(pos)
	return reg
}

// ---------------------------------------------------------------------------
// Symbols
// ---------------------------------------------------------------------------

func (c *Compiler) symbol(k symbolKey, pos Position) int {
	i := c.symbols.Intern(k)
	if i > vm.MaxMid {
		c.errorf(pos, "too many symbols in program (limit is %d)", vm.MaxMid+1)
	}
	return i
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (c *Compiler) stmt(n Stmt) {
	s := c.scope
	switch n := n.(type) {
	case *Block:
		c.block(n)
	case *LetStmt:
		for _, d := range n.Decls {
			c.let(d)
		}
	case *GlobalStmt:
		c.globalValue(n)
	case *FuncStmt:
		if s.parent == nil && s.name == "" && c.depth == 0 {
			c.globalFunc(n)
		} else {
			reg := c.declare(n.Func.Name, n.PosVal)
			c.funcLiteral(n.Func, reg)
		}
	case *IfStmt:
		c.ifStmt(n)
	case *WhileStmt:
		c.whileStmt(n)
	case *DoWhileStmt:
		c.doWhileStmt(n)
	case *ForStmt:
		c.forStmt(n)
	case *BreakStmt:
		c.jumpOut(n.PosVal, true)
	case *ContinueStmt:
		c.jumpOut(n.PosVal, false)
	case *ReturnStmt:
		var r int
		if n.Value == nil {
			r = c.pushTmp(n.PosVal)
			c.builder.Emit(vm.MakeAB(vm.OpLdConst, r, int(vm.ConstNil)))
		} else {
			r = c.expr(n.Value, -1)
		}
		c.builder.Emit(vm.MakeA(vm.OpRet, r))
	case *ExprStmt:
		c.expr(n.X, -1)
	case *EmptyStmt:
	default:
		c.errorf(n.Pos(), "unsupported statement %T", n)
	}
	s.tmp = s.vars.Len()
}

// block compiles a scope. Variables declared inside die at the closing
// brace; if a closure captured any of them their cells are closed first.
func (c *Compiler) block(b *Block) {
	s := c.scope
	mark := s.vars.Len()
	c.depth++
	for _, st := range b.Stmts {
		c.stmt(st)
	}
	c.depth--
	c.endScope(mark)
}

func (c *Compiler) endScope(mark int) {
	s := c.scope
	if s.capturedFrom(mark) {
		c.builder.Emit(vm.MakeA(vm.OpClose, mark))
	}
	s.vars.Truncate(mark)
	s.tmp = mark
}

func (c *Compiler) let(d *VarDecl) {
	s := c.scope
	reg := s.vars.Len()
	if d.Init == nil {
		c.builder.Emit(vm.MakeAB(vm.OpLdConst, reg, int(vm.ConstNil)))
	} else {
		if _, exists := s.vars.Lookup(d.Name); exists {
			c.errorf(d.PosVal, "variable '%s' already declared in this function", d.Name)
		}
		r := c.expr(d.Init, -1)
		if r != reg {
			c.builder.Emit(vm.MakeAB(vm.OpMov, reg, r))
		}
		s.tmp = reg
	}
	c.declare(d.Name, d.PosVal)
}

func (c *Compiler) globalValue(n *GlobalStmt) {
	s := c.scope
	if s.parent != nil || s.name != "" || c.depth != 0 {
		c.errorf(n.PosVal, "global '%s' must be declared at file scope", n.Name)
	}
	c.claimGlobal(n.Name, n.PosVal)
	r := c.expr(n.Value, -1)
	c.builder.Emit(vm.MakeMid(vm.OpGlbVal, r, len(n.Name)))
	c.builder.EmitName(n.Name)
}

func (c *Compiler) claimGlobal(name string, pos Position) {
	if c.globals[name] {
		c.errorf(pos, "re-definition of global '%s'", name)
	}
	if len(name) > vm.MaxMid {
		c.errorf(pos, "global name too long")
	}
	c.globals[name] = true
}

// globalFunc emits GLBFUNC. The body is compiled without a parent scope,
// so free names inside it resolve as globals.
func (c *Compiler) globalFunc(n *FuncStmt) {
	name := n.Func.Name
	c.claimGlobal(name, n.PosVal)
	c.builder.Emit(vm.MakeLong(vm.OpGlbFunc, len(name)))
	c.builder.EmitName(name)
	c.function(n.Func, nil)
}

// function emits a function header and body. It returns the header offset
// and the captures the body needs.
func (c *Compiler) function(fn *FuncLiteral, parent *funcScope) (int, []upvalDesc) {
	hdr := c.builder.Reserve(vm.FunctionHeaderSize)

	outer, outerDepth := c.scope, c.depth
	s := newFuncScope(parent, fn.Name)
	if s.name == "" {
		s.name = "<lambda>"
	}
	c.scope, c.depth = s, 0
	for _, p := range fn.Params {
		if _, dup := s.vars.Lookup(p); dup {
			c.errorf(fn.PosVal, "duplicate parameter '%s'", p)
		}
		s.vars.Add(p)
		c.pushTmp(fn.PosVal)
	}
	for _, st := range fn.Body.Stmts {
		c.stmt(st)
	}
	c.emitReturnNil()
	c.scope, c.depth = outer, outerDepth

	bodyLen := c.builder.Len() - hdr - vm.FunctionHeaderSize
	c.builder.Patch(hdr, uint32(bodyLen))
	c.builder.Patch(hdr+1, uint32(len(fn.Params)))
	c.builder.Patch(hdr+2, uint32(s.maxReg))
	return hdr, s.upvals
}

func (c *Compiler) emitReturnNil() {
	r := c.pushTmp(Position{})
	c.builder.Emit(vm.MakeAB(vm.OpLdConst, r, int(vm.ConstNil)))
	c.builder.Emit(vm.MakeA(vm.OpRet, r))
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

// cond compiles a condition and emits a jump taken when it has the given
// truth value.
func (c *Compiler) cond(x Expr, jumpIf bool, to *vm.Label) {
	s := c.scope
	mark := s.tmp
	r := c.expr(x, -1)
	op := vm.OpJze
	if jumpIf {
		op = vm.OpJnz
	}
	c.builder.EmitJump(op, r, to)
	s.tmp = mark
}

func (c *Compiler) ifStmt(n *IfStmt) {
	b := c.builder
	elseL := b.NewLabel()
	c.cond(n.Cond, false, elseL)
	c.block(n.Then)
	if n.Else == nil {
		b.Mark(elseL)
		return
	}
	end := b.NewLabel()
	b.EmitJump(vm.OpJmp, 0, end)
	b.Mark(elseL)
	c.stmt(n.Else)
	b.Mark(end)
}

func (c *Compiler) pushLoop(brk, cont *vm.Label) {
	s := c.scope
	s.loop = &loopScope{parent: s.loop, varBase: s.vars.Len(), breakTo: brk, continueTo: cont}
}

func (c *Compiler) popLoop() {
	c.scope.loop = c.scope.loop.parent
}

func (c *Compiler) whileStmt(n *WhileStmt) {
	b := c.builder
	start, exit := b.NewLabel(), b.NewLabel()
	b.Mark(start)
	c.cond(n.Cond, false, exit)
	c.pushLoop(exit, start)
	c.block(n.Body)
	c.popLoop()
	b.EmitJump(vm.OpJmp, 0, start)
	b.Mark(exit)
}

func (c *Compiler) doWhileStmt(n *DoWhileStmt) {
	b := c.builder
	start, retest, exit := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	c.pushLoop(exit, retest)
	c.block(n.Body)
	c.popLoop()
	b.Mark(retest)
	c.cond(n.Cond, true, start)
	b.Mark(exit)
}

// forStmt compiles `for init; cond; step body`. Variables declared by init
// are scoped to the loop.
func (c *Compiler) forStmt(n *ForStmt) {
	b := c.builder
	mark := c.scope.vars.Len()
	c.depth++
	if n.Init != nil {
		c.stmt(n.Init)
	}
	start, step, exit := b.NewLabel(), b.NewLabel(), b.NewLabel()
	b.Mark(start)
	if n.Cond != nil {
		c.cond(n.Cond, false, exit)
	}
	c.pushLoop(exit, step)
	c.block(n.Body)
	c.popLoop()
	b.Mark(step)
	if n.Step != nil {
		c.expr(n.Step, -1)
		c.scope.tmp = c.scope.vars.Len()
	}
	b.EmitJump(vm.OpJmp, 0, start)
	b.Mark(exit)
	c.depth--
	c.endScope(mark)
}

// jumpOut compiles break and continue. Cells of variables declared in the
// loop body are closed before leaving it.
func (c *Compiler) jumpOut(pos Position, isBreak bool) {
	s := c.scope
	loop := s.loop
	if loop == nil {
		if isBreak {
			c.errorf(pos, "'break' outside of a loop")
		}
		c.errorf(pos, "'continue' outside of a loop")
	}
	if s.vars.Len() > loop.varBase {
		c.builder.Emit(vm.MakeA(vm.OpClose, loop.varBase))
	}
	to := loop.continueTo
	if isBreak {
		to = loop.breakTo
	}
	c.builder.EmitJump(vm.OpJmp, 0, to)
}
