package vm

import "fmt"

// NativeFunc is a host function callable from scripts.
//
// args are borrowed for the duration of the call. The function stores an
// owned result in *ret (left Nil if unset) and returns 0 on success; any
// other status aborts the calling script with a runtime error naming the
// function and the status code.
type NativeFunc func(ret *Value, args []Value, ctx *VM) int

// FuncKind distinguishes the four function variants.
type FuncKind uint8

const (
	FuncNative  FuncKind = iota // host function
	FuncScript                  // bytecode function inside a program
	FuncProgram                 // top-level program, owns bytecode and symbols
	FuncClosure                 // script function plus captured upvalues
)

var funcKindNames = [...]string{"native", "script", "program", "closure"}

func (k FuncKind) String() string {
	if int(k) < len(funcKindNames) {
		return funcKindNames[k]
	}
	return fmt.Sprintf("FuncKind(%d)", k)
}

// FunctionClass describes callable objects of every variant.
var FunctionClass = &Class{Name: "function"}

// Function is a callable object.
//
// A script function borrows the bytecode and symbol table of env, the
// program that contains it; programs stay loaded for the VM's lifetime.
// A closure owns one reference to its prototype and to each upvalue cell.
type Function struct {
	refCount
	kind FuncKind
	name string

	native NativeFunc

	// script, program and closure
	env   *Function
	entry int // word offset of the function header, or of the first instruction for programs
	argc  int
	nregs int

	// program only
	words  []uint32
	symtab []symEntry

	// closure only
	proto  *Function
	upvals []*upvalue
}

// NewNative wraps a host function in a function value with a count of one.
func NewNative(name string, fn NativeFunc) Value {
	return FromObject(&Function{refCount: refCount{1}, kind: FuncNative, name: name, native: fn})
}

func newScript(env *Function, hdr int, name string) *Function {
	w := env.words
	return &Function{
		refCount: refCount{1},
		kind:     FuncScript,
		name:     name,
		env:      env,
		entry:    hdr,
		argc:     int(w[hdr+fnHdrArgc]),
		nregs:    int(w[hdr+fnHdrNregs]),
	}
}

func newClosure(proto *Function, n int) *Function {
	proto.Retain()
	return &Function{
		refCount: refCount{1},
		kind:     FuncClosure,
		name:     proto.name,
		env:      proto.env,
		entry:    proto.entry,
		argc:     proto.argc,
		nregs:    proto.nregs,
		proto:    proto,
		upvals:   make([]*upvalue, 0, n),
	}
}

func (f *Function) Class() *Class { return FunctionClass }

// Kind returns the function variant.
func (f *Function) Kind() FuncKind { return f.kind }

// Name returns the display name; anonymous functions report "<lambda>".
func (f *Function) Name() string {
	if f.name == "" {
		return "<lambda>"
	}
	return f.name
}

// Argc returns the declared argument count of a bytecode function.
func (f *Function) Argc() int { return f.argc }

// Registers returns the register count of a bytecode function.
func (f *Function) Registers() int { return f.nregs }

// Words returns the bytecode a program owns, or nil for other variants.
func (f *Function) Words() []uint32 { return f.words }

// bodyStart is the address of the first instruction.
func (f *Function) bodyStart() int {
	if f.kind == FuncProgram {
		return f.entry
	}
	return f.entry + FunctionHeaderSize
}

func (f *Function) Release() {
	if !f.drop() {
		return
	}
	switch f.kind {
	case FuncClosure:
		for _, u := range f.upvals {
			u.release()
		}
		f.proto.Release()
	case FuncProgram:
		for i := range f.symtab {
			f.symtab[i].val.Release()
		}
	}
}

func (f *Function) String() string {
	return fmt.Sprintf("<function %s>", f.Name())
}

// ---------------------------------------------------------------------------
// Upvalues
// ---------------------------------------------------------------------------

// upvalue is a shared variable cell. While open it aliases an absolute
// stack slot of a live frame; once closed it owns a copy of the value.
type upvalue struct {
	rc     int32
	open   bool
	index  int
	closed Value
}

func (u *upvalue) retain() { u.rc++ }

func (u *upvalue) release() {
	u.rc--
	if u.rc == 0 && !u.open {
		u.closed.Release()
		u.closed = Nil
	}
}
