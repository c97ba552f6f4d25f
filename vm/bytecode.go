package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is the low byte of an instruction word.
type Opcode uint8

// Calls and control flow
const (
	OpCall Opcode = 0x00 // R(a) = R(b)(args...), c = argc, arg registers follow
	OpRet  Opcode = 0x01 // return R(a)
	OpJmp  Opcode = 0x02 // unconditional jump, offset word follows
	OpJze  Opcode = 0x03 // jump if R(a) is false
	OpJnz  Opcode = 0x04 // jump if R(a) is true
)

// Comparison
const (
	OpEq Opcode = 0x10
	OpNe Opcode = 0x11
	OpLt Opcode = 0x12
	OpLe Opcode = 0x13
	OpGt Opcode = 0x14
	OpGe Opcode = 0x15
)

// Arithmetic and bitwise
const (
	OpAdd    Opcode = 0x20
	OpSub    Opcode = 0x21
	OpMul    Opcode = 0x22
	OpDiv    Opcode = 0x23
	OpMod    Opcode = 0x24
	OpNeg    Opcode = 0x25
	OpInc    Opcode = 0x26
	OpDec    Opcode = 0x27
	OpAnd    Opcode = 0x28
	OpOr     Opcode = 0x29
	OpXor    Opcode = 0x2A
	OpShl    Opcode = 0x2B
	OpShr    Opcode = 0x2C
	OpBitNot Opcode = 0x2D
	OpLogNot Opcode = 0x2E
)

// Miscellaneous operators
const (
	OpSizeof Opcode = 0x30
	OpTypeof Opcode = 0x31
	OpConcat Opcode = 0x32
)

// Loads and stores
const (
	OpLdConst Opcode = 0x40 // R(a) = constant of kind b, value words follow for int/float
	OpLdSym   Opcode = 0x41 // R(a) = symtab[imm]
	OpMov     Opcode = 0x42 // R(a) = R(b)
	OpLdUpval Opcode = 0x43 // R(a) = upval[b]
	OpStUpval Opcode = 0x44 // upval[a] = R(b)
	OpArgc    Opcode = 0x45 // R(a) = real argument count
	OpNthArg  Opcode = 0x46 // R(a) = extra argument R(b)
	OpClose   Opcode = 0x47 // close upvalues at or above R(a)
)

// Containers
const (
	OpNewArr  Opcode = 0x50
	OpNewHash Opcode = 0x51
	OpIdxGet  Opcode = 0x52 // R(a) = R(b)[R(c)]
	OpIdxSet  Opcode = 0x53 // R(a)[R(b)] = R(c)
)

// Functions and globals
const (
	OpFunction Opcode = 0x60 // header and body follow; skipped at run time
	OpClosure  Opcode = 0x61 // R(a) = closure over R(a), imm descriptors follow
	OpGlbVal   Opcode = 0x62 // define global named by trailing words as R(a)
	OpGlbFunc  Opcode = 0x63 // define global function, name then header and body follow
)

// Layout describes how operands are packed into an instruction word.
type Layout uint8

const (
	LayoutVoid Layout = iota // op
	LayoutA                  // op | a<<8
	LayoutAB                 // op | a<<8 | b<<16
	LayoutABC                // op | a<<8 | b<<16 | c<<24
	LayoutMid                // op | a<<8 | imm16<<16
	LayoutLong               // op | imm24<<8
)

var layoutNames = [...]string{"void", "A", "AB", "ABC", "mid", "long"}

func (l Layout) String() string {
	if int(l) < len(layoutNames) {
		return layoutNames[l]
	}
	return fmt.Sprintf("Layout(%d)", l)
}

// OpcodeInfo contains metadata about an opcode.
type OpcodeInfo struct {
	Name   string
	Layout Layout
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpCall: {"CALL", LayoutABC},
	OpRet:  {"RET", LayoutA},
	OpJmp:  {"JMP", LayoutVoid},
	OpJze:  {"JZE", LayoutA},
	OpJnz:  {"JNZ", LayoutA},

	OpEq: {"EQ", LayoutABC},
	OpNe: {"NE", LayoutABC},
	OpLt: {"LT", LayoutABC},
	OpLe: {"LE", LayoutABC},
	OpGt: {"GT", LayoutABC},
	OpGe: {"GE", LayoutABC},

	OpAdd:    {"ADD", LayoutABC},
	OpSub:    {"SUB", LayoutABC},
	OpMul:    {"MUL", LayoutABC},
	OpDiv:    {"DIV", LayoutABC},
	OpMod:    {"MOD", LayoutABC},
	OpNeg:    {"NEG", LayoutAB},
	OpInc:    {"INC", LayoutA},
	OpDec:    {"DEC", LayoutA},
	OpAnd:    {"AND", LayoutABC},
	OpOr:     {"OR", LayoutABC},
	OpXor:    {"XOR", LayoutABC},
	OpShl:    {"SHL", LayoutABC},
	OpShr:    {"SHR", LayoutABC},
	OpBitNot: {"BITNOT", LayoutAB},
	OpLogNot: {"LOGNOT", LayoutAB},

	OpSizeof: {"SIZEOF", LayoutAB},
	OpTypeof: {"TYPEOF", LayoutAB},
	OpConcat: {"CONCAT", LayoutABC},

	OpLdConst: {"LDCONST", LayoutAB},
	OpLdSym:   {"LDSYM", LayoutMid},
	OpMov:     {"MOV", LayoutAB},
	OpLdUpval: {"LDUPVAL", LayoutAB},
	OpStUpval: {"STUPVAL", LayoutAB},
	OpArgc:    {"ARGC", LayoutA},
	OpNthArg:  {"NTHARG", LayoutAB},
	OpClose:   {"CLOSE", LayoutA},

	OpNewArr:  {"NEWARR", LayoutA},
	OpNewHash: {"NEWHASH", LayoutA},
	OpIdxGet:  {"IDX_GET", LayoutABC},
	OpIdxSet:  {"IDX_SET", LayoutABC},

	OpFunction: {"FUNCTION", LayoutVoid},
	OpClosure:  {"CLOSURE", LayoutMid},
	OpGlbVal:   {"GLBVAL", LayoutMid},
	OpGlbFunc:  {"GLBFUNC", LayoutLong},
}

// Info returns metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Valid reports whether op is a known opcode.
func (op Opcode) Valid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string { return op.Info().Name }

// Layout returns the operand layout of an opcode.
func (op Opcode) Layout() Layout { return op.Info().Layout }

// String implements the Stringer interface.
func (op Opcode) String() string { return op.Name() }

// Constant kinds carried in the b operand of LDCONST.
const (
	ConstNil uint8 = iota
	ConstTrue
	ConstFalse
	ConstInt
	ConstFloat
)

// Upvalue descriptor kinds following a CLOSURE instruction.
const (
	UpvalLocal uint8 = iota // register of the enclosing frame
	UpvalOuter              // upvalue of the enclosing closure
)

// Limits imposed by the instruction encoding.
const (
	MaxRegisters = 1 << 8
	MaxMid       = 1<<16 - 1
	MaxLong      = 1<<24 - 1
	MaxCallArgs  = 1<<8 - 1
)

// ---------------------------------------------------------------------------
// Word packing
// ---------------------------------------------------------------------------

func MakeVoid(op Opcode) uint32 { return uint32(op) }

func MakeA(op Opcode, a int) uint32 {
	return uint32(op) | uint32(a&0xff)<<8
}

func MakeAB(op Opcode, a, b int) uint32 {
	return uint32(op) | uint32(a&0xff)<<8 | uint32(b&0xff)<<16
}

func MakeABC(op Opcode, a, b, c int) uint32 {
	return uint32(op) | uint32(a&0xff)<<8 | uint32(b&0xff)<<16 | uint32(c&0xff)<<24
}

func MakeMid(op Opcode, a, imm int) uint32 {
	return uint32(op) | uint32(a&0xff)<<8 | uint32(imm&0xffff)<<16
}

func MakeLong(op Opcode, imm int) uint32 {
	return uint32(op) | uint32(imm&0xffffff)<<8
}

// MakeUpvalDesc packs a CLOSURE descriptor word.
func MakeUpvalDesc(kind uint8, index int) uint32 {
	return uint32(kind) | uint32(index)<<8
}

func OpOf(w uint32) Opcode { return Opcode(w & 0xff) }
func ArgA(w uint32) int    { return int(w>>8) & 0xff }
func ArgB(w uint32) int    { return int(w>>16) & 0xff }
func ArgC(w uint32) int    { return int(w >> 24) }
func ArgMid(w uint32) int  { return int(w >> 16) }
func ArgLong(w uint32) int { return int(w >> 8) }

// callArgWords is the number of trailing words holding argc register bytes.
func callArgWords(argc int) int { return (argc + 3) / 4 }

// callArg extracts the i-th argument register following a CALL at pc.
func callArg(code []uint32, pc, i int) int {
	return int(code[pc+1+i/4]>>(8*(i%4))) & 0xff
}

// ---------------------------------------------------------------------------
// Builder: helper for constructing instruction streams
// ---------------------------------------------------------------------------

// Builder accumulates instruction words.
type Builder struct {
	words []uint32
}

// NewBuilder creates an empty builder.
func NewBuilder() *Builder {
	return &Builder{words: make([]uint32, 0, 64)}
}

// Words returns the constructed words.
func (b *Builder) Words() []uint32 { return b.words }

// Len returns the address of the next word.
func (b *Builder) Len() int { return len(b.words) }

// Emit appends a raw word and returns its address.
func (b *Builder) Emit(w uint32) int {
	b.words = append(b.words, w)
	return len(b.words) - 1
}

// Reserve appends n zero words and returns the address of the first.
func (b *Builder) Reserve(n int) int {
	at := len(b.words)
	for i := 0; i < n; i++ {
		b.words = append(b.words, 0)
	}
	return at
}

// Patch overwrites the word at addr.
func (b *Builder) Patch(addr int, w uint32) { b.words[addr] = w }

// EmitInt emits LDCONST for an integer.
func (b *Builder) EmitInt(dst int, n int64) {
	u := uint64(n)
	b.words = append(b.words, MakeAB(OpLdConst, dst, int(ConstInt)), uint32(u), uint32(u>>32))
}

// EmitFloat emits LDCONST for a float.
func (b *Builder) EmitFloat(dst int, f float64) {
	u := math.Float64bits(f)
	b.words = append(b.words, MakeAB(OpLdConst, dst, int(ConstFloat)), uint32(u), uint32(u>>32))
}

// EmitCall emits CALL followed by the packed argument registers.
func (b *Builder) EmitCall(dst, callee int, args []int) {
	b.words = append(b.words, MakeABC(OpCall, dst, callee, len(args)))
	for i := 0; i < len(args); i += 4 {
		var w uint32
		for j := 0; j < 4 && i+j < len(args); j++ {
			w |= uint32(args[i+j]&0xff) << (8 * j)
		}
		b.words = append(b.words, w)
	}
}

// EmitName appends a NUL-padded name.
func (b *Builder) EmitName(name string) {
	b.words = AppendName(b.words, name)
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a jump target that may be referenced before it is placed.
type Label struct {
	resolved bool
	position int
	refs     []int // addresses of jump instructions awaiting the target
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return &Label{refs: make([]int, 0, 2)}
}

// Mark resolves a label to the current position and patches every pending
// jump.
func (b *Builder) Mark(label *Label) {
	if label.resolved {
		panic("label already resolved")
	}
	label.resolved = true
	label.position = len(b.words)
	for _, ref := range label.refs {
		b.words[ref+1] = jumpOffset(ref, label.position)
	}
	label.refs = nil
}

// EmitJump emits a two-word jump to label.
func (b *Builder) EmitJump(op Opcode, cond int, label *Label) {
	at := len(b.words)
	b.words = append(b.words, MakeA(op, cond), 0)
	if label.resolved {
		b.words[at+1] = jumpOffset(at, label.position)
	} else {
		label.refs = append(label.refs, at)
	}
}

// jumpOffset is relative to the word after the offset.
func jumpOffset(at, target int) uint32 {
	return uint32(int32(target - (at + 2)))
}
