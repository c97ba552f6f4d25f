package vm

import (
	"fmt"
	"io"
	"math"
	"strings"
)

// Instruction is one decoded instruction with its trailing words.
type Instruction struct {
	Addr     int
	Op       Opcode
	A, B, C  int
	Imm      int
	Trailing []uint32
}

// Decode decodes the instruction stream of a program, that is every word
// between the header and the symbol table.
func Decode(words []uint32) ([]Instruction, error) {
	h, err := ParseHeader(words)
	if err != nil {
		return nil, err
	}
	return decodeRange(words, ProgramHeaderSize, h.SymtabOffset)
}

func decodeRange(words []uint32, pos, limit int) ([]Instruction, error) {
	var out []Instruction
	for pos < limit {
		ins, err := decodeOne(words, pos, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
		pos += 1 + len(ins.Trailing)
	}
	return out, nil
}

func decodeOne(words []uint32, pos, limit int) (Instruction, error) {
	w := words[pos]
	op := OpOf(w)
	if !op.Valid() {
		return Instruction{}, fmt.Errorf("unknown opcode 0x%02x at %04d", byte(op), pos)
	}
	ins := Instruction{Addr: pos, Op: op}
	var reserved uint32
	switch op.Layout() {
	case LayoutVoid:
		reserved = w >> 8
	case LayoutA:
		ins.A = ArgA(w)
		reserved = w >> 16
	case LayoutAB:
		ins.A, ins.B = ArgA(w), ArgB(w)
		reserved = w >> 24
	case LayoutABC:
		ins.A, ins.B, ins.C = ArgA(w), ArgB(w), ArgC(w)
	case LayoutMid:
		ins.A, ins.Imm = ArgA(w), ArgMid(w)
	case LayoutLong:
		ins.Imm = ArgLong(w)
	}
	if reserved != 0 {
		return Instruction{}, fmt.Errorf("%s at %04d has non-zero reserved bits", op, pos)
	}

	var n int
	switch op {
	case OpCall:
		n = callArgWords(ins.C)
	case OpJmp, OpJze, OpJnz:
		n = 1
	case OpLdConst:
		switch uint8(ins.B) {
		case ConstNil, ConstTrue, ConstFalse:
		case ConstInt, ConstFloat:
			n = 2
		default:
			return Instruction{}, fmt.Errorf("LDCONST at %04d has unknown kind %d", pos, ins.B)
		}
	case OpClosure:
		n = ins.Imm
	case OpFunction:
		n = FunctionHeaderSize
	case OpGlbVal:
		n = NameWords(ins.Imm)
	case OpGlbFunc:
		n = NameWords(ins.Imm) + FunctionHeaderSize
	}
	if pos+1+n > limit {
		return Instruction{}, fmt.Errorf("%s at %04d overruns code", op, pos)
	}
	ins.Trailing = words[pos+1 : pos+1+n]
	return ins, nil
}

// Encode is the inverse of Decode for the instruction stream.
func Encode(instrs []Instruction) []uint32 {
	var out []uint32
	for _, ins := range instrs {
		var w uint32
		switch ins.Op.Layout() {
		case LayoutVoid:
			w = MakeVoid(ins.Op)
		case LayoutA:
			w = MakeA(ins.Op, ins.A)
		case LayoutAB:
			w = MakeAB(ins.Op, ins.A, ins.B)
		case LayoutABC:
			w = MakeABC(ins.Op, ins.A, ins.B, ins.C)
		case LayoutMid:
			w = MakeMid(ins.Op, ins.A, ins.Imm)
		case LayoutLong:
			w = MakeLong(ins.Op, ins.Imm)
		}
		out = append(out, w)
		out = append(out, ins.Trailing...)
	}
	return out
}

// ---------------------------------------------------------------------------
// Listing
// ---------------------------------------------------------------------------

// Disassemble writes a human-readable listing of a program.
func Disassemble(w io.Writer, words []uint32) error {
	h, err := ParseHeader(words)
	if err != nil {
		return err
	}
	syms, err := ParseSymbols(words)
	if err != nil {
		return err
	}
	instrs, err := decodeRange(words, ProgramHeaderSize, h.SymtabOffset)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "; program: %d words, %d registers, %d symbols\n", len(words), h.Registers, len(syms))
	for _, ins := range instrs {
		fmt.Fprintln(w, DisassembleInstruction(ins, syms))
	}
	fmt.Fprintln(w, "; symbol table")
	for i, s := range syms {
		switch s.Kind {
		case SymString:
			fmt.Fprintf(w, "  #%-4d %-7s %q\n", i, s.Kind, s.Name)
		case SymLambda:
			fmt.Fprintf(w, "  #%-4d %-7s %s @ %04d\n", i, s.Kind, displayName(s.Name), s.Offset)
		default:
			fmt.Fprintf(w, "  #%-4d %-7s %s\n", i, s.Kind, s.Name)
		}
	}
	return nil
}

// DisassembleInstruction formats one instruction. syms may be nil.
func DisassembleInstruction(ins Instruction, syms []Symbol) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%04d  %-9s", ins.Addr, ins.Op.Name())
	switch ins.Op {
	case OpCall:
		args := make([]string, ins.C)
		for i := range args {
			args[i] = fmt.Sprintf("r%d", int(ins.Trailing[i/4]>>(8*(i%4)))&0xff)
		}
		fmt.Fprintf(&sb, "r%d, r%d(%s)", ins.A, ins.B, strings.Join(args, ", "))
	case OpJmp:
		fmt.Fprintf(&sb, "%04d", jumpTarget(ins))
	case OpJze, OpJnz:
		fmt.Fprintf(&sb, "r%d, %04d", ins.A, jumpTarget(ins))
	case OpLdConst:
		fmt.Fprintf(&sb, "r%d, %s", ins.A, constString(ins))
	case OpLdSym:
		fmt.Fprintf(&sb, "r%d, #%d", ins.A, ins.Imm)
		if ins.Imm < len(syms) {
			s := syms[ins.Imm]
			if s.Kind == SymString {
				fmt.Fprintf(&sb, " ; %q", s.Name)
			} else {
				fmt.Fprintf(&sb, " ; %s %s", s.Kind, displayName(s.Name))
			}
		}
	case OpLdUpval:
		fmt.Fprintf(&sb, "r%d, u%d", ins.A, ins.B)
	case OpStUpval:
		fmt.Fprintf(&sb, "u%d, r%d", ins.A, ins.B)
	case OpClosure:
		descs := make([]string, len(ins.Trailing))
		for i, d := range ins.Trailing {
			if uint8(d) == UpvalLocal {
				descs[i] = fmt.Sprintf("r%d", d>>8)
			} else {
				descs[i] = fmt.Sprintf("u%d", d>>8)
			}
		}
		fmt.Fprintf(&sb, "r%d, [%s]", ins.A, strings.Join(descs, ", "))
	case OpFunction:
		sb.WriteString(functionHeaderString(ins.Trailing))
	case OpGlbVal:
		name, _ := ins.DefinedGlobal()
		fmt.Fprintf(&sb, "%s = r%d", name, ins.A)
	case OpGlbFunc:
		name, _ := ins.DefinedGlobal()
		fmt.Fprintf(&sb, "%s %s", name, functionHeaderString(ins.Trailing[len(ins.Trailing)-FunctionHeaderSize:]))
	default:
		switch ins.Op.Layout() {
		case LayoutA:
			fmt.Fprintf(&sb, "r%d", ins.A)
		case LayoutAB:
			fmt.Fprintf(&sb, "r%d, r%d", ins.A, ins.B)
		case LayoutABC:
			fmt.Fprintf(&sb, "r%d, r%d, r%d", ins.A, ins.B, ins.C)
		}
	}
	return strings.TrimRight(sb.String(), " ")
}

// DefinedGlobal returns the name a GLBVAL or GLBFUNC instruction defines.
func (ins Instruction) DefinedGlobal() (string, bool) {
	switch ins.Op {
	case OpGlbVal, OpGlbFunc:
		name, err := readName(ins.Trailing, 0, ins.Imm)
		return name, err == nil
	}
	return "", false
}

func jumpTarget(ins Instruction) int {
	return ins.Addr + 2 + int(int32(ins.Trailing[0]))
}

func constString(ins Instruction) string {
	switch uint8(ins.B) {
	case ConstNil:
		return "nil"
	case ConstTrue:
		return "true"
	case ConstFalse:
		return "false"
	}
	u := uint64(ins.Trailing[0]) | uint64(ins.Trailing[1])<<32
	if uint8(ins.B) == ConstInt {
		return fmt.Sprintf("int %d", int64(u))
	}
	return fmt.Sprintf("float %s", formatFloat(math.Float64frombits(u)))
}

func functionHeaderString(hdr []uint32) string {
	return fmt.Sprintf("(argc=%d nregs=%d len=%d)", hdr[fnHdrArgc], hdr[fnHdrNregs], hdr[fnHdrBodyLen])
}

func displayName(name string) string {
	if name == "" {
		return "<lambda>"
	}
	return name
}
