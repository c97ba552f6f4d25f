package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Magic is the first word of every program.
const Magic uint32 = 0x4b50537f

// Program header word indices.
const (
	hdrMagic = iota
	hdrSymtabOff
	hdrSymtabLen
	hdrNregs
	ProgramHeaderSize
)

// Function header word indices, relative to the header offset.
const (
	fnHdrBodyLen = iota
	fnHdrArgc
	fnHdrNregs
	FunctionHeaderSize
)

// ErrBadMagic is returned when a word stream is not a program.
var ErrBadMagic = errors.New("bad magic number")

// SymbolKind tags a local symbol table entry.
type SymbolKind uint8

const (
	SymString SymbolKind = iota + 1 // string constant
	SymStub                         // global looked up by name on first use
	SymLambda                       // function whose header lives in the same program
)

var symbolKindNames = map[SymbolKind]string{
	SymString: "string",
	SymStub:   "global",
	SymLambda: "lambda",
}

func (k SymbolKind) String() string {
	if s, ok := symbolKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("SymbolKind(%d)", k)
}

// Symbol is one local symbol table entry as encoded in a program.
type Symbol struct {
	Kind   SymbolKind
	Name   string // string contents, global name or lambda display name
	Offset int    // lambda function-header offset
}

// symEntry is the runtime form of a Symbol. Stubs cache the resolved global.
type symEntry struct {
	Symbol
	val      Value
	resolved bool
}

// Header is the decoded program header.
type Header struct {
	SymtabOffset int
	SymtabLen    int
	Registers    int
}

// ---------------------------------------------------------------------------
// Names embedded in the word stream
// ---------------------------------------------------------------------------

// NameWords is the number of words a NUL-terminated name of n bytes occupies.
func NameWords(n int) int { return (n + 1 + 3) / 4 }

// AppendName appends s, NUL-terminated and padded to a word boundary.
// Bytes are packed little-endian within each word.
func AppendName(words []uint32, s string) []uint32 {
	n := NameWords(len(s))
	for i := 0; i < n; i++ {
		var w uint32
		for j := 0; j < 4; j++ {
			k := i*4 + j
			if k < len(s) {
				w |= uint32(s[k]) << (8 * j)
			}
		}
		words = append(words, w)
	}
	return words
}

// readName decodes a name of n bytes starting at words[pos].
func readName(words []uint32, pos, n int) (string, error) {
	nw := NameWords(n)
	if pos < 0 || n < 0 || pos+nw > len(words) {
		return "", fmt.Errorf("name at word %d overruns program", pos)
	}
	buf := make([]byte, n)
	for k := 0; k < n; k++ {
		buf[k] = byte(words[pos+k/4] >> (8 * (k % 4)))
	}
	return string(buf), nil
}

// ---------------------------------------------------------------------------
// Assembly
// ---------------------------------------------------------------------------

// FinishProgram fills in the header of code, whose first ProgramHeaderSize
// words are reserved, and appends the symbol table.
func FinishProgram(code []uint32, nregs int, syms []Symbol) []uint32 {
	words := code
	words[hdrMagic] = Magic
	words[hdrSymtabOff] = uint32(len(code))
	words[hdrSymtabLen] = uint32(len(syms))
	words[hdrNregs] = uint32(nregs)
	for _, s := range syms {
		switch s.Kind {
		case SymLambda:
			words = append(words, uint32(s.Kind)|uint32(len(s.Name))<<8, uint32(s.Offset))
		default:
			words = append(words, uint32(s.Kind)|uint32(len(s.Name))<<8)
		}
		words = AppendName(words, s.Name)
	}
	return words
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// ParseHeader validates the program header.
func ParseHeader(words []uint32) (Header, error) {
	if len(words) < ProgramHeaderSize {
		return Header{}, fmt.Errorf("program too short (%d words)", len(words))
	}
	if words[hdrMagic] != Magic {
		return Header{}, fmt.Errorf("%w: 0x%08x", ErrBadMagic, words[hdrMagic])
	}
	h := Header{
		SymtabOffset: int(words[hdrSymtabOff]),
		SymtabLen:    int(words[hdrSymtabLen]),
		Registers:    int(words[hdrNregs]),
	}
	if h.SymtabOffset < ProgramHeaderSize || h.SymtabOffset > len(words) {
		return Header{}, fmt.Errorf("symbol table offset %d out of range", h.SymtabOffset)
	}
	if h.Registers > MaxRegisters {
		return Header{}, fmt.Errorf("program declares %d registers, limit is %d", h.Registers, MaxRegisters)
	}
	return h, nil
}

// ParseSymbols decodes the local symbol table of a program and checks every
// lambda header it references.
func ParseSymbols(words []uint32) ([]Symbol, error) {
	h, err := ParseHeader(words)
	if err != nil {
		return nil, err
	}
	syms := make([]Symbol, 0, h.SymtabLen)
	pos := h.SymtabOffset
	for i := 0; i < h.SymtabLen; i++ {
		if pos >= len(words) {
			return nil, fmt.Errorf("symbol table truncated at entry %d", i)
		}
		w := words[pos]
		kind, n := SymbolKind(w&0xff), int(w>>8)
		pos++
		sym := Symbol{Kind: kind}
		switch kind {
		case SymString, SymStub:
		case SymLambda:
			if pos >= len(words) {
				return nil, fmt.Errorf("symbol table truncated at entry %d", i)
			}
			sym.Offset = int(words[pos])
			pos++
			if err := checkFunctionHeader(words, sym.Offset, h.SymtabOffset); err != nil {
				return nil, fmt.Errorf("symbol %d: %w", i, err)
			}
		default:
			return nil, fmt.Errorf("symbol %d: unknown kind %d", i, kind)
		}
		if sym.Name, err = readName(words, pos, n); err != nil {
			return nil, fmt.Errorf("symbol %d: %w", i, err)
		}
		pos += NameWords(n)
		syms = append(syms, sym)
	}
	if pos != len(words) {
		return nil, fmt.Errorf("%d trailing words after symbol table", len(words)-pos)
	}
	return syms, nil
}

// checkCode decodes the instruction stream and checks the header of every
// function defined inline by FUNCTION or GLBFUNC.
func checkCode(words []uint32, h Header) error {
	instrs, err := decodeRange(words, ProgramHeaderSize, h.SymtabOffset)
	if err != nil {
		return err
	}
	for _, ins := range instrs {
		var hdr int
		switch ins.Op {
		case OpFunction:
			hdr = ins.Addr + 1
		case OpGlbFunc:
			hdr = ins.Addr + 1 + NameWords(ins.Imm)
		default:
			continue
		}
		if err := checkFunctionHeader(words, hdr, h.SymtabOffset); err != nil {
			return fmt.Errorf("%s at %04d: %w", ins.Op, ins.Addr, err)
		}
	}
	return nil
}

func checkFunctionHeader(words []uint32, hdr, limit int) error {
	if hdr < ProgramHeaderSize || hdr+FunctionHeaderSize > limit {
		return fmt.Errorf("function header at %d out of range", hdr)
	}
	bodyLen := int(words[hdr+fnHdrBodyLen])
	argc := int(words[hdr+fnHdrArgc])
	nregs := int(words[hdr+fnHdrNregs])
	if nregs > MaxRegisters {
		return fmt.Errorf("function at %d declares %d registers", hdr, nregs)
	}
	if argc > nregs {
		return fmt.Errorf("function at %d declares %d arguments but only %d registers", hdr, argc, nregs)
	}
	if hdr+FunctionHeaderSize+bodyLen > limit {
		return fmt.Errorf("function body at %d overruns code", hdr)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Serialization
// ---------------------------------------------------------------------------

// WriteBytecode writes words in little-endian order.
func WriteBytecode(w io.Writer, words []uint32) error {
	buf := make([]byte, 4*len(words))
	for i, word := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], word)
	}
	_, err := w.Write(buf)
	return err
}

// ReadBytecode reads a little-endian word stream and validates the header,
// the symbol table and the instruction stream before returning it.
func ReadBytecode(r io.Reader) ([]uint32, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("bytecode length %d is not a multiple of 4", len(data))
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[4*i:])
	}
	if _, err := ParseSymbols(words); err != nil {
		return nil, err
	}
	h, err := ParseHeader(words)
	if err != nil {
		return nil, err
	}
	if err := checkCode(words, h); err != nil {
		return nil, err
	}
	return words, nil
}
