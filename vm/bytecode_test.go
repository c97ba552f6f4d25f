package vm

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Opcode metadata tests
// ---------------------------------------------------------------------------

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op     Opcode
		name   string
		layout Layout
	}{
		{OpCall, "CALL", LayoutABC},
		{OpRet, "RET", LayoutA},
		{OpJmp, "JMP", LayoutVoid},
		{OpJze, "JZE", LayoutA},
		{OpEq, "EQ", LayoutABC},
		{OpNeg, "NEG", LayoutAB},
		{OpInc, "INC", LayoutA},
		{OpLdConst, "LDCONST", LayoutAB},
		{OpLdSym, "LDSYM", LayoutMid},
		{OpIdxSet, "IDX_SET", LayoutABC},
		{OpFunction, "FUNCTION", LayoutVoid},
		{OpClosure, "CLOSURE", LayoutMid},
		{OpGlbFunc, "GLBFUNC", LayoutLong},
		{OpClose, "CLOSE", LayoutA},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%02x: name = %q, want %q", byte(tt.op), info.Name, tt.name)
		}
		if info.Layout != tt.layout {
			t.Errorf("%s: layout = %v, want %v", tt.name, info.Layout, tt.layout)
		}
		if !tt.op.Valid() {
			t.Errorf("%s should be valid", tt.name)
		}
	}

	if Opcode(0xff).Valid() {
		t.Error("0xff should not be a valid opcode")
	}
	if got := Opcode(0xff).Name(); got != "UNKNOWN_FF" {
		t.Errorf("unknown name = %q", got)
	}
}

func TestWordPacking(t *testing.T) {
	w := MakeABC(OpAdd, 1, 2, 3)
	if OpOf(w) != OpAdd || ArgA(w) != 1 || ArgB(w) != 2 || ArgC(w) != 3 {
		t.Errorf("ABC unpacked to %v %d %d %d", OpOf(w), ArgA(w), ArgB(w), ArgC(w))
	}
	w = MakeMid(OpLdSym, 7, 0xbeef)
	if ArgA(w) != 7 || ArgMid(w) != 0xbeef {
		t.Errorf("mid unpacked to %d %#x", ArgA(w), ArgMid(w))
	}
	w = MakeLong(OpGlbFunc, MaxLong)
	if ArgLong(w) != MaxLong {
		t.Errorf("long unpacked to %#x", ArgLong(w))
	}
}

func TestCallArgumentPacking(t *testing.T) {
	b := NewBuilder()
	b.EmitCall(0, 1, []int{2, 3, 4, 5, 6})
	words := b.Words()
	if len(words) != 1+callArgWords(5) {
		t.Fatalf("CALL occupies %d words, want %d", len(words), 1+callArgWords(5))
	}
	for i, want := range []int{2, 3, 4, 5, 6} {
		if got := callArg(words, 0, i); got != want {
			t.Errorf("arg %d = r%d, want r%d", i, got, want)
		}
	}
}

func TestLabelsPatchForwardAndBackward(t *testing.T) {
	b := NewBuilder()
	start := b.NewLabel()
	end := b.NewLabel()
	b.Mark(start)
	b.EmitJump(OpJze, 0, end) // forward, patched later
	b.EmitJump(OpJmp, 0, start)
	b.Mark(end)

	words := b.Words()
	if got := 0 + 2 + int(int32(words[1])); got != 4 {
		t.Errorf("forward jump lands at %d, want 4", got)
	}
	if got := 2 + 2 + int(int32(words[3])); got != 0 {
		t.Errorf("backward jump lands at %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Program layout
// ---------------------------------------------------------------------------

// assemble builds a program from a callback that emits top-level code.
func assemble(nregs int, syms []Symbol, emit func(b *Builder)) []uint32 {
	b := NewBuilder()
	b.Reserve(ProgramHeaderSize)
	emit(b)
	return FinishProgram(b.Words(), nregs, syms)
}

func TestProgramHeaderAndSymbols(t *testing.T) {
	syms := []Symbol{
		{Kind: SymString, Name: "hello"},
		{Kind: SymStub, Name: "print"},
		{Kind: SymString, Name: "abc"},
	}
	words := assemble(2, syms, func(b *Builder) {
		b.Emit(MakeAB(OpLdConst, 0, int(ConstNil)))
		b.Emit(MakeA(OpRet, 0))
	})

	h, err := ParseHeader(words)
	if err != nil {
		t.Fatal(err)
	}
	if h.SymtabOffset != ProgramHeaderSize+2 || h.SymtabLen != 3 || h.Registers != 2 {
		t.Errorf("header = %+v", h)
	}
	got, err := ParseSymbols(words)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(syms) {
		t.Fatalf("got %d symbols", len(got))
	}
	for i := range syms {
		if got[i].Kind != syms[i].Kind || got[i].Name != syms[i].Name {
			t.Errorf("symbol %d = %+v, want %+v", i, got[i], syms[i])
		}
	}
}

func TestNameWordsPadding(t *testing.T) {
	tests := []struct {
		n, words int
	}{
		{0, 1}, {3, 1}, {4, 2}, {7, 2}, {8, 3},
	}
	for _, tt := range tests {
		if got := NameWords(tt.n); got != tt.words {
			t.Errorf("NameWords(%d) = %d, want %d", tt.n, got, tt.words)
		}
	}
	words := AppendName(nil, "abcd")
	name, err := readName(words, 0, 4)
	if err != nil || name != "abcd" {
		t.Errorf("readName = %q, %v", name, err)
	}
}

func TestBadMagicRejected(t *testing.T) {
	words := assemble(1, nil, func(b *Builder) {
		b.Emit(MakeAB(OpLdConst, 0, int(ConstNil)))
		b.Emit(MakeA(OpRet, 0))
	})
	words[0] = 0xdeadbeef

	_, err := ParseHeader(words)
	if !errors.Is(err, ErrBadMagic) {
		t.Errorf("ParseHeader error = %v, want ErrBadMagic", err)
	}

	v := NewVM()
	defer v.Close()
	if _, err := v.Execute(words, "bad"); !errors.Is(err, ErrBadMagic) {
		t.Errorf("Execute error = %v, want ErrBadMagic", err)
	}
}

func TestTruncatedProgramRejected(t *testing.T) {
	words := assemble(1, []Symbol{{Kind: SymString, Name: "hello world"}}, func(b *Builder) {
		b.Emit(MakeA(OpRet, 0))
	})
	for n := 0; n < len(words); n++ {
		if _, err := ParseSymbols(words[:n]); err == nil {
			t.Errorf("truncation to %d words accepted", n)
		}
	}
}

func TestLambdaHeaderValidated(t *testing.T) {
	// A lambda claiming more arguments than registers must be refused.
	b := NewBuilder()
	b.Reserve(ProgramHeaderSize)
	b.Emit(MakeVoid(OpFunction))
	hdr := b.Reserve(FunctionHeaderSize)
	b.Emit(MakeA(OpRet, 0))
	b.Patch(hdr, 1)
	b.Patch(hdr+1, 3) // argc
	b.Patch(hdr+2, 1) // nregs
	b.Emit(MakeA(OpRet, 0))
	words := FinishProgram(b.Words(), 1, []Symbol{{Kind: SymLambda, Name: "f", Offset: hdr}})

	if _, err := ParseSymbols(words); err == nil {
		t.Error("expected argc > nregs to be rejected")
	}
}

func TestInlineFunctionHeadersValidated(t *testing.T) {
	retNil := func(b *Builder) {
		b.Emit(MakeAB(OpLdConst, 0, int(ConstNil)))
		b.Emit(MakeA(OpRet, 0))
	}
	tests := []struct {
		name string
		emit func(b *Builder)
		want string
	}{
		{
			name: "global function argc above nregs",
			emit: func(b *Builder) { globalFunc(b, "g", 5, 2, retNil) },
			want: "declares 5 arguments but only 2 registers",
		},
		{
			name: "global function body overruns code",
			emit: func(b *Builder) {
				globalFunc(b, "g", 0, 1, retNil)
				b.Patch(ProgramHeaderSize+1+NameWords(1), 100)
			},
			want: "overruns",
		},
		{
			name: "function without symbol argc above nregs",
			emit: func(b *Builder) {
				b.Emit(MakeVoid(OpFunction))
				hdr := b.Reserve(FunctionHeaderSize)
				retNil(b)
				b.Patch(hdr, 2)
				b.Patch(hdr+1, 3)
				b.Patch(hdr+2, 1)
			},
			want: "declares 3 arguments but only 1 registers",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := assemble(1, nil, func(b *Builder) {
				tt.emit(b)
				retNil(b)
			})

			v := NewVM()
			defer v.Close()
			if _, err := v.Load(words, "crafted"); err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want %q", err, tt.want)
			}
			if _, ok := v.Global("g"); ok {
				t.Error("rejected program defined a global")
			}

			var buf bytes.Buffer
			if err := WriteBytecode(&buf, words); err != nil {
				t.Fatal(err)
			}
			if _, err := ReadBytecode(&buf); err == nil {
				t.Error("ReadBytecode accepted the program")
			}
		})
	}

	// A well-formed global function still loads and runs.
	words := assemble(1, nil, func(b *Builder) {
		globalFunc(b, "g", 1, 2, retNil)
		retNil(b)
	})
	v := NewVM()
	defer v.Close()
	if _, err := v.Execute(words, "ok"); err != nil {
		t.Errorf("Execute error = %v", err)
	}
}

func TestReadWriteBytecode(t *testing.T) {
	words := assemble(1, []Symbol{{Kind: SymString, Name: "x"}}, func(b *Builder) {
		b.EmitInt(0, 42)
		b.Emit(MakeA(OpRet, 0))
	})
	var buf bytes.Buffer
	if err := WriteBytecode(&buf, words); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != 4*len(words) {
		t.Errorf("wrote %d bytes, want %d", buf.Len(), 4*len(words))
	}
	if got := buf.Bytes()[:4]; got[0] != 0x7f || got[1] != 'S' || got[2] != 'P' || got[3] != 'K' {
		t.Errorf("magic bytes = % x", got)
	}
	back, err := ReadBytecode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(back) != len(words) {
		t.Fatalf("read %d words, want %d", len(back), len(words))
	}
	for i := range words {
		if back[i] != words[i] {
			t.Errorf("word %d = %#x, want %#x", i, back[i], words[i])
		}
	}

	if _, err := ReadBytecode(strings.NewReader("abc")); err == nil {
		t.Error("expected error for length not a multiple of 4")
	}
}

// ---------------------------------------------------------------------------
// Decoder
// ---------------------------------------------------------------------------

func TestEncodeDecodeIdentity(t *testing.T) {
	b := NewBuilder()
	b.Reserve(ProgramHeaderSize)
	b.EmitInt(0, -5)
	b.EmitFloat(1, math.Pi)
	b.Emit(MakeAB(OpLdConst, 2, int(ConstTrue)))
	end := b.NewLabel()
	b.EmitJump(OpJnz, 2, end)
	b.Emit(MakeABC(OpAdd, 0, 0, 1))
	b.Mark(end)
	b.Emit(MakeVoid(OpFunction))
	hdr := b.Reserve(FunctionHeaderSize)
	b.Emit(MakeA(OpRet, 0))
	b.Patch(hdr, 1)
	b.Patch(hdr+1, 0)
	b.Patch(hdr+2, 1)
	b.Emit(MakeMid(OpLdSym, 3, 0))
	b.Emit(MakeMid(OpClosure, 3, 1))
	b.Emit(MakeUpvalDesc(UpvalLocal, 0))
	b.EmitCall(4, 3, []int{0, 1, 2})
	b.Emit(MakeMid(OpGlbVal, 4, 3))
	b.EmitName("res")
	b.Emit(MakeA(OpRet, 4))
	words := FinishProgram(b.Words(), 5, []Symbol{{Kind: SymLambda, Name: "", Offset: hdr}})

	instrs, err := Decode(words)
	if err != nil {
		t.Fatal(err)
	}
	again := Encode(instrs)
	h, _ := ParseHeader(words)
	code := words[ProgramHeaderSize:h.SymtabOffset]
	if len(again) != len(code) {
		t.Fatalf("re-encoded %d words, want %d", len(again), len(code))
	}
	for i := range code {
		if again[i] != code[i] {
			t.Errorf("word %d = %#x, want %#x", i, again[i], code[i])
		}
	}

	var buf bytes.Buffer
	if err := Disassemble(&buf, words); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"int -5", "float 3.14159", "JNZ", "CLOSURE", "[r0]", "res = r4", "<lambda>"} {
		if !strings.Contains(out, want) {
			t.Errorf("listing lacks %q:\n%s", want, out)
		}
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name string
		code []uint32
	}{
		{"unknown opcode", []uint32{0xff}},
		{"reserved bits", []uint32{MakeA(OpRet, 0) | 1<<20}},
		{"truncated jump", []uint32{MakeVoid(OpJmp)}},
		{"truncated int", []uint32{MakeAB(OpLdConst, 0, int(ConstInt)), 1}},
		{"bad const kind", []uint32{MakeAB(OpLdConst, 0, 9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			words := FinishProgram(append(make([]uint32, ProgramHeaderSize), tt.code...), 1, nil)
			if _, err := Decode(words); err == nil {
				t.Error("expected decode error")
			}
			v := NewVM()
			defer v.Close()
			if _, err := v.Load(words, "garbage"); err == nil {
				t.Error("expected load error")
			}
		})
	}
}
