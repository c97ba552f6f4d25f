package vm

import "math"

// ---------------------------------------------------------------------------
// Main interpreter loop
// ---------------------------------------------------------------------------

// set stores an owned value into an absolute slot and releases the old one.
// Callers retain the new value before calling, so self-assignment is safe.
func (v *VM) set(slot int, val Value) {
	old := v.stack[slot]
	v.stack[slot] = val
	old.Release()
}

// run executes the top frame until it returns to the host. Frames pushed by
// CALL instructions return into this same loop.
func (v *VM) run() (result Value, err error) {
	pc := 0
	v.running++
	defer func() {
		v.running--
		if r := recover(); r != nil {
			result = Nil
			err = v.runtimeErrorf(pc, "malformed bytecode: %v", r)
		}
	}()

	f := &v.frames[len(v.frames)-1]
	code := f.env.words
	base := f.base
	ip := f.fn.bodyStart()

	for {
		pc = ip
		w := code[pc]
		op := OpOf(w)
		ip++

		switch op {
		case OpCall:
			a, b, c := ArgA(w), ArgB(w), ArgC(w)
			callee := v.stack[base+b]
			fn := callee.AsFunction()
			if fn == nil || !callee.IsObject() {
				return Nil, v.runtimeErrorf(pc, "attempt to call non-function value of type %s", callee.TypeName())
			}
			next := pc + 1 + callArgWords(c)

			if fn.kind == FuncNative {
				args := make([]Value, c)
				for i := range args {
					args[i] = v.stack[base+callArg(code, pc, i)].Retain()
				}
				ret, err := v.callNative(fn, args, pc)
				for _, arg := range args {
					arg.Release()
				}
				if err != nil {
					return Nil, err
				}
				v.set(base+a, ret)
				f = &v.frames[len(v.frames)-1]
				ip = next
				continue
			}

			args := v.argBuf[:0]
			for i := 0; i < c; i++ {
				args = append(args, v.stack[base+callArg(code, pc, i)])
			}
			v.argBuf = args[:0]
			if err := v.pushFrame(fn, args, next, base+a, pc); err != nil {
				return Nil, err
			}
			f = &v.frames[len(v.frames)-1]
			code = f.env.words
			base = f.base
			ip = f.fn.bodyStart()

		case OpRet:
			res := v.stack[base+ArgA(w)].Retain()
			done := v.popFrame()
			if done.retAddr < 0 {
				return res, nil
			}
			v.set(done.retSlot, res)
			f = &v.frames[len(v.frames)-1]
			code = f.env.words
			base = f.base
			ip = done.retAddr

		case OpJmp:
			ip = pc + 2 + int(int32(code[pc+1]))

		case OpJze, OpJnz:
			cond := v.stack[base+ArgA(w)]
			if !cond.IsBool() {
				return Nil, v.runtimeErrorf(pc, "condition must be a boolean, got %s", cond.TypeName())
			}
			if cond.AsBool() == (op == OpJnz) {
				ip = pc + 2 + int(int32(code[pc+1]))
			} else {
				ip = pc + 2
			}

		case OpEq, OpNe:
			eq := Equal(v.stack[base+ArgB(w)], v.stack[base+ArgC(w)])
			v.set(base+ArgA(w), Bool(eq == (op == OpEq)))

		case OpLt, OpLe, OpGt, OpGe:
			c, err := v.compare(pc, v.stack[base+ArgB(w)], v.stack[base+ArgC(w)])
			if err != nil {
				return Nil, err
			}
			v.set(base+ArgA(w), Bool(orderingHolds(op, c)))

		case OpAdd, OpSub, OpMul, OpDiv, OpMod:
			res, err := v.arith(pc, op, v.stack[base+ArgB(w)], v.stack[base+ArgC(w)])
			if err != nil {
				return Nil, err
			}
			v.set(base+ArgA(w), res)

		case OpAnd, OpOr, OpXor, OpShl, OpShr:
			res, err := v.bitwise(pc, op, v.stack[base+ArgB(w)], v.stack[base+ArgC(w)])
			if err != nil {
				return Nil, err
			}
			v.set(base+ArgA(w), res)

		case OpNeg, OpBitNot:
			res, err := v.unary(pc, op, v.stack[base+ArgB(w)])
			if err != nil {
				return Nil, err
			}
			v.set(base+ArgA(w), res)

		case OpInc, OpDec:
			res, err := v.unary(pc, op, v.stack[base+ArgA(w)])
			if err != nil {
				return Nil, err
			}
			v.stack[base+ArgA(w)] = res

		case OpLogNot:
			x := v.stack[base+ArgB(w)]
			if !x.IsBool() {
				return Nil, v.runtimeErrorf(pc, "logical negation of non-boolean value (%s)", x.TypeName())
			}
			v.set(base+ArgA(w), Bool(!x.AsBool()))

		case OpSizeof:
			res, err := v.sizeof(pc, v.stack[base+ArgB(w)])
			if err != nil {
				return Nil, err
			}
			v.set(base+ArgA(w), res)

		case OpTypeof:
			v.set(base+ArgA(w), v.typeName(v.stack[base+ArgB(w)]))

		case OpConcat:
			x, y := v.stack[base+ArgB(w)], v.stack[base+ArgC(w)]
			if !x.IsString() || !y.IsString() {
				return Nil, v.runtimeErrorf(pc, "concatenation of non-string values (%s and %s)", x.TypeName(), y.TypeName())
			}
			v.set(base+ArgA(w), NewString(x.AsString()+y.AsString()))

		case OpLdConst:
			a := ArgA(w)
			switch uint8(ArgB(w)) {
			case ConstNil:
				v.set(base+a, Nil)
			case ConstTrue:
				v.set(base+a, True)
			case ConstFalse:
				v.set(base+a, False)
			case ConstInt, ConstFloat:
				u := uint64(code[pc+1]) | uint64(code[pc+2])<<32
				if uint8(ArgB(w)) == ConstInt {
					v.set(base+a, Int(int64(u)))
				} else {
					v.set(base+a, Float(math.Float64frombits(u)))
				}
				ip = pc + 3
			default:
				return Nil, v.runtimeErrorf(pc, "unknown constant kind %d", ArgB(w))
			}

		case OpLdSym:
			idx := ArgMid(w)
			symtab := f.env.symtab
			if idx >= len(symtab) {
				return Nil, v.runtimeErrorf(pc, "symbol index %d out of range", idx)
			}
			e := &symtab[idx]
			if e.Kind == SymStub && !e.resolved {
				g, ok := v.globals[e.Name]
				if !ok {
					return Nil, v.runtimeErrorf(pc, "global '%s' does not exist", e.Name)
				}
				e.val = g.Retain()
				e.resolved = true
			}
			v.set(base+ArgA(w), e.val.Retain())

		case OpMov:
			v.set(base+ArgA(w), v.stack[base+ArgB(w)].Retain())

		case OpLdUpval:
			ups := f.upvals()
			b := ArgB(w)
			if b >= len(ups) {
				return Nil, v.runtimeErrorf(pc, "upvalue index %d out of range", b)
			}
			v.set(base+ArgA(w), v.upvalGet(ups[b]).Retain())

		case OpStUpval:
			ups := f.upvals()
			a := ArgA(w)
			if a >= len(ups) {
				return Nil, v.runtimeErrorf(pc, "upvalue index %d out of range", a)
			}
			v.upvalSet(ups[a], v.stack[base+ArgB(w)].Retain())

		case OpArgc:
			v.set(base+ArgA(w), Int(int64(f.realArgc)))

		case OpNthArg:
			idx := v.stack[base+ArgB(w)]
			if !idx.IsInt() {
				return Nil, v.runtimeErrorf(pc, "argument index must be an integer, got %s", idx.TypeName())
			}
			n := idx.AsInt()
			if n < 0 || n >= int64(f.extraArgc) {
				return Nil, v.runtimeErrorf(pc, "argument index %d out of bounds (%d extra arguments)", n, f.extraArgc)
			}
			v.set(base+ArgA(w), v.stack[base+f.nregs+int(n)].Retain())

		case OpClose:
			v.closeUpvalues(base + ArgA(w))

		case OpNewArr:
			v.set(base+ArgA(w), NewArray())

		case OpNewHash:
			v.set(base+ArgA(w), NewHashMap())

		case OpIdxGet:
			res, err := v.indexGet(pc, v.stack[base+ArgB(w)], v.stack[base+ArgC(w)])
			if err != nil {
				return Nil, err
			}
			v.set(base+ArgA(w), res)

		case OpIdxSet:
			if err := v.indexSet(pc, v.stack[base+ArgA(w)], v.stack[base+ArgB(w)], v.stack[base+ArgC(w)]); err != nil {
				return Nil, err
			}

		case OpFunction:
			ip = pc + 1 + FunctionHeaderSize + int(code[pc+1+fnHdrBodyLen])

		case OpClosure:
			if err := v.makeClosure(pc, f, code, ArgA(w), ArgMid(w)); err != nil {
				return Nil, err
			}
			ip = pc + 1 + ArgMid(w)

		case OpGlbVal:
			n := ArgMid(w)
			name, err := readName(code, pc+1, n)
			if err != nil {
				return Nil, v.runtimeErrorf(pc, "%v", err)
			}
			if err := v.defineGlobal(name, v.stack[base+ArgA(w)].Retain()); err != nil {
				return Nil, v.runtimeErrorf(pc, "%v", err)
			}
			ip = pc + 1 + NameWords(n)

		case OpGlbFunc:
			n := ArgLong(w)
			name, err := readName(code, pc+1, n)
			if err != nil {
				return Nil, v.runtimeErrorf(pc, "%v", err)
			}
			hdr := pc + 1 + NameWords(n)
			fn := newScript(f.env, hdr, name)
			if err := v.defineGlobal(name, FromObject(fn)); err != nil {
				return Nil, v.runtimeErrorf(pc, "%v", err)
			}
			ip = hdr + FunctionHeaderSize + int(code[hdr+fnHdrBodyLen])

		default:
			return Nil, v.runtimeErrorf(pc, "illegal instruction 0x%02x", byte(op))
		}
	}
}

// makeClosure replaces the script function in register a with a closure
// capturing the n cells described by the words following pc.
func (v *VM) makeClosure(pc int, f *callFrame, code []uint32, a, n int) error {
	proto := v.stack[f.base+a].AsFunction()
	if proto == nil || proto.kind != FuncScript {
		return v.runtimeErrorf(pc, "closure prototype is not a script function")
	}
	cl := newClosure(proto, n)
	ups := f.upvals()
	for i := 0; i < n; i++ {
		d := code[pc+1+i]
		idx := int(d >> 8)
		var u *upvalue
		switch uint8(d) {
		case UpvalLocal:
			if idx >= f.nregs {
				cl.Release()
				return v.runtimeErrorf(pc, "captured register %d out of range", idx)
			}
			u = v.findUpvalue(f.base + idx)
		case UpvalOuter:
			if idx >= len(ups) {
				cl.Release()
				return v.runtimeErrorf(pc, "captured upvalue %d out of range", idx)
			}
			u = ups[idx]
		default:
			cl.Release()
			return v.runtimeErrorf(pc, "unknown upvalue descriptor kind %d", uint8(d))
		}
		u.retain()
		cl.upvals = append(cl.upvals, u)
	}
	v.set(f.base+a, FromObject(cl))
	return nil
}
