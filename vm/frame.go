package vm

// ---------------------------------------------------------------------------
// Call frames: execution state for one function activation
// ---------------------------------------------------------------------------

// callFrame describes one activation. Registers live on the VM stack at
// [base, base+size); frames refer to each other and to their return slot
// by stack offset only, so growing the stack never invalidates them.
type callFrame struct {
	fn    *Function // callee; closures are kept as themselves
	env   *Function // program whose bytecode is executing
	base  int
	size  int // nregs + extraArgc
	nregs int

	declArgc  int
	extraArgc int
	realArgc  int

	retAddr int // caller instruction to resume at, -1 returns to the host
	retSlot int // absolute stack index receiving the result
}

// upvals returns the captured cells visible to the running function.
func (f *callFrame) upvals() []*upvalue {
	if f.fn.kind == FuncClosure {
		return f.fn.upvals
	}
	return nil
}

// ensureStack grows the register stack to hold at least n slots.
func (v *VM) ensureStack(n int) {
	if n <= len(v.stack) {
		return
	}
	size := len(v.stack) * 2
	if size == 0 {
		size = 64
	}
	for size < n {
		size *= 2
	}
	grown := make([]Value, size)
	copy(grown, v.stack[:v.sp])
	v.stack = grown
}

// pushFrame binds args to a new activation of fn. Declared parameters take
// the first registers, missing ones stay nil, surplus arguments are stored
// after the last register where NTHARG can reach them. Arguments are
// retained; the caller keeps its own references.
func (v *VM) pushFrame(fn *Function, args []Value, retAddr, retSlot, pc int) error {
	if len(v.frames) >= v.config.MaxCallDepth {
		return v.runtimeErrorf(pc, "stack overflow (call depth %d)", len(v.frames))
	}
	declArgc, nregs := fn.argc, fn.nregs
	// Re-checked here because bytecode may come from outside the compiler.
	if declArgc > nregs {
		return v.runtimeErrorf(pc, "function '%s' declares %d arguments but only %d registers", fn.Name(), declArgc, nregs)
	}
	extra := 0
	if len(args) > declArgc {
		extra = len(args) - declArgc
	}

	base := v.sp
	size := nregs + extra
	v.ensureStack(base + size)
	for i := base; i < base+size; i++ {
		v.stack[i] = Nil
	}
	for i, a := range args {
		if i < declArgc {
			v.stack[base+i] = a.Retain()
		} else {
			v.stack[base+nregs+i-declArgc] = a.Retain()
		}
	}
	v.sp = base + size

	env := fn.env
	if fn.kind == FuncProgram {
		env = fn
	}
	v.frames = append(v.frames, callFrame{
		fn:        fn,
		env:       env,
		base:      base,
		size:      size,
		nregs:     nregs,
		declArgc:  declArgc,
		extraArgc: extra,
		realArgc:  len(args),
		retAddr:   retAddr,
		retSlot:   retSlot,
	})
	return nil
}

// popFrame closes upvalues pointing into the top frame, releases its
// registers and discards it.
func (v *VM) popFrame() callFrame {
	f := v.frames[len(v.frames)-1]
	v.closeUpvalues(f.base)
	for i := f.base; i < f.base+f.size; i++ {
		old := v.stack[i]
		v.stack[i] = Nil
		old.Release()
	}
	v.sp = f.base
	v.frames = v.frames[:len(v.frames)-1]
	return f
}

// unwindTo pops frames until depth remain. It runs after failures, whose
// frames are otherwise kept for StackTrace.
func (v *VM) unwindTo(depth int) {
	for len(v.frames) > depth {
		v.popFrame()
	}
}

// ---------------------------------------------------------------------------
// Upvalue cells
// ---------------------------------------------------------------------------

// findUpvalue returns the open cell for an absolute stack slot, creating it
// if no closure has captured the slot yet. The open list is ordered by slot.
func (v *VM) findUpvalue(index int) *upvalue {
	i := len(v.openUpvals)
	for i > 0 && v.openUpvals[i-1].index >= index {
		if v.openUpvals[i-1].index == index {
			return v.openUpvals[i-1]
		}
		i--
	}
	u := &upvalue{open: true, index: index}
	v.openUpvals = append(v.openUpvals, nil)
	copy(v.openUpvals[i+1:], v.openUpvals[i:])
	v.openUpvals[i] = u
	return u
}

// closeUpvalues moves the values of all open cells at or above from into
// the cells themselves.
func (v *VM) closeUpvalues(from int) {
	n := len(v.openUpvals)
	for n > 0 && v.openUpvals[n-1].index >= from {
		u := v.openUpvals[n-1]
		u.open = false
		if u.rc > 0 {
			u.closed = v.stack[u.index].Retain()
		}
		v.openUpvals[n-1] = nil
		n--
	}
	v.openUpvals = v.openUpvals[:n]
}

func (v *VM) upvalGet(u *upvalue) Value {
	if u.open {
		return v.stack[u.index]
	}
	return u.closed
}

// upvalSet stores an owned value into a cell.
func (v *VM) upvalSet(u *upvalue, val Value) {
	if u.open {
		old := v.stack[u.index]
		v.stack[u.index] = val
		old.Release()
		return
	}
	old := u.closed
	u.closed = val
	old.Release()
}
