package vm

import "math"

var arithVerbs = map[Opcode]string{
	OpAdd:    "addition",
	OpSub:    "subtraction",
	OpMul:    "multiplication",
	OpDiv:    "division",
	OpMod:    "modulo",
	OpAnd:    "bitwise and",
	OpOr:     "bitwise or",
	OpXor:    "bitwise xor",
	OpShl:    "left shift",
	OpShr:    "right shift",
	OpBitNot: "bitwise not",
	OpNeg:    "negation",
	OpInc:    "increment",
	OpDec:    "decrement",
}

// arith implements ADD, SUB, MUL, DIV and MOD. Two integers give an
// integer with wrap-around; any float operand promotes to float.
func (v *VM) arith(pc int, op Opcode, x, y Value) (Value, error) {
	if !x.IsNumber() || !y.IsNumber() {
		return Nil, v.runtimeErrorf(pc, "%s of non-number values (%s and %s)", arithVerbs[op], x.TypeName(), y.TypeName())
	}
	if x.kind == KindInt && y.kind == KindInt {
		a, b := x.AsInt(), y.AsInt()
		switch op {
		case OpAdd:
			return Int(a + b), nil
		case OpSub:
			return Int(a - b), nil
		case OpMul:
			return Int(a * b), nil
		case OpDiv:
			if b == 0 {
				return Nil, v.runtimeErrorf(pc, "division by zero")
			}
			return Int(a / b), nil
		case OpMod:
			if b == 0 {
				return Nil, v.runtimeErrorf(pc, "modulo by zero")
			}
			return Int(a % b), nil
		}
	}
	if op == OpMod {
		return Nil, v.runtimeErrorf(pc, "modulo of non-integer values")
	}
	a, b := x.Number(), y.Number()
	switch op {
	case OpAdd:
		return Float(a + b), nil
	case OpSub:
		return Float(a - b), nil
	case OpMul:
		return Float(a * b), nil
	case OpDiv:
		return Float(a / b), nil
	}
	return Nil, v.runtimeErrorf(pc, "unexpected arithmetic opcode %s", op)
}

// bitwise implements AND, OR, XOR, SHL and SHR on integers.
func (v *VM) bitwise(pc int, op Opcode, x, y Value) (Value, error) {
	if !x.IsInt() || !y.IsInt() {
		return Nil, v.runtimeErrorf(pc, "%s of non-integer values (%s and %s)", arithVerbs[op], x.TypeName(), y.TypeName())
	}
	a, b := x.AsInt(), y.AsInt()
	switch op {
	case OpAnd:
		return Int(a & b), nil
	case OpOr:
		return Int(a | b), nil
	case OpXor:
		return Int(a ^ b), nil
	case OpShl, OpShr:
		if b < 0 {
			return Nil, v.runtimeErrorf(pc, "negative shift count %d", b)
		}
		if op == OpShl {
			return Int(a << uint64(b)), nil
		}
		return Int(a >> uint64(b)), nil
	}
	return Nil, v.runtimeErrorf(pc, "unexpected bitwise opcode %s", op)
}

// unary implements NEG, BITNOT, INC and DEC.
func (v *VM) unary(pc int, op Opcode, x Value) (Value, error) {
	switch {
	case x.IsInt():
		n := x.AsInt()
		switch op {
		case OpNeg:
			return Int(-n), nil
		case OpBitNot:
			return Int(^n), nil
		case OpInc:
			return Int(n + 1), nil
		case OpDec:
			return Int(n - 1), nil
		}
	case x.IsFloat() && op != OpBitNot:
		f := x.AsFloat()
		switch op {
		case OpNeg:
			return Float(-f), nil
		case OpInc:
			return Float(f + 1), nil
		case OpDec:
			return Float(f - 1), nil
		}
	}
	return Nil, v.runtimeErrorf(pc, "%s of non-%s value (%s)", arithVerbs[op], unaryDomain(op), x.TypeName())
}

func unaryDomain(op Opcode) string {
	if op == OpBitNot {
		return "integer"
	}
	return "number"
}

// unordered is the comparison result when either operand is NaN; every
// ordering test on it is false.
const unordered = 2

// compare orders two values for LT, LE, GT and GE.
func (v *VM) compare(pc int, x, y Value) (int, error) {
	if x.IsNumber() && y.IsNumber() {
		if x.IsInt() && y.IsInt() {
			a, b := x.AsInt(), y.AsInt()
			switch {
			case a < b:
				return -1, nil
			case a > b:
				return 1, nil
			}
			return 0, nil
		}
		a, b := x.Number(), y.Number()
		switch {
		case a < b:
			return -1, nil
		case a > b:
			return 1, nil
		case a == b:
			return 0, nil
		}
		return unordered, nil
	}
	if x.IsObject() && y.IsObject() {
		ox, oy := x.Object(), y.Object()
		if cls := ox.Class(); cls == oy.Class() && cls.Compare != nil {
			return cls.Compare(ox, oy), nil
		}
	}
	return 0, v.runtimeErrorf(pc, "cannot compare %s with %s", x.TypeName(), y.TypeName())
}

func orderingHolds(op Opcode, c int) bool {
	if c == unordered {
		return false
	}
	switch op {
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	}
	return false
}

// sizeof returns the length of a string, array or hashmap.
func (v *VM) sizeof(pc int, x Value) (Value, error) {
	switch o := x.Object().(type) {
	case *String:
		return Int(int64(o.Len())), nil
	case *Array:
		return Int(int64(o.Len())), nil
	case *HashMap:
		return Int(int64(o.Len())), nil
	}
	return Nil, v.runtimeErrorf(pc, "sizeof applied to %s", x.TypeName())
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

func arrayIndex(k Value) (int64, bool) {
	switch {
	case k.IsInt():
		return k.AsInt(), true
	case k.IsFloat():
		f := k.AsFloat()
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return int64(f), true
		}
	}
	return 0, false
}

// indexGet returns an owned element of an array, hashmap or string.
func (v *VM) indexGet(pc int, c, k Value) (Value, error) {
	switch o := c.Object().(type) {
	case *Array:
		i, ok := arrayIndex(k)
		if !ok {
			return Nil, v.runtimeErrorf(pc, "array index must be an integer, got %s", k.TypeName())
		}
		if i < 0 || i >= int64(o.Len()) {
			return Nil, v.runtimeErrorf(pc, "array index %d out of bounds (length %d)", i, o.Len())
		}
		return o.Get(int(i)).Retain(), nil
	case *HashMap:
		if k.IsNil() {
			return Nil, v.runtimeErrorf(pc, "hashmap key must not be nil")
		}
		return o.Get(k).Retain(), nil
	case *String:
		i, ok := arrayIndex(k)
		if !ok {
			return Nil, v.runtimeErrorf(pc, "string index must be an integer, got %s", k.TypeName())
		}
		if i < 0 || i >= int64(o.Len()) {
			return Nil, v.runtimeErrorf(pc, "string index %d out of bounds (length %d)", i, o.Len())
		}
		return Int(int64(o.s[i])), nil
	}
	return Nil, v.runtimeErrorf(pc, "cannot index value of type %s", c.TypeName())
}

// indexSet stores a borrowed value into an array or hashmap. Storing at
// index len(array) appends.
func (v *VM) indexSet(pc int, c, k, val Value) error {
	switch o := c.Object().(type) {
	case *Array:
		i, ok := arrayIndex(k)
		if !ok {
			return v.runtimeErrorf(pc, "array index must be an integer, got %s", k.TypeName())
		}
		if i < 0 || i > int64(o.Len()) {
			return v.runtimeErrorf(pc, "array index %d out of bounds (length %d)", i, o.Len())
		}
		o.Set(int(i), val.Retain())
		return nil
	case *HashMap:
		if k.IsNil() {
			return v.runtimeErrorf(pc, "hashmap key must not be nil")
		}
		o.Set(k.Retain(), val.Retain())
		return nil
	case *String:
		return v.runtimeErrorf(pc, "cannot assign to character of immutable string")
	}
	return v.runtimeErrorf(pc, "cannot index value of type %s", c.TypeName())
}
