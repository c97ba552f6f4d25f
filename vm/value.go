package vm

import (
	"fmt"
	"math"
	"strconv"
)

// Kind identifies which member of the Value union is populated.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindRawPtr
	KindObject
)

var kindNames = [...]string{
	KindNil:    "nil",
	KindBool:   "bool",
	KindInt:    "int",
	KindFloat:  "float",
	KindRawPtr: "rawptr",
	KindObject: "object",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is a Sparkling value.
//
// Scalars (nil, booleans, integers and floats) are stored inline in bits.
// A raw pointer carries an arbitrary host value that the VM never owns.
// An object Value owns exactly one reference to its Object: copying it into
// a new home requires Retain, dropping it requires Release.
type Value struct {
	kind Kind
	bits uint64
	ref  any
}

// Pre-defined scalar values.
var (
	Nil   = Value{}
	True  = Value{kind: KindBool, bits: 1}
	False = Value{kind: KindBool}
)

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// Bool returns True or False.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Int creates an integer Value.
func Int(n int64) Value {
	return Value{kind: KindInt, bits: uint64(n)}
}

// Float creates a floating-point Value.
func Float(f float64) Value {
	return Value{kind: KindFloat, bits: math.Float64bits(f)}
}

// RawPtr wraps a host value the VM does not own or inspect.
func RawPtr(p any) Value {
	return Value{kind: KindRawPtr, ref: p}
}

// FromObject wraps an object. The returned Value takes over one reference
// held by the caller; no retain is performed.
func FromObject(o Object) Value {
	if o == nil {
		return Nil
	}
	return Value{kind: KindObject, ref: o}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Kind returns the union tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsInt() bool    { return v.kind == KindInt }
func (v Value) IsFloat() bool  { return v.kind == KindFloat }
func (v Value) IsRawPtr() bool { return v.kind == KindRawPtr }
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsNumber reports whether v is an integer or a float.
func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// IsString reports whether v holds a *String.
func (v Value) IsString() bool {
	_, ok := v.ref.(*String)
	return ok && v.kind == KindObject
}

// IsFunction reports whether v holds a *Function.
func (v Value) IsFunction() bool {
	_, ok := v.ref.(*Function)
	return ok && v.kind == KindObject
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// AsBool returns the boolean payload.
// Panics if v is not a boolean.
func (v Value) AsBool() bool {
	if v.kind != KindBool {
		panic("Value.AsBool: not a boolean")
	}
	return v.bits != 0
}

// AsInt returns the integer payload.
// Panics if v is not an integer.
func (v Value) AsInt() int64 {
	if v.kind != KindInt {
		panic("Value.AsInt: not an integer")
	}
	return int64(v.bits)
}

// AsFloat returns the float payload.
// Panics if v is not a float.
func (v Value) AsFloat() float64 {
	if v.kind != KindFloat {
		panic("Value.AsFloat: not a float")
	}
	return math.Float64frombits(v.bits)
}

// Number returns a numeric value as float64, converting integers.
func (v Value) Number() float64 {
	switch v.kind {
	case KindInt:
		return float64(int64(v.bits))
	case KindFloat:
		return math.Float64frombits(v.bits)
	}
	panic("Value.Number: not a number")
}

// AsRawPtr returns the host pointer carried by a raw pointer value.
func (v Value) AsRawPtr() any {
	if v.kind != KindRawPtr {
		panic("Value.AsRawPtr: not a raw pointer")
	}
	return v.ref
}

// Object returns the referenced object, or nil for non-object values.
func (v Value) Object() Object {
	if v.kind != KindObject {
		return nil
	}
	return v.ref.(Object)
}

// AsString returns the Go string of a string value.
// Panics if v is not a string.
func (v Value) AsString() string {
	s, ok := v.ref.(*String)
	if !ok || v.kind != KindObject {
		panic("Value.AsString: not a string")
	}
	return s.s
}

// AsArray returns the array object or nil.
func (v Value) AsArray() *Array {
	if v.kind != KindObject {
		return nil
	}
	a, _ := v.ref.(*Array)
	return a
}

// AsHashMap returns the hashmap object or nil.
func (v Value) AsHashMap() *HashMap {
	if v.kind != KindObject {
		return nil
	}
	h, _ := v.ref.(*HashMap)
	return h
}

// AsFunction returns the function object or nil.
func (v Value) AsFunction() *Function {
	if v.kind != KindObject {
		return nil
	}
	f, _ := v.ref.(*Function)
	return f
}

// ---------------------------------------------------------------------------
// Ownership
// ---------------------------------------------------------------------------

// Retain adds a reference if v is an object and returns v, so that
// `dst = src.Retain()` reads naturally.
func (v Value) Retain() Value {
	if v.kind == KindObject {
		v.ref.(Object).Retain()
	}
	return v
}

// Release drops the reference held by v, if any.
func (v Value) Release() {
	if v.kind == KindObject {
		v.ref.(Object).Release()
	}
}

// ---------------------------------------------------------------------------
// Reflection and formatting
// ---------------------------------------------------------------------------

// TypeName returns the name reported by the typeof operator.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return "bool"
	case KindInt, KindFloat:
		return "number"
	case KindRawPtr:
		return "rawptr"
	case KindObject:
		return v.ref.(Object).Class().Name
	}
	return "unknown"
}

// String formats v for printing. Strings are printed without quotes.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		if v.bits != 0 {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindFloat:
		return formatFloat(math.Float64frombits(v.bits))
	case KindRawPtr:
		return fmt.Sprintf("<rawptr %p>", v.ref)
	case KindObject:
		return v.ref.(Object).String()
	}
	return "<invalid>"
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !math.IsInf(f, 0) && !math.IsNaN(f) {
		for _, c := range s {
			if c == '.' || c == 'e' || c == 'E' {
				return s
			}
		}
		s += ".0"
	}
	return s
}

// Equal implements the == operator. It never fails: values of unrelated
// kinds are simply unequal.
func Equal(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		if a.kind == KindInt && b.kind == KindInt {
			return a.bits == b.bits
		}
		return a.Number() == b.Number()
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNil:
		return true
	case KindBool:
		return a.bits == b.bits
	case KindRawPtr:
		return a.ref == b.ref
	case KindObject:
		oa, ob := a.ref.(Object), b.ref.(Object)
		if oa == ob {
			return true
		}
		if oa.Class() != ob.Class() || oa.Class().Equal == nil {
			return false
		}
		return oa.Class().Equal(oa, ob)
	}
	return false
}
