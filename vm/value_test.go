package vm

import (
	"math"
	"testing"
)

func TestValueEquality(t *testing.T) {
	s1, s2 := NewString("abc"), NewString("abc")
	a1, a2 := NewArray(), NewArray()
	defer func() {
		for _, v := range []Value{s1, s2, a1, a2} {
			v.Release()
		}
	}()

	tests := []struct {
		a, b Value
		want bool
	}{
		{Nil, Nil, true},
		{Nil, False, false},
		{True, True, true},
		{Int(1), Float(1), true},
		{Int(1), Float(1.5), false},
		{Float(math.NaN()), Float(math.NaN()), false},
		{s1, s2, true},
		{s1, Int(0), false},
		{a1, a1, true},
		{a1, a2, false},
	}
	for i, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("case %d: Equal(%v, %v) = %v, want %v", i, tt.a, tt.b, got, tt.want)
		}
	}
}

func TestValueFormatting(t *testing.T) {
	arr := NewArray()
	defer arr.Release()
	arr.AsArray().Push(Int(1))
	arr.AsArray().Push(NewString("x"))
	arr.AsArray().Push(Float(2))

	tests := []struct {
		v    Value
		want string
		typ  string
	}{
		{Nil, "nil", "nil"},
		{True, "true", "bool"},
		{Int(-3), "-3", "number"},
		{Float(2), "2.0", "number"},
		{Float(0.25), "0.25", "number"},
		{Float(math.Inf(1)), "+Inf", "number"},
		{arr, `[1, "x", 2.0]`, "array"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
		if got := tt.v.TypeName(); got != tt.typ {
			t.Errorf("%s: TypeName() = %q, want %q", tt.want, got, tt.typ)
		}
	}
}

func TestHashMapKeys(t *testing.T) {
	hv := NewHashMap()
	defer hv.Release()
	h := hv.AsHashMap()

	h.Set(Int(1), NewString("one"))
	h.Set(NewString("k"), Int(2))

	if got := h.Get(Float(1)); got.AsString() != "one" {
		t.Errorf("integral float key found %v, want \"one\"", got)
	}
	key := NewString("k")
	if got := h.Get(key); got.AsInt() != 2 {
		t.Errorf("string key found %v, want 2", got)
	}
	key.Release()

	// Overwriting keeps the insertion position.
	h.Set(Int(1), Int(10))
	var order []string
	h.Each(func(k, v Value) { order = append(order, k.String()+"="+v.String()) })
	if len(order) != 2 || order[0] != "1=10" || order[1] != "k=2" {
		t.Errorf("order = %v", order)
	}

	h.Set(Int(1), Nil)
	if h.Len() != 1 || !h.Get(Int(1)).IsNil() {
		t.Errorf("nil did not delete: %v", h)
	}
}

func TestArraySetAppendsAtLength(t *testing.T) {
	av := NewArray()
	defer av.Release()
	a := av.AsArray()

	a.Set(0, Int(1))
	a.Set(1, Int(2))
	a.Set(0, Int(5))
	if a.Len() != 2 || a.Get(0).AsInt() != 5 {
		t.Errorf("array = %v", a)
	}
	v, ok := a.Pop()
	if !ok || v.AsInt() != 2 || a.Len() != 1 {
		t.Errorf("Pop() = %v, %v; len %d", v, ok, a.Len())
	}
}

func TestReleaseOfDeadObjectPanics(t *testing.T) {
	s := NewString("gone")
	s.Release()
	defer func() {
		if recover() == nil {
			t.Error("expected panic on double release")
		}
	}()
	s.Release()
}

func TestRawPtrIsNotAnObject(t *testing.T) {
	arr, hm := NewArray(), NewHashMap()
	fn := NewNative("f", func(ret *Value, args []Value, ctx *VM) int { return 0 })
	defer func() {
		for _, v := range []Value{arr, hm, fn} {
			v.Release()
		}
	}()

	tests := []struct {
		name string
		v    Value
	}{
		{"array", RawPtr(arr.AsArray())},
		{"hashmap", RawPtr(hm.AsHashMap())},
		{"function", RawPtr(fn.AsFunction())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.v.AsArray() != nil || tt.v.AsHashMap() != nil || tt.v.AsFunction() != nil {
				t.Errorf("accessor returned an object for a raw pointer")
			}
			if tt.v.IsFunction() || tt.v.Object() != nil {
				t.Errorf("raw pointer reported as an object")
			}
			if got := tt.v.TypeName(); got != "rawptr" {
				t.Errorf("TypeName = %q, want rawptr", got)
			}
		})
	}
}
