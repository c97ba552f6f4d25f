package vm

import (
	"fmt"
	"math"
	"strings"
)

// Object is a reference-counted heap value.
//
// A freshly created object has a count of one, owned by whoever created it.
// When the count drops to zero the object releases the values it owns;
// the memory itself is left to the Go collector.
type Object interface {
	Class() *Class
	Retain()
	Release()
	RefCount() int
	String() string
}

// Class is the per-kind descriptor shared by all objects of one type.
type Class struct {
	Name string

	// Equal compares two distinct objects of this class. Nil means identity.
	Equal func(a, b Object) bool

	// Compare orders two objects of this class. Nil means unordered.
	Compare func(a, b Object) int
}

// refCount is embedded in every built-in object.
type refCount struct {
	rc int32
}

func (r *refCount) Retain()       { r.rc++ }
func (r *refCount) RefCount() int { return int(r.rc) }

// drop decrements the count and reports whether it reached zero.
func (r *refCount) drop() bool {
	if r.rc <= 0 {
		panic("vm: release of dead object")
	}
	r.rc--
	return r.rc == 0
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// StringClass describes immutable byte strings.
var StringClass = &Class{
	Name: "string",
	Equal: func(a, b Object) bool {
		return a.(*String).s == b.(*String).s
	},
	Compare: func(a, b Object) int {
		return strings.Compare(a.(*String).s, b.(*String).s)
	},
}

// String is an immutable byte string.
type String struct {
	refCount
	s string
}

// NewString returns a string value with a count of one.
func NewString(s string) Value {
	return FromObject(&String{refCount: refCount{1}, s: s})
}

func (s *String) Class() *Class  { return StringClass }
func (s *String) String() string { return s.s }
func (s *String) Len() int       { return len(s.s) }

func (s *String) Release() { s.drop() }

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

// ArrayClass describes growable arrays.
var ArrayClass = &Class{Name: "array"}

// Array is a growable sequence of owned values.
type Array struct {
	refCount
	items []Value
}

// NewArray returns an empty array value with a count of one.
func NewArray() Value {
	return FromObject(newArray(nil))
}

func newArray(items []Value) *Array {
	return &Array{refCount: refCount{1}, items: items}
}

func (a *Array) Class() *Class { return ArrayClass }
func (a *Array) Len() int      { return len(a.items) }

// Get returns a borrowed element.
func (a *Array) Get(i int) Value { return a.items[i] }

// Set stores an owned value at i, releasing the old element. Setting index
// Len() appends.
func (a *Array) Set(i int, v Value) {
	if i == len(a.items) {
		a.items = append(a.items, v)
		return
	}
	old := a.items[i]
	a.items[i] = v
	old.Release()
}

// Push appends an owned value.
func (a *Array) Push(v Value) { a.items = append(a.items, v) }

// Pop removes the last element and hands its reference to the caller.
func (a *Array) Pop() (Value, bool) {
	n := len(a.items)
	if n == 0 {
		return Nil, false
	}
	v := a.items[n-1]
	a.items[n-1] = Nil
	a.items = a.items[:n-1]
	return v, true
}

func (a *Array) Release() {
	if a.drop() {
		for _, v := range a.items {
			v.Release()
		}
	}
}

func (a *Array) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range a.items {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeElement(&sb, v)
	}
	sb.WriteByte(']')
	return sb.String()
}

func writeElement(sb *strings.Builder, v Value) {
	if v.IsString() {
		fmt.Fprintf(sb, "%q", v.AsString())
		return
	}
	sb.WriteString(v.String())
}

// ---------------------------------------------------------------------------
// Hashmaps
// ---------------------------------------------------------------------------

// HashMapClass describes hashmaps.
var HashMapClass = &Class{Name: "hashmap"}

// hashKey normalizes a Value into a comparable Go map key. Strings hash by
// content, integral floats hash like the equal integer, other objects and
// raw pointers by identity.
type hashKey struct {
	kind Kind
	bits uint64
	str  string
	ref  any
}

func keyOf(v Value) hashKey {
	switch v.kind {
	case KindFloat:
		f := v.AsFloat()
		if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
			return hashKey{kind: KindInt, bits: uint64(int64(f))}
		}
		return hashKey{kind: KindFloat, bits: v.bits}
	case KindObject:
		if s, ok := v.ref.(*String); ok {
			return hashKey{kind: KindObject, str: s.s}
		}
		return hashKey{kind: KindObject, ref: v.ref}
	case KindRawPtr:
		return hashKey{kind: KindRawPtr, ref: v.ref}
	}
	return hashKey{kind: v.kind, bits: v.bits}
}

type hashEntry struct {
	key, val Value
}

// HashMap maps non-nil keys to non-nil values. Iteration follows insertion
// order.
type HashMap struct {
	refCount
	index   map[hashKey]int
	entries []hashEntry
}

// NewHashMap returns an empty hashmap value with a count of one.
func NewHashMap() Value {
	return FromObject(newHashMap())
}

func newHashMap() *HashMap {
	return &HashMap{refCount: refCount{1}, index: make(map[hashKey]int)}
}

func (h *HashMap) Class() *Class { return HashMapClass }
func (h *HashMap) Len() int      { return len(h.entries) }

// Get returns a borrowed value, or Nil for a missing key.
func (h *HashMap) Get(key Value) Value {
	if i, ok := h.index[keyOf(key)]; ok {
		return h.entries[i].val
	}
	return Nil
}

// Set stores owned key and value references. A nil value deletes the key,
// in which case the passed key is released.
func (h *HashMap) Set(key, val Value) {
	k := keyOf(key)
	i, ok := h.index[k]
	if val.IsNil() {
		key.Release()
		if ok {
			h.remove(i)
		}
		return
	}
	if ok {
		old := h.entries[i].val
		h.entries[i].val = val
		old.Release()
		key.Release()
		return
	}
	h.index[k] = len(h.entries)
	h.entries = append(h.entries, hashEntry{key: key, val: val})
}

func (h *HashMap) remove(i int) {
	e := h.entries[i]
	delete(h.index, keyOf(e.key))
	copy(h.entries[i:], h.entries[i+1:])
	h.entries[len(h.entries)-1] = hashEntry{}
	h.entries = h.entries[:len(h.entries)-1]
	for j := i; j < len(h.entries); j++ {
		h.index[keyOf(h.entries[j].key)] = j
	}
	e.key.Release()
	e.val.Release()
}

// Each calls fn with borrowed keys and values in insertion order.
func (h *HashMap) Each(fn func(key, val Value)) {
	for _, e := range h.entries {
		fn(e.key, e.val)
	}
}

func (h *HashMap) Release() {
	if h.drop() {
		for _, e := range h.entries {
			e.key.Release()
			e.val.Release()
		}
	}
}

func (h *HashMap) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, e := range h.entries {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeElement(&sb, e.key)
		sb.WriteString(": ")
		writeElement(&sb, e.val)
	}
	sb.WriteByte('}')
	return sb.String()
}
