package stdlib

import (
	"strings"

	"github.com/h2co3/sparkling/vm"
)

// ---------------------------------------------------------------------------
// Arrays
// ---------------------------------------------------------------------------

func arrayFuncs() []vm.LibraryFunc {
	return []vm.LibraryFunc{
		// push(a, v...) - appends values, returns the new length
		{Name: "push", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 1); st != 0 {
				return st
			}
			a, st := argArray(ctx, args, 0)
			if st != 0 {
				return st
			}
			for _, v := range args[1:] {
				if v.IsNil() {
					return fail(ctx, StatusArgType, "cannot push nil")
				}
				a.Push(v.Retain())
			}
			*ret = vm.Int(int64(a.Len()))
			return 0
		}},
		// pop(a) - removes and returns the last element, nil when empty
		{Name: "pop", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 1); st != 0 {
				return st
			}
			a, st := argArray(ctx, args, 0)
			if st != 0 {
				return st
			}
			if v, ok := a.Pop(); ok {
				*ret = v
			}
			return 0
		}},
		// join(a, sep) - concatenates printed elements
		{Name: "join", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 1); st != 0 {
				return st
			}
			a, st := argArray(ctx, args, 0)
			if st != 0 {
				return st
			}
			sep := ""
			if len(args) > 1 {
				if sep, st = argString(ctx, args, 1); st != 0 {
					return st
				}
			}
			parts := make([]string, a.Len())
			for i := range parts {
				parts[i] = a.Get(i).String()
			}
			*ret = vm.NewString(strings.Join(parts, sep))
			return 0
		}},
		// map(a, f) - new array of f(element, index)
		{Name: "map", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 2); st != 0 {
				return st
			}
			a, st := argArray(ctx, args, 0)
			if st != 0 {
				return st
			}
			if !args[1].IsFunction() {
				return fail(ctx, StatusArgType, "argument 2 must be a function, got %s", args[1].TypeName())
			}
			out := vm.NewArray()
			dst := out.AsArray()
			// f may change a, so the length is re-read on every step.
			for i := 0; i < a.Len(); i++ {
				elem := a.Get(i).Retain()
				res, err := ctx.Call(args[1], elem, vm.Int(int64(i)))
				elem.Release()
				if err != nil {
					out.Release()
					return fail(ctx, StatusCallback, "callback failed at index %d: %v", i, err)
				}
				dst.Push(res)
			}
			*ret = out
			return 0
		}},
	}
}

// ---------------------------------------------------------------------------
// Hashmaps
// ---------------------------------------------------------------------------

func hashmapFuncs() []vm.LibraryFunc {
	collect := func(ret *vm.Value, args []vm.Value, ctx *vm.VM, keys bool) int {
		if st := arity(ctx, args, 1); st != 0 {
			return st
		}
		h := args[0].AsHashMap()
		if h == nil {
			return fail(ctx, StatusArgType, "argument 1 must be a hashmap, got %s", args[0].TypeName())
		}
		out := vm.NewArray()
		dst := out.AsArray()
		h.Each(func(k, v vm.Value) {
			if keys {
				dst.Push(k.Retain())
			} else {
				dst.Push(v.Retain())
			}
		})
		*ret = out
		return 0
	}
	return []vm.LibraryFunc{
		// keys(h) - array of keys in insertion order
		{Name: "keys", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			return collect(ret, args, ctx, true)
		}},
		// values(h) - array of values in insertion order
		{Name: "values", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			return collect(ret, args, ctx, false)
		}},
	}
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func stringFuncs() []vm.LibraryFunc {
	return []vm.LibraryFunc{
		// substr(s, i, n) - n bytes starting at i
		{Name: "substr", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 3); st != 0 {
				return st
			}
			s, st := argString(ctx, args, 0)
			if st != 0 {
				return st
			}
			i, st := argInt(ctx, args, 1)
			if st != 0 {
				return st
			}
			n, st := argInt(ctx, args, 2)
			if st != 0 {
				return st
			}
			if i < 0 || n < 0 || i > int64(len(s)) || n > int64(len(s))-i {
				return fail(ctx, StatusRange, "substring [%d, %d+%d) out of range (length %d)", i, i, n, len(s))
			}
			*ret = vm.NewString(s[i : i+n])
			return 0
		}},
		// repeat(s, n) - s concatenated n times
		{Name: "repeat", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 2); st != 0 {
				return st
			}
			s, st := argString(ctx, args, 0)
			if st != 0 {
				return st
			}
			n, st := argInt(ctx, args, 1)
			if st != 0 {
				return st
			}
			if n < 0 || (len(s) > 0 && n > int64(1<<30/len(s))) {
				return fail(ctx, StatusRange, "repeat count %d out of range", n)
			}
			*ret = vm.NewString(strings.Repeat(s, int(n)))
			return 0
		}},
		// find(s, sub) - byte index of sub in s, or -1
		{Name: "find", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 2); st != 0 {
				return st
			}
			s, st := argString(ctx, args, 0)
			if st != 0 {
				return st
			}
			sub, st := argString(ctx, args, 1)
			if st != 0 {
				return st
			}
			*ret = vm.Int(int64(strings.Index(s, sub)))
			return 0
		}},
		// split(s, sep) - array of substrings
		{Name: "split", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 2); st != 0 {
				return st
			}
			s, st := argString(ctx, args, 0)
			if st != 0 {
				return st
			}
			sep, st := argString(ctx, args, 1)
			if st != 0 {
				return st
			}
			out := vm.NewArray()
			for _, part := range strings.Split(s, sep) {
				out.AsArray().Push(vm.NewString(part))
			}
			*ret = out
			return 0
		}},
	}
}
