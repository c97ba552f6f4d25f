package stdlib

import (
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/h2co3/sparkling/vm"
)

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func ioFuncs(w io.Writer) []vm.LibraryFunc {
	write := func(args []vm.Value, newline bool) int {
		var sb strings.Builder
		for _, a := range args {
			sb.WriteString(a.String())
		}
		if newline {
			sb.WriteByte('\n')
		}
		if _, err := io.WriteString(w, sb.String()); err != nil {
			log.Warningf("print: %v", err)
		}
		return 0
	}
	return []vm.LibraryFunc{
		// print(...) - writes its arguments without separators
		{Name: "print", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			return write(args, false)
		}},
		// println(...) - like print, then a newline
		{Name: "println", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			return write(args, true)
		}},
	}
}

// ---------------------------------------------------------------------------
// Conversions
// ---------------------------------------------------------------------------

func convFuncs() []vm.LibraryFunc {
	return []vm.LibraryFunc{
		// tostring(v) - the printed form of any value
		{Name: "tostring", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 1); st != 0 {
				return st
			}
			*ret = vm.NewString(args[0].String())
			return 0
		}},
		// toint(v) - truncates floats, parses strings (0x, 0o, 0b prefixes allowed)
		{Name: "toint", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 1); st != 0 {
				return st
			}
			n, st := toInt(ctx, args[0])
			if st != 0 {
				return st
			}
			*ret = vm.Int(n)
			return 0
		}},
		// tofloat(v) - converts numbers and parses strings
		{Name: "tofloat", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 1); st != 0 {
				return st
			}
			v := args[0]
			switch {
			case v.IsNumber():
				*ret = vm.Float(v.Number())
			case v.IsString():
				f, err := strconv.ParseFloat(strings.TrimSpace(v.AsString()), 64)
				if err != nil {
					return fail(ctx, StatusArgType, "cannot convert %q to float", v.AsString())
				}
				*ret = vm.Float(f)
			default:
				return fail(ctx, StatusArgType, "cannot convert %s to float", v.TypeName())
			}
			return 0
		}},
	}
}

func toInt(ctx *vm.VM, v vm.Value) (int64, int) {
	switch {
	case v.IsInt():
		return v.AsInt(), 0
	case v.IsFloat():
		f := v.AsFloat()
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, fail(ctx, StatusRange, "%v does not fit an integer", f)
		}
		return int64(f), 0
	case v.IsString():
		s := strings.TrimSpace(v.AsString())
		if n, err := strconv.ParseInt(s, 0, 64); err == nil {
			return n, 0
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return toInt(ctx, vm.Float(f))
		}
		return 0, fail(ctx, StatusArgType, "cannot convert %q to integer", s)
	}
	return 0, fail(ctx, StatusArgType, "cannot convert %s to integer", v.TypeName())
}
