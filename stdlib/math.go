package stdlib

import (
	"math"

	"github.com/h2co3/sparkling/vm"
)

// ---------------------------------------------------------------------------
// Math
// ---------------------------------------------------------------------------

func mathValues() []vm.LibraryValue {
	return []vm.LibraryValue{
		{Name: "pi", Value: vm.Float(math.Pi)},
		{Name: "e", Value: vm.Float(math.E)},
	}
}

// floatFunc wraps a float64 -> float64 function as a one-argument native.
func floatFunc(name string, fn func(float64) float64) vm.LibraryFunc {
	return vm.LibraryFunc{Name: name, Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
		if st := arity(ctx, args, 1); st != 0 {
			return st
		}
		x, st := argNumber(ctx, args, 0)
		if st != 0 {
			return st
		}
		*ret = vm.Float(fn(x))
		return 0
	}}
}

// roundFunc keeps integers as they are and rounds floats with fn.
func roundFunc(name string, fn func(float64) float64) vm.LibraryFunc {
	return vm.LibraryFunc{Name: name, Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
		if st := arity(ctx, args, 1); st != 0 {
			return st
		}
		if args[0].IsInt() {
			*ret = args[0]
			return 0
		}
		x, st := argNumber(ctx, args, 0)
		if st != 0 {
			return st
		}
		*ret = vm.Float(fn(x))
		return 0
	}}
}

func mathFuncs() []vm.LibraryFunc {
	return []vm.LibraryFunc{
		floatFunc("sqrt", math.Sqrt),
		floatFunc("sin", math.Sin),
		floatFunc("cos", math.Cos),
		floatFunc("exp", math.Exp),
		floatFunc("log", math.Log),
		roundFunc("floor", math.Floor),
		roundFunc("ceil", math.Ceil),
		// abs(x) - same kind as x; abs of the minimum integer wraps
		{Name: "abs", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 1); st != 0 {
				return st
			}
			if args[0].IsInt() {
				n := args[0].AsInt()
				if n < 0 {
					n = -n
				}
				*ret = vm.Int(n)
				return 0
			}
			x, st := argNumber(ctx, args, 0)
			if st != 0 {
				return st
			}
			*ret = vm.Float(math.Abs(x))
			return 0
		}},
		// pow(x, y) - integer when both are integers and y >= 0
		{Name: "pow", Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			if st := arity(ctx, args, 2); st != 0 {
				return st
			}
			if args[0].IsInt() && args[1].IsInt() && args[1].AsInt() >= 0 {
				*ret = vm.Int(ipow(args[0].AsInt(), args[1].AsInt()))
				return 0
			}
			x, st := argNumber(ctx, args, 0)
			if st != 0 {
				return st
			}
			y, st := argNumber(ctx, args, 1)
			if st != 0 {
				return st
			}
			*ret = vm.Float(math.Pow(x, y))
			return 0
		}},
	}
}

// ipow computes base**exp with wrap-around, by squaring.
func ipow(base, exp int64) int64 {
	result := int64(1)
	for exp > 0 {
		if exp&1 == 1 {
			result *= base
		}
		base *= base
		exp >>= 1
	}
	return result
}
