// Package stdlib is the Sparkling runtime library: a handful of native
// functions registered into a VM as globals and namespaced hashmaps.
package stdlib

import (
	"fmt"
	"io"

	"github.com/h2co3/sparkling/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("sparkling.stdlib")

// Status codes returned by library natives. The VM reports them as
// "error in function '<name>' (code N)".
const (
	StatusArgCount = 1
	StatusArgType  = 2
	StatusRange    = 3
	StatusCallback = 4
)

// Load registers the whole library in v. print and println write to w.
func Load(v *vm.VM, w io.Writer) error {
	libs := []struct {
		name string
		fns  []vm.LibraryFunc
	}{
		{"", ioFuncs(w)},
		{"", convFuncs()},
		{"array", arrayFuncs()},
		{"hashmap", hashmapFuncs()},
		{"string", stringFuncs()},
		{"math", mathFuncs()},
	}
	n := 0
	for _, lib := range libs {
		if err := v.RegisterLibrary(lib.name, lib.fns); err != nil {
			return fmt.Errorf("stdlib: register %q: %w", lib.name, err)
		}
		n += len(lib.fns)
	}
	if err := v.RegisterValues("math", mathValues()); err != nil {
		return fmt.Errorf("stdlib: register math constants: %w", err)
	}
	log.Debugf("registered %d library functions", n)
	return nil
}

// ---------------------------------------------------------------------------
// Argument checking
// ---------------------------------------------------------------------------

func fail(ctx *vm.VM, status int, format string, args ...any) int {
	ctx.SetErrorf(format, args...)
	return status
}

// arity returns a non-zero status unless at least n arguments were passed.
func arity(ctx *vm.VM, args []vm.Value, n int) int {
	if len(args) < n {
		return fail(ctx, StatusArgCount, "expected %d argument(s), got %d", n, len(args))
	}
	return 0
}

func argArray(ctx *vm.VM, args []vm.Value, i int) (*vm.Array, int) {
	a := args[i].AsArray()
	if a == nil {
		return nil, fail(ctx, StatusArgType, "argument %d must be an array, got %s", i+1, args[i].TypeName())
	}
	return a, 0
}

func argString(ctx *vm.VM, args []vm.Value, i int) (string, int) {
	if !args[i].IsString() {
		return "", fail(ctx, StatusArgType, "argument %d must be a string, got %s", i+1, args[i].TypeName())
	}
	return args[i].AsString(), 0
}

func argInt(ctx *vm.VM, args []vm.Value, i int) (int64, int) {
	if !args[i].IsInt() {
		return 0, fail(ctx, StatusArgType, "argument %d must be an integer, got %s", i+1, args[i].TypeName())
	}
	return args[i].AsInt(), 0
}

func argNumber(ctx *vm.VM, args []vm.Value, i int) (float64, int) {
	if !args[i].IsNumber() {
		return 0, fail(ctx, StatusArgType, "argument %d must be a number, got %s", i+1, args[i].TypeName())
	}
	return args[i].Number(), 0
}
