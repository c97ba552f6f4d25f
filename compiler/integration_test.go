package compiler

import (
	"errors"
	"strings"
	"testing"

	"github.com/h2co3/sparkling/vm"
)

// run compiles and executes src on a fresh VM.
func run(t *testing.T, src string, args ...vm.Value) vm.Value {
	t.Helper()
	res, err := tryRun(t, src, args...)
	if err != nil {
		t.Fatalf("run failed: %v\nsource:\n%s", err, src)
	}
	return res
}

func tryRun(t *testing.T, src string, args ...vm.Value) (vm.Value, error) {
	t.Helper()
	unit, err := Compile(src)
	if err != nil {
		t.Fatalf("compile failed: %v\nsource:\n%s", err, src)
	}
	machine := vm.NewVM()
	t.Cleanup(machine.Close)
	return machine.Execute(unit.Words, "test", args...)
}

func expectInt(t *testing.T, src string, want int64) {
	t.Helper()
	res := run(t, src)
	if !res.IsInt() || res.AsInt() != want {
		t.Errorf("result = %v (%s), want %d\nsource:\n%s", res, res.TypeName(), want, src)
	}
}

func TestIntegrationFactorial(t *testing.T) {
	expectInt(t, `
fn fact(n) {
	if n < 2 { return 1; }
	return n * fact(n - 1);
}
return fact(10);
`, 3628800)
}

func TestIntegrationFibonacci(t *testing.T) {
	expectInt(t, `
fn fib(n) {
	let a = 0, b = 1;
	for let i = 0; i < n; i++ {
		let t = a + b;
		a = b;
		b = t;
	}
	return a;
}
return fib(30);
`, 832040)
}

func TestIntegrationClosureCapturesLocals(t *testing.T) {
	expectInt(t, `
let x = 1;
let y = 2;
let f = fn () { return x + y; };
return f();
`, 3)
}

func TestIntegrationCounterClosure(t *testing.T) {
	expectInt(t, `
fn counter() {
	let n = 0;
	return fn () { return ++n; };
}
let c = counter();
c();
c();
return c();
`, 3)
}

func TestIntegrationIndependentCounters(t *testing.T) {
	expectInt(t, `
fn counter() {
	let n = 0;
	return fn () { n += 1; return n; };
}
let a = counter();
let b = counter();
a(); a(); a();
b();
return a() * 10 + b();
`, 42)
}

func TestIntegrationNestedUpvalueAliasing(t *testing.T) {
	// Both inner closures see the same cell two levels up.
	expectInt(t, `
fn outer() {
	let v = 1;
	let get, set;
	let middle = fn () {
		get = fn () { return v; };
		set = fn (x) { v = x; };
	};
	middle();
	set(41);
	v++;
	return get();
}
return outer();
`, 42)
}

func TestIntegrationClosedCellSurvivesFrame(t *testing.T) {
	expectInt(t, `
fn make() {
	let cells = [];
	for let i = 0; i < 3; i++ {
		let j = i * 10;
		cells[#cells] = fn () { return j; };
	}
	return cells;
}
let cs = make();
return cs[0]() + cs[1]() + cs[2]();
`, 30)
}

func TestIntegrationBreakContinue(t *testing.T) {
	expectInt(t, `
let sum = 0;
for let i = 0; i < 100; i++ {
	if i % 2 == 1 { continue; }
	if i > 10 { break; }
	if i == 99 { break; }
	sum += i;
}
return sum;
`, 30)
}

func TestIntegrationNestedLoopsTargetInnermost(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want int64
	}{
		{
			name: "while inside for",
			src: `
let total = 0;
for let i = 0; i < 3; i++ {
	let j = 0;
	while true {
		j++;
		if j == 2 { continue; }
		if j > 3 { break; }
		total += 1;
	}
	total += 100;
}
return total;
`,
			want: 306,
		},
		{
			name: "do while inside for with outer break",
			src: `
let n = 0;
for let i = 0; i < 10; i++ {
	if i == 3 { break; }
	let k = 0;
	do {
		k++;
		if k == 1 { continue; }
		n += k;
		if k == 3 { break; }
	} while k < 10;
	n += 1000;
}
return n;
`,
			want: 3015,
		},
		{
			name: "outer continue skips inner loop",
			src: `
let n = 0;
let i = 0;
while i < 4 {
	i++;
	if i % 2 == 0 { continue; }
	for let j = 0; j < 5; j++ {
		if j == 2 { break; }
		n += 10;
	}
	n += 1;
}
return n;
`,
			want: 42,
		},
		{
			name: "inner break closes captured variables",
			src: `
let fs = [];
for let i = 0; i < 3; i++ {
	for let j = 0; j < 10; j++ {
		let v = i * 10 + j;
		if j == 1 {
			fs[#fs] = fn () { return v; };
			break;
		}
	}
}
return fs[0]() + fs[1]() + fs[2]();
`,
			want: 33,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectInt(t, tt.src, tt.want)
		})
	}
}

func TestIntegrationWhileAndDoWhile(t *testing.T) {
	expectInt(t, `
let n = 0, k = 0;
while n < 5 { n++; }
do { k += 2; } while k < 7;
do { k++; } while false;
return n * 100 + k;
`, 509)
}

func TestIntegrationMissingArgumentsAreNil(t *testing.T) {
	res := run(t, `
fn f(a, b, c) { return c == nil && b == nil; }
return f(1);
`)
	if !res.IsBool() || !res.AsBool() {
		t.Errorf("result = %v, want true", res)
	}
}

func TestIntegrationExtraArguments(t *testing.T) {
	expectInt(t, `
fn sum(first) {
	let total = first;
	for let i = 0; i < argc - 1; i++ {
		total += $[i];
	}
	return total;
}
return sum(1, 2, 3, 4);
`, 10)
}

func TestIntegrationExtraArgumentOutOfBounds(t *testing.T) {
	_, err := tryRun(t, `
fn f(a) { return $[1]; }
return f(1, 2);
`)
	if err == nil {
		t.Fatal("expected runtime error")
	}
	if !strings.Contains(err.Error(), "out of bounds") {
		t.Errorf("error = %v", err)
	}
}

func TestIntegrationArithmetic(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"return 1 + 2 * 3;", "7"},
		{"return 7 / 2;", "3"},
		{"return 7.0 / 2;", "3.5"},
		{"return 1 + 1.5;", "2.5"},
		{"return -7 % 3;", "-1"},
		{"return 1 << 4 | 1;", "17"},
		{"return ~0;", "-1"},
		{"return 0xff & 0x0f ^ 1;", "14"},
		{"return 9223372036854775807 + 1;", "-9223372036854775808"},
		{"return 2.0 * 3;", "6.0"},
		{`return "foo" .. "bar";`, "foobar"},
		{`return #"hello";`, "5"},
		{"return #[1, 2, 3];", "3"},
		{"return 3 > 2 ? 10 : 20;", "10"},
		{"return 1 == 1.0;", "true"},
		{"return !(1 < 2);", "false"},
		{"let nan = 0.0 / 0.0; return nan < 1 || nan <= 1 || nan > 1 || 1 >= nan;", "false"},
		{"let nan = 0.0 / 0.0; return nan < nan || nan == nan;", "false"},
		{"let nan = 0.0 / 0.0; return !(nan < 1) && !(nan >= 1);", "true"},
		{`return typeof 1.5;`, "number"},
		{`return typeof nil;`, "nil"},
		{`return typeof {};`, "hashmap"},
		{`return typeof fn () {};`, "function"},
	}

	for _, tc := range tests {
		res := run(t, tc.src)
		if got := res.String(); got != tc.want {
			t.Errorf("%s => %s, want %s", tc.src, got, tc.want)
		}
		res.Release()
	}
}

func TestIntegrationShortCircuit(t *testing.T) {
	expectInt(t, `
let calls = 0;
let bump = fn () { calls++; return true; };
let a = false && bump();
let b = true || bump();
let c = true && bump();
return calls;
`, 1)
}

func TestIntegrationArraysAndHashes(t *testing.T) {
	expectInt(t, `
let a = [1, 2, 3];
a[1] = 20;
a[#a] = 4;
let h = { "x": 10, 2: 5 };
h.y = 7;
h["x"] += 1;
a[0]++;
return a[0] + a[1] + a[2] + a[3] + h.x + h[2] + h.y + #h;
`, 2+20+3+4+11+5+7+3)
}

func TestIntegrationHashNilDeletes(t *testing.T) {
	expectInt(t, `
let h = { "a": 1, "b": 2 };
h.a = nil;
return #h * 10 + (h.a == nil ? 1 : 0);
`, 11)
}

func TestIntegrationGlobals(t *testing.T) {
	expectInt(t, `
global base = 40;
fn add(x) { return base + x; }
return add(2);
`, 42)
}

func TestIntegrationPostfixYieldsOldValue(t *testing.T) {
	expectInt(t, `
let i = 5;
let j = i++;
let k = ++i;
return j * 10 + k;
`, 57)
}

func TestIntegrationRecursiveLocalFunction(t *testing.T) {
	expectInt(t, `
fn wrap(n) {
	fn down(k) { return k == 0 ? 0 : 1 + down(k - 1); }
	return down(n);
}
return wrap(6);
`, 6)
}

func TestIntegrationProgramArguments(t *testing.T) {
	unit, err := Compile("return argc * 100 + $[0] + $[1];")
	if err != nil {
		t.Fatal(err)
	}
	machine := vm.NewVM()
	defer machine.Close()
	res, err := machine.Execute(unit.Words, "args", vm.Int(3), vm.Int(4))
	if err != nil {
		t.Fatal(err)
	}
	if res.AsInt() != 207 {
		t.Errorf("result = %v, want 207", res)
	}
}

func TestIntegrationRuntimeErrors(t *testing.T) {
	tests := []struct {
		src string
		msg string
	}{
		{"return 1 / 0;", "division by zero"},
		{"return 1 % 0;", "modulo by zero"},
		{"return 1.5 % 2;", "modulo of non-integer"},
		{`return 1 + "a";`, "addition of non-number"},
		{"return undefined_name;", "global 'undefined_name' does not exist"},
		{"let x = 1; return x();", "attempt to call non-function"},
		{"if 1 { return 1; }", "condition must be a boolean"},
		{"return [1][5];", "out of bounds"},
		{"return 1 << -1;", "negative shift"},
		{"fn f() { return f(); } return f();", "stack overflow"},
	}

	for _, tc := range tests {
		_, err := tryRun(t, tc.src)
		if err == nil {
			t.Errorf("%s: expected error", tc.src)
			continue
		}
		var rerr *vm.RuntimeError
		if !errors.As(err, &rerr) {
			t.Errorf("%s: error %T is not a runtime error", tc.src, err)
			continue
		}
		if !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("%s: error %q does not mention %q", tc.src, err, tc.msg)
		}
	}
}

func TestIntegrationDuplicateGlobalAtRunTime(t *testing.T) {
	unit, err := Compile("global g = 1;")
	if err != nil {
		t.Fatal(err)
	}
	machine := vm.NewVM()
	defer machine.Close()
	if _, err := machine.Execute(unit.Words, "first"); err != nil {
		t.Fatal(err)
	}
	_, err = machine.Execute(unit.Words, "second")
	if err == nil || !strings.Contains(err.Error(), "re-definition of global 'g'") {
		t.Errorf("error = %v", err)
	}
}

func TestIntegrationNativeCall(t *testing.T) {
	unit, err := Compile(`return twice(21);`)
	if err != nil {
		t.Fatal(err)
	}
	machine := vm.NewVM()
	defer machine.Close()
	err = machine.RegisterLibrary("", []vm.LibraryFunc{{
		Name: "twice",
		Fn: func(ret *vm.Value, args []vm.Value, ctx *vm.VM) int {
			*ret = vm.Int(args[0].AsInt() * 2)
			return 0
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	res, err := machine.Execute(unit.Words, "native")
	if err != nil {
		t.Fatal(err)
	}
	if res.AsInt() != 42 {
		t.Errorf("result = %v", res)
	}
}

func TestIntegrationVMReusableAfterError(t *testing.T) {
	machine := vm.NewVM()
	defer machine.Close()

	bad, err := Compile("fn boom() { return 1 / 0; } return boom();")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := machine.Execute(bad.Words, "bad"); err == nil {
		t.Fatal("expected error")
	}
	if trace := machine.StackTrace(); len(trace) < 2 || trace[0].Function != "boom" {
		t.Errorf("stack trace = %+v", trace)
	}

	good, err := Compile("return 5;")
	if err != nil {
		t.Fatal(err)
	}
	res, err := machine.Execute(good.Words, "good")
	if err != nil {
		t.Fatal(err)
	}
	if res.AsInt() != 5 {
		t.Errorf("result = %v", res)
	}
}
