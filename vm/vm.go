package vm

import (
	"fmt"
	"sort"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("sparkling.vm")

// Config tunes a VM.
type Config struct {
	// MaxCallDepth bounds the number of live frames.
	MaxCallDepth int
	// InitialStack is the initial number of register slots.
	InitialStack int
}

// DefaultConfig returns the configuration used by NewVM.
func DefaultConfig() Config {
	return Config{MaxCallDepth: 1024, InitialStack: 256}
}

// VM executes Sparkling programs.
//
// A VM is not safe for concurrent use; callers serialize access (see the
// server package's worker). Natives may re-enter the VM through Call.
type VM struct {
	config Config

	stack  []Value
	sp     int
	frames []callFrame
	argBuf []Value

	openUpvals []*upvalue

	globals  map[string]Value
	programs []*Function

	// typeNames caches the strings produced by typeof.
	typeNames map[string]Value

	running   int // nested run loops
	errDetail string
	context   any
}

// NewVM creates a VM with the default configuration.
func NewVM() *VM {
	return NewVMWithConfig(DefaultConfig())
}

// NewVMWithConfig creates a VM. Zero fields take their defaults.
func NewVMWithConfig(cfg Config) *VM {
	def := DefaultConfig()
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = def.MaxCallDepth
	}
	if cfg.InitialStack <= 0 {
		cfg.InitialStack = def.InitialStack
	}
	return &VM{
		config:    cfg,
		stack:     make([]Value, cfg.InitialStack),
		globals:   make(map[string]Value),
		typeNames: make(map[string]Value),
	}
}

// Config returns the VM configuration.
func (v *VM) Config() Config { return v.config }

// SetContext stores an arbitrary host value for natives to retrieve.
func (v *VM) SetContext(ctx any) { v.context = ctx }

// Context returns the value stored by SetContext.
func (v *VM) Context() any { return v.context }

// ---------------------------------------------------------------------------
// Programs
// ---------------------------------------------------------------------------

// Load validates a program and returns its top-level function. The VM keeps
// the program alive until Close; the returned pointer is borrowed.
func (v *VM) Load(words []uint32, name string) (*Function, error) {
	h, err := ParseHeader(words)
	if err != nil {
		return nil, err
	}
	syms, err := ParseSymbols(words)
	if err != nil {
		return nil, err
	}
	if err := checkCode(words, h); err != nil {
		return nil, err
	}

	prog := &Function{
		refCount: refCount{1},
		kind:     FuncProgram,
		name:     name,
		entry:    ProgramHeaderSize,
		nregs:    h.Registers,
		words:    words,
		symtab:   make([]symEntry, len(syms)),
	}
	prog.env = prog
	for i, s := range syms {
		e := symEntry{Symbol: s}
		switch s.Kind {
		case SymString:
			e.val = NewString(s.Name)
		case SymLambda:
			e.val = FromObject(newScript(prog, s.Offset, s.Name))
		}
		prog.symtab[i] = e
	}
	v.programs = append(v.programs, prog)
	log.Debugf("loaded program %q: %d words, %d symbols", name, len(words), len(syms))
	return prog, nil
}

// Execute loads and runs a program, returning its result.
func (v *VM) Execute(words []uint32, name string, args ...Value) (Value, error) {
	prog, err := v.Load(words, name)
	if err != nil {
		return Nil, err
	}
	return v.CallFunction(prog, args...)
}

// Call invokes a function value. The result is owned by the caller.
func (v *VM) Call(fn Value, args ...Value) (Value, error) {
	f := fn.AsFunction()
	if f == nil {
		return Nil, &RuntimeError{Addr: 0, Msg: fmt.Sprintf("attempt to call non-function value of type %s", fn.TypeName())}
	}
	return v.CallFunction(f, args...)
}

// CallFunction invokes f with borrowed args. The result is owned by the
// caller. On failure the frames of the failed call are kept so that
// StackTrace can report them; they are discarded by the next top-level call.
func (v *VM) CallFunction(f *Function, args ...Value) (Value, error) {
	if v.running == 0 {
		v.unwindTo(0)
	}
	if f.kind == FuncNative {
		return v.callNative(f, args, 0)
	}
	if err := v.pushFrame(f, args, -1, -1, 0); err != nil {
		return Nil, err
	}
	return v.run()
}

func (v *VM) callNative(f *Function, args []Value, pc int) (Value, error) {
	depth := len(v.frames)
	var ret Value
	v.errDetail = ""
	status := f.native(&ret, args, v)
	if len(v.frames) > depth {
		v.unwindTo(depth)
	}
	if status != 0 {
		ret.Release()
		return Nil, v.nativeError(pc, f.Name(), status)
	}
	return ret, nil
}

// ---------------------------------------------------------------------------
// Globals
// ---------------------------------------------------------------------------

// defineGlobal stores an owned value. Redefinition is an error.
func (v *VM) defineGlobal(name string, val Value) error {
	if _, exists := v.globals[name]; exists {
		val.Release()
		return fmt.Errorf("re-definition of global '%s'", name)
	}
	v.globals[name] = val
	log.Debugf("defined global %q (%s)", name, val.TypeName())
	return nil
}

// LibraryFunc names one native function of a library.
type LibraryFunc struct {
	Name string
	Fn   NativeFunc
}

// LibraryValue names one constant of a library.
type LibraryValue struct {
	Name  string
	Value Value
}

// RegisterLibrary defines native functions as globals. With an empty
// library name each function becomes a global of its own; otherwise the
// functions are gathered in a hashmap global named library, merging with
// an existing one.
func (v *VM) RegisterLibrary(library string, fns []LibraryFunc) error {
	vals := make([]LibraryValue, len(fns))
	for i, f := range fns {
		name := f.Name
		if library != "" {
			name = library + "." + f.Name
		}
		vals[i] = LibraryValue{Name: f.Name, Value: NewNative(name, f.Fn)}
	}
	err := v.registerValues(library, vals)
	for _, lv := range vals {
		lv.Value.Release()
	}
	return err
}

// RegisterValues defines values as globals, or as members of the hashmap
// global named library when library is not empty. Values are retained.
// Redefining a global or a library member is an error, and a rejected call
// defines none of its values.
func (v *VM) RegisterValues(library string, vals []LibraryValue) error {
	return v.registerValues(library, vals)
}

func (v *VM) registerValues(library string, vals []LibraryValue) error {
	var h *HashMap
	if library != "" {
		if ns, ok := v.globals[library]; ok {
			if h = ns.AsHashMap(); h == nil {
				return fmt.Errorf("global '%s' exists and is not a hashmap", library)
			}
		}
	}

	// Nothing is defined unless every name is free.
	seen := make(map[string]bool, len(vals))
	for _, lv := range vals {
		taken := seen[lv.Name]
		switch {
		case library == "":
			_, exists := v.globals[lv.Name]
			taken = taken || exists
		case h != nil:
			key := NewString(lv.Name)
			taken = taken || !h.Get(key).IsNil()
			key.Release()
		}
		if taken {
			if library == "" {
				return fmt.Errorf("re-definition of global '%s'", lv.Name)
			}
			return fmt.Errorf("re-definition of '%s.%s'", library, lv.Name)
		}
		seen[lv.Name] = true
	}

	if library == "" {
		for _, lv := range vals {
			if err := v.defineGlobal(lv.Name, lv.Value.Retain()); err != nil {
				return err
			}
		}
		return nil
	}
	if h == nil {
		ns := NewHashMap()
		v.globals[library] = ns
		h = ns.AsHashMap()
	}
	for _, lv := range vals {
		h.Set(NewString(lv.Name), lv.Value.Retain())
	}
	return nil
}

// Global returns a borrowed global value.
func (v *VM) Global(name string) (Value, bool) {
	val, ok := v.globals[name]
	return val, ok
}

// Globals returns a snapshot of the global table. Values are borrowed.
func (v *VM) Globals() map[string]Value {
	out := make(map[string]Value, len(v.globals))
	for k, val := range v.globals {
		out[k] = val
	}
	return out
}

// GlobalNames returns the sorted global names.
func (v *VM) GlobalNames() []string {
	names := make([]string, 0, len(v.globals))
	for k := range v.globals {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// StackTrace lists the live frames, innermost first. After a failed call
// it describes the frames that were active when the error occurred.
func (v *VM) StackTrace() []StackFrame {
	trace := make([]StackFrame, 0, len(v.frames))
	for i := len(v.frames) - 1; i >= 0; i-- {
		trace = append(trace, StackFrame{Function: v.frames[i].fn.Name()})
	}
	return trace
}

// Close releases every value the VM owns.
func (v *VM) Close() {
	v.unwindTo(0)
	for _, g := range v.globals {
		g.Release()
	}
	v.globals = make(map[string]Value)
	for _, s := range v.typeNames {
		s.Release()
	}
	v.typeNames = make(map[string]Value)
	for _, p := range v.programs {
		p.Release()
	}
	v.programs = nil
}

// typeName returns an owned string naming the type of val.
func (v *VM) typeName(val Value) Value {
	name := val.TypeName()
	s, ok := v.typeNames[name]
	if !ok {
		s = NewString(name)
		v.typeNames[name] = s
	}
	return s.Retain()
}
