package compiler

import "github.com/h2co3/sparkling/vm"

// upvalDesc is one captured variable of a closure, as emitted after CLOSURE.
type upvalDesc struct {
	kind  uint8 // vm.UpvalLocal or vm.UpvalOuter
	index int   // register of the parent, or upvalue index of the parent
}

// funcScope is the compile-time state of one function body.
//
// Registers are allocated as a stack: declared variables occupy
// [0, vars.Len()), temporaries are pushed above them and popped when the
// expression that needed them is done.
type funcScope struct {
	parent *funcScope // lexically enclosing function, nil for file scope and global functions
	name   string

	vars   *roundTrip[string]
	tmp    int // next free register
	maxReg int // registers the function needs

	captured   map[int]bool // registers captured by nested closures
	upvalIndex map[string]int
	upvals     []upvalDesc

	loop *loopScope
}

// loopScope holds the jump targets of the innermost loop.
type loopScope struct {
	parent     *loopScope
	varBase    int // vars.Len() when the body began
	breakTo    *vm.Label
	continueTo *vm.Label
}

func newFuncScope(parent *funcScope, name string) *funcScope {
	return &funcScope{
		parent:     parent,
		name:       name,
		vars:       newRoundTrip[string](),
		captured:   make(map[int]bool),
		upvalIndex: make(map[string]int),
	}
}

// lookupLocal returns the register of a variable declared in this function.
func (s *funcScope) lookupLocal(name string) (int, bool) {
	return s.vars.Lookup(name)
}

// resolveUpvalue returns the upvalue index of name in s, threading the
// capture through every intermediate function. It reports false if no
// enclosing function declares name, in which case it is a global.
func (s *funcScope) resolveUpvalue(name string) (int, bool) {
	if i, ok := s.upvalIndex[name]; ok {
		return i, true
	}
	if s.parent == nil {
		return 0, false
	}
	if reg, ok := s.parent.lookupLocal(name); ok {
		s.parent.captured[reg] = true
		return s.addUpval(name, upvalDesc{kind: vm.UpvalLocal, index: reg}), true
	}
	if i, ok := s.parent.resolveUpvalue(name); ok {
		return s.addUpval(name, upvalDesc{kind: vm.UpvalOuter, index: i}), true
	}
	return 0, false
}

func (s *funcScope) addUpval(name string, d upvalDesc) int {
	i := len(s.upvals)
	s.upvals = append(s.upvals, d)
	s.upvalIndex[name] = i
	return i
}

// capturedFrom reports whether any register at or above base is captured,
// forgetting those registers.
func (s *funcScope) capturedFrom(base int) bool {
	found := false
	for reg := range s.captured {
		if reg >= base {
			delete(s.captured, reg)
			found = true
		}
	}
	return found
}
