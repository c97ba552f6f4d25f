package vm

import "fmt"

// RuntimeError is raised by a failing instruction or native function.
// Addr is the word address of the instruction that failed.
type RuntimeError struct {
	Addr int
	Msg  string
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error at address 0x%08x: %s", e.Addr, e.Msg)
}

// StackFrame is one entry of a stack trace.
type StackFrame struct {
	Function string
}

func (v *VM) runtimeErrorf(pc int, format string, args ...any) *RuntimeError {
	err := &RuntimeError{Addr: pc, Msg: fmt.Sprintf(format, args...)}
	log.Debugf("%s", err)
	return err
}

// nativeError builds the error for a native that returned a non-zero status,
// consuming any detail registered through SetErrorf.
func (v *VM) nativeError(pc int, name string, status int) *RuntimeError {
	msg := fmt.Sprintf("error in function '%s' (code %d)", name, status)
	if v.errDetail != "" {
		msg += ": " + v.errDetail
		v.errDetail = ""
	}
	return v.runtimeErrorf(pc, "%s", msg)
}

// SetErrorf records a detail message for a native function that is about to
// return a non-zero status.
func (v *VM) SetErrorf(format string, args ...any) {
	v.errDetail = fmt.Sprintf(format, args...)
}
