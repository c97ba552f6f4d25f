package compiler

import "fmt"

// ErrorKind classifies compilation failures.
type ErrorKind int

const (
	// SyntaxError is reported by the lexer and parser.
	SyntaxError ErrorKind = iota
	// SemanticError is reported by code generation.
	SemanticError
)

func (k ErrorKind) String() string {
	if k == SyntaxError {
		return "syntax error"
	}
	return "semantic error"
}

// Error is a located compilation error.
type Error struct {
	Kind ErrorKind
	Pos  Position
	Msg  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s near line %d, column %d: %s", e.Kind, e.Pos.Line, e.Pos.Column, e.Msg)
}

// bailout unwinds the parser or code generator after the first error.
type bailout struct{}

// catch converts a bailout panic into the recorded error.
func catch(recorded **Error, err *error) {
	if r := recover(); r != nil {
		if _, ok := r.(bailout); !ok {
			panic(r)
		}
		*err = *recorded
	}
}
