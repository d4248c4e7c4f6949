package compiler

import "fmt"

// ErrorKind classifies a compile-time error.
type ErrorKind int

// List of compile errors
const (
	UnresolvedSymbol = ErrorKind(iota)
	TypeMismatch
	ArityMismatch
	InvalidRangeType
	DuplicateDeclaration
	MissingReturn
	BreakOutsideLoop
	CodeTooLarge
	Internal
)

var strErrorKind = []string{
	"unresolved symbol",
	"type mismatch",
	"arity mismatch",
	"invalid range type",
	"duplicate declaration",
	"missing return",
	"break outside loop",
	"code too large",
	"internal compiler error",
}

func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(strErrorKind) {
		return strErrorKind[k]
	}
	return fmt.Sprintf("error(%d)", int(k))
}

// Error makes an ErrorKind usable as an errors.Is target.
func (k ErrorKind) Error() string {
	return k.String()
}

// Error is a compile error at a source position.
type Error struct {
	Kind ErrorKind
	Pos  Position
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Pos.Line == 0 {
		return msg
	}
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches an Error against its kind. An InvalidRangeType error is also a
// TypeMismatch.
func (e *Error) Is(target error) bool {
	k, ok := target.(ErrorKind)
	if !ok {
		return false
	}
	return k == e.Kind || (e.Kind == InvalidRangeType && k == TypeMismatch)
}

// errorAt builds an Error positioned at node.
func errorAt(node Node, kind ErrorKind, format string, args ...any) *Error {
	e := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	if node != nil {
		e.Pos = node.Span().Start
	}
	return e
}
