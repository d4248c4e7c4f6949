package vm

import "fmt"

// FaultKind describes the reason for an interpreter fault.
type FaultKind int

// List of interpreter faults
const (
	StackUnderflow = FaultKind(iota)
	StackOverflow
	InvalidSlotAddress
	UnresolvedFunctionID
	NativeSymbolNotFound
	DivisionByZero
	UnresolvedContext
	OperandKindMismatch
	IllegalInstruction
	InvalidConstant
	NativeCallFailed
	Cancelled
)

var strFault = []string{
	"stack underflow",
	"stack overflow",
	"invalid slot address",
	"unresolved function id",
	"native symbol not found",
	"division by zero",
	"unresolved context",
	"operand kind mismatch",
	"illegal instruction",
	"invalid constant",
	"native call failed",
	"cancelled",
}

func (k FaultKind) String() string {
	if k >= 0 && int(k) < len(strFault) {
		return strFault[k]
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// Error makes a FaultKind usable as an errors.Is target.
func (k FaultKind) Error() string {
	return k.String()
}

// Fault is the descriptor of a fatal run-time condition.
type Fault struct {
	Kind     FaultKind
	Function int    // id of the executing function
	Name     string // name of the executing function
	Offset   int    // offset of the faulting instruction
	Detail   string
	Err      error // underlying error, e.g. from a native
}

func (f *Fault) Error() string {
	msg := "kestrel: " + f.Kind.String()
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return fmt.Sprintf("%s in %s#%d at %04d", msg, f.Name, f.Function, f.Offset)
}

// Unwrap returns the underlying error.
func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches a Fault against its kind.
func (f *Fault) Is(target error) bool {
	k, ok := target.(FaultKind)
	return ok && k == f.Kind
}
