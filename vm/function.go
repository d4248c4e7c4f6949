package vm

import (
	"errors"
	"fmt"
	"math"
)

// NoOwner marks a function without a lexically enclosing function.
const NoOwner = -1

// ErrTooManyFunctions is returned once every 16-bit function id is taken.
var ErrTooManyFunctions = errors.New("too many functions")

// Function is one compiled function. It is mutated only by the compiler and
// shared read-only by interpreters afterwards.
type Function struct {
	ID         int
	Name       string
	Params     []Type // parameter types, in slot order
	ReturnType Type
	NumLocals  int    // slots, including parameters
	Locals     []Type // types of the slots after the parameters
	Owner      int    // lexically enclosing function id, or NoOwner
	Code       []byte
}

// NumParams returns the parameter count.
func (f *Function) NumParams() int {
	return len(f.Params)
}

func (f *Function) String() string {
	return fmt.Sprintf("%s#%d", f.Name, f.ID)
}

// FunctionTable holds compiled functions addressed by dense ids assigned in
// registration order. Id 0 is the top-level function.
type FunctionTable struct {
	funcs []*Function
}

// NewFunctionTable creates an empty table.
func NewFunctionTable() *FunctionTable {
	return &FunctionTable{}
}

// Register adds a function and assigns it the next id.
func (t *FunctionTable) Register(name string, params []Type, ret Type, owner int) (*Function, error) {
	if len(t.funcs) > math.MaxUint16 {
		return nil, ErrTooManyFunctions
	}
	f := &Function{
		ID:         len(t.funcs),
		Name:       name,
		Params:     params,
		ReturnType: ret,
		NumLocals:  len(params),
		Owner:      owner,
	}
	t.funcs = append(t.funcs, f)
	return f, nil
}

// Lookup returns the function with the given id.
func (t *FunctionTable) Lookup(id int) (*Function, bool) {
	if id < 0 || id >= len(t.funcs) {
		return nil, false
	}
	return t.funcs[id], true
}

// Len returns the number of registered functions.
func (t *FunctionTable) Len() int {
	return len(t.funcs)
}

// All returns the functions in id order.
func (t *FunctionTable) All() []*Function {
	return t.funcs
}

// Program is a fully compiled unit ready for interpretation.
type Program struct {
	Functions *FunctionTable
	Constants *ConstantPool
	Natives   *NativeTable
}

// NewProgram creates an empty program.
func NewProgram() *Program {
	return &Program{
		Functions: NewFunctionTable(),
		Constants: NewConstantPool(),
		Natives:   NewNativeTable(),
	}
}

// Disassemble renders every function of the program.
func (p *Program) Disassemble() string {
	var out []byte
	for _, f := range p.Functions.All() {
		out = fmt.Appendf(out, "== %s params=%d locals=%d returns=%s owner=%d ==\n",
			f, f.NumParams(), f.NumLocals, f.ReturnType, f.Owner)
		if text := Disassemble(f.Code); text != "" {
			out = append(out, text...)
			out = append(out, '\n')
		}
	}
	for i, n := range p.Natives.All() {
		state := "resolved"
		if n.Fn == nil {
			state = "unresolved"
		}
		out = fmt.Appendf(out, "== native %d %s%s %s ==\n", i, n.Name, n.Sig, state)
	}
	for id, s := range p.Constants.Entries() {
		out = fmt.Appendf(out, "const %d %q\n", id, s)
	}
	return string(out)
}
