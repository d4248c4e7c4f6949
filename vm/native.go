package vm

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Native functions
// ---------------------------------------------------------------------------

// Signature is a native function's declared parameter and return types.
type Signature struct {
	Params []Type
	Return Type
}

func (s Signature) String() string {
	parts := make([]string, len(s.Params))
	for i, p := range s.Params {
		parts[i] = p.String()
	}
	return "(" + strings.Join(parts, ", ") + ") " + s.Return.String()
}

// Equal reports whether two signatures are identical.
func (s Signature) Equal(o Signature) bool {
	if s.Return != o.Return || len(s.Params) != len(o.Params) {
		return false
	}
	for i := range s.Params {
		if s.Params[i] != o.Params[i] {
			return false
		}
	}
	return true
}

// NativeCall is what a native function receives.
type NativeCall struct {
	Args      []Value
	Constants *ConstantPool
}

// NativeFunc is a host function. It returns a value of the declared return
// type, or an arbitrary Value for void natives.
type NativeFunc func(c *NativeCall) (Value, error)

// ErrNativeSymbolNotFound is returned by resolvers that do not know a symbol.
var ErrNativeSymbolNotFound = errors.New("native symbol not found")

// NativeResolver maps declared native symbols to host functions.
type NativeResolver interface {
	Resolve(name string, sig Signature) (NativeFunc, error)
}

// Native is a registered (name, signature, resolved function) triple.
// Fn is nil when resolution failed; calling it faults.
type Native struct {
	Name       string
	Sig        Signature
	Fn         NativeFunc
	ResolveErr error
}

// NativeTable holds the natives declared by a program.
type NativeTable struct {
	natives []*Native
}

// NewNativeTable creates an empty table.
func NewNativeTable() *NativeTable {
	return &NativeTable{}
}

// Register resolves name through r and records the outcome. Resolution
// failure is not an error here; it is reported when the native is called.
func (t *NativeTable) Register(name string, sig Signature, r NativeResolver) (int, error) {
	if len(t.natives) > math.MaxUint16 {
		return 0, ErrTooManyFunctions
	}
	n := &Native{Name: name, Sig: sig}
	if r == nil {
		n.ResolveErr = ErrNativeSymbolNotFound
	} else {
		n.Fn, n.ResolveErr = r.Resolve(name, sig)
		if n.ResolveErr != nil {
			n.Fn = nil
		}
	}
	t.natives = append(t.natives, n)
	return len(t.natives) - 1, nil
}

// Lookup returns the native with the given id.
func (t *NativeTable) Lookup(id int) (*Native, bool) {
	if id < 0 || id >= len(t.natives) {
		return nil, false
	}
	return t.natives[id], true
}

// All returns the natives in id order.
func (t *NativeTable) All() []*Native {
	return t.natives
}

// ---------------------------------------------------------------------------
// Registry resolver
// ---------------------------------------------------------------------------

type registryEntry struct {
	sig Signature
	fn  NativeFunc
}

// Registry is a NativeResolver backed by a name -> function map.
type Registry struct {
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Define adds or replaces a native.
func (r *Registry) Define(name string, sig Signature, fn NativeFunc) {
	r.entries[name] = registryEntry{sig: sig, fn: fn}
}

// Resolve implements NativeResolver. The declared signature must match the
// registered one exactly.
func (r *Registry) Resolve(name string, sig Signature) (NativeFunc, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNativeSymbolNotFound, name)
	}
	if !e.sig.Equal(sig) {
		return nil, fmt.Errorf("%w: %s declared %s, host provides %s", ErrNativeSymbolNotFound, name, sig, e.sig)
	}
	return e.fn, nil
}

// BuiltinRegistry returns a registry with the standard host natives.
func BuiltinRegistry() *Registry {
	r := NewRegistry()
	double1 := Signature{Params: []Type{TypeDouble}, Return: TypeDouble}

	r.Define("sqrt", double1, func(c *NativeCall) (Value, error) {
		f, _ := c.Args[0].Double()
		return DoubleValue(math.Sqrt(f)), nil
	})
	r.Define("floor", double1, func(c *NativeCall) (Value, error) {
		f, _ := c.Args[0].Double()
		return DoubleValue(math.Floor(f)), nil
	})
	r.Define("pow", Signature{Params: []Type{TypeDouble, TypeDouble}, Return: TypeDouble}, func(c *NativeCall) (Value, error) {
		x, _ := c.Args[0].Double()
		y, _ := c.Args[1].Double()
		return DoubleValue(math.Pow(x, y)), nil
	})
	r.Define("abs", Signature{Params: []Type{TypeInt}, Return: TypeInt}, func(c *NativeCall) (Value, error) {
		n, _ := c.Args[0].Int()
		if n < 0 {
			n = -n
		}
		return IntValue(n), nil
	})
	r.Define("strlen", Signature{Params: []Type{TypeString}, Return: TypeInt}, func(c *NativeCall) (Value, error) {
		id, _ := c.Args[0].StringID()
		s, ok := c.Constants.Lookup(id)
		if !ok {
			return Value{}, fmt.Errorf("strlen: no constant %d", id)
		}
		return IntValue(int64(utf8.RuneCountInString(s))), nil
	})
	r.Define("clock", Signature{Return: TypeInt}, func(c *NativeCall) (Value, error) {
		return IntValue(time.Now().UnixMilli()), nil
	})
	return r
}
