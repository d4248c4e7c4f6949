package vm

import (
	"errors"
	"math"
	"strconv"
	"testing"
)

func TestValueKinds(t *testing.T) {
	if n, ok := IntValue(-7).Int(); !ok || n != -7 {
		t.Errorf("IntValue(-7).Int() = %d, %v", n, ok)
	}
	if _, ok := IntValue(1).Double(); ok {
		t.Error("int value should not read as double")
	}
	if f, ok := DoubleValue(0.25).Double(); !ok || f != 0.25 {
		t.Errorf("DoubleValue(0.25).Double() = %v, %v", f, ok)
	}
	if id, ok := StringValue(3).StringID(); !ok || id != 3 {
		t.Errorf("StringValue(3).StringID() = %d, %v", id, ok)
	}
	if (Value{}).Kind() != 0 {
		t.Error("zero Value should have no kind")
	}
}

func TestZeroValue(t *testing.T) {
	tests := []struct {
		typ  Type
		want Value
	}{
		{TypeInt, IntValue(0)},
		{TypeDouble, DoubleValue(0)},
		{TypeString, StringValue(5)},
		{TypeVoid, Value{}},
	}
	for _, tt := range tests {
		if got := ZeroValue(tt.typ, 5); got != tt.want {
			t.Errorf("ZeroValue(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestParseType(t *testing.T) {
	for _, name := range []string{"void", "int", "double", "string"} {
		typ, ok := ParseType(name)
		if !ok || typ.String() != name {
			t.Errorf("ParseType(%q) = %s, %v", name, typ, ok)
		}
	}
	if _, ok := ParseType("float"); ok {
		t.Error("ParseType(float) should fail")
	}
	if _, ok := TypeVoid.Kind(); ok {
		t.Error("void should have no value kind")
	}
}

func TestFormatDouble(t *testing.T) {
	tests := []struct {
		f         float64
		precision int
		want      string
	}{
		{3, -1, "3.0"},
		{0.5, -1, "0.5"},
		{-2.25, -1, "-2.25"},
		{0.1 + 0.2, -1, "0.30000000000000004"},
		{1234567, -1, "1234567.0"},
		{1e21, -1, "1e+21"},
		{1e-7, -1, "1e-07"},
		{math.Inf(1), -1, "+Inf"},
		{math.NaN(), -1, "NaN"},
		{3.14159, 2, "3.14"},
		{2, 0, "2"},
	}
	for _, tt := range tests {
		if got := FormatDouble(tt.f, tt.precision); got != tt.want {
			t.Errorf("FormatDouble(%v, %d) = %q, want %q", tt.f, tt.precision, got, tt.want)
		}
	}
}

func TestConstantPoolIntern(t *testing.T) {
	p := NewConstantPool()
	a, _ := p.Intern("hello")
	b, _ := p.Intern("world")
	c, _ := p.Intern("hello")
	if a != c {
		t.Errorf("duplicate text got ids %d and %d", a, c)
	}
	if a == b {
		t.Error("distinct text got the same id")
	}
	if p.Len() != 2 {
		t.Errorf("Len = %d, want 2", p.Len())
	}
	if s, ok := p.Lookup(b); !ok || s != "world" {
		t.Errorf("Lookup(%d) = %q, %v", b, s, ok)
	}
	if _, ok := p.Lookup(99); ok {
		t.Error("Lookup(99) should fail")
	}
}

func TestConstantPoolFull(t *testing.T) {
	p := NewConstantPool()
	for i := 0; i <= math.MaxUint16; i++ {
		if _, err := p.Intern(strconv.Itoa(i)); err != nil {
			t.Fatalf("Intern %d: %v", i, err)
		}
	}
	if _, err := p.Intern("one too many"); !errors.Is(err, ErrConstantPoolFull) {
		t.Errorf("err = %v, want ErrConstantPoolFull", err)
	}
	// Existing text still resolves.
	if _, err := p.Intern("0"); err != nil {
		t.Errorf("re-interning existing text: %v", err)
	}
}

func TestFunctionTable(t *testing.T) {
	ft := NewFunctionTable()
	main, _ := ft.Register("main", nil, TypeVoid, NoOwner)
	f, _ := ft.Register("f", []Type{TypeInt, TypeDouble}, TypeInt, main.ID)
	if main.ID != 0 || f.ID != 1 {
		t.Errorf("ids = %d, %d, want 0, 1", main.ID, f.ID)
	}
	if f.NumParams() != 2 || f.NumLocals != 2 {
		t.Errorf("f params/locals = %d/%d, want 2/2", f.NumParams(), f.NumLocals)
	}
	if got, ok := ft.Lookup(1); !ok || got != f {
		t.Error("Lookup(1) did not return f")
	}
	if _, ok := ft.Lookup(2); ok {
		t.Error("Lookup(2) should fail")
	}
	if f.String() != "f#1" {
		t.Errorf("String = %q, want f#1", f.String())
	}
}

func TestRegistryResolve(t *testing.T) {
	r := BuiltinRegistry()
	sig := Signature{Params: []Type{TypeDouble}, Return: TypeDouble}
	fn, err := r.Resolve("sqrt", sig)
	if err != nil {
		t.Fatalf("Resolve(sqrt): %v", err)
	}
	v, err := fn(&NativeCall{Args: []Value{DoubleValue(9)}})
	if f, _ := v.Double(); err != nil || f != 3 {
		t.Errorf("sqrt(9) = %v, %v", v, err)
	}

	if _, err := r.Resolve("sqrt", Signature{Params: []Type{TypeInt}, Return: TypeDouble}); !errors.Is(err, ErrNativeSymbolNotFound) {
		t.Errorf("mismatched signature err = %v, want ErrNativeSymbolNotFound", err)
	}
	if _, err := r.Resolve("nope", sig); !errors.Is(err, ErrNativeSymbolNotFound) {
		t.Errorf("missing native err = %v, want ErrNativeSymbolNotFound", err)
	}
}

func TestNativeTableUnresolved(t *testing.T) {
	nt := NewNativeTable()
	id, err := nt.Register("nope", Signature{Return: TypeInt}, BuiltinRegistry())
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	n, ok := nt.Lookup(id)
	if !ok || n.Fn != nil || !errors.Is(n.ResolveErr, ErrNativeSymbolNotFound) {
		t.Errorf("native = %+v, want unresolved", n)
	}
}
