package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Types and value kinds
// ---------------------------------------------------------------------------

// Type is a static type known to the compiler.
type Type uint8

const (
	TypeVoid Type = iota
	TypeInt
	TypeDouble
	TypeString
)

var typeNames = [...]string{
	TypeVoid:   "void",
	TypeInt:    "int",
	TypeDouble: "double",
	TypeString: "string",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", t)
}

// ParseType maps a type name to a Type.
func ParseType(name string) (Type, bool) {
	for t, n := range typeNames {
		if n == name {
			return Type(t), true
		}
	}
	return TypeVoid, false
}

// Kind returns the value kind carried by values of type t.
// Void has no values; ok is false for it.
func (t Type) Kind() (k Kind, ok bool) {
	switch t {
	case TypeInt:
		return KindInt, true
	case TypeDouble:
		return KindDouble, true
	case TypeString:
		return KindString, true
	}
	return 0, false
}

// Kind discriminates a Value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindDouble
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindDouble:
		return "double"
	case KindString:
		return "string"
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ---------------------------------------------------------------------------
// Value: tagged scalar
// ---------------------------------------------------------------------------

// Value is an int64, a float64 or a constant pool id. The zero Value has no
// kind and is never produced by compiled code.
type Value struct {
	kind Kind
	bits uint64
}

// IntValue returns an int Value.
func IntValue(n int64) Value { return Value{kind: KindInt, bits: uint64(n)} }

// DoubleValue returns a double Value.
func DoubleValue(f float64) Value { return Value{kind: KindDouble, bits: math.Float64bits(f)} }

// StringValue returns a Value referencing constant id.
func StringValue(id uint16) Value { return Value{kind: KindString, bits: uint64(id)} }

// ZeroValue returns the zero value of t. The string zero value references
// the given empty-string constant.
func ZeroValue(t Type, empty uint16) Value {
	switch t {
	case TypeInt:
		return IntValue(0)
	case TypeDouble:
		return DoubleValue(0)
	case TypeString:
		return StringValue(empty)
	}
	return Value{}
}

// Kind returns the discriminant.
func (v Value) Kind() Kind { return v.kind }

// Int returns the integer payload; ok reports whether v is an int.
func (v Value) Int() (int64, bool) { return int64(v.bits), v.kind == KindInt }

// Double returns the float payload; ok reports whether v is a double.
func (v Value) Double() (float64, bool) {
	return math.Float64frombits(v.bits), v.kind == KindDouble
}

// StringID returns the constant id; ok reports whether v is a string.
func (v Value) StringID() (uint16, bool) { return uint16(v.bits), v.kind == KindString }

// String renders v for debugging. Strings render as their constant id.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindDouble:
		return FormatDouble(math.Float64frombits(v.bits), -1)
	case KindString:
		return fmt.Sprintf("str#%d", uint16(v.bits))
	}
	return "<invalid>"
}

// FormatDouble renders f as print does. A negative precision selects the
// shortest representation that round-trips, in exponent form only for very
// small or very large magnitudes, and forced to contain a '.' or an exponent
// so that doubles never read as integers.
func FormatDouble(f float64, precision int) string {
	if precision >= 0 {
		return strconv.FormatFloat(f, 'f', precision, 64)
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	format := byte('f')
	if a := math.Abs(f); a != 0 && (a < 1e-4 || a >= 1e21) {
		format = 'e'
	}
	s := strconv.FormatFloat(f, format, -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}
