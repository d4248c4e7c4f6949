package compiler

import (
	"github.com/chazu/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Static typing
// ---------------------------------------------------------------------------

func isNumeric(t vm.Type) bool {
	return t == vm.TypeInt || t == vm.TypeDouble
}

func isArithmetic(op string) bool {
	switch op {
	case "+", "-", "*", "/", "%":
		return true
	}
	return false
}

func isComparison(op string) bool {
	switch op {
	case "==", "!=", "<", "<=", ">", ">=":
		return true
	}
	return false
}

func isLogical(op string) bool {
	return op == "&&" || op == "||"
}

// resolveType maps a declared type name; empty means void.
func resolveType(node Node, name string) (vm.Type, error) {
	if name == "" {
		return vm.TypeVoid, nil
	}
	t, ok := vm.ParseType(name)
	if !ok {
		return vm.TypeVoid, errorAt(node, UnresolvedSymbol, "unknown type %q", name)
	}
	return t, nil
}

// valueType resolves a declared type that must not be void.
func valueType(node Node, name, what string) (vm.Type, error) {
	t, err := resolveType(node, name)
	if err != nil {
		return t, err
	}
	if t == vm.TypeVoid {
		return t, errorAt(node, TypeMismatch, "%s cannot be void", what)
	}
	return t, nil
}

// arithType is the promoted operand and result type of an arithmetic op.
func arithType(n *Binary, l, r vm.Type) (vm.Type, error) {
	if !isNumeric(l) || !isNumeric(r) {
		return vm.TypeVoid, errorAt(n, TypeMismatch, "operator %s on %s and %s", n.Op, l, r)
	}
	if l == vm.TypeDouble || r == vm.TypeDouble {
		return vm.TypeDouble, nil
	}
	return vm.TypeInt, nil
}

// compareType is the type both operands of a comparison are converted to.
func compareType(n *Binary, l, r vm.Type) (vm.Type, error) {
	if l == vm.TypeString && r == vm.TypeString {
		if n.Op == "==" || n.Op == "!=" {
			return vm.TypeString, nil
		}
		return vm.TypeVoid, errorAt(n, TypeMismatch, "operator %s on strings", n.Op)
	}
	if !isNumeric(l) || !isNumeric(r) {
		return vm.TypeVoid, errorAt(n, TypeMismatch, "operator %s on %s and %s", n.Op, l, r)
	}
	if l == vm.TypeDouble || r == vm.TypeDouble {
		return vm.TypeDouble, nil
	}
	return vm.TypeInt, nil
}

// unifyType is the result type of a conditional expression.
func unifyType(n *Conditional, a, b vm.Type) (vm.Type, error) {
	switch {
	case a == vm.TypeVoid || b == vm.TypeVoid:
	case a == b:
		return a, nil
	case isNumeric(a) && isNumeric(b):
		return vm.TypeDouble, nil
	}
	return vm.TypeVoid, errorAt(n, TypeMismatch, "conditional arms are %s and %s", a, b)
}

// typeOf computes the static type of e without emitting code. Types are
// cached per node, so an expression is typed once however deeply it nests.
func (c *Compiler) typeOf(e Expr) (vm.Type, error) {
	if t, ok := c.types[e]; ok {
		return t, nil
	}
	t, err := c.inferType(e)
	if err != nil {
		return t, err
	}
	c.types[e] = t
	return t, nil
}

func (c *Compiler) inferType(e Expr) (vm.Type, error) {
	switch e := e.(type) {
	case *IntLiteral, *BoolLiteral:
		return vm.TypeInt, nil
	case *DoubleLiteral:
		return vm.TypeDouble, nil
	case *StringLiteral:
		return vm.TypeString, nil
	case *Variable:
		sym, err := c.resolveVar(e, e.Name)
		if err != nil {
			return vm.TypeVoid, err
		}
		return sym.typ, nil
	case *Unary:
		t, err := c.typeOf(e.Operand)
		if err != nil {
			return t, err
		}
		switch e.Op {
		case "-":
			if !isNumeric(t) {
				return vm.TypeVoid, errorAt(e, TypeMismatch, "operator - on %s", t)
			}
			return t, nil
		case "!":
			if t != vm.TypeInt {
				return vm.TypeVoid, errorAt(e, TypeMismatch, "operator ! on %s", t)
			}
			return vm.TypeInt, nil
		}
		return vm.TypeVoid, errorAt(e, TypeMismatch, "unknown unary operator %q", e.Op)
	case *Binary:
		l, err := c.typeOf(e.Left)
		if err != nil {
			return l, err
		}
		r, err := c.typeOf(e.Right)
		if err != nil {
			return r, err
		}
		switch {
		case isArithmetic(e.Op):
			return arithType(e, l, r)
		case isComparison(e.Op):
			if _, err := compareType(e, l, r); err != nil {
				return vm.TypeVoid, err
			}
			return vm.TypeInt, nil
		case isLogical(e.Op):
			if l != vm.TypeInt || r != vm.TypeInt {
				return vm.TypeVoid, errorAt(e, TypeMismatch, "operator %s on %s and %s", e.Op, l, r)
			}
			return vm.TypeInt, nil
		}
		return vm.TypeVoid, errorAt(e, TypeMismatch, "unknown binary operator %q", e.Op)
	case *Conditional:
		a, err := c.typeOf(e.Then)
		if err != nil {
			return a, err
		}
		b, err := c.typeOf(e.Else)
		if err != nil {
			return b, err
		}
		return unifyType(e, a, b)
	case *Call:
		sym, err := c.resolveCallee(e)
		if err != nil {
			return vm.TypeVoid, err
		}
		return sym.ret, nil
	}
	return vm.TypeVoid, errorAt(e, Internal, "unknown expression %T", e)
}
