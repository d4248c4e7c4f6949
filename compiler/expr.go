package compiler

import (
	"github.com/chazu/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Expression compilation
// ---------------------------------------------------------------------------

// expr compiles e, leaving its value on the stack (nothing for void calls),
// and returns its static type.
func (c *Compiler) expr(e Expr) (vm.Type, error) {
	switch e := e.(type) {
	case *IntLiteral:
		c.b().EmitInt64(vm.OpPushInt, e.Value)
		return vm.TypeInt, nil
	case *BoolLiteral:
		c.b().EmitInt64(vm.OpPushInt, boolInt(e.Value))
		return vm.TypeInt, nil
	case *DoubleLiteral:
		c.b().EmitFloat64(vm.OpPushDouble, e.Value)
		return vm.TypeDouble, nil
	case *StringLiteral:
		id, err := c.prog.Constants.Intern(e.Value)
		if err != nil {
			return vm.TypeVoid, &Error{Kind: CodeTooLarge, Pos: e.Span().Start, Err: err}
		}
		c.b().EmitUint16(vm.OpPushString, id)
		return vm.TypeString, nil
	case *Variable:
		sym, err := c.resolveVar(e, e.Name)
		if err != nil {
			return vm.TypeVoid, err
		}
		c.load(sym)
		return sym.typ, nil
	case *Unary:
		return c.unary(e)
	case *Binary:
		return c.binary(e)
	case *Conditional:
		return c.conditional(e)
	case *Call:
		return c.call(e)
	}
	return vm.TypeVoid, errorAt(e, Internal, "unknown expression %T", e)
}

// exprAs compiles e and converts the result to want.
func (c *Compiler) exprAs(e Expr, want vm.Type) error {
	t, err := c.expr(e)
	if err != nil {
		return err
	}
	return c.convert(e, t, want)
}

// convert emits the assignment conversion from have to want: int widens to
// double, double truncates to int, strings only convert to strings.
func (c *Compiler) convert(node Node, have, want vm.Type) error {
	switch {
	case have == want && have != vm.TypeVoid:
		return nil
	case have == vm.TypeInt && want == vm.TypeDouble:
		c.emit(vm.OpIntToDouble)
		return nil
	case have == vm.TypeDouble && want == vm.TypeInt:
		c.emit(vm.OpDoubleToInt)
		return nil
	}
	return errorAt(node, TypeMismatch, "cannot use %s as %s", have, want)
}

// promote compiles an operand of a binary operation at type want, which is
// the operand's own type or double.
func (c *Compiler) promote(e Expr, want vm.Type) error {
	t, err := c.expr(e)
	if err != nil {
		return err
	}
	if t == want {
		return nil
	}
	if t == vm.TypeInt && want == vm.TypeDouble {
		c.emit(vm.OpIntToDouble)
		return nil
	}
	return errorAt(e, TypeMismatch, "cannot use %s as %s", t, want)
}

func (c *Compiler) unary(e *Unary) (vm.Type, error) {
	switch e.Op {
	case "-":
		t, err := c.expr(e.Operand)
		if err != nil {
			return t, err
		}
		switch t {
		case vm.TypeInt:
			c.emit(vm.OpNegInt)
		case vm.TypeDouble:
			c.emit(vm.OpNegDouble)
		default:
			return vm.TypeVoid, errorAt(e, TypeMismatch, "operator - on %s", t)
		}
		return t, nil
	case "!":
		return vm.TypeInt, c.boolValue(e)
	}
	return vm.TypeVoid, errorAt(e, TypeMismatch, "unknown unary operator %q", e.Op)
}

var arithOps = map[string][2]vm.Opcode{
	"+": {vm.OpAddInt, vm.OpAddDouble},
	"-": {vm.OpSubInt, vm.OpSubDouble},
	"*": {vm.OpMulInt, vm.OpMulDouble},
	"/": {vm.OpDivInt, vm.OpDivDouble},
	"%": {vm.OpModInt, vm.OpModDouble},
}

func (c *Compiler) binary(e *Binary) (vm.Type, error) {
	if isComparison(e.Op) || isLogical(e.Op) {
		return vm.TypeInt, c.boolValue(e)
	}
	ops, ok := arithOps[e.Op]
	if !ok {
		return vm.TypeVoid, errorAt(e, TypeMismatch, "unknown binary operator %q", e.Op)
	}
	l, err := c.typeOf(e.Left)
	if err != nil {
		return l, err
	}
	r, err := c.typeOf(e.Right)
	if err != nil {
		return r, err
	}
	t, err := arithType(e, l, r)
	if err != nil {
		return t, err
	}
	// Left is pushed first.
	if err := c.promote(e.Left, t); err != nil {
		return t, err
	}
	if err := c.promote(e.Right, t); err != nil {
		return t, err
	}
	if t == vm.TypeDouble {
		c.emit(ops[1])
	} else {
		c.emit(ops[0])
	}
	return t, nil
}

func (c *Compiler) conditional(e *Conditional) (vm.Type, error) {
	t, err := c.typeOf(e)
	if err != nil {
		return t, err
	}
	elseLabel := c.b().NewLabel()
	end := c.b().NewLabel()
	if err := c.branch(e.Cond, elseLabel, false); err != nil {
		return t, err
	}
	if err := c.exprAs(e.Then, t); err != nil {
		return t, err
	}
	c.b().EmitJump(vm.OpJump, end)
	c.b().Bind(elseLabel)
	if err := c.exprAs(e.Else, t); err != nil {
		return t, err
	}
	c.b().Bind(end)
	return t, nil
}

// call pushes the arguments left to right, each converted to the declared
// parameter type, then emits the call.
func (c *Compiler) call(e *Call) (vm.Type, error) {
	sym, err := c.resolveCallee(e)
	if err != nil {
		return vm.TypeVoid, err
	}
	for i, arg := range e.Args {
		if err := c.exprAs(arg, sym.params[i]); err != nil {
			return vm.TypeVoid, err
		}
	}
	if sym.kind == symNative {
		c.b().EmitUint16(vm.OpCallNative, uint16(sym.id))
	} else {
		c.b().EmitUint16(vm.OpCall, uint16(sym.id))
	}
	return sym.ret, nil
}

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

// boolValue compiles a condition as an int 1 or 0.
func (c *Compiler) boolValue(e Expr) error {
	f := c.b().NewLabel()
	end := c.b().NewLabel()
	if err := c.branch(e, f, false); err != nil {
		return err
	}
	c.b().EmitInt64(vm.OpPushInt, 1)
	c.b().EmitJump(vm.OpJump, end)
	c.b().Bind(f)
	c.b().EmitInt64(vm.OpPushInt, 0)
	c.b().Bind(end)
	return nil
}

// branch compiles e so that control transfers to target when e's truth
// equals jumpIf and falls through otherwise. The operands of && and || are
// only evaluated as far as needed.
func (c *Compiler) branch(e Expr, target vm.Label, jumpIf bool) error {
	switch e := e.(type) {
	case *BoolLiteral:
		if e.Value == jumpIf {
			c.b().EmitJump(vm.OpJump, target)
		}
		return nil
	case *IntLiteral:
		if (e.Value != 0) == jumpIf {
			c.b().EmitJump(vm.OpJump, target)
		}
		return nil
	case *Unary:
		if e.Op == "!" {
			t, err := c.typeOf(e.Operand)
			if err != nil {
				return err
			}
			if t != vm.TypeInt {
				return errorAt(e, TypeMismatch, "operator ! on %s", t)
			}
			return c.branch(e.Operand, target, !jumpIf)
		}
	case *Binary:
		switch e.Op {
		case "&&":
			if !jumpIf {
				if err := c.branch(e.Left, target, false); err != nil {
					return err
				}
				return c.branch(e.Right, target, false)
			}
			skip := c.b().NewLabel()
			if err := c.branch(e.Left, skip, false); err != nil {
				return err
			}
			if err := c.branch(e.Right, target, true); err != nil {
				return err
			}
			c.b().Bind(skip)
			return nil
		case "||":
			if jumpIf {
				if err := c.branch(e.Left, target, true); err != nil {
					return err
				}
				return c.branch(e.Right, target, true)
			}
			skip := c.b().NewLabel()
			if err := c.branch(e.Left, skip, true); err != nil {
				return err
			}
			if err := c.branch(e.Right, target, false); err != nil {
				return err
			}
			c.b().Bind(skip)
			return nil
		}
		if isComparison(e.Op) {
			return c.compare(e, target, jumpIf)
		}
	}

	t, err := c.expr(e)
	if err != nil {
		return err
	}
	if t != vm.TypeInt {
		return errorAt(e, TypeMismatch, "condition must be int, not %s", t)
	}
	if jumpIf {
		c.b().EmitJump(vm.OpJumpTrue, target)
	} else {
		c.b().EmitJump(vm.OpJumpFalse, target)
	}
	return nil
}

type compareOps struct {
	op, negated string
	int, double vm.Opcode
	str         vm.Opcode
}

var comparisons = map[string]compareOps{
	"==": {"==", "!=", vm.OpJumpEqInt, vm.OpJumpEqDouble, vm.OpJumpEqString},
	"!=": {"!=", "==", vm.OpJumpNeInt, vm.OpJumpNeDouble, vm.OpJumpNeString},
	"<":  {"<", ">=", vm.OpJumpLtInt, vm.OpJumpLtDouble, 0},
	"<=": {"<=", ">", vm.OpJumpLeInt, vm.OpJumpLeDouble, 0},
	">":  {">", "<=", vm.OpJumpGtInt, vm.OpJumpGtDouble, 0},
	">=": {">=", "<", vm.OpJumpGeInt, vm.OpJumpGeDouble, 0},
}

// compare emits a compare-and-jump. Integer and string comparisons are
// negated directly; double comparisons are not, since with NaN !(a < b)
// differs from a >= b.
func (c *Compiler) compare(e *Binary, target vm.Label, jumpIf bool) error {
	l, err := c.typeOf(e.Left)
	if err != nil {
		return err
	}
	r, err := c.typeOf(e.Right)
	if err != nil {
		return err
	}
	t, err := compareType(e, l, r)
	if err != nil {
		return err
	}
	if err := c.promote(e.Left, t); err != nil {
		return err
	}
	if err := c.promote(e.Right, t); err != nil {
		return err
	}

	ops := comparisons[e.Op]
	if t == vm.TypeDouble {
		if jumpIf {
			c.b().EmitJump(ops.double, target)
			return nil
		}
		skip := c.b().NewLabel()
		c.b().EmitJump(ops.double, skip)
		c.b().EmitJump(vm.OpJump, target)
		c.b().Bind(skip)
		return nil
	}
	if !jumpIf {
		ops = comparisons[ops.negated]
	}
	if t == vm.TypeString {
		c.b().EmitJump(ops.str, target)
	} else {
		c.b().EmitJump(ops.int, target)
	}
	return nil
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
