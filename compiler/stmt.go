package compiler

import (
	"github.com/chazu/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Statement compilation
// ---------------------------------------------------------------------------

// stmts compiles a statement list in the current scope, hoisting its
// function declarations first.
func (c *Compiler) stmts(list []Stmt) error {
	if err := c.hoist(list); err != nil {
		return err
	}
	for _, s := range list {
		if err := c.stmt(s); err != nil {
			return err
		}
	}
	return nil
}

// block compiles list in a new nested scope of the current function.
func (c *Compiler) block(list []Stmt) error {
	saved := c.scope
	c.scope = newScope(saved, c.fs)
	defer func() { c.scope = saved }()
	return c.stmts(list)
}

func (c *Compiler) stmt(s Stmt) error {
	switch s := s.(type) {
	case *VarDecl:
		return c.varDecl(s)
	case *Assign:
		return c.assign(s)
	case *ExprStmt:
		t, err := c.expr(s.Expr)
		if err != nil {
			return err
		}
		if t != vm.TypeVoid {
			c.emit(vm.OpPOP)
		}
		return nil
	case *Block:
		return c.block(s.Stmts)
	case *If:
		return c.ifStmt(s)
	case *While:
		return c.while(s)
	case *For:
		return c.forStmt(s)
	case *ForRange:
		return c.forRange(s)
	case *Break:
		if len(c.fs.loops) == 0 {
			return errorAt(s, BreakOutsideLoop, "break outside loop")
		}
		c.b().EmitJump(vm.OpJump, c.fs.loops[len(c.fs.loops)-1].breakTo)
		return nil
	case *Continue:
		if len(c.fs.loops) == 0 {
			return errorAt(s, BreakOutsideLoop, "continue outside loop")
		}
		c.b().EmitJump(vm.OpJump, c.fs.loops[len(c.fs.loops)-1].continueTo)
		return nil
	case *Return:
		return c.returnStmt(s)
	case *Print:
		return c.print(s)
	case *FuncDecl:
		return c.function(s)
	case *NativeDecl:
		// Registered by hoist; natives have no body.
		return nil
	}
	return errorAt(s, Internal, "unknown statement %T", s)
}

func (c *Compiler) varDecl(s *VarDecl) error {
	var t vm.Type
	var err error
	switch {
	case s.Type != "":
		t, err = valueType(s, s.Type, "variable "+s.Name)
	case s.Init != nil:
		t, err = c.typeOf(s.Init)
		if err == nil && t == vm.TypeVoid {
			err = errorAt(s, TypeMismatch, "cannot infer the type of %s from a void value", s.Name)
		}
	default:
		err = errorAt(s, TypeMismatch, "variable %s needs a type or an initializer", s.Name)
	}
	if err != nil {
		return err
	}

	// The initializer sees the enclosing scope, not the new variable.
	if s.Init != nil {
		if err := c.exprAs(s.Init, t); err != nil {
			return err
		}
	} else {
		c.pushZero(t)
	}
	sym, err := c.declareVar(s, s.Name, t)
	if err != nil {
		return err
	}
	c.store(sym)
	return nil
}

func (c *Compiler) assign(s *Assign) error {
	sym, err := c.resolveVar(s, s.Name)
	if err != nil {
		return err
	}
	if err := c.exprAs(s.Value, sym.typ); err != nil {
		return err
	}
	c.store(sym)
	return nil
}

func (c *Compiler) ifStmt(s *If) error {
	end := c.b().NewLabel()
	if s.Else == nil {
		if err := c.branch(s.Cond, end, false); err != nil {
			return err
		}
		if err := c.block(s.Then); err != nil {
			return err
		}
		c.b().Bind(end)
		return nil
	}

	elseLabel := c.b().NewLabel()
	if err := c.branch(s.Cond, elseLabel, false); err != nil {
		return err
	}
	if err := c.block(s.Then); err != nil {
		return err
	}
	c.b().EmitJump(vm.OpJump, end)
	c.b().Bind(elseLabel)
	if err := c.block(s.Else); err != nil {
		return err
	}
	c.b().Bind(end)
	return nil
}

func (c *Compiler) while(s *While) error {
	start := c.b().NewLabel()
	end := c.b().NewLabel()
	c.b().Bind(start)
	if err := c.branch(s.Cond, end, false); err != nil {
		return err
	}
	if err := c.loopBody(s.Body, end, start); err != nil {
		return err
	}
	c.b().EmitJump(vm.OpJump, start)
	c.b().Bind(end)
	return nil
}

func (c *Compiler) forStmt(s *For) error {
	saved := c.scope
	c.scope = newScope(saved, c.fs)
	defer func() { c.scope = saved }()

	if s.Init != nil {
		if err := c.stmt(s.Init); err != nil {
			return err
		}
	}
	start := c.b().NewLabel()
	next := c.b().NewLabel()
	end := c.b().NewLabel()
	c.b().Bind(start)
	if s.Cond != nil {
		if err := c.branch(s.Cond, end, false); err != nil {
			return err
		}
	}
	if err := c.loopBody(s.Body, end, next); err != nil {
		return err
	}
	c.b().Bind(next)
	if s.Post != nil {
		if err := c.stmt(s.Post); err != nil {
			return err
		}
	}
	c.b().EmitJump(vm.OpJump, start)
	c.b().Bind(end)
	return nil
}

// forRange compiles for (v in from..to) as
//
//	v = from; limit = to
//	while v <= limit { body; v = v + 1 }
//
// with limit in a hidden slot so that to is evaluated once. Both bounds are
// evaluated before the loop variable comes into scope.
func (c *Compiler) forRange(s *ForRange) error {
	if s.VarType != "" {
		t, err := resolveType(s, s.VarType)
		if err != nil {
			return err
		}
		if t != vm.TypeInt {
			return errorAt(s, InvalidRangeType, "range variable %s must be int, not %s", s.Var, t)
		}
	}
	for _, bound := range []Expr{s.From, s.To} {
		t, err := c.typeOf(bound)
		if err != nil {
			return err
		}
		if t != vm.TypeInt {
			return errorAt(bound, InvalidRangeType, "range bound must be int, not %s", t)
		}
	}

	if _, err := c.expr(s.From); err != nil {
		return err
	}
	if _, err := c.expr(s.To); err != nil {
		return err
	}
	limit := &symbol{kind: symVar, typ: vm.TypeInt, fn: c.fs.fn.ID, slot: c.fs.addSlot(vm.TypeInt)}
	c.store(limit)

	saved := c.scope
	c.scope = newScope(saved, c.fs)
	defer func() { c.scope = saved }()

	v, err := c.rangeVar(s)
	if err != nil {
		return err
	}
	c.store(v)

	start := c.b().NewLabel()
	next := c.b().NewLabel()
	end := c.b().NewLabel()
	c.b().Bind(start)
	c.load(v)
	c.load(limit)
	c.b().EmitJump(vm.OpJumpGtInt, end)
	if err := c.loopBody(s.Body, end, next); err != nil {
		return err
	}
	c.b().Bind(next)
	c.load(v)
	c.b().EmitInt64(vm.OpPushInt, 1)
	c.emit(vm.OpAddInt)
	c.store(v)
	c.b().EmitJump(vm.OpJump, start)
	c.b().Bind(end)
	return nil
}

// rangeVar returns the variable a range loop counts in. A loop without a
// declared type reuses a variable already in scope, which must be int, and
// otherwise declares a fresh one.
func (c *Compiler) rangeVar(s *ForRange) (*symbol, error) {
	if s.VarType == "" {
		if sym, ok := c.scope.resolve(s.Var); ok {
			if sym.kind != symVar {
				return nil, errorAt(s, TypeMismatch, "%s is a function, not a variable", s.Var)
			}
			if sym.typ != vm.TypeInt {
				return nil, errorAt(s, InvalidRangeType, "range variable %s must be int, not %s", s.Var, sym.typ)
			}
			return sym, nil
		}
	}
	return c.declareVar(s, s.Var, vm.TypeInt)
}

// loopBody compiles a loop body with break and continue targets.
func (c *Compiler) loopBody(body []Stmt, breakTo, continueTo vm.Label) error {
	c.fs.loops = append(c.fs.loops, loop{breakTo: breakTo, continueTo: continueTo})
	defer func() { c.fs.loops = c.fs.loops[:len(c.fs.loops)-1] }()
	return c.block(body)
}

func (c *Compiler) returnStmt(s *Return) error {
	ret := c.fs.fn.ReturnType
	if s.Value == nil {
		if ret != vm.TypeVoid {
			return errorAt(s, TypeMismatch, "%s must return %s", c.fs.fn.Name, ret)
		}
		c.emit(vm.OpReturn)
		return nil
	}
	if ret == vm.TypeVoid {
		return errorAt(s, TypeMismatch, "%s is void and cannot return a value", c.fs.fn.Name)
	}
	if err := c.exprAs(s.Value, ret); err != nil {
		return err
	}
	c.emit(vm.OpReturnValue)
	return nil
}

func (c *Compiler) print(s *Print) error {
	for _, arg := range s.Args {
		t, err := c.expr(arg)
		if err != nil {
			return err
		}
		switch t {
		case vm.TypeInt:
			c.emit(vm.OpPrintInt)
		case vm.TypeDouble:
			c.emit(vm.OpPrintDouble)
		case vm.TypeString:
			c.emit(vm.OpPrintString)
		default:
			return errorAt(arg, TypeMismatch, "cannot print a %s value", t)
		}
	}
	if s.Newline {
		c.emit(vm.OpPrintNewline)
	}
	return nil
}
