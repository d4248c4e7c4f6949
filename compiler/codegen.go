package compiler

import (
	"errors"
	"math"

	"github.com/tliron/commonlog"

	"github.com/chazu/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Codegen: Compile AST to bytecode
// ---------------------------------------------------------------------------

// Compiler translates a Program into a vm.Program in a single pass.
type Compiler struct {
	natives vm.NativeResolver
	log     commonlog.Logger

	prog  *vm.Program
	fs    *funcState
	scope *scope
	funcs map[*FuncDecl]*vm.Function
	types map[Expr]vm.Type // static types of the expressions typed so far
	empty uint16           // constant id of ""
}

// NewCompiler creates a compiler that resolves native declarations through
// natives. A nil resolver leaves every native unresolved.
func NewCompiler(natives vm.NativeResolver) *Compiler {
	return &Compiler{
		natives: natives,
		log:     commonlog.GetLogger("kestrel.compiler"),
	}
}

// Compile is a convenience wrapper around NewCompiler(natives).Compile(p).
func Compile(p *Program, natives vm.NativeResolver) (*vm.Program, error) {
	return NewCompiler(natives).Compile(p)
}

// Compile translates p. On error no program is returned; the error is
// always a *Error.
func (c *Compiler) Compile(p *Program) (*vm.Program, error) {
	c.prog = vm.NewProgram()
	c.funcs = make(map[*FuncDecl]*vm.Function)
	c.types = make(map[Expr]vm.Type)

	top, err := c.prog.Functions.Register("main", nil, vm.TypeVoid, vm.NoOwner)
	if err != nil {
		return nil, errorAt(p, Internal, "%v", err)
	}
	if c.empty, err = c.prog.Constants.Intern(""); err != nil {
		return nil, errorAt(p, Internal, "%v", err)
	}

	c.fs = newFuncState(top)
	c.scope = newScope(nil, c.fs)
	if err := c.stmts(p.Body); err != nil {
		return nil, err
	}
	c.emit(vm.OpHalt)
	if err := c.finish(p); err != nil {
		return nil, err
	}

	c.log.Debugf("compiled %d functions, %d constants, %d natives",
		c.prog.Functions.Len(), c.prog.Constants.Len(), len(c.prog.Natives.All()))
	return c.prog, nil
}

// finish seals the current function's bytecode.
func (c *Compiler) finish(node Node) error {
	if c.fs.slots > math.MaxUint16+1 {
		return errorAt(node, CodeTooLarge, "%s needs %d slots", c.fs.fn.Name, c.fs.slots)
	}
	code, err := c.fs.builder.Finish()
	switch {
	case errors.Is(err, vm.ErrJumpTooFar):
		return &Error{Kind: CodeTooLarge, Pos: node.Span().Start, Msg: c.fs.fn.Name, Err: err}
	case err != nil:
		return &Error{Kind: Internal, Pos: node.Span().Start, Msg: c.fs.fn.Name, Err: err}
	}
	c.fs.fn.Code = code
	c.fs.fn.NumLocals = c.fs.slots
	c.fs.fn.Locals = c.fs.locals
	return nil
}

func (c *Compiler) emit(op vm.Opcode) {
	c.fs.builder.Emit(op)
}

func (c *Compiler) b() *vm.BytecodeBuilder {
	return c.fs.builder
}

// ---------------------------------------------------------------------------
// Declarations
// ---------------------------------------------------------------------------

// hoist registers every function and native declared directly in stmts, so
// that they are callable from anywhere in the block.
func (c *Compiler) hoist(stmts []Stmt) error {
	for _, s := range stmts {
		switch d := s.(type) {
		case *FuncDecl:
			params, err := c.paramTypes(d, d.Params)
			if err != nil {
				return err
			}
			ret, err := resolveType(d, d.ReturnType)
			if err != nil {
				return err
			}
			fn, err := c.prog.Functions.Register(d.Name, params, ret, c.fs.fn.ID)
			if err != nil {
				return errorAt(d, CodeTooLarge, "%v", err)
			}
			if !c.scope.declare(&symbol{kind: symFunc, name: d.Name, id: fn.ID, params: params, ret: ret}) {
				return errorAt(d, DuplicateDeclaration, "%s already declared in this scope", d.Name)
			}
			c.funcs[d] = fn
			c.log.Debugf("registered function %s owner=%d", fn, fn.Owner)

		case *NativeDecl:
			params, err := c.paramTypes(d, d.Params)
			if err != nil {
				return err
			}
			ret, err := resolveType(d, d.ReturnType)
			if err != nil {
				return err
			}
			sig := vm.Signature{Params: params, Return: ret}
			id, err := c.prog.Natives.Register(d.Name, sig, c.natives)
			if err != nil {
				return errorAt(d, CodeTooLarge, "%v", err)
			}
			if !c.scope.declare(&symbol{kind: symNative, name: d.Name, id: id, params: params, ret: ret}) {
				return errorAt(d, DuplicateDeclaration, "%s already declared in this scope", d.Name)
			}
			if n, _ := c.prog.Natives.Lookup(id); n.Fn == nil {
				c.log.Warningf("native %s%s is unresolved: %v", d.Name, sig, n.ResolveErr)
			}
		}
	}
	return nil
}

func (c *Compiler) paramTypes(node Node, params []Param) ([]vm.Type, error) {
	types := make([]vm.Type, len(params))
	for i, p := range params {
		t, err := valueType(node, p.Type, "parameter "+p.Name)
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	return types, nil
}

// function compiles the body of a hoisted function declaration.
func (c *Compiler) function(d *FuncDecl) error {
	fn, ok := c.funcs[d]
	if !ok {
		return errorAt(d, Internal, "function %s was not hoisted", d.Name)
	}
	savedFS, savedScope := c.fs, c.scope
	defer func() { c.fs, c.scope = savedFS, savedScope }()

	c.fs = newFuncState(fn)
	c.scope = newScope(savedScope, c.fs)
	for i, p := range d.Params {
		sym := &symbol{kind: symVar, name: p.Name, typ: fn.Params[i], fn: fn.ID, slot: i}
		if !c.scope.declare(sym) {
			return errorAt(d, DuplicateDeclaration, "parameter %s declared twice", p.Name)
		}
	}

	if err := c.stmts(d.Body); err != nil {
		return err
	}
	if !alwaysReturns(d.Body) {
		if fn.ReturnType != vm.TypeVoid {
			return errorAt(d, MissingReturn, "%s must return %s on every path", d.Name, fn.ReturnType)
		}
		c.emit(vm.OpReturn)
	}
	return c.finish(d)
}

// alwaysReturns reports whether control cannot fall off the end of stmts.
func alwaysReturns(stmts []Stmt) bool {
	for _, s := range stmts {
		switch s := s.(type) {
		case *Return:
			return true
		case *Block:
			if alwaysReturns(s.Stmts) {
				return true
			}
		case *If:
			if s.Else != nil && alwaysReturns(s.Then) && alwaysReturns(s.Else) {
				return true
			}
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Symbol resolution
// ---------------------------------------------------------------------------

func (c *Compiler) resolveVar(node Node, name string) (*symbol, error) {
	sym, ok := c.scope.resolve(name)
	if !ok {
		return nil, errorAt(node, UnresolvedSymbol, "%s is not declared", name)
	}
	if sym.kind != symVar {
		return nil, errorAt(node, TypeMismatch, "%s is a function, not a variable", name)
	}
	return sym, nil
}

func (c *Compiler) resolveCallee(call *Call) (*symbol, error) {
	sym, ok := c.scope.resolve(call.Name)
	if !ok {
		return nil, errorAt(call, UnresolvedSymbol, "function %s is not declared", call.Name)
	}
	if sym.kind == symVar {
		return nil, errorAt(call, TypeMismatch, "%s is a variable, not a function", call.Name)
	}
	if len(call.Args) != len(sym.params) {
		return nil, errorAt(call, ArityMismatch, "%s takes %d arguments, %d given", call.Name, len(sym.params), len(call.Args))
	}
	return sym, nil
}

// load pushes a variable. Variables of enclosing functions go through the
// context chain.
func (c *Compiler) load(sym *symbol) {
	if sym.fn == c.fs.fn.ID {
		c.b().EmitUint16(vm.OpLoadLocal, uint16(sym.slot))
		return
	}
	c.b().EmitPair(vm.OpLoadContext, uint16(sym.fn), uint16(sym.slot))
}

// store pops into a variable.
func (c *Compiler) store(sym *symbol) {
	if sym.fn == c.fs.fn.ID {
		c.b().EmitUint16(vm.OpStoreLocal, uint16(sym.slot))
		return
	}
	c.b().EmitPair(vm.OpStoreContext, uint16(sym.fn), uint16(sym.slot))
}

// declareVar allocates a slot for a new variable in the current block.
func (c *Compiler) declareVar(node Node, name string, t vm.Type) (*symbol, error) {
	sym := &symbol{kind: symVar, name: name, typ: t, fn: c.fs.fn.ID, slot: c.fs.addSlot(t)}
	if !c.scope.declare(sym) {
		return nil, errorAt(node, DuplicateDeclaration, "%s already declared in this scope", name)
	}
	return sym, nil
}

func (c *Compiler) pushZero(t vm.Type) {
	switch t {
	case vm.TypeInt:
		c.b().EmitInt64(vm.OpPushInt, 0)
	case vm.TypeDouble:
		c.b().EmitFloat64(vm.OpPushDouble, 0)
	case vm.TypeString:
		c.b().EmitUint16(vm.OpPushString, c.empty)
	}
}
