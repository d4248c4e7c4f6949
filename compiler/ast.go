package compiler

// ---------------------------------------------------------------------------
// AST: Syntax tree consumed by the compiler
// ---------------------------------------------------------------------------

// Position represents a source location.
type Position struct {
	Line   int // 1-based line number
	Column int // 1-based column number
}

// Span represents a range in source code.
type Span struct {
	Start Position
	End   Position
}

// Node is the interface implemented by all AST nodes.
type Node interface {
	Span() Span
	node() // marker method
}

// Expr is the interface for expression nodes.
type Expr interface {
	Node
	expr() // marker method
}

// Stmt is the interface for statement nodes.
type Stmt interface {
	Node
	stmt() // marker method
}

// Program is a whole script. Its body is the top-level function.
type Program struct {
	SpanVal Span
	Body    []Stmt
}

func (n *Program) Span() Span { return n.SpanVal }
func (n *Program) node()      {}

// ---------------------------------------------------------------------------
// Expression nodes
// ---------------------------------------------------------------------------

// IntLiteral represents an integer literal.
type IntLiteral struct {
	SpanVal Span
	Value   int64
}

func (n *IntLiteral) Span() Span { return n.SpanVal }
func (n *IntLiteral) node()      {}
func (n *IntLiteral) expr()      {}

// DoubleLiteral represents a floating-point literal.
type DoubleLiteral struct {
	SpanVal Span
	Value   float64
}

func (n *DoubleLiteral) Span() Span { return n.SpanVal }
func (n *DoubleLiteral) node()      {}
func (n *DoubleLiteral) expr()      {}

// StringLiteral represents a string literal.
type StringLiteral struct {
	SpanVal Span
	Value   string
}

func (n *StringLiteral) Span() Span { return n.SpanVal }
func (n *StringLiteral) node()      {}
func (n *StringLiteral) expr()      {}

// BoolLiteral represents true or false. Booleans are the ints 1 and 0.
type BoolLiteral struct {
	SpanVal Span
	Value   bool
}

func (n *BoolLiteral) Span() Span { return n.SpanVal }
func (n *BoolLiteral) node()      {}
func (n *BoolLiteral) expr()      {}

// Variable represents a variable reference.
type Variable struct {
	SpanVal Span
	Name    string
}

func (n *Variable) Span() Span { return n.SpanVal }
func (n *Variable) node()      {}
func (n *Variable) expr()      {}

// Unary represents -x or !x.
type Unary struct {
	SpanVal Span
	Op      string
	Operand Expr
}

func (n *Unary) Span() Span { return n.SpanVal }
func (n *Unary) node()      {}
func (n *Unary) expr()      {}

// Binary represents an arithmetic, comparison or logical operation.
type Binary struct {
	SpanVal Span
	Op      string
	Left    Expr
	Right   Expr
}

func (n *Binary) Span() Span { return n.SpanVal }
func (n *Binary) node()      {}
func (n *Binary) expr()      {}

// Conditional represents cond ? then : else.
type Conditional struct {
	SpanVal Span
	Cond    Expr
	Then    Expr
	Else    Expr
}

func (n *Conditional) Span() Span { return n.SpanVal }
func (n *Conditional) node()      {}
func (n *Conditional) expr()      {}

// Call represents a call of a declared or native function.
type Call struct {
	SpanVal Span
	Name    string
	Args    []Expr
}

func (n *Call) Span() Span { return n.SpanVal }
func (n *Call) node()      {}
func (n *Call) expr()      {}

// ---------------------------------------------------------------------------
// Statement nodes
// ---------------------------------------------------------------------------

// VarDecl declares a variable. An empty Type is inferred from Init; a nil
// Init stores the zero value.
type VarDecl struct {
	SpanVal Span
	Name    string
	Type    string
	Init    Expr
}

func (n *VarDecl) Span() Span { return n.SpanVal }
func (n *VarDecl) node()      {}
func (n *VarDecl) stmt()      {}

// Assign stores into an existing variable.
type Assign struct {
	SpanVal Span
	Name    string
	Value   Expr
}

func (n *Assign) Span() Span { return n.SpanVal }
func (n *Assign) node()      {}
func (n *Assign) stmt()      {}

// ExprStmt evaluates an expression for its side effects.
type ExprStmt struct {
	SpanVal Span
	Expr    Expr
}

func (n *ExprStmt) Span() Span { return n.SpanVal }
func (n *ExprStmt) node()      {}
func (n *ExprStmt) stmt()      {}

// Block is a nested lexical scope.
type Block struct {
	SpanVal Span
	Stmts   []Stmt
}

func (n *Block) Span() Span { return n.SpanVal }
func (n *Block) node()      {}
func (n *Block) stmt()      {}

// If represents if/else. Else may be nil.
type If struct {
	SpanVal Span
	Cond    Expr
	Then    []Stmt
	Else    []Stmt
}

func (n *If) Span() Span { return n.SpanVal }
func (n *If) node()      {}
func (n *If) stmt()      {}

// While represents a while loop.
type While struct {
	SpanVal Span
	Cond    Expr
	Body    []Stmt
}

func (n *While) Span() Span { return n.SpanVal }
func (n *While) node()      {}
func (n *While) stmt()      {}

// For represents for (init; cond; post). Any part may be nil.
type For struct {
	SpanVal Span
	Init    Stmt
	Cond    Expr
	Post    Stmt
	Body    []Stmt
}

func (n *For) Span() Span { return n.SpanVal }
func (n *For) node()      {}
func (n *For) stmt()      {}

// ForRange represents for (v in from..to), inclusive of both bounds.
type ForRange struct {
	SpanVal Span
	Var     string
	VarType string // must be int when given; when empty a variable in scope is reused
	From    Expr
	To      Expr
	Body    []Stmt
}

func (n *ForRange) Span() Span { return n.SpanVal }
func (n *ForRange) node()      {}
func (n *ForRange) stmt()      {}

// Break leaves the innermost loop.
type Break struct {
	SpanVal Span
}

func (n *Break) Span() Span { return n.SpanVal }
func (n *Break) node()      {}
func (n *Break) stmt()      {}

// Continue starts the next iteration of the innermost loop.
type Continue struct {
	SpanVal Span
}

func (n *Continue) Span() Span { return n.SpanVal }
func (n *Continue) node()      {}
func (n *Continue) stmt()      {}

// Return leaves the enclosing function. Value is nil in void functions.
type Return struct {
	SpanVal Span
	Value   Expr
}

func (n *Return) Span() Span { return n.SpanVal }
func (n *Return) node()      {}
func (n *Return) stmt()      {}

// Print writes its arguments in order, and a newline if Newline is set.
type Print struct {
	SpanVal Span
	Args    []Expr
	Newline bool
}

func (n *Print) Span() Span { return n.SpanVal }
func (n *Print) node()      {}
func (n *Print) stmt()      {}

// Param is a typed function parameter.
type Param struct {
	Name string
	Type string
}

// FuncDecl declares a function. An empty ReturnType means void.
type FuncDecl struct {
	SpanVal    Span
	Name       string
	Params     []Param
	ReturnType string
	Body       []Stmt
}

func (n *FuncDecl) Span() Span { return n.SpanVal }
func (n *FuncDecl) node()      {}
func (n *FuncDecl) stmt()      {}

// NativeDecl declares a host function by symbol name and signature.
type NativeDecl struct {
	SpanVal    Span
	Name       string
	Params     []Param
	ReturnType string
}

func (n *NativeDecl) Span() Span { return n.SpanVal }
func (n *NativeDecl) node()      {}
func (n *NativeDecl) stmt()      {}
