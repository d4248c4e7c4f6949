package compiler

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"
)

// ---------------------------------------------------------------------------
// Document: YAML syntax-tree input
// ---------------------------------------------------------------------------
//
// A document is a YAML sequence of statements. Each statement and each
// non-scalar expression is a mapping with a single key naming the node:
//
//	- func:
//	    name: square
//	    params: [{name: x, type: int}]
//	    returns: int
//	    body:
//	      - return: {binary: {op: "*", left: {load: x}, right: {load: x}}}
//	- println: [{call: {name: square, args: [7]}}]
//
// Scalars are literals: 7 is an int, 7.0 a double, true a bool and any
// other scalar a string. Node line and column become source positions.

// SyntaxError is a malformed document node.
type SyntaxError struct {
	Pos Position
	Msg string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Msg)
}

// ErrorList is every syntax error found in a document.
type ErrorList []*SyntaxError

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", l[0], len(l)-1)
}

// DecodeDocument reads a syntax-tree document. Syntax errors are returned
// as an ErrorList.
func DecodeDocument(r io.Reader) (*Program, error) {
	var root yaml.Node
	if err := yaml.NewDecoder(r).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return &Program{}, nil
		}
		return nil, fmt.Errorf("reading document: %w", err)
	}
	return DecodeNode(&root)
}

// ParseDocument decodes a document held in memory.
func ParseDocument(src string) (*Program, error) {
	return DecodeDocument(strings.NewReader(src))
}

// DecodeNode builds a Program from an already parsed YAML node.
func DecodeNode(root *yaml.Node) (*Program, error) {
	d := &decoder{}
	n := root
	if n.Kind == yaml.DocumentNode {
		if len(n.Content) == 0 {
			return &Program{}, nil
		}
		n = n.Content[0]
	}
	prog := &Program{SpanVal: span(n), Body: d.stmtList(n)}
	if len(d.errors) > 0 {
		return nil, d.errors
	}
	return prog, nil
}

type decoder struct {
	errors ErrorList
}

func (d *decoder) errorf(n *yaml.Node, format string, args ...any) {
	d.errors = append(d.errors, &SyntaxError{Pos: pos(n), Msg: fmt.Sprintf(format, args...)})
}

func pos(n *yaml.Node) Position {
	return Position{Line: n.Line, Column: n.Column}
}

func span(n *yaml.Node) Span {
	return Span{Start: pos(n), End: pos(n)}
}

// single splits a one-key mapping into its key and value.
func (d *decoder) single(n *yaml.Node, what string) (string, *yaml.Node, bool) {
	if n.Kind != yaml.MappingNode || len(n.Content) != 2 {
		d.errorf(n, "%s must be a mapping with a single key", what)
		return "", nil, false
	}
	return n.Content[0].Value, n.Content[1], true
}

// fields returns the entries of a mapping, rejecting keys not in allowed.
func (d *decoder) fields(n *yaml.Node, what string, allowed ...string) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node)
	if n.Kind != yaml.MappingNode {
		d.errorf(n, "%s must be a mapping", what)
		return out
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		k, v := n.Content[i], n.Content[i+1]
		known := false
		for _, a := range allowed {
			if k.Value == a {
				known = true
				break
			}
		}
		if !known {
			d.errorf(k, "unknown field %q in %s", k.Value, what)
			continue
		}
		if _, dup := out[k.Value]; dup {
			d.errorf(k, "duplicate field %q in %s", k.Value, what)
			continue
		}
		out[k.Value] = v
	}
	return out
}

func (d *decoder) name(n *yaml.Node, f map[string]*yaml.Node, key, what string) string {
	v, ok := f[key]
	if !ok {
		d.errorf(n, "%s needs a %s", what, key)
		return ""
	}
	if v.Kind != yaml.ScalarNode || v.Value == "" {
		d.errorf(v, "%s %s must be a non-empty scalar", what, key)
		return ""
	}
	return v.Value
}

func optionalName(f map[string]*yaml.Node, key string) string {
	if v, ok := f[key]; ok && v.Kind == yaml.ScalarNode {
		return v.Value
	}
	return ""
}

func isNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null")
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

func (d *decoder) stmtList(n *yaml.Node) []Stmt {
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		d.errorf(n, "expected a list of statements")
		return nil
	}
	out := make([]Stmt, 0, len(n.Content))
	for _, c := range n.Content {
		if s := d.stmt(c); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (d *decoder) stmt(n *yaml.Node) Stmt {
	// break, continue and a void return may be written as bare scalars.
	if n.Kind == yaml.ScalarNode {
		switch n.Value {
		case "break":
			return &Break{SpanVal: span(n)}
		case "continue":
			return &Continue{SpanVal: span(n)}
		case "return":
			return &Return{SpanVal: span(n)}
		}
	}
	key, v, ok := d.single(n, "statement")
	if !ok {
		return nil
	}
	sp := span(n)

	switch key {
	case "var":
		f := d.fields(v, "var", "name", "type", "init")
		s := &VarDecl{SpanVal: sp, Name: d.name(v, f, "name", "var"), Type: optionalName(f, "type")}
		if init, ok := f["init"]; ok {
			s.Init = d.expr(init)
		}
		return s
	case "assign":
		f := d.fields(v, "assign", "name", "value")
		return &Assign{SpanVal: sp, Name: d.name(v, f, "name", "assign"), Value: d.required(v, f, "value", "assign")}
	case "expr":
		return &ExprStmt{SpanVal: sp, Expr: d.expr(v)}
	case "block":
		return &Block{SpanVal: sp, Stmts: d.stmtList(v)}
	case "if":
		f := d.fields(v, "if", "cond", "then", "else")
		s := &If{SpanVal: sp, Cond: d.required(v, f, "cond", "if"), Then: d.stmtList(f["then"])}
		if e, ok := f["else"]; ok {
			s.Else = d.stmtList(e)
			if s.Else == nil {
				s.Else = []Stmt{}
			}
		}
		return s
	case "while":
		f := d.fields(v, "while", "cond", "body")
		return &While{SpanVal: sp, Cond: d.required(v, f, "cond", "while"), Body: d.stmtList(f["body"])}
	case "for":
		f := d.fields(v, "for", "init", "cond", "post", "body")
		s := &For{SpanVal: sp, Body: d.stmtList(f["body"])}
		if c, ok := f["init"]; ok && !isNull(c) {
			s.Init = d.stmt(c)
		}
		if c, ok := f["cond"]; ok && !isNull(c) {
			s.Cond = d.expr(c)
		}
		if c, ok := f["post"]; ok && !isNull(c) {
			s.Post = d.stmt(c)
		}
		return s
	case "range":
		f := d.fields(v, "range", "var", "type", "from", "to", "body")
		return &ForRange{
			SpanVal: sp,
			Var:     d.name(v, f, "var", "range"),
			VarType: optionalName(f, "type"),
			From:    d.required(v, f, "from", "range"),
			To:      d.required(v, f, "to", "range"),
			Body:    d.stmtList(f["body"]),
		}
	case "break":
		return &Break{SpanVal: sp}
	case "continue":
		return &Continue{SpanVal: sp}
	case "return":
		s := &Return{SpanVal: sp}
		if !isNull(v) {
			s.Value = d.expr(v)
		}
		return s
	case "print", "println":
		s := &Print{SpanVal: sp, Newline: key == "println"}
		switch {
		case isNull(v):
		case v.Kind == yaml.SequenceNode:
			for _, a := range v.Content {
				s.Args = append(s.Args, d.expr(a))
			}
		default:
			s.Args = []Expr{d.expr(v)}
		}
		return s
	case "func":
		f := d.fields(v, "func", "name", "params", "returns", "body")
		return &FuncDecl{
			SpanVal:    sp,
			Name:       d.name(v, f, "name", "func"),
			Params:     d.params(f["params"]),
			ReturnType: optionalName(f, "returns"),
			Body:       d.stmtList(f["body"]),
		}
	case "native":
		f := d.fields(v, "native", "name", "params", "returns")
		return &NativeDecl{
			SpanVal:    sp,
			Name:       d.name(v, f, "name", "native"),
			Params:     d.params(f["params"]),
			ReturnType: optionalName(f, "returns"),
		}
	}
	d.errorf(n, "unknown statement %q", key)
	return nil
}

func (d *decoder) params(n *yaml.Node) []Param {
	if isNull(n) {
		return nil
	}
	if n.Kind != yaml.SequenceNode {
		d.errorf(n, "params must be a list")
		return nil
	}
	out := make([]Param, 0, len(n.Content))
	for _, p := range n.Content {
		f := d.fields(p, "parameter", "name", "type")
		out = append(out, Param{Name: d.name(p, f, "name", "parameter"), Type: d.name(p, f, "type", "parameter")})
	}
	return out
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (d *decoder) required(n *yaml.Node, f map[string]*yaml.Node, key, what string) Expr {
	v, ok := f[key]
	if !ok {
		d.errorf(n, "%s needs %s", what, key)
		return nil
	}
	return d.expr(v)
}

func (d *decoder) expr(n *yaml.Node) Expr {
	sp := span(n)
	if n.Kind == yaml.ScalarNode {
		return d.scalar(n, n.ShortTag())
	}
	key, v, ok := d.single(n, "expression")
	if !ok {
		return nil
	}

	switch key {
	case "int":
		return d.scalar(v, "!!int")
	case "double":
		return d.scalar(v, "!!float")
	case "bool":
		return d.scalar(v, "!!bool")
	case "string":
		return d.scalar(v, "!!str")
	case "load":
		if v.Kind != yaml.ScalarNode || v.Value == "" {
			d.errorf(v, "load needs a variable name")
			return nil
		}
		return &Variable{SpanVal: sp, Name: v.Value}
	case "unary":
		f := d.fields(v, "unary", "op", "operand")
		return &Unary{SpanVal: sp, Op: d.name(v, f, "op", "unary"), Operand: d.required(v, f, "operand", "unary")}
	case "binary":
		f := d.fields(v, "binary", "op", "left", "right")
		return &Binary{
			SpanVal: sp,
			Op:      d.name(v, f, "op", "binary"),
			Left:    d.required(v, f, "left", "binary"),
			Right:   d.required(v, f, "right", "binary"),
		}
	case "cond":
		f := d.fields(v, "cond", "test", "then", "else")
		return &Conditional{
			SpanVal: sp,
			Cond:    d.required(v, f, "test", "cond"),
			Then:    d.required(v, f, "then", "cond"),
			Else:    d.required(v, f, "else", "cond"),
		}
	case "call":
		f := d.fields(v, "call", "name", "args")
		c := &Call{SpanVal: sp, Name: d.name(v, f, "name", "call")}
		if args, ok := f["args"]; ok && !isNull(args) {
			if args.Kind != yaml.SequenceNode {
				d.errorf(args, "call args must be a list")
			} else {
				for _, a := range args.Content {
					c.Args = append(c.Args, d.expr(a))
				}
			}
		}
		return c
	}
	d.errorf(n, "unknown expression %q", key)
	return nil
}

// scalar decodes a literal, reading its text as tag.
func (d *decoder) scalar(n *yaml.Node, tag string) Expr {
	sp := span(n)
	if n.Kind != yaml.ScalarNode {
		d.errorf(n, "expected a literal")
		return nil
	}
	switch tag {
	case "!!int":
		var v int64
		if err := n.Decode(&v); err != nil {
			d.errorf(n, "invalid int %q", n.Value)
			return nil
		}
		return &IntLiteral{SpanVal: sp, Value: v}
	case "!!float":
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			// YAML spellings such as .inf and .nan
			if err := n.Decode(&v); err != nil {
				d.errorf(n, "invalid double %q", n.Value)
				return nil
			}
		}
		return &DoubleLiteral{SpanVal: sp, Value: v}
	case "!!bool":
		var v bool
		if err := n.Decode(&v); err != nil {
			d.errorf(n, "invalid bool %q", n.Value)
			return nil
		}
		return &BoolLiteral{SpanVal: sp, Value: v}
	case "!!null":
		d.errorf(n, "missing expression")
		return nil
	}
	return &StringLiteral{SpanVal: sp, Value: n.Value}
}
