package compiler

import "github.com/chazu/kestrel/vm"

type symbolKind int

const (
	symVar symbolKind = iota
	symFunc
	symNative
)

// symbol is a resolved name.
type symbol struct {
	kind symbolKind
	name string

	// variables
	typ  vm.Type
	fn   int // owning function id
	slot int

	// functions and natives
	id     int
	params []vm.Type
	ret    vm.Type
}

// scope is one lexical block. Blocks share their function's slot counter.
type scope struct {
	parent *scope
	fs     *funcState
	names  map[string]*symbol
}

func newScope(parent *scope, fs *funcState) *scope {
	return &scope{parent: parent, fs: fs, names: make(map[string]*symbol)}
}

// declare adds a symbol; it reports false if the name is already declared
// in this block.
func (s *scope) declare(sym *symbol) bool {
	if _, ok := s.names[sym.name]; ok {
		return false
	}
	s.names[sym.name] = sym
	return true
}

// resolve searches this block and then every enclosing block, crossing
// function boundaries.
func (s *scope) resolve(name string) (*symbol, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if sym, ok := sc.names[name]; ok {
			return sym, true
		}
	}
	return nil, false
}

// loop holds the jump targets of an enclosing loop.
type loop struct {
	breakTo    vm.Label
	continueTo vm.Label
}

// funcState is the compiler's view of the function being translated.
type funcState struct {
	fn      *vm.Function
	builder *vm.BytecodeBuilder
	loops   []loop
	slots   int
	locals  []vm.Type // types of the slots after the parameters
}

func newFuncState(fn *vm.Function) *funcState {
	return &funcState{fn: fn, builder: vm.NewBytecodeBuilder(), slots: fn.NumParams()}
}

// addSlot reserves a new slot of type t. Slots are never reused within a
// function.
func (fs *funcState) addSlot(t vm.Type) int {
	slot := fs.slots
	fs.slots++
	fs.locals = append(fs.locals, t)
	return slot
}
