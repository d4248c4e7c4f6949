package vm

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"strconv"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Frame: Execution state for a function invocation
// ---------------------------------------------------------------------------

// Frame is the activation record of one function invocation.
type Frame struct {
	fn       *Function
	pc       int     // next instruction in this frame
	returnPC int     // where the caller resumes
	caller   *Frame  // dynamic link
	lexical  *Frame  // active frame of the lexically enclosing function
	slots    []Value // parameters then locals
	base     int     // operand stack depth owned by callers
}

// Function returns the function executing in the frame.
func (f *Frame) Function() *Function {
	return f.fn
}

// ---------------------------------------------------------------------------
// Interpreter: Bytecode execution engine
// ---------------------------------------------------------------------------

// Default resource bounds.
const (
	DefaultMaxFrames = 1024
	DefaultMaxStack  = 64 * 1024

	cancelCheckInterval = 1024
)

// Options configures an Interpreter.
type Options struct {
	MaxFrames      int       // call depth bound
	MaxStack       int       // operand stack bound
	FloatPrecision int       // decimals for printed doubles, negative for shortest
	Out            io.Writer // print sink; io.Discard when nil
	Trace          bool      // log calls and returns at debug level
}

// DefaultOptions returns the default interpreter options.
func DefaultOptions() Options {
	return Options{
		MaxFrames:      DefaultMaxFrames,
		MaxStack:       DefaultMaxStack,
		FloatPrecision: -1,
	}
}

// Interpreter executes a compiled Program. It is single-threaded; create one
// per run.
type Interpreter struct {
	prog  *Program
	opts  Options
	out   io.Writer
	log   commonlog.Logger
	stack []Value
	frame *Frame
	depth int
	steps uint64
	empty uint16 // constant id of "", the string zero value
	text  []byte // scratch buffer for number formatting
}

// NewInterpreter creates an interpreter for prog.
func NewInterpreter(prog *Program, opts Options) *Interpreter {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = DefaultMaxFrames
	}
	if opts.MaxStack <= 0 {
		opts.MaxStack = DefaultMaxStack
	}
	out := opts.Out
	if out == nil {
		out = io.Discard
	}
	return &Interpreter{
		prog:  prog,
		opts:  opts,
		out:   out,
		log:   commonlog.GetLogger("kestrel.vm"),
		stack: make([]Value, 0, 256),
	}
}

// Steps returns the number of instructions executed so far.
func (i *Interpreter) Steps() uint64 {
	return i.steps
}

// Depth returns the current call depth.
func (i *Interpreter) Depth() int {
	return i.depth
}

// Run executes the program from the top-level function until it halts or
// faults. A non-nil error is always a *Fault.
func (i *Interpreter) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	top, ok := i.prog.Functions.Lookup(0)
	if !ok {
		return &Fault{Kind: UnresolvedFunctionID, Function: 0, Name: "?", Detail: "no top-level function"}
	}
	empty, ok := i.prog.Constants.Find("")
	for _, f := range i.prog.Functions.All() {
		if !ok && slices.Contains(f.Locals, TypeString) {
			return &Fault{Kind: InvalidConstant, Function: f.ID, Name: f.Name, Detail: "string locals need an empty string constant"}
		}
	}
	i.empty = empty
	i.stack = i.stack[:0]
	i.frame = &Frame{fn: top, slots: i.newSlots(top, 0)}
	i.depth = 1

	for {
		if i.steps%cancelCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				in := Instruction{Offset: i.frame.pc}
				return i.faultErr(Cancelled, in, err)
			}
		}
		i.steps++

		fr := i.frame
		in, err := Decode(fr.fn.Code, fr.pc)
		if err != nil {
			return i.faultErr(IllegalInstruction, Instruction{Offset: fr.pc}, err)
		}
		fr.pc = in.Next()

		halted, err := i.exec(fr, in)
		if err != nil {
			return err
		}
		if halted {
			return nil
		}
	}
}

// exec executes one instruction. It reports whether the program halted.
func (i *Interpreter) exec(fr *Frame, in Instruction) (bool, error) {
	switch in.Op {
	// --- Stack operations ---
	case OpNOP:

	case OpPOP:
		if _, err := i.pop(in); err != nil {
			return false, err
		}

	// --- Push constants ---
	case OpPushInt:
		return false, i.push(in, IntValue(in.Int()))

	case OpPushDouble:
		return false, i.push(in, DoubleValue(in.Float()))

	case OpPushString:
		if int(in.A) >= i.prog.Constants.Len() {
			return false, i.fault(InvalidConstant, in, "constant %d of %d", in.A, i.prog.Constants.Len())
		}
		return false, i.push(in, StringValue(in.A))

	// --- Variables ---
	case OpLoadLocal:
		if int(in.A) >= len(fr.slots) {
			return false, i.badSlot(in, fr, in.A)
		}
		return false, i.push(in, fr.slots[in.A])

	case OpStoreLocal:
		if int(in.A) >= len(fr.slots) {
			return false, i.badSlot(in, fr, in.A)
		}
		v, err := i.pop(in)
		if err != nil {
			return false, err
		}
		fr.slots[in.A] = v

	case OpLoadContext:
		ctx, err := i.contextFrame(in)
		if err != nil {
			return false, err
		}
		return false, i.push(in, ctx.slots[in.B])

	case OpStoreContext:
		ctx, err := i.contextFrame(in)
		if err != nil {
			return false, err
		}
		v, err := i.pop(in)
		if err != nil {
			return false, err
		}
		ctx.slots[in.B] = v

	// --- Arithmetic ---
	case OpAddInt, OpSubInt, OpMulInt, OpDivInt, OpModInt:
		return false, i.intArith(in)

	case OpNegInt:
		n, err := i.popInt(in)
		if err != nil {
			return false, err
		}
		return false, i.push(in, IntValue(-n))

	case OpAddDouble, OpSubDouble, OpMulDouble, OpDivDouble, OpModDouble:
		return false, i.doubleArith(in)

	case OpNegDouble:
		f, err := i.popDouble(in)
		if err != nil {
			return false, err
		}
		return false, i.push(in, DoubleValue(-f))

	// --- Conversions ---
	case OpIntToDouble:
		n, err := i.popInt(in)
		if err != nil {
			return false, err
		}
		return false, i.push(in, DoubleValue(float64(n)))

	case OpDoubleToInt:
		f, err := i.popDouble(in)
		if err != nil {
			return false, err
		}
		return false, i.push(in, IntValue(int64(f)))

	// --- Control flow ---
	case OpJump:
		return false, i.jump(fr, in)

	case OpJumpTrue, OpJumpFalse:
		n, err := i.popInt(in)
		if err != nil {
			return false, err
		}
		if (n != 0) == (in.Op == OpJumpTrue) {
			return false, i.jump(fr, in)
		}

	case OpJumpEqInt, OpJumpNeInt, OpJumpLtInt, OpJumpLeInt, OpJumpGtInt, OpJumpGeInt:
		r, err := i.popInt(in)
		if err != nil {
			return false, err
		}
		l, err := i.popInt(in)
		if err != nil {
			return false, err
		}
		if compareInt(in.Op, l, r) {
			return false, i.jump(fr, in)
		}

	case OpJumpEqDouble, OpJumpNeDouble, OpJumpLtDouble, OpJumpLeDouble, OpJumpGtDouble, OpJumpGeDouble:
		r, err := i.popDouble(in)
		if err != nil {
			return false, err
		}
		l, err := i.popDouble(in)
		if err != nil {
			return false, err
		}
		if compareDouble(in.Op, l, r) {
			return false, i.jump(fr, in)
		}

	case OpJumpEqString, OpJumpNeString:
		r, err := i.popString(in)
		if err != nil {
			return false, err
		}
		l, err := i.popString(in)
		if err != nil {
			return false, err
		}
		if (l == r) == (in.Op == OpJumpEqString) {
			return false, i.jump(fr, in)
		}

	// --- Calls ---
	case OpCall:
		return false, i.call(fr, in)

	case OpCallNative:
		return false, i.callNative(in)

	case OpReturn:
		return i.ret(fr, in, false)

	case OpReturnValue:
		return i.ret(fr, in, true)

	// --- Output ---
	case OpPrintInt:
		n, err := i.popInt(in)
		if err != nil {
			return false, err
		}
		i.text = strconv.AppendInt(i.text[:0], n, 10)
		return false, i.write(in, i.text)

	case OpPrintDouble:
		f, err := i.popDouble(in)
		if err != nil {
			return false, err
		}
		i.text = append(i.text[:0], FormatDouble(f, i.opts.FloatPrecision)...)
		return false, i.write(in, i.text)

	case OpPrintString:
		s, err := i.popString(in)
		if err != nil {
			return false, err
		}
		i.text = append(i.text[:0], s...)
		return false, i.write(in, i.text)

	case OpPrintNewline:
		i.text = append(i.text[:0], '\n')
		return false, i.write(in, i.text)

	case OpHalt:
		return true, nil

	default:
		return false, i.fault(IllegalInstruction, in, "opcode %02X", byte(in.Op))
	}
	return false, nil
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

func (i *Interpreter) push(in Instruction, v Value) error {
	if len(i.stack) >= i.opts.MaxStack {
		return i.fault(StackOverflow, in, "operand stack exceeds %d values", i.opts.MaxStack)
	}
	i.stack = append(i.stack, v)
	return nil
}

func (i *Interpreter) pop(in Instruction) (Value, error) {
	if len(i.stack) <= i.frame.base {
		return Value{}, i.fault(StackUnderflow, in, "")
	}
	v := i.stack[len(i.stack)-1]
	i.stack = i.stack[:len(i.stack)-1]
	return v, nil
}

func (i *Interpreter) popKind(in Instruction, k Kind) (Value, error) {
	v, err := i.pop(in)
	if err != nil {
		return v, err
	}
	if v.Kind() != k {
		return v, i.fault(OperandKindMismatch, in, "expected %s, found %s", k, v.Kind())
	}
	return v, nil
}

func (i *Interpreter) popInt(in Instruction) (int64, error) {
	v, err := i.popKind(in, KindInt)
	n, _ := v.Int()
	return n, err
}

func (i *Interpreter) popDouble(in Instruction) (float64, error) {
	v, err := i.popKind(in, KindDouble)
	f, _ := v.Double()
	return f, err
}

// popString pops a string and resolves it through the constant pool.
func (i *Interpreter) popString(in Instruction) (string, error) {
	v, err := i.popKind(in, KindString)
	if err != nil {
		return "", err
	}
	id, _ := v.StringID()
	s, ok := i.prog.Constants.Lookup(id)
	if !ok {
		return "", i.fault(InvalidConstant, in, "constant %d of %d", id, i.prog.Constants.Len())
	}
	return s, nil
}

// ---------------------------------------------------------------------------
// Arithmetic and comparison
// ---------------------------------------------------------------------------

// intArith pops right then left and pushes left <op> right.
func (i *Interpreter) intArith(in Instruction) error {
	r, err := i.popInt(in)
	if err != nil {
		return err
	}
	l, err := i.popInt(in)
	if err != nil {
		return err
	}
	var n int64
	switch in.Op {
	case OpAddInt:
		n = l + r
	case OpSubInt:
		n = l - r
	case OpMulInt:
		n = l * r
	case OpDivInt, OpModInt:
		if r == 0 {
			return i.fault(DivisionByZero, in, "")
		}
		if in.Op == OpDivInt {
			n = l / r
		} else {
			n = l % r
		}
	}
	return i.push(in, IntValue(n))
}

func (i *Interpreter) doubleArith(in Instruction) error {
	r, err := i.popDouble(in)
	if err != nil {
		return err
	}
	l, err := i.popDouble(in)
	if err != nil {
		return err
	}
	var f float64
	switch in.Op {
	case OpAddDouble:
		f = l + r
	case OpSubDouble:
		f = l - r
	case OpMulDouble:
		f = l * r
	case OpDivDouble:
		f = l / r
	case OpModDouble:
		f = math.Mod(l, r)
	}
	return i.push(in, DoubleValue(f))
}

func compareInt(op Opcode, l, r int64) bool {
	switch op {
	case OpJumpEqInt:
		return l == r
	case OpJumpNeInt:
		return l != r
	case OpJumpLtInt:
		return l < r
	case OpJumpLeInt:
		return l <= r
	case OpJumpGtInt:
		return l > r
	case OpJumpGeInt:
		return l >= r
	}
	return false
}

func compareDouble(op Opcode, l, r float64) bool {
	switch op {
	case OpJumpEqDouble:
		return l == r
	case OpJumpNeDouble:
		return l != r
	case OpJumpLtDouble:
		return l < r
	case OpJumpLeDouble:
		return l <= r
	case OpJumpGtDouble:
		return l > r
	case OpJumpGeDouble:
		return l >= r
	}
	return false
}

func (i *Interpreter) jump(fr *Frame, in Instruction) error {
	target := in.Target()
	if target < 0 || target > len(fr.fn.Code) {
		return i.fault(IllegalInstruction, in, "jump target %04d outside code", target)
	}
	fr.pc = target
	return nil
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// contextFrame walks the lexical chain of the current frame to the active
// frame of function in.A and checks slot in.B.
func (i *Interpreter) contextFrame(in Instruction) (*Frame, error) {
	for p := i.frame.lexical; p != nil; p = p.lexical {
		if p.fn.ID == int(in.A) {
			if int(in.B) >= len(p.slots) {
				return nil, i.badSlot(in, p, in.B)
			}
			return p, nil
		}
	}
	return nil, i.fault(UnresolvedContext, in, "no active frame of function %d", in.A)
}

func (i *Interpreter) badSlot(in Instruction, fr *Frame, slot uint16) error {
	return i.fault(InvalidSlotAddress, in, "slot %d of %s has %d slots", slot, fr.fn, len(fr.slots))
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// newSlots allocates the slots of a new frame of fn with room for n
// arguments. Locals start at the zero value of their type.
func (i *Interpreter) newSlots(fn *Function, n int) []Value {
	slots := make([]Value, max(fn.NumLocals, n))
	for j, t := range fn.Locals {
		if k := fn.NumParams() + j; k < len(slots) {
			slots[k] = ZeroValue(t, i.empty)
		}
	}
	return slots
}

func (i *Interpreter) call(fr *Frame, in Instruction) error {
	callee, ok := i.prog.Functions.Lookup(int(in.A))
	if !ok {
		return i.fault(UnresolvedFunctionID, in, "function %d of %d", in.A, i.prog.Functions.Len())
	}
	if i.depth >= i.opts.MaxFrames {
		return i.fault(StackOverflow, in, "call depth exceeds %d frames", i.opts.MaxFrames)
	}

	var lexical *Frame
	if callee.Owner != NoOwner {
		for p := fr; p != nil; p = p.lexical {
			if p.fn.ID == callee.Owner {
				lexical = p
				break
			}
		}
		if lexical == nil {
			return i.fault(UnresolvedContext, in, "no active frame of %s's owner %d", callee, callee.Owner)
		}
	}

	n := callee.NumParams()
	if len(i.stack)-fr.base < n {
		return i.fault(StackUnderflow, in, "%s takes %d arguments", callee, n)
	}
	slots := i.newSlots(callee, n)
	args := i.stack[len(i.stack)-n:]
	for j, arg := range args {
		if k, _ := callee.Params[j].Kind(); arg.Kind() != k {
			return i.fault(OperandKindMismatch, in, "argument %d of %s: expected %s, found %s", j, callee, k, arg.Kind())
		}
		slots[j] = arg
	}
	i.stack = i.stack[:len(i.stack)-n]

	i.frame = &Frame{
		fn:       callee,
		returnPC: fr.pc,
		caller:   fr,
		lexical:  lexical,
		slots:    slots,
		base:     len(i.stack),
	}
	i.depth++
	if i.opts.Trace {
		i.log.Debugf("call %s depth=%d from %s at %04d", callee, i.depth, fr.fn, in.Offset)
	}
	return nil
}

// ret pops the current frame and resumes its caller. Returning from the
// outermost frame halts.
func (i *Interpreter) ret(fr *Frame, in Instruction, withValue bool) (bool, error) {
	var result Value
	if withValue {
		k, ok := fr.fn.ReturnType.Kind()
		if !ok {
			return false, i.fault(OperandKindMismatch, in, "%s returns void", fr.fn)
		}
		v, err := i.popKind(in, k)
		if err != nil {
			return false, err
		}
		result = v
	}
	i.stack = i.stack[:fr.base]

	if fr.caller == nil {
		return true, nil
	}
	i.frame = fr.caller
	i.frame.pc = fr.returnPC
	i.depth--
	if i.opts.Trace {
		i.log.Debugf("return from %s to %s depth=%d", fr.fn, i.frame.fn, i.depth)
	}
	if withValue {
		return false, i.push(in, result)
	}
	return false, nil
}

func (i *Interpreter) callNative(in Instruction) error {
	n, ok := i.prog.Natives.Lookup(int(in.A))
	if !ok {
		return i.fault(UnresolvedFunctionID, in, "native %d", in.A)
	}
	if n.Fn == nil {
		return i.faultErr(NativeSymbolNotFound, in, n.ResolveErr)
	}
	argc := len(n.Sig.Params)
	if len(i.stack)-i.frame.base < argc {
		return i.fault(StackUnderflow, in, "native %s takes %d arguments", n.Name, argc)
	}
	args := make([]Value, argc)
	copy(args, i.stack[len(i.stack)-argc:])
	for j, arg := range args {
		if k, _ := n.Sig.Params[j].Kind(); arg.Kind() != k {
			return i.fault(OperandKindMismatch, in, "argument %d of native %s: expected %s, found %s", j, n.Name, k, arg.Kind())
		}
	}
	i.stack = i.stack[:len(i.stack)-argc]

	result, err := n.Fn(&NativeCall{Args: args, Constants: i.prog.Constants})
	if err != nil {
		return i.faultErr(NativeCallFailed, in, fmt.Errorf("%s: %w", n.Name, err))
	}
	k, ok := n.Sig.Return.Kind()
	if !ok {
		return nil
	}
	if result.Kind() != k {
		return i.fault(OperandKindMismatch, in, "native %s returned %s, declared %s", n.Name, result.Kind(), k)
	}
	return i.push(in, result)
}

// ---------------------------------------------------------------------------
// Output and faults
// ---------------------------------------------------------------------------

func (i *Interpreter) write(in Instruction, p []byte) error {
	if _, err := i.out.Write(p); err != nil {
		return i.faultErr(NativeCallFailed, in, fmt.Errorf("print: %w", err))
	}
	return nil
}

func (i *Interpreter) fault(kind FaultKind, in Instruction, format string, args ...any) error {
	f := i.newFault(kind, in)
	if format != "" {
		f.Detail = fmt.Sprintf(format, args...)
	}
	return f
}

func (i *Interpreter) faultErr(kind FaultKind, in Instruction, err error) error {
	f := i.newFault(kind, in)
	f.Err = err
	return f
}

func (i *Interpreter) newFault(kind FaultKind, in Instruction) *Fault {
	f := &Fault{Kind: kind, Offset: in.Offset, Function: -1, Name: "?"}
	if i.frame != nil {
		f.Function = i.frame.fn.ID
		f.Name = i.frame.fn.Name
	}
	i.log.Debugf("fault: %s", f.Error())
	return f
}
