package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction.
type Opcode byte

// Stack operations
const (
	OpNOP Opcode = 0x00 // no operation
	OpPOP Opcode = 0x01 // discard top of stack
)

// Push constants
const (
	OpPushInt    Opcode = 0x10 // push 64-bit integer immediate
	OpPushDouble Opcode = 0x11 // push 64-bit float immediate
	OpPushString Opcode = 0x12 // push string constant (16-bit constant id)
)

// Variable operations
const (
	OpLoadLocal    Opcode = 0x20 // push slot of the current frame (16-bit slot)
	OpStoreLocal   Opcode = 0x21 // pop into slot of the current frame (16-bit slot)
	OpLoadContext  Opcode = 0x22 // push slot of an enclosing frame (16-bit function id, 16-bit slot)
	OpStoreContext Opcode = 0x23 // pop into slot of an enclosing frame (16-bit function id, 16-bit slot)
)

// Integer arithmetic
const (
	OpAddInt Opcode = 0x30
	OpSubInt Opcode = 0x31
	OpMulInt Opcode = 0x32
	OpDivInt Opcode = 0x33
	OpModInt Opcode = 0x34
	OpNegInt Opcode = 0x35
)

// Double arithmetic
const (
	OpAddDouble Opcode = 0x38
	OpSubDouble Opcode = 0x39
	OpMulDouble Opcode = 0x3A
	OpDivDouble Opcode = 0x3B
	OpModDouble Opcode = 0x3C
	OpNegDouble Opcode = 0x3D
)

// Conversions
const (
	OpIntToDouble Opcode = 0x40 // pop int, push double
	OpDoubleToInt Opcode = 0x41 // pop double, push int truncated toward zero
)

// Control flow
const (
	OpJump      Opcode = 0x50 // unconditional jump (16-bit offset)
	OpJumpTrue  Opcode = 0x51 // pop int, jump if nonzero (16-bit offset)
	OpJumpFalse Opcode = 0x52 // pop int, jump if zero (16-bit offset)
)

// Compare and jump: pop right, pop left, jump if left <op> right (16-bit offset)
const (
	OpJumpEqInt Opcode = 0x58
	OpJumpNeInt Opcode = 0x59
	OpJumpLtInt Opcode = 0x5A
	OpJumpLeInt Opcode = 0x5B
	OpJumpGtInt Opcode = 0x5C
	OpJumpGeInt Opcode = 0x5D

	OpJumpEqDouble Opcode = 0x60
	OpJumpNeDouble Opcode = 0x61
	OpJumpLtDouble Opcode = 0x62
	OpJumpLeDouble Opcode = 0x63
	OpJumpGtDouble Opcode = 0x64
	OpJumpGeDouble Opcode = 0x65

	OpJumpEqString Opcode = 0x68
	OpJumpNeString Opcode = 0x69
)

// Calls and returns
const (
	OpCall        Opcode = 0x70 // call function (16-bit function id)
	OpCallNative  Opcode = 0x71 // call native (16-bit native id)
	OpReturn      Opcode = 0x72 // return from a void function
	OpReturnValue Opcode = 0x73 // pop result and return it
)

// Output
const (
	OpPrintInt     Opcode = 0x80
	OpPrintDouble  Opcode = 0x81
	OpPrintString  Opcode = 0x82
	OpPrintNewline Opcode = 0x83
)

// OpHalt stops the interpreter.
const OpHalt Opcode = 0x90

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// Layout describes the operand bytes that follow an opcode.
type Layout uint8

const (
	LayoutNone Layout = iota // no operands
	LayoutU16                // unsigned 16-bit id or slot
	LayoutI16                // signed 16-bit relative jump offset
	LayoutPair               // two unsigned 16-bit values
	LayoutI64                // signed 64-bit immediate
	LayoutF64                // 64-bit float immediate
)

var layoutSizes = [...]int{
	LayoutNone: 0,
	LayoutU16:  2,
	LayoutI16:  2,
	LayoutPair: 4,
	LayoutI64:  8,
	LayoutF64:  8,
}

// Size returns the number of operand bytes for the layout.
func (l Layout) Size() int {
	return layoutSizes[l]
}

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name        string // human-readable name
	Layout      Layout // operand layout
	StackEffect int    // net effect on the operand stack (calls vary, see Function)
	defined     bool
}

// opcodeTable is the only opcode -> layout table. The builder, the decoder,
// the interpreter and the disassembler all read it.
var opcodeTable = [256]OpcodeInfo{
	OpNOP: {"NOP", LayoutNone, 0, true},
	OpPOP: {"POP", LayoutNone, -1, true},

	OpPushInt:    {"PUSH_INT", LayoutI64, 1, true},
	OpPushDouble: {"PUSH_DOUBLE", LayoutF64, 1, true},
	OpPushString: {"PUSH_STRING", LayoutU16, 1, true},

	OpLoadLocal:    {"LOAD_LOCAL", LayoutU16, 1, true},
	OpStoreLocal:   {"STORE_LOCAL", LayoutU16, -1, true},
	OpLoadContext:  {"LOAD_CONTEXT", LayoutPair, 1, true},
	OpStoreContext: {"STORE_CONTEXT", LayoutPair, -1, true},

	OpAddInt: {"ADD_INT", LayoutNone, -1, true},
	OpSubInt: {"SUB_INT", LayoutNone, -1, true},
	OpMulInt: {"MUL_INT", LayoutNone, -1, true},
	OpDivInt: {"DIV_INT", LayoutNone, -1, true},
	OpModInt: {"MOD_INT", LayoutNone, -1, true},
	OpNegInt: {"NEG_INT", LayoutNone, 0, true},

	OpAddDouble: {"ADD_DOUBLE", LayoutNone, -1, true},
	OpSubDouble: {"SUB_DOUBLE", LayoutNone, -1, true},
	OpMulDouble: {"MUL_DOUBLE", LayoutNone, -1, true},
	OpDivDouble: {"DIV_DOUBLE", LayoutNone, -1, true},
	OpModDouble: {"MOD_DOUBLE", LayoutNone, -1, true},
	OpNegDouble: {"NEG_DOUBLE", LayoutNone, 0, true},

	OpIntToDouble: {"INT_TO_DOUBLE", LayoutNone, 0, true},
	OpDoubleToInt: {"DOUBLE_TO_INT", LayoutNone, 0, true},

	OpJump:      {"JUMP", LayoutI16, 0, true},
	OpJumpTrue:  {"JUMP_TRUE", LayoutI16, -1, true},
	OpJumpFalse: {"JUMP_FALSE", LayoutI16, -1, true},

	OpJumpEqInt: {"JEQ_INT", LayoutI16, -2, true},
	OpJumpNeInt: {"JNE_INT", LayoutI16, -2, true},
	OpJumpLtInt: {"JLT_INT", LayoutI16, -2, true},
	OpJumpLeInt: {"JLE_INT", LayoutI16, -2, true},
	OpJumpGtInt: {"JGT_INT", LayoutI16, -2, true},
	OpJumpGeInt: {"JGE_INT", LayoutI16, -2, true},

	OpJumpEqDouble: {"JEQ_DOUBLE", LayoutI16, -2, true},
	OpJumpNeDouble: {"JNE_DOUBLE", LayoutI16, -2, true},
	OpJumpLtDouble: {"JLT_DOUBLE", LayoutI16, -2, true},
	OpJumpLeDouble: {"JLE_DOUBLE", LayoutI16, -2, true},
	OpJumpGtDouble: {"JGT_DOUBLE", LayoutI16, -2, true},
	OpJumpGeDouble: {"JGE_DOUBLE", LayoutI16, -2, true},

	OpJumpEqString: {"JEQ_STRING", LayoutI16, -2, true},
	OpJumpNeString: {"JNE_STRING", LayoutI16, -2, true},

	OpCall:        {"CALL", LayoutU16, 0, true},
	OpCallNative:  {"CALL_NATIVE", LayoutU16, 0, true},
	OpReturn:      {"RETURN", LayoutNone, 0, true},
	OpReturnValue: {"RETURN_VALUE", LayoutNone, -1, true},

	OpPrintInt:     {"PRINT_INT", LayoutNone, -1, true},
	OpPrintDouble:  {"PRINT_DOUBLE", LayoutNone, -1, true},
	OpPrintString:  {"PRINT_STRING", LayoutNone, -1, true},
	OpPrintNewline: {"PRINT_NEWLINE", LayoutNone, 0, true},

	OpHalt: {"HALT", LayoutNone, 0, true},
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info := opcodeTable[op]; info.defined {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN_%02X", byte(op))}
}

// Defined reports whether op is part of the instruction set.
func (op Opcode) Defined() bool {
	return opcodeTable[op].defined
}

// Name returns the human-readable name for an opcode.
func (op Opcode) Name() string {
	return op.Info().Name
}

// Layout returns the operand layout for an opcode.
func (op Opcode) Layout() Layout {
	return op.Info().Layout
}

// Width returns the encoded size of the instruction including the opcode.
func (op Opcode) Width() int {
	return 1 + op.Layout().Size()
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// ---------------------------------------------------------------------------
// BytecodeBuilder: Helper for constructing bytecode
// ---------------------------------------------------------------------------

// Errors reported by BytecodeBuilder.Finish.
var (
	ErrUnboundLabel = errors.New("unbound label")
	ErrJumpTooFar   = errors.New("jump offset exceeds 16 bits")
)

// BytecodeBuilder constructs one function's instruction stream.
type BytecodeBuilder struct {
	bytes  []byte
	labels []labelState
	err    error
}

// NewBytecodeBuilder creates a new bytecode builder.
func NewBytecodeBuilder() *BytecodeBuilder {
	return &BytecodeBuilder{
		bytes: make([]byte, 0, 64),
	}
}

// Bytes returns the bytecode emitted so far.
func (b *BytecodeBuilder) Bytes() []byte {
	return b.bytes
}

// Len returns the current length.
func (b *BytecodeBuilder) Len() int {
	return len(b.bytes)
}

func (b *BytecodeBuilder) begin(op Opcode, want Layout) {
	if l := op.Layout(); !op.Defined() || l != want {
		panic(fmt.Sprintf("emit %s: opcode has layout %d, emitted with %d", op, l, want))
	}
	b.bytes = append(b.bytes, byte(op))
}

// Emit appends an opcode with no operands.
func (b *BytecodeBuilder) Emit(op Opcode) {
	b.begin(op, LayoutNone)
}

// EmitUint16 appends an opcode with a 16-bit operand.
func (b *BytecodeBuilder) EmitUint16(op Opcode, operand uint16) {
	b.begin(op, LayoutU16)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, operand)
}

// EmitPair appends an opcode with two 16-bit operands.
func (b *BytecodeBuilder) EmitPair(op Opcode, first, second uint16) {
	b.begin(op, LayoutPair)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, first)
	b.bytes = binary.LittleEndian.AppendUint16(b.bytes, second)
}

// EmitInt64 appends an opcode with a 64-bit integer operand.
func (b *BytecodeBuilder) EmitInt64(op Opcode, operand int64) {
	b.begin(op, LayoutI64)
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(operand))
}

// EmitFloat64 appends an opcode with a 64-bit float operand.
func (b *BytecodeBuilder) EmitFloat64(op Opcode, operand float64) {
	b.begin(op, LayoutF64)
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, math.Float64bits(operand))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a handle into the builder's label arena.
type Label int

type labelState struct {
	bound    bool
	position int   // target once bound
	fixups   []int // operand offsets waiting for the target
}

// NewLabel creates an unbound label.
func (b *BytecodeBuilder) NewLabel() Label {
	b.labels = append(b.labels, labelState{})
	return Label(len(b.labels) - 1)
}

// Bind resolves a label to the current position and patches every jump
// already emitted against it.
func (b *BytecodeBuilder) Bind(l Label) {
	st := &b.labels[l]
	if st.bound {
		panic("label already bound")
	}
	st.bound = true
	st.position = len(b.bytes)
	for _, ref := range st.fixups {
		b.patch(ref, st.position)
	}
	st.fixups = nil
}

// Bound reports whether l has been bound.
func (b *BytecodeBuilder) Bound(l Label) bool {
	return b.labels[l].bound
}

// EmitJump emits a jump instruction targeting a label.
func (b *BytecodeBuilder) EmitJump(op Opcode, l Label) {
	b.begin(op, LayoutI16)
	ref := len(b.bytes)
	b.bytes = append(b.bytes, 0, 0)
	st := &b.labels[l]
	if st.bound {
		b.patch(ref, st.position)
		return
	}
	st.fixups = append(st.fixups, ref)
}

// patch writes the offset from the end of the operand at ref to target.
func (b *BytecodeBuilder) patch(ref, target int) {
	offset := target - (ref + 2)
	if offset < math.MinInt16 || offset > math.MaxInt16 {
		if b.err == nil {
			b.err = fmt.Errorf("%w: %d at %04d", ErrJumpTooFar, offset, ref-1)
		}
		return
	}
	binary.LittleEndian.PutUint16(b.bytes[ref:], uint16(int16(offset)))
}

// Finish returns the completed bytecode. Every label must be bound.
func (b *BytecodeBuilder) Finish() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	for i, st := range b.labels {
		if !st.bound {
			return nil, fmt.Errorf("%w: label %d", ErrUnboundLabel, i)
		}
	}
	return b.bytes, nil
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// ErrIllegalInstruction reports an unknown opcode or truncated operands.
var ErrIllegalInstruction = errors.New("illegal instruction")

// Instruction is one decoded instruction.
type Instruction struct {
	Op     Opcode
	Offset int    // position of the opcode byte
	A      uint16 // first 16-bit operand (id, slot, function id)
	B      uint16 // second 16-bit operand (slot, for LayoutPair)
	Jump   int16  // relative jump offset
	Imm    uint64 // 64-bit immediate bits
}

// Next returns the offset just past the instruction.
func (in Instruction) Next() int {
	return in.Offset + in.Op.Width()
}

// Target returns the absolute jump target for jump instructions.
func (in Instruction) Target() int {
	return in.Next() + int(in.Jump)
}

// Int returns the immediate as a signed integer.
func (in Instruction) Int() int64 {
	return int64(in.Imm)
}

// Float returns the immediate as a float.
func (in Instruction) Float() float64 {
	return math.Float64frombits(in.Imm)
}

// Decode reads the instruction at pc.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("%w: offset %d outside code of length %d", ErrIllegalInstruction, pc, len(code))
	}
	op := Opcode(code[pc])
	if !op.Defined() {
		return Instruction{}, fmt.Errorf("%w: unknown opcode %02X at %04d", ErrIllegalInstruction, byte(op), pc)
	}
	in := Instruction{Op: op, Offset: pc}
	layout := op.Layout()
	operands := code[pc+1:]
	if len(operands) < layout.Size() {
		return Instruction{}, fmt.Errorf("%w: truncated %s at %04d", ErrIllegalInstruction, op, pc)
	}
	switch layout {
	case LayoutNone:
	case LayoutU16:
		in.A = binary.LittleEndian.Uint16(operands)
	case LayoutI16:
		in.Jump = int16(binary.LittleEndian.Uint16(operands))
	case LayoutPair:
		in.A = binary.LittleEndian.Uint16(operands)
		in.B = binary.LittleEndian.Uint16(operands[2:])
	case LayoutI64, LayoutF64:
		in.Imm = binary.LittleEndian.Uint64(operands)
	}
	return in, nil
}

// Walk decodes every instruction of code in order.
func Walk(code []byte, fn func(Instruction) error) error {
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			return err
		}
		if err := fn(in); err != nil {
			return err
		}
		pc = in.Next()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// FormatInstruction renders one decoded instruction.
func FormatInstruction(in Instruction) string {
	name := in.Op.Name()
	switch in.Op.Layout() {
	case LayoutU16:
		return fmt.Sprintf("%04d  %s %d", in.Offset, name, in.A)
	case LayoutPair:
		return fmt.Sprintf("%04d  %s fn=%d slot=%d", in.Offset, name, in.A, in.B)
	case LayoutI16:
		return fmt.Sprintf("%04d  %s %d (-> %04d)", in.Offset, name, in.Jump, in.Target())
	case LayoutI64:
		return fmt.Sprintf("%04d  %s %d", in.Offset, name, in.Int())
	case LayoutF64:
		return fmt.Sprintf("%04d  %s %s", in.Offset, name, FormatDouble(in.Float(), -1))
	}
	return fmt.Sprintf("%04d  %s", in.Offset, name)
}

// Disassemble returns a full disassembly of bytecode. Decoding stops at the
// first illegal instruction, which is reported on the last line.
func Disassemble(bc []byte) string {
	var lines []string
	err := Walk(bc, func(in Instruction) error {
		lines = append(lines, FormatInstruction(in))
		return nil
	})
	if err != nil {
		lines = append(lines, "error: "+err.Error())
	}
	return strings.Join(lines, "\n")
}
