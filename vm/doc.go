// Package vm implements the Kestrel virtual machine.
//
// This package contains:
//   - Tagged value representation (int, double, string constant id)
//   - Constant pool with deduplicated string interning
//   - Opcode table, bytecode builder with jump labels, decoder and disassembler
//   - Function and native tables
//   - Bytecode interpreter with a lexical context chain
//   - Runtime fault descriptors
package vm
