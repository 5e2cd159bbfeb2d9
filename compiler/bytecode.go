// Package compiler turns an AST into the bytecode the VM executes
// (spec §4.3). This file defines the opcode table and the low-level
// instruction encoder/decoder, generalizing the teacher's
// compiler/code.go (which only ever defined OP_CONSTANT) to the full
// opcode list of spec §4.4.
package compiler

import (
	"encoding/binary"
	"fmt"
)

// Opcode is a single bytecode instruction's operation.
type Opcode byte

const (
	// stack manipulation
	OP_POP Opcode = iota
	OP_DUP
	OP_DUP2 // duplicates the top two stack slots, for compound index assignment

	// literals
	OP_NULL
	OP_TRUE
	OP_FALSE
	OP_CONST

	// arithmetic
	OP_ADD
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_NEG
	OP_POW

	// comparison
	OP_EQ
	OP_NEQ
	OP_LT
	OP_LE
	OP_GT
	OP_GE
	OP_IS

	// logical / unary
	OP_NOT
	OP_LEN
	OP_STRINGIFY

	// identifier I/O
	OP_LOAD_LOCAL
	OP_STORE_LOCAL
	OP_LOAD_UPVALUE
	OP_STORE_UPVALUE
	OP_LOAD_GLOBAL
	OP_STORE_GLOBAL
	OP_DEFINE_GLOBAL

	// field/index I/O
	OP_GET_FIELD
	OP_SET_FIELD
	OP_GET_INDEX
	OP_SET_INDEX

	// control flow
	OP_JMP
	OP_JMP_TRUE
	OP_JMP_FALSE

	// calls
	OP_CALL
	OP_INVOKE
	OP_SUPER_INVOKE
	OP_RETURN

	// closures
	OP_MAKE_CLOSURE // followed by a variable number of upvalue-descriptor bytes, see compiler.go
	OP_CLOSE_UPVALUE

	// collections
	OP_NEW_LIST
	OP_LIST_APPEND
	OP_NEW_TUPLE
	OP_NEW_TABLE
	OP_TABLE_PUT

	// classes
	OP_NEW_CLASS
	OP_INHERIT
	OP_DEFINE_METHOD
	OP_DEFINE_NATIVE

	// exceptions
	OP_SETUP_HANDLER
	OP_POP_HANDLER
	OP_RAISE
	OP_BEGIN_ENSURE
	OP_END_ENSURE

	// modules
	OP_IMPORT
	OP_IMPORT_FROM
	OP_IMPORT_AS

	// iteration sugar
	OP_FOREACH_INIT
	OP_FOREACH_NEXT
)

// OpDef describes one opcode: its mnemonic and the byte width of each of
// its fixed operands. Only OP_MAKE_CLOSURE carries extra trailing bytes
// beyond what's listed here; see the comment on it.
type OpDef struct {
	Name          string
	OperandWidths []int
}

var defs = map[Opcode]OpDef{
	OP_POP:            {"POP", nil},
	OP_DUP:            {"DUP", nil},
	OP_DUP2:           {"DUP2", nil},
	OP_NULL:           {"NULL", nil},
	OP_TRUE:           {"TRUE", nil},
	OP_FALSE:          {"FALSE", nil},
	OP_CONST:          {"CONST", []int{2}},
	OP_ADD:            {"ADD", nil},
	OP_SUB:            {"SUB", nil},
	OP_MUL:            {"MUL", nil},
	OP_DIV:            {"DIV", nil},
	OP_MOD:            {"MOD", nil},
	OP_NEG:            {"NEG", nil},
	OP_POW:            {"POW", nil},
	OP_EQ:             {"EQ", nil},
	OP_NEQ:            {"NEQ", nil},
	OP_LT:             {"LT", nil},
	OP_LE:             {"LE", nil},
	OP_GT:             {"GT", nil},
	OP_GE:             {"GE", nil},
	OP_IS:             {"IS", nil},
	OP_NOT:            {"NOT", nil},
	OP_LEN:            {"LEN", nil},
	OP_STRINGIFY:      {"STRINGIFY", nil},
	OP_LOAD_LOCAL:     {"LOAD_LOCAL", []int{1}},
	OP_STORE_LOCAL:    {"STORE_LOCAL", []int{1}},
	OP_LOAD_UPVALUE:   {"LOAD_UPVALUE", []int{1}},
	OP_STORE_UPVALUE:  {"STORE_UPVALUE", []int{1}},
	OP_LOAD_GLOBAL:    {"LOAD_GLOBAL", []int{2}},
	OP_STORE_GLOBAL:   {"STORE_GLOBAL", []int{2}},
	OP_DEFINE_GLOBAL:  {"DEFINE_GLOBAL", []int{2}},
	OP_GET_FIELD:      {"GET_FIELD", []int{2}},
	OP_SET_FIELD:      {"SET_FIELD", []int{2}},
	OP_GET_INDEX:      {"GET_INDEX", nil},
	OP_SET_INDEX:      {"SET_INDEX", nil},
	OP_JMP:            {"JMP", []int{2}},
	OP_JMP_TRUE:       {"JMP_TRUE", []int{2}},
	OP_JMP_FALSE:      {"JMP_FALSE", []int{2}},
	OP_CALL:           {"CALL", []int{1}},
	OP_INVOKE:         {"INVOKE", []int{2, 1}},
	OP_SUPER_INVOKE:   {"SUPER_INVOKE", []int{2, 1}},
	OP_RETURN:         {"RETURN", nil},
	OP_MAKE_CLOSURE:   {"MAKE_CLOSURE", []int{2}},
	OP_CLOSE_UPVALUE:  {"CLOSE_UPVALUE", []int{1}},
	OP_NEW_LIST:       {"NEW_LIST", nil},
	OP_LIST_APPEND:    {"LIST_APPEND", nil},
	OP_NEW_TUPLE:      {"NEW_TUPLE", []int{2}},
	OP_NEW_TABLE:      {"NEW_TABLE", nil},
	OP_TABLE_PUT:      {"TABLE_PUT", nil},
	OP_NEW_CLASS:      {"NEW_CLASS", []int{2}},
	OP_INHERIT:        {"INHERIT", nil},
	OP_DEFINE_METHOD:  {"DEFINE_METHOD", []int{2}},
	OP_DEFINE_NATIVE:  {"DEFINE_NATIVE", []int{2}},
	OP_SETUP_HANDLER:  {"SETUP_HANDLER", []int{2, 2}},
	OP_POP_HANDLER:    {"POP_HANDLER", nil},
	OP_RAISE:          {"RAISE", nil},
	OP_BEGIN_ENSURE:   {"BEGIN_ENSURE", nil},
	OP_END_ENSURE:     {"END_ENSURE", nil},
	OP_IMPORT:         {"IMPORT", []int{2}},
	OP_IMPORT_FROM:    {"IMPORT_FROM", []int{2}},
	OP_IMPORT_AS:      {"IMPORT_AS", []int{2, 2}},
	OP_FOREACH_INIT:   {"FOREACH_INIT", nil},
	OP_FOREACH_NEXT:   {"FOREACH_NEXT", []int{2}},
}

// Get returns the definition for op, or an error if op is unknown.
func Get(op Opcode) (OpDef, error) {
	d, ok := defs[op]
	if !ok {
		return OpDef{}, fmt.Errorf("compiler: opcode %d undefined", op)
	}
	return d, nil
}

// Instructions is a flat byte-encoded instruction stream.
type Instructions []byte

// Make encodes one instruction: the opcode byte followed by its operands in
// big-endian order, per spec §4.4 ("1 byte for locals/upvalues/argc, 2 bytes
// big-endian for constant indices and jumps").
func Make(op Opcode, operands ...int) []byte {
	def, err := Get(op)
	if err != nil {
		return nil
	}
	size := 1
	for _, w := range def.OperandWidths {
		size += w
	}
	instr := make([]byte, size)
	instr[0] = byte(op)
	offset := 1
	for i, w := range def.OperandWidths {
		switch w {
		case 1:
			instr[offset] = byte(operands[i])
		case 2:
			binary.BigEndian.PutUint16(instr[offset:], uint16(operands[i]))
		}
		offset += w
	}
	return instr
}

// ReadUint16 decodes a big-endian uint16 operand at ins[offset:].
func ReadUint16(ins Instructions, offset int) int {
	return int(binary.BigEndian.Uint16(ins[offset:]))
}

// ReadUint8 decodes a single-byte operand at ins[offset].
func ReadUint8(ins Instructions, offset int) int { return int(ins[offset]) }

// PatchUint16 overwrites the big-endian uint16 at ins[offset:] with v, used
// by the compiler to back-patch forward jumps.
func PatchUint16(ins Instructions, offset int, v int) {
	binary.BigEndian.PutUint16(ins[offset:], uint16(v))
}

// Size returns the number of bytes op's base encoding occupies, excluding
// any variable-length tail (MAKE_CLOSURE's upvalue descriptors).
func Size(op Opcode) int {
	def, err := Get(op)
	if err != nil {
		return 1
	}
	n := 1
	for _, w := range def.OperandWidths {
		n += w
	}
	return n
}

// Disassemble renders ins as human-readable text, one instruction per line,
// in the spirit of the teacher's DiassembleBytecode.
func Disassemble(ins Instructions, constants []any) string {
	var sb []byte
	offset := 0
	for offset < len(ins) {
		op := Opcode(ins[offset])
		def, err := Get(op)
		line := fmt.Sprintf("%04d %s", offset, def.Name)
		if err != nil {
			line = fmt.Sprintf("%04d ERROR: %v", offset, err)
			sb = append(sb, []byte(line+"\n")...)
			offset++
			continue
		}
		operandOffset := offset + 1
		var operands []int
		for _, w := range def.OperandWidths {
			switch w {
			case 1:
				operands = append(operands, ReadUint8(ins, operandOffset))
			case 2:
				operands = append(operands, ReadUint16(ins, operandOffset))
			}
			operandOffset += w
		}
		for i, o := range operands {
			line += fmt.Sprintf(" %d", o)
			if op == OP_CONST && i == 0 && o < len(constants) {
				line += fmt.Sprintf(" ; %v", constants[o])
			}
		}
		size := Size(op)
		if op == OP_MAKE_CLOSURE && len(operands) > 0 && operands[0] < len(constants) {
			// Skip the trailing upvalue descriptor bytes, 2 per upvalue.
			if proto, ok := constants[operands[0]].(*Proto); ok {
				line += fmt.Sprintf(" ; %s/%d upvalues", proto.Name, len(proto.Upvalues))
				size += 2 * len(proto.Upvalues)
			}
		}
		sb = append(sb, []byte(line+"\n")...)
		offset += size
	}
	return string(sb)
}
