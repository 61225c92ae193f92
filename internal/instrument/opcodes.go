package instrument

import "fmt"

// Opcodes the instrumentor needs to recognise by name. Everything else is
// only decoded far enough to find its end.
const (
	opUnreachable  byte = 0x00
	opBlock        byte = 0x02
	opLoop         byte = 0x03
	opIf           byte = 0x04
	opElse         byte = 0x05
	opEnd          byte = 0x0b
	opBr           byte = 0x0c
	opBrIf         byte = 0x0d
	opBrTable      byte = 0x0e
	opReturn       byte = 0x0f
	opCall         byte = 0x10
	opCallIndirect byte = 0x11
	opSelectTyped  byte = 0x1c
	opLocalGet     byte = 0x20
	opGlobalSet    byte = 0x24
	opTableGet     byte = 0x25
	opTableSet     byte = 0x26
	opI32Load      byte = 0x28
	opI64Store32   byte = 0x3e
	opMemorySize   byte = 0x3f
	opMemoryGrow   byte = 0x40
	opI32Const     byte = 0x41
	opI64Const     byte = 0x42
	opF32Const     byte = 0x43
	opF64Const     byte = 0x44
	opI32Mul       byte = 0x6c
	opRefNull      byte = 0xd0
	opRefIsNull    byte = 0xd1
	opRefFunc      byte = 0xd2
	opPrefixMisc   byte = 0xfc
)

// Value and block types.
const (
	valueTypeI32   byte = 0x7f
	valueTypeI64   byte = 0x7e
	valueTypeF32   byte = 0x7d
	valueTypeF64   byte = 0x7c
	valueTypeV128  byte = 0x7b
	refTypeFunc    byte = 0x70
	refTypeExtern  byte = 0x6f
	blockTypeEmpty byte = 0x40
)

// instruction is one decoded instruction, addressed by its byte range inside
// the function body it was read from.
type instruction struct {
	op    byte
	start int
	end   int
	// index is the function index immediate of call and ref.func.
	index uint32
}

func (i instruction) refersToFunction() bool {
	return i.op == opCall || i.op == opRefFunc
}

func isValueType(b byte) bool {
	switch b {
	case valueTypeI32, valueTypeI64, valueTypeF32, valueTypeF64, valueTypeV128, refTypeFunc, refTypeExtern:
		return true
	}
	return false
}

func readBlockType(r *reader) error {
	b, err := r.peekByte()
	if err != nil {
		return err
	}
	if b == blockTypeEmpty || isValueType(b) {
		r.pos++
		return nil
	}
	// type index encoded as s33
	return r.skipSigned(5)
}

func readMemArg(r *reader) error {
	if _, err := r.readU32(); err != nil {
		return err
	}
	_, err := r.readU32()
	return err
}

func readU32s(r *reader, n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.readU32(); err != nil {
			return err
		}
	}
	return nil
}

// readInstruction decodes the instruction at the reader's position.
func readInstruction(r *reader) (instruction, error) {
	ins := instruction{start: r.pos}
	op, err := r.readByte()
	if err != nil {
		return ins, err
	}
	ins.op = op

	switch {
	case op == opBlock || op == opLoop || op == opIf:
		err = readBlockType(r)
	case op == opBr || op == opBrIf:
		_, err = r.readU32()
	case op == opBrTable:
		var n uint32
		if n, err = r.readU32(); err == nil {
			err = readU32s(r, int(n)+1)
		}
	case op == opCall || op == opRefFunc:
		ins.index, err = r.readU32()
	case op == opCallIndirect:
		err = readU32s(r, 2)
	case op == opSelectTyped:
		var n uint32
		if n, err = r.readU32(); err == nil {
			_, err = r.readBytes(int(n))
		}
	case op >= opLocalGet && op <= opTableSet:
		_, err = r.readU32()
	case op >= opI32Load && op <= opI64Store32:
		err = readMemArg(r)
	case op == opMemorySize || op == opMemoryGrow:
		_, err = r.readByte()
	case op == opI32Const:
		err = r.skipSigned(5)
	case op == opI64Const:
		err = r.skipSigned(10)
	case op == opF32Const:
		_, err = r.readBytes(4)
	case op == opF64Const:
		_, err = r.readBytes(8)
	case op == opRefNull:
		_, err = r.readByte()
	case op == opPrefixMisc:
		err = readMiscInstruction(r)
	case op <= 0x01, op == opElse, op == opEnd, op == opReturn, op == 0x1a, op == 0x1b,
		op >= 0x45 && op <= 0xc4, op == opRefIsNull:
		// no immediates
	default:
		err = fmt.Errorf("unknown opcode 0x%02x at offset %d", op, ins.start)
	}
	if err != nil {
		return ins, err
	}
	ins.end = r.pos
	return ins, nil
}

func readMiscInstruction(r *reader) error {
	sub, err := r.readU32()
	if err != nil {
		return err
	}
	switch {
	case sub <= 7: // saturating truncation
		return nil
	case sub == 8: // memory.init
		if _, err := r.readU32(); err != nil {
			return err
		}
		_, err = r.readByte()
		return err
	case sub == 9, sub == 13, sub >= 15 && sub <= 17:
		_, err = r.readU32()
		return err
	case sub == 10: // memory.copy
		_, err = r.readBytes(2)
		return err
	case sub == 11: // memory.fill
		_, err = r.readByte()
		return err
	case sub == 12 || sub == 14:
		return readU32s(r, 2)
	}
	return fmt.Errorf("unknown 0xfc sub-opcode %d", sub)
}

// decodeExpr reads instructions until the end that closes the expression.
func decodeExpr(r *reader) ([]instruction, error) {
	var (
		out   []instruction
		depth = 1
	)
	for depth > 0 {
		ins, err := readInstruction(r)
		if err != nil {
			return nil, err
		}
		switch ins.op {
		case opBlock, opLoop, opIf:
			depth++
		case opEnd:
			depth--
		}
		out = append(out, ins)
	}
	return out, nil
}
