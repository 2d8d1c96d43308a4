// Package decoder turns a RISC-V instruction bitstream into the packed
// isa.Instruction IR. It handles both the 4-byte base encoding and the
// 2-byte compressed (C) encoding; compressed forms that alias a base
// operation (e.g. C.ADDI and ADDI) decode into the same isa.Opcode, with
// only isa.Instruction.Length() differentiating them for PC-advance
// purposes.
package decoder

import (
	"encoding/binary"
	"fmt"

	"github.com/lookbusy1344/riscv-vm/isa"
)

// ErrInvalidInstruction reports a bit pattern the decoder does not
// recognize.
type ErrInvalidInstruction struct {
	PC          uint64
	Instruction uint32
}

func (e *ErrInvalidInstruction) Error() string {
	return fmt.Sprintf("invalid instruction %#08x at pc %#x", e.Instruction, e.PC)
}

// MemReader is the minimal memory interface the decoder needs to fetch
// instruction bytes; it is satisfied by *memory.Memory.
type MemReader interface {
	FetchForExecute(addr uint64, length uint64) ([]byte, error)
}

// Decode fetches and decodes the instruction at pc, returning the packed
// IR; its encoded length in bytes (2 or 4) is carried in the IR and read
// back with Length().
func Decode(mem MemReader, pc uint64) (isa.Instruction, error) {
	half, err := mem.FetchForExecute(pc, 2)
	if err != nil {
		return 0, err
	}
	low := binary.LittleEndian.Uint16(half)
	if low&0x3 != 0x3 {
		return decodeCompressed(pc, low)
	}
	word, err := mem.FetchForExecute(pc, 4)
	if err != nil {
		return 0, err
	}
	in := binary.LittleEndian.Uint32(word)
	return decodeBase(pc, in)
}

func reg(v uint32) uint8 { return uint8(v & 0x1f) }

// decodeBase decodes a 4-byte RV32I/RV64I/M/B instruction word.
func decodeBase(pc uint64, in uint32) (isa.Instruction, error) {
	opcode := in & 0x7f
	rd := reg(in >> 7)
	funct3 := (in >> 12) & 0x7
	rs1 := reg(in >> 15)
	rs2 := reg(in >> 20)
	funct7 := (in >> 25) & 0x7f

	switch opcode {
	case 0x33: // R-type, 32-bit ALU / M extension
		return decodeOpR(pc, in, rd, rs1, rs2, funct3, funct7, false)
	case 0x3b: // R-type, 32-bit-in-64-bit ("W") ALU / M extension
		return decodeOpR(pc, in, rd, rs1, rs2, funct3, funct7, true)
	case 0x13: // OP-IMM
		return decodeOpImm(pc, in, rd, rs1, funct3, false)
	case 0x1b: // OP-IMM-32
		return decodeOpImm(pc, in, rd, rs1, funct3, true)
	case 0x03: // LOAD
		imm := signExtend(in>>20, 12)
		op, ok := loadOpcodes[funct3]
		if !ok {
			return 0, &ErrInvalidInstruction{pc, in}
		}
		return isa.NewI(op, rd, rs1, imm, 4), nil
	case 0x23: // STORE
		immLow := (in >> 7) & 0x1f
		immHigh := (in >> 25) & 0x7f
		imm := signExtend((immHigh<<5)|immLow, 12)
		op, ok := storeOpcodes[funct3]
		if !ok {
			return 0, &ErrInvalidInstruction{pc, in}
		}
		return isa.NewS(op, rs1, rs2, imm, 4), nil
	case 0x63: // BRANCH
		imm := int32(in>>19&0x1000) | int32(in<<4&0x800) | int32(in>>20&0x7e0) | int32(in>>7&0x1e)
		imm = signExtend(uint32(imm), 13)
		op, ok := branchOpcodes[funct3]
		if !ok {
			return 0, &ErrInvalidInstruction{pc, in}
		}
		return isa.NewS(op, rs1, rs2, imm, 4), nil
	case 0x37: // LUI
		return isa.NewU(isa.OpLui, rd, int32(in&0xfffff000), 4), nil
	case 0x17: // AUIPC
		return isa.NewU(isa.OpAuipc, rd, int32(in&0xfffff000), 4), nil
	case 0x6f: // JAL
		imm := int32(in>>11&0x100000) | int32(in&0xff000) | int32(in>>9&0x800) | int32(in>>20&0x7fe)
		imm = signExtend(uint32(imm), 21)
		return isa.NewU(isa.OpJal, rd, imm, 4), nil
	case 0x67: // JALR
		imm := signExtend(in>>20, 12)
		return isa.NewI(isa.OpJalr, rd, rs1, imm, 4), nil
	case 0x0f: // FENCE / FENCE.I: treated as a no-op ADDI x0,x0,0.
		return isa.NewI(isa.OpAddi, 0, 0, 0, 4), nil
	case 0x73: // SYSTEM
		switch in >> 20 {
		case 0:
			return isa.NewR(isa.OpEcall, 0, 0, 0, 4), nil
		case 1:
			return isa.NewR(isa.OpEbreak, 0, 0, 0, 4), nil
		default:
			return 0, &ErrInvalidInstruction{pc, in}
		}
	default:
		return 0, &ErrInvalidInstruction{pc, in}
	}
}

var loadOpcodes = map[uint32]isa.Opcode{
	0b000: isa.OpLb, 0b001: isa.OpLh, 0b010: isa.OpLw, 0b011: isa.OpLd,
	0b100: isa.OpLbu, 0b101: isa.OpLhu, 0b110: isa.OpLwu,
}

var storeOpcodes = map[uint32]isa.Opcode{
	0b000: isa.OpSb, 0b001: isa.OpSh, 0b010: isa.OpSw, 0b011: isa.OpSd,
}

var branchOpcodes = map[uint32]isa.Opcode{
	0b000: isa.OpBeq, 0b001: isa.OpBne, 0b100: isa.OpBlt,
	0b101: isa.OpBge, 0b110: isa.OpBltu, 0b111: isa.OpBgeu,
}

func signExtend(raw uint32, bits uint) int32 {
	shift := 32 - bits
	return int32(raw<<shift) >> shift
}

// decodeOpR decodes the R-type ALU/M-extension space (opcode 0x33/0x3b).
func decodeOpR(pc uint64, in uint32, rd, rs1, rs2 uint8, funct3, funct7 uint32, wide bool) (isa.Instruction, error) {
	if funct7 == 0x01 { // M extension
		op, ok := mOpcodes(wide)[funct3]
		if !ok {
			return 0, &ErrInvalidInstruction{pc, in}
		}
		return isa.NewR(op, rd, rs1, rs2, 4), nil
	}
	op, ok := aluOpcodes(wide)[aluKey{funct3, funct7}]
	if !ok {
		return 0, &ErrInvalidInstruction{pc, in}
	}
	return isa.NewR(op, rd, rs1, rs2, 4), nil
}

type aluKey struct {
	funct3, funct7 uint32
}

func aluOpcodes(wide bool) map[aluKey]isa.Opcode {
	if wide {
		return map[aluKey]isa.Opcode{
			{0b000, 0x00}: isa.OpAddw,
			{0b000, 0x20}: isa.OpSubw,
			{0b001, 0x00}: isa.OpSllw,
			{0b101, 0x00}: isa.OpSrlw,
			{0b101, 0x20}: isa.OpSraw,
		}
	}
	return map[aluKey]isa.Opcode{
		{0b000, 0x00}: isa.OpAdd,
		{0b000, 0x20}: isa.OpSub,
		{0b001, 0x00}: isa.OpSll,
		{0b010, 0x00}: isa.OpSlt,
		{0b011, 0x00}: isa.OpSltu,
		{0b100, 0x00}: isa.OpXor,
		{0b101, 0x00}: isa.OpSrl,
		{0b101, 0x20}: isa.OpSra,
		{0b110, 0x00}: isa.OpOr,
		{0b111, 0x00}: isa.OpAnd,
		{0b111, 0x20}: isa.OpAndn,
		{0b110, 0x20}: isa.OpOrn,
		{0b100, 0x20}: isa.OpXnor,
	}
}

func mOpcodes(wide bool) map[uint32]isa.Opcode {
	if wide {
		return map[uint32]isa.Opcode{
			0b000: isa.OpMulw, 0b100: isa.OpDivw, 0b101: isa.OpDivuw,
			0b110: isa.OpRemw, 0b111: isa.OpRemuw,
		}
	}
	return map[uint32]isa.Opcode{
		0b000: isa.OpMul, 0b001: isa.OpMulh, 0b010: isa.OpMulhsu, 0b011: isa.OpMulhu,
		0b100: isa.OpDiv, 0b101: isa.OpDivu, 0b110: isa.OpRem, 0b111: isa.OpRemu,
	}
}

// decodeOpImm decodes OP-IMM / OP-IMM-32 (opcode 0x13/0x1b).
func decodeOpImm(pc uint64, in uint32, rd, rs1 uint8, funct3 uint32, wide bool) (isa.Instruction, error) {
	switch funct3 {
	case 0b001: // SLLI(W)
		shamt := (in >> 20) & 0x3f
		op := isa.OpSlli
		if wide {
			op = isa.OpSlliw
		}
		return isa.NewRU(op, rd, rs1, uint8(shamt), 4), nil
	case 0b101: // SRLI(W) / SRAI(W)
		shamt := (in >> 20) & 0x3f
		isArith := (in>>26)&0x1f == 0x10 || (in>>25)&0x7f == 0x20
		op := isa.OpSrli
		if wide {
			op = isa.OpSrliw
		}
		if isArith {
			op = isa.OpSrai
			if wide {
				op = isa.OpSraiw
			}
		}
		return isa.NewRU(op, rd, rs1, uint8(shamt), 4), nil
	default:
		imm := signExtend(in>>20, 12)
		if wide {
			if funct3 != 0b000 {
				return 0, &ErrInvalidInstruction{pc, in}
			}
			return isa.NewI(isa.OpAddiw, rd, rs1, imm, 4), nil
		}
		op, ok := map[uint32]isa.Opcode{
			0b000: isa.OpAddi, 0b010: isa.OpSlti, 0b011: isa.OpSltiu,
			0b100: isa.OpXori, 0b110: isa.OpOri, 0b111: isa.OpAndi,
		}[funct3]
		if !ok {
			return 0, &ErrInvalidInstruction{pc, in}
		}
		return isa.NewI(op, rd, rs1, imm, 4), nil
	}
}
