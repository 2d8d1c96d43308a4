package decoder

import "github.com/lookbusy1344/riscv-vm/isa"

// cReg expands a compressed instruction's 3-bit register field (x8-x15)
// to a full 5-bit register number.
func cReg(v uint16) uint8 { return uint8((v & 0x7) + 8) }

// decodeCompressed decodes a 2-byte RVC instruction. Every form below
// decodes into the same isa.Opcode its uncompressed equivalent would use;
// only Length() (2, here) distinguishes them downstream.
func decodeCompressed(pc uint64, in uint16) (isa.Instruction, error) {
	quadrant := in & 0x3
	funct3 := (in >> 13) & 0x7

	switch quadrant {
	case 0x0:
		return decodeCQuadrant0(pc, in, funct3)
	case 0x1:
		return decodeCQuadrant1(pc, in, funct3)
	case 0x2:
		return decodeCQuadrant2(pc, in, funct3)
	default:
		return 0, &ErrInvalidInstruction{pc, uint32(in)}
	}
}

func decodeCQuadrant0(pc uint64, in uint16, funct3 uint16) (isa.Instruction, error) {
	rdp := cReg(in >> 2)
	rs1p := cReg(in >> 7)
	switch funct3 {
	case 0b000: // C.ADDI4SPN
		if in&0x1fe0 == 0 {
			return 0, &ErrInvalidInstruction{pc, uint32(in)}
		}
		b3 := uint32(in>>5) & 0x1
		b2 := uint32(in>>6) & 0x1
		b96 := uint32(in>>7) & 0xf
		b54 := uint32(in>>11) & 0x3
		nzuimm := b3<<3 | b2<<2 | b96<<6 | b54<<4
		return isa.NewI(isa.OpAddi, rdp, 2, int32(nzuimm), 2), nil
	case 0b010: // C.LW
		imm := cLwImm(in)
		return isa.NewI(isa.OpLw, rdp, rs1p, int32(imm), 2), nil
	case 0b011: // C.LD
		imm := cLdImm(in)
		return isa.NewI(isa.OpLd, rdp, rs1p, int32(imm), 2), nil
	case 0b110: // C.SW
		imm := cLwImm(in)
		return isa.NewS(isa.OpSw, rs1p, cReg(in>>2), int32(imm), 2), nil
	case 0b111: // C.SD
		imm := cLdImm(in)
		return isa.NewS(isa.OpSd, rs1p, cReg(in>>2), int32(imm), 2), nil
	default:
		return 0, &ErrInvalidInstruction{pc, uint32(in)}
	}
}

func cLwImm(in uint16) uint32 {
	b1210 := uint32(in>>10) & 0x7
	b6 := uint32(in>>6) & 0x1
	b5 := uint32(in>>5) & 0x1
	return b1210<<3 | b6<<2 | b5<<6
}

func cLdImm(in uint16) uint32 {
	b1210 := uint32(in>>10) & 0x7
	b65 := uint32(in>>5) & 0x3
	return b1210<<3 | b65<<6
}

func decodeCQuadrant1(pc uint64, in uint16, funct3 uint16) (isa.Instruction, error) {
	rd := uint8((in >> 7) & 0x1f)
	switch funct3 {
	case 0b000: // C.ADDI / C.NOP
		imm := cImm6(in)
		return isa.NewI(isa.OpAddi, rd, rd, imm, 2), nil
	case 0b001: // C.ADDIW
		imm := cImm6(in)
		return isa.NewI(isa.OpAddiw, rd, rd, imm, 2), nil
	case 0b010: // C.LI
		imm := cImm6(in)
		return isa.NewI(isa.OpAddi, rd, 0, imm, 2), nil
	case 0b011:
		if rd == 2 { // C.ADDI16SP
			imm := cAddi16spImm(in)
			return isa.NewI(isa.OpAddi, 2, 2, imm, 2), nil
		}
		// C.LUI
		imm := cImm6(in) << 12
		return isa.NewU(isa.OpLui, rd, imm, 2), nil
	case 0b100:
		return decodeCAlu(pc, in)
	case 0b101: // C.J
		imm := cJImm(in)
		return isa.NewU(isa.OpJal, 0, imm, 2), nil
	case 0b110: // C.BEQZ
		imm := cBImm(in)
		return isa.NewS(isa.OpBeq, cReg(in>>7), 0, imm, 2), nil
	case 0b111: // C.BNEZ
		imm := cBImm(in)
		return isa.NewS(isa.OpBne, cReg(in>>7), 0, imm, 2), nil
	default:
		return 0, &ErrInvalidInstruction{pc, uint32(in)}
	}
}

func decodeCAlu(pc uint64, in uint16) (isa.Instruction, error) {
	rdp := cReg(in >> 7)
	funct2 := (in >> 10) & 0x3
	switch funct2 {
	case 0b00: // C.SRLI
		shamt := uint8((in>>2)&0x1f | (in>>7)&0x20)
		return isa.NewRU(isa.OpSrli, rdp, rdp, shamt, 2), nil
	case 0b01: // C.SRAI
		shamt := uint8((in>>2)&0x1f | (in>>7)&0x20)
		return isa.NewRU(isa.OpSrai, rdp, rdp, shamt, 2), nil
	case 0b10: // C.ANDI
		imm := cImm6(in)
		return isa.NewI(isa.OpAndi, rdp, rdp, imm, 2), nil
	case 0b11:
		rs2p := cReg(in >> 2)
		wide := (in>>12)&0x1 != 0
		switch (in >> 5) & 0x3 {
		case 0b00:
			if wide {
				return isa.NewR(isa.OpSubw, rdp, rdp, rs2p, 2), nil
			}
			return isa.NewR(isa.OpSub, rdp, rdp, rs2p, 2), nil
		case 0b01:
			if wide {
				return isa.NewR(isa.OpAddw, rdp, rdp, rs2p, 2), nil
			}
			return isa.NewR(isa.OpXor, rdp, rdp, rs2p, 2), nil
		case 0b10:
			return isa.NewR(isa.OpOr, rdp, rdp, rs2p, 2), nil
		default:
			return isa.NewR(isa.OpAnd, rdp, rdp, rs2p, 2), nil
		}
	}
	return 0, &ErrInvalidInstruction{pc, uint32(in)}
}

func decodeCQuadrant2(pc uint64, in uint16, funct3 uint16) (isa.Instruction, error) {
	rd := uint8((in >> 7) & 0x1f)
	rs2 := uint8((in >> 2) & 0x1f)
	switch funct3 {
	case 0b000: // C.SLLI
		shamt := uint8((in>>2)&0x1f | (in>>7)&0x20)
		return isa.NewRU(isa.OpSlli, rd, rd, shamt, 2), nil
	case 0b010: // C.LWSP
		imm := cLwspImm(in)
		return isa.NewI(isa.OpLw, rd, 2, int32(imm), 2), nil
	case 0b011: // C.LDSP
		imm := cLdspImm(in)
		return isa.NewI(isa.OpLd, rd, 2, int32(imm), 2), nil
	case 0b100:
		hi := (in >> 12) & 0x1
		if hi == 0 {
			if rs2 == 0 { // C.JR
				return isa.NewI(isa.OpJalr, 0, rd, 0, 2), nil
			}
			// C.MV
			return isa.NewR(isa.OpAdd, rd, 0, rs2, 2), nil
		}
		if rd == 0 && rs2 == 0 { // C.EBREAK
			return isa.NewR(isa.OpEbreak, 0, 0, 0, 2), nil
		}
		if rs2 == 0 { // C.JALR
			return isa.NewI(isa.OpJalr, 1, rd, 0, 2), nil
		}
		// C.ADD
		return isa.NewR(isa.OpAdd, rd, rd, rs2, 2), nil
	case 0b110: // C.SWSP
		imm := cSwspImm(in)
		return isa.NewS(isa.OpSw, 2, rs2, int32(imm), 2), nil
	case 0b111: // C.SDSP
		imm := cSdspImm(in)
		return isa.NewS(isa.OpSd, 2, rs2, int32(imm), 2), nil
	default:
		return 0, &ErrInvalidInstruction{pc, uint32(in)}
	}
}

func cImm6(in uint16) int32 {
	raw := uint32((in>>2)&0x1f | (in>>7)&0x20)
	return signExtend(raw, 6)
}

func cAddi16spImm(in uint16) int32 {
	b12 := uint32(in>>12) & 0x1
	b43 := uint32(in>>3) & 0x3
	b5 := uint32(in>>5) & 0x1
	b2 := uint32(in>>2) & 0x1
	b6 := uint32(in>>6) & 0x1
	raw := b12<<9 | b43<<7 | b5<<6 | b2<<5 | b6<<4
	return signExtend(raw, 10)
}

func cJImm(in uint16) int32 {
	b11 := uint32(in>>12) & 0x1
	b4 := uint32(in>>11) & 0x1
	b98 := uint32(in>>9) & 0x3
	b10 := uint32(in>>8) & 0x1
	b6 := uint32(in>>7) & 0x1
	b7 := uint32(in>>6) & 0x1
	b31 := uint32(in>>3) & 0x7
	b5 := uint32(in>>2) & 0x1
	raw := b11<<11 | b10<<10 | b98<<8 | b7<<7 | b6<<6 | b5<<5 | b4<<4 | b31<<1
	return signExtend(raw, 12)
}

func cBImm(in uint16) int32 {
	b8 := uint32(in>>12) & 0x1
	b43 := uint32(in>>10) & 0x3
	b76 := uint32(in>>5) & 0x3
	b21 := uint32(in>>3) & 0x3
	b5 := uint32(in>>2) & 0x1
	raw := b8<<8 | b76<<6 | b5<<5 | b43<<3 | b21<<1
	return signExtend(raw, 9)
}

func cLwspImm(in uint16) uint32 {
	b5 := uint32(in>>12) & 0x1
	b42 := uint32(in>>4) & 0x7
	b76 := uint32(in>>2) & 0x3
	return b5<<5 | b42<<2 | b76<<6
}

func cLdspImm(in uint16) uint32 {
	b5 := uint32(in>>12) & 0x1
	b43 := uint32(in>>5) & 0x3
	b86 := uint32(in>>2) & 0x7
	return b5<<5 | b43<<3 | b86<<6
}

func cSwspImm(in uint16) uint32 {
	b52 := uint32(in>>9) & 0xf
	b76 := uint32(in>>7) & 0x3
	return b52<<2 | b76<<6
}

func cSdspImm(in uint16) uint32 {
	b53 := uint32(in>>10) & 0x7
	b86 := uint32(in>>7) & 0x7
	return b53<<3 | b86<<6
}
