package decoder

import (
	"encoding/binary"
	"testing"

	"github.com/lookbusy1344/riscv-vm/isa"
)

// fakeMem is a minimal in-memory MemReader backing tests without pulling
// in the full memory package's permission/dirty-tracking machinery.
type fakeMem struct{ bytes []byte }

func (f *fakeMem) FetchForExecute(addr, length uint64) ([]byte, error) {
	return f.bytes[addr : addr+length], nil
}

func newFakeMem(words ...uint32) *fakeMem {
	buf := make([]byte, len(words)*4)
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return &fakeMem{bytes: buf}
}

func encodeR(opcode, rd, funct3, rs1, rs2, funct7 uint32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | rs2<<20 | funct7<<25
}

func encodeI(opcode, rd, funct3, rs1 uint32, imm int32) uint32 {
	return opcode | rd<<7 | funct3<<12 | rs1<<15 | uint32(imm)<<20
}

func TestDecode_AddRType(t *testing.T) {
	word := encodeR(0x33, 1, 0b000, 2, 3, 0x00) // ADD x1, x2, x3
	mem := newFakeMem(word)
	inst, err := Decode(mem, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode() != isa.OpAdd {
		t.Errorf("Opcode() = %v, want OpAdd", inst.Opcode())
	}
	if inst.RD() != 1 || inst.RS1() != 2 || inst.RS2() != 3 {
		t.Errorf("got rd=%d rs1=%d rs2=%d, want 1,2,3", inst.RD(), inst.RS1(), inst.RS2())
	}
	if inst.Length() != 4 {
		t.Errorf("Length() = %d, want 4", inst.Length())
	}
}

func TestDecode_MExtensionMul(t *testing.T) {
	word := encodeR(0x33, 1, 0b000, 2, 3, 0x01) // MUL x1, x2, x3
	mem := newFakeMem(word)
	inst, err := Decode(mem, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode() != isa.OpMul {
		t.Errorf("Opcode() = %v, want OpMul", inst.Opcode())
	}
}

func TestDecode_Addi(t *testing.T) {
	word := encodeI(0x13, 5, 0b000, 0, -16) // ADDI x5, x0, -16
	mem := newFakeMem(word)
	inst, err := Decode(mem, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode() != isa.OpAddi {
		t.Errorf("Opcode() = %v, want OpAddi", inst.Opcode())
	}
	if got := inst.ImmI(); got != -16 {
		t.Errorf("ImmI() = %d, want -16", got)
	}
}

func TestDecode_Lui(t *testing.T) {
	word := uint32(0x37) | 7<<7 | uint32(0x12345000)
	mem := newFakeMem(word)
	inst, err := Decode(mem, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode() != isa.OpLui {
		t.Errorf("Opcode() = %v, want OpLui", inst.Opcode())
	}
	if inst.RD() != 7 {
		t.Errorf("RD() = %d, want 7", inst.RD())
	}
	if got := inst.ImmU(); got != 0x12345000 {
		t.Errorf("ImmU() = %#x, want %#x", got, 0x12345000)
	}
}

func TestDecode_Ecall(t *testing.T) {
	mem := newFakeMem(0x73) // ECALL: opcode 0x73, all other fields 0
	inst, err := Decode(mem, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode() != isa.OpEcall {
		t.Errorf("Opcode() = %v, want OpEcall", inst.Opcode())
	}
}

func TestDecode_InvalidInstruction(t *testing.T) {
	mem := newFakeMem(0x7f) // opcode bits = 0x7f, no base form defines this
	_, err := Decode(mem, 0)
	if err == nil {
		t.Fatal("expected error for unrecognized opcode")
	}
	if _, ok := err.(*ErrInvalidInstruction); !ok {
		t.Errorf("error type = %T, want *ErrInvalidInstruction", err)
	}
}

func TestDecode_CompressedAddi4spn(t *testing.T) {
	// C.ADDI4SPN x8, sp, 4: quadrant 00, funct3 000, nzuimm[2] (bit 6) set,
	// rd' field (bits 4:2) = 0 -> expands to x8.
	in := uint16(0x0040)
	buf := []byte{byte(in), byte(in >> 8)}
	mem := &fakeMem{bytes: buf}
	inst, err := Decode(mem, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode() != isa.OpAddi {
		t.Errorf("Opcode() = %v, want OpAddi", inst.Opcode())
	}
	if inst.Length() != 2 {
		t.Errorf("Length() = %d, want 2", inst.Length())
	}
	if got := inst.ImmI(); got != 4 {
		t.Errorf("ImmI() = %d, want 4", got)
	}
}

func TestDecode_CompressedNop(t *testing.T) {
	// C.ADDI x0, 0 (C.NOP): quadrant 01, funct3 000, rd=0, imm=0.
	in := uint16(0b01)
	buf := []byte{byte(in), byte(in >> 8)}
	mem := &fakeMem{bytes: buf}
	inst, err := Decode(mem, 0)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if inst.Opcode() != isa.OpAddi {
		t.Errorf("Opcode() = %v, want OpAddi", inst.Opcode())
	}
	if inst.ImmI() != 0 {
		t.Errorf("ImmI() = %d, want 0", inst.ImmI())
	}
}
