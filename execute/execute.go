// Package execute implements instruction semantics: given a decoded
// isa.Instruction and a Machine to operate on, it performs the
// instruction's effect on registers and memory and proposes the next PC.
//
// The two-phase PC commit discipline lives here structurally rather than
// as a documented convention: every handler that needs to read rs1 to
// compute its next PC (JALR in particular) does so before writing rd,
// so the result is correct even when rd and rs1 name the same register.
// Each handler proposes the next PC itself through Machine.UpdatePC; the
// driver (package machine) calls CommitPC once Execute has returned.
package execute

import (
	"fmt"

	"github.com/lookbusy1344/riscv-vm/isa"
	"github.com/lookbusy1344/riscv-vm/memory"
	"github.com/lookbusy1344/riscv-vm/rvvm"
)

// Machine is the register/memory/control surface a decoded instruction
// operates on. *machine.Machine implements this.
type Machine interface {
	GetRegister(i uint8) uint64
	SetRegister(i uint8, v uint64)
	PC() uint64
	UpdatePC(pc uint64)
	Mem() *memory.Memory
	Version() uint32
	ISA() uint8
	Ecall() error
	Ebreak() error
}

// InvalidOpError reports an opcode execute does not implement, including
// any opcode in the reserved vector-extension range.
type InvalidOpError struct{ Op isa.Opcode }

func (e *InvalidOpError) Error() string { return fmt.Sprintf("invalid op: %s (%#x)", e.Op.Name(), uint16(e.Op)) }

const xlen = 64

// Execute performs inst's effect on m and proposes the next PC via
// m.UpdatePC. The caller (the driver loop) is responsible for calling
// CommitPC afterward.
func Execute(inst isa.Instruction, m Machine) error {
	op := inst.Opcode()
	if op.IsVector() {
		return &InvalidOpError{op}
	}

	pc := m.PC()
	length := uint64(inst.Length())
	defaultNext := pc + length

	switch op {
	case isa.OpAdd:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a + b })
	case isa.OpSub:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a - b })
	case isa.OpAnd:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a & b })
	case isa.OpOr:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a | b })
	case isa.OpXor:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a ^ b })
	case isa.OpAndn:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a &^ b })
	case isa.OpOrn:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a | ^b })
	case isa.OpXnor:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return ^(a ^ b) })
	case isa.OpSll:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a << (b & 63) })
	case isa.OpSrl:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a >> (b & 63) })
	case isa.OpSra:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return rvvm.SignedShr(a, uint(b&63)) })
	case isa.OpSlt:
		return rType(inst, m, defaultNext, rvvm.LtS[uint64])
	case isa.OpSltu:
		return rType(inst, m, defaultNext, rvvm.Lt[uint64])
	case isa.OpMax:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return rvvm.Cond(rvvm.LtS(a, b), b, a) })
	case isa.OpMaxu:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return rvvm.Cond(rvvm.Lt(a, b), b, a) })
	case isa.OpMin:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return rvvm.Cond(rvvm.LtS(a, b), a, b) })
	case isa.OpMinu:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return rvvm.Cond(rvvm.Lt(a, b), a, b) })
	case isa.OpClmul:
		return rType(inst, m, defaultNext, rvvm.Clmul[uint64])
	case isa.OpClmulh:
		return rType(inst, m, defaultNext, rvvm.Clmulh[uint64])
	case isa.OpClmulr:
		return rType(inst, m, defaultNext, rvvm.Clmulr[uint64])
	case isa.OpRol:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return rvvm.Rol(a, uint(b&63)) })
	case isa.OpRor:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return rvvm.Ror(a, uint(b&63)) })
	case isa.OpSh1add:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return (a << 1) + b })
	case isa.OpSh2add:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return (a << 2) + b })
	case isa.OpSh3add:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return (a << 3) + b })
	case isa.OpAdduw:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return uint64(uint32(a)) + b })
	case isa.OpSh1adduw:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return (uint64(uint32(a)) << 1) + b })
	case isa.OpSh2adduw:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return (uint64(uint32(a)) << 2) + b })
	case isa.OpSh3adduw:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return (uint64(uint32(a)) << 3) + b })
	case isa.OpBclr:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a &^ (1 << (b & 63)) })
	case isa.OpBext:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return (a >> (b & 63)) & 1 })
	case isa.OpBinv:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a ^ (1 << (b & 63)) })
	case isa.OpBset:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a | (1 << (b & 63)) })

	case isa.OpAddw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return a + b })
	case isa.OpSubw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return a - b })
	case isa.OpSllw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return a << (b & 31) })
	case isa.OpSrlw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return a >> (b & 31) })
	case isa.OpSraw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return rvvm.SignedShr(a, uint(b&31)) })

	case isa.OpMul:
		return rType(inst, m, defaultNext, func(a, b uint64) uint64 { return a * b })
	case isa.OpMulh:
		return rType(inst, m, defaultNext, rvvm.MulHS[uint64])
	case isa.OpMulhsu:
		return rType(inst, m, defaultNext, rvvm.MulHSU[uint64])
	case isa.OpMulhu:
		return rType(inst, m, defaultNext, rvvm.MulHU[uint64])
	case isa.OpDiv:
		return rType(inst, m, defaultNext, rvvm.DivS[uint64])
	case isa.OpDivu:
		return rType(inst, m, defaultNext, rvvm.DivU[uint64])
	case isa.OpRem:
		return rType(inst, m, defaultNext, rvvm.RemS[uint64])
	case isa.OpRemu:
		return rType(inst, m, defaultNext, rvvm.RemU[uint64])
	case isa.OpMulw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return a * b })
	case isa.OpDivw:
		return wType(inst, m, defaultNext, rvvm.DivS[uint32])
	case isa.OpDivuw:
		return wType(inst, m, defaultNext, rvvm.DivU[uint32])
	case isa.OpRemw:
		return wType(inst, m, defaultNext, rvvm.RemS[uint32])
	case isa.OpRemuw:
		return wType(inst, m, defaultNext, rvvm.RemU[uint32])

	case isa.OpAddi:
		return iType(inst, m, defaultNext, func(a uint64, imm int64) uint64 { return a + uint64(imm) })
	case isa.OpAndi:
		return iType(inst, m, defaultNext, func(a uint64, imm int64) uint64 { return a & uint64(imm) })
	case isa.OpOri:
		return iType(inst, m, defaultNext, func(a uint64, imm int64) uint64 { return a | uint64(imm) })
	case isa.OpXori:
		return iType(inst, m, defaultNext, func(a uint64, imm int64) uint64 { return a ^ uint64(imm) })
	case isa.OpSlti:
		return iType(inst, m, defaultNext, func(a uint64, imm int64) uint64 { return rvvm.LtS(a, uint64(imm)) })
	case isa.OpSltiu:
		return iType(inst, m, defaultNext, func(a uint64, imm int64) uint64 { return rvvm.Lt(a, uint64(imm)) })
	case isa.OpAddiw:
		return iwType(inst, m, defaultNext, func(a uint32, imm int32) uint32 { return a + uint32(imm) })

	case isa.OpSlli:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return a << (sh & 63) })
	case isa.OpSrli:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return a >> (sh & 63) })
	case isa.OpSrai:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return rvvm.SignedShr(a, uint(sh&63)) })
	case isa.OpSlliw:
		return ruwType(inst, m, defaultNext, func(a uint32, sh uint8) uint32 { return a << (sh & 31) })
	case isa.OpSrliw:
		return ruwType(inst, m, defaultNext, func(a uint32, sh uint8) uint32 { return a >> (sh & 31) })
	case isa.OpSraiw:
		return ruwType(inst, m, defaultNext, func(a uint32, sh uint8) uint32 { return rvvm.SignedShr(a, uint(sh&31)) })
	case isa.OpRori:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return rvvm.Ror(a, uint(sh)) })
	case isa.OpSlliuw:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return uint64(uint32(a)) << (sh & 63) })
	case isa.OpBclri:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return a &^ (1 << (sh & 63)) })
	case isa.OpBexti:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return (a >> (sh & 63)) & 1 })
	case isa.OpBinvi:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return a ^ (1 << (sh & 63)) })
	case isa.OpBseti:
		return ruType(inst, m, defaultNext, func(a uint64, sh uint8) uint64 { return a | (1 << (sh & 63)) })

	case isa.OpClz:
		return r1(inst, m, defaultNext, rvvm.Clz[uint64])
	case isa.OpCtz:
		return r1(inst, m, defaultNext, rvvm.Ctz[uint64])
	case isa.OpCpop:
		return r1(inst, m, defaultNext, rvvm.Cpop[uint64])
	case isa.OpOrcb:
		return r1(inst, m, defaultNext, rvvm.Orcb[uint64])
	case isa.OpRev8:
		return r1(inst, m, defaultNext, rvvm.Rev8[uint64])
	case isa.OpSextb:
		return r1(inst, m, defaultNext, func(a uint64) uint64 { return uint64(rvvm.SignExtend(a, 8)) })
	case isa.OpSexth:
		return r1(inst, m, defaultNext, func(a uint64) uint64 { return uint64(rvvm.SignExtend(a, 16)) })
	case isa.OpZexth:
		return r1(inst, m, defaultNext, func(a uint64) uint64 { return rvvm.ZeroExtend(a, 16) })
	case isa.OpClzw:
		return r1w(inst, m, defaultNext, rvvm.Clz[uint32])
	case isa.OpCtzw:
		return r1w(inst, m, defaultNext, rvvm.Ctz[uint32])
	case isa.OpCpopw:
		return r1w(inst, m, defaultNext, rvvm.Cpop[uint32])
	case isa.OpRolw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return rvvm.Rol(a, uint(b&31)) })
	case isa.OpRorw:
		return wType(inst, m, defaultNext, func(a, b uint32) uint32 { return rvvm.Ror(a, uint(b&31)) })
	case isa.OpRoriw:
		return ruwType(inst, m, defaultNext, func(a uint32, sh uint8) uint32 { return rvvm.Ror(a, uint(sh&31)) })

	case isa.OpWideMul:
		return wideType(inst, m, defaultNext, func(a, b uint64) (uint64, uint64) { return a * b, uint64(rvvm.MulHS(a, b)) })
	case isa.OpWideMulu:
		return wideType(inst, m, defaultNext, func(a, b uint64) (uint64, uint64) { return a * b, rvvm.MulHU(a, b) })
	case isa.OpWideMulsu:
		return wideType(inst, m, defaultNext, func(a, b uint64) (uint64, uint64) { return a * b, rvvm.MulHSU(a, b) })
	case isa.OpWideDiv:
		return wideType(inst, m, defaultNext, func(a, b uint64) (uint64, uint64) { return rvvm.DivS(a, b), rvvm.RemS(a, b) })
	case isa.OpWideDivu:
		return wideType(inst, m, defaultNext, func(a, b uint64) (uint64, uint64) { return rvvm.DivU(a, b), rvvm.RemU(a, b) })
	case isa.OpAdc:
		return carryType(inst, m, defaultNext, func(a, b, carry uint64) uint64 { return a + b + carry })
	case isa.OpSbb:
		return carryType(inst, m, defaultNext, func(a, b, carry uint64) uint64 { return a - b - carry })

	case isa.OpLui:
		m.SetRegister(inst.RD(), uint64(int64(inst.ImmU())))
		m.UpdatePC(defaultNext)
		return nil
	case isa.OpAuipc:
		m.SetRegister(inst.RD(), pc+uint64(int64(inst.ImmU())))
		m.UpdatePC(defaultNext)
		return nil
	case isa.OpCustomLoadImm:
		m.SetRegister(inst.RD(), uint64(int64(inst.ImmU())))
		m.UpdatePC(defaultNext)
		return nil
	case isa.OpCustomLoadUimm:
		m.SetRegister(inst.RD(), uint64(uint32(inst.ImmU())))
		m.UpdatePC(defaultNext)
		return nil

	case isa.OpLb, isa.OpLh, isa.OpLw, isa.OpLd, isa.OpLbu, isa.OpLhu, isa.OpLwu:
		return load(inst, m, defaultNext)
	case isa.OpSb, isa.OpSh, isa.OpSw, isa.OpSd:
		return store(inst, m, defaultNext)

	case isa.OpBeq:
		return branch(inst, m, pc, length, func(a, b uint64) bool { return a == b })
	case isa.OpBne:
		return branch(inst, m, pc, length, func(a, b uint64) bool { return a != b })
	case isa.OpBlt:
		return branch(inst, m, pc, length, func(a, b uint64) bool { return rvvm.LtS(a, b) == 1 })
	case isa.OpBge:
		return branch(inst, m, pc, length, func(a, b uint64) bool { return rvvm.LtS(a, b) == 0 })
	case isa.OpBltu:
		return branch(inst, m, pc, length, func(a, b uint64) bool { return a < b })
	case isa.OpBgeu:
		return branch(inst, m, pc, length, func(a, b uint64) bool { return a >= b })

	case isa.OpJal:
		link := pc + length
		target := pc + uint64(int64(inst.ImmU()))
		m.SetRegister(inst.RD(), link)
		m.UpdatePC(target)
		return nil
	case isa.OpJalr:
		// Read rs1 before writing rd: correct even when rd == rs1.
		target := (m.GetRegister(inst.RS1()) + uint64(int64(inst.ImmI()))) &^ 1
		link := pc + length
		m.SetRegister(inst.RD(), link)
		m.UpdatePC(target)
		return nil
	case isa.OpFarJumpRel:
		target := pc + uint64(int64(inst.ImmU()))
		m.UpdatePC(target)
		return nil
	case isa.OpFarJumpAbs:
		m.UpdatePC(uint64(int64(inst.ImmU())))
		return nil

	case isa.OpEcall:
		m.UpdatePC(defaultNext)
		return m.Ecall()
	case isa.OpEbreak:
		m.UpdatePC(defaultNext)
		return m.Ebreak()

	case isa.OpCustomTraceEnd:
		m.UpdatePC(defaultNext)
		return nil

	default:
		return &InvalidOpError{op}
	}
}

func rType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a, b uint64) uint64) error {
	a, b := m.GetRegister(inst.RS1()), m.GetRegister(inst.RS2())
	m.SetRegister(inst.RD(), f(a, b))
	m.UpdatePC(defaultNext)
	return nil
}

func r1(inst isa.Instruction, m Machine, defaultNext uint64, f func(a uint64) uint64) error {
	m.SetRegister(inst.RD(), f(m.GetRegister(inst.RS1())))
	m.UpdatePC(defaultNext)
	return nil
}

func r1w(inst isa.Instruction, m Machine, defaultNext uint64, f func(a uint32) uint32) error {
	m.SetRegister(inst.RD(), uint64(f(uint32(m.GetRegister(inst.RS1())))))
	m.UpdatePC(defaultNext)
	return nil
}

// wideType implements the MOP fusion ops that produce a 128-bit result
// split across two registers: rd receives the low word, rs3 names the
// register that receives the high word (widening multiply/divide are
// fused from a pair of adjacent base instructions that target those two
// registers; see DESIGN.md).
func wideType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a, b uint64) (lo, hi uint64)) error {
	a, b := m.GetRegister(inst.RS1()), m.GetRegister(inst.RS2())
	lo, hi := f(a, b)
	m.SetRegister(inst.RD(), lo)
	m.SetRegister(inst.RS3(), hi)
	m.UpdatePC(defaultNext)
	return nil
}

// carryType implements ADC/SBB: rd = f(rs1, rs2, carry-in), where the
// carry-in is the value held in rs3 (0 or 1).
func carryType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a, b, carry uint64) uint64) error {
	a, b, carry := m.GetRegister(inst.RS1()), m.GetRegister(inst.RS2()), m.GetRegister(inst.RS3())&1
	m.SetRegister(inst.RD(), f(a, b, carry))
	m.UpdatePC(defaultNext)
	return nil
}

func wType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a, b uint32) uint32) error {
	a := uint32(m.GetRegister(inst.RS1()))
	b := uint32(m.GetRegister(inst.RS2()))
	result := f(a, b)
	m.SetRegister(inst.RD(), uint64(int64(int32(result))))
	m.UpdatePC(defaultNext)
	return nil
}

func iType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a uint64, imm int64) uint64) error {
	a := m.GetRegister(inst.RS1())
	m.SetRegister(inst.RD(), f(a, int64(inst.ImmI())))
	m.UpdatePC(defaultNext)
	return nil
}

func iwType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a uint32, imm int32) uint32) error {
	a := uint32(m.GetRegister(inst.RS1()))
	result := f(a, inst.ImmI())
	m.SetRegister(inst.RD(), uint64(int64(int32(result))))
	m.UpdatePC(defaultNext)
	return nil
}

func ruType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a uint64, sh uint8) uint64) error {
	a := m.GetRegister(inst.RS1())
	m.SetRegister(inst.RD(), f(a, inst.Uimm()))
	m.UpdatePC(defaultNext)
	return nil
}

func ruwType(inst isa.Instruction, m Machine, defaultNext uint64, f func(a uint32, sh uint8) uint32) error {
	a := uint32(m.GetRegister(inst.RS1()))
	result := f(a, inst.Uimm())
	m.SetRegister(inst.RD(), uint64(int64(int32(result))))
	m.UpdatePC(defaultNext)
	return nil
}

func load(inst isa.Instruction, m Machine, defaultNext uint64) error {
	addr := m.GetRegister(inst.RS1()) + uint64(int64(inst.ImmI()))
	mem := m.Mem()
	var value uint64
	switch inst.Opcode() {
	case isa.OpLb:
		v, err := mem.Load8(addr)
		if err != nil {
			return err
		}
		value = uint64(int64(int8(v)))
	case isa.OpLbu:
		v, err := mem.Load8(addr)
		if err != nil {
			return err
		}
		value = uint64(v)
	case isa.OpLh:
		v, err := mem.Load16(addr)
		if err != nil {
			return err
		}
		value = uint64(int64(int16(v)))
	case isa.OpLhu:
		v, err := mem.Load16(addr)
		if err != nil {
			return err
		}
		value = uint64(v)
	case isa.OpLw:
		v, err := mem.Load32(addr)
		if err != nil {
			return err
		}
		value = uint64(int64(int32(v)))
	case isa.OpLwu:
		v, err := mem.Load32(addr)
		if err != nil {
			return err
		}
		value = uint64(v)
	case isa.OpLd:
		v, err := mem.Load64(addr)
		if err != nil {
			return err
		}
		value = v
	}
	m.SetRegister(inst.RD(), value)
	m.UpdatePC(defaultNext)
	return nil
}

func store(inst isa.Instruction, m Machine, defaultNext uint64) error {
	addr := m.GetRegister(inst.RS1()) + uint64(int64(inst.ImmS()))
	value := m.GetRegister(inst.RS2())
	mem := m.Mem()
	var err error
	switch inst.Opcode() {
	case isa.OpSb:
		err = mem.Store8(addr, uint8(value))
	case isa.OpSh:
		err = mem.Store16(addr, uint16(value))
	case isa.OpSw:
		err = mem.Store32(addr, uint32(value))
	case isa.OpSd:
		err = mem.Store64(addr, value)
	}
	if err != nil {
		return err
	}
	m.UpdatePC(defaultNext)
	return nil
}

func branch(inst isa.Instruction, m Machine, pc, length uint64, cmp func(a, b uint64) bool) error {
	a, b := m.GetRegister(inst.RS1()), m.GetRegister(inst.RS2())
	if cmp(a, b) {
		m.UpdatePC(pc + uint64(int64(inst.ImmS())))
	} else {
		m.UpdatePC(pc + length)
	}
	return nil
}
