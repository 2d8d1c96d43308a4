// Package machine ties together the decoder, trace cache, memory, and
// executor into a runnable RISC-V core: it owns the 32 general-purpose
// registers and PC, drives the fetch/decode/execute loop, accounts
// cycles, and dispatches ECALL/EBREAK to registered syscall handlers or
// an attached debugger.
package machine

import (
	"fmt"

	"github.com/lookbusy1344/riscv-vm/elfload"
	"github.com/lookbusy1344/riscv-vm/execute"
	"github.com/lookbusy1344/riscv-vm/isa"
	"github.com/lookbusy1344/riscv-vm/memory"
	"github.com/lookbusy1344/riscv-vm/tracecache"
)

// Version gates bug-fix behavior that changed between CKB mainnet
// releases: stack layout, the flags given to writable ELF segments, and
// MOP availability are keyed off it. JALR reads rs1 before writing rd in
// every version.
const (
	Version0 uint32 = 0
	Version1 uint32 = 1
	Version2 uint32 = 2
)

// ISA bits record which instruction groups a Machine is configured for.
// Run rejects ISAMop on Version0; decoding and execution do not consult
// these bits.
const (
	ISAImc uint8 = 1 << 0 // base integer + multiply + compressed
	ISAB   uint8 = 1 << 1 // bit-manipulation extension
	ISAMop uint8 = 1 << 2 // macro-op fusion extension; requires Version1+
)

const registerCount = 32

// Register ABI indices used by the ecall convention (a7 = syscall
// number, a0 = first argument / exit code).
const (
	RegSP = 2
	RegA0 = 10
	RegA7 = 17
)

// Error is the typed error surface this package returns; callers can
// switch on the Kind to decide whether a condition is recoverable.
type Error struct {
	Kind string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Kind
}

func (e *Error) Unwrap() error { return e.Err }

func wrapErr(kind string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

var (
	ErrCyclesOverflow = &Error{Kind: "CyclesOverflow"}
	ErrCyclesExceeded = &Error{Kind: "CyclesExceeded"}
	ErrInvalidVersion = &Error{Kind: "InvalidVersion"}
	ErrInvalidEcall   = &Error{Kind: "InvalidEcall"}
	ErrPause          = &Error{Kind: "Pause"}
)

// Syscall handles one registered ECALL contract. Machine tries each
// registered Syscall in order; the first one to return handled=true
// short-circuits the rest, mirroring the original ckb-vm dispatch.
type Syscall interface {
	ECall(m *Machine) (handled bool, err error)
}

// Debugger is notified on EBREAK. A Machine without one treats EBREAK as
// a no-op, matching the reference implementation's default behavior.
type Debugger interface {
	EBreak(m *Machine) error
}

// Machine is a RISC-V core: registers, PC, memory, and the cycle/ISA/
// version metadata gating its behavior.
type Machine struct {
	registers [registerCount]uint64
	pc        uint64
	nextPC    uint64

	mem *memory.Memory
	tc  *tracecache.Cache

	isa     uint8
	version uint32

	cycles     uint64
	maxCycles  uint64
	running    bool
	exitCode   int8
	resetOnce  bool
	pause      *Pause
	instrCycle func(isa.Instruction) uint64

	syscalls []Syscall
	debugger Debugger
}

// New builds a Machine over mem with the given ISA bitset, version, and
// cycle budget. instrCycle assigns a per-instruction cycle cost; pass
// nil for a zero-cost (uncounted) default.
func New(mem *memory.Memory, isaBits uint8, version uint32, maxCycles uint64, instrCycle func(isa.Instruction) uint64) *Machine {
	if instrCycle == nil {
		instrCycle = func(isa.Instruction) uint64 { return 0 }
	}
	return &Machine{
		mem:        mem,
		tc:         tracecache.New(4096, 64),
		isa:        isaBits,
		version:    version,
		maxCycles:  maxCycles,
		pause:      NewPause(),
		instrCycle: instrCycle,
	}
}

// --- execute.Machine interface ---

func (m *Machine) GetRegister(i uint8) uint64 {
	if i == 0 {
		return 0
	}
	return m.registers[i&0x1f]
}

func (m *Machine) SetRegister(i uint8, v uint64) {
	if i == 0 {
		return
	}
	m.registers[i&0x1f] = v
}

func (m *Machine) PC() uint64          { return m.pc }
func (m *Machine) UpdatePC(pc uint64)  { m.nextPC = pc }
func (m *Machine) CommitPC()           { m.pc = m.nextPC }
func (m *Machine) Mem() *memory.Memory { return m.mem }
func (m *Machine) Version() uint32     { return m.version }
func (m *Machine) ISA() uint8          { return m.isa }

func (m *Machine) Ecall() error {
	code := m.GetRegister(RegA7)
	if code == 93 {
		m.exitCode = int8(m.GetRegister(RegA0))
		m.running = false
		return nil
	}
	for _, s := range m.syscalls {
		handled, err := s.ECall(m)
		if err != nil {
			return err
		}
		if handled {
			if m.cycles > m.maxCycles {
				return ErrCyclesExceeded
			}
			return nil
		}
	}
	return &Error{Kind: "InvalidEcall", Err: fmt.Errorf("unregistered syscall %d", code)}
}

func (m *Machine) Ebreak() error {
	if m.debugger != nil {
		return m.debugger.EBreak(m)
	}
	return nil
}

var _ execute.Machine = (*Machine)(nil)

// AddSyscall registers a handler consulted, in registration order, on
// any ECALL whose code isn't the built-in exit (93).
func (m *Machine) AddSyscall(s Syscall) { m.syscalls = append(m.syscalls, s) }

// SetDebugger attaches the handler notified on EBREAK.
func (m *Machine) SetDebugger(d Debugger) { m.debugger = d }

// Pause returns the cooperative pause handle; cloning/sharing it across
// goroutines lets another goroutine request this Machine's run loop
// stop at the next instruction boundary.
func (m *Machine) Pause() *Pause { return m.pause }

// Cycles returns the number of cycles consumed so far.
func (m *Machine) Cycles() uint64 { return m.cycles }

// MaxCycles returns the configured cycle budget.
func (m *Machine) MaxCycles() uint64 { return m.maxCycles }

// SetMaxCycles changes the cycle budget without resetting state.
func (m *Machine) SetMaxCycles(max uint64) { m.maxCycles = max }

// ExitCode returns the code the guest passed to its exit syscall.
func (m *Machine) ExitCode() int8 { return m.exitCode }

// Running reports whether the guest is still executing: true once Run
// or SetRunning(true) has started it, false after an exit ecall or
// Reset. Step does not set this itself, so a caller driving execution
// one Step at a time (as the debugger does) must check it after each
// call to notice exit.
func (m *Machine) Running() bool { return m.running }

// SetRunning lets a caller that drives execution via Step (instead of
// Run) mark the guest as started, so Ecall's exit path and Running
// behave the same way they would under Run.
func (m *Machine) SetRunning(running bool) { m.running = running }

// Registers returns a copy of the 32 general-purpose registers.
func (m *Machine) Registers() [registerCount]uint64 { return m.registers }

// addCycles adds cycles to the running total, failing on overflow or
// budget exhaustion.
func (m *Machine) addCycles(cycles uint64) error {
	newCycles := m.cycles + cycles
	if newCycles < m.cycles {
		return ErrCyclesOverflow
	}
	if newCycles > m.maxCycles {
		return ErrCyclesExceeded
	}
	m.cycles = newCycles
	return nil
}

// Reset clears registers, PC, and cycle count, reinitializes memory, and
// invalidates the trace cache. The next Run/Step call will refill the
// trace cache from decoded instructions as normal.
func (m *Machine) Reset(maxCycles uint64) error {
	m.registers = [registerCount]uint64{}
	m.pc, m.nextPC = 0, 0
	m.mem.Reset()
	m.tc.Invalidate()
	m.cycles = 0
	m.maxCycles = maxCycles
	m.running = false
	m.exitCode = 0
	return nil
}

// LoadELF parses and maps program into memory and, if updatePC, sets the
// entry point as the next PC to commit.
func (m *Machine) LoadELF(program []byte, updatePC bool) (uint64, error) {
	metadata, err := elfload.Parse(program, 64, m.version)
	if err != nil {
		return 0, wrapErr("ParseError", err)
	}
	if err := elfload.LoadInto(m.mem, program, metadata, m.version); err != nil {
		return 0, err
	}
	var bytes uint64
	for _, a := range metadata.Actions {
		bytes += a.SourceEnd - a.SourceStart
	}
	if updatePC {
		m.UpdatePC(metadata.Entry)
		m.CommitPC()
	}
	return bytes, nil
}

// InitializeStack lays out argc/argv on the guest stack, sized to a
// quarter of total memory, matching the reference implementation's
// convention, sets SP to the result, and returns the number of stack
// bytes consumed.
func (m *Machine) InitializeStack(args [][]byte) (uint64, error) {
	memSize := m.mem.Size()
	stackSize := memSize / 4
	stackStart := memSize - stackSize
	if err := m.mem.SetPageFlags(stackStart, stackSize, memory.FlagWritable); err != nil {
		return 0, err
	}
	sp, err := elfload.InitializeStack(m.mem, args, stackStart, stackSize, 64, m.version)
	if err != nil {
		return 0, err
	}
	m.SetRegister(RegSP, sp)
	return (stackStart + stackSize) - sp, nil
}

// LoadProgram loads program, initializes argv on the stack, and sets PC
// to the entry point — the common one-call setup path.
func (m *Machine) LoadProgram(program []byte, args [][]byte) (uint64, error) {
	elfBytes, err := m.LoadELF(program, true)
	if err != nil {
		return 0, err
	}
	stackBytes, err := m.InitializeStack(args)
	if err != nil {
		return 0, err
	}
	return elfBytes + stackBytes, nil
}
