package debugger

import (
	"strings"
	"testing"

	"github.com/lookbusy1344/riscv-vm/machine"
	"github.com/lookbusy1344/riscv-vm/memory"
)

func newTestMachine(t *testing.T, maxCycles uint64) *machine.Machine {
	t.Helper()
	mem, err := memory.New(memory.PageSize * 4)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if err := mem.SetPageFlags(0, memory.PageSize*4, memory.FlagExecutable); err != nil {
		t.Fatalf("SetPageFlags: %v", err)
	}
	return machine.New(mem, machine.ISAImc, machine.Version2, maxCycles, nil)
}

func writeWord(t *testing.T, m *machine.Machine, addr uint64, word uint32) {
	t.Helper()
	buf := []byte{byte(word), byte(word >> 8), byte(word >> 16), byte(word >> 24)}
	if err := m.Mem().InitPages(memory.RoundPageDown(addr), memory.PageSize, memory.FlagExecutable, buf, addr-memory.RoundPageDown(addr)); err != nil {
		t.Fatalf("InitPages: %v", err)
	}
}

func TestNewDebugger_WiresEBreak(t *testing.T) {
	m := newTestMachine(t, 1000)
	// EBREAK at 0x0.
	writeWord(t, m, 0, 0x00100073)

	d := NewDebugger(m)
	if err := m.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}

	out := d.GetOutput()
	if !strings.Contains(out, "EBREAK") {
		t.Errorf("GetOutput() = %q, want EBREAK message", out)
	}
	if d.Running {
		t.Errorf("Running = true after EBREAK, want false")
	}
}

func TestShouldBreak_StopsAtBreakpoint(t *testing.T) {
	m := newTestMachine(t, 1000)
	// ADDI x1, x0, 1 at 0x0, then JAL x0, 0 (self-loop) at 0x4.
	writeWord(t, m, 0, 0x00100093)
	writeWord(t, m, 4, 0x0000006f)

	d := NewDebugger(m)
	d.Breakpoints.AddBreakpoint(4, false, "")

	if err := m.Step(); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if m.PC() != 4 {
		t.Fatalf("PC = 0x%X, want 0x4", m.PC())
	}

	stop, reason := d.ShouldBreak()
	if !stop {
		t.Fatalf("ShouldBreak() = false, want true at breakpoint")
	}
	if !strings.HasPrefix(reason, "breakpoint") {
		t.Errorf("reason = %q, want breakpoint N", reason)
	}

	bp := d.Breakpoints.GetBreakpoint(4)
	if bp.HitCount != 1 {
		t.Errorf("HitCount = %d, want 1", bp.HitCount)
	}
}

func TestShouldBreak_TemporaryBreakpointAutoDeletes(t *testing.T) {
	m := newTestMachine(t, 1000)
	writeWord(t, m, 0, 0x00100073) // EBREAK, never hit directly here

	d := NewDebugger(m)
	d.Breakpoints.AddBreakpoint(0, true, "")

	stop, _ := d.ShouldBreak()
	if !stop {
		t.Fatalf("ShouldBreak() = false, want true")
	}
	if d.Breakpoints.HasBreakpoint(0) {
		t.Errorf("temporary breakpoint still present after hit")
	}
}

func TestShouldBreak_DisabledBreakpointDoesNotStop(t *testing.T) {
	m := newTestMachine(t, 1000)
	d := NewDebugger(m)

	bp := d.Breakpoints.AddBreakpoint(0, false, "")
	if err := d.Breakpoints.DisableBreakpoint(bp.ID); err != nil {
		t.Fatalf("DisableBreakpoint: %v", err)
	}

	stop, reason := d.ShouldBreak()
	if stop {
		t.Errorf("ShouldBreak() = true, want false for disabled breakpoint (reason %q)", reason)
	}
}

func TestShouldBreak_SingleStepStopsOnce(t *testing.T) {
	m := newTestMachine(t, 1000)
	d := NewDebugger(m)
	d.StepMode = StepSingle

	stop, reason := d.ShouldBreak()
	if !stop || reason != "single step" {
		t.Fatalf("ShouldBreak() = (%v, %q), want (true, \"single step\")", stop, reason)
	}
	if d.StepMode != StepNone {
		t.Errorf("StepMode = %v after single step, want StepNone", d.StepMode)
	}

	stop, _ = d.ShouldBreak()
	if stop {
		t.Errorf("ShouldBreak() = true on second check, want false (step consumed)")
	}
}

func TestSetStepOver_NonCallSingleSteps(t *testing.T) {
	m := newTestMachine(t, 1000)
	writeWord(t, m, 0, 0x00100093) // ADDI x1, x0, 1: not a call

	d := NewDebugger(m)
	d.SetStepOver()

	if d.StepMode != StepSingle {
		t.Errorf("StepMode = %v, want StepSingle for non-call instruction", d.StepMode)
	}
	if !m.Running() {
		t.Errorf("m.Running() = false after SetStepOver, want true")
	}
}

func TestSetStepOver_CallStepsOverToReturnAddress(t *testing.T) {
	m := newTestMachine(t, 1000)
	writeWord(t, m, 0, 0x000000ef) // JAL x1, 0: writes ra, a call by convention

	d := NewDebugger(m)
	d.SetStepOver()

	if d.StepMode != StepOver {
		t.Fatalf("StepMode = %v, want StepOver for JAL ra", d.StepMode)
	}
	if d.StepOverPC != 4 {
		t.Errorf("StepOverPC = 0x%X, want 0x4 (pc + instruction length)", d.StepOverPC)
	}
}

func TestSetStepOver_JalrCallDetected(t *testing.T) {
	m := newTestMachine(t, 1000)
	writeWord(t, m, 0, 0x000000e7) // JALR x1, 0(x0): writes ra, a call by convention

	d := NewDebugger(m)
	d.SetStepOver()

	if d.StepMode != StepOver {
		t.Errorf("StepMode = %v, want StepOver for JALR ra", d.StepMode)
	}
}

func TestDebugger_ExitDetectionViaRunning(t *testing.T) {
	m := newTestMachine(t, 1000)
	// ADDI a7, x0, 93 (exit syscall number) then ECALL.
	writeWord(t, m, 0, 0x05d00893)
	writeWord(t, m, 4, 0x00000073)

	d := NewDebugger(m)
	m.SetRunning(true)

	for m.Running() {
		if err := m.Step(); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}

	if m.Running() {
		t.Errorf("m.Running() = true after exit ecall, want false")
	}
	if m.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", m.ExitCode())
	}
	_ = d
}

func TestResolveAddress_SymbolAndLiteral(t *testing.T) {
	m := newTestMachine(t, 1000)
	d := NewDebugger(m)
	d.LoadSymbols(map[string]uint64{"_start": 0x1000})

	addr, err := d.ResolveAddress("_start")
	if err != nil || addr != 0x1000 {
		t.Errorf("ResolveAddress(_start) = (0x%X, %v), want (0x1000, nil)", addr, err)
	}

	addr, err = d.ResolveAddress("0x200")
	if err != nil || addr != 0x200 {
		t.Errorf("ResolveAddress(0x200) = (0x%X, %v), want (0x200, nil)", addr, err)
	}

	addr, err = d.ResolveAddress("64")
	if err != nil || addr != 64 {
		t.Errorf("ResolveAddress(64) = (%d, %v), want (64, nil)", addr, err)
	}
}

func TestExecuteCommand_RepeatsLastOnBlank(t *testing.T) {
	m := newTestMachine(t, 1000)
	d := NewDebugger(m)

	if err := d.ExecuteCommand("break 0x10"); err != nil {
		t.Fatalf("ExecuteCommand(break): %v", err)
	}
	d.GetOutput()

	if err := d.ExecuteCommand(""); err != nil {
		t.Fatalf("ExecuteCommand(blank repeat): %v", err)
	}
	if d.History.GetLast() != "break 0x10" {
		t.Errorf("GetLast() = %q, want %q", d.History.GetLast(), "break 0x10")
	}
}
