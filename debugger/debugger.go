// Package debugger implements an interactive CLI/TUI front end over a
// machine.Machine: breakpoints, single-step/step-over/step-out,
// register/memory inspection, and command history. It attaches to a
// Machine as a machine.Debugger, so EBREAK in the guest program drops
// straight into the same breakpoint handling as an address breakpoint.
package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lookbusy1344/riscv-vm/decoder"
	"github.com/lookbusy1344/riscv-vm/isa"
	"github.com/lookbusy1344/riscv-vm/machine"
)

// Debugger holds interactive debugging state over a single Machine.
type Debugger struct {
	M *machine.Machine

	Breakpoints *BreakpointManager
	History     *CommandHistory

	Running    bool
	StepMode   StepMode
	StepOverPC uint64

	// Symbols maps label names to addresses, for break/print/x by name.
	Symbols map[string]uint64

	// SourceMap optionally annotates addresses with a disassembly or
	// source line, shown by the list command.
	SourceMap map[uint64]string

	LastCommand string

	Output strings.Builder
}

// StepMode selects what ShouldBreak checks for on the next instruction.
type StepMode int

const (
	StepNone   StepMode = iota // not stepping
	StepSingle                 // stop after one basic block
	StepOver                   // run until PC returns to the call site
	StepOut                    // run on; the return address is not tracked, only breakpoints stop it
)

// NewDebugger attaches a debugger to m and registers it as m's EBREAK
// handler.
func NewDebugger(m *machine.Machine) *Debugger {
	d := &Debugger{
		M:           m,
		Breakpoints: NewBreakpointManager(),
		History:     NewCommandHistory(),
		Symbols:     make(map[string]uint64),
		SourceMap:   make(map[uint64]string),
	}
	m.SetDebugger(d)
	return d
}

// EBreak implements machine.Debugger: an EBREAK in the guest stops
// execution the same way a user breakpoint does.
func (d *Debugger) EBreak(m *machine.Machine) error {
	d.Running = false
	d.Printf("EBREAK at 0x%016X\n", m.PC())
	return nil
}

// LoadSymbols installs the label->address table used by ResolveAddress.
func (d *Debugger) LoadSymbols(symbols map[string]uint64) {
	d.Symbols = symbols
}

// LoadSourceMap installs the address->annotation table used by list.
func (d *Debugger) LoadSourceMap(sourceMap map[uint64]string) {
	d.SourceMap = sourceMap
}

// ResolveAddress resolves a symbol name, or parses a decimal/0x-hex
// literal, into a guest address.
func (d *Debugger) ResolveAddress(addrStr string) (uint64, error) {
	if addr, exists := d.Symbols[addrStr]; exists {
		return addr, nil
	}

	s := strings.TrimPrefix(strings.TrimPrefix(addrStr, "0x"), "0X")
	base := 10
	if s != addrStr {
		base = 16
	}
	addr, err := strconv.ParseUint(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %s", addrStr)
	}
	return addr, nil
}

// ExecuteCommand parses and runs one command line, repeating the last
// command on blank input (matching gdb's empty-line behavior).
func (d *Debugger) ExecuteCommand(cmdLine string) error {
	cmdLine = strings.TrimSpace(cmdLine)
	if cmdLine == "" {
		cmdLine = d.LastCommand
	}
	if cmdLine != "" {
		d.History.Add(cmdLine)
		d.LastCommand = cmdLine
	}

	parts := strings.Fields(cmdLine)
	if len(parts) == 0 {
		return nil
	}

	return d.handleCommand(strings.ToLower(parts[0]), parts[1:])
}

func (d *Debugger) handleCommand(cmd string, args []string) error {
	switch cmd {
	case "run", "r":
		return d.cmdRun(args)
	case "continue", "c":
		return d.cmdContinue(args)
	case "step", "s", "si":
		return d.cmdStep(args)
	case "next", "n":
		return d.cmdNext(args)
	case "finish", "fin":
		return d.cmdFinish(args)

	case "break", "b":
		return d.cmdBreak(args)
	case "tbreak", "tb":
		return d.cmdTBreak(args)
	case "delete", "d":
		return d.cmdDelete(args)
	case "enable":
		return d.cmdEnable(args)
	case "disable":
		return d.cmdDisable(args)

	case "print", "p":
		return d.cmdPrint(args)
	case "x":
		return d.cmdExamine(args)
	case "info", "i":
		return d.cmdInfo(args)
	case "backtrace", "bt", "where":
		return d.cmdBacktrace(args)
	case "list", "l":
		return d.cmdList(args)

	case "set":
		return d.cmdSet(args)

	case "reset":
		return d.cmdReset(args)

	case "help", "h", "?":
		return d.cmdHelp(args)

	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
}

// ShouldBreak reports whether the run loop should stop before the
// instruction at the Machine's current PC, and why.
func (d *Debugger) ShouldBreak() (bool, string) {
	pc := d.M.PC()

	switch d.StepMode {
	case StepSingle:
		d.StepMode = StepNone
		return true, "single step"

	case StepOver:
		if pc == d.StepOverPC {
			d.StepMode = StepNone
			return true, "step complete"
		}

	case StepOut:
		// Stopping precisely at the caller's return address needs a
		// shadow call stack; without one this falls back to running
		// until a breakpoint, matching no address in particular.
	}

	if bp := d.Breakpoints.GetBreakpoint(pc); bp != nil {
		if !bp.Enabled {
			return false, ""
		}

		bp.HitCount++
		if bp.Temporary {
			_ = d.Breakpoints.DeleteBreakpoint(bp.ID)
		}

		return true, fmt.Sprintf("breakpoint %d", bp.ID)
	}

	return false, ""
}

// GetOutput returns and clears the accumulated output buffer.
func (d *Debugger) GetOutput() string {
	output := d.Output.String()
	d.Output.Reset()
	return output
}

func (d *Debugger) Printf(format string, args ...interface{}) {
	d.Output.WriteString(fmt.Sprintf(format, args...))
}

func (d *Debugger) Println(args ...interface{}) {
	d.Output.WriteString(fmt.Sprintln(args...))
}

// SetStepOver arranges for execution to stop once it returns to the
// instruction after the current PC, if that instruction is a call
// (JAL/JALR with a link register), or to single-step otherwise.
func (d *Debugger) SetStepOver() {
	d.M.SetRunning(true)
	inst, err := decoder.Decode(d.M.Mem(), d.M.PC())
	if err != nil {
		d.StepMode = StepSingle
		d.Running = true
		return
	}

	if isCall(inst) {
		d.StepOverPC = d.M.PC() + uint64(inst.Length())
		d.StepMode = StepOver
		d.Running = true
	} else {
		d.StepMode = StepSingle
		d.Running = true
	}
}

// isCall reports whether inst is a JAL/JALR that writes a return
// address (rd != x0), the RISC-V convention for a function call.
func isCall(inst isa.Instruction) bool {
	op := inst.Opcode()
	return (op == isa.OpJal || op == isa.OpJalr) && inst.RD() != 0
}

// SetStepOut resumes execution in StepOut mode. ShouldBreak does not
// stop at the caller's return address in that mode; only a breakpoint
// (or program exit) ends the run.
func (d *Debugger) SetStepOut() {
	d.M.SetRunning(true)
	d.StepMode = StepOut
	d.Running = true
}
