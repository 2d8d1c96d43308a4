package machine

import (
	"github.com/lookbusy1344/riscv-vm/decoder"
	"github.com/lookbusy1344/riscv-vm/execute"
	"github.com/lookbusy1344/riscv-vm/isa"
	"github.com/lookbusy1344/riscv-vm/tracecache"
)

// Run drives the fetch/decode/execute loop until the guest exits, an
// instruction fails, or Pause is interrupted from another goroutine. It
// returns the guest's exit code on a clean exit.
func (m *Machine) Run() (int8, error) {
	if m.isa&ISAMop != 0 && m.version == Version0 {
		return 0, ErrInvalidVersion
	}
	m.running = true
	for m.running {
		if m.pause.HasInterrupted() {
			m.pause.Free()
			return 0, ErrPause
		}
		if err := m.Step(); err != nil {
			return 0, err
		}
	}
	return m.exitCode, nil
}

// Step decodes and executes a single basic block's worth of work: it
// looks up (or builds) the trace for the current PC in the trace cache,
// then executes the trace's instructions in order, committing PC after
// each one. Only a trace's last instruction (a basic-block-ending opcode
// or the CustomTraceEnd sentinel) can redirect control, and Step returns
// right after it, so the next Step looks up the trace for the new PC.
func (m *Machine) Step() error {
	trace := m.tc.Lookup(m.pc)
	if trace == nil {
		built, err := m.buildTrace(m.pc)
		if err != nil {
			return err
		}
		trace = built
	}

	for _, inst := range trace.Instructions {
		cycles := m.instrCycle(inst)
		if err := m.addCycles(cycles); err != nil {
			return err
		}
		if err := execute.Execute(inst, m); err != nil {
			return err
		}
		m.CommitPC()
		if inst.Opcode().IsBasicBlockEnd() {
			return nil
		}
	}
	return nil
}

// buildTrace decodes straight-line instructions starting at pc into a
// fresh trace, stopping at the cache's per-slot capacity or the first
// basic-block-ending opcode (inclusive), and appending the synthetic
// CustomTraceEnd sentinel if capacity was reached first.
func (m *Machine) buildTrace(pc uint64) (*tracecache.Trace, error) {
	instructions := make([]isa.Instruction, 0, m.tc.Capacity())
	cur := pc
	for len(instructions) < m.tc.Capacity() {
		inst, err := decoder.Decode(m.mem, cur)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, inst)
		if inst.Opcode().IsBasicBlockEnd() {
			return m.tc.Store(pc, instructions), nil
		}
		cur += uint64(inst.Length())
	}
	instructions = append(instructions, isa.NewR(isa.OpCustomTraceEnd, 0, 0, 0, 0))
	return m.tc.Store(pc, instructions), nil
}
