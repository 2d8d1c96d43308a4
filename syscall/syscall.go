// Package syscall implements a small reference set of Linux-ABI-shaped
// ECALL handlers (console I/O, memory break, an fstat stub) that a
// host embedding the VM can register with machine.Machine. The VM core
// treats syscalls as an external collaborator (per the ecall contract
// in machine.Machine.Ecall); this package is one concrete collaborator,
// not part of the core semantics.
package syscall

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/lookbusy1344/riscv-vm/machine"
)

// Syscall numbers this package answers, using the standard RISC-V Linux
// ABI numbering (a7 selects the call; exit at 93 is intercepted by
// machine.Machine itself before any handler runs, and exit_group at 94
// is not answered).
const (
	NumberRead     = 63
	NumberWrite    = 64
	NumberFstat    = 80
	NumberExitCode = 93
	NumberBrk      = 214
)

// Standard file descriptors.
const (
	FDStdin  = 0
	FDStdout = 1
	FDStderr = 2
)

// Console implements NumberRead/NumberWrite against host stdio, and
// NumberBrk as a no-op heap pointer (guests that need a real heap must
// bring their own allocator over mmap'd memory; this VM has no mmap).
type Console struct {
	Out io.Writer
	In  *bufio.Reader

	brk uint64
}

// NewConsole builds a Console wired to os.Stdout/os.Stdin.
func NewConsole() *Console {
	return &Console{Out: os.Stdout, In: bufio.NewReader(os.Stdin)}
}

// ECall implements machine.Syscall.
func (c *Console) ECall(m *machine.Machine) (bool, error) {
	switch m.GetRegister(machine.RegA7) {
	case NumberWrite:
		return true, c.write(m)
	case NumberRead:
		return true, c.read(m)
	case NumberBrk:
		return true, c.brkCall(m)
	case NumberFstat:
		m.SetRegister(machine.RegA0, negErrno(38)) // ENOSYS
		return true, nil
	default:
		return false, nil
	}
}

func (c *Console) write(m *machine.Machine) error {
	fd := m.GetRegister(machine.RegA0)
	addr := m.GetRegister(11)
	length := m.GetRegister(12)
	if fd != FDStdout && fd != FDStderr {
		m.SetRegister(machine.RegA0, negErrno(9)) // EBADF
		return nil
	}
	data, err := m.Mem().ReadAt(addr, length)
	if err != nil {
		return fmt.Errorf("syscall write: %w", err)
	}
	n, err := c.Out.Write(data)
	if err != nil {
		m.SetRegister(machine.RegA0, negErrno(5)) // EIO
		return nil
	}
	m.SetRegister(machine.RegA0, uint64(n))
	return nil
}

func (c *Console) read(m *machine.Machine) error {
	fd := m.GetRegister(machine.RegA0)
	addr := m.GetRegister(11)
	length := m.GetRegister(12)
	if fd != FDStdin {
		m.SetRegister(machine.RegA0, negErrno(9)) // EBADF
		return nil
	}
	buf := make([]byte, length)
	n, err := c.In.Read(buf)
	if err != nil && err != io.EOF {
		m.SetRegister(machine.RegA0, negErrno(5)) // EIO
		return nil
	}
	if n > 0 {
		if err := m.Mem().WriteAt(addr, buf[:n]); err != nil {
			return fmt.Errorf("syscall read: %w", err)
		}
	}
	m.SetRegister(machine.RegA0, uint64(n))
	return nil
}

func (c *Console) brkCall(m *machine.Machine) error {
	requested := m.GetRegister(machine.RegA0)
	if requested != 0 {
		c.brk = requested
	}
	m.SetRegister(machine.RegA0, c.brk)
	return nil
}

// negErrno encodes a Linux-style negative errno return in a0.
func negErrno(errno int) uint64 { return uint64(int64(-errno)) }
