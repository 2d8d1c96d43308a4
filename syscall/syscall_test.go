package syscall

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/lookbusy1344/riscv-vm/machine"
	"github.com/lookbusy1344/riscv-vm/memory"
)

func newTestMachine(t *testing.T) *machine.Machine {
	t.Helper()
	mem, err := memory.New(memory.PageSize * 4)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if err := mem.SetPageFlags(0, memory.PageSize*4, memory.FlagWritable); err != nil {
		t.Fatalf("SetPageFlags: %v", err)
	}
	return machine.New(mem, machine.ISAImc, machine.Version2, 1000, nil)
}

func TestConsole_Write_Stdout(t *testing.T) {
	m := newTestMachine(t)
	if err := m.Mem().WriteAt(0x100, []byte("hi there")); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	var out bytes.Buffer
	c := &Console{Out: &out, In: bufio.NewReader(strings.NewReader(""))}

	m.SetRegister(machine.RegA7, NumberWrite)
	m.SetRegister(machine.RegA0, FDStdout)
	m.SetRegister(11, 0x100)
	m.SetRegister(12, 8)

	handled, err := c.ECall(m)
	if !handled || err != nil {
		t.Fatalf("ECall: handled=%v err=%v", handled, err)
	}
	if out.String() != "hi there" {
		t.Errorf("Out = %q, want %q", out.String(), "hi there")
	}
	if m.GetRegister(machine.RegA0) != 8 {
		t.Errorf("a0 = %d, want 8", m.GetRegister(machine.RegA0))
	}
}

func TestConsole_Write_BadFD(t *testing.T) {
	m := newTestMachine(t)
	var out bytes.Buffer
	c := &Console{Out: &out, In: bufio.NewReader(strings.NewReader(""))}

	m.SetRegister(machine.RegA7, NumberWrite)
	m.SetRegister(machine.RegA0, 99)
	m.SetRegister(11, 0x100)
	m.SetRegister(12, 1)

	handled, err := c.ECall(m)
	if !handled || err != nil {
		t.Fatalf("ECall: handled=%v err=%v", handled, err)
	}
	if got := int64(m.GetRegister(machine.RegA0)); got != -9 {
		t.Errorf("a0 = %d, want -9 (EBADF)", got)
	}
}

func TestConsole_Read_Stdin(t *testing.T) {
	m := newTestMachine(t)
	c := &Console{Out: &bytes.Buffer{}, In: bufio.NewReader(strings.NewReader("hello"))}

	m.SetRegister(machine.RegA7, NumberRead)
	m.SetRegister(machine.RegA0, FDStdin)
	m.SetRegister(11, 0x200)
	m.SetRegister(12, 5)

	handled, err := c.ECall(m)
	if !handled || err != nil {
		t.Fatalf("ECall: handled=%v err=%v", handled, err)
	}
	if m.GetRegister(machine.RegA0) != 5 {
		t.Errorf("a0 = %d, want 5", m.GetRegister(machine.RegA0))
	}
	got, err := m.Mem().ReadAt(0x200, 5)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("memory contents = %q, want %q", got, "hello")
	}
}

func TestConsole_Brk(t *testing.T) {
	m := newTestMachine(t)
	c := NewConsole()

	m.SetRegister(machine.RegA7, NumberBrk)
	m.SetRegister(machine.RegA0, 0)
	if handled, err := c.ECall(m); !handled || err != nil {
		t.Fatalf("ECall (query): handled=%v err=%v", handled, err)
	}
	if m.GetRegister(machine.RegA0) != 0 {
		t.Errorf("initial brk = %d, want 0", m.GetRegister(machine.RegA0))
	}

	m.SetRegister(machine.RegA0, 0x1000)
	if handled, err := c.ECall(m); !handled || err != nil {
		t.Fatalf("ECall (set): handled=%v err=%v", handled, err)
	}
	if m.GetRegister(machine.RegA0) != 0x1000 {
		t.Errorf("brk after set = %#x, want 0x1000", m.GetRegister(machine.RegA0))
	}

	m.SetRegister(machine.RegA0, 0)
	if handled, _ := c.ECall(m); !handled {
		t.Fatal("expected brk query to be handled")
	}
	if m.GetRegister(machine.RegA0) != 0x1000 {
		t.Errorf("brk after re-query = %#x, want 0x1000", m.GetRegister(machine.RegA0))
	}
}

func TestConsole_Fstat_ReturnsENOSYS(t *testing.T) {
	m := newTestMachine(t)
	c := NewConsole()
	m.SetRegister(machine.RegA7, NumberFstat)

	handled, err := c.ECall(m)
	if !handled || err != nil {
		t.Fatalf("ECall: handled=%v err=%v", handled, err)
	}
	if got := int64(m.GetRegister(machine.RegA0)); got != -38 {
		t.Errorf("a0 = %d, want -38 (ENOSYS)", got)
	}
}

func TestConsole_UnknownSyscall_NotHandled(t *testing.T) {
	m := newTestMachine(t)
	c := NewConsole()
	m.SetRegister(machine.RegA7, 999)

	handled, err := c.ECall(m)
	if handled || err != nil {
		t.Errorf("ECall for unknown code: handled=%v err=%v, want false,nil", handled, err)
	}
}
