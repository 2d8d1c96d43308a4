package elfload

import (
	"testing"

	"github.com/lookbusy1344/riscv-vm/memory"
)

func TestConvertFlags_Executable(t *testing.T) {
	flags, err := ConvertFlags(pfR|pfX, true)
	if err != nil {
		t.Fatalf("ConvertFlags: %v", err)
	}
	want := memory.FlagExecutable | memory.FlagFreezed
	if flags != want {
		t.Errorf("flags = %#x, want %#x", flags, want)
	}
}

func TestConvertFlags_WritableNoFreeze(t *testing.T) {
	flags, err := ConvertFlags(pfR|pfW, false)
	if err != nil {
		t.Fatalf("ConvertFlags: %v", err)
	}
	if flags != memory.FlagWritable {
		t.Errorf("flags = %#x, want FlagWritable", flags)
	}
}

func TestConvertFlags_WritableFreezed(t *testing.T) {
	flags, err := ConvertFlags(pfR|pfW, true)
	if err != nil {
		t.Fatalf("ConvertFlags: %v", err)
	}
	if flags != memory.FlagFreezed {
		t.Errorf("flags = %#x, want FlagFreezed", flags)
	}
}

func TestConvertFlags_RejectsUnreadable(t *testing.T) {
	_, err := ConvertFlags(pfW, true)
	if err == nil {
		t.Fatal("expected error for unreadable segment")
	}
}

func TestConvertFlags_RejectsWritableExecutable(t *testing.T) {
	_, err := ConvertFlags(pfR|pfW|pfX, true)
	if err == nil {
		t.Fatal("expected error for writable+executable segment")
	}
}

func newStackMemory(t *testing.T) *memory.Memory {
	t.Helper()
	mem, err := memory.New(memory.PageSize * 4)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	if err := mem.SetPageFlags(0, memory.PageSize*4, memory.FlagWritable); err != nil {
		t.Fatalf("SetPageFlags: %v", err)
	}
	return mem
}

func TestInitializeStack_NoArgsVersion1FastPath(t *testing.T) {
	mem := newStackMemory(t)
	origin := uint64(memory.PageSize * 4)
	stackStart := origin - memory.PageSize
	sp, err := InitializeStack(mem, nil, stackStart, memory.PageSize, 64, Version1)
	if err != nil {
		t.Fatalf("InitializeStack: %v", err)
	}
	if sp%16 != 0 {
		t.Errorf("sp = %#x, not 16-byte aligned", sp)
	}
	want := (origin - 8) &^ 15
	if sp != want {
		t.Errorf("sp = %#x, want %#x ((origin - argc slot) aligned down to 16)", sp, want)
	}
}

func TestInitializeStack_WritesArgvAndPointerTable(t *testing.T) {
	mem := newStackMemory(t)
	origin := uint64(memory.PageSize * 4)
	stackStart := origin - memory.PageSize
	args := [][]byte{[]byte("hello"), []byte("world")}

	sp, err := InitializeStack(mem, args, stackStart, memory.PageSize, 64, Version1)
	if err != nil {
		t.Fatalf("InitializeStack: %v", err)
	}
	if sp%16 != 0 {
		t.Errorf("sp = %#x, not 16-byte aligned", sp)
	}
	if sp >= origin {
		t.Errorf("sp = %#x should be below origin %#x", sp, origin)
	}

	argc, err := mem.Load64(sp)
	if err != nil {
		t.Fatalf("Load64: %v", err)
	}
	if argc != 2 {
		t.Errorf("argc = %d, want 2", argc)
	}
	sp += 8

	ptr0, err := mem.Load64(sp)
	if err != nil {
		t.Fatalf("Load64: %v", err)
	}
	data, err := mem.ReadAt(ptr0, 6)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(data) != "hello\x00" {
		t.Errorf("first argv block = %q, want %q", data, "hello\x00")
	}

	ptr1, err := mem.Load64(sp + 8)
	if err != nil {
		t.Fatalf("Load64: %v", err)
	}
	data1, err := mem.ReadAt(ptr1, 6)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if string(data1) != "world\x00" {
		t.Errorf("second argv block = %q, want %q", data1, "world\x00")
	}

	nullTerm, err := mem.Load64(sp + 16)
	if err != nil {
		t.Fatalf("Load64: %v", err)
	}
	if nullTerm != 0 {
		t.Errorf("trailing NULL pointer = %#x, want 0", nullTerm)
	}
}

func TestInitializeStack_OverflowsOnTooSmallStack(t *testing.T) {
	mem := newStackMemory(t)
	origin := uint64(memory.PageSize * 4)
	stackStart := origin - 8
	args := [][]byte{make([]byte, 1000)}

	_, err := InitializeStack(mem, args, stackStart, 8, 64, Version1)
	if err == nil {
		t.Fatal("expected stack overflow error")
	}
}
