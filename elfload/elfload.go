// Package elfload parses an ELF executable's PT_LOAD program headers into
// the sequence of memory-loading actions the machine applies before
// execution starts: a page-aligned destination range, the page flags the
// segment should carry, and the slice of the file to copy in.
//
// Header parsing itself is delegated to github.com/yalue/elf_reader
// rather than hand-rolled here, to avoid re-implementing ELF's
// class/endianness-dependent header layouts.
package elfload

import (
	"fmt"

	"github.com/lookbusy1344/riscv-vm/memory"
	elf_reader "github.com/yalue/elf_reader"
)

// Version gates whether a writable PT_LOAD segment is additionally
// marked FlagFreezed (version 0 behavior: plain writable) or left plain
// writable (version >= 1: freezed-writable, matching the machine's
// version-gated bug-fix history).
const Version1 = 1

// LoadingAction describes one PT_LOAD segment's destination in the
// sandbox address space.
type LoadingAction struct {
	Addr           uint64
	Size           uint64
	Flags          byte
	SourceStart    uint64
	SourceEnd      uint64
	OffsetFromAddr uint64
}

// ProgramMetadata is the result of parsing an ELF file: every loading
// action plus the entry point.
type ProgramMetadata struct {
	Actions []LoadingAction
	Entry   uint64
}

// ErrBits is returned when the ELF file's class (32/64-bit) does not
// match the machine's register width.
var ErrBits = fmt.Errorf("elf class does not match machine register width")

const (
	ptLoad = 1
	pfX    = 1
	pfW    = 2
	pfR    = 4
)

// ConvertFlags maps an ELF segment's p_flags into the sandbox's page
// flags, rejecting unreadable or writable+executable segments, matching
// the original implementation's convert_flags.
func ConvertFlags(pFlags uint32, allowFreezeWritable bool) (byte, error) {
	readable := pFlags&pfR != 0
	writable := pFlags&pfW != 0
	executable := pFlags&pfX != 0
	if !readable {
		return 0, fmt.Errorf("elf segment unreadable")
	}
	if writable && executable {
		return 0, fmt.Errorf("elf segment writable and executable")
	}
	switch {
	case executable:
		return memory.FlagExecutable | memory.FlagFreezed, nil
	case writable && !allowFreezeWritable:
		return memory.FlagWritable, nil
	default:
		return memory.FlagFreezed, nil
	}
}

// Parse reads program, returning every PT_LOAD action and the entry
// point. registerBits is 32 or 64, the machine's XLEN.
func Parse(program []byte, registerBits int, version uint32) (*ProgramMetadata, error) {
	file, err := elf_reader.ParseELFFile(program)
	if err != nil {
		return nil, fmt.Errorf("parsing elf: %w", err)
	}
	wantBig := (registerBits == 64)
	_ = wantBig // the class/bit-width check just below rejects a mismatch with ErrBits.
	if file.Is64Bit() != (registerBits == 64) {
		return nil, ErrBits
	}

	entry := file.GetEntryPoint()
	count := file.GetProgramHeaderCount()

	var actions []LoadingAction
	var totalBytes uint64
	for i := uint16(0); i < count; i++ {
		ph, err := file.GetProgramHeader(i)
		if err != nil {
			return nil, fmt.Errorf("reading program header %d: %w", i, err)
		}
		v := ph.GetValues()
		if v.Type != ptLoad {
			continue
		}
		alignedStart := memory.RoundPageDown(v.VirtualAddress)
		paddingStart := v.VirtualAddress - alignedStart
		size := memory.RoundPageUp(v.MemorySize + paddingStart)

		sliceStart := v.Offset
		sliceEnd := v.Offset + v.FileSize
		if sliceStart > sliceEnd || sliceEnd > uint64(len(program)) {
			return nil, fmt.Errorf("elf segment %d has an invalid addr/size combination", i)
		}

		flags, err := ConvertFlags(uint32(v.Flags), version < Version1)
		if err != nil {
			return nil, err
		}

		actions = append(actions, LoadingAction{
			Addr:           alignedStart,
			Size:           size,
			Flags:          flags,
			SourceStart:    sliceStart,
			SourceEnd:      sliceEnd,
			OffsetFromAddr: paddingStart,
		})
		totalBytes += sliceEnd - sliceStart
	}

	return &ProgramMetadata{Actions: actions, Entry: entry}, nil
}

// LoadInto applies every loading action of metadata to mem, copying
// segment bytes from program. For version < Version1, the padding byte
// between the page boundary and the segment's actual virtual address is
// additionally zeroed, matching a documented legacy compatibility quirk.
func LoadInto(mem *memory.Memory, program []byte, metadata *ProgramMetadata, version uint32) error {
	for _, action := range metadata.Actions {
		source := program[action.SourceStart:action.SourceEnd]
		if err := mem.InitPages(action.Addr, action.Size, action.Flags, source, action.OffsetFromAddr); err != nil {
			return fmt.Errorf("loading segment at %#x: %w", action.Addr, err)
		}
		if version < Version1 && action.OffsetFromAddr > 0 {
			if err := mem.Store8(action.Addr, 0); err != nil {
				return fmt.Errorf("zeroing legacy padding byte at %#x: %w", action.Addr, err)
			}
		}
	}
	return nil
}
