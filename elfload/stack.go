package elfload

import (
	"encoding/binary"
	"fmt"

	"github.com/lookbusy1344/riscv-vm/memory"
)

// InitializeStack lays out argc/argv at the top of the guest's stack
// and returns the resulting stack pointer, following the original
// implementation's initialize_stack algorithm: the stack starts at
// stackStart+stackSize (the top of the reserved region) and grows down;
// each argument's bytes followed by a NUL terminator are pushed first,
// then a pointer table (argc, argv[0..], and a trailing NULL pointer for
// version >= Version1) is written just below the last argument, 16-byte
// aligned. SP ends up pointing at argc.
//
// For version >= Version1 with no arguments, this takes the fast path
// the original calls out explicitly: ckb's argc is always 0 for that
// case, so only the 16-byte alignment is performed.
func InitializeStack(mem *memory.Memory, args [][]byte, stackStart, stackSize uint64, registerBits int, version uint32) (uint64, error) {
	wordSize := uint64(4)
	if registerBits == 64 {
		wordSize = 8
	}

	origin := stackStart + stackSize
	sp := origin

	if version >= Version1 && len(args) == 0 {
		sp = (sp - wordSize) &^ 15
		if sp < stackStart {
			return 0, fmt.Errorf("stack underflow aligning empty argv")
		}
		return sp, nil
	}

	values := make([]uint64, 0, len(args)+2)
	values = append(values, uint64(len(args)))
	for _, arg := range args {
		block := append(append([]byte{}, arg...), 0)
		sp -= uint64(len(block))
		if err := mem.WriteAt(sp, block); err != nil {
			return 0, fmt.Errorf("writing argv: %w", err)
		}
		values = append(values, sp)
	}
	if version >= Version1 {
		values = append(values, 0)
	}

	tableSize := uint64(len(values)) * wordSize
	sp -= tableSize
	sp &^= 15

	if sp < stackStart {
		return 0, fmt.Errorf("%w: argv pointer table does not fit in the stack", ErrStackOverflow)
	}

	for i, v := range values {
		addr := sp + uint64(i)*wordSize
		if wordSize == 8 {
			if err := mem.Store64(addr, v); err != nil {
				return 0, err
			}
		} else {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(v))
			if err := mem.WriteAt(addr, b[:]); err != nil {
				return 0, err
			}
		}
	}

	return sp, nil
}

// ErrStackOverflow is returned when argv does not fit within the
// reserved stack region.
var ErrStackOverflow = fmt.Errorf("mem out of stack")
