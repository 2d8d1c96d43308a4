// Package snapshot implements the machine's binary save/restore format:
// version, all 32 registers plus PC, and the contents of every dirty
// memory page. Non-dirty pages are not captured — they are either still
// zero or reproducible from the ELF plus chaos seed, so omitting them
// keeps snapshots proportional to touched state rather than total
// memory size.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/lookbusy1344/riscv-vm/machine"
	"github.com/lookbusy1344/riscv-vm/memory"
)

// registerSlotCount is 32 general-purpose registers plus one slot
// folding in PC, matching the wire format's literal register count.
const registerSlotCount = 33

const pcSlot = 32

// ErrInvalidVersion is returned by Resume when the snapshot's version
// does not match the machine it is being restored into.
var ErrInvalidVersion = fmt.Errorf("snapshot version does not match machine version")

// Page is one captured dirty page: its index and raw byte contents.
type Page struct {
	Index    uint32
	Contents []byte
}

// Snapshot is a fully self-contained, resumable capture of machine
// state. Cycle count is deliberately not part of it: a resumed machine
// starts from whatever budget its caller supplies.
type Snapshot struct {
	Version   uint32
	Registers [registerSlotCount]uint64
	Pages     []Page
}

// Make captures m's registers, PC, and every page memory reports dirty.
func Make(m *machine.Machine) *Snapshot {
	s := &Snapshot{Version: m.Version()}
	regs := m.Registers()
	copy(s.Registers[:32], regs[:])
	s.Registers[pcSlot] = m.PC()

	indices, pages := m.Mem().DirtyPages()
	for i, idx := range indices {
		s.Pages = append(s.Pages, Page{Index: idx, Contents: pages[i]})
	}
	return s
}

// Resume restores s into m: it validates the version, writes back
// registers and PC, and restores every captured page (which re-marks it
// dirty). The machine's cycle count and budget are left untouched.
func Resume(s *Snapshot, m *machine.Machine) error {
	if s.Version != m.Version() {
		return ErrInvalidVersion
	}
	for i := 0; i < 32; i++ {
		m.SetRegister(uint8(i), s.Registers[i])
	}
	m.UpdatePC(s.Registers[pcSlot])
	m.CommitPC()
	for _, p := range s.Pages {
		if err := m.Mem().RestorePage(p.Index, p.Contents); err != nil {
			return fmt.Errorf("restoring page %d: %w", p.Index, err)
		}
	}
	return nil
}

// Encode writes s in the wire format: a u32 version, 33 little-endian
// u64 register slots, then, for each dirty page, a u32 index followed
// by its raw 4096-byte contents.
func Encode(w io.Writer, s *Snapshot) error {
	if err := binary.Write(w, binary.LittleEndian, s.Version); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, s.Registers); err != nil {
		return err
	}
	for _, p := range s.Pages {
		if err := binary.Write(w, binary.LittleEndian, p.Index); err != nil {
			return err
		}
		if _, err := w.Write(p.Contents); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads the wire format Encode produces.
func Decode(r io.Reader) (*Snapshot, error) {
	s := &Snapshot{}
	if err := binary.Read(r, binary.LittleEndian, &s.Version); err != nil {
		return nil, fmt.Errorf("reading version: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &s.Registers); err != nil {
		return nil, fmt.Errorf("reading registers: %w", err)
	}
	for {
		var idx uint32
		err := binary.Read(r, binary.LittleEndian, &idx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading page index: %w", err)
		}
		contents := make([]byte, memory.PageSize)
		if _, err := io.ReadFull(r, contents); err != nil {
			return nil, fmt.Errorf("reading page %d contents: %w", idx, err)
		}
		s.Pages = append(s.Pages, Page{Index: idx, Contents: contents})
	}
	return s, nil
}

// EncodeBytes is a convenience wrapper around Encode for callers that
// want the whole snapshot as a single buffer.
func EncodeBytes(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
