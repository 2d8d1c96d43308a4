// Package memory implements the sandboxed paged memory subsystem: a flat
// byte buffer with per-page executable/writable/freezed/dirty flags, a
// write-xor-execute invariant enforced on every flag mutation, and lazy
// per-frame initialization (zero-fill, or a seeded chaos fill) on first
// touch.
package memory

import (
	"fmt"
	"math/rand"
)

const (
	// PageShift / PageSize: pages are 4096 bytes.
	PageShift = 12
	PageSize  = 1 << PageShift

	// FramePageShift / FrameSize: frames are 16 pages (64KB), the unit of
	// lazy initialization.
	FramePageShift = 4
	FrameSize      = PageSize << FramePageShift
)

// Page flag bits.
const (
	FlagExecutable byte = 1 << 0
	FlagWritable   byte = 1 << 1
	FlagFreezed    byte = 1 << 2
	FlagDirty      byte = 1 << 3
)

// AccessKind distinguishes why an access failed, for MemOutOfBound-style
// errors.
type AccessKind int

const (
	AccessRead AccessKind = iota
	AccessWrite
	AccessExecute
)

func (k AccessKind) String() string {
	switch k {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	default:
		return "unknown"
	}
}

// Memory is the VM's flat sandboxed address space.
type Memory struct {
	bytes  []byte
	flags  []byte // one byte per page
	frames []bool // one bool per frame: has this frame been touched yet?

	size uint64

	ChaosMode bool
	ChaosSeed uint32

	AccessCount uint64
	ReadCount   uint64
	WriteCount  uint64
}

// New creates a Memory of the given size, which must be a multiple of
// PageSize.
func New(size uint64) (*Memory, error) {
	if size%PageSize != 0 {
		return nil, fmt.Errorf("memory size %d is not page-aligned (page size %d)", size, PageSize)
	}
	pages := size / PageSize
	frames := (pages + (1 << FramePageShift) - 1) >> FramePageShift
	return &Memory{
		bytes:  make([]byte, size),
		flags:  make([]byte, pages),
		frames: make([]bool, frames),
		size:   size,
	}, nil
}

// Size returns the total addressable size in bytes.
func (m *Memory) Size() uint64 { return m.size }

func pageIndex(addr uint64) uint64 { return addr >> PageShift }
func frameIndex(addr uint64) uint64 { return addr >> (PageShift + FramePageShift) }

// RoundPageDown rounds addr down to the nearest page boundary.
func RoundPageDown(addr uint64) uint64 { return addr &^ (PageSize - 1) }

// RoundPageUp rounds addr up to the nearest page boundary.
func RoundPageUp(addr uint64) uint64 {
	return RoundPageDown(addr + PageSize - 1)
}

func (m *Memory) inBounds(addr, length uint64) bool {
	if length == 0 {
		return addr <= m.size
	}
	end := addr + length
	return end >= addr && end <= m.size
}

// ensureInit lazily fills every frame overlapping [addr, addr+length) the
// first time it is touched, either with zeros or, in chaos mode, with
// bytes drawn from a seeded PRNG whose seed advances once per frame.
func (m *Memory) ensureInit(addr, length uint64) {
	if length == 0 {
		return
	}
	first := frameIndex(addr)
	last := frameIndex(addr + length - 1)
	for f := first; f <= last; f++ {
		if m.frames[f] {
			continue
		}
		from := f << (PageShift + FramePageShift)
		to := from + FrameSize
		if to > m.size {
			to = m.size
		}
		if m.ChaosMode {
			rng := rand.New(rand.NewSource(int64(m.ChaosSeed)))
			rng.Read(m.bytes[from:to])
			m.ChaosSeed = rng.Uint32()
		}
		m.frames[f] = true
	}
}

// Flags returns the flag byte for the page containing addr.
func (m *Memory) Flags(addr uint64) byte {
	return m.flags[pageIndex(addr)]
}

// SetPageFlags sets the flags for every whole page in [addr, addr+size),
// enforcing the write-xor-execute invariant. addr and size must be
// page-aligned.
func (m *Memory) SetPageFlags(addr, size uint64, flags byte) error {
	if addr%PageSize != 0 || size%PageSize != 0 {
		return fmt.Errorf("unaligned page range [%#x, %#x)", addr, addr+size)
	}
	if flags&FlagExecutable != 0 && flags&FlagWritable != 0 {
		return fmt.Errorf("page range [%#x, %#x) requested writable and executable", addr, addr+size)
	}
	if !m.inBounds(addr, size) {
		return fmt.Errorf("page range [%#x, %#x) out of bounds", addr, addr+size)
	}
	first, last := pageIndex(addr), pageIndex(addr+size)
	for p := first; p < last; p++ {
		if (m.flags[p]|flags)&(FlagExecutable|FlagWritable) == FlagExecutable|FlagWritable {
			return fmt.Errorf("page at %#x would become writable and executable", p*PageSize)
		}
	}
	for p := first; p < last; p++ {
		m.flags[p] |= flags
	}
	return nil
}

// checkAccess validates bounds and permission for a length-byte access
// starting at addr.
func (m *Memory) checkAccess(addr, length uint64, kind AccessKind) error {
	if !m.inBounds(addr, length) {
		return &OutOfBoundError{Addr: addr, Kind: kind}
	}
	if length == 0 {
		return nil
	}
	first, last := pageIndex(addr), pageIndex(addr+length-1)
	for p := first; p <= last; p++ {
		flags := m.flags[p]
		switch kind {
		case AccessExecute:
			if flags&FlagExecutable == 0 {
				return &PermissionError{Addr: addr}
			}
		case AccessWrite:
			if flags&FlagWritable == 0 {
				return &WriteOnExecutableError{Addr: addr}
			}
		}
	}
	return nil
}

// ReadAt reads length bytes at addr, checking bounds but not execute
// permission (data loads may read from non-executable pages freely).
func (m *Memory) ReadAt(addr uint64, length uint64) ([]byte, error) {
	if err := m.checkAccess(addr, length, AccessRead); err != nil {
		return nil, err
	}
	m.ensureInit(addr, length)
	m.AccessCount++
	m.ReadCount++
	out := make([]byte, length)
	copy(out, m.bytes[addr:addr+length])
	return out, nil
}

// WriteAt writes data at addr, rejecting writes to non-writable pages
// and marking every touched page dirty.
func (m *Memory) WriteAt(addr uint64, data []byte) error {
	length := uint64(len(data))
	if err := m.checkAccess(addr, length, AccessWrite); err != nil {
		return err
	}
	m.ensureInit(addr, length)
	copy(m.bytes[addr:addr+length], data)
	if length > 0 {
		first, last := pageIndex(addr), pageIndex(addr+length-1)
		for p := first; p <= last; p++ {
			m.flags[p] |= FlagDirty
		}
	}
	m.AccessCount++
	m.WriteCount++
	return nil
}

// FetchForExecute reads length bytes for instruction fetch, requiring
// the executable flag on every page touched.
func (m *Memory) FetchForExecute(addr uint64, length uint64) ([]byte, error) {
	if err := m.checkAccess(addr, length, AccessExecute); err != nil {
		return nil, err
	}
	m.ensureInit(addr, length)
	out := make([]byte, length)
	copy(out, m.bytes[addr:addr+length])
	return out, nil
}

// InitPages establishes the flags for a freshly loaded segment and,
// when source is non-nil, copies it into place starting at offsetFromAddr
// bytes into the page range (the padding introduced by aligning the ELF
// segment's virtual address down to a page boundary).
func (m *Memory) InitPages(addr, size uint64, flags byte, source []byte, offsetFromAddr uint64) error {
	if addr%PageSize != 0 || size%PageSize != 0 {
		return fmt.Errorf("unaligned page range [%#x, %#x)", addr, addr+size)
	}
	if !m.inBounds(addr, size) {
		return fmt.Errorf("page range [%#x, %#x) out of bounds", addr, addr+size)
	}
	first, last := pageIndex(addr), pageIndex(addr+size)
	for p := first; p < last; p++ {
		if m.flags[p]&FlagFreezed != 0 {
			return &InvalidPermissionError{Addr: p * PageSize}
		}
	}
	if err := m.SetPageFlags(addr, size, flags); err != nil {
		return err
	}
	m.ensureInit(addr, size)
	if source != nil {
		copy(m.bytes[addr+offsetFromAddr:], source)
	}
	return nil
}

// DirtyPages returns the page index and full 4096-byte contents of every
// page marked dirty, for snapshotting.
func (m *Memory) DirtyPages() (indices []uint32, pages [][]byte) {
	for p := range m.flags {
		if m.flags[p]&FlagDirty == 0 {
			continue
		}
		from := uint64(p) * PageSize
		page := make([]byte, PageSize)
		copy(page, m.bytes[from:from+PageSize])
		indices = append(indices, uint32(p))
		pages = append(pages, page)
	}
	return indices, pages
}

// RestorePage writes a full page's contents back (re-dirtying it), used
// by snapshot resume.
func (m *Memory) RestorePage(index uint32, page []byte) error {
	from := uint64(index) * PageSize
	if from+PageSize > m.size {
		return fmt.Errorf("page index %d out of range", index)
	}
	copy(m.bytes[from:from+PageSize], page)
	m.flags[index] |= FlagDirty
	m.frames[frameIndex(from)] = true
	return nil
}

// Reset clears all flags, dirty bits, and frame-initialization state,
// and zeroes the underlying buffer; it does not change ChaosSeed.
func (m *Memory) Reset() {
	for i := range m.bytes {
		m.bytes[i] = 0
	}
	for i := range m.flags {
		m.flags[i] = 0
	}
	for i := range m.frames {
		m.frames[i] = false
	}
	m.AccessCount, m.ReadCount, m.WriteCount = 0, 0, 0
}

// OutOfBoundError reports an access outside the sandboxed address space.
type OutOfBoundError struct {
	Addr uint64
	Kind AccessKind
}

func (e *OutOfBoundError) Error() string {
	return fmt.Sprintf("memory out of bound: %s at %#x", e.Kind, e.Addr)
}

// PermissionError reports an execute-fetch from a non-executable page.
type PermissionError struct{ Addr uint64 }

func (e *PermissionError) Error() string {
	return fmt.Sprintf("invalid permission: execute at %#x", e.Addr)
}

// WriteOnExecutableError reports a write to a non-writable (typically
// executable, per W^X) page.
type WriteOnExecutableError struct{ Addr uint64 }

func (e *WriteOnExecutableError) Error() string {
	return fmt.Sprintf("write on non-writable page at %#x", e.Addr)
}

// InvalidPermissionError reports an attempt to re-init a page that is
// already frozen.
type InvalidPermissionError struct{ Addr uint64 }

func (e *InvalidPermissionError) Error() string {
	return fmt.Sprintf("invalid permission: page at %#x is frozen", e.Addr)
}
