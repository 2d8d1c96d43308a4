package memory

import "encoding/binary"

// Load8/16/32/64 read a little-endian value of the given width at addr.

func (m *Memory) Load8(addr uint64) (uint8, error) {
	b, err := m.ReadAt(addr, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (m *Memory) Load16(addr uint64) (uint16, error) {
	b, err := m.ReadAt(addr, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (m *Memory) Load32(addr uint64) (uint32, error) {
	b, err := m.ReadAt(addr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (m *Memory) Load64(addr uint64) (uint64, error) {
	b, err := m.ReadAt(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Store8/16/32/64 write a little-endian value of the given width at addr.

func (m *Memory) Store8(addr uint64, v uint8) error {
	return m.WriteAt(addr, []byte{v})
}

func (m *Memory) Store16(addr uint64, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return m.WriteAt(addr, b[:])
}

func (m *Memory) Store32(addr uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.WriteAt(addr, b[:])
}

func (m *Memory) Store64(addr uint64, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return m.WriteAt(addr, b[:])
}
