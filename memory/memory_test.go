package memory_test

import (
	"testing"

	"github.com/lookbusy1344/riscv-vm/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsUnalignedSize(t *testing.T) {
	_, err := memory.New(memory.PageSize + 1)
	require.Error(t, err)
}

func TestSetPageFlags_RejectsWriteAndExecute(t *testing.T) {
	m, err := memory.New(memory.PageSize * 4)
	require.NoError(t, err)

	err = m.SetPageFlags(0, memory.PageSize, memory.FlagExecutable|memory.FlagWritable)
	assert.Error(t, err, "W^X should reject a page flagged both writable and executable")
}

func TestWriteAt_RejectsNonWritablePage(t *testing.T) {
	m, err := memory.New(memory.PageSize * 4)
	require.NoError(t, err)
	require.NoError(t, m.SetPageFlags(0, memory.PageSize, memory.FlagExecutable))

	err = m.WriteAt(0, []byte{1, 2, 3, 4})
	assert.Error(t, err, "writes to an executable page should be rejected")
}

func TestWriteAt_MarksPageDirty(t *testing.T) {
	m, err := memory.New(memory.PageSize * 4)
	require.NoError(t, err)
	require.NoError(t, m.SetPageFlags(0, memory.PageSize, memory.FlagWritable))

	require.NoError(t, m.WriteAt(0, []byte{1, 2, 3, 4}))
	indices, pages := m.DirtyPages()
	require.Len(t, indices, 1)
	assert.EqualValues(t, 0, indices[0])
	assert.Equal(t, byte(1), pages[0][0])
}

func TestReadAt_OutOfBounds(t *testing.T) {
	m, err := memory.New(memory.PageSize * 2)
	require.NoError(t, err)

	_, err = m.ReadAt(memory.PageSize*2-1, 4)
	assert.Error(t, err, "reading past the end of memory should fail")
}

func TestChaosMode_FillsDeterministicallyFromSeed(t *testing.T) {
	size := uint64(memory.FrameSize * 2)
	m1, err := memory.New(size)
	require.NoError(t, err)
	m1.ChaosMode = true
	m1.ChaosSeed = 42
	require.NoError(t, m1.SetPageFlags(0, size, memory.FlagWritable))
	b1, err := m1.ReadAt(0, memory.FrameSize)
	require.NoError(t, err)

	m2, err := memory.New(size)
	require.NoError(t, err)
	m2.ChaosMode = true
	m2.ChaosSeed = 42
	require.NoError(t, m2.SetPageFlags(0, size, memory.FlagWritable))
	b2, err := m2.ReadAt(0, memory.FrameSize)
	require.NoError(t, err)

	assert.Equal(t, b1, b2, "same chaos seed should produce identical fill")
}

func TestLoadStore32_RoundTrip(t *testing.T) {
	m, err := memory.New(memory.PageSize * 4)
	require.NoError(t, err)
	require.NoError(t, m.SetPageFlags(0, memory.PageSize, memory.FlagWritable))

	require.NoError(t, m.Store32(0x10, 0xdeadbeef))
	v, err := m.Load32(0x10)
	require.NoError(t, err)
	assert.Equal(t, uint32(0xdeadbeef), v)
}
