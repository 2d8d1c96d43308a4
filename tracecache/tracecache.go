// Package tracecache implements a direct-mapped basic-block cache: each
// cache slot holds the straight-line run of instructions decoded starting
// at a given PC, up to a fixed capacity or until a basic-block-ending
// opcode is hit. The cache trades a small amount of decode-state aliasing
// (two PCs that collide on the same slot evict each other) for an
// O(1) decode-skip on a repeat visit to the same PC within a cache-valid
// span.
package tracecache

import "github.com/lookbusy1344/riscv-vm/isa"

// MinCapacity is the minimum number of instructions a trace slot must
// hold before terminating on the synthetic CUSTOM_TRACE_END opcode.
const MinCapacity = 8

// Trace is one cached basic block: a run of decoded instructions
// starting at Addr, terminated either by a basic-block-ending opcode
// (included) or by the synthetic CustomTraceEnd opcode appended once the
// slot's capacity is reached.
type Trace struct {
	Addr         uint64
	Instructions []isa.Instruction
}

// Cache is a direct-mapped, power-of-two-sized table of Traces, indexed
// by slot = (pc >> 2) & (size-1).
type Cache struct {
	slots    []*Trace
	mask     uint64
	capacity int
}

// New creates a Cache with the given number of slots (rounded up to the
// next power of two) and per-slot instruction capacity (at least
// MinCapacity).
func New(slots int, capacity int) *Cache {
	n := 1
	for n < slots {
		n <<= 1
	}
	if capacity < MinCapacity {
		capacity = MinCapacity
	}
	return &Cache{slots: make([]*Trace, n), mask: uint64(n - 1), capacity: capacity}
}

func (c *Cache) slot(pc uint64) uint64 { return (pc >> 2) & c.mask }

// Lookup returns the cached trace for pc, or nil if the slot is empty or
// holds a different address.
func (c *Cache) Lookup(pc uint64) *Trace {
	t := c.slots[c.slot(pc)]
	if t != nil && t.Addr == pc {
		return t
	}
	return nil
}

// Store installs a freshly built trace for pc, evicting whatever
// previously occupied that slot.
func (c *Cache) Store(pc uint64, instructions []isa.Instruction) *Trace {
	t := &Trace{Addr: pc, Instructions: instructions}
	c.slots[c.slot(pc)] = t
	return t
}

// Capacity returns the maximum number of instructions a single trace may
// hold before the builder must terminate it with CustomTraceEnd.
func (c *Cache) Capacity() int { return c.capacity }

// Invalidate clears every slot. Per the write-xor-execute invariant, a
// trace can only go stale when code changes, and code pages are never
// concurrently writable, so this is only ever called on an explicit
// machine reset, never in response to a store.
func (c *Cache) Invalidate() {
	for i := range c.slots {
		c.slots[i] = nil
	}
}
