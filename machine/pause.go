package machine

import "sync/atomic"

// Pause is a cooperative, cross-goroutine interrupt flag: another
// goroutine holding the same Pause (they share the underlying counter)
// can call Interrupt to make the owning Machine's Run loop stop at the
// next instruction boundary and return ErrPause.
type Pause struct {
	flag atomic.Uint32
}

// NewPause returns a fresh, non-interrupted Pause.
func NewPause() *Pause { return &Pause{} }

// Interrupt requests that the run loop stop as soon as possible.
func (p *Pause) Interrupt() { p.flag.Store(1) }

// HasInterrupted reports whether Interrupt has been called since the
// last Free.
func (p *Pause) HasInterrupted() bool { return p.flag.Load() != 0 }

// Free clears the interrupt flag.
func (p *Pause) Free() { p.flag.Store(0) }
