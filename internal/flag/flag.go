// Package flag provides a lock-free set of named boolean conditions used for
// cooperative signalling between goroutines (stop, quit, idle).
//
// A Flag never blocks and must not be used to guard shared data.
package flag

import "sync/atomic"

// Bit is any small integer enum whose values index bits 0..63.
type Bit interface {
	~uint8 | ~uint16 | ~uint32 | ~int
}

// Flag is a bitset keyed by an enum type. The zero value has every bit clear.
type Flag[E Bit] struct {
	states atomic.Uint64
}

func mask[E Bit](bit E) uint64 {
	return 1 << (uint64(bit) & 63)
}

// Add sets bit.
func (f *Flag[E]) Add(bit E) {
	m := mask(bit)
	for {
		old := f.states.Load()
		if old&m != 0 || f.states.CompareAndSwap(old, old|m) {
			return
		}
	}
}

// Clear clears bit.
func (f *Flag[E]) Clear(bit E) {
	m := mask(bit)
	for {
		old := f.states.Load()
		if old&m == 0 || f.states.CompareAndSwap(old, old&^m) {
			return
		}
	}
}

// Toggle flips bit.
func (f *Flag[E]) Toggle(bit E) {
	m := mask(bit)
	for {
		old := f.states.Load()
		if f.states.CompareAndSwap(old, old^m) {
			return
		}
	}
}

// Set sets bit to state.
func (f *Flag[E]) Set(bit E, state bool) {
	if state {
		f.Add(bit)
		return
	}
	f.Clear(bit)
}

// Get reports whether bit is set.
func (f *Flag[E]) Get(bit E) bool {
	return f.states.Load()&mask(bit) != 0
}

// Any reports whether at least one of bits is set.
func (f *Flag[E]) Any(bits ...E) bool {
	s := f.states.Load()
	for _, b := range bits {
		if s&mask(b) != 0 {
			return true
		}
	}
	return false
}
