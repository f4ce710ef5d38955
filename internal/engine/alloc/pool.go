// Package alloc provides the fixed-capacity slot pool that backs the
// generational registries.
package alloc

import (
	"errors"
	"unsafe"
)

// Pool errors.
var (
	ErrExhausted   = errors.New("pool exhausted")
	ErrForeignSlot = errors.New("slot does not belong to pool")
	ErrDoubleFree  = errors.New("slot already free")
)

// Pool hands out pointers into a single contiguous block of T.
// The block is allocated once and never resized, so pointers returned by
// Alloc stay valid for the lifetime of the pool.
//
// A Pool is not safe for concurrent use.
type Pool[T any] struct {
	slots []T
	used  []bool
	free  []uint32
	index map[*T]uint32
}

// New creates a pool with room for capacity elements.
func New[T any](capacity int) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool[T]{
		slots: make([]T, capacity),
		used:  make([]bool, capacity),
		free:  make([]uint32, 0, capacity),
		index: make(map[*T]uint32, capacity),
	}
	// Hand out low slots first.
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, uint32(i))
		p.index[&p.slots[i]] = uint32(i)
	}
	return p
}

// Alloc returns a zeroed slot, or ErrExhausted when every slot is in use.
func (p *Pool[T]) Alloc() (*T, error) {
	n := len(p.free)
	if n == 0 {
		return nil, ErrExhausted
	}
	i := p.free[n-1]
	p.free = p.free[:n-1]
	p.used[i] = true
	return &p.slots[i], nil
}

// Free returns slot to the pool. The slot is zeroed so stale readers see
// an empty value rather than the previous occupant.
func (p *Pool[T]) Free(slot *T) error {
	i, ok := p.index[slot]
	if !ok {
		return ErrForeignSlot
	}
	if !p.used[i] {
		return ErrDoubleFree
	}
	var zero T
	p.slots[i] = zero
	p.used[i] = false
	p.free = append(p.free, i)
	return nil
}

// Owns reports whether slot was handed out by this pool.
func (p *Pool[T]) Owns(slot *T) bool {
	_, ok := p.index[slot]
	return ok
}

// Reset releases every slot at once.
func (p *Pool[T]) Reset() {
	var zero T
	p.free = p.free[:0]
	for i := len(p.slots) - 1; i >= 0; i-- {
		p.slots[i] = zero
		p.used[i] = false
		p.free = append(p.free, uint32(i))
	}
}

// Stride returns the size in bytes of one element.
func (p *Pool[T]) Stride() uintptr {
	var zero T
	return unsafe.Sizeof(zero)
}

// Cap returns the total number of slots.
func (p *Pool[T]) Cap() int {
	return len(p.slots)
}

// Len returns the number of slots currently in use.
func (p *Pool[T]) Len() int {
	return len(p.slots) - len(p.free)
}
