package resource

import (
	"errors"
	"fmt"

	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/handle"
)

// ErrUniformOverflow is returned when a frame requests more dynamic uniform
// slots than the buffer holds.
var ErrUniformOverflow = errors.New("dynamic uniform buffer full")

// DynamicUniform hands out aligned offsets into a shared uniform buffer.
// Offsets advance monotonically until Reset, which runs once per frame.
type DynamicUniform struct {
	Buffer   handle.Handle
	Object   gpu.Object
	Stride   uint32
	Capacity uint32

	cursor uint32
}

// NextOffset reserves one slot and returns its byte offset.
func (d *DynamicUniform) NextOffset() (uint32, error) {
	if d.cursor >= d.Capacity {
		return 0, fmt.Errorf("%w: %d slots of %d bytes", ErrUniformOverflow, d.Capacity, d.Stride)
	}
	off := d.cursor * d.Stride
	d.cursor++
	return off, nil
}

// Used returns the number of slots reserved since the last Reset.
func (d *DynamicUniform) Used() int {
	return int(d.cursor)
}

// Reset rewinds the cursor to the start of the buffer.
func (d *DynamicUniform) Reset() {
	d.cursor = 0
}

// AlignUp rounds n up to a multiple of align. align <= 1 returns n.
func AlignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}
