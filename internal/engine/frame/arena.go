package frame

import "github.com/Faultbox/maple/internal/engine/gpu"

// DefaultArenaChunk is the element count of each arena chunk.
const DefaultArenaChunk = 16 << 10

// Arena hands out scratch memory that lives for one frame. Every slice it
// returned is invalid after Reset. Chunks are kept across frames, so a
// steady frame allocates nothing.
type Arena struct {
	bytes   slab[byte]
	offsets slab[uint32]
	objects slab[gpu.Object]
}

// NewArena creates an arena whose chunks hold chunk elements each.
func NewArena(chunk int) *Arena {
	if chunk <= 0 {
		chunk = DefaultArenaChunk
	}
	return &Arena{
		bytes:   slab[byte]{chunk: chunk},
		offsets: slab[uint32]{chunk: chunk},
		objects: slab[gpu.Object]{chunk: chunk},
	}
}

// Bytes returns n zeroed bytes.
func (a *Arena) Bytes(n int) []byte { return a.bytes.take(n) }

// Offsets returns n zeroed uint32 values.
func (a *Arena) Offsets(n int) []uint32 { return a.offsets.take(n) }

// Objects returns n zeroed GPU object slots.
func (a *Arena) Objects(n int) []gpu.Object { return a.objects.take(n) }

// Used returns the number of bytes handed out since the last Reset.
func (a *Arena) Used() int { return a.bytes.used }

// Reset reclaims everything handed out this frame.
func (a *Arena) Reset() {
	a.bytes.reset()
	a.offsets.reset()
	a.objects.reset()
}

type slab[T any] struct {
	chunk  int
	chunks [][]T
	cur    int
	off    int
	used   int
}

func (s *slab[T]) take(n int) []T {
	if n <= 0 {
		return nil
	}
	for {
		if s.cur == len(s.chunks) {
			s.chunks = append(s.chunks, make([]T, max(s.chunk, n)))
		}
		c := s.chunks[s.cur]
		if s.off+n <= len(c) {
			out := c[s.off : s.off+n : s.off+n]
			clear(out)
			s.off += n
			s.used += n
			return out
		}
		s.cur++
		s.off = 0
	}
}

func (s *slab[T]) reset() {
	s.cur = 0
	s.off = 0
	s.used = 0
}
