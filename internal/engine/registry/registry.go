// Package registry implements the generational slot registry shared by
// GPU resources and loaded assets.
package registry

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Faultbox/maple/internal/engine/alloc"
	"github.com/Faultbox/maple/internal/engine/handle"
)

// Registry errors.
var (
	ErrInvalidHandle = errors.New("invalid handle")
	ErrExhausted     = errors.New("registry at hard capacity")
)

// DefaultInitialCapacity is used when Config.InitialCapacity is zero.
const DefaultInitialCapacity = 10

// Config describes a registry.
type Config[T any] struct {
	// Name is used in log output.
	Name string
	// InitialCapacity is the size of the first pool chunk.
	InitialCapacity int
	// MaxCapacity is a hard cap on slots. Zero means unbounded.
	MaxCapacity int
	// Tracked types keep an auxiliary handle list so GetAll does not scan
	// the whole table for them.
	Tracked []handle.Type
	// Teardown releases anything the value owns. It runs before the slot is
	// returned to the pool.
	Teardown func(handle.Handle, *T)
	// Logger receives growth and removal diagnostics. Nil disables logging.
	Logger *zap.Logger
}

type slot[T any] struct {
	handle handle.Handle
	value  T
}

// Registry owns values of T in pooled slots and hands out handles to them.
//
// Growth doubles the slot pointer table and appends a new pool chunk, so
// pointers returned by Get remain valid across growth. Removal bumps the
// slot generation, so a handle never validates again once removed.
//
// A Registry is not safe for concurrent use.
type Registry[T any] struct {
	id  uuid.UUID
	cfg Config[T]
	log *zap.Logger

	pools       []*alloc.Pool[slot[T]]
	slots       []*slot[T]
	generations []uint32
	free        []uint32

	nextIndex uint32
	count     uint32

	tracked map[handle.Type]*handleList
}

// New creates an empty registry.
func New[T any](cfg Config[T]) *Registry[T] {
	if cfg.InitialCapacity <= 0 {
		cfg.InitialCapacity = DefaultInitialCapacity
	}
	if cfg.MaxCapacity > 0 && cfg.InitialCapacity > cfg.MaxCapacity {
		cfg.InitialCapacity = cfg.MaxCapacity
	}

	r := &Registry[T]{
		id:          uuid.New(),
		cfg:         cfg,
		log:         cfg.Logger,
		pools:       []*alloc.Pool[slot[T]]{alloc.New[slot[T]](cfg.InitialCapacity)},
		slots:       make([]*slot[T], cfg.InitialCapacity),
		generations: make([]uint32, cfg.InitialCapacity),
		tracked:     make(map[handle.Type]*handleList, len(cfg.Tracked)),
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	r.log = r.log.With(zap.String("registry", cfg.Name), zap.Stringer("registry_id", r.id))

	for _, t := range cfg.Tracked {
		r.tracked[t] = newHandleList()
	}
	return r
}

// ID returns the unique identity of this registry instance.
func (r *Registry[T]) ID() uuid.UUID {
	return r.id
}

// Name returns the configured registry name.
func (r *Registry[T]) Name() string {
	return r.cfg.Name
}

// Count returns the number of live entries.
func (r *Registry[T]) Count() int {
	return int(r.count)
}

// Capacity returns the size of the slot table.
func (r *Registry[T]) Capacity() int {
	return len(r.slots)
}

// Add stores value and returns its handle.
func (r *Registry[T]) Add(t handle.Type, value T) (handle.Handle, error) {
	if t == handle.TypeInvalid {
		return handle.Invalid, fmt.Errorf("%w: cannot add %s entry", ErrInvalidHandle, t)
	}
	if int(r.count)+1 > len(r.slots) {
		if err := r.grow(); err != nil {
			return handle.Invalid, err
		}
	}

	s, err := r.allocSlot()
	if err != nil {
		return handle.Invalid, err
	}

	var index uint32
	if n := len(r.free); n > 0 {
		index = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		index = r.nextIndex
		r.nextIndex++
	}

	h := handle.Handle{Type: t, Generation: r.generations[index], Index: index}
	s.handle = h
	s.value = value
	r.slots[index] = s
	r.count++

	if list, ok := r.tracked[t]; ok {
		list.add(h)
	}
	return h, nil
}

// Remove tears down the entry behind h and invalidates h permanently.
func (r *Registry[T]) Remove(h handle.Handle) error {
	if !r.IsValid(h) {
		return fmt.Errorf("%w: %s in %s registry", ErrInvalidHandle, h, r.cfg.Name)
	}

	s := r.slots[h.Index]
	if r.cfg.Teardown != nil {
		r.cfg.Teardown(h, &s.value)
	}
	r.releaseSlot(s)

	r.slots[h.Index] = nil
	r.generations[h.Index]++
	r.free = append(r.free, h.Index)
	r.count--

	if list, ok := r.tracked[h.Type]; ok {
		list.remove(h)
	}
	return nil
}

// IsValid reports whether h refers to a live entry of the same generation and type.
func (r *Registry[T]) IsValid(h handle.Handle) bool {
	if h.Type == handle.TypeInvalid || int(h.Index) >= len(r.slots) {
		return false
	}
	s := r.slots[h.Index]
	return s != nil && s.handle == h
}

// Get returns a pointer to the entry behind h. The pointer stays valid until
// the entry is removed.
func (r *Registry[T]) Get(h handle.Handle) (*T, error) {
	if !r.IsValid(h) {
		return nil, fmt.Errorf("%w: %s in %s registry", ErrInvalidHandle, h, r.cfg.Name)
	}
	return &r.slots[h.Index].value, nil
}

// GetAll returns a snapshot copy of every live entry of type filter.
// handle.TypeInvalid selects every entry.
func (r *Registry[T]) GetAll(filter handle.Type) []T {
	handles := r.Handles(filter)
	out := make([]T, len(handles))
	for i, h := range handles {
		out[i] = r.slots[h.Index].value
	}
	return out
}

// Handles returns the handles of every live entry of type filter.
// handle.TypeInvalid selects every entry.
func (r *Registry[T]) Handles(filter handle.Type) []handle.Handle {
	if list, ok := r.tracked[filter]; ok {
		return list.snapshot()
	}

	out := make([]handle.Handle, 0, r.count)
	for i := uint32(0); i < r.nextIndex; i++ {
		s := r.slots[i]
		if s == nil {
			continue
		}
		if filter == handle.TypeInvalid || s.handle.Type == filter {
			out = append(out, s.handle)
		}
	}
	return out
}

// Clear tears down every entry and restarts index assignment. Generations
// survive, so handles issued before Clear stay invalid.
func (r *Registry[T]) Clear() {
	for i := uint32(0); i < r.nextIndex; i++ {
		s := r.slots[i]
		if s == nil {
			continue
		}
		if r.cfg.Teardown != nil {
			r.cfg.Teardown(s.handle, &s.value)
		}
		r.slots[i] = nil
		r.generations[i]++
	}
	for _, p := range r.pools {
		p.Reset()
	}
	for _, list := range r.tracked {
		list.clear()
	}
	r.free = r.free[:0]
	r.nextIndex = 0
	r.count = 0
	r.log.Debug("registry cleared")
}

// grow doubles the slot table and adds a pool chunk for the new slots.
func (r *Registry[T]) grow() error {
	oldCap := len(r.slots)
	newCap := oldCap * 2
	if newCap == 0 {
		newCap = DefaultInitialCapacity
	}
	if r.cfg.MaxCapacity > 0 && newCap > r.cfg.MaxCapacity {
		newCap = r.cfg.MaxCapacity
	}
	if newCap <= oldCap {
		return fmt.Errorf("%w: %s registry holds %d entries", ErrExhausted, r.cfg.Name, oldCap)
	}

	slots := make([]*slot[T], newCap)
	copy(slots, r.slots)
	r.slots = slots

	generations := make([]uint32, newCap)
	copy(generations, r.generations)
	r.generations = generations

	r.pools = append(r.pools, alloc.New[slot[T]](newCap-oldCap))

	r.log.Debug("registry grown",
		zap.Int("old_capacity", oldCap),
		zap.Int("new_capacity", newCap),
	)
	return nil
}

func (r *Registry[T]) allocSlot() (*slot[T], error) {
	for _, p := range r.pools {
		s, err := p.Alloc()
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, alloc.ErrExhausted) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s registry pools", alloc.ErrExhausted, r.cfg.Name)
}

func (r *Registry[T]) releaseSlot(s *slot[T]) {
	for _, p := range r.pools {
		if p.Owns(s) {
			if err := p.Free(s); err != nil {
				r.log.Error("releasing registry slot", zap.Error(err))
			}
			return
		}
	}
	r.log.Error("registry slot not owned by any pool")
}
