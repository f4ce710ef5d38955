// Package resource owns GPU objects behind generational handles.
//
// Every buffer, pipeline and descriptor set the engine creates goes through
// a Manager, so stale handles are caught before a backend object is touched
// and teardown always reaches the backend that created the object.
package resource

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/handle"
	"github.com/Faultbox/maple/internal/engine/registry"
)

// Resource errors.
var (
	ErrUnknownResourceType = errors.New("unknown resource type")
	ErrWrongResourceType   = errors.New("handle refers to a different resource type")
	ErrManagedResource     = errors.New("resource is owned by the manager")
	ErrRangeOutOfBounds    = errors.New("descriptor range outside buffer")
)

// Resource is one GPU object. Which fields are set depends on the handle type.
type Resource struct {
	Name string

	// Buffers and descriptor sets.
	Object gpu.Object
	Kind   gpu.BufferKind
	Size   int
	Stride uint32

	// Pipelines.
	Binding gpu.PipelineBinding
	Desc    gpu.PipelineDesc

	// Descriptor sets.
	Set gpu.DescriptorSetDesc
}

// VertexBufferInfo creates a vertex buffer. Size defaults to len(Data).
type VertexBufferInfo struct {
	Name   string
	Data   []byte
	Size   int
	Stride uint32
}

// IndexBufferInfo creates an index buffer of 2 or 4 byte indices.
type IndexBufferInfo struct {
	Name   string
	Data   []byte
	Size   int
	Stride uint32
}

// UniformBufferInfo creates a uniform buffer.
type UniformBufferInfo struct {
	Name string
	Data []byte
	Size int
}

// PipelineInfo creates a pipeline and its layout.
type PipelineInfo struct {
	Desc gpu.PipelineDesc
}

// DescriptorSetInfo binds a range of a uniform buffer to set slot Slot of
// Pipeline's layout.
type DescriptorSetInfo struct {
	Name     string
	Pipeline handle.Handle
	Slot     uint32
	Buffer   handle.Handle
	Offset   uint32
	Size     uint32
}

// Config sizes the resource registry and the per-object uniform buffer.
type Config struct {
	InitialCapacity int
	MaxCapacity     int

	// ObjectCapacity is how many objects one frame can draw.
	ObjectCapacity int
	// ObjectStride is the unaligned size of one object's shader data.
	ObjectStride int
}

// MinObjectStride is the size of one object's model matrix. Smaller strides
// would let consecutive object writes overlap.
const MinObjectStride = 64

// DefaultConfig returns settings for a 64-byte model matrix per object.
func DefaultConfig() Config {
	return Config{
		InitialCapacity: registry.DefaultInitialCapacity,
		ObjectCapacity:  1024,
		ObjectStride:    MinObjectStride,
	}
}

// Manager is the resource layer. One per engine; not safe for concurrent use.
type Manager struct {
	backend gpu.Backend
	log     *zap.Logger
	reg     *registry.Registry[Resource]

	objectUniform handle.Handle
	objectDynamic *DynamicUniform
}

// New creates a manager and the default per-object uniform buffer.
func New(cfg Config, backend gpu.Backend, log *zap.Logger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.ObjectCapacity <= 0 {
		cfg.ObjectCapacity = def.ObjectCapacity
	}
	if cfg.ObjectStride <= 0 {
		cfg.ObjectStride = def.ObjectStride
	}
	if cfg.ObjectStride < MinObjectStride {
		log.Warn("raising object stride",
			zap.Int("configured", cfg.ObjectStride),
			zap.Int("min", MinObjectStride),
		)
		cfg.ObjectStride = MinObjectStride
	}

	m := &Manager{
		backend: backend,
		log:     log,
	}
	m.reg = registry.New(registry.Config[Resource]{
		Name:            "resource",
		InitialCapacity: cfg.InitialCapacity,
		MaxCapacity:     cfg.MaxCapacity,
		Teardown:        m.teardown,
		Logger:          log,
	})

	stride := AlignUp(cfg.ObjectStride, backend.MinUniformAlignment())
	h, err := m.Load(handle.TypeUniformBuffer, UniformBufferInfo{
		Name: "object",
		Size: stride * cfg.ObjectCapacity,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object uniform buffer: %w", err)
	}
	res, err := m.reg.Get(h)
	if err != nil {
		return nil, fmt.Errorf("resolving object uniform buffer: %w", err)
	}
	m.objectUniform = h
	m.objectDynamic = &DynamicUniform{
		Buffer:   h,
		Object:   res.Object,
		Stride:   uint32(stride),
		Capacity: uint32(cfg.ObjectCapacity),
	}

	log.Info("resource manager ready",
		zap.String("backend", backend.Name()),
		zap.Int("object_stride", stride),
		zap.Int("object_capacity", cfg.ObjectCapacity),
	)
	return m, nil
}

// Backend returns the backend resources are created on.
func (m *Manager) Backend() gpu.Backend {
	return m.backend
}

// Load creates a resource of type t from info.
func (m *Manager) Load(t handle.Type, info any) (handle.Handle, error) {
	var (
		res Resource
		err error
	)
	switch t {
	case handle.TypeVertexBuffer:
		vi, ok := info.(VertexBufferInfo)
		if !ok {
			return handle.Invalid, mismatch(t, info)
		}
		res, err = m.createBuffer(gpu.BufferVertex, vi.Name, vi.Data, vi.Size, vi.Stride)
	case handle.TypeIndexBuffer:
		ii, ok := info.(IndexBufferInfo)
		if !ok {
			return handle.Invalid, mismatch(t, info)
		}
		res, err = m.createBuffer(gpu.BufferIndex, ii.Name, ii.Data, ii.Size, ii.Stride)
	case handle.TypeUniformBuffer:
		ui, ok := info.(UniformBufferInfo)
		if !ok {
			return handle.Invalid, mismatch(t, info)
		}
		res, err = m.createBuffer(gpu.BufferUniform, ui.Name, ui.Data, ui.Size, 0)
	case handle.TypePipeline:
		pi, ok := info.(PipelineInfo)
		if !ok {
			return handle.Invalid, mismatch(t, info)
		}
		res, err = m.createPipeline(pi)
	case handle.TypeDescriptorSet:
		di, ok := info.(DescriptorSetInfo)
		if !ok {
			return handle.Invalid, mismatch(t, info)
		}
		res, err = m.createDescriptorSet(di)
	default:
		return handle.Invalid, fmt.Errorf("%w: %s", ErrUnknownResourceType, t)
	}
	if err != nil {
		return handle.Invalid, err
	}

	h, err := m.reg.Add(t, res)
	if err != nil {
		m.destroy(t, &res)
		return handle.Invalid, err
	}
	return h, nil
}

func mismatch(t handle.Type, info any) error {
	return fmt.Errorf("%w: %T for %s", ErrUnknownResourceType, info, t)
}

func (m *Manager) createBuffer(kind gpu.BufferKind, name string, data []byte, size int, stride uint32) (Resource, error) {
	if size == 0 {
		size = len(data)
	}
	obj, err := m.backend.CreateBuffer(kind, size, data)
	if err != nil {
		return Resource{}, fmt.Errorf("creating %s buffer %q: %w", kind, name, err)
	}
	return Resource{Name: name, Object: obj, Kind: kind, Size: size, Stride: stride}, nil
}

func (m *Manager) createPipeline(info PipelineInfo) (Resource, error) {
	b, err := m.backend.CreatePipeline(info.Desc)
	if err != nil {
		return Resource{}, fmt.Errorf("creating pipeline %q: %w", info.Desc.Name, err)
	}
	return Resource{Name: info.Desc.Name, Binding: b, Desc: info.Desc}, nil
}

func (m *Manager) createDescriptorSet(info DescriptorSetInfo) (Resource, error) {
	pipe, err := m.get(info.Pipeline, handle.TypePipeline)
	if err != nil {
		return Resource{}, fmt.Errorf("descriptor set %q: %w", info.Name, err)
	}
	buf, err := m.get(info.Buffer, handle.TypeUniformBuffer)
	if err != nil {
		return Resource{}, fmt.Errorf("descriptor set %q: %w", info.Name, err)
	}
	bufSize := uint64(buf.Size)
	if uint64(info.Offset) > bufSize {
		return Resource{}, fmt.Errorf("descriptor set %q: %w: offset %d in %d byte buffer",
			info.Name, ErrRangeOutOfBounds, info.Offset, bufSize)
	}
	size := info.Size
	if size == 0 {
		size = uint32(bufSize - uint64(info.Offset))
	}
	if uint64(info.Offset)+uint64(size) > bufSize {
		return Resource{}, fmt.Errorf("descriptor set %q: %w: %d+%d in %d byte buffer",
			info.Name, ErrRangeOutOfBounds, info.Offset, size, bufSize)
	}
	desc := gpu.DescriptorSetDesc{
		Layout: pipe.Binding.Layout,
		Slot:   info.Slot,
		Buffer: buf.Object,
		Offset: info.Offset,
		Size:   size,
	}
	obj, err := m.backend.CreateDescriptorSet(desc)
	if err != nil {
		return Resource{}, fmt.Errorf("creating descriptor set %q: %w", info.Name, err)
	}
	return Resource{Name: info.Name, Object: obj, Set: desc}, nil
}

// Get returns a copy of the resource behind h.
func (m *Manager) Get(h handle.Handle) (Resource, error) {
	res, err := m.reg.Get(h)
	if err != nil {
		return Resource{}, err
	}
	return *res, nil
}

func (m *Manager) get(h handle.Handle, want handle.Type) (*Resource, error) {
	if h.Type != want {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrWrongResourceType, h, want)
	}
	return m.reg.Get(h)
}

// Buffer resolves a vertex, index or uniform buffer handle to its backend object.
func (m *Manager) Buffer(h handle.Handle) (gpu.Object, error) {
	switch h.Type {
	case handle.TypeVertexBuffer, handle.TypeIndexBuffer, handle.TypeUniformBuffer:
	default:
		return 0, fmt.Errorf("%w: %s is not a buffer", ErrWrongResourceType, h)
	}
	res, err := m.reg.Get(h)
	if err != nil {
		return 0, err
	}
	return res.Object, nil
}

// Pipeline resolves a pipeline handle.
func (m *Manager) Pipeline(h handle.Handle) (gpu.PipelineBinding, error) {
	res, err := m.get(h, handle.TypePipeline)
	if err != nil {
		return gpu.PipelineBinding{}, err
	}
	return res.Binding, nil
}

// DescriptorSet resolves a descriptor set handle.
func (m *Manager) DescriptorSet(h handle.Handle) (gpu.Object, error) {
	res, err := m.get(h, handle.TypeDescriptorSet)
	if err != nil {
		return 0, err
	}
	return res.Object, nil
}

// IndexBuffer resolves an index buffer handle to its backend object and
// index stride.
func (m *Manager) IndexBuffer(h handle.Handle) (gpu.Object, uint32, error) {
	res, err := m.get(h, handle.TypeIndexBuffer)
	if err != nil {
		return 0, 0, err
	}
	return res.Object, res.Stride, nil
}

// IsValid reports whether h refers to a live resource.
func (m *Manager) IsValid(h handle.Handle) bool {
	return m.reg.IsValid(h)
}

// Count returns the number of live resources.
func (m *Manager) Count() int {
	return m.reg.Count()
}

// Free destroys the resource behind h.
func (m *Manager) Free(h handle.Handle) error {
	if h == m.objectUniform {
		return fmt.Errorf("%w: object uniform buffer %s", ErrManagedResource, h)
	}
	return m.reg.Remove(h)
}

// ObjectUniform returns the shared per-object uniform buffer.
func (m *Manager) ObjectUniform() handle.Handle {
	return m.objectUniform
}

// ObjectDynamicUniform returns the per-frame offset cursor into ObjectUniform.
func (m *Manager) ObjectDynamicUniform() *DynamicUniform {
	return m.objectDynamic
}

// BeginFrame rewinds per-frame state.
func (m *Manager) BeginFrame() {
	m.objectDynamic.Reset()
}

// Shutdown destroys every resource, including the object uniform buffer.
func (m *Manager) Shutdown() {
	n := m.reg.Count()
	m.reg.Clear()
	m.objectUniform = handle.Invalid
	m.log.Info("resource manager shut down", zap.Int("released", n))
}

func (m *Manager) teardown(h handle.Handle, res *Resource) {
	m.destroy(h.Type, res)
}

func (m *Manager) destroy(t handle.Type, res *Resource) {
	var err error
	switch t {
	case handle.TypeVertexBuffer, handle.TypeIndexBuffer, handle.TypeUniformBuffer:
		err = m.backend.DestroyBuffer(res.Object)
	case handle.TypePipeline:
		err = m.backend.DestroyPipeline(res.Binding)
	case handle.TypeDescriptorSet:
		err = m.backend.DestroyDescriptorSet(res.Object)
	}
	if err != nil {
		m.log.Error("destroying resource",
			zap.Stringer("type", t),
			zap.String("name", res.Name),
			zap.Error(err),
		)
	}
}
