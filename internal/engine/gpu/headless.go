package gpu

import (
	"fmt"

	"go.uber.org/zap"
)

// DefaultUniformAlignment matches the common desktop value of
// GL_UNIFORM_BUFFER_OFFSET_ALIGNMENT.
const DefaultUniformAlignment = 256

type headlessBuffer struct {
	kind BufferKind
	data []byte
}

// Headless is an in-memory Backend. Buffers hold a copy of their data,
// UpdateBuffer commands are applied on Submit, and every submitted list is
// kept for inspection.
type Headless struct {
	log       *zap.Logger
	alignment int
	next      Object

	buffers   map[Object]*headlessBuffer
	pipelines map[Object]PipelineDesc
	layouts   map[Object]Object // layout -> pipeline
	sets      map[Object]DescriptorSetDesc

	submitted []*CommandList
}

// NewHeadless creates a headless backend. alignment <= 0 selects
// DefaultUniformAlignment.
func NewHeadless(alignment int, log *zap.Logger) *Headless {
	if alignment <= 0 {
		alignment = DefaultUniformAlignment
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Headless{
		log:       log,
		alignment: alignment,
		buffers:   make(map[Object]*headlessBuffer),
		pipelines: make(map[Object]PipelineDesc),
		layouts:   make(map[Object]Object),
		sets:      make(map[Object]DescriptorSetDesc),
	}
}

// Name implements Backend.
func (h *Headless) Name() string { return "headless" }

// MinUniformAlignment implements Backend.
func (h *Headless) MinUniformAlignment() int { return h.alignment }

func (h *Headless) alloc() Object {
	h.next++
	return h.next
}

// CreateBuffer implements Backend.
func (h *Headless) CreateBuffer(kind BufferKind, size int, data []byte) (Object, error) {
	if size < 0 || len(data) > size {
		return 0, fmt.Errorf("%w: %s buffer size %d with %d bytes of data", ErrOutOfRange, kind, size, len(data))
	}
	buf := &headlessBuffer{kind: kind, data: make([]byte, size)}
	copy(buf.data, data)

	obj := h.alloc()
	h.buffers[obj] = buf
	h.log.Debug("buffer created", zap.Stringer("kind", kind), zap.Int("size", size), zap.Uint64("object", uint64(obj)))
	return obj, nil
}

// DestroyBuffer implements Backend.
func (h *Headless) DestroyBuffer(obj Object) error {
	if _, ok := h.buffers[obj]; !ok {
		return fmt.Errorf("%w: buffer %d", ErrUnknownObject, obj)
	}
	delete(h.buffers, obj)
	return nil
}

// CreatePipeline implements Backend.
func (h *Headless) CreatePipeline(desc PipelineDesc) (PipelineBinding, error) {
	p := h.alloc()
	l := h.alloc()
	h.pipelines[p] = desc
	h.layouts[l] = p
	h.log.Debug("pipeline created", zap.String("name", desc.Name), zap.Uint64("object", uint64(p)))
	return PipelineBinding{Pipeline: p, Layout: l}, nil
}

// DestroyPipeline implements Backend.
func (h *Headless) DestroyPipeline(b PipelineBinding) error {
	if _, ok := h.pipelines[b.Pipeline]; !ok {
		return fmt.Errorf("%w: pipeline %d", ErrUnknownObject, b.Pipeline)
	}
	delete(h.pipelines, b.Pipeline)
	delete(h.layouts, b.Layout)
	return nil
}

// CreateDescriptorSet implements Backend.
func (h *Headless) CreateDescriptorSet(desc DescriptorSetDesc) (Object, error) {
	if _, ok := h.layouts[desc.Layout]; !ok {
		return 0, fmt.Errorf("%w: layout %d", ErrUnknownObject, desc.Layout)
	}
	buf, ok := h.buffers[desc.Buffer]
	if !ok {
		return 0, fmt.Errorf("%w: buffer %d", ErrUnknownObject, desc.Buffer)
	}
	if uint64(desc.Offset)+uint64(desc.Size) > uint64(len(buf.data)) {
		return 0, fmt.Errorf("%w: set range %d+%d in %d byte buffer", ErrOutOfRange, desc.Offset, desc.Size, len(buf.data))
	}
	obj := h.alloc()
	h.sets[obj] = desc
	return obj, nil
}

// DestroyDescriptorSet implements Backend.
func (h *Headless) DestroyDescriptorSet(obj Object) error {
	if _, ok := h.sets[obj]; !ok {
		return fmt.Errorf("%w: descriptor set %d", ErrUnknownObject, obj)
	}
	delete(h.sets, obj)
	return nil
}

// Submit validates every command against live objects, applies buffer
// updates, and records a copy of the list.
func (h *Headless) Submit(list *CommandList) error {
	for i, cmd := range list.Commands() {
		if err := h.execute(cmd); err != nil {
			return fmt.Errorf("command %d (%T): %w", i, cmd, err)
		}
	}
	h.submitted = append(h.submitted, list.Clone())
	return nil
}

func (h *Headless) execute(cmd Command) error {
	switch c := cmd.(type) {
	case BindPipeline:
		if _, ok := h.pipelines[c.Pipeline]; !ok {
			return fmt.Errorf("%w: pipeline %d", ErrUnknownObject, c.Pipeline)
		}
	case BindDescriptorSet:
		if _, ok := h.layouts[c.Layout]; !ok {
			return fmt.Errorf("%w: layout %d", ErrUnknownObject, c.Layout)
		}
		if _, ok := h.sets[c.Set]; !ok {
			return fmt.Errorf("%w: descriptor set %d", ErrUnknownObject, c.Set)
		}
	case UpdateBuffer:
		buf, ok := h.buffers[c.Target]
		if !ok {
			return fmt.Errorf("%w: buffer %d", ErrUnknownObject, c.Target)
		}
		if int(c.Size) > len(c.Data) || uint64(c.Offset)+uint64(c.Size) > uint64(len(buf.data)) {
			return fmt.Errorf("%w: update %d+%d in %d byte buffer", ErrOutOfRange, c.Offset, c.Size, len(buf.data))
		}
		copy(buf.data[c.Offset:], c.Data[:c.Size])
	case Draw:
		for _, vb := range c.VertexBuffers {
			if _, ok := h.buffers[vb]; !ok {
				return fmt.Errorf("%w: vertex buffer %d", ErrUnknownObject, vb)
			}
		}
		if c.Indexed {
			if _, ok := h.buffers[c.IndexBuffer]; !ok {
				return fmt.Errorf("%w: index buffer %d", ErrUnknownObject, c.IndexBuffer)
			}
		}
	case SetViewport, SetScissor:
	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
	return nil
}

// BufferData returns the current contents of a buffer.
func (h *Headless) BufferData(obj Object) ([]byte, bool) {
	buf, ok := h.buffers[obj]
	if !ok {
		return nil, false
	}
	return buf.data, true
}

// BufferKindOf returns the kind a buffer was created with.
func (h *Headless) BufferKindOf(obj Object) (BufferKind, bool) {
	buf, ok := h.buffers[obj]
	if !ok {
		return 0, false
	}
	return buf.kind, true
}

// Pipeline returns the description a pipeline was created from.
func (h *Headless) Pipeline(obj Object) (PipelineDesc, bool) {
	desc, ok := h.pipelines[obj]
	return desc, ok
}

// LiveObjects counts buffers, pipelines and descriptor sets not yet destroyed.
func (h *Headless) LiveObjects() (buffers, pipelines, sets int) {
	return len(h.buffers), len(h.pipelines), len(h.sets)
}

// Submitted returns every list passed to Submit, oldest first.
func (h *Headless) Submitted() []*CommandList {
	return h.submitted
}
