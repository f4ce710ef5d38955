// Package glbackend implements gpu.Backend on OpenGL 4.1 core.
//
// Descriptor sets become uniform buffer ranges bound to the binding point
// equal to their set slot. Each pipeline owns one vertex array object whose
// attribute pointers are re-specified per draw so multi-stream layouts work
// without per-buffer VAOs.
//
// Must be created and used on the thread that owns the GL context.
package glbackend

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
	"go.uber.org/zap"

	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/shader"
)

type glBuffer struct {
	name uint32
	kind gpu.BufferKind
	size int
}

type glPipeline struct {
	desc    gpu.PipelineDesc
	program uint32
	vao     uint32
}

type glSet struct {
	desc   gpu.DescriptorSetDesc
	buffer uint32
}

// Backend is the OpenGL implementation of gpu.Backend.
type Backend struct {
	log       *zap.Logger
	alignment int
	next      gpu.Object

	buffers   map[gpu.Object]*glBuffer
	pipelines map[gpu.Object]*glPipeline
	layouts   map[gpu.Object]gpu.Object // layout -> pipeline
	sets      map[gpu.Object]*glSet

	current *glPipeline
}

// New loads GL entry points and queries device limits.
// Must be called after the GL context is current.
func New(log *zap.Logger) (*Backend, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	var align int32
	gl.GetIntegerv(gl.UNIFORM_BUFFER_OFFSET_ALIGNMENT, &align)
	if align <= 0 {
		align = gpu.DefaultUniformAlignment
	}

	log.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
		zap.Int32("uniform_alignment", align),
	)

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	gl.ClearColor(0.1, 0.1, 0.15, 1.0)

	return &Backend{
		log:       log,
		alignment: int(align),
		buffers:   make(map[gpu.Object]*glBuffer),
		pipelines: make(map[gpu.Object]*glPipeline),
		layouts:   make(map[gpu.Object]gpu.Object),
		sets:      make(map[gpu.Object]*glSet),
	}, nil
}

// Name implements gpu.Backend.
func (b *Backend) Name() string { return "opengl" }

// MinUniformAlignment implements gpu.Backend.
func (b *Backend) MinUniformAlignment() int { return b.alignment }

// Clear clears the default framebuffer.
func (b *Backend) Clear() {
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
}

func (b *Backend) alloc() gpu.Object {
	b.next++
	return b.next
}

func bufferTarget(kind gpu.BufferKind) uint32 {
	switch kind {
	case gpu.BufferIndex:
		return gl.ELEMENT_ARRAY_BUFFER
	case gpu.BufferUniform:
		return gl.UNIFORM_BUFFER
	default:
		return gl.ARRAY_BUFFER
	}
}

// CreateBuffer implements gpu.Backend.
func (b *Backend) CreateBuffer(kind gpu.BufferKind, size int, data []byte) (gpu.Object, error) {
	if size <= 0 || len(data) > size {
		return 0, fmt.Errorf("%w: %s buffer size %d with %d bytes of data", gpu.ErrOutOfRange, kind, size, len(data))
	}

	usage := uint32(gl.STATIC_DRAW)
	if kind == gpu.BufferUniform {
		usage = gl.DYNAMIC_DRAW
	}

	var name uint32
	gl.GenBuffers(1, &name)
	// Upload through COPY_WRITE so index buffers do not disturb the bound VAO.
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, name)
	gl.BufferData(gl.COPY_WRITE_BUFFER, size, nil, usage)
	if len(data) > 0 {
		gl.BufferSubData(gl.COPY_WRITE_BUFFER, 0, len(data), gl.Ptr(data))
	}
	gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)

	obj := b.alloc()
	b.buffers[obj] = &glBuffer{name: name, kind: kind, size: size}
	b.log.Debug("buffer created",
		zap.Stringer("kind", kind),
		zap.Int("size", size),
		zap.Uint32("gl_name", name),
	)
	return obj, nil
}

// DestroyBuffer implements gpu.Backend.
func (b *Backend) DestroyBuffer(obj gpu.Object) error {
	buf, ok := b.buffers[obj]
	if !ok {
		return fmt.Errorf("%w: buffer %d", gpu.ErrUnknownObject, obj)
	}
	gl.DeleteBuffers(1, &buf.name)
	delete(b.buffers, obj)
	return nil
}

// CreatePipeline implements gpu.Backend.
func (b *Backend) CreatePipeline(desc gpu.PipelineDesc) (gpu.PipelineBinding, error) {
	program, err := shader.CompileProgram(desc.VertexShader, desc.FragmentShader)
	if err != nil {
		return gpu.PipelineBinding{}, fmt.Errorf("pipeline %q: %w", desc.Name, err)
	}
	for slot, set := range desc.Sets {
		if set.Block == "" {
			continue
		}
		if err := shader.BindUniformBlock(program, set.Block, uint32(slot)); err != nil {
			gl.DeleteProgram(program)
			return gpu.PipelineBinding{}, fmt.Errorf("pipeline %q: %w", desc.Name, err)
		}
	}

	p := &glPipeline{desc: desc, program: program}
	gl.GenVertexArrays(1, &p.vao)

	pobj := b.alloc()
	lobj := b.alloc()
	b.pipelines[pobj] = p
	b.layouts[lobj] = pobj

	b.log.Debug("pipeline created",
		zap.String("name", desc.Name),
		zap.Uint32("program", program),
		zap.Int("streams", len(desc.Vertex.Strides)),
	)
	return gpu.PipelineBinding{Pipeline: pobj, Layout: lobj}, nil
}

// DestroyPipeline implements gpu.Backend.
func (b *Backend) DestroyPipeline(binding gpu.PipelineBinding) error {
	p, ok := b.pipelines[binding.Pipeline]
	if !ok {
		return fmt.Errorf("%w: pipeline %d", gpu.ErrUnknownObject, binding.Pipeline)
	}
	if b.current == p {
		b.current = nil
	}
	gl.DeleteVertexArrays(1, &p.vao)
	gl.DeleteProgram(p.program)
	delete(b.pipelines, binding.Pipeline)
	delete(b.layouts, binding.Layout)
	return nil
}

// CreateDescriptorSet implements gpu.Backend.
func (b *Backend) CreateDescriptorSet(desc gpu.DescriptorSetDesc) (gpu.Object, error) {
	if _, ok := b.layouts[desc.Layout]; !ok {
		return 0, fmt.Errorf("%w: layout %d", gpu.ErrUnknownObject, desc.Layout)
	}
	buf, ok := b.buffers[desc.Buffer]
	if !ok {
		return 0, fmt.Errorf("%w: buffer %d", gpu.ErrUnknownObject, desc.Buffer)
	}
	if int(desc.Offset)+int(desc.Size) > buf.size {
		return 0, fmt.Errorf("%w: set range %d+%d in %d byte buffer", gpu.ErrOutOfRange, desc.Offset, desc.Size, buf.size)
	}
	obj := b.alloc()
	b.sets[obj] = &glSet{desc: desc, buffer: buf.name}
	return obj, nil
}

// DestroyDescriptorSet implements gpu.Backend.
func (b *Backend) DestroyDescriptorSet(obj gpu.Object) error {
	if _, ok := b.sets[obj]; !ok {
		return fmt.Errorf("%w: descriptor set %d", gpu.ErrUnknownObject, obj)
	}
	delete(b.sets, obj)
	return nil
}

// Close destroys every object still alive.
func (b *Backend) Close() {
	for obj, p := range b.pipelines {
		gl.DeleteVertexArrays(1, &p.vao)
		gl.DeleteProgram(p.program)
		delete(b.pipelines, obj)
	}
	for obj, buf := range b.buffers {
		gl.DeleteBuffers(1, &buf.name)
		delete(b.buffers, obj)
	}
	clear(b.layouts)
	clear(b.sets)
	b.current = nil
	b.log.Info("opengl backend closed")
}
