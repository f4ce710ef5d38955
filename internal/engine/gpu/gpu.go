// Package gpu defines the backend contract consumed by the resource layer
// and the frame batcher, plus a headless backend that records everything.
package gpu

import (
	"errors"
	"fmt"
)

// Backend errors.
var (
	ErrUnknownObject = errors.New("unknown gpu object")
	ErrOutOfRange    = errors.New("buffer range out of bounds")
)

// Object is an opaque backend name for a buffer, pipeline, layout or
// descriptor set. Zero is never a live object.
type Object uint64

// BufferKind selects how a buffer is bound.
type BufferKind uint8

const (
	BufferVertex BufferKind = iota + 1
	BufferIndex
	BufferUniform
)

func (k BufferKind) String() string {
	switch k {
	case BufferVertex:
		return "vertex"
	case BufferIndex:
		return "index"
	case BufferUniform:
		return "uniform"
	default:
		return fmt.Sprintf("BufferKind(%d)", uint8(k))
	}
}

// VertexAttribute describes one shader input within a vertex stream.
type VertexAttribute struct {
	Location   uint32
	Stream     int    // index into VertexLayout.Strides
	Components int32  // float32 components
	Offset     uint32 // bytes from the start of the vertex
}

// VertexLayout describes how vertex buffers feed a pipeline. One stride
// per stream; a multi-stream layout takes one vertex buffer per stream.
type VertexLayout struct {
	Strides    []uint32
	Attributes []VertexAttribute
}

// SetLayout names the uniform block bound at one descriptor set slot.
type SetLayout struct {
	Block   string
	Dynamic bool
}

// PipelineDesc is everything needed to build a pipeline.
type PipelineDesc struct {
	Name           string
	VertexShader   string
	FragmentShader string
	Vertex         VertexLayout
	Sets           []SetLayout
}

// PipelineBinding pairs a pipeline with the layout its descriptor sets bind against.
type PipelineBinding struct {
	Pipeline Object
	Layout   Object
}

// DescriptorSetDesc binds a range of a uniform buffer to a set slot.
// Dynamic sets add the offset supplied at bind time to Offset.
type DescriptorSetDesc struct {
	Layout Object
	Slot   uint32
	Buffer Object
	Offset uint32
	Size   uint32
}

// Backend creates GPU objects and executes command lists.
//
// Implementations are driven from a single thread.
type Backend interface {
	Name() string

	CreateBuffer(kind BufferKind, size int, data []byte) (Object, error)
	DestroyBuffer(obj Object) error

	CreatePipeline(desc PipelineDesc) (PipelineBinding, error)
	DestroyPipeline(binding PipelineBinding) error

	CreateDescriptorSet(desc DescriptorSetDesc) (Object, error)
	DestroyDescriptorSet(obj Object) error

	// MinUniformAlignment is the required alignment of dynamic uniform offsets.
	MinUniformAlignment() int

	Submit(list *CommandList) error
}
