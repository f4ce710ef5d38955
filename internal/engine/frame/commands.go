// Package frame turns one frame's render commands into a GPU command list,
// grouping draws by material so pipeline and descriptor binds are shared.
package frame

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/maple/internal/engine/asset"
	"github.com/Faultbox/maple/internal/engine/handle"
)

// Kind identifies a render command.
type Kind uint8

const (
	KindDraw Kind = iota + 1
	KindSetViewport
	KindSetScissor
	KindBindPipeline
	KindBindDescriptorSet
)

func (k Kind) String() string {
	switch k {
	case KindDraw:
		return "draw"
	case KindSetViewport:
		return "set_viewport"
	case KindSetScissor:
		return "set_scissor"
	case KindBindPipeline:
		return "bind_pipeline"
	case KindBindDescriptorSet:
		return "bind_descriptor_set"
	default:
		return "unknown"
	}
}

// Command is one render command. Types outside this package are skipped by
// the batcher.
type Command interface {
	Kind() Kind
}

// ObjectDataSize is the encoded size of ObjectData.
const ObjectDataSize = 64

// ObjectData is the per-object payload written to the object uniform buffer.
type ObjectData struct {
	Model mgl32.Mat4
}

// put encodes o into dst as column-major little-endian float32.
func (o *ObjectData) put(dst []byte) {
	for i, f := range o.Model {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
}

// Draw renders one primitive with a material.
type Draw struct {
	Material handle.Handle
	// Model is the asset the buffers belong to. Optional; when set it must
	// be live.
	Model  handle.Handle
	Object ObjectData

	// VertexBuffers holds one buffer per vertex stream. Offsets, when
	// given, has one byte offset per stream.
	VertexBuffers []handle.Handle
	Offsets       []uint64
	IndexBuffer   handle.Handle
	Count         uint32
	Indexed       bool
}

// SetViewport sets the viewport transform.
type SetViewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// SetScissor sets the scissor rectangle.
type SetScissor struct {
	X, Y          int32
	Width, Height uint32
}

// BindPipeline binds a pipeline outside material batching.
type BindPipeline struct {
	Pipeline handle.Handle
}

// BindDescriptorSet binds a descriptor set against a pipeline's layout.
type BindDescriptorSet struct {
	Pipeline       handle.Handle
	Set            handle.Handle
	FirstSet       uint32
	DynamicOffsets []uint32
}

func (Draw) Kind() Kind              { return KindDraw }
func (SetViewport) Kind() Kind       { return KindSetViewport }
func (SetScissor) Kind() Kind        { return KindSetScissor }
func (BindPipeline) Kind() Kind      { return KindBindPipeline }
func (BindDescriptorSet) Kind() Kind { return KindBindDescriptorSet }

// DrawModel appends one Draw per primitive of every mesh node in m,
// each carrying the node's world transform under transform.
func DrawModel(dst []Command, model handle.Handle, m *asset.Model, material handle.Handle, transform mgl32.Mat4) []Command {
	m.Walk(func(_ int, n *asset.Node, world mgl32.Mat4) bool {
		if n.Mesh == asset.NoIndex {
			return true
		}
		obj := ObjectData{Model: transform.Mul4(world)}
		for _, pi := range m.Meshes[n.Mesh].Primitives {
			p := &m.Primitives[pi]
			if p.VertexBuffer.IsNil() {
				continue
			}
			dst = append(dst, Draw{
				Material:      material,
				Model:         model,
				Object:        obj,
				VertexBuffers: []handle.Handle{p.VertexBuffer},
				IndexBuffer:   p.IndexBuffer,
				Count:         p.DrawCount(),
				Indexed:       p.Indexed,
			})
		}
		return true
	})
	return dst
}
