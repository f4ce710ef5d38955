package asset

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/pelletier/go-toml/v2"

	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/handle"
)

// Descriptor set slots, in bind order.
const (
	GlobalSet = iota
	DynamicSet
	StaticSet

	SetCount
)

// materialUniformSize holds diffuse colour plus shininess, padded to 16 bytes.
const materialUniformSize = 32

// DescriptorSlot is one of a material's descriptor sets. Set is
// handle.Invalid when the material declares nothing at that slot.
type DescriptorSlot struct {
	Block string
	Set   handle.Handle
}

// Declared reports whether the slot has a set to bind.
func (s DescriptorSlot) Declared() bool {
	return !s.Set.IsNil()
}

// Material selects a pipeline and the descriptor sets bound around it.
type Material struct {
	Name      string
	Pipeline  handle.Handle
	Sets      [SetCount]DescriptorSlot
	Diffuse   mgl32.Vec4
	Shininess float32

	// Resources created for this material, released with it.
	owned []handle.Handle
}

// MaterialDef is the on-disk material description.
type MaterialDef struct {
	Name           string     `toml:"name"`
	VertexShader   string     `toml:"vertex_shader"`
	FragmentShader string     `toml:"fragment_shader"`
	DiffuseColour  [4]float32 `toml:"diffuse_colour"`
	Shininess      float32    `toml:"shininess"`
	Vertex         VertexDef  `toml:"vertex"`
	Global         *SetDef    `toml:"global"`
	Dynamic        *SetDef    `toml:"dynamic"`
	Static         *SetDef    `toml:"static"`
}

// VertexDef describes the vertex streams a material's pipeline consumes.
type VertexDef struct {
	Strides    []uint32       `toml:"strides"`
	Attributes []AttributeDef `toml:"attribute"`
}

// AttributeDef is one vertex shader input.
type AttributeDef struct {
	Location   uint32 `toml:"location"`
	Stream     int    `toml:"stream"`
	Components int32  `toml:"components"`
	Offset     uint32 `toml:"offset"`
}

// SetDef declares a descriptor set slot and the uniform block it feeds.
type SetDef struct {
	Block string `toml:"block"`
}

var errInvalidMaterial = errors.New("invalid material")

// ParseMaterialDef decodes and validates a TOML material. Unknown keys are
// rejected so typos do not silently drop a descriptor set.
func ParseMaterialDef(data []byte) (*MaterialDef, error) {
	def := &MaterialDef{
		DiffuseColour: [4]float32{1, 1, 1, 1},
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(def); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAsset, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedAsset, err)
	}
	return def, nil
}

// Validate checks field ranges and vertex layout consistency.
func (d *MaterialDef) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", errInvalidMaterial)
	}
	for _, c := range d.DiffuseColour {
		if c < 0 || c > 1 {
			return fmt.Errorf("%w: diffuse_colour values must be between 0.0 and 1.0", errInvalidMaterial)
		}
	}
	if d.Shininess < 0 {
		return fmt.Errorf("%w: shininess must be non-negative", errInvalidMaterial)
	}
	for i, a := range d.Vertex.Attributes {
		if a.Stream < 0 || a.Stream >= len(d.Vertex.Strides) {
			return fmt.Errorf("%w: attribute %d uses stream %d of %d", errInvalidMaterial, i, a.Stream, len(d.Vertex.Strides))
		}
		if a.Components < 1 || a.Components > 4 {
			return fmt.Errorf("%w: attribute %d has %d components", errInvalidMaterial, i, a.Components)
		}
		if a.Offset+uint32(a.Components)*4 > d.Vertex.Strides[a.Stream] {
			return fmt.Errorf("%w: attribute %d overruns stream %d stride", errInvalidMaterial, i, a.Stream)
		}
	}
	return nil
}

func (d *MaterialDef) setDefs() [SetCount]*SetDef {
	return [SetCount]*SetDef{GlobalSet: d.Global, DynamicSet: d.Dynamic, StaticSet: d.Static}
}

func (d *MaterialDef) pipelineDesc(vertexSrc, fragmentSrc string) gpu.PipelineDesc {
	desc := gpu.PipelineDesc{
		Name:           d.Name,
		VertexShader:   vertexSrc,
		FragmentShader: fragmentSrc,
		Vertex: gpu.VertexLayout{
			Strides: append([]uint32(nil), d.Vertex.Strides...),
		},
		Sets: make([]gpu.SetLayout, SetCount),
	}
	for _, a := range d.Vertex.Attributes {
		desc.Vertex.Attributes = append(desc.Vertex.Attributes, gpu.VertexAttribute{
			Location:   a.Location,
			Stream:     a.Stream,
			Components: a.Components,
			Offset:     a.Offset,
		})
	}
	for slot, s := range d.setDefs() {
		if s != nil {
			desc.Sets[slot] = gpu.SetLayout{Block: s.Block, Dynamic: slot == StaticSet}
		}
	}
	return desc
}

// uniformData packs the per-material uniform block (std140).
func (d *MaterialDef) uniformData() []byte {
	buf := make([]byte, materialUniformSize)
	for i, c := range d.DiffuseColour {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(c))
	}
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(d.Shininess))
	return buf
}
