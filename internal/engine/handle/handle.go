// Package handle defines the generational identifiers shared by the
// resource and asset registries.
package handle

import "fmt"

// Type tags the kind of entity a handle refers to.
type Type uint16

const (
	TypeInvalid Type = iota

	// GPU resources
	TypeVertexBuffer
	TypeIndexBuffer
	TypeUniformBuffer
	TypePipeline
	TypeDescriptorSet

	// Assets
	TypeModel
	TypeMaterial
	TypeTexture

	typeCount
)

var typeNames = [...]string{
	TypeInvalid:       "Invalid",
	TypeVertexBuffer:  "VertexBuffer",
	TypeIndexBuffer:   "IndexBuffer",
	TypeUniformBuffer: "UniformBuffer",
	TypePipeline:      "Pipeline",
	TypeDescriptorSet: "DescriptorSet",
	TypeModel:         "Model",
	TypeMaterial:      "Material",
	TypeTexture:       "Texture",
}

// String returns a human-readable type name.
func (t Type) String() string {
	if t < typeCount {
		return typeNames[t]
	}
	return fmt.Sprintf("Unknown(%d)", uint16(t))
}

// IsResource returns true for GPU resource types.
func (t Type) IsResource() bool {
	return t >= TypeVertexBuffer && t <= TypeDescriptorSet
}

// IsAsset returns true for asset types.
func (t Type) IsAsset() bool {
	return t >= TypeModel && t <= TypeTexture
}

// Handle is an opaque {type, generation, index} identity for a pooled entity.
// Two handles are equal when all three fields match.
type Handle struct {
	Type       Type
	Generation uint32
	Index      uint32
}

// Invalid is the zero handle. It never validates against a registry.
var Invalid = Handle{}

// IsNil reports whether h carries no type, i.e. was never issued.
func (h Handle) IsNil() bool {
	return h.Type == TypeInvalid
}

// String renders the handle for logs.
func (h Handle) String() string {
	return fmt.Sprintf("%s(%d:%d)", h.Type, h.Index, h.Generation)
}
