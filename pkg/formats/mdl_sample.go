package formats

import (
	"bytes"
	"encoding/binary"
)

// Sample vertex layout: position xyz + uv.
const (
	SampleVertexStride = 5 * 4
	SampleIndexStride  = 2
)

// SampleModel builds a model of n unit quads laid out along +X, plus the
// companion blob it references. Node 0 is a mesh-less root with a single
// child carrying the quad mesh.
func SampleModel(blobName string, n int) (*Model, []byte) {
	if n < 1 {
		n = 1
	}
	var blob bytes.Buffer
	m := &Model{BinaryFile: blobName}

	indices := []uint16{0, 1, 2, 2, 3, 0}
	mesh := ModelMesh{Name: "quads"}

	for i := 0; i < n; i++ {
		x := float32(i) * 1.5
		vertices := [][5]float32{
			{x, 0, 0, 0, 0},
			{x + 1, 0, 0, 1, 0},
			{x + 1, 1, 0, 1, 1},
			{x, 1, 0, 0, 1},
		}

		p := ModelPrimitive{
			BaseOffset:   uint64(blob.Len()),
			IndexCount:   uint32(len(indices)),
			IndexStride:  SampleIndexStride,
			VertexCount:  uint32(len(vertices)),
			VertexStride: SampleVertexStride,
			Min:          [3]float32{x, 0, 0},
			Max:          [3]float32{x + 1, 1, 0},
		}
		_ = binary.Write(&blob, binary.LittleEndian, indices)
		_ = binary.Write(&blob, binary.LittleEndian, vertices)

		mesh.Primitives = append(mesh.Primitives, int32(len(m.Primitives)))
		m.Primitives = append(m.Primitives, p)
	}

	m.Meshes = []ModelMesh{mesh}
	m.Nodes = []ModelNode{
		{
			Name:     "root",
			Parent:   NoIndex,
			Children: []int32{1},
			Scale:    [3]float32{1, 1, 1},
			Rotation: [4]float32{0, 0, 0, 1},
			Mesh:     NoIndex,
		},
		{
			Name:     "quads",
			Parent:   0,
			Scale:    [3]float32{1, 1, 1},
			Rotation: [4]float32{0, 0, 0, 1},
			Mesh:     0,
		},
	}
	m.Scenes = []ModelScene{{Roots: []int32{0}}}
	return m, blob.Bytes()
}
