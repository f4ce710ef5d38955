// Package formats provides the codec for binary model (.mdl) files.
package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MDL format errors. ErrTruncatedModel wraps ErrMalformedModel so callers can
// test for either.
var (
	ErrMalformedModel = errors.New("malformed model")
	ErrTruncatedModel = fmt.Errorf("%w: truncated data", ErrMalformedModel)
)

// NoIndex marks an absent parent or mesh reference.
const NoIndex int32 = -1

// Minimum encoded sizes, used to reject counts larger than the input.
const (
	primitiveSize = 8 + 4*4 + 1 + 6*4
	meshMinSize   = 4 + 8
	nodeMinSize   = 4 + 4 + 8 + 10*4 + 4
	sceneMinSize  = 4
	maxStringLen  = 1 << 16
)

// ModelPrimitive is one drawable range of the companion data blob.
// Index data starts at BaseOffset and vertex data follows it directly.
type ModelPrimitive struct {
	BaseOffset   uint64
	IndexCount   uint32
	IndexStride  uint32
	VertexCount  uint32
	VertexStride uint32
	Skinned      bool
	Min          [3]float32
	Max          [3]float32
}

// IsIndexed reports whether the primitive carries index data.
func (p *ModelPrimitive) IsIndexed() bool {
	return p.IndexCount > 0
}

// IndicesOffset returns the blob offset of the index data.
func (p *ModelPrimitive) IndicesOffset() uint64 {
	return p.BaseOffset
}

// IndexBytes returns the size of the index data.
func (p *ModelPrimitive) IndexBytes() uint64 {
	return uint64(p.IndexCount) * uint64(p.IndexStride)
}

// VerticesOffset returns the blob offset of the vertex data.
func (p *ModelPrimitive) VerticesOffset() uint64 {
	return p.BaseOffset + p.IndexBytes()
}

// VertexBytes returns the size of the vertex data.
func (p *ModelPrimitive) VertexBytes() uint64 {
	return uint64(p.VertexCount) * uint64(p.VertexStride)
}

// ModelMesh groups primitives by index.
type ModelMesh struct {
	Name       string
	Primitives []int32
}

// ModelNode is one scene node. Parent and Mesh are NoIndex when absent.
type ModelNode struct {
	Name        string
	Parent      int32
	Children    []int32
	Translation [3]float32
	Scale       [3]float32
	Rotation    [4]float32 // quaternion xyzw
	Mesh        int32
}

// ModelScene lists the disjoint roots of one scene.
type ModelScene struct {
	Roots []int32
}

// Model is a parsed .mdl file.
type Model struct {
	BinaryFile string
	Primitives []ModelPrimitive
	Meshes     []ModelMesh
	Nodes      []ModelNode
	Scenes     []ModelScene
}

// RootNodes returns the roots of every scene in file order. A node shared by
// several scenes is listed once.
func (m *Model) RootNodes() []int32 {
	var n int
	for _, s := range m.Scenes {
		n += len(s.Roots)
	}
	roots := make([]int32, 0, n)
	seen := make(map[int32]struct{}, n)
	for _, s := range m.Scenes {
		for _, r := range s.Roots {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			roots = append(roots, r)
		}
	}
	return roots
}

// ParseModel parses and validates a .mdl file from raw bytes.
// Every section is read once, front to back.
func ParseModel(data []byte) (*Model, error) {
	r := &mdlReader{r: bytes.NewReader(data)}
	m := &Model{}

	m.BinaryFile = r.string()

	primCount := r.count(primitiveSize)
	if r.err == nil {
		m.Primitives = make([]ModelPrimitive, primCount)
	}
	for i := range m.Primitives {
		p := &m.Primitives[i]
		p.BaseOffset = r.u64()
		p.IndexCount = r.u32()
		p.IndexStride = r.u32()
		p.VertexCount = r.u32()
		p.VertexStride = r.u32()
		p.Skinned = r.bool()
		p.Min = r.vec3()
		p.Max = r.vec3()
	}

	meshCount := r.count(meshMinSize)
	if r.err == nil {
		m.Meshes = make([]ModelMesh, meshCount)
	}
	for i := range m.Meshes {
		mesh := &m.Meshes[i]
		mesh.Name = r.string()
		mesh.Primitives = r.indices(r.u64())
	}

	nodeCount := r.count(nodeMinSize)
	if r.err == nil {
		m.Nodes = make([]ModelNode, nodeCount)
	}
	for i := range m.Nodes {
		node := &m.Nodes[i]
		node.Name = r.string()
		node.Parent = r.i32()
		node.Children = r.indices(r.u64())
		node.Translation = r.vec3()
		node.Scale = r.vec3()
		node.Rotation = r.vec4()
		node.Mesh = r.i32()
	}

	sceneCount := r.count(sceneMinSize)
	if r.err == nil {
		m.Scenes = make([]ModelScene, sceneCount)
	}
	for i := range m.Scenes {
		m.Scenes[i].Roots = r.indices(uint64(r.u32()))
	}

	if r.err != nil {
		return nil, r.err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks every cross reference in the model.
func (m *Model) Validate() error {
	nPrim := int32(len(m.Primitives))
	nMesh := int32(len(m.Meshes))
	nNode := int32(len(m.Nodes))

	for i, p := range m.Primitives {
		if p.IndexCount > 0 && p.IndexStride != 1 && p.IndexStride != 2 && p.IndexStride != 4 {
			return fmt.Errorf("%w: primitive %d index stride %d", ErrMalformedModel, i, p.IndexStride)
		}
		if p.VertexCount > 0 && p.VertexStride == 0 {
			return fmt.Errorf("%w: primitive %d has vertices but zero stride", ErrMalformedModel, i)
		}
	}

	for i, mesh := range m.Meshes {
		for _, idx := range mesh.Primitives {
			if idx < 0 || idx >= nPrim {
				return fmt.Errorf("%w: mesh %d references primitive %d of %d", ErrMalformedModel, i, idx, nPrim)
			}
		}
	}

	for i, node := range m.Nodes {
		if node.Parent != NoIndex && (node.Parent < 0 || node.Parent >= nNode) {
			return fmt.Errorf("%w: node %d parent %d of %d", ErrMalformedModel, i, node.Parent, nNode)
		}
		if node.Mesh != NoIndex && (node.Mesh < 0 || node.Mesh >= nMesh) {
			return fmt.Errorf("%w: node %d mesh %d of %d", ErrMalformedModel, i, node.Mesh, nMesh)
		}
		for _, c := range node.Children {
			if c < 0 || c >= nNode || c == int32(i) {
				return fmt.Errorf("%w: node %d child %d of %d", ErrMalformedModel, i, c, nNode)
			}
			if m.Nodes[c].Parent != int32(i) {
				return fmt.Errorf("%w: node %d lists child %d whose parent is %d", ErrMalformedModel, i, c, m.Nodes[c].Parent)
			}
		}
	}

	if err := m.checkParentCycles(); err != nil {
		return err
	}

	// seen holds the scene index + 1 that last listed a node as root.
	seen := make([]int, nNode)
	for s, scene := range m.Scenes {
		for _, root := range scene.Roots {
			if root < 0 || root >= nNode {
				return fmt.Errorf("%w: scene %d root %d of %d", ErrMalformedModel, s, root, nNode)
			}
			if p := m.Nodes[root].Parent; p != NoIndex {
				return fmt.Errorf("%w: scene %d root %d has parent %d", ErrMalformedModel, s, root, p)
			}
			if seen[root] == s+1 {
				return fmt.Errorf("%w: scene %d lists root %d twice", ErrMalformedModel, s, root)
			}
			seen[root] = s + 1
		}
	}
	return nil
}

// checkParentCycles verifies every parent chain terminates. Each node is
// walked at most once.
func (m *Model) checkParentCycles() error {
	const (
		unvisited = iota
		walking
		done
	)
	state := make([]uint8, len(m.Nodes))
	var path []int32
	for i := range m.Nodes {
		path = path[:0]
		for n := int32(i); n != NoIndex && state[n] != done; n = m.Nodes[n].Parent {
			if state[n] == walking {
				return fmt.Errorf("%w: node %d is part of a parent cycle", ErrMalformedModel, n)
			}
			state[n] = walking
			path = append(path, n)
		}
		for _, n := range path {
			state[n] = done
		}
	}
	return nil
}

// ValidateBlob checks that every primitive's index and vertex ranges lie
// within a companion blob of blobSize bytes.
func (m *Model) ValidateBlob(blobSize uint64) error {
	for i := range m.Primitives {
		p := &m.Primitives[i]
		if !inRange(p.IndicesOffset(), p.IndexBytes(), blobSize) {
			return fmt.Errorf("%w: primitive %d index range %d+%d exceeds %d byte blob",
				ErrMalformedModel, i, p.IndicesOffset(), p.IndexBytes(), blobSize)
		}
		// The index check bounds BaseOffset+IndexBytes, so VerticesOffset cannot overflow.
		if !inRange(p.VerticesOffset(), p.VertexBytes(), blobSize) {
			return fmt.Errorf("%w: primitive %d vertex range %d+%d exceeds %d byte blob",
				ErrMalformedModel, i, p.VerticesOffset(), p.VertexBytes(), blobSize)
		}
	}
	return nil
}

func inRange(off, n, size uint64) bool {
	return off <= size && n <= size-off
}

// mdlReader is a sticky-error little-endian cursor. After the first failure
// every read returns zero values and err holds the cause.
type mdlReader struct {
	r   *bytes.Reader
	err error
}

func (r *mdlReader) read(v any) {
	if r.err != nil {
		return
	}
	if err := binary.Read(r.r, binary.LittleEndian, v); err != nil {
		r.err = ErrTruncatedModel
	}
}

func (r *mdlReader) u32() uint32 {
	var v uint32
	r.read(&v)
	return v
}

func (r *mdlReader) i32() int32 {
	var v int32
	r.read(&v)
	return v
}

func (r *mdlReader) u64() uint64 {
	var v uint64
	r.read(&v)
	return v
}

func (r *mdlReader) bool() bool {
	var v uint8
	r.read(&v)
	return v != 0
}

func (r *mdlReader) vec3() [3]float32 {
	var v [3]float32
	r.read(&v)
	return v
}

func (r *mdlReader) vec4() [4]float32 {
	var v [4]float32
	r.read(&v)
	return v
}

func (r *mdlReader) string() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if n > maxStringLen || int64(n) > int64(r.r.Len()) {
		r.err = fmt.Errorf("%w: string length %d", ErrTruncatedModel, n)
		return ""
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		r.err = ErrTruncatedModel
		return ""
	}
	return string(buf)
}

// count reads an int32 section count and rejects negative values and counts
// that cannot fit in the remaining input.
func (r *mdlReader) count(minSize int) int {
	n := r.i32()
	if r.err != nil {
		return 0
	}
	if n < 0 {
		r.err = fmt.Errorf("%w: negative count %d", ErrMalformedModel, n)
		return 0
	}
	if int64(n)*int64(minSize) > int64(r.r.Len()) {
		r.err = fmt.Errorf("%w: count %d exceeds remaining %d bytes", ErrTruncatedModel, n, r.r.Len())
		return 0
	}
	return int(n)
}

// indices reads n int32 values.
func (r *mdlReader) indices(n uint64) []int32 {
	if r.err != nil {
		return nil
	}
	if n > uint64(r.r.Len())/4 {
		r.err = fmt.Errorf("%w: index list of %d exceeds remaining %d bytes", ErrTruncatedModel, n, r.r.Len())
		return nil
	}
	out := make([]int32, n)
	r.read(out)
	return out
}
