package asset

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/maple/internal/engine/handle"
	"github.com/Faultbox/maple/pkg/formats"
)

// NoIndex marks an absent parent or mesh.
const NoIndex = -1

// Primitive is one drawable range uploaded to the resource layer.
type Primitive struct {
	VertexBuffer handle.Handle
	IndexBuffer  handle.Handle // handle.Invalid when not indexed

	IndexCount   uint32
	IndexStride  uint32
	VertexCount  uint32
	VertexStride uint32
	Indexed      bool
	Skinned      bool

	Min, Max mgl32.Vec3
}

// DrawCount is the element count for a draw of this primitive.
func (p *Primitive) DrawCount() uint32 {
	if p.Indexed {
		return p.IndexCount
	}
	return p.VertexCount
}

// Mesh groups primitives by index into Model.Primitives.
type Mesh struct {
	Name       string
	Primitives []int
}

// Node is one scene node. Parent, Children and Mesh index into the owning
// model's arrays; Parent and Mesh are NoIndex when absent.
type Node struct {
	Name        string
	Parent      int
	Children    []int
	Translation mgl32.Vec3
	Scale       mgl32.Vec3
	Rotation    mgl32.Quat
	Mesh        int
}

// Model owns its primitives, meshes and nodes as one unit.
type Model struct {
	Primitives []Primitive
	Meshes     []Mesh
	Nodes      []Node
	RootNodes  []int
}

// LocalMatrix returns node i's transform relative to its parent.
func (m *Model) LocalMatrix(i int) mgl32.Mat4 {
	n := &m.Nodes[i]
	t := mgl32.Translate3D(n.Translation.X(), n.Translation.Y(), n.Translation.Z())
	r := n.Rotation.Normalize().Mat4()
	s := mgl32.Scale3D(n.Scale.X(), n.Scale.Y(), n.Scale.Z())
	return t.Mul4(r).Mul4(s)
}

// WorldMatrix returns node i's transform in model space.
func (m *Model) WorldMatrix(i int) mgl32.Mat4 {
	world := m.LocalMatrix(i)
	// Parent chains are validated acyclic at load.
	for p := m.Nodes[i].Parent; p != NoIndex; p = m.Nodes[p].Parent {
		world = m.LocalMatrix(p).Mul4(world)
	}
	return world
}

// Walk visits every node reachable from the roots depth-first, parents
// before children, passing each node's model-space transform. Returning
// false from fn skips that node's subtree.
func (m *Model) Walk(fn func(i int, n *Node, world mgl32.Mat4) bool) {
	var visit func(i int, parent mgl32.Mat4)
	visit = func(i int, parent mgl32.Mat4) {
		world := parent.Mul4(m.LocalMatrix(i))
		if !fn(i, &m.Nodes[i], world) {
			return
		}
		for _, c := range m.Nodes[i].Children {
			visit(c, world)
		}
	}
	for _, r := range m.RootNodes {
		visit(r, mgl32.Ident4())
	}
}

// newModel converts a parsed file into arena form. Buffers are filled in by
// the manager during upload.
func newModel(f *formats.Model) *Model {
	m := &Model{
		Primitives: make([]Primitive, len(f.Primitives)),
		Meshes:     make([]Mesh, len(f.Meshes)),
		Nodes:      make([]Node, len(f.Nodes)),
	}

	for i, p := range f.Primitives {
		m.Primitives[i] = Primitive{
			IndexCount:   p.IndexCount,
			IndexStride:  p.IndexStride,
			VertexCount:  p.VertexCount,
			VertexStride: p.VertexStride,
			Indexed:      p.IsIndexed(),
			Skinned:      p.Skinned,
			Min:          mgl32.Vec3(p.Min),
			Max:          mgl32.Vec3(p.Max),
		}
	}

	for i, mesh := range f.Meshes {
		m.Meshes[i] = Mesh{Name: mesh.Name, Primitives: toInts(mesh.Primitives)}
	}

	for i, n := range f.Nodes {
		m.Nodes[i] = Node{
			Name:        n.Name,
			Parent:      int(n.Parent),
			Children:    toInts(n.Children),
			Translation: mgl32.Vec3(n.Translation),
			Scale:       mgl32.Vec3(n.Scale),
			Rotation:    mgl32.Quat{W: n.Rotation[3], V: mgl32.Vec3{n.Rotation[0], n.Rotation[1], n.Rotation[2]}},
			Mesh:        int(n.Mesh),
		}
	}

	m.RootNodes = toInts(f.RootNodes())
	return m
}

func toInts(in []int32) []int {
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = int(v)
	}
	return out
}

// Bounds returns the union of every primitive's box in mesh space. Node
// transforms are not applied. An empty model has zero bounds.
func (m *Model) Bounds() (min, max mgl32.Vec3) {
	for i := range m.Primitives {
		p := &m.Primitives[i]
		if i == 0 {
			min, max = p.Min, p.Max
			continue
		}
		for k := 0; k < 3; k++ {
			if p.Min[k] < min[k] {
				min[k] = p.Min[k]
			}
			if p.Max[k] > max[k] {
				max[k] = p.Max[k]
			}
		}
	}
	return min, max
}
