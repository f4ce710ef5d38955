package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// createTestModel builds two primitives, one mesh referencing both, and a
// root node with two children. Only the second child carries the mesh.
func createTestModel() *Model {
	identity := [4]float32{0, 0, 0, 1}
	one := [3]float32{1, 1, 1}
	return &Model{
		BinaryFile: "crate.bin",
		Primitives: []ModelPrimitive{
			{BaseOffset: 0, IndexCount: 6, IndexStride: 2, VertexCount: 4, VertexStride: 12,
				Min: [3]float32{-1, -1, 0}, Max: [3]float32{1, 1, 0}},
			{BaseOffset: 60, VertexCount: 3, VertexStride: 12, Skinned: true},
		},
		Meshes: []ModelMesh{
			{Name: "crate", Primitives: []int32{0, 1}},
		},
		Nodes: []ModelNode{
			{Name: "root", Parent: NoIndex, Children: []int32{1, 2}, Scale: one, Rotation: identity, Mesh: NoIndex},
			{Name: "lid", Parent: 0, Translation: [3]float32{0, 1, 0}, Scale: one, Rotation: identity, Mesh: NoIndex},
			{Name: "body", Parent: 0, Scale: one, Rotation: identity, Mesh: 0},
		},
		Scenes: []ModelScene{{Roots: []int32{0}}},
	}
}

func encode(t *testing.T, m *Model) []byte {
	t.Helper()
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	return data
}

func TestParseModel_Structure(t *testing.T) {
	m, err := ParseModel(encode(t, createTestModel()))
	if err != nil {
		t.Fatalf("ParseModel failed: %v", err)
	}

	if m.BinaryFile != "crate.bin" {
		t.Errorf("expected binary file 'crate.bin', got %q", m.BinaryFile)
	}
	if len(m.Primitives) != 2 {
		t.Fatalf("expected 2 primitives, got %d", len(m.Primitives))
	}
	if len(m.Meshes) != 1 || len(m.Meshes[0].Primitives) != 2 {
		t.Fatalf("expected 1 mesh with 2 primitives, got %+v", m.Meshes)
	}
	if m.Meshes[0].Primitives[0] != 0 || m.Meshes[0].Primitives[1] != 1 {
		t.Errorf("mesh primitive indices = %v, want [0 1]", m.Meshes[0].Primitives)
	}

	roots := m.RootNodes()
	if len(roots) != 1 || roots[0] != 0 {
		t.Fatalf("expected root [0], got %v", roots)
	}
	root := m.Nodes[roots[0]]
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Children))
	}
	for _, c := range root.Children {
		if m.Nodes[c].Parent != roots[0] {
			t.Errorf("child %d parent = %d, want %d", c, m.Nodes[c].Parent, roots[0])
		}
	}
	if root.Mesh != NoIndex {
		t.Errorf("root mesh = %d, want none", root.Mesh)
	}
	if m.Nodes[1].Translation[1] != 1 {
		t.Errorf("lid translation = %v", m.Nodes[1].Translation)
	}
}

func TestParseModel_PrimitiveOffsets(t *testing.T) {
	m, err := ParseModel(encode(t, createTestModel()))
	if err != nil {
		t.Fatalf("ParseModel failed: %v", err)
	}

	tests := []struct {
		name        string
		prim        ModelPrimitive
		indexed     bool
		indicesOff  uint64
		verticesOff uint64
		vertexBytes uint64
	}{
		{"indexed", m.Primitives[0], true, 0, 12, 48},
		{"non-indexed", m.Primitives[1], false, 60, 60, 36},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prim.IsIndexed() != tt.indexed {
				t.Errorf("IsIndexed() = %v, want %v", tt.prim.IsIndexed(), tt.indexed)
			}
			if tt.prim.IndicesOffset() != tt.indicesOff {
				t.Errorf("IndicesOffset() = %d, want %d", tt.prim.IndicesOffset(), tt.indicesOff)
			}
			if tt.prim.VerticesOffset() != tt.verticesOff {
				t.Errorf("VerticesOffset() = %d, want %d", tt.prim.VerticesOffset(), tt.verticesOff)
			}
			if tt.prim.VertexBytes() != tt.vertexBytes {
				t.Errorf("VertexBytes() = %d, want %d", tt.prim.VertexBytes(), tt.vertexBytes)
			}
		})
	}
	if !m.Primitives[1].Skinned {
		t.Error("expected second primitive to be skinned")
	}
}

func TestParseModel_MultipleScenes(t *testing.T) {
	m := createTestModel()
	m.Nodes = append(m.Nodes, ModelNode{Name: "light", Parent: NoIndex, Mesh: NoIndex})
	m.Scenes = []ModelScene{{Roots: []int32{0}}, {Roots: []int32{3}}, {}}

	parsed, err := ParseModel(encode(t, m))
	if err != nil {
		t.Fatalf("ParseModel failed: %v", err)
	}
	roots := parsed.RootNodes()
	if len(roots) != 2 || roots[0] != 0 || roots[1] != 3 {
		t.Errorf("RootNodes() = %v, want [0 3]", roots)
	}
}

func TestParseModel_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Model)
	}{
		{"mesh primitive out of range", func(m *Model) { m.Meshes[0].Primitives[1] = 2 }},
		{"negative mesh primitive", func(m *Model) { m.Meshes[0].Primitives[0] = -1 }},
		{"child out of range", func(m *Model) { m.Nodes[0].Children[0] = 7 }},
		{"child parent mismatch", func(m *Model) { m.Nodes[2].Parent = 1 }},
		{"parent out of range", func(m *Model) { m.Nodes[1].Parent = 3 }},
		{"node mesh out of range", func(m *Model) { m.Nodes[2].Mesh = 1 }},
		{"root out of range", func(m *Model) { m.Scenes[0].Roots[0] = 3 }},
		{"bad index stride", func(m *Model) { m.Primitives[0].IndexStride = 3 }},
		{"zero vertex stride", func(m *Model) { m.Primitives[1].VertexStride = 0 }},
		{"parent cycle", func(m *Model) {
			m.Nodes[0].Children = nil
			m.Nodes[1].Parent = 2
			m.Nodes[2].Parent = 1
		}},
		{"self parent", func(m *Model) {
			m.Nodes[0].Children = []int32{2}
			m.Nodes[1].Parent = 1
		}},
		{"root with parent", func(m *Model) { m.Scenes[0].Roots = []int32{0, 1} }},
		{"root listed twice", func(m *Model) { m.Scenes[0].Roots = []int32{0, 0} }},
		{"child listed as root in second scene", func(m *Model) {
			m.Scenes = append(m.Scenes, ModelScene{Roots: []int32{2}})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := createTestModel()
			tt.mutate(m)
			_, err := ParseModel(encode(t, m))
			if !errors.Is(err, ErrMalformedModel) {
				t.Errorf("expected ErrMalformedModel, got %v", err)
			}
		})
	}
}

func TestParseModel_SharedRootAcrossScenes(t *testing.T) {
	m := createTestModel()
	m.Scenes = append(m.Scenes, ModelScene{Roots: []int32{0}})

	got, err := ParseModel(encode(t, m))
	if err != nil {
		t.Fatalf("ParseModel failed: %v", err)
	}
	if len(got.Scenes) != 2 || got.Scenes[1].Roots[0] != 0 {
		t.Errorf("scenes = %+v", got.Scenes)
	}
	if roots := got.RootNodes(); len(roots) != 1 || roots[0] != 0 {
		t.Errorf("RootNodes() = %v, want [0]", roots)
	}
}

func TestValidate_DeepParentChain(t *testing.T) {
	const depth = 50000
	identity := [4]float32{0, 0, 0, 1}
	one := [3]float32{1, 1, 1}

	m := &Model{Nodes: make([]ModelNode, depth), Scenes: []ModelScene{{Roots: []int32{0}}}}
	for i := range m.Nodes {
		m.Nodes[i] = ModelNode{Parent: int32(i) - 1, Scale: one, Rotation: identity, Mesh: NoIndex}
		if i+1 < depth {
			m.Nodes[i].Children = []int32{int32(i) + 1}
		}
	}
	m.Nodes[0].Parent = NoIndex
	if err := m.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}

	// Close the chain into a loop at the far end.
	m.Nodes[depth-1].Children = []int32{1}
	m.Nodes[0].Children = nil
	m.Nodes[1].Parent = depth - 1
	if err := m.Validate(); !errors.Is(err, ErrMalformedModel) {
		t.Errorf("expected ErrMalformedModel for a cycle, got %v", err)
	}
}

func TestParseModel_Truncated(t *testing.T) {
	data := encode(t, createTestModel())

	for _, n := range []int{0, 3, 10, len(data) / 2, len(data) - 1} {
		_, err := ParseModel(data[:n])
		if !errors.Is(err, ErrTruncatedModel) {
			t.Errorf("ParseModel(data[:%d]): expected ErrTruncatedModel, got %v", n, err)
		}
		if !errors.Is(err, ErrMalformedModel) {
			t.Errorf("ParseModel(data[:%d]): truncation should also be malformed", n)
		}
	}
}

func TestParseModel_NegativeCount(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(0)) // empty filename
	binary.Write(buf, binary.LittleEndian, int32(-2)) // primitive count

	_, err := ParseModel(buf.Bytes())
	if !errors.Is(err, ErrMalformedModel) {
		t.Errorf("expected ErrMalformedModel, got %v", err)
	}
}

func TestParseModel_HugeCount(t *testing.T) {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(0))
	binary.Write(buf, binary.LittleEndian, int32(1<<30))

	_, err := ParseModel(buf.Bytes())
	if !errors.Is(err, ErrTruncatedModel) {
		t.Errorf("expected ErrTruncatedModel, got %v", err)
	}
}

func TestValidateBlob(t *testing.T) {
	m := createTestModel()

	tests := []struct {
		name    string
		size    uint64
		wantErr bool
	}{
		{"exact fit", 96, false},
		{"larger blob", 200, false},
		{"vertex range short", 95, true},
		{"index range short", 8, true},
		{"empty", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ValidateBlob(tt.size)
			if tt.wantErr && !errors.Is(err, ErrMalformedModel) {
				t.Errorf("expected ErrMalformedModel, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	m.Primitives[1].BaseOffset = ^uint64(0) - 4
	if err := m.ValidateBlob(1 << 20); !errors.Is(err, ErrMalformedModel) {
		t.Errorf("offset near max: expected ErrMalformedModel, got %v", err)
	}
}

func TestSampleModel(t *testing.T) {
	m, blob := SampleModel("quads.bin", 3)

	parsed, err := ParseModel(encode(t, m))
	if err != nil {
		t.Fatalf("ParseModel failed: %v", err)
	}
	if len(parsed.Primitives) != 3 {
		t.Errorf("expected 3 primitives, got %d", len(parsed.Primitives))
	}
	if err := parsed.ValidateBlob(uint64(len(blob))); err != nil {
		t.Errorf("sample blob does not cover primitives: %v", err)
	}
	wantBlob := 3 * (6*SampleIndexStride + 4*SampleVertexStride)
	if len(blob) != wantBlob {
		t.Errorf("blob size = %d, want %d", len(blob), wantBlob)
	}
}
