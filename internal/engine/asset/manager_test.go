package asset

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/handle"
	"github.com/Faultbox/maple/internal/engine/registry"
	"github.com/Faultbox/maple/internal/engine/resource"
	"github.com/Faultbox/maple/pkg/formats"
)

type testEnv struct {
	assets  *Manager
	res     *resource.Manager
	backend *gpu.Headless
	src     *MemSource
}

func newTestEnv(t *testing.T, resCfg resource.Config) *testEnv {
	t.Helper()
	backend := gpu.NewHeadless(gpu.DefaultUniformAlignment, nil)
	if resCfg.ObjectCapacity == 0 {
		resCfg.ObjectCapacity = 4
	}
	res, err := resource.New(resCfg, backend, nil)
	if err != nil {
		t.Fatalf("resource.New failed: %v", err)
	}
	src := NewMemSource()
	return &testEnv{
		assets:  NewManager(Config{}, res, src, nil),
		res:     res,
		backend: backend,
		src:     src,
	}
}

// createTestModelFile builds a root node with two children over one mesh of
// two primitives, and the blob both primitives live in.
func createTestModelFile(t *testing.T) ([]byte, []byte) {
	t.Helper()
	identity := [4]float32{0, 0, 0, 1}
	one := [3]float32{1, 1, 1}
	m := &formats.Model{
		BinaryFile: "crate.bin",
		Primitives: []formats.ModelPrimitive{
			{BaseOffset: 0, IndexCount: 6, IndexStride: 2, VertexCount: 4, VertexStride: 12},
			{BaseOffset: 60, VertexCount: 3, VertexStride: 12},
		},
		Meshes: []formats.ModelMesh{{Name: "crate", Primitives: []int32{0, 1}}},
		Nodes: []formats.ModelNode{
			{Name: "root", Parent: formats.NoIndex, Children: []int32{1, 2}, Scale: one, Rotation: identity, Mesh: formats.NoIndex},
			{Name: "lid", Parent: 0, Translation: [3]float32{0, 1, 0}, Scale: one, Rotation: identity, Mesh: formats.NoIndex},
			{Name: "body", Parent: 0, Scale: one, Rotation: identity, Mesh: 0},
		},
		Scenes: []formats.ModelScene{{Roots: []int32{0}}},
	}
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	blob := make([]byte, 96)
	for i := range blob {
		blob[i] = byte(i)
	}
	return data, blob
}

func (e *testEnv) addSample(t *testing.T, name, blobName string, quads int) {
	t.Helper()
	m, blob := formats.SampleModel(blobName, quads)
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	e.src.Set(name, data)
	e.src.Set("models/"+blobName, blob)
}

func TestLoadModel(t *testing.T) {
	env := newTestEnv(t, resource.Config{})
	data, blob := createTestModelFile(t)
	env.src.Set("models/crate.mdl", data)
	env.src.Set("models/crate.bin", blob)

	h, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/crate.mdl"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if h.Type != handle.TypeModel {
		t.Errorf("handle type = %s, want model", h.Type)
	}

	m, err := env.assets.Model(h)
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	if len(m.RootNodes) != 1 {
		t.Fatalf("expected 1 root node, got %d", len(m.RootNodes))
	}
	root := m.Nodes[m.RootNodes[0]]
	if len(root.Children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(root.Children))
	}
	for _, c := range root.Children {
		if m.Nodes[c].Parent != m.RootNodes[0] {
			t.Errorf("child %d parent = %d, want %d", c, m.Nodes[c].Parent, m.RootNodes[0])
		}
	}
	if len(m.Meshes[0].Primitives) != 2 {
		t.Errorf("expected mesh with 2 primitives, got %d", len(m.Meshes[0].Primitives))
	}

	tests := []struct {
		name      string
		prim      Primitive
		indexed   bool
		indexData []byte
		vertData  []byte
		drawCount uint32
	}{
		{"indexed", m.Primitives[0], true, blob[0:12], blob[12:60], 6},
		{"non-indexed", m.Primitives[1], false, nil, blob[60:96], 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.prim.Indexed != tt.indexed {
				t.Errorf("Indexed = %v, want %v", tt.prim.Indexed, tt.indexed)
			}
			if tt.prim.DrawCount() != tt.drawCount {
				t.Errorf("DrawCount() = %d, want %d", tt.prim.DrawCount(), tt.drawCount)
			}
			if tt.indexed {
				obj, err := env.res.Buffer(tt.prim.IndexBuffer)
				if err != nil {
					t.Fatalf("index buffer: %v", err)
				}
				got, _ := env.backend.BufferData(obj)
				if !bytes.Equal(got, tt.indexData) {
					t.Errorf("index data = %v, want %v", got, tt.indexData)
				}
			} else if !tt.prim.IndexBuffer.IsNil() {
				t.Errorf("non-indexed primitive has index buffer %s", tt.prim.IndexBuffer)
			}
			obj, err := env.res.Buffer(tt.prim.VertexBuffer)
			if err != nil {
				t.Fatalf("vertex buffer: %v", err)
			}
			got, _ := env.backend.BufferData(obj)
			if !bytes.Equal(got, tt.vertData) {
				t.Errorf("vertex data = %v, want %v", got, tt.vertData)
			}
		})
	}
}

func TestLoadModel_Deduplicates(t *testing.T) {
	env := newTestEnv(t, resource.Config{})
	env.addSample(t, "models/quads.mdl", "quads.bin", 1)

	h1, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	h2, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"})
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if h1 != h2 {
		t.Errorf("expected same handle, got %s and %s", h1, h2)
	}
	if env.assets.Count() != 1 {
		t.Errorf("Count() = %d, want 1", env.assets.Count())
	}

	// A freed name loads fresh.
	if err := env.assets.Free(h1); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	h3, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"})
	if err != nil {
		t.Fatalf("Load after Free failed: %v", err)
	}
	if h3 == h1 {
		t.Error("reloaded asset reused the stale handle")
	}
}

func TestLoadModel_Errors(t *testing.T) {
	data, blob := createTestModelFile(t)

	tests := []struct {
		name    string
		files   map[string][]byte
		wantErr error
	}{
		{"missing file", map[string][]byte{}, ErrNotFound},
		{"missing blob", map[string][]byte{"models/crate.mdl": data}, ErrNotFound},
		{"garbage", map[string][]byte{"models/crate.mdl": {1, 2, 3}}, ErrMalformedAsset},
		{"short blob", map[string][]byte{"models/crate.mdl": data, "models/crate.bin": blob[:90]}, ErrMalformedAsset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, resource.Config{})
			for name, b := range tt.files {
				env.src.Set(name, b)
			}
			before := env.res.Count()

			h, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/crate.mdl"})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if !h.IsNil() {
				t.Errorf("expected invalid handle, got %s", h)
			}
			if env.assets.Count() != 0 {
				t.Errorf("asset published despite error")
			}
			if env.res.Count() != before {
				t.Errorf("resource count = %d, want %d", env.res.Count(), before)
			}
		})
	}
}

func TestLoadModel_ReleasesOnUploadFailure(t *testing.T) {
	// Object uniform plus one primitive's two buffers fill the registry.
	env := newTestEnv(t, resource.Config{InitialCapacity: 2, MaxCapacity: 3})
	env.addSample(t, "models/quads.mdl", "quads.bin", 2)

	_, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"})
	if !errors.Is(err, registry.ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if env.res.Count() != 1 {
		t.Errorf("resource count = %d, want 1", env.res.Count())
	}
	if buffers, _, _ := env.backend.LiveObjects(); buffers != 1 {
		t.Errorf("live backend buffers = %d, want 1", buffers)
	}
	if env.assets.Count() != 0 {
		t.Errorf("asset published despite error")
	}
}

func TestLoad_UnknownType(t *testing.T) {
	env := newTestEnv(t, resource.Config{})

	tests := []struct {
		name   string
		typ    handle.Type
		params any
	}{
		{"resource type", handle.TypeVertexBuffer, ModelParams{Filename: "a.mdl"}},
		{"mismatched params", handle.TypeModel, MaterialParams{Filename: "a.toml"}},
		{"nil params", handle.TypeMaterial, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.assets.Load(tt.typ, tt.params)
			if !errors.Is(err, ErrUnknownAssetType) {
				t.Errorf("expected ErrUnknownAssetType, got %v", err)
			}
		})
	}
}

func TestGetList(t *testing.T) {
	env := newTestEnv(t, resource.Config{})
	env.addSample(t, "models/a.mdl", "a.bin", 1)
	env.addSample(t, "models/b.mdl", "b.bin", 2)
	env.src.Set("materials/flat.vert", []byte("void main() {}"))
	env.src.Set("materials/flat.frag", []byte("void main() {}"))

	for _, name := range []string{"models/a.mdl", "models/b.mdl"} {
		if _, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: name}); err != nil {
			t.Fatalf("Load(%s) failed: %v", name, err)
		}
	}
	def := &MaterialDef{Name: "flat", VertexShader: "flat.vert", FragmentShader: "flat.frag", DiffuseColour: [4]float32{1, 1, 1, 1}}
	if _, err := env.assets.Load(handle.TypeMaterial, MaterialParams{Filename: "materials/flat.toml", Def: def}); err != nil {
		t.Fatalf("Load material failed: %v", err)
	}

	models := env.assets.GetList(handle.TypeModel)
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	for _, a := range models {
		if a.Type != handle.TypeModel || a.Model == nil {
			t.Errorf("unexpected asset in model list: %+v", a)
		}
	}
	if all := env.assets.GetList(handle.TypeInvalid); len(all) != 3 {
		t.Errorf("expected 3 assets, got %d", len(all))
	}
}

func TestModelWrongType(t *testing.T) {
	env := newTestEnv(t, resource.Config{})
	env.addSample(t, "models/a.mdl", "a.bin", 1)

	h, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/a.mdl"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := env.assets.Material(h); !errors.Is(err, ErrWrongAssetType) {
		t.Errorf("expected ErrWrongAssetType, got %v", err)
	}
	if err := env.assets.Free(h); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if _, err := env.assets.Model(h); !errors.Is(err, registry.ErrInvalidHandle) {
		t.Errorf("expected ErrInvalidHandle after Free, got %v", err)
	}
	if env.res.Count() != 1 {
		t.Errorf("resource count after Free = %d, want 1", env.res.Count())
	}
}

func TestReload(t *testing.T) {
	env := newTestEnv(t, resource.Config{})
	env.addSample(t, "models/quads.mdl", "quads.bin", 1)

	h, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	old, _ := env.assets.Model(h)
	oldVB := old.Primitives[0].VertexBuffer

	env.addSample(t, "models/quads.mdl", "quads.bin", 3)
	env.assets.RequestReload("models/quads.bin")
	env.assets.RequestReload("models/unrelated.png")

	n, err := env.assets.ProcessReloads()
	if err != nil {
		t.Fatalf("ProcessReloads failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reloaded %d assets, want 1", n)
	}
	if !env.assets.IsValid(h) {
		t.Fatal("handle invalidated by reload")
	}
	m, _ := env.assets.Model(h)
	if len(m.Primitives) != 3 {
		t.Errorf("expected 3 primitives after reload, got %d", len(m.Primitives))
	}
	if env.res.IsValid(oldVB) {
		t.Error("old vertex buffer still alive after reload")
	}
	// Object uniform plus index and vertex buffer per quad.
	if env.res.Count() != 1+2*3 {
		t.Errorf("resource count = %d, want %d", env.res.Count(), 1+2*3)
	}

	if n, err := env.assets.ProcessReloads(); n != 0 || err != nil {
		t.Errorf("empty queue: got %d, %v", n, err)
	}
}

func TestReload_FailureKeepsPrevious(t *testing.T) {
	env := newTestEnv(t, resource.Config{})
	env.addSample(t, "models/quads.mdl", "quads.bin", 2)

	h, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	env.src.Set("models/quads.mdl", []byte{0xff})
	env.assets.RequestReload("models/quads.mdl")
	n, err := env.assets.ProcessReloads()
	if !errors.Is(err, ErrMalformedAsset) {
		t.Errorf("expected ErrMalformedAsset, got %v", err)
	}
	if n != 0 {
		t.Errorf("reloaded %d assets, want 0", n)
	}

	m, err := env.assets.Model(h)
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	if len(m.Primitives) != 2 {
		t.Errorf("expected previous 2 primitives, got %d", len(m.Primitives))
	}
	if !env.res.IsValid(m.Primitives[0].VertexBuffer) {
		t.Error("previous vertex buffer released by failed reload")
	}
}

func TestReloadAll_ReadsFreshFiles(t *testing.T) {
	dir := t.TempDir()
	writeSample := func(quads int) {
		m, blob := formats.SampleModel("quads.bin", quads)
		data, err := m.MarshalBinary()
		if err != nil {
			t.Fatalf("MarshalBinary failed: %v", err)
		}
		writeFile(t, dir, "models/quads.mdl", string(data))
		writeFile(t, dir, "models/quads.bin", string(blob))
	}
	writeSample(1)

	backend := gpu.NewHeadless(gpu.DefaultUniformAlignment, nil)
	res, err := resource.New(resource.Config{ObjectCapacity: 4}, backend, nil)
	if err != nil {
		t.Fatalf("resource.New failed: %v", err)
	}
	src := NewDirSource(dir)
	assets := NewManager(Config{}, res, src, nil)

	h, err := assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	writeSample(2)
	assets.RequestReloadAll()
	n, err := assets.ProcessReloads()
	if err != nil {
		t.Fatalf("ProcessReloads failed: %v", err)
	}
	if n != 1 {
		t.Errorf("reloaded %d assets, want 1", n)
	}
	if st := src.CacheStats(); st.Purges != 1 {
		t.Errorf("cache purges = %d, want 1", st.Purges)
	}
	m, err := assets.Model(h)
	if err != nil {
		t.Fatalf("Model failed: %v", err)
	}
	if len(m.Primitives) != 2 {
		t.Errorf("expected 2 primitives after reload, got %d", len(m.Primitives))
	}

	if n, err := assets.ProcessReloads(); n != 0 || err != nil {
		t.Errorf("second drain: got %d, %v", n, err)
	}
}

func TestShutdown(t *testing.T) {
	env := newTestEnv(t, resource.Config{})
	env.addSample(t, "models/quads.mdl", "quads.bin", 2)
	if _, err := env.assets.Load(handle.TypeModel, ModelParams{Filename: "models/quads.mdl"}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := env.assets.GlobalUniform(); err != nil {
		t.Fatalf("GlobalUniform failed: %v", err)
	}

	env.assets.Shutdown()
	if env.assets.Count() != 0 {
		t.Errorf("Count() = %d after Shutdown", env.assets.Count())
	}
	if env.res.Count() != 1 {
		t.Errorf("resource count = %d, want only the object uniform", env.res.Count())
	}

	env.res.Shutdown()
	if buffers, pipelines, sets := env.backend.LiveObjects(); buffers+pipelines+sets != 0 {
		t.Errorf("leaked backend objects: %d buffers, %d pipelines, %d sets", buffers, pipelines, sets)
	}
}
