package resource

import (
	"errors"
	"testing"

	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/handle"
	"github.com/Faultbox/maple/internal/engine/registry"
)

func newTestManager(t *testing.T, cfg Config) (*Manager, *gpu.Headless) {
	t.Helper()
	backend := gpu.NewHeadless(256, nil)
	m, err := New(cfg, backend, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return m, backend
}

func TestLoadBuffers(t *testing.T) {
	m, backend := newTestManager(t, Config{ObjectCapacity: 4})

	tests := []struct {
		name string
		typ  handle.Type
		info any
		kind gpu.BufferKind
		size int
	}{
		{"vertex", handle.TypeVertexBuffer, VertexBufferInfo{Data: make([]byte, 36), Stride: 12}, gpu.BufferVertex, 36},
		{"index", handle.TypeIndexBuffer, IndexBufferInfo{Data: make([]byte, 6), Stride: 2}, gpu.BufferIndex, 6},
		{"uniform sized", handle.TypeUniformBuffer, UniformBufferInfo{Size: 128}, gpu.BufferUniform, 128},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := m.Load(tt.typ, tt.info)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if h.Type != tt.typ {
				t.Errorf("handle type = %s, want %s", h.Type, tt.typ)
			}
			res, err := m.Get(h)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if res.Size != tt.size {
				t.Errorf("Size = %d, want %d", res.Size, tt.size)
			}
			if kind, ok := backend.BufferKindOf(res.Object); !ok || kind != tt.kind {
				t.Errorf("backend kind = %s (ok=%v), want %s", kind, ok, tt.kind)
			}
			obj, err := m.Buffer(h)
			if err != nil || obj != res.Object {
				t.Errorf("Buffer(%s) = %d, %v", h, obj, err)
			}
		})
	}
}

func TestIndexBuffer(t *testing.T) {
	m, _ := newTestManager(t, Config{ObjectCapacity: 4})

	ib, err := m.Load(handle.TypeIndexBuffer, IndexBufferInfo{Data: make([]byte, 12), Stride: 4})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	obj, stride, err := m.IndexBuffer(ib)
	if err != nil {
		t.Fatalf("IndexBuffer failed: %v", err)
	}
	if obj == 0 || stride != 4 {
		t.Errorf("IndexBuffer = %d, stride %d; want a live object with stride 4", obj, stride)
	}

	vb, _ := m.Load(handle.TypeVertexBuffer, VertexBufferInfo{Data: make([]byte, 12), Stride: 12})
	if _, _, err := m.IndexBuffer(vb); !errors.Is(err, ErrWrongResourceType) {
		t.Errorf("vertex buffer as index: got %v, want ErrWrongResourceType", err)
	}

	if err := m.Free(ib); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if _, _, err := m.IndexBuffer(ib); !errors.Is(err, registry.ErrInvalidHandle) {
		t.Errorf("freed index buffer: got %v, want ErrInvalidHandle", err)
	}
}

func TestLoadUnknownType(t *testing.T) {
	m, _ := newTestManager(t, Config{})

	tests := []struct {
		name string
		typ  handle.Type
		info any
	}{
		{"asset type", handle.TypeModel, VertexBufferInfo{}},
		{"mismatched info", handle.TypeVertexBuffer, UniformBufferInfo{Size: 4}},
		{"nil info", handle.TypePipeline, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Load(tt.typ, tt.info); !errors.Is(err, ErrUnknownResourceType) {
				t.Errorf("Load: got %v, want ErrUnknownResourceType", err)
			}
		})
	}
}

func TestFreeReleasesBackendObject(t *testing.T) {
	m, backend := newTestManager(t, Config{})
	before, _, _ := backend.LiveObjects()

	h, err := m.Load(handle.TypeVertexBuffer, VertexBufferInfo{Data: []byte{1, 2, 3, 4}})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := m.Free(h); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if m.IsValid(h) {
		t.Error("handle valid after Free")
	}
	if after, _, _ := backend.LiveObjects(); after != before {
		t.Errorf("live buffers = %d, want %d", after, before)
	}
	if _, err := m.Buffer(h); !errors.Is(err, registry.ErrInvalidHandle) {
		t.Errorf("Buffer after Free: got %v, want ErrInvalidHandle", err)
	}
}

func TestPipelineAndDescriptorSet(t *testing.T) {
	m, backend := newTestManager(t, Config{ObjectCapacity: 8})

	pipe, err := m.Load(handle.TypePipeline, PipelineInfo{Desc: gpu.PipelineDesc{
		Name: "flat",
		Sets: []gpu.SetLayout{{Block: "Globals"}, {}, {Block: "Object", Dynamic: true}},
	}})
	if err != nil {
		t.Fatalf("Load pipeline failed: %v", err)
	}
	binding, err := m.Pipeline(pipe)
	if err != nil {
		t.Fatalf("Pipeline failed: %v", err)
	}
	if desc, ok := backend.Pipeline(binding.Pipeline); !ok || desc.Name != "flat" {
		t.Errorf("backend pipeline = %+v, %v", desc, ok)
	}

	set, err := m.Load(handle.TypeDescriptorSet, DescriptorSetInfo{
		Name:     "object",
		Pipeline: pipe,
		Slot:     2,
		Buffer:   m.ObjectUniform(),
		Size:     64,
	})
	if err != nil {
		t.Fatalf("Load descriptor set failed: %v", err)
	}
	res, _ := m.Get(set)
	if res.Set.Layout != binding.Layout || res.Set.Slot != 2 {
		t.Errorf("set desc = %+v", res.Set)
	}
	if _, err := m.DescriptorSet(set); err != nil {
		t.Errorf("DescriptorSet failed: %v", err)
	}

	// A pipeline handle is not a buffer.
	if _, err := m.Load(handle.TypeDescriptorSet, DescriptorSetInfo{Pipeline: pipe, Buffer: pipe}); !errors.Is(err, ErrWrongResourceType) {
		t.Errorf("set with pipeline as buffer: got %v, want ErrWrongResourceType", err)
	}
}

func TestObjectUniformIsManaged(t *testing.T) {
	m, _ := newTestManager(t, Config{})
	if err := m.Free(m.ObjectUniform()); !errors.Is(err, ErrManagedResource) {
		t.Errorf("Free(ObjectUniform): got %v, want ErrManagedResource", err)
	}
}

func TestShutdownReleasesEverything(t *testing.T) {
	m, backend := newTestManager(t, Config{})
	if _, err := m.Load(handle.TypeVertexBuffer, VertexBufferInfo{Data: []byte{1}}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := m.Load(handle.TypePipeline, PipelineInfo{}); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	m.Shutdown()

	buffers, pipelines, sets := backend.LiveObjects()
	if buffers+pipelines+sets != 0 {
		t.Errorf("live objects after Shutdown: %d buffers, %d pipelines, %d sets", buffers, pipelines, sets)
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
}

func TestDynamicUniform(t *testing.T) {
	m, _ := newTestManager(t, Config{ObjectCapacity: 3, ObjectStride: 64})
	dyn := m.ObjectDynamicUniform()

	if dyn.Stride != 256 {
		t.Fatalf("Stride = %d, want 256 (aligned)", dyn.Stride)
	}

	var last uint32
	for i := 0; i < 3; i++ {
		off, err := dyn.NextOffset()
		if err != nil {
			t.Fatalf("NextOffset %d failed: %v", i, err)
		}
		if i > 0 && off <= last {
			t.Errorf("offset %d not increasing: %d after %d", i, off, last)
		}
		if off%256 != 0 {
			t.Errorf("offset %d not aligned", off)
		}
		last = off
	}
	if _, err := dyn.NextOffset(); !errors.Is(err, ErrUniformOverflow) {
		t.Errorf("NextOffset past capacity: got %v, want ErrUniformOverflow", err)
	}

	m.BeginFrame()
	if dyn.Used() != 0 {
		t.Errorf("Used after BeginFrame = %d", dyn.Used())
	}
	if off, _ := dyn.NextOffset(); off != 0 {
		t.Errorf("first offset after reset = %d, want 0", off)
	}
}

func TestObjectStrideFloor(t *testing.T) {
	tests := []struct {
		name      string
		alignment int
		stride    int
		want      uint32
	}{
		{"below matrix size", 16, 16, 64},
		{"one byte", 1, 1, 64},
		{"exact", 16, 64, 64},
		{"larger kept", 16, 96, 96},
		{"aligned up after floor", 256, 16, 256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := gpu.NewHeadless(tt.alignment, nil)
			m, err := New(Config{ObjectCapacity: 2, ObjectStride: tt.stride}, backend, nil)
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			dyn := m.ObjectDynamicUniform()
			if dyn.Stride != tt.want {
				t.Errorf("Stride = %d, want %d", dyn.Stride, tt.want)
			}
			data, ok := backend.BufferData(dyn.Object)
			if !ok || len(data) != int(tt.want)*2 {
				t.Errorf("object buffer holds %d bytes, want %d", len(data), tt.want*2)
			}
		})
	}
}

func TestDescriptorSetRange(t *testing.T) {
	// 8 objects at a 256 byte stride.
	const bufSize = 8 * 256

	tests := []struct {
		name    string
		offset  uint32
		size    uint32
		want    uint32
		wantErr error
	}{
		{"whole buffer", 0, 0, bufSize, nil},
		{"tail from offset", 256, 0, bufSize - 256, nil},
		{"explicit range", 512, 64, 64, nil},
		{"ends at buffer end", bufSize - 64, 64, 64, nil},
		{"offset past end", bufSize + 1, 0, 0, ErrRangeOutOfBounds},
		{"range past end", bufSize - 32, 64, 0, ErrRangeOutOfBounds},
		{"size past end", 0, bufSize + 1, 0, ErrRangeOutOfBounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, Config{ObjectCapacity: 8})
			pipe, err := m.Load(handle.TypePipeline, PipelineInfo{Desc: gpu.PipelineDesc{
				Sets: []gpu.SetLayout{{}, {}, {Block: "Object", Dynamic: true}},
			}})
			if err != nil {
				t.Fatalf("Load pipeline failed: %v", err)
			}

			set, err := m.Load(handle.TypeDescriptorSet, DescriptorSetInfo{
				Name:     "object",
				Pipeline: pipe,
				Slot:     2,
				Buffer:   m.ObjectUniform(),
				Offset:   tt.offset,
				Size:     tt.size,
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Load: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			res, err := m.Get(set)
			if err != nil {
				t.Fatalf("Get failed: %v", err)
			}
			if res.Set.Offset != tt.offset || res.Set.Size != tt.want {
				t.Errorf("range = %d+%d, want %d+%d", res.Set.Offset, res.Set.Size, tt.offset, tt.want)
			}
		})
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		n, align, want int
	}{
		{64, 256, 256},
		{256, 256, 256},
		{257, 256, 512},
		{0, 256, 0},
		{48, 0, 48},
		{48, 1, 48},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.n, tt.align); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.n, tt.align, got, tt.want)
		}
	}
}
