package frame

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/maple/internal/engine/asset"
	"github.com/Faultbox/maple/internal/engine/gpu"
	"github.com/Faultbox/maple/internal/engine/handle"
	"github.com/Faultbox/maple/internal/engine/resource"
)

// Batcher errors. ErrInvalidHandle wraps the registry error that caused it.
var (
	ErrUnknownCommandType = errors.New("unknown render command type")
	ErrInvalidHandle      = errors.New("invalid handle in render command")
	ErrInvalidDraw        = errors.New("invalid draw command")
	ErrObjectStride       = errors.New("object uniform stride smaller than object data")
)

// Frame is one frame's input commands, scratch memory and GPU output.
type Frame struct {
	Commands []Command
	Arena    *Arena
	Output   *gpu.CommandList
}

// NewFrame creates an empty frame.
func NewFrame() *Frame {
	return &Frame{
		Arena:  NewArena(0),
		Output: gpu.NewCommandList(256),
	}
}

// Begin empties the frame for reuse.
func (f *Frame) Begin() {
	clear(f.Commands)
	f.Commands = f.Commands[:0]
	f.Arena.Reset()
	f.Output.Reset()
}

// Push appends render commands.
func (f *Frame) Push(cmds ...Command) {
	f.Commands = append(f.Commands, cmds...)
}

// Stats describes one Build.
type Stats struct {
	Materials int // material groups emitted
	Draws     int
	Updates   int // object uniform writes
	Binds     int // pipeline and descriptor set binds
	Skipped   int // unknown commands
}

// materialState is a material resolved to backend objects.
type materialState struct {
	binding  gpu.PipelineBinding
	sets     [asset.SetCount]gpu.Object
	declared [asset.SetCount]bool
}

type pendingDraw struct {
	draw    Draw
	buffers []gpu.Object
	index   gpu.Object
	stride  uint32
}

type bucket struct {
	material handle.Handle
	state    materialState
	draws    []pendingDraw
}

// Batcher builds GPU command lists from render commands. It keeps its
// bucket storage between frames and is not safe for concurrent use.
type Batcher struct {
	assets *asset.Manager
	res    *resource.Manager
	log    *zap.Logger

	index   map[handle.Handle]int
	buckets []bucket
}

// NewBatcher creates a batcher resolving handles through assets and res.
func NewBatcher(assets *asset.Manager, res *resource.Manager, log *zap.Logger) *Batcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Batcher{
		assets: assets,
		res:    res,
		log:    log,
		index:  make(map[handle.Handle]int),
	}
}

// Build appends GPU commands for f.Commands to f.Output. Non-draw commands
// are emitted in input order as they are met. Draws are then emitted grouped
// by material, groups in first-seen order.
//
// Every handle is resolved before anything is emitted for the group it
// belongs to. On error the commands this call appended are removed.
func (b *Batcher) Build(f *Frame) (Stats, error) {
	var stats Stats
	start := f.Output.Len()

	dyn := b.res.ObjectDynamicUniform()
	if dyn.Stride < ObjectDataSize {
		return Stats{}, fmt.Errorf("%w: stride %d, object data %d bytes", ErrObjectStride, dyn.Stride, ObjectDataSize)
	}

	clear(b.index)
	b.buckets = b.buckets[:0]

	for i, cmd := range f.Commands {
		var err error
		switch c := cmd.(type) {
		case Draw:
			err = b.collect(f, c)
		case SetViewport:
			f.Output.Append(gpu.SetViewport{
				X: c.X, Y: c.Y, Width: c.Width, Height: c.Height,
				MinDepth: c.MinDepth, MaxDepth: c.MaxDepth,
			})
		case SetScissor:
			f.Output.Append(gpu.SetScissor{X: c.X, Y: c.Y, Width: c.Width, Height: c.Height})
		case BindPipeline:
			err = b.bindPipeline(f, c)
			stats.Binds++
		case BindDescriptorSet:
			err = b.bindDescriptorSet(f, c)
			stats.Binds++
		default:
			stats.Skipped++
			b.log.Warn("skipping render command",
				zap.Int("index", i),
				zap.Error(fmt.Errorf("%w: %T", ErrUnknownCommandType, cmd)),
			)
		}
		if err != nil {
			f.Output.Truncate(start)
			return Stats{}, fmt.Errorf("command %d: %w", i, err)
		}
	}

	for i := range b.buckets {
		if err := b.emit(f, &b.buckets[i], dyn, &stats); err != nil {
			f.Output.Truncate(start)
			return Stats{}, err
		}
	}
	stats.Materials = len(b.buckets)
	return stats, nil
}

func (b *Batcher) collect(f *Frame, d Draw) error {
	if !d.Model.IsNil() && !b.assets.IsValid(d.Model) {
		return fmt.Errorf("%w: model %s", ErrInvalidHandle, d.Model)
	}
	if len(d.VertexBuffers) == 0 {
		return fmt.Errorf("%w: no vertex buffers", ErrInvalidDraw)
	}
	if d.Offsets != nil && len(d.Offsets) != len(d.VertexBuffers) {
		return fmt.Errorf("%w: %d offsets for %d vertex buffers", ErrInvalidDraw, len(d.Offsets), len(d.VertexBuffers))
	}

	bk, err := b.bucketFor(d.Material)
	if err != nil {
		return err
	}

	p := pendingDraw{draw: d, buffers: f.Arena.Objects(len(d.VertexBuffers))}
	for i, h := range d.VertexBuffers {
		if p.buffers[i], err = b.res.Buffer(h); err != nil {
			return fmt.Errorf("%w: vertex buffer %d: %w", ErrInvalidHandle, i, err)
		}
	}
	if d.Indexed {
		if p.index, p.stride, err = b.res.IndexBuffer(d.IndexBuffer); err != nil {
			return fmt.Errorf("%w: index buffer: %w", ErrInvalidHandle, err)
		}
	}
	bk.draws = append(bk.draws, p)
	return nil
}

// bucketFor finds or creates the group for material h.
func (b *Batcher) bucketFor(h handle.Handle) (*bucket, error) {
	if i, ok := b.index[h]; ok {
		return &b.buckets[i], nil
	}

	state, err := b.resolveMaterial(h)
	if err != nil {
		return nil, err
	}

	if len(b.buckets) < cap(b.buckets) {
		b.buckets = b.buckets[:len(b.buckets)+1]
	} else {
		b.buckets = append(b.buckets, bucket{})
	}
	bk := &b.buckets[len(b.buckets)-1]
	bk.material = h
	bk.state = state
	bk.draws = bk.draws[:0]

	b.index[h] = len(b.buckets) - 1
	return bk, nil
}

func (b *Batcher) resolveMaterial(h handle.Handle) (materialState, error) {
	var s materialState
	mat, err := b.assets.Material(h)
	if err != nil {
		return s, fmt.Errorf("%w: material %s: %w", ErrInvalidHandle, h, err)
	}
	if s.binding, err = b.res.Pipeline(mat.Pipeline); err != nil {
		return s, fmt.Errorf("%w: material %s pipeline: %w", ErrInvalidHandle, h, err)
	}
	for slot, ds := range mat.Sets {
		if !ds.Declared() {
			continue
		}
		if s.sets[slot], err = b.res.DescriptorSet(ds.Set); err != nil {
			return s, fmt.Errorf("%w: material %s set %d: %w", ErrInvalidHandle, h, slot, err)
		}
		s.declared[slot] = true
	}
	return s, nil
}

// emit writes one material group: pipeline, shared sets, every object
// update, then a static set bind and a draw per object.
func (b *Batcher) emit(f *Frame, bk *bucket, dyn *resource.DynamicUniform, stats *Stats) error {
	st := &bk.state
	out := f.Output

	out.Append(gpu.BindPipeline{Pipeline: st.binding.Pipeline})
	stats.Binds++
	for _, slot := range []int{asset.GlobalSet, asset.DynamicSet} {
		if !st.declared[slot] {
			continue
		}
		out.Append(gpu.BindDescriptorSet{
			Layout:   st.binding.Layout,
			Set:      st.sets[slot],
			FirstSet: uint32(slot),
		})
		stats.Binds++
	}

	offsets := f.Arena.Offsets(len(bk.draws))
	for i := range bk.draws {
		off, err := dyn.NextOffset()
		if err != nil {
			return fmt.Errorf("material %s: %w", bk.material, err)
		}
		offsets[i] = off

		data := f.Arena.Bytes(ObjectDataSize)
		bk.draws[i].draw.Object.put(data)
		out.Append(gpu.UpdateBuffer{
			Target: dyn.Object,
			Offset: off,
			Data:   data,
			Size:   ObjectDataSize,
		})
		stats.Updates++
	}

	for i := range bk.draws {
		p := &bk.draws[i]
		if st.declared[asset.StaticSet] {
			out.Append(gpu.BindDescriptorSet{
				Layout:         st.binding.Layout,
				Set:            st.sets[asset.StaticSet],
				FirstSet:       asset.StaticSet,
				DynamicOffsets: offsets[i : i+1 : i+1],
			})
			stats.Binds++
		}
		out.Append(gpu.Draw{
			VertexBuffers: p.buffers,
			Offsets:       p.draw.Offsets,
			IndexBuffer:   p.index,
			IndexStride:   p.stride,
			Count:         p.draw.Count,
			Indexed:       p.draw.Indexed,
		})
		stats.Draws++
	}
	return nil
}

func (b *Batcher) bindPipeline(f *Frame, c BindPipeline) error {
	binding, err := b.res.Pipeline(c.Pipeline)
	if err != nil {
		return fmt.Errorf("%w: pipeline %s: %w", ErrInvalidHandle, c.Pipeline, err)
	}
	f.Output.Append(gpu.BindPipeline{Pipeline: binding.Pipeline})
	return nil
}

func (b *Batcher) bindDescriptorSet(f *Frame, c BindDescriptorSet) error {
	binding, err := b.res.Pipeline(c.Pipeline)
	if err != nil {
		return fmt.Errorf("%w: pipeline %s: %w", ErrInvalidHandle, c.Pipeline, err)
	}
	set, err := b.res.DescriptorSet(c.Set)
	if err != nil {
		return fmt.Errorf("%w: descriptor set %s: %w", ErrInvalidHandle, c.Set, err)
	}
	f.Output.Append(gpu.BindDescriptorSet{
		Layout:         binding.Layout,
		Set:            set,
		FirstSet:       c.FirstSet,
		DynamicOffsets: c.DynamicOffsets,
	})
	return nil
}
