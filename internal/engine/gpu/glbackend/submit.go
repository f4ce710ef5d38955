package glbackend

import (
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"

	"github.com/Faultbox/maple/internal/engine/gpu"
)

// Submit executes list immediately on the current context.
func (b *Backend) Submit(list *gpu.CommandList) error {
	for i, cmd := range list.Commands() {
		if err := b.execute(cmd); err != nil {
			return fmt.Errorf("command %d (%T): %w", i, cmd, err)
		}
	}
	gl.BindVertexArray(0)
	return nil
}

func (b *Backend) execute(cmd gpu.Command) error {
	switch c := cmd.(type) {
	case gpu.BindPipeline:
		p, ok := b.pipelines[c.Pipeline]
		if !ok {
			return fmt.Errorf("%w: pipeline %d", gpu.ErrUnknownObject, c.Pipeline)
		}
		gl.UseProgram(p.program)
		gl.BindVertexArray(p.vao)
		b.current = p

	case gpu.BindDescriptorSet:
		set, ok := b.sets[c.Set]
		if !ok {
			return fmt.Errorf("%w: descriptor set %d", gpu.ErrUnknownObject, c.Set)
		}
		offset := int(set.desc.Offset)
		for _, dyn := range c.DynamicOffsets {
			offset += int(dyn)
		}
		gl.BindBufferRange(gl.UNIFORM_BUFFER, c.FirstSet, set.buffer, offset, int(set.desc.Size))

	case gpu.UpdateBuffer:
		buf, ok := b.buffers[c.Target]
		if !ok {
			return fmt.Errorf("%w: buffer %d", gpu.ErrUnknownObject, c.Target)
		}
		if c.Size == 0 {
			return nil
		}
		if int(c.Size) > len(c.Data) || int(c.Offset)+int(c.Size) > buf.size {
			return fmt.Errorf("%w: update %d+%d in %d byte buffer", gpu.ErrOutOfRange, c.Offset, c.Size, buf.size)
		}
		gl.BindBuffer(gl.COPY_WRITE_BUFFER, buf.name)
		gl.BufferSubData(gl.COPY_WRITE_BUFFER, int(c.Offset), int(c.Size), gl.Ptr(c.Data))
		gl.BindBuffer(gl.COPY_WRITE_BUFFER, 0)

	case gpu.SetViewport:
		gl.Viewport(int32(c.X), int32(c.Y), int32(c.Width), int32(c.Height))
		gl.DepthRange(float64(c.MinDepth), float64(c.MaxDepth))

	case gpu.SetScissor:
		gl.Enable(gl.SCISSOR_TEST)
		gl.Scissor(c.X, c.Y, int32(c.Width), int32(c.Height))

	case gpu.Draw:
		return b.draw(c)

	default:
		return fmt.Errorf("unsupported command %T", cmd)
	}
	return nil
}

func (b *Backend) draw(c gpu.Draw) error {
	p := b.current
	if p == nil {
		return fmt.Errorf("draw with no pipeline bound")
	}
	layout := p.desc.Vertex
	if len(c.VertexBuffers) < len(layout.Strides) {
		return fmt.Errorf("pipeline %q has %d vertex streams, draw supplies %d",
			p.desc.Name, len(layout.Strides), len(c.VertexBuffers))
	}

	for stream, obj := range c.VertexBuffers {
		if stream >= len(layout.Strides) {
			break
		}
		buf, ok := b.buffers[obj]
		if !ok {
			return fmt.Errorf("%w: vertex buffer %d", gpu.ErrUnknownObject, obj)
		}
		var base uint64
		if stream < len(c.Offsets) {
			base = c.Offsets[stream]
		}
		gl.BindBuffer(gl.ARRAY_BUFFER, buf.name)
		for _, attr := range layout.Attributes {
			if attr.Stream != stream {
				continue
			}
			gl.EnableVertexAttribArray(attr.Location)
			gl.VertexAttribPointer(attr.Location, attr.Components, gl.FLOAT, false,
				int32(layout.Strides[stream]), gl.PtrOffset(int(base)+int(attr.Offset)))
		}
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)

	if !c.Indexed {
		gl.DrawArrays(gl.TRIANGLES, 0, int32(c.Count))
		return nil
	}

	ib, ok := b.buffers[c.IndexBuffer]
	if !ok {
		return fmt.Errorf("%w: index buffer %d", gpu.ErrUnknownObject, c.IndexBuffer)
	}
	var indexType uint32
	switch c.IndexStride {
	case 1:
		indexType = gl.UNSIGNED_BYTE
	case 2:
		indexType = gl.UNSIGNED_SHORT
	default:
		indexType = gl.UNSIGNED_INT
	}
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, ib.name)
	gl.DrawElements(gl.TRIANGLES, int32(c.Count), indexType, nil)
	return nil
}
