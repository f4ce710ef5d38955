package gpu

import "slices"

// Command is one entry in a CommandList.
type Command interface {
	command()
}

// BindPipeline makes a pipeline current.
type BindPipeline struct {
	Pipeline Object
}

// BindDescriptorSet binds Set at slot FirstSet of Layout.
type BindDescriptorSet struct {
	Layout         Object
	Set            Object
	FirstSet       uint32
	DynamicOffsets []uint32
}

// UpdateBuffer writes Data[:Size] into Target at Offset.
type UpdateBuffer struct {
	Target Object
	Offset uint32
	Data   []byte
	Size   uint32
}

// SetViewport sets the viewport transform.
type SetViewport struct {
	X, Y, Width, Height float32
	MinDepth, MaxDepth  float32
}

// SetScissor sets the scissor rectangle.
type SetScissor struct {
	X, Y          int32
	Width, Height uint32
}

// Draw issues a draw with one vertex buffer per stream of the bound
// pipeline. IndexStride is 2 or 4 when Indexed.
type Draw struct {
	VertexBuffers []Object
	Offsets       []uint64
	IndexBuffer   Object
	IndexStride   uint32
	Count         uint32
	Indexed       bool
}

func (BindPipeline) command()      {}
func (BindDescriptorSet) command() {}
func (UpdateBuffer) command()      {}
func (SetViewport) command()       {}
func (SetScissor) command()        {}
func (Draw) command()              {}

// CommandList is an append-only list of commands for one frame.
type CommandList struct {
	cmds []Command
}

// NewCommandList creates a list with room for capacity commands.
func NewCommandList(capacity int) *CommandList {
	return &CommandList{cmds: make([]Command, 0, capacity)}
}

// Append adds cmd to the end of the list.
func (l *CommandList) Append(cmd Command) {
	l.cmds = append(l.cmds, cmd)
}

// Commands returns the recorded commands. The slice is owned by the list
// and is invalidated by Reset.
func (l *CommandList) Commands() []Command {
	return l.cmds
}

// Len returns the number of recorded commands.
func (l *CommandList) Len() int {
	return len(l.cmds)
}

// Reset empties the list, keeping its storage.
func (l *CommandList) Reset() {
	clear(l.cmds)
	l.cmds = l.cmds[:0]
}

// Truncate drops every command from index n on.
func (l *CommandList) Truncate(n int) {
	if n < 0 || n >= len(l.cmds) {
		return
	}
	clear(l.cmds[n:])
	l.cmds = l.cmds[:n]
}

// Clone returns a deep copy that survives Reset of the original and reuse
// of the frame memory its commands point into.
func (l *CommandList) Clone() *CommandList {
	out := &CommandList{cmds: make([]Command, len(l.cmds))}
	for i, cmd := range l.cmds {
		switch c := cmd.(type) {
		case BindDescriptorSet:
			c.DynamicOffsets = slices.Clone(c.DynamicOffsets)
			cmd = c
		case UpdateBuffer:
			c.Data = slices.Clone(c.Data)
			cmd = c
		case Draw:
			c.VertexBuffers = slices.Clone(c.VertexBuffers)
			c.Offsets = slices.Clone(c.Offsets)
			cmd = c
		}
		out.cmds[i] = cmd
	}
	return out
}
