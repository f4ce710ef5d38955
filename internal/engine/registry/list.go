package registry

import "github.com/Faultbox/maple/internal/engine/handle"

// handleList is an unordered set of handles with O(1) add and remove.
// Order is not preserved across removals.
type handleList struct {
	items []handle.Handle
	pos   map[handle.Handle]int
}

func newHandleList() *handleList {
	return &handleList{
		items: make([]handle.Handle, 0, DefaultInitialCapacity),
		pos:   make(map[handle.Handle]int),
	}
}

func (l *handleList) add(h handle.Handle) {
	if _, ok := l.pos[h]; ok {
		return
	}
	l.pos[h] = len(l.items)
	l.items = append(l.items, h)
}

// remove swaps the last element into the removed position.
func (l *handleList) remove(h handle.Handle) {
	i, ok := l.pos[h]
	if !ok {
		return
	}
	last := len(l.items) - 1
	if i != last {
		moved := l.items[last]
		l.items[i] = moved
		l.pos[moved] = i
	}
	l.items = l.items[:last]
	delete(l.pos, h)
}

func (l *handleList) clear() {
	l.items = l.items[:0]
	clear(l.pos)
}

func (l *handleList) snapshot() []handle.Handle {
	out := make([]handle.Handle, len(l.items))
	copy(out, l.items)
	return out
}

func (l *handleList) len() int {
	return len(l.items)
}
