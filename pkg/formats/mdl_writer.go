package formats

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MarshalBinary encodes m in .mdl layout. It does not validate references,
// so tests can build deliberately broken files.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteModel(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteModel encodes m to w in .mdl layout.
func WriteModel(w io.Writer, m *Model) error {
	mw := &mdlWriter{w: w}

	mw.string(m.BinaryFile)

	mw.put(int32(len(m.Primitives)))
	for _, p := range m.Primitives {
		mw.put(p.BaseOffset)
		mw.put(p.IndexCount)
		mw.put(p.IndexStride)
		mw.put(p.VertexCount)
		mw.put(p.VertexStride)
		mw.put(p.Skinned)
		mw.put(p.Min)
		mw.put(p.Max)
	}

	mw.put(int32(len(m.Meshes)))
	for _, mesh := range m.Meshes {
		mw.string(mesh.Name)
		mw.put(uint64(len(mesh.Primitives)))
		mw.put(mesh.Primitives)
	}

	mw.put(int32(len(m.Nodes)))
	for _, node := range m.Nodes {
		mw.string(node.Name)
		mw.put(node.Parent)
		mw.put(uint64(len(node.Children)))
		mw.put(node.Children)
		mw.put(node.Translation)
		mw.put(node.Scale)
		mw.put(node.Rotation)
		mw.put(node.Mesh)
	}

	mw.put(int32(len(m.Scenes)))
	for _, scene := range m.Scenes {
		mw.put(uint32(len(scene.Roots)))
		mw.put(scene.Roots)
	}

	if mw.err != nil {
		return fmt.Errorf("writing model: %w", mw.err)
	}
	return nil
}

type mdlWriter struct {
	w   io.Writer
	err error
}

func (w *mdlWriter) put(v any) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

func (w *mdlWriter) string(s string) {
	w.put(uint32(len(s)))
	if w.err != nil || len(s) == 0 {
		return
	}
	_, w.err = io.WriteString(w.w, s)
}
