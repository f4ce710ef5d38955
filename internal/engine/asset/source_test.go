package asset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirSource_Cache(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "models/a.mdl", "one")
	src := NewDirSource(dir)

	for i := 0; i < 2; i++ {
		data, err := src.ReadFile("models/a.mdl")
		if err != nil {
			t.Fatalf("ReadFile failed: %v", err)
		}
		if string(data) != "one" {
			t.Errorf("data = %q, want one", data)
		}
	}
	st := src.CacheStats()
	if st.Hits != 1 || st.Misses != 1 || st.Files != 1 || st.Bytes != 3 {
		t.Errorf("CacheStats() = %+v, want 1 hit, 1 miss, 1 file of 3 bytes", st)
	}

	writeFile(t, dir, "models/a.mdl", "two")
	if data, _ := src.ReadFile("models/a.mdl"); string(data) != "one" {
		t.Errorf("expected cached content, got %q", data)
	}
	src.Invalidate("models/./a.mdl")
	if data, _ := src.ReadFile("models/a.mdl"); string(data) != "two" {
		t.Errorf("expected fresh content after Invalidate, got %q", data)
	}
}

func TestDirSource_InvalidateAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.toml", "a1")
	writeFile(t, dir, "b/c.toml", "c1")
	src := NewDirSource(dir)

	for _, name := range []string{"a.toml", "b/c.toml"} {
		if _, err := src.ReadFile(name); err != nil {
			t.Fatalf("ReadFile(%s) failed: %v", name, err)
		}
	}
	writeFile(t, dir, "a.toml", "a22")
	writeFile(t, dir, "b/c.toml", "c22")

	src.InvalidateAll()
	st := src.CacheStats()
	if st.Files != 0 || st.Bytes != 0 || st.Purges != 1 {
		t.Errorf("CacheStats() after purge = %+v", st)
	}
	if st.Misses != 2 {
		t.Errorf("purge reset miss count to %d", st.Misses)
	}

	for name, want := range map[string]string{"a.toml": "a22", "b/c.toml": "c22"} {
		if data, _ := src.ReadFile(name); string(data) != want {
			t.Errorf("ReadFile(%s) = %q, want %q", name, data, want)
		}
	}
	if st := src.CacheStats(); st.Bytes != 6 {
		t.Errorf("Bytes = %d, want 6", st.Bytes)
	}
}

func TestDirSource_Errors(t *testing.T) {
	dir := t.TempDir()
	src := NewDirSource(dir)

	for _, name := range []string{"missing.mdl", "../escape.mdl", "/abs.mdl", "."} {
		t.Run(name, func(t *testing.T) {
			if _, err := src.ReadFile(name); !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestMemSource(t *testing.T) {
	src := NewMemSource()
	src.Set("a/b.toml", []byte("x"))

	if data, err := src.ReadFile("a/./b.toml"); err != nil || string(data) != "x" {
		t.Errorf("ReadFile = %q, %v", data, err)
	}
	if _, err := src.ReadFile("a/c.toml"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
