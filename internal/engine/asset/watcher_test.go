package asset

import (
	"testing"
	"time"
)

func TestWatcher_NotifiesRelativeName(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "models/a.mdl", "one")

	changed := make(chan string, 8)
	w, err := NewWatcher(dir, 20*time.Millisecond, func(name string) { changed <- name }, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Close()

	writeFile(t, dir, "models/a.mdl", "two")

	select {
	case name := <-changed:
		if name != "models/a.mdl" {
			t.Errorf("notified %q, want models/a.mdl", name)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestWatcher_CloseTwice(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), 0, func(string) {}, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := w.Close(); err == nil {
		t.Error("expected error closing twice")
	}
}
