package input

import (
	"testing"

	"github.com/veandco/go-sdl2/sdl"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   sdl.Event
		want Event
		ok   bool
	}{
		{"quit", &sdl.QuitEvent{Type: sdl.QUIT}, Event{Type: EventQuit}, true},
		{
			"resize",
			&sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_RESIZED, Data1: 800, Data2: 600},
			Event{Type: EventWindowResize, Width: 800, Height: 600},
			true,
		},
		{"window moved", &sdl.WindowEvent{Type: sdl.WINDOWEVENT, Event: sdl.WINDOWEVENT_MOVED}, Event{}, false},
		{
			"key down",
			&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Scancode: sdl.SCANCODE_R}},
			Event{Type: EventKeyDown, Key: sdl.SCANCODE_R},
			true,
		},
		{
			"key repeat",
			&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Repeat: 1, Keysym: sdl.Keysym{Scancode: sdl.SCANCODE_R}},
			Event{},
			false,
		},
		{
			"drag",
			&sdl.MouseMotionEvent{Type: sdl.MOUSEMOTION, X: 10, Y: 20, XRel: -3, YRel: 4, State: 1},
			Event{Type: EventMouseMove, MouseX: 10, MouseY: 20, DeltaX: -3, DeltaY: 4, Button: 1},
			true,
		},
		{
			"button up",
			&sdl.MouseButtonEvent{Type: sdl.MOUSEBUTTONUP, Button: sdl.BUTTON_LEFT, X: 5, Y: 6},
			Event{Type: EventMouseUp, MouseX: 5, MouseY: 6, Button: sdl.BUTTON_LEFT},
			true,
		},
		{
			"wheel",
			&sdl.MouseWheelEvent{Type: sdl.MOUSEWHEEL, Y: -2},
			Event{Type: EventMouseWheel, DeltaY: -2},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := translate(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("translate() = %+v, %v; want %+v, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestQuitIsSticky(t *testing.T) {
	in := New()
	in.push(&sdl.QuitEvent{Type: sdl.QUIT})
	in.push(&sdl.KeyboardEvent{Type: sdl.KEYDOWN, Keysym: sdl.Keysym{Scancode: sdl.SCANCODE_ESCAPE}})

	if !in.quit {
		t.Error("quit not recorded")
	}
	// Events after a quit in the same frame are still delivered.
	if !in.IsKeyPressed(sdl.SCANCODE_ESCAPE) {
		t.Error("escape should be pressed")
	}
}

func TestResized(t *testing.T) {
	in := New()
	if _, _, ok := in.Resized(); ok {
		t.Fatal("no resize expected on an empty frame")
	}

	in.events = append(in.events,
		Event{Type: EventWindowResize, Width: 800, Height: 600},
		Event{Type: EventMouseMove, MouseX: 3, MouseY: 4},
		Event{Type: EventWindowResize, Width: 1024, Height: 768},
	)
	w, h, ok := in.Resized()
	if !ok || w != 1024 || h != 768 {
		t.Errorf("Resized() = %d, %d, %v; want the last size", w, h, ok)
	}
}
