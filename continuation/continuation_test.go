package continuation

import (
	"testing"

	"gvm/frame"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestCaptureAndResolve(t *testing.T) {
	fr := frame.New([]string{"main"})
	fr.PC = 7
	store := NewStore()
	h := store.Capture(fr)

	c, ok := store.Resolve(h)
	assert(t, ok, "expected the handle to resolve")
	assert(t, c.Frame == fr, "expected the continuation to share the original frame")
	assert(t, c.StartPC == 7, "expected the captured PC to be 7, got %d", c.StartPC)
}

func TestResetProgramCounterRewinds(t *testing.T) {
	fr := frame.New([]string{"main"})
	fr.PC = 3
	store := NewStore()
	h := store.Capture(fr)
	fr.PC = 99

	c, _ := store.Resolve(h)
	c.ResetProgramCounter()
	assert(t, fr.PC == 3, "expected reset to rewind the shared frame's PC, got %d", fr.PC)
}

func TestDropRemovesHandle(t *testing.T) {
	fr := frame.New([]string{"main"})
	store := NewStore()
	h := store.Capture(fr)
	store.Drop(h)

	_, ok := store.Resolve(h)
	assert(t, !ok, "expected the handle to be gone after Drop")
}

func TestHandlesAreSequential(t *testing.T) {
	fr := frame.New([]string{"main"})
	store := NewStore()
	first := store.Capture(fr)
	second := store.Capture(fr)
	assert(t, second == first+1, "expected sequential handles, got %d then %d", first, second)
}
