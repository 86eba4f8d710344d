package nativefn

import (
	"testing"

	"gvm/continuation"
	"gvm/frame"
	"gvm/heap"
	"gvm/module"
	"gvm/value"
)

func assert(t *testing.T, cond bool, format string, args ...any) {
	t.Helper()
	if !cond {
		t.Fatalf(format, args...)
	}
}

func TestClockPushesAValue(t *testing.T) {
	fr := frame.New([]string{"main"})
	h := heap.New()
	conts := continuation.NewStore()
	res, err := Clock(fr, h, conts)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, res.Kind == module.NativeContinue, "expected NativeContinue")
	v, err := fr.Pop(value.U64)
	assert(t, err == nil, "unexpected error popping clock value: %v", err)
	assert(t, v.U64() > 0, "expected a positive tick count")
}

func TestPanicRaisesUnwindWithMessage(t *testing.T) {
	fr := frame.New([]string{"main"})
	h := heap.New()
	conts := continuation.NewStore()
	handle, _ := h.AllocateString([]byte("boom"))
	assert(t, fr.Push(value.NewStringRef(uint64(handle))) == nil, "unexpected push error")

	res, err := Panic(fr, h, conts)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, res.Kind == module.NativeUnwind, "expected NativeUnwind")
	assert(t, res.UnwindDetail == "boom", "expected boom, got %q", res.UnwindDetail)
}

func TestWriteStdoutConsumesStringHandle(t *testing.T) {
	fr := frame.New([]string{"main"})
	h := heap.New()
	conts := continuation.NewStore()
	handle, _ := h.AllocateString([]byte("hi\n"))
	assert(t, fr.Push(value.NewStringRef(uint64(handle))) == nil, "unexpected push error")

	res, err := WriteStdout(fr, h, conts)
	assert(t, err == nil, "unexpected error: %v", err)
	assert(t, res.Kind == module.NativeContinue, "expected NativeContinue")
	assert(t, fr.SP() == 0, "expected the handle to be consumed from the stack")
}
