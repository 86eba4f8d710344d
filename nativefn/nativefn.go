// Package nativefn supplies the built-in native functions an embedder can register
// into a module tree: console I/O, a monotonic clock, and a panic primitive that
// raises an Unwind signal. The call driver surfaces that signal as a terminating
// InvalidOperation fault carrying the message; no bytecode handler catches it. The
// engine is single-threaded, so each native function simply blocks the one active call
// driver the way a regular bytecode function would, with no request/response bus
// needed.
package nativefn

import (
	"bufio"
	"os"
	"time"

	"gvm/continuation"
	"gvm/fault"
	"gvm/frame"
	"gvm/heap"
	"gvm/module"
	"gvm/value"
)

var (
	stdout = bufio.NewWriter(os.Stdout)
	stdin  = bufio.NewReader(os.Stdin)

	clockEpoch = time.Now()
)

// WriteStdout pops a StringRef/String handle from the calling frame's stack and
// writes its bytes to standard output.
func WriteStdout(fr *frame.Frame, h *heap.Memory, _ *continuation.Store) (module.NativeSignal, error) {
	handle, err := fr.Pop(value.StringRef)
	if err != nil {
		return module.NativeSignal{}, err
	}
	data, err := h.GetString(heap.Handle(handle.U64()))
	if err != nil {
		return module.NativeSignal{}, err
	}
	if _, err := stdout.Write(data); err != nil {
		return module.NativeSignal{}, fault.New(fault.MemoryError, "write to stdout failed")
	}
	if err := stdout.Flush(); err != nil {
		return module.NativeSignal{}, fault.New(fault.MemoryError, "flush stdout failed")
	}
	return module.NativeSignal{Kind: module.NativeContinue}, nil
}

// ReadStdin reads a single line from standard input, allocates it as a heap string,
// and pushes its handle onto the calling frame's stack.
func ReadStdin(fr *frame.Frame, h *heap.Memory, _ *continuation.Store) (module.NativeSignal, error) {
	line, err := stdin.ReadString('\n')
	if err != nil && len(line) == 0 {
		return module.NativeSignal{}, fault.New(fault.MemoryError, "read from stdin failed")
	}
	handle, err := h.AllocateString([]byte(line))
	if err != nil {
		return module.NativeSignal{}, err
	}
	if err := fr.Push(value.NewStringRef(uint64(handle))); err != nil {
		return module.NativeSignal{}, err
	}
	return module.NativeSignal{Kind: module.NativeContinue}, nil
}

// Clock pushes a monotonic tick count (nanoseconds since an unspecified epoch) onto
// the calling frame's stack.
func Clock(fr *frame.Frame, _ *heap.Memory, _ *continuation.Store) (module.NativeSignal, error) {
	if err := fr.Push(value.NewU64(uint64(time.Since(clockEpoch).Nanoseconds()))); err != nil {
		return module.NativeSignal{}, err
	}
	return module.NativeSignal{Kind: module.NativeContinue}, nil
}

// Panic pops a string handle from the calling frame's stack and raises an Unwind
// carrying its text as the detail. The driver reports it as an InvalidOperation
// fault with that detail; it is not caught by any bytecode handler.
func Panic(fr *frame.Frame, h *heap.Memory, _ *continuation.Store) (module.NativeSignal, error) {
	handle, err := fr.Pop(value.StringRef)
	if err != nil {
		return module.NativeSignal{}, err
	}
	msg, err := h.GetString(heap.Handle(handle.U64()))
	if err != nil {
		return module.NativeSignal{}, err
	}
	return module.NativeSignal{Kind: module.NativeUnwind, UnwindDetail: string(msg)}, nil
}
