// Package continuation implements delimited continuations as ref-counted shared
// access to an existing call frame, per the engine's resolution that a continuation
// resumes synchronously inside the same call driver loop rather than on a separate
// suspended goroutine stack.
//
// Grounded on PuerkitoBio/agora's agoraFuncVM.run(), which captures a resumable
// continuation by stashing `f.val.coroState = f` on OP_YLD and simply re-entering
// run() later against the same *agoraFuncVM and its already-advanced f.pc — the
// frame IS the continuation, not a copy of it. We keep that shape (share the frame,
// remember the resume PC) instead of reaching for agora's actual OP_RNGP/gocoro
// machinery, which exists there to park a *goroutine* mid-iteration for `for range`
// coroutines; this engine never suspends a goroutine; the driver always resumes a
// continuation by looping back into dispatch with a different (frame, PC) pair on its
// own call stack. See DESIGN.md for why gocoro itself was not wired in.
package continuation

import "gvm/frame"

// Continuation is a resumable reference to a shared frame, captured at a particular
// program counter.
type Continuation struct {
	Frame   *frame.Frame
	StartPC int
}

// ResetProgramCounter rewinds the shared frame's PC back to the captured start, for re-entry.
func (c *Continuation) ResetProgramCounter() {
	c.Frame.PC = c.StartPC
}

// Handle is a stable, sequentially assigned reference a bytecode program can carry
// in a register across calls.
type Handle uint64

// Store assigns sequential, stable handles to captured continuations, the way a
// module assigns a stable index to each function it registers.
type Store struct {
	next  Handle
	table map[Handle]*Continuation
}

func NewStore() *Store {
	return &Store{next: 1, table: make(map[Handle]*Continuation)}
}

// Capture records a continuation from a frame's current (shared frame, PC) pair and
// returns a stable handle for it.
func (s *Store) Capture(fr *frame.Frame) Handle {
	sharedFrame, startPC := fr.MakeContinuation()
	h := s.next
	s.next++
	s.table[h] = &Continuation{Frame: sharedFrame, StartPC: startPC}
	return h
}

// Resolve looks up a previously captured continuation by handle.
func (s *Store) Resolve(h Handle) (*Continuation, bool) {
	c, ok := s.table[h]
	return c, ok
}

// Drop discards a continuation, e.g. once an effect handler has consumed it and the
// caller has decided it will never be resumed again.
func (s *Store) Drop(h Handle) {
	delete(s.table, h)
}
