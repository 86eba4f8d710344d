// Package driver implements the outer call loop: it owns the live chain of call
// frames, asks core to execute one instruction at a time, and reacts to each Signal
// by pushing/popping frames, invoking the native bridge, resuming continuations, or
// abandoning the frame chain on a fault. It also resolves the stack
// levels core cannot reach on its own: a StackDeref/StackStore naming a parent frame
// is answered directly against the driver's own frame chain rather than handed to
// core.Step.
package driver

import (
	"runtime/debug"

	"gvm/backtrace"
	"gvm/bytecode"
	"gvm/continuation"
	"gvm/core"
	"gvm/fault"
	"gvm/frame"
	"gvm/heap"
	"gvm/module"
)

type frameContext struct {
	fr             *frame.Frame
	fn             *module.Function
	inContinuation bool
}

// Driver owns the frame chain for one top-level call_main invocation. It is not
// safe for concurrent use by more than one goroutine; the heap it is given may be
// shared with other, independent Drivers.
type Driver struct {
	core      *core.Core
	module    *module.Module
	heap      *heap.Memory
	conts     *continuation.Store
	backtrace *backtrace.Backtrace

	stack     []*frameContext
	contDepth int // number of continuation-resume frames currently on stack
}

// CallMain resolves entryPath against module and runs it to completion, returning
// the fault that stopped it (nil on a clean Halt).
func CallMain(c *core.Core, mod *module.Module, h *heap.Memory, bt *backtrace.Backtrace, entryPath []string) error {
	d := &Driver{core: c, module: mod, heap: h, conts: continuation.NewStore(), backtrace: bt}
	return d.run(entryPath)
}

func (d *Driver) run(entryPath []string) (err error) {
	// Disable the collector while the dispatch loop runs and restore the caller's
	// setting afterward.
	gcPercent := debug.SetGCPercent(-1)
	defer debug.SetGCPercent(gcPercent)

	defer func() {
		if r := recover(); r != nil {
			err = fault.New(fault.InvalidOperation, "internal panic during dispatch")
		}
	}()

	fn, lookupErr := d.module.Lookup(entryPath)
	if lookupErr != nil {
		return lookupErr
	}
	if fn.Kind == module.NativeFunction {
		sig, nerr := fn.Native(frame.New(entryPath), d.heap, d.conts)
		if nerr != nil {
			return nerr
		}
		if sig.Kind == module.NativeUnwind {
			return fault.New(fault.InvalidOperation, sig.UnwindDetail)
		}
		return nil
	}

	d.stack = append(d.stack, &frameContext{fr: frame.New(entryPath), fn: fn})
	d.backtrace.Push(backtrace.Site{FuncPath: entryPath})

	return d.loop()
}

func (d *Driver) loop() error {
	for len(d.stack) > 0 {
		ctx := d.stack[len(d.stack)-1]

		if ctx.fr.PC >= len(ctx.fn.Instructions) {
			return d.propagate(fault.New(fault.InvalidJump, "instruction stream exhausted without a return or halt"))
		}
		ins := ctx.fn.Instructions[ctx.fr.PC]
		ctx.fr.PC++

		var result core.StepResult
		var err error
		if (ins.Op == bytecode.StackDeref || ins.Op == bytecode.StackStore) && ins.Level != 0 {
			result, err = d.handleCrossFrameStack(ins)
		} else {
			result, err = d.core.Step(ins, ctx.fr, d.conts, d.heap, d.module)
		}
		if err != nil {
			return d.propagate(err)
		}

		switch result.Signal {
		case core.SignalContinue:
			continue
		case core.SignalStop:
			return nil
		case core.SignalReturn:
			d.popFrame()
		case core.SignalCall:
			if err := d.handleCall(result.CallTarget); err != nil {
				return d.propagate(err)
			}
		case core.SignalCallContinuation:
			if err := d.handleCallContinuation(result.ContinuationHandle); err != nil {
				return d.propagate(err)
			}
		}
	}
	return nil
}

// handleCrossFrameStack answers a StackDeref/StackStore whose Level names an ancestor
// frame: Level counts up the parent chain from the current frame (0), so the target
// frame sits at index len(d.stack)-1-Level in d.stack. A Level past the root frame
// faults StackFrameOutOfBounds rather than panicking on a negative index.
func (d *Driver) handleCrossFrameStack(ins bytecode.Instruction) (core.StepResult, error) {
	idx := len(d.stack) - 1 - int(ins.Level)
	if idx < 0 {
		return core.StepResult{}, fault.New(fault.StackFrameOutOfBounds, "stack level exceeds the live frame chain")
	}
	target := d.stack[idx].fr

	switch ins.Op {
	case bytecode.StackDeref:
		v, err := target.GetValue(int(ins.Offset), ins.Kind)
		if err != nil {
			return core.StepResult{}, err
		}
		if err := d.core.Regs.Set(ins.Dst, v); err != nil {
			return core.StepResult{}, err
		}
	case bytecode.StackStore:
		v, err := d.core.Regs.Get(ins.Src1)
		if err != nil {
			return core.StepResult{}, err
		}
		if err := target.SetValue(int(ins.Offset), v); err != nil {
			return core.StepResult{}, err
		}
	}
	return core.StepResult{Signal: core.SignalContinue}, nil
}

// popFrame restores the caller's callee-saved registers and pops the backtrace, the
// mirror image of handleCall's push.
func (d *Driver) popFrame() {
	ctx := d.stack[len(d.stack)-1]
	d.stack = d.stack[:len(d.stack)-1]

	live := d.core.Regs.All()
	ctx.fr.Restore(live, core.CalleeSavedStart)
	d.core.Regs.SetAll(live)

	if ctx.inContinuation {
		d.contDepth--
	}
	d.core.SetInContinuation(len(d.stack) > 0 && d.stack[len(d.stack)-1].inContinuation)

	d.backtrace.Pop()
}

func (d *Driver) handleCall(path []string) error {
	fn, err := d.module.Lookup(path)
	if err != nil {
		return err
	}

	caller := d.stack[len(d.stack)-1]

	if fn.Kind == module.NativeFunction {
		sig, err := fn.Native(caller.fr, d.heap, d.conts)
		if err != nil {
			return err
		}
		switch sig.Kind {
		case module.NativeContinue:
			return nil
		case module.NativeStop:
			d.stack = nil
			return nil
		case module.NativeUnwind:
			return fault.New(fault.InvalidOperation, sig.UnwindDetail)
		}
		return nil
	}

	snap := d.core.Regs.All()
	newFr := frame.New(path)
	newFr.Backup(snap, core.CalleeSavedStart)

	d.stack = append(d.stack, &frameContext{fr: newFr, fn: fn})
	d.core.SetInContinuation(false)
	d.backtrace.Push(backtrace.Site{FuncPath: path})
	return nil
}

// handleCallContinuation resumes a previously captured continuation by pushing its
// shared frame back onto the driver's frame chain at the captured PC, marking the
// core as executing inside a continuation resume for the duration.
func (d *Driver) handleCallContinuation(h continuation.Handle) error {
	cont, ok := d.conts.Resolve(h)
	if !ok {
		return fault.New(fault.ContinuationNotFound, "")
	}
	fn, err := d.module.Lookup(cont.Frame.FuncPath)
	if err != nil {
		return err
	}
	cont.ResetProgramCounter()
	d.contDepth++
	d.core.SetInContinuation(true)
	d.stack = append(d.stack, &frameContext{fr: cont.Frame, fn: fn, inContinuation: true})
	d.backtrace.Push(backtrace.Site{FuncPath: cont.Frame.FuncPath})
	return nil
}

// propagate abandons the entire frame chain on a fault and returns it to CallMain's
// caller. The backtrace is deliberately left untouched: there is no in-engine catch,
// so the trace as it stood at the moment of the fault is exactly what the caller wants
// to display. backtrace.BeginUnwind/CollapseUnwind are not called on this path.
func (d *Driver) propagate(f error) error {
	d.stack = nil
	return f
}
