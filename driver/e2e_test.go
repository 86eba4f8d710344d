package driver

import (
	"testing"

	"gvm/asmtext"
	"gvm/bytecode"
	"gvm/fault"
	"gvm/module"
	"gvm/nativefn"
	"gvm/value"
)

// TestIterativeFibonacciReachesExpectedTerm walks the classic register-shuffle
// iterative Fibonacci: r4 = r1+r2, r1 = r2, r2 = r4, incrementing r3 each pass until
// it reaches the loop bound, landing the 10th term in r2.
func TestIterativeFibonacciReachesExpectedTerm(t *testing.T) {
	c, mod, h, bt := newHarness()
	ins, err := asmtext.Parse(`
		loadimm.i32 r1, #0
		loadimm.i32 r2, #1
		loadimm.i32 r3, #2
		loadimm.i32 r6, #11
		loadimm.i32 r5, #1
	loop:
		add.i32 r4, r1, r2
		move r1, r2
		move r2, r4
		add.i32 r3, r3, r5
		cmp.i32 r3, r6
		goto.ifne loop
		halt
	`)
	assert(t, err == nil, "unexpected parse error: %v", err)
	assert(t, mod.AddFunction("main", ins) == nil, "unexpected error adding main")

	err = CallMain(c, mod, h, bt, []string{"main"})
	assert(t, err == nil, "unexpected error: %v", err)
	v, _ := c.Regs.Get(2)
	assert(t, v.I32() == 55, "expected the 10th Fibonacci term 55, got %d", v.I32())
}

// TestRecursiveFibonacciReachesExpectedTerm defines a self-recursive "fib" function
// (base case under 2, otherwise fib(n-1)+fib(n-2)) and calls it with n=10, exercising
// Call/Return, the operand stack, and callee-saved register preservation together.
func TestRecursiveFibonacciReachesExpectedTerm(t *testing.T) {
	c, mod, h, bt := newHarness()
	ins, err := asmtext.Parse(`
		loadimm.i32 r2, #2
		cmp.i32 r1, r2
		goto.iflt base
		push.i32 r1
		loadimm.i32 r3, #1
		sub.i32 r1, r1, r3
		call fib
		move r8, r0
		pop.i32 r1
		loadimm.i32 r3, #2
		sub.i32 r1, r1, r3
		call fib
		add.i32 r0, r8, r0
		goto done
	base:
		move r0, r1
	done:
		return
	`)
	assert(t, err == nil, "unexpected parse error: %v", err)
	// asmtext's cmp always parses as CompareEqual; the base-case test needs LessThan.
	ins[1].CompareKind = bytecode.CompareLessThan
	assert(t, mod.AddFunction("fib", ins) == nil, "unexpected error adding fib")

	c.Regs.Set(1, value.NewI32(10))
	err = CallMain(c, mod, h, bt, []string{"fib"})
	assert(t, err == nil, "unexpected error: %v", err)
	v, _ := c.Regs.Get(0)
	assert(t, v.I32() == 55, "expected fib(10) == 55, got %d", v.I32())
}

// TestHelloWorldWritesToStdout allocates a greeting string, pushes its handle onto
// main's operand stack, and invokes the host write_stdout function, checking the
// program terminates cleanly with no fault.
func TestHelloWorldWritesToStdout(t *testing.T) {
	c, mod, h, bt := newHarness()
	handle, err := h.AllocateString([]byte("Hello, world!\n"))
	assert(t, err == nil, "unexpected error: %v", err)

	assert(t, mod.AddFunction("main", []bytecode.Instruction{
		{Op: bytecode.LoadImmediate, Dst: 0, Imm: value.NewStringRef(uint64(handle))},
		{Op: bytecode.Push, Src1: 0, Kind: value.StringRef},
		{Op: bytecode.NativeCall, FuncPath: []string{"host", "write_stdout"}},
		{Op: bytecode.Halt},
	}) == nil, "unexpected error adding main")

	host := module.New("host")
	assert(t, host.AddNativeFunction("write_stdout", nativefn.WriteStdout) == nil, "unexpected error adding write_stdout")
	assert(t, mod.AddSubmodule(host) == nil, "unexpected error adding host submodule")

	err = CallMain(c, mod, h, bt, []string{"main"})
	assert(t, err == nil, "unexpected error: %v", err)
}

// TestGetStringRefWritesInternedStringToStdout interns a greeting through the module's
// string table (rather than bypassing it with a bare LoadImmediate) and resolves it at
// runtime with GetStringRef, confirming the handle it returns is the same one
// AddStringsToMemory pre-warmed into the heap.
func TestGetStringRefWritesInternedStringToStdout(t *testing.T) {
	c, mod, h, bt := newHarness()
	idx := mod.AddStrings([]byte("Hello, world!\n"))
	assert(t, mod.AddStringsToMemory(h, nil) == nil, "unexpected error interning strings")

	assert(t, mod.AddFunction("main", []bytecode.Instruction{
		{Op: bytecode.GetStringRef, Dst: 0, StringPath: []string{"main"}, StringIndex: idx},
		{Op: bytecode.Push, Src1: 0, Kind: value.StringRef},
		{Op: bytecode.NativeCall, FuncPath: []string{"host", "write_stdout"}},
		{Op: bytecode.Halt},
	}) == nil, "unexpected error adding main")

	host := module.New("host")
	assert(t, host.AddNativeFunction("write_stdout", nativefn.WriteStdout) == nil, "unexpected error adding write_stdout")
	assert(t, mod.AddSubmodule(host) == nil, "unexpected error adding host submodule")

	err := CallMain(c, mod, h, bt, []string{"main"})
	assert(t, err == nil, "unexpected error: %v", err)
}

// TestCrossFrameStackStoreMutatesCallersSlot has main push a value onto its own
// operand stack, call helper, and has helper reach across the frame boundary with
// Level=1 to both read and overwrite that slot in main's frame before returning. Main
// then pops the slot and sees helper's write, confirming the driver (not core.Step,
// which cannot see parent frames) resolved the cross-frame access.
func TestCrossFrameStackStoreMutatesCallersSlot(t *testing.T) {
	c, mod, h, bt := newHarness()
	assert(t, mod.AddFunction("main", []bytecode.Instruction{
		{Op: bytecode.LoadImmediate, Dst: 1, Imm: value.NewI32(10)},
		{Op: bytecode.Push, Src1: 1, Kind: value.I32},
		{Op: bytecode.Call, FuncPath: []string{"helper"}},
		{Op: bytecode.Pop, Dst: 2, Kind: value.I32},
		{Op: bytecode.Halt},
	}) == nil, "unexpected error adding main")
	assert(t, mod.AddFunction("helper", []bytecode.Instruction{
		{Op: bytecode.StackDeref, Dst: 3, Level: 1, Offset: 0, Kind: value.I32},
		{Op: bytecode.LoadImmediate, Dst: 4, Imm: value.NewI32(5)},
		{Op: bytecode.Add, Dst: 3, Src1: 3, Src2: 4, Kind: value.I32},
		{Op: bytecode.StackStore, Src1: 3, Level: 1, Offset: 0, Kind: value.I32},
		{Op: bytecode.Return},
	}) == nil, "unexpected error adding helper")

	err := CallMain(c, mod, h, bt, []string{"main"})
	assert(t, err == nil, "unexpected error: %v", err)
	v, _ := c.Regs.Get(2)
	assert(t, v.I32() == 15, "expected helper's cross-frame store to land 15, got %d", v.I32())
}

// TestCrossFrameStackDerefBeyondRootFaults asks for a parent frame past the root of
// the call chain, which must fault StackFrameOutOfBounds rather than panic.
func TestCrossFrameStackDerefBeyondRootFaults(t *testing.T) {
	c, mod, h, bt := newHarness()
	assert(t, mod.AddFunction("main", []bytecode.Instruction{
		{Op: bytecode.StackDeref, Dst: 1, Level: 1, Offset: 0, Kind: value.I32},
		{Op: bytecode.Halt},
	}) == nil, "unexpected error adding main")

	err := CallMain(c, mod, h, bt, []string{"main"})
	assert(t, err != nil, "expected a stack-level-out-of-bounds fault")
	f, ok := err.(*fault.Fault)
	assert(t, ok, "expected a *fault.Fault, got %T", err)
	assert(t, f.Kind == fault.StackFrameOutOfBounds, "expected StackFrameOutOfBounds, got %v", f.Kind)
}

// TestDivisionByZeroFaultsWithBacktrace loads a zero divisor and confirms the fault
// propagates with a backtrace naming exactly the single active frame.
func TestDivisionByZeroFaultsWithBacktrace(t *testing.T) {
	c, mod, h, bt := newHarness()
	ins, err := asmtext.Parse(`
		loadimm.u64 r1, #10
		loadimm.u64 r2, #0
		div.u64 r1, r1, r2
		halt
	`)
	assert(t, err == nil, "unexpected parse error: %v", err)
	assert(t, mod.AddFunction("main", ins) == nil, "unexpected error adding main")

	err = CallMain(c, mod, h, bt, []string{"main"})
	assert(t, err != nil, "expected a division-by-zero fault")
	f, ok := err.(*fault.Fault)
	assert(t, ok, "expected a *fault.Fault, got %T", err)
	assert(t, f.Kind == fault.DivisionByZero, "expected DivisionByZero, got %v", f.Kind)

	sites := bt.Sites()
	assert(t, len(sites) == 1, "expected exactly one backtrace site, got %d", len(sites))
	assert(t, sites[0].FuncPath[0] == "main", "expected the backtrace to name main, got %v", sites[0].FuncPath)
}

// TestOverflowFaultsWithoutWrapAndWrapsWithCarry exercises both halves of the
// overflow-vs-wrap contract on the same u8 add: can_wrap=false faults, can_wrap=true
// wraps to 0 with carry and zero both set.
func TestOverflowFaultsWithoutWrapAndWrapsWithCarry(t *testing.T) {
	c, mod, h, bt := newHarness()
	ins, err := asmtext.Parse(`
		loadimm.u8 r1, #255
		loadimm.u8 r2, #1
		add.u8 r1, r1, r2
		halt
	`)
	assert(t, err == nil, "unexpected parse error: %v", err)
	assert(t, mod.AddFunction("main", ins) == nil, "unexpected error adding main")
	err = CallMain(c, mod, h, bt, []string{"main"})
	assert(t, err != nil, "expected an overflow fault without can_wrap")

	c2, mod2, h2, bt2 := newHarness()
	ins2, err := asmtext.Parse(`
		loadimm.u8 r1, #255
		loadimm.u8 r2, #1
		add.u8.wrap r1, r1, r2
		halt
	`)
	assert(t, err == nil, "unexpected parse error: %v", err)
	assert(t, mod2.AddFunction("main", ins2) == nil, "unexpected error adding main")
	err = CallMain(c2, mod2, h2, bt2, []string{"main"})
	assert(t, err == nil, "unexpected error: %v", err)
	v, _ := c2.Regs.Get(1)
	assert(t, v.U8() == 0, "expected wrapped result 0, got %d", v.U8())
	assert(t, c2.Flags.Carry, "expected carry flag set")
	assert(t, c2.Flags.Zero, "expected zero flag set")
}
