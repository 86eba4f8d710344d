// Package core implements the CPU: a register file, comparison/arithmetic flags, and
// a single-step decode+dispatch function the driver calls in a loop. Step reads an
// already-decoded bytecode.Instruction, touches the RegisterFile/Flags/frame.Frame/
// continuation.Store plus the shared heap and module tree for the opcodes that need
// them, and returns a Signal the call driver acts on.
package core

import (
	"gvm/bytecode"
	"gvm/continuation"
	"gvm/fault"
	"gvm/frame"
	"gvm/heap"
	"gvm/module"
	"gvm/value"
)

const NumRegisters = 32

// CalleeSavedStart is the first callee-saved register index; 0..7 are caller-saved
// scratch registers.
const CalleeSavedStart = 8

// RegisterFile holds the engine's 32 typed registers.
type RegisterFile struct {
	regs [NumRegisters]value.Value
}

func NewRegisterFile() *RegisterFile {
	rf := &RegisterFile{}
	for i := range rf.regs {
		rf.regs[i] = value.NewU64(0)
	}
	return rf
}

func (rf *RegisterFile) Get(i uint8) (value.Value, error) {
	if int(i) >= NumRegisters {
		return value.Value{}, fault.New(fault.InvalidRegister, "register index out of range")
	}
	return rf.regs[i], nil
}

func (rf *RegisterFile) Set(i uint8, v value.Value) error {
	if int(i) >= NumRegisters {
		return fault.New(fault.InvalidRegister, "register index out of range")
	}
	rf.regs[i] = v
	return nil
}

// All returns every register as a typed value.Value slice, for frame.Backup/Restore
// to snapshot and later restore without losing each register's Kind across a call.
func (rf *RegisterFile) All() []value.Value {
	return append([]value.Value(nil), rf.regs[:]...)
}

// SetAll overwrites every register from a snapshot taken by All.
func (rf *RegisterFile) SetAll(snap []value.Value) {
	copy(rf.regs[:], snap)
}

// Comparison is the six-way observed relation Flags.Comparison tracks after a
// Compare instruction.
type Comparison int

const (
	CmpNone Comparison = iota
	CmpEqual
	CmpNotEqual
	CmpLessThan
	CmpLessThanOrEqual
	CmpGreaterThan
	CmpGreaterThanOrEqual
)

type Flags struct {
	Comparison Comparison
	Carry      bool
	Negative   bool
	Zero       bool
}

// Signal is what Step asks the driver to do next.
type Signal int

const (
	SignalContinue Signal = iota
	SignalStop
	SignalReturn
	SignalCall
	SignalCallContinuation
	SignalUnwind
)

type StepResult struct {
	Signal Signal

	CallTarget []string // SignalCall

	ContinuationHandle continuation.Handle // SignalCallContinuation

	UnwindDetail string // SignalUnwind
}

// Core is the CPU: a register file plus flags. inCont is set by the driver while
// resuming a captured continuation and cleared on an ordinary call, so
// InContinuation always reports the state of the *current* live frame, not of some
// enclosing continuation resume further down the frame chain.
type Core struct {
	Regs   *RegisterFile
	Flags  Flags
	inCont bool
}

func New() *Core {
	return &Core{Regs: NewRegisterFile()}
}

// SetInContinuation is called by the driver whenever the live frame changes: true
// when it resumes a continuation, false when it enters an ordinary call.
func (c *Core) SetInContinuation(v bool) { c.inCont = v }

// Step decodes and executes a single instruction against the given frame. h and mod
// give the heap-backed opcodes (CreateObject/GetStringRef/CreateList/ListAccess/
// ListStore) access to the shared object table and the module's interned strings.
func (c *Core) Step(ins bytecode.Instruction, fr *frame.Frame, conts *continuation.Store, h *heap.Memory, mod *module.Module) (StepResult, error) {
	switch ins.Op {
	case bytecode.Nop:
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.LoadImmediate:
		if err := c.Regs.Set(ins.Dst, ins.Imm); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.Move:
		v, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, v); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.Add, bytecode.Sub, bytecode.Mul, bytecode.Div, bytecode.Mod:
		return c.stepArithmetic(ins)

	case bytecode.BitAnd, bytecode.BitOr, bytecode.BitXor, bytecode.BitNot,
		bytecode.ShiftLeft, bytecode.ShiftRight:
		return c.stepBitwise(ins)

	case bytecode.Compare:
		return c.stepCompare(ins)

	case bytecode.Transmute:
		v, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		out, err := value.Transmute(v, ins.Kind)
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, out); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.Goto:
		return c.stepGoto(ins, fr)

	case bytecode.Push:
		v, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		if err := fr.Push(v); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.Pop:
		v, err := fr.Pop(ins.Kind)
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, v); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.StackDeref:
		if ins.Level != 0 {
			return StepResult{}, fault.New(fault.InvalidStackLevel, "core.Step cannot cross frames; driver must resolve Level > 0")
		}
		v, err := fr.GetValue(int(ins.Offset), ins.Kind)
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, v); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.StackStore:
		if ins.Level != 0 {
			return StepResult{}, fault.New(fault.InvalidStackLevel, "core.Step cannot cross frames; driver must resolve Level > 0")
		}
		v, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		if err := fr.SetValue(int(ins.Offset), v); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.Call, bytecode.NativeCall:
		return StepResult{Signal: SignalCall, CallTarget: ins.FuncPath}, nil

	case bytecode.Return:
		return StepResult{Signal: SignalReturn}, nil

	case bytecode.MakeContinuation:
		h := conts.Capture(fr)
		if err := c.Regs.Set(ins.Dst, value.NewU64(uint64(h))); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.CallContinuation:
		v, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalCallContinuation, ContinuationHandle: continuation.Handle(v.U64())}, nil

	case bytecode.InContinuation:
		result := value.NewU8(0)
		if c.inCont {
			result = value.NewU8(1)
		}
		if err := c.Regs.Set(ins.Dst, result); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.CreateObject:
		handle, err := h.AllocateObject()
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, value.NewObjectRef(uint64(handle))); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.GetStringRef:
		target, err := mod.Resolve(ins.StringPath)
		if err != nil {
			return StepResult{}, err
		}
		data, err := target.StringAt(ins.StringIndex)
		if err != nil {
			return StepResult{}, err
		}
		handle, err := h.AllocateStringRef(ins.StringPath, ins.StringIndex, data)
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, value.NewStringRef(uint64(handle))); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.CreateList:
		size, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		handle, err := h.AllocateList(int(size.U64()), ins.Kind)
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, value.NewArrayRef(uint64(handle))); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.ListAccess:
		list, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		idx, err := c.Regs.Get(ins.Src2)
		if err != nil {
			return StepResult{}, err
		}
		v, err := h.AccessList(heap.Handle(list.Ref()), int(idx.U64()))
		if err != nil {
			return StepResult{}, err
		}
		if err := c.Regs.Set(ins.Dst, v); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.ListStore:
		// ListStore has no destination register, so this instruction reuses Dst as the
		// list-handle source operand, the same way StackStore reuses Src1 as a value
		// source rather than a write target.
		list, err := c.Regs.Get(ins.Dst)
		if err != nil {
			return StepResult{}, err
		}
		idx, err := c.Regs.Get(ins.Src1)
		if err != nil {
			return StepResult{}, err
		}
		v, err := c.Regs.Get(ins.Src2)
		if err != nil {
			return StepResult{}, err
		}
		if err := h.StoreList(heap.Handle(list.Ref()), int(idx.U64()), v); err != nil {
			return StepResult{}, err
		}
		return StepResult{Signal: SignalContinue}, nil

	case bytecode.Halt:
		return StepResult{Signal: SignalStop}, nil

	default:
		return StepResult{}, fault.New(fault.InvalidInstruction, "unrecognized opcode")
	}
}

func (c *Core) stepArithmetic(ins bytecode.Instruction) (StepResult, error) {
	lhs, err := c.Regs.Get(ins.Src1)
	if err != nil {
		return StepResult{}, err
	}
	rhs, err := c.Regs.Get(ins.Src2)
	if err != nil {
		return StepResult{}, err
	}

	carryIn := ins.UseCarry && c.Flags.Carry
	var result value.Value
	var overflow bool
	switch ins.Op {
	case bytecode.Add:
		result, overflow, _, err = value.Add(ins.Kind, lhs, rhs, carryIn)
	case bytecode.Sub:
		result, overflow, _, err = value.Sub(ins.Kind, lhs, rhs, carryIn)
	case bytecode.Mul:
		result, overflow, err = value.Mul(ins.Kind, lhs, rhs)
	case bytecode.Div:
		result, overflow, err = value.Div(ins.Kind, lhs, rhs)
	case bytecode.Mod:
		result, err = value.Mod(ins.Kind, lhs, rhs)
	}
	if err != nil {
		return StepResult{}, err
	}

	// Float overflow is always reported false: Go's float arithmetic saturates to
	// +/-Inf rather than trapping, and this engine treats that as a representable
	// result, not a faulting condition.
	if ins.Kind.IsFloat() {
		overflow = false
	}

	if overflow && !ins.CanWrap {
		return StepResult{}, fault.New(fault.Overflow, "")
	}

	if err := c.Regs.Set(ins.Dst, result); err != nil {
		return StepResult{}, err
	}

	c.Flags.Carry = overflow && ins.CanWrap
	c.Flags.Zero = value.IsZero(result)
	c.Flags.Negative = value.IsNegative(result)
	if overflow {
		// An overflowing arithmetic op also invalidates any stale comparison state
		// rather than silently leaving a prior Compare's relation in place.
		c.Flags.Comparison = CmpNone
	}

	return StepResult{Signal: SignalContinue}, nil
}

func (c *Core) stepBitwise(ins bytecode.Instruction) (StepResult, error) {
	lhs, err := c.Regs.Get(ins.Src1)
	if err != nil {
		return StepResult{}, err
	}

	var result value.Value
	switch ins.Op {
	case bytecode.BitNot:
		result, err = value.Not(ins.Kind, lhs)
	case bytecode.ShiftLeft, bytecode.ShiftRight:
		var count value.Value
		count, err = c.Regs.Get(ins.Src2)
		if err == nil {
			// Shift counts are always read as an unsigned amount regardless of ins.Kind.
			if ins.Op == bytecode.ShiftLeft {
				result, err = value.ShiftLeft(ins.Kind, lhs, uint(count.U64()))
			} else {
				result, err = value.ShiftRight(ins.Kind, lhs, uint(count.U64()))
			}
		}
	default:
		var rhs value.Value
		rhs, err = c.Regs.Get(ins.Src2)
		if err == nil {
			switch ins.Op {
			case bytecode.BitAnd:
				result, err = value.And(ins.Kind, lhs, rhs)
			case bytecode.BitOr:
				result, err = value.Or(ins.Kind, lhs, rhs)
			case bytecode.BitXor:
				result, err = value.Xor(ins.Kind, lhs, rhs)
			}
		}
	}
	if err != nil {
		return StepResult{}, err
	}

	c.Flags.Zero = value.IsZero(result)
	c.Flags.Negative = value.IsNegative(result)

	if err := c.Regs.Set(ins.Dst, result); err != nil {
		return StepResult{}, err
	}
	return StepResult{Signal: SignalContinue}, nil
}

func (c *Core) stepCompare(ins bytecode.Instruction) (StepResult, error) {
	lhs, err := c.Regs.Get(ins.Src1)
	if err != nil {
		return StepResult{}, err
	}
	rhs, err := c.Regs.Get(ins.Src2)
	if err != nil {
		return StepResult{}, err
	}
	ord, err := value.Compare(ins.Kind, lhs, rhs)
	if err != nil {
		return StepResult{}, err
	}
	c.Flags.Comparison = compareResult(ins.CompareKind, ord)
	return StepResult{Signal: SignalContinue}, nil
}

// compareResult reports the relation Compare asked about (kind), given the actual
// three-way ordering between its operands. A request asking about one relation that
// does not hold reports the opposite relation actually observed, e.g. kind=LessThan
// with lhs >= rhs reports GreaterThanOrEqual, not merely "not less".
func compareResult(kind bytecode.ComparisonType, ord value.Ordering) Comparison {
	switch kind {
	case bytecode.CompareEqual:
		if ord == value.Equal {
			return CmpEqual
		}
		return CmpNotEqual
	case bytecode.CompareNotEqual:
		if ord != value.Equal {
			return CmpNotEqual
		}
		return CmpEqual
	case bytecode.CompareLessThan:
		if ord == value.Less {
			return CmpLessThan
		}
		return CmpGreaterThanOrEqual
	case bytecode.CompareLessThanOrEqual:
		if ord == value.Less || ord == value.Equal {
			return CmpLessThanOrEqual
		}
		return CmpGreaterThan
	case bytecode.CompareGreaterThan:
		if ord == value.Greater {
			return CmpGreaterThan
		}
		return CmpLessThanOrEqual
	case bytecode.CompareGreaterThanOrEqual:
		if ord == value.Greater || ord == value.Equal {
			return CmpGreaterThanOrEqual
		}
		return CmpLessThan
	default:
		return CmpNone
	}
}

// conditionHolds reports whether a Goto's Condition is satisfied by the current Flags.
func (c *Core) conditionHolds(cond bytecode.Condition) bool {
	switch cond {
	case bytecode.Always:
		return true
	case bytecode.IfEqual:
		return c.Flags.Comparison == CmpEqual
	case bytecode.IfNotEqual:
		return c.Flags.Comparison == CmpNotEqual
	case bytecode.IfLessThan:
		return c.Flags.Comparison == CmpLessThan
	case bytecode.IfLessThanOrEqual:
		return c.Flags.Comparison == CmpLessThanOrEqual
	case bytecode.IfGreaterThan:
		return c.Flags.Comparison == CmpGreaterThan
	case bytecode.IfGreaterThanOrEqual:
		return c.Flags.Comparison == CmpGreaterThanOrEqual
	case bytecode.IfCarry:
		return c.Flags.Carry
	case bytecode.IfZero:
		return c.Flags.Zero
	case bytecode.IfNegative:
		return c.Flags.Negative
	default:
		return false
	}
}

// stepGoto applies a taken branch directly to fr.PC; the driver's dispatch loop is
// expected to have already advanced PC past this instruction before calling Step, so
// a taken Absolute jump overwrites that advance and a taken Relative jump is additive
// to it.
func (c *Core) stepGoto(ins bytecode.Instruction, fr *frame.Frame) (StepResult, error) {
	if !c.conditionHolds(ins.Cond) {
		return StepResult{Signal: SignalContinue}, nil
	}
	switch ins.Target.Kind {
	case bytecode.Absolute:
		fr.PC = int(ins.Target.Value)
	case bytecode.Relative:
		fr.PC += int(ins.Target.Value)
	case bytecode.Label:
		return StepResult{}, fault.New(fault.InvalidJump, "unresolved label reached the core; labels must be resolved before execution")
	default:
		return StepResult{}, fault.New(fault.InvalidJump, "unrecognized jump target kind")
	}
	return StepResult{Signal: SignalContinue}, nil
}
