// Package bytecode defines the engine's instruction encoding: a fixed Opcode set plus
// a decoded Instruction struct the core package dispatches one at a time. A byte
// Opcode carries a bidirectional string<->opcode map built in init(), plus
// classification predicate methods (IsRegisterWriteOp/IsStackOp/...) that downstream
// code queries instead of hand-rolling switch statements everywhere.
package bytecode

import "gvm/value"

type Opcode uint8

const (
	Nop Opcode = iota

	LoadImmediate // Dst = Imm
	Move          // Dst = Src1

	Add
	Sub
	Mul
	Div
	Mod

	BitAnd
	BitOr
	BitXor
	BitNot
	ShiftLeft
	ShiftRight

	Compare
	Transmute

	Goto

	Push
	Pop

	StackDeref
	StackStore

	Call
	Return

	NativeCall

	MakeContinuation
	CallContinuation
	InContinuation // Dst = 1 if the live frame is a resumed continuation, else 0

	CreateObject // Dst = handle of a freshly allocated heap object
	GetStringRef // Dst = handle of the interned string at StringPath/StringIndex
	CreateList   // Dst = handle of a freshly allocated list of length Src1, element Kind
	ListAccess   // Dst = Src1[Src2] (Src1 a list handle, Src2 an index register)
	ListStore    // Dst[Src1] = Src2 (Dst a list handle, Src1 an index register)

	Halt
)

var opcodeNames = map[Opcode]string{
	Nop:              "nop",
	LoadImmediate:    "loadimm",
	Move:             "move",
	Add:              "add",
	Sub:              "sub",
	Mul:              "mul",
	Div:              "div",
	Mod:              "mod",
	BitAnd:           "and",
	BitOr:            "or",
	BitXor:           "xor",
	BitNot:           "not",
	ShiftLeft:        "shl",
	ShiftRight:       "shr",
	Compare:          "cmp",
	Transmute:        "transmute",
	Goto:             "goto",
	Push:             "push",
	Pop:              "pop",
	StackDeref:       "sderef",
	StackStore:       "sstore",
	Call:             "call",
	Return:           "return",
	NativeCall:       "nativecall",
	MakeContinuation: "makecont",
	CallContinuation: "callcont",
	InContinuation:   "incont",
	CreateObject:     "newobject",
	GetStringRef:     "getstringref",
	CreateList:       "newlist",
	ListAccess:       "listaccess",
	ListStore:        "liststore",
	Halt:             "halt",
}

var namesToOpcode map[string]Opcode

func init() {
	namesToOpcode = make(map[string]Opcode, len(opcodeNames))
	for op, name := range opcodeNames {
		namesToOpcode[name] = op
	}
}

func (o Opcode) String() string {
	if s, ok := opcodeNames[o]; ok {
		return s
	}
	return "?unknown?"
}

// Lookup resolves a mnemonic to its Opcode, for asmtext.
func Lookup(name string) (Opcode, bool) {
	op, ok := namesToOpcode[name]
	return op, ok
}

func (o Opcode) IsArithmeticOp() bool {
	switch o {
	case Add, Sub, Mul, Div, Mod:
		return true
	default:
		return false
	}
}

func (o Opcode) IsBitwiseOp() bool {
	switch o {
	case BitAnd, BitOr, BitXor, BitNot, ShiftLeft, ShiftRight:
		return true
	default:
		return false
	}
}

// IsRegisterWriteOp reports whether Dst is written by this instruction.
func (o Opcode) IsRegisterWriteOp() bool {
	switch o {
	case LoadImmediate, Move, Add, Sub, Mul, Div, Mod,
		BitAnd, BitOr, BitXor, BitNot, ShiftLeft, ShiftRight,
		Transmute, Pop, StackDeref, MakeContinuation, InContinuation,
		CreateObject, GetStringRef, CreateList, ListAccess:
		return true
	default:
		return false
	}
}

func (o Opcode) IsStackOp() bool {
	switch o {
	case Push, Pop, StackDeref, StackStore:
		return true
	default:
		return false
	}
}

func (o Opcode) IsControlFlowOp() bool {
	switch o {
	case Goto, Call, Return, CallContinuation:
		return true
	default:
		return false
	}
}

// JumpTargetKind distinguishes how a Goto/Call resolves its destination.
type JumpTargetKind uint8

const (
	Absolute JumpTargetKind = iota
	Relative
	// Label is only valid in text emitted by asmtext before label resolution; a core
	// that decodes an unresolved Label target faults with InvalidJump.
	Label
)

type JumpTarget struct {
	Kind  JumpTargetKind
	Value int64
	Name  string
}

// Condition guards a Goto against the core's observed comparison flag.
type Condition uint8

const (
	Always Condition = iota
	IfEqual
	IfNotEqual
	IfLessThan
	IfLessThanOrEqual
	IfGreaterThan
	IfGreaterThanOrEqual
	IfCarry
	IfZero
	IfNegative
)

// ComparisonType is Compare's relational-kind operand: it picks which relation between
// lhs and rhs the instruction reports, independent of the operands' actual ordering.
type ComparisonType uint8

const (
	CompareEqual ComparisonType = iota
	CompareNotEqual
	CompareLessThan
	CompareLessThanOrEqual
	CompareGreaterThan
	CompareGreaterThanOrEqual
)

// Instruction is the engine's single instruction encoding. Which fields are
// meaningful depends on Op; see core's dispatch for the authoritative reading of
// each field per opcode.
type Instruction struct {
	Op   Opcode
	Dst  uint8
	Src1 uint8
	Src2 uint8

	Kind value.Kind // operand width/type for arithmetic/compare/transmute/stack ops
	Imm  value.Value

	// CanWrap and UseCarry only apply to Add/Sub/Mul/Div: CanWrap turns an overflow
	// from a fault into a wrapped result with Carry set; UseCarry folds a prior
	// Carry flag into the operation as a chained add/subtract-with-carry.
	CanWrap  bool
	UseCarry bool

	Target JumpTarget
	Cond   Condition

	// CompareKind selects which relation Compare reports between Src1 and Src2.
	CompareKind ComparisonType

	Level  uint32 // StackDeref/StackStore: how many parent frames up (0 = current)
	Offset uint32 // StackDeref/StackStore: byte offset within that frame's stack

	FuncPath   []string // Call: direct target; NativeCall: registered native name path
	NativeName string

	// StringPath/StringIndex address GetStringRef's interned string: StringPath is the
	// absolute module path (including the owning module's own name, matching the key
	// Module.AddStringsToMemory built when it pre-warmed the heap's intern table), and
	// StringIndex selects the entry within that module's string table.
	StringPath  []string
	StringIndex int
}

func (ins Instruction) String() string {
	switch {
	case ins.Op.IsArithmeticOp() || ins.Op.IsBitwiseOp():
		return ins.Op.String() + "." + kindSuffix(ins.Kind)
	case ins.Op == Call:
		if len(ins.FuncPath) > 0 {
			return "call " + joinPath(ins.FuncPath)
		}
		return "call"
	case ins.Op == NativeCall:
		return "nativecall " + ins.NativeName
	default:
		return ins.Op.String()
	}
}

func kindSuffix(k value.Kind) string {
	switch k {
	case value.U8:
		return "u8"
	case value.I8:
		return "i8"
	case value.U16:
		return "u16"
	case value.I16:
		return "i16"
	case value.U32:
		return "u32"
	case value.I32:
		return "i32"
	case value.U64:
		return "u64"
	case value.I64:
		return "i64"
	case value.F32:
		return "f32"
	case value.F64:
		return "f64"
	default:
		return "ref"
	}
}

func joinPath(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += "::"
		}
		out += p
	}
	return out
}
