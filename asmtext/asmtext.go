// Package asmtext is a minimal line-oriented reader for hand-written instruction
// fixtures: one mnemonic per line, register/immediate/label operands, two-pass label
// resolution. It is not a general assembler — no directives, no macros, no const-pool
// packing — just enough text to build a []bytecode.Instruction for a test or a sample
// program without constructing the struct literal by hand. String literals are not
// expanded inline; this engine interns strings through a module's string table (see
// module.Module.AddStrings) instead.
package asmtext

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gvm/bytecode"
	"gvm/value"
)

var commentPattern = regexp.MustCompile(`;.*$`)

var kindSuffixes = map[string]value.Kind{
	"u8": value.U8, "i8": value.I8,
	"u16": value.U16, "i16": value.I16,
	"u32": value.U32, "i32": value.I32,
	"u64": value.U64, "i64": value.I64,
	"f32": value.F32, "f64": value.F64,
}

var conditionSuffixes = map[string]bytecode.Condition{
	"always":  bytecode.Always,
	"ifeq":    bytecode.IfEqual,
	"ifne":    bytecode.IfNotEqual,
	"iflt":    bytecode.IfLessThan,
	"ifle":    bytecode.IfLessThanOrEqual,
	"ifgt":    bytecode.IfGreaterThan,
	"ifge":    bytecode.IfGreaterThanOrEqual,
	"ifcarry": bytecode.IfCarry,
	"ifzero":  bytecode.IfZero,
	"ifneg":   bytecode.IfNegative,
}

// Parse reads a full program's text and returns its decoded instructions, with every
// label reference resolved to an absolute index into the returned slice.
func Parse(src string) ([]bytecode.Instruction, error) {
	labels := make(map[string]int)
	var raw []rawLine

	for n, line := range strings.Split(src, "\n") {
		line = commentPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasSuffix(line, ":") {
			labels[strings.TrimSuffix(line, ":")] = len(raw)
			continue
		}
		raw = append(raw, rawLine{n: n + 1, text: line})
	}

	out := make([]bytecode.Instruction, len(raw))
	for i, rl := range raw {
		ins, err := parseLine(rl.text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", rl.n, err)
		}
		out[i] = ins
	}

	for i := range out {
		if out[i].Target.Kind == bytecode.Label {
			idx, ok := labels[out[i].Target.Name]
			if !ok {
				return nil, fmt.Errorf("unresolved label %q", out[i].Target.Name)
			}
			out[i].Target = bytecode.JumpTarget{Kind: bytecode.Absolute, Value: int64(idx)}
		}
	}
	return out, nil
}

type rawLine struct {
	n    int
	text string
}

func parseLine(line string) (bytecode.Instruction, error) {
	fields := strings.Fields(line)
	mnemonic := fields[0]
	operands := strings.Join(fields[1:], " ")

	name, kind, cond, canWrap, useCarry, err := splitMnemonic(mnemonic)
	if err != nil {
		return bytecode.Instruction{}, err
	}
	op, ok := bytecode.Lookup(name)
	if !ok {
		return bytecode.Instruction{}, fmt.Errorf("unknown opcode %q", name)
	}

	ins := bytecode.Instruction{Op: op, Kind: kind, Cond: cond, CanWrap: canWrap, UseCarry: useCarry}

	toks := splitOperands(operands)
	switch {
	case op == bytecode.Call || op == bytecode.NativeCall:
		if len(toks) != 1 {
			return ins, fmt.Errorf("%s expects exactly one function path operand", name)
		}
		ins.FuncPath = strings.Split(toks[0], "::")
		if op == bytecode.NativeCall {
			ins.NativeName = toks[0]
		}

	case op == bytecode.Goto:
		if len(toks) != 1 {
			return ins, fmt.Errorf("goto expects exactly one target operand")
		}
		ins.Target, err = parseTarget(toks[0])
		if err != nil {
			return ins, err
		}

	case op.IsStackOp():
		ins, err = parseStackOperands(ins, op, toks)
		if err != nil {
			return ins, err
		}

	default:
		ins, err = parseRegisterOperands(ins, op, toks)
		if err != nil {
			return ins, err
		}
	}

	return ins, nil
}

// splitMnemonic pulls the ".kind", ".cond", ".wrap" and ".carry" dot-suffixes off an
// opcode name; all are optional and may appear in any order (e.g. "goto.ifeq",
// "add.i32", "add.u8.wrap.carry").
func splitMnemonic(m string) (name string, kind value.Kind, cond bytecode.Condition, canWrap, useCarry bool, err error) {
	parts := strings.Split(m, ".")
	name = parts[0]
	for _, suffix := range parts[1:] {
		switch suffix {
		case "wrap":
			canWrap = true
			continue
		case "carry":
			useCarry = true
			continue
		}
		if k, ok := kindSuffixes[suffix]; ok {
			kind = k
			continue
		}
		if c, ok := conditionSuffixes[suffix]; ok {
			cond = c
			continue
		}
		return "", 0, 0, false, false, fmt.Errorf("unrecognized mnemonic suffix %q", suffix)
	}
	return name, kind, cond, canWrap, useCarry, nil
}

func splitOperands(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = strings.TrimSpace(p)
	}
	return out
}

func parseTarget(tok string) (bytecode.JumpTarget, error) {
	switch {
	case strings.HasPrefix(tok, "abs:"):
		n, err := strconv.ParseInt(strings.TrimPrefix(tok, "abs:"), 10, 64)
		if err != nil {
			return bytecode.JumpTarget{}, err
		}
		return bytecode.JumpTarget{Kind: bytecode.Absolute, Value: n}, nil
	case strings.HasPrefix(tok, "rel:"):
		n, err := strconv.ParseInt(strings.TrimPrefix(tok, "rel:"), 10, 64)
		if err != nil {
			return bytecode.JumpTarget{}, err
		}
		return bytecode.JumpTarget{Kind: bytecode.Relative, Value: n}, nil
	default:
		return bytecode.JumpTarget{Kind: bytecode.Label, Name: tok}, nil
	}
}

func parseRegister(tok string) (uint8, error) {
	if !strings.HasPrefix(tok, "r") {
		return 0, fmt.Errorf("expected a register operand like r3, got %q", tok)
	}
	n, err := strconv.ParseUint(tok[1:], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid register %q: %w", tok, err)
	}
	return uint8(n), nil
}

// parseImmediate decodes a "#..." literal at the instruction's Kind width: a char
// literal ('x'), a float if it contains '.', a hex integer if prefixed 0x, else a
// plain decimal integer.
func parseImmediate(tok string, k value.Kind) (value.Value, error) {
	if !strings.HasPrefix(tok, "#") {
		return value.Value{}, fmt.Errorf("expected an immediate operand like #42, got %q", tok)
	}
	lit := tok[1:]

	if strings.HasPrefix(lit, "'") && strings.HasSuffix(lit, "'") && len(lit) == 3 {
		return valueFromInt(k, int64(lit[1]))
	}
	if strings.Contains(lit, ".") {
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return value.Value{}, err
		}
		if k == value.F32 {
			return value.NewF32(float32(f)), nil
		}
		return value.NewF64(f), nil
	}

	base := 10
	if strings.HasPrefix(lit, "0x") {
		base = 16
		lit = lit[2:]
	}
	n, err := strconv.ParseInt(lit, base, 64)
	if err != nil {
		u, uerr := strconv.ParseUint(lit, base, 64)
		if uerr != nil {
			return value.Value{}, err
		}
		return valueFromUint(k, u)
	}
	return valueFromInt(k, n)
}

func valueFromInt(k value.Kind, n int64) (value.Value, error) {
	switch k {
	case value.U8:
		return value.NewU8(uint8(n)), nil
	case value.I8:
		return value.NewI8(int8(n)), nil
	case value.U16:
		return value.NewU16(uint16(n)), nil
	case value.I16:
		return value.NewI16(int16(n)), nil
	case value.U32:
		return value.NewU32(uint32(n)), nil
	case value.I32:
		return value.NewI32(int32(n)), nil
	case value.U64:
		return value.NewU64(uint64(n)), nil
	case value.I64:
		return value.NewI64(n), nil
	case value.F32:
		return value.NewF32(float32(n)), nil
	case value.F64:
		return value.NewF64(float64(n)), nil
	default:
		return value.NewI64(n), nil
	}
}

func valueFromUint(k value.Kind, n uint64) (value.Value, error) {
	switch k {
	case value.U8:
		return value.NewU8(uint8(n)), nil
	case value.U16:
		return value.NewU16(uint16(n)), nil
	case value.U32:
		return value.NewU32(uint32(n)), nil
	case value.U64:
		return value.NewU64(n), nil
	default:
		return value.NewU64(n), nil
	}
}

// parseRegisterOperands fills Dst/Src1/Src2/Imm from positional operands, the shape
// shared by loadimm/move/arithmetic/bitwise/compare/transmute/incont.
func parseRegisterOperands(ins bytecode.Instruction, op bytecode.Opcode, toks []string) (bytecode.Instruction, error) {
	var regToks []string
	for _, t := range toks {
		if strings.HasPrefix(t, "#") {
			imm, err := parseImmediate(t, ins.Kind)
			if err != nil {
				return ins, err
			}
			ins.Imm = imm
			continue
		}
		regToks = append(regToks, t)
	}

	regs := make([]uint8, len(regToks))
	for i, t := range regToks {
		r, err := parseRegister(t)
		if err != nil {
			return ins, err
		}
		regs[i] = r
	}

	if op == bytecode.Compare {
		if len(regs) != 2 {
			return ins, fmt.Errorf("cmp requires exactly two register operands")
		}
		ins.Src1, ins.Src2 = regs[0], regs[1]
		return ins, nil
	}
	if op == bytecode.CallContinuation {
		if len(regs) != 1 {
			return ins, fmt.Errorf("callcont requires exactly one register operand")
		}
		ins.Src1 = regs[0]
		return ins, nil
	}

	switch len(regs) {
	case 0:
	case 1:
		// A lone register operand is always the destination (loadimm, incont); every
		// other opcode that reaches this function supplies at least a Dst and a Src1.
		ins.Dst = regs[0]
	case 2:
		ins.Dst, ins.Src1 = regs[0], regs[1]
	case 3:
		ins.Dst, ins.Src1, ins.Src2 = regs[0], regs[1], regs[2]
	default:
		return ins, fmt.Errorf("too many register operands for %s", op.String())
	}
	return ins, nil
}

// parseStackOperands handles push/pop/sderef/sstore, whose first operand is always a
// register and whose remaining operand (sderef/sstore only) is a byte offset literal.
func parseStackOperands(ins bytecode.Instruction, op bytecode.Opcode, toks []string) (bytecode.Instruction, error) {
	if len(toks) == 0 {
		return ins, fmt.Errorf("%s requires a register operand", op.String())
	}
	reg, err := parseRegister(toks[0])
	if err != nil {
		return ins, err
	}
	switch op {
	case bytecode.Push:
		ins.Src1 = reg
	default:
		ins.Dst = reg
	}

	if len(toks) > 1 {
		offTok := strings.TrimPrefix(toks[1], "#")
		n, err := strconv.ParseUint(offTok, 10, 32)
		if err != nil {
			return ins, fmt.Errorf("invalid stack offset %q: %w", toks[1], err)
		}
		ins.Offset = uint32(n)
	}
	return ins, nil
}
