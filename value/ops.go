package value

import (
	"math"

	"gvm/fault"
)

// Ordering is the tri-state result of Compare, mapped by core onto the six-way
// Flags.Comparison enum (Equal/NotEqual/LessThan/.../GreaterThanOrEqual).
type Ordering int

const (
	Less Ordering = iota
	Equal
	Greater
)

type uint_ interface{ ~uint8 | ~uint16 | ~uint32 | ~uint64 }
type sint_ interface{ ~int8 | ~int16 | ~int32 | ~int64 }

func addU[T uint_](a, b T) (T, bool, bool) {
	sum := a + b
	return sum, sum < a, sum < a
}

func subU[T uint_](a, b T) (T, bool, bool) {
	diff := a - b
	borrow := a < b
	return diff, borrow, borrow
}

func mulU[T uint_](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	product := a * b
	return product, product/a != b
}

func addS[T sint_](a, b T) (T, bool) {
	sum := a + b
	overflow := (a > 0 && b > 0 && sum < 0) || (a < 0 && b < 0 && sum >= 0)
	return sum, overflow
}

func subS[T sint_](a, b T) (T, bool) {
	diff := a - b
	overflow := (a >= 0 && b < 0 && diff < 0) || (a < 0 && b > 0 && diff >= 0)
	return diff, overflow
}

func mulS[T sint_](a, b T) (T, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	product := a * b
	// (-1) * MinInt wraps back to MinInt and passes the division check, so it is
	// caught separately.
	return product, product/a != b || (a == -1 && b < 0 && product < 0)
}

// Add performs a width-correct, two's-complement-wrapping addition and reports
// whether the mathematical result overflowed the destination width. carryIn/carryOut
// implement the carry-chain behavior arithmetic-with-carry instructions need.
func Add(k Kind, lhs, rhs Value, carryIn bool) (Value, bool, bool, error) {
	if k.IsFloat() {
		sum, err := addFloat(k, lhs, rhs)
		return sum, false, false, err
	}
	if !k.IsInteger() {
		return Value{}, false, false, fault.New(fault.InvalidOperation, "add requires a numeric value")
	}
	var carryAdd uint64
	if carryIn {
		carryAdd = 1
	}
	switch k {
	case U8:
		r, ov1, c1 := addU(lhs.U8(), rhs.U8())
		r2, ov2, c2 := addU(r, uint8(carryAdd))
		return NewU8(r2), ov1 || ov2, c1 || c2, nil
	case U16:
		r, ov1, c1 := addU(lhs.U16(), rhs.U16())
		r2, ov2, c2 := addU(r, uint16(carryAdd))
		return NewU16(r2), ov1 || ov2, c1 || c2, nil
	case U32:
		r, ov1, c1 := addU(lhs.U32(), rhs.U32())
		r2, ov2, c2 := addU(r, uint32(carryAdd))
		return NewU32(r2), ov1 || ov2, c1 || c2, nil
	case U64:
		r, ov1, c1 := addU(lhs.U64(), rhs.U64())
		r2, ov2, c2 := addU(r, carryAdd)
		return NewU64(r2), ov1 || ov2, c1 || c2, nil
	case I8:
		r, ov1 := addS(lhs.I8(), rhs.I8())
		r2, ov2 := addS(r, int8(carryAdd))
		return NewI8(r2), ov1 || ov2, false, nil
	case I16:
		r, ov1 := addS(lhs.I16(), rhs.I16())
		r2, ov2 := addS(r, int16(carryAdd))
		return NewI16(r2), ov1 || ov2, false, nil
	case I32:
		r, ov1 := addS(lhs.I32(), rhs.I32())
		r2, ov2 := addS(r, int32(carryAdd))
		return NewI32(r2), ov1 || ov2, false, nil
	case I64:
		r, ov1 := addS(lhs.I64(), rhs.I64())
		r2, ov2 := addS(r, int64(carryAdd))
		return NewI64(r2), ov1 || ov2, false, nil
	default:
		return Value{}, false, false, fault.New(fault.InvalidOperation, "unsupported add kind")
	}
}

func addFloat(k Kind, lhs, rhs Value) (Value, error) {
	switch k {
	case F32:
		return NewF32(lhs.F32() + rhs.F32()), nil
	case F64:
		return NewF64(lhs.F64() + rhs.F64()), nil
	default:
		return Value{}, fault.New(fault.InvalidOperation, "unsupported float add kind")
	}
}

// Sub mirrors Add: borrowIn feeds a subtract-with-borrow chain, borrowOut reports one.
func Sub(k Kind, lhs, rhs Value, borrowIn bool) (Value, bool, bool, error) {
	if k.IsFloat() {
		switch k {
		case F32:
			return NewF32(lhs.F32() - rhs.F32()), false, false, nil
		case F64:
			return NewF64(lhs.F64() - rhs.F64()), false, false, nil
		}
	}
	if !k.IsInteger() {
		return Value{}, false, false, fault.New(fault.InvalidOperation, "sub requires a numeric value")
	}
	var borrowSub uint64
	if borrowIn {
		borrowSub = 1
	}
	switch k {
	case U8:
		r, ov1, c1 := subU(lhs.U8(), rhs.U8())
		r2, ov2, c2 := subU(r, uint8(borrowSub))
		return NewU8(r2), ov1 || ov2, c1 || c2, nil
	case U16:
		r, ov1, c1 := subU(lhs.U16(), rhs.U16())
		r2, ov2, c2 := subU(r, uint16(borrowSub))
		return NewU16(r2), ov1 || ov2, c1 || c2, nil
	case U32:
		r, ov1, c1 := subU(lhs.U32(), rhs.U32())
		r2, ov2, c2 := subU(r, uint32(borrowSub))
		return NewU32(r2), ov1 || ov2, c1 || c2, nil
	case U64:
		r, ov1, c1 := subU(lhs.U64(), rhs.U64())
		r2, ov2, c2 := subU(r, borrowSub)
		return NewU64(r2), ov1 || ov2, c1 || c2, nil
	case I8:
		r, ov1 := subS(lhs.I8(), rhs.I8())
		r2, ov2 := subS(r, int8(borrowSub))
		return NewI8(r2), ov1 || ov2, false, nil
	case I16:
		r, ov1 := subS(lhs.I16(), rhs.I16())
		r2, ov2 := subS(r, int16(borrowSub))
		return NewI16(r2), ov1 || ov2, false, nil
	case I32:
		r, ov1 := subS(lhs.I32(), rhs.I32())
		r2, ov2 := subS(r, int32(borrowSub))
		return NewI32(r2), ov1 || ov2, false, nil
	case I64:
		r, ov1 := subS(lhs.I64(), rhs.I64())
		r2, ov2 := subS(r, int64(borrowSub))
		return NewI64(r2), ov1 || ov2, false, nil
	default:
		return Value{}, false, false, fault.New(fault.InvalidOperation, "unsupported sub kind")
	}
}

// Mul reports overflow the way Add does; there is no carry chain for multiply.
func Mul(k Kind, lhs, rhs Value) (Value, bool, error) {
	switch k {
	case F32:
		return NewF32(lhs.F32() * rhs.F32()), false, nil
	case F64:
		return NewF64(lhs.F64() * rhs.F64()), false, nil
	case U8:
		r, ov := mulU(lhs.U8(), rhs.U8())
		return NewU8(r), ov, nil
	case U16:
		r, ov := mulU(lhs.U16(), rhs.U16())
		return NewU16(r), ov, nil
	case U32:
		r, ov := mulU(lhs.U32(), rhs.U32())
		return NewU32(r), ov, nil
	case U64:
		r, ov := mulU(lhs.U64(), rhs.U64())
		return NewU64(r), ov, nil
	case I8:
		r, ov := mulS(lhs.I8(), rhs.I8())
		return NewI8(r), ov, nil
	case I16:
		r, ov := mulS(lhs.I16(), rhs.I16())
		return NewI16(r), ov, nil
	case I32:
		r, ov := mulS(lhs.I32(), rhs.I32())
		return NewI32(r), ov, nil
	case I64:
		r, ov := mulS(lhs.I64(), rhs.I64())
		return NewI64(r), ov, nil
	default:
		return Value{}, false, fault.New(fault.InvalidOperation, "unsupported mul kind")
	}
}

// Div faults on a zero divisor rather than returning an infinity, including for the
// float kinds, so dispatch never needs to special-case NaN propagation downstream.
func Div(k Kind, lhs, rhs Value) (Value, bool, error) {
	switch k {
	case F32:
		if rhs.F32() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "float division by zero")
		}
		return NewF32(lhs.F32() / rhs.F32()), false, nil
	case F64:
		if rhs.F64() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "float division by zero")
		}
		return NewF64(lhs.F64() / rhs.F64()), false, nil
	case U8:
		if rhs.U8() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		return NewU8(lhs.U8() / rhs.U8()), false, nil
	case U16:
		if rhs.U16() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		return NewU16(lhs.U16() / rhs.U16()), false, nil
	case U32:
		if rhs.U32() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		return NewU32(lhs.U32() / rhs.U32()), false, nil
	case U64:
		if rhs.U64() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		return NewU64(lhs.U64() / rhs.U64()), false, nil
	case I8:
		if rhs.I8() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		overflow := lhs.I8() == math.MinInt8 && rhs.I8() == -1
		return NewI8(lhs.I8() / rhs.I8()), overflow, nil
	case I16:
		if rhs.I16() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		overflow := lhs.I16() == math.MinInt16 && rhs.I16() == -1
		return NewI16(lhs.I16() / rhs.I16()), overflow, nil
	case I32:
		if rhs.I32() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		overflow := lhs.I32() == math.MinInt32 && rhs.I32() == -1
		return NewI32(lhs.I32() / rhs.I32()), overflow, nil
	case I64:
		if rhs.I64() == 0 {
			return Value{}, false, fault.New(fault.DivisionByZero, "")
		}
		overflow := lhs.I64() == math.MinInt64 && rhs.I64() == -1
		return NewI64(lhs.I64() / rhs.I64()), overflow, nil
	default:
		return Value{}, false, fault.New(fault.InvalidOperation, "unsupported div kind")
	}
}

// Mod follows Div's zero-divisor fault discipline.
func Mod(k Kind, lhs, rhs Value) (Value, error) {
	switch k {
	case F32:
		if rhs.F32() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "float modulo by zero")
		}
		return NewF32(float32(math.Mod(float64(lhs.F32()), float64(rhs.F32())))), nil
	case F64:
		if rhs.F64() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "float modulo by zero")
		}
		return NewF64(math.Mod(lhs.F64(), rhs.F64())), nil
	case U8:
		if rhs.U8() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewU8(lhs.U8() % rhs.U8()), nil
	case U16:
		if rhs.U16() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewU16(lhs.U16() % rhs.U16()), nil
	case U32:
		if rhs.U32() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewU32(lhs.U32() % rhs.U32()), nil
	case U64:
		if rhs.U64() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewU64(lhs.U64() % rhs.U64()), nil
	case I8:
		if rhs.I8() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewI8(lhs.I8() % rhs.I8()), nil
	case I16:
		if rhs.I16() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewI16(lhs.I16() % rhs.I16()), nil
	case I32:
		if rhs.I32() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewI32(lhs.I32() % rhs.I32()), nil
	case I64:
		if rhs.I64() == 0 {
			return Value{}, fault.New(fault.DivisionByZero, "")
		}
		return NewI64(lhs.I64() % rhs.I64()), nil
	default:
		return Value{}, fault.New(fault.InvalidOperation, "unsupported mod kind")
	}
}

func bitwise(k Kind, lhs, rhs Value, op func(a, b uint64) uint64) (Value, error) {
	if !k.IsInteger() {
		return Value{}, fault.New(fault.InvalidOperation, "bitwise op requires an integer value")
	}
	result := op(lhs.bits, rhs.bits)
	mask := uint64(1)<<(uint(k.Size())*8) - 1
	if k.Size() == 8 {
		mask = math.MaxUint64
	}
	return fromBits(k, result&mask), nil
}

func And(k Kind, lhs, rhs Value) (Value, error) {
	return bitwise(k, lhs, rhs, func(a, b uint64) uint64 { return a & b })
}

func Or(k Kind, lhs, rhs Value) (Value, error) {
	return bitwise(k, lhs, rhs, func(a, b uint64) uint64 { return a | b })
}

func Xor(k Kind, lhs, rhs Value) (Value, error) {
	return bitwise(k, lhs, rhs, func(a, b uint64) uint64 { return a ^ b })
}

func Not(k Kind, v Value) (Value, error) {
	if !k.IsInteger() {
		return Value{}, fault.New(fault.InvalidOperation, "not requires an integer value")
	}
	mask := uint64(1)<<(uint(k.Size())*8) - 1
	if k.Size() == 8 {
		mask = math.MaxUint64
	}
	return fromBits(k, ^v.bits&mask), nil
}

// ShiftLeft is always a logical shift regardless of signedness.
func ShiftLeft(k Kind, v Value, amount uint) (Value, error) {
	if !k.IsInteger() {
		return Value{}, fault.New(fault.InvalidOperation, "shift requires an integer value")
	}
	width := uint(k.Size()) * 8
	mask := uint64(1)<<width - 1
	if width == 64 {
		mask = math.MaxUint64
	}
	if amount >= width {
		return fromBits(k, 0), nil
	}
	return fromBits(k, (v.bits<<amount)&mask), nil
}

// ShiftRight is arithmetic (sign-extending) for signed kinds, logical for unsigned.
func ShiftRight(k Kind, v Value, amount uint) (Value, error) {
	width := uint(k.Size()) * 8
	if amount >= width {
		amount = width - 1
	}
	switch k {
	case U8:
		return NewU8(v.U8() >> amount), nil
	case U16:
		return NewU16(v.U16() >> amount), nil
	case U32:
		return NewU32(v.U32() >> amount), nil
	case U64:
		return NewU64(v.U64() >> amount), nil
	case I8:
		return NewI8(v.I8() >> amount), nil
	case I16:
		return NewI16(v.I16() >> amount), nil
	case I32:
		return NewI32(v.I32() >> amount), nil
	case I64:
		return NewI64(v.I64() >> amount), nil
	default:
		return Value{}, fault.New(fault.InvalidOperation, "unsupported shift kind")
	}
}

// Compare reports the observed relation between two values of the same kind.
func Compare(k Kind, lhs, rhs Value) (Ordering, error) {
	switch k {
	case U8:
		return cmp(lhs.U8(), rhs.U8()), nil
	case U16:
		return cmp(lhs.U16(), rhs.U16()), nil
	case U32:
		return cmp(lhs.U32(), rhs.U32()), nil
	case U64:
		return cmp(lhs.U64(), rhs.U64()), nil
	case I8:
		return cmp(lhs.I8(), rhs.I8()), nil
	case I16:
		return cmp(lhs.I16(), rhs.I16()), nil
	case I32:
		return cmp(lhs.I32(), rhs.I32()), nil
	case I64:
		return cmp(lhs.I64(), rhs.I64()), nil
	case F32:
		return cmp(lhs.F32(), rhs.F32()), nil
	case F64:
		return cmp(lhs.F64(), rhs.F64()), nil
	case MemoryRef, ObjectRef, StringRef, ArrayRef:
		return cmp(lhs.bits, rhs.bits), nil
	default:
		return Equal, fault.New(fault.InvalidOperation, "unsupported compare kind")
	}
}

func cmp[T uint_ | sint_ | ~float32 | ~float64](a, b T) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// Transmute converts v to a value of kind to. Between integer kinds (including
// reference kinds, which carry a handle as a plain bit pattern) this is a bit-pattern
// operation: same-width is a raw reinterpretation, widening sign- or zero-extends,
// narrowing truncates. Floating/integer transmutes instead follow the host's standard
// value cast: a same-width int-to-float transmute still reinterprets the bit pattern
// (the classic "look at this register as a float" trick), but every other
// floating/integer combination - float to int of any width, and any differing-width
// float or int/float pair - goes through a real numeric conversion instead; float to
// int saturates when the source value doesn't fit the destination's range.
func Transmute(v Value, to Kind) (Value, error) {
	if v.kind.IsEmbedded() || to.IsEmbedded() {
		return Value{}, fault.New(fault.InvalidOperation, "cannot transmute an embedded value")
	}

	switch {
	case v.kind.IsFloat() && to.IsInteger():
		return transmuteFloatToInt(v, to), nil
	case v.kind.IsInteger() && to.IsFloat() && v.kind.Size() != to.Size():
		return transmuteIntToFloat(v, to), nil
	case v.kind.IsFloat() && to.IsFloat() && v.kind.Size() != to.Size():
		return transmuteFloatToFloat(v, to), nil
	}

	if v.kind.Size() == to.Size() {
		return fromBits(to, v.bits), nil
	}
	// Widening: sign-extend signed sources, zero-extend everything else.
	if to.Size() > v.kind.Size() {
		if v.kind.IsSigned() && v.kind.IsInteger() {
			return fromBits(to, uint64(signExtend(v.bits, v.kind.Size()))), nil
		}
		return fromBits(to, v.bits), nil
	}
	// Narrowing: truncate to the destination width's bit mask.
	mask := uint64(1)<<(uint(to.Size())*8) - 1
	if to.Size() == 8 {
		mask = math.MaxUint64
	}
	return fromBits(to, v.bits&mask), nil
}

func floatBits(v Value) float64 {
	if v.kind == F32 {
		return float64(v.F32())
	}
	return v.F64()
}

func clampToUint(f float64, max uint64) uint64 {
	if math.IsNaN(f) || f <= 0 {
		return 0
	}
	if f >= float64(max) {
		return max
	}
	return uint64(f)
}

func clampToInt(f float64, min, max int64) int64 {
	if math.IsNaN(f) {
		return 0
	}
	if f <= float64(min) {
		return min
	}
	if f >= float64(max) {
		return max
	}
	return int64(f)
}

func transmuteFloatToInt(v Value, to Kind) Value {
	f := floatBits(v)
	switch to {
	case U8:
		return NewU8(uint8(clampToUint(f, math.MaxUint8)))
	case U16:
		return NewU16(uint16(clampToUint(f, math.MaxUint16)))
	case U32:
		return NewU32(uint32(clampToUint(f, math.MaxUint32)))
	case U64:
		return NewU64(clampToUint(f, math.MaxUint64))
	case I8:
		return NewI8(int8(clampToInt(f, math.MinInt8, math.MaxInt8)))
	case I16:
		return NewI16(int16(clampToInt(f, math.MinInt16, math.MaxInt16)))
	case I32:
		return NewI32(int32(clampToInt(f, math.MinInt32, math.MaxInt32)))
	default: // I64
		return NewI64(clampToInt(f, math.MinInt64, math.MaxInt64))
	}
}

func transmuteIntToFloat(v Value, to Kind) Value {
	var f float64
	switch v.kind {
	case U8:
		f = float64(v.U8())
	case I8:
		f = float64(v.I8())
	case U16:
		f = float64(v.U16())
	case I16:
		f = float64(v.I16())
	case U32:
		f = float64(v.U32())
	case I32:
		f = float64(v.I32())
	case U64:
		f = float64(v.U64())
	default: // I64
		f = float64(v.I64())
	}
	if to == F32 {
		return NewF32(float32(f))
	}
	return NewF64(f)
}

func transmuteFloatToFloat(v Value, to Kind) Value {
	if v.kind == F32 {
		return NewF64(float64(v.F32()))
	}
	return NewF32(float32(v.F64()))
}

func signExtend(bits uint64, width int) int64 {
	shift := uint(64 - width*8)
	return int64(bits<<shift) >> shift
}

func IsZero(v Value) bool {
	switch v.kind {
	case F32:
		return v.F32() == 0
	case F64:
		return v.F64() == 0
	default:
		return v.bits == 0
	}
}

func IsNegative(v Value) bool {
	switch v.kind {
	case I8:
		return v.I8() < 0
	case I16:
		return v.I16() < 0
	case I32:
		return v.I32() < 0
	case I64:
		return v.I64() < 0
	case F32:
		return v.F32() < 0
	case F64:
		return v.F64() < 0
	default:
		return false
	}
}
