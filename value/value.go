// Package value implements the engine's tagged Value union: width-tagged integers,
// floats, and heap-reference variants, plus the arithmetic, bitwise, comparison, and
// transmute operations the core dispatch loop drives instructions through.
package value

import (
	"encoding/binary"
	"math"

	"gvm/fault"
)

// Kind is the tag carried by every Value at runtime.
type Kind uint8

const (
	U8 Kind = iota
	I8
	U16
	I16
	U32
	I32
	U64
	I64
	F32
	F64

	MemoryRef
	ObjectRef
	StringRef
	ArrayRef

	// Embedded variants hold their payload directly in Value.ext rather than as a
	// heap handle.
	EmbeddedObject
	EmbeddedString
	EmbeddedArray
	EmbeddedFunction
)

// Size returns the logical width in bytes used for stack push/pop sizing. All
// reference and embedded variants are treated as 8 bytes (a handle, or in the
// embedded case the stack slot that stands in for one).
func (k Kind) Size() int {
	switch k {
	case U8, I8:
		return 1
	case U16, I16:
		return 2
	case U32, I32, F32:
		return 4
	case U64, I64, F64, MemoryRef, ObjectRef, StringRef, ArrayRef,
		EmbeddedObject, EmbeddedString, EmbeddedArray, EmbeddedFunction:
		return 8
	default:
		return 8
	}
}

func (k Kind) IsInteger() bool {
	switch k {
	case U8, I8, U16, I16, U32, I32, U64, I64:
		return true
	default:
		return false
	}
}

func (k Kind) IsFloat() bool {
	return k == F32 || k == F64
}

func (k Kind) IsSigned() bool {
	switch k {
	case I8, I16, I32, I64, F32, F64:
		return true
	default:
		return false
	}
}

func (k Kind) IsReference() bool {
	switch k {
	case MemoryRef, ObjectRef, StringRef, ArrayRef:
		return true
	default:
		return false
	}
}

func (k Kind) IsEmbedded() bool {
	switch k {
	case EmbeddedObject, EmbeddedString, EmbeddedArray, EmbeddedFunction:
		return true
	default:
		return false
	}
}

// Object is the embedded-object payload: a simple property bag.
type Object struct {
	Fields map[string]Value
}

func NewObjectValue() *Object {
	return &Object{Fields: make(map[string]Value)}
}

// FunctionRef is the embedded-function payload: a descriptor resolved against a
// module tree at call time rather than a live closure.
type FunctionRef struct {
	Path []string
}

// Value is the tagged union. Numeric and reference variants store their bit pattern
// in bits; embedded variants store their payload in ext.
type Value struct {
	kind Kind
	bits uint64
	ext  any
}

func (v Value) Kind() Kind { return v.kind }

func fromBits(k Kind, bits uint64) Value { return Value{kind: k, bits: bits} }

func NewU8(x uint8) Value   { return fromBits(U8, uint64(x)) }
func NewI8(x int8) Value    { return fromBits(I8, uint64(uint8(x))) }
func NewU16(x uint16) Value { return fromBits(U16, uint64(x)) }
func NewI16(x int16) Value  { return fromBits(I16, uint64(uint16(x))) }
func NewU32(x uint32) Value { return fromBits(U32, uint64(x)) }
func NewI32(x int32) Value  { return fromBits(I32, uint64(uint32(x))) }
func NewU64(x uint64) Value { return fromBits(U64, x) }
func NewI64(x int64) Value  { return fromBits(I64, uint64(x)) }
func NewF32(x float32) Value {
	return fromBits(F32, uint64(math.Float32bits(x)))
}
func NewF64(x float64) Value { return fromBits(F64, math.Float64bits(x)) }

func NewMemoryRef(h uint64) Value { return fromBits(MemoryRef, h) }
func NewObjectRef(h uint64) Value { return fromBits(ObjectRef, h) }
func NewStringRef(h uint64) Value { return fromBits(StringRef, h) }
func NewArrayRef(h uint64) Value  { return fromBits(ArrayRef, h) }

func NewObject(o *Object) Value         { return Value{kind: EmbeddedObject, ext: o} }
func NewString(s string) Value          { return Value{kind: EmbeddedString, ext: s} }
func NewArray(items []Value) Value      { return Value{kind: EmbeddedArray, ext: items} }
func NewFunction(f FunctionRef) Value   { return Value{kind: EmbeddedFunction, ext: f} }
func Zero(k Kind) Value {
	switch k {
	case EmbeddedObject:
		return NewObject(NewObjectValue())
	case EmbeddedString:
		return NewString("")
	case EmbeddedArray:
		return NewArray(nil)
	case EmbeddedFunction:
		return NewFunction(FunctionRef{})
	default:
		return fromBits(k, 0)
	}
}

func (v Value) U8() uint8   { return uint8(v.bits) }
func (v Value) I8() int8    { return int8(uint8(v.bits)) }
func (v Value) U16() uint16 { return uint16(v.bits) }
func (v Value) I16() int16  { return int16(uint16(v.bits)) }
func (v Value) U32() uint32 { return uint32(v.bits) }
func (v Value) I32() int32  { return int32(uint32(v.bits)) }
func (v Value) U64() uint64 { return v.bits }
func (v Value) I64() int64  { return int64(v.bits) }
func (v Value) F32() float32 {
	return math.Float32frombits(uint32(v.bits))
}
func (v Value) F64() float64 { return math.Float64frombits(v.bits) }
func (v Value) Ref() uint64  { return v.bits }

func (v Value) Object() *Object       { return v.ext.(*Object) }
func (v Value) String_() string       { return v.ext.(string) }
func (v Value) Array() []Value        { return v.ext.([]Value) }
func (v Value) Function() FunctionRef { return v.ext.(FunctionRef) }

// Bytes serializes v as little-endian bytes of width Kind.Size(). Embedded variants
// cannot be serialized to the byte stack directly.
func (v Value) Bytes() ([]byte, error) {
	buf := make([]byte, v.kind.Size())
	switch v.kind {
	case U8, I8:
		buf[0] = byte(v.bits)
	case U16, I16:
		binary.LittleEndian.PutUint16(buf, uint16(v.bits))
	case U32, I32, F32:
		binary.LittleEndian.PutUint32(buf, uint32(v.bits))
	case U64, I64, F64, MemoryRef, ObjectRef, StringRef, ArrayRef:
		binary.LittleEndian.PutUint64(buf, v.bits)
	default:
		return nil, fault.New(fault.InvalidOperation, "cannot serialize embedded value to stack bytes")
	}
	return buf, nil
}

// FromBytes reconstructs a Value of the given Kind from little-endian bytes.
func FromBytes(k Kind, b []byte) (Value, error) {
	n := k.Size()
	if len(b) < n {
		return Value{}, fault.New(fault.StackOutOfBounds, "not enough bytes to decode value")
	}
	switch k {
	case U8, I8:
		return fromBits(k, uint64(b[0])), nil
	case U16, I16:
		return fromBits(k, uint64(binary.LittleEndian.Uint16(b))), nil
	case U32, I32, F32:
		return fromBits(k, uint64(binary.LittleEndian.Uint32(b))), nil
	case U64, I64, F64, MemoryRef, ObjectRef, StringRef, ArrayRef:
		return fromBits(k, binary.LittleEndian.Uint64(b)), nil
	default:
		return Value{}, fault.New(fault.InvalidOperation, "cannot decode embedded value from stack bytes")
	}
}
