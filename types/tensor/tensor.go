// Package tensor provides concrete tensor buffers and scalar values for the
// scalar-loop lowering of the structured op catalog.
//
// A Buffer is a dense row-major tensor with a shapes.Shape. It is the
// runtime counterpart of an op operand: lowering binds every input and
// output operand to a Buffer and the emitted loop nest reads and writes
// them element by element.
//
// Float16 and BFloat16 buffers round every stored value through their
// 16-bit representation, so lowered semantics match what a real f16/bf16
// buffer would hold.
package tensor

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured/types/shapes"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Scalar is a single element value exchanged with region payloads.
// Exactly one of Float, Int or Bool is meaningful, according to DType.
type Scalar struct {
	DType dtypes.DType
	Float float64
	Int   int64
	Bool  bool
}

// FloatScalar returns a float Scalar of the given data type.
func FloatScalar(dtype dtypes.DType, value float64) Scalar {
	return Scalar{DType: dtype, Float: value}
}

// IntScalar returns an integer Scalar of the given data type.
func IntScalar(dtype dtypes.DType, value int64) Scalar {
	return Scalar{DType: dtype, Int: value}
}

// BoolScalar returns a boolean Scalar.
func BoolScalar(value bool) Scalar {
	return Scalar{DType: dtypes.Bool, Bool: value}
}

// Buffer is a dense row-major tensor with a fixed shape.
// Exactly one of the storage slices is allocated, according to the shape's
// data type class.
type Buffer struct {
	shape  shapes.Shape
	floats []float64
	ints   []int64
	bools  []bool
}

// New returns a zero-initialized Buffer of the given shape.
// The shape must be fully static.
func New(shape shapes.Shape) (*Buffer, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("cannot allocate buffer for invalid shape")
	}
	if !shape.IsFullyStatic() {
		return nil, errors.Errorf("cannot allocate buffer for dynamic shape %s", shape)
	}
	b := &Buffer{shape: shape}
	size := shape.Size()
	switch {
	case shape.DType.IsFloat():
		b.floats = make([]float64, size)
	case shape.DType.IsInt():
		b.ints = make([]int64, size)
	case shape.DType == dtypes.Bool:
		b.bools = make([]bool, size)
	default:
		return nil, errors.Errorf("unsupported buffer data type %s", shape.DType)
	}
	return b, nil
}

// FromFloats returns a Buffer of the given shape initialized with the flat
// values, in row-major order.
func FromFloats(shape shapes.Shape, flat ...float64) (*Buffer, error) {
	if !shape.DType.IsFloat() {
		return nil, errors.Errorf("FromFloats requires a float shape, got %s", shape)
	}
	b, err := New(shape)
	if err != nil {
		return nil, err
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("flat values size %d doesn't match shape size %d (%s)",
			len(flat), shape.Size(), shape)
	}
	for i, v := range flat {
		b.floats[i] = roundToDType(shape.DType, v)
	}
	return b, nil
}

// FromInts returns a Buffer of the given shape initialized with the flat
// values, in row-major order.
func FromInts(shape shapes.Shape, flat ...int64) (*Buffer, error) {
	if !shape.DType.IsInt() {
		return nil, errors.Errorf("FromInts requires an integer shape, got %s", shape)
	}
	b, err := New(shape)
	if err != nil {
		return nil, err
	}
	if len(flat) != shape.Size() {
		return nil, errors.Errorf("flat values size %d doesn't match shape size %d (%s)",
			len(flat), shape.Size(), shape)
	}
	copy(b.ints, flat)
	return b, nil
}

// Shape returns the shape of the buffer.
func (b *Buffer) Shape() shapes.Shape { return b.shape }

// Floats returns the flat float storage, in row-major order.
// It is nil for non-float buffers.
func (b *Buffer) Floats() []float64 { return b.floats }

// Ints returns the flat integer storage, in row-major order.
// It is nil for non-integer buffers.
func (b *Buffer) Ints() []int64 { return b.ints }

// flatIndex converts a full index vector to the row-major linear offset.
func (b *Buffer) flatIndex(indices []int) int {
	flat := 0
	for axis, idx := range indices {
		flat = flat*b.shape.Dimensions[axis] + idx
	}
	return flat
}

// At returns the element at the given full index vector.
func (b *Buffer) At(indices ...int) Scalar {
	flat := b.flatIndex(indices)
	switch {
	case b.floats != nil:
		return Scalar{DType: b.shape.DType, Float: b.floats[flat]}
	case b.ints != nil:
		return Scalar{DType: b.shape.DType, Int: b.ints[flat]}
	default:
		return Scalar{DType: b.shape.DType, Bool: b.bools[flat]}
	}
}

// Set stores the element at the given full index vector.
// Float values are rounded through the buffer's 16-bit representation for
// Float16 and BFloat16 buffers.
func (b *Buffer) Set(indices []int, value Scalar) {
	flat := b.flatIndex(indices)
	switch {
	case b.floats != nil:
		b.floats[flat] = roundToDType(b.shape.DType, value.Float)
	case b.ints != nil:
		b.ints[flat] = value.Int
	default:
		b.bools[flat] = value.Bool
	}
}

// Fill sets every element of a float buffer to the given value.
func (b *Buffer) Fill(value float64) {
	rounded := roundToDType(b.shape.DType, value)
	for i := range b.floats {
		b.floats[i] = rounded
	}
}

// roundToDType rounds a float64 through the storage representation of the
// given data type.
func roundToDType(dtype dtypes.DType, v float64) float64 {
	switch dtype {
	case dtypes.Float64:
		return v
	case dtypes.Float16:
		return float64(float16.Fromfloat32(float32(v)).Float32())
	case dtypes.BFloat16:
		bits := math.Float32bits(float32(v))
		return float64(math.Float32frombits(bits &^ 0xFFFF))
	default:
		return float64(float32(v))
	}
}
