// Package shapes defines the Shape type used by every operand, result and
// region signature in the structured op catalog.
//
// A Shape is a data type (dtypes.DType) plus a list of dimensions. A
// dimension may be DynamicDim, rendered as "?" in assembly; operations that
// require a statically known extent check for it explicitly.
package shapes

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured/internal/utils"
	"github.com/pkg/errors"
)

// DynamicDim marks a dimension whose extent is not statically known.
const DynamicDim = -1

// Shape holds the data type and dimensions of a tensor value.
// A rank-0 shape (no dimensions) is a scalar.
type Shape struct {
	DType      dtypes.DType
	Dimensions []int
}

// Make returns a Shape with the given data type and dimensions.
// No dimensions means a scalar.
func Make(dtype dtypes.DType, dimensions ...int) Shape {
	return Shape{DType: dtype, Dimensions: dimensions}
}

// Invalid returns an invalid shape, the zero value of Shape.
func Invalid() Shape { return Shape{} }

// Ok reports whether the shape has a valid data type.
func (s Shape) Ok() bool { return s.DType != dtypes.InvalidDType }

// Rank returns the number of dimensions.
func (s Shape) Rank() int { return len(s.Dimensions) }

// IsScalar reports whether the shape is rank-0.
func (s Shape) IsScalar() bool { return s.Rank() == 0 }

// Dim returns the dimension of the given axis. Negative axes count from the
// end, so Dim(-1) is the last dimension.
func (s Shape) Dim(axis int) int {
	if axis < 0 {
		axis += s.Rank()
	}
	return s.Dimensions[axis]
}

// Size returns the number of elements in the shape. Dynamic dimensions count
// as zero elements, so only call it on fully static shapes.
func (s Shape) Size() int {
	size := 1
	for _, dim := range s.Dimensions {
		if dim == DynamicDim {
			return 0
		}
		size *= dim
	}
	return size
}

// IsFullyStatic reports whether no dimension is DynamicDim.
func (s Shape) IsFullyStatic() bool {
	return !slices.Contains(s.Dimensions, DynamicDim)
}

// Equal reports whether the two shapes have the same data type, rank and
// dimensions. DynamicDim only equals DynamicDim.
func (s Shape) Equal(other Shape) bool {
	return s.DType == other.DType && slices.Equal(s.Dimensions, other.Dimensions)
}

// EqualDimensions reports whether the two shapes have the same dimensions,
// ignoring the data type.
func (s Shape) EqualDimensions(other Shape) bool {
	return slices.Equal(s.Dimensions, other.Dimensions)
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	return Shape{DType: s.DType, Dimensions: slices.Clone(s.Dimensions)}
}

// DropAxis returns the shape with the given axis removed: the shape of a
// slice taken across that axis. The axis must be in [0, rank).
func (s Shape) DropAxis(axis int) Shape {
	dims := make([]int, 0, s.Rank()-1)
	dims = append(dims, s.Dimensions[:axis]...)
	dims = append(dims, s.Dimensions[axis+1:]...)
	return Shape{DType: s.DType, Dimensions: dims}
}

// String implements fmt.Stringer. E.g.: "(Float32)[4 2]".
func (s Shape) String() string {
	if !s.Ok() {
		return "(invalid shape)"
	}
	if s.IsScalar() {
		return fmt.Sprintf("(%s)", s.DType)
	}
	return fmt.Sprintf("(%s)%v", s.DType, s.Dimensions)
}

// ToAssembly renders the shape as a tensor type in the textual assembly
// form, e.g. "tensor<4x2xf32>", "tensor<?xf32>" or "tensor<f32>" for scalars.
func (s Shape) ToAssembly() string {
	var sb strings.Builder
	sb.WriteString("tensor<")
	for _, dim := range s.Dimensions {
		if dim == DynamicDim {
			sb.WriteString("?x")
		} else {
			fmt.Fprintf(&sb, "%dx", dim)
		}
	}
	sb.WriteString(utils.DTypeToAssembly(s.DType))
	sb.WriteString(">")
	return sb.String()
}

// ParseAssembly parses a tensor type in the textual assembly form produced
// by Shape.ToAssembly.
func ParseAssembly(text string) (Shape, error) {
	inner, ok := strings.CutPrefix(text, "tensor<")
	if !ok {
		return Invalid(), errors.Errorf("tensor type must start with \"tensor<\", got %q", text)
	}
	inner, ok = strings.CutSuffix(inner, ">")
	if !ok {
		return Invalid(), errors.Errorf("tensor type must end with \">\", got %q", text)
	}
	parts := strings.Split(inner, "x")
	var shape Shape
	shape.DType = utils.DTypeFromAssembly(parts[len(parts)-1])
	if shape.DType == dtypes.InvalidDType {
		return Invalid(), errors.Errorf("unknown element type %q in tensor type %q", parts[len(parts)-1], text)
	}
	for _, part := range parts[:len(parts)-1] {
		if part == "?" {
			shape.Dimensions = append(shape.Dimensions, DynamicDim)
			continue
		}
		var dim int
		if _, err := fmt.Sscanf(part, "%d", &dim); err != nil || dim < 0 {
			return Invalid(), errors.Errorf("invalid dimension %q in tensor type %q", part, text)
		}
		shape.Dimensions = append(shape.Dimensions, dim)
	}
	return shape, nil
}
