package structured

import (
	"fmt"

	"github.com/gomlx/structured/internal/utils"
	"github.com/gomlx/structured/types/shapes"
)

// Value represents a tensor operand in the assembly form, like `%original`.
// It has a name and a shape; ops reference values, they never own them.
type Value struct {
	name  string
	shape shapes.Shape
}

// NamedValue creates a new named value with the given shape.
//
// The name is passed through NormalizeIdentifier, which converts any
// non-digit or ASCII letter to an underscore.
func NamedValue(name string, shape shapes.Shape) *Value {
	return &Value{
		name:  utils.NormalizeIdentifier(name),
		shape: shape,
	}
}

// Shape returns the shape of the value.
func (v *Value) Shape() shapes.Shape {
	return v.shape
}

// Name returns the value name, without the "%" prefix.
func (v *Value) Name() string {
	return v.name
}

// String implements fmt.Stringer.
func (v *Value) String() string {
	return fmt.Sprintf("%%%s", v.name)
}
