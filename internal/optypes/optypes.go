// Package optypes defines OpType, the enum of operations in the structured
// op catalog.
package optypes

import (
	"fmt"

	"github.com/gomlx/structured/internal/utils"
)

// OpType is an enum of the operations in the catalog.
type OpType int

//go:generate go tool enumer -type=OpType optypes.go

const (
	Invalid OpType = iota

	Scan
	Scatter
	Sort
	TopK
	Attention

	// Yield is the terminator of every op region.
	Yield

	// Last should always be kept the last, it is used as a counter/marker.
	Last
)

var (
	// assemblyMappings maps OpType to the corresponding assembly mnemonic,
	// when the default "snake case" doesn't work.
	assemblyMappings = map[OpType]string{
		TopK: "structured.topk",
	}
)

// ToAssembly returns the assembly mnemonic of the operation.
func (op OpType) ToAssembly() string {
	name, ok := assemblyMappings[op]
	if !ok {
		name = fmt.Sprintf("structured.%s", utils.ToSnakeCase(op.String()))
	}
	return name
}

// assemblyToOpType is the inverse of ToAssembly, for all valid op types.
var assemblyToOpType = func() map[string]OpType {
	m := make(map[string]OpType, int(Last))
	for op := Invalid + 1; op < Last; op++ {
		m[op.ToAssembly()] = op
	}
	return m
}()

// FromAssembly returns the OpType for the given assembly mnemonic, or
// Invalid when the mnemonic names no catalog op.
func FromAssembly(name string) OpType {
	op, ok := assemblyToOpType[name]
	if !ok {
		return Invalid
	}
	return op
}
