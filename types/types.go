// Package types defines shared enums used by the structured op catalog:
// currently the comparison directions used by region comparator payloads.
package types

import "fmt"

// ComparisonDirection enum, used by the cmpf/cmpi region instructions.
type ComparisonDirection int

const (
	CompareEQ ComparisonDirection = iota
	CompareNE
	CompareLT
	CompareLE
	CompareGT
	CompareGE
)

// String implements fmt.Stringer.
func (c ComparisonDirection) String() string {
	switch c {
	case CompareEQ:
		return "CompareEQ"
	case CompareNE:
		return "CompareNE"
	case CompareLT:
		return "CompareLT"
	case CompareLE:
		return "CompareLE"
	case CompareGT:
		return "CompareGT"
	case CompareGE:
		return "CompareGE"
	}
	return fmt.Sprintf("ComparisonDirection(%d)", int(c))
}

// ToAssembly returns the direction name used in the textual assembly form.
func (c ComparisonDirection) ToAssembly() string {
	switch c {
	case CompareEQ:
		return "eq"
	case CompareNE:
		return "ne"
	case CompareLT:
		return "lt"
	case CompareLE:
		return "le"
	case CompareGT:
		return "gt"
	case CompareGE:
		return "ge"
	}
	return fmt.Sprintf("invalid_direction_%d", int(c))
}

// ComparisonDirectionFromAssembly is the inverse of
// ComparisonDirection.ToAssembly. The boolean result reports whether the
// name is a known direction.
func ComparisonDirectionFromAssembly(name string) (ComparisonDirection, bool) {
	switch name {
	case "eq":
		return CompareEQ, true
	case "ne":
		return CompareNE, true
	case "lt":
		return CompareLT, true
	case "le":
		return CompareLE, true
	case "gt":
		return CompareGT, true
	case "ge":
		return CompareGE, true
	}
	return CompareEQ, false
}
