package structured

import (
	"slices"
)

// Equal reports whether two ops are structurally equal: same op type,
// attributes, operand names and shapes, region contents and value form.
// It compares structure only, never the tensors behind the operands.
func Equal(a, b Op) bool {
	if a.OpType() != b.OpType() {
		return false
	}
	if !valuesEqual(a.Inputs(), b.Inputs()) || !valuesEqual(a.Outputs(), b.Outputs()) {
		return false
	}
	if (a.Results() == nil) != (b.Results() == nil) {
		return false
	}
	if !regionsEqual(a.Region(), b.Region()) {
		return false
	}
	switch typedA := a.(type) {
	case *ScanOp:
		typedB := b.(*ScanOp)
		return typedA.Dimension == typedB.Dimension && typedA.Inclusive == typedB.Inclusive
	case *ScatterOp:
		typedB := b.(*ScatterOp)
		return slices.Equal(typedA.DimensionMap, typedB.DimensionMap) &&
			typedA.UniqueIndices == typedB.UniqueIndices
	case *SortOp:
		return typedA.Dimension == b.(*SortOp).Dimension
	case *TopKOp:
		return typedA.Dimension == b.(*TopKOp).Dimension
	case *AttentionOp:
		return true
	}
	return false
}

func valuesEqual(a, b []*Value) bool {
	return slices.EqualFunc(a, b, func(va, vb *Value) bool {
		return va.Name() == vb.Name() && va.Shape().Equal(vb.Shape())
	})
}

func regionsEqual(a, b *Region) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	blockA, blockB := a.Block, b.Block
	if !slices.Equal(blockA.ArgTypes, blockB.ArgTypes) ||
		!slices.Equal(blockA.YieldArgs, blockB.YieldArgs) ||
		!slices.Equal(blockA.YieldTypes, blockB.YieldTypes) ||
		blockA.hasYield != blockB.hasYield {
		return false
	}
	return slices.EqualFunc(blockA.Instrs, blockB.Instrs, scalarInstrsEqual)
}

func scalarInstrsEqual(a, b ScalarInstr) bool {
	if a.Kind != b.Kind || a.DType != b.DType || !slices.Equal(a.Args, b.Args) {
		return false
	}
	switch a.Kind {
	case ScalarCmpF, ScalarCmpI:
		return a.Direction == b.Direction
	case ScalarConst:
		return a.Const == b.Const
	}
	return true
}
