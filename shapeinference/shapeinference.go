// Package shapeinference validates the shape algebra of the structured op
// catalog: for each op it checks the invariants that must hold among
// operand shapes, ranks and attributes, and derives the quantities other
// packages need (a scatter's index depth, a topk's K).
//
// Violations are reported once, at verification time; the scalar-loop
// lowering assumes previously validated shapes and never re-checks them.
//
// Every error returned wraps one of the exported error kinds, so callers
// can classify failures with errors.Is.
package shapeinference

import (
	"github.com/gomlx/structured/internal/utils"
	"github.com/gomlx/structured/types/shapes"
	"github.com/pkg/errors"
)

// Error kinds wrapped by every diagnostic in this package.
var (
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrRankMismatch       = errors.New("rank mismatch")
	ErrStaticityViolation = errors.New("dimension must be statically known")
	ErrAttributeRange     = errors.New("attribute value out of range")
)

// CheckDimensionForRank validates that a dimension attribute is in
// [0, rank).
func CheckDimensionForRank(dimension, rank int) error {
	if dimension < 0 || dimension >= rank {
		return errors.Wrapf(ErrAttributeRange, "dimension(%d) must be in [0, %d)", dimension, rank)
	}
	return nil
}

// Scan validates the operands of a scan: input and output must have
// identical shapes, the accumulator must have the input shape with the
// scanned dimension removed, and the scanned dimension must be in range.
func Scan(input, output, accumulator shapes.Shape, dimension int) error {
	if err := CheckDimensionForRank(dimension, input.Rank()); err != nil {
		return errors.WithMessagef(err, "scan of input %s", input)
	}
	if !input.EqualDimensions(output) {
		return errors.Wrapf(ErrShapeMismatch, "scan input %s and output %s must have identical dimensions", input, output)
	}
	if output.DType != accumulator.DType {
		return errors.Wrapf(ErrShapeMismatch, "scan output %s and accumulator %s must have the same element type", output, accumulator)
	}
	if accumulator.Rank() != input.Rank()-1 {
		return errors.Wrapf(ErrRankMismatch, "scan accumulator %s must have rank %d (input %s rank minus the scanned dimension)",
			accumulator, input.Rank()-1, input)
	}
	expected := input.DropAxis(dimension)
	if !accumulator.EqualDimensions(expected) {
		return errors.Wrapf(ErrShapeMismatch, "scan accumulator %s must have the input shape with dimension %d removed, expected dimensions %v",
			accumulator, dimension, expected.Dimensions)
	}
	return nil
}

// Scatter validates the operands of a scatter and returns the index depth
// (the static extent of the indices' last dimension).
//
// The update slice covers the trailing rank(original)-indexDepth dimensions
// of the original, so the dimension map must be a permutation of the
// leading indexDepth dimensions.
func Scatter(updates, indices, original shapes.Shape, dimensionMap []int64) (indexDepth int, err error) {
	if indices.Rank() != 2 {
		return 0, errors.Wrapf(ErrRankMismatch, "scatter indices %s must have rank 2 (updates x index depth)", indices)
	}
	if !indices.DType.IsInt() {
		return 0, errors.Wrapf(ErrShapeMismatch, "scatter indices %s must have an integer element type", indices)
	}
	indexDepth = indices.Dimensions[1]
	if indexDepth == shapes.DynamicDim {
		return 0, errors.Wrapf(ErrStaticityViolation, "scatter index depth (last dimension of indices %s) must be static", indices)
	}
	if updates.Rank() < 1 {
		return 0, errors.Wrapf(ErrRankMismatch, "scatter updates %s must have at least the leading update-count dimension", updates)
	}
	if indices.Dimensions[0] != updates.Dimensions[0] {
		return 0, errors.Wrapf(ErrShapeMismatch, "scatter updates %s and indices %s must agree on the number of updates (%d vs %d)",
			updates, indices, updates.Dimensions[0], indices.Dimensions[0])
	}
	if original.Rank() < indexDepth+updates.Rank()-1 {
		return 0, errors.Wrapf(ErrShapeMismatch, "scatter original %s must have rank >= index depth (%d) + rank(updates) - 1 (%d)",
			original, indexDepth, updates.Rank()-1)
	}
	sliceRank := original.Rank() - indexDepth
	if updates.Rank()-1 != sliceRank {
		return 0, errors.Wrapf(ErrShapeMismatch, "scatter updates %s must carry one dimension per trailing dimension of original %s beyond the index depth %d",
			updates, original, indexDepth)
	}
	for i := 0; i < sliceRank; i++ {
		if updates.Dimensions[1+i] != original.Dimensions[indexDepth+i] {
			return 0, errors.Wrapf(ErrShapeMismatch, "scatter updates %s trailing dimension #%d must equal original %s dimension #%d",
				updates, 1+i, original, indexDepth+i)
		}
	}
	if len(dimensionMap) != indexDepth {
		return 0, errors.Wrapf(ErrAttributeRange, "scatter dimension_map %v must have one entry per index depth (%d)", dimensionMap, indexDepth)
	}
	seen := utils.MakeSet[int64](len(dimensionMap))
	for _, dim := range dimensionMap {
		if dim < 0 || dim >= int64(indexDepth) {
			return 0, errors.Wrapf(ErrAttributeRange, "scatter dimension_map entry %d must address one of the leading %d dimensions of original %s",
				dim, indexDepth, original)
		}
		if seen.Has(dim) {
			return 0, errors.Wrapf(ErrAttributeRange, "scatter dimension_map %v must not repeat dimension %d", dimensionMap, dim)
		}
		seen.Insert(dim)
	}
	return indexDepth, nil
}

// Sort validates the operands of a sort: all sorted operands must share
// identical dimensions and the sorted dimension must be in range.
func Sort(operands []shapes.Shape, dimension int) error {
	if len(operands) == 0 {
		return errors.Wrapf(ErrRankMismatch, "sort requires at least one operand")
	}
	first := operands[0]
	if err := CheckDimensionForRank(dimension, first.Rank()); err != nil {
		return errors.WithMessagef(err, "sort of operand %s", first)
	}
	for i, operand := range operands[1:] {
		if !first.EqualDimensions(operand) {
			return errors.Wrapf(ErrShapeMismatch, "sort operand #%d (%s) must have the same dimensions as operand #0 (%s)",
				i+1, operand, first)
		}
	}
	return nil
}

// TopK validates the operands of a topk and returns K, the static extent of
// the output along the selected dimension. Pass an invalid shape (the zero
// Shape) for indices when the op synthesizes them.
func TopK(values, indices, outputValues, outputIndices shapes.Shape, dimension int) (k int, err error) {
	if err := CheckDimensionForRank(dimension, values.Rank()); err != nil {
		return 0, errors.WithMessagef(err, "topk of values %s", values)
	}
	if indices.Ok() {
		if !indices.DType.IsInt() {
			return 0, errors.Wrapf(ErrShapeMismatch, "topk indices %s must have an integer element type", indices)
		}
		if !values.EqualDimensions(indices) {
			return 0, errors.Wrapf(ErrShapeMismatch, "topk values %s and indices %s must have identical dimensions", values, indices)
		}
	}
	if !outputIndices.DType.IsInt() {
		return 0, errors.Wrapf(ErrShapeMismatch, "topk output indices %s must have an integer element type capable of holding positions", outputIndices)
	}
	if !outputValues.EqualDimensions(outputIndices) {
		return 0, errors.Wrapf(ErrShapeMismatch, "topk output values %s and output indices %s must have identical dimensions",
			outputValues, outputIndices)
	}
	if outputValues.Rank() != values.Rank() {
		return 0, errors.Wrapf(ErrRankMismatch, "topk output values %s must have the same rank as values %s", outputValues, values)
	}
	for axis := range values.Rank() {
		if axis == dimension {
			continue
		}
		if values.Dimensions[axis] != outputValues.Dimensions[axis] {
			return 0, errors.Wrapf(ErrShapeMismatch, "topk values %s and output values %s must agree on every dimension except #%d",
				values, outputValues, dimension)
		}
	}
	k = outputValues.Dimensions[dimension]
	if k == shapes.DynamicDim {
		return 0, errors.Wrapf(ErrStaticityViolation, "topk output extent along dimension %d (K) must be static, got %s", dimension, outputValues)
	}
	if values.Dimensions[dimension] != shapes.DynamicDim && k > values.Dimensions[dimension] {
		return 0, errors.Wrapf(ErrShapeMismatch, "topk K=%d larger than the values extent %d along dimension %d",
			k, values.Dimensions[dimension], dimension)
	}
	return k, nil
}

// Attention validates the operands of an attention: query [B,M,K1],
// key [B,K2,K1], value [B,K2,N], optional mask [B,M,K2] (pass the zero
// Shape when absent) and output [B,M,N].
func Attention(query, key, value, mask, output shapes.Shape) error {
	for _, pair := range []struct {
		name  string
		shape shapes.Shape
	}{{"query", query}, {"key", key}, {"value", value}, {"output", output}} {
		if pair.shape.Rank() != 3 {
			return errors.Wrapf(ErrRankMismatch, "attention %s %s must have rank 3 (batch x rows x columns)", pair.name, pair.shape)
		}
		if !pair.shape.DType.IsFloat() {
			return errors.Wrapf(ErrShapeMismatch, "attention %s %s must have a float element type", pair.name, pair.shape)
		}
	}
	batch, m, k1 := query.Dimensions[0], query.Dimensions[1], query.Dimensions[2]
	k2, n := key.Dimensions[1], value.Dimensions[2]
	if key.Dimensions[0] != batch || value.Dimensions[0] != batch || output.Dimensions[0] != batch {
		return errors.Wrapf(ErrShapeMismatch, "attention batch dimension must be %d across all operands, got key=%s value=%s output=%s",
			batch, key, value, output)
	}
	if key.Dimensions[2] != k1 {
		return errors.Wrapf(ErrShapeMismatch, "attention query %s and key %s must agree on the contraction dimension K1", query, key)
	}
	if value.Dimensions[1] != k2 {
		return errors.Wrapf(ErrShapeMismatch, "attention key %s and value %s must agree on the softmax dimension K2", key, value)
	}
	if mask.Ok() {
		if mask.Rank() != 3 {
			return errors.Wrapf(ErrRankMismatch, "attention mask %s must have rank 3", mask)
		}
		if mask.Dimensions[0] != batch || mask.Dimensions[1] != m || mask.Dimensions[2] != k2 {
			return errors.Wrapf(ErrShapeMismatch, "attention mask %s must have dimensions [%d %d %d]", mask, batch, m, k2)
		}
	}
	if output.Dimensions[1] != m || output.Dimensions[2] != n {
		return errors.Wrapf(ErrShapeMismatch, "attention output %s must have dimensions [%d %d %d]", output, batch, m, n)
	}
	return nil
}
