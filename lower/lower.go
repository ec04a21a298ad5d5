package lower

import (
	"math"

	"github.com/gomlx/structured"
	"github.com/gomlx/structured/types/shapes"
	"github.com/gomlx/structured/types/tensor"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Bindings maps operand names to the buffers backing them during lowering.
type Bindings map[string]*tensor.Buffer

// Lower expands the op into its scalar loop nest and executes it against
// the bound buffers. Every operand of the op must be bound, by name, to a
// buffer whose shape matches the operand's.
func Lower(op structured.Op, bindings Bindings) error {
	if err := checkBindings(op, bindings); err != nil {
		return err
	}
	if klog.V(2).Enabled() {
		klog.Infof("lowering %s to scalar loops", op.OpType())
	}
	switch typed := op.(type) {
	case *structured.ScanOp:
		return Scan(typed,
			bindings[typed.Input().Name()],
			bindings[typed.Output().Name()],
			bindings[typed.Accumulator().Name()])
	case *structured.ScatterOp:
		return Scatter(typed,
			bindings[typed.Updates().Name()],
			bindings[typed.Indices().Name()],
			bindings[typed.Original().Name()])
	case *structured.SortOp:
		operands := make([]*tensor.Buffer, len(typed.Operands()))
		for i, operand := range typed.Operands() {
			operands[i] = bindings[operand.Name()]
		}
		return Sort(typed, operands)
	case *structured.TopKOp:
		var indices *tensor.Buffer
		if typed.IndicesInput() != nil {
			indices = bindings[typed.IndicesInput().Name()]
		}
		return TopK(typed,
			bindings[typed.Values().Name()],
			indices,
			bindings[typed.OutputValues().Name()],
			bindings[typed.OutputIndices().Name()])
	case *structured.AttentionOp:
		var mask *tensor.Buffer
		if typed.Mask() != nil {
			mask = bindings[typed.Mask().Name()]
		}
		return Attention(typed,
			bindings[typed.Query().Name()],
			bindings[typed.Key().Name()],
			bindings[typed.Value().Name()],
			mask,
			bindings[typed.Output().Name()])
	}
	return errors.Errorf("cannot lower op type %s", op.OpType())
}

func checkBindings(op structured.Op, bindings Bindings) error {
	operands := append(append([]*structured.Value{}, op.Inputs()...), op.Outputs()...)
	for _, operand := range operands {
		buffer, ok := bindings[operand.Name()]
		if !ok || buffer == nil {
			return errors.Errorf("operand %s of %s has no bound buffer", operand, op.OpType())
		}
		if err := checkBinding(operand, buffer); err != nil {
			return err
		}
	}
	return nil
}

// checkBinding validates a buffer against the operand shape: the data type
// must match and every static operand dimension must equal the buffer's.
func checkBinding(operand *structured.Value, buffer *tensor.Buffer) error {
	want, got := operand.Shape(), buffer.Shape()
	if want.DType != got.DType {
		return errors.Errorf("operand %s has element type %s, bound buffer has %s", operand, want.DType, got.DType)
	}
	if want.Rank() != got.Rank() {
		return errors.Errorf("operand %s has rank %d, bound buffer has rank %d", operand, want.Rank(), got.Rank())
	}
	for axis, dim := range want.Dimensions {
		if dim != shapes.DynamicDim && dim != got.Dimensions[axis] {
			return errors.Errorf("operand %s dimension #%d is %d, bound buffer has %d", operand, axis, dim, got.Dimensions[axis])
		}
	}
	return nil
}

// outerLoops builds the loops over every dimension of shape except the
// given one.
func outerLoops(shape shapes.Shape, skipAxis int) []Loop {
	loops := make([]Loop, 0, shape.Rank()-1)
	for axis, dim := range shape.Dimensions {
		if axis == skipAxis {
			continue
		}
		loops = append(loops, Loop{Extent: dim})
	}
	return loops
}

// fullIndex inserts position i at axis into the outer index vector.
func fullIndex(outer []int, axis, i int) []int {
	full := make([]int, 0, len(outer)+1)
	full = append(full, outer[:axis]...)
	full = append(full, i)
	full = append(full, outer[axis:]...)
	return full
}

// evalOne invokes a region expected to yield exactly one scalar.
func evalOne(region *structured.Region, args ...tensor.Scalar) (tensor.Scalar, error) {
	results, err := region.Eval(args...)
	if err != nil {
		return tensor.Scalar{}, err
	}
	return results[0], nil
}

// evalPredicate invokes a region expected to yield a single boolean.
func evalPredicate(region *structured.Region, args ...tensor.Scalar) (bool, error) {
	result, err := evalOne(region, args...)
	if err != nil {
		return false, err
	}
	return result.Bool, nil
}

// Scan lowers a scan to a nest over the unscanned dimensions with a
// sequential loop along the scanned one, threading the accumulator through
// the region. The accumulator buffer supplies the initial value for
// exclusive scans and receives the final value in both modes.
func Scan(op *structured.ScanOp, input, output, accumulator *tensor.Buffer) error {
	axis := op.Dimension
	extent := input.Shape().Dim(axis)
	if op.CanFold() {
		// Extent-1 inclusive scan is a copy.
		nest := &Nest{
			Loops: outerLoops(input.Shape(), axis),
			Body: func(outer []int) error {
				element := input.At(fullIndex(outer, axis, 0)...)
				output.Set(fullIndex(outer, axis, 0), element)
				accumulator.Set(outer, element)
				return nil
			},
		}
		return nest.Run()
	}
	nest := &Nest{
		Loops: outerLoops(input.Shape(), axis),
		Body: func(outer []int) error {
			var acc tensor.Scalar
			if !op.Inclusive {
				acc = accumulator.At(outer...)
			}
			for i := 0; i < extent; i++ {
				element := input.At(fullIndex(outer, axis, i)...)
				if op.Inclusive {
					if i == 0 {
						acc = element
					} else {
						combined, err := evalOne(op.Region(), acc, element)
						if err != nil {
							return err
						}
						acc = combined
					}
					output.Set(fullIndex(outer, axis, i), acc)
				} else {
					output.Set(fullIndex(outer, axis, i), acc)
					combined, err := evalOne(op.Region(), acc, element)
					if err != nil {
						return err
					}
					acc = combined
				}
			}
			accumulator.Set(outer, acc)
			return nil
		},
	}
	return nest.Run()
}

// Scatter lowers a scatter to a loop over update rows. Each row's index
// tuple addresses, through the dimension map, a slice of the original; the
// region combines the update slice into it element by element.
//
// The update-row loop is sequential unless the op claims unique indices:
// with duplicates, later rows must observe earlier rows' writes.
func Scatter(op *structured.ScatterOp, updates, indices, original *tensor.Buffer) error {
	numUpdates := indices.Shape().Dim(0)
	indexDepth := op.IndexDepth()
	sliceShape := updates.Shape()
	nest := &Nest{
		Loops: []Loop{{Extent: numUpdates, Sequential: !op.UniqueIndices}},
		Body: func(row []int) error {
			u := row[0]
			base := make([]int, original.Shape().Rank())
			for j := 0; j < indexDepth; j++ {
				idx := int(indices.At(u, j).Int)
				dest := int(op.DimensionMap[j])
				if idx < 0 || idx >= original.Shape().Dim(dest) {
					return errors.Errorf("scatter index %d out of range for dimension #%d of %s", idx, dest, original.Shape())
				}
				base[dest] = idx
			}
			// Inner nest over the update slice, the trailing dimensions of
			// both updates and original.
			sliceLoops := make([]Loop, sliceShape.Rank()-1)
			for s := range sliceLoops {
				sliceLoops[s] = Loop{Extent: sliceShape.Dim(1 + s)}
			}
			inner := &Nest{
				Loops: sliceLoops,
				Body: func(sliceIx []int) error {
					updateIx := append([]int{u}, sliceIx...)
					destIx := append([]int{}, base...)
					copy(destIx[indexDepth:], sliceIx)
					combined, err := evalOne(op.Region(), updates.At(updateIx...), original.At(destIx...))
					if err != nil {
						return err
					}
					original.Set(destIx, combined)
					return nil
				},
			}
			return inner.Run()
		},
	}
	return nest.Run()
}

// Sort lowers a sort to a bubble sort of each line along the sorted
// dimension, swapping jointly across all operands. The comparator receives
// the later element first, so a strict less-than comparator sorts ascending
// and adjacent equal elements are never swapped, keeping the sort stable.
func Sort(op *structured.SortOp, operands []*tensor.Buffer) error {
	axis := op.Dimension
	lead := operands[0]
	extent := lead.Shape().Dim(axis)
	nest := &Nest{
		Loops: outerLoops(lead.Shape(), axis),
		Body: func(outer []int) error {
			for pass := 0; pass < extent-1; pass++ {
				for j := 0; j < extent-1-pass; j++ {
					args := make([]tensor.Scalar, 0, 2*len(operands))
					for _, operand := range operands {
						args = append(args,
							operand.At(fullIndex(outer, axis, j+1)...),
							operand.At(fullIndex(outer, axis, j)...))
					}
					swap, err := evalPredicate(op.Region(), args...)
					if err != nil {
						return err
					}
					if !swap {
						continue
					}
					for _, operand := range operands {
						lo, hi := fullIndex(outer, axis, j), fullIndex(outer, axis, j+1)
						a, b := operand.At(lo...), operand.At(hi...)
						operand.Set(lo, b)
						operand.Set(hi, a)
					}
				}
			}
			return nil
		},
	}
	return nest.Run()
}

// TopK lowers a topk to an insertion cascade per line: each candidate is
// compared against the kept boundary element and, when it displaces it,
// bubbles up past every kept element it beats. The comparator never ranks a
// candidate above an equal earlier element, so on ties the lower input
// position wins.
func TopK(op *structured.TopKOp, values, indices, outputValues, outputIndices *tensor.Buffer) error {
	axis := op.Dimension
	extent := values.Shape().Dim(axis)
	k := op.K()
	if k == 0 {
		// Zero-extent outputs select nothing.
		return nil
	}
	nest := &Nest{
		Loops: outerLoops(values.Shape(), axis),
		Body: func(outer []int) error {
			filled := 0
			for i := 0; i < extent; i++ {
				candidate := values.At(fullIndex(outer, axis, i)...)
				candidateIdx := tensor.IntScalar(outputIndices.Shape().DType, int64(i))
				if indices != nil {
					candidateIdx = indices.At(fullIndex(outer, axis, i)...)
				}
				pos := filled
				if filled == k {
					boundary := outputValues.At(fullIndex(outer, axis, k-1)...)
					beats, err := evalPredicate(op.Region(), candidate, boundary)
					if err != nil {
						return err
					}
					if !beats {
						continue
					}
					pos = k - 1
				} else {
					filled++
				}
				for pos > 0 {
					above := outputValues.At(fullIndex(outer, axis, pos-1)...)
					beats, err := evalPredicate(op.Region(), candidate, above)
					if err != nil {
						return err
					}
					if !beats {
						break
					}
					outputValues.Set(fullIndex(outer, axis, pos), above)
					outputIndices.Set(fullIndex(outer, axis, pos), outputIndices.At(fullIndex(outer, axis, pos-1)...))
					pos--
				}
				outputValues.Set(fullIndex(outer, axis, pos), candidate)
				outputIndices.Set(fullIndex(outer, axis, pos), candidateIdx)
			}
			return nil
		},
	}
	return nest.Run()
}

// Attention lowers an attention to three batched loops: score computation
// (query against transposed key, plus the optional additive mask), a
// max-subtracted softmax along the key dimension, and the weighted sum over
// value.
func Attention(op *structured.AttentionOp, query, key, value, mask, output *tensor.Buffer) error {
	batch := query.Shape().Dim(0)
	m := query.Shape().Dim(1)
	k1 := query.Shape().Dim(2)
	k2 := key.Shape().Dim(1)
	n := value.Shape().Dim(2)
	nest := &Nest{
		Loops: []Loop{{Extent: batch}, {Extent: m}},
		Body: func(ix []int) error {
			b, i := ix[0], ix[1]
			scores := make([]float64, k2)
			for j := 0; j < k2; j++ {
				var dot float64
				for c := 0; c < k1; c++ {
					dot += query.At(b, i, c).Float * key.At(b, j, c).Float
				}
				if mask != nil {
					dot += mask.At(b, i, j).Float
				}
				scores[j] = dot
			}
			// Softmax with the row maximum subtracted for stability.
			maxScore := math.Inf(-1)
			for _, score := range scores {
				maxScore = math.Max(maxScore, score)
			}
			var sum float64
			for j, score := range scores {
				scores[j] = math.Exp(score - maxScore)
				sum += scores[j]
			}
			for j := range scores {
				scores[j] /= sum
			}
			for c := 0; c < n; c++ {
				var weighted float64
				for j := 0; j < k2; j++ {
					weighted += scores[j] * value.At(b, j, c).Float
				}
				output.Set([]int{b, i, c}, tensor.FloatScalar(output.Shape().DType, weighted))
			}
			return nil
		},
	}
	return nest.Run()
}
