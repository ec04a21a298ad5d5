package lower

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured"
	"github.com/gomlx/structured/types"
	"github.com/gomlx/structured/types/shapes"
	"github.com/gomlx/structured/types/tensor"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addRegion(dtype dtypes.DType) *structured.Region {
	rb := structured.NewRegionBuilder(dtype, dtype)
	rb.Yield(rb.AddF(rb.Arg(0), rb.Arg(1)))
	return rb.Done()
}

func ascendingRegion(dtype dtypes.DType) *structured.Region {
	rb := structured.NewRegionBuilder(dtype, dtype)
	rb.Yield(rb.CmpF(types.CompareLT, rb.Arg(0), rb.Arg(1)))
	return rb.Done()
}

func descendingRegion(dtype dtypes.DType) *structured.Region {
	rb := structured.NewRegionBuilder(dtype, dtype)
	rb.Yield(rb.CmpF(types.CompareGT, rb.Arg(0), rb.Arg(1)))
	return rb.Done()
}

func TestScanInclusive(t *testing.T) {
	f32 := dtypes.Float32
	op := must.M1(structured.NewScan(
		structured.NamedValue("input", shapes.Make(f32, 4)),
		structured.NamedValue("output", shapes.Make(f32, 4)),
		structured.NamedValue("acc", shapes.Make(f32)),
		0, true, addRegion(f32)))

	input := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 1, 2, 3, 4))
	output := must.M1(tensor.New(shapes.Make(f32, 4)))
	acc := must.M1(tensor.New(shapes.Make(f32)))
	require.NoError(t, Scan(op, input, output, acc))
	assert.Equal(t, []float64{1, 3, 6, 10}, output.Floats())
	assert.Equal(t, 10.0, acc.At().Float)
}

func TestScanExclusive(t *testing.T) {
	f32 := dtypes.Float32
	op := must.M1(structured.NewScan(
		structured.NamedValue("input", shapes.Make(f32, 4)),
		structured.NamedValue("output", shapes.Make(f32, 4)),
		structured.NamedValue("acc", shapes.Make(f32)),
		0, false, addRegion(f32)))

	input := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 1, 2, 3, 4))
	output := must.M1(tensor.New(shapes.Make(f32, 4)))
	// The accumulator buffer carries the initial value in.
	acc := must.M1(tensor.FromFloats(shapes.Make(f32), 0))
	require.NoError(t, Scan(op, input, output, acc))
	assert.Equal(t, []float64{0, 1, 3, 6}, output.Floats())
	assert.Equal(t, 10.0, acc.At().Float)

	// A non-zero initial value shifts the whole output.
	acc = must.M1(tensor.FromFloats(shapes.Make(f32), 100))
	require.NoError(t, Scan(op, input, output, acc))
	assert.Equal(t, []float64{100, 101, 103, 106}, output.Floats())
	assert.Equal(t, 110.0, acc.At().Float)
}

func TestScanAlongInnerDimension(t *testing.T) {
	f32 := dtypes.Float32
	op := must.M1(structured.NewScan(
		structured.NamedValue("input", shapes.Make(f32, 2, 3)),
		structured.NamedValue("output", shapes.Make(f32, 2, 3)),
		structured.NamedValue("acc", shapes.Make(f32, 2)),
		1, true, addRegion(f32)))

	input := must.M1(tensor.FromFloats(shapes.Make(f32, 2, 3), 1, 2, 3, 10, 20, 30))
	output := must.M1(tensor.New(shapes.Make(f32, 2, 3)))
	acc := must.M1(tensor.New(shapes.Make(f32, 2)))
	require.NoError(t, Scan(op, input, output, acc))
	assert.Equal(t, []float64{1, 3, 6, 10, 30, 60}, output.Floats())
	assert.Equal(t, []float64{6, 60}, acc.Floats())
}

func TestScanFold(t *testing.T) {
	f32 := dtypes.Float32
	op := must.M1(structured.NewScan(
		structured.NamedValue("input", shapes.Make(f32, 1)),
		structured.NamedValue("output", shapes.Make(f32, 1)),
		structured.NamedValue("acc", shapes.Make(f32)),
		0, true, addRegion(f32)))
	require.True(t, op.CanFold())

	input := must.M1(tensor.FromFloats(shapes.Make(f32, 1), 7))
	output := must.M1(tensor.New(shapes.Make(f32, 1)))
	acc := must.M1(tensor.New(shapes.Make(f32)))
	require.NoError(t, Scan(op, input, output, acc))
	assert.Equal(t, []float64{7}, output.Floats())
	assert.Equal(t, 7.0, acc.At().Float)
}

func TestScatterUniqueIndices(t *testing.T) {
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewScatter(
		structured.NamedValue("updates", shapes.Make(f32, 2)),
		structured.NamedValue("indices", shapes.Make(i64, 2, 1)),
		structured.NamedValue("original", shapes.Make(f32, 4)),
		[]int64{0}, true, addRegion(f32)))

	updates := must.M1(tensor.FromFloats(shapes.Make(f32, 2), 5, 7))
	indices := must.M1(tensor.FromInts(shapes.Make(i64, 2, 1), 1, 3))
	original := must.M1(tensor.New(shapes.Make(f32, 4)))
	require.NoError(t, Scatter(op, updates, indices, original))
	assert.Equal(t, []float64{0, 5, 0, 7}, original.Floats())
}

func TestScatterDuplicateIndices(t *testing.T) {
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewScatter(
		structured.NamedValue("updates", shapes.Make(f32, 2)),
		structured.NamedValue("indices", shapes.Make(i64, 2, 1)),
		structured.NamedValue("original", shapes.Make(f32, 2)),
		[]int64{0}, false, addRegion(f32)))

	updates := must.M1(tensor.FromFloats(shapes.Make(f32, 2), 1, 2))
	indices := must.M1(tensor.FromInts(shapes.Make(i64, 2, 1), 0, 0))
	original := must.M1(tensor.New(shapes.Make(f32, 2)))
	require.NoError(t, Scatter(op, updates, indices, original))
	// Both rows accumulate sequentially at index 0.
	assert.Equal(t, []float64{3, 0}, original.Floats())
}

func TestScatterSliceUpdates(t *testing.T) {
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewScatter(
		structured.NamedValue("updates", shapes.Make(f32, 2, 3)),
		structured.NamedValue("indices", shapes.Make(i64, 2, 1)),
		structured.NamedValue("original", shapes.Make(f32, 4, 3)),
		[]int64{0}, true, addRegion(f32)))

	updates := must.M1(tensor.FromFloats(shapes.Make(f32, 2, 3), 1, 2, 3, 4, 5, 6))
	indices := must.M1(tensor.FromInts(shapes.Make(i64, 2, 1), 2, 0))
	original := must.M1(tensor.New(shapes.Make(f32, 4, 3)))
	require.NoError(t, Scatter(op, updates, indices, original))
	assert.Equal(t, []float64{
		4, 5, 6,
		0, 0, 0,
		1, 2, 3,
		0, 0, 0,
	}, original.Floats())
}

func TestScatterIndexOutOfRange(t *testing.T) {
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewScatter(
		structured.NamedValue("updates", shapes.Make(f32, 1)),
		structured.NamedValue("indices", shapes.Make(i64, 1, 1)),
		structured.NamedValue("original", shapes.Make(f32, 4)),
		[]int64{0}, true, addRegion(f32)))

	updates := must.M1(tensor.FromFloats(shapes.Make(f32, 1), 1))
	indices := must.M1(tensor.FromInts(shapes.Make(i64, 1, 1), 9))
	original := must.M1(tensor.New(shapes.Make(f32, 4)))
	require.Error(t, Scatter(op, updates, indices, original))
}

func TestSortAscending(t *testing.T) {
	f32 := dtypes.Float32
	op := must.M1(structured.NewSort(
		[]*structured.Value{structured.NamedValue("keys", shapes.Make(f32, 4))},
		0, ascendingRegion(f32)))

	keys := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 3, 1, 2, 1))
	require.NoError(t, Sort(op, []*tensor.Buffer{keys}))
	assert.Equal(t, []float64{1, 1, 2, 3}, keys.Floats())

	// Sorting an already sorted sequence is a no-op.
	require.NoError(t, Sort(op, []*tensor.Buffer{keys}))
	assert.Equal(t, []float64{1, 1, 2, 3}, keys.Floats())
}

func TestSortJointOperands(t *testing.T) {
	// The payload operand is reordered by the keys: a stable argsort.
	f32, i64 := dtypes.Float32, dtypes.Int64
	rb := structured.NewRegionBuilder(f32, f32, i64, i64)
	rb.Yield(rb.CmpF(types.CompareLT, rb.Arg(0), rb.Arg(1)))
	op := must.M1(structured.NewSort(
		[]*structured.Value{
			structured.NamedValue("keys", shapes.Make(f32, 4)),
			structured.NamedValue("positions", shapes.Make(i64, 4)),
		},
		0, rb.Done()))

	keys := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 3, 1, 2, 1))
	positions := must.M1(tensor.FromInts(shapes.Make(i64, 4), 0, 1, 2, 3))
	require.NoError(t, Sort(op, []*tensor.Buffer{keys, positions}))
	assert.Equal(t, []float64{1, 1, 2, 3}, keys.Floats())
	// Equal keys keep their input order.
	assert.Equal(t, []int64{1, 3, 2, 0}, positions.Ints())
}

func TestSortAlongOuterDimension(t *testing.T) {
	f32 := dtypes.Float32
	op := must.M1(structured.NewSort(
		[]*structured.Value{structured.NamedValue("keys", shapes.Make(f32, 3, 2))},
		0, ascendingRegion(f32)))

	keys := must.M1(tensor.FromFloats(shapes.Make(f32, 3, 2),
		5, 0,
		1, 4,
		3, 2))
	require.NoError(t, Sort(op, []*tensor.Buffer{keys}))
	assert.Equal(t, []float64{
		1, 0,
		3, 2,
		5, 4,
	}, keys.Floats())
}

func TestTopK(t *testing.T) {
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewTopK(
		structured.NamedValue("values", shapes.Make(f32, 4)),
		nil,
		structured.NamedValue("out_values", shapes.Make(f32, 2)),
		structured.NamedValue("out_indices", shapes.Make(i64, 2)),
		0, descendingRegion(f32)))

	values := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 5, 3, 5, 1))
	outValues := must.M1(tensor.New(shapes.Make(f32, 2)))
	outIndices := must.M1(tensor.New(shapes.Make(i64, 2)))
	require.NoError(t, TopK(op, values, nil, outValues, outIndices))
	assert.Equal(t, []float64{5, 5}, outValues.Floats())
	// The first occurrence wins the tie, the later equal value follows it.
	assert.Equal(t, []int64{0, 2}, outIndices.Ints())
}

func TestTopKWithIndices(t *testing.T) {
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewTopK(
		structured.NamedValue("values", shapes.Make(f32, 4)),
		structured.NamedValue("indices", shapes.Make(i64, 4)),
		structured.NamedValue("out_values", shapes.Make(f32, 2)),
		structured.NamedValue("out_indices", shapes.Make(i64, 2)),
		0, descendingRegion(f32)))

	values := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 2, 9, 4, 7))
	indices := must.M1(tensor.FromInts(shapes.Make(i64, 4), 100, 101, 102, 103))
	outValues := must.M1(tensor.New(shapes.Make(f32, 2)))
	outIndices := must.M1(tensor.New(shapes.Make(i64, 2)))
	require.NoError(t, TopK(op, values, indices, outValues, outIndices))
	assert.Equal(t, []float64{9, 7}, outValues.Floats())
	assert.Equal(t, []int64{101, 103}, outIndices.Ints())
}

func TestTopKZeroK(t *testing.T) {
	// K is the output extent; zero is a valid degenerate shape and the
	// lowering must do nothing rather than read a boundary element.
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewTopK(
		structured.NamedValue("values", shapes.Make(f32, 4)),
		nil,
		structured.NamedValue("out_values", shapes.Make(f32, 0)),
		structured.NamedValue("out_indices", shapes.Make(i64, 0)),
		0, descendingRegion(f32)))

	values := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 5, 3, 5, 1))
	outValues := must.M1(tensor.New(shapes.Make(f32, 0)))
	outIndices := must.M1(tensor.New(shapes.Make(i64, 0)))
	require.NotPanics(t, func() {
		require.NoError(t, TopK(op, values, nil, outValues, outIndices))
	})
	assert.Empty(t, outValues.Floats())
}

func TestTopKPerRow(t *testing.T) {
	f32, i64 := dtypes.Float32, dtypes.Int64
	op := must.M1(structured.NewTopK(
		structured.NamedValue("values", shapes.Make(f32, 2, 3)),
		nil,
		structured.NamedValue("out_values", shapes.Make(f32, 2, 1)),
		structured.NamedValue("out_indices", shapes.Make(i64, 2, 1)),
		1, descendingRegion(f32)))

	values := must.M1(tensor.FromFloats(shapes.Make(f32, 2, 3), 1, 9, 2, 8, 3, 4))
	outValues := must.M1(tensor.New(shapes.Make(f32, 2, 1)))
	outIndices := must.M1(tensor.New(shapes.Make(i64, 2, 1)))
	require.NoError(t, TopK(op, values, nil, outValues, outIndices))
	assert.Equal(t, []float64{9, 8}, outValues.Floats())
	assert.Equal(t, []int64{1, 0}, outIndices.Ints())
}

func TestAttention(t *testing.T) {
	f32 := dtypes.Float32

	t.Run("softmax rows sum to one", func(t *testing.T) {
		// With value filled with ones, every output element is the sum of the
		// softmax row, which must be 1.
		op := must.M1(structured.NewAttention(
			structured.NamedValue("query", shapes.Make(f32, 1, 2, 2)),
			structured.NamedValue("key", shapes.Make(f32, 1, 3, 2)),
			structured.NamedValue("value", shapes.Make(f32, 1, 3, 2)),
			nil,
			structured.NamedValue("output", shapes.Make(f32, 1, 2, 2))))

		query := must.M1(tensor.FromFloats(shapes.Make(f32, 1, 2, 2), 0.5, -1, 2, 0.25))
		key := must.M1(tensor.FromFloats(shapes.Make(f32, 1, 3, 2), 1, 0, 0, 1, -1, 2))
		value := must.M1(tensor.New(shapes.Make(f32, 1, 3, 2)))
		value.Fill(1)
		output := must.M1(tensor.New(shapes.Make(f32, 1, 2, 2)))
		require.NoError(t, Attention(op, query, key, value, nil, output))
		for _, element := range output.Floats() {
			assert.InDelta(t, 1.0, element, 1e-6)
		}
	})

	t.Run("additive mask selects positions", func(t *testing.T) {
		// Zero queries give uniform scores; a large negative mask on all but
		// the first key position focuses the softmax onto value row 0.
		op := must.M1(structured.NewAttention(
			structured.NamedValue("query", shapes.Make(f32, 1, 1, 2)),
			structured.NamedValue("key", shapes.Make(f32, 1, 3, 2)),
			structured.NamedValue("value", shapes.Make(f32, 1, 3, 2)),
			structured.NamedValue("mask", shapes.Make(f32, 1, 1, 3)),
			structured.NamedValue("output", shapes.Make(f32, 1, 1, 2))))

		query := must.M1(tensor.New(shapes.Make(f32, 1, 1, 2)))
		key := must.M1(tensor.FromFloats(shapes.Make(f32, 1, 3, 2), 1, 0, 0, 1, -1, 2))
		value := must.M1(tensor.FromFloats(shapes.Make(f32, 1, 3, 2), 10, 20, 30, 40, 50, 60))
		mask := must.M1(tensor.FromFloats(shapes.Make(f32, 1, 1, 3), 0, -1e9, -1e9))
		output := must.M1(tensor.New(shapes.Make(f32, 1, 1, 2)))
		require.NoError(t, Attention(op, query, key, value, mask, output))
		assert.InDelta(t, 10, output.At(0, 0, 0).Float, 1e-4)
		assert.InDelta(t, 20, output.At(0, 0, 1).Float, 1e-4)
	})
}

func TestLowerDispatch(t *testing.T) {
	f32 := dtypes.Float32
	op := must.M1(structured.NewScan(
		structured.NamedValue("input", shapes.Make(f32, 4)),
		structured.NamedValue("output", shapes.Make(f32, 4)),
		structured.NamedValue("acc", shapes.Make(f32)),
		0, true, addRegion(f32)))

	input := must.M1(tensor.FromFloats(shapes.Make(f32, 4), 1, 2, 3, 4))
	output := must.M1(tensor.New(shapes.Make(f32, 4)))
	acc := must.M1(tensor.New(shapes.Make(f32)))

	t.Run("ok", func(t *testing.T) {
		bindings := Bindings{"input": input, "output": output, "acc": acc}
		require.NoError(t, Lower(op, bindings))
		assert.Equal(t, []float64{1, 3, 6, 10}, output.Floats())
	})

	t.Run("missing binding", func(t *testing.T) {
		require.Error(t, Lower(op, Bindings{"input": input, "output": output}))
	})

	t.Run("shape mismatch", func(t *testing.T) {
		short := must.M1(tensor.New(shapes.Make(f32, 3)))
		bindings := Bindings{"input": input, "output": short, "acc": acc}
		require.Error(t, Lower(op, bindings))
	})

	t.Run("dtype mismatch", func(t *testing.T) {
		wrong := must.M1(tensor.New(shapes.Make(dtypes.Float64, 4)))
		bindings := Bindings{"input": input, "output": wrong, "acc": acc}
		require.Error(t, Lower(op, bindings))
	})
}
