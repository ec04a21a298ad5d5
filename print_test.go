package structured

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured/types"
	"github.com/gomlx/structured/types/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintScan(t *testing.T) {
	input := NamedValue("input", shapes.Make(dtypes.Float32, 4))
	output := NamedValue("output", shapes.Make(dtypes.Float32, 4))
	acc := NamedValue("acc", shapes.Make(dtypes.Float32))
	op, err := NewScan(input, output, acc, 0, true, addRegion(dtypes.Float32))
	require.NoError(t, err)

	text, err := Print(op)
	require.NoError(t, err)
	assert.Equal(t, `structured.scan dimension(0) inclusive(true) ins(%input : tensor<4xf32>) outs(%output, %acc : tensor<4xf32>, tensor<f32>) {
^bb0(%arg0: f32, %arg1: f32):
  %0 = addf %arg0, %arg1 : f32
  structured.yield %0 : f32
}`, text)

	op.MarkResults(true)
	text, err = Print(op)
	require.NoError(t, err)
	assert.Contains(t, text, "} -> tensor<4xf32>, tensor<f32>")
}

func TestPrintScatter(t *testing.T) {
	updates := NamedValue("updates", shapes.Make(dtypes.Float32, 2))
	indices := NamedValue("indices", shapes.Make(dtypes.Int64, 2, 1))
	original := NamedValue("original", shapes.Make(dtypes.Float32, 4))
	op, err := NewScatter(updates, indices, original, []int64{0}, true, addRegion(dtypes.Float32))
	require.NoError(t, err)

	text, err := Print(op)
	require.NoError(t, err)
	assert.Contains(t, text, "structured.scatter {dimension_map = array<i64: 0>} unique_indices(true)")
	assert.Contains(t, text, "ins(%updates, %indices : tensor<2xf32>, tensor<2x1xi64>)")
	assert.Contains(t, text, "outs(%original : tensor<4xf32>)")
}

func TestPrintRegionInstructions(t *testing.T) {
	// A comparator with a constant threshold exercises every instruction
	// form: constant, comparison, select.
	rb := NewRegionBuilder(dtypes.Float32, dtypes.Float32)
	zero := rb.ConstF(dtypes.Float32, 0)
	pred := rb.CmpF(types.CompareLT, rb.Arg(0), rb.Arg(1))
	gate := rb.CmpF(types.CompareGE, rb.Arg(0), zero)
	rb.Yield(rb.Select(gate, pred, gate))
	region := rb.Done()

	operand := NamedValue("keys", shapes.Make(dtypes.Float32, 3))
	op, err := NewSort([]*Value{operand}, 0, region)
	require.NoError(t, err)

	text, err := Print(op)
	require.NoError(t, err)
	assert.Contains(t, text, "%0 = constant 0 : f32")
	assert.Contains(t, text, "%1 = cmpf lt, %arg0, %arg1 : f32")
	assert.Contains(t, text, "%2 = cmpf ge, %arg0, %0 : f32")
	assert.Contains(t, text, "%3 = select %2, %1, %2 : i1")
	assert.Contains(t, text, "structured.yield %3 : i1")
}

func TestRoundTrip(t *testing.T) {
	ops := map[string]func(t *testing.T) Op{
		"scan": func(t *testing.T) Op {
			op, err := NewScan(
				NamedValue("input", shapes.Make(dtypes.Float32, 4, 2)),
				NamedValue("output", shapes.Make(dtypes.Float32, 4, 2)),
				NamedValue("acc", shapes.Make(dtypes.Float32, 4)),
				1, false, addRegion(dtypes.Float32))
			require.NoError(t, err)
			return op
		},
		"scatter": func(t *testing.T) Op {
			op, err := NewScatter(
				NamedValue("updates", shapes.Make(dtypes.Float32, 2, 3)),
				NamedValue("indices", shapes.Make(dtypes.Int64, 2, 1)),
				NamedValue("original", shapes.Make(dtypes.Float32, 4, 3)),
				[]int64{0}, false, addRegion(dtypes.Float32))
			require.NoError(t, err)
			return op
		},
		"sort": func(t *testing.T) Op {
			rb := NewRegionBuilder(dtypes.Float32, dtypes.Float32, dtypes.Int64, dtypes.Int64)
			rb.Yield(rb.CmpF(types.CompareLT, rb.Arg(0), rb.Arg(1)))
			op, err := NewSort([]*Value{
				NamedValue("keys", shapes.Make(dtypes.Float32, 4)),
				NamedValue("payload", shapes.Make(dtypes.Int64, 4)),
			}, 0, rb.Done())
			require.NoError(t, err)
			return op
		},
		"topk": func(t *testing.T) Op {
			op, err := NewTopK(
				NamedValue("values", shapes.Make(dtypes.Float32, 8)),
				nil,
				NamedValue("out_values", shapes.Make(dtypes.Float32, 3)),
				NamedValue("out_indices", shapes.Make(dtypes.Int64, 3)),
				0, greaterThanRegion(dtypes.Float32))
			require.NoError(t, err)
			return op
		},
		"topk with indices": func(t *testing.T) Op {
			op, err := NewTopK(
				NamedValue("values", shapes.Make(dtypes.Float32, 8)),
				NamedValue("indices", shapes.Make(dtypes.Int64, 8)),
				NamedValue("out_values", shapes.Make(dtypes.Float32, 3)),
				NamedValue("out_indices", shapes.Make(dtypes.Int64, 3)),
				0, greaterThanRegion(dtypes.Float32))
			require.NoError(t, err)
			return op
		},
		"attention": func(t *testing.T) Op {
			op, err := NewAttention(
				NamedValue("query", shapes.Make(dtypes.Float32, 2, 3, 4)),
				NamedValue("key", shapes.Make(dtypes.Float32, 2, 5, 4)),
				NamedValue("value", shapes.Make(dtypes.Float32, 2, 5, 6)),
				NamedValue("mask", shapes.Make(dtypes.Float32, 2, 3, 5)),
				NamedValue("output", shapes.Make(dtypes.Float32, 2, 3, 6)))
			require.NoError(t, err)
			return op
		},
	}
	for name, build := range ops {
		t.Run(name, func(t *testing.T) {
			op := build(t)
			for _, withResults := range []bool{false, true} {
				switch typed := op.(type) {
				case *ScanOp:
					typed.MarkResults(withResults)
				case *ScatterOp:
					typed.MarkResults(withResults)
				case *SortOp:
					typed.MarkResults(withResults)
				case *TopKOp:
					typed.MarkResults(withResults)
				case *AttentionOp:
					typed.MarkResults(withResults)
				}
				text, err := Print(op)
				require.NoError(t, err)
				parsed, err := Parse(text)
				require.NoError(t, err, "parsing:\n%s", text)
				assert.True(t, Equal(op, parsed), "round trip changed the op:\n%s", text)

				// The round trip must also be bit-exact through a second print.
				reprinted, err := Print(parsed)
				require.NoError(t, err)
				assert.Equal(t, text, reprinted)
			}
		})
	}
}

func TestRoundTripFloatConstantPrecision(t *testing.T) {
	// A constant with more digits than a fixed-precision format would keep
	// must survive print and parse with its exact float64 bits.
	f64 := dtypes.Float64
	rb := NewRegionBuilder(f64, f64)
	threshold := rb.ConstF(f64, 0.1234567890123)
	shifted := rb.AddF(rb.Arg(0), threshold)
	rb.Yield(rb.CmpF(types.CompareLT, shifted, rb.Arg(1)))

	op, err := NewSort([]*Value{NamedValue("keys", shapes.Make(f64, 4))}, 0, rb.Done())
	require.NoError(t, err)

	text, err := Print(op)
	require.NoError(t, err)
	assert.Contains(t, text, "constant 0.1234567890123 : f64")

	parsed, err := Parse(text)
	require.NoError(t, err)
	assert.True(t, Equal(op, parsed), "round trip changed the op:\n%s", text)
}

func TestParseErrors(t *testing.T) {
	for name, text := range map[string]string{
		"unknown op":      `structured.gather ins(%a : tensor<4xf32>) outs(%b : tensor<4xf32>)`,
		"sort with ins":   `structured.sort dimension(0) ins(%a : tensor<4xf32>) outs(%b : tensor<4xf32>) { ^bb0(%arg0: f32, %arg1: f32): structured.yield %arg0 : i1 }`,
		"trailing input":  `structured.attention ins(%q, %k, %v : tensor<1x2x3xf32>, tensor<1x4x3xf32>, tensor<1x4x5xf32>) outs(%o : tensor<1x2x5xf32>) extra`,
		"bad tensor type": `structured.attention ins(%q, %k, %v : tensor<1x2x3xfloat>, tensor<1x4x3xf32>, tensor<1x4x5xf32>) outs(%o : tensor<1x2x5xf32>)`,
		"missing outs":    `structured.scan dimension(0) inclusive(true) ins(%input : tensor<4xf32>)`,
		"result type not aliasing output": `structured.attention ins(%q, %k, %v : tensor<1x2x3xf32>, tensor<1x4x3xf32>, tensor<1x4x5xf32>) outs(%o : tensor<1x2x5xf32>) -> tensor<999xf32>`,
		"result count mismatch": `structured.scan dimension(0) inclusive(true) ins(%input : tensor<4xf32>) outs(%output, %acc : tensor<4xf32>, tensor<f32>) {
^bb0(%arg0: f32, %arg1: f32):
  %0 = addf %arg0, %arg1 : f32
  structured.yield %0 : f32
} -> tensor<4xf32>`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(text)
			require.Error(t, err)
		})
	}
}

func TestParseVerifies(t *testing.T) {
	// Shape violations surface at parse time, through the verifier.
	text := `structured.scan dimension(0) inclusive(true) ins(%input : tensor<4xf32>) outs(%output, %acc : tensor<5xf32>, tensor<f32>) {
^bb0(%arg0: f32, %arg1: f32):
  %0 = addf %arg0, %arg1 : f32
  structured.yield %0 : f32
}`
	_, err := Parse(text)
	require.ErrorIs(t, err, ErrShapeMismatch)
}
