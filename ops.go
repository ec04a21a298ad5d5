package structured

import (
	"io"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured/internal/optypes"
	"github.com/gomlx/structured/shapeinference"
	"github.com/gomlx/structured/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MemoryEffect describes how an op accesses one operand.
type MemoryEffect int

const (
	// EffectRead marks a read-only operand (an input).
	EffectRead MemoryEffect = iota
	// EffectReadWrite marks a destination operand (an output): read for its
	// initial contents, written with the result.
	EffectReadWrite
)

// Op is the capability surface shared by every op in the catalog. Ops are
// immutable once constructed: any modification means building a new
// instance.
type Op interface {
	// OpType returns the op's tag in the catalog.
	OpType() optypes.OpType

	// Inputs returns the read-only operands, in operand order.
	Inputs() []*Value

	// Outputs returns the destination operands: they define the result
	// shapes and are the logical in-place mutation target.
	Outputs() []*Value

	// Results returns the tensor-form result values when the op is used in
	// pure-value form, aliasing the outputs value-for-value. It is nil for
	// ops used in purely destructive form.
	Results() []*Value

	// Region returns the scalar payload, or nil for ops with fixed
	// semantics (Attention).
	Region() *Region

	// DpsInitsPositionRange returns the half-open range of destination
	// operand positions within the flattened operand list (inputs followed
	// by outputs), so generic passes can locate destinations without
	// op-specific knowledge.
	DpsInitsPositionRange() (start, end int)

	// OperandEffects returns one MemoryEffect per operand of the flattened
	// operand list: EffectRead for inputs, EffectReadWrite for outputs.
	OperandEffects() []MemoryEffect

	// Verify checks the op's structural and shape invariants. Constructors
	// call it before returning, so a non-nil Op always verifies.
	Verify() error

	// Write renders the op in its textual assembly form.
	Write(w io.Writer) error
}

// dpsOp carries the operand segments shared by every catalog op. Inputs and
// outputs are kept as two explicit ordered containers, so variadic segments
// never need a derived split point.
type dpsOp struct {
	opType      optypes.OpType
	inputs      []*Value
	outputs     []*Value
	region      *Region
	withResults bool
}

func (op *dpsOp) OpType() optypes.OpType { return op.opType }

func (op *dpsOp) Inputs() []*Value { return op.inputs }

func (op *dpsOp) Outputs() []*Value { return op.outputs }

func (op *dpsOp) Region() *Region { return op.region }

func (op *dpsOp) Results() []*Value {
	if !op.withResults {
		return nil
	}
	return op.outputs
}

func (op *dpsOp) DpsInitsPositionRange() (start, end int) {
	return len(op.inputs), len(op.inputs) + len(op.outputs)
}

func (op *dpsOp) OperandEffects() []MemoryEffect {
	effects := make([]MemoryEffect, 0, len(op.inputs)+len(op.outputs))
	for range op.inputs {
		effects = append(effects, EffectRead)
	}
	for range op.outputs {
		effects = append(effects, EffectReadWrite)
	}
	return effects
}

func (op *dpsOp) checkOperandsPresent() error {
	for i, v := range op.inputs {
		if v == nil {
			return errors.Errorf("%s input operand #%d is nil", op.opType, i)
		}
	}
	for i, v := range op.outputs {
		if v == nil {
			return errors.Errorf("%s output operand #%d is nil", op.opType, i)
		}
	}
	return nil
}

// MarkResults switches the op between purely destructive form (Results()
// is nil) and pure-value form (Results() aliases the outputs).
func (op *dpsOp) MarkResults(withResults bool) {
	op.withResults = withResults
}

// verified logs and returns the op after a successful Verify, or the
// verification error.
func verified[T Op](op T, err error) (T, error) {
	if err != nil {
		var zero T
		return zero, err
	}
	if err := op.Verify(); err != nil {
		var zero T
		return zero, err
	}
	if klog.V(2).Enabled() {
		klog.Infof("verified %s op with %d inputs, %d outputs", op.OpType(), len(op.Inputs()), len(op.Outputs()))
	}
	return op, nil
}

// ScanOp is an inclusive or exclusive running reduction along one
// dimension.
//
// The region is the combining function: it receives (accumulator element,
// input element) and yields the combined value, which becomes the new
// accumulator. With Inclusive, output[i] is the accumulator after folding
// element i; otherwise it is the accumulator before, and output[0] is the
// accumulator operand's externally supplied initial value.
type ScanOp struct {
	dpsOp
	Dimension int
	Inclusive bool
}

// NewScan creates and verifies a ScanOp.
//
// The output must match the input's shape; the accumulator must have the
// input shape with the scanned dimension removed, and carries the initial
// accumulator values in (and the final values out).
func NewScan(input, output, accumulator *Value, dimension int, inclusive bool, combiner *Region) (*ScanOp, error) {
	op := &ScanOp{
		dpsOp: dpsOp{
			opType:  optypes.Scan,
			inputs:  []*Value{input},
			outputs: []*Value{output, accumulator},
			region:  combiner,
		},
		Dimension: dimension,
		Inclusive: inclusive,
	}
	return verified(op, op.checkOperandsPresent())
}

// Input returns the scanned input operand.
func (op *ScanOp) Input() *Value { return op.inputs[0] }

// Output returns the destination holding the running reduction.
func (op *ScanOp) Output() *Value { return op.outputs[0] }

// Accumulator returns the destination holding the final accumulator; its
// initial contents are the initial accumulator values.
func (op *ScanOp) Accumulator() *Value { return op.outputs[1] }

// Verify implements Op.
func (op *ScanOp) Verify() error {
	input, output, accumulator := op.Input().Shape(), op.Output().Shape(), op.Accumulator().Shape()
	if err := shapeinference.Scan(input, output, accumulator, op.Dimension); err != nil {
		return err
	}
	return op.region.verifyContract(
		[]dtypes.DType{accumulator.DType, input.DType},
		[]dtypes.DType{accumulator.DType})
}

// ScatterOp is a data-dependent update-by-index.
//
// Each row of the rank-2 Indices operand is an index tuple addressing,
// through DimensionMap, a slice of Original; that slice is combined with
// the corresponding slice of Updates through the region, a binary function
// receiving (update element, current element) and yielding the new element.
//
// With UniqueIndices false, multiple rows may address the same slice and
// the loop over rows is a sequential reduction. With UniqueIndices true and
// duplicate rows actually present, behavior is undefined; the verifier
// cannot check a runtime data property.
type ScatterOp struct {
	dpsOp
	DimensionMap  []int64
	UniqueIndices bool

	indexDepth int
}

// NewScatter creates and verifies a ScatterOp.
func NewScatter(updates, indices, original *Value, dimensionMap []int64, uniqueIndices bool, combiner *Region) (*ScatterOp, error) {
	op := &ScatterOp{
		dpsOp: dpsOp{
			opType:  optypes.Scatter,
			inputs:  []*Value{updates, indices},
			outputs: []*Value{original},
			region:  combiner,
		},
		DimensionMap:  dimensionMap,
		UniqueIndices: uniqueIndices,
	}
	return verified(op, op.checkOperandsPresent())
}

// Updates returns the update values operand.
func (op *ScatterOp) Updates() *Value { return op.inputs[0] }

// Indices returns the rank-2 index tuples operand.
func (op *ScatterOp) Indices() *Value { return op.inputs[1] }

// Original returns the destination operand being updated.
func (op *ScatterOp) Original() *Value { return op.outputs[0] }

// IndexDepth returns the static length of each index tuple.
func (op *ScatterOp) IndexDepth() int { return op.indexDepth }

// IsScalarUpdate reports whether each update is a single scalar (updates
// has rank 1, no slice dimensions).
func (op *ScatterOp) IsScalarUpdate() bool { return op.Updates().Shape().Rank() == 1 }

// Verify implements Op.
func (op *ScatterOp) Verify() error {
	updates, indices, original := op.Updates().Shape(), op.Indices().Shape(), op.Original().Shape()
	indexDepth, err := shapeinference.Scatter(updates, indices, original, op.DimensionMap)
	if err != nil {
		return err
	}
	op.indexDepth = indexDepth
	return op.region.verifyContract(
		[]dtypes.DType{updates.DType, original.DType},
		[]dtypes.DType{original.DType})
}

// SortOp jointly reorders its operands' elements along one dimension.
//
// Sort is destination-passing: the operands to sort are carried as outputs
// and sorted in place. The region is the comparator: for two positions it
// receives one (lhs, rhs) element pair per operand -- lhs taken at the
// later position, rhs at the earlier -- and yields true when the two
// positions must be swapped. An `lhs < rhs` comparator therefore sorts
// ascending and never reorders equal elements.
type SortOp struct {
	dpsOp
	Dimension int
}

// NewSort creates and verifies a SortOp over the given operands, which must
// all share the same dimensions.
func NewSort(operands []*Value, dimension int, comparator *Region) (*SortOp, error) {
	op := &SortOp{
		dpsOp: dpsOp{
			opType:  optypes.Sort,
			outputs: operands,
			region:  comparator,
		},
		Dimension: dimension,
	}
	return verified(op, op.checkOperandsPresent())
}

// Operands returns the values being sorted.
func (op *SortOp) Operands() []*Value { return op.outputs }

// Verify implements Op.
func (op *SortOp) Verify() error {
	operandShapes := make([]shapes.Shape, len(op.outputs))
	for i, operand := range op.outputs {
		operandShapes[i] = operand.Shape()
	}
	if err := shapeinference.Sort(operandShapes, op.Dimension); err != nil {
		return err
	}
	// One (lhs, rhs) scalar pair per sorted operand, a single boolean out.
	wantArgs := make([]dtypes.DType, 0, 2*len(op.outputs))
	for _, operand := range op.outputs {
		wantArgs = append(wantArgs, operand.Shape().DType, operand.Shape().DType)
	}
	return op.region.verifyContract(wantArgs, []dtypes.DType{dtypes.Bool})
}

// TopKOp selects the K best elements along one dimension, reducing that
// dimension's extent to K (the output's static extent, not a separate
// attribute).
//
// The region is the comparator: it receives (candidate element, current
// boundary element) and yields true when the candidate displaces it. Ties
// never evict an already-placed earlier element, so on equal values the
// lower input position wins.
type TopKOp struct {
	dpsOp
	Dimension int

	k          int
	hasIndices bool
}

// NewTopK creates and verifies a TopKOp. Pass nil for indices to have
// positions along the dimension synthesized as indices.
func NewTopK(values, indices, outputValues, outputIndices *Value, dimension int, comparator *Region) (*TopKOp, error) {
	inputs := []*Value{values}
	if indices != nil {
		inputs = append(inputs, indices)
	}
	op := &TopKOp{
		dpsOp: dpsOp{
			opType:  optypes.TopK,
			inputs:  inputs,
			outputs: []*Value{outputValues, outputIndices},
			region:  comparator,
		},
		Dimension:  dimension,
		hasIndices: indices != nil,
	}
	return verified(op, op.checkOperandsPresent())
}

// Values returns the candidate values operand.
func (op *TopKOp) Values() *Value { return op.inputs[0] }

// IndicesInput returns the optional indices operand, or nil when indices
// are synthesized from positions.
func (op *TopKOp) IndicesInput() *Value {
	if !op.hasIndices {
		return nil
	}
	return op.inputs[1]
}

// OutputValues returns the destination holding the selected values.
func (op *TopKOp) OutputValues() *Value { return op.outputs[0] }

// OutputIndices returns the destination holding the selected indices.
func (op *TopKOp) OutputIndices() *Value { return op.outputs[1] }

// K returns the number of elements selected along the dimension.
func (op *TopKOp) K() int { return op.k }

// Verify implements Op.
func (op *TopKOp) Verify() error {
	indicesShape := shapes.Invalid()
	if op.hasIndices {
		indicesShape = op.inputs[1].Shape()
	}
	values := op.Values().Shape()
	k, err := shapeinference.TopK(values, indicesShape, op.OutputValues().Shape(), op.OutputIndices().Shape(), op.Dimension)
	if err != nil {
		return err
	}
	op.k = k
	return op.region.verifyContract(
		[]dtypes.DType{values.DType, values.DType},
		[]dtypes.DType{dtypes.Bool})
}

// AttentionOp is scaled dot-product attention without fused scaling,
// masking or dropout:
//
//	output = matmul(softmax(matmul(Q, transpose(K)) [+ mask]), V)
//
// with the softmax taken along the K2 axis. The computation is fixed, so
// there is no region.
type AttentionOp struct {
	dpsOp
	hasMask bool
}

// NewAttention creates and verifies an AttentionOp. Pass nil for mask when
// no additive mask is applied.
func NewAttention(query, key, value, mask, output *Value) (*AttentionOp, error) {
	inputs := []*Value{query, key, value}
	if mask != nil {
		inputs = append(inputs, mask)
	}
	op := &AttentionOp{
		dpsOp: dpsOp{
			opType:  optypes.Attention,
			inputs:  inputs,
			outputs: []*Value{output},
		},
		hasMask: mask != nil,
	}
	return verified(op, op.checkOperandsPresent())
}

// Query returns the query operand [B,M,K1].
func (op *AttentionOp) Query() *Value { return op.inputs[0] }

// Key returns the key operand [B,K2,K1].
func (op *AttentionOp) Key() *Value { return op.inputs[1] }

// Value returns the value operand [B,K2,N].
func (op *AttentionOp) Value() *Value { return op.inputs[2] }

// Mask returns the optional additive mask operand [B,M,K2], or nil.
func (op *AttentionOp) Mask() *Value {
	if !op.hasMask {
		return nil
	}
	return op.inputs[3]
}

// Output returns the destination operand [B,M,N].
func (op *AttentionOp) Output() *Value { return op.outputs[0] }

// Verify implements Op.
func (op *AttentionOp) Verify() error {
	maskShape := shapes.Invalid()
	if op.hasMask {
		maskShape = op.inputs[3].Shape()
	}
	return shapeinference.Attention(
		op.Query().Shape(), op.Key().Shape(), op.Value().Shape(), maskShape, op.Output().Shape())
}
