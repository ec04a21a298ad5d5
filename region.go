package structured

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured/types"
	"github.com/gomlx/structured/types/tensor"
	"github.com/pkg/errors"
)

// ScalarOpKind enumerates the scalar instructions a region payload may
// contain. The set is deliberately small: regions are combining functions,
// not general programs.
type ScalarOpKind int

const (
	ScalarInvalid ScalarOpKind = iota

	ScalarAddF
	ScalarSubF
	ScalarMulF
	ScalarDivF
	ScalarMaxF
	ScalarMinF

	ScalarAddI
	ScalarSubI
	ScalarMulI
	ScalarMaxI
	ScalarMinI

	ScalarCmpF
	ScalarCmpI
	ScalarSelect
	ScalarConst
)

// scalarOpMnemonics maps ScalarOpKind to its assembly mnemonic.
var scalarOpMnemonics = map[ScalarOpKind]string{
	ScalarAddF:   "addf",
	ScalarSubF:   "subf",
	ScalarMulF:   "mulf",
	ScalarDivF:   "divf",
	ScalarMaxF:   "maxf",
	ScalarMinF:   "minf",
	ScalarAddI:   "addi",
	ScalarSubI:   "subi",
	ScalarMulI:   "muli",
	ScalarMaxI:   "maxi",
	ScalarMinI:   "mini",
	ScalarCmpF:   "cmpf",
	ScalarCmpI:   "cmpi",
	ScalarSelect: "select",
	ScalarConst:  "constant",
}

// scalarOpFromMnemonic is the inverse of scalarOpMnemonics.
var scalarOpFromMnemonic = func() map[string]ScalarOpKind {
	m := make(map[string]ScalarOpKind, len(scalarOpMnemonics))
	for kind, name := range scalarOpMnemonics {
		m[name] = kind
	}
	return m
}()

// ScalarInstr is one scalar instruction in a region block. Args refer to
// value ids: ids [0, len(block args)) are the block arguments, and each
// instruction defines the next id in sequence.
type ScalarInstr struct {
	Kind      ScalarOpKind
	Direction types.ComparisonDirection // only for ScalarCmpF/ScalarCmpI
	Args      []int
	Const     tensor.Scalar // only for ScalarConst
	DType     dtypes.DType  // result element type
}

// Block is the single block of a Region: typed scalar arguments, a list of
// scalar instructions and a yield terminator.
type Block struct {
	ArgTypes []dtypes.DType
	Instrs   []ScalarInstr

	// YieldArgs and YieldTypes describe the terminator. They are only
	// meaningful when hasYield is true; a block built without a yield fails
	// verification with ErrMissingTerminator.
	YieldArgs  []int
	YieldTypes []dtypes.DType

	hasYield bool
}

// Region is a single-block callable attached to an op: it receives scalar
// operands per iteration and terminates by yielding the scalar outputs the
// op semantics define.
type Region struct {
	Block *Block
}

// NumArgs returns the number of block arguments.
func (r *Region) NumArgs() int { return len(r.Block.ArgTypes) }

// NumResults returns the number of yielded values.
func (r *Region) NumResults() int { return len(r.Block.YieldTypes) }

// HasTerminator reports whether the block ends in a yield.
func (r *Region) HasTerminator() bool { return r.Block.hasYield }

// valueDType returns the element type of the value with the given id, or
// InvalidDType for an out-of-range id.
func (b *Block) valueDType(id int) dtypes.DType {
	if id < 0 {
		return dtypes.InvalidDType
	}
	if id < len(b.ArgTypes) {
		return b.ArgTypes[id]
	}
	id -= len(b.ArgTypes)
	if id >= len(b.Instrs) {
		return dtypes.InvalidDType
	}
	return b.Instrs[id].DType
}

// verifyContract checks the region against the op's per-iteration scalar
// contract: block argument types and yield types must match exactly, and
// every instruction must reference previously defined values.
func (r *Region) verifyContract(wantArgs, wantYields []dtypes.DType) error {
	if r == nil || r.Block == nil {
		return errors.Wrapf(ErrRegionArityMismatch, "op requires a region with %d scalar arguments, got none", len(wantArgs))
	}
	b := r.Block
	if !b.hasYield {
		return errors.WithStack(ErrMissingTerminator)
	}
	if len(b.ArgTypes) != len(wantArgs) {
		return errors.Wrapf(ErrRegionArityMismatch, "region has %d block arguments, op expects %d", len(b.ArgTypes), len(wantArgs))
	}
	for i, want := range wantArgs {
		if b.ArgTypes[i] != want {
			return errors.Wrapf(ErrRegionArityMismatch, "region block argument #%d has type %s, op expects %s", i, b.ArgTypes[i], want)
		}
	}
	for idx, instr := range b.Instrs {
		id := len(b.ArgTypes) + idx
		for _, arg := range instr.Args {
			if arg < 0 || arg >= id {
				return errors.Wrapf(ErrRegionArityMismatch, "instruction %%%d references undefined value %%%d", id, arg)
			}
		}
	}
	if len(b.YieldArgs) != len(wantYields) {
		return errors.Wrapf(ErrRegionArityMismatch, "region yields %d values, op expects %d", len(b.YieldArgs), len(wantYields))
	}
	for i, arg := range b.YieldArgs {
		got := b.valueDType(arg)
		if got != wantYields[i] {
			return errors.Wrapf(ErrRegionArityMismatch, "region yield operand #%d has type %s, op expects %s", i, got, wantYields[i])
		}
	}
	return nil
}

// Eval runs the region payload with the given scalar arguments and returns
// the yielded scalars.
//
// Eval assumes a verified region: it does not re-check the arity contract.
func (r *Region) Eval(args ...tensor.Scalar) ([]tensor.Scalar, error) {
	b := r.Block
	if len(args) != len(b.ArgTypes) {
		return nil, errors.Errorf("region evaluated with %d arguments, block has %d", len(args), len(b.ArgTypes))
	}
	values := make([]tensor.Scalar, len(args), len(args)+len(b.Instrs))
	copy(values, args)
	for _, instr := range b.Instrs {
		result, err := evalScalarInstr(instr, values)
		if err != nil {
			return nil, err
		}
		values = append(values, result)
	}
	results := make([]tensor.Scalar, len(b.YieldArgs))
	for i, arg := range b.YieldArgs {
		results[i] = values[arg]
	}
	return results, nil
}

func evalScalarInstr(instr ScalarInstr, values []tensor.Scalar) (tensor.Scalar, error) {
	arg := func(i int) tensor.Scalar { return values[instr.Args[i]] }
	switch instr.Kind {
	case ScalarAddF:
		return tensor.FloatScalar(instr.DType, arg(0).Float+arg(1).Float), nil
	case ScalarSubF:
		return tensor.FloatScalar(instr.DType, arg(0).Float-arg(1).Float), nil
	case ScalarMulF:
		return tensor.FloatScalar(instr.DType, arg(0).Float*arg(1).Float), nil
	case ScalarDivF:
		return tensor.FloatScalar(instr.DType, arg(0).Float/arg(1).Float), nil
	case ScalarMaxF:
		return tensor.FloatScalar(instr.DType, max(arg(0).Float, arg(1).Float)), nil
	case ScalarMinF:
		return tensor.FloatScalar(instr.DType, min(arg(0).Float, arg(1).Float)), nil
	case ScalarAddI:
		return tensor.IntScalar(instr.DType, arg(0).Int+arg(1).Int), nil
	case ScalarSubI:
		return tensor.IntScalar(instr.DType, arg(0).Int-arg(1).Int), nil
	case ScalarMulI:
		return tensor.IntScalar(instr.DType, arg(0).Int*arg(1).Int), nil
	case ScalarMaxI:
		return tensor.IntScalar(instr.DType, max(arg(0).Int, arg(1).Int)), nil
	case ScalarMinI:
		return tensor.IntScalar(instr.DType, min(arg(0).Int, arg(1).Int)), nil
	case ScalarCmpF:
		return tensor.BoolScalar(compareFloats(instr.Direction, arg(0).Float, arg(1).Float)), nil
	case ScalarCmpI:
		return tensor.BoolScalar(compareInts(instr.Direction, arg(0).Int, arg(1).Int)), nil
	case ScalarSelect:
		if arg(0).Bool {
			return arg(1), nil
		}
		return arg(2), nil
	case ScalarConst:
		return instr.Const, nil
	}
	return tensor.Scalar{}, errors.Errorf("invalid scalar instruction kind %d", instr.Kind)
}

func compareFloats(direction types.ComparisonDirection, lhs, rhs float64) bool {
	switch direction {
	case types.CompareEQ:
		return lhs == rhs
	case types.CompareNE:
		return lhs != rhs
	case types.CompareLT:
		return lhs < rhs
	case types.CompareLE:
		return lhs <= rhs
	case types.CompareGT:
		return lhs > rhs
	case types.CompareGE:
		return lhs >= rhs
	}
	return false
}

func compareInts(direction types.ComparisonDirection, lhs, rhs int64) bool {
	switch direction {
	case types.CompareEQ:
		return lhs == rhs
	case types.CompareNE:
		return lhs != rhs
	case types.CompareLT:
		return lhs < rhs
	case types.CompareLE:
		return lhs <= rhs
	case types.CompareGT:
		return lhs > rhs
	case types.CompareGE:
		return lhs >= rhs
	}
	return false
}

// RegionBuilder incrementally builds a Region. Block arguments get ids
// [0, numArgs); each instruction added defines the next id, returned by the
// builder method.
type RegionBuilder struct {
	block Block
}

// NewRegionBuilder creates a RegionBuilder whose block takes the given
// scalar argument types.
func NewRegionBuilder(argTypes ...dtypes.DType) *RegionBuilder {
	return &RegionBuilder{block: Block{ArgTypes: argTypes}}
}

// Arg returns the value id of the i-th block argument.
func (rb *RegionBuilder) Arg(i int) int { return i }

func (rb *RegionBuilder) addInstr(instr ScalarInstr) int {
	rb.block.Instrs = append(rb.block.Instrs, instr)
	return len(rb.block.ArgTypes) + len(rb.block.Instrs) - 1
}

func (rb *RegionBuilder) binary(kind ScalarOpKind, lhs, rhs int) int {
	return rb.addInstr(ScalarInstr{
		Kind:  kind,
		Args:  []int{lhs, rhs},
		DType: rb.block.valueDType(lhs),
	})
}

// AddF appends a float addition and returns the result id.
func (rb *RegionBuilder) AddF(lhs, rhs int) int { return rb.binary(ScalarAddF, lhs, rhs) }

// SubF appends a float subtraction and returns the result id.
func (rb *RegionBuilder) SubF(lhs, rhs int) int { return rb.binary(ScalarSubF, lhs, rhs) }

// MulF appends a float multiplication and returns the result id.
func (rb *RegionBuilder) MulF(lhs, rhs int) int { return rb.binary(ScalarMulF, lhs, rhs) }

// DivF appends a float division and returns the result id.
func (rb *RegionBuilder) DivF(lhs, rhs int) int { return rb.binary(ScalarDivF, lhs, rhs) }

// MaxF appends a float maximum and returns the result id.
func (rb *RegionBuilder) MaxF(lhs, rhs int) int { return rb.binary(ScalarMaxF, lhs, rhs) }

// MinF appends a float minimum and returns the result id.
func (rb *RegionBuilder) MinF(lhs, rhs int) int { return rb.binary(ScalarMinF, lhs, rhs) }

// AddI appends an integer addition and returns the result id.
func (rb *RegionBuilder) AddI(lhs, rhs int) int { return rb.binary(ScalarAddI, lhs, rhs) }

// SubI appends an integer subtraction and returns the result id.
func (rb *RegionBuilder) SubI(lhs, rhs int) int { return rb.binary(ScalarSubI, lhs, rhs) }

// MulI appends an integer multiplication and returns the result id.
func (rb *RegionBuilder) MulI(lhs, rhs int) int { return rb.binary(ScalarMulI, lhs, rhs) }

// MaxI appends an integer maximum and returns the result id.
func (rb *RegionBuilder) MaxI(lhs, rhs int) int { return rb.binary(ScalarMaxI, lhs, rhs) }

// MinI appends an integer minimum and returns the result id.
func (rb *RegionBuilder) MinI(lhs, rhs int) int { return rb.binary(ScalarMinI, lhs, rhs) }

// CmpF appends a float comparison yielding a boolean and returns the result id.
func (rb *RegionBuilder) CmpF(direction types.ComparisonDirection, lhs, rhs int) int {
	return rb.addInstr(ScalarInstr{
		Kind:      ScalarCmpF,
		Direction: direction,
		Args:      []int{lhs, rhs},
		DType:     dtypes.Bool,
	})
}

// CmpI appends an integer comparison yielding a boolean and returns the result id.
func (rb *RegionBuilder) CmpI(direction types.ComparisonDirection, lhs, rhs int) int {
	return rb.addInstr(ScalarInstr{
		Kind:      ScalarCmpI,
		Direction: direction,
		Args:      []int{lhs, rhs},
		DType:     dtypes.Bool,
	})
}

// Select appends a select between onTrue and onFalse under pred and returns
// the result id.
func (rb *RegionBuilder) Select(pred, onTrue, onFalse int) int {
	return rb.addInstr(ScalarInstr{
		Kind:  ScalarSelect,
		Args:  []int{pred, onTrue, onFalse},
		DType: rb.block.valueDType(onTrue),
	})
}

// ConstF appends a float constant and returns the result id.
func (rb *RegionBuilder) ConstF(dtype dtypes.DType, value float64) int {
	return rb.addInstr(ScalarInstr{
		Kind:  ScalarConst,
		Const: tensor.FloatScalar(dtype, value),
		DType: dtype,
	})
}

// ConstI appends an integer constant and returns the result id.
func (rb *RegionBuilder) ConstI(dtype dtypes.DType, value int64) int {
	return rb.addInstr(ScalarInstr{
		Kind:  ScalarConst,
		Const: tensor.IntScalar(dtype, value),
		DType: dtype,
	})
}

// Yield sets the block terminator. It must be called exactly once, last.
func (rb *RegionBuilder) Yield(ids ...int) {
	rb.block.YieldArgs = ids
	rb.block.YieldTypes = make([]dtypes.DType, len(ids))
	for i, id := range ids {
		rb.block.YieldTypes[i] = rb.block.valueDType(id)
	}
	rb.block.hasYield = true
}

// Done returns the built Region. Builders are single use.
//
// A region built without a Yield call is returned as-is; the enclosing op's
// verifier rejects it with ErrMissingTerminator.
func (rb *RegionBuilder) Done() *Region {
	return &Region{Block: &rb.block}
}
