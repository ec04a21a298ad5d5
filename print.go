package structured

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured/internal/optypes"
	"github.com/gomlx/structured/internal/utils"
	"github.com/pkg/errors"
)

// Print renders the op in its textual assembly form.
func Print(op Op) (string, error) {
	var sb strings.Builder
	if err := op.Write(&sb); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// writeOperandSegment writes `ins(%a, %b : typeA, typeB)` (or `outs(...)`).
// An empty segment writes nothing.
func writeOperandSegment(w io.Writer, keyword string, operands []*Value) error {
	if len(operands) == 0 {
		return nil
	}
	names := make([]string, len(operands))
	typeTexts := make([]string, len(operands))
	for i, operand := range operands {
		names[i] = operand.String()
		typeTexts[i] = operand.Shape().ToAssembly()
	}
	_, err := fmt.Fprintf(w, " %s(%s : %s)", keyword, strings.Join(names, ", "), strings.Join(typeTexts, ", "))
	return err
}

// writeResultTypes writes the trailing ` -> type, type` suffix when the op is
// used in pure-value form.
func writeResultTypes(w io.Writer, results []*Value) error {
	if len(results) == 0 {
		return nil
	}
	typeTexts := make([]string, len(results))
	for i, result := range results {
		typeTexts[i] = result.Shape().ToAssembly()
	}
	_, err := fmt.Fprintf(w, " -> %s", strings.Join(typeTexts, ", "))
	return err
}

// regionValueName returns the textual name of a region value id: block
// arguments are `%arg<i>`, instruction results `%<i>` numbered from zero.
func regionValueName(b *Block, id int) string {
	if id < len(b.ArgTypes) {
		return fmt.Sprintf("%%arg%d", id)
	}
	return fmt.Sprintf("%%%d", id-len(b.ArgTypes))
}

func formatScalarConst(instr ScalarInstr) string {
	if instr.DType.IsFloat() {
		// Shortest representation that parses back to the exact value.
		return strconv.FormatFloat(instr.Const.Float, 'g', -1, 64)
	}
	if instr.DType == dtypes.Bool {
		return strconv.FormatBool(instr.Const.Bool)
	}
	return strconv.FormatInt(instr.Const.Int, 10)
}

// Write renders the region as a brace-delimited single block:
//
//	{
//	^bb0(%arg0: f32, %arg1: f32):
//	  %0 = addf %arg0, %arg1 : f32
//	  structured.yield %0 : f32
//	}
func (r *Region) Write(w io.Writer) error {
	b := r.Block
	args := make([]string, len(b.ArgTypes))
	for i, dtype := range b.ArgTypes {
		args[i] = fmt.Sprintf("%%arg%d: %s", i, utils.DTypeToAssembly(dtype))
	}
	if _, err := fmt.Fprintf(w, " {\n^bb0(%s):\n", strings.Join(args, ", ")); err != nil {
		return err
	}
	for idx, instr := range b.Instrs {
		if err := writeScalarInstr(w, b, idx, instr); err != nil {
			return err
		}
	}
	if err := writeYield(w, b); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "}")
	return err
}

func writeScalarInstr(w io.Writer, b *Block, idx int, instr ScalarInstr) error {
	result := regionValueName(b, len(b.ArgTypes)+idx)
	mnemonic, ok := scalarOpMnemonics[instr.Kind]
	if !ok {
		return errors.Errorf("cannot print scalar instruction %s: unknown kind %d", result, instr.Kind)
	}
	operands := make([]string, len(instr.Args))
	for i, arg := range instr.Args {
		operands[i] = regionValueName(b, arg)
	}
	var err error
	switch instr.Kind {
	case ScalarCmpF, ScalarCmpI:
		// The type annotation is the compared type, not the boolean result.
		_, err = fmt.Fprintf(w, "  %s = %s %s, %s : %s\n", result, mnemonic,
			instr.Direction.ToAssembly(), strings.Join(operands, ", "),
			utils.DTypeToAssembly(b.valueDType(instr.Args[0])))
	case ScalarConst:
		_, err = fmt.Fprintf(w, "  %s = %s %s : %s\n", result, mnemonic,
			formatScalarConst(instr), utils.DTypeToAssembly(instr.DType))
	default:
		_, err = fmt.Fprintf(w, "  %s = %s %s : %s\n", result, mnemonic,
			strings.Join(operands, ", "), utils.DTypeToAssembly(instr.DType))
	}
	return err
}

func writeYield(w io.Writer, b *Block) error {
	if len(b.YieldArgs) == 0 {
		_, err := fmt.Fprintf(w, "  %s\n", optypes.Yield.ToAssembly())
		return err
	}
	operands := make([]string, len(b.YieldArgs))
	typeTexts := make([]string, len(b.YieldArgs))
	for i, arg := range b.YieldArgs {
		operands[i] = regionValueName(b, arg)
		typeTexts[i] = utils.DTypeToAssembly(b.YieldTypes[i])
	}
	_, err := fmt.Fprintf(w, "  %s %s : %s\n", optypes.Yield.ToAssembly(),
		strings.Join(operands, ", "), strings.Join(typeTexts, ", "))
	return err
}

// Write implements Op.
func (op *ScanOp) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s dimension(%d) inclusive(%t)",
		op.OpType().ToAssembly(), op.Dimension, op.Inclusive); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "ins", op.inputs); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "outs", op.outputs); err != nil {
		return err
	}
	if err := op.region.Write(w); err != nil {
		return err
	}
	return writeResultTypes(w, op.Results())
}

// Write implements Op.
func (op *ScatterOp) Write(w io.Writer) error {
	entries := make([]string, len(op.DimensionMap))
	for i, dim := range op.DimensionMap {
		entries[i] = strconv.FormatInt(dim, 10)
	}
	if _, err := fmt.Fprintf(w, "%s {dimension_map = array<i64: %s>} unique_indices(%t)",
		op.OpType().ToAssembly(), strings.Join(entries, ", "), op.UniqueIndices); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "ins", op.inputs); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "outs", op.outputs); err != nil {
		return err
	}
	if err := op.region.Write(w); err != nil {
		return err
	}
	return writeResultTypes(w, op.Results())
}

// Write implements Op.
func (op *SortOp) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s dimension(%d)", op.OpType().ToAssembly(), op.Dimension); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "outs", op.outputs); err != nil {
		return err
	}
	if err := op.region.Write(w); err != nil {
		return err
	}
	return writeResultTypes(w, op.Results())
}

// Write implements Op.
func (op *TopKOp) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s dimension(%d)", op.OpType().ToAssembly(), op.Dimension); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "ins", op.inputs); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "outs", op.outputs); err != nil {
		return err
	}
	if err := op.region.Write(w); err != nil {
		return err
	}
	return writeResultTypes(w, op.Results())
}

// Write implements Op.
func (op *AttentionOp) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%s", op.OpType().ToAssembly()); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "ins", op.inputs); err != nil {
		return err
	}
	if err := writeOperandSegment(w, "outs", op.outputs); err != nil {
		return err
	}
	return writeResultTypes(w, op.Results())
}
