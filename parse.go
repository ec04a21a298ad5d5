package structured

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/structured/internal/optypes"
	"github.com/gomlx/structured/internal/utils"
	"github.com/gomlx/structured/types"
	"github.com/gomlx/structured/types/shapes"
	"github.com/gomlx/structured/types/tensor"
	"github.com/pkg/errors"
)

// Parse reads one op in textual assembly form, the form Print emits, and
// returns the reconstructed, verified op.
func Parse(text string) (Op, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	op, err := p.parseOp()
	if err != nil {
		return nil, err
	}
	if !p.atEnd() {
		return nil, errors.Errorf("trailing input after op: %q", p.peek().text)
	}
	return op, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokValue  // %name
	tokNumber // 0, -3, 1.000000e+00
	tokPunct  // single rune: ( ) { } : , = ^
	tokArrow  // ->
	tokType   // tensor<...> or array<...>, consumed as one token
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(text string) ([]token, error) {
	var tokens []token
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '%':
			start := i
			i++
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			if i == start+1 {
				return nil, errors.Errorf("dangling %% at offset %d", start)
			}
			tokens = append(tokens, token{tokValue, string(runes[start+1 : i])})
		case isIdentStart(r):
			start := i
			for i < len(runes) && (isIdentRune(runes[i]) || runes[i] == '.') {
				i++
			}
			word := string(runes[start:i])
			// tensor<4x2xf32> and array<i64: 0, 1> are single type tokens.
			if (word == "tensor" || word == "array") && i < len(runes) && runes[i] == '<' {
				for i < len(runes) && runes[i] != '>' {
					i++
				}
				if i == len(runes) {
					return nil, errors.Errorf("unterminated %s<...> at offset %d", word, start)
				}
				i++
				tokens = append(tokens, token{tokType, string(runes[start:i])})
				continue
			}
			tokens = append(tokens, token{tokIdent, word})
		case r == '-' && i+1 < len(runes) && runes[i+1] == '>':
			tokens = append(tokens, token{tokArrow, "->"})
			i += 2
		case unicode.IsDigit(r) || r == '-':
			start := i
			i++
			for i < len(runes) && isNumberRune(runes, i) {
				i++
			}
			tokens = append(tokens, token{tokNumber, string(runes[start:i])})
		case strings.ContainsRune("(){}:,=^", r):
			tokens = append(tokens, token{tokPunct, string(r)})
			i++
		default:
			return nil, errors.Errorf("unexpected character %q at offset %d", r, i)
		}
	}
	return tokens, nil
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isNumberRune continues a number: digits, '.', exponent markers and an
// exponent sign directly after 'e'/'E'.
func isNumberRune(runes []rune, i int) bool {
	r := runes[i]
	if unicode.IsDigit(r) || r == '.' || r == 'e' || r == 'E' {
		return true
	}
	if r == '+' || r == '-' {
		prev := runes[i-1]
		return prev == 'e' || prev == 'E'
	}
	return false
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	if p.pos >= len(p.tokens) {
		return token{kind: tokEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.peek()
	p.pos++
	return tok
}

func (p *parser) atEnd() bool { return p.peek().kind == tokEOF }

func (p *parser) expectPunct(r string) error {
	tok := p.next()
	if tok.kind != tokPunct || tok.text != r {
		return errors.Errorf("expected %q, got %q", r, tok.text)
	}
	return nil
}

func (p *parser) expectIdent(word string) error {
	tok := p.next()
	if tok.kind != tokIdent || tok.text != word {
		return errors.Errorf("expected %q, got %q", word, tok.text)
	}
	return nil
}

// parseIntAttr parses `name(<int>)`.
func (p *parser) parseIntAttr(name string) (int, error) {
	if err := p.expectIdent(name); err != nil {
		return 0, err
	}
	if err := p.expectPunct("("); err != nil {
		return 0, err
	}
	tok := p.next()
	if tok.kind != tokNumber {
		return 0, errors.Errorf("expected integer in %s(...), got %q", name, tok.text)
	}
	value, err := strconv.Atoi(tok.text)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid integer in %s(...)", name)
	}
	return value, p.expectPunct(")")
}

// parseBoolAttr parses `name(true|false)`.
func (p *parser) parseBoolAttr(name string) (bool, error) {
	if err := p.expectIdent(name); err != nil {
		return false, err
	}
	if err := p.expectPunct("("); err != nil {
		return false, err
	}
	tok := p.next()
	if tok.kind != tokIdent || (tok.text != "true" && tok.text != "false") {
		return false, errors.Errorf("expected true or false in %s(...), got %q", name, tok.text)
	}
	return tok.text == "true", p.expectPunct(")")
}

// parseOperandSegment parses `keyword(%a, %b : typeA, typeB)` when present.
// It returns nil when the next token is not the keyword.
func (p *parser) parseOperandSegment(keyword string) ([]*Value, error) {
	if tok := p.peek(); tok.kind != tokIdent || tok.text != keyword {
		return nil, nil
	}
	p.next()
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var names []string
	for {
		tok := p.next()
		if tok.kind != tokValue {
			return nil, errors.Errorf("expected %%value in %s(...), got %q", keyword, tok.text)
		}
		names = append(names, tok.text)
		if sep := p.next(); sep.kind == tokPunct && sep.text == "," {
			continue
		} else if sep.kind == tokPunct && sep.text == ":" {
			break
		} else {
			return nil, errors.Errorf("expected , or : in %s(...), got %q", keyword, sep.text)
		}
	}
	operands := make([]*Value, len(names))
	for i, name := range names {
		tok := p.next()
		if tok.kind != tokType {
			return nil, errors.Errorf("expected tensor type for %%%s, got %q", name, tok.text)
		}
		shape, err := shapes.ParseAssembly(tok.text)
		if err != nil {
			return nil, err
		}
		operands[i] = NamedValue(name, shape)
		if i < len(names)-1 {
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
	}
	return operands, p.expectPunct(")")
}

// parseResultTypes parses the optional trailing `-> type, type` and returns
// the result shapes, or nil when the suffix is absent.
func (p *parser) parseResultTypes() ([]shapes.Shape, error) {
	if p.peek().kind != tokArrow {
		return nil, nil
	}
	p.next()
	var results []shapes.Shape
	for {
		tok := p.next()
		if tok.kind != tokType {
			return nil, errors.Errorf("expected result type after ->, got %q", tok.text)
		}
		shape, err := shapes.ParseAssembly(tok.text)
		if err != nil {
			return nil, err
		}
		results = append(results, shape)
		if sep := p.peek(); sep.kind == tokPunct && sep.text == "," {
			p.next()
			continue
		}
		return results, nil
	}
}

// parseDimensionMap parses `{dimension_map = array<i64: 0, 1>}`.
func (p *parser) parseDimensionMap() ([]int64, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	if err := p.expectIdent("dimension_map"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("="); err != nil {
		return nil, err
	}
	tok := p.next()
	if tok.kind != tokType || !strings.HasPrefix(tok.text, "array<i64:") {
		return nil, errors.Errorf("expected array<i64: ...> for dimension_map, got %q", tok.text)
	}
	body := strings.TrimSuffix(strings.TrimPrefix(tok.text, "array<i64:"), ">")
	var dims []int64
	for _, field := range strings.Split(body, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		dim, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid dimension_map entry %q", field)
		}
		dims = append(dims, dim)
	}
	return dims, p.expectPunct("}")
}

func (p *parser) parseOp() (Op, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return nil, errors.Errorf("expected op mnemonic, got %q", tok.text)
	}
	opType := optypes.FromAssembly(tok.text)
	switch opType {
	case optypes.Scan:
		return p.parseScan()
	case optypes.Scatter:
		return p.parseScatter()
	case optypes.Sort:
		return p.parseSort()
	case optypes.TopK:
		return p.parseTopK()
	case optypes.Attention:
		return p.parseAttention()
	}
	return nil, errors.Errorf("unknown op mnemonic %q", tok.text)
}

func (p *parser) parseScan() (Op, error) {
	dimension, err := p.parseIntAttr("dimension")
	if err != nil {
		return nil, err
	}
	inclusive, err := p.parseBoolAttr("inclusive")
	if err != nil {
		return nil, err
	}
	ins, err := p.parseOperandSegment("ins")
	if err != nil {
		return nil, err
	}
	outs, err := p.parseOperandSegment("outs")
	if err != nil {
		return nil, err
	}
	if len(ins) != 1 || len(outs) != 2 {
		return nil, errors.Errorf("scan takes ins(input) outs(output, accumulator), got %d ins and %d outs", len(ins), len(outs))
	}
	region, err := p.parseRegion()
	if err != nil {
		return nil, err
	}
	op, err := NewScan(ins[0], outs[0], outs[1], dimension, inclusive, region)
	if err != nil {
		return nil, err
	}
	return p.finishOp(op)
}

func (p *parser) parseScatter() (Op, error) {
	dimensionMap, err := p.parseDimensionMap()
	if err != nil {
		return nil, err
	}
	uniqueIndices, err := p.parseBoolAttr("unique_indices")
	if err != nil {
		return nil, err
	}
	ins, err := p.parseOperandSegment("ins")
	if err != nil {
		return nil, err
	}
	outs, err := p.parseOperandSegment("outs")
	if err != nil {
		return nil, err
	}
	if len(ins) != 2 || len(outs) != 1 {
		return nil, errors.Errorf("scatter takes ins(updates, indices) outs(original), got %d ins and %d outs", len(ins), len(outs))
	}
	region, err := p.parseRegion()
	if err != nil {
		return nil, err
	}
	op, err := NewScatter(ins[0], ins[1], outs[0], dimensionMap, uniqueIndices, region)
	if err != nil {
		return nil, err
	}
	return p.finishOp(op)
}

func (p *parser) parseSort() (Op, error) {
	dimension, err := p.parseIntAttr("dimension")
	if err != nil {
		return nil, err
	}
	ins, err := p.parseOperandSegment("ins")
	if err != nil {
		return nil, err
	}
	if len(ins) > 0 {
		return nil, errors.Errorf("sort carries its operands in outs(...), ins(...) is not allowed")
	}
	outs, err := p.parseOperandSegment("outs")
	if err != nil {
		return nil, err
	}
	region, err := p.parseRegion()
	if err != nil {
		return nil, err
	}
	op, err := NewSort(outs, dimension, region)
	if err != nil {
		return nil, err
	}
	return p.finishOp(op)
}

func (p *parser) parseTopK() (Op, error) {
	dimension, err := p.parseIntAttr("dimension")
	if err != nil {
		return nil, err
	}
	ins, err := p.parseOperandSegment("ins")
	if err != nil {
		return nil, err
	}
	outs, err := p.parseOperandSegment("outs")
	if err != nil {
		return nil, err
	}
	if len(ins) < 1 || len(ins) > 2 || len(outs) != 2 {
		return nil, errors.Errorf("topk takes ins(values[, indices]) outs(values, indices), got %d ins and %d outs", len(ins), len(outs))
	}
	var indices *Value
	if len(ins) == 2 {
		indices = ins[1]
	}
	region, err := p.parseRegion()
	if err != nil {
		return nil, err
	}
	op, err := NewTopK(ins[0], indices, outs[0], outs[1], dimension, region)
	if err != nil {
		return nil, err
	}
	return p.finishOp(op)
}

func (p *parser) parseAttention() (Op, error) {
	ins, err := p.parseOperandSegment("ins")
	if err != nil {
		return nil, err
	}
	outs, err := p.parseOperandSegment("outs")
	if err != nil {
		return nil, err
	}
	if len(ins) < 3 || len(ins) > 4 || len(outs) != 1 {
		return nil, errors.Errorf("attention takes ins(query, key, value[, mask]) outs(output), got %d ins and %d outs", len(ins), len(outs))
	}
	var mask *Value
	if len(ins) == 4 {
		mask = ins[3]
	}
	op, err := NewAttention(ins[0], ins[1], ins[2], mask, outs[0])
	if err != nil {
		return nil, err
	}
	return p.finishOp(op)
}

// finishOp parses the optional result-type suffix and marks the op's form.
// Results alias the outputs, so the listed types must match them exactly.
func (p *parser) finishOp(op Op) (Op, error) {
	resultShapes, err := p.parseResultTypes()
	if err != nil {
		return nil, err
	}
	hasResults := resultShapes != nil
	if hasResults {
		outputs := op.Outputs()
		if len(resultShapes) != len(outputs) {
			return nil, errors.Errorf("%s lists %d result types, must have one per output (%d)",
				op.OpType(), len(resultShapes), len(outputs))
		}
		for i, shape := range resultShapes {
			if !shape.Equal(outputs[i].Shape()) {
				return nil, errors.Errorf("%s result type #%d is %s, must equal the output %s it aliases",
					op.OpType(), i, shape, outputs[i].Shape())
			}
		}
	}
	switch typed := op.(type) {
	case *ScanOp:
		typed.MarkResults(hasResults)
	case *ScatterOp:
		typed.MarkResults(hasResults)
	case *SortOp:
		typed.MarkResults(hasResults)
	case *TopKOp:
		typed.MarkResults(hasResults)
	case *AttentionOp:
		typed.MarkResults(hasResults)
	}
	return op, nil
}

// parseRegion parses the brace-delimited single block Region.Write emits.
func (p *parser) parseRegion() (*Region, error) {
	if err := p.expectPunct("{"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("^"); err != nil {
		return nil, err
	}
	if err := p.expectIdent("bb0"); err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	block := &Block{}
	ids := map[string]int{}
	for {
		tok := p.next()
		if tok.kind != tokValue {
			return nil, errors.Errorf("expected block argument, got %q", tok.text)
		}
		if err := p.expectPunct(":"); err != nil {
			return nil, err
		}
		dtype, err := p.parseScalarType()
		if err != nil {
			return nil, err
		}
		ids[tok.text] = len(block.ArgTypes)
		block.ArgTypes = append(block.ArgTypes, dtype)
		if sep := p.next(); sep.kind == tokPunct && sep.text == "," {
			continue
		} else if sep.kind == tokPunct && sep.text == ")" {
			break
		} else {
			return nil, errors.Errorf("expected , or ) in block arguments, got %q", sep.text)
		}
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind == tokIdent && tok.text == optypes.Yield.ToAssembly() {
			p.next()
			if err := p.parseYield(block, ids); err != nil {
				return nil, err
			}
			break
		}
		if err := p.parseScalarInstr(block, ids); err != nil {
			return nil, err
		}
	}
	return &Region{Block: block}, p.expectPunct("}")
}

func (p *parser) parseScalarType() (dtypes.DType, error) {
	tok := p.next()
	if tok.kind != tokIdent {
		return dtypes.InvalidDType, errors.Errorf("expected scalar element type, got %q", tok.text)
	}
	dtype := utils.DTypeFromAssembly(tok.text)
	if dtype == dtypes.InvalidDType {
		return dtype, errors.Errorf("unknown scalar element type %q", tok.text)
	}
	return dtype, nil
}

func (p *parser) parseRegionOperand(ids map[string]int) (int, error) {
	tok := p.next()
	if tok.kind != tokValue {
		return 0, errors.Errorf("expected %%value operand, got %q", tok.text)
	}
	id, ok := ids[tok.text]
	if !ok {
		return 0, errors.Errorf("reference to undefined value %%%s", tok.text)
	}
	return id, nil
}

func (p *parser) parseScalarInstr(block *Block, ids map[string]int) error {
	tok := p.next()
	if tok.kind != tokValue {
		return errors.Errorf("expected instruction result %%value, got %q", tok.text)
	}
	resultName := tok.text
	if err := p.expectPunct("="); err != nil {
		return err
	}
	mnemonicTok := p.next()
	if mnemonicTok.kind != tokIdent {
		return errors.Errorf("expected scalar mnemonic, got %q", mnemonicTok.text)
	}
	kind, ok := scalarOpFromMnemonic[mnemonicTok.text]
	if !ok {
		return errors.Errorf("unknown scalar mnemonic %q", mnemonicTok.text)
	}
	instr := ScalarInstr{Kind: kind}
	switch kind {
	case ScalarCmpF, ScalarCmpI:
		directionTok := p.next()
		if directionTok.kind != tokIdent {
			return errors.Errorf("expected comparison direction, got %q", directionTok.text)
		}
		direction, ok := types.ComparisonDirectionFromAssembly(directionTok.text)
		if !ok {
			return errors.Errorf("unknown comparison direction %q", directionTok.text)
		}
		instr.Direction = direction
		if err := p.expectPunct(","); err != nil {
			return err
		}
		if err := p.parseInstrOperands(&instr, ids, 2); err != nil {
			return err
		}
		// The trailing type names the compared operands; the result is i1.
		if _, err := p.parseTrailingType(); err != nil {
			return err
		}
		instr.DType = dtypes.Bool
	case ScalarConst:
		valueTok := p.next()
		dtype, err := p.parseTrailingType()
		if err != nil {
			return err
		}
		instr.DType = dtype
		instr.Const, err = parseScalarLiteral(valueTok, dtype)
		if err != nil {
			return err
		}
	case ScalarSelect:
		if err := p.parseInstrOperands(&instr, ids, 3); err != nil {
			return err
		}
		dtype, err := p.parseTrailingType()
		if err != nil {
			return err
		}
		instr.DType = dtype
	default:
		if err := p.parseInstrOperands(&instr, ids, 2); err != nil {
			return err
		}
		dtype, err := p.parseTrailingType()
		if err != nil {
			return err
		}
		instr.DType = dtype
	}
	ids[resultName] = len(block.ArgTypes) + len(block.Instrs)
	block.Instrs = append(block.Instrs, instr)
	return nil
}

func (p *parser) parseInstrOperands(instr *ScalarInstr, ids map[string]int, count int) error {
	for i := 0; i < count; i++ {
		if i > 0 {
			if err := p.expectPunct(","); err != nil {
				return err
			}
		}
		id, err := p.parseRegionOperand(ids)
		if err != nil {
			return err
		}
		instr.Args = append(instr.Args, id)
	}
	return nil
}

// parseTrailingType parses the ` : f32` suffix of a scalar instruction.
func (p *parser) parseTrailingType() (dtypes.DType, error) {
	if err := p.expectPunct(":"); err != nil {
		return dtypes.InvalidDType, err
	}
	return p.parseScalarType()
}

func parseScalarLiteral(tok token, dtype dtypes.DType) (tensor.Scalar, error) {
	if dtype == dtypes.Bool {
		if tok.kind != tokIdent || (tok.text != "true" && tok.text != "false") {
			return tensor.Scalar{}, errors.Errorf("expected true or false constant, got %q", tok.text)
		}
		return tensor.BoolScalar(tok.text == "true"), nil
	}
	if tok.kind != tokNumber {
		return tensor.Scalar{}, errors.Errorf("expected numeric constant, got %q", tok.text)
	}
	if dtype.IsFloat() {
		value, err := strconv.ParseFloat(tok.text, 64)
		if err != nil {
			return tensor.Scalar{}, errors.Wrapf(err, "invalid float constant %q", tok.text)
		}
		return tensor.FloatScalar(dtype, value), nil
	}
	value, err := strconv.ParseInt(tok.text, 10, 64)
	if err != nil {
		return tensor.Scalar{}, errors.Wrapf(err, "invalid integer constant %q", tok.text)
	}
	return tensor.IntScalar(dtype, value), nil
}

func (p *parser) parseYield(block *Block, ids map[string]int) error {
	// Yield operands are optional; a bare yield is followed directly by the
	// region's closing brace.
	if tok := p.peek(); tok.kind == tokPunct && tok.text == "}" {
		block.hasYield = true
		return nil
	}
	for {
		id, err := p.parseRegionOperand(ids)
		if err != nil {
			return err
		}
		block.YieldArgs = append(block.YieldArgs, id)
		if sep := p.next(); sep.kind == tokPunct && sep.text == "," {
			continue
		} else if sep.kind == tokPunct && sep.text == ":" {
			break
		} else {
			return errors.Errorf("expected , or : after yield operands, got %q", sep.text)
		}
	}
	for i := range block.YieldArgs {
		dtype, err := p.parseScalarType()
		if err != nil {
			return err
		}
		block.YieldTypes = append(block.YieldTypes, dtype)
		if i < len(block.YieldArgs)-1 {
			if err := p.expectPunct(","); err != nil {
				return err
			}
		}
	}
	block.hasYield = true
	return nil
}
