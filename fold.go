package structured

// CanFold reports whether the scan is equivalent to a copy: an inclusive
// scan over a dimension of extent 1 outputs each input element unchanged
// and leaves the accumulator holding the input.
//
// Exclusive scans never fold, even at extent 1, because the output then
// carries the externally supplied initial accumulator value, not the input.
func (op *ScanOp) CanFold() bool {
	if !op.Inclusive {
		return false
	}
	return op.Input().Shape().Dim(op.Dimension) == 1
}
