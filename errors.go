package structured

import (
	"github.com/gomlx/structured/shapeinference"
	"github.com/pkg/errors"
)

// Verification error kinds. Every diagnostic returned by Verify (or by the
// constructors, which verify before returning) wraps one of these, so
// callers can classify failures with errors.Is.
var (
	// ErrShapeMismatch indicates operand shapes violate a per-op invariant.
	ErrShapeMismatch = shapeinference.ErrShapeMismatch

	// ErrRankMismatch indicates an operand rank inconsistent with the op
	// semantics.
	ErrRankMismatch = shapeinference.ErrRankMismatch

	// ErrStaticityViolation indicates a dimension required to be statically
	// known (e.g. a scatter's index depth) is dynamic.
	ErrStaticityViolation = shapeinference.ErrStaticityViolation

	// ErrAttributeRange indicates an attribute value out of its valid range,
	// e.g. a dimension outside [0, rank).
	ErrAttributeRange = shapeinference.ErrAttributeRange

	// ErrRegionArityMismatch indicates the region block arguments or yield
	// operands don't match the op's per-iteration scalar contract.
	ErrRegionArityMismatch = errors.New("region arity mismatch")

	// ErrMissingTerminator indicates the region's block does not end in a
	// yield.
	ErrMissingTerminator = errors.New("region block missing yield terminator")
)
