// Package structured models a small catalog of structured tensor operations
// -- Scan, Scatter, Sort, TopK and Attention -- whose semantics are too
// data-dependent to express as plain elementwise loop nests.
//
// Among its features:
//
//   - Destination-passing style: output operands are both the source of the
//     result shapes and the logical in-place mutation target.
//   - Region payloads: a user-supplied scalar combining function attached to
//     an op and invoked once per loop iteration by the lowering.
//   - Verification: every op is checked at construction (and parse) time;
//     shape and rank violations are reported before any lowering runs.
//   - A bit-exact textual assembly form with a round-tripping printer and
//     parser.
//
// The semantic ground truth for every op is its scalar-loop lowering in the
// lower sub-package, which expands an op into an explicit nest of scalar
// loops plus per-iteration payload invocation.
package structured

import "github.com/gomlx/structured/internal/utils"

// NormalizeIdentifier converts the name of an identifier (a value name used
// in the assembly form) to a valid one: only letters, digits, and
// underscores are allowed.
//
// Invalid characters are replaced with underscores.
// If the name starts with a digit, it is prefixed with an underscore.
func NormalizeIdentifier(name string) string {
	return utils.NormalizeIdentifier(name)
}
