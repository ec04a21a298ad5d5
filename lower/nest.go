// Package lower expands structured ops into explicit scalar loop nests and
// executes them against dense buffers.
//
// Lowering assumes a previously verified op: shape invariants are not
// re-checked here, only the binding of operands to buffers is validated.
// Each op lowers to a Nest whose body reads operand elements, invokes the
// op's region payload (when it has one) and writes destination elements.
package lower

import (
	"github.com/pkg/errors"
)

// Loop is one dimension of a loop nest.
type Loop struct {
	// Extent is the number of iterations.
	Extent int

	// Sequential marks a loop whose iterations carry a dependency (a scan's
	// scanned dimension, a non-unique scatter's update loop) and therefore
	// must run in increasing index order. Parallel loops also run in order
	// here, the flag records which ones must.
	Sequential bool
}

// Nest is an explicit nest of index loops around a scalar body. Run invokes
// Body once per point of the iteration space, innermost loop fastest, with
// the full index vector.
type Nest struct {
	Loops []Loop
	Body  func(ix []int) error
}

// Run executes the nest. A nest with no loops runs the body exactly once
// with an empty index vector.
func (n *Nest) Run() error {
	if n.Body == nil {
		return errors.Errorf("loop nest has no body")
	}
	for _, loop := range n.Loops {
		if loop.Extent < 0 {
			return errors.Errorf("loop nest has negative extent %d", loop.Extent)
		}
		if loop.Extent == 0 {
			return nil
		}
	}
	ix := make([]int, len(n.Loops))
	for {
		if err := n.Body(ix); err != nil {
			return err
		}
		axis := len(ix) - 1
		for axis >= 0 {
			ix[axis]++
			if ix[axis] < n.Loops[axis].Extent {
				break
			}
			ix[axis] = 0
			axis--
		}
		if axis < 0 {
			return nil
		}
	}
}
