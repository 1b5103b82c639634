package rewrite

import (
	"github.com/gomlx/go-xform/pkg/payload"
)

// hoistLoopInvariants moves pure ops whose operands are all defined outside their enclosing loop to right
// before the loop. Innermost loops are processed first, so ops can travel through several levels.
// Ops never leave scope. It returns the number of ops moved.
func hoistLoopInvariants(scope *payload.Op) int {
	moved := 0
	scope.WalkPostOrder(func(loop *payload.Op) {
		if loop == scope || !loop.Kind.IsLoop() {
			return
		}
		for _, op := range append([]*payload.Op(nil), loop.Body.Ops...) {
			if !isHoistable(op, loop) {
				continue
			}
			op.MoveBefore(loop)
			moved++
		}
	})
	return moved
}

func isHoistable(op, loop *payload.Op) bool {
	if op.Body != nil || len(op.Results) == 0 || !op.IsPure() || isDestinationStyle(op) {
		return false
	}
	for _, operand := range op.Operands {
		if !operand.DefinedOutside(loop) {
			return false
		}
	}
	return true
}
