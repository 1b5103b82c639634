package rewrite

import (
	"fmt"
	"strings"

	"github.com/gomlx/go-xform/pkg/payload"
)

// isDestinationStyle returns whether op writes into a destination operand: such ops are never merged nor
// hoisted, since each one needs its own buffer once bufferized.
func isDestinationStyle(op *payload.Op) bool {
	switch op.Kind {
	case payload.OpKindEmpty, payload.OpKindFill, payload.OpKindGeneric, payload.OpKindTransferWrite,
		payload.OpKindInsertSlice, payload.OpKindPad:
		return true
	}
	return false
}

func isCSECandidate(op *payload.Op) bool {
	return op.Body == nil && len(op.Results) > 0 && op.IsPure() && !isDestinationStyle(op)
}

// cseKey identifies the computation of op: same kind, operands, attributes and result types.
func cseKey(op *payload.Op) string {
	var sb strings.Builder
	sb.WriteString(op.Kind.String())
	for _, operand := range op.Operands {
		fmt.Fprintf(&sb, " %p", operand)
	}
	for _, result := range op.Results {
		fmt.Fprintf(&sb, " : %s", result.Shape)
	}
	// fmt prints maps sorted by key.
	fmt.Fprintf(&sb, " %v", op.Attributes)
	return sb.String()
}

// eliminateCommonSubexpressions merges equivalent pure ops nested in scope, where the first one dominates
// the others, returning the number of ops erased.
func eliminateCommonSubexpressions(scope *payload.Op) int {
	if scope.Body == nil {
		return 0
	}
	cse := &cseState{graph: scope.Graph()}
	cse.block(scope.Body, nil)
	return cse.erased
}

type cseState struct {
	graph  *payload.Graph
	erased int
}

type cseScope struct {
	parent *cseScope
	known  map[string]*payload.Op
}

func (s *cseScope) lookup(key string) *payload.Op {
	for ; s != nil; s = s.parent {
		if op, found := s.known[key]; found {
			return op
		}
	}
	return nil
}

func (cse *cseState) block(block *payload.Block, parent *cseScope) {
	scope := &cseScope{parent: parent, known: make(map[string]*payload.Op)}
	for _, op := range append([]*payload.Op(nil), block.Ops...) {
		if op.IsErased() {
			continue
		}
		if op.Body != nil {
			cse.block(op.Body, scope)
			continue
		}
		if !isCSECandidate(op) {
			continue
		}
		key := cseKey(op)
		if existing := scope.lookup(key); existing != nil {
			cse.graph.ReplaceOp(op, existing.Results...)
			cse.erased++
			continue
		}
		scope.known[key] = op
	}
}
