package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"k8s.io/klog/v2"
)

// BufferStats counts the rewrites of ApplyBufferOptimizations.
type BufferStats struct {
	AllocsErased     int
	LoadsForwarded   int
	StoresEliminated int
}

// ApplyBufferOptimizations cleans up buffer accesses nested in scope: allocations that are only written are
// erased with their writers, vector reads of a value just written are forwarded, and writes overwritten
// before being read are eliminated.
func ApplyBufferOptimizations(scope *payload.Op) BufferStats {
	var stats BufferStats
	g := scope.Graph()
	for _, alloc := range scope.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindAlloc }) {
		var writers []*payload.Op
		if !collectWriteOnlyUsers(alloc.Results[0], &writers) {
			continue
		}
		for i := len(writers) - 1; i >= 0; i-- {
			g.Erase(writers[i])
		}
		g.Erase(alloc)
		stats.AllocsErased++
	}
	scope.Walk(func(op *payload.Op) {
		if op.Body == nil {
			return
		}
		for _, nested := range slices.Clone(op.Body.Ops) {
			if nested.IsErased() || nested.Kind != payload.OpKindTransferWrite || len(nested.Results) > 0 {
				continue
			}
			stats.LoadsForwarded += forwardStoredVector(g, nested)
			if eliminateDeadStore(g, nested) {
				stats.StoresEliminated++
			}
		}
	})
	klog.V(1).Infof("buffer optimizations: %+v", stats)
	return stats
}

// collectWriteOnlyUsers returns whether buffer v (and its subviews) is only written to, collecting the
// writers and subviews in program order.
func collectWriteOnlyUsers(v *payload.Value, writers *[]*payload.Op) bool {
	for _, use := range v.Uses() {
		owner := use.Owner
		switch {
		case owner.Kind == payload.OpKindTransferWrite && use.Index == 1:
		case owner.Kind == payload.OpKindCopy && use.Index == 1:
		case owner.Kind == payload.OpKindFill && use.Index == 1:
		case owner.Kind == payload.OpKindSubview && use.Index == 0:
			*writers = append(*writers, owner)
			if !collectWriteOnlyUsers(owner.Results[0], writers) {
				return false
			}
			continue
		default:
			return false
		}
		*writers = append(*writers, owner)
	}
	return true
}

// mayAccess returns whether op may read or write buffer through one of its operands or nested ops.
func mayAccess(op *payload.Op, buffer *payload.Value) bool {
	found := false
	op.Walk(func(nested *payload.Op) {
		if found || nested.IsPure() {
			return
		}
		for _, operand := range nested.Operands {
			if operand.Shape.IsMemRef() && !isDistinctAllocation(operand, buffer) {
				found = true
				return
			}
		}
	})
	return found
}

// rootBuffer returns the allocation or function argument a buffer is a view of.
func rootBuffer(v *payload.Value) *payload.Value {
	for {
		def := v.DefiningOp()
		if def == nil || (def.Kind != payload.OpKindSubview && def.Kind != payload.OpKindExpandShape &&
			def.Kind != payload.OpKindCollapseShape) {
			return v
		}
		v = def.Operands[0]
	}
}

// isDistinctAllocation returns whether a and b are views of two different allocations.
func isDistinctAllocation(a, b *payload.Value) bool {
	ra, rb := rootBuffer(a), rootBuffer(b)
	if ra == rb {
		return false
	}
	isAlloc := func(v *payload.Value) bool {
		def := v.DefiningOp()
		return def != nil && def.Kind == payload.OpKindAlloc
	}
	return isAlloc(ra) || isAlloc(rb)
}

func sameTransferLocation(a, b *payload.Op) bool {
	return payload.TransferSource(a) == payload.TransferSource(b) &&
		slices.Equal(payload.TransferIndices(a), payload.TransferIndices(b)) &&
		slices.Equal(a.IntsAttr(payload.AttrPermutation), b.IntsAttr(payload.AttrPermutation)) &&
		payload.TransferVectorShape(a).Equal(payload.TransferVectorShape(b)) &&
		payload.TransferMask(a) == nil && payload.TransferMask(b) == nil &&
		allInBounds(a) && allInBounds(b)
}

// forwardStoredVector replaces the reads of the location written by write, that follow it in the same block
// with no possible write in between, by the written vector.
func forwardStoredVector(g *payload.Graph, write *payload.Op) int {
	buffer := payload.TransferSource(write)
	block := write.Block()
	forwarded := 0
	for _, op := range slices.Clone(block.Ops[write.Index()+1:]) {
		if op.Kind == payload.OpKindTransferRead && sameTransferLocation(write, op) {
			g.ReplaceOp(op, write.Operands[0])
			forwarded++
			continue
		}
		if op.Kind == payload.OpKindTransferRead || op.IsPure() {
			continue
		}
		if mayAccess(op, buffer) {
			break
		}
	}
	return forwarded
}

// eliminateDeadStore erases write if the same location is overwritten later in the same block before any
// possible read.
func eliminateDeadStore(g *payload.Graph, write *payload.Op) bool {
	buffer := payload.TransferSource(write)
	block := write.Block()
	for _, op := range block.Ops[write.Index()+1:] {
		if op.Kind == payload.OpKindTransferWrite && len(op.Results) == 0 && sameTransferLocation(write, op) {
			g.Erase(write)
			return true
		}
		if op.IsPure() && op.Kind != payload.OpKindTransferRead {
			continue
		}
		if mayAccess(op, buffer) {
			return false
		}
	}
	return false
}
