package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"k8s.io/klog/v2"
)

// HoistRedundantTensorSubsets hoists out of the scf.for loops nested in scope the pairs of ops that extract
// and insert back the same loop-invariant subset of an iteration argument: extract_slice/insert_slice pairs
// and transfer_read/transfer_write pairs. The iteration argument then carries the subset itself.
// Innermost loops are processed first. It returns the number of pairs hoisted.
func HoistRedundantTensorSubsets(scope *payload.Op) int {
	g := scope.Graph()
	count := 0
	scope.WalkPostOrder(func(loop *payload.Op) {
		if loop.Kind != payload.OpKindFor {
			return
		}
		for changed := true; changed; {
			changed = false
			for k := range payload.ForIterArgs(loop) {
				if hoistSlicePair(g, loop, k) || hoistTransferPair(g, loop, k) {
					count++
					changed = true
				}
			}
		}
	})
	return count
}

// subsetUsers returns the extracting and the inserting user of a loop iteration argument, when those are
// its only two users and the inserted value is yielded back.
func subsetUsers(loop *payload.Op, k int, extractKind, insertKind payload.OpKind) (extract, insert *payload.Op, ok bool) {
	iterArg := payload.ForIterArgs(loop)[k]
	yield := loop.Body.Terminator()
	users := iterArg.Users()
	if len(users) != 2 || yield == nil {
		return nil, nil, false
	}
	extract, insert = users[0], users[1]
	if extract.Kind != extractKind || insert.Kind != insertKind || extract.ParentOp() != loop ||
		insert.ParentOp() != loop {
		return nil, nil, false
	}
	if extract.Operands[0] != iterArg || insert.Operands[1] != iterArg || slices.Index(insert.Operands, iterArg) != 1 {
		return nil, nil, false
	}
	if len(insert.Results) != 1 || yield.Operands[k] != insert.Results[0] || len(insert.Results[0].Uses()) != 1 {
		return nil, nil, false
	}
	return extract, insert, true
}

func allDefinedOutside(values []*payload.Value, loop *payload.Op) bool {
	for _, v := range values {
		if !v.DefinedOutside(loop) {
			return false
		}
	}
	return true
}

// retypeIterArg changes the type carried by the k-th iteration argument of loop to the one of init, which
// becomes its new initial value.
func retypeIterArg(loop *payload.Op, k int, init *payload.Value) {
	loop.Operands[3+k] = init
	payload.ForIterArgs(loop)[k].Shape = init.Shape.Clone()
	loop.Results[k].Shape = init.Shape.Clone()
}

// replaceLoopResult makes the users of the k-th loop result use the value computed by build from it.
func replaceLoopResult(g *payload.Graph, loop *payload.Op, k int, build func(b *payload.Builder, result *payload.Value) *payload.Value) {
	result := loop.Results[k]
	uses := result.Uses()
	b := g.NewBuilder().SetInsertionPointAfter(loop)
	replacement := build(b, result)
	for _, use := range uses {
		use.Owner.Operands[use.Index] = replacement
	}
}

func hoistSlicePair(g *payload.Graph, loop *payload.Op, k int) bool {
	extract, insert, ok := subsetUsers(loop, k, payload.OpKindExtractSlice, payload.OpKindInsertSlice)
	if !ok || !sameSliceParams(extract, insert) || !allDefinedOutside(extract.Operands[1:], loop) {
		return false
	}
	offsets, sizes := payload.SliceOffsets(extract), payload.SliceSizes(extract)
	init := payload.ForInits(loop)[k]
	hoisted := g.NewBuilder().SetInsertionPointBefore(loop).ExtractSlice(init, offsets, sizes)
	iterArg := payload.ForIterArgs(loop)[k]
	extract.Results[0].ReplaceAllUsesWith(iterArg)
	loop.Body.Terminator().Operands[k] = insert.Operands[0]
	g.Erase(insert)
	g.Erase(extract)
	retypeIterArg(loop, k, hoisted.Result(0))
	replaceLoopResult(g, loop, k, func(b *payload.Builder, result *payload.Value) *payload.Value {
		return b.InsertSlice(result, init, offsets, sizes).Result(0)
	})
	klog.V(2).Infof("hoisting: extract_slice/insert_slice pair out of scf.for, iter_arg #%d", k)
	return true
}

func hoistTransferPair(g *payload.Graph, loop *payload.Op, k int) bool {
	read, write, ok := subsetUsers(loop, k, payload.OpKindTransferRead, payload.OpKindTransferWrite)
	if !ok || payload.TransferMask(read) != nil || payload.TransferMask(write) != nil {
		return false
	}
	indices := payload.TransferIndices(read)
	if !slices.Equal(indices, payload.TransferIndices(write)) || !allDefinedOutside(indices, loop) ||
		!slices.Equal(read.IntsAttr(payload.AttrPermutation), write.IntsAttr(payload.AttrPermutation)) ||
		!read.Results[0].Shape.Equal(write.Operands[0].Shape) {
		return false
	}
	opts := payload.TransferOptionsOf(read)
	init := payload.ForInits(loop)[k]
	hoisted := g.NewBuilder().SetInsertionPointBefore(loop).TransferRead(init, indices, read.Results[0].Shape, opts)
	iterArg := payload.ForIterArgs(loop)[k]
	read.Results[0].ReplaceAllUsesWith(iterArg)
	loop.Body.Terminator().Operands[k] = write.Operands[0]
	writeOpts := payload.TransferOptionsOf(write)
	g.Erase(write)
	g.Erase(read)
	retypeIterArg(loop, k, hoisted)
	replaceLoopResult(g, loop, k, func(b *payload.Builder, result *payload.Value) *payload.Value {
		return b.TransferWrite(result, init, indices, writeOpts).Result(0)
	})
	klog.V(2).Infof("hoisting: transfer_read/transfer_write pair out of scf.for, iter_arg #%d", k)
	return true
}
