package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/shapes"
)

var transferTensorSlicePatterns = []Pattern{
	{
		Name:    "fold-transfer-read-of-extract-slice",
		Kinds:   []payload.OpKind{payload.OpKindTransferRead},
		Rewrite: foldTransferReadOfSlice(payload.OpKindExtractSlice),
	},
	{
		Name:    "fold-insert-slice-of-transfer-write",
		Kinds:   []payload.OpKind{payload.OpKindInsertSlice},
		Rewrite: foldInsertSliceOfTransferWrite,
	},
}

var memrefAliasPatterns = []Pattern{
	{
		Name:    "fold-transfer-read-of-subview",
		Kinds:   []payload.OpKind{payload.OpKindTransferRead},
		Rewrite: foldTransferReadOfSlice(payload.OpKindSubview),
	},
	{
		Name:    "fold-transfer-write-into-subview",
		Kinds:   []payload.OpKind{payload.OpKindTransferWrite},
		Rewrite: foldTransferWriteIntoSubview,
	},
}

var transferPermutationPatterns = []Pattern{
	{
		Name:    "lower-transfer-read-permutation",
		Kinds:   []payload.OpKind{payload.OpKindTransferRead},
		Rewrite: lowerTransferReadPermutation,
	},
	{
		Name:    "lower-transfer-write-permutation",
		Kinds:   []payload.OpKind{payload.OpKindTransferWrite},
		Rewrite: lowerTransferWritePermutation,
	},
}

var rankReducingVectorPatterns = []Pattern{
	{
		Name:    "drop-leading-unit-dim-of-transfer-read",
		Kinds:   []payload.OpKind{payload.OpKindTransferRead},
		Rewrite: dropLeadingUnitDimOfRead,
	},
	{
		Name:    "drop-leading-unit-dim-of-transfer-write",
		Kinds:   []payload.OpKind{payload.OpKindTransferWrite},
		Rewrite: dropLeadingUnitDimOfWrite,
	},
}

// allInBounds returns whether no dimension of a transfer op may access out of bounds. Masks are allowed:
// they disable lanes but don't change the accessed positions.
func allInBounds(op *payload.Op) bool {
	return !slices.Contains(op.BoolsAttr(payload.AttrInBounds), false)
}

// addOffset returns offset + index, folded when possible.
func addOffset(rw *Rewriter, offset payload.OpFoldResult, index *payload.Value) *payload.Value {
	if offset.IsStatic() {
		if offset.Static == 0 {
			return index
		}
		if c, ok := payload.ConstantIntValue(index); ok {
			return rw.ConstantIndex(c + offset.Static)
		}
		return rw.AffineApply([]int{1}, offset.Static, index)
	}
	if c, ok := payload.ConstantIntValue(index); ok {
		if c == 0 {
			return offset.Value
		}
		return rw.AffineApply([]int{1}, c, offset.Value)
	}
	return rw.AffineApply([]int{1, 1}, 0, offset.Value, index)
}

func offsetIndices(rw *Rewriter, slice *payload.Op, indices []*payload.Value) []*payload.Value {
	offsets := payload.SliceOffsets(slice)
	newIndices := make([]*payload.Value, len(indices))
	for i, index := range indices {
		newIndices[i] = addOffset(rw, offsets[i], index)
	}
	return newIndices
}

// foldTransferReadOfSlice returns a pattern reading directly from the source of an extract_slice or a
// subview, with the slice offsets added to the indices.
func foldTransferReadOfSlice(sliceKind payload.OpKind) func(rw *Rewriter, op *payload.Op) bool {
	return func(rw *Rewriter, op *payload.Op) bool {
		slice := op.Operands[0].DefiningOp()
		if slice == nil || slice.Kind != sliceKind || !allInBounds(op) {
			return false
		}
		indices := offsetIndices(rw, slice, payload.TransferIndices(op))
		read := rw.TransferRead(slice.Operands[0], indices, op.Results[0].Shape, payload.TransferOptionsOf(op))
		rw.ReplaceOp(op, read)
		return true
	}
}

// isFullOverwrite returns whether a transfer_write overwrites its whole static destination.
func isFullOverwrite(write *payload.Op) bool {
	dest := payload.TransferSource(write)
	if dest.Shape.IsDynamic() || payload.TransferMask(write) != nil || !allInBounds(write) ||
		write.HasAttr(payload.AttrPermutation) {
		return false
	}
	if !slices.Equal(write.Operands[0].Shape.Dimensions, dest.Shape.Dimensions) {
		return false
	}
	for _, index := range payload.TransferIndices(write) {
		if c, ok := payload.ConstantIntValue(index); !ok || c != 0 {
			return false
		}
	}
	return true
}

func foldInsertSliceOfTransferWrite(rw *Rewriter, op *payload.Op) bool {
	write := op.Operands[0].DefiningOp()
	if write == nil || write.Kind != payload.OpKindTransferWrite || !isFullOverwrite(write) {
		return false
	}
	if !slices.EqualFunc(payload.SliceSizes(op), payload.StaticIndices(write.Results[0].Shape.Dimensions...),
		payload.OpFoldResult.Equal) {
		return false
	}
	indices := offsetIndices(rw, op, payload.TransferIndices(write))
	newWrite := rw.TransferWrite(write.Operands[0], op.Operands[1], indices, payload.TransferOptionsOf(write))
	rw.ReplaceOp(op, newWrite.Result(0))
	return true
}

func foldTransferWriteIntoSubview(rw *Rewriter, op *payload.Op) bool {
	subview := op.Operands[1].DefiningOp()
	if subview == nil || subview.Kind != payload.OpKindSubview || !allInBounds(op) || len(op.Results) > 0 {
		return false
	}
	indices := offsetIndices(rw, subview, payload.TransferIndices(op))
	rw.TransferWrite(op.Operands[0], subview.Operands[0], indices, payload.TransferOptionsOf(op))
	rw.Erase(op)
	return true
}

func inversePermutation(perm []int) []int {
	inverse := make([]int, len(perm))
	for i, p := range perm {
		inverse[p] = i
	}
	return inverse
}

// permutedTransfer returns the options of the identity transfer equivalent to a permuted one: in_bounds are
// given in source order, and the mask is transposed to the source order.
func permutedTransfer(rw *Rewriter, op *payload.Op, perm []int) payload.TransferOptions {
	opts := payload.TransferOptionsOf(op)
	opts.Permutation = nil
	if opts.InBounds != nil {
		inBounds := make([]bool, len(perm))
		for i, p := range perm {
			inBounds[p] = opts.InBounds[i]
		}
		opts.InBounds = inBounds
	}
	if opts.Mask != nil {
		opts.Mask = rw.Transpose(opts.Mask, inversePermutation(perm))
	}
	return opts
}

// transferPermutation returns the permutation of a transfer op if it is a non-trivial permutation of the
// source dimensions.
func transferPermutation(op *payload.Op) ([]int, bool) {
	perm := op.IntsAttr(payload.AttrPermutation)
	if perm == nil || len(perm) != payload.TransferSource(op).Shape.Rank() || isIdentityPermutation(perm) {
		return nil, false
	}
	return perm, true
}

func lowerTransferReadPermutation(rw *Rewriter, op *payload.Op) bool {
	perm, ok := transferPermutation(op)
	if !ok {
		return false
	}
	vectorShape := op.Results[0].Shape
	dims := make([]int, len(perm))
	for i, p := range perm {
		dims[p] = vectorShape.Dimensions[i]
	}
	opts := permutedTransfer(rw, op, perm)
	read := rw.TransferRead(op.Operands[0], payload.TransferIndices(op), vectorShape.WithDimensions(dims...), opts)
	rw.ReplaceOp(op, rw.Transpose(read, perm))
	return true
}

func lowerTransferWritePermutation(rw *Rewriter, op *payload.Op) bool {
	perm, ok := transferPermutation(op)
	if !ok {
		return false
	}
	opts := permutedTransfer(rw, op, perm)
	vector := rw.Transpose(op.Operands[0], inversePermutation(perm))
	write := rw.TransferWrite(vector, op.Operands[1], payload.TransferIndices(op), opts)
	replaceTransferWrite(rw, op, write)
	return true
}

// replaceTransferWrite replaces a transfer_write by another one, on tensors or buffers.
func replaceTransferWrite(rw *Rewriter, op, replacement *payload.Op) {
	if len(op.Results) == 0 {
		rw.Erase(op)
		return
	}
	rw.ReplaceOp(op, replacement.Result(0))
}

// hasLeadingUnitDim returns whether a transfer op with the minor identity permutation moves a vector with a
// leading unit dimension, which can be dropped.
func hasLeadingUnitDim(op *payload.Op) bool {
	vectorShape := payload.TransferVectorShape(op)
	return vectorShape.Rank() > 1 && vectorShape.Dimensions[0] == 1 && !op.HasAttr(payload.AttrPermutation) &&
		payload.TransferMask(op) == nil
}

func dropLeadingInBounds(op *payload.Op) []bool {
	inBounds := op.BoolsAttr(payload.AttrInBounds)
	if inBounds == nil {
		return nil
	}
	return slices.Clone(inBounds[1:])
}

func dropLeadingUnitDimOfRead(rw *Rewriter, op *payload.Op) bool {
	if !hasLeadingUnitDim(op) {
		return false
	}
	vectorShape := op.Results[0].Shape
	opts := payload.TransferOptionsOf(op)
	opts.InBounds = dropLeadingInBounds(op)
	reduced := vectorShape.WithDimensions(vectorShape.Dimensions[1:]...)
	read := rw.TransferRead(op.Operands[0], payload.TransferIndices(op), reduced, opts)
	broadcastDims := make([]int, reduced.Rank())
	for i := range broadcastDims {
		broadcastDims[i] = i + 1
	}
	rw.ReplaceOp(op, rw.Broadcast(read, vectorShape, broadcastDims))
	return true
}

func dropLeadingUnitDimOfWrite(rw *Rewriter, op *payload.Op) bool {
	if !hasLeadingUnitDim(op) {
		return false
	}
	vector := op.Operands[0]
	opts := payload.TransferOptionsOf(op)
	opts.InBounds = dropLeadingInBounds(op)
	reduced := rw.ShapeCast(vector, vector.Shape.Dimensions[1:]...)
	write := rw.TransferWrite(reduced, op.Operands[1], payload.TransferIndices(op), opts)
	replaceTransferWrite(rw, op, write)
	return true
}

// minorIdentitySourceDim returns the source dimension read by vector dimension i with the minor identity
// permutation.
func minorIdentitySourceDim(source, vector shapes.Shape, i int) int {
	return source.Rank() - vector.Rank() + i
}
