package tiling

import (
	"slices"

	"github.com/gomlx/go-xform/internal/shapeinference"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TileReductionResult holds the ops created by TileReductionUsingForall.
type TileReductionResult struct {
	// Forall distributes the reduction loop, each thread reducing its chunk into its own slot of the
	// partial result.
	Forall *payload.Op

	// Fill initializes the partial result, outside of the forall.
	Fill *payload.Op

	// Partial is the per-thread partial reduction.
	Partial *payload.Op

	// Combiner reduces the partial result into the original init. It replaces the original op.
	Combiner *payload.Op
}

// TileReductionUsingForall distributes the reduction loop of op over threads: numThreads has one entry per
// leading loop, non-zero only for the reduction loop. Each thread reduces a contiguous chunk of the
// reduction loop into a partial result with one extra dimension (one slot per thread), initialized with
// the neutral value of the combiner, which a combiner op then reduces after the forall.
//
// If tileSizes sets a size for the reduction loop smaller than the chunk of a thread, the chunk is further
// tiled with a sequential scf.for of that step. The tile size is also recorded on the partial op as its
// vector tile.
func TileReductionUsingForall(op *payload.Op, numThreads, tileSizes []int, mapping []string) (*TileReductionResult, error) {
	l, err := payload.AsLinalg(op)
	if err != nil {
		return nil, err
	}
	if err = tensorSemantics(l); err != nil {
		return nil, err
	}
	red, err := singleReductionLoop(l)
	if err != nil {
		return nil, err
	}
	if len(numThreads) > l.NumLoops() || len(tileSizes) > l.NumLoops() {
		return nil, errors.Errorf("%d thread counts and %d tile sizes given for the %d loops of %s",
			len(numThreads), len(tileSizes), l.NumLoops(), op.Name())
	}
	for loop, n := range numThreads {
		if (loop == red) != (n > 0) {
			return nil, errors.Errorf("threads %v must distribute exactly the reduction loop %d of %s",
				numThreads, red, op.Name())
		}
	}
	reductionRange := l.LoopRanges()[red]
	if reductionRange == shapes.DimUnknown {
		return nil, errors.Errorf("cannot distribute the dynamic reduction loop of %s", op.Name())
	}
	chunk := shapeinference.CeilDiv(reductionRange, numThreads[red])
	threads := shapeinference.CeilDiv(reductionRange, chunk)
	vectorSize := 0
	if red < len(tileSizes) {
		vectorSize = tileSizes[red]
	}
	if len(mapping) > 1 {
		return nil, errors.Errorf("mapping %v given for the single distributed loop of %s", mapping, op.Name())
	}
	t, err := fullTile(l)
	if err != nil {
		return nil, err
	}

	// The partial result has the thread dimension inserted where the reduction loop would be in the init.
	init := l.Inits()[0]
	initMap := l.OperandMap(l.NumInputs)
	pos := 0
	for _, loop := range initMap {
		if loop != payload.UnitDim && loop < red {
			pos++
		}
	}
	g := op.Graph()
	b := g.NewBuilder().SetInsertionPointBefore(op)
	empty, err := partialDestination(b, init, pos, threads)
	if err != nil {
		return nil, err
	}
	fill, err := neutralFill(b, l.Fn(), empty)
	if err != nil {
		return nil, errors.WithMessagef(err, "tiling reduction %s", op.Name())
	}
	forall := b.Forall([]int{threads}, mapping, []*payload.Value{fill.Result(0)})

	body := g.NewBuilder().SetInsertionPointToStart(forall.Body)
	iv := payload.ForallIVs(forall)[0]
	t.offsets[red] = payload.DynamicIndex(body.AffineApply([]int{chunk}, 0, iv))
	if reductionRange%chunk == 0 {
		t.sizes[red] = payload.StaticIndex(chunk)
	} else {
		t.sizes[red] = payload.DynamicIndex(body.AffineMin(chunk, []int{-chunk}, reductionRange, iv))
	}

	// Slot of the thread in the partial result, with the reduction loop mapped to a unit dimension.
	partialMap := slices.Insert(slices.Clone(initMap), pos, payload.UnitDim)
	slotOffsets, slotSizes := t.operandSlice(initMap)
	slotOffsets = slices.Insert(slotOffsets, pos, payload.DynamicIndex(iv))
	slotSizes = slices.Insert(slotSizes, pos, payload.StaticIndex(1))
	out := payload.ForallOutputArgs(forall)[0]
	slot := body.ExtractSlice(out, slotOffsets, slotSizes).Result(0)

	var partial *payload.Op
	var result *payload.Value
	if vectorSize > 0 && vectorSize < chunk {
		partial, result = tileChunk(body, l, t, red, vectorSize, slot, partialMap)
	} else {
		partial = partialReduction(body, l, t, slot, partialMap)
		result = partial.Result(0)
	}
	if vectorSize > 0 {
		vectorTile := make([]int, l.NumLoops())
		vectorTile[red] = vectorSize
		partial.SetAttr(payload.AttrVectorTile, vectorTile)
	}
	g.NewBuilder().SetInsertionPointToEnd(payload.InParallel(forall).Body).
		ParallelInsertSlice(result, out, slotOffsets, slotSizes)

	combined := combiner(g.NewBuilder().SetInsertionPointBefore(op), forall.Result(0), init, pos, l.Fn())
	klog.V(2).Infof("tile reduction: %s distributed over %d threads, chunks of %d", op.Name(), threads, chunk)
	g.ReplaceOp(op, combined.Result(0))
	return &TileReductionResult{Forall: forall, Fill: fill, Partial: partial, Combiner: combined}, nil
}

// partialReduction creates the reduction of the inputs of l sliced for tile t into the slot of the partial
// result.
func partialReduction(b *payload.Builder, l *payload.Linalg, t loopTile, slot *payload.Value, partialMap []int) *payload.Op {
	inputs := make([]*payload.Value, l.NumInputs)
	for i, input := range l.Inputs() {
		inputs[i] = input
		if input.Shape.IsShaped() {
			offsets, sizes := t.operandSlice(l.OperandMap(i))
			inputs[i] = b.ExtractSlice(input, offsets, sizes).Result(0)
		}
	}
	maps := slices.Clone(l.IndexingMaps)
	maps[l.NumInputs] = partialMap
	return b.Generic(payload.GenericSpec{
		Inputs:        inputs,
		Inits:         []*payload.Value{slot},
		IteratorTypes: l.IteratorTypes,
		IndexingMaps:  maps,
		Fn:            l.Fn(),
	})
}

// tileChunk reduces the chunk of tile t into slot with a scf.for stepping over the reduction loop by step.
// It returns the partial reduction in the loop and the loop result.
func tileChunk(b *payload.Builder, l *payload.Linalg, t loopTile, red, step int, slot *payload.Value,
	partialMap []int) (*payload.Op, *payload.Value) {
	g := b.Graph()
	chunkOffset, chunkSize := t.offsets[red], t.sizes[red]
	loop := b.For(b.ConstantIndex(0), b.Materialize(chunkSize), b.ConstantIndex(step), slot)
	inner := g.NewBuilder().SetInsertionPointToStart(loop.Body)
	iv := loop.Body.Args[0]
	t.offsets = slices.Clone(t.offsets)
	t.sizes = slices.Clone(t.sizes)
	t.offsets[red] = payload.DynamicIndex(inner.AffineApply([]int{1, 1}, 0, inner.Materialize(chunkOffset), iv))
	switch {
	case chunkSize.IsStatic() && chunkSize.Static%step == 0:
		t.sizes[red] = payload.StaticIndex(step)
	case chunkSize.IsStatic():
		t.sizes[red] = payload.DynamicIndex(inner.AffineMin(step, []int{-1}, chunkSize.Static, iv))
	default:
		t.sizes[red] = payload.DynamicIndex(inner.AffineMin(step, []int{-1, 1}, 0, iv, chunkSize.Value))
	}
	partial := partialReduction(inner, l, t, payload.ForIterArgs(loop)[0], partialMap)
	inner.Yield(partial.Result(0))
	return partial, loop.Result(0)
}
