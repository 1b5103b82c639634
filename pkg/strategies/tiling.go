package strategies

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/pkg/errors"
)

// TileToForallAndFuseAndDistributeResult holds the handles created by the BuildTileFuseDistToForall*
// functions.
type TileToForallAndFuseAndDistributeResult struct {
	// Forall is the scf.forall created by tiling.
	Forall *transform.Handle

	// Tiled is the tiled op in the loop.
	Tiled *transform.Handle

	// Fused has one handle per fusion: empty if no op was given to fuse, otherwise a single handle to all
	// the fused ops, in program order.
	Fused []*transform.Handle
}

// BuildTileFuseDistToForallWithTileSizes tiles root with a scf.forall of tiles of the given sizes, whose
// loops are distributed according to mapping, and fuses opsToFuse in the loop. The cleanup patterns are
// applied to parent right after tiling.
func BuildTileFuseDistToForallWithTileSizes(seq *transform.Sequence, parent, root *transform.Handle,
	opsToFuse []*transform.Handle, tileSizes []int, mapping []string) (*TileToForallAndFuseAndDistributeResult, error) {
	return buildTileFuseDistToForall(seq, parent, root, opsToFuse, transform.TileSizes(tileSizes...), mapping)
}

// BuildTileFuseDistToForallWithNumThreads is like BuildTileFuseDistToForallWithTileSizes, with the number
// of threads of each distributed loop instead of the tile sizes.
func BuildTileFuseDistToForallWithNumThreads(seq *transform.Sequence, parent, root *transform.Handle,
	opsToFuse []*transform.Handle, numThreads []int, mapping []string) (*TileToForallAndFuseAndDistributeResult, error) {
	return buildTileFuseDistToForall(seq, parent, root, opsToFuse, transform.WorkerCounts(numThreads...), mapping)
}

func buildTileFuseDistToForall(seq *transform.Sequence, parent, root *transform.Handle, opsToFuse []*transform.Handle,
	spec transform.TilingSpec, mapping []string) (*TileToForallAndFuseAndDistributeResult, error) {
	forall, tiled, err := seq.TileToForall(root, spec, mapping)
	if err != nil {
		return nil, err
	}
	// Tiling leaves slices behind that are simplified before fusing into the loop.
	if _, err = BuildCanonicalizationAndEnablingTransforms(seq, transform.PatternsConfig{}, parent); err != nil {
		return nil, err
	}
	res := &TileToForallAndFuseAndDistributeResult{Forall: forall, Tiled: tiled}
	if len(opsToFuse) == 0 {
		return res, nil
	}

	// All the ops are fused at once: the fusion orders them.
	producers := opsToFuse[0]
	if len(opsToFuse) > 1 {
		if producers, err = seq.MergeHandles(true, opsToFuse...); err != nil {
			return nil, err
		}
	}
	fused, err := seq.FuseIntoContainingOp(producers, forall)
	if err != nil {
		return nil, err
	}
	res.Fused = append(res.Fused, fused)
	return res, nil
}

// TileToScfForAndFuseResult holds the handles created by BuildTileFuseToScfFor.
type TileToScfForAndFuseResult struct {
	// Tiled is the tiled op in the innermost loop.
	Tiled *transform.Handle

	// Loops has one handle per created scf.for, outermost first.
	Loops []*transform.Handle
}

// BuildTileFuseToScfFor tiles root with a nest of sequential scf.for, one per non-zero tile size. Fusion
// into scf.for loops is not supported: opsToFuse must be empty. If canonicalize is set, the cleanup
// patterns are applied to parent after tiling.
func BuildTileFuseToScfFor(seq *transform.Sequence, parent, root *transform.Handle, opsToFuse []*transform.Handle,
	tileSizes []int, canonicalize bool) (*TileToScfForAndFuseResult, error) {
	if len(opsToFuse) > 0 {
		exceptions.Panicf("BuildTileFuseToScfFor: fusion into scf.for is not supported, %d ops to fuse given",
			len(opsToFuse))
	}
	tiled, loops, err := seq.TileToFor(root, tileSizes)
	if err != nil {
		return nil, err
	}
	if canonicalize {
		if _, err = BuildCanonicalizationAndEnablingTransforms(seq, transform.PatternsConfig{}, parent); err != nil {
			return nil, err
		}
	}
	return &TileToScfForAndFuseResult{Tiled: tiled, Loops: loops}, nil
}

// BuildPad pads the operands of the ops of target along the paddingDimensions loops with the
// paddingValues (one per operand). The pads of the operands whose packPaddings entry is set are kept even
// when they pad nothing, and the inputs with a transposePaddings permutation are read transposed.
// It returns the handle to the padded ops.
func BuildPad(seq *transform.Sequence, target *transform.Handle, paddingValues []float64, paddingDimensions []int,
	packPaddings []bool, transposePaddings [][]int) (*transform.Handle, error) {
	if len(paddingValues) == 0 {
		return nil, errors.Errorf("BuildPad(%s) requires padding values", target)
	}
	return seq.Pad(target, transform.PadOptions{
		PaddingValues:     paddingValues,
		PaddingDimensions: paddingDimensions,
		PackPaddings:      packPaddings,
		TransposePaddings: transposePaddings,
	})
}

// BuildTileReductionUsingForall distributes the reduction loop, the last of the rank loops of reduction,
// over numThreads threads mapped to mapping (e.g. "#gpu.thread<x>", or "" for no mapping). Each thread
// reduces its chunk vectorSize elements at a time into its own slot of a partial result, and the fill of
// the partial result is fused into the loop so each thread initializes its own slot.
// It returns the handles to the scf.forall, the fused fill and the combiner of the partial results.
func BuildTileReductionUsingForall(seq *transform.Sequence, reduction *transform.Handle, rank, numThreads,
	vectorSize int, mapping string) (forall, fill, combiner *transform.Handle, err error) {
	if rank <= 0 {
		return nil, nil, nil, errors.Errorf("BuildTileReductionUsingForall(%s): invalid rank %d", reduction, rank)
	}
	threads := make([]int, rank)
	threads[rank-1] = numThreads
	tileSizes := make([]int, rank)
	tileSizes[rank-1] = vectorSize
	var m []string
	if mapping != "" {
		m = []string{mapping}
	}
	forall, fill, _, combiner, err = seq.TileReductionUsingForall(reduction, threads, tileSizes, m)
	if err != nil {
		return nil, nil, nil, err
	}
	if fill, err = seq.FuseIntoContainingOp(fill, forall); err != nil {
		return nil, nil, nil, err
	}
	return forall, fill, combiner, nil
}
