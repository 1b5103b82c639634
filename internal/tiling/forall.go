package tiling

import (
	"slices"

	"github.com/gomlx/go-xform/internal/shapeinference"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ForallOptions selects how TileToForall distributes the loops of a structured op. Exactly one of TileSizes
// or NumThreads is set, with one entry per leading loop: a 0 entry leaves the loop untiled.
type ForallOptions struct {
	TileSizes  []int
	NumThreads []int

	// Mapping of the distributed loops to workers, e.g. "#gpu.block<x>". Optional, if set it must have one
	// entry per distributed loop.
	Mapping []string
}

// TileToForall tiles op into a scf.forall with one dimension per distributed loop. The tiles of the inits
// are written back to the shared outputs of the forall, whose results replace op.
// It returns the new forall and the tiled op in its body.
func TileToForall(op *payload.Op, opts ForallOptions) (forall, tiled *payload.Op, err error) {
	l, err := payload.AsLinalg(op)
	if err != nil {
		return nil, nil, err
	}
	if err = tensorSemantics(l); err != nil {
		return nil, nil, err
	}
	ranges := l.LoopRanges()
	var numThreads, tileSizes []int
	switch {
	case opts.TileSizes != nil && opts.NumThreads != nil:
		return nil, nil, errors.New("only one of tile sizes or number of threads can be given")
	case opts.NumThreads != nil:
		tileSizes, err = shapeinference.TileSizesForNumThreads(ranges, opts.NumThreads)
		if err == nil {
			// Tiles may cover the range with fewer threads than requested.
			numThreads, _, err = shapeinference.NumThreadsForTileSizes(ranges, tileSizes)
		}
	default:
		numThreads, tileSizes, err = shapeinference.NumThreadsForTileSizes(ranges, opts.TileSizes)
	}
	if err != nil {
		return nil, nil, errors.WithMessagef(err, "tiling %s", op.Name())
	}

	var loops, counts []int
	for loop, n := range numThreads {
		if n > 0 {
			loops = append(loops, loop)
			counts = append(counts, n)
		}
	}
	if len(loops) == 0 {
		return nil, nil, errors.Errorf("no loop of %s to distribute with tile sizes %v / threads %v",
			op.Name(), opts.TileSizes, opts.NumThreads)
	}
	for _, loop := range loops {
		if l.IteratorTypes[loop] == payload.Reduction {
			return nil, nil, errors.Errorf("cannot distribute the reduction loop %d of %s over parallel workers, "+
				"tile the reduction with TileReductionUsingForall instead", loop, op.Name())
		}
	}
	if len(opts.Mapping) > 0 && len(opts.Mapping) != len(loops) {
		return nil, nil, errors.Errorf("mapping %v given for %d distributed loops of %s", opts.Mapping, len(loops),
			op.Name())
	}
	t, err := fullTile(l)
	if err != nil {
		return nil, nil, err
	}

	g := op.Graph()
	forall = g.NewBuilder().SetInsertionPointBefore(op).Forall(counts, opts.Mapping, l.Inits())
	body := g.NewBuilder().SetInsertionPointToStart(forall.Body)
	ivs := payload.ForallIVs(forall)
	for i, loop := range loops {
		size := tileSizes[loop]
		t.offsets[loop] = payload.DynamicIndex(body.AffineApply([]int{size}, 0, ivs[i]))
		if ranges[loop]%size == 0 {
			t.sizes[loop] = payload.StaticIndex(size)
		} else {
			// Last tile is partial: min(size, range - size*iv).
			t.sizes[loop] = payload.DynamicIndex(body.AffineMin(size, []int{-size}, ranges[loop], ivs[i]))
		}
	}
	outs := payload.ForallOutputArgs(forall)
	tiled = body.CloneStructured(op, tileOperands(body, l, t, outs))

	parallel := g.NewBuilder().SetInsertionPointToEnd(payload.InParallel(forall).Body)
	for k := range l.Inits() {
		offsets, sizes := t.operandSlice(l.OperandMap(l.NumInputs + k))
		parallel.ParallelInsertSlice(tiled.Result(k), outs[k], offsets, sizes)
	}
	klog.V(2).Infof("tiling: %s distributed over %v threads (tile sizes %v)", op.Name(), counts, tileSizes)
	g.ReplaceOp(op, slices.Clone(forall.Results)...)
	return forall, tiled, nil
}
