package tiling_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/go-xform/internal/rewrite"
	"github.com/gomlx/go-xform/internal/tiling"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/payload/payloadtest"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reductionKernel(t *testing.T, leading, trailing string) *payloadtest.Kernel {
	opts := payloadtest.DefaultReductionOptions()
	opts.Leading, opts.Trailing = leading, trailing
	return must.M1(payloadtest.Reduction(opts))
}

func storedValue(fn *payload.Op) *payload.Value {
	stores := fn.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindStore })
	return stores[0].Operands[0]
}

func TestTileToForall(t *testing.T) {
	t.Run("TileSizes", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		forall, tiled, err := tiling.TileToForall(k.Reduction, tiling.ForallOptions{
			TileSizes: []int{2},
			Mapping:   []string{"#gpu.block<x>"},
		})
		require.NoError(t, err)
		fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
		assert.True(t, k.Reduction.IsErased())
		assert.Equal(t, []int{4}, forall.IntsAttr(payload.AttrNumThreads))
		assert.Equal(t, []string{"#gpu.block<x>"}, forall.StringsAttr(payload.AttrMapping))
		assert.Equal(t, forall, tiled.ParentOp())
		assert.Equal(t, []int{2, 1024}, tiled.Operands[0].Shape.Dimensions)
		assert.Equal(t, []int{2}, tiled.Results[0].Shape.Dimensions)
		assert.Equal(t, forall.Result(0), storedValue(k.Func))
		assert.Equal(t, k.Fill.Result(0), forall.Operands[0])
		assert.Contains(t, k.Graph.String(), "tensor.parallel_insert_slice")
	})

	t.Run("NumThreads", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		forall, tiled, err := tiling.TileToForall(k.Reduction, tiling.ForallOptions{NumThreads: []int{3}})
		require.NoError(t, err)
		fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
		assert.Equal(t, []int{3}, forall.IntsAttr(payload.AttrNumThreads))
		// 8 rows by tiles of 3: the last tile is partial.
		assert.Equal(t, []int{shapes.DimUnknown}, tiled.Results[0].Shape.Dimensions)
		assert.Equal(t, 1, k.Graph.CountByKind()[payload.OpKindAffineMin])
	})

	t.Run("Errors", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		_, _, err := tiling.TileToForall(k.Reduction, tiling.ForallOptions{TileSizes: []int{2}, NumThreads: []int{2}})
		require.Error(t, err)
		_, _, err = tiling.TileToForall(k.Reduction, tiling.ForallOptions{
			TileSizes: []int{2, 0},
			Mapping:   []string{"#gpu.block<x>", "#gpu.block<y>"},
		})
		require.Error(t, err)
		_, _, err = tiling.TileToForall(k.Reduction, tiling.ForallOptions{TileSizes: []int{0}})
		require.Error(t, err)
		assert.False(t, k.Reduction.IsErased())
	})

	t.Run("ReductionLoop", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		for _, opts := range []tiling.ForallOptions{
			{TileSizes: []int{1, 1}, Mapping: []string{"#gpu.block<x>", "#gpu.block<y>"}},
			{TileSizes: []int{0, 256}},
			{NumThreads: []int{2, 4}},
		} {
			_, _, err := tiling.TileToForall(k.Reduction, opts)
			require.Error(t, err, "tiling with %+v", opts)
			assert.Contains(t, err.Error(), "reduction loop 1")
		}
		assert.False(t, k.Reduction.IsErased())
		assert.Zero(t, k.Graph.CountByKind()[payload.OpKindForall])
	})
}

func TestTileToFor(t *testing.T) {
	k := payloadtest.Copy2D("cuda", dtypes.Float32, 4, 8, false)
	op := k.Trailing
	tiled, loops, err := tiling.TileToFor(op, []int{0, 4})
	require.NoError(t, err)
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	require.Len(t, loops, 1)
	assert.Equal(t, loops[0], tiled.ParentOp())
	assert.Equal(t, []int{4, 4}, tiled.Operands[0].Shape.Dimensions)
	assert.Equal(t, loops[0].Result(0), storedValue(k.Func))
	assert.Equal(t, 1, k.Graph.CountByKind()[payload.OpKindInsertSlice])

	_, _, err = tiling.TileToFor(tiled, []int{1, 2, 3})
	require.Error(t, err)
}

func TestFuseIntoContainingOp(t *testing.T) {
	k := reductionKernel(t, "exp", "")
	forall, _, err := tiling.TileToForall(k.Reduction, tiling.ForallOptions{TileSizes: []int{2}})
	require.NoError(t, err)

	// The duplicated candidate is fused once.
	fused, err := tiling.FuseIntoContainingOp([]*payload.Op{k.Leading, k.Fill, k.Leading}, forall)
	require.NoError(t, err)
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	require.Len(t, fused, 2)
	assert.Equal(t, payload.OpKindGeneric, fused[0].Kind)
	assert.Equal(t, payload.OpKindFill, fused[1].Kind)
	for _, op := range fused {
		assert.Equal(t, forall, op.ParentOp())
		assert.Equal(t, []int{2}, op.Results[0].Shape.Dimensions[:1])
	}
	assert.True(t, k.Leading.IsErased())
	assert.True(t, k.Fill.IsErased())
	assert.Equal(t, payload.OpKindEmpty, forall.Operands[0].DefiningOp().Kind)

	// Nothing is left to fuse for a producer without uses in the loop.
	_, err = tiling.FuseIntoContainingOp([]*payload.Op{forall.Operands[0].DefiningOp()}, forall)
	require.Error(t, err)
}

func TestSplitReduction(t *testing.T) {
	k := reductionKernel(t, "", "")
	result, err := tiling.SplitReduction(k.Reduction, tiling.SplitOptions{SplitFactor: 4, InsertSplitDimension: 1})
	require.NoError(t, err)
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	assert.True(t, k.Reduction.IsErased())
	assert.Equal(t, []int{8, 4}, result.Fill.Results[0].Shape.Dimensions)
	assert.Equal(t, []int{8, 4, 256}, result.Split.Operands[0].Shape.Dimensions)
	split := payload.MustLinalg(result.Split)
	assert.Equal(t, []payload.IteratorType{payload.Parallel, payload.Parallel, payload.Reduction}, split.IteratorTypes)
	assert.Equal(t, [][]int{{0, 1, 2}, {0, 1}}, split.IndexingMaps)
	combiner := payload.MustLinalg(result.Combiner)
	assert.Equal(t, []int{1}, combiner.ReductionDims())
	assert.Equal(t, k.Fill.Result(0), combiner.Inits()[0])
	assert.Equal(t, result.Combiner.Result(0), storedValue(k.Func))

	_, err = tiling.SplitReduction(result.Combiner, tiling.SplitOptions{SplitFactor: 3})
	require.Error(t, err, "3 doesn't divide 4")
}

func TestSplitReductionBubblesLeadingExpand(t *testing.T) {
	k := reductionKernel(t, "exp", "sqrt")
	_, err := tiling.SplitReduction(k.Reduction, tiling.SplitOptions{SplitFactor: 8, InsertSplitDimension: 1, InnerParallel: true})
	require.NoError(t, err)
	rewrite.Apply(k.Func, rewrite.Config{BubbleExpand: true})
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	assert.True(t, k.Leading.IsErased())

	generics := k.Func.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindGeneric })
	fills := k.Func.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindFill })
	require.Len(t, generics, 4)
	require.Len(t, fills, 2)
	assert.Equal(t, k.Fill, fills[0])
	assert.Equal(t, []int{8, 128, 8}, generics[0].Results[0].Shape.Dimensions, "leading op works on the expanded shape")
	assert.Equal(t, k.Trailing, generics[3])
}

func TestTileReductionUsingForall(t *testing.T) {
	t.Run("WithInnerLoop", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		result, err := tiling.TileReductionUsingForall(k.Reduction, []int{0, 32}, []int{0, 4}, []string{"#gpu.thread<x>"})
		require.NoError(t, err)
		assert.Equal(t, []int{32}, result.Forall.IntsAttr(payload.AttrNumThreads))
		assert.Equal(t, []int{8, 32}, result.Fill.Results[0].Shape.Dimensions)
		assert.Equal(t, []int{0, 4}, result.Partial.IntsAttr(payload.AttrVectorTile))
		assert.Equal(t, payload.OpKindFor, result.Partial.ParentOp().Kind)
		assert.Equal(t, []int{8, 4}, result.Partial.Operands[0].Shape.Dimensions)
		assert.Equal(t, result.Forall.Result(0), result.Combiner.Operands[0])
		assert.Equal(t, result.Combiner.Result(0), storedValue(k.Func))

		// Fusing the fill privatizes the partial result of each thread.
		fused, err := tiling.FuseIntoContainingOp([]*payload.Op{result.Fill}, result.Forall)
		require.NoError(t, err)
		fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
		require.Len(t, fused, 1)
		assert.Equal(t, payload.OpKindFill, fused[0].Kind)
		assert.Equal(t, result.Forall, fused[0].ParentOp())
		assert.Equal(t, []int{8, 1}, fused[0].Results[0].Shape.Dimensions)
		assert.True(t, result.Fill.IsErased())
		assert.Equal(t, payload.OpKindEmpty, result.Forall.Operands[0].DefiningOp().Kind)
	})

	t.Run("SingleTile", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		result, err := tiling.TileReductionUsingForall(k.Reduction, []int{0, 256}, []int{0, 4}, nil)
		require.NoError(t, err)
		fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
		assert.Equal(t, result.Forall, result.Partial.ParentOp())
		assert.Equal(t, []int{8, 4}, result.Partial.Operands[0].Shape.Dimensions)
	})

	t.Run("ParallelLoop", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		_, err := tiling.TileReductionUsingForall(k.Reduction, []int{2, 0}, nil, nil)
		require.Error(t, err)
	})
}

func TestPad(t *testing.T) {
	opts := payloadtest.DefaultReductionOptions()
	opts.Cols = 1000
	k := must.M1(payloadtest.Reduction(opts))
	padded, err := tiling.Pad(k.Reduction, tiling.PadOptions{
		PaddingValues:     []float64{0, 0},
		PaddingDimensions: []int{1},
		PadToMultipleOf:   []int{64},
		PackPaddings:      []bool{false, true},
	})
	require.NoError(t, err)
	program := k.Graph.String()
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	assert.Equal(t, []int{8, 1024}, padded.Operands[0].Shape.Dimensions)
	assert.Equal(t, 2, k.Graph.CountByKind()[payload.OpKindPad])
	assert.Contains(t, program, "nofold")
	assert.Equal(t, padded.Result(0), storedValue(k.Func))

	// The init pad pads nothing and is kept only because it is packed.
	pads := k.Func.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindPad })
	for _, pad := range pads {
		pad.RemoveAttr(payload.AttrNoFold)
	}
	rewrite.Apply(k.Func, rewrite.Config{}.WithCleanupDefaults())
	assert.Equal(t, 1, k.Graph.CountByKind()[payload.OpKindPad])
}
