package rewrite_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/go-xform/internal/rewrite"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/payload/payloadtest"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const f32 = dtypes.Float32

// newFunc creates a graph with one function taking the given bindings, and a builder appending to it.
func newFunc(name string, bindings ...shapes.Shape) (*payload.Graph, *payload.Op, *payload.Builder) {
	g := payload.New("test", "cuda")
	fn := g.AddFunc(name, bindings...)
	return g, fn, g.NewBuilder().SetInsertionPointToEnd(fn.Body)
}

func TestConfig(t *testing.T) {
	config := rewrite.Config{}.WithCleanupDefaults()
	assert.Equal(t, []string{"canonicalization", "cse", "licm", "tiling_canonicalization"}, config.Names())
	assert.True(t, rewrite.Config{}.IsEmpty())
	assert.False(t, config.IsEmpty())

	require.True(t, config.Set("fold_memref_aliases"))
	require.False(t, config.Set("unknown_patterns"))
	assert.True(t, config.FoldMemrefAliases)
	assert.Equal(t, "{canonicalization, cse, fold_memref_aliases, licm, tiling_canonicalization}", config.String())
}

func TestCanonicalizationFoldsAffineAndSlices(t *testing.T) {
	g, fn, b := newFunc("slice",
		shapes.MakeDispatchTensor(shapes.ReadOnly, f32, 16),
		shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 4))
	input := b.Load(fn.Body.Args[0])
	offset := b.AffineApply([]int{4}, 1, b.ConstantIndex(2))
	slice := b.ExtractSlice(input, []payload.OpFoldResult{payload.DynamicIndex(offset)}, payload.StaticIndices(4))
	b.Store(slice.Result(0), fn.Body.Args[1])
	b.Return()

	stats := rewrite.Apply(fn, rewrite.Config{Canonicalization: true})
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	require.True(t, stats.Converged)
	counts := g.CountByKind()
	assert.Zero(t, counts[payload.OpKindAffineApply])
	assert.Zero(t, counts[payload.OpKindConstant])
	assert.Equal(t, payload.StaticIndices(9), payload.SliceOffsets(slice))
	assert.Contains(t, g.String(), "tensor.extract_slice %0[9] [4] [1] : tensor<16xf32> to tensor<4xf32>")
}

// buildTiledFill builds a forall filling a 64 elements tensor by tiles of 16.
func buildTiledFill() (*payload.Graph, *payload.Op, *payload.Op) {
	g, fn, b := newFunc("tiled", shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 64))
	init := b.Empty(shapes.Make(f32, 64))
	forall := b.Forall([]int{4}, []string{"#gpu.block<x>"}, []*payload.Value{init})
	b.Store(forall.Result(0), fn.Body.Args[0])
	b.Return()

	body := g.NewBuilder().SetInsertionPointToStart(forall.Body)
	offset := payload.DynamicIndex(body.AffineApply([]int{16}, 0, payload.ForallIVs(forall)[0]))
	out := payload.ForallOutputArgs(forall)[0]
	slice := body.ExtractSlice(out, []payload.OpFoldResult{offset}, payload.StaticIndices(16))
	filled := body.Fill(body.Constant(shapes.Scalar(f32), 1), slice.Result(0))
	g.NewBuilder().SetInsertionPointToEnd(payload.InParallel(forall).Body).
		ParallelInsertSlice(filled.Result(0), out, []payload.OpFoldResult{offset}, payload.StaticIndices(16))
	return g, fn, forall
}

func TestCleanupIsIdempotent(t *testing.T) {
	g, fn, forall := buildTiledFill()
	config := rewrite.Config{}.WithCleanupDefaults()
	first := rewrite.Apply(fn, config)
	require.True(t, first.Converged)
	assert.True(t, first.Changed(), "the constant should have been hoisted out of the forall")
	constants := fn.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindConstant })
	require.Len(t, constants, 1)
	assert.False(t, forall.IsAncestorOf(constants[0]))

	program := g.String()
	second := rewrite.Apply(fn, config)
	require.True(t, second.Converged)
	assert.False(t, second.Changed())
	assert.Equal(t, program, g.String())
}

func TestCSEAndLICM(t *testing.T) {
	g, fn, b := newFunc("loop", shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 64))
	init := b.Empty(shapes.Make(f32, 64))
	loop := b.For(b.ConstantIndex(0), b.ConstantIndex(64), b.ConstantIndex(16), init)
	b.Store(loop.Result(0), fn.Body.Args[0])
	b.Return()

	body := g.NewBuilder().SetInsertionPointToStart(loop.Body)
	body.AffineApply([]int{1, 1}, 0, body.ConstantIndex(3), body.ConstantIndex(3))
	body.Yield(payload.ForIterArgs(loop)[0])

	stats := rewrite.Apply(fn, rewrite.Config{CSE: true, LICM: true})
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	require.True(t, stats.Converged)
	require.Len(t, loop.Body.Ops, 1, "only the yield should be left in the loop")
	threes := fn.Collect(func(op *payload.Op) bool {
		return op.Kind == payload.OpKindConstant && op.FloatAttr(payload.AttrValue) == 3
	})
	assert.Len(t, threes, 1)
}

func TestForPassthroughIterArgs(t *testing.T) {
	g, fn, b := newFunc("loop", shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 64))
	init := b.Empty(shapes.Make(f32, 64))
	loop := b.For(b.ConstantIndex(0), b.ConstantIndex(64), b.ConstantIndex(16), init)
	b.Store(loop.Result(0), fn.Body.Args[0])
	b.Return()
	g.NewBuilder().SetInsertionPointToStart(loop.Body).Yield(payload.ForIterArgs(loop)[0])

	rewrite.Apply(fn, rewrite.Config{Canonicalization: true})
	// The loop has no effect anymore and is left for the caller, but the store reads the init directly.
	assert.Empty(t, loop.Results)
	stores := fn.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindStore })
	require.Len(t, stores, 1)
	assert.Equal(t, init, stores[0].Operands[0])
}

func TestTilingCanonicalization(t *testing.T) {
	g, fn, b := newFunc("tiles", shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 64))
	init := b.Empty(shapes.Make(f32, 64))
	forall := b.Forall([]int{4}, nil, []*payload.Value{init})
	single := b.Forall([]int{1}, nil, nil)
	mapped := b.Forall([]int{1}, []string{"#gpu.block<x>"}, nil)
	b.Store(forall.Result(0), fn.Body.Args[0])
	b.Return()

	// min(16, 64 - 16*iv) is 16 for iv in [0, 3].
	body := g.NewBuilder().SetInsertionPointToStart(forall.Body)
	body.AffineMin(16, []int{-16}, 64, payload.ForallIVs(forall)[0])
	singleIV := payload.ForallIVs(single)[0]
	g.NewBuilder().SetInsertionPointToStart(single.Body).AffineApply([]int{2}, 0, singleIV)
	mappedIV := payload.ForallIVs(mapped)[0]
	g.NewBuilder().SetInsertionPointToStart(mapped.Body).AffineApply([]int{2}, 0, mappedIV)

	stats := rewrite.Apply(fn, rewrite.Config{TilingCanonicalization: true})
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	require.True(t, stats.Converged)
	assert.Zero(t, g.CountByKind()[payload.OpKindAffineMin])
	assert.False(t, singleIV.HasUses())
	assert.True(t, mappedIV.HasUses(), "a mapped forall keeps its induction variable")
}

func TestExtractSliceOfFillAndEmpty(t *testing.T) {
	g, fn, b := newFunc("swap", shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 16))
	fill := b.Fill(b.Constant(shapes.Scalar(f32), 0), b.Empty(shapes.Make(f32, 64)))
	slice := b.ExtractSlice(fill.Result(0), payload.StaticIndices(16), payload.StaticIndices(16))
	b.Store(slice.Result(0), fn.Body.Args[0])
	b.Return()

	rewrite.Apply(fn, rewrite.Config{}.WithCleanupDefaults())
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	counts := g.CountByKind()
	assert.Zero(t, counts[payload.OpKindExtractSlice])
	assert.Equal(t, 1, counts[payload.OpKindFill])
	fills := fn.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindFill })
	assert.Equal(t, []int{16}, fills[0].Results[0].Shape.Dimensions)
}

func TestBubbleExpandAndReshapeFolding(t *testing.T) {
	g, fn, b := newFunc("bubble",
		shapes.MakeDispatchTensor(shapes.ReadOnly, f32, 8, 1024),
		shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 8, 4, 256))
	leading := payloadtest.Elementwise(b, "exp", b.Load(fn.Body.Args[0]))
	expanded := b.ExpandShape(leading.Result(0), [][]int{{0}, {1, 2}}, []int{8, 4, 256})
	b.Store(expanded, fn.Body.Args[1])
	b.Return()

	stats := rewrite.Apply(fn, rewrite.Config{BubbleExpand: true})
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	require.True(t, stats.Converged)
	assert.True(t, leading.IsErased())
	generics := fn.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindGeneric })
	require.Len(t, generics, 1)
	assert.Equal(t, []int{8, 4, 256}, generics[0].Results[0].Shape.Dimensions)
	assert.Equal(t, 2, g.CountByKind()[payload.OpKindExpandShape])

	rewrite.Apply(fn, rewrite.Config{FoldReassociativeReshapes: true, Canonicalization: true})
	assert.Equal(t, 1, g.CountByKind()[payload.OpKindExpandShape])
}

func TestRankReducingLinalg(t *testing.T) {
	opts := payloadtest.DefaultReductionOptions()
	opts.Cols = 1
	k := must.M1(payloadtest.Reduction(opts))
	rewrite.Apply(k.Func, rewrite.Config{RankReducingLinalg: true})
	l := must.M1(payload.AsLinalg(k.Reduction))
	assert.Equal(t, 1, l.NumLoops())
	assert.Equal(t, [][]int{{0, payload.UnitDim}, {0}}, l.IndexingMaps)
	assert.False(t, l.IsReduction())
}

func TestVectorizeReduction(t *testing.T) {
	k := must.M1(payloadtest.Reduction(payloadtest.DefaultReductionOptions()))
	g := k.Graph
	require.Equal(t, 2, rewrite.Vectorize(k.Func, false))
	counts := g.CountByKind()
	assert.Zero(t, counts[payload.OpKindGeneric])
	assert.Zero(t, counts[payload.OpKindFill])
	assert.Equal(t, 1, counts[payload.OpKindMultiReduction])
	assert.Equal(t, 2, counts[payload.OpKindTransferRead])
	assert.Equal(t, 2, counts[payload.OpKindTransferWrite])

	// The accumulator read is forwarded from the write of the filled vector.
	rewrite.Apply(k.Func, rewrite.Config{}.WithCleanupDefaults())
	program := g.String()
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	assert.Equal(t, 1, g.CountByKind()[payload.OpKindTransferRead])
	assert.Contains(t, program, "vector.multi_reduction")
	assert.Contains(t, program, "vector<8x1024xf32>")
}

func TestLowerTransferPermutations(t *testing.T) {
	k := payloadtest.Copy2D("cuda", f32, 4, 8, true)
	require.Equal(t, 1, rewrite.Vectorize(k.Func, false))
	reads := k.Func.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindTransferRead })
	require.Len(t, reads, 1)
	assert.Equal(t, []int{1, 0}, reads[0].IntsAttr(payload.AttrPermutation))

	rewrite.Apply(k.Func, rewrite.Config{LowerTransferOpPermutations: true})
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	transposes := k.Func.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindTranspose })
	require.Len(t, transposes, 1)
	assert.Equal(t, []int{4, 8}, transposes[0].Results[0].Shape.Dimensions)
	assert.Equal(t, []int{8, 4}, transposes[0].Operands[0].Shape.Dimensions)
	for _, op := range k.Func.Collect(nil) {
		assert.False(t, op.HasAttr(payload.AttrPermutation) && op.Kind != payload.OpKindTranspose,
			"%s still has a permutation", op.Name())
	}
}

func TestRankReducingVector(t *testing.T) {
	g, fn, b := newFunc("unit",
		shapes.MakeDispatchTensor(shapes.ReadOnly, f32, 1, 16),
		shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 1, 16))
	input := b.Load(fn.Body.Args[0])
	zero := b.ConstantIndex(0)
	indices := []*payload.Value{zero, zero}
	vec := b.TransferRead(input, indices, shapes.MakeVector(f32, 1, 16), payload.TransferOptions{})
	write := b.TransferWrite(b.Elementwise("exp", vec), b.Empty(shapes.Make(f32, 1, 16)), indices, payload.TransferOptions{})
	b.Store(write.Result(0), fn.Body.Args[1])
	b.Return()

	rewrite.Apply(fn, rewrite.Config{RankReducingVector: true}.WithCleanupDefaults())
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	for _, op := range fn.Collect(func(op *payload.Op) bool {
		return op.Kind == payload.OpKindTransferRead || op.Kind == payload.OpKindTransferWrite
	}) {
		assert.Equal(t, 1, payload.TransferVectorShape(op).Rank(), "%s", op)
	}
}

func TestMaskLowering(t *testing.T) {
	g, fn, b := newFunc("masks", shapes.MakeDispatchTensor(shapes.ReadOnly, f32, 4, 8))
	input := b.Load(fn.Body.Args[0])
	mask := b.CreateMask([]int{4, 8}, b.ConstantIndex(4), b.ConstantIndex(5))
	zero := b.ConstantIndex(0)
	b.TransferRead(input, []*payload.Value{zero, zero}, shapes.MakeVector(f32, 4, 8), payload.TransferOptions{Mask: mask})
	b.Return()

	assert.Equal(t, 1, rewrite.LowerMasks(fn))
	assert.Equal(t, 1, g.CountByKind()[payload.OpKindConstantMask])
	assert.Equal(t, 1, rewrite.MaterializeMasks(fn))
	program := g.String()
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	assert.Contains(t, program, "arith.constant dense_mask<[4, 5]> : vector<4x8xi1>")
}

func TestLowerMaskedTransfers(t *testing.T) {
	g, fn, b := newFunc("masked", shapes.MakeDispatchTensor(shapes.ReadOnly, f32, 10))
	input := b.Load(fn.Body.Args[0])
	loop := b.For(b.ConstantIndex(0), b.ConstantIndex(10), b.ConstantIndex(4))
	b.Return()

	body := g.NewBuilder().SetInsertionPointToStart(loop.Body)
	iv := loop.Body.Args[0]
	size := body.AffineMin(4, []int{-1}, 10, iv)
	slice := body.ExtractSlice(input, []payload.OpFoldResult{payload.DynamicIndex(iv)},
		[]payload.OpFoldResult{payload.DynamicIndex(size)})
	init := body.Empty(shapes.Make(f32, shapes.DimUnknown), size)
	body.Generic(payload.GenericSpec{
		Inputs:        []*payload.Value{slice.Result(0)},
		Inits:         []*payload.Value{init},
		IteratorTypes: []payload.IteratorType{payload.Parallel},
		IndexingMaps:  [][]int{{0}, {0}},
		Fn:            "exp",
	})
	body.Yield()

	require.Equal(t, 1, rewrite.Vectorize(fn, false))
	transfers := fn.Collect(func(op *payload.Op) bool {
		return op.Kind == payload.OpKindTransferRead || op.Kind == payload.OpKindTransferWrite
	})
	require.Len(t, transfers, 2)
	for _, op := range transfers {
		require.NotNil(t, payload.TransferMask(op), "%s should be masked", op)
		assert.Equal(t, []int{4}, payload.TransferVectorShape(op).Dimensions)
	}

	assert.Equal(t, 2, rewrite.LowerMaskedTransfers(fn))
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	for _, op := range transfers {
		assert.Nil(t, payload.TransferMask(op))
		assert.Equal(t, []bool{false}, op.BoolsAttr(payload.AttrInBounds))
	}
}

func TestHoistSlicePair(t *testing.T) {
	g, fn, b := newFunc("hoist", shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 64))
	init := b.Empty(shapes.Make(f32, 64))
	one := b.Constant(shapes.Scalar(f32), 1)
	loop := b.For(b.ConstantIndex(0), b.ConstantIndex(8), b.ConstantIndex(1), init)
	b.Store(loop.Result(0), fn.Body.Args[0])
	b.Return()

	body := g.NewBuilder().SetInsertionPointToStart(loop.Body)
	iterArg := payload.ForIterArgs(loop)[0]
	slice := body.ExtractSlice(iterArg, payload.StaticIndices(16), payload.StaticIndices(16))
	filled := body.Fill(one, slice.Result(0))
	inserted := body.InsertSlice(filled.Result(0), iterArg, payload.StaticIndices(16), payload.StaticIndices(16))
	body.Yield(inserted.Result(0))

	require.Equal(t, 1, rewrite.HoistRedundantTensorSubsets(fn))
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	assert.Equal(t, []int{16}, iterArg.Shape.Dimensions)
	assert.Equal(t, []int{16}, loop.Results[0].Shape.Dimensions)
	assert.Equal(t, payload.OpKindExtractSlice, payload.ForInits(loop)[0].DefiningOp().Kind)
	assert.Equal(t, iterArg, filled.Operands[1])
	stores := fn.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindStore })
	assert.Equal(t, payload.OpKindInsertSlice, stores[0].Operands[0].DefiningOp().Kind)
}

func TestHoistTransferPair(t *testing.T) {
	g, fn, b := newFunc("hoist", shapes.MakeDispatchTensor(shapes.WriteOnly, f32, 16))
	init := b.Empty(shapes.Make(f32, 16))
	zero := b.ConstantIndex(0)
	loop := b.For(zero, b.ConstantIndex(8), b.ConstantIndex(1), init)
	b.Store(loop.Result(0), fn.Body.Args[0])
	b.Return()

	body := g.NewBuilder().SetInsertionPointToStart(loop.Body)
	iterArg := payload.ForIterArgs(loop)[0]
	indices := []*payload.Value{zero}
	vec := body.TransferRead(iterArg, indices, shapes.MakeVector(f32, 16), payload.TransferOptions{})
	exp := body.Elementwise("exp", vec)
	write := body.TransferWrite(exp, iterArg, indices, payload.TransferOptions{})
	body.Yield(write.Result(0))

	require.Equal(t, 1, rewrite.HoistRedundantTensorSubsets(fn))
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	assert.True(t, iterArg.Shape.Kind == shapes.VectorKind)
	assert.Equal(t, iterArg, exp.DefiningOp().Operands[0])
	assert.Equal(t, 1, g.CountByKind()[payload.OpKindTransferRead])
	assert.Equal(t, 1, g.CountByKind()[payload.OpKindTransferWrite])
	assert.False(t, loop.IsAncestorOf(payload.ForInits(loop)[0].DefiningOp()))
}

func TestBufferOptimizations(t *testing.T) {
	g, fn, b := newFunc("buffers", shapes.MakeMemRef(f32, "", 16))
	out := fn.Body.Args[0]
	vectorShape := shapes.MakeVector(f32, 16)
	zero := b.ConstantIndex(0)
	indices := []*payload.Value{zero}
	first, second := b.Constant(vectorShape, 1), b.Constant(vectorShape, 2)

	buffer := b.Alloc(shapes.MakeMemRef(f32, "", 16))
	deadStore := b.TransferWrite(first, buffer, indices, payload.TransferOptions{})
	b.TransferWrite(second, buffer, indices, payload.TransferOptions{})
	loaded := b.TransferRead(buffer, indices, vectorShape, payload.TransferOptions{})
	final := b.TransferWrite(loaded, out, indices, payload.TransferOptions{})
	scratch := b.Alloc(shapes.MakeMemRef(f32, "", 16))
	b.TransferWrite(first, scratch, indices, payload.TransferOptions{})
	b.Return()

	stats := rewrite.ApplyBufferOptimizations(fn)
	fmt.Printf("%s program:\n%s\n", t.Name(), g)
	assert.Equal(t, rewrite.BufferStats{AllocsErased: 1, LoadsForwarded: 1, StoresEliminated: 1}, stats)
	assert.True(t, scratch.DefiningOp().IsErased())
	assert.True(t, deadStore.IsErased())
	assert.Equal(t, second, final.Operands[0])
}
