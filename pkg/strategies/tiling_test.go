package strategies_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/go-xform/internal/bufferization"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/strategies"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTileFuseDistToForall(t *testing.T) {
	t.Run("BatchFusion", func(t *testing.T) {
		k := reductionKernel(t, 8, 1024, "exp", "")
		var res *strategies.TileToForallAndFuseAndDistributeResult
		state, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) error {
			generics, err := strategies.MatchAndUnpack(seq, variant, 2, "linalg.generic")
			if err != nil {
				return err
			}
			fill, err := seq.Match(variant, "linalg.fill")
			if err != nil {
				return err
			}
			// 3 candidates for 2 distinct ops.
			res, err = strategies.BuildTileFuseDistToForallWithTileSizes(seq, variant, generics[1],
				[]*transform.Handle{fill, generics[0], fill}, []int{2}, bufferization.BlockMapping(1))
			return err
		})
		require.NoError(t, err)
		fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
		require.Len(t, res.Fused, 1)
		assert.Equal(t, 2, state.NumOps(res.Fused[0]))
		forall := must.M1(state.Ops(res.Forall))[0]
		assert.Equal(t, []int{4}, forall.IntsAttr(payload.AttrNumThreads))
		assert.Equal(t, []string{"#gpu.block<x>"}, forall.StringsAttr(payload.AttrMapping))
		for _, op := range append(must.M1(state.Ops(res.Fused[0])), must.M1(state.Ops(res.Tiled))...) {
			assert.True(t, forall.IsAncestorOf(op), "%s is not in the loop", op.Name())
		}
	})

	t.Run("Script", func(t *testing.T) {
		build := func(numCandidates int) string {
			return script(t, func(seq *transform.Sequence, variant *transform.Handle) error {
				root := must.M1(seq.Match(variant, "linalg.generic"))
				var candidates []*transform.Handle
				for range numCandidates {
					candidates = append(candidates, must.M1(seq.Match(variant, "linalg.fill")))
				}
				_, err := strategies.BuildTileFuseDistToForallWithNumThreads(seq, variant, root, candidates, []int{4}, nil)
				return err
			})
		}
		program := build(0)
		fmt.Printf("%s script:\n%s\n", t.Name(), program)
		assert.Contains(t, program, "num_threads [4]")
		assert.NotContains(t, program, "fuse_into_containing_op")
		tiling := strings.Index(program, "tile_to_forall_op")
		cleanup := strings.Index(program, "apply_patterns %arg0 {canonicalization, cse, licm, tiling_canonicalization}")
		assert.True(t, 0 <= tiling && tiling < cleanup, "the cleanup follows the tiling")

		program = build(1)
		assert.Equal(t, 1, strings.Count(program, "fuse_into_containing_op"))
		assert.NotContains(t, program, "merge_handles")

		program = build(3)
		assert.Equal(t, 1, strings.Count(program, "fuse_into_containing_op"), "fusion is batched")
		assert.Contains(t, program, "transform.merge_handles %1, %2, %3 {deduplicate}")
	})
}

func TestTileFuseToScfFor(t *testing.T) {
	k := reductionKernel(t, 8, 1024, "", "")
	var res *strategies.TileToScfForAndFuseResult
	state, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) (err error) {
		reduction := must.M1(seq.Match(variant, "linalg.generic"))
		res, err = strategies.BuildTileFuseToScfFor(seq, variant, reduction, nil, []int{2, 256}, true)
		return err
	})
	require.NoError(t, err)
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	require.Len(t, res.Loops, 2)
	assert.Equal(t, 2, k.Graph.CountByKind()[payload.OpKindFor])
	inner := must.M1(state.Ops(res.Loops[1]))[0]
	assert.True(t, inner.IsAncestorOf(must.M1(state.Ops(res.Tiled))[0]))

	assert.Panics(t, func() {
		script(t, func(seq *transform.Sequence, variant *transform.Handle) error {
			fill := must.M1(seq.Match(variant, "linalg.fill"))
			_, err := strategies.BuildTileFuseToScfFor(seq, variant, seq.Arg(), []*transform.Handle{fill}, []int{2}, false)
			return err
		})
	}, "fusion into scf.for is not supported")
}

func TestBuildPad(t *testing.T) {
	k := reductionKernel(t, 8, 1000, "", "")
	state, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) error {
		reduction := must.M1(seq.Match(variant, "linalg.generic"))
		padded, err := strategies.BuildPad(seq, reduction, []float64{0, 0}, []int{1}, []bool{true, true}, nil)
		if err != nil {
			return err
		}
		return strategies.BuildPrint(seq, padded)
	})
	require.NoError(t, err)
	program := k.Graph.String()
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	assert.Equal(t, 2, k.Graph.CountByKind()[payload.OpKindPad])
	assert.Contains(t, program, "nofold")
	assert.Equal(t, 1, state.Stats.ByStatement["transform.structured.pad"])

	_, err = strategies.BuildPad(transform.New("pad").Main(transform.Propagate), nil, nil, nil, nil, nil)
	require.Error(t, err)
}

func TestTileReductionUsingForall(t *testing.T) {
	k := reductionKernel(t, 8, 1024, "", "")
	var forallH, fillH, combinerH, reductionH *transform.Handle
	state, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) (err error) {
		reductionH = must.M1(seq.Match(variant, "linalg.generic"))
		forallH, fillH, combinerH, err = strategies.BuildTileReductionUsingForall(seq, reductionH, 2, 32, 4,
			"#gpu.thread<x>")
		return err
	})
	require.NoError(t, err)
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	forall := must.M1(state.Ops(forallH))[0]
	assert.Equal(t, []int{32}, forall.IntsAttr(payload.AttrNumThreads))
	assert.Equal(t, []string{"#gpu.thread<x>"}, forall.StringsAttr(payload.AttrMapping))

	fills := must.M1(state.Ops(fillH))
	require.Len(t, fills, 1)
	assert.True(t, forall.IsAncestorOf(fills[0]), "the fill of the partial result is privatized")

	combiner := must.M1(state.Ops(combinerH))
	require.Len(t, combiner, 1)
	assert.False(t, forall.IsAncestorOf(combiner[0]))
	assert.Equal(t, combiner, must.M1(state.Ops(reductionH)), "the reduction handle follows its replacement")

	_, _, _, err = strategies.BuildTileReductionUsingForall(transform.New("invalid").Main(transform.Propagate),
		nil, 0, 32, 4, "")
	require.Error(t, err)
}
