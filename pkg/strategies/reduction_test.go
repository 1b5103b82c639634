package strategies_test

import (
	"fmt"
	"testing"

	"github.com/gomlx/go-xform/internal/matchers"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/strategies"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitReduction(t *testing.T) {
	for _, tc := range []struct {
		name              string
		leading, trailing string
		numGenerics       int
	}{
		{"ReductionOnly", "", "", 2},
		{"Trailing", "", "sqrt", 3},
		{"Leading", "exp", "", 3},
		{"LeadingAndTrailing", "exp", "sqrt", 4},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := reductionKernel(t, 8, 1024, tc.leading, tc.trailing)
			hasLeading, hasTrailing := tc.leading != "", tc.trailing != ""
			var res *strategies.ReductionSplitResult
			state, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) error {
				matched, err := strategies.UnpackRegisteredMatchCallback(seq, matchers.ReductionCallbackName,
					transform.Propagate, 4, variant)
				if err != nil {
					return err
				}
				res, err = strategies.BuildSplitReduction(seq, variant, matched[2],
					transform.SplitReductionOptions{SplitFactor: 8, InsertSplitDimension: 1}, hasLeading, hasTrailing)
				return err
			})
			require.NoError(t, err)
			fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
			assert.Equal(t, tc.numGenerics, k.Graph.CountByKind()[payload.OpKindGeneric])

			require.NotNil(t, res.SplitLinalg)
			require.NotNil(t, res.Combiner)
			require.NotNil(t, res.SplitFill)
			split := must.M1(state.Ops(res.SplitLinalg))
			require.Len(t, split, 1)
			assert.Equal(t, 3, payload.MustLinalg(split[0]).NumLoops())
			assert.Len(t, must.M1(state.Ops(res.Combiner)), 1)
			assert.Equal(t, []int{8, 8}, must.M1(state.Ops(res.SplitFill))[0].Results[0].Shape.Dimensions)

			// Without a leading op, the optional handles are not recovered.
			assert.Equal(t, hasLeading, res.LeadingEltwise != nil)
			assert.Equal(t, hasLeading, res.OriginalFill != nil)
			assert.Equal(t, hasLeading && hasTrailing, res.TrailingEltwise != nil)
			if hasLeading {
				leading := must.M1(state.Ops(res.LeadingEltwise))
				require.Len(t, leading, 1)
				assert.Equal(t, 3, payload.MustLinalg(leading[0]).NumLoops(), "the leading op works on the expanded input")
				assert.Equal(t, leading[0].Results[0], split[0].Operands[0])
				assert.Equal(t, []int{8}, must.M1(state.Ops(res.OriginalFill))[0].Results[0].Shape.Dimensions)
			}
			if res.TrailingEltwise != nil {
				trailing := must.M1(state.Ops(res.TrailingEltwise))
				assert.Equal(t, must.M1(state.Ops(res.Combiner))[0].Results[0], trailing[0].Operands[0])
			}
		})
	}

	t.Run("WrongLeading", func(t *testing.T) {
		k := reductionKernel(t, 8, 1024, "", "")
		_, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) error {
			reduction := must.M1(seq.Match(variant, "linalg.generic"))
			_, err := strategies.BuildSplitReduction(seq, variant, reduction,
				transform.SplitReductionOptions{SplitFactor: 8, InsertSplitDimension: 1}, true, false)
			return err
		})
		require.Error(t, err, "the re-match finds 2 linalg.generic instead of 3")
		assert.False(t, transform.IsSilenceable(err))
		assert.Contains(t, err.Error(), "transform.split_handle")
	})
}

func TestBlockDistribution(t *testing.T) {
	for _, tc := range []struct {
		name              string
		rows, numBlocks   int
		leading, trailing string
	}{
		{"ReductionOnly", 64, 2, "", ""},
		{"Leading", 64, 2, "exp", ""},
		{"Trailing", 64, 2, "", "sqrt"},
		{"LeadingAndTrailing", 64, 2, "exp", "sqrt"},
		{"OneRow", 1, 1, "", ""},
		{"OneRowLeading", 1, 1, "exp", ""},
		{"OneRowTrailing", 1, 1, "", "sqrt"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := reductionKernel(t, tc.rows, 1024, tc.leading, tc.trailing)
			var res *strategies.BlockDistributionResult
			state, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) (err error) {
				res, err = strategies.BuildReductionStrategyBlockDistribution(seq, variant, []int{32})
				return err
			})
			require.NoError(t, err)
			fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)

			foralls := must.M1(state.Ops(res.Forall))
			require.Len(t, foralls, 1)
			forall := foralls[0]
			assert.Equal(t, []string{"#gpu.block<x>"}, forall.StringsAttr(payload.AttrMapping))
			assert.Equal(t, []int{tc.numBlocks}, forall.IntsAttr(payload.AttrNumThreads))
			assert.Equal(t, []int{tc.numBlocks, 1, 1}, k.Graph.Export(k.Func.Symbol).IntsAttr(payload.AttrWorkgroupCount))

			expectOp := func(name string, h *transform.Handle, present bool) {
				ops := must.M1(state.Ops(h))
				if !present {
					assert.Empty(t, ops, "%s should be empty", name)
					return
				}
				require.Len(t, ops, 1, name)
				assert.True(t, forall.IsAncestorOf(ops[0]), "%s is not in the loop", name)
			}
			expectOp("leading", res.Leading, tc.leading != "")
			expectOp("fill", res.Fill, true)
			expectOp("reduction", res.Reduction, true)
			expectOp("trailing", res.Trailing, tc.trailing != "")
			reduction := must.M1(state.Ops(res.Reduction))[0]
			assert.True(t, payload.MustLinalg(reduction).IsReduction())
		})
	}

	t.Run("ReductionLoopTileSize", func(t *testing.T) {
		k := reductionKernel(t, 8, 1024, "", "")
		before := k.Graph.String()
		_, err := execute(t, k.Graph, func(seq *transform.Sequence, variant *transform.Handle) error {
			_, err := strategies.BuildReductionStrategyBlockDistribution(seq, variant, []int{1, 1})
			return err
		})
		require.Error(t, err)
		assert.True(t, transform.IsSilenceable(err))
		assert.Contains(t, err.Error(), "cannot distribute the reduction loop")
		assert.Equal(t, before, k.Graph.String())
	})

	t.Run("InvalidTileSizes", func(t *testing.T) {
		for _, sizes := range [][]int{nil, {1, 1, 1, 1}} {
			seq := transform.New("invalid").Main(transform.Propagate)
			_, err := strategies.BuildReductionStrategyBlockDistribution(seq, seq.Arg(), sizes)
			require.Error(t, err)
		}
	})
}

func TestDefaultConfigs(t *testing.T) {
	for _, tc := range []struct {
		cols                           int
		vectorSize, threads, workgroup int
		splitFactor                    int
	}{
		{1024, 4, 128, 128, 8},
		{1000, 4, 125, 128, 8},
		{9, 1, 9, 32, 3},
		{1021, 1, 128, 128, 0},
	} {
		t.Run(fmt.Sprintf("cols=%d", tc.cols), func(t *testing.T) {
			k := reductionKernel(t, 8, tc.cols, "", "sqrt")
			captures := must.M1(matchers.CaptureReduction(k.Func))
			gpu := strategies.DefaultGPUReductionConfig(captures)
			assert.Equal(t, 2, gpu.Rank)
			assert.Equal(t, []int{1}, gpu.WorkgroupTileSizes)
			assert.Equal(t, tc.vectorSize, gpu.VectorSize)
			assert.Equal(t, tc.threads, gpu.NumThreads)
			assert.Equal(t, []int{tc.workgroup, 1, 1}, gpu.WorkgroupSize)

			cpu := strategies.DefaultCPUReductionConfig(captures)
			assert.Equal(t, tc.splitFactor, cpu.SplitFactor)
			assert.Equal(t, []int{1}, cpu.TileSizes)
			assert.False(t, cpu.HasLeading)
			assert.True(t, cpu.HasTrailing)
		})
	}
}

func TestGPUReductionRankOne(t *testing.T) {
	cfg := strategies.DefaultGPUReductionConfig(&matchers.ReductionCaptures{
		Rank: 1, Sizes: []int{1024}, DType: dtypes.Float32,
	})
	assert.Empty(t, cfg.WorkgroupTileSizes)
	assert.Equal(t, 4, cfg.VectorSize)
	assert.Equal(t, 128, cfg.NumThreads)

	seq := transform.New("rank1").Main(transform.Propagate)
	err := strategies.BuildGPUReductionStrategy(seq, seq.Arg(), cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rank 1 reduction")
	assert.Empty(t, seq.Statements, "nothing is built for an unsupported reduction")
}
