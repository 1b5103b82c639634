package transform_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/payload/payloadtest"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reductionKernel(t *testing.T, leading, trailing string) *payloadtest.Kernel {
	opts := payloadtest.DefaultReductionOptions()
	opts.Leading, opts.Trailing = leading, trailing
	k, err := payloadtest.Reduction(opts)
	require.NoError(t, err)
	return k
}

func TestBuild(t *testing.T) {
	b := transform.New(t.Name())
	seq := b.Main(transform.Propagate)
	generic := must.M1(seq.Match(seq.Arg(), "linalg.generic"))
	fill := must.M1(seq.Match(seq.Arg(), "linalg.fill"))
	primary, rest := must.M2(seq.TakeFirst(generic, fill))
	require.NoError(t, seq.ApplyPatterns(seq.Arg(), transform.PatternsConfig{}.WithCleanupDefaults()))
	forall, _ := must.M2(seq.TileToForall(primary, transform.TileSizes(32), []string{"#gpu.block<x>"}))
	must.M1(seq.FuseIntoContainingOp(rest, forall))
	require.NoError(t, seq.Print(nil, "after fusion"))

	program := string(must.M1(b.Build()))
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	for _, want := range []string{
		"transform.sequence @TestBuild failures(propagate) {",
		"^bb0(%arg0: !transform.any_op):",
		`%0 = transform.structured.match ops{["linalg.generic"]} in %arg0`,
		"%2, %3 = transform.iree.take_first %0, %1",
		"transform.iree.apply_patterns %arg0 {canonicalization, cse, licm, tiling_canonicalization}",
		"%4, %5 = transform.structured.tile_to_forall_op %2 tile_sizes [32] {mapping = [#gpu.block<x>]}",
		"%6 = transform.structured.fuse_into_containing_op %3, %4",
		`transform.print {name = "after fusion"}`,
		"  transform.yield\n}",
	} {
		assert.Contains(t, program, want)
	}

	// Handles are written the same at any indentation.
	var buf bytes.Buffer
	require.NoError(t, primary.Write(&buf, "    "))
	assert.Equal(t, "%2", buf.String())
	assert.Equal(t, primary.String(), buf.String())
}

func TestBuildErrors(t *testing.T) {
	b1 := transform.New("first")
	seq1 := b1.Main(transform.Propagate)
	seq2 := transform.New("second").Main(transform.Propagate)
	_, err := seq2.Match(seq1.Arg(), "linalg.fill")
	require.Error(t, err, "handles of another sequence cannot be used")

	_, err = seq1.Match(seq1.Arg())
	require.Error(t, err, "Match requires operation names")
	_, _, err = seq1.TileToForall(seq1.Arg(), transform.TileSizes(), nil)
	require.Error(t, err, "TileToForall requires tile sizes")
	_, err = seq1.SplitHandle(seq1.Arg(), 0)
	require.Error(t, err)

	_, err = transform.New("empty").Build()
	require.Error(t, err, "a script without main sequence cannot be built")
}

// runTakeFirst executes take_first on the ops named op1 and op2 of a reduction kernel.
func runTakeFirst(t *testing.T, op1, op2 string) (primary, rest []*payload.Op, k *payloadtest.Kernel) {
	k = reductionKernel(t, "", "")
	b := transform.New("take_first")
	seq := b.Main(transform.Propagate)
	h1 := must.M1(seq.Match(seq.Arg(), op1))
	h2 := must.M1(seq.Match(seq.Arg(), op2))
	p, r := must.M2(seq.TakeFirst(h1, h2))
	state, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
	require.NoError(t, err)
	return must.M1(state.Ops(p)), must.M1(state.Ops(r)), k
}

func TestTakeFirst(t *testing.T) {
	t.Run("BothPresent", func(t *testing.T) {
		primary, rest, k := runTakeFirst(t, "linalg.generic", "linalg.fill")
		assert.Equal(t, []*payload.Op{k.Reduction}, primary)
		assert.Equal(t, []*payload.Op{k.Fill}, rest)
	})
	t.Run("FirstEmpty", func(t *testing.T) {
		primary, rest, k := runTakeFirst(t, "tensor.pad", "linalg.fill")
		assert.Equal(t, []*payload.Op{k.Fill}, primary)
		assert.Empty(t, rest)
	})
	t.Run("SecondEmpty", func(t *testing.T) {
		primary, rest, k := runTakeFirst(t, "linalg.generic", "tensor.pad")
		assert.Equal(t, []*payload.Op{k.Reduction}, primary)
		assert.Empty(t, rest)
	})
	t.Run("BothEmpty", func(t *testing.T) {
		primary, rest, _ := runTakeFirst(t, "tensor.pad", "scf.forall")
		assert.Empty(t, primary)
		assert.Empty(t, rest)
	})
}

func TestMergeHandles(t *testing.T) {
	k := reductionKernel(t, "", "")
	b := transform.New("merge")
	seq := b.Main(transform.Propagate)
	fill := must.M1(seq.Match(seq.Arg(), "linalg.fill"))
	generic := must.M1(seq.Match(seq.Arg(), "linalg.generic"))
	deduped := must.M1(seq.MergeHandles(true, fill, generic, fill))
	all := must.M1(seq.MergeHandles(false, fill, generic, fill))
	state, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
	require.NoError(t, err)
	assert.Equal(t, []*payload.Op{k.Fill, k.Reduction}, must.M1(state.Ops(deduped)))
	assert.Equal(t, []*payload.Op{k.Fill, k.Reduction, k.Fill}, must.M1(state.Ops(all)))
}

func TestBatchFusion(t *testing.T) {
	k := reductionKernel(t, "exp", "")
	b := transform.New("fusion")
	seq := b.Main(transform.Propagate)
	generics := must.M1(seq.SplitHandle(must.M1(seq.Match(seq.Arg(), "linalg.generic")), 2))
	leading, reduction := generics[0], generics[1]
	fill := must.M1(seq.Match(seq.Arg(), "linalg.fill"))
	forall, _ := must.M2(seq.TileToForall(reduction, transform.TileSizes(2), nil))

	// 3 candidate handles referencing 2 distinct producers: the fill and the leading op.
	candidates := must.M1(seq.MergeHandles(true, fill, leading, fill))
	fused := must.M1(seq.FuseIntoContainingOp(candidates, forall))

	state, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
	require.NoError(t, err)
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	assert.Equal(t, 2, state.NumOps(candidates))
	assert.Equal(t, 2, state.NumOps(fused))
	assert.Equal(t, 2, state.Stats.Fused)
	forallOp := must.M1(state.Ops(forall))[0]
	for _, op := range must.M1(state.Ops(fused)) {
		assert.True(t, forallOp.IsAncestorOf(op), "%s was not fused", op.Name())
	}
}

func TestFailureModes(t *testing.T) {
	build := func(mode transform.FailureMode) (*transform.Sequence, *transform.Handle, *transform.Handle) {
		seq := transform.New("failures").Main(mode)
		generic := must.M1(seq.Match(seq.Arg(), "linalg.generic"))
		// No loop is tiled: the statement fails without changing the payload.
		forall, _ := must.M2(seq.TileToForall(generic, transform.TileSizes(0), nil))
		after := must.M1(seq.Match(seq.Arg(), "linalg.fill"))
		return seq, forall, after
	}

	t.Run("Propagate", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		seq, _, after := build(transform.Propagate)
		state, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
		require.Error(t, err)
		assert.True(t, transform.IsSilenceable(err))
		assert.Equal(t, 1, state.Stats.Executed)
		_, err = state.Ops(after)
		assert.Error(t, err, "statements after the failure are not executed")
	})

	t.Run("Suppress", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		seq, forall, after := build(transform.Suppress)
		state, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
		require.NoError(t, err)
		assert.Equal(t, 1, state.Stats.Suppressed)
		assert.Empty(t, must.M1(state.Ops(forall)))
		assert.Equal(t, []*payload.Op{k.Fill}, must.M1(state.Ops(after)))
	})

	t.Run("DefiniteIsNotSuppressed", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		seq := transform.New("definite").Main(transform.Suppress)
		generic := must.M1(seq.Match(seq.Arg(), "linalg.generic"))
		must.M1(seq.SplitHandle(generic, 2))
		_, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
		require.Error(t, err)
		assert.False(t, transform.IsSilenceable(err))
		assert.Contains(t, err.Error(), "transform.split_handle")
	})
}

func TestStaleHandles(t *testing.T) {
	k := reductionKernel(t, "", "")
	seq := transform.New("stale").Main(transform.Propagate)
	fill := must.M1(seq.Match(seq.Arg(), "linalg.fill"))
	generic := must.M1(seq.Match(seq.Arg(), "linalg.generic"))
	must.M2(seq.TileToForall(generic, transform.TileSizes(4), nil))
	// The tiled op was replaced by the results of the scf.forall, a different kind of op.
	must.M2(seq.TileToForall(generic, transform.TileSizes(2), nil))
	state, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
	require.Error(t, err)
	assert.False(t, transform.IsSilenceable(err))
	assert.Contains(t, err.Error(), "invalidated")
	assert.Equal(t, []*payload.Op{k.Fill}, must.M1(state.Ops(fill)))
}

func TestTrackingReplacements(t *testing.T) {
	k := reductionKernel(t, "", "")
	seq := transform.New("tracking").Main(transform.Propagate)
	generic := must.M1(seq.Match(seq.Arg(), "linalg.generic"))
	_, split, combiner := must.M3(seq.SplitReduction(generic, transform.SplitReductionOptions{SplitFactor: 8}))
	state, err := transform.NewInterpreter(nil).Execute(seq, k.Graph)
	require.NoError(t, err)
	// The combiner replaced the original reduction: it is the same kind of op, so the handle follows it.
	assert.Equal(t, must.M1(state.Ops(combiner)), must.M1(state.Ops(generic)))
	assert.NotEqual(t, must.M1(state.Ops(split)), must.M1(state.Ops(generic)))
}

func TestMatchCallbacks(t *testing.T) {
	registry := transform.NewRegistry()
	registry.Register("fills", 2, func(scope *payload.Op) ([][]*payload.Op, error) {
		fills := scope.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindFill })
		if len(fills) == 0 {
			return nil, fmt.Errorf("no fill")
		}
		return [][]*payload.Op{fills, nil}, nil
	})
	assert.Panics(t, func() { registry.Register("fills", 1, nil) })

	t.Run("NotRegistered", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		seq := transform.New("callbacks").Main(transform.Propagate)
		must.M1(seq.MatchCallback(transform.Propagate, "fills", 2, seq.Arg()))
		_, err := transform.NewInterpreter(registry).Execute(seq, k.Graph)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "before registering")
	})

	t.Run("Match", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		seq := transform.New("callbacks").Main(transform.Propagate)
		require.NoError(t, seq.RegisterMatchCallbacks())
		handles := must.M1(seq.MatchCallback(transform.Propagate, "fills", 2, seq.Arg()))
		state, err := transform.NewInterpreter(registry).Execute(seq, k.Graph)
		require.NoError(t, err)
		assert.Equal(t, []*payload.Op{k.Fill}, must.M1(state.Ops(handles[0])))
		assert.Empty(t, must.M1(state.Ops(handles[1])))
	})

	t.Run("NoMatch", func(t *testing.T) {
		for _, mode := range []transform.FailureMode{transform.Propagate, transform.Suppress} {
			k := payloadtest.Copy2D("cuda", payloadtest.DefaultReductionOptions().DType, 4, 4, false)
			seq := transform.New("callbacks").Main(transform.Propagate)
			require.NoError(t, seq.RegisterMatchCallbacks())
			handles := must.M1(seq.MatchCallback(mode, "fills", 2, seq.Arg()))
			state, err := transform.NewInterpreter(registry).Execute(seq, k.Graph)
			if mode == transform.Propagate {
				require.Error(t, err)
				assert.False(t, transform.IsSilenceable(err))
				continue
			}
			require.NoError(t, err)
			assert.Empty(t, must.M1(state.Ops(handles[0])))
		}
	})

	t.Run("WrongNumberOfResults", func(t *testing.T) {
		k := reductionKernel(t, "", "")
		seq := transform.New("callbacks").Main(transform.Propagate)
		require.NoError(t, seq.RegisterMatchCallbacks())
		must.M1(seq.MatchCallback(transform.Propagate, "fills", 3, seq.Arg()))
		_, err := transform.NewInterpreter(registry).Execute(seq, k.Graph)
		require.Error(t, err)
	})
}

func TestPrint(t *testing.T) {
	k := reductionKernel(t, "", "")
	seq := transform.New("print").Main(transform.Propagate)
	fill := must.M1(seq.Match(seq.Arg(), "linalg.fill"))
	require.NoError(t, seq.Print(fill, "fill"))
	require.NoError(t, seq.Print(nil, ""))
	var buf bytes.Buffer
	_, err := transform.NewInterpreter(nil).WithOutput(&buf).Execute(seq, k.Graph)
	require.NoError(t, err)
	output := buf.String()
	fmt.Printf("%s output:\n%s\n", t.Name(), output)
	assert.Contains(t, output, "[[[ IR printer: fill ]]]")
	assert.Equal(t, 2, strings.Count(output, "[[[ IR printer:"))
	assert.Contains(t, output, "linalg.fill")
	assert.Contains(t, output, "hal.executable.variant")
}

func TestProto(t *testing.T) {
	b, err := transform.CreateTransformRegion("proto", func(seq *transform.Sequence, variant *transform.Handle) error {
		fn, err := seq.Match(variant, "func.func")
		if err != nil {
			return err
		}
		config := transform.PatternsConfig{RankReducingVector: true}
		return seq.ApplyPatterns(fn, config.WithCleanupDefaults())
	})
	require.NoError(t, err)
	st, err := b.ToProto()
	require.NoError(t, err)
	assert.Equal(t, "proto", st.Fields["name"].GetStringValue())
	assert.Equal(t, "propagate", st.Fields["failures"].GetStringValue())
	statements := st.Fields["statements"].GetListValue().GetValues()
	require.Len(t, statements, 2)
	apply := statements[1].GetStructValue()
	assert.Equal(t, "transform.iree.apply_patterns", apply.Fields["op"].GetStringValue())
	patterns := apply.Fields["attributes"].GetStructValue().Fields[transform.AttrPatterns].GetListValue().GetValues()
	assert.Len(t, patterns, 5)

	data, err := json.Marshal(b)
	require.NoError(t, err)
	fmt.Printf("%s json:\n%s\n", t.Name(), data)
	assert.Contains(t, string(data), "transform.structured.match")
	assert.Contains(t, string(data), "rank_reducing_vector")
}
