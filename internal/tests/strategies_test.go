// Package tests holds end-to-end tests: strategies are built, printed and executed on sample kernels.
package tests

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/gomlx/go-xform/internal/matchers"
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/payload/payloadtest"
	"github.com/gomlx/go-xform/pkg/strategies"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/klog/v2"
)

func init() {
	klog.InitFlags(nil)
}

func TestMain(m *testing.M) {
	flag.Parse()
	os.Exit(m.Run())
}

var kernels = []struct {
	name              string
	leading, trailing string
}{
	{"Sum", "", ""},
	{"SumOfExp", "exp", ""},
	{"Norm", "", "sqrt"},
	{"NormOfExp", "exp", "sqrt"},
}

func buildKernel(t *testing.T, target string, rows int, leading, trailing string) *payloadtest.Kernel {
	opts := payloadtest.DefaultReductionOptions()
	opts.Target = target
	opts.Rows = rows
	opts.Leading, opts.Trailing = leading, trailing
	return must.M1(payloadtest.Reduction(opts))
}

// run builds the strategy of the kernel with buildFn and executes it.
func run(t *testing.T, k *payloadtest.Kernel, buildFn func(seq *transform.Sequence, variant *transform.Handle) error) *transform.State {
	b, err := transform.CreateTransformRegion(t.Name(), buildFn)
	require.NoError(t, err)
	fmt.Printf("%s script:\n%s\n", t.Name(), must.M1(b.Build()))
	state, err := transform.NewInterpreter(strategies.DefaultRegistry()).Execute(b.Main(transform.Propagate), k.Graph)
	fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
	require.NoError(t, err)
	return state
}

func TestGPUReductionStrategy(t *testing.T) {
	for _, rows := range []int{8, 1} {
		for _, kernel := range kernels {
			t.Run(fmt.Sprintf("%s/rows=%d", kernel.name, rows), func(t *testing.T) {
				testGPUReductionStrategy(t, buildKernel(t, "cuda", rows, kernel.leading, kernel.trailing), rows)
			})
		}
	}
}

func testGPUReductionStrategy(t *testing.T, k *payloadtest.Kernel, rows int) {
	cfg := strategies.DefaultGPUReductionConfig(must.M1(matchers.CaptureReduction(k.Func)))
	state := run(t, k, func(seq *transform.Sequence, variant *transform.Handle) error {
		return strategies.BuildGPUReductionStrategy(seq, variant, cfg)
	})
	assert.Zero(t, state.Stats.Suppressed)
	assert.Positive(t, state.Stats.Vectorized)

	program := k.Graph.String()
	assert.NotContains(t, program, "tensor<")
	assert.NotContains(t, program, "hal.descriptor_type")
	counts := k.Graph.CountByKind()
	assert.Zero(t, counts[payload.OpKindForall], "all loops are mapped to workgroups and threads")
	assert.Equal(t, 1, counts[payload.OpKindWorkgroupID])
	assert.Positive(t, counts[payload.OpKindThreadID])
	assert.Equal(t, []int{rows, 1, 1}, k.Graph.Export(k.Func.Symbol).IntsAttr(payload.AttrWorkgroupCount))
	assert.Equal(t, cfg.WorkgroupSize, k.Func.IntsAttr(payload.AttrWorkgroupSize))
}

func TestCPUReductionStrategy(t *testing.T) {
	for _, kernel := range kernels {
		t.Run(kernel.name, func(t *testing.T) {
			k := buildKernel(t, "llvm-cpu", 8, kernel.leading, kernel.trailing)
			cfg := strategies.DefaultCPUReductionConfig(must.M1(matchers.CaptureReduction(k.Func)))
			require.Equal(t, 8, cfg.SplitFactor)
			state := run(t, k, func(seq *transform.Sequence, variant *transform.Handle) error {
				return strategies.BuildCPUReductionStrategy(seq, variant, cfg)
			})
			assert.Equal(t, 1, state.Stats.ByStatement["transform.structured.split_reduction"])
			assert.Positive(t, state.Stats.Vectorized)

			program := k.Graph.String()
			assert.NotContains(t, program, "tensor<")
			assert.NotContains(t, program, "#gpu.address_space")
			counts := k.Graph.CountByKind()
			assert.Positive(t, counts[payload.OpKindFor])
			assert.Positive(t, counts[payload.OpKindTransferRead])
		})
	}
}

func TestScriptExport(t *testing.T) {
	k := buildKernel(t, "cuda", 8, "exp", "sqrt")
	cfg := strategies.DefaultGPUReductionConfig(must.M1(matchers.CaptureReduction(k.Func)))
	b, err := transform.CreateTransformRegion("gpu_reduction", func(seq *transform.Sequence, variant *transform.Handle) error {
		return strategies.BuildGPUReductionStrategy(seq, variant, cfg)
	})
	require.NoError(t, err)
	script := string(must.M1(b.Build()))
	assert.True(t, strings.HasPrefix(script, "transform.sequence @gpu_reduction failures(propagate) {"))
	assert.Contains(t, script, `transform.iree.match_callback failures(propagate) "reduction"(%arg0)`)
	assert.Equal(t, 2, strings.Count(script, "transform.iree.take_first"))

	data, err := json.Marshal(b)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	statements := decoded["statements"].([]any)
	assert.Equal(t, strings.Count(script, "\n")-4, len(statements), "one JSON statement per script line")
}

func TestFailuresAreNotRolledBack(t *testing.T) {
	t.Run("NoReduction", func(t *testing.T) {
		k := payloadtest.Copy2D("cuda", payloadtest.DefaultReductionOptions().DType, 8, 8, false)
		before := k.Graph.String()
		b := must.M1(transform.CreateTransformRegion(t.Name(), func(seq *transform.Sequence, variant *transform.Handle) error {
			return strategies.BuildGPUReductionStrategy(seq, variant, strategies.GPUReductionConfig{
				Rank: 2, WorkgroupTileSizes: []int{1}, NumThreads: 8, VectorSize: 1, WorkgroupSize: []int{32},
			})
		}))
		_, err := transform.NewInterpreter(strategies.DefaultRegistry()).Execute(b.Main(transform.Propagate), k.Graph)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no reduction found")
		assert.Equal(t, before, k.Graph.String(), "nothing was applied before the failure")
	})

	t.Run("PartiallyApplied", func(t *testing.T) {
		k := buildKernel(t, "cuda", 8, "", "")
		b := must.M1(transform.CreateTransformRegion(t.Name(), func(seq *transform.Sequence, variant *transform.Handle) error {
			// 48 threads don't fit the workgroup of 32 threads: the mapping to threads fails after bufferization.
			return strategies.BuildGPUReductionStrategy(seq, variant, strategies.GPUReductionConfig{
				Rank: 2, WorkgroupTileSizes: []int{1}, NumThreads: 48, VectorSize: 1, WorkgroupSize: []int{32},
			})
		}))
		state, err := transform.NewInterpreter(strategies.DefaultRegistry()).Execute(b.Main(transform.Propagate), k.Graph)
		require.Error(t, err)
		fmt.Printf("%s program:\n%s\n", t.Name(), k.Graph)
		assert.Contains(t, err.Error(), "transform.iree.map_nested_forall_to_gpu_threads")
		assert.Equal(t, 1, state.Stats.ByStatement["transform.iree.bufferize"])
		assert.NotContains(t, k.Graph.String(), "tensor<", "the bufferization is kept")
	})
}
