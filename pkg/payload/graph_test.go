package payload_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/payload/payloadtest"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	replaced [][2]*payload.Op
	erased   []*payload.Op
}

func (l *recordingListener) OpReplaced(old, replacement *payload.Op) {
	l.replaced = append(l.replaced, [2]*payload.Op{old, replacement})
}

func (l *recordingListener) OpErased(op *payload.Op) {
	l.erased = append(l.erased, op)
}

func TestStaleReferences(t *testing.T) {
	k := must.M1(payloadtest.Reduction(payloadtest.DefaultReductionOptions()))
	g := k.Graph
	ref := k.Fill.Ref()
	op, err := g.Resolve(ref)
	require.NoError(t, err)
	require.Equal(t, k.Fill, op)

	// Replace the fill by a new one, so the old one is erased.
	b := g.NewBuilder().SetInsertionPointBefore(k.Fill)
	newFill := b.Fill(k.Fill.Operands[0], k.Fill.Operands[1])
	g.ReplaceOp(k.Fill, newFill.Result(0))
	require.True(t, k.Fill.IsErased())

	_, err = g.Resolve(ref)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale")

	// Slots are reused with a new generation.
	c := g.NewBuilder().SetInsertionPointBefore(newFill).ConstantIndex(7)
	assert.Equal(t, ref.Slot, c.DefiningOp().Ref().Slot)
	assert.NotEqual(t, ref.Gen, c.DefiningOp().Ref().Gen)
	_, err = g.Resolve(ref)
	require.Error(t, err)
}

func TestReplaceOpNotifiesListeners(t *testing.T) {
	k := must.M1(payloadtest.Reduction(payloadtest.DefaultReductionOptions()))
	g := k.Graph
	l := &recordingListener{}
	g.AddListener(l)
	defer g.RemoveListener(l)

	b := g.NewBuilder().SetInsertionPointAfter(k.Reduction)
	clone := b.Clone(k.Reduction, map[*payload.Value]*payload.Value{})
	g.ReplaceOp(k.Reduction, clone.Result(0))

	require.Len(t, l.replaced, 1)
	assert.Equal(t, k.Reduction, l.replaced[0][0])
	assert.Equal(t, clone, l.replaced[0][1])
	require.Len(t, l.erased, 1)
	users := clone.Result(0).Users()
	require.Len(t, users, 1)
	assert.Equal(t, payload.OpKindStore, users[0].Kind)
}

func TestPrintReductionKernel(t *testing.T) {
	opts := payloadtest.DefaultReductionOptions()
	opts.Leading = "exp"
	k := must.M1(payloadtest.Reduction(opts))
	program := k.Graph.String()
	fmt.Printf("%s program:\n%s\n", t.Name(), program)

	for _, want := range []string{
		`hal.executable.variant public @cuda target(<"cuda">) {`,
		`hal.executable.export public @reduce`,
		`func.func @reduce(%arg0: !flow.dispatch.tensor<readonly:tensor<8x1024xf32>>, %arg1: !flow.dispatch.tensor<writeonly:tensor<8xf32>>) {`,
		`%cst = arith.constant 0.000000e+00 : f32`,
		`linalg.fill ins(%cst : f32) outs(%3 : tensor<8xf32>) -> tensor<8xf32>`,
		`{indexing_maps = [affine_map<(d0, d1) -> (d0, d1)>, affine_map<(d0, d1) -> (d0)>], iterator_types = ["parallel", "reduction"], fn = "add"}`,
		`fn = "exp"`,
		`func.return`,
	} {
		if !strings.Contains(program, want) {
			t.Fatalf("program missing %q.\nGot:\n%s", want, program)
		}
	}
}

func TestForallAndClone(t *testing.T) {
	g := payload.New("cuda", "cuda")
	fn := g.AddFunc("main", shapes.MakeDispatchTensor(shapes.WriteOnly, dtypes.Float32, 64))
	b := g.NewBuilder().SetInsertionPointToEnd(fn.Body)
	init := b.Empty(shapes.Make(dtypes.Float32, 64))
	forall := b.Forall([]int{4}, []string{"#gpu.block<x>"}, []*payload.Value{init})
	b.Store(forall.Result(0), fn.Body.Args[0])
	b.Return()

	body := g.NewBuilder().SetInsertionPointToStart(forall.Body)
	iv := payload.ForallIVs(forall)[0]
	offset := body.AffineApply([]int{16}, 0, iv)
	out := payload.ForallOutputArgs(forall)[0]
	slice := body.ExtractSlice(out, []payload.OpFoldResult{payload.DynamicIndex(offset)}, payload.StaticIndices(16))
	filled := body.Fill(body.Constant(shapes.Scalar(dtypes.Float32), 1), slice.Result(0))
	g.NewBuilder().SetInsertionPointToEnd(payload.InParallel(forall).Body).
		ParallelInsertSlice(filled.Result(0), out, []payload.OpFoldResult{payload.DynamicIndex(offset)}, payload.StaticIndices(16))

	program := g.String()
	fmt.Printf("%s program:\n%s\n", t.Name(), program)
	require.Contains(t, program, `scf.forall (%arg1) in (4) shared_outs(%arg2 = %0) -> (tensor<64xf32>) {`)
	require.Contains(t, program, `affine.apply affine_map<(d0) -> (d0 * 16)>(%arg1)`)
	require.Contains(t, program, `tensor.extract_slice %arg2[%2] [16] [1] : tensor<64xf32> to tensor<16xf32>`)
	require.Contains(t, program, `tensor.parallel_insert_slice %4 into %arg2[%2] [16] [1] : tensor<16xf32> into tensor<64xf32>`)
	require.Contains(t, program, `} {mapping = [#gpu.block<x>]}`)

	// Clone the whole forall: the body is cloned, and uses are remapped.
	before := g.NumOps()
	clone := g.NewBuilder().SetInsertionPointAfter(forall).Clone(forall, map[*payload.Value]*payload.Value{})
	assert.Equal(t, len(forall.Collect(nil)), g.NumOps()-before)
	cloneSlices := clone.Collect(func(op *payload.Op) bool { return op.Kind == payload.OpKindExtractSlice })
	require.Len(t, cloneSlices, 1)
	assert.Equal(t, payload.ForallOutputArgs(clone)[0], cloneSlices[0].Operands[0])
	assert.True(t, clone.IsAncestorOf(cloneSlices[0]))
	assert.False(t, forall.IsAncestorOf(cloneSlices[0]))

	// Dynamic sizes are traced through slices.
	size, ok := payload.DimValue(filled.Result(0), 0)
	require.True(t, ok)
	assert.Equal(t, payload.StaticIndex(16), size)
}

func TestLinalgView(t *testing.T) {
	k := must.M1(payloadtest.Reduction(payloadtest.DefaultReductionOptions()))
	l := must.M1(payload.AsLinalg(k.Reduction))
	assert.Equal(t, []int{8, 1024}, l.LoopRanges())
	assert.Equal(t, []int{1}, l.ReductionDims())
	assert.True(t, l.IsReduction())
	assert.False(t, l.IsElementwise())
	assert.Equal(t, "add", l.Fn())

	fill := must.M1(payload.AsLinalg(k.Fill))
	assert.Equal(t, []int{8}, fill.LoopRanges())
	assert.True(t, fill.IsElementwise())

	_, err := payload.AsLinalg(k.Func)
	require.Error(t, err)
}

func TestEraseNested(t *testing.T) {
	k := must.M1(payloadtest.Reduction(payloadtest.DefaultReductionOptions()))
	g := k.Graph
	total := g.NumOps()
	l := &recordingListener{}
	g.AddListener(l)
	numInFunc := len(k.Func.Collect(nil))
	g.Erase(k.Func)
	assert.Len(t, l.erased, numInFunc)
	assert.Equal(t, total-numInFunc, g.NumOps())
	assert.Len(t, g.Funcs(), 0)
	assert.NotNil(t, g.Export("reduce"))
}
