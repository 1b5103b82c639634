// Package payloadtest builds canonical payload programs used by tests and by the xform_strategy tool.
package payloadtest

import (
	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
)

// ReductionOptions configures the reduction kernel: out[r] = trailing(reduce_c(leading(in[r, c]))).
type ReductionOptions struct {
	Name   string
	Target string
	DType  dtypes.DType
	Rows   int
	Cols   int

	// Combiner of the reduction, e.g. "add" or "max".
	Combiner string

	// Leading and Trailing are the functions of the optional elementwise ops before and after the
	// reduction. Empty means the op is not present.
	Leading, Trailing string
}

// DefaultReductionOptions returns a row-sum of a 8x1024 float32 matrix targeting "cuda".
func DefaultReductionOptions() ReductionOptions {
	return ReductionOptions{
		Name:     "reduce",
		Target:   "cuda",
		DType:    dtypes.Float32,
		Rows:     8,
		Cols:     1024,
		Combiner: "add",
	}
}

// Kernel holds the ops of interest of a built kernel. Optional ops are nil when not present.
type Kernel struct {
	Graph     *payload.Graph
	Func      *payload.Op
	Leading   *payload.Op
	Fill      *payload.Op
	Reduction *payload.Op
	Trailing  *payload.Op
}

// Reduction builds the reduction kernel described by opts.
func Reduction(opts ReductionOptions) (*Kernel, error) {
	if opts.Rows <= 0 || opts.Cols <= 0 {
		return nil, errors.Errorf("invalid reduction kernel dimensions %dx%d", opts.Rows, opts.Cols)
	}
	neutral, err := payload.NeutralValue(opts.Combiner, dtypes.LowestValue(opts.DType), dtypes.HighestValue(opts.DType))
	if err != nil {
		return nil, errors.WithMessagef(err, "building reduction kernel %q", opts.Name)
	}
	g := payload.New(opts.Target, opts.Target)
	fn := g.AddFunc(opts.Name,
		shapes.MakeDispatchTensor(shapes.ReadOnly, opts.DType, opts.Rows, opts.Cols),
		shapes.MakeDispatchTensor(shapes.WriteOnly, opts.DType, opts.Rows))
	k := &Kernel{Graph: g, Func: fn}
	b := g.NewBuilder().SetInsertionPointToEnd(fn.Body)

	input := b.Load(fn.Body.Args[0])
	if opts.Leading != "" {
		k.Leading = Elementwise(b, opts.Leading, input)
		input = k.Leading.Result(0)
	}
	init := b.Empty(shapes.Make(opts.DType, opts.Rows))
	k.Fill = b.Fill(b.Constant(shapes.Scalar(opts.DType), neutral), init)
	k.Reduction = b.Generic(payload.GenericSpec{
		Inputs:        []*payload.Value{input},
		Inits:         []*payload.Value{k.Fill.Result(0)},
		IteratorTypes: []payload.IteratorType{payload.Parallel, payload.Reduction},
		IndexingMaps:  [][]int{{0, 1}, {0}},
		Fn:            opts.Combiner,
	})
	output := k.Reduction.Result(0)
	if opts.Trailing != "" {
		k.Trailing = Elementwise(b, opts.Trailing, output)
		output = k.Trailing.Result(0)
	}
	b.Store(output, fn.Body.Args[1])
	b.Return()
	return k, nil
}

// Elementwise creates an elementwise linalg.generic applying fn to operands, with a new tensor.empty as
// destination.
func Elementwise(b *payload.Builder, fn string, operands ...*payload.Value) *payload.Op {
	shape := operands[0].Shape
	identity := make([]int, shape.Rank())
	iterators := make([]payload.IteratorType, shape.Rank())
	for i := range identity {
		identity[i] = i
	}
	maps := make([][]int, len(operands)+1)
	for i := range maps {
		maps[i] = identity
	}
	return b.Generic(payload.GenericSpec{
		Inputs:        operands,
		Inits:         []*payload.Value{b.Empty(shape)},
		IteratorTypes: iterators,
		IndexingMaps:  maps,
		Fn:            fn,
	})
}

// Copy2D builds a kernel copying a rows x cols input to the output through an elementwise op, optionally
// reading the input transposed (the input binding is then cols x rows).
func Copy2D(target string, dtype dtypes.DType, rows, cols int, transposed bool) *Kernel {
	g := payload.New(target, target)
	inDims := []int{rows, cols}
	inMap := []int{0, 1}
	if transposed {
		inDims = []int{cols, rows}
		inMap = []int{1, 0}
	}
	fn := g.AddFunc("copy",
		shapes.MakeDispatchTensor(shapes.ReadOnly, dtype, inDims...),
		shapes.MakeDispatchTensor(shapes.WriteOnly, dtype, rows, cols))
	b := g.NewBuilder().SetInsertionPointToEnd(fn.Body)
	input := b.Load(fn.Body.Args[0])
	op := b.Generic(payload.GenericSpec{
		Inputs:        []*payload.Value{input},
		Inits:         []*payload.Value{b.Empty(shapes.Make(dtype, rows, cols))},
		IteratorTypes: []payload.IteratorType{payload.Parallel, payload.Parallel},
		IndexingMaps:  [][]int{inMap, {0, 1}},
		Fn:            "identity",
	})
	b.Store(op.Result(0), fn.Body.Args[1])
	b.Return()
	return &Kernel{Graph: g, Func: fn, Trailing: op}
}
