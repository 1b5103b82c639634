package tiling

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// TileToFor tiles op with a nest of scf.for loops, one per non-zero tile size, outermost first. The inits
// are carried through the loops as iteration arguments.
// It returns the tiled op in the innermost loop and the loops.
func TileToFor(op *payload.Op, tileSizes []int) (tiled *payload.Op, loops []*payload.Op, err error) {
	l, err := payload.AsLinalg(op)
	if err != nil {
		return nil, nil, err
	}
	if err = tensorSemantics(l); err != nil {
		return nil, nil, err
	}
	if len(tileSizes) > l.NumLoops() {
		return nil, nil, errors.Errorf("%d tile sizes given for the %d loops of %s", len(tileSizes), l.NumLoops(),
			op.Name())
	}
	t, err := fullTile(l)
	if err != nil {
		return nil, nil, err
	}

	g := op.Graph()
	b := g.NewBuilder().SetInsertionPointBefore(op)
	var zero *payload.Value
	inits := l.Inits()
	for loop, size := range tileSizes {
		if size == 0 {
			continue
		}
		if size < 0 {
			return nil, nil, errors.Errorf("invalid tile size %d for loop %d of %s", size, loop, op.Name())
		}
		if zero == nil {
			zero = b.ConstantIndex(0)
		}
		extent := t.sizes[loop]
		forOp := b.For(zero, b.Materialize(extent), b.ConstantIndex(size), inits...)
		loops = append(loops, forOp)
		iv := forOp.Body.Args[0]
		b = g.NewBuilder().SetInsertionPointToStart(forOp.Body)
		t.offsets[loop] = payload.DynamicIndex(iv)
		switch {
		case extent.IsStatic() && extent.Static%size == 0:
			t.sizes[loop] = payload.StaticIndex(size)
		case extent.IsStatic():
			t.sizes[loop] = payload.DynamicIndex(b.AffineMin(size, []int{-1}, extent.Static, iv))
		default:
			t.sizes[loop] = payload.DynamicIndex(b.AffineMin(size, []int{-1, 1}, 0, iv, extent.Value))
		}
		inits = payload.ForIterArgs(forOp)
	}
	if len(loops) == 0 {
		return nil, nil, errors.Errorf("no loop of %s to tile with tile sizes %v", op.Name(), tileSizes)
	}

	tiled = b.CloneStructured(op, tileOperands(b, l, t, inits))
	results := make([]*payload.Value, len(inits))
	for k := range inits {
		offsets, sizes := t.operandSlice(l.OperandMap(l.NumInputs + k))
		results[k] = b.InsertSlice(tiled.Result(k), inits[k], offsets, sizes).Result(0)
	}
	b.Yield(results...)
	for i := len(loops) - 1; i > 0; i-- {
		g.NewBuilder().SetInsertionPointToEnd(loops[i-1].Body).Yield(slices.Clone(loops[i].Results)...)
	}
	klog.V(2).Infof("tiling: %s tiled with %d scf.for loops (tile sizes %v)", op.Name(), len(loops), tileSizes)
	g.ReplaceOp(op, slices.Clone(loops[0].Results)...)
	return tiled, loops, nil
}
