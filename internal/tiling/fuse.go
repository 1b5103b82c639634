package tiling

import (
	"cmp"
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// FuseIntoContainingOp fuses producers into the containing loop (a scf.forall or a scf.for), in one batch.
//
// The order of fusion is computed here: at each step the last producer (in program order) that has a use
// inside the containing op is fused, since fusing a consumer creates new uses of its own producers inside
// the loop. A producer is fused by tiling it for each tensor.extract_slice of its results in the loop, by
// tiling it for the slices of a scf.forall shared output it initializes (which privatizes it), or by
// cloning it in the loop before its first use otherwise.
//
// Duplicated producers are fused once. It returns the fused ops in program order, and an error if some
// producer could not be fused, in which case the ops fused so far are also returned.
func FuseIntoContainingOp(producers []*payload.Op, containing *payload.Op) ([]*payload.Op, error) {
	if !containing.Kind.IsLoop() {
		return nil, errors.Errorf("cannot fuse into %s, it is not a loop", containing.Name())
	}
	var pending []*payload.Op
	for _, p := range producers {
		if p.IsErased() {
			return nil, errors.New("cannot fuse an erased producer")
		}
		if p == containing || containing.IsAncestorOf(p) {
			return nil, errors.Errorf("%s is already inside %s", p.Name(), containing.Name())
		}
		if !slices.Contains(pending, p) {
			pending = append(pending, p)
		}
	}

	var fused []*payload.Op
	for len(pending) > 0 {
		positions := programPositions(containing)
		slices.SortFunc(pending, func(a, b *payload.Op) int { return cmp.Compare(positions[b], positions[a]) })
		progress := false
		for i, p := range pending {
			ops, err := fuseProducer(p, containing)
			if err != nil {
				return fused, err
			}
			if len(ops) == 0 {
				continue
			}
			klog.V(2).Infof("fusion: %s fused into %s (%d tiles)", p.Name(), containing.Name(), len(ops))
			fused = append(fused, ops...)
			pending = slices.Delete(pending, i, i+1)
			progress = true
			break
		}
		if !progress {
			return sortByPosition(fused, containing), errors.Errorf("could not fuse %s into %s: no use inside the loop",
				pending[0].Name(), containing.Name())
		}
	}
	return sortByPosition(fused, containing), nil
}

// programPositions numbers the ops of the function enclosing op in pre-order.
func programPositions(op *payload.Op) map[*payload.Op]int {
	scope := payload.FuncOf(op)
	if scope == nil {
		scope = op.Graph().Root()
	}
	positions := make(map[*payload.Op]int)
	scope.Walk(func(nested *payload.Op) {
		positions[nested] = len(positions)
	})
	return positions
}

func sortByPosition(ops []*payload.Op, anchor *payload.Op) []*payload.Op {
	positions := programPositions(anchor)
	slices.SortFunc(ops, func(a, b *payload.Op) int { return cmp.Compare(positions[a], positions[b]) })
	return ops
}

// fuseProducer fuses p into containing, returning the fused ops, or none if p has no use in containing.
func fuseProducer(p, containing *payload.Op) ([]*payload.Op, error) {
	defer func() {
		if !p.IsErased() && !p.HasUses() && p.IsPure() {
			p.Graph().Erase(p)
		}
	}()
	if l, err := payload.AsLinalg(p); err == nil && tensorSemantics(l) == nil {
		fused, err := tileProducerForSlices(l, containing)
		if err != nil || len(fused) > 0 {
			return fused, err
		}
		fused, err = tileProducerThroughSharedOut(l, containing)
		if err != nil || len(fused) > 0 {
			return fused, err
		}
	}
	return cloneProducerIntoUses(p, containing), nil
}

// producerTile returns the tile of the iteration space of l producing the slice of its k-th result.
func producerTile(l *payload.Linalg, k int, slice *payload.Op) (loopTile, error) {
	t, err := fullTile(l)
	if err != nil {
		return loopTile{}, err
	}
	offsets, sizes := payload.SliceOffsets(slice), payload.SliceSizes(slice)
	for j, loop := range l.OperandMap(l.NumInputs + k) {
		if loop != payload.UnitDim {
			t.offsets[loop], t.sizes[loop] = offsets[j], sizes[j]
		}
	}
	return t, nil
}

// tileProducerForSlices replaces each tensor.extract_slice of a result of the producer inside containing by
// a tile of the producer.
func tileProducerForSlices(l *payload.Linalg, containing *payload.Op) ([]*payload.Op, error) {
	g := l.Op.Graph()
	var fused []*payload.Op
	for k, result := range l.Op.Results {
		for _, user := range result.Users() {
			if user.Kind != payload.OpKindExtractSlice || user.Operands[0] != result || !containing.IsAncestorOf(user) {
				continue
			}
			t, err := producerTile(l, k, user)
			if err != nil {
				return fused, err
			}
			b := g.NewBuilder().SetInsertionPointBefore(user)
			tile := b.CloneStructured(l.Op, tileOperands(b, l, t, l.Inits()))
			g.ReplaceOp(user, tile.Result(k))
			fused = append(fused, tile)
		}
	}
	return fused, nil
}

// tileProducerThroughSharedOut fuses a producer initializing a shared output of a scf.forall: the producer
// is tiled for the first slice of the shared output in the loop body, computing it on the slice of the
// shared output itself, and the forall is made to start from the producer's own init instead.
func tileProducerThroughSharedOut(l *payload.Linalg, containing *payload.Op) ([]*payload.Op, error) {
	if containing.Kind != payload.OpKindForall {
		return nil, nil
	}
	g := l.Op.Graph()
	outs := payload.ForallOutputArgs(containing)
	for k, result := range l.Op.Results {
		idx := slices.Index(containing.Operands, result)
		if idx < 0 {
			continue
		}
		bbArg := outs[idx]
		var slice *payload.Op
		for _, user := range bbArg.Users() {
			if user.Kind == payload.OpKindExtractSlice && user.Operands[0] == bbArg {
				slice = user
				break
			}
		}
		if slice == nil {
			continue
		}
		t, err := producerTile(l, k, slice)
		if err != nil {
			return nil, err
		}
		inits := slices.Clone(l.Inits())
		inits[k] = bbArg
		b := g.NewBuilder().SetInsertionPointBefore(slice)
		tile := b.CloneStructured(l.Op, tileOperands(b, l, t, inits))
		g.ReplaceOp(slice, tile.Result(k))
		containing.Operands[idx] = l.Inits()[k]
		return []*payload.Op{tile}, nil
	}
	return nil, nil
}

// cloneProducerIntoUses clones p inside containing before its first use there, and makes the uses inside
// containing use the clone.
func cloneProducerIntoUses(p, containing *payload.Op) []*payload.Op {
	var first *payload.Op
	positions := programPositions(containing)
	for _, result := range p.Results {
		for _, user := range result.Users() {
			if user != containing && containing.IsAncestorOf(user) && (first == nil || positions[user] < positions[first]) {
				first = user
			}
		}
	}
	if first == nil {
		return nil
	}
	for first.ParentOp() != containing {
		first = first.ParentOp()
	}
	g := p.Graph()
	clone := g.NewBuilder().SetInsertionPointBefore(first).Clone(p, make(map[*payload.Value]*payload.Value))
	for i, result := range p.Results {
		result.ReplaceUsesIf(clone.Results[i], func(use payload.Use) bool {
			return use.Owner != containing && containing.IsAncestorOf(use.Owner)
		})
	}
	return []*payload.Op{clone}
}
