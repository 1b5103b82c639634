package rewrite

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/payload"
)

// rankReducingLinalgPattern drops the loops of static extent 1 from a linalg.generic: the operand dimensions
// they indexed become unit dimensions. At least one loop is kept. The op is updated in place.
var rankReducingLinalgPattern = Pattern{
	Name:    "drop-unit-extent-loops",
	Kinds:   []payload.OpKind{payload.OpKindGeneric},
	Rewrite: dropUnitExtentLoops,
}

func dropUnitExtentLoops(_ *Rewriter, op *payload.Op) bool {
	l := payload.MustLinalg(op)
	ranges := l.LoopRanges()
	changed := false
	for loop := l.NumLoops() - 1; loop >= 0 && len(l.IteratorTypes) > 1; loop-- {
		if ranges[loop] != 1 {
			continue
		}
		l.IteratorTypes = slices.Delete(slices.Clone(l.IteratorTypes), loop, loop+1)
		for i, m := range l.IndexingMaps {
			m = slices.Clone(m)
			for j, dim := range m {
				switch {
				case dim == loop:
					m[j] = payload.UnitDim
				case dim > loop:
					m[j] = dim - 1
				}
			}
			l.IndexingMaps[i] = m
		}
		if tile := op.IntsAttr(payload.AttrVectorTile); tile != nil {
			op.SetAttr(payload.AttrVectorTile, slices.Delete(slices.Clone(tile), loop, loop+1))
		}
		changed = true
	}
	if changed {
		op.SetAttr(payload.AttrIteratorTypes, l.IteratorTypes)
		op.SetAttr(payload.AttrIndexingMaps, l.IndexingMaps)
	}
	return changed
}
