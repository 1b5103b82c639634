package strategies

import (
	"github.com/gomlx/go-xform/internal/bufferization"
	"github.com/gomlx/go-xform/internal/matchers"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/pkg/errors"
)

// BlockDistributionResult holds the handles of a reduction distributed over workgroups. Leading and
// Trailing are empty when the kernel has no such op.
type BlockDistributionResult struct {
	Leading, Fill, Reduction, Trailing *transform.Handle

	// Forall is the scf.forall distributed over workgroups.
	Forall *transform.Handle
}

// BuildReductionStrategyBlockDistribution matches the reduction of variant with the "reduction" match
// callback and distributes it over workgroups, with one tile size per distributed parallel loop (1 to 3,
// mapped to the x, y and z workgroup dimensions). If there is a trailing elementwise op, it is the op
// tiled and the reduction is fused in the loop. The fill and the leading op are then fused, and the
// workgroup count of the export is set from the loop.
func BuildReductionStrategyBlockDistribution(seq *transform.Sequence, variant *transform.Handle,
	workgroupTileSizes []int) (*BlockDistributionResult, error) {
	if len(workgroupTileSizes) == 0 || len(workgroupTileSizes) > len(bufferization.Dims) {
		return nil, errors.Errorf("1 to %d workgroup tile sizes required, got %v", len(bufferization.Dims),
			workgroupTileSizes)
	}
	// The callback already gated the choice of this strategy: it must match.
	matched, err := UnpackRegisteredMatchCallback(seq, matchers.ReductionCallbackName, transform.Propagate, 4, variant)
	if err != nil {
		return nil, err
	}
	leading, fill, reduction, trailing := matched[0], matched[1], matched[2], matched[3]

	// The last op of the kernel is the one tiled: the trailing op if any, otherwise the reduction.
	root, rest, err := seq.TakeFirst(trailing, reduction)
	if err != nil {
		return nil, err
	}
	mapping := bufferization.BlockMapping(len(workgroupTileSizes))
	tiling, err := BuildTileFuseDistToForallWithTileSizes(seq, variant, root, []*transform.Handle{rest},
		workgroupTileSizes, mapping)
	if err != nil {
		return nil, err
	}
	if err = seq.PopulateWorkgroupCount(tiling.Forall); err != nil {
		return nil, err
	}
	res := &BlockDistributionResult{Forall: tiling.Forall}
	if res.Fill, err = seq.FuseIntoContainingOp(fill, tiling.Forall); err != nil {
		return nil, err
	}
	if res.Leading, err = seq.FuseIntoContainingOp(leading, tiling.Forall); err != nil {
		return nil, err
	}
	if _, err = BuildCanonicalizationAndEnablingTransforms(seq, transform.PatternsConfig{}, variant); err != nil {
		return nil, err
	}

	// With a trailing op the fused op is the reduction and the tiled one the trailing op, otherwise nothing
	// was fused and the tiled op is the reduction.
	if res.Reduction, res.Trailing, err = seq.TakeFirst(tiling.Fused[0], tiling.Tiled); err != nil {
		return nil, err
	}
	return res, nil
}
