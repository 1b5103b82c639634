package strategies

import (
	"slices"

	"github.com/gomlx/go-xform/internal/matchers"
	"github.com/gomlx/go-xform/pkg/transform"
	"k8s.io/klog/v2"
)

// cpuVectorSize is the largest split factor of a reduction on CPU: the split dimension is the inner one,
// vectorized.
const cpuVectorSize = 8

// CPUReductionConfig configures BuildCPUReductionStrategy.
type CPUReductionConfig struct {
	// Rank is the number of loops of the reduction.
	Rank int

	// HasLeading and HasTrailing tell whether the kernel has elementwise ops before and after the
	// reduction.
	HasLeading, HasTrailing bool

	// SplitFactor is the size of the inner parallel dimension the reduction loop is split into. 0 or 1
	// disable the split.
	SplitFactor int

	// TileSizes tile the loops of the reduction (of the split reduction if it is split) with scf.for.
	TileSizes []int
}

// DefaultCPUReductionConfig returns the configuration for the reduction described by captures: the
// reduction loop is split by its largest divisor up to 8, if any, and rows are computed one at a time.
func DefaultCPUReductionConfig(captures *matchers.ReductionCaptures) CPUReductionConfig {
	cfg := CPUReductionConfig{
		Rank:        captures.Rank,
		HasLeading:  captures.HasLeading,
		HasTrailing: captures.HasTrailing,
		TileSizes:   slices.Repeat([]int{1}, captures.Rank-1),
	}
	factor, err := MaxDivisorOfValueBelowLimit(captures.ReductionSize(), cpuVectorSize)
	if err != nil {
		klog.V(1).Infof("strategies: %v, the reduction is not split", err)
	} else {
		cfg.SplitFactor = factor
	}
	return cfg
}

// BuildCPUReductionStrategy builds the CPU strategy of a reduction kernel in variant: the reduction is
// split (BuildSplitReduction) and tiled with scf.for loops, then the function is vectorized, its
// redundant loop accesses hoisted, and it is bufferized before the memory accesses are optimized.
func BuildCPUReductionStrategy(seq *transform.Sequence, variant *transform.Handle, cfg CPUReductionConfig) error {
	matched, err := UnpackRegisteredMatchCallback(seq, matchers.ReductionCallbackName, transform.Propagate, 4, variant)
	if err != nil {
		return err
	}
	target := matched[2]
	if cfg.SplitFactor > 1 {
		split, err := BuildSplitReduction(seq, variant, target, transform.SplitReductionOptions{
			SplitFactor:          cfg.SplitFactor,
			InsertSplitDimension: cfg.Rank - 1,
			InnerParallel:        true,
		}, cfg.HasLeading, cfg.HasTrailing)
		if err != nil {
			return err
		}
		target = split.SplitLinalg
	}
	if slices.ContainsFunc(cfg.TileSizes, func(size int) bool { return size > 0 }) {
		if _, err = BuildTileFuseToScfFor(seq, variant, target, nil, cfg.TileSizes, true); err != nil {
			return err
		}
	}

	fn, err := seq.Match(variant, "func.func")
	if err != nil {
		return err
	}
	if fn, err = BuildVectorize(seq, fn, false, true); err != nil {
		return err
	}
	if _, err = BuildHoisting(seq, fn); err != nil {
		return err
	}
	if variant, err = BuildBufferize(seq, variant, false); err != nil {
		return err
	}
	if fn, err = seq.Match(variant, "func.func"); err != nil {
		return err
	}
	return BuildMemoryOptimizations(seq, fn)
}
