package strategies

import (
	"slices"

	"github.com/gomlx/go-xform/internal/bufferization"
	"github.com/gomlx/go-xform/internal/matchers"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

const (
	warpSize = 32

	// maxThreadsPerReduction bounds the number of threads the reduction loop of a workgroup is distributed
	// over.
	maxThreadsPerReduction = 128

	gpuVectorSize = 4
)

// GPUReductionConfig configures BuildGPUReductionStrategy.
type GPUReductionConfig struct {
	// Rank is the number of loops of the reduction.
	Rank int

	// WorkgroupTileSizes tile the parallel loops of the kernel, one tile per workgroup.
	WorkgroupTileSizes []int

	// NumThreads is the number of threads the reduction loop of a workgroup is distributed over, each of
	// them reducing VectorSize elements at a time.
	NumThreads, VectorSize int

	// WorkgroupSize is the number of threads of a workgroup along x, y and z.
	WorkgroupSize []int
}

// DefaultGPUReductionConfig returns the configuration for the reduction described by captures: one
// workgroup per row, and the reduction loop distributed over the largest number of threads (up to 128)
// that evenly splits it in vectors of 4 elements. Reductions that cannot be split evenly use 128 threads,
// the last ones being partially idle.
//
// Rank 1 reductions (to a scalar) have no parallel loop to distribute over workgroups: the returned
// configuration has no workgroup tile sizes and BuildGPUReductionStrategy rejects it.
func DefaultGPUReductionConfig(captures *matchers.ReductionCaptures) GPUReductionConfig {
	cfg := GPUReductionConfig{
		Rank:               captures.Rank,
		WorkgroupTileSizes: slices.Repeat([]int{1}, min(captures.Rank-1, len(bufferization.Dims))),
		VectorSize:         1,
	}
	size := captures.ReductionSize()
	if size > 0 && size%gpuVectorSize == 0 {
		cfg.VectorSize = gpuVectorSize
	}
	threads, err := MaxDivisorOfValueBelowLimit(size/cfg.VectorSize, maxThreadsPerReduction)
	if err != nil {
		threads = PreviousMultipleOf(maxThreadsPerReduction, warpSize)
		klog.V(1).Infof("strategies: %v, distributing the reduction over %d threads", err, threads)
	}
	cfg.NumThreads = threads
	cfg.WorkgroupSize = []int{NextMultipleOf(threads, warpSize), 1, 1}
	return cfg
}

// BuildGPUReductionStrategy builds the GPU strategy of a reduction kernel in variant:
//
//  1. the kernel is distributed over workgroups (BuildReductionStrategyBlockDistribution);
//  2. the reduction loop of each workgroup is distributed over threads, and the trailing op, if any, is
//     computed by the first threads;
//  3. the function is vectorized and bufferized;
//  4. the loops are mapped to the workgroup and thread ids;
//  5. masks are lowered and memory accesses optimized.
func BuildGPUReductionStrategy(seq *transform.Sequence, variant *transform.Handle, cfg GPUReductionConfig) error {
	if cfg.NumThreads <= 0 || cfg.VectorSize <= 0 {
		return errors.Errorf("invalid GPU reduction configuration %+v", cfg)
	}
	if cfg.Rank < 2 {
		return errors.Errorf("GPU reduction strategy requires at least one parallel loop to distribute over "+
			"workgroups, got a rank %d reduction", cfg.Rank)
	}
	blocks, err := BuildReductionStrategyBlockDistribution(seq, variant, cfg.WorkgroupTileSizes)
	if err != nil {
		return err
	}
	_, _, _, err = BuildTileReductionUsingForall(seq, blocks.Reduction, cfg.Rank, cfg.NumThreads, cfg.VectorSize,
		bufferization.ThreadMapping(1)[0])
	if err != nil {
		return errors.WithMessage(err, "distributing the reduction over threads")
	}
	numParallel := len(cfg.WorkgroupTileSizes)
	_, err = BuildTileFuseDistToForallWithNumThreads(seq, variant, blocks.Trailing, nil,
		slices.Repeat([]int{1}, numParallel), bufferization.ThreadMapping(numParallel))
	if err != nil {
		return errors.WithMessage(err, "distributing the trailing op over threads")
	}

	fn, err := seq.Match(variant, "func.func")
	if err != nil {
		return err
	}
	if _, err = BuildVectorize(seq, fn, false, true); err != nil {
		return err
	}
	if variant, err = BuildBufferize(seq, variant, true); err != nil {
		return err
	}
	if fn, err = seq.Match(variant, "func.func"); err != nil {
		return err
	}
	if err = seq.ForallToWorkgroup(fn); err != nil {
		return err
	}
	if err = seq.MapNestedForallToThreads(fn, cfg.WorkgroupSize); err != nil {
		return err
	}
	if fn, err = BuildLowerMaskedTransfersAndCleanup(seq, fn); err != nil {
		return err
	}
	if fn, err = BuildLowerVectorMasksAndCleanup(seq, fn); err != nil {
		return err
	}
	return BuildMemoryOptimizations(seq, fn)
}
