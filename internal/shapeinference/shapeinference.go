// Package shapeinference computes the shapes produced by tiling, reduction splitting and reshapes.
package shapeinference

import (
	"slices"

	"github.com/gomlx/go-xform/pkg/types/shapes"
	"github.com/pkg/errors"
)

// CeilDiv returns ceil(a / b) for positive b.
func CeilDiv(a, b int) int {
	return (a + b - 1) / b
}

// TileSizesForNumThreads returns, for each loop, the tile size that distributes its range over the given
// number of threads. A 0 thread count leaves the loop untiled (tile size 0).
// Dynamic ranges cannot be distributed.
func TileSizesForNumThreads(ranges, numThreads []int) ([]int, error) {
	if len(numThreads) > len(ranges) {
		return nil, errors.Errorf("%d thread counts given for %d loops", len(numThreads), len(ranges))
	}
	tileSizes := make([]int, len(ranges))
	for i, n := range numThreads {
		if n == 0 {
			continue
		}
		if n < 0 {
			return nil, errors.Errorf("invalid number of threads %d for loop %d", n, i)
		}
		if ranges[i] == shapes.DimUnknown {
			return nil, errors.Errorf("cannot distribute dynamic loop %d over %d threads", i, n)
		}
		tileSizes[i] = CeilDiv(ranges[i], n)
	}
	return tileSizes, nil
}

// NumThreadsForTileSizes returns, for each loop, the number of tiles of the given sizes needed to cover its
// range. A 0 tile size leaves the loop untiled (0 threads). Tile sizes larger than the range are clamped.
func NumThreadsForTileSizes(ranges, tileSizes []int) (numThreads, clamped []int, err error) {
	if len(tileSizes) > len(ranges) {
		return nil, nil, errors.Errorf("%d tile sizes given for %d loops", len(tileSizes), len(ranges))
	}
	numThreads = make([]int, len(ranges))
	clamped = make([]int, len(ranges))
	for i, size := range tileSizes {
		if size == 0 {
			continue
		}
		if size < 0 {
			return nil, nil, errors.Errorf("invalid tile size %d for loop %d", size, i)
		}
		if ranges[i] == shapes.DimUnknown {
			return nil, nil, errors.Errorf("cannot tile dynamic loop %d", i)
		}
		clamped[i] = min(size, ranges[i])
		numThreads[i] = CeilDiv(ranges[i], clamped[i])
	}
	return numThreads, clamped, nil
}

// TileExtent returns the static size of the tile of a loop of the given range, or shapes.DimUnknown when
// the tile size doesn't divide the range (the last tile is partial).
func TileExtent(loopRange, tileSize int) int {
	if tileSize == 0 {
		return loopRange
	}
	if loopRange%tileSize != 0 {
		return shapes.DimUnknown
	}
	return tileSize
}

// InsertDim returns dims with a new dimension of the given size inserted at position pos.
func InsertDim(dims []int, pos, size int) ([]int, error) {
	if pos < 0 || pos > len(dims) {
		return nil, errors.Errorf("cannot insert dimension at position %d of a rank %d shape", pos, len(dims))
	}
	return slices.Insert(slices.Clone(dims), pos, size), nil
}

// SplitDim splits dimension dim of size n into two dimensions (outer, inner) with outer*inner == n, where
// factor is the size of the inner (if innerFactor) or outer dimension. It returns the new dimensions and the
// reassociation that expands the original shape into them.
func SplitDim(dims []int, dim, factor int, innerFactor bool) (newDims []int, reassociation [][]int, err error) {
	if dim < 0 || dim >= len(dims) {
		return nil, nil, errors.Errorf("cannot split dimension %d of a rank %d shape", dim, len(dims))
	}
	size := dims[dim]
	if size == shapes.DimUnknown {
		return nil, nil, errors.Errorf("cannot split dynamic dimension %d", dim)
	}
	if factor <= 1 || size%factor != 0 {
		return nil, nil, errors.Errorf("split factor %d doesn't divide dimension %d of size %d", factor, dim, size)
	}
	outer, inner := size/factor, factor
	if !innerFactor {
		outer, inner = factor, size/factor
	}
	newDims = make([]int, 0, len(dims)+1)
	newDims = append(newDims, dims[:dim]...)
	newDims = append(newDims, outer, inner)
	newDims = append(newDims, dims[dim+1:]...)
	for i := range dims {
		switch {
		case i < dim:
			reassociation = append(reassociation, []int{i})
		case i == dim:
			reassociation = append(reassociation, []int{i, i + 1})
		default:
			reassociation = append(reassociation, []int{i + 1})
		}
	}
	return newDims, reassociation, nil
}

// ExpandDims returns the dims after expanding with reassociation, where each source dimension becomes the
// group of dimensions listed. groupSizes gives the static sizes of the expanded dimensions.
func ExpandDims(source []int, reassociation [][]int, groupSizes []int) ([]int, error) {
	if len(reassociation) != len(source) {
		return nil, errors.Errorf("reassociation has %d groups for a rank %d shape", len(reassociation), len(source))
	}
	for i, group := range reassociation {
		product := 1
		for _, d := range group {
			if d < 0 || d >= len(groupSizes) {
				return nil, errors.Errorf("reassociation refers to dimension %d out of %d", d, len(groupSizes))
			}
			product *= groupSizes[d]
		}
		if source[i] != shapes.DimUnknown && product != source[i] {
			return nil, errors.Errorf("expanded group %v of size %d doesn't match source dimension %d of size %d",
				group, product, i, source[i])
		}
	}
	return slices.Clone(groupSizes), nil
}

// IsPrefixIdentity returns whether the indexing map m (loop per operand dimension, -1 for unit dimensions)
// is increasing, so that an operand can be read without transposition.
func IsPrefixIdentity(m []int) bool {
	prev := -1
	for _, loop := range m {
		if loop < 0 {
			continue
		}
		if loop < prev {
			return false
		}
		prev = loop
	}
	return true
}

// Compatible returns whether two shapes have the same kind, dtype and rank, and their dimensions are equal
// wherever both are static.
func Compatible(a, b shapes.Shape) bool {
	if a.Kind != b.Kind || a.DType != b.DType || a.Rank() != b.Rank() {
		return false
	}
	for i, dim := range a.Dimensions {
		other := b.Dimensions[i]
		if dim != shapes.DimUnknown && other != shapes.DimUnknown && dim != other {
			return false
		}
	}
	return true
}

// Meet returns the most static shape compatible with both a and b: dynamic dimensions of one are
// refined by the static dimensions of the other.
func Meet(a, b shapes.Shape) (shapes.Shape, error) {
	if !Compatible(a, b) {
		return shapes.Shape{}, errors.Errorf("incompatible shapes %s and %s", a, b)
	}
	result := a.Clone()
	for i, dim := range result.Dimensions {
		if dim == shapes.DimUnknown {
			result.Dimensions[i] = b.Dimensions[i]
		}
	}
	return result, nil
}
