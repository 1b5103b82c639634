package strategies

import (
	"github.com/gomlx/go-xform/pkg/transform"
)

// ReductionSplitResult holds the handles of a split reduction. SplitLinalg and Combiner are always set;
// the other handles are nil when the corresponding op was not present.
type ReductionSplitResult struct {
	// LeadingEltwise is the elementwise op producing the input of the split reduction.
	LeadingEltwise *transform.Handle

	// SplitFill initializes the partial result of SplitLinalg.
	SplitFill *transform.Handle

	// SplitLinalg computes the partial result, with one more parallel dimension.
	SplitLinalg *transform.Handle

	// Combiner reduces the partial result.
	Combiner *transform.Handle

	// OriginalFill initializes the result of Combiner.
	OriginalFill *transform.Handle

	// TrailingEltwise is the elementwise op consuming the result of Combiner.
	TrailingEltwise *transform.Handle
}

// BuildSplitReduction splits the reduction ops of reduction according to opts.
//
// Without a leading elementwise op, the handles are the ones of the split statement. Otherwise the
// tensor.expand_shape the split creates on the reduced input is bubbled up above the leading op, which
// recreates it, and the handles are recovered by matching the ops of the function again: exactly 2
// linalg.fill, and 3 linalg.generic (leading, split, combiner) or 4 if hasTrailing (with the trailing op).
// Executing the script fails if the counts don't match, i.e. if hasLeading or hasTrailing are wrong.
func BuildSplitReduction(seq *transform.Sequence, variant, reduction *transform.Handle,
	opts transform.SplitReductionOptions, hasLeading, hasTrailing bool) (*ReductionSplitResult, error) {
	fill, split, combiner, err := seq.SplitReduction(reduction, opts)
	if err != nil {
		return nil, err
	}
	if !hasLeading {
		return &ReductionSplitResult{SplitFill: fill, SplitLinalg: split, Combiner: combiner}, nil
	}
	return buildBubbleExpand(seq, variant, hasTrailing)
}

func buildBubbleExpand(seq *transform.Sequence, variant *transform.Handle, hasTrailing bool) (*ReductionSplitResult, error) {
	fn, err := seq.Match(variant, "func.func")
	if err != nil {
		return nil, err
	}
	if err = seq.ApplyPatterns(fn, transform.PatternsConfig{BubbleExpand: true}); err != nil {
		return nil, err
	}
	fills, err := MatchAndUnpack(seq, fn, 2, "linalg.fill")
	if err != nil {
		return nil, err
	}
	res := &ReductionSplitResult{OriginalFill: fills[0], SplitFill: fills[1]}
	numGenerics := 3
	if hasTrailing {
		numGenerics = 4
	}
	generics, err := MatchAndUnpack(seq, fn, numGenerics, "linalg.generic")
	if err != nil {
		return nil, err
	}
	res.LeadingEltwise, res.SplitLinalg, res.Combiner = generics[0], generics[1], generics[2]
	if hasTrailing {
		res.TrailingEltwise = generics[3]
	}
	return res, nil
}
