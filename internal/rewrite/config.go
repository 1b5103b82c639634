// Package rewrite implements the greedy pattern driver used by transform scripts, its pattern sets, and the
// vector-level transformations (vectorization, mask lowering, hoisting and buffer optimizations).
package rewrite

import "strings"

// Config selects the pattern sets to apply. Each field is independently togglable.
type Config struct {
	BubbleExpand                  bool
	Canonicalization              bool
	CSE                           bool
	FoldMemrefAliases             bool
	FoldReassociativeReshapes     bool
	FoldVectorTransferTensorSlice bool
	LICM                          bool
	LowerTransferOpPermutations   bool
	RankReducingLinalg            bool
	RankReducingVector            bool
	TilingCanonicalization        bool
}

// WithCleanupDefaults returns a copy of the configuration with canonicalization, CSE, LICM and tiling
// canonicalization enabled.
func (c Config) WithCleanupDefaults() Config {
	c.Canonicalization = true
	c.CSE = true
	c.LICM = true
	c.TilingCanonicalization = true
	return c
}

// IsEmpty returns whether no pattern set is enabled.
func (c Config) IsEmpty() bool {
	return c == Config{}
}

// Names returns the names of the enabled pattern sets, in the order they are printed.
func (c Config) Names() []string {
	var names []string
	for _, entry := range c.entries() {
		if *entry.flag {
			names = append(names, entry.name)
		}
	}
	return names
}

// Set enables the pattern set with the given name. It returns false if the name is unknown.
func (c *Config) Set(name string) bool {
	for _, entry := range c.entries() {
		if entry.name == name {
			*entry.flag = true
			return true
		}
	}
	return false
}

// String implements fmt.Stringer.
func (c Config) String() string {
	return "{" + strings.Join(c.Names(), ", ") + "}"
}

type configEntry struct {
	name string
	flag *bool
}

func (c *Config) entries() []configEntry {
	return []configEntry{
		{"bubble_expand", &c.BubbleExpand},
		{"canonicalization", &c.Canonicalization},
		{"cse", &c.CSE},
		{"fold_memref_aliases", &c.FoldMemrefAliases},
		{"fold_reassociative_reshapes", &c.FoldReassociativeReshapes},
		{"fold_vector_transfer_tensor_slice", &c.FoldVectorTransferTensorSlice},
		{"licm", &c.LICM},
		{"lower_transfer_op_permutations", &c.LowerTransferOpPermutations},
		{"rank_reducing_linalg", &c.RankReducingLinalg},
		{"rank_reducing_vector", &c.RankReducingVector},
		{"tiling_canonicalization", &c.TilingCanonicalization},
	}
}

// patterns returns the op patterns enabled by the configuration.
func (c Config) patterns() []Pattern {
	var patterns []Pattern
	if c.Canonicalization {
		patterns = append(patterns, canonicalizationPatterns...)
	}
	if c.TilingCanonicalization {
		patterns = append(patterns, tilingCanonicalizationPatterns...)
	}
	if c.BubbleExpand {
		patterns = append(patterns, bubbleExpandPattern)
	}
	if c.FoldReassociativeReshapes {
		patterns = append(patterns, reassociativeReshapePatterns...)
	}
	if c.FoldVectorTransferTensorSlice {
		patterns = append(patterns, transferTensorSlicePatterns...)
	}
	if c.FoldMemrefAliases {
		patterns = append(patterns, memrefAliasPatterns...)
	}
	if c.LowerTransferOpPermutations {
		patterns = append(patterns, transferPermutationPatterns...)
	}
	if c.RankReducingVector {
		patterns = append(patterns, rankReducingVectorPatterns...)
	}
	if c.RankReducingLinalg {
		patterns = append(patterns, rankReducingLinalgPattern)
	}
	return patterns
}
