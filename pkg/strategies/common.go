// Package strategies builds transform scripts that schedule the compilation of reductions: the building
// blocks (cleanups, tiling and fusion, reduction splitting, distribution, vectorization, bufferization)
// and the complete GPU and CPU reduction strategies composed from them.
//
// Builders only append statements to a transform.Sequence: they return the handles the statements will
// bind once the script is executed by a transform.Interpreter. Nothing is applied to a payload program at
// build time, so a strategy can be printed (or exported) before it runs.
package strategies

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/go-xform/internal/matchers"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/pkg/errors"
)

// MaxDivisorSearchLimit is the largest limit MaxDivisorOfValueBelowLimit accepts.
const MaxDivisorSearchLimit = 1024

// PreviousMultipleOf returns the largest multiple of multiple that is smaller or equal to value.
// It panics if value or multiple are not positive.
func PreviousMultipleOf(value, multiple int) int {
	if value <= 0 || multiple <= 0 {
		exceptions.Panicf("PreviousMultipleOf(%d, %d): both arguments must be positive", value, multiple)
	}
	return (value / multiple) * multiple
}

// NextMultipleOf returns the smallest multiple of multiple that is larger or equal to value.
// It panics if value or multiple are not positive.
func NextMultipleOf(value, multiple int) int {
	if value <= 0 || multiple <= 0 {
		exceptions.Panicf("NextMultipleOf(%d, %d): both arguments must be positive", value, multiple)
	}
	return ((value + multiple - 1) / multiple) * multiple
}

// MaxDivisorOfValueBelowLimit returns the largest divisor of value in [2, min(value, limit)].
//
// It fails if there is none, and always fails if limit is larger than MaxDivisorSearchLimit. Callers fall
// back to a choice that doesn't need the divisor.
func MaxDivisorOfValueBelowLimit(value, limit int) (int, error) {
	if limit > MaxDivisorSearchLimit {
		return 0, errors.Errorf("divisor search limit %d is larger than %d", limit, MaxDivisorSearchLimit)
	}
	for d := min(value, limit); d >= 2; d-- {
		if value%d == 0 {
			return d, nil
		}
	}
	return 0, errors.Errorf("no divisor of %d in [2, %d]", value, limit)
}

// DefaultRegistry returns a registry with the match callbacks the strategies of this package use.
func DefaultRegistry() *transform.Registry {
	registry := transform.NewRegistry()
	matchers.Register(registry)
	return registry
}

// BuildCanonicalizationAndEnablingTransforms applies to target the patterns of config, plus
// canonicalization, CSE, loop-invariant code motion and the tiling canonicalization patterns. It returns
// target, which the cleanup doesn't invalidate.
func BuildCanonicalizationAndEnablingTransforms(seq *transform.Sequence, config transform.PatternsConfig,
	target *transform.Handle) (*transform.Handle, error) {
	if err := seq.ApplyPatterns(target, config.WithCleanupDefaults()); err != nil {
		return nil, err
	}
	return target, nil
}

// BuildPrint prints the ops of each handle, or the whole program if no handle is given.
func BuildPrint(seq *transform.Sequence, handles ...*transform.Handle) error {
	if len(handles) == 0 {
		return seq.Print(nil, "")
	}
	for _, h := range handles {
		if err := seq.Print(h, ""); err != nil {
			return err
		}
	}
	return nil
}

// MatchAndUnpack matches the ops named opName nested in target and splits the result into n handles of
// one op each. Executing the script fails if the number of matched ops is not exactly n.
func MatchAndUnpack(seq *transform.Sequence, target *transform.Handle, n int, opName string) ([]*transform.Handle, error) {
	matched, err := seq.Match(target, opName)
	if err != nil {
		return nil, err
	}
	return seq.SplitHandle(matched, n)
}

// UnpackRegisteredMatchCallback registers the match callbacks and calls the one named name on targets,
// returning its n handles.
func UnpackRegisteredMatchCallback(seq *transform.Sequence, name string, mode transform.FailureMode, n int,
	targets ...*transform.Handle) ([]*transform.Handle, error) {
	if err := seq.RegisterMatchCallbacks(); err != nil {
		return nil, err
	}
	return seq.MatchCallback(mode, name, n, targets...)
}
