// Package transform implements transform scripts: sequences of statements that match operations of a
// payload program and rewrite them (tiling, fusion, distribution, vectorization, bufferization).
//
// A script is built with a Builder, whose main Sequence receives a handle to the executable variant. Each
// statement consumes handles, sets of payload operations, and produces new handles. A script is a static,
// printable program: it is built without looking at the payload, and executed afterwards by an Interpreter.
//
// Example:
//
//	b := transform.New("tile_reduction")
//	seq := b.Main(transform.Propagate)
//	reduction := must.M1(seq.Match(seq.Arg(), "linalg.generic"))
//	forall, _ := must.M2(seq.TileToForall(reduction, transform.TileSizes(32), nil))
//	...
//	fmt.Println(string(must.M1(b.Build())))
//	_, err := transform.NewInterpreter(registry).Execute(seq, graph)
package transform

import (
	"bytes"
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/go-xform/internal/rewrite"
	"github.com/gomlx/go-xform/internal/utils"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PatternsConfig selects the pattern sets applied by ApplyPatterns. Each field is independently togglable.
type PatternsConfig = rewrite.Config

// FailureMode of a sequence: how failures of its statements are handled.
type FailureMode int

const (
	// Propagate aborts the sequence at the first failure. Changes of the statements already executed are
	// kept.
	Propagate FailureMode = iota

	// Suppress logs silenceable failures, binds the results of the failed statement to empty handles and
	// continues. Definite failures still abort the sequence.
	Suppress
)

// String implements fmt.Stringer.
func (m FailureMode) String() string {
	if m == Suppress {
		return "suppress"
	}
	return "propagate"
}

// Builder of a transform script.
type Builder struct {
	name string
	main *Sequence

	// nextHandleID is used to name the handles created by statements.
	nextHandleID int
}

// New creates a new Builder for a script with the given name.
func New(name string) *Builder {
	return &Builder{name: utils.NormalizeIdentifier(name)}
}

// Name of the script.
func (b *Builder) Name() string {
	return b.name
}

// Main returns the main sequence of the script, creating it with the given failure mode on the first call.
// Its single argument is the handle to the executable variant.
func (b *Builder) Main(mode FailureMode) *Sequence {
	if b.main == nil {
		b.main = &Sequence{Builder: b, Mode: mode}
		b.main.arg = &Handle{seq: b.main, name: "arg0"}
	}
	return b.main
}

// Build returns the textual form of the script.
func (b *Builder) Build() ([]byte, error) {
	if b.main == nil {
		return nil, errors.Errorf("transform script %q has no main sequence", b.name)
	}
	var buf bytes.Buffer
	if err := b.main.Write(&buf, ""); err != nil {
		return nil, errors.WithMessagef(err, "writing transform script %q", b.name)
	}
	return buf.Bytes(), nil
}

// newHandle creates a new handle produced by stmt.
func (b *Builder) newHandle(seq *Sequence) *Handle {
	h := &Handle{seq: seq, name: fmt.Sprintf("%d", b.nextHandleID)}
	b.nextHandleID++
	return h
}

// Sequence is an ordered list of statements executed under a failure mode.
type Sequence struct {
	Builder    *Builder
	Mode       FailureMode
	Statements []*Statement

	arg *Handle
}

// Arg returns the handle to the executable variant the sequence is applied to.
func (s *Sequence) Arg() *Handle {
	return s.arg
}

// CreateTransformRegion creates a script named name whose main sequence, in Propagate mode, is filled by
// buildFn with the variant handle. The built script is logged at verbosity level 1.
func CreateTransformRegion(name string, buildFn func(seq *Sequence, variant *Handle) error) (*Builder, error) {
	b := New(name)
	seq := b.Main(Propagate)
	if err := buildFn(seq, seq.Arg()); err != nil {
		return nil, errors.WithMessagef(err, "building transform script %q", name)
	}
	if klog.V(1).Enabled() {
		script, err := b.Build()
		if err != nil {
			return nil, err
		}
		klog.Infof("transform script %q:\n%s", name, script)
	}
	return b, nil
}

// TilingKind tells how the values of a TilingSpec are interpreted.
type TilingKind int

const (
	// ByTileSize values are per-loop tile sizes.
	ByTileSize TilingKind = iota

	// ByWorkerCount values are per-loop numbers of workers (threads or workgroups).
	ByWorkerCount
)

// TilingSpec selects how a loop nest is tiled: by tile sizes or by number of workers, with one value per
// leading loop. A 0 value leaves the loop untiled.
type TilingSpec struct {
	Kind   TilingKind
	Values []int
}

// TileSizes returns a TilingSpec by tile sizes.
func TileSizes(sizes ...int) TilingSpec {
	return TilingSpec{Kind: ByTileSize, Values: slices.Clone(sizes)}
}

// WorkerCounts returns a TilingSpec by number of workers.
func WorkerCounts(counts ...int) TilingSpec {
	return TilingSpec{Kind: ByWorkerCount, Values: slices.Clone(counts)}
}

// attrName is the attribute name under which the values are printed.
func (t TilingSpec) attrName() string {
	if t.Kind == ByWorkerCount {
		return AttrNumThreads
	}
	return AttrTileSizes
}

// String implements fmt.Stringer.
func (t TilingSpec) String() string {
	values := make([]string, len(t.Values))
	for i, v := range t.Values {
		values[i] = fmt.Sprint(v)
	}
	return t.attrName() + " [" + strings.Join(values, ", ") + "]"
}
