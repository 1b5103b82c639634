package matchers

import (
	"testing"

	"github.com/gomlx/go-xform/pkg/payload"
	"github.com/gomlx/go-xform/pkg/payload/payloadtest"
	"github.com/gomlx/go-xform/pkg/transform"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduction(t *testing.T) {
	for _, tc := range []struct {
		name              string
		leading, trailing string
	}{
		{"ReductionOnly", "", ""},
		{"Leading", "exp", ""},
		{"Trailing", "", "sqrt"},
		{"LeadingAndTrailing", "exp", "sqrt"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			opts := payloadtest.DefaultReductionOptions()
			opts.Leading, opts.Trailing = tc.leading, tc.trailing
			k := must.M1(payloadtest.Reduction(opts))
			matched, err := Reduction(k.Graph.Root())
			require.NoError(t, err)
			require.Len(t, matched, 4)
			if k.Leading != nil {
				assert.Equal(t, []*payload.Op{k.Leading}, matched[0])
			} else {
				assert.Empty(t, matched[0])
			}
			assert.Equal(t, []*payload.Op{k.Fill}, matched[1])
			assert.Equal(t, []*payload.Op{k.Reduction}, matched[2])
			if k.Trailing != nil {
				assert.Equal(t, []*payload.Op{k.Trailing}, matched[3])
			} else {
				assert.Empty(t, matched[3])
			}
		})
	}
}

func TestCaptureReduction(t *testing.T) {
	opts := payloadtest.DefaultReductionOptions()
	opts.Trailing = "sqrt"
	k := must.M1(payloadtest.Reduction(opts))
	captures, err := CaptureReduction(k.Func)
	require.NoError(t, err)
	assert.Equal(t, 2, captures.Rank)
	assert.Equal(t, []int{8, 1024}, captures.Sizes)
	assert.Equal(t, 1024, captures.ReductionSize())
	assert.Equal(t, opts.DType, captures.DType)
	assert.False(t, captures.HasLeading)
	assert.True(t, captures.HasTrailing)
}

func TestReductionNoMatch(t *testing.T) {
	k := payloadtest.Copy2D("cuda", payloadtest.DefaultReductionOptions().DType, 4, 8, false)
	_, err := Reduction(k.Graph.Root())
	require.Error(t, err)
	_, err = CaptureReduction(k.Graph.Root())
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	registry := transform.NewRegistry()
	Register(registry)
	assert.Equal(t, []string{ReductionCallbackName}, registry.Names())
}
