package optypes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStatementName(t *testing.T) {
	seen := make(map[string]OpType)
	for op := Invalid + 1; op < Last; op++ {
		name := op.ToStatementName()
		require.True(t, strings.HasPrefix(name, "transform."), "%s has no statement name", op)
		if previous, found := seen[name]; found {
			t.Fatalf("%s and %s share the statement name %q", previous, op, name)
		}
		seen[name] = op
	}
	assert.Equal(t, "transform.invalid_Invalid", Invalid.ToStatementName())
	assert.Equal(t, "transform.merge_handles", MergeHandles.ToStatementName())

	op, err := OpTypeString("TakeFirst")
	require.NoError(t, err)
	assert.Equal(t, TakeFirst, op)
}
