package shapeinference

import (
	"testing"

	"github.com/gomlx/go-xform/pkg/types/dtypes"
	"github.com/gomlx/go-xform/pkg/types/shapes"
)

// TestMeetWithDynamicDimensions verifies that Meet refines dynamic dimensions with static ones.
// Tiles with partial last iterations have dynamic sizes, and must still match the static tiles.
func TestMeetWithDynamicDimensions(t *testing.T) {
	tests := []struct {
		name        string
		a, b        shapes.Shape
		want        shapes.Shape
		shouldError bool
	}{
		{
			name: "static shapes (exact match)",
			a:    shapes.Make(dtypes.Float32, 1, 1, 1),
			b:    shapes.Make(dtypes.Float32, 1, 1, 1),
			want: shapes.Make(dtypes.Float32, 1, 1, 1),
		},
		{
			name: "dynamic refined by static",
			a:    shapes.Make(dtypes.Float32, shapes.DimUnknown, shapes.DimUnknown, shapes.DimUnknown),
			b:    shapes.Make(dtypes.Float32, 1, 1, 1),
			want: shapes.Make(dtypes.Float32, 1, 1, 1),
		},
		{
			name: "all dynamic dimensions",
			a:    shapes.Make(dtypes.Float32, shapes.DimUnknown, shapes.DimUnknown),
			b:    shapes.Make(dtypes.Float32, shapes.DimUnknown, shapes.DimUnknown),
			want: shapes.Make(dtypes.Float32, shapes.DimUnknown, shapes.DimUnknown),
		},
		{
			name: "mixed dynamic and static (compatible)",
			a:    shapes.Make(dtypes.Float32, shapes.DimUnknown, 5, shapes.DimUnknown),
			b:    shapes.Make(dtypes.Float32, 10, 5, 20),
			want: shapes.Make(dtypes.Float32, 10, 5, 20),
		},
		{
			name:        "incompatible static dimensions",
			a:           shapes.Make(dtypes.Float32, 1, 1, 1),
			b:           shapes.Make(dtypes.Float32, 2, 2, 2),
			shouldError: true,
		},
		{
			name:        "different ranks",
			a:           shapes.Make(dtypes.Float32, 1, 1),
			b:           shapes.Make(dtypes.Float32, 1, 1, 1),
			shouldError: true,
		},
		{
			name:        "different kinds",
			a:           shapes.Make(dtypes.Float32, 4),
			b:           shapes.MakeVector(dtypes.Float32, 4),
			shouldError: true,
		},
		{
			name:        "different dtypes",
			a:           shapes.Make(dtypes.Float32, 4),
			b:           shapes.Make(dtypes.Float16, 4),
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output, err := Meet(tt.a, tt.b)
			if tt.shouldError {
				if err == nil {
					t.Errorf("Expected error but got none, output: %v", output)
				}
				if Compatible(tt.a, tt.b) {
					t.Errorf("Compatible(%s, %s) should be false", tt.a, tt.b)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
			if !output.Equal(tt.want) {
				t.Errorf("Output shape %v does not match expected shape %v", output, tt.want)
			}
			if !Compatible(tt.b, tt.a) {
				t.Errorf("Compatible should be symmetric for %s and %s", tt.a, tt.b)
			}
		})
	}
}
