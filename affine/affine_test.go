package affine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/errors"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rows    [][]float64
		wantErr bool
	}{
		{name: "identity", rows: Identity().Rows()},
		{name: "bottom row within tolerance", rows: [][]float64{{2, 0, 1}, {0, 2, 1}, {1e-12, 0, 1 + 1e-12}}},
		{name: "projective bottom row", rows: [][]float64{{1, 0, 0}, {0, 1, 0}, {0.5, 0, 1}}, wantErr: true},
		{name: "too few rows", rows: [][]float64{{1, 0, 0}, {0, 1, 0}}, wantErr: true},
		{name: "short row", rows: [][]float64{{1, 0}, {0, 1, 0}, {0, 0, 1}}, wantErr: true},
		{name: "bottom row scaled", rows: [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 2}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.rows)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidTransform))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestNewRejectsProjective(t *testing.T) {
	_, err := New(Matrix{{1, 0, 0}, {0, 1, 0}, {0, 1, 1}}, "micrometer", "a", "b")
	assert.True(t, errors.Is(err, ErrInvalidTransform))
}

func TestComposeProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	random := func() Matrix {
		return Matrix{
			{rng.Float64()*4 - 2, rng.Float64()*4 - 2, rng.Float64() * 100},
			{rng.Float64()*4 - 2, rng.Float64()*4 - 2, rng.Float64() * 100},
			{0, 0, 1},
		}
	}

	for i := 0; i < 50; i++ {
		a := Must(random(), "micrometer", "local", "global")
		b := Must(random(), "micrometer", "pixel", "local")

		c, err := Compose(a, b)
		require.NoError(t, err)
		assert.Equal(t, "pixel", c.Source)
		assert.Equal(t, "global", c.Target)
		assert.Equal(t, "micrometer", c.Units)

		want := a.Matrix.Mul(b.Matrix)
		for r := 0; r < 3; r++ {
			for col := 0; col < 3; col++ {
				assert.InDelta(t, want[r][col], c.Matrix[r][col], 1e-12)
			}
		}
		require.NoError(t, c.Validate())
	}
}

func TestComposeAppliesRightOperandFirst(t *testing.T) {
	scale := Must(ScaleTranslate(2, 2, 0, 0), "micrometer", "local", "global")
	shift := Must(ScaleTranslate(1, 1, 10, 5), "micrometer", "pixel", "local")

	c, err := scale.Compose(shift)
	require.NoError(t, err)

	x, y := c.Apply(1, 1)
	assert.Equal(t, 22.0, x)
	assert.Equal(t, 12.0, y)
}

func TestComposeRejectsDifferentUnits(t *testing.T) {
	a := IdentityTransform("micrometer", "local", "global")
	b := IdentityTransform("nanometer", "pixel", "local")

	_, err := Compose(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleFrames))
}

func TestComposeRejectsFrameMismatch(t *testing.T) {
	a := IdentityTransform("micrometer", "local", "global")
	b := IdentityTransform("micrometer", "pixel", "other")

	_, err := Compose(a, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompatibleFrames))
}

func TestComposeLeavesOperandsUntouched(t *testing.T) {
	a := Must(ScaleTranslate(3, 3, 1, 1), "micrometer", "local", "global")
	b := Must(ScaleTranslate(2, 2, 0, 0), "micrometer", "pixel", "local")
	aCopy, bCopy := a, b

	_, err := Compose(a, b)
	require.NoError(t, err)
	assert.Equal(t, aCopy, a)
	assert.Equal(t, bCopy, b)
}

func TestScaleTranslation(t *testing.T) {
	tr := Must(ScaleTranslate(0.5, 0.25, 10, 20), "micrometer", "pixel", "global")
	scale, translation := tr.ScaleTranslation()
	assert.Equal(t, []float64{1, 0.25, 0.5}, scale)
	assert.Equal(t, []float64{0, 20, 10}, translation)
}
