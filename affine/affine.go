// Package affine represents 2-D affine maps between named coordinate frames
// as 3x3 homogeneous matrices.
package affine

import (
	"math"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// Tolerance is the absolute tolerance applied to the homogeneous bottom row.
const Tolerance = 1e-9

var (
	// ErrInvalidTransform is returned when a matrix is not a 3x3 affine
	// matrix with bottom row [0, 0, 1].
	ErrInvalidTransform = errors.New("invalid affine transform")

	// ErrIncompatibleFrames is returned when two transforms cannot be chained.
	ErrIncompatibleFrames = errors.New("incompatible frames")
)

// Matrix is a row-major 3x3 homogeneous matrix.
type Matrix [3][3]float64

// Identity returns the identity matrix.
func Identity() Matrix {
	return Matrix{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

// ScaleTranslate builds the matrix x' = sx*x + tx, y' = sy*y + ty.
func ScaleTranslate(sx, sy, tx, ty float64) Matrix {
	return Matrix{{sx, 0, tx}, {0, sy, ty}, {0, 0, 1}}
}

// Mul returns m · o.
func (m Matrix) Mul(o Matrix) Matrix {
	var out Matrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += m[i][k] * o[k][j]
			}
			out[i][j] = sum
		}
	}
	return out
}

// Rows returns the matrix as nested slices, the shape used in JSON documents.
func (m Matrix) Rows() [][]float64 {
	rows := make([][]float64, 3)
	for i := range m {
		rows[i] = []float64{m[i][0], m[i][1], m[i][2]}
	}
	return rows
}

// Validate checks that rows form a 3x3 matrix whose bottom row is [0, 0, 1]
// within Tolerance, and returns it as a Matrix.
func Validate(rows [][]float64) (Matrix, error) {
	var m Matrix
	if len(rows) != 3 {
		return m, errors.Wrapf(ErrInvalidTransform, "expected 3 rows, got %d", len(rows))
	}
	for i, row := range rows {
		if len(row) != 3 {
			return m, errors.Wrapf(ErrInvalidTransform, "row %d has %d columns, expected 3", i, len(row))
		}
		for j, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return m, errors.Wrapf(ErrInvalidTransform, "entry (%d,%d) is not finite", i, j)
			}
			m[i][j] = v
		}
	}
	if err := m.check(); err != nil {
		return Matrix{}, err
	}
	return m, nil
}

func (m Matrix) check() error {
	bottom := [3]float64{0, 0, 1}
	for j := 0; j < 3; j++ {
		if math.Abs(m[2][j]-bottom[j]) > Tolerance {
			return errors.Wrapf(ErrInvalidTransform, "bottom row must be [0, 0, 1], got %v", m[2])
		}
	}
	return nil
}

// Transform maps coordinates from the Source frame to the Target frame.
// Transforms are values; Compose never modifies its operands.
type Transform struct {
	Matrix Matrix
	Units  string
	Source string
	Target string
}

// New validates matrix and returns a Transform.
func New(matrix Matrix, units, source, target string) (Transform, error) {
	if err := matrix.check(); err != nil {
		return Transform{}, err
	}
	return Transform{Matrix: matrix, Units: units, Source: source, Target: target}, nil
}

// Must is like New but panics on an invalid matrix. Intended for literals.
func Must(matrix Matrix, units, source, target string) Transform {
	t, err := New(matrix, units, source, target)
	if err != nil {
		panic(err)
	}
	return t
}

// IdentityTransform returns the identity map between two frames.
func IdentityTransform(units, source, target string) Transform {
	return Transform{Matrix: Identity(), Units: units, Source: source, Target: target}
}

// Validate re-checks the homogeneous invariant. Useful for transforms
// assembled as struct literals rather than through New.
func (t Transform) Validate() error {
	return t.Matrix.check()
}

// Compose returns the transform applying b first and then a: it maps
// b.Source to a.Target with matrix a·b. b.Target must equal a.Source and
// both transforms must share units.
func Compose(a, b Transform) (Transform, error) {
	if b.Target != a.Source {
		return Transform{}, errors.Wrapf(ErrIncompatibleFrames,
			"cannot compose: %q target does not match %q source", b.Target, a.Source)
	}
	if a.Units != b.Units {
		return Transform{}, errors.Wrapf(ErrIncompatibleFrames,
			"cannot compose transforms with units %q and %q", a.Units, b.Units)
	}
	return Transform{
		Matrix: a.Matrix.Mul(b.Matrix),
		Units:  a.Units,
		Source: b.Source,
		Target: a.Target,
	}, nil
}

// Compose chains other before t. See Compose.
func (t Transform) Compose(other Transform) (Transform, error) {
	return Compose(t, other)
}

// Apply maps the point (x, y).
func (t Transform) Apply(x, y float64) (float64, float64) {
	m := t.Matrix
	return m[0][0]*x + m[0][1]*y + m[0][2], m[1][0]*x + m[1][1]*y + m[1][2]
}

// ScaleTranslation derives NGFF-style vectors for (c, y, x) axes: the scale
// is the diagonal with 1 prepended for the channel axis and the translation
// is the translation column with 0 prepended.
func (t Transform) ScaleTranslation() (scale, translation []float64) {
	m := t.Matrix
	scale = []float64{1.0, m[1][1], m[0][0]}
	translation = []float64{0.0, m[1][2], m[0][2]}
	return scale, translation
}
