package rasterize

import (
	"fmt"
	"math"
	"testing"

	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
)

func maskRows(b *array.Block) [][]uint32 {
	h, w := b.Shape[0], b.Shape[1]
	out := make([][]uint32, h)
	for r := 0; r < h; r++ {
		out[r] = make([]uint32, w)
		for c := 0; c < w; c++ {
			out[r][c] = b.Uint32At(r*w + c)
		}
	}
	return out
}

func distinct(b *array.Block) map[uint32]int {
	seen := map[uint32]int{}
	for i := 0; i < b.Len(); i++ {
		seen[b.Uint32At(i)]++
	}
	return seen
}

func TestSquareOnGridLines(t *testing.T) {
	mask, err := Rasterize([]string{"POLYGON((1 1,4 1,4 4,1 4,1 1))"}, 6, 6)
	require.NoError(t, err)
	assert.Equal(t, array.Uint32, mask.DType)
	assert.Equal(t, []int{6, 6}, mask.Shape)
	assert.Equal(t, [][]uint32{
		{0, 0, 0, 0, 0, 0},
		{0, 1, 1, 1, 0, 0},
		{0, 1, 1, 1, 0, 0},
		{0, 1, 1, 1, 0, 0},
		{0, 0, 0, 0, 0, 0},
		{0, 0, 0, 0, 0, 0},
	}, maskRows(mask))
}

func TestAllTouchedIncludesPartialCells(t *testing.T) {
	// a thin diagonal sliver touches cells its centre line never crosses
	mask, err := Rasterize([]string{"POLYGON((0.2 0.2,3.8 0.4,3.8 0.6,0.2 0.3,0.2 0.2))"}, 2, 4)
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{
		{1, 1, 1, 1},
		{0, 0, 0, 0},
	}, maskRows(mask))

	mask, err = Rasterize([]string{"POLYGON((1.5 1.5,2.5 1.5,2.5 2.5,1.5 2.5,1.5 1.5))"}, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{
		{0, 0, 0, 0},
		{0, 1, 1, 0},
		{0, 1, 1, 0},
		{0, 0, 0, 0},
	}, maskRows(mask))
}

func TestEmptyListYieldsZeroMask(t *testing.T) {
	mask, err := Rasterize(nil, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, mask.Shape)
	assert.Equal(t, map[uint32]int{0: 15}, distinct(mask))
}

func TestLaterGeometriesOverwrite(t *testing.T) {
	mask, err := Rasterize([]string{
		"POLYGON((0 0,4 0,4 4,0 4,0 0))",
		"POLYGON((2 0,4 0,4 2,2 2,2 0))",
	}, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{
		{1, 1, 2, 2},
		{1, 1, 2, 2},
		{1, 1, 1, 1},
		{1, 1, 1, 1},
	}, maskRows(mask))
}

func TestDisjointGeometriesYieldDistinctIDs(t *testing.T) {
	for n := 1; n <= 12; n++ {
		wkts := make([]string, n)
		for i := range wkts {
			x := float64(3 * i)
			wkts[i] = fmt.Sprintf("POLYGON((%g 1,%g 1,%g 2.5,%g 2.5,%g 1))", x+0.25, x+1.75, x+1.75, x+0.25, x+0.25)
		}
		mask, err := Rasterize(wkts, 4, 3*n+1)
		require.NoError(t, err)
		assert.Len(t, distinct(mask), n+1, "n=%d", n)
	}
}

func TestMultiPolygonAndHoles(t *testing.T) {
	mask, err := Rasterize([]string{
		"MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)),((3 3,4 3,4 4,3 4,3 3)))",
	}, 4, 4)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), mask.Uint32At(0))
	assert.Equal(t, uint32(1), mask.Uint32At(15))
	assert.Equal(t, map[uint32]int{0: 14, 1: 2}, distinct(mask))

	// the hole's open interior covers cell (2,2) entirely
	mask, err = Rasterize([]string{
		"POLYGON((0 0,5 0,5 5,0 5,0 0),(2 2,3 2,3 3,2 3,2 2))",
	}, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), mask.Uint32At(2*5+2))
	assert.Equal(t, map[uint32]int{0: 1, 1: 24}, distinct(mask))
}

func TestAreaWithinDiscretizationError(t *testing.T) {
	cases := []string{
		"POLYGON((0.5 0.5,9.3 1.2,4.1 8.7,0.5 0.5))",
		"POLYGON((2 2,18 2,18 12,2 12,2 2))",
		"POLYGON((3.3 1.1,15.7 4.2,12.2 17.9,1.4 9.6,3.3 1.1))",
	}
	for _, text := range cases {
		g, err := wkt.Unmarshal(text)
		require.NoError(t, err)
		area := math.Abs(planar.Area(g))
		perimeter := planar.Length(g)

		mask, err := Rasterize([]string{text}, 20, 20)
		require.NoError(t, err)
		covered := float64(distinct(mask)[1])
		assert.GreaterOrEqual(t, covered, area-1e-9, text)
		assert.LessOrEqual(t, covered-area, 2*perimeter+4, text)
	}
}

func TestWindowMatchesFullMask(t *testing.T) {
	wkts := []string{
		"POLYGON((0.5 0.5,9.3 1.2,4.1 8.7,0.5 0.5))",
		"POLYGON((5 5,11 5,11 11,5 11,5 5))",
	}
	full, err := Rasterize(wkts, 12, 13)
	require.NoError(t, err)

	r, err := Prepare(wkts)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	grid, err := array.NewGrid([]int{12, 13}, []int{5, 4})
	require.NoError(t, err)
	src := array.NewMemory(full)
	require.NoError(t, grid.Each(func(_ []int, window []array.Range) error {
		got, err := r.Window(12, 13, window[0], window[1])
		if err != nil {
			return err
		}
		want, err := src.ReadWindow(t.Context(), window)
		if err != nil {
			return err
		}
		assert.Equal(t, want.Data, got.Data, "window %v", window)
		return nil
	}))
}

func TestGeometriesOutsideMaskAreClipped(t *testing.T) {
	mask, err := Rasterize([]string{
		"POLYGON((-5 -5,2 -5,2 2,-5 2,-5 -5))",
		"POLYGON((100 100,101 100,101 101,100 101,100 100))",
	}, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, [][]uint32{
		{1, 1, 0},
		{1, 1, 0},
		{0, 0, 0},
	}, maskRows(mask))
}

func TestRasterizeErrors(t *testing.T) {
	_, err := Rasterize([]string{"POLYGON((0 0,1 0,1 1,0 0))"}, 0, 4)
	assert.True(t, errors.Is(err, ErrInvalidRasterShape))
	_, err = Rasterize(nil, 4, -1)
	assert.True(t, errors.Is(err, ErrInvalidRasterShape))

	_, err = Rasterize([]string{"POLYGON((0 0,1 0,1 1,0 0))", "POLYGON EMPTY"}, 4, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyGeometry))
	assert.Contains(t, err.Error(), "geometry 2")

	_, err = Rasterize([]string{"POINT(1 1)"}, 4, 4)
	assert.True(t, errors.Is(err, ErrNonPolygonalGeometry))
	assert.Contains(t, err.Error(), "geometry 1")

	_, err = Rasterize([]string{"LINESTRING(0 0,1 1)"}, 4, 4)
	assert.True(t, errors.Is(err, ErrNonPolygonalGeometry))

	_, err = Rasterize([]string{"POLYGON((0 0,1 0"}, 4, 4)
	assert.True(t, errors.Is(err, ErrInvalidGeometry))

	r, err := Prepare(nil)
	require.NoError(t, err)
	_, err = r.Window(4, 4, array.Range{Start: 0, Stop: 5}, array.Range{Start: 0, Stop: 4})
	assert.True(t, errors.Is(err, array.ErrWindowOutOfBounds))
}
