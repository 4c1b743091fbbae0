// Package rasterize burns WKT polygons into uint32 label masks.
//
// Geometry coordinates are pixel coordinates: x runs along columns and y
// along rows, and cell (r, c) covers the unit square [c, c+1) x [r, r+1).
// A cell receives a geometry's id when the cell interior and the geometry
// interior overlap with positive area, so every touched cell is labelled
// while edges lying exactly on cell borders do not spill into neighbours.
// Geometry i (0-based) is painted with id i+1 and later geometries
// overwrite earlier ones.
package rasterize

import (
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
)

var (
	ErrInvalidRasterShape   = errors.New("invalid raster shape")
	ErrEmptyGeometry        = errors.New("empty geometry")
	ErrNonPolygonalGeometry = errors.New("non-polygonal geometry")
	ErrInvalidGeometry      = errors.New("invalid WKT geometry")
)

type edge struct {
	x0, y0, x1, y1 float64
}

// shape is one polygon of a geometry, flattened to its ring edges.
type shape struct {
	edges []edge
	bound orb.Bound
}

// Rasterizer holds parsed geometries ready to be rendered window by window.
type Rasterizer struct {
	geoms [][]shape
	bound orb.Bound
}

// ParseGeometry parses one WKT string and checks it is a non-empty
// Polygon or MultiPolygon.
func ParseGeometry(text string) (orb.Geometry, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(text))
	if trimmed == "" || strings.HasSuffix(trimmed, "EMPTY") {
		return nil, ErrEmptyGeometry
	}
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidGeometry, err.Error())
	}
	switch geom := g.(type) {
	case orb.Polygon:
		if isEmptyPolygon(geom) {
			return nil, ErrEmptyGeometry
		}
	case orb.MultiPolygon:
		empty := true
		for _, p := range geom {
			empty = empty && isEmptyPolygon(p)
		}
		if empty {
			return nil, ErrEmptyGeometry
		}
	case nil:
		return nil, ErrEmptyGeometry
	default:
		if isEmptyGeometry(g) {
			return nil, ErrEmptyGeometry
		}
		return nil, errors.Wrapf(ErrNonPolygonalGeometry, "got %s", g.GeoJSONType())
	}
	return g, nil
}

func isEmptyPolygon(p orb.Polygon) bool {
	for _, ring := range p {
		if len(ring) > 0 {
			return false
		}
	}
	return true
}

func isEmptyGeometry(g orb.Geometry) bool {
	switch geom := g.(type) {
	case orb.MultiPoint:
		return len(geom) == 0
	case orb.LineString:
		return len(geom) == 0
	case orb.MultiLineString:
		return len(geom) == 0
	case orb.Collection:
		return len(geom) == 0
	}
	return false
}

// Prepare parses every geometry. Errors name the 1-based geometry index.
func Prepare(wkts []string) (*Rasterizer, error) {
	r := &Rasterizer{geoms: make([][]shape, 0, len(wkts))}
	first := true
	for i, text := range wkts {
		g, err := ParseGeometry(text)
		if err != nil {
			return nil, errors.Wrapf(err, "geometry %d", i+1)
		}
		var polys orb.MultiPolygon
		switch geom := g.(type) {
		case orb.Polygon:
			polys = orb.MultiPolygon{geom}
		case orb.MultiPolygon:
			polys = geom
		}
		shapes := make([]shape, 0, len(polys))
		for _, p := range polys {
			if isEmptyPolygon(p) {
				continue
			}
			s := shape{bound: p.Bound()}
			for _, ring := range p {
				for k := 0; k+1 < len(ring); k++ {
					a, b := ring[k], ring[k+1]
					s.edges = append(s.edges, edge{a[0], a[1], b[0], b[1]})
				}
				if n := len(ring); n > 1 && ring[0] != ring[n-1] {
					a, b := ring[n-1], ring[0]
					s.edges = append(s.edges, edge{a[0], a[1], b[0], b[1]})
				}
			}
			shapes = append(shapes, s)
			if first {
				r.bound = s.bound
				first = false
			} else {
				r.bound = r.bound.Union(s.bound)
			}
		}
		r.geoms = append(r.geoms, shapes)
	}
	if uint64(len(r.geoms)) > math.MaxUint32 {
		return nil, errors.Newf("%d geometries exceed the uint32 id range", len(r.geoms))
	}
	return r, nil
}

// Len returns the number of geometries, which is also the largest id.
func (r *Rasterizer) Len() int { return len(r.geoms) }

// Bound returns the union bounding box of all geometries.
func (r *Rasterizer) Bound() orb.Bound { return r.bound }

// Window renders the rows x cols window of a height x width mask.
func (r *Rasterizer) Window(height, width int, rows, cols array.Range) (*array.Block, error) {
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(ErrInvalidRasterShape, "shape (%d, %d)", height, width)
	}
	if err := array.CheckWindow([]int{height, width}, []array.Range{rows, cols}); err != nil {
		return nil, err
	}
	out := array.NewBlock(array.Uint32, []int{rows.Len(), cols.Len()})
	if out.Len() == 0 {
		return out, nil
	}
	hit := make([]bool, cols.Len())
	for gi, shapes := range r.geoms {
		id := uint32(gi + 1)
		for _, s := range shapes {
			if s.bound.Max[0] <= float64(cols.Start) || s.bound.Min[0] >= float64(cols.Stop) {
				continue
			}
			r0 := clampIndex(math.Floor(s.bound.Min[1]), rows.Start, rows.Stop)
			r1 := clampIndex(math.Ceil(s.bound.Max[1]), rows.Start, rows.Stop)
			for y := r0; y < r1; y++ {
				clear(hit)
				if !s.coverRow(y, cols, hit) {
					continue
				}
				base := (y - rows.Start) * cols.Len()
				for c, ok := range hit {
					if ok {
						out.SetUint32(base+c, id)
					}
				}
			}
		}
	}
	return out, nil
}

// coverRow marks the cells of row y inside cols whose interior overlaps
// the polygon interior. It reports whether any cell was marked.
func (s *shape) coverRow(y int, cols array.Range, hit []bool) bool {
	marked := false
	mark := func(xa, xb float64) {
		lo := clampIndex(math.Floor(xa), cols.Start, cols.Stop)
		hi := clampIndex(math.Ceil(xb), cols.Start, cols.Stop)
		for c := lo; c < hi; c++ {
			hit[c-cols.Start] = true
			marked = true
		}
	}

	top, bottom := float64(y), float64(y+1)

	// interior crossing the row's centre line
	yc := top + 0.5
	var xs []float64
	for _, e := range s.edges {
		if (e.y0 > yc) != (e.y1 > yc) {
			xs = append(xs, e.x0+(yc-e.y0)*(e.x1-e.x0)/(e.y1-e.y0))
		}
	}
	sort.Float64s(xs)
	for i := 0; i+1 < len(xs); i += 2 {
		if xs[i+1] > xs[i] {
			mark(xs[i], xs[i+1])
		}
	}

	// boundary passing through cell interiors
	for _, e := range s.edges {
		if e.y0 == e.y1 {
			if e.y0 > top && e.y0 < bottom && e.x0 != e.x1 {
				mark(math.Min(e.x0, e.x1), math.Max(e.x0, e.x1))
			}
			continue
		}
		lo := math.Max(math.Min(e.y0, e.y1), top)
		hi := math.Min(math.Max(e.y0, e.y1), bottom)
		if lo >= hi {
			continue
		}
		xa := e.x0 + (lo-e.y0)*(e.x1-e.x0)/(e.y1-e.y0)
		xb := e.x0 + (hi-e.y0)*(e.x1-e.x0)/(e.y1-e.y0)
		if xa > xb {
			xa, xb = xb, xa
		}
		if xa == xb && xa == math.Floor(xa) {
			// vertical edge on a column border
			continue
		}
		mark(xa, xb)
	}
	return marked
}

// Rasterize renders the full height x width mask of wkts.
func Rasterize(wkts []string, height, width int) (*array.Block, error) {
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(ErrInvalidRasterShape, "shape (%d, %d)", height, width)
	}
	r, err := Prepare(wkts)
	if err != nil {
		return nil, err
	}
	return r.Window(height, width, array.Range{Start: 0, Stop: height}, array.Range{Start: 0, Stop: width})
}

func clampIndex(v float64, lo, hi int) int {
	if v <= float64(lo) {
		return lo
	}
	if v >= float64(hi) {
		return hi
	}
	return int(v)
}
