// Package spatial holds the canonical dataset model every adapter produces
// and the bundle writer consumes: coordinate frames, image, label and table
// layers, and provenance. A Dataset is validated once by New and is
// read-only afterwards.
package spatial

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"

	"github.com/jameshyojaelee/omnispatial/affine"
	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
)

// DefaultGlobalFrame is the conventional name of the dataset-wide frame.
const DefaultGlobalFrame = "global"

// CoordinateFrame is a named coordinate system.
type CoordinateFrame struct {
	Name        string    `json:"name"`
	Axes        [3]string `json:"axes"`
	Units       [3]string `json:"units"`
	Description string    `json:"description,omitempty"`
}

// Level describes one resolution level of an image pyramid.
type Level struct {
	Path       string `json:"path"`
	Downsample int    `json:"downsample"`
}

// ImageLayer references a raster either by Path (a .npy file or zarr
// array) or by an open Array. Exactly one of the two is set.
type ImageLayer struct {
	Name         string
	Frame        string
	Path         string
	Array        array.Source
	PixelSize    [3]float64
	Units        string
	ChannelNames []string
	Multiscale   []Level
	Transform    affine.Transform
}

// LabelLayer holds segmentation geometries as WKT.
type LabelLayer struct {
	Name       string
	Frame      string
	CRS        string
	Geometries []string
	Properties map[string]any
	Transform  affine.Transform
}

// TableLayer references an external feature matrix.
type TableLayer struct {
	Name              string
	Frame             string
	Transform         affine.Transform
	MatrixPath        string
	ObsColumns        []string
	VarColumns        []string
	CoordinateColumns [2]string
	Summary           map[string]any
}

// SummaryObsCount is the summary key holding the observation count.
const SummaryObsCount = "obs_count"

// ObsCount returns the observation count recorded in the summary.
func (t TableLayer) ObsCount() (int, bool) {
	switch v := t.Summary[SummaryObsCount].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// Provenance records which adapter and inputs produced a dataset.
type Provenance struct {
	Adapter     string         `json:"adapter"`
	Version     string         `json:"version"`
	CreatedAt   time.Time      `json:"created_at"`
	SourceFiles []string       `json:"source_files"`
	Extra       map[string]any `json:"extra"`
}

// NewProvenance stamps the current UTC time and normalizes the source files
// to a sorted set of absolute paths.
func NewProvenance(adapter, version string, sources []string, extra map[string]any) (*Provenance, error) {
	files, err := NormalizeSourceFiles(sources)
	if err != nil {
		return nil, err
	}
	if extra == nil {
		extra = map[string]any{}
	}
	return &Provenance{
		Adapter:     adapter,
		Version:     version,
		CreatedAt:   time.Now().UTC(),
		SourceFiles: files,
		Extra:       extra,
	}, nil
}

// NormalizeSourceFiles returns the sorted, de-duplicated absolute paths.
func NormalizeSourceFiles(paths []string) ([]string, error) {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve source file %s", p)
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	sort.Strings(out)
	return out, nil
}

// GeometriesToWKT serializes polygonal geometries to WKT.
func GeometriesToWKT(geoms []orb.Geometry) ([]string, error) {
	out := make([]string, 0, len(geoms))
	for i, g := range geoms {
		switch g.(type) {
		case orb.Polygon, orb.MultiPolygon:
			out = append(out, wkt.MarshalString(g))
		default:
			return nil, errors.Wrapf(ErrInvalidLayer, "geometry %d is %T, want polygon or multipolygon", i+1, g)
		}
	}
	return out, nil
}
