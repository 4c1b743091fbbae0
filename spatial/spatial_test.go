package spatial

import (
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/affine"
	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
)

func frame(name string) CoordinateFrame {
	return CoordinateFrame{Name: name, Axes: [3]string{"x", "y", "z"}, Units: [3]string{"micrometer", "micrometer", "micrometer"}}
}

func testSpec(t *testing.T) Spec {
	t.Helper()
	prov, err := NewProvenance("manifest", "0.4.0", []string{"b.npy", "a.csv", "b.npy"}, nil)
	require.NoError(t, err)
	toGlobal := affine.IdentityTransform("micrometer", "pixel", "global")
	return Spec{
		Frames:      []CoordinateFrame{frame("global"), frame("pixel")},
		GlobalFrame: "global",
		Images: []ImageLayer{{
			Name: "dapi", Frame: "pixel", Array: array.NewMemory(array.NewBlock(array.Uint16, []int{1, 4, 4})),
			PixelSize: [3]float64{1, 1, 1}, Units: "micrometer", ChannelNames: []string{"DAPI"}, Transform: toGlobal,
		}},
		Labels: []LabelLayer{{
			Name: "cells", Frame: "pixel", CRS: "pixel",
			Geometries: []string{"POLYGON((0 0,1 0,1 1,0 1,0 0))"}, Transform: toGlobal,
		}},
		Tables: []TableLayer{{
			Name: "cells", Frame: "pixel", MatrixPath: "a.csv", CoordinateColumns: [2]string{"x", "y"},
			Summary: map[string]any{SummaryObsCount: 2}, Transform: toGlobal,
		}},
		Provenance: prov,
	}
}

func TestNewDataset(t *testing.T) {
	ds, err := New(testSpec(t))
	require.NoError(t, err)

	assert.Equal(t, []string{"global", "pixel"}, ds.FrameNames())
	assert.Equal(t, "global", ds.GlobalFrame())
	f, ok := ds.Frame("pixel")
	require.True(t, ok)
	assert.Equal(t, "pixel", f.Name)

	img, ok := ds.Image("dapi")
	require.True(t, ok)
	assert.Equal(t, []string{"DAPI"}, img.ChannelNames)
	_, ok = ds.Image("missing")
	assert.False(t, ok)

	tbl, ok := ds.Table("cells")
	require.True(t, ok)
	n, ok := tbl.ObsCount()
	require.True(t, ok)
	assert.Equal(t, 2, n)
	_, ok = ds.Label("cells")
	assert.True(t, ok)
}

func TestAccessorsReturnCopies(t *testing.T) {
	ds, err := New(testSpec(t))
	require.NoError(t, err)
	images := ds.Images()
	images[0].Name = "mutated"
	assert.Equal(t, "dapi", ds.Images()[0].Name)
	names := ds.FrameNames()
	names[0] = "mutated"
	assert.Equal(t, "global", ds.FrameNames()[0])
}

func TestNewDetachesFromSpec(t *testing.T) {
	spec := testSpec(t)
	spec.Labels[0].Properties = map[string]any{"source": "cellpose"}
	spec.Tables[0].ObsColumns = []string{"cell_id"}
	ds, err := New(spec)
	require.NoError(t, err)

	spec.Images[0].ChannelNames[0] = "mutated"
	spec.Labels[0].Geometries[0] = "POINT(0 0)"
	spec.Labels[0].Properties["source"] = "mutated"
	spec.Tables[0].ObsColumns[0] = "mutated"
	spec.Tables[0].Summary[SummaryObsCount] = 99
	spec.Provenance.SourceFiles[0] = "mutated"

	img, _ := ds.Image("dapi")
	assert.Equal(t, []string{"DAPI"}, img.ChannelNames)
	lbl, _ := ds.Label("cells")
	assert.Equal(t, "POLYGON((0 0,1 0,1 1,0 1,0 0))", lbl.Geometries[0])
	assert.Equal(t, "cellpose", lbl.Properties["source"])
	tbl, _ := ds.Table("cells")
	assert.Equal(t, []string{"cell_id"}, tbl.ObsColumns)
	n, _ := tbl.ObsCount()
	assert.Equal(t, 2, n)
	assert.NotContains(t, ds.Provenance().SourceFiles, "mutated")

	// accessor results are detached too
	ds.Labels()[0].Geometries[0] = "mutated"
	ds.Tables()[0].Summary[SummaryObsCount] = 7
	lbl, _ = ds.Label("cells")
	assert.Equal(t, "POLYGON((0 0,1 0,1 1,0 1,0 0))", lbl.Geometries[0])
	n, _ = ds.Tables()[0].ObsCount()
	assert.Equal(t, 2, n)
}

func TestNewNormalizesLiteralProvenance(t *testing.T) {
	spec := testSpec(t)
	spec.Provenance = &Provenance{Adapter: "test", SourceFiles: []string{"z.csv", "a.npy", "./z.csv"}}
	ds, err := New(spec)
	require.NoError(t, err)

	a, err := filepath.Abs("a.npy")
	require.NoError(t, err)
	z, err := filepath.Abs("z.csv")
	require.NoError(t, err)
	assert.Equal(t, []string{a, z}, ds.Provenance().SourceFiles)
	assert.Equal(t, []string{"z.csv", "a.npy", "./z.csv"}, spec.Provenance.SourceFiles, "caller's slice untouched")
}

func TestReferentialIntegrityListsEveryMissingFrame(t *testing.T) {
	spec := testSpec(t)
	spec.GlobalFrame = "world"
	spec.Labels[0].Frame = "stage"
	spec.Tables[0].Transform = affine.IdentityTransform("micrometer", "pixel", "aligned")

	_, err := New(spec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReferentialIntegrity))
	var rie *ReferentialIntegrityError
	require.True(t, errors.As(err, &rie))
	assert.Equal(t, []string{"aligned", "stage", "world"}, rie.Missing)
	assert.Contains(t, err.Error(), "aligned, stage, world")
}

func TestMissingProvenance(t *testing.T) {
	spec := testSpec(t)
	spec.Provenance = nil
	_, err := New(spec)
	assert.True(t, errors.Is(err, ErrMissingProvenance))
}

func TestImageSourceIsExclusive(t *testing.T) {
	spec := testSpec(t)
	spec.Images[0].Path = "image.npy"
	_, err := New(spec)
	assert.True(t, errors.Is(err, ErrInvalidLayer))

	spec = testSpec(t)
	spec.Images[0].Array = nil
	_, err = New(spec)
	assert.True(t, errors.Is(err, ErrInvalidLayer))
}

func TestLayerValidation(t *testing.T) {
	spec := testSpec(t)
	spec.Images = append(spec.Images, spec.Images[0])
	_, err := New(spec)
	assert.True(t, errors.Is(err, ErrInvalidLayer), "duplicate image names")

	spec = testSpec(t)
	spec.Frames = append(spec.Frames, frame("pixel"))
	_, err = New(spec)
	assert.True(t, errors.Is(err, ErrInvalidLayer), "duplicate frames")

	spec = testSpec(t)
	spec.Labels[0].Geometries = []string{"POLYGON((0 0,"}
	_, err = New(spec)
	assert.True(t, errors.Is(err, ErrInvalidLayer), "bad WKT")

	spec = testSpec(t)
	spec.Images[0].Transform.Matrix[2][0] = 0.5
	_, err = New(spec)
	assert.True(t, errors.Is(err, affine.ErrInvalidTransform))
}

func TestGlobalFrameDefault(t *testing.T) {
	spec := testSpec(t)
	spec.GlobalFrame = ""
	ds, err := New(spec)
	require.NoError(t, err)
	assert.Equal(t, DefaultGlobalFrame, ds.GlobalFrame())
}

func TestProvenanceNormalizesSources(t *testing.T) {
	prov, err := NewProvenance("manifest", "0.4.0", []string{"b.npy", "a.csv", "./b.npy"}, map[string]any{"run": 1})
	require.NoError(t, err)
	a, err := filepath.Abs("a.csv")
	require.NoError(t, err)
	b, err := filepath.Abs("b.npy")
	require.NoError(t, err)
	assert.Equal(t, []string{a, b}, prov.SourceFiles)
	assert.False(t, prov.CreatedAt.IsZero())
	assert.Equal(t, "UTC", prov.CreatedAt.Location().String())
}

func TestGeometriesToWKT(t *testing.T) {
	square := orb.Polygon{{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}}
	out, err := GeometriesToWKT([]orb.Geometry{square, orb.MultiPolygon{square}})
	require.NoError(t, err)
	assert.Equal(t, "POLYGON((0 0,1 0,1 1,0 1,0 0))", out[0])
	assert.Equal(t, "MULTIPOLYGON(((0 0,1 0,1 1,0 1,0 0)))", out[1])

	_, err = GeometriesToWKT([]orb.Geometry{orb.Point{1, 2}})
	assert.True(t, errors.Is(err, ErrInvalidLayer))
}

func TestObsCountVariants(t *testing.T) {
	for _, v := range []any{3, int64(3), 3.0} {
		n, ok := TableLayer{Summary: map[string]any{SummaryObsCount: v}}.ObsCount()
		assert.True(t, ok)
		assert.Equal(t, 3, n)
	}
	_, ok := TableLayer{}.ObsCount()
	assert.False(t, ok)
}
