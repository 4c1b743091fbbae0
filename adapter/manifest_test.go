package adapter

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/affine"
	"github.com/jameshyojaelee/omnispatial/errors"
)

const manifestTOML = `
name = "two-squares"
global_frame = "global"

[[frames]]
name = "global"
units = ["micrometer"]

[[frames]]
name = "pixels"

[[images]]
name = "dapi"
frame = "pixels"
path = "dapi.npy"
pixel_size = [0.5, 0.5, 1.0]
units = "micrometer"
channels = ["DAPI"]

[images.transform]
matrix = [[0.5, 0.0, 10.0], [0.0, 0.5, 20.0], [0.0, 0.0, 1.0]]

[[labels]]
name = "cells"
frame = "pixels"
geometries = ["POLYGON ((0 0, 4 0, 4 4, 0 4, 0 0))"]
geometries_file = "cells.wkt"

[labels.properties]
segmentation = "cellpose"

[[tables]]
name = "counts"
frame = "pixels"
path = "cells.csv"
coordinate_columns = ["x", "y"]

[extra]
operator = "lab-7"
`

const manifestYAML = `
name: two-squares
frames:
  - name: global
    units: [micrometer]
images:
  - name: dapi
    path: dapi.npy
labels:
  - name: cells
    geometries_file: cells.wkt
tables:
  - name: counts
    path: cells.csv
`

const manifestJSONC = `{
  // global frame is synthesized
  "name": "two-squares",
  "images": [{"name": "dapi", "path": "dapi.npy", "channels": ["DAPI"]}],
  "labels": [{"name": "cells", "geometries_file": "cells.wkt"}],
  "tables": [{"name": "counts", "path": "cells.csv"}], /* trailing */
}`

const cellsWKT = `# cellpose output
POLYGON ((4 4, 8 4, 8 8, 4 8, 4 4))

POLYGON ((10 10, 12 10, 12 12, 10 12, 10 10))
`

const cellsCSV = `cell_id,x,y,CD3
c1,1,1,0.5
c2,5,5,1.5
c3,11,11,0
`

func manifestDir(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	for file, body := range map[string]string{
		name:        content,
		"cells.wkt": cellsWKT,
		"cells.csv": cellsCSV,
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(body), 0o644))
	}
	return dir
}

func TestManifestReadTOML(t *testing.T) {
	dir := manifestDir(t, "spatial-manifest.toml", manifestTOML)
	m := NewManifest()
	require.True(t, m.Detect(dir))

	ds, err := m.Read(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"global", "pixels"}, ds.FrameNames())
	global, ok := ds.Frame("global")
	require.True(t, ok)
	assert.Equal(t, [3]string{"micrometer", "micrometer", "micrometer"}, global.Units)

	img, ok := ds.Image("dapi")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(dir, "dapi.npy"), img.Path)
	assert.Equal(t, [3]float64{0.5, 0.5, 1}, img.PixelSize)
	assert.Equal(t, []string{"DAPI"}, img.ChannelNames)
	assert.Equal(t, affine.ScaleTranslate(0.5, 0.5, 10, 20), img.Transform.Matrix)
	assert.Equal(t, "micrometer", img.Transform.Units)
	assert.Equal(t, "pixels", img.Transform.Source)
	assert.Equal(t, "global", img.Transform.Target)

	lbl, ok := ds.Label("cells")
	require.True(t, ok)
	assert.Len(t, lbl.Geometries, 3, "inline geometries come first, then the file")
	assert.Equal(t, "cellpose", lbl.Properties["segmentation"])
	assert.Equal(t, "pixel", lbl.Transform.Units)

	tbl, ok := ds.Table("counts")
	require.True(t, ok)
	n, ok := tbl.ObsCount()
	require.True(t, ok)
	assert.Equal(t, 3, n)
	assert.Equal(t, [2]string{"x", "y"}, tbl.CoordinateColumns)

	prov := ds.Provenance()
	assert.Equal(t, ManifestName, prov.Adapter)
	assert.Equal(t, "lab-7", prov.Extra["operator"])
	assert.Equal(t, "two-squares", prov.Extra["name"])
	assert.Contains(t, prov.SourceFiles, filepath.Join(dir, "cells.csv"))
	assert.Contains(t, prov.SourceFiles, filepath.Join(dir, "spatial-manifest.toml"))
}

func TestManifestFormats(t *testing.T) {
	tests := []struct {
		file    string
		content string
	}{
		{"spatial-manifest.yaml", manifestYAML},
		{"spatial-manifest.yml", manifestYAML},
		{"spatial-manifest.jsonc", manifestJSONC},
	}
	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			dir := manifestDir(t, tt.file, tt.content)
			// the manifest file itself is also accepted
			path := filepath.Join(dir, tt.file)
			m := NewManifest()
			require.True(t, m.Detect(path))

			ds, err := m.Read(context.Background(), path)
			require.NoError(t, err)
			assert.Equal(t, "global", ds.GlobalFrame())
			assert.Len(t, ds.Images(), 1)
			lbl, ok := ds.Label("cells")
			require.True(t, ok)
			assert.Len(t, lbl.Geometries, 2)
			assert.Equal(t, "global", lbl.Frame)
		})
	}
}

func TestManifestDetect(t *testing.T) {
	m := NewManifest()
	dir := t.TempDir()
	assert.False(t, m.Detect(dir))
	assert.False(t, m.Detect(filepath.Join(dir, "missing")))

	other := filepath.Join(dir, "notes.toml")
	require.NoError(t, os.WriteFile(other, []byte("x = 1"), 0o644))
	assert.False(t, m.Detect(other))
}

func TestManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"syntax", "images = [", ErrInvalidManifest},
		{"bad matrix", `
[[images]]
name = "dapi"
path = "dapi.npy"
[images.transform]
matrix = [[1.0, 0.0, 0.0], [0.0, 1.0, 0.0], [1.0, 0.0, 1.0]]
`, affine.ErrInvalidTransform},
		{"bad coordinate columns", `
[[tables]]
name = "counts"
path = "cells.csv"
coordinate_columns = ["x"]
`, ErrInvalidManifest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := manifestDir(t, "spatial-manifest.toml", tt.content)
			_, err := NewManifest().Read(context.Background(), dir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestManifestMissingGeometriesFile(t *testing.T) {
	dir := manifestDir(t, "spatial-manifest.yaml", `
labels:
  - name: cells
    geometries_file: nowhere.wkt
`)
	_, err := NewManifest().Read(context.Background(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nowhere.wkt")
}

func TestRegistryResolvesManifest(t *testing.T) {
	dir := manifestDir(t, "spatial-manifest.json", `{"images": [{"name": "dapi", "path": "dapi.npy"}]}`)
	r, err := NewDefaultRegistry("0.4.0", nil, nil)
	require.NoError(t, err)

	ds, md, err := r.Read(context.Background(), dir, "")
	require.NoError(t, err)
	assert.Equal(t, ManifestName, md.Name)
	assert.Len(t, ds.Images(), 1)
}
