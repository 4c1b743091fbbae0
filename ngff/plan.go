package ngff

import (
	"context"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/spatial"
	"github.com/jameshyojaelee/omnispatial/store/core"
	"github.com/jameshyojaelee/omnispatial/table"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// PlannedArray describes one array a write would create.
type PlannedArray struct {
	Kind   string `json:"kind"`
	Layer  string `json:"layer"`
	Path   string `json:"path"`
	Shape  []int  `json:"shape"`
	Chunks []int  `json:"chunks,omitempty"`
	DType  string `json:"dtype"`
	// NumChunks is the number of chunk objects the array will hold.
	NumChunks int `json:"num_chunks"`
}

// Plan is the outcome of DryRun.
type Plan struct {
	Format     string         `json:"format"`
	Compressor string         `json:"compressor"`
	Level      int            `json:"level"`
	Arrays     []PlannedArray `json:"arrays"`
}

// DryRun resolves shapes and chunk layouts for ds without writing. Image
// sources are opened for their headers only; tables are scanned for their
// row counts.
func DryRun(ctx context.Context, ds *spatial.Dataset, opts Options) (Plan, error) {
	if err := opts.Validate(); err != nil {
		return Plan{}, err
	}
	codec, err := zarr.NewCodec(opts.Compressor, opts.CompressionLevel)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{Format: opts.Format, Compressor: codec.Name()}
	if cfg := codec.Config(); cfg != nil {
		p.Level = cfg.Level
	}
	w := &Writer{opts: opts}

	shapes := map[string][2]int{}
	for _, layer := range ds.Images() {
		src, err := OpenRaster(ctx, layer)
		if err != nil {
			return Plan{}, errors.Wrapf(err, "image layer %q", layer.Name)
		}
		shape, dtype := src.Shape(), src.DType()
		src.Close()
		if len(shape) == 2 {
			shape = []int{1, shape[0], shape[1]}
		}
		if len(shape) != 3 {
			return Plan{}, errors.Newf("image layer %q: raster has %d dimensions", layer.Name, len(shape))
		}
		shapes[layer.Name] = [2]int{shape[1], shape[2]}
		levels := w.pyramidLevels(len(layer.Multiscale) - 1)
		p.Arrays = append(p.Arrays, plannedLevels(kindImage, layer.Name, core.Join(ImagesGroup, layer.Name),
			shape, dtype, opts.ImageChunkShape, ImageMinChunk, opts.target(), levels)...)
	}

	if labels := ds.Labels(); len(labels) > 0 {
		ref, _, ok := referenceShape(shapes)
		if !ok {
			return Plan{}, errors.Wrapf(ErrMissingReferenceShape, "label layer %q", labels[0].Name)
		}
		for _, layer := range labels {
			p.Arrays = append(p.Arrays, plannedLevels(kindLabel, layer.Name, core.Join(LabelsGroup, layer.Name),
				ref[:], array.Uint32, opts.LabelChunkShape, LabelMinChunk, opts.target(), w.pyramidLevels(0))...)
		}
	}

	for _, layer := range ds.Tables() {
		if layer.MatrixPath == "" {
			return Plan{}, errors.Wrapf(ErrMissingFeatureMatrix, "table layer %q", layer.Name)
		}
		scan, err := table.ScanFile(layer.MatrixPath)
		if err != nil {
			return Plan{}, errors.Wrapf(err, "table layer %q", layer.Name)
		}
		p.Arrays = append(p.Arrays, PlannedArray{
			Kind:  kindTable,
			Layer: layer.Name,
			Path:  core.Join(TablesGroup, layer.Name, "X"),
			Shape: []int{scan.Rows, len(scan.Header) - 1},
			DType: array.Float64.String(),
		})
	}
	return p, nil
}

func plannedLevels(kind, name, group string, shape []int, dtype array.DType, requested []int,
	minChunk, target, levels int) []PlannedArray {
	out := make([]PlannedArray, 0, levels+1)
	shape = append([]int(nil), shape...)
	for k := 0; k <= levels; k++ {
		chunks := ResolveChunks(shape, requested, dtype.Size(), minChunk, target)
		pa := PlannedArray{
			Kind:   kind,
			Layer:  name,
			Path:   core.Join(group, levelPath(k)),
			Shape:  append([]int(nil), shape...),
			Chunks: chunks,
			DType:  dtype.String(),
		}
		if g, err := array.NewGrid(shape, chunks); err == nil {
			pa.NumChunks = g.Len()
		}
		out = append(out, pa)
		n := len(shape)
		shape[n-2] = (shape[n-2] + 1) / 2
		shape[n-1] = (shape[n-1] + 1) / 2
	}
	return out
}
