package ngff

import (
	"context"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/logger"
	"github.com/jameshyojaelee/omnispatial/metrics"
	"github.com/jameshyojaelee/omnispatial/rasterize"
	"github.com/jameshyojaelee/omnispatial/spatial"
	"github.com/jameshyojaelee/omnispatial/store"
	"github.com/jameshyojaelee/omnispatial/store/core"
	"github.com/jameshyojaelee/omnispatial/table"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// Top-level groups of a bundle.
const (
	ImagesGroup = "images"
	LabelsGroup = "labels"
	TablesGroup = "tables"
)

// Layer kinds used in logs and metrics.
const (
	kindImage = "image"
	kindLabel = "label"
	kindTable = "table"
)

func levelPath(k int) string { return strconv.Itoa(k) }

// Writer serializes datasets into one store.
type Writer struct {
	st      core.Store
	opts    Options
	codec   zarr.Codec
	log     *zap.SugaredLogger
	metrics *metrics.Recorder
}

// NewWriter validates opts and binds a writer to st. log and rec may be nil.
func NewWriter(st core.Store, opts Options, log *zap.SugaredLogger, rec *metrics.Recorder) (*Writer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.Format = strings.ToLower(opts.Format)
	codec, err := zarr.NewCodec(opts.Compressor, opts.CompressionLevel)
	if err != nil {
		return nil, err
	}
	return &Writer{
		st:      st,
		opts:    opts,
		codec:   codec,
		log:     logger.OrNop(log).With(logger.FieldComponent, "ngff"),
		metrics: rec,
	}, nil
}

// Write opens destination, recreating it, and writes ds into it. It
// returns the destination unchanged so callers can chain it.
func Write(ctx context.Context, ds *spatial.Dataset, destination string, opts Options) (string, error) {
	if err := opts.Validate(); err != nil {
		return "", err
	}
	storeOpts := opts.Store
	storeOpts.Create = true
	st, err := store.Open(ctx, destination, storeOpts)
	if err != nil {
		return "", errors.Wrapf(err, "open destination %s", destination)
	}
	w, err := NewWriter(st, opts, logger.Logger, nil)
	if err != nil {
		return "", err
	}
	if err := w.Write(ctx, ds); err != nil {
		return "", err
	}
	return destination, nil
}

// Write replaces the store contents with ds. Layers are written in
// dataset order: images, then labels, then tables.
func (w *Writer) Write(ctx context.Context, ds *spatial.Dataset) error {
	start := time.Now()
	if err := core.Reset(ctx, w.st); err != nil {
		return errors.Wrap(err, "recreate destination")
	}

	prov := ds.Provenance()
	if prov.Extra == nil {
		prov.Extra = map[string]any{}
	}
	if prov.SourceFiles == nil {
		prov.SourceFiles = []string{}
	}
	rootAttrs := map[string]any{ProvenanceAttr: prov}
	if w.opts.Format == FormatSpatialData {
		rootAttrs[SpatialDataAttr] = map[string]any{
			"version":      "0.1",
			"global_frame": ds.GlobalFrame(),
			"frames":       ds.Frames(),
		}
	}
	if err := zarr.CreateGroup(ctx, w.st, "", rootAttrs); err != nil {
		return errors.Wrap(err, "write root group")
	}
	for _, g := range []string{ImagesGroup, LabelsGroup, TablesGroup} {
		if err := zarr.CreateGroup(ctx, w.st, g, nil); err != nil {
			return errors.Wrapf(err, "create %s group", g)
		}
	}

	shapes := map[string][2]int{}
	for _, layer := range ds.Images() {
		shape, err := w.writeImage(ctx, layer, axisUnits(ds, layer.Frame, layer.Units))
		if err != nil {
			return errors.Wrapf(err, "image layer %q", layer.Name)
		}
		shapes[layer.Name] = shape
	}

	labels := ds.Labels()
	if len(labels) > 0 {
		ref, refName, ok := referenceShape(shapes)
		if !ok {
			return errors.Wrapf(ErrMissingReferenceShape, "label layer %q", labels[0].Name)
		}
		w.log.Debugw("label reference shape", "image", refName, logger.FieldShape, ref)
		for _, layer := range labels {
			if err := w.writeLabel(ctx, layer, ref, axisUnits(ds, layer.Frame, layer.Transform.Units)); err != nil {
				return errors.Wrapf(err, "label layer %q", layer.Name)
			}
		}
	}

	for _, layer := range ds.Tables() {
		if err := w.writeTable(ctx, ds, layer, shapes); err != nil {
			return errors.Wrapf(err, "table layer %q", layer.Name)
		}
	}

	elapsed := time.Since(start)
	w.metrics.ObserveWrite(elapsed)
	w.log.Infow("bundle written",
		logger.FieldFormat, w.opts.Format,
		"images", len(shapes),
		"labels", len(labels),
		"tables", len(ds.Tables()),
		logger.FieldDurationMS, elapsed.Milliseconds())
	return nil
}

// referenceShape picks the spatial shape of the image whose name sorts
// first, the same image the validator compares labels against.
func referenceShape(shapes map[string][2]int) ([2]int, string, bool) {
	if len(shapes) == 0 {
		return [2]int{}, "", false
	}
	names := make([]string, 0, len(shapes))
	for name := range shapes {
		names = append(names, name)
	}
	slices.Sort(names)
	return shapes[names[0]], names[0], true
}

// axisUnits returns the unit written on spatial axes: the layer's own,
// else the first unit of its frame, else "pixel".
func axisUnits(ds *spatial.Dataset, frame, units string) string {
	if units != "" {
		return units
	}
	if f, ok := ds.Frame(frame); ok && f.Units[0] != "" {
		return f.Units[0]
	}
	return "pixel"
}

func (w *Writer) writeImage(ctx context.Context, layer spatial.ImageLayer, units string) ([2]int, error) {
	src, err := OpenRaster(ctx, layer)
	if err != nil {
		return [2]int{}, err
	}
	defer src.Close()

	shape := src.Shape()
	expand := false
	switch len(shape) {
	case 2:
		shape = []int{1, shape[0], shape[1]}
		expand = true
	case 3:
	default:
		return [2]int{}, errors.Newf("raster has %d dimensions, expected 2 (y, x) or 3 (c, y, x)", len(shape))
	}
	dtype := src.DType()

	group := core.Join(ImagesGroup, layer.Name)
	if err := zarr.CreateGroup(ctx, w.st, group, nil); err != nil {
		return [2]int{}, err
	}
	arr, err := w.createLevel(ctx, kindImage, core.Join(group, levelPath(0)), shape, dtype,
		w.opts.ImageChunkShape, ImageMinChunk, ImageFallbackChunk)
	if err != nil {
		return [2]int{}, err
	}

	err = arr.Grid().Each(func(index []int, window []array.Range) error {
		read := window
		if expand {
			read = window[1:]
		}
		blk, err := src.ReadWindow(ctx, read)
		if err != nil {
			return errors.Wrapf(err, "read window %v", read)
		}
		if expand {
			blk = blk.ExpandLeading()
		}
		return w.writeChunk(ctx, kindImage, arr, index, blk)
	})
	if err != nil {
		return [2]int{}, err
	}

	levels := w.pyramidLevels(len(layer.Multiscale) - 1)
	if err := w.writePyramid(ctx, kindImage, group, arr, levels, w.opts.ImageChunkShape, ImageMinChunk); err != nil {
		return [2]int{}, err
	}

	attrs := map[string]any{
		MultiscalesAttr: []Multiscale{{
			Name:     layer.Name,
			Version:  Version,
			Axes:     imageAxes(units),
			Datasets: levelDatasets(layer.Transform, levels, false),
		}},
		LayerAttr: map[string]any{
			"frame":      layer.Frame,
			"pixel_size": layer.PixelSize,
		},
	}
	if channels := channelNames(layer.ChannelNames, shape[0]); len(channels) > 0 {
		attrs[OmeroAttr] = Omero{Channels: channels}
	}
	if err := zarr.WriteAttrs(ctx, w.st, group, attrs); err != nil {
		return [2]int{}, err
	}
	w.log.Infow("image written",
		logger.FieldLayer, layer.Name,
		logger.FieldShape, shape,
		logger.FieldChunks, arr.Chunks(),
		logger.FieldDType, dtype.String(),
		"levels", levels+1)
	return [2]int{shape[1], shape[2]}, nil
}

// channelNames labels every channel, falling back to "c<i>" where no name
// was supplied.
func channelNames(names []string, n int) []OmeroChannel {
	if len(names) == 0 {
		return nil
	}
	out := make([]OmeroChannel, n)
	for i := range out {
		label := "c" + strconv.Itoa(i)
		if i < len(names) && names[i] != "" {
			label = names[i]
		}
		out[i] = OmeroChannel{Label: label, Active: true}
	}
	return out
}

func (w *Writer) writeLabel(ctx context.Context, layer spatial.LabelLayer, ref [2]int, units string) error {
	r, err := rasterize.Prepare(layer.Geometries)
	if err != nil {
		return err
	}
	height, width := ref[0], ref[1]
	shape := []int{height, width}

	group := core.Join(LabelsGroup, layer.Name)
	if err := zarr.CreateGroup(ctx, w.st, group, nil); err != nil {
		return err
	}
	arr, err := w.createLevel(ctx, kindLabel, core.Join(group, levelPath(0)), shape, array.Uint32,
		w.opts.LabelChunkShape, LabelMinChunk, LabelFallbackChunk)
	if err != nil {
		return err
	}
	err = arr.Grid().Each(func(index []int, window []array.Range) error {
		blk, err := r.Window(height, width, window[0], window[1])
		if err != nil {
			return err
		}
		return w.writeChunk(ctx, kindLabel, arr, index, blk)
	})
	if err != nil {
		return err
	}

	levels := w.pyramidLevels(0)
	if err := w.writePyramid(ctx, kindLabel, group, arr, levels, w.opts.LabelChunkShape, LabelMinChunk); err != nil {
		return err
	}

	layerAttr := map[string]any{
		"frame": layer.Frame,
		"count": r.Len(),
	}
	if layer.CRS != "" {
		layerAttr["crs"] = layer.CRS
	}
	if len(layer.Properties) > 0 {
		layerAttr["properties"] = layer.Properties
	}
	attrs := map[string]any{
		ImageLabelAttr: ImageLabel{
			Version: Version,
			Source:  ImageLabelSource{Image: ImageLabelPath{Path: "../" + ImagesGroup}},
		},
		MultiscalesAttr: []Multiscale{{
			Name:     layer.Name,
			Version:  Version,
			Axes:     labelAxes(units),
			Datasets: levelDatasets(layer.Transform, levels, true),
		}},
		LayerAttr: layerAttr,
	}
	if err := zarr.WriteAttrs(ctx, w.st, group, attrs); err != nil {
		return err
	}
	w.log.Infow("label written",
		logger.FieldLayer, layer.Name,
		logger.FieldShape, shape,
		logger.FieldChunks, arr.Chunks(),
		logger.FieldCount, r.Len())
	return nil
}

func (w *Writer) writeTable(ctx context.Context, ds *spatial.Dataset, layer spatial.TableLayer, shapes map[string][2]int) error {
	if layer.MatrixPath == "" {
		return ErrMissingFeatureMatrix
	}
	attrs := map[string]any{
		LayerAttr: map[string]any{
			"frame":  layer.Frame,
			"source": filepath.Base(layer.MatrixPath),
		},
	}
	if w.opts.Format == FormatSpatialData {
		attrs[SpatialDataAttr] = map[string]any{
			"region":       tableRegion(ds, shapes),
			"region_key":   "region",
			"instance_key": "_index",
		}
	}
	sum, err := table.Write(ctx, w.st, core.Join(TablesGroup, layer.Name), layer.MatrixPath, table.Layout{
		ObsColumns:        layer.ObsColumns,
		VarColumns:        layer.VarColumns,
		CoordinateColumns: layer.CoordinateColumns,
	}, table.Options{
		Codec:            w.codec,
		TargetChunkBytes: w.opts.target(),
		MaxChunkBytes:    w.opts.MaxChunkBytes,
		Attrs:            attrs,
	})
	if err != nil {
		return err
	}
	w.log.Infow("table written",
		logger.FieldLayer, layer.Name,
		"n_obs", sum.NObs,
		"n_vars", sum.NVars,
		logger.FieldBytes, sum.Bytes)
	return nil
}

// tableRegion names the layer a table annotates: the first label layer,
// else the reference image.
func tableRegion(ds *spatial.Dataset, shapes map[string][2]int) string {
	if labels := ds.Labels(); len(labels) > 0 {
		return labels[0].Name
	}
	_, name, _ := referenceShape(shapes)
	return name
}

// createLevel creates an array with the resolved chunk shape and retries
// once with the fallback minimum when the store rejects the chunk size.
func (w *Writer) createLevel(ctx context.Context, kind, path string, shape []int, dtype array.DType,
	requested []int, minChunk, fallbackChunk int) (*zarr.Array, error) {
	create := zarr.CreateOptions{MaxChunkBytes: w.opts.MaxChunkBytes}
	chunks := ResolveChunks(shape, requested, dtype.Size(), minChunk, w.opts.target())
	arr, err := zarr.CreateArray(ctx, w.st, path, zarr.Meta{Shape: shape, Chunks: chunks, DType: dtype, Codec: w.codec}, create)
	if err == nil {
		return arr, nil
	}
	if !errors.Is(err, zarr.ErrChunkTooLarge) {
		return nil, err
	}
	fallback := ResolveChunks(shape, nil, dtype.Size(), fallbackChunk, w.opts.target())
	w.metrics.ChunkFallback(kind)
	w.log.Warnw("chunk shape rejected, retrying with fallback",
		logger.FieldPath, path,
		logger.FieldChunks, chunks,
		"fallback", fallback,
		logger.FieldError, err.Error())
	arr, err = zarr.CreateArray(ctx, w.st, path, zarr.Meta{Shape: shape, Chunks: fallback, DType: dtype, Codec: w.codec}, create)
	if err != nil {
		return nil, errors.Wrapf(err, "fallback chunks %v", fallback)
	}
	return arr, nil
}

func (w *Writer) writeChunk(ctx context.Context, kind string, arr *zarr.Array, index []int, blk *array.Block) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n, err := arr.WriteChunk(ctx, index, blk)
	if err != nil {
		return err
	}
	w.metrics.ChunkWritten(kind, n)
	return nil
}
