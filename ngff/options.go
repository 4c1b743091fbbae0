// Package ngff writes spatial datasets as OME-NGFF style zarr bundles.
//
// A bundle has three top-level groups:
//
//	images/<name>/0     base resolution, axes (c, y, x)
//	labels/<name>/0     uint32 mask rasterized from the label geometries
//	tables/<name>       AnnData-style feature matrix
//
// Image and label groups carry "multiscales" attributes derived from each
// layer's affine transform; the root group carries provenance.
package ngff

import (
	"slices"
	"strings"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// Bundle format tags.
const (
	FormatNGFF        = "ngff"
	FormatSpatialData = "spatialdata"
)

// Chunking constants. Spatial chunk sides start at the minimum and shrink
// until a chunk fits the byte target; the fallback minimum is used once
// when the store rejects the first shape.
const (
	DefaultTargetChunkBytes = 8 << 20
	ImageMinChunk           = 64
	ImageFallbackChunk      = 32
	LabelMinChunk           = 128
	LabelFallbackChunk      = 64
	MaxPyramidLevels        = 8
)

// ProvenanceAttr is the root attribute holding dataset provenance.
const ProvenanceAttr = "omnispatial_provenance"

var (
	ErrMissingSourcePath     = errors.New("image layer has no readable source")
	ErrMissingReferenceShape = errors.New("labels require at least one image to define the reference shape")
	ErrMissingFeatureMatrix  = errors.New("table layer has no feature matrix")
	ErrUnsupportedFormat     = errors.New("unsupported bundle format")
)

// Formats lists the accepted format tags.
func Formats() []string { return []string{FormatNGFF, FormatSpatialData} }

// Options controls a bundle write.
type Options struct {
	Format string
	// ImageChunkShape and LabelChunkShape override automatic chunking.
	ImageChunkShape  []int
	LabelChunkShape  []int
	Compressor       string
	CompressionLevel int
	TargetChunkBytes int
	// MaxChunkBytes is the largest chunk the destination accepts.
	MaxChunkBytes int64
	PyramidLevels int
	Store         store.Options
}

// DefaultOptions returns zstd level 5 NGFF output with automatic chunking.
func DefaultOptions() Options {
	return Options{
		Format:           FormatNGFF,
		Compressor:       zarr.CompressorZstd,
		CompressionLevel: zarr.DefaultLevel,
		TargetChunkBytes: DefaultTargetChunkBytes,
		MaxChunkBytes:    zarr.DefaultMaxChunkBytes,
	}
}

// Validate checks option values. The compression level is not checked
// because it is clamped.
func (o Options) Validate() error {
	if !slices.Contains(Formats(), strings.ToLower(o.Format)) {
		return errors.MarkInvalidRequest(errors.Wrapf(ErrUnsupportedFormat, "%q", o.Format))
	}
	if _, err := zarr.NewCodec(o.Compressor, o.CompressionLevel); err != nil {
		return err
	}
	if n := len(o.ImageChunkShape); n != 0 && n != 3 {
		return errors.NewInvalidRequestError("image chunk shape needs 3 entries (c, y, x), got %d", n)
	}
	if n := len(o.LabelChunkShape); n != 0 && n != 2 {
		return errors.NewInvalidRequestError("label chunk shape needs 2 entries (y, x), got %d", n)
	}
	for _, c := range append(slices.Clone(o.ImageChunkShape), o.LabelChunkShape...) {
		if c <= 0 {
			return errors.NewInvalidRequestError("chunk sizes must be positive, got %d", c)
		}
	}
	if o.PyramidLevels < 0 || o.PyramidLevels > MaxPyramidLevels {
		return errors.NewInvalidRequestError("pyramid levels must be within [0, %d], got %d", MaxPyramidLevels, o.PyramidLevels)
	}
	if o.TargetChunkBytes < 0 || o.MaxChunkBytes < 0 {
		return errors.NewInvalidRequestError("chunk byte limits must not be negative")
	}
	return nil
}

func (o Options) target() int {
	if o.TargetChunkBytes > 0 {
		return o.TargetChunkBytes
	}
	return DefaultTargetChunkBytes
}

// ResolveChunks picks a chunk shape for an array of shape. A non-empty
// requested shape is returned unchanged. Otherwise the leading axis of a
// rank >= 3 array gets chunk 1, the two trailing axes are capped at
// minChunk, and axes are halved from the innermost outwards while the
// chunk exceeds target bytes.
func ResolveChunks(shape, requested []int, itemSize, minChunk, target int) []int {
	if len(requested) > 0 {
		return slices.Clone(requested)
	}
	ndim := len(shape)
	chunk := make([]int, ndim)
	for i, d := range shape {
		chunk[i] = max(d, 1)
		if i >= ndim-2 {
			chunk[i] = min(chunk[i], minChunk)
		}
	}
	if ndim >= 3 {
		chunk[0] = 1
	}
	size := func() int {
		n := itemSize
		for _, c := range chunk {
			n *= c
		}
		return n
	}
	for size() > target {
		reduced := false
		for axis := ndim - 1; axis >= 0; axis-- {
			if chunk[axis] > 1 {
				chunk[axis] = max(1, chunk[axis]/2)
				reduced = true
				if size() <= target {
					break
				}
			}
		}
		if !reduced {
			break
		}
	}
	for i := range chunk {
		chunk[i] = max(chunk[i], 1)
	}
	return chunk
}
