package zarr

import (
	"context"
	"strconv"
	"strings"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
)

// DefaultMaxChunkBytes is the largest uncompressed chunk CreateArray accepts
// when CreateOptions leaves the limit unset.
const DefaultMaxChunkBytes int64 = 512 << 20

var (
	// ErrChunkTooLarge is returned when one chunk would exceed the store's
	// chunk size limit. Callers may retry with a smaller chunk shape.
	ErrChunkTooLarge = errors.New("chunk exceeds store limit")

	// ErrInvalidArray is returned for malformed or unsupported .zarray documents.
	ErrInvalidArray = errors.New("invalid zarr array")
)

// Meta describes an array to create.
type Meta struct {
	Shape  []int
	Chunks []int
	DType  array.DType
	// Codec compresses chunks; nil stores them raw.
	Codec Codec
}

// CreateOptions tunes array creation.
type CreateOptions struct {
	MaxChunkBytes int64
}

// Array is a chunked zarr v2 array stored under a key prefix.
type Array struct {
	st        core.Store
	path      string
	meta      Meta
	grid      array.Grid
	separator string
}

var _ array.Source = (*Array)(nil)

// CreateArray writes the .zarray document for meta at path.
func CreateArray(ctx context.Context, st core.Store, path string, meta Meta, opts CreateOptions) (*Array, error) {
	if !meta.DType.Valid() {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: invalid dtype", path)
	}
	if len(meta.Shape) == 0 || len(meta.Shape) != len(meta.Chunks) {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: shape %v and chunks %v", path, meta.Shape, meta.Chunks)
	}
	for i := range meta.Shape {
		if meta.Shape[i] < 0 || meta.Chunks[i] <= 0 {
			return nil, errors.Wrapf(ErrInvalidArray, "%s: shape %v and chunks %v", path, meta.Shape, meta.Chunks)
		}
	}
	limit := opts.MaxChunkBytes
	if limit <= 0 {
		limit = DefaultMaxChunkBytes
	}
	chunkBytes := int64(array.NumElements(meta.Chunks)) * int64(meta.DType.Size())
	if chunkBytes > limit {
		return nil, errors.Wrapf(ErrChunkTooLarge, "%s: chunk %v is %d bytes, limit %d", path, meta.Chunks, chunkBytes, limit)
	}
	if meta.Codec == nil {
		meta.Codec = noneCodec{}
	}

	doc := ArrayMetadata{
		ZarrFormat:         Format,
		Shape:              meta.Shape,
		Chunks:             meta.Chunks,
		DType:              meta.DType.Descr(),
		Compressor:         meta.Codec.Config(),
		FillValue:          fillValue(meta.DType),
		Order:              "C",
		DimensionSeparator: ".",
	}
	if err := writeJSON(ctx, st, core.Join(path, ArrayKey), doc); err != nil {
		return nil, err
	}
	return newArray(st, path, meta, ".")
}

// ReadArrayMetadata decodes the .zarray document at path without checking
// that its compressor is supported.
func ReadArrayMetadata(ctx context.Context, st core.Store, path string) (ArrayMetadata, error) {
	var doc ArrayMetadata
	if err := readJSON(ctx, st, core.Join(path, ArrayKey), &doc); err != nil {
		return ArrayMetadata{}, err
	}
	return doc, nil
}

// OpenArray reads the .zarray document at path.
func OpenArray(ctx context.Context, st core.Store, path string) (*Array, error) {
	doc, err := ReadArrayMetadata(ctx, st, path)
	if err != nil {
		return nil, err
	}
	if doc.ZarrFormat != Format {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: zarr_format %d", path, doc.ZarrFormat)
	}
	if doc.Order != "" && doc.Order != "C" {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: order %q", path, doc.Order)
	}
	if len(doc.Filters) > 0 {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: filters are not supported", path)
	}
	dtype, err := array.ParseDescr(doc.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	codec, err := CodecFromConfig(doc.Compressor)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if len(doc.Shape) == 0 || len(doc.Shape) != len(doc.Chunks) {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: shape %v and chunks %v", path, doc.Shape, doc.Chunks)
	}
	for _, c := range doc.Chunks {
		if c <= 0 {
			return nil, errors.Wrapf(ErrInvalidArray, "%s: chunks %v", path, doc.Chunks)
		}
	}
	sep := doc.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	return newArray(st, path, Meta{Shape: doc.Shape, Chunks: doc.Chunks, DType: dtype, Codec: codec}, sep)
}

func newArray(st core.Store, path string, meta Meta, sep string) (*Array, error) {
	if ts, ok := meta.Codec.(typeSizer); ok {
		meta.Codec = ts.withTypeSize(meta.DType.Size())
	}
	grid, err := array.NewGrid(meta.Shape, meta.Chunks)
	if err != nil {
		return nil, err
	}
	return &Array{st: st, path: core.Join(path), meta: meta, grid: grid, separator: sep}, nil
}

func fillValue(d array.DType) any {
	if d == array.Bool {
		return false
	}
	return 0
}

func (a *Array) Path() string       { return a.path }
func (a *Array) Shape() []int       { return append([]int(nil), a.meta.Shape...) }
func (a *Array) Chunks() []int      { return append([]int(nil), a.meta.Chunks...) }
func (a *Array) DType() array.DType { return a.meta.DType }
func (a *Array) Codec() Codec       { return a.meta.Codec }
func (a *Array) Grid() array.Grid   { return a.grid }
func (a *Array) Close() error       { return nil }

// ChunkKey returns the store key of the chunk at index.
func (a *Array) ChunkKey(index []int) string {
	parts := make([]string, len(index))
	for i, c := range index {
		parts[i] = strconv.Itoa(c)
	}
	return core.Join(a.path, strings.Join(parts, a.separator))
}

func (a *Array) checkIndex(index []int) error {
	counts := a.grid.Counts()
	if len(index) != len(counts) {
		return errors.Wrapf(array.ErrWindowOutOfBounds, "%s: chunk index %v", a.path, index)
	}
	for i, c := range index {
		if c < 0 || c >= counts[i] {
			return errors.Wrapf(array.ErrWindowOutOfBounds, "%s: chunk index %v outside grid %v", a.path, index, counts)
		}
	}
	return nil
}

// WriteChunk encodes b as the chunk at index and returns the number of
// bytes stored. b may cover either the full chunk or only its in-bounds
// part; edge chunks are padded with the fill value.
func (a *Array) WriteChunk(ctx context.Context, index []int, b *array.Block) (int, error) {
	if err := a.checkIndex(index); err != nil {
		return 0, err
	}
	if b.DType != a.meta.DType {
		return 0, errors.Newf("%s: chunk dtype %s, array dtype %s", a.path, b.DType, a.meta.DType)
	}
	full := a.meta.Chunks
	clipped := array.WindowShape(a.grid.Window(index))
	var raw []byte
	switch {
	case equalShape(b.Shape, full):
		raw = b.Data
	case equalShape(b.Shape, clipped):
		padded := array.NewBlock(a.meta.DType, full)
		if err := array.CopyRegion(padded, make([]int, len(full)), b, make([]int, len(full)), clipped); err != nil {
			return 0, err
		}
		raw = padded.Data
	default:
		return 0, errors.Newf("%s: chunk %v has shape %v, expected %v", a.path, index, b.Shape, clipped)
	}

	encoded, err := a.meta.Codec.Encode(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: encode chunk %v", a.path, index)
	}
	if err := core.PutBytes(ctx, a.st, a.ChunkKey(index), encoded); err != nil {
		return 0, errors.Wrapf(err, "%s: store chunk %v", a.path, index)
	}
	return len(encoded), nil
}

// ReadChunk returns the full, padded chunk at index. A chunk that was never
// written reads as the fill value.
func (a *Array) ReadChunk(ctx context.Context, index []int) (*array.Block, error) {
	if err := a.checkIndex(index); err != nil {
		return nil, err
	}
	out := array.NewBlock(a.meta.DType, a.meta.Chunks)
	encoded, err := core.ReadAll(ctx, a.st, a.ChunkKey(index))
	if errors.Is(err, core.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := a.meta.Codec.Decode(encoded, len(out.Data))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: decode chunk %v", a.path, index)
	}
	if len(raw) != len(out.Data) {
		return nil, errors.Newf("%s: chunk %v decoded to %d bytes, expected %d", a.path, index, len(raw), len(out.Data))
	}
	out.Data = raw
	return out, nil
}

// ReadWindow assembles window from every chunk it intersects.
func (a *Array) ReadWindow(ctx context.Context, window []array.Range) (*array.Block, error) {
	if err := array.CheckWindow(a.meta.Shape, window); err != nil {
		return nil, errors.Wrapf(err, "%s", a.path)
	}
	shape := array.WindowShape(window)
	out := array.NewBlock(a.meta.DType, shape)
	if out.Len() == 0 {
		return out, nil
	}

	ndim := len(window)
	chunks := a.meta.Chunks
	lo := make([]int, ndim)
	hi := make([]int, ndim)
	for i, r := range window {
		lo[i] = r.Start / chunks[i]
		hi[i] = (r.Stop - 1) / chunks[i]
	}
	index := append([]int(nil), lo...)
	dstOff := make([]int, ndim)
	srcOff := make([]int, ndim)
	count := make([]int, ndim)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := a.ReadChunk(ctx, index)
		if err != nil {
			return nil, err
		}
		for i, r := range window {
			cStart := index[i] * chunks[i]
			start := max(r.Start, cStart)
			stop := min(r.Stop, cStart+chunks[i])
			dstOff[i] = start - r.Start
			srcOff[i] = start - cStart
			count[i] = stop - start
		}
		if err := array.CopyRegion(out, dstOff, chunk, srcOff, count); err != nil {
			return nil, err
		}

		axis := ndim - 1
		for axis >= 0 {
			index[axis]++
			if index[axis] <= hi[axis] {
				break
			}
			index[axis] = lo[axis]
			axis--
		}
		if axis < 0 {
			return out, nil
		}
	}
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
