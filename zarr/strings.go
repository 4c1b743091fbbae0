package zarr

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
)

// StringArray is a one-dimensional fixed-width byte string array ("|S<n>")
// written chunk by chunk. See CreateStrings.
type StringArray struct {
	st    core.Store
	path  string
	codec Codec
	n     int
	width int
	chunk int
}

// CreateStrings writes the .zarray document for n values of at most width
// bytes, chunk values per chunk. width and chunk are raised to at least 1.
func CreateStrings(ctx context.Context, st core.Store, path string, n, width, chunk int, codec Codec) (*StringArray, error) {
	if codec == nil {
		codec = noneCodec{}
	}
	if n < 0 {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: %d values", path, n)
	}
	width, chunk = max(width, 1), max(chunk, 1)
	doc := ArrayMetadata{
		ZarrFormat:         Format,
		Shape:              []int{n},
		Chunks:             []int{chunk},
		DType:              fmt.Sprintf("|S%d", width),
		Compressor:         codec.Config(),
		FillValue:          "",
		Order:              "C",
		DimensionSeparator: ".",
	}
	if err := writeJSON(ctx, st, core.Join(path, ArrayKey), doc); err != nil {
		return nil, err
	}
	return &StringArray{st: st, path: path, codec: codec, n: n, width: width, chunk: chunk}, nil
}

// WriteChunk stores values as chunk c and returns the encoded size. Only the
// last chunk may hold fewer than the chunk length.
func (a *StringArray) WriteChunk(ctx context.Context, c int, values []string) (int, error) {
	start := c * a.chunk
	if c < 0 || start >= a.n {
		return 0, errors.Wrapf(ErrInvalidArray, "%s: chunk %d out of range", a.path, c)
	}
	if want := min(a.chunk, a.n-start); len(values) != want {
		return 0, errors.Wrapf(ErrInvalidArray, "%s: chunk %d has %d values, expected %d", a.path, c, len(values), want)
	}
	raw := make([]byte, a.chunk*a.width)
	for i, v := range values {
		if len(v) > a.width {
			return 0, errors.Wrapf(ErrInvalidArray, "%s: value %q is longer than %d bytes", a.path, v, a.width)
		}
		copy(raw[i*a.width:], v)
	}
	encoded, err := a.codec.Encode(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: encode strings", a.path)
	}
	if err := core.PutBytes(ctx, a.st, core.Join(a.path, strconv.Itoa(c)), encoded); err != nil {
		return 0, errors.Wrapf(err, "%s: store strings", a.path)
	}
	return len(encoded), nil
}

// WriteStrings stores values as a StringArray with a single chunk. The width
// is the longest value, at least 1.
func WriteStrings(ctx context.Context, st core.Store, path string, values []string, codec Codec) error {
	width := 1
	for _, v := range values {
		width = max(width, len(v))
	}
	a, err := CreateStrings(ctx, st, path, len(values), width, len(values), codec)
	if err != nil || len(values) == 0 {
		return err
	}
	_, err = a.WriteChunk(ctx, 0, values)
	return err
}

// ReadStrings reads an array written by CreateStrings or WriteStrings. Trailing NUL bytes
// are stripped from each value.
func ReadStrings(ctx context.Context, st core.Store, path string) ([]string, error) {
	var doc ArrayMetadata
	if err := readJSON(ctx, st, core.Join(path, ArrayKey), &doc); err != nil {
		return nil, err
	}
	width, err := stringWidth(doc.DType)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	if len(doc.Shape) != 1 || len(doc.Chunks) != 1 || doc.Chunks[0] <= 0 {
		return nil, errors.Wrapf(ErrInvalidArray, "%s: string arrays must be one-dimensional", path)
	}
	codec, err := CodecFromConfig(doc.Compressor)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	n, chunk := doc.Shape[0], doc.Chunks[0]
	values := make([]string, 0, n)
	for c := 0; len(values) < n; c++ {
		raw := make([]byte, chunk*width)
		encoded, err := core.ReadAll(ctx, st, core.Join(path, strconv.Itoa(c)))
		switch {
		case errors.Is(err, core.ErrNotFound):
		case err != nil:
			return nil, err
		default:
			decoded, err := codec.Decode(encoded, len(raw))
			if err != nil {
				return nil, errors.Wrapf(err, "%s: decode strings", path)
			}
			if len(decoded) != len(raw) {
				return nil, errors.Wrapf(ErrInvalidArray, "%s: chunk %d has %d bytes, expected %d", path, c, len(decoded), len(raw))
			}
			raw = decoded
		}
		for i := 0; i < chunk && len(values) < n; i++ {
			values = append(values, string(bytes.TrimRight(raw[i*width:(i+1)*width], "\x00")))
		}
	}
	return values, nil
}

func stringWidth(descr string) (int, error) {
	rest, ok := strings.CutPrefix(descr, "|S")
	if !ok {
		return 0, errors.Wrapf(ErrInvalidArray, "dtype %q is not a byte string", descr)
	}
	width, err := strconv.Atoi(rest)
	if err != nil || width <= 0 {
		return 0, errors.Wrapf(ErrInvalidArray, "dtype %q", descr)
	}
	return width, nil
}
