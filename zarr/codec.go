package zarr

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// Compressor identifiers as recorded in .zarray (numcodecs ids).
const (
	CompressorZstd = "zstd"
	CompressorLZ4  = "lz4"
	CompressorZlib = "zlib"
	CompressorGzip = "gzip"
	CompressorNone = "none"

	// Blosc-wrapped compressors with bit shuffling.
	CompressorBloscZstd   = "blosc-zstd"
	CompressorBloscLZ4    = "blosc-lz4"
	CompressorBloscZlib   = "blosc-zlib"
	CompressorBloscSnappy = "blosc-snappy"
)

// Compression level bounds. Requested levels are clamped into this range.
const (
	MinLevel     = 1
	MaxLevel     = 9
	DefaultLevel = 5
)

// ErrUnsupportedCompressor is returned for compressor names outside the
// supported set.
var ErrUnsupportedCompressor = errors.New("unsupported compressor")

// SupportedCompressors lists every name accepted by NewCodec.
func SupportedCompressors() []string {
	return []string{
		CompressorZstd, CompressorLZ4, CompressorZlib, CompressorGzip,
		CompressorBloscZstd, CompressorBloscLZ4, CompressorBloscZlib, CompressorBloscSnappy,
		CompressorNone,
	}
}

// CompressorConfig is the "compressor" object of a .zarray document.
// Cname, Clevel, Shuffle and Blocksize are only used by Blosc.
type CompressorConfig struct {
	ID           string `json:"id"`
	Level        int    `json:"level,omitempty"`
	Acceleration int    `json:"acceleration,omitempty"`
	Cname        string `json:"cname,omitempty"`
	Clevel       int    `json:"clevel,omitempty"`
	Shuffle      int    `json:"shuffle,omitempty"`
	Blocksize    int    `json:"blocksize,omitempty"`
}

// Codec compresses and decompresses encoded chunks.
type Codec interface {
	Name() string
	// Config returns the .zarray compressor entry, nil when uncompressed.
	Config() *CompressorConfig
	Encode(raw []byte) ([]byte, error)
	// Decode returns the raw bytes; size is the expected decoded length.
	Decode(encoded []byte, size int) ([]byte, error)
}

// typeSizer is implemented by codecs whose output depends on the element
// width of the array they compress.
type typeSizer interface {
	withTypeSize(n int) Codec
}

// ClampLevel forces level into [MinLevel, MaxLevel].
func ClampLevel(level int) int {
	if level < MinLevel {
		return MinLevel
	}
	if level > MaxLevel {
		return MaxLevel
	}
	return level
}

// NewCodec returns the codec for name at the clamped level.
func NewCodec(name string, level int) (Codec, error) {
	level = ClampLevel(level)
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case CompressorZstd:
		return newZstdCodec(level)
	case CompressorLZ4:
		return lz4Codec{}, nil
	case CompressorZlib:
		return zlibCodec{level: level}, nil
	case CompressorGzip:
		return gzipCodec{level: level}, nil
	case CompressorNone, "":
		return noneCodec{}, nil
	case CompressorBloscZstd, CompressorBloscLZ4, CompressorBloscZlib, CompressorBloscSnappy:
		return newBloscCodec(strings.TrimPrefix(name, BloscID+"-"), level, ShuffleBit)
	default:
		return nil, errors.MarkInvalidRequest(errors.WithHintf(
			errors.Wrapf(ErrUnsupportedCompressor, "%q", name),
			"supported compressors: %s", strings.Join(SupportedCompressors(), ", ")))
	}
}

// CodecFromConfig returns the codec described by an existing .zarray entry.
func CodecFromConfig(cfg *CompressorConfig) (Codec, error) {
	if cfg == nil {
		return noneCodec{}, nil
	}
	if strings.EqualFold(cfg.ID, BloscID) {
		cname := cfg.Cname
		if cname == "" {
			cname = "lz4"
		}
		shuffle := cfg.Shuffle
		if shuffle < ShuffleNone || shuffle > ShuffleBit {
			shuffle = ShuffleByte
		}
		return newBloscCodec(cname, ClampLevel(cfg.Clevel), shuffle)
	}
	level := cfg.Level
	if level == 0 {
		level = DefaultLevel
	}
	return NewCodec(cfg.ID, level)
}

type noneCodec struct{}

func (noneCodec) Name() string                      { return CompressorNone }
func (noneCodec) Config() *CompressorConfig         { return nil }
func (noneCodec) Encode(raw []byte) ([]byte, error) { return raw, nil }
func (noneCodec) Decode(encoded []byte, size int) ([]byte, error) {
	if len(encoded) != size {
		return nil, errors.Newf("uncompressed chunk has %d bytes, expected %d", len(encoded), size)
	}
	return encoded, nil
}

type zstdCodec struct {
	level int
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

func newZstdCodec(level int) (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd encoder")
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, errors.Wrap(err, "create zstd decoder")
	}
	return &zstdCodec{level: level, enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Name() string { return CompressorZstd }
func (c *zstdCodec) Config() *CompressorConfig {
	return &CompressorConfig{ID: CompressorZstd, Level: c.level}
}

func (c *zstdCodec) Encode(raw []byte) ([]byte, error) {
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (c *zstdCodec) Decode(encoded []byte, size int) ([]byte, error) {
	out, err := c.dec.DecodeAll(encoded, make([]byte, 0, size))
	if err != nil {
		return nil, errors.Wrap(err, "zstd decode")
	}
	return out, nil
}

type zlibCodec struct{ level int }

func (c zlibCodec) Name() string { return CompressorZlib }
func (c zlibCodec) Config() *CompressorConfig {
	return &CompressorConfig{ID: CompressorZlib, Level: c.level}
}

func (c zlibCodec) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, errors.Wrap(err, "create zlib writer")
	}
	if _, err := w.Write(raw); err != nil {
		return nil, errors.Wrap(err, "zlib encode")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "zlib close")
	}
	return buf.Bytes(), nil
}

func (c zlibCodec) Decode(encoded []byte, size int) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "zlib header")
	}
	defer r.Close()
	return readSized(r, size, "zlib")
}

type gzipCodec struct{ level int }

func (c gzipCodec) Name() string { return CompressorGzip }
func (c gzipCodec) Config() *CompressorConfig {
	return &CompressorConfig{ID: CompressorGzip, Level: c.level}
}

func (c gzipCodec) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip writer")
	}
	if _, err := w.Write(raw); err != nil {
		return nil, errors.Wrap(err, "gzip encode")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip close")
	}
	return buf.Bytes(), nil
}

func (c gzipCodec) Decode(encoded []byte, size int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, errors.Wrap(err, "gzip header")
	}
	defer r.Close()
	return readSized(r, size, "gzip")
}

func readSized(r io.Reader, size int, name string) ([]byte, error) {
	out := make([]byte, 0, size)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, errors.Wrapf(err, "%s decode", name)
	}
	return buf.Bytes(), nil
}

// lz4Codec writes the numcodecs LZ4 framing: a little-endian uint32 with
// the decoded size followed by one raw LZ4 block.
type lz4Codec struct{}

func (lz4Codec) Name() string { return CompressorLZ4 }
func (lz4Codec) Config() *CompressorConfig {
	return &CompressorConfig{ID: CompressorLZ4, Acceleration: 1}
}

func (lz4Codec) Encode(raw []byte) ([]byte, error) {
	out := make([]byte, 4+lz4.CompressBlockBound(len(raw)))
	binary.LittleEndian.PutUint32(out, uint32(len(raw)))
	if len(raw) == 0 {
		return out[:4], nil
	}
	var c lz4.Compressor
	n, err := c.CompressBlock(raw, out[4:])
	if err != nil {
		return nil, errors.Wrap(err, "lz4 encode")
	}
	if n == 0 {
		// incompressible input
		return append(out[:4], literalBlock(raw)...), nil
	}
	return out[:4+n], nil
}

func (lz4Codec) Decode(encoded []byte, size int) ([]byte, error) {
	if len(encoded) < 4 {
		return nil, errors.Newf("lz4 chunk too short: %d bytes", len(encoded))
	}
	n := int(binary.LittleEndian.Uint32(encoded))
	if n != size {
		return nil, errors.Newf("lz4 chunk declares %d bytes, expected %d", n, size)
	}
	out := make([]byte, n)
	if n == 0 {
		return out, nil
	}
	got, err := lz4.UncompressBlock(encoded[4:], out)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 decode")
	}
	return out[:got], nil
}

// literalBlock encodes src as a single LZ4 sequence made only of literals.
func literalBlock(src []byte) []byte {
	n := len(src)
	out := make([]byte, 0, n+n/255+2)
	if n < 15 {
		out = append(out, byte(n<<4))
	} else {
		out = append(out, 0xF0)
		rest := n - 15
		for rest >= 255 {
			out = append(out, 255)
			rest -= 255
		}
		out = append(out, byte(rest))
	}
	return append(out, src...)
}
