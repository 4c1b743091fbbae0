package zarr

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/errors"
)

func TestCodecsRoundTrip(t *testing.T) {
	compressible := bytes.Repeat([]byte("omnispatial"), 4096)
	random := make([]byte, 10000)
	_, err := rand.Read(random)
	require.NoError(t, err)

	inputs := map[string][]byte{
		"compressible": compressible,
		"random":       random,
		"short":        []byte("abc"),
		"empty":        {},
	}
	for _, name := range SupportedCompressors() {
		codec, err := NewCodec(name, 5)
		require.NoError(t, err, name)
		assert.Equal(t, name, codec.Name())
		for label, in := range inputs {
			t.Run(name+"/"+label, func(t *testing.T) {
				enc, err := codec.Encode(in)
				require.NoError(t, err)
				dec, err := codec.Decode(enc, len(in))
				require.NoError(t, err)
				assert.Equal(t, len(in), len(dec))
				assert.True(t, bytes.Equal(in, dec))
			})
		}
	}
}

func TestCompressionShrinksRepetitiveData(t *testing.T) {
	raw := make([]byte, 1<<16)
	for _, name := range []string{
		CompressorZstd, CompressorLZ4, CompressorZlib, CompressorGzip,
		CompressorBloscZstd, CompressorBloscLZ4, CompressorBloscZlib, CompressorBloscSnappy,
	} {
		codec, err := NewCodec(name, 3)
		require.NoError(t, err)
		enc, err := codec.Encode(raw)
		require.NoError(t, err)
		assert.Less(t, len(enc), len(raw)/10, name)
	}
}

func TestLevelIsClamped(t *testing.T) {
	assert.Equal(t, 1, ClampLevel(-4))
	assert.Equal(t, 1, ClampLevel(0))
	assert.Equal(t, 7, ClampLevel(7))
	assert.Equal(t, 9, ClampLevel(22))

	codec, err := NewCodec("zstd", 40)
	require.NoError(t, err)
	assert.Equal(t, 9, codec.Config().Level)

	codec, err = NewCodec("GZIP", -1)
	require.NoError(t, err)
	assert.Equal(t, &CompressorConfig{ID: "gzip", Level: 1}, codec.Config())
}

func TestUnsupportedCompressor(t *testing.T) {
	_, err := NewCodec("brotli", 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedCompressor))
	assert.True(t, errors.IsInvalidRequestError(err))
	assert.Contains(t, errors.FlattenHints(err), "zstd")
}

func TestCodecFromConfig(t *testing.T) {
	codec, err := CodecFromConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, CompressorNone, codec.Name())
	assert.Nil(t, codec.Config())

	codec, err = CodecFromConfig(&CompressorConfig{ID: "lz4", Acceleration: 1})
	require.NoError(t, err)
	assert.Equal(t, CompressorLZ4, codec.Name())

	codec, err = CodecFromConfig(&CompressorConfig{ID: "blosc", Cname: "snappy", Clevel: 5, Shuffle: ShuffleBit})
	require.NoError(t, err)
	assert.Equal(t, CompressorBloscSnappy, codec.Name())

	codec, err = CodecFromConfig(&CompressorConfig{ID: "blosc", Shuffle: -1})
	require.NoError(t, err, "numcodecs defaults: lz4, auto shuffle")
	assert.Equal(t, CompressorBloscLZ4, codec.Name())

	_, err = CodecFromConfig(&CompressorConfig{ID: "blosc", Cname: "brotli"})
	assert.True(t, errors.Is(err, ErrUnsupportedCompressor))

	_, err = CodecFromConfig(&CompressorConfig{ID: "bz2"})
	assert.True(t, errors.Is(err, ErrUnsupportedCompressor))
}

func TestLZ4Framing(t *testing.T) {
	codec, err := NewCodec(CompressorLZ4, 1)
	require.NoError(t, err)
	enc, err := codec.Encode([]byte("hello hello hello hello"))
	require.NoError(t, err)
	assert.Equal(t, []byte{23, 0, 0, 0}, enc[:4], "little-endian decoded size header")

	_, err = codec.Decode(enc, 10)
	assert.Error(t, err, "size header must match the expected chunk size")
	_, err = codec.Decode([]byte{1}, 1)
	assert.Error(t, err)
}

func TestLiteralBlockLongRun(t *testing.T) {
	src := make([]byte, 15+255+3)
	for i := range src {
		src[i] = byte(i * 7)
	}
	block := literalBlock(src)
	assert.Equal(t, byte(0xF0), block[0])
	assert.Equal(t, byte(255), block[1])
	assert.Equal(t, byte(3), block[2])
	assert.Equal(t, src, block[3:])
}
