package zarr

import (
	"bytes"
	"encoding/binary"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// BloscID is the numcodecs id of the Blosc meta-compressor.
const BloscID = "blosc"

// Shuffle filters recorded in a Blosc compressor config.
const (
	ShuffleNone = 0
	ShuffleByte = 1
	ShuffleBit  = 2
)

// Blosc1 framing: a 16 byte header, one int32 offset per block, then per
// block one or more length-prefixed streams.
const (
	bloscHeaderSize = 16
	bloscVersion    = 2
	bloscVersionLZ  = 1
	bloscBlockSize  = 256 << 10
	bloscMaxSplits  = 16
	bloscMinSplit   = 128

	bloscFlagShuffle    = 0x01
	bloscFlagMemcpyed   = 0x02
	bloscFlagBitShuffle = 0x04
	bloscFlagNoSplit    = 0x10
)

// Inner compressor codes stored in header flag bits 5-7.
const (
	bloscFormatBloscLZ = 0
	bloscFormatLZ4     = 1
	bloscFormatSnappy  = 2
	bloscFormatZlib    = 3
	bloscFormatZstd    = 4
)

var bloscFormats = map[string]byte{
	"blosclz": bloscFormatBloscLZ,
	"lz4":     bloscFormatLZ4,
	"lz4hc":   bloscFormatLZ4,
	"snappy":  bloscFormatSnappy,
	"zlib":    bloscFormatZlib,
	"zstd":    bloscFormatZstd,
}

var bloscZstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
})

// bloscCodec writes Blosc1 frames with one unsplit block per 256 KiB using
// lz4, snappy, zlib or zstd. Decoding accepts any Blosc1 frame whose inner
// compressor is one of those or lz4hc.
type bloscCodec struct {
	cname    string
	level    int
	shuffle  int
	typeSize int
	zstd     *zstd.Encoder
}

func newBloscCodec(cname string, level, shuffle int) (*bloscCodec, error) {
	cname = strings.ToLower(cname)
	if _, ok := bloscFormats[cname]; !ok {
		return nil, errors.MarkInvalidRequest(errors.Wrapf(ErrUnsupportedCompressor, "blosc cname %q", cname))
	}
	if shuffle < ShuffleNone || shuffle > ShuffleBit {
		return nil, errors.NewInvalidRequestError("blosc shuffle %d", shuffle)
	}
	c := &bloscCodec{cname: cname, level: level, shuffle: shuffle, typeSize: 1}
	if cname == "zstd" {
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
			zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, errors.Wrap(err, "create zstd encoder")
		}
		c.zstd = enc
	}
	return c, nil
}

func (c *bloscCodec) Name() string { return BloscID + "-" + c.cname }

func (c *bloscCodec) Config() *CompressorConfig {
	return &CompressorConfig{ID: BloscID, Cname: c.cname, Clevel: c.level, Shuffle: c.shuffle}
}

// withTypeSize returns a copy that shuffles elements of n bytes.
func (c *bloscCodec) withTypeSize(n int) Codec {
	cp := *c
	cp.typeSize = max(1, min(n, 255))
	return &cp
}

func (c *bloscCodec) Encode(raw []byte) ([]byte, error) {
	n := len(raw)
	ts := c.typeSize
	format := bloscFormats[c.cname]
	flags := byte(bloscFlagNoSplit) | format<<5
	switch c.shuffle {
	case ShuffleByte:
		flags |= bloscFlagShuffle
	case ShuffleBit:
		flags |= bloscFlagBitShuffle
	}
	blockSize := min(n, bloscBlockSize)
	nblocks := 0
	if n > 0 {
		nblocks = (n + blockSize - 1) / blockSize
	}

	out := make([]byte, bloscHeaderSize+4*nblocks, bloscHeaderSize+4*nblocks+n)
	tmp := make([]byte, blockSize)
	for j := 0; j < nblocks; j++ {
		block := raw[j*blockSize : min((j+1)*blockSize, n)]
		src := block
		switch {
		case flags&bloscFlagShuffle != 0:
			src = tmp[:len(block)]
			byteShuffle(ts, block, src)
		case flags&bloscFlagBitShuffle != 0:
			src = tmp[:len(block)]
			bitShuffle(ts, block, src)
		}
		comp, err := c.compress(src)
		if err != nil {
			return nil, err
		}
		if len(comp) == 0 || len(comp) >= len(src) {
			comp = src
		}
		binary.LittleEndian.PutUint32(out[bloscHeaderSize+4*j:], uint32(len(out)))
		out = binary.LittleEndian.AppendUint32(out, uint32(len(comp)))
		out = append(out, comp...)
		if len(out) > n+bloscHeaderSize {
			break
		}
	}
	if n == 0 || len(out) > n+bloscHeaderSize {
		flags = bloscFlagNoSplit | format<<5 | bloscFlagMemcpyed
		out = append(out[:bloscHeaderSize], raw...)
	}
	out[0] = bloscVersion
	out[1] = bloscVersionLZ
	out[2] = flags
	out[3] = byte(ts)
	binary.LittleEndian.PutUint32(out[4:], uint32(n))
	binary.LittleEndian.PutUint32(out[8:], uint32(blockSize))
	binary.LittleEndian.PutUint32(out[12:], uint32(len(out)))
	return out, nil
}

func (c *bloscCodec) compress(src []byte) ([]byte, error) {
	switch c.cname {
	case "lz4":
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		var lc lz4.Compressor
		n, err := lc.CompressBlock(src, dst)
		if err != nil {
			return nil, errors.Wrap(err, "blosc lz4 encode")
		}
		return dst[:n], nil
	case "snappy":
		return snappy.Encode(nil, src), nil
	case "zlib":
		var buf bytes.Buffer
		w, err := zlib.NewWriterLevel(&buf, c.level)
		if err != nil {
			return nil, errors.Wrap(err, "create zlib writer")
		}
		if _, err := w.Write(src); err != nil {
			return nil, errors.Wrap(err, "blosc zlib encode")
		}
		if err := w.Close(); err != nil {
			return nil, errors.Wrap(err, "blosc zlib close")
		}
		return buf.Bytes(), nil
	case "zstd":
		return c.zstd.EncodeAll(src, nil), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedCompressor, "blosc cname %q", c.cname)
}

func (c *bloscCodec) Decode(encoded []byte, size int) ([]byte, error) {
	out, err := decodeBlosc(encoded)
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, errors.Newf("blosc chunk holds %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

// decodeBlosc expands one Blosc1 frame.
func decodeBlosc(src []byte) ([]byte, error) {
	if len(src) < bloscHeaderSize {
		return nil, errors.Newf("blosc chunk too short: %d bytes", len(src))
	}
	if v := src[0]; v == 0 || v > bloscVersion {
		return nil, errors.Newf("blosc format version %d is not supported", v)
	}
	flags := src[2]
	ts := int(src[3])
	nbytes := int(binary.LittleEndian.Uint32(src[4:]))
	blockSize := int(binary.LittleEndian.Uint32(src[8:]))
	ctbytes := int(binary.LittleEndian.Uint32(src[12:]))
	if ctbytes > len(src) || ctbytes < bloscHeaderSize {
		return nil, errors.Newf("blosc chunk declares %d bytes but holds %d", ctbytes, len(src))
	}
	src = src[:ctbytes]

	out := make([]byte, nbytes)
	if nbytes == 0 {
		return out, nil
	}
	if flags&bloscFlagMemcpyed != 0 {
		if len(src) < bloscHeaderSize+nbytes {
			return nil, errors.Newf("blosc memcpy chunk truncated: %d of %d bytes", len(src)-bloscHeaderSize, nbytes)
		}
		copy(out, src[bloscHeaderSize:])
		return out, nil
	}
	if ts == 0 || blockSize <= 0 {
		return nil, errors.Newf("blosc header has typesize %d and blocksize %d", ts, blockSize)
	}

	nblocks := nbytes / blockSize
	leftover := nbytes % blockSize
	if leftover > 0 {
		nblocks++
	}
	if bloscHeaderSize+4*nblocks > len(src) {
		return nil, errors.New("blosc chunk truncated in block offsets")
	}
	format := flags >> 5
	tmp := make([]byte, blockSize)
	for j := 0; j < nblocks; j++ {
		last := leftover > 0 && j == nblocks-1
		bsize := blockSize
		if last {
			bsize = leftover
		}
		nsplits := 1
		if flags&bloscFlagNoSplit == 0 && !last && ts <= bloscMaxSplits && bsize/ts >= bloscMinSplit {
			nsplits = ts
		}
		neblock := bsize / nsplits
		pos := int(binary.LittleEndian.Uint32(src[bloscHeaderSize+4*j:]))
		dst := tmp[:bsize]
		for s := 0; s < nsplits; s++ {
			if pos < 0 || pos+4 > len(src) {
				return nil, errors.Newf("blosc block %d truncated", j)
			}
			cbytes := int(int32(binary.LittleEndian.Uint32(src[pos:])))
			pos += 4
			if cbytes < 0 || pos+cbytes > len(src) {
				return nil, errors.Newf("blosc block %d stream %d declares %d bytes", j, s, cbytes)
			}
			part := dst[s*neblock : (s+1)*neblock]
			if cbytes == neblock {
				copy(part, src[pos:pos+cbytes])
			} else if err := bloscDecompress(format, src[pos:pos+cbytes], part); err != nil {
				return nil, errors.Wrapf(err, "blosc block %d", j)
			}
			pos += cbytes
		}

		block := out[j*blockSize : j*blockSize+bsize]
		switch {
		case flags&bloscFlagShuffle != 0:
			byteUnshuffle(ts, dst, block)
		case flags&bloscFlagBitShuffle != 0:
			bitUnshuffle(ts, dst, block)
		default:
			copy(block, dst)
		}
	}
	return out, nil
}

// bloscDecompress fills dst exactly from one compressed stream.
func bloscDecompress(format byte, src, dst []byte) error {
	switch format {
	case bloscFormatLZ4:
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return errors.Wrap(err, "lz4 decode")
		}
		return checkDecoded("lz4", n, len(dst))
	case bloscFormatSnappy:
		got, err := snappy.Decode(nil, src)
		if err != nil {
			return errors.Wrap(err, "snappy decode")
		}
		copy(dst, got)
		return checkDecoded("snappy", len(got), len(dst))
	case bloscFormatZlib:
		r, err := zlib.NewReader(bytes.NewReader(src))
		if err != nil {
			return errors.Wrap(err, "zlib header")
		}
		defer r.Close()
		if _, err := io.ReadFull(r, dst); err != nil {
			return errors.Wrap(err, "zlib decode")
		}
		return nil
	case bloscFormatZstd:
		dec, err := bloscZstdDecoder()
		if err != nil {
			return errors.Wrap(err, "create zstd decoder")
		}
		got, err := dec.DecodeAll(src, make([]byte, 0, len(dst)))
		if err != nil {
			return errors.Wrap(err, "zstd decode")
		}
		copy(dst, got)
		return checkDecoded("zstd", len(got), len(dst))
	case bloscFormatBloscLZ:
		return errors.Wrap(ErrUnsupportedCompressor, "blosc cname \"blosclz\"")
	}
	return errors.Wrapf(ErrUnsupportedCompressor, "blosc compressor code %d", format)
}

func checkDecoded(name string, got, want int) error {
	if got != want {
		return errors.Newf("%s stream decoded to %d bytes, expected %d", name, got, want)
	}
	return nil
}

// byteShuffle groups byte j of every element together. Trailing bytes that
// do not fill an element are copied unchanged.
func byteShuffle(ts int, src, dst []byte) {
	n := len(src) / ts
	for j := 0; j < ts; j++ {
		for i := 0; i < n; i++ {
			dst[j*n+i] = src[i*ts+j]
		}
	}
	copy(dst[n*ts:], src[n*ts:])
}

func byteUnshuffle(ts int, src, dst []byte) {
	n := len(src) / ts
	for j := 0; j < ts; j++ {
		for i := 0; i < n; i++ {
			dst[i*ts+j] = src[j*n+i]
		}
	}
	copy(dst[n*ts:], src[n*ts:])
}

// bitShuffle transposes the bit matrix of the leading elements (a multiple
// of eight): bit k of byte j of element e becomes bit e%8 of byte e/8 in
// row j*8+k. The remaining bytes are copied unchanged.
func bitShuffle(ts int, src, dst []byte) {
	n := len(src) / ts
	n -= n % 8
	row := n / 8
	clear(dst[:n*ts])
	for e := 0; e < n; e++ {
		for j := 0; j < ts; j++ {
			b := src[e*ts+j]
			for k := 0; k < 8; k++ {
				if b>>k&1 != 0 {
					dst[(j*8+k)*row+e/8] |= 1 << (e % 8)
				}
			}
		}
	}
	copy(dst[n*ts:], src[n*ts:])
}

func bitUnshuffle(ts int, src, dst []byte) {
	n := len(src) / ts
	n -= n % 8
	row := n / 8
	clear(dst[:n*ts])
	for e := 0; e < n; e++ {
		for j := 0; j < ts; j++ {
			var b byte
			for k := 0; k < 8; k++ {
				if src[(j*8+k)*row+e/8]>>(e%8)&1 != 0 {
					b |= 1 << k
				}
			}
			dst[e*ts+j] = b
		}
	}
	copy(dst[n*ts:], src[n*ts:])
}
