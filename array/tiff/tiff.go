// Package tiff reads single-page grayscale and RGB TIFF rasters. The first
// page is decoded whole and served from memory.
package tiff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"image"
	"io"
	"os"

	xtiff "golang.org/x/image/tiff"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
)

var (
	littleEndian = []byte("II*\x00")
	bigEndian    = []byte("MM\x00*")
)

// ErrUnsupportedImage is returned for TIFF files that fail to decode or hold
// a pixel layout other than gray or RGB.
var ErrUnsupportedImage = errors.New("unsupported tiff image")

// Source serves windows of a decoded TIFF page.
type Source struct {
	*array.Memory
	path string
}

var _ array.Source = (*Source)(nil)

func (s *Source) Path() string { return s.path }

// Sniff reports whether the file at path starts with a TIFF byte order mark.
func Sniff(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	prefix := make([]byte, len(littleEndian))
	if _, err := io.ReadFull(f, prefix); err != nil {
		return false, nil
	}
	return bytes.Equal(prefix, littleEndian) || bytes.Equal(prefix, bigEndian), nil
}

// Open decodes the TIFF file at path.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	img, err := xtiff.Decode(bufio.NewReader(f))
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrUnsupportedImage), "decode %s", path)
	}
	b, err := FromImage(img)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return &Source{Memory: array.NewMemory(b), path: path}, nil
}

// FromImage converts img to a (y, x) block for gray images and a (c, y, x)
// block of R, G, B planes otherwise. Alpha is dropped; 16-bit samples become
// little-endian uint16.
func FromImage(img image.Image) (*array.Block, error) {
	r := img.Bounds()
	w, h := r.Dx(), r.Dy()
	switch m := img.(type) {
	case *image.Gray:
		return planar(m.Pix, m.Stride, w, h, 1, 1, 1), nil
	case *image.Gray16:
		return planar(m.Pix, m.Stride, w, h, 1, 2, 1), nil
	case *image.RGBA:
		return planar(m.Pix, m.Stride, w, h, 4, 1, 3), nil
	case *image.NRGBA:
		return planar(m.Pix, m.Stride, w, h, 4, 1, 3), nil
	case *image.RGBA64:
		return planar(m.Pix, m.Stride, w, h, 4, 2, 3), nil
	case *image.NRGBA64:
		return planar(m.Pix, m.Stride, w, h, 4, 2, 3), nil
	}
	return nil, errors.Wrapf(ErrUnsupportedImage, "pixel layout %T", img)
}

// planar splits interleaved samples into channel planes. size is the sample
// width in bytes; 16-bit samples are big-endian in pix.
func planar(pix []byte, stride, w, h, samples, size, channels int) *array.Block {
	dtype, shape := array.Uint8, []int{h, w}
	if size == 2 {
		dtype = array.Uint16
	}
	if channels > 1 {
		shape = []int{channels, h, w}
	}
	b := array.NewBlock(dtype, shape)
	for c := 0; c < channels; c++ {
		for y := 0; y < h; y++ {
			row := pix[y*stride:]
			for x := 0; x < w; x++ {
				src := row[(x*samples+c)*size:]
				dst := b.Data[((c*h+y)*w+x)*size:]
				if size == 2 {
					binary.LittleEndian.PutUint16(dst, binary.BigEndian.Uint16(src))
				} else {
					dst[0] = src[0]
				}
			}
		}
	}
	return b
}
