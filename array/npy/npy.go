// Package npy serves windows of NumPy .npy files straight from disk.
package npy

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
)

var magic = []byte("\x93NUMPY")

// ErrInvalidHeader is returned when a file is not a readable .npy file.
var ErrInvalidHeader = errors.New("invalid npy header")

var (
	descrPattern   = regexp.MustCompile(`'descr'\s*:\s*'([^']*)'`)
	fortranPattern = regexp.MustCompile(`'fortran_order'\s*:\s*(True|False)`)
	shapePattern   = regexp.MustCompile(`'shape'\s*:\s*\(([^)]*)\)`)
)

// Source reads windows of a C-order little-endian .npy file with ReadAt.
type Source struct {
	path   string
	file   *os.File
	shape  []int
	dtype  array.DType
	offset int64
}

var _ array.Source = (*Source)(nil)

// Open parses the header of the .npy file at path.
func Open(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	shape, dtype, offset, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return &Source{path: path, file: f, shape: shape, dtype: dtype, offset: offset}, nil
}

// Sniff reports whether the file at path starts with the .npy magic.
func Sniff(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	prefix := make([]byte, len(magic))
	if _, err := io.ReadFull(f, prefix); err != nil {
		return false, nil
	}
	return bytes.Equal(prefix, magic), nil
}

func readHeader(r io.Reader) ([]int, array.DType, int64, error) {
	prefix := make([]byte, 8)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return nil, 0, 0, errors.Wrap(ErrInvalidHeader, "short preamble")
	}
	if !bytes.Equal(prefix[:6], magic) {
		return nil, 0, 0, errors.Wrap(ErrInvalidHeader, "bad magic")
	}

	major := prefix[6]
	var headerLen int
	var preamble int64
	switch major {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, 0, 0, errors.Wrap(ErrInvalidHeader, "short header length")
		}
		headerLen, preamble = int(n), 10
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, 0, 0, errors.Wrap(ErrInvalidHeader, "short header length")
		}
		headerLen, preamble = int(n), 12
	default:
		return nil, 0, 0, errors.Wrapf(ErrInvalidHeader, "unsupported format version %d", major)
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, 0, 0, errors.Wrap(ErrInvalidHeader, "truncated header")
	}
	shape, dtype, err := parseHeader(string(header))
	if err != nil {
		return nil, 0, 0, err
	}
	return shape, dtype, preamble + int64(headerLen), nil
}

func parseHeader(header string) ([]int, array.DType, error) {
	m := descrPattern.FindStringSubmatch(header)
	if m == nil {
		return nil, 0, errors.Wrap(ErrInvalidHeader, "missing descr")
	}
	dtype, err := array.ParseDescr(m[1])
	if err != nil {
		return nil, 0, err
	}

	m = fortranPattern.FindStringSubmatch(header)
	if m == nil {
		return nil, 0, errors.Wrap(ErrInvalidHeader, "missing fortran_order")
	}
	if m[1] == "True" {
		return nil, 0, errors.Wrap(ErrInvalidHeader, "fortran-ordered arrays are not supported")
	}

	m = shapePattern.FindStringSubmatch(header)
	if m == nil {
		return nil, 0, errors.Wrap(ErrInvalidHeader, "missing shape")
	}
	var shape []int
	for _, part := range strings.Split(m[1], ",") {
		part = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), "L"))
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return nil, 0, errors.Wrapf(ErrInvalidHeader, "bad shape entry %q", part)
		}
		shape = append(shape, n)
	}
	return shape, dtype, nil
}

func (s *Source) Shape() []int       { return append([]int(nil), s.shape...) }
func (s *Source) DType() array.DType { return s.dtype }
func (s *Source) Path() string       { return s.path }

func (s *Source) Close() error {
	return s.file.Close()
}

// ReadWindow reads each innermost-axis run of window with one ReadAt.
func (s *Source) ReadWindow(ctx context.Context, window []array.Range) (*array.Block, error) {
	if err := array.CheckWindow(s.shape, window); err != nil {
		return nil, err
	}
	out := array.NewBlock(s.dtype, array.WindowShape(window))
	if out.Len() == 0 {
		return out, nil
	}
	size := int64(s.dtype.Size())
	ndim := len(s.shape)
	if ndim == 0 {
		_, err := s.file.ReadAt(out.Data, s.offset)
		return out, errors.Wrapf(err, "read %s", s.path)
	}

	strides := make([]int64, ndim)
	acc := int64(1)
	for i := ndim - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= int64(s.shape[i])
	}

	inner := window[ndim-1]
	run := inner.Len() * int(size)
	idx := make([]int, ndim-1)
	pos := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		elem := int64(inner.Start)
		for i := 0; i < ndim-1; i++ {
			elem += int64(window[i].Start+idx[i]) * strides[i]
		}
		if _, err := s.file.ReadAt(out.Data[pos:pos+run], s.offset+elem*size); err != nil {
			return nil, errors.Wrapf(err, "read %s", s.path)
		}
		pos += run

		axis := ndim - 2
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < window[axis].Len() {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return out, nil
		}
	}
}

// Write encodes b as a version 1.0 .npy stream.
func Write(w io.Writer, b *array.Block) error {
	dims := make([]string, len(b.Shape))
	for i, d := range b.Shape {
		dims[i] = strconv.Itoa(d)
	}
	shape := strings.Join(dims, ", ")
	if len(b.Shape) == 1 {
		shape += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", b.DType.Descr(), shape)
	// preamble + header + newline must be a multiple of 64
	total := 10 + len(header) + 1
	if pad := total % 64; pad != 0 {
		header += strings.Repeat(" ", 64-pad)
	}
	header += "\n"

	bw := bufio.NewWriter(w)
	bw.Write(magic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.WriteString(header)
	bw.Write(b.Data)
	return bw.Flush()
}

// Create writes b to a new .npy file at path.
func Create(path string, b *array.Block) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := Write(f, b); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	return f.Close()
}
