package npy

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
)

func uint16Block(shape []int) *array.Block {
	b := array.NewBlock(array.Uint16, shape)
	for i := 0; i < b.Len(); i++ {
		binary.LittleEndian.PutUint16(b.Data[i*2:], uint16(i))
	}
	return b
}

func TestWriteHeaderAlignment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, uint16Block([]int{3, 4})))

	headerLen := int(binary.LittleEndian.Uint16(buf.Bytes()[8:10]))
	assert.Equal(t, 0, (10+headerLen)%64)
	assert.Equal(t, byte('\n'), buf.Bytes()[10+headerLen-1])
	assert.Equal(t, 10+headerLen+24, buf.Len())
}

func TestRoundTripWindows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.npy")
	full := uint16Block([]int{2, 6, 5})
	require.NoError(t, Create(path, full))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, []int{2, 6, 5}, src.Shape())
	assert.Equal(t, array.Uint16, src.DType())

	mem := array.NewMemory(full)
	windows := [][]array.Range{
		array.FullWindow([]int{2, 6, 5}),
		{{Start: 0, Stop: 1}, {Start: 0, Stop: 6}, {Start: 0, Stop: 5}},
		{{Start: 1, Stop: 2}, {Start: 2, Stop: 5}, {Start: 1, Stop: 4}},
		{{Start: 0, Stop: 2}, {Start: 5, Stop: 6}, {Start: 4, Stop: 5}},
	}
	for _, w := range windows {
		got, err := src.ReadWindow(context.Background(), w)
		require.NoError(t, err)
		want, err := mem.ReadWindow(context.Background(), w)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestOneDimensionalShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vec.npy")
	require.NoError(t, Create(path, uint16Block([]int{7})))

	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(t, []int{7}, src.Shape())

	got, err := src.ReadWindow(context.Background(), []array.Range{{Start: 2, Stop: 4}})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 0, 3, 0}, got.Data)
}

func TestParseHeader(t *testing.T) {
	shape, dtype, err := parseHeader("{'descr': '<f4', 'fortran_order': False, 'shape': (10, 20), }")
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20}, shape)
	assert.Equal(t, array.Float32, dtype)

	_, _, err = parseHeader("{'descr': '<f4', 'fortran_order': True, 'shape': (10, 20), }")
	assert.True(t, errors.Is(err, ErrInvalidHeader))

	_, _, err = parseHeader("{'descr': '>f4', 'fortran_order': False, 'shape': (10,), }")
	assert.True(t, errors.Is(err, array.ErrUnsupportedDType))

	shape, _, err = parseHeader("{'descr': '|u1', 'fortran_order': False, 'shape': (), }")
	require.NoError(t, err)
	assert.Empty(t, shape)
}

func TestOpenRejectsNonNpy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not.npy")
	require.NoError(t, os.WriteFile(path, []byte("plain text, not numpy"), 0o644))

	_, err := Open(path)
	assert.True(t, errors.Is(err, ErrInvalidHeader))
}

func TestReadWindowOutOfBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image.npy")
	require.NoError(t, Create(path, uint16Block([]int{2, 2})))
	src, err := Open(path)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.ReadWindow(context.Background(), []array.Range{{Start: 0, Stop: 3}, {Start: 0, Stop: 2}})
	assert.True(t, errors.Is(err, array.ErrWindowOutOfBounds))
}

func TestSniff(t *testing.T) {
	dir := t.TempDir()
	npyPath := filepath.Join(dir, "image.npy")
	require.NoError(t, Create(npyPath, uint16Block([]int{2, 2})))
	ok, err := Sniff(npyPath)
	require.NoError(t, err)
	assert.True(t, ok)

	short := filepath.Join(dir, "short")
	require.NoError(t, os.WriteFile(short, []byte("ab"), 0o644))
	ok, err = Sniff(short)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = Sniff(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
