package array

import (
	"encoding/binary"

	"github.com/jameshyojaelee/omnispatial/errors"
)

// Range is a half-open index interval [Start, Stop) along one axis.
type Range struct {
	Start int
	Stop  int
}

// Len returns the number of indices covered by r.
func (r Range) Len() int {
	if r.Stop < r.Start {
		return 0
	}
	return r.Stop - r.Start
}

// FullWindow returns the window covering every index of shape.
func FullWindow(shape []int) []Range {
	window := make([]Range, len(shape))
	for i, n := range shape {
		window[i] = Range{0, n}
	}
	return window
}

// WindowShape returns the extent of each range in window.
func WindowShape(window []Range) []int {
	shape := make([]int, len(window))
	for i, r := range window {
		shape[i] = r.Len()
	}
	return shape
}

// ErrWindowOutOfBounds is returned when a window does not fit an array.
var ErrWindowOutOfBounds = errors.New("window out of bounds")

// CheckWindow verifies that window has one range per axis of shape and
// that every range lies inside it.
func CheckWindow(shape []int, window []Range) error {
	if len(window) != len(shape) {
		return errors.Wrapf(ErrWindowOutOfBounds, "window rank %d does not match array rank %d", len(window), len(shape))
	}
	for i, r := range window {
		if r.Start < 0 || r.Stop > shape[i] || r.Start > r.Stop {
			return errors.Wrapf(ErrWindowOutOfBounds, "axis %d range [%d,%d) outside [0,%d)", i, r.Start, r.Stop, shape[i])
		}
	}
	return nil
}

// NumElements returns the product of shape.
func NumElements(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// Block is a dense C-order array held in memory. Data is little-endian.
type Block struct {
	Shape []int
	DType DType
	Data  []byte
}

// NewBlock allocates a zero-filled block.
func NewBlock(dtype DType, shape []int) *Block {
	return &Block{
		Shape: append([]int(nil), shape...),
		DType: dtype,
		Data:  make([]byte, NumElements(shape)*dtype.Size()),
	}
}

// Len returns the number of elements in b.
func (b *Block) Len() int {
	return NumElements(b.Shape)
}

// ExpandLeading returns a view of b with a singleton axis prepended.
// The returned block shares Data with b.
func (b *Block) ExpandLeading() *Block {
	shape := make([]int, 0, len(b.Shape)+1)
	shape = append(shape, 1)
	shape = append(shape, b.Shape...)
	return &Block{Shape: shape, DType: b.DType, Data: b.Data}
}

// Uint32At returns element i of a uint32 block.
func (b *Block) Uint32At(i int) uint32 {
	return binary.LittleEndian.Uint32(b.Data[i*4:])
}

// SetUint32 stores v at element i of a uint32 block.
func (b *Block) SetUint32(i int, v uint32) {
	binary.LittleEndian.PutUint32(b.Data[i*4:], v)
}

// CopyRegion copies the box of extent count starting at srcOff in src into
// dst at dstOff. Both blocks must share rank and dtype.
func CopyRegion(dst *Block, dstOff []int, src *Block, srcOff []int, count []int) error {
	ndim := len(count)
	if len(dst.Shape) != ndim || len(src.Shape) != ndim || len(dstOff) != ndim || len(srcOff) != ndim {
		return errors.Newf("copy region rank mismatch: dst %d, src %d, count %d", len(dst.Shape), len(src.Shape), ndim)
	}
	if dst.DType != src.DType {
		return errors.Newf("copy region dtype mismatch: %s into %s", src.DType, dst.DType)
	}
	if ndim == 0 {
		return nil
	}
	for i := 0; i < ndim; i++ {
		if count[i] == 0 {
			return nil
		}
		if srcOff[i] < 0 || srcOff[i]+count[i] > src.Shape[i] || dstOff[i] < 0 || dstOff[i]+count[i] > dst.Shape[i] {
			return errors.Wrapf(ErrWindowOutOfBounds, "copy region axis %d", i)
		}
	}

	size := dst.DType.Size()
	srcStrides := strides(src.Shape)
	dstStrides := strides(dst.Shape)
	run := count[ndim-1] * size

	idx := make([]int, ndim-1)
	for {
		s, d := srcOff[ndim-1], dstOff[ndim-1]
		for i := 0; i < ndim-1; i++ {
			s += (srcOff[i] + idx[i]) * srcStrides[i]
			d += (dstOff[i] + idx[i]) * dstStrides[i]
		}
		copy(dst.Data[d*size:d*size+run], src.Data[s*size:s*size+run])

		// odometer over the outer axes
		axis := ndim - 2
		for axis >= 0 {
			idx[axis]++
			if idx[axis] < count[axis] {
				break
			}
			idx[axis] = 0
			axis--
		}
		if axis < 0 {
			return nil
		}
	}
}

// strides returns C-order element strides for shape.
func strides(shape []int) []int {
	out := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		out[i] = acc
		acc *= shape[i]
	}
	return out
}
