package ngff

import (
	"context"
	"slices"

	"github.com/jameshyojaelee/omnispatial/array"
	"github.com/jameshyojaelee/omnispatial/errors"
	"github.com/jameshyojaelee/omnispatial/store/core"
	"github.com/jameshyojaelee/omnispatial/zarr"
)

// pyramidLevels is the number of levels written above the base: the
// larger of the configured count and what the layer itself declares.
func (w *Writer) pyramidLevels(declared int) int {
	return min(max(w.opts.PyramidLevels, declared, 0), MaxPyramidLevels)
}

// writePyramid writes levels 1..levels under group. Each level is a 2x
// nearest-neighbour decimation of the two trailing axes of the previous
// level, read back from the store one window at a time.
func (w *Writer) writePyramid(ctx context.Context, kind, group string, base *zarr.Array, levels int,
	requested []int, minChunk int) error {
	prev := base
	for k := 1; k <= levels; k++ {
		prevShape := prev.Shape()
		n := len(prevShape)
		shape := slices.Clone(prevShape)
		shape[n-2] = (shape[n-2] + 1) / 2
		shape[n-1] = (shape[n-1] + 1) / 2

		arr, err := w.createLevel(ctx, kind, core.Join(group, levelPath(k)), shape, prev.DType(),
			requested, minChunk, max(minChunk/2, 1))
		if err != nil {
			return errors.Wrapf(err, "pyramid level %d", k)
		}
		err = arr.Grid().Each(func(index []int, window []array.Range) error {
			src := slices.Clone(window)
			for _, axis := range []int{n - 2, n - 1} {
				src[axis] = array.Range{Start: 2 * window[axis].Start, Stop: min(2*window[axis].Stop, prevShape[axis])}
			}
			blk, err := prev.ReadWindow(ctx, src)
			if err != nil {
				return err
			}
			return w.writeChunk(ctx, kind, arr, index, decimate(blk))
		})
		if err != nil {
			return errors.Wrapf(err, "pyramid level %d", k)
		}
		prev = arr
	}
	return nil
}

// decimate keeps every second element along the two trailing axes of b.
func decimate(b *array.Block) *array.Block {
	n := len(b.Shape)
	h, w := b.Shape[n-2], b.Shape[n-1]
	oh, ow := (h+1)/2, (w+1)/2
	shape := append(slices.Clone(b.Shape[:n-2]), oh, ow)
	out := array.NewBlock(b.DType, shape)
	size := b.DType.Size()
	planes := array.NumElements(b.Shape[:n-2])
	for p := 0; p < planes; p++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				s := ((p*h+2*y)*w + 2*x) * size
				d := ((p*oh+y)*ow + x) * size
				copy(out.Data[d:d+size], b.Data[s:s+size])
			}
		}
	}
	return out
}
