package array

import (
	"github.com/jameshyojaelee/omnispatial/errors"
)

// Grid partitions an array shape into chunk-sized windows.
type Grid struct {
	Shape  []int
	Chunks []int
}

// NewGrid builds a grid. A non-positive chunk size covers the whole axis.
func NewGrid(shape, chunks []int) (Grid, error) {
	if len(shape) != len(chunks) {
		return Grid{}, errors.Newf("chunk rank %d does not match array rank %d", len(chunks), len(shape))
	}
	resolved := make([]int, len(shape))
	for i, c := range chunks {
		if c <= 0 {
			c = shape[i]
		}
		if c <= 0 {
			c = 1
		}
		resolved[i] = c
	}
	return Grid{Shape: append([]int(nil), shape...), Chunks: resolved}, nil
}

// Counts returns the number of chunks along each axis.
func (g Grid) Counts() []int {
	counts := make([]int, len(g.Shape))
	for i, n := range g.Shape {
		counts[i] = (n + g.Chunks[i] - 1) / g.Chunks[i]
	}
	return counts
}

// Len returns the total number of chunks.
func (g Grid) Len() int {
	return NumElements(g.Counts())
}

// Window returns the array window covered by the chunk at index, clipped
// to the array bounds.
func (g Grid) Window(index []int) []Range {
	window := make([]Range, len(index))
	for i, c := range index {
		start := c * g.Chunks[i]
		stop := start + g.Chunks[i]
		if stop > g.Shape[i] {
			stop = g.Shape[i]
		}
		window[i] = Range{start, stop}
	}
	return window
}

// Each calls fn for every chunk in row-major chunk order. Iteration stops at
// the first error.
func (g Grid) Each(fn func(index []int, window []Range) error) error {
	counts := g.Counts()
	for _, c := range counts {
		if c == 0 {
			return nil
		}
	}
	ndim := len(counts)
	index := make([]int, ndim)
	for {
		if err := fn(append([]int(nil), index...), g.Window(index)); err != nil {
			return err
		}
		axis := ndim - 1
		for axis >= 0 {
			index[axis]++
			if index[axis] < counts[axis] {
				break
			}
			index[axis] = 0
			axis--
		}
		if axis < 0 {
			return nil
		}
	}
}
