// Package array defines lazily-read n-dimensional arrays. A Source exposes
// its shape and element type and serves rectangular windows on demand, so
// callers never need the whole array in memory.
package array

import (
	"context"
)

// Source is a read-only array served window by window.
type Source interface {
	Shape() []int
	DType() DType
	// ReadWindow returns the elements inside window as a dense block.
	ReadWindow(ctx context.Context, window []Range) (*Block, error)
	Close() error
}

// Memory is a Source over an in-memory block.
type Memory struct {
	block *Block
}

// NewMemory wraps b. The block is not copied.
func NewMemory(b *Block) *Memory {
	return &Memory{block: b}
}

func (m *Memory) Shape() []int { return append([]int(nil), m.block.Shape...) }
func (m *Memory) DType() DType { return m.block.DType }
func (m *Memory) Close() error { return nil }

func (m *Memory) ReadWindow(ctx context.Context, window []Range) (*Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := CheckWindow(m.block.Shape, window); err != nil {
		return nil, err
	}
	shape := WindowShape(window)
	out := NewBlock(m.block.DType, shape)
	srcOff := make([]int, len(window))
	for i, r := range window {
		srcOff[i] = r.Start
	}
	if err := CopyRegion(out, make([]int, len(shape)), m.block, srcOff, shape); err != nil {
		return nil, err
	}
	return out, nil
}
