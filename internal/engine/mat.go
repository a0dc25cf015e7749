// Package engine is the in-process native inference engine behind the
// offload runtime: channel-plane tensors, typed layer parameters and
// the InnerProduct/Convolution/Reshape layers with one-shot pipeline
// finalization. Layers execute float32 only.
package engine

import "fmt"

// Mat is the engine's tensor: up to three dimensions, with every
// channel stored as its own contiguous H*W plane. Element (c, h, w)
// lives at Channel(c)[h*W + w].
type Mat struct {
	W, H, C int
	data    []float32
}

// NewMat1D creates a width-only tensor (h = c = 1).
func NewMat1D(w int) *Mat {
	return NewMat3D(w, 1, 1)
}

// NewMat2D creates a single-plane tensor (c = 1).
func NewMat2D(w, h int) *Mat {
	return NewMat3D(w, h, 1)
}

// NewMat3D creates a channel-plane tensor.
func NewMat3D(w, h, c int) *Mat {
	if w <= 0 || h <= 0 || c <= 0 {
		panic(fmt.Sprintf("engine: invalid mat dims %dx%dx%d", w, h, c))
	}
	return &Mat{W: w, H: h, C: c, data: make([]float32, w*h*c)}
}

// Total returns the number of elements across all planes.
func (m *Mat) Total() int {
	return m.W * m.H * m.C
}

// PlaneSize returns the element count of one channel plane.
func (m *Mat) PlaneSize() int {
	return m.W * m.H
}

// Channel returns the c-th plane as a mutable view.
func (m *Mat) Channel(c int) []float32 {
	if c < 0 || c >= m.C {
		panic(fmt.Sprintf("engine: channel %d out of range (c=%d)", c, m.C))
	}
	off := c * m.PlaneSize()
	return m.data[off : off+m.PlaneSize()]
}

// Data returns the full backing slice, planes in channel order.
// For single-plane tensors this is also the flattened view.
func (m *Mat) Data() []float32 {
	return m.data
}

// Zero clears every element.
func (m *Mat) Zero() {
	clear(m.data)
}
