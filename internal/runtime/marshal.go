package runtime

import (
	"fmt"

	"github.com/digital-nomad-cheng/tvm/internal/engine"
	"github.com/digital-nomad-cheng/tvm/internal/metrics"
	"github.com/digital-nomad-cheng/tvm/internal/tensor"
)

// The marshaller converts between the host's contiguous row-major
// buffers and the engine's channel-plane tensors. Rank 2 is
// [batch, features] and copies one-to-one; rank 4 is
// [batch, channels, height, width] and walks channel, row, column with
// the host offset c*H*W + h*W + w against the engine plane offset
// h*W + w. The batch dimension must be 1 on both sides.

// marshalIn copies a bound host buffer into the layer's scratch input.
func marshalIn(dst *engine.Mat, src *tensor.RawTensor) error {
	if src.DType() != tensor.Float32 {
		return fmt.Errorf("%w: host buffer is %s, engine tensors are float32-only", ErrDType, src.DType())
	}

	shape := src.Shape()
	data := src.AsFloat32()
	switch len(shape) {
	case 2:
		if dst.Total() != shape.NumElements() {
			return fmt.Errorf("%w: host buffer %v does not fill engine tensor of %d elements",
				ErrShape, shape, dst.Total())
		}
		copy(dst.Data(), data)
	case 4:
		c, h, w := shape[1], shape[2], shape[3]
		if dst.C != c || dst.H != h || dst.W != w {
			return fmt.Errorf("%w: host buffer %v does not match engine tensor %dx%dx%d",
				ErrShape, shape, dst.W, dst.H, dst.C)
		}
		for ci := 0; ci < c; ci++ {
			plane := dst.Channel(ci)
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					plane[hi*w+wi] = data[ci*h*w+hi*w+wi]
				}
			}
		}
	default:
		return fmt.Errorf("%w: rank %d shape %v, want 2 or 4", ErrRank, len(shape), shape)
	}

	metrics.RecordMarshal("in", shape.NumElements())
	return nil
}

// marshalOut copies the layer's scratch output back into a bound host
// buffer, selecting the rank-2 or rank-4 routine by the buffer's
// declared rank.
func marshalOut(dst *tensor.RawTensor, src *engine.Mat) error {
	if dst.DType() != tensor.Float32 {
		return fmt.Errorf("%w: host buffer is %s, engine tensors are float32-only", ErrDType, dst.DType())
	}

	shape := dst.Shape()
	data := dst.AsFloat32()
	switch len(shape) {
	case 2:
		if src.Total() != shape.NumElements() {
			return fmt.Errorf("%w: engine tensor of %d elements does not fill host buffer %v",
				ErrShape, src.Total(), shape)
		}
		copy(data, src.Data())
	case 4:
		c, h, w := shape[1], shape[2], shape[3]
		if src.C != c || src.H != h || src.W != w {
			return fmt.Errorf("%w: engine tensor %dx%dx%d does not match host buffer %v",
				ErrShape, src.W, src.H, src.C, shape)
		}
		for ci := 0; ci < c; ci++ {
			plane := src.Channel(ci)
			for hi := 0; hi < h; hi++ {
				for wi := 0; wi < w; wi++ {
					data[ci*h*w+hi*w+wi] = plane[hi*w+wi]
				}
			}
		}
	default:
		return fmt.Errorf("%w: rank %d shape %v, want 2 or 4", ErrRank, len(shape), shape)
	}

	metrics.RecordMarshal("out", shape.NumElements())
	return nil
}
