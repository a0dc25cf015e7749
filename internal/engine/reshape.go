package engine

import "fmt"

// Reshape is a degenerate single-parameter layer. The engine supports
// only the fixed flatten configuration (everything into one row); the
// target shape is part of the layer parameters, never read from the
// surrounding graph. Known limitation, kept deliberately.
type Reshape struct {
	Params ReshapeParams

	opt   Options
	built bool
}

// NewReshape creates an unbuilt reshape layer.
func NewReshape(p ReshapeParams) *Reshape {
	return &Reshape{Params: p}
}

func (l *Reshape) TypeName() string { return "Reshape" }

// BuildPipeline finalizes the layer. Called exactly once.
func (l *Reshape) BuildPipeline(opt Options) error {
	if l.built {
		return ErrPipelineRebuilt
	}
	if l.Params != FixedFlattenParams() {
		return fmt.Errorf("reshape supports only the fixed flatten configuration, got %+v", l.Params)
	}
	l.opt = opt
	l.built = true
	return nil
}

// Forward flattens in into out. Element order is preserved exactly,
// so a round trip through this layer is bit-for-bit.
func (l *Reshape) Forward(in, out *Mat) error {
	if !l.built {
		return fmt.Errorf("%w: reshape", ErrPipelineNotBuilt)
	}
	if out.H != 1 || out.C != 1 || out.W != in.Total() {
		return fmt.Errorf("%w: reshape output is %dx%dx%d, want flat %d",
			ErrShape, out.W, out.H, out.C, in.Total())
	}
	copy(out.Data(), in.Data())
	return nil
}

// Destroy is a no-op beyond resetting the build state; the layer owns
// no weight buffers.
func (l *Reshape) Destroy() {
	l.built = false
}
