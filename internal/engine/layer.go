package engine

import "errors"

// Lifecycle failures shared by every layer.
var (
	ErrPipelineNotBuilt = errors.New("layer pipeline has not been built")
	ErrPipelineRebuilt  = errors.New("layer pipeline is built exactly once")
	ErrWeightsNotLoaded = errors.New("layer weights have not been loaded")
	ErrWeightSize       = errors.New("weight buffer size mismatch")
	ErrShape            = errors.New("tensor shape mismatch")
)

// Layer is the contract every engine layer satisfies. The lifecycle
// is fixed: construct with typed params, load weights, build the
// pipeline once, then forward any number of times. Destroy releases
// weight buffers and is safe on every exit path, including a build
// that failed partway.
type Layer interface {
	// TypeName is the engine-side layer type, e.g. "InnerProduct".
	TypeName() string

	// BuildPipeline finalizes the layer against fixed execution
	// options. It fails on a second call.
	BuildPipeline(opt Options) error

	// Forward runs one pass from in to out. Both tensors are owned by
	// the caller and must match the layer's declared geometry.
	Forward(in, out *Mat) error

	// Destroy releases the pipeline and weight buffers. Idempotent.
	Destroy()
}

// activate applies the fused activation to one value.
func activate(v float32, act ActivationType) float32 {
	if act == ActivationReLU && v < 0 {
		return 0
	}
	return v
}
