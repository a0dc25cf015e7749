package engine

// Options are the execution options captured once at pipeline-build
// time. They never change after a layer is built.
type Options struct {
	// NumThreads is the fixed intra-operator worker count. Values
	// below 2 run layers sequentially.
	NumThreads int

	// PreferGPU routes supported layers through the GPU compute path
	// when the engine is built with the webgpu tag. Without the tag
	// it is ignored and layers run on the CPU kernels.
	PreferGPU bool
}

// DefaultOptions returns the options every module uses unless the
// host overrides them: a two-worker pool, CPU execution.
func DefaultOptions() Options {
	return Options{NumThreads: 2}
}
