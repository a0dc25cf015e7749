//go:build !webgpu

package engine

// forwardGPU is a stub: without the webgpu build tag every layer runs
// on the CPU kernels and Options.PreferGPU is ignored.
func (l *InnerProduct) forwardGPU(_, _ *Mat) (bool, error) {
	return false, nil
}
