package engine

import (
	"fmt"

	"github.com/digital-nomad-cheng/tvm/internal/parallel"
)

// Convolution is the engine's 2D convolution layer. Weights are laid
// out [OutChannels][InChannels][KernelH][KernelW]; padding is
// implicit zero fill; bias and activation are fused into the output
// loop.
type Convolution struct {
	Params ConvolutionParams

	weight []float32
	bias   []float32

	opt   Options
	fan   parallel.Config
	built bool
}

// NewConvolution creates an unbuilt convolution layer.
func NewConvolution(p ConvolutionParams) *Convolution {
	return &Convolution{Params: p}
}

func (l *Convolution) TypeName() string { return "Convolution" }

// LoadWeights copies the filter and bias buffers into the layer.
func (l *Convolution) LoadWeights(weight, bias []float32) error {
	if len(weight) != l.Params.WeightSize {
		return fmt.Errorf("%w: convolution weight carries %d elements, want %d",
			ErrWeightSize, len(weight), l.Params.WeightSize)
	}
	if l.Params.BiasTerm && len(bias) != l.Params.OutChannels {
		return fmt.Errorf("%w: convolution bias carries %d elements, want %d",
			ErrWeightSize, len(bias), l.Params.OutChannels)
	}
	if !l.Params.BiasTerm && len(bias) != 0 {
		return fmt.Errorf("%w: convolution declares no bias term but got %d bias elements",
			ErrWeightSize, len(bias))
	}

	l.weight = append([]float32(nil), weight...)
	if l.Params.BiasTerm {
		l.bias = append([]float32(nil), bias...)
	}
	return nil
}

// BuildPipeline finalizes the layer. Called exactly once.
func (l *Convolution) BuildPipeline(opt Options) error {
	if l.built {
		return ErrPipelineRebuilt
	}
	if l.weight == nil {
		return fmt.Errorf("%w: convolution", ErrWeightsNotLoaded)
	}

	p := l.Params
	for name, axes := range map[string]Axes{
		"kernel_size": p.Kernel, "strides": p.Stride, "padding": p.Pad, "dilation": p.Dilation,
	} {
		if !axes.Isotropic() {
			return fmt.Errorf("anisotropic %s %dx%d is not supported", name, axes.H, axes.W)
		}
	}
	if p.OutChannels <= 0 || p.Kernel.H <= 0 || p.Stride.H <= 0 || p.Dilation.H <= 0 {
		return fmt.Errorf("%w: convolution params %+v", ErrShape, p)
	}
	kernelArea := p.Kernel.H * p.Kernel.W
	if p.WeightSize%(p.OutChannels*kernelArea) != 0 {
		return fmt.Errorf("%w: weight size %d does not divide into %d filters of %dx%d",
			ErrWeightSize, p.WeightSize, p.OutChannels, p.Kernel.H, p.Kernel.W)
	}

	l.opt = opt
	l.fan = parallel.WithWorkers(opt.NumThreads)
	l.built = true
	return nil
}

// InChannels returns the input channel count implied by the weight
// geometry. Valid after BuildPipeline.
func (l *Convolution) InChannels() int {
	return l.Params.WeightSize / (l.Params.OutChannels * l.Params.Kernel.H * l.Params.Kernel.W)
}

// OutputDims computes the spatial output size for an input plane.
func (l *Convolution) OutputDims(inW, inH int) (outW, outH int) {
	p := l.Params
	dkW := p.Dilation.W*(p.Kernel.W-1) + 1
	dkH := p.Dilation.H*(p.Kernel.H-1) + 1
	outW = (inW+2*p.Pad.W-dkW)/p.Stride.W + 1
	outH = (inH+2*p.Pad.H-dkH)/p.Stride.H + 1
	return outW, outH
}

// Forward computes one convolution pass, fanning out across output
// channels.
func (l *Convolution) Forward(in, out *Mat) error {
	if !l.built {
		return fmt.Errorf("%w: convolution", ErrPipelineNotBuilt)
	}

	p := l.Params
	inChannels := l.InChannels()
	if in.C != inChannels {
		return fmt.Errorf("%w: convolution input carries %d channels, want %d",
			ErrShape, in.C, inChannels)
	}

	outW, outH := l.OutputDims(in.W, in.H)
	if outW <= 0 || outH <= 0 {
		return fmt.Errorf("%w: convolution of %dx%d input yields empty %dx%d output",
			ErrShape, in.W, in.H, outW, outH)
	}
	if out.W != outW || out.H != outH || out.C != p.OutChannels {
		return fmt.Errorf("%w: convolution output is %dx%dx%d, want %dx%dx%d",
			ErrShape, out.W, out.H, out.C, outW, outH, p.OutChannels)
	}

	kernelArea := p.Kernel.H * p.Kernel.W
	filterSize := inChannels * kernelArea

	parallel.For(p.OutChannels, func(oc int) {
		dst := out.Channel(oc)
		filter := l.weight[oc*filterSize : (oc+1)*filterSize]
		var biasVal float32
		if l.bias != nil {
			biasVal = l.bias[oc]
		}

		for oy := 0; oy < outH; oy++ {
			for ox := 0; ox < outW; ox++ {
				sum := biasVal
				for ic := 0; ic < inChannels; ic++ {
					src := in.Channel(ic)
					kbase := ic * kernelArea
					for ky := 0; ky < p.Kernel.H; ky++ {
						iy := oy*p.Stride.H + ky*p.Dilation.H - p.Pad.H
						if iy < 0 || iy >= in.H {
							continue // zero padding
						}
						for kx := 0; kx < p.Kernel.W; kx++ {
							ix := ox*p.Stride.W + kx*p.Dilation.W - p.Pad.W
							if ix < 0 || ix >= in.W {
								continue
							}
							sum += filter[kbase+ky*p.Kernel.W+kx] * src[iy*in.W+ix]
						}
					}
				}
				dst[oy*outW+ox] = activate(sum, p.Activation)
			}
		}
	}, l.fan)

	return nil
}

// Destroy releases weight buffers. Safe to call repeatedly and after
// a failed build.
func (l *Convolution) Destroy() {
	l.weight = nil
	l.bias = nil
	l.built = false
}
