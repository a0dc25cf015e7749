package engine

import (
	"fmt"

	"github.com/digital-nomad-cheng/tvm/internal/parallel"
)

// InnerProduct is the engine's fully-connected layer. The input is
// consumed flattened; the output is a single row of OutFeatures
// values with the optional bias and activation fused into the same
// pass over the weights.
type InnerProduct struct {
	Params InnerProductParams

	weight []float32 // [OutFeatures][InFeatures], row-major
	bias   []float32

	opt   Options
	fan   parallel.Config
	built bool
}

// NewInnerProduct creates an unbuilt fully-connected layer.
func NewInnerProduct(p InnerProductParams) *InnerProduct {
	return &InnerProduct{Params: p}
}

func (l *InnerProduct) TypeName() string { return "InnerProduct" }

// LoadWeights copies the weight and bias buffers into the layer. The
// weight length must equal Params.WeightSize; bias is required iff
// Params.BiasTerm and must carry one value per output feature.
func (l *InnerProduct) LoadWeights(weight, bias []float32) error {
	if len(weight) != l.Params.WeightSize {
		return fmt.Errorf("%w: innerproduct weight carries %d elements, want %d",
			ErrWeightSize, len(weight), l.Params.WeightSize)
	}
	if l.Params.BiasTerm && len(bias) != l.Params.OutFeatures {
		return fmt.Errorf("%w: innerproduct bias carries %d elements, want %d",
			ErrWeightSize, len(bias), l.Params.OutFeatures)
	}
	if !l.Params.BiasTerm && len(bias) != 0 {
		return fmt.Errorf("%w: innerproduct declares no bias term but got %d bias elements",
			ErrWeightSize, len(bias))
	}

	l.weight = append([]float32(nil), weight...)
	if l.Params.BiasTerm {
		l.bias = append([]float32(nil), bias...)
	}
	return nil
}

// BuildPipeline finalizes the layer. Called exactly once.
func (l *InnerProduct) BuildPipeline(opt Options) error {
	if l.built {
		return ErrPipelineRebuilt
	}
	if l.weight == nil {
		return fmt.Errorf("%w: innerproduct", ErrWeightsNotLoaded)
	}
	if l.Params.OutFeatures <= 0 || l.Params.WeightSize%l.Params.OutFeatures != 0 {
		return fmt.Errorf("%w: weight size %d does not divide into %d output features",
			ErrWeightSize, l.Params.WeightSize, l.Params.OutFeatures)
	}

	l.opt = opt
	l.fan = parallel.WithWorkers(opt.NumThreads)
	l.built = true
	return nil
}

// InFeatures returns the flattened input width implied by the weight
// geometry. Valid after BuildPipeline.
func (l *InnerProduct) InFeatures() int {
	return l.Params.WeightSize / l.Params.OutFeatures
}

// Forward computes out = activation(weight * flatten(in) + bias).
func (l *InnerProduct) Forward(in, out *Mat) error {
	if !l.built {
		return fmt.Errorf("%w: innerproduct", ErrPipelineNotBuilt)
	}

	inFeatures := l.InFeatures()
	if in.Total() != inFeatures {
		return fmt.Errorf("%w: innerproduct input carries %d elements, want %d",
			ErrShape, in.Total(), inFeatures)
	}
	if out.Total() != l.Params.OutFeatures {
		return fmt.Errorf("%w: innerproduct output carries %d elements, want %d",
			ErrShape, out.Total(), l.Params.OutFeatures)
	}

	if handled, err := l.forwardGPU(in, out); handled {
		return err
	}

	x := in.Data()
	y := out.Data()
	parallel.For(l.Params.OutFeatures, func(o int) {
		row := l.weight[o*inFeatures : (o+1)*inFeatures]
		var sum float32
		if l.bias != nil {
			sum = l.bias[o]
		}
		for i, w := range row {
			sum += w * x[i]
		}
		y[o] = activate(sum, l.Params.Activation)
	}, l.fan)

	return nil
}

// Destroy releases weight buffers. Safe to call repeatedly and after
// a failed build.
func (l *InnerProduct) Destroy() {
	l.weight = nil
	l.bias = nil
	l.built = false
}
