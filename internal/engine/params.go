package engine

import "fmt"

// ActivationType selects the activation fused into a layer's forward
// pass. Fusing avoids a second pass and an intermediate tensor.
type ActivationType int

const (
	ActivationNone ActivationType = iota
	ActivationReLU
)

// ParseActivation maps the serialized activation attribute to its
// engine representation.
func ParseActivation(s string) (ActivationType, error) {
	switch s {
	case "":
		return ActivationNone, nil
	case "relu":
		return ActivationReLU, nil
	default:
		return ActivationNone, fmt.Errorf("unsupported activation %q", s)
	}
}

// Axes holds one per-axis value pair for the spatial attributes of a
// convolution. Only the isotropic case is supported: both axes must
// carry the same value, and builders reject anything else rather than
// silently dropping the second axis.
type Axes struct {
	H, W int
}

// Iso builds an isotropic pair.
func Iso(v int) Axes {
	return Axes{H: v, W: v}
}

// Isotropic reports whether both axes agree.
func (a Axes) Isotropic() bool {
	return a.H == a.W
}

// InnerProductParams configures a fully-connected layer.
type InnerProductParams struct {
	OutFeatures int
	BiasTerm    bool
	WeightSize  int // total weight element count, OutFeatures * InFeatures
	Activation  ActivationType
}

// ConvolutionParams configures a 2D convolution layer.
type ConvolutionParams struct {
	OutChannels int
	Kernel      Axes
	Stride      Axes
	Pad         Axes
	Dilation    Axes
	BiasTerm    bool
	WeightSize  int // total weight element count across all filters
	Activation  ActivationType
}

// ReshapeParams configures a reshape layer. A value of -1 means
// "absorb every remaining element". The engine supports only the
// fixed flatten configuration, FixedFlattenParams.
type ReshapeParams struct {
	W, H, C int
}

// FixedFlattenParams is the single reshape configuration the engine
// supports: flatten everything into one row.
func FixedFlattenParams() ReshapeParams {
	return ReshapeParams{W: -1, H: 1, C: 0}
}
