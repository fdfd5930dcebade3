package layers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrInvalidLayerConfig reports a non-positive neuron count, a negative input
	// count, or a first layer without an explicit input size.
	ErrInvalidLayerConfig = errors.New("invalid layer configuration")

	// ErrInvalidActivation reports an activation outside the supported set.
	ErrInvalidActivation = errors.New("invalid activation function")
)

// ActivationType identifies the activation applied by a dense layer.
// The numeric values are the codes understood by the compute engine.
type ActivationType uint32

const (
	Sigmoid ActivationType = iota
	ReLU
	LeakyReLU
	ELU
	Tanh
	Softmax
)

var activationNames = [...]string{
	Sigmoid:   "sigmoid",
	ReLU:      "relu",
	LeakyReLU: "leaky_relu",
	ELU:       "elu",
	Tanh:      "tanh",
	Softmax:   "softmax",
}

func (at ActivationType) String() string {
	if at.Valid() {
		return activationNames[at]
	}
	return "unknown"
}

// Valid reports whether at is one of the supported activations.
func (at ActivationType) Valid() bool {
	return int(at) < len(activationNames)
}

// ParseActivation maps an activation name to its ActivationType.
func ParseActivation(name string) (ActivationType, error) {
	for i, n := range activationNames {
		if n == name {
			return ActivationType(i), nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidActivation,
		"%q (available: %s)", name, strings.Join(activationNames[:], ", "))
}

// MarshalText encodes the activation name.
func (at ActivationType) MarshalText() ([]byte, error) {
	if !at.Valid() {
		return nil, errors.Wrapf(ErrInvalidActivation, "activation code %d", uint32(at))
	}
	return []byte(at.String()), nil
}

// UnmarshalText decodes an activation name.
func (at *ActivationType) UnmarshalText(text []byte) error {
	parsed, err := ParseActivation(string(text))
	if err != nil {
		return err
	}
	*at = parsed
	return nil
}

// Activations lists every supported activation in code order.
func Activations() []ActivationType {
	out := make([]ActivationType, len(activationNames))
	for i := range out {
		out[i] = ActivationType(i)
	}
	return out
}

// LayerSpec describes one fully connected layer.
// Inputs of zero means the input size is taken from the previous layer.
type LayerSpec struct {
	Neurons    int            `json:"neurons" yaml:"neurons"`
	Activation ActivationType `json:"activation" yaml:"activation"`
	Inputs     int            `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// NewDense validates and builds a dense layer specification.
func NewDense(neurons int, activation string, inputs int) (LayerSpec, error) {
	if neurons <= 0 {
		return LayerSpec{}, errors.Wrapf(ErrInvalidLayerConfig, "neuron count must be positive, got %d", neurons)
	}
	if inputs < 0 {
		return LayerSpec{}, errors.Wrapf(ErrInvalidLayerConfig, "input count must be non-negative, got %d", inputs)
	}
	act, err := ParseActivation(activation)
	if err != nil {
		return LayerSpec{}, err
	}
	return LayerSpec{Neurons: neurons, Activation: act, Inputs: inputs}, nil
}

// Validate repeats the NewDense checks for specs built as struct literals.
func (ls LayerSpec) Validate() error {
	if ls.Neurons <= 0 {
		return errors.Wrapf(ErrInvalidLayerConfig, "neuron count must be positive, got %d", ls.Neurons)
	}
	if ls.Inputs < 0 {
		return errors.Wrapf(ErrInvalidLayerConfig, "input count must be non-negative, got %d", ls.Inputs)
	}
	if !ls.Activation.Valid() {
		return errors.Wrapf(ErrInvalidActivation, "activation code %d", uint32(ls.Activation))
	}
	return nil
}

// ParameterCount returns the number of weights plus biases. It is only
// meaningful once the input size has been resolved by a Topology.
func (ls LayerSpec) ParameterCount() int64 {
	return int64(ls.Inputs)*int64(ls.Neurons) + int64(ls.Neurons)
}

func (ls LayerSpec) String() string {
	return fmt.Sprintf("Dense(neurons=%d, activation=%s, inputs=%d)", ls.Neurons, ls.Activation, ls.Inputs)
}
