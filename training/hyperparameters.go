package training

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/optimizer"
)

// ErrInvalidHyperparameter is shared with the optimizer package so a single
// errors.Is check covers every hyperparameter selection.
var ErrInvalidHyperparameter = optimizer.ErrInvalidHyperparameter

// LossType identifies the loss minimized by the engine.
type LossType uint32

const (
	MeanAbsoluteError LossType = iota
	MeanSquaredError
	Quadratic
	HalfQuadratic
	CrossEntropy
	NLL
)

var lossNames = [...]string{
	MeanAbsoluteError: "mean_absolute_error",
	MeanSquaredError:  "mean_squared_error",
	Quadratic:         "quadratic",
	HalfQuadratic:     "half_quadratic",
	CrossEntropy:      "cross_entropy",
	NLL:               "nll",
}

func (lt LossType) String() string {
	if lt.Valid() {
		return lossNames[lt]
	}
	return "unknown"
}

// Valid reports whether lt is a known loss.
func (lt LossType) Valid() bool { return int(lt) < len(lossNames) }

// ParseLoss maps a loss name to its LossType.
func ParseLoss(name string) (LossType, error) {
	i, err := lookup(lossNames[:], name, "loss")
	return LossType(i), err
}

// MarshalText encodes the loss name.
func (lt LossType) MarshalText() ([]byte, error) {
	if !lt.Valid() {
		return nil, errors.Wrapf(ErrInvalidHyperparameter, "loss code %d", uint32(lt))
	}
	return []byte(lt.String()), nil
}

// UnmarshalText decodes a loss name.
func (lt *LossType) UnmarshalText(text []byte) error {
	v, err := ParseLoss(string(text))
	if err == nil {
		*lt = v
	}
	return err
}

// InitializerType identifies the weight initialization scheme. The numeric
// values follow the engine's enumeration order.
type InitializerType uint32

const (
	Random InitializerType = iota
	XavierUniform
	XavierNormal
	HeUniform
	HeNormal
	LecunUniform
	LecunNormal
)

var initializerNames = [...]string{
	Random:        "random",
	XavierUniform: "xavier_uniform",
	XavierNormal:  "xavier_normal",
	HeUniform:     "he_uniform",
	HeNormal:      "he_normal",
	LecunUniform:  "lecun_uniform",
	LecunNormal:   "lecun_normal",
}

func (it InitializerType) String() string {
	if it.Valid() {
		return initializerNames[it]
	}
	return "unknown"
}

// Valid reports whether it is a known initializer.
func (it InitializerType) Valid() bool { return int(it) < len(initializerNames) }

// ParseInitializer maps an initializer name to its InitializerType.
func ParseInitializer(name string) (InitializerType, error) {
	i, err := lookup(initializerNames[:], name, "initializer")
	return InitializerType(i), err
}

// MarshalText encodes the initializer name.
func (it InitializerType) MarshalText() ([]byte, error) {
	if !it.Valid() {
		return nil, errors.Wrapf(ErrInvalidHyperparameter, "initializer code %d", uint32(it))
	}
	return []byte(it.String()), nil
}

// UnmarshalText decodes an initializer name.
func (it *InitializerType) UnmarshalText(text []byte) error {
	v, err := ParseInitializer(string(text))
	if err == nil {
		*it = v
	}
	return err
}

// RegularizerType identifies the weight penalty applied during training.
type RegularizerType uint32

const (
	NoRegularizer RegularizerType = iota
	L1
	L2
	L1L2
)

var regularizerNames = [...]string{
	NoRegularizer: "none",
	L1:            "l1",
	L2:            "l2",
	L1L2:          "l1l2",
}

func (rt RegularizerType) String() string {
	if rt.Valid() {
		return regularizerNames[rt]
	}
	return "unknown"
}

// Valid reports whether rt is a known regularizer.
func (rt RegularizerType) Valid() bool { return int(rt) < len(regularizerNames) }

// ParseRegularizer maps a regularizer name to its RegularizerType.
func ParseRegularizer(name string) (RegularizerType, error) {
	i, err := lookup(regularizerNames[:], name, "regularizer")
	return RegularizerType(i), err
}

// MarshalText encodes the regularizer name.
func (rt RegularizerType) MarshalText() ([]byte, error) {
	if !rt.Valid() {
		return nil, errors.Wrapf(ErrInvalidHyperparameter, "regularizer code %d", uint32(rt))
	}
	return []byte(rt.String()), nil
}

// UnmarshalText decodes a regularizer name.
func (rt *RegularizerType) UnmarshalText(text []byte) error {
	v, err := ParseRegularizer(string(text))
	if err == nil {
		*rt = v
	}
	return err
}

func lookup(names []string, name, kind string) (int, error) {
	for i, n := range names {
		if n == name {
			return i, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidHyperparameter,
		"unknown %s %q (available: %s)", kind, name, strings.Join(names, ", "))
}
