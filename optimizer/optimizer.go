package optimizer

import (
	"math"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidHyperparameter reports an optimizer, loss, initializer or
// regularizer selection outside its closed set, or a malformed parameter record.
var ErrInvalidHyperparameter = errors.New("invalid hyperparameter")

// Type identifies an optimizer. The numeric values are the engine codes.
type Type uint32

const (
	SGD Type = iota
	Momentum
	Nesterov
	Adagrad
	RMSProp
	Adadelta
	Adam
	Nadam
	Adamax
	AMSGrad
	AdaBound
	AMSBound
)

var typeNames = [...]string{
	SGD:      "sgd",
	Momentum: "momentum",
	Nesterov: "nesterov",
	Adagrad:  "adagrad",
	RMSProp:  "rmsprop",
	Adadelta: "adadelta",
	Adam:     "adam",
	Nadam:    "nadam",
	Adamax:   "adamax",
	AMSGrad:  "amsgrad",
	AdaBound: "adabound",
	AMSBound: "amsbound",
}

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return "unknown"
}

// Valid reports whether t is a known optimizer.
func (t Type) Valid() bool {
	return int(t) < len(typeNames)
}

// ParseType maps an optimizer name to its Type.
func ParseType(name string) (Type, error) {
	for i, n := range typeNames {
		if n == name {
			return Type(i), nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidHyperparameter,
		"unknown optimizer %q (available: %s)", name, strings.Join(typeNames[:], ", "))
}

// MarshalText encodes the optimizer name.
func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrapf(ErrInvalidHyperparameter, "optimizer code %d", uint32(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText decodes an optimizer name.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// usesMomentum, usesBeta, usesBetas and isBounded describe which
// hyperparameters each optimizer kind carries.
func (t Type) usesMomentum() bool { return t == Momentum || t == Nesterov }
func (t Type) usesBeta() bool     { return t == RMSProp || t == Adadelta }
func (t Type) usesBetas() bool {
	switch t {
	case Adam, Nadam, Adamax, AMSGrad, AdaBound, AMSBound:
		return true
	}
	return false
}
func (t Type) isBounded() bool { return t == AdaBound || t == AMSBound }

// Defaults shared by every optimizer kind.
const (
	DefaultLearningRate      = 0.01
	DefaultMomentum          = 0.9
	DefaultBeta              = 0.999
	DefaultBeta1             = 0.9
	DefaultBeta2             = 0.999
	DefaultFinalLearningRate = 0.1
	DefaultGamma             = 1e-3
)

// Config is the parameter record for one optimizer kind. Only the fields
// used by Type may be non-zero.
type Config struct {
	Type              Type    `json:"type" yaml:"type"`
	LearningRate      float64 `json:"learning_rate" yaml:"learning_rate"`
	Momentum          float64 `json:"momentum,omitempty" yaml:"momentum,omitempty"`
	Beta              float64 `json:"beta,omitempty" yaml:"beta,omitempty"`
	Beta1             float64 `json:"beta1,omitempty" yaml:"beta1,omitempty"`
	Beta2             float64 `json:"beta2,omitempty" yaml:"beta2,omitempty"`
	FinalLearningRate float64 `json:"final_learning_rate,omitempty" yaml:"final_learning_rate,omitempty"`
	Gamma             float64 `json:"gamma,omitempty" yaml:"gamma,omitempty"`
}

// DefaultConfig returns the default parameter record for t.
func DefaultConfig(t Type) Config {
	cfg := Config{Type: t, LearningRate: DefaultLearningRate}
	switch {
	case t.usesMomentum():
		cfg.Momentum = DefaultMomentum
	case t.usesBeta():
		cfg.Beta = DefaultBeta
	case t.usesBetas():
		cfg.Beta1 = DefaultBeta1
		cfg.Beta2 = DefaultBeta2
		if t.isBounded() {
			cfg.FinalLearningRate = DefaultFinalLearningRate
			cfg.Gamma = DefaultGamma
		}
	}
	return cfg
}

// Validate checks the record is well formed for its kind.
func (c Config) Validate() error {
	if !c.Type.Valid() {
		return errors.Wrapf(ErrInvalidHyperparameter, "unknown optimizer code %d", uint32(c.Type))
	}
	if !positive(c.LearningRate) {
		return errors.Wrapf(ErrInvalidHyperparameter, "%s learning rate must be positive, got %g", c.Type, c.LearningRate)
	}

	if c.Type.usesMomentum() {
		if !(c.Momentum >= 0 && c.Momentum < 1) {
			return errors.Wrapf(ErrInvalidHyperparameter, "%s momentum must be in [0, 1), got %g", c.Type, c.Momentum)
		}
	} else if c.Momentum != 0 {
		return unexpectedField(c.Type, "momentum")
	}

	if c.Type.usesBeta() {
		if !openUnit(c.Beta) {
			return errors.Wrapf(ErrInvalidHyperparameter, "%s beta must be in (0, 1), got %g", c.Type, c.Beta)
		}
	} else if c.Beta != 0 {
		return unexpectedField(c.Type, "beta")
	}

	if c.Type.usesBetas() {
		if !openUnit(c.Beta1) {
			return errors.Wrapf(ErrInvalidHyperparameter, "%s beta1 must be in (0, 1), got %g", c.Type, c.Beta1)
		}
		if !openUnit(c.Beta2) {
			return errors.Wrapf(ErrInvalidHyperparameter, "%s beta2 must be in (0, 1), got %g", c.Type, c.Beta2)
		}
	} else if c.Beta1 != 0 || c.Beta2 != 0 {
		return unexpectedField(c.Type, "beta1/beta2")
	}

	if c.Type.isBounded() {
		if !positive(c.FinalLearningRate) {
			return errors.Wrapf(ErrInvalidHyperparameter, "%s final learning rate must be positive, got %g", c.Type, c.FinalLearningRate)
		}
		if !positive(c.Gamma) {
			return errors.Wrapf(ErrInvalidHyperparameter, "%s gamma must be positive, got %g", c.Type, c.Gamma)
		}
	} else if c.FinalLearningRate != 0 || c.Gamma != 0 {
		return unexpectedField(c.Type, "final_learning_rate/gamma")
	}

	return nil
}

// Fields returns the hyperparameters of c in engine record order:
// learning rate first, then momentum, beta, or beta1 and beta2, then
// final learning rate and gamma for the bounded variants.
func (c Config) Fields() []float64 {
	fields := []float64{c.LearningRate}
	switch {
	case c.Type.usesMomentum():
		fields = append(fields, c.Momentum)
	case c.Type.usesBeta():
		fields = append(fields, c.Beta)
	case c.Type.usesBetas():
		fields = append(fields, c.Beta1, c.Beta2)
		if c.Type.isBounded() {
			fields = append(fields, c.FinalLearningRate, c.Gamma)
		}
	}
	return fields
}

// Types lists every optimizer in code order.
func Types() []Type {
	out := make([]Type, len(typeNames))
	for i := range out {
		out[i] = Type(i)
	}
	return out
}

func unexpectedField(t Type, field string) error {
	return errors.Wrapf(ErrInvalidHyperparameter, "%s does not take %s", t, field)
}

func positive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

func openUnit(v float64) bool {
	return v > 0 && v < 1
}
