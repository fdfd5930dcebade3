package training

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/optimizer"
)

// FieldError names the configuration field that failed validation.
// It unwraps to the underlying cause, which wraps ErrInvalidHyperparameter.
type FieldError struct {
	Field string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// CompileOptions is the caller-facing compile configuration.
// Empty names select the defaults of DefaultCompileOptions.
type CompileOptions struct {
	Optimizer   optimizer.Selector `json:"optimizer" yaml:"optimizer"`
	Loss        string             `json:"loss" yaml:"loss"`
	Initializer string             `json:"initializer" yaml:"initializer"`
	Regularizer string             `json:"regularizer" yaml:"regularizer"`
}

// DefaultCompileOptions returns plain SGD on mean squared error with random
// initialization and no regularization.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{
		Optimizer:   optimizer.Named(optimizer.SGD.String()),
		Loss:        MeanSquaredError.String(),
		Initializer: Random.String(),
		Regularizer: NoRegularizer.String(),
	}
}

// Resolved is a validated CompileOptions with every selection mapped to its code.
type Resolved struct {
	Optimizer     optimizer.Config
	Parameterized bool
	Loss          LossType
	Initializer   InitializerType
	Regularizer   RegularizerType
}

// Validate resolves every selection, reporting the first invalid field.
func (o CompileOptions) Validate() (Resolved, error) {
	o = o.withDefaults()

	opt, err := o.Optimizer.Resolve()
	if err != nil {
		return Resolved{}, &FieldError{Field: "optimizer", Value: o.Optimizer.String(), Err: err}
	}
	loss, err := ParseLoss(o.Loss)
	if err != nil {
		return Resolved{}, &FieldError{Field: "loss", Value: o.Loss, Err: err}
	}
	initializer, err := ParseInitializer(o.Initializer)
	if err != nil {
		return Resolved{}, &FieldError{Field: "initializer", Value: o.Initializer, Err: err}
	}
	reg, err := ParseRegularizer(o.Regularizer)
	if err != nil {
		return Resolved{}, &FieldError{Field: "regularizer", Value: o.Regularizer, Err: err}
	}

	return Resolved{
		Optimizer:     opt,
		Parameterized: o.Optimizer.Parameterized(),
		Loss:          loss,
		Initializer:   initializer,
		Regularizer:   reg,
	}, nil
}

func (o CompileOptions) withDefaults() CompileOptions {
	def := DefaultCompileOptions()
	if o.Optimizer.IsZero() {
		o.Optimizer = def.Optimizer
	}
	if o.Loss == "" {
		o.Loss = def.Loss
	}
	if o.Initializer == "" {
		o.Initializer = def.Initializer
	}
	if o.Regularizer == "" {
		o.Regularizer = def.Regularizer
	}
	return o
}

// FitConfig controls a single training run.
type FitConfig struct {
	Epochs    int `json:"epochs" yaml:"epochs"`
	BatchSize int `json:"batch_size" yaml:"batch_size"`
}

// DefaultFitConfig returns one epoch with a batch size of one.
func DefaultFitConfig() FitConfig {
	return FitConfig{
		Epochs:    1,
		BatchSize: 1,
	}
}

// Validate checks that both counts are positive.
func (c FitConfig) Validate() error {
	if c.Epochs <= 0 {
		return &FieldError{
			Field: "epochs",
			Value: fmt.Sprint(c.Epochs),
			Err:   errors.Wrap(ErrInvalidHyperparameter, "epochs must be positive"),
		}
	}
	if c.BatchSize <= 0 {
		return &FieldError{
			Field: "batch_size",
			Value: fmt.Sprint(c.BatchSize),
			Err:   errors.Wrap(ErrInvalidHyperparameter, "batch size must be positive"),
		}
	}
	return nil
}
