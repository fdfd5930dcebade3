package cgo_bridge

import (
	"log/slog"
	"math"

	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
)

// Exported symbols every engine library must provide. Each returns an int
// status where 0 means success.
const (
	symAdd               = "nn_add"
	symAddTrainingSample = "nn_add_training_sample"
	symCompile           = "nn_compile"
	symCompileOptimizer  = "nn_compile_optimizer"
	symTrain             = "nn_train"
	symEval              = "nn_eval"
	symSave              = "nn_save"
	symLoad              = "nn_load"
	symStateLoaded       = "nn_state_loaded"
)

// Symbols lists the required exports in resolution order.
var Symbols = []string{
	symAdd,
	symAddTrainingSample,
	symCompile,
	symCompileOptimizer,
	symTrain,
	symEval,
	symSave,
	symLoad,
	symStateLoaded,
}

// ErrNativeCall reports a non-zero status from the engine library.
var ErrNativeCall = errors.New("native engine call failed")

// DenseRecord mirrors the C dense_t struct.
type DenseRecord struct {
	Neurons    uint32
	Activation uint32
	Inputs     uint32
}

// NewDenseRecord converts a resolved layer spec to its native record.
func NewDenseRecord(spec layers.LayerSpec) (DenseRecord, error) {
	if err := spec.Validate(); err != nil {
		return DenseRecord{}, err
	}
	if spec.Inputs == 0 {
		return DenseRecord{}, errors.Wrap(layers.ErrInvalidLayerConfig, "layer input size not resolved")
	}
	if uint64(spec.Neurons) > math.MaxUint32 || uint64(spec.Inputs) > math.MaxUint32 {
		return DenseRecord{}, errors.Wrapf(layers.ErrInvalidLayerConfig, "layer %s exceeds native limits", spec)
	}
	return DenseRecord{
		Neurons:    uint32(spec.Neurons),
		Activation: uint32(spec.Activation),
		Inputs:     uint32(spec.Inputs),
	}, nil
}

// PackOptimizer validates cfg and returns its packed parameter record.
func PackOptimizer(cfg optimizer.Config) ([]float64, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg.Fields(), nil
}

func statusError(symbol string, status int) error {
	if status == 0 {
		return nil
	}
	return errors.Wrapf(ErrNativeCall, "%s returned status %d", symbol, status)
}

// Option configures a Library.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger for library loading and engine calls.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Opener locates the engine library and returns an engine.Opener that
// binds to it.
func Opener(loc LocateOptions, opts ...Option) engine.Opener {
	return func() (engine.Binding, error) {
		path, err := Locate(loc)
		if err != nil {
			return nil, err
		}
		lib, err := Open(path, opts...)
		if err != nil {
			return nil, err
		}
		return lib, nil
	}
}
