package engine

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

// ErrEngineUnavailable reports that no compute engine could be acquired.
var ErrEngineUnavailable = errors.New("compute engine unavailable")

// CompileConfig carries the validated, integer-coded compile selections
// pushed to the engine.
type CompileConfig struct {
	Optimizer   optimizer.Config
	Loss        training.LossType
	Initializer training.InitializerType
	Regularizer training.RegularizerType
}

// Binding is the contract with the external compute engine. A Binding owns
// the numeric state (weights, optimizer moments, pending training samples);
// callers only push configuration and data through it.
//
// Calls must arrive in lifecycle order: every Add for the topology in layer
// order, then exactly one of Compile or CompileWithParams, then any number of
// AddTrainingSample/Train/Eval/Save calls. An Add after Compile or Load
// starts a new layer sequence. Load replaces the weights only and must be
// followed by StateLoaded before the engine trains again.
type Binding interface {
	// Add registers the next layer. Inputs is always resolved.
	Add(layer layers.LayerSpec) error

	// AddTrainingSample queues one sample for the next Train call.
	AddTrainingSample(input, target []float64) error

	// Compile builds the network with the default hyperparameters of cfg.Optimizer.Type.
	Compile(cfg CompileConfig) error

	// CompileWithParams builds the network with the explicit optimizer record.
	CompileWithParams(cfg CompileConfig) error

	// Train runs synchronously over the queued samples.
	Train(epochs, batchSize int) error

	// Eval runs a forward pass without changing engine state.
	Eval(input []float64) ([]float64, error)

	// Save writes the weights artifact to path.
	Save(path string) error

	// Load reads a weights artifact written by Save.
	Load(path string) error

	// StateLoaded restores the optimizer and regularizer after Load.
	StateLoaded(opt optimizer.Config, reg training.RegularizerType, inputSize, outputSize int) error

	// Close releases the engine.
	Close() error
}

// Opener acquires a fresh Binding.
type Opener func() (Binding, error)

// Open calls opener and reports any failure as ErrEngineUnavailable.
func Open(opener Opener) (Binding, error) {
	if opener == nil {
		return nil, errors.Wrap(ErrEngineUnavailable, "no engine opener configured")
	}
	b, err := opener()
	if err != nil {
		if errors.Is(err, ErrEngineUnavailable) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrEngineUnavailable, "failed to open engine: %v", err)
	}
	if b == nil {
		return nil, errors.Wrap(ErrEngineUnavailable, "engine opener returned no binding")
	}
	return b, nil
}
