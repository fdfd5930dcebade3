package model

import (
	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/checkpoints"
	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
)

var (
	// ErrNoLayers reports a compile on an empty topology.
	ErrNoLayers = errors.New("no layers specified")

	// ErrNotCompiled reports a fit, predict or save before a successful compile.
	ErrNotCompiled = errors.New("model is not compiled")

	// ErrEngineInconsistent reports a handle whose engine failed partway
	// through a compile. Only Load can recover it.
	ErrEngineInconsistent = errors.New("engine state is inconsistent with the model")

	// ErrEngineContract reports an engine response that breaks the binding
	// contract, such as an output of the wrong length.
	ErrEngineContract = errors.New("engine violated the binding contract")

	// ErrInvalidTrainingData reports mismatched or empty training sets.
	ErrInvalidTrainingData = errors.New("invalid training data")
)

// Re-exported so callers can match every lifecycle error through this package.
var (
	ErrInvalidLayerConfig    = layers.ErrInvalidLayerConfig
	ErrInvalidActivation     = layers.ErrInvalidActivation
	ErrInvalidTopology       = layers.ErrInvalidTopology
	ErrInvalidHyperparameter = optimizer.ErrInvalidHyperparameter
	ErrInvalidModelPath      = checkpoints.ErrInvalidModelPath
	ErrArtifactMismatch      = checkpoints.ErrArtifactMismatch
	ErrCorruptSidecar        = checkpoints.ErrCorruptSidecar
	ErrUnsupportedSchema     = checkpoints.ErrUnsupportedSchema
	ErrEngineUnavailable     = engine.ErrEngineUnavailable
)
