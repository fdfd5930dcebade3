// Package model provides Network, the handle that owns a layer topology,
// its compiled configuration and one compute engine binding.
//
// A Network moves through an explicit lifecycle: layers are added, the
// network is compiled (validating every hyperparameter and pushing the
// configuration to the engine), then trained, evaluated and persisted.
// Persistence writes two artifacts: the engine's opaque weights file and a
// metadata sidecar from which the compiled configuration is rebuilt.
//
// A Network is not safe for concurrent use.
package model

import (
	"log/slog"

	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/checkpoints"
	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/training"
)

// Network is a neural network handle.
type Network struct {
	binding  engine.Binding
	topology *layers.Topology
	state    *CompiledState

	// inconsistent is set when the engine failed partway through a push
	// and no longer matches topology or state.
	inconsistent bool

	store   *checkpoints.SidecarStore
	lenient bool
	logger  *slog.Logger
}

// New creates a Network around an already acquired binding.
func New(binding engine.Binding, opts ...Option) (*Network, error) {
	if binding == nil {
		return nil, errors.Wrap(engine.ErrEngineUnavailable, "no engine binding")
	}
	n := &Network{
		binding:  binding,
		topology: layers.NewTopology(),
		store:    checkpoints.NewSidecarStore(checkpoints.FormatJSON),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Open acquires a binding from opener and creates a Network around it.
func Open(opener engine.Opener, opts ...Option) (*Network, error) {
	binding, err := engine.Open(opener)
	if err != nil {
		return nil, err
	}
	return New(binding, opts...)
}

// LoadNetwork opens a fresh binding and loads the model saved at path into it.
func LoadNetwork(opener engine.Opener, path string, opts ...Option) (*Network, error) {
	n, err := Open(opener, opts...)
	if err != nil {
		return nil, err
	}
	if err := n.Load(path); err != nil {
		n.Close()
		return nil, err
	}
	return n, nil
}

// Add appends a layer to the topology. A compiled network goes back to
// the uncompiled state.
func (n *Network) Add(layer layers.LayerSpec) error {
	if err := n.topology.Add(layer); err != nil {
		return err
	}
	n.state = nil
	return nil
}

// AddDense builds a dense layer and appends it. An inputs value of 0 takes
// the input size from the previous layer.
func (n *Network) AddDense(neurons int, activation string, inputs int) error {
	spec, err := layers.NewDense(neurons, activation, inputs)
	if err != nil {
		return err
	}
	return n.Add(spec)
}

// Compile validates opts and configures the engine with the current topology.
// The network is only marked compiled once the engine accepted every layer and
// the hyperparameters. If the engine fails partway, the handle reports
// ErrEngineInconsistent until a successful Load.
func (n *Network) Compile(opts training.CompileOptions) error {
	if n.topology.Len() == 0 {
		return ErrNoLayers
	}
	res, err := opts.Validate()
	if err != nil {
		return err
	}
	if err := n.usable(); err != nil {
		return err
	}

	staged := newCompiledState(res, n.topology.Layers())

	for i, layer := range staged.Layers {
		if err := n.binding.Add(layer); err != nil {
			return n.engineFailed(err, "failed to register layer %d", i+1)
		}
	}

	cfg := staged.compileConfig()
	if staged.Parameterized {
		err = n.binding.CompileWithParams(cfg)
	} else {
		err = n.binding.Compile(cfg)
	}
	if err != nil {
		return n.engineFailed(err, "failed to compile %s network", staged.Optimizer.Type)
	}

	n.state = staged
	n.topology.MarkCompiled()
	n.logger.Info("compiled",
		"model_id", staged.ModelID,
		"optimizer", staged.Optimizer.Type.String(),
		"loss", staged.Loss.String(),
		"input_size", staged.InputSize,
		"output_size", staged.OutputSize,
		"layers", len(staged.Layers))
	return nil
}

// Fit pushes every sample to the engine and trains on them in one call.
// Fit blocks until training finishes.
func (n *Network) Fit(inputs, targets [][]float64, cfg training.FitConfig) error {
	if err := n.ready(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if len(inputs) == 0 {
		return errors.Wrap(ErrInvalidTrainingData, "no samples")
	}
	if len(inputs) != len(targets) {
		return errors.Wrapf(ErrInvalidTrainingData, "%d inputs but %d targets", len(inputs), len(targets))
	}

	for i := range inputs {
		if err := n.binding.AddTrainingSample(inputs[i], targets[i]); err != nil {
			n.logger.Error("engine rejected training sample", "sample", i, "error", err)
			return errors.Wrapf(err, "failed to add training sample %d", i)
		}
	}
	if err := n.binding.Train(cfg.Epochs, cfg.BatchSize); err != nil {
		n.logger.Error("training failed", "model_id", n.state.ModelID, "error", err)
		return errors.Wrap(err, "training failed")
	}

	n.logger.Info("trained",
		"model_id", n.state.ModelID,
		"samples", len(inputs),
		"epochs", cfg.Epochs,
		"batch_size", cfg.BatchSize)
	return nil
}

// Predict runs one forward pass.
func (n *Network) Predict(input []float64) (engine.Output, error) {
	if err := n.ready(); err != nil {
		return engine.Output{}, err
	}
	values, err := n.binding.Eval(input)
	if err != nil {
		return engine.Output{}, errors.Wrap(err, "evaluation failed")
	}
	if len(values) != n.state.OutputSize {
		return engine.Output{}, errors.Wrapf(ErrEngineContract,
			"engine returned %d outputs, network has %d", len(values), n.state.OutputSize)
	}
	return engine.NewOutput(values), nil
}

// Save writes the engine weights to path and the metadata sidecar next to
// it. The two writes are independent: if the sidecar write fails the new
// weights stay on disk.
func (n *Network) Save(path string) error {
	if err := n.ready(); err != nil {
		return err
	}
	if err := n.binding.Save(path); err != nil {
		n.logger.Error("engine save failed", "path", path, "error", err)
		return errors.Wrapf(err, "failed to save weights to %s", path)
	}

	digest, err := checkpoints.FileDigest(path)
	if err != nil {
		return errors.Wrap(err, "failed to fingerprint weights")
	}
	if err := n.store.Save(n.state.metadata(digest), path); err != nil {
		n.logger.Error("sidecar save failed", "path", checkpoints.SidecarPath(path), "error", err)
		return errors.Wrapf(err, "failed to save metadata for %s", path)
	}

	n.logger.Info("saved",
		"model_id", n.state.ModelID,
		"path", path,
		"sidecar", checkpoints.SidecarPath(path),
		"format", n.store.Format().String())
	return nil
}

// Load replaces the topology and compiled state with the model saved at
// path and restores the engine weights and optimizer state. If the engine
// fails, the previous topology and state are kept.
func (n *Network) Load(path string) error {
	if n.binding == nil {
		return errors.Wrap(engine.ErrEngineUnavailable, "network is closed")
	}
	if err := checkpoints.CheckArtifacts(path); err != nil {
		return err
	}
	meta, err := n.store.Load(path)
	if err != nil {
		return err
	}

	topo := layers.NewTopology()
	for i, spec := range meta.LayerSpecs() {
		if err := topo.Add(spec); err != nil {
			return errors.Wrapf(checkpoints.ErrCorruptSidecar, "layer %d: %v", i+1, err)
		}
	}
	if !n.lenient {
		if err := checkpoints.VerifyWeights(meta, path); err != nil {
			return err
		}
	}
	topo.MarkCompiled()

	prevTopology, prevState, prevInconsistent := n.topology, n.state, n.inconsistent
	restore := func() {
		n.topology, n.state, n.inconsistent = prevTopology, prevState, prevInconsistent
	}

	n.topology = topo
	n.state = stateFromMetadata(meta, topo.Layers())
	n.inconsistent = false

	if err := n.binding.Load(path); err != nil {
		restore()
		n.logger.Error("engine load failed", "path", path, "error", err)
		return errors.Wrapf(err, "failed to load weights from %s", path)
	}
	st := n.state
	if err := n.binding.StateLoaded(st.Optimizer, st.Regularizer, st.InputSize, st.OutputSize); err != nil {
		restore()
		n.inconsistent = true
		n.logger.Error("engine state restore failed", "path", path, "error", err)
		return errors.Wrap(err, "failed to restore engine state")
	}

	n.logger.Info("loaded",
		"model_id", st.ModelID,
		"path", path,
		"input_size", st.InputSize,
		"output_size", st.OutputSize,
		"layers", len(st.Layers))
	return nil
}

// Close releases the engine binding. The network cannot be used afterwards.
func (n *Network) Close() error {
	if n.binding == nil {
		return nil
	}
	err := n.binding.Close()
	n.binding = nil
	return err
}

// Compiled reports whether the network has a compiled state.
func (n *Network) Compiled() bool {
	return n.state != nil
}

// State returns a copy of the compiled state, or nil when not compiled.
func (n *Network) State() *CompiledState {
	if n.state == nil {
		return nil
	}
	cp := *n.state
	cp.Layers = append([]layers.LayerSpec(nil), n.state.Layers...)
	return &cp
}

// Layers returns a copy of the topology.
func (n *Network) Layers() []layers.LayerSpec {
	return n.topology.Layers()
}

// Summary describes the topology.
func (n *Network) Summary() string {
	return n.topology.Summary()
}

// ready checks the preconditions shared by Fit, Predict and Save.
func (n *Network) ready() error {
	if err := n.usable(); err != nil {
		return err
	}
	if n.state == nil {
		return ErrNotCompiled
	}
	return nil
}

func (n *Network) usable() error {
	if n.binding == nil {
		return errors.Wrap(engine.ErrEngineUnavailable, "network is closed")
	}
	if n.inconsistent {
		return ErrEngineInconsistent
	}
	return nil
}

func (n *Network) engineFailed(err error, format string, args ...interface{}) error {
	n.inconsistent = true
	n.state = nil
	n.logger.Error("engine rejected compile", "error", err)
	return errors.Wrapf(err, format, args...)
}
