// Package loom implements engine.Binding in process on top of the loom
// neural network runtime. It runs on the CPU and needs no native library.
package loom

import (
	"log/slog"
	"strings"

	"github.com/openfluke/loom/nn"
	"github.com/pkg/errors"

	"github.com/tsawler/go-neuralnet/engine"
	"github.com/tsawler/go-neuralnet/layers"
	"github.com/tsawler/go-neuralnet/optimizer"
	"github.com/tsawler/go-neuralnet/training"
)

// bundleID names the model inside loom's JSON weight bundle. The loss loom
// trains with is appended as "go-neuralnet/<loss>" so Load can restore it.
const bundleID = "go-neuralnet"

const gradientClip = 1.0

// ErrUnsupported reports a configuration loom cannot run.
var ErrUnsupported = errors.New("not supported by the loom engine")

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for training progress and for
// configuration that loom approximates.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is an in-process engine.Binding.
type Engine struct {
	specs    []layers.LayerSpec
	net      *nn.Network
	cfg      engine.CompileConfig
	lossType string

	inputSize  int
	outputSize int
	samples    []nn.TrainingBatch

	// sealed is set once a network has been built or loaded; the next Add
	// starts a new layer sequence.
	sealed bool

	lastLoss interface{}
	logger   *slog.Logger
}

var _ engine.Binding = (*Engine)(nil)

// New creates an engine with no layers.
func New(opts ...Option) *Engine {
	e := &Engine{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Opener returns an engine.Opener that creates a new Engine per call.
func Opener(opts ...Option) engine.Opener {
	return func() (engine.Binding, error) {
		return New(opts...), nil
	}
}

// Add registers the next dense layer.
func (e *Engine) Add(layer layers.LayerSpec) error {
	if _, err := activation(layer.Activation); err != nil {
		return err
	}
	if e.sealed {
		e.specs = nil
		e.sealed = false
	}
	e.specs = append(e.specs, layer)
	return nil
}

// AddTrainingSample queues one sample for the next Train call.
func (e *Engine) AddTrainingSample(input, target []float64) error {
	e.samples = append(e.samples, nn.TrainingBatch{
		Input:  toFloat32(input),
		Target: toFloat32(target),
	})
	return nil
}

// Compile builds the loom network.
func (e *Engine) Compile(cfg engine.CompileConfig) error {
	return e.build(cfg)
}

// CompileWithParams builds the loom network. Only the learning rate of
// the optimizer record reaches loom.
func (e *Engine) CompileWithParams(cfg engine.CompileConfig) error {
	return e.build(cfg)
}

func (e *Engine) build(cfg engine.CompileConfig) error {
	if len(e.specs) == 0 {
		return errors.New("no layers registered")
	}
	lossType, err := lossName(cfg.Loss)
	if err != nil {
		return err
	}

	net, err := buildNetwork(e.specs)
	if err != nil {
		return err
	}

	e.net = net
	e.cfg = cfg
	e.lossType = lossType
	e.note(cfg)
	e.inputSize = e.specs[0].Inputs
	e.outputSize = e.specs[len(e.specs)-1].Neurons
	e.samples = nil
	e.sealed = true
	return nil
}

// note logs the parts of cfg that loom does not model exactly.
func (e *Engine) note(cfg engine.CompileConfig) {
	e.noteTraining(cfg.Optimizer, cfg.Regularizer)
	if cfg.Initializer != training.Random {
		e.logger.Debug("loom uses its own weight initialization", "initializer", cfg.Initializer.String())
	}
	if cfg.Loss != training.MeanSquaredError && cfg.Loss != training.CrossEntropy {
		e.logger.Warn("loom approximates the loss", "loss", cfg.Loss.String(), "trains_as", e.lossType)
	}
	for i, s := range e.specs {
		if s.Activation == layers.ReLU {
			e.logger.Warn("loom relu is scaled by 1.1", "layer", i+1)
		}
	}
}

// noteTraining logs the optimizer and regularizer settings loom ignores.
func (e *Engine) noteTraining(opt optimizer.Config, reg training.RegularizerType) {
	if opt.Type != optimizer.SGD {
		e.logger.Warn("loom trains with gradient descent; only the learning rate is used",
			"optimizer", opt.Type.String())
	}
	if reg != training.NoRegularizer {
		e.logger.Warn("loom does not apply weight penalties", "regularizer", reg.String())
	}
}

// Train runs epochs passes over the queued samples in batches of batchSize.
// The queue is cleared afterwards.
func (e *Engine) Train(epochs, batchSize int) error {
	if e.net == nil {
		return errors.New("network not compiled")
	}
	if len(e.samples) == 0 {
		return errors.New("no training samples queued")
	}
	if epochs <= 0 || batchSize <= 0 {
		return errors.Errorf("epochs and batch size must be positive, got %d and %d", epochs, batchSize)
	}

	tc := &nn.TrainingConfig{
		Epochs:       1,
		LearningRate: float32(e.cfg.Optimizer.LearningRate),
		UseGPU:       false,
		GradientClip: gradientClip,
		LossType:     e.lossType,
		Verbose:      false,
	}

	for epoch := 0; epoch < epochs; epoch++ {
		for start := 0; start < len(e.samples); start += batchSize {
			end := start + batchSize
			if end > len(e.samples) {
				end = len(e.samples)
			}
			result, err := e.net.Train(e.samples[start:end], tc)
			if err != nil {
				return errors.Wrapf(err, "training failed at epoch %d", epoch+1)
			}
			e.lastLoss = result.FinalLoss
		}
		e.logger.Debug("epoch complete", "epoch", epoch+1, "loss", e.lastLoss)
	}

	e.logger.Info("training complete", "epochs", epochs, "samples", len(e.samples), "loss", e.lastLoss)
	e.samples = nil
	return nil
}

// Eval runs a forward pass.
func (e *Engine) Eval(input []float64) ([]float64, error) {
	if e.net == nil {
		return nil, errors.New("network not compiled")
	}
	if e.inputSize > 0 && len(input) != e.inputSize {
		return nil, errors.Errorf("input has %d values, network expects %d", len(input), e.inputSize)
	}
	out, _ := e.net.ForwardCPU(toFloat32(input))
	return toFloat64(out), nil
}

// Save writes loom's JSON weight bundle to path.
func (e *Engine) Save(path string) error {
	if e.net == nil {
		return errors.New("network not compiled")
	}
	if err := e.net.SaveModel(path, modelID(e.lossType)); err != nil {
		return errors.Wrapf(err, "failed to save weights to %s", path)
	}
	return nil
}

// Load replaces the network with the bundle at path. StateLoaded must
// follow before training.
func (e *Engine) Load(path string) error {
	bundle, err := nn.LoadBundle(path)
	if err != nil {
		return errors.Wrapf(err, "failed to load weights from %s", path)
	}

	var (
		saved    *nn.SavedModel
		lossType string
	)
	for i := range bundle.Models {
		if loss, ok := lossFromModelID(bundle.Models[i].ID); ok {
			saved, lossType = &bundle.Models[i], loss
			break
		}
	}
	if saved == nil {
		return errors.Errorf("%s holds no %s model", path, bundleID)
	}

	net, err := nn.DeserializeModel(*saved)
	if err != nil {
		return errors.Wrapf(err, "failed to decode weights from %s", path)
	}
	restoreLinear(net)

	e.net = net
	e.lossType = lossType
	e.specs = nil
	e.samples = nil
	e.sealed = true
	return nil
}

// StateLoaded restores the training configuration after Load.
func (e *Engine) StateLoaded(opt optimizer.Config, reg training.RegularizerType, inputSize, outputSize int) error {
	if e.net == nil {
		return errors.New("no weights loaded")
	}
	e.cfg.Optimizer = opt
	e.cfg.Regularizer = reg
	e.inputSize = inputSize
	e.outputSize = outputSize
	if e.lossType == "" {
		e.lossType = "mse"
		e.logger.Warn("weights bundle does not record a loss; training with mse")
	}
	e.noteTraining(opt, reg)
	return nil
}

// Close releases the network.
func (e *Engine) Close() error {
	e.net = nil
	e.samples = nil
	return nil
}

// buildNetwork lays the dense stack out in a single grid cell. A softmax
// layer becomes a linear dense layer followed by loom's softmax layer.
func buildNetwork(specs []layers.LayerSpec) (*nn.Network, error) {
	total := 0
	for _, s := range specs {
		total++
		if s.Activation == layers.Softmax {
			total++
		}
	}

	net := nn.NewNetwork(specs[0].Inputs, 1, 1, total)
	idx := 0
	for _, s := range specs {
		act, err := activation(s.Activation)
		if err != nil {
			return nil, err
		}
		net.SetLayer(0, 0, idx, nn.InitDenseLayer(s.Inputs, s.Neurons, act))
		idx++
		if s.Activation == layers.Softmax {
			net.SetLayer(0, 0, idx, nn.LayerConfig{
				Type:           nn.LayerSoftmax,
				SoftmaxVariant: nn.SoftmaxStandard,
				Temperature:    1.0,
			})
			idx++
		}
	}
	net.InitializeWeights()
	return net, nil
}

// restoreLinear undoes loom's serializer, which reads a linear activation
// back as scaled relu. Only the dense layer in front of a softmax layer is
// ever linear.
func restoreLinear(net *nn.Network) {
	total := net.GridRows * net.GridCols * net.LayersPerCell
	for i := 0; i+1 < total; i++ {
		row, col, idx := cell(net, i)
		cfg := net.GetLayer(row, col, idx)
		nrow, ncol, nidx := cell(net, i+1)
		next := net.GetLayer(nrow, ncol, nidx)
		if cfg == nil || next == nil {
			continue
		}
		if cfg.Type == nn.LayerDense && next.Type == nn.LayerSoftmax {
			fixed := *cfg
			fixed.Activation = linear
			net.SetLayer(row, col, idx, fixed)
		}
	}
}

func cell(net *nn.Network, i int) (row, col, layer int) {
	return i / (net.GridCols * net.LayersPerCell), (i / net.LayersPerCell) % net.GridCols, i % net.LayersPerCell
}

func modelID(lossType string) string {
	if lossType == "" {
		return bundleID
	}
	return bundleID + "/" + lossType
}

// lossFromModelID reports whether id names a bundle written by Save and,
// if so, the loss it recorded.
func lossFromModelID(id string) (string, bool) {
	if id == bundleID {
		return "", true
	}
	loss, ok := strings.CutPrefix(id, bundleID+"/")
	return loss, ok
}

// linear is loom's identity activation.
const linear = nn.ActivationType(-1)

func activation(at layers.ActivationType) (nn.ActivationType, error) {
	switch at {
	case layers.Sigmoid:
		return nn.ActivationSigmoid, nil
	case layers.ReLU:
		return nn.ActivationScaledReLU, nil
	case layers.LeakyReLU:
		return nn.ActivationLeakyReLU, nil
	case layers.Tanh:
		return nn.ActivationTanh, nil
	case layers.Softmax:
		return linear, nil
	case layers.ELU:
		return 0, errors.Wrapf(ErrUnsupported, "activation %s", at)
	default:
		return 0, errors.Wrapf(layers.ErrInvalidActivation, "activation code %d", uint32(at))
	}
}

func lossName(lt training.LossType) (string, error) {
	switch lt {
	case training.MeanSquaredError, training.Quadratic, training.HalfQuadratic, training.MeanAbsoluteError:
		return "mse", nil
	case training.CrossEntropy, training.NLL:
		return "cross_entropy", nil
	default:
		return "", errors.Wrapf(training.ErrInvalidHyperparameter, "loss code %d", uint32(lt))
	}
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func toFloat64(in []float32) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
